package models

import (
	"strings"
	"time"

	"hustings/pkg/domain"
	dErrors "hustings/pkg/domain-errors"
)

// Status is the admin review state of a nomination.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// ParseStatus accepts any casing.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown status: "+s)
	}
	return st, nil
}

// Acceptance is the nominee's own answer to the nomination.
type Acceptance string

const (
	AcceptancePending  Acceptance = "Pending"
	AcceptanceAccepted Acceptance = "Accepted"
	AcceptanceDenied   Acceptance = "Denied"
)

func (a Acceptance) IsValid() bool {
	return a == AcceptancePending || a == AcceptanceAccepted || a == AcceptanceDenied
}

// ParseDecision accepts "accept"/"accepted" and "deny"/"denied" in any casing.
// Pending is not a decision.
func ParseDecision(s string) (Acceptance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "accept", "accepted":
		return AcceptanceAccepted, nil
	case "deny", "denied", "decline", "declined":
		return AcceptanceDenied, nil
	}
	return "", dErrors.NewValidation(dErrors.FieldError{Field: "decision", Message: "must be accept or deny"})
}

// Attachment is a reference to a file held elsewhere.
type Attachment struct {
	Name        string `json:"name" bson:"name"`
	URL         string `json:"url" bson:"url"`
	ContentType string `json:"contentType,omitempty" bson:"contentType,omitempty"`
}

// Qualification is one academic or professional qualification.
type Qualification struct {
	Name        string `json:"name" bson:"name"`
	Institution string `json:"institution,omitempty" bson:"institution,omitempty"`
	Year        string `json:"year,omitempty" bson:"year,omitempty"`
}

// Nominee describes the person standing for a position.
type Nominee struct {
	FirstName      string          `json:"firstName" bson:"firstName"`
	Surname        string          `json:"surname" bson:"surname"`
	Email          string          `json:"email,omitempty" bson:"email,omitempty"`
	Phone          string          `json:"phone,omitempty" bson:"phone,omitempty"`
	JobTitle       string          `json:"jobTitle" bson:"jobTitle"`
	Organization   string          `json:"organization" bson:"organization"`
	Position       domain.Position `json:"position" bson:"position"`
	Qualifications []Qualification `json:"qualifications,omitempty" bson:"qualifications,omitempty"`
	Biography      string          `json:"biography,omitempty" bson:"biography,omitempty"`
	BiographyLink  string          `json:"biographyLink,omitempty" bson:"biographyLink,omitempty"`
	ProfileImage   string          `json:"profileImage,omitempty" bson:"profileImage,omitempty"`
	Attachments    []Attachment    `json:"attachments,omitempty" bson:"attachments,omitempty"`
}

// FullName is "First Surname", trimmed.
func (n Nominee) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(n.FirstName) + " " + strings.TrimSpace(n.Surname))
}

// Nominator is whoever submitted the nomination; the nominee themself when
// SelfNominated is set.
type Nominator struct {
	FirstName     string `json:"firstName" bson:"firstName"`
	Surname       string `json:"surname" bson:"surname"`
	Email         string `json:"email,omitempty" bson:"email,omitempty"`
	Phone         string `json:"phone,omitempty" bson:"phone,omitempty"`
	Membership    string `json:"membership" bson:"membership"`
	SelfNominated bool   `json:"selfNominated" bson:"selfNominated"`
}

// Nomination is one candidacy for one position.
type Nomination struct {
	ID               domain.NominationID `json:"id" bson:"-"`
	Nominee          Nominee             `json:"nominee" bson:"nominee"`
	Nominator        Nominator           `json:"nominator" bson:"nominator"`
	Status           Status              `json:"status" bson:"status"`
	AcceptanceStatus Acceptance          `json:"acceptanceStatus" bson:"acceptanceStatus"`
	AcceptanceToken  string              `json:"-" bson:"acceptanceToken,omitempty"`
	Votes            int64               `json:"votes" bson:"votes"`
	SubmittedAt      time.Time           `json:"submittedAt" bson:"submittedAt"`
	UpdatedAt        time.Time           `json:"updatedAt" bson:"updatedAt"`
}

// NewNomination builds a pending nomination from validated intake. Self
// nominations are accepted from the start.
func NewNomination(id domain.NominationID, nominee Nominee, nominator Nominator, token string, now time.Time) (*Nomination, error) {
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "nomination id required")
	}
	if !nominee.Position.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "nomination position invalid")
	}
	if token == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "acceptance token required")
	}
	acceptance := AcceptancePending
	if nominator.SelfNominated {
		acceptance = AcceptanceAccepted
	}
	return &Nomination{
		ID:               id,
		Nominee:          nominee,
		Nominator:        nominator,
		Status:           StatusPending,
		AcceptanceStatus: acceptance,
		AcceptanceToken:  token,
		SubmittedAt:      now,
		UpdatedAt:        now,
	}, nil
}

// Eligible reports whether the nomination may appear on a ballot.
func (n *Nomination) Eligible() bool {
	return n.Status == StatusApproved && n.AcceptanceStatus == AcceptanceAccepted
}

// CanMoveTo reports whether an admin may set status to. Reverting to pending
// is never allowed; approved and rejected may be swapped.
func (n *Nomination) CanMoveTo(to Status) bool {
	if to == StatusPending {
		return n.Status == StatusPending
	}
	return to == StatusApproved || to == StatusRejected
}

// Filter narrows admin listings. Zero values match everything.
type Filter struct {
	Position   domain.Position
	Status     Status
	Acceptance Acceptance
	// Query matches nominee name or organization, case-insensitively.
	Query string
}

// Matches applies the filter to one nomination.
func (f Filter) Matches(n *Nomination) bool {
	if f.Position != "" && n.Nominee.Position != f.Position {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.Acceptance != "" && n.AcceptanceStatus != f.Acceptance {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		name := strings.ToLower(n.Nominee.FullName())
		org := strings.ToLower(n.Nominee.Organization)
		if !strings.Contains(name, q) && !strings.Contains(org, q) {
			return false
		}
	}
	return true
}

// Stats summarises nominations for the admin dashboard.
type Stats struct {
	Total             int                     `json:"total"`
	Pending           int                     `json:"pending"`
	Approved          int                     `json:"approved"`
	Rejected          int                     `json:"rejected"`
	AcceptancePending int                     `json:"acceptancePending"`
	Accepted          int                     `json:"accepted"`
	Denied            int                     `json:"denied"`
	Eligible          int                     `json:"eligible"`
	ByPosition        map[domain.Position]int `json:"byPosition"`
}

// Tally accumulates stats over a listing.
func Tally(noms []*Nomination) Stats {
	s := Stats{ByPosition: make(map[domain.Position]int)}
	for _, n := range noms {
		s.Total++
		s.ByPosition[n.Nominee.Position]++
		switch n.Status {
		case StatusPending:
			s.Pending++
		case StatusApproved:
			s.Approved++
		case StatusRejected:
			s.Rejected++
		}
		switch n.AcceptanceStatus {
		case AcceptancePending:
			s.AcceptancePending++
		case AcceptanceAccepted:
			s.Accepted++
		case AcceptanceDenied:
			s.Denied++
		}
		if n.Eligible() {
			s.Eligible++
		}
	}
	return s
}
