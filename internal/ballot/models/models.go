package models

import (
	"sort"
	"strings"
	"time"

	"hustings/pkg/domain"
	dErrors "hustings/pkg/domain-errors"
)

// Ballot is one voter's recorded choices. It is immutable once committed.
type Ballot struct {
	ID              domain.BallotID                          `json:"id"`
	VoterEmail      string                                   `json:"voterEmail"`
	VoterName       string                                   `json:"voterName"`
	VoterMembership string                                   `json:"voterMembership,omitempty"`
	Selections      map[domain.Position]domain.NominationID `json:"votes"`
	IdempotencyKey  string                                   `json:"-"`
	SourceAddress   string                                   `json:"sourceAddress,omitempty"`
	UserAgent       string                                   `json:"userAgent,omitempty"`
	SubmittedAt     time.Time                                `json:"submittedAt"`
}

// NewBallot builds a ballot from a reviewed draft.
func NewBallot(id domain.BallotID, d Draft, sourceAddress, userAgent string, now time.Time) (*Ballot, error) {
	if id.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "ballot id required")
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if now.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "submission time required")
	}
	selections := make(map[domain.Position]domain.NominationID, len(d.Selections))
	for p, id := range d.Selections {
		selections[p] = id
	}
	return &Ballot{
		ID:              id,
		VoterEmail:      strings.TrimSpace(d.VoterEmail),
		VoterName:       strings.TrimSpace(d.VoterName),
		VoterMembership: strings.TrimSpace(d.VoterMembership),
		Selections:      selections,
		IdempotencyKey:  d.IdempotencyKey,
		SourceAddress:   sourceAddress,
		UserAgent:       userAgent,
		SubmittedAt:     now,
	}, nil
}

// EmailKey is the uniqueness key for a voter: one ballot per EmailKey.
func (b *Ballot) EmailKey() string {
	return NormalizeEmail(b.VoterEmail)
}

// Positions lists the positions voted on, in ballot order.
func (b *Ballot) Positions() []domain.Position {
	var out []domain.Position
	for _, p := range domain.AllPositions() {
		if _, ok := b.Selections[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// NominationIDs lists the chosen candidates, in ballot order.
func (b *Ballot) NominationIDs() []domain.NominationID {
	var out []domain.NominationID
	for _, p := range b.Positions() {
		out = append(out, b.Selections[p])
	}
	return out
}

// NormalizeEmail trims and lowercases; stored addresses keep their case.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Draft is a reviewed ballot ready for submission.
type Draft struct {
	VoterEmail      string
	VoterName       string
	VoterMembership string
	Selections      map[domain.Position]domain.NominationID
	IdempotencyKey  string
}

// Validate reports every field the voter must fix, all at once. The
// idempotency key is the submitter's concern and is not checked here.
func (d Draft) Validate() error {
	var fields []dErrors.FieldError
	if strings.TrimSpace(d.VoterName) == "" {
		fields = append(fields, dErrors.FieldError{Field: "voterName", Message: "is required"})
	}
	if strings.TrimSpace(d.VoterEmail) == "" {
		fields = append(fields, dErrors.FieldError{Field: "voterEmail", Message: "is required"})
	}
	if len(d.Selections) == 0 {
		fields = append(fields, dErrors.FieldError{Field: "votes", Message: "select at least one candidate"})
	}
	for p, id := range d.Selections {
		if !p.IsValid() {
			fields = append(fields, dErrors.FieldError{Field: "votes." + string(p), Message: "unknown position"})
		} else if id.IsNil() {
			fields = append(fields, dErrors.FieldError{Field: "votes." + string(p), Message: "candidate required"})
		}
	}
	if len(fields) > 0 {
		sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
		return dErrors.NewValidation(fields...)
	}
	return nil
}

// Receipt confirms a submission without echoing the choices.
type Receipt struct {
	BallotID    domain.BallotID   `json:"ballotId"`
	Positions   []domain.Position `json:"positions"`
	SubmittedAt time.Time         `json:"submittedAt"`
	Replayed    bool              `json:"replayed,omitempty"`
	Counted     bool              `json:"counted"`
}

// ReceiptFor summarises b.
func ReceiptFor(b *Ballot, counted, replayed bool) *Receipt {
	return &Receipt{
		BallotID:    b.ID,
		Positions:   b.Positions(),
		SubmittedAt: b.SubmittedAt,
		Replayed:    replayed,
		Counted:     counted,
	}
}

// Turnout counts ballots and selections.
type Turnout struct {
	Ballots    int                     `json:"ballots"`
	Selections int                     `json:"selections"`
	ByPosition map[domain.Position]int `json:"byPosition"`
}

// CountTurnout tallies turnout over ballots.
func CountTurnout(ballots []*Ballot) Turnout {
	t := Turnout{ByPosition: make(map[domain.Position]int)}
	for _, b := range ballots {
		t.Ballots++
		for p := range b.Selections {
			t.Selections++
			t.ByPosition[p]++
		}
	}
	return t
}

// TallySnapshot pairs the recount derived from the ballot log with the
// stored counters, read at one point in time.
type TallySnapshot struct {
	Recount  map[domain.NominationID]int64
	Counters map[domain.NominationID]int64
}

// Recount counts selections per candidate over ballots.
func Recount(ballots []*Ballot) map[domain.NominationID]int64 {
	out := make(map[domain.NominationID]int64)
	for _, b := range ballots {
		for _, id := range b.Selections {
			out[id]++
		}
	}
	return out
}

// SummaryRow is the admin view of one ballot: who voted and where, without
// the choices.
type SummaryRow struct {
	ID              domain.BallotID   `json:"id"`
	VoterName       string            `json:"voterName"`
	VoterEmail      string            `json:"voterEmail"`
	VoterMembership string            `json:"voterMembership,omitempty"`
	Positions       []domain.Position `json:"positions"`
	Client          string            `json:"client,omitempty"`
	SourceAddress   string            `json:"sourceAddress,omitempty"`
	SubmittedAt     time.Time         `json:"submittedAt"`
}

// Summary is the admin ballot listing.
type Summary struct {
	Turnout Turnout      `json:"turnout"`
	Ballots []SummaryRow `json:"ballots"`
}
