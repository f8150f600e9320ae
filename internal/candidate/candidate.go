// Package candidate projects eligible nominations into the ballot view.
// Project is a pure function of its input; it holds no state.
package candidate

import (
	"sort"
	"strings"
	"time"

	"hustings/internal/nomination/models"
	"hustings/pkg/domain"
)

// Candidate is the ballot-facing view of one eligible nomination.
type Candidate struct {
	NominationID   domain.NominationID    `json:"id"`
	Position       domain.Position        `json:"position"`
	FirstName      string                 `json:"firstName"`
	Surname        string                 `json:"surname"`
	FullName       string                 `json:"fullName"`
	Organization   string                 `json:"organization"`
	JobTitle       string                 `json:"jobTitle"`
	Qualifications []models.Qualification `json:"qualifications,omitempty"`
	Biography      string                 `json:"biography,omitempty"`
	BiographyLink  string                 `json:"biographyLink,omitempty"`
	ProfileImage   string                 `json:"profileImage,omitempty"`
	Votes          int64                  `json:"-"`
	SubmittedAt    time.Time              `json:"submittedAt"`
	AlsoContesting []domain.Position      `json:"alsoContesting,omitempty"`
}

// Group is the candidate list for one position.
type Group struct {
	Position    domain.Position `json:"position"`
	DisplayName string          `json:"displayName"`
	Candidates  []Candidate     `json:"candidates"`
}

// Slate is the full projection: one group per position in ballot order,
// including positions with no candidates.
type Slate struct {
	Groups []Group `json:"positions"`
}

// Project filters nominations to eligible ones and groups them by position,
// newest first with ties broken by id.
func Project(noms []*models.Nomination) Slate {
	byPosition := make(map[domain.Position][]Candidate)
	type key struct{ name, org string }
	positionsOf := make(map[key]map[domain.Position]struct{})

	for _, n := range noms {
		if n == nil || !n.Eligible() || !n.Nominee.Position.IsValid() {
			continue
		}
		c := Candidate{
			NominationID:   n.ID,
			Position:       n.Nominee.Position,
			FirstName:      n.Nominee.FirstName,
			Surname:        n.Nominee.Surname,
			FullName:       n.Nominee.FullName(),
			Organization:   n.Nominee.Organization,
			JobTitle:       n.Nominee.JobTitle,
			Qualifications: n.Nominee.Qualifications,
			Biography:      n.Nominee.Biography,
			BiographyLink:  n.Nominee.BiographyLink,
			ProfileImage:   n.Nominee.ProfileImage,
			Votes:          n.Votes,
			SubmittedAt:    n.SubmittedAt,
		}
		byPosition[c.Position] = append(byPosition[c.Position], c)

		k := key{normalize(c.FullName), normalize(c.Organization)}
		if positionsOf[k] == nil {
			positionsOf[k] = make(map[domain.Position]struct{})
		}
		positionsOf[k][c.Position] = struct{}{}
	}

	positions := domain.AllPositions()
	slate := Slate{Groups: make([]Group, 0, len(positions))}
	for _, p := range positions {
		cands := byPosition[p]
		for i := range cands {
			k := key{normalize(cands[i].FullName), normalize(cands[i].Organization)}
			for _, other := range positions {
				if _, ok := positionsOf[k][other]; ok && other != p {
					cands[i].AlsoContesting = append(cands[i].AlsoContesting, other)
				}
			}
		}
		sort.SliceStable(cands, func(i, j int) bool {
			if !cands[i].SubmittedAt.Equal(cands[j].SubmittedAt) {
				return cands[i].SubmittedAt.After(cands[j].SubmittedAt)
			}
			return cands[i].NominationID.String() < cands[j].NominationID.String()
		})
		if cands == nil {
			cands = []Candidate{}
		}
		slate.Groups = append(slate.Groups, Group{Position: p, DisplayName: p.DisplayName(), Candidates: cands})
	}
	return slate
}

// ForPosition returns the candidates standing for p.
func (s Slate) ForPosition(p domain.Position) []Candidate {
	for _, g := range s.Groups {
		if g.Position == p {
			return g.Candidates
		}
	}
	return nil
}

// Find reports whether id is an eligible candidate for p.
func (s Slate) Find(p domain.Position, id domain.NominationID) (Candidate, bool) {
	for _, c := range s.ForPosition(p) {
		if c.NominationID == id {
			return c, true
		}
	}
	return Candidate{}, false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
