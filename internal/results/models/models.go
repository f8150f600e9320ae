package models

import (
	"math"
	"sort"
	"time"

	ballotmodels "hustings/internal/ballot/models"
	"hustings/internal/candidate"
	"hustings/pkg/domain"
)

// CandidateResult is one candidate's standing within a position.
type CandidateResult struct {
	NominationID domain.NominationID `json:"id"`
	FullName     string              `json:"fullName"`
	Organization string              `json:"organization"`
	JobTitle     string              `json:"jobTitle,omitempty"`
	ProfileImage string              `json:"profileImage,omitempty"`
	Votes        int64               `json:"votes"`
	Percentage   int                 `json:"percentage"`
	Leader       bool                `json:"leader"`
}

// PositionResult ranks the candidates for one position.
type PositionResult struct {
	Position    domain.Position   `json:"position"`
	DisplayName string            `json:"displayName"`
	TotalVotes  int64             `json:"totalVotes"`
	Candidates  []CandidateResult `json:"candidates"`
}

// Results is the published tally. LedgerDigest fingerprints the set of
// recorded ballots so two reads can be compared without listing them.
type Results struct {
	Positions    []PositionResult     `json:"positions"`
	Turnout      ballotmodels.Turnout `json:"turnout"`
	LedgerDigest string               `json:"ledgerDigest"`
	ComputedAt   time.Time            `json:"computedAt"`
}

// Compute ranks each position's candidates by votes, highest first, ties
// by id. Percentages are rounded half up and zero when a position has no
// votes; only a first-placed candidate with votes is the leader.
func Compute(slate candidate.Slate) []PositionResult {
	out := make([]PositionResult, 0, len(slate.Groups))
	for _, g := range slate.Groups {
		cands := make([]candidate.Candidate, len(g.Candidates))
		copy(cands, g.Candidates)
		sort.Slice(cands, func(i, j int) bool {
			if cands[i].Votes != cands[j].Votes {
				return cands[i].Votes > cands[j].Votes
			}
			return cands[i].NominationID.String() < cands[j].NominationID.String()
		})

		var total int64
		for _, c := range cands {
			total += c.Votes
		}
		pr := PositionResult{
			Position:    g.Position,
			DisplayName: g.DisplayName,
			TotalVotes:  total,
			Candidates:  make([]CandidateResult, 0, len(cands)),
		}
		for i, c := range cands {
			pr.Candidates = append(pr.Candidates, CandidateResult{
				NominationID: c.NominationID,
				FullName:     c.FullName,
				Organization: c.Organization,
				JobTitle:     c.JobTitle,
				ProfileImage: c.ProfileImage,
				Votes:        c.Votes,
				Percentage:   percentage(c.Votes, total),
				Leader:       i == 0 && c.Votes > 0,
			})
		}
		out = append(out, pr)
	}
	return out
}

func percentage(votes, total int64) int {
	if total == 0 {
		return 0
	}
	return int(math.Floor(float64(votes)/float64(total)*100 + 0.5))
}

// Drift is a counter that disagrees with the recount from the ballot log.
type Drift struct {
	NominationID domain.NominationID `json:"id"`
	Counter      int64               `json:"counter"`
	Recount      int64               `json:"recount"`
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	Drift     []Drift   `json:"drift"`
	Repaired  int       `json:"repaired"`
	Repair    bool      `json:"repair"`
	CheckedAt time.Time `json:"checkedAt"`
}

// Diff lists every nomination whose counter differs from its recount, in id
// order. A nomination absent from one side counts as zero there.
func Diff(snap ballotmodels.TallySnapshot) []Drift {
	seen := make(map[domain.NominationID]struct{}, len(snap.Counters))
	var out []Drift
	for id, have := range snap.Counters {
		seen[id] = struct{}{}
		if want := snap.Recount[id]; want != have {
			out = append(out, Drift{NominationID: id, Counter: have, Recount: want})
		}
	}
	for id, want := range snap.Recount {
		if _, ok := seen[id]; !ok && want != 0 {
			out = append(out, Drift{NominationID: id, Recount: want})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NominationID.String() < out[j].NominationID.String() })
	return out
}
