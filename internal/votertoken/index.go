package votertoken

import "hustings/internal/roster/models"

// Index maps every accepted token to its voter for one roster snapshot.
// When two voters share a token the earlier roster entry wins, as in Match.
type Index map[string]models.Voter

func NewIndex(voters []models.Voter) Index {
	idx := make(Index, len(voters)*7)
	for _, voter := range voters {
		for _, token := range Candidates(voter.Email, voter.Organization) {
			if _, taken := idx[token]; !taken {
				idx[token] = voter
			}
		}
	}
	return idx
}

func (idx Index) Lookup(token string) (models.Voter, bool) {
	v, ok := idx[token]
	return v, ok
}
