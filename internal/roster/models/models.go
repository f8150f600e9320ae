package models

import platformstrings "hustings/pkg/platform/strings"

// StatusApproved marks an organization whose members may vote.
const StatusApproved = "Approved"

// Organization is one roster document: a member organization and its voters.
type Organization struct {
	Name   string  `json:"organization" bson:"organization"`
	Status string  `json:"status" bson:"status"`
	Voters []Voter `json:"voters" bson:"voters"`
}

// Approved reports whether the organization participates in the election.
func (o Organization) Approved() bool {
	return platformstrings.FoldEqual(o.Status, StatusApproved)
}

// Voter is one eligible member. Organization is the voter's membership and
// takes part in token derivation.
type Voter struct {
	Name         string `json:"name" bson:"name"`
	Email        string `json:"email" bson:"email"`
	Organization string `json:"organization,omitempty" bson:"-"`
}

// Flatten returns the voters of approved organizations with Organization set.
func Flatten(orgs []Organization) []Voter {
	var out []Voter
	for _, org := range orgs {
		if !org.Approved() {
			continue
		}
		for _, v := range org.Voters {
			v.Organization = org.Name
			out = append(out, v)
		}
	}
	return out
}
