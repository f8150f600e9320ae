package votertoken

import (
	"net/url"
	"strings"

	"hustings/internal/roster/models"
)

// Link is one voter's personal ballot URL.
type Link struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Organization string `json:"organization"`
	URL          string `json:"url"`
}

// Links builds ballot links for every voter, in roster order.
func Links(baseURL string, voters []models.Voter) []Link {
	base := strings.TrimRight(baseURL, "/")
	out := make([]Link, 0, len(voters))
	for _, v := range voters {
		q := url.Values{"token": {Derive(v.Email, v.Organization)}}
		out = append(out, Link{
			Name:         v.Name,
			Email:        v.Email,
			Organization: v.Organization,
			URL:          base + "/vote?" + q.Encode(),
		})
	}
	return out
}
