package votertoken

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hustings/internal/roster/models"
	"hustings/pkg/domain"
)

func TestDerive(t *testing.T) {
	tests := []struct {
		name  string
		email string
		org   string
		want  string
	}{
		{"typical voter", "jane@union.org", "UNITE-042", "amFuZUB1bmlvbi5vcmdVTklURS0wNDI"},
		{"short input is not padded", "a@b.c", "Org", "YUBiLmNPcmc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Derive(tt.email, tt.org))
		})
	}
}

func TestDeriveLegacy(t *testing.T) {
	assert.Equal(t, "amFuZUB1bmlvbi5vcmdwcmVzaWRlbnRV",
		DeriveLegacy("jane@union.org", domain.PositionPresident, "UNITE-042"))
	assert.Equal(t, "amFuZUB1bmlvbi5vcmd0cmVhc3VyZXJV",
		DeriveLegacy("jane@union.org", domain.PositionTreasurer, "UNITE-042"))
}

func TestDeriveShape(t *testing.T) {
	long := strings.Repeat("x", 80) + "@example.org"
	tok := Derive(long, "Some Organisation / Branch 7")
	assert.Len(t, tok, MaxLength)
	assert.True(t, WellFormed(tok))
	assert.Equal(t, tok, Derive(long, "Some Organisation / Branch 7"), "derivation is deterministic")
}

func TestCandidates(t *testing.T) {
	c := Candidates("jane@union.org", "UNITE-042")
	require.Len(t, c, len(domain.AllPositions())+1)
	assert.Equal(t, Derive("jane@union.org", "UNITE-042"), c[0])
}

func TestWellFormed(t *testing.T) {
	assert.False(t, WellFormed(""))
	assert.False(t, WellFormed("abc+def"))
	assert.False(t, WellFormed("abc def"))
	assert.False(t, WellFormed(strings.Repeat("a", MaxLength+1)))
	assert.True(t, WellFormed("YUBiLmNPcmc"))
}

func TestIndexMatchesScan(t *testing.T) {
	voters := []models.Voter{
		{Name: "Jane", Email: "jane@union.org", Organization: "UNITE-042"},
		{Name: "Sam", Email: "sam@union.org", Organization: "UNITE-042"},
		{Name: "Jane again", Email: "jane@union.org", Organization: "UNITE-042"},
	}
	idx := NewIndex(voters)

	for _, v := range voters {
		for _, tok := range Candidates(v.Email, v.Organization) {
			scanned, ok := Match(voters, tok)
			require.True(t, ok)
			indexed, ok := idx.Lookup(tok)
			require.True(t, ok)
			assert.Equal(t, scanned, indexed)
		}
	}

	first, ok := idx.Lookup(Derive("jane@union.org", "UNITE-042"))
	require.True(t, ok)
	assert.Equal(t, "Jane", first.Name, "earlier roster entry wins")

	_, ok = idx.Lookup(Derive("nobody@else.org", "UNITE-042"))
	assert.False(t, ok)
}

func TestLinks(t *testing.T) {
	links := Links("https://vote.example.org/", []models.Voter{
		{Name: "Jane", Email: "jane@union.org", Organization: "UNITE-042"},
	})
	require.Len(t, links, 1)
	assert.Equal(t, "https://vote.example.org/vote?token=amFuZUB1bmlvbi5vcmdVTklURS0wNDI", links[0].URL)
}
