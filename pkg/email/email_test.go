package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "jane@union.org", Normalize("  Jane@Union.ORG "))
	assert.Equal(t, Normalize("A@B.co"), Normalize("a@b.CO"))
}

func TestValid(t *testing.T) {
	valid := []string{"jane@union.org", " a.b+c@mail.example.co.uk "}
	invalid := []string{"", "jane", "jane@", "@union.org", "jane@union", "ja ne@union.org"}
	for _, v := range valid {
		assert.True(t, Valid(v), v)
	}
	for _, v := range invalid {
		assert.False(t, Valid(v), v)
	}
}

func TestDeriveNameFromEmail(t *testing.T) {
	assert.Equal(t, "Jane Doe", DeriveNameFromEmail("jane.doe@union.org"))
	assert.Equal(t, "Sam", DeriveNameFromEmail("sam@union.org"))
	assert.Equal(t, "Voter", DeriveNameFromEmail("@union.org"))
}
