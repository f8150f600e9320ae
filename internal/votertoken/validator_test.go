package votertoken

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hustings/internal/roster/models"
	dErrors "hustings/pkg/domain-errors"
)

type stubRoster struct {
	voters []models.Voter
	err    error
	calls  int
}

func (s *stubRoster) ListApproved(context.Context) ([]models.Voter, error) {
	s.calls++
	return s.voters, s.err
}

func TestValidatorValidate(t *testing.T) {
	jane := models.Voter{Name: "Jane Doe", Email: "jane@union.org", Organization: "UNITE-042"}
	roster := &stubRoster{voters: []models.Voter{
		{Name: "Sam", Email: "sam@union.org", Organization: "UNITE-042"},
		jane,
	}}
	v := NewValidator(roster)
	ctx := context.Background()

	t.Run("current token round-trips to the voter", func(t *testing.T) {
		got, err := v.Validate(ctx, Derive(jane.Email, jane.Organization))
		require.NoError(t, err)
		assert.Equal(t, jane, got)
	})

	t.Run("legacy per-position tokens still validate", func(t *testing.T) {
		for _, tok := range Candidates(jane.Email, jane.Organization)[1:] {
			got, err := v.Validate(ctx, tok)
			require.NoError(t, err)
			assert.Equal(t, jane.Email, got.Email)
		}
	})

	t.Run("unrelated voter never matches", func(t *testing.T) {
		_, err := v.Validate(ctx, Derive("mallory@evil.org", "UNITE-042"))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAccessDenied))
	})

	t.Run("malformed token fails closed without a roster read", func(t *testing.T) {
		before := roster.calls
		for _, tok := range []string{"", "a+b/c=", "<script>"} {
			_, err := v.Validate(ctx, tok)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeAccessDenied), tok)
		}
		assert.Equal(t, before, roster.calls)
	})
}

func TestValidatorRosterFailure(t *testing.T) {
	v := NewValidator(&stubRoster{err: errors.New("connection refused")})

	_, err := v.Validate(context.Background(), Derive("jane@union.org", "UNITE-042"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
	assert.False(t, dErrors.HasCode(err, dErrors.CodeAccessDenied))
}
