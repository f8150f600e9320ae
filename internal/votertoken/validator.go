package votertoken

import (
	"context"
	"crypto/subtle"
	"log/slog"

	"hustings/internal/roster/models"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/requestcontext"
)

// Roster supplies the current list of eligible voters.
type Roster interface {
	ListApproved(ctx context.Context) ([]models.Voter, error)
}

// Validator resolves a token to the roster member it was issued to.
type Validator struct {
	roster Roster
	logger *slog.Logger
}

type Option func(*Validator)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

func NewValidator(roster Roster, opts ...Option) *Validator {
	v := &Validator{roster: roster, logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns the voter for token. Unknown or malformed tokens yield
// CodeAccessDenied; a roster read failure yields CodeUnavailable and never
// grants access.
func (v *Validator) Validate(ctx context.Context, token string) (models.Voter, error) {
	if !WellFormed(token) {
		return models.Voter{}, dErrors.New(dErrors.CodeAccessDenied, "invalid voting link")
	}
	voters, err := v.roster.ListApproved(ctx)
	if err != nil {
		v.logger.ErrorContext(ctx, "voter roster lookup failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return models.Voter{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "voter roster unavailable")
	}
	if voter, ok := NewIndex(voters).Lookup(token); ok {
		return voter, nil
	}
	v.logger.InfoContext(ctx, "voting token rejected",
		"request_id", requestcontext.RequestID(ctx),
	)
	return models.Voter{}, dErrors.New(dErrors.CodeAccessDenied, "invalid voting link")
}

// Match scans voters in order and returns the first one token was issued to.
// It is the reference for Index and avoids building a map for one lookup.
func Match(voters []models.Voter, token string) (models.Voter, bool) {
	given := []byte(token)
	for _, voter := range voters {
		for _, candidate := range Candidates(voter.Email, voter.Organization) {
			if subtle.ConstantTimeCompare(given, []byte(candidate)) == 1 {
				return voter, true
			}
		}
	}
	return models.Voter{}, false
}
