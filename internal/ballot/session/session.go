// Package session holds one voter's progress through the ballot:
//
//	Unauthenticated -> Authenticated -> Composing <-> ReviewPending -> Submitted
//
// AccessDenied and Rejected are terminal. A Session is a value owned by one
// request or connection; it is not safe for concurrent use.
package session

import (
	"context"
	"strings"

	"hustings/internal/ballot/models"
	"hustings/internal/candidate"
	rostermodels "hustings/internal/roster/models"
	settingsmodels "hustings/internal/settings/models"
	"hustings/pkg/domain"
	dErrors "hustings/pkg/domain-errors"
)

type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAccessDenied    State = "access_denied"
	StateAuthenticated   State = "authenticated"
	StateComposing       State = "composing"
	StateReviewPending   State = "review_pending"
	StateSubmitted       State = "submitted"
	// StateRejected ends a session whose voter has already voted.
	StateRejected State = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateAccessDenied || s == StateSubmitted || s == StateRejected
}

// Validator resolves a voting token to a roster entry.
type Validator interface {
	Validate(ctx context.Context, token string) (rostermodels.Voter, error)
}

// Recorder commits a reviewed ballot.
type Recorder interface {
	Submit(ctx context.Context, draft models.Draft) (*models.Receipt, error)
}

type Session struct {
	state      State
	voter      rostermodels.Voter
	slate      candidate.Slate
	open       settingsmodels.OpenPositions
	selections map[domain.Position]domain.NominationID
	receipt    *models.Receipt
}

func New() *Session {
	return &Session{
		state:      StateUnauthenticated,
		selections: make(map[domain.Position]domain.NominationID),
	}
}

func (s *Session) State() State { return s.state }

func (s *Session) Voter() rostermodels.Voter { return s.voter }

// Receipt is set once the session reaches Submitted.
func (s *Session) Receipt() *models.Receipt { return s.receipt }

// Selections returns a copy of the current choices.
func (s *Session) Selections() map[domain.Position]domain.NominationID {
	out := make(map[domain.Position]domain.NominationID, len(s.selections))
	for p, id := range s.selections {
		out[p] = id
	}
	return out
}

// Authenticate validates token. A missing, malformed or unknown token ends
// the session in AccessDenied; an unavailable roster leaves it retryable.
func (s *Session) Authenticate(ctx context.Context, v Validator, token string) error {
	if s.state != StateUnauthenticated {
		return s.refuse("authenticate")
	}
	if strings.TrimSpace(token) == "" {
		s.state = StateAccessDenied
		return dErrors.New(dErrors.CodeAccessDenied, "a voting link is required")
	}
	voter, err := v.Validate(ctx, token)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnavailable) {
			return err
		}
		s.state = StateAccessDenied
		if dErrors.HasCode(err, dErrors.CodeAccessDenied) {
			return err
		}
		return dErrors.Wrap(err, dErrors.CodeAccessDenied, "voting link is not valid")
	}
	s.voter = voter
	s.state = StateAuthenticated
	return nil
}

// Present loads the candidate slate and voting window and starts composing.
func (s *Session) Present(slate candidate.Slate, open settingsmodels.OpenPositions) error {
	if s.state != StateAuthenticated {
		return s.refuse("present the ballot")
	}
	s.slate = slate
	s.open = open.Complete()
	s.state = StateComposing
	return nil
}

// ApplyOpenPositions takes a new voting window. Selections for positions
// that closed are dropped and review, if pending, is withdrawn. It returns
// the positions whose selection was dropped.
func (s *Session) ApplyOpenPositions(open settingsmodels.OpenPositions) []domain.Position {
	if s.state != StateComposing && s.state != StateReviewPending {
		return nil
	}
	s.open = open.Complete()
	var dropped []domain.Position
	for _, p := range domain.AllPositions() {
		if _, ok := s.selections[p]; ok && !s.open.IsOpen(p) {
			delete(s.selections, p)
			dropped = append(dropped, p)
		}
	}
	if len(dropped) > 0 && s.state == StateReviewPending {
		s.state = StateComposing
	}
	return dropped
}

// Select chooses id for p, replacing any earlier choice for p. Selecting
// during review returns to Composing.
func (s *Session) Select(p domain.Position, id domain.NominationID) error {
	if err := s.editable(); err != nil {
		return err
	}
	field := "votes." + string(p)
	if !p.IsValid() {
		return dErrors.NewValidation(dErrors.FieldError{Field: field, Message: "unknown position"})
	}
	if !s.open.IsOpen(p) {
		return dErrors.NewValidation(dErrors.FieldError{Field: field, Message: "voting is not open for " + p.DisplayName()})
	}
	if _, ok := s.slate.Find(p, id); !ok {
		return dErrors.NewValidation(dErrors.FieldError{Field: field, Message: "not a candidate for " + p.DisplayName()})
	}
	s.selections[p] = id
	s.state = StateComposing
	return nil
}

// Clear removes the choice for p.
func (s *Session) Clear(p domain.Position) error {
	if err := s.editable(); err != nil {
		return err
	}
	delete(s.selections, p)
	s.state = StateComposing
	return nil
}

// Review checks the ballot is complete enough to submit. On failure the
// session stays in Composing.
func (s *Session) Review() (models.Draft, error) {
	if err := s.editable(); err != nil {
		return models.Draft{}, err
	}
	draft := models.Draft{
		VoterEmail:      s.voter.Email,
		VoterName:       s.voter.Name,
		VoterMembership: s.voter.Organization,
		Selections:      s.Selections(),
	}
	if err := draft.Validate(); err != nil {
		s.state = StateComposing
		return models.Draft{}, err
	}
	s.state = StateReviewPending
	return draft, nil
}

// Submit hands the reviewed ballot to r under idempotencyKey. Submitting a
// submitted session returns the original receipt.
func (s *Session) Submit(ctx context.Context, r Recorder, idempotencyKey string) (*models.Receipt, error) {
	if s.state == StateSubmitted {
		return s.receipt, nil
	}
	if s.state != StateReviewPending {
		return nil, s.refuse("submit")
	}
	draft := models.Draft{
		VoterEmail:      s.voter.Email,
		VoterName:       s.voter.Name,
		VoterMembership: s.voter.Organization,
		Selections:      s.Selections(),
		IdempotencyKey:  idempotencyKey,
	}
	receipt, err := r.Submit(ctx, draft)
	switch {
	case err == nil:
		s.submitted(receipt)
		return receipt, nil
	case dErrors.HasCode(err, dErrors.CodePartialCommit) && receipt != nil:
		s.submitted(receipt)
		return receipt, err
	case dErrors.HasCode(err, dErrors.CodeAlreadyVoted):
		s.state = StateRejected
	case dErrors.HasCode(err, dErrors.CodeValidation):
		s.state = StateComposing
	}
	return nil, err
}

func (s *Session) submitted(receipt *models.Receipt) {
	s.receipt = receipt
	s.state = StateSubmitted
}

func (s *Session) editable() error {
	if s.state != StateComposing && s.state != StateReviewPending {
		return s.refuse("change the ballot")
	}
	return nil
}

func (s *Session) refuse(action string) error {
	switch s.state {
	case StateAccessDenied, StateUnauthenticated:
		return dErrors.New(dErrors.CodeAccessDenied, "cannot "+action+": not authenticated")
	case StateSubmitted:
		return dErrors.New(dErrors.CodeConflict, "cannot "+action+": ballot already submitted")
	case StateRejected:
		return dErrors.New(dErrors.CodeAlreadyVoted, "cannot "+action+": this voter has already voted")
	}
	return dErrors.New(dErrors.CodeInvariantViolation, "cannot "+action+" while "+string(s.state))
}

// PositionView is one position as the voter sees it.
type PositionView struct {
	Position    domain.Position       `json:"position"`
	DisplayName string                `json:"displayName"`
	Open        bool                  `json:"open"`
	Candidates  []candidate.Candidate `json:"candidates"`
	Selected    string                `json:"selected,omitempty"`
}

// View is the ballot page: the voter's prefilled identity and every position.
type View struct {
	State     State              `json:"state"`
	Voter     rostermodels.Voter `json:"voter"`
	Positions []PositionView     `json:"positions"`
}

func (s *Session) View() View {
	v := View{State: s.state, Voter: s.voter}
	for _, g := range s.slate.Groups {
		pv := PositionView{
			Position:    g.Position,
			DisplayName: g.DisplayName,
			Open:        s.open.IsOpen(g.Position),
			Candidates:  g.Candidates,
		}
		if id, ok := s.selections[g.Position]; ok {
			pv.Selected = id.String()
		}
		v.Positions = append(v.Positions, pv)
	}
	return v
}
