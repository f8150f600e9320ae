package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"hustings/internal/nomination/models"
	"hustings/internal/platform/metrics"
	"hustings/pkg/domain"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/platform/audit"
	"hustings/pkg/platform/sentinel"
	"hustings/pkg/requestcontext"
)

// MaxBulkRows bounds one bulk upload.
const MaxBulkRows = 500

// Store is the persistence contract for nominations. Conditional updates
// return sentinel.ErrConflict when the stored value no longer equals from.
type Store interface {
	Create(ctx context.Context, n *models.Nomination) error
	FindByID(ctx context.Context, id domain.NominationID) (*models.Nomination, error)
	List(ctx context.Context, filter models.Filter) ([]*models.Nomination, error)
	UpdateStatus(ctx context.Context, id domain.NominationID, from, to models.Status, at time.Time) error
	UpdateAcceptance(ctx context.Context, id domain.NominationID, from, to models.Acceptance, at time.Time) error
	SetAcceptanceTokenIfAbsent(ctx context.Context, id domain.NominationID, token string, at time.Time) (string, error)
}

// OpenChecker reports whether voting is open for a position. Nominations for
// an open position are frozen.
type OpenChecker interface {
	IsOpen(ctx context.Context, position domain.Position) (bool, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service runs nomination intake, admin review and nominee acceptance.
type Service struct {
	store     Store
	open      OpenChecker
	logger    *slog.Logger
	metrics   *metrics.Metrics
	auditor   AuditPublisher
	publicURL string
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

// WithOpenChecker freezes nominations whose position is open for voting.
func WithOpenChecker(checker OpenChecker) Option {
	return func(s *Service) {
		s.open = checker
	}
}

// WithPublicBaseURL sets the origin used in acceptance links.
func WithPublicBaseURL(base string) Option {
	return func(s *Service) {
		s.publicURL = strings.TrimRight(base, "/")
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates intake and stores a pending nomination with a fresh
// acceptance token.
func (s *Service) Create(ctx context.Context, req *models.NominationRequest) (*models.Nomination, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	token, err := newAcceptanceToken()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint acceptance token")
	}
	nominee, nominator := req.Parts()
	n, err := models.NewNomination(domain.NewNominationID(), nominee, nominator, token, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, s.storeError(err, "failed to save nomination")
	}

	s.metrics.IncNominationsCreated()
	s.emit(ctx, audit.Event{
		Type:     audit.EventNominationCreated,
		Subject:  n.ID.String(),
		Position: string(n.Nominee.Position),
		Details:  map[string]string{"self_nominated": fmt.Sprint(n.Nominator.SelfNominated)},
	})
	s.logger.InfoContext(ctx, "nomination created",
		"request_id", requestcontext.RequestID(ctx),
		"nomination_id", n.ID.String(),
		"position", n.Nominee.Position,
	)
	return n, nil
}

// BulkImport creates every valid row and reports the rest. It fails as a
// whole only when the upload itself is unusable.
func (s *Service) BulkImport(ctx context.Context, rows []json.RawMessage) (*models.BulkReport, error) {
	if len(rows) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "upload contains no rows")
	}
	if len(rows) > MaxBulkRows {
		return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("upload exceeds %d rows", MaxBulkRows))
	}
	report := &models.BulkReport{Rows: make([]models.BulkResult, 0, len(rows))}
	for i, raw := range rows {
		result := models.BulkResult{Row: i + 1}
		n, err := s.importRow(ctx, raw)
		if err != nil {
			if dErrors.CodeOf(err) == dErrors.CodeInternal || dErrors.CodeOf(err) == dErrors.CodeUnavailable {
				return nil, err
			}
			result.Error = string(dErrors.CodeOf(err))
			result.Fields = dErrors.FieldsOf(err)
			report.Failed++
		} else {
			result.ID = n.ID.String()
			result.AcceptanceLink = s.link(n.ID, n.AcceptanceToken)
			report.Created++
		}
		report.Rows = append(report.Rows, result)
	}
	s.logger.InfoContext(ctx, "bulk nomination upload processed",
		"request_id", requestcontext.RequestID(ctx),
		"created", report.Created,
		"failed", report.Failed,
	)
	return report, nil
}

func (s *Service) importRow(ctx context.Context, raw json.RawMessage) (*models.Nomination, error) {
	req, err := models.DecodeNominationRequest(raw)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, req)
}

func (s *Service) Get(ctx context.Context, id domain.NominationID) (*models.Nomination, error) {
	n, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, s.storeError(err, "failed to load nomination")
	}
	return n, nil
}

func (s *Service) List(ctx context.Context, filter models.Filter) ([]*models.Nomination, error) {
	noms, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, s.storeError(err, "failed to list nominations")
	}
	return noms, nil
}

// Stats counts nominations by review and acceptance state.
func (s *Service) Stats(ctx context.Context) (models.Stats, error) {
	noms, err := s.List(ctx, models.Filter{})
	if err != nil {
		return models.Stats{}, err
	}
	return models.Tally(noms), nil
}

// EnsureAcceptanceToken returns the stored token, minting one only when the
// nomination has none. Concurrent callers converge on a single token.
func (s *Service) EnsureAcceptanceToken(ctx context.Context, id domain.NominationID) (string, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if n.AcceptanceToken != "" {
		return n.AcceptanceToken, nil
	}
	token, err := newAcceptanceToken()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint acceptance token")
	}
	stored, err := s.store.SetAcceptanceTokenIfAbsent(ctx, id, token, requestcontext.Now(ctx))
	if err != nil {
		return "", s.storeError(err, "failed to save acceptance token")
	}
	return stored, nil
}

// AcceptanceLink returns the accept/deny URL for a nomination.
func (s *Service) AcceptanceLink(ctx context.Context, id domain.NominationID) (string, error) {
	token, err := s.EnsureAcceptanceToken(ctx, id)
	if err != nil {
		return "", err
	}
	return s.link(id, token), nil
}

func (s *Service) link(id domain.NominationID, token string) string {
	q := url.Values{"id": {id.String()}, "token": {token}}
	return s.publicURL + "/accept?" + q.Encode()
}

// SetStatus records an admin review decision. Setting the current status is
// a no-op; returning to pending is refused.
func (s *Service) SetStatus(ctx context.Context, id domain.NominationID, to models.Status) (*models.Nomination, error) {
	if !to.IsValid() {
		return nil, dErrors.NewValidation(dErrors.FieldError{Field: "status", Message: "must be approved or rejected"})
	}
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status == to {
		return n, nil
	}
	if !n.CanMoveTo(to) {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "a reviewed nomination cannot return to pending")
	}
	if err := s.ensureNotFrozen(ctx, n.Nominee.Position); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	if err := s.store.UpdateStatus(ctx, id, n.Status, to, now); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return s.settledStatus(ctx, id, to)
		}
		return nil, s.storeError(err, "failed to update nomination status")
	}
	from := n.Status
	n.Status = to
	n.UpdatedAt = now

	s.metrics.IncNominationDecision("status", string(to))
	s.emit(ctx, audit.Event{
		Type:     audit.EventNominationStatusChanged,
		Subject:  id.String(),
		Actor:    requestcontext.AdminSubject(ctx),
		Position: string(n.Nominee.Position),
		Decision: string(to),
		Details:  map[string]string{"from": string(from)},
	})
	return n, nil
}

// settledStatus resolves a lost race: succeed when the winner set the same
// status, otherwise report the conflict.
func (s *Service) settledStatus(ctx context.Context, id domain.NominationID, to models.Status) (*models.Nomination, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status == to {
		return n, nil
	}
	return nil, dErrors.New(dErrors.CodeConflict, "nomination status changed concurrently")
}

// SetAcceptance records the nominee's decision. The token must match the
// stored one; repeating a decision is harmless, changing it is refused.
func (s *Service) SetAcceptance(ctx context.Context, id domain.NominationID, token string, decision models.Acceptance) (*models.Nomination, error) {
	if decision != models.AcceptanceAccepted && decision != models.AcceptanceDenied {
		return nil, dErrors.NewValidation(dErrors.FieldError{Field: "decision", Message: "must be accept or deny"})
	}
	n, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeTokenMismatch, "acceptance link is not valid")
		}
		return nil, s.storeError(err, "failed to load nomination")
	}
	if !tokensEqual(n.AcceptanceToken, token) {
		s.logger.WarnContext(ctx, "acceptance token mismatch",
			"request_id", requestcontext.RequestID(ctx),
			"nomination_id", id.String(),
		)
		return nil, dErrors.New(dErrors.CodeTokenMismatch, "acceptance link is not valid")
	}
	if n.AcceptanceStatus == decision {
		return n, nil
	}
	if n.AcceptanceStatus != models.AcceptancePending {
		return nil, dErrors.New(dErrors.CodeAlreadyDecided, "nomination has already been "+strings.ToLower(string(n.AcceptanceStatus)))
	}
	if err := s.ensureNotFrozen(ctx, n.Nominee.Position); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	if err := s.store.UpdateAcceptance(ctx, id, models.AcceptancePending, decision, now); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return s.settledAcceptance(ctx, id, decision)
		}
		return nil, s.storeError(err, "failed to record acceptance")
	}
	n.AcceptanceStatus = decision
	n.UpdatedAt = now

	s.metrics.IncNominationDecision("acceptance", string(decision))
	s.emit(ctx, audit.Event{
		Type:     audit.EventNominationAcceptanceDecided,
		Subject:  id.String(),
		Position: string(n.Nominee.Position),
		Decision: string(decision),
	})
	return n, nil
}

func (s *Service) settledAcceptance(ctx context.Context, id domain.NominationID, decision models.Acceptance) (*models.Nomination, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.AcceptanceStatus == decision {
		return n, nil
	}
	return nil, dErrors.New(dErrors.CodeAlreadyDecided, "nomination has already been decided")
}

func (s *Service) ensureNotFrozen(ctx context.Context, position domain.Position) error {
	if s.open == nil {
		return nil
	}
	open, err := s.open.IsOpen(ctx, position)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "voting settings unavailable")
	}
	if open {
		return dErrors.New(dErrors.CodeConflict,
			"nominations for "+position.DisplayName()+" are frozen while voting is open")
	}
	return nil
}

func (s *Service) storeError(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "nomination not found")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.New(dErrors.CodeConflict, "nomination already exists")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func (s *Service) emit(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"request_id", requestcontext.RequestID(ctx),
			"type", event.Type,
			"error", err,
		)
	}
}

func newAcceptanceToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func tokensEqual(stored, given string) bool {
	if stored == "" || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}
