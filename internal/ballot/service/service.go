package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"hustings/internal/ballot/models"
	"hustings/internal/candidate"
	nommodels "hustings/internal/nomination/models"
	"hustings/internal/platform/metrics"
	settingsmodels "hustings/internal/settings/models"
	"hustings/pkg/domain"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/platform/audit"
	"hustings/pkg/platform/middleware/metadata"
	"hustings/pkg/platform/sentinel"
	"hustings/pkg/requestcontext"
)

const maxIdempotencyKeyLength = 128

// Ledger records ballots and counts them.
//
// Commit inserts the ballot and increments the counter of every chosen
// candidate. It returns sentinel.ErrAlreadyUsed when another ballot holds the
// voter's email or the idempotency key, sentinel.ErrInvalidState when a chosen
// candidate is no longer eligible, and sentinel.ErrPartial when the ballot was
// stored but some increments are outstanding. Committing a ballot whose ID is
// already recorded completes any outstanding increments.
type Ledger interface {
	Commit(ctx context.Context, b *models.Ballot) error
	FindByIdempotencyKey(ctx context.Context, key string) (*models.Ballot, error)
	FindByEmail(ctx context.Context, email string) (*models.Ballot, error)
	List(ctx context.Context) ([]*models.Ballot, error)
}

// Nominations lists nominations; the ballot uses the eligible ones.
type Nominations interface {
	List(ctx context.Context, filter nommodels.Filter) ([]*nommodels.Nomination, error)
}

// Settings reports the current voting window.
type Settings interface {
	Get(ctx context.Context) (settingsmodels.OpenPositions, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service commits ballots. Every selection is checked against the current
// candidate list and voting window before the ledger sees it.
type Service struct {
	ledger      Ledger
	nominations Nominations
	settings    Settings
	logger      *slog.Logger
	metrics     *metrics.Metrics
	auditor     AuditPublisher
	tracer      trace.Tracer
	retries     int
	initialWait time.Duration
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

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithRetryPolicy sets how many times a transient ledger failure is retried
// and the first wait; waits grow exponentially.
func WithRetryPolicy(retries int, initialWait time.Duration) Option {
	return func(s *Service) {
		if retries >= 0 {
			s.retries = retries
		}
		if initialWait > 0 {
			s.initialWait = initialWait
		}
	}
}

func New(ledger Ledger, nominations Nominations, settings Settings, opts ...Option) *Service {
	s := &Service{
		ledger:      ledger,
		nominations: nominations,
		settings:    settings,
		logger:      slog.Default(),
		tracer:      otel.Tracer("hustings/internal/ballot"),
		retries:     3,
		initialWait: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates and commits one ballot. A repeated submission under the
// same idempotency key by the same voter returns the original receipt.
//
// When the ballot is stored but not fully counted the receipt is returned
// together with a partial_commit error.
func (s *Service) Submit(ctx context.Context, draft models.Draft) (*models.Receipt, error) {
	start := time.Now()
	defer s.metrics.ObserveSubmit(start)

	ctx, span := s.tracer.Start(ctx, "ballot.Submit",
		trace.WithAttributes(attribute.Int("ballot.selections", len(draft.Selections))))
	defer span.End()

	receipt, err := s.submit(ctx, draft)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	} else {
		span.SetAttributes(attribute.String("ballot.id", receipt.BallotID.String()),
			attribute.Bool("ballot.replayed", receipt.Replayed))
	}
	return receipt, err
}

func (s *Service) submit(ctx context.Context, draft models.Draft) (*models.Receipt, error) {
	if err := draft.Validate(); err != nil {
		return nil, s.reject(ctx, draft, "validation", err)
	}
	draft.IdempotencyKey = strings.TrimSpace(draft.IdempotencyKey)
	if draft.IdempotencyKey == "" || len(draft.IdempotencyKey) > maxIdempotencyKeyLength {
		return nil, s.reject(ctx, draft, "validation", dErrors.NewValidation(dErrors.FieldError{
			Field: "idempotencyKey", Message: "is required and at most 128 characters",
		}))
	}

	// Fast path for a voter who already has a ballot; the ledger's unique
	// email key still decides races.
	existing, err := s.ledger.FindByEmail(ctx, draft.VoterEmail)
	switch {
	case err == nil && existing.IdempotencyKey == draft.IdempotencyKey:
		return s.resume(ctx, existing)
	case err == nil:
		return nil, s.reject(ctx, draft, "already_voted",
			dErrors.New(dErrors.CodeAlreadyVoted, "a ballot has already been recorded for this voter"))
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, s.ledgerError(err, "failed to look up ballot")
	}

	if err := s.checkSelections(ctx, draft.Selections); err != nil {
		if dErrors.HasCode(err, dErrors.CodeValidation) {
			return nil, s.reject(ctx, draft, "ineligible_selection", err)
		}
		return nil, err
	}

	b, err := models.NewBallot(domain.NewBallotID(), draft,
		requestcontext.ClientIP(ctx), requestcontext.UserAgent(ctx), requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	err = s.commit(ctx, b)
	switch {
	case err == nil:
		s.recorded(ctx, b)
		return models.ReceiptFor(b, true, false), nil
	case errors.Is(err, sentinel.ErrPartial):
		return s.partial(ctx, b, false, err)
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return s.duplicate(ctx, b)
	case errors.Is(err, sentinel.ErrInvalidState):
		return nil, s.reject(ctx, draft, "ineligible_selection",
			dErrors.New(dErrors.CodeConflict, "a chosen candidate is no longer on the ballot"))
	}
	return nil, s.ledgerError(err, "failed to record ballot")
}

// Ballot loads the eligible candidates and the voting window concurrently.
func (s *Service) Ballot(ctx context.Context) (candidate.Slate, settingsmodels.OpenPositions, error) {
	var (
		noms []*nommodels.Nomination
		open settingsmodels.OpenPositions
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		noms, err = s.nominations.List(gctx, nommodels.Filter{
			Status:     nommodels.StatusApproved,
			Acceptance: nommodels.AcceptanceAccepted,
		})
		return err
	})
	g.Go(func() error {
		var err error
		open, err = s.settings.Get(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return candidate.Slate{}, nil, err
	}
	return candidate.Project(noms), open, nil
}

// checkSelections confirms every choice names an eligible candidate for an
// open position.
func (s *Service) checkSelections(ctx context.Context, selections map[domain.Position]domain.NominationID) error {
	slate, open, err := s.Ballot(ctx)
	if err != nil {
		return err
	}
	var fields []dErrors.FieldError
	for _, p := range domain.AllPositions() {
		id, ok := selections[p]
		if !ok {
			continue
		}
		field := "votes." + string(p)
		if !open.IsOpen(p) {
			fields = append(fields, dErrors.FieldError{Field: field, Message: "voting is not open for " + p.DisplayName()})
			continue
		}
		if _, ok := slate.Find(p, id); !ok {
			fields = append(fields, dErrors.FieldError{Field: field, Message: "not an eligible candidate for " + p.DisplayName()})
		}
	}
	if len(fields) > 0 {
		return dErrors.NewValidation(fields...)
	}
	return nil
}

// commit retries transient and partial failures with exponential backoff.
// Retries reuse the ballot ID, so the ledger resumes rather than duplicates.
func (s *Service) commit(ctx context.Context, b *models.Ballot) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialWait
	policy.MaxInterval = 2 * time.Second
	policy.MaxElapsedTime = 0

	op := func() error {
		err := s.ledger.Commit(ctx, b)
		if err == nil || errors.Is(err, sentinel.ErrUnavailable) || errors.Is(err, sentinel.ErrPartial) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.metrics.IncSubmitRetries()
		s.logger.WarnContext(ctx, "retrying ballot commit",
			"request_id", requestcontext.RequestID(ctx),
			"ballot_id", b.ID.String(),
			"wait", wait,
			"error", err,
		)
	}
	err := backoff.RetryNotify(op,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.retries)), ctx), notify)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return errors.Join(err, sentinel.ErrUnavailable)
	}
	return err
}

// duplicate sorts out an ErrAlreadyUsed commit: a replay of this voter's own
// submission returns the stored ballot, anything else is refused.
func (s *Service) duplicate(ctx context.Context, b *models.Ballot) (*models.Receipt, error) {
	existing, err := s.ledger.FindByIdempotencyKey(ctx, b.IdempotencyKey)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, s.ledgerError(err, "failed to look up ballot")
	}
	draft := models.Draft{VoterEmail: b.VoterEmail, IdempotencyKey: b.IdempotencyKey}
	if existing == nil {
		return nil, s.reject(ctx, draft, "already_voted",
			dErrors.New(dErrors.CodeAlreadyVoted, "a ballot has already been recorded for this voter"))
	}
	if existing.EmailKey() != b.EmailKey() {
		return nil, s.reject(ctx, draft, "idempotency_conflict",
			dErrors.New(dErrors.CodeConflict, "idempotency key belongs to another submission"))
	}
	return s.resume(ctx, existing)
}

// resume answers a replayed submission with the stored ballot, first
// finishing any increments it still owes.
func (s *Service) resume(ctx context.Context, existing *models.Ballot) (*models.Receipt, error) {
	if err := s.commit(ctx, existing); err != nil {
		if errors.Is(err, sentinel.ErrPartial) {
			return s.partial(ctx, existing, true, err)
		}
		return nil, s.ledgerError(err, "failed to resume ballot")
	}
	s.logger.InfoContext(ctx, "ballot submission replayed",
		"request_id", requestcontext.RequestID(ctx),
		"ballot_id", existing.ID.String(),
	)
	return models.ReceiptFor(existing, true, true), nil
}

func (s *Service) recorded(ctx context.Context, b *models.Ballot) {
	s.metrics.IncBallotsRecorded()
	s.emit(ctx, audit.Event{
		Type:    audit.EventBallotRecorded,
		Subject: b.ID.String(),
		Actor:   b.VoterEmail,
		Details: map[string]string{
			"organization": b.VoterMembership,
			"positions":    positionsString(b.Positions()),
		},
	})
	s.logger.InfoContext(ctx, "ballot recorded",
		"request_id", requestcontext.RequestID(ctx),
		"ballot_id", b.ID.String(),
		"selections", len(b.Selections),
	)
}

func (s *Service) partial(ctx context.Context, b *models.Ballot, replayed bool, cause error) (*models.Receipt, error) {
	s.metrics.IncPartialCommits()
	s.logger.ErrorContext(ctx, "CRITICAL: ballot partially committed",
		"request_id", requestcontext.RequestID(ctx),
		"ballot_id", b.ID.String(),
		"error", cause,
	)
	s.emit(ctx, audit.Event{
		Type:    audit.EventBallotPartialCommit,
		Subject: b.ID.String(),
		Actor:   b.VoterEmail,
		Reason:  cause.Error(),
	})
	return models.ReceiptFor(b, false, replayed),
		dErrors.Wrap(cause, dErrors.CodePartialCommit, "ballot recorded; counting will be completed by reconciliation")
}

func (s *Service) reject(ctx context.Context, draft models.Draft, reason string, err error) error {
	s.metrics.IncBallotsRejected(reason)
	if reason != "validation" {
		s.emit(ctx, audit.Event{
			Type:    audit.EventBallotRejected,
			Subject: draft.IdempotencyKey,
			Actor:   draft.VoterEmail,
			Reason:  reason,
		})
	}
	s.logger.InfoContext(ctx, "ballot refused",
		"request_id", requestcontext.RequestID(ctx),
		"reason", reason,
	)
	return err
}

// Summary lists who has voted, oldest first, without their choices.
func (s *Service) Summary(ctx context.Context) (*models.Summary, error) {
	ballots, err := s.ledger.List(ctx)
	if err != nil {
		return nil, s.ledgerError(err, "failed to list ballots")
	}
	sort.Slice(ballots, func(i, j int) bool {
		if !ballots[i].SubmittedAt.Equal(ballots[j].SubmittedAt) {
			return ballots[i].SubmittedAt.Before(ballots[j].SubmittedAt)
		}
		return ballots[i].ID.String() < ballots[j].ID.String()
	})
	out := &models.Summary{Turnout: models.CountTurnout(ballots), Ballots: make([]models.SummaryRow, 0, len(ballots))}
	for _, b := range ballots {
		out.Ballots = append(out.Ballots, models.SummaryRow{
			ID:              b.ID,
			VoterName:       b.VoterName,
			VoterEmail:      b.VoterEmail,
			VoterMembership: b.VoterMembership,
			Positions:       b.Positions(),
			Client:          metadata.ClientSummary(b.UserAgent),
			SourceAddress:   b.SourceAddress,
			SubmittedAt:     b.SubmittedAt,
		})
	}
	return out, nil
}

func (s *Service) ledgerError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
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

func positionsString(ps []domain.Position) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}
