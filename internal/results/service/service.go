package service

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	ballotmodels "hustings/internal/ballot/models"
	"hustings/internal/candidate"
	nommodels "hustings/internal/nomination/models"
	"hustings/internal/platform/metrics"
	"hustings/internal/results/models"
	"hustings/pkg/domain"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/platform/sentinel"
	"hustings/pkg/requestcontext"
)

// Nominations lists nominations; results use the eligible ones.
type Nominations interface {
	List(ctx context.Context, filter nommodels.Filter) ([]*nommodels.Nomination, error)
}

// Ledger exposes the recorded ballots without their choices.
type Ledger interface {
	BallotIDs(ctx context.Context) ([]domain.BallotID, error)
	Turnout(ctx context.Context) (ballotmodels.Turnout, error)
}

// Service computes results on demand. Nothing is cached between reads.
type Service struct {
	nominations Nominations
	ledger      Ledger
	logger      *slog.Logger
	metrics     *metrics.Metrics
	tracer      trace.Tracer
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

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

func New(nominations Nominations, ledger Ledger, opts ...Option) *Service {
	s := &Service{
		nominations: nominations,
		ledger:      ledger,
		logger:      slog.Default(),
		tracer:      otel.Tracer("hustings/internal/results"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Results ranks every position from the current counters and attaches the
// ledger digest and turnout. The three reads run concurrently.
func (s *Service) Results(ctx context.Context) (*models.Results, error) {
	start := time.Now()
	defer s.metrics.ObserveResults(start)

	ctx, span := s.tracer.Start(ctx, "results.Compute")
	defer span.End()

	var (
		noms    []*nommodels.Nomination
		ids     []domain.BallotID
		turnout ballotmodels.Turnout
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
		ids, err = s.ledger.BallotIDs(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		turnout, err = s.ledger.Turnout(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		s.logger.ErrorContext(ctx, "failed to load results",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, wrap(err, "failed to load results")
	}

	out := &models.Results{
		Positions:    models.Compute(candidate.Project(noms)),
		Turnout:      turnout,
		LedgerDigest: Digest(ids),
		ComputedAt:   requestcontext.Now(ctx),
	}
	span.SetAttributes(attribute.Int("results.ballots", turnout.Ballots))
	return out, nil
}

// Digest is the hex BLAKE2b-256 of the sorted ballot IDs. It changes
// whenever a ballot is added and is independent of storage order.
func Digest(ids []domain.BallotID) string {
	sorted := make([]string, len(ids))
	for i, id := range ids {
		sorted[i] = id.String()
	}
	sort.Strings(sorted)

	h, _ := blake2b.New256(nil)
	for _, id := range sorted {
		h.Write([]byte(id))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func wrap(err error, msg string) error {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}
