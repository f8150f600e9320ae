// Package reconcile compares the vote counters with a recount of the ballot
// log and, when asked, rewrites the counters from the log.
package reconcile

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	ballotmodels "hustings/internal/ballot/models"
	"hustings/internal/platform/metrics"
	"hustings/internal/results/models"
	"hustings/pkg/domain"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/platform/audit"
	"hustings/pkg/requestcontext"
)

// Ledger recounts ballots and repairs counters.
type Ledger interface {
	Tally(ctx context.Context) (ballotmodels.TallySnapshot, error)
	Repair(ctx context.Context) (int, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Reconciler runs one pass at a time; concurrent callers wait.
type Reconciler struct {
	mu      sync.Mutex
	ledger  Ledger
	logger  *slog.Logger
	metrics *metrics.Metrics
	auditor AuditPublisher
	tracer  trace.Tracer
}

type Option func(*Reconciler)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(r *Reconciler) {
		r.auditor = publisher
	}
}

func New(ledger Ledger, opts ...Option) *Reconciler {
	r := &Reconciler{
		ledger: ledger,
		logger: slog.Default(),
		tracer: otel.Tracer("hustings/internal/results"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run checks every counter against the recount. Drift seen on the first
// read is confirmed by a second read so an in-flight commit is not
// reported. With repair set, drifting counters are rewritten.
func (r *Reconciler) Run(ctx context.Context, repair bool) (*models.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, span := r.tracer.Start(ctx, "results.Reconcile", trace.WithAttributes(attribute.Bool("reconcile.repair", repair)))
	defer span.End()

	drift, err := r.drift(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to recount ballots")
	}
	if len(drift) > 0 {
		confirm, err := r.drift(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to recount ballots")
		}
		drift = intersect(drift, confirm)
	}

	report := &models.Report{Drift: drift, Repair: repair, CheckedAt: requestcontext.Now(ctx)}
	if report.Drift == nil {
		report.Drift = []models.Drift{}
	}
	r.metrics.SetTallyDrift(len(drift))
	span.SetAttributes(attribute.Int("reconcile.drift", len(drift)))
	if len(drift) == 0 {
		r.logger.DebugContext(ctx, "vote counters match ballot log")
		return report, nil
	}

	for _, d := range drift {
		r.logger.WarnContext(ctx, "vote counter drift detected",
			"request_id", requestcontext.RequestID(ctx),
			"nomination_id", d.NominationID.String(),
			"counter", d.Counter,
			"recount", d.Recount,
		)
		r.emit(ctx, audit.Event{
			Type:    audit.EventTallyDriftDetected,
			Subject: d.NominationID.String(),
			Actor:   actor(ctx),
			Details: map[string]string{
				"counter": strconv.FormatInt(d.Counter, 10),
				"recount": strconv.FormatInt(d.Recount, 10),
			},
		})
	}
	if !repair {
		return report, nil
	}

	repaired, err := r.ledger.Repair(ctx)
	if err != nil {
		span.RecordError(err)
		r.logger.ErrorContext(ctx, "vote counter repair failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to repair vote counters")
	}
	report.Repaired = repaired
	r.metrics.AddTallyRepairs(repaired)
	r.metrics.SetTallyDrift(0)
	r.logger.InfoContext(ctx, "vote counters repaired",
		"request_id", requestcontext.RequestID(ctx),
		"repaired", repaired,
	)
	r.emit(ctx, audit.Event{
		Type:    audit.EventTallyRepaired,
		Subject: "tally",
		Actor:   actor(ctx),
		Details: map[string]string{"repaired": strconv.Itoa(repaired)},
	})
	return report, nil
}

func (r *Reconciler) drift(ctx context.Context) ([]models.Drift, error) {
	snap, err := r.ledger.Tally(ctx)
	if err != nil {
		return nil, err
	}
	return models.Diff(snap), nil
}

// intersect keeps the entries of second whose nomination also drifted in
// first.
func intersect(first, second []models.Drift) []models.Drift {
	seen := make(map[domain.NominationID]struct{}, len(first))
	for _, d := range first {
		seen[d.NominationID] = struct{}{}
	}
	var out []models.Drift
	for _, d := range second {
		if _, ok := seen[d.NominationID]; ok {
			out = append(out, d)
		}
	}
	return out
}

func actor(ctx context.Context) string {
	if subject := requestcontext.AdminSubject(ctx); subject != "" {
		return subject
	}
	return "reconciler"
}

func (r *Reconciler) emit(ctx context.Context, event audit.Event) {
	if r.auditor == nil {
		return
	}
	if err := r.auditor.Emit(ctx, event); err != nil {
		r.logger.ErrorContext(ctx, "failed to emit audit event",
			"request_id", requestcontext.RequestID(ctx),
			"type", event.Type,
			"error", err,
		)
	}
}

// Worker reconciles on a fixed interval until its context ends.
type Worker struct {
	reconciler *Reconciler
	interval   time.Duration
	repair     bool
	logger     *slog.Logger
}

func NewWorker(reconciler *Reconciler, interval time.Duration, repair bool, logger *slog.Logger) *Worker {
	return &Worker{reconciler: reconciler, interval: interval, repair: repair, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.reconciler.Run(ctx, w.repair); err != nil {
				w.logger.WarnContext(ctx, "reconcile pass failed", "error", err)
			}
		}
	}
}
