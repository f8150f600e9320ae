package worker

import (
	"context"
	"log/slog"
	"time"

	audit "hustings/pkg/platform/audit"
)

// Outbox is the durable side of the relay.
type Outbox interface {
	FetchUnpublished(ctx context.Context, limit int) ([]audit.Event, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}

// Relay forwards outbox rows to a downstream publisher (Kafka). Delivery is
// at-least-once: a crash between publish and mark re-sends the batch, and
// consumers dedupe on event ID.
type Relay struct {
	outbox   Outbox
	sink     audit.Publisher
	logger   *slog.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

// Option configures the Relay.
type Option func(*Relay)

func WithInterval(d time.Duration) Option {
	return func(r *Relay) { r.interval = d }
}

func WithBatchSize(n int) Option {
	return func(r *Relay) { r.batch = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

func NewRelay(outbox Outbox, sink audit.Publisher, opts ...Option) *Relay {
	r := &Relay{
		outbox:   outbox,
		sink:     sink,
		logger:   slog.Default(),
		interval: time.Second,
		batch:    100,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil {
				r.logger.WarnContext(ctx, "audit relay pass failed", "error", err)
			}
		}
	}
}

// RelayOnce forwards one batch and returns how many events were marked.
// It stops at the first publish failure so ordering per subject holds.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.outbox.FetchUnpublished(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	sent := make([]string, 0, len(events))
	var publishErr error
	for _, e := range events {
		if publishErr = r.sink.Emit(ctx, e); publishErr != nil {
			break
		}
		sent = append(sent, e.ID)
	}
	if err := r.outbox.MarkPublished(ctx, sent, r.now()); err != nil {
		return 0, err
	}
	return len(sent), publishErr
}
