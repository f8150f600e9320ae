// Package compliance provides a fail-closed audit publisher.
//
// Emit writes synchronously to the audit store and returns the store error.
// Callers that must not proceed without an audit record (admin decisions,
// voting window changes) treat that error as fatal for the operation.
package compliance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	audit "hustings/pkg/platform/audit"
	"hustings/pkg/requestcontext"
)

// Publisher emits events with fail-closed semantics.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// New creates a compliance publisher over store.
func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit fills ID, timestamp and request ID when absent, then appends.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Type == "" {
		return fmt.Errorf("audit event requires Type")
	}
	if event.Subject == "" {
		return fmt.Errorf("audit event requires Subject")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}

	if err := p.store.Append(ctx, event); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "CRITICAL: audit persistence failed",
				"type", event.Type,
				"subject", event.Subject,
				"error", err,
			)
		}
		return fmt.Errorf("audit persistence failed: %w", err)
	}
	return nil
}
