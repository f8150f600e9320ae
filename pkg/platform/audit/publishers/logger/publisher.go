// Package logger publishes audit events as structured log lines. It is the
// sink of last resort when neither Kafka nor Postgres is configured.
package logger

import (
	"context"
	"log/slog"

	audit "hustings/pkg/platform/audit"
)

type Publisher struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Publisher {
	return &Publisher{logger: logger}
}

func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	level := slog.LevelInfo
	if event.Category() == audit.CategorySecurity {
		level = slog.LevelWarn
	}
	attrs := []any{
		"audit_type", event.Type,
		"category", event.Category(),
		"subject", event.Subject,
	}
	if event.Actor != "" {
		attrs = append(attrs, "actor", event.Actor)
	}
	if event.Position != "" {
		attrs = append(attrs, "position", event.Position)
	}
	if event.Decision != "" {
		attrs = append(attrs, "decision", event.Decision)
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	if event.RequestID != "" {
		attrs = append(attrs, "request_id", event.RequestID)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}
	p.logger.Log(ctx, level, "audit", attrs...)
	return nil
}
