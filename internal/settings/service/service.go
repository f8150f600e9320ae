package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"hustings/internal/platform/metrics"
	"hustings/internal/settings/models"
	"hustings/pkg/domain"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/platform/audit"
	"hustings/pkg/platform/sentinel"
	"hustings/pkg/requestcontext"
)

// Store reads and writes the voting window.
type Store interface {
	Get(ctx context.Context) (models.OpenPositions, error)
	Set(ctx context.Context, open models.OpenPositions) error
}

// Subscriber is implemented by stores that can push changes.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan models.OpenPositions, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service owns the voting window. Admins change it; ballot sessions and the
// nomination freeze read it.
type Service struct {
	store        Store
	logger       *slog.Logger
	metrics      *metrics.Metrics
	auditor      AuditPublisher
	pollInterval time.Duration
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

// WithPollInterval sets how often stores without push support are re-read
// for subscribers.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default(), pollInterval: 2 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Get(ctx context.Context) (models.OpenPositions, error) {
	open, err := s.store.Get(ctx)
	if err != nil {
		return nil, wrap(err, "failed to read voting settings")
	}
	return open, nil
}

// IsOpen reports whether voting is open for p.
func (s *Service) IsOpen(ctx context.Context, p domain.Position) (bool, error) {
	open, err := s.Get(ctx)
	if err != nil {
		return false, err
	}
	return open.IsOpen(p), nil
}

// Set applies a partial update: positions not named keep their state.
func (s *Service) Set(ctx context.Context, changes map[string]bool) (models.OpenPositions, error) {
	if len(changes) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "no positions given")
	}
	parsed := make(models.OpenPositions, len(changes))
	var fields []dErrors.FieldError
	for k, v := range changes {
		p, err := domain.ParsePosition(k)
		if err != nil {
			fields = append(fields, dErrors.FieldError{Field: k, Message: "unknown position"})
			continue
		}
		parsed[p] = v
	}
	if len(fields) > 0 {
		sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
		return nil, dErrors.NewValidation(fields...)
	}

	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	next := current.Merge(parsed)
	if next.Equal(current) {
		return next, nil
	}
	if err := s.store.Set(ctx, next); err != nil {
		return nil, wrap(err, "failed to write voting settings")
	}

	s.metrics.IncSettingsUpdates()
	s.logger.InfoContext(ctx, "voting window changed",
		"request_id", requestcontext.RequestID(ctx),
		"open", positionsString(next.Open()),
		"actor", requestcontext.AdminSubject(ctx),
	)
	if s.auditor != nil {
		err := s.auditor.Emit(ctx, audit.Event{
			Type:    audit.EventVotingSettingsChanged,
			Subject: "voting_open_settings",
			Actor:   requestcontext.AdminSubject(ctx),
			Details: map[string]string{
				"open":     positionsString(next.Open()),
				"previous": positionsString(current.Open()),
			},
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to emit audit event", "error", err)
		}
	}
	return next, nil
}

// Subscribe streams the voting window: the current value first, then each
// change, until ctx ends. Stores that cannot push are polled.
func (s *Service) Subscribe(ctx context.Context) (<-chan models.OpenPositions, error) {
	if sub, ok := s.store.(Subscriber); ok {
		ch, err := sub.Subscribe(ctx)
		if err != nil {
			return nil, wrap(err, "failed to subscribe to voting settings")
		}
		return ch, nil
	}
	return s.poll(ctx)
}

func (s *Service) poll(ctx context.Context) (<-chan models.OpenPositions, error) {
	last, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan models.OpenPositions, 1)
	out <- last
	go func() {
		defer close(out)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				open, err := s.store.Get(ctx)
				if err != nil {
					if ctx.Err() == nil {
						s.logger.WarnContext(ctx, "voting settings poll failed", "error", err)
					}
					continue
				}
				if open.Equal(last) {
					continue
				}
				last = open
				select {
				case out <- open:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func wrap(err error, msg string) error {
	if errors.Is(err, sentinel.ErrUnavailable) {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, msg)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

func positionsString(ps []domain.Position) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}
