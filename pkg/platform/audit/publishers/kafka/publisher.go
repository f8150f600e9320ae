// Package kafka publishes audit events to a Kafka topic, keyed by subject so
// all events for one ballot or nomination land on one partition in order.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "hustings/pkg/platform/audit"
	"hustings/pkg/platform/circuit"
)

// Producer is the subset of *kgo.Client used here.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

type Publisher struct {
	client   Producer
	topic    string
	breaker  *circuit.Breaker
	fallback audit.Publisher
	logger   *slog.Logger
}

type Option func(*Publisher)

// WithFallback routes events to fallback while breaker is open. The broker
// is still tried first so the breaker can see it recover.
func WithFallback(fallback audit.Publisher, breaker *circuit.Breaker) Option {
	return func(p *Publisher) {
		p.fallback = fallback
		p.breaker = breaker
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func New(client Producer, topic string, opts ...Option) *Publisher {
	p := &Publisher{client: client, topic: topic, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit produces synchronously and waits for broker acknowledgement.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	rec, err := Record(p.topic, event)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return p.failed(ctx, event, fmt.Errorf("produce audit event: %w", err))
	}
	if p.breaker != nil {
		if _, change := p.breaker.RecordSuccess(); change.Closed {
			p.logger.InfoContext(ctx, "audit broker recovered", "breaker", p.breaker.Name())
		}
	}
	return nil
}

func (p *Publisher) failed(ctx context.Context, event audit.Event, err error) error {
	if p.breaker == nil || p.fallback == nil {
		return err
	}
	useFallback, change := p.breaker.RecordFailure()
	if change.Opened {
		p.logger.WarnContext(ctx, "audit broker unavailable, using fallback",
			"breaker", p.breaker.Name(),
			"error", err,
		)
	}
	if !useFallback {
		return err
	}
	return p.fallback.Emit(ctx, event)
}

// Record encodes event as a Kafka record.
func Record(topic string, event audit.Event) (*kgo.Record, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal audit event: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(event.Subject),
		Value: payload,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(event.Type)},
			{Key: "category", Value: []byte(event.Category())},
		},
	}, nil
}
