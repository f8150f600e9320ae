package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"hustings/internal/settings/models"
	"hustings/pkg/domain"
	"hustings/pkg/platform/sentinel"
)

const (
	// HashKey stores one field per position, "1" when open.
	HashKey = "voting:open"
	// Channel carries a notification after every write.
	Channel = "voting:open:changed"
)

// RedisStore keeps the voting window in a hash and announces writes on a
// pub/sub channel so every instance can push changes to its voters.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

func New(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) Get(ctx context.Context) (models.OpenPositions, error) {
	fields, err := s.client.HGetAll(ctx, HashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("read voting settings: %w: %w", sentinel.ErrUnavailable, err)
	}
	open := models.OpenPositions{}
	for k, v := range fields {
		if p := domain.Position(k); p.IsValid() {
			open[p] = v == "1"
		}
	}
	return open.Complete(), nil
}

// Set writes every position and publishes in one MULTI/EXEC.
func (s *RedisStore) Set(ctx context.Context, open models.OpenPositions) error {
	values := make(map[string]any, len(domain.AllPositions()))
	for p, isOpen := range open.Complete() {
		v := "0"
		if isOpen {
			v = "1"
		}
		values[string(p)] = v
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, HashKey, values)
		pipe.Publish(ctx, Channel, "changed")
		return nil
	})
	if err != nil {
		return fmt.Errorf("write voting settings: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

// Subscribe delivers the current window, then a fresh read after every
// change notification, until ctx ends.
func (s *RedisStore) Subscribe(ctx context.Context) (<-chan models.OpenPositions, error) {
	pubsub := s.client.Subscribe(ctx, Channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe voting settings: %w: %w", sentinel.ErrUnavailable, err)
	}
	initial, err := s.Get(ctx)
	if err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan models.OpenPositions, 1)
	out <- initial
	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				open, err := s.Get(ctx)
				if err != nil {
					s.logger.WarnContext(ctx, "voting settings refresh failed", "error", err)
					continue
				}
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
