package bucket

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hustings/internal/ratelimit/models"
)

// slidingWindow trims, counts and conditionally records in one round trip so
// concurrent instances never admit more than the limit. Scores are unix ms.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local reset = now + window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
	reset = tonumber(oldest[2]) + window
end
if count >= limit then
	return {0, 0, reset}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1, reset}
`)

// RedisStore shares buckets between every instance behind the balancer.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit models.Limit) (*models.Result, error) {
	now := s.now()
	raw, err := slidingWindow.Run(ctx, s.client, []string{key},
		now.UnixMilli(), limit.Window.Milliseconds(), limit.Requests, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(raw) != 3 {
		return nil, fmt.Errorf("rate limit %s: unexpected reply %v", key, raw)
	}
	resetAt := time.UnixMilli(raw[2])
	if raw[0] == 0 {
		return denied(limit, resetAt, now), nil
	}
	return &models.Result{
		Allowed:   true,
		Limit:     limit.Requests,
		Remaining: int(raw[1]),
		ResetAt:   resetAt,
	}, nil
}
