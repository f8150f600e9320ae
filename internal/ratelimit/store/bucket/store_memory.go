package bucket

import (
	"context"
	"math"
	"sync"
	"time"

	"hustings/internal/ratelimit/models"
)

// InMemoryBucketStore is a per-process sliding window. Used alone in single
// instance deployments and as the fallback while Redis is unreachable.
type InMemoryBucketStore struct {
	mu      sync.Mutex
	buckets map[string][]time.Time
	now     func() time.Time
}

func New() *InMemoryBucketStore {
	return &InMemoryBucketStore{buckets: make(map[string][]time.Time), now: time.Now}
}

// NewWithClock is for tests.
func NewWithClock(now func() time.Time) *InMemoryBucketStore {
	s := New()
	s.now = now
	return s
}

func (s *InMemoryBucketStore) Allow(_ context.Context, key string, limit models.Limit) (*models.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stamps := expire(s.buckets[key], now.Add(-limit.Window))
	if len(stamps) >= limit.Requests {
		s.buckets[key] = stamps
		return denied(limit, stamps[0].Add(limit.Window), now), nil
	}
	stamps = append(stamps, now)
	s.buckets[key] = stamps
	return &models.Result{
		Allowed:   true,
		Limit:     limit.Requests,
		Remaining: limit.Requests - len(stamps),
		ResetAt:   stamps[0].Add(limit.Window),
	}, nil
}

// expire drops timestamps at or before cutoff.
func expire(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for ; i < len(stamps); i++ {
		if stamps[i].After(cutoff) {
			break
		}
	}
	return stamps[i:]
}

func denied(limit models.Limit, resetAt, now time.Time) *models.Result {
	return &models.Result{
		Allowed:    false,
		Limit:      limit.Requests,
		ResetAt:    resetAt,
		RetryAfter: int(math.Ceil(resetAt.Sub(now).Seconds())),
	}
}
