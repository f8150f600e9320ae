package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hustings/internal/ratelimit/models"
)

func TestInMemorySlidingWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	store := NewWithClock(func() time.Time { return now })
	limit := models.Limit{Requests: 2, Window: time.Minute}

	first, err := store.Allow(ctx, "k", limit)
	require.NoError(t, err)
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	now = now.Add(20 * time.Second)
	second, err := store.Allow(ctx, "k", limit)
	require.NoError(t, err)
	assert.True(t, second.Allowed)
	assert.Zero(t, second.Remaining)

	third, err := store.Allow(ctx, "k", limit)
	require.NoError(t, err)
	assert.False(t, third.Allowed)
	assert.Equal(t, 40, third.RetryAfter, "the oldest request leaves the window in 40s")

	other, err := store.Allow(ctx, "other", limit)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are independent")

	now = now.Add(41 * time.Second)
	fourth, err := store.Allow(ctx, "k", limit)
	require.NoError(t, err)
	assert.True(t, fourth.Allowed)
	assert.Zero(t, fourth.Remaining)
}
