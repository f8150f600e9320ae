package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "hustings/pkg/platform/audit"
)

type fakeOutbox struct {
	mu        sync.Mutex
	pending   []audit.Event
	published []string
}

func (f *fakeOutbox) FetchUnpublished(_ context.Context, limit int) ([]audit.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > len(f.pending) {
		limit = len(f.pending)
	}
	return append([]audit.Event{}, f.pending[:limit]...), nil
}

func (f *fakeOutbox) MarkPublished(_ context.Context, ids []string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	done := map[string]bool{}
	for _, id := range ids {
		done[id] = true
	}
	f.published = append(f.published, ids...)
	kept := f.pending[:0]
	for _, e := range f.pending {
		if !done[e.ID] {
			kept = append(kept, e)
		}
	}
	f.pending = kept
	return nil
}

type flakySink struct {
	failOn string
	got    []string
}

func (s *flakySink) Emit(_ context.Context, e audit.Event) error {
	if e.ID == s.failOn {
		return errors.New("broker down")
	}
	s.got = append(s.got, e.ID)
	return nil
}

func TestRelayOnce(t *testing.T) {
	t.Run("forwards and marks a batch", func(t *testing.T) {
		ob := &fakeOutbox{pending: []audit.Event{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
		sink := &flakySink{}
		r := NewRelay(ob, sink, WithBatchSize(2))

		n, err := r.RelayOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []string{"a", "b"}, sink.got)

		n, err = r.RelayOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Empty(t, ob.pending)
	})

	t.Run("stops at first failure and keeps the rest pending", func(t *testing.T) {
		ob := &fakeOutbox{pending: []audit.Event{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
		sink := &flakySink{failOn: "b"}
		r := NewRelay(ob, sink)

		n, err := r.RelayOnce(context.Background())
		assert.Error(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []string{"a"}, ob.published)
		require.Len(t, ob.pending, 2)
		assert.Equal(t, "b", ob.pending[0].ID)
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	ob := &fakeOutbox{pending: []audit.Event{{ID: "a"}}}
	sink := &flakySink{}
	r := NewRelay(ob, sink, WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		ob.mu.Lock()
		defer ob.mu.Unlock()
		return len(ob.pending) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
