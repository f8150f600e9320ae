package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "hustings/pkg/platform/audit"
	"hustings/pkg/platform/audit/store/memory"
	"hustings/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error { return errors.New("disk full") }

func TestEmit(t *testing.T) {
	t.Run("fills defaults from context", func(t *testing.T) {
		store := memory.NewInMemoryStore()
		p := New(store)
		now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		ctx := requestcontext.WithRequestID(requestcontext.WithTime(context.Background(), now), "req-9")

		require.NoError(t, p.Emit(ctx, audit.Event{Type: audit.EventBallotRecorded, Subject: "ballot-1"}))

		events, err := store.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.NotEmpty(t, events[0].ID)
		assert.Equal(t, now, events[0].Timestamp)
		assert.Equal(t, "req-9", events[0].RequestID)
	})

	t.Run("requires type and subject", func(t *testing.T) {
		p := New(memory.NewInMemoryStore())
		assert.Error(t, p.Emit(context.Background(), audit.Event{Subject: "x"}))
		assert.Error(t, p.Emit(context.Background(), audit.Event{Type: audit.EventBallotRecorded}))
	})

	t.Run("store failure fails closed", func(t *testing.T) {
		p := New(failingStore{})
		err := p.Emit(context.Background(), audit.Event{Type: audit.EventTallyRepaired, Subject: "tally"})
		assert.ErrorContains(t, err, "disk full")
	})
}
