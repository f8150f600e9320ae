package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hustings/internal/settings/models"
	"hustings/internal/settings/store/memory"
	"hustings/pkg/domain"
	dErrors "hustings/pkg/domain-errors"
	"hustings/pkg/platform/audit"
	auditmemory "hustings/pkg/platform/audit/store/memory"
	"hustings/pkg/platform/sentinel"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestSetMergesAndAudits(t *testing.T) {
	ctx := context.Background()
	events := auditmemory.NewInMemoryStore()
	svc := New(memory.NewInMemory(), WithLogger(discard), WithAuditPublisher(events))

	open, err := svc.Set(ctx, map[string]bool{"president": true, "Treasurer": true})
	require.NoError(t, err)
	assert.Equal(t, []domain.Position{domain.PositionPresident, domain.PositionTreasurer}, open.Open())

	open, err = svc.Set(ctx, map[string]bool{"treasurer": false})
	require.NoError(t, err)
	assert.Equal(t, []domain.Position{domain.PositionPresident}, open.Open(), "unnamed positions keep their state")

	isOpen, err := svc.IsOpen(ctx, domain.PositionPresident)
	require.NoError(t, err)
	assert.True(t, isOpen)

	_, err = svc.Set(ctx, map[string]bool{"president": true})
	require.NoError(t, err)
	recorded, err := events.ListByType(ctx, audit.EventVotingSettingsChanged)
	require.NoError(t, err)
	assert.Len(t, recorded, 2, "a write that changes nothing is not audited")
}

func TestSetRejectsUnknownPositions(t *testing.T) {
	svc := New(memory.NewInMemory(), WithLogger(discard))

	_, err := svc.Set(context.Background(), map[string]bool{"chair": true, "president": true})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	require.Len(t, dErrors.FieldsOf(err), 1)
	assert.Equal(t, "chair", dErrors.FieldsOf(err)[0].Field)

	_, err = svc.Set(context.Background(), map[string]bool{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestSubscribePush(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := New(memory.NewInMemory(), WithLogger(discard))

	updates, err := svc.Subscribe(ctx)
	require.NoError(t, err)
	first := <-updates
	assert.Empty(t, first.Open())

	_, err = svc.Set(ctx, map[string]bool{"general-secretary": true})
	require.NoError(t, err)

	select {
	case next := <-updates:
		assert.True(t, next.IsOpen(domain.PositionGeneralSecretary))
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}

	cancel()
	select {
	case _, ok := <-updates:
		assert.False(t, ok, "channel closes when the subscriber leaves")
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

// pollOnly hides the memory store's Subscribe so the service must poll.
type pollOnly struct {
	mu   sync.Mutex
	open models.OpenPositions
	err  error
}

func (p *pollOnly) Get(context.Context) (models.OpenPositions, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open.Complete(), p.err
}

func (p *pollOnly) Set(_ context.Context, open models.OpenPositions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = open
	return nil
}

func TestSubscribePollsStoresWithoutPush(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := &pollOnly{open: models.OpenPositions{}}
	svc := New(store, WithLogger(discard), WithPollInterval(5*time.Millisecond))

	updates, err := svc.Subscribe(ctx)
	require.NoError(t, err)
	<-updates

	require.NoError(t, store.Set(ctx, models.OpenPositions{domain.PositionDeputyTreasurer: true}))
	select {
	case next := <-updates:
		assert.Equal(t, []domain.Position{domain.PositionDeputyTreasurer}, next.Open())
	case <-time.After(time.Second):
		t.Fatal("poll did not observe the change")
	}
}

func TestStoreOutageIsRetryable(t *testing.T) {
	svc := New(&pollOnly{err: errors.Join(errors.New("timeout"), sentinel.ErrUnavailable)}, WithLogger(discard))

	_, err := svc.IsOpen(context.Background(), domain.PositionPresident)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnavailable))
}
