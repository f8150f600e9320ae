package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "hustings/pkg/platform/audit"
	"hustings/pkg/platform/audit/store/memory"
	"hustings/pkg/platform/circuit"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	f.records = append(f.records, rs...)
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func TestEmit(t *testing.T) {
	t.Run("keys by subject with type headers", func(t *testing.T) {
		fp := &fakeProducer{}
		p := New(fp, "hustings.audit")
		require.NoError(t, p.Emit(context.Background(), audit.Event{
			ID:      "evt-1",
			Type:    audit.EventBallotRecorded,
			Subject: "ballot-7",
		}))

		require.Len(t, fp.records, 1)
		rec := fp.records[0]
		assert.Equal(t, "hustings.audit", rec.Topic)
		assert.Equal(t, "ballot-7", string(rec.Key))
		assert.Equal(t, "ballot_recorded", string(rec.Headers[0].Value))
		assert.Equal(t, "compliance", string(rec.Headers[1].Value))

		var decoded audit.Event
		require.NoError(t, json.Unmarshal(rec.Value, &decoded))
		assert.Equal(t, "evt-1", decoded.ID)
	})

	t.Run("broker error surfaces", func(t *testing.T) {
		fp := &fakeProducer{err: errors.New("not leader")}
		err := New(fp, "t").Emit(context.Background(), audit.Event{Type: audit.EventTallyRepaired, Subject: "x"})
		assert.ErrorContains(t, err, "not leader")
	})
}

// Justification: a dead broker must not fail every audited request once the
// breaker has tripped; events go to the fallback until the broker answers.
func TestEmitFallsBackWhileBreakerOpen(t *testing.T) {
	ctx := context.Background()
	fp := &fakeProducer{err: errors.New("broker down")}
	fallback := memory.NewInMemoryStore()
	breaker := circuit.New("audit-kafka", circuit.WithFailureThreshold(2))
	p := New(fp, "t", WithFallback(fallback, breaker))
	event := audit.Event{Type: audit.EventTallyRepaired, Subject: "tally"}

	assert.Error(t, p.Emit(ctx, event), "below threshold the error surfaces")
	require.NoError(t, p.Emit(ctx, event))
	assert.True(t, breaker.IsOpen())
	require.NoError(t, p.Emit(ctx, event))

	stored, err := fallback.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	fp.err = nil
	require.NoError(t, p.Emit(ctx, event))
	assert.False(t, breaker.IsOpen())
	assert.Len(t, fp.records, 4)
}
