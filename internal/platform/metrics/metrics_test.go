package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())

	m.IncBallotsRecorded()
	m.IncBallotsRecorded()
	m.IncBallotsRejected("already_voted")
	m.SetTallyDrift(3)
	m.ObserveSubmit(time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BallotsRecorded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BallotsRejected.WithLabelValues("already_voted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TallyDrift))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IncBallotsRecorded()
		m.IncPartialCommits()
		m.ObserveResults(time.Now())
		m.ObserveHTTP("GET", "/results", "200", time.Now())
	})
}
