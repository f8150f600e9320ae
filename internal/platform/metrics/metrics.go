package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	NominationsCreated  prometheus.Counter
	NominationDecisions *prometheus.CounterVec
	BallotsRecorded     prometheus.Counter
	BallotsRejected     *prometheus.CounterVec
	PartialCommits      prometheus.Counter
	SubmitRetries       prometheus.Counter
	SubmitDuration      prometheus.Histogram
	ResultsDuration     prometheus.Histogram
	TallyDrift          prometheus.Gauge
	TallyRepairs        prometheus.Counter
	SettingsUpdates     prometheus.Counter
	HTTPDuration        *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers on reg; tests pass a fresh prometheus.NewRegistry().
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		NominationsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "hustings_nominations_created_total",
			Help: "Nominations accepted at intake",
		}),
		NominationDecisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hustings_nomination_decisions_total",
			Help: "Admin status changes and nominee acceptance decisions",
		}, []string{"kind", "value"}),
		BallotsRecorded: f.NewCounter(prometheus.CounterOpts{
			Name: "hustings_ballots_recorded_total",
			Help: "Ballots committed to the ledger",
		}),
		BallotsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hustings_ballots_rejected_total",
			Help: "Ballot submissions refused, by reason",
		}, []string{"reason"}),
		PartialCommits: f.NewCounter(prometheus.CounterOpts{
			Name: "hustings_ballot_partial_commits_total",
			Help: "Ballots persisted with counter increments still outstanding",
		}),
		SubmitRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "hustings_ballot_submit_retries_total",
			Help: "Ledger commits retried after a transient failure",
		}),
		SubmitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hustings_ballot_submit_duration_seconds",
			Help:    "Time spent committing a ballot",
			Buckets: prometheus.DefBuckets,
		}),
		ResultsDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hustings_results_duration_seconds",
			Help:    "Time spent computing results",
			Buckets: prometheus.DefBuckets,
		}),
		TallyDrift: f.NewGauge(prometheus.GaugeOpts{
			Name: "hustings_tally_drift_candidates",
			Help: "Candidates whose counter disagreed with the ballot log at the last reconciliation",
		}),
		TallyRepairs: f.NewCounter(prometheus.CounterOpts{
			Name: "hustings_tally_repairs_total",
			Help: "Counters overwritten by reconciliation",
		}),
		SettingsUpdates: f.NewCounter(prometheus.CounterOpts{
			Name: "hustings_voting_settings_updates_total",
			Help: "Admin changes to open positions",
		}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hustings_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) IncNominationsCreated() {
	if m == nil {
		return
	}
	m.NominationsCreated.Inc()
}

func (m *Metrics) IncNominationDecision(kind, value string) {
	if m == nil {
		return
	}
	m.NominationDecisions.WithLabelValues(kind, value).Inc()
}

func (m *Metrics) IncBallotsRecorded() {
	if m == nil {
		return
	}
	m.BallotsRecorded.Inc()
}

func (m *Metrics) IncBallotsRejected(reason string) {
	if m == nil {
		return
	}
	m.BallotsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncPartialCommits() {
	if m == nil {
		return
	}
	m.PartialCommits.Inc()
}

func (m *Metrics) IncSubmitRetries() {
	if m == nil {
		return
	}
	m.SubmitRetries.Inc()
}

func (m *Metrics) ObserveSubmit(start time.Time) {
	if m == nil {
		return
	}
	m.SubmitDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveResults(start time.Time) {
	if m == nil {
		return
	}
	m.ResultsDuration.Observe(time.Since(start).Seconds())
}

// SetTallyDrift records the drift count from the latest reconciliation.
func (m *Metrics) SetTallyDrift(n int) {
	if m == nil {
		return
	}
	m.TallyDrift.Set(float64(n))
}

func (m *Metrics) AddTallyRepairs(n int) {
	if m == nil {
		return
	}
	m.TallyRepairs.Add(float64(n))
}

func (m *Metrics) IncSettingsUpdates() {
	if m == nil {
		return
	}
	m.SettingsUpdates.Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, start time.Time) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
}
