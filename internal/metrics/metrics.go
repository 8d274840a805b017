// Package metrics holds the Prometheus instruments shared by the engine and
// the aggregator.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Digest triggers
const (
	TriggerFirstOccurrence = "first_occurrence"
	TriggerPeriodic        = "periodic"
)

// Metrics holds Prometheus metrics for alert handling. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	NoticesTotal     *prometheus.CounterVec
	DismissalsTotal  *prometheus.CounterVec
	DigestsTotal     *prometheus.CounterVec
	StoreErrorsTotal *prometheus.CounterVec
	LockWait         prometheus.Histogram
}

// New registers and returns alerting metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		NoticesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertd_notices_total",
			Help: "Notices handled by outcome (created, squashed, rejected).",
		}, []string{"outcome"}),
		DismissalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertd_dismissals_total",
			Help: "Dismiss commands by outcome (dismissed, unknown, anonymous, already_dismissed).",
		}, []string{"outcome"}),
		DigestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertd_digests_total",
			Help: "Digests handed to the bus by trigger (first_occurrence, periodic).",
		}, []string{"trigger"}),
		StoreErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alertd_store_errors_total",
			Help: "Alert store failures by operation.",
		}, []string{"op"}),
		LockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alertd_engine_lock_wait_seconds",
			Help:    "Time spent waiting for the engine critical section.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us .. ~26s
		}),
	}

	reg.MustRegister(
		m.NoticesTotal,
		m.DismissalsTotal,
		m.DigestsTotal,
		m.StoreErrorsTotal,
		m.LockWait,
	)

	return m
}

// Notice counts a handled notice by outcome
func (m *Metrics) Notice(outcome string) {
	if m != nil {
		m.NoticesTotal.WithLabelValues(outcome).Inc()
	}
}

// Dismissal counts a dismiss command by outcome
func (m *Metrics) Dismissal(outcome string) {
	if m != nil {
		m.DismissalsTotal.WithLabelValues(outcome).Inc()
	}
}

// Digest counts a digest handed to the publisher
func (m *Metrics) Digest(trigger string) {
	if m != nil {
		m.DigestsTotal.WithLabelValues(trigger).Inc()
	}
}

// StoreError counts a failed store call
func (m *Metrics) StoreError(op string) {
	if m != nil {
		m.StoreErrorsTotal.WithLabelValues(op).Inc()
	}
}

// ObserveLockWait records time spent waiting for the engine lock
func (m *Metrics) ObserveLockWait(seconds float64) {
	if m != nil {
		m.LockWait.Observe(seconds)
	}
}
