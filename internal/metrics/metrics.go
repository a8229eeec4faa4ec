// Package metrics holds the Prometheus collectors for job outcomes and
// in-flight work. A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "queuectl"

// Failure outcomes for the jobs_failed_total counter.
const (
	OutcomeRetry = "retry"
	OutcomeDead  = "dead"
)

// Metrics groups the collectors recorded by workers and the sweeper.
type Metrics struct {
	claimed   prometheus.Counter
	completed prometheus.Counter
	failed    *prometheus.CounterVec
	recovered prometheus.Counter
	active    prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		claimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_claimed_total",
			Help:      "Jobs claimed by workers in this process.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Jobs whose command exited successfully.",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_failed_total",
			Help:      "Failed executions, by whether the job was rescheduled or moved to the DLQ.",
		}, []string{"outcome"}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_claims_recovered_total",
			Help:      "Processing jobs returned to pending after their claim lease expired.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Jobs currently executing in this process.",
		}),
	}
	reg.MustRegister(m.claimed, m.completed, m.failed, m.recovered, m.active)
	return m
}

func (m *Metrics) Claimed(n int) {
	if m == nil {
		return
	}
	m.claimed.Add(float64(n))
}

func (m *Metrics) Completed() {
	if m == nil {
		return
	}
	m.completed.Inc()
}

func (m *Metrics) Failed(outcome string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Recovered(n int) {
	if m == nil {
		return
	}
	m.recovered.Add(float64(n))
}

// JobStarted and JobFinished bracket one execution.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) JobFinished() {
	if m == nil {
		return
	}
	m.active.Dec()
}
