package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarson/queuectl/internal/metrics"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.Claimed(3)
	m.Completed()
	m.Failed(metrics.OutcomeRetry)
	m.Failed(metrics.OutcomeRetry)
	m.Failed(metrics.OutcomeDead)
	m.Recovered(2)
	m.JobStarted()
	m.JobStarted()
	m.JobFinished()

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			name := f.GetName()
			for _, lp := range metric.GetLabel() {
				name += "/" + lp.GetValue()
			}
			switch {
			case metric.GetCounter() != nil:
				values[name] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[name] = metric.GetGauge().GetValue()
			}
		}
	}

	assert.Equal(t, 3.0, values["queuectl_jobs_claimed_total"])
	assert.Equal(t, 1.0, values["queuectl_jobs_completed_total"])
	assert.Equal(t, 2.0, values["queuectl_jobs_failed_total/retry"])
	assert.Equal(t, 1.0, values["queuectl_jobs_failed_total/dead"])
	assert.Equal(t, 2.0, values["queuectl_stale_claims_recovered_total"])
	assert.Equal(t, 1.0, values["queuectl_active_jobs"])
	assert.Len(t, families, 5)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.Claimed(1)
		m.Completed()
		m.Failed(metrics.OutcomeDead)
		m.Recovered(1)
		m.JobStarted()
		m.JobFinished()
	})
}
