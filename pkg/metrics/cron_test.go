package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronJobMetricsSplitsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	finished := time.Date(2026, 2, 9, 6, 0, 0, 0, time.UTC)

	m.ObserveRun("vendor-payouts", finished, 250*time.Millisecond, nil)
	m.ObserveRun("vendor-payouts", finished.Add(time.Hour), time.Second, errors.New("db down"))
	m.IncLockContended()
	m.IncLockContended()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	runs, err := findMetric(mfs, "courier_cron_job_runs_total", map[string]string{"job": "vendor-payouts", "outcome": "success"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), runs.GetCounter().GetValue())

	runs, err = findMetric(mfs, "courier_cron_job_runs_total", map[string]string{"job": "vendor-payouts", "outcome": "failure"})
	require.NoError(t, err)
	assert.Equal(t, float64(1), runs.GetCounter().GetValue())

	last, err := findMetric(mfs, "courier_cron_job_last_success_timestamp_seconds", map[string]string{"job": "vendor-payouts"})
	require.NoError(t, err)
	assert.Equal(t, float64(finished.Unix()), last.GetGauge().GetValue(), "failure must not move the success timestamp")

	hist, err := findMetric(mfs, "courier_cron_job_duration_seconds", map[string]string{"job": "vendor-payouts"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), hist.GetHistogram().GetSampleCount())
	assert.InDelta(t, 1.25, hist.GetHistogram().GetSampleSum(), 1e-9)

	contended, err := findMetric(mfs, "courier_cron_lock_contended_total", nil)
	require.NoError(t, err)
	assert.Equal(t, float64(2), contended.GetCounter().GetValue())
}

func TestCronJobMetricsLabelsUnnamedJobs(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCronJobMetrics(reg).ObserveRun("", time.Now(), time.Millisecond, nil)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	_, err = findMetric(mfs, "courier_cron_job_runs_total", map[string]string{"job": "unknown"})
	assert.NoError(t, err)
}
