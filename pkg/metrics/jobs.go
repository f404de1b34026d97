package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK    = "ok"
	resultError = "error"
)

// JobMetrics times cron jobs. Every run lands in both series, labelled by
// job name and ok/error.
type JobMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
}

func NewJobMetrics(reg prometheus.Registerer) *JobMetrics {
	if reg == nil {
		return &JobMetrics{}
	}
	m := &JobMetrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pools_cron_job_duration_seconds",
			Help:    "Cron job wall time.",
			Buckets: []float64{.05, .25, 1, 5, 15, 60, 300},
		}, []string{"job", "result"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pools_cron_job_runs_total",
			Help: "Cron job runs by result.",
		}, []string{"job", "result"}),
	}
	reg.MustRegister(m.duration, m.runs)
	return m
}

// Observe records one run of job. A nil err counts as ok.
func (m *JobMetrics) Observe(job string, took time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	result := resultOK
	if err != nil {
		result = resultError
	}
	job = normalizeLabel(job)
	m.duration.WithLabelValues(job, result).Observe(took.Seconds())
	m.runs.WithLabelValues(job, result).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
