package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records API latency by chi route pattern, so path parameters
// never become label values.
type HTTPMetrics struct {
	latency *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		return &HTTPMetrics{}
	}
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pools_http_request_duration_seconds",
		Help:    "API request latency by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
	reg.MustRegister(latency)
	return &HTTPMetrics{latency: latency}
}

func (m *HTTPMetrics) Observe(method, route string, status int, took time.Duration) {
	if m == nil || m.latency == nil {
		return
	}
	m.latency.WithLabelValues(method, normalizeLabel(route), strconv.Itoa(status)).Observe(took.Seconds())
}
