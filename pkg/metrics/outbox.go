package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts outbox rows by delivery result.
type OutboxMetrics struct {
	results *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	results := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pools_outbox_deliveries_total",
		Help: "Outbox rows handled by the publisher, by event type and result.",
	}, []string{"event_type", "result"})
	reg.MustRegister(results)
	return &OutboxMetrics{results: results}
}

// Observe records one delivery; result is published, retry or dead_lettered.
func (m *OutboxMetrics) Observe(eventType, result string) {
	if m == nil || m.results == nil {
		return
	}
	m.results.WithLabelValues(normalizeLabel(eventType), result).Inc()
}
