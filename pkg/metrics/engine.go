package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics counts pool, run and settlement operations by outcome.
type EngineMetrics struct {
	operations  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	dispatch    *prometheus.CounterVec
}

// NewEngineMetrics registers the engine counters on the provided registerer.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return &EngineMetrics{}
	}
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pools_engine_operations_total",
		Help: "Engine operations by aggregate, operation and outcome reason.",
	}, []string{"aggregate", "operation", "outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pools_engine_status_transitions_total",
		Help: "Aggregate status transitions.",
	}, []string{"aggregate", "status"})
	dispatch := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pools_engine_dispatch_failures_total",
		Help: "Follow-up writes that failed after a committed transition.",
	}, []string{"aggregate", "step"})
	reg.MustRegister(operations, transitions, dispatch)
	return &EngineMetrics{operations: operations, transitions: transitions, dispatch: dispatch}
}

// ObserveOperation records one operation; outcome is "ok" or the rejection reason.
func (m *EngineMetrics) ObserveOperation(aggregate, operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	if outcome == "" {
		outcome = "error"
	}
	m.operations.WithLabelValues(normalizeLabel(aggregate), normalizeLabel(operation), outcome).Inc()
}

func (m *EngineMetrics) ObserveTransition(aggregate, status string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(aggregate), normalizeLabel(status)).Inc()
}

// ObserveDispatchFailure counts a post-commit step, such as recording dues, that failed.
func (m *EngineMetrics) ObserveDispatchFailure(aggregate, step string) {
	if m == nil || m.dispatch == nil {
		return
	}
	m.dispatch.WithLabelValues(normalizeLabel(aggregate), normalizeLabel(step)).Inc()
}
