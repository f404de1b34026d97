package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestJobMetricsSplitsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	jobs := NewJobMetrics(reg)
	jobs.Observe("pool-deadline", 250*time.Millisecond, nil)
	jobs.Observe("pool-deadline", 100*time.Millisecond, nil)
	jobs.Observe("outbox-retention", time.Second, errors.New("db down"))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "pools_cron_job_runs_total", "job", "pool-deadline"); err != nil || got != 2 {
		t.Fatalf("expected two pool-deadline runs, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "pools_cron_job_runs_total", "result", resultError); err != nil || got != 1 {
		t.Fatalf("expected one failed run, got %f err=%v", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "pools_cron_job_duration_seconds", "job", "outbox-retention"); err != nil || got != 1 {
		t.Fatalf("expected 1s of retention time, got %f err=%v", got, err)
	}
}

func TestHTTPMetricsUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	httpMetrics := NewHTTPMetrics(reg)
	httpMetrics.Observe("POST", "/api/v1/pools/{poolId}/join", 409, 20*time.Millisecond)
	httpMetrics.Observe("GET", "", 404, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if _, err := fetchHistogramSum(mfs, "pools_http_request_duration_seconds", "route", "/api/v1/pools/{poolId}/join"); err != nil {
		t.Fatal(err)
	}
	if _, err := fetchHistogramSum(mfs, "pools_http_request_duration_seconds", "route", "unknown"); err != nil {
		t.Fatal(err)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var jobs *JobMetrics
	jobs.Observe("x", time.Second, nil)
	NewJobMetrics(nil).Observe("x", time.Second, nil)
	NewHTTPMetrics(nil).Observe("GET", "/", 200, time.Second)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}

func TestEngineMetricsCountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	engine := NewEngineMetrics(reg)
	engine.ObserveOperation("pool", "join", "ok")
	engine.ObserveOperation("pool", "join", "POOL_FULL")
	engine.ObserveOperation("pool", "join", "POOL_FULL")
	engine.ObserveTransition("pool", "confirmed")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	mf := findMetricFamily(mfs, "pools_engine_operations_total")
	if mf == nil {
		t.Fatalf("operations metric missing")
	}
	var full float64
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), "outcome", "POOL_FULL") {
			full = metric.GetCounter().GetValue()
		}
	}
	if full != 2 {
		t.Fatalf("expected 2 POOL_FULL outcomes, got %f", full)
	}
	if got, err := fetchCounterValue(mfs, "pools_engine_status_transitions_total", "status", "confirmed"); err != nil || got != 1 {
		t.Fatalf("expected one confirmed transition, got %f err=%v", got, err)
	}
}

func TestEngineMetricsCountsDispatchFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	engine := NewEngineMetrics(reg)
	engine.ObserveDispatchFailure("pool", "record_dues")
	engine.ObserveDispatchFailure("run", "record_dues")
	engine.ObserveDispatchFailure("run", "record_dues")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "pools_engine_dispatch_failures_total", "aggregate", "run"); err != nil || got != 2 {
		t.Fatalf("expected two run dispatch failures, got %f err=%v", got, err)
	}
}

func TestEngineMetricsNilSafe(t *testing.T) {
	var engine *EngineMetrics
	engine.ObserveOperation("pool", "join", "ok")
	engine.ObserveDispatchFailure("pool", "record_dues")
	NewEngineMetrics(nil).ObserveTransition("run", "completed")
}
