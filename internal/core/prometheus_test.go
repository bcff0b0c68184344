package core

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"derivcore/pkg/domain"
)

func TestPrometheusRecorderObservesPipeline(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	r, store := chainFixture(t)
	exec := NewExecutor(r, ExecutorConfig{Workers: 2, Logger: quietLogger(), Metrics: rec})
	if _, err := exec.ExecutePipeline(context.Background(), store); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if got := testutil.ToFloat64(rec.runTotal.WithLabelValues("complete")); got != 1 {
		t.Fatalf("runs_total{outcome=complete} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.runTotal.WithLabelValues("partial")); got != 0 {
		t.Fatalf("runs_total{outcome=partial} = %v, want 0", got)
	}
	if got := testutil.ToFloat64(rec.paramTotal.WithLabelValues(string(domain.StateResolved))); got != 2 {
		t.Fatalf("parameters_total{state=resolved} = %v, want 2", got)
	}
}

func TestPrometheusRecorderRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusMetricsRecorder(reg); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}
