package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"derivcore/pkg/domain"
)

// PrometheusMetricsRecorder exports pipeline metrics through a prometheus
// registry. It fulfills MetricsRecorder for deployments scraping metrics.
type PrometheusMetricsRecorder struct {
	paramDuration *prometheus.HistogramVec
	paramTotal    *prometheus.CounterVec
	runDuration   prometheus.Histogram
	runTotal      *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder constructs and registers the pipeline
// collectors against the supplied registerer (prometheus.DefaultRegisterer
// when nil).
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusMetricsRecorder{
		paramDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "derivcore",
			Name:      "parameter_duration_seconds",
			Help:      "Time spent computing each parameter.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"state"}),
		paramTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "derivcore",
			Name:      "parameters_total",
			Help:      "Parameter computations by terminal state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "derivcore",
			Name:      "run_duration_seconds",
			Help:      "Total pipeline execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "derivcore",
			Name:      "runs_total",
			Help:      "Pipeline runs by completeness.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{rec.paramDuration, rec.paramTotal, rec.runDuration, rec.runTotal} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return rec, nil
}

// ObserveParameter implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) ObserveParameter(state domain.RunState, d time.Duration) {
	r.paramDuration.WithLabelValues(string(state)).Observe(d.Seconds())
	r.paramTotal.WithLabelValues(string(state)).Inc()
}

// ObserveRun implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) ObserveRun(d time.Duration, partial bool) {
	r.runDuration.Observe(d.Seconds())
	outcome := "complete"
	if partial {
		outcome = "partial"
	}
	r.runTotal.WithLabelValues(outcome).Inc()
}
