package core

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"derivcore/pkg/domain"
)

// MetricsRecorder observes pipeline executions. Implementations must be
// safe for concurrent use; the executor reports from worker goroutines.
type MetricsRecorder interface {
	// ObserveParameter records the terminal state and duration of one
	// parameter computation.
	ObserveParameter(state domain.RunState, d time.Duration)
	// ObserveRun records a completed pipeline pass.
	ObserveRun(d time.Duration, partial bool)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) ObserveParameter(domain.RunState, time.Duration) {}
func (NopMetrics) ObserveRun(time.Duration, bool)                  {}

var expvarSeq uint64

// ExpvarMetricsRecorder publishes aggregate timing and state counters via
// expvar for deployments that prefer process-local metrics without external
// dependencies. Totals are kept in milliseconds.
type ExpvarMetricsRecorder struct {
	name        string
	mu          sync.Mutex
	paramMS     map[domain.RunState]float64
	paramCounts map[domain.RunState]int64
	runMS       float64
	runs        int64
	partialRuns int64
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	ParameterMS     map[domain.RunState]float64 `json:"parameter_ms_total"`
	ParameterCounts map[domain.RunState]int64   `json:"parameters_total"`
	RunMS           float64                     `json:"run_ms_total"`
	Runs            int64                       `json:"runs_total"`
	PartialRuns     int64                       `json:"partial_runs_total"`
	RecordedAt      time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder and
// publishes it under the supplied name. When name is empty, a unique
// identifier is generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("derivcore_pipeline_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:        name,
		paramMS:     make(map[domain.RunState]float64),
		paramCounts: make(map[domain.RunState]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// ObserveParameter implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) ObserveParameter(state domain.RunState, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paramMS[state] += float64(d.Milliseconds())
	r.paramCounts[state]++
}

// ObserveRun implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) ObserveRun(d time.Duration, partial bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runMS += float64(d.Milliseconds())
	r.runs++
	if partial {
		r.partialRuns++
	}
}

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	paramMS := make(map[domain.RunState]float64, len(r.paramMS))
	for state, total := range r.paramMS {
		paramMS[state] = total
	}
	counts := make(map[domain.RunState]int64, len(r.paramCounts))
	for state, count := range r.paramCounts {
		counts[state] = count
	}
	return ExpvarMetricsSnapshot{
		ParameterMS:     paramMS,
		ParameterCounts: counts,
		RunMS:           r.runMS,
		Runs:            r.runs,
		PartialRuns:     r.partialRuns,
		RecordedAt:      time.Now().UTC(),
	}
}
