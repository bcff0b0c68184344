package core

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"derivcore/pkg/domain"
)

// notePrefixUnavailable marks parameters skipped because a declared
// dependency errored. The validator reports these as CHECK, never as a
// failure of the parameter itself.
const notePrefixUnavailable = "input unavailable: "

// Executor runs registered simulations in dependency order. Per-parameter
// failures are recorded locally; the run continues over independent
// subgraphs.
type Executor struct {
	registry *Registry
	logger   *slog.Logger
	metrics  MetricsRecorder
	workers  int
}

// ExecutorConfig carries optional executor settings.
type ExecutorConfig struct {
	// Workers bounds how many independent parameters compute concurrently.
	// Zero or negative means sequential execution.
	Workers int
	Logger  *slog.Logger
	Metrics MetricsRecorder
}

// NewExecutor constructs an executor over the supplied registry.
func NewExecutor(registry *Registry, cfg ExecutorConfig) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &Executor{registry: registry, logger: logger, metrics: metrics, workers: workers}
}

// RunReport summarizes one pipeline execution.
type RunReport struct {
	RunID      string                     `json:"run_id"`
	PartialRun bool                       `json:"partial_run,omitempty"`
	States     map[string]domain.RunState `json:"states"`
	Notes      map[string]string          `json:"notes,omitempty"`
	Started    time.Time                  `json:"started"`
	Finished   time.Time                  `json:"finished"`
}

type pipelinePlan struct {
	deps       map[string][]string
	dependents map[string][]string
	writer     map[string]string
	indegree   map[string]int
	pending    int
}

// ExecutePipeline computes every non-input parameter in topological order.
// Structural defects (dangling references, parameter-level cycles) abort
// before any computation with a GraphError. Computation failures are local:
// the owning parameter ends in StateError and its dependents are skipped
// with an "input unavailable" note.
func (e *Executor) ExecutePipeline(ctx context.Context, store *ValueStore) (RunReport, error) {
	plan, err := e.plan(store)
	if err != nil {
		return RunReport{}, err
	}

	store.resetRun()
	report := RunReport{RunID: uuid.NewString(), Started: time.Now().UTC()}
	e.logger.Info("pipeline start", "run_id", report.RunID, "parameters", plan.pending, "workers", e.workers)

	indegree := make(map[string]int, len(plan.indegree))
	for k, v := range plan.indegree {
		indegree[k] = v
	}
	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	doneCh := make(chan string)
	pending := plan.pending
	running := 0
	cancelled := false

	handleDone := func(id string) {
		running--
		pending--
		for _, dep := range plan.dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	for pending > 0 {
		for !cancelled && len(ready) > 0 && running < e.workers {
			id := ready[0]
			ready = ready[1:]
			running++
			go func(id string) {
				e.compute(ctx, store, plan, id)
				doneCh <- id
			}(id)
		}
		if running == 0 {
			// Either cancelled with nothing in flight, or the plan was
			// exhausted; a validated acyclic plan cannot stall otherwise.
			break
		}
		if cancelled {
			handleDone(<-doneCh)
			continue
		}
		select {
		case <-ctx.Done():
			cancelled = true
			e.logger.Warn("pipeline cancelled, draining in-flight parameters", "run_id", report.RunID)
		case id := <-doneCh:
			handleDone(id)
		}
	}

	report.PartialRun = cancelled && pending > 0
	report.Finished = time.Now().UTC()
	report.States = make(map[string]domain.RunState)
	report.Notes = make(map[string]string)
	for _, p := range store.List() {
		st, _ := store.State(p.ID)
		report.States[p.ID] = st
		if note := store.Note(p.ID); note != "" {
			report.Notes[p.ID] = note
		}
	}
	e.metrics.ObserveRun(report.Finished.Sub(report.Started), report.PartialRun)
	e.logger.Info("pipeline finished", "run_id", report.RunID, "partial", report.PartialRun)
	return report, nil
}

// plan validates the parameter graph and precomputes the schedule. All
// structural findings are aggregated into a single GraphError so one broken
// declaration does not hide the rest.
func (e *Executor) plan(store *ValueStore) (*pipelinePlan, error) {
	plan := &pipelinePlan{
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
		writer:     make(map[string]string),
		indegree:   make(map[string]int),
	}
	var findings domain.Result

	declared := make(map[string]domain.Parameter)
	for _, p := range store.List() {
		declared[p.ID] = p
	}

	for _, sim := range e.registry.Simulations() {
		for _, rd := range sim.Reads {
			if _, ok := declared[rd]; !ok {
				findings.Findings = append(findings.Findings, domain.Finding{
					Code:         domain.CodeMissingParameter,
					Severity:     domain.SeverityBlock,
					Message:      fmt.Sprintf("simulation %s reads undeclared parameter %s", sim.ID, rd),
					ParameterIDs: []string{rd},
				})
			}
		}
		for _, w := range sim.Writes {
			if _, ok := declared[w]; !ok {
				findings.Findings = append(findings.Findings, domain.Finding{
					Code:         domain.CodeMissingParameter,
					Severity:     domain.SeverityBlock,
					Message:      fmt.Sprintf("simulation %s writes undeclared parameter %s", sim.ID, w),
					ParameterIDs: []string{w},
				})
				continue
			}
			if prev, dup := plan.writer[w]; dup {
				findings.Findings = append(findings.Findings, domain.Finding{
					Code:         domain.CodeStatusMismatch,
					Severity:     domain.SeverityBlock,
					Message:      fmt.Sprintf("parameter %s written by both %s and %s", w, prev, sim.ID),
					ParameterIDs: []string{w},
				})
				continue
			}
			plan.writer[w] = sim.ID
		}
	}

	for id, p := range declared {
		if p.Status == domain.StatusInput {
			continue
		}
		simID, ok := plan.writer[id]
		if !ok {
			findings.Findings = append(findings.Findings, domain.Finding{
				Code:         domain.CodeMissingParameter,
				Severity:     domain.SeverityBlock,
				Message:      fmt.Sprintf("no simulation writes parameter %s", id),
				ParameterIDs: []string{id},
			})
			continue
		}
		sim, _ := e.registry.Simulation(simID)
		plan.deps[id] = append([]string(nil), sim.Reads...)
		plan.pending++
		for _, rd := range sim.Reads {
			if dp, ok := declared[rd]; ok && dp.Status != domain.StatusInput {
				plan.indegree[id]++
			}
			plan.dependents[rd] = append(plan.dependents[rd], id)
		}
		if _, ok := plan.indegree[id]; !ok {
			plan.indegree[id] = 0
		}
	}

	if cyclic := kahnResidue(plan); len(cyclic) > 0 {
		findings.Findings = append(findings.Findings, domain.Finding{
			Code:         domain.CodeCircularDependency,
			Severity:     domain.SeverityBlock,
			Message:      fmt.Sprintf("parameter dependency cycle: %v", cyclic),
			ParameterIDs: cyclic,
		})
	}

	if findings.HasBlocking() {
		return nil, domain.GraphError{Result: findings}
	}
	return plan, nil
}

// kahnResidue runs Kahn's algorithm over the planned parameter graph and
// returns the ids left with positive indegree, i.e. cycle members.
func kahnResidue(plan *pipelinePlan) []string {
	indegree := make(map[string]int, len(plan.indegree))
	var queue []string
	for id, deg := range plan.indegree {
		indegree[id] = deg
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, dep := range plan.dependents[id] {
			if _, planned := indegree[dep]; !planned {
				continue
			}
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if processed == plan.pending {
		return nil
	}
	var cyclic []string
	for id, deg := range indegree {
		if deg > 0 {
			cyclic = append(cyclic, id)
		}
	}
	sort.Strings(cyclic)
	return cyclic
}

// compute resolves a single parameter. Panics and errors inside the
// procedure are converted to per-parameter result values; they never abort
// the run.
func (e *Executor) compute(ctx context.Context, store *ValueStore, plan *pipelinePlan, id string) {
	start := time.Now()
	for _, dep := range plan.deps[id] {
		if st, _ := store.State(dep); st == domain.StateError {
			store.setError(id, notePrefixUnavailable+dep)
			e.metrics.ObserveParameter(domain.StateError, time.Since(start))
			return
		}
	}

	store.setComputing(id)
	inputs := make(map[string]float64, len(plan.deps[id]))
	for _, dep := range plan.deps[id] {
		p, _ := store.Get(dep)
		inputs[dep] = p.Value
	}

	fn, ok := e.registry.Procedure(plan.writer[id])
	if !ok {
		store.setError(id, fmt.Sprintf("simulation %s has no procedure", plan.writer[id]))
		e.metrics.ObserveParameter(domain.StateError, time.Since(start))
		return
	}

	value, err := invokeProcedure(ctx, fn, id, inputs)
	switch {
	case err != nil:
		cerr := domain.ComputationError{ParameterID: id, Err: err}
		store.setError(id, cerr.Error())
		e.logger.Warn("parameter errored", "parameter", id, "error", err)
		e.metrics.ObserveParameter(domain.StateError, time.Since(start))
	case math.IsNaN(value) || math.IsInf(value, 0):
		cerr := domain.ComputationError{ParameterID: id, Err: fmt.Errorf("non-representable result %v", value)}
		store.setError(id, cerr.Error())
		e.logger.Warn("parameter errored", "parameter", id, "error", cerr.Err)
		e.metrics.ObserveParameter(domain.StateError, time.Since(start))
	default:
		store.setResolved(id, value)
		e.metrics.ObserveParameter(domain.StateResolved, time.Since(start))
	}
}

func invokeProcedure(ctx context.Context, fn SimulationFunc, target string, inputs map[string]float64) (value float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, target, inputs)
}
