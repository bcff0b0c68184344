package core

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"derivcore/pkg/domain"
)

// SimulationFunc computes the value of the target parameter from
// already-resolved inputs, keyed by parameter id. A simulation writing
// several parameters (a joint constraint solver) is invoked once per target.
// Implementations must be pure: no hidden mutation of global state, so the
// executor can replay them under Monte Carlo perturbation.
type SimulationFunc func(ctx context.Context, target string, inputs map[string]float64) (float64, error)

// Registry declares derivation relationships: formulas, simulations and
// whitelisted calibration pairs. It rejects dangling references at
// registration time but does not itself forbid cycles; that is the
// detector's job. The raw edge lists needed to build both graphs are
// exposed via Edges and FormulaEdges.
type Registry struct {
	mu          sync.RWMutex
	formulas    map[string]domain.Formula
	simulations map[string]domain.Simulation
	procedures  map[string]SimulationFunc
	pairs       map[string]domain.CalibrationPair
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		formulas:    make(map[string]domain.Formula),
		simulations: make(map[string]domain.Simulation),
		procedures:  make(map[string]SimulationFunc),
		pairs:       make(map[string]domain.CalibrationPair),
	}
}

// RegisterFormula adds a formula. Parent references must resolve to already
// registered formulas; a dangling parent fails with UnknownReferenceError.
func (r *Registry) RegisterFormula(f domain.Formula) error {
	if f.ID == "" {
		return fmt.Errorf("formula id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.formulas[f.ID]; exists {
		return fmt.Errorf("formula %q already registered", f.ID)
	}
	for _, parent := range f.ParentFormulas {
		if parent == f.ID {
			continue // self-reference is a cycle, reported by the detector
		}
		if _, ok := r.formulas[parent]; !ok {
			return domain.UnknownReferenceError{Kind: "formula", ID: f.ID, Ref: parent}
		}
	}
	r.formulas[f.ID] = cloneFormula(f)
	return nil
}

// registerFormulaUnchecked installs a formula without parent resolution.
// Used only for declared simultaneous-constraint systems whose members
// reference each other; the pair must then be whitelisted.
func (r *Registry) registerFormulaUnchecked(f domain.Formula) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.formulas[f.ID] = cloneFormula(f)
}

// RegisterConstraintSystem installs two mutually referencing formulas and
// the calibration pair whitelisting them in one step.
func (r *Registry) RegisterConstraintSystem(a, b domain.Formula, pair domain.CalibrationPair) error {
	if a.ID == "" || b.ID == "" || a.ID == b.ID {
		return fmt.Errorf("constraint system requires two distinct formulas")
	}
	if pair.EquationA != a.ID || pair.EquationB != b.ID {
		return fmt.Errorf("calibration pair %q must name both constraint equations", pair.ID)
	}
	r.registerFormulaUnchecked(a)
	r.registerFormulaUnchecked(b)
	return r.RegisterCalibrationPair(pair)
}

// RegisterSimulation binds a computation procedure to its declared reads and
// writes. The procedure is invoked once per written parameter.
func (r *Registry) RegisterSimulation(sim domain.Simulation, fn SimulationFunc) error {
	if sim.ID == "" {
		return fmt.Errorf("simulation id required")
	}
	if fn == nil {
		return fmt.Errorf("simulation %q requires a procedure", sim.ID)
	}
	if len(sim.Writes) == 0 {
		return fmt.Errorf("simulation %q writes nothing", sim.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.simulations[sim.ID]; exists {
		return fmt.Errorf("simulation %q already registered", sim.ID)
	}
	r.simulations[sim.ID] = cloneSimulation(sim)
	r.procedures[sim.ID] = fn
	return nil
}

// RegisterCalibrationPair whitelists a simultaneous-constraint system. Both
// equations must already be registered.
func (r *Registry) RegisterCalibrationPair(pair domain.CalibrationPair) error {
	if pair.ID == "" {
		return fmt.Errorf("calibration pair id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.formulas[pair.EquationA]; !ok {
		return domain.UnknownReferenceError{Kind: "calibration_pair", ID: pair.ID, Ref: pair.EquationA}
	}
	if _, ok := r.formulas[pair.EquationB]; !ok {
		return domain.UnknownReferenceError{Kind: "calibration_pair", ID: pair.ID, Ref: pair.EquationB}
	}
	r.pairs[pair.ID] = pair
	return nil
}

// Formula retrieves a registered formula.
func (r *Registry) Formula(id string) (domain.Formula, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.formulas[id]
	if !ok {
		return domain.Formula{}, false
	}
	return cloneFormula(f), true
}

// Formulas returns all formulas ordered by id.
func (r *Registry) Formulas() []domain.Formula {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Formula, 0, len(r.formulas))
	for _, f := range r.formulas {
		out = append(out, cloneFormula(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Simulation retrieves a registered simulation declaration.
func (r *Registry) Simulation(id string) (domain.Simulation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.simulations[id]
	if !ok {
		return domain.Simulation{}, false
	}
	return cloneSimulation(s), true
}

// Simulations returns all simulation declarations ordered by id.
func (r *Registry) Simulations() []domain.Simulation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Simulation, 0, len(r.simulations))
	for _, s := range r.simulations {
		out = append(out, cloneSimulation(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Procedure returns the computation procedure bound to a simulation.
func (r *Registry) Procedure(id string) (SimulationFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.procedures[id]
	return fn, ok
}

// CalibrationPairs returns the whitelisted simultaneous-constraint systems
// ordered by id.
func (r *Registry) CalibrationPairs() []domain.CalibrationPair {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.CalibrationPair, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TransitiveDependencies returns the closure of ancestor formulas for the
// given formula id, ordered by id.
func (r *Registry) TransitiveDependencies(id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.formulas[id]; !ok {
		return nil, domain.UnknownReferenceError{Kind: "formula", ID: id, Ref: id}
	}
	seen := make(map[string]struct{})
	stack := append([]string(nil), r.formulas[id].ParentFormulas...)
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, done := seen[next]; done || next == id {
			continue
		}
		seen[next] = struct{}{}
		if f, ok := r.formulas[next]; ok {
			stack = append(stack, f.ParentFormulas...)
		}
	}
	out := make([]string, 0, len(seen))
	for dep := range seen {
		out = append(out, dep)
	}
	sort.Strings(out)
	return out, nil
}

// Edges returns the parameter-level dependency edges derived from simulation
// declarations: each written parameter depends on every read parameter.
func (r *Registry) Edges() []domain.DerivationEdge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var edges []domain.DerivationEdge
	for _, sim := range r.simulations {
		for _, w := range sim.Writes {
			for _, rd := range sim.Reads {
				edges = append(edges, domain.DerivationEdge{From: rd, To: w})
			}
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

// FormulaEdges returns the formula-level dependency edges: each formula
// depends on its declared parents.
func (r *Registry) FormulaEdges() []domain.DerivationEdge {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var edges []domain.DerivationEdge
	for _, f := range r.formulas {
		for _, parent := range f.ParentFormulas {
			edges = append(edges, domain.DerivationEdge{From: parent, To: f.ID})
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

func cloneFormula(f domain.Formula) domain.Formula {
	cp := f
	cp.ParentFormulas = append([]string(nil), f.ParentFormulas...)
	cp.EstablishedPhysics = append([]string(nil), f.EstablishedPhysics...)
	cp.Steps = append([]string(nil), f.Steps...)
	return cp
}

func cloneSimulation(s domain.Simulation) domain.Simulation {
	cp := s
	cp.Reads = append([]string(nil), s.Reads...)
	cp.Writes = append([]string(nil), s.Writes...)
	return cp
}
