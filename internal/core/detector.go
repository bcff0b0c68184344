package core

import (
	"fmt"
	"sort"

	"derivcore/pkg/domain"
)

// Detector validates the formula graph and flags disguised circular
// derivations before a run is allowed to start.
type Detector struct {
	registry *Registry
}

// NewDetector constructs a detector over the supplied registry.
func NewDetector(registry *Registry) *Detector {
	return &Detector{registry: registry}
}

// Check runs every structural and consistency check and aggregates the
// findings. Callers abort the run when the result has blocking findings.
func (d *Detector) Check(store *ValueStore) domain.Result {
	var res domain.Result
	res.Merge(d.DetectCycles())
	res.Merge(d.DetectStatusMismatch(store))
	return res
}

// DetectCycles computes the strongly connected components of the formula
// graph. Any component of size greater than one (or a self-loop) is a
// circular derivation and blocks the run unless a CalibrationPair
// whitelists exactly that component with a unique solution. A whitelisted
// pair without a unique solution is reported as CHECK with a non-unique
// solution note, never silently accepted.
func (d *Detector) DetectCycles() domain.Result {
	adj := make(map[string][]string)
	for _, edge := range d.registry.FormulaEdges() {
		adj[edge.From] = append(adj[edge.From], edge.To)
	}
	ids := make([]string, 0, len(d.registry.Formulas()))
	for _, f := range d.registry.Formulas() {
		ids = append(ids, f.ID)
	}

	var res domain.Result
	for _, comp := range stronglyConnected(ids, adj) {
		if len(comp) == 1 && !hasSelfLoop(comp[0], adj) {
			continue
		}
		sort.Strings(comp)
		pair, whitelisted := d.pairCovering(comp)
		switch {
		case !whitelisted:
			res.Findings = append(res.Findings, domain.Finding{
				Code:       domain.CodeCircularDependency,
				Severity:   domain.SeverityBlock,
				Message:    fmt.Sprintf("formulas %v form a circular derivation with no whitelisted calibration pair", comp),
				FormulaIDs: comp,
			})
		case !pair.UniqueSolution:
			res.Findings = append(res.Findings, domain.Finding{
				Code:       domain.CodeNonUniqueSolution,
				Severity:   domain.SeverityCheck,
				Message:    fmt.Sprintf("calibration pair %s admits a non-unique solution; constraint system %v needs a tie-breaking rule", pair.ID, comp),
				FormulaIDs: comp,
			})
		default:
			res.Findings = append(res.Findings, domain.Finding{
				Code:       domain.CodeCircularDependency,
				Severity:   domain.SeverityLog,
				Message:    fmt.Sprintf("constraint system %v whitelisted by calibration pair %s", comp, pair.ID),
				FormulaIDs: comp,
			})
		}
	}
	return res
}

// pairCovering reports whether a registered calibration pair names exactly
// the formulas of the component.
func (d *Detector) pairCovering(comp []string) (domain.CalibrationPair, bool) {
	if len(comp) != 2 {
		return domain.CalibrationPair{}, false
	}
	for _, pair := range d.registry.CalibrationPairs() {
		a, b := pair.EquationA, pair.EquationB
		if (a == comp[0] && b == comp[1]) || (a == comp[1] && b == comp[0]) {
			return pair, true
		}
	}
	return domain.CalibrationPair{}, false
}

// DetectStatusMismatch flags the disguised-circularity pattern: a parameter
// labeled derived or predicted whose inputs include a value calibrated
// against the very experimental target the parameter is said to predict.
// It also flags calibrated values mislabeled as derived.
func (d *Detector) DetectStatusMismatch(store *ValueStore) domain.Result {
	var res domain.Result

	ancestors := parameterAncestors(d.registry)
	for _, p := range store.List() {
		if p.CalibrationTarget != "" && p.Status != domain.StatusCalibrated {
			res.Findings = append(res.Findings, domain.Finding{
				Code:         domain.CodeStatusMismatch,
				Severity:     domain.SeverityBlock,
				Message:      fmt.Sprintf("parameter %s carries calibration target %s but is labeled %s", p.ID, p.CalibrationTarget, p.Status),
				ParameterIDs: []string{p.ID},
			})
		}
		if p.Status != domain.StatusDerived && p.Status != domain.StatusPredicted {
			continue
		}
		for _, anc := range ancestors[p.ID] {
			ap, ok := store.Get(anc)
			if !ok || ap.Status != domain.StatusCalibrated {
				continue
			}
			if ap.CalibrationTarget == p.ID {
				res.Findings = append(res.Findings, domain.Finding{
					Code:         domain.CodeStatusMismatch,
					Severity:     domain.SeverityBlock,
					Message:      fmt.Sprintf("parameter %s is labeled %s but input %s was calibrated against its own experimental value", p.ID, p.Status, anc),
					ParameterIDs: []string{p.ID, anc},
				})
			}
		}
	}
	return res
}

// parameterAncestors returns, for every written parameter, the transitive
// closure of parameters it depends on.
func parameterAncestors(r *Registry) map[string][]string {
	deps := make(map[string][]string)
	for _, edge := range r.Edges() {
		deps[edge.To] = append(deps[edge.To], edge.From)
	}
	closure := make(map[string][]string, len(deps))
	for id := range deps {
		seen := make(map[string]struct{})
		stack := append([]string(nil), deps[id]...)
		for len(stack) > 0 {
			next := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, done := seen[next]; done || next == id {
				continue
			}
			seen[next] = struct{}{}
			stack = append(stack, deps[next]...)
		}
		out := make([]string, 0, len(seen))
		for anc := range seen {
			out = append(out, anc)
		}
		sort.Strings(out)
		closure[id] = out
	}
	return closure
}

func hasSelfLoop(id string, adj map[string][]string) bool {
	for _, to := range adj[id] {
		if to == id {
			return true
		}
	}
	return false
}

// stronglyConnected is Tarjan's algorithm, iterative over an explicit stack
// so deep formula chains cannot overflow the goroutine stack.
func stronglyConnected(ids []string, adj map[string][]string) [][]string {
	index := make(map[string]int, len(ids))
	lowlink := make(map[string]int, len(ids))
	onStack := make(map[string]bool, len(ids))
	var stack []string
	var components [][]string
	next := 0

	type frame struct {
		id   string
		edge int
	}

	visit := func(root string) {
		frames := []frame{{id: root}}
		index[root] = next
		lowlink[root] = next
		next++
		stack = append(stack, root)
		onStack[root] = true

		for len(frames) > 0 {
			f := &frames[len(frames)-1]
			if f.edge < len(adj[f.id]) {
				to := adj[f.id][f.edge]
				f.edge++
				if _, seen := index[to]; !seen {
					index[to] = next
					lowlink[to] = next
					next++
					stack = append(stack, to)
					onStack[to] = true
					frames = append(frames, frame{id: to})
				} else if onStack[to] && index[to] < lowlink[f.id] {
					lowlink[f.id] = index[to]
				}
				continue
			}
			frames = frames[:len(frames)-1]
			if len(frames) > 0 {
				parent := &frames[len(frames)-1]
				if lowlink[f.id] < lowlink[parent.id] {
					lowlink[parent.id] = lowlink[f.id]
				}
			}
			if lowlink[f.id] == index[f.id] {
				var comp []string
				for {
					top := stack[len(stack)-1]
					stack = stack[:len(stack)-1]
					onStack[top] = false
					comp = append(comp, top)
					if top == f.id {
						break
					}
				}
				components = append(components, comp)
			}
		}
	}

	sort.Strings(ids)
	for _, id := range ids {
		if _, seen := index[id]; !seen {
			visit(id)
		}
	}
	return components
}
