// Package model loads a derivation model from its JSON description into a
// populated registry and value store. Model files declare parameters,
// formulas, expression-backed simulations, calibration pairs, and the
// experimental references the validator compares against.
package model

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"derivcore/internal/core"
	"derivcore/internal/expr"
	"derivcore/pkg/domain"
)

// File is the on-disk model schema.
type File struct {
	Name             string                   `json:"name,omitempty"`
	Parameters       []domain.Parameter       `json:"parameters"`
	Formulas         []domain.Formula         `json:"formulas"`
	Simulations      []SimulationSpec         `json:"simulations"`
	CalibrationPairs []domain.CalibrationPair `json:"calibration_pairs,omitempty"`
	References       []domain.Reference       `json:"references,omitempty"`
}

// SimulationSpec declares one simulation as a set of closed-form
// expressions, one per written parameter. Reads are inferred from the
// expression variables.
type SimulationSpec struct {
	ID          string            `json:"id"`
	Source      string            `json:"source,omitempty"`
	Expressions map[string]string `json:"expressions"`
}

// Model is a fully loaded derivation model ready for execution.
type Model struct {
	Name       string
	Registry   *core.Registry
	Store      *core.ValueStore
	References []domain.Reference
}

// LoadFile reads and assembles a model from the given path.
func LoadFile(path string) (*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model: %w", err)
	}
	return Load(b)
}

// Load assembles a model from raw JSON.
func Load(b []byte) (*Model, error) {
	var file File
	if err := json.Unmarshal(b, &file); err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}

	registry := core.NewRegistry()
	store := core.NewValueStore()

	if err := registerFormulas(registry, file.Formulas, file.CalibrationPairs); err != nil {
		return nil, err
	}
	for _, p := range file.Parameters {
		if err := store.Declare(p); err != nil {
			return nil, err
		}
	}
	for _, spec := range file.Simulations {
		sim, fn, err := compileSimulation(spec)
		if err != nil {
			return nil, err
		}
		if err := registry.RegisterSimulation(sim, fn); err != nil {
			return nil, err
		}
	}
	return &Model{Name: file.Name, Registry: registry, Store: store, References: file.References}, nil
}

// registerFormulas installs calibration-pair members through the constraint
// system path, then the remaining formulas in parent-first order.
func registerFormulas(registry *core.Registry, formulas []domain.Formula, pairs []domain.CalibrationPair) error {
	byID := make(map[string]domain.Formula, len(formulas))
	for _, f := range formulas {
		byID[f.ID] = f
	}

	installed := make(map[string]bool)
	for _, pair := range pairs {
		a, okA := byID[pair.EquationA]
		b, okB := byID[pair.EquationB]
		if !okA || !okB {
			return domain.UnknownReferenceError{Kind: "calibration_pair", ID: pair.ID, Ref: pair.EquationA + "/" + pair.EquationB}
		}
		if err := registry.RegisterConstraintSystem(a, b, pair); err != nil {
			return err
		}
		installed[a.ID] = true
		installed[b.ID] = true
	}

	// Fixed-point pass: register formulas whose parents are all present.
	// Anything left after a pass with no progress has a dangling or cyclic
	// parent outside a declared pair, which RegisterFormula reports.
	remaining := make([]domain.Formula, 0, len(formulas))
	for _, f := range formulas {
		if !installed[f.ID] {
			remaining = append(remaining, f)
		}
	}
	for len(remaining) > 0 {
		progressed := false
		var next []domain.Formula
		for _, f := range remaining {
			if parentsInstalled(f, installed) {
				if err := registry.RegisterFormula(f); err != nil {
					return err
				}
				installed[f.ID] = true
				progressed = true
			} else {
				next = append(next, f)
			}
		}
		if !progressed {
			// Force registration to surface the precise dangling reference.
			return registry.RegisterFormula(next[0])
		}
		remaining = next
	}
	return nil
}

func parentsInstalled(f domain.Formula, installed map[string]bool) bool {
	for _, parent := range f.ParentFormulas {
		if parent == f.ID {
			continue
		}
		if !installed[parent] {
			return false
		}
	}
	return true
}

// compileSimulation compiles every expression and derives the declared
// reads. Expressions must be closed over the simulation's reads: a variable
// that the same simulation writes means the model author declared an
// unsolved joint system, which is rejected here rather than at run time.
func compileSimulation(spec SimulationSpec) (domain.Simulation, core.SimulationFunc, error) {
	if len(spec.Expressions) == 0 {
		return domain.Simulation{}, nil, fmt.Errorf("simulation %q declares no expressions", spec.ID)
	}

	writes := make([]string, 0, len(spec.Expressions))
	writeSet := make(map[string]bool, len(spec.Expressions))
	for target := range spec.Expressions {
		writes = append(writes, target)
		writeSet[target] = true
	}
	sort.Strings(writes)

	compiled := make(map[string]*expr.Expr, len(spec.Expressions))
	readSet := make(map[string]bool)
	for target, src := range spec.Expressions {
		ex, err := expr.Compile(src)
		if err != nil {
			return domain.Simulation{}, nil, fmt.Errorf("simulation %q target %q: %w", spec.ID, target, err)
		}
		for _, v := range ex.Vars() {
			if writeSet[v] {
				return domain.Simulation{}, nil, fmt.Errorf("simulation %q target %q reads %q which it also writes; joint systems need solved per-target expressions", spec.ID, target, v)
			}
			readSet[v] = true
		}
		compiled[target] = ex
	}
	reads := make([]string, 0, len(readSet))
	for r := range readSet {
		reads = append(reads, r)
	}
	sort.Strings(reads)

	sim := domain.Simulation{ID: spec.ID, Reads: reads, Writes: writes, Source: spec.Source}
	proc := func(_ context.Context, target string, inputs map[string]float64) (float64, error) {
		ex, ok := compiled[target]
		if !ok {
			return 0, fmt.Errorf("no expression for target %s", target)
		}
		return ex.Eval(inputs)
	}
	return sim, proc, nil
}
