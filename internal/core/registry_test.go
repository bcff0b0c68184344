package core

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"derivcore/pkg/domain"
)

func constProcedure(v float64) SimulationFunc {
	return func(context.Context, string, map[string]float64) (float64, error) { return v, nil }
}

func TestRegisterFormulaRejectsDanglingParent(t *testing.T) {
	r := NewRegistry()
	err := r.RegisterFormula(domain.Formula{ID: "f_child", ParentFormulas: []string{"f_missing"}})
	var unknown domain.UnknownReferenceError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownReferenceError, got %v", err)
	}
	if unknown.Ref != "f_missing" {
		t.Fatalf("unknown ref = %s", unknown.Ref)
	}
}

func TestRegisterFormulaOrderAndDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterFormula(domain.Formula{ID: "f_base"}); err != nil {
		t.Fatalf("register base: %v", err)
	}
	if err := r.RegisterFormula(domain.Formula{ID: "f_child", ParentFormulas: []string{"f_base"}}); err != nil {
		t.Fatalf("register child: %v", err)
	}
	if err := r.RegisterFormula(domain.Formula{ID: "f_base"}); err == nil {
		t.Fatalf("expected duplicate formula to fail")
	}
}

func TestRegisterConstraintSystemAllowsMutualReference(t *testing.T) {
	r := NewRegistry()
	a := domain.Formula{ID: "f_a", ParentFormulas: []string{"f_b"}}
	b := domain.Formula{ID: "f_b", ParentFormulas: []string{"f_a"}}
	pair := domain.CalibrationPair{ID: "pair_ab", EquationA: "f_a", EquationB: "f_b", UniqueSolution: true}
	if err := r.RegisterConstraintSystem(a, b, pair); err != nil {
		t.Fatalf("register constraint system: %v", err)
	}
	if len(r.CalibrationPairs()) != 1 {
		t.Fatalf("pairs = %d, want 1", len(r.CalibrationPairs()))
	}
}

func TestRegisterSimulationValidation(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterSimulation(domain.Simulation{ID: "s", Writes: []string{"x"}}, nil); err == nil {
		t.Fatalf("expected nil procedure to fail")
	}
	if err := r.RegisterSimulation(domain.Simulation{ID: "s"}, constProcedure(1)); err == nil {
		t.Fatalf("expected writeless simulation to fail")
	}
	if err := r.RegisterSimulation(domain.Simulation{ID: "s", Writes: []string{"x"}}, constProcedure(1)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.RegisterSimulation(domain.Simulation{ID: "s", Writes: []string{"y"}}, constProcedure(2)); err == nil {
		t.Fatalf("expected duplicate simulation to fail")
	}
}

func TestTransitiveDependencies(t *testing.T) {
	r := NewRegistry()
	formulas := []domain.Formula{
		{ID: "f_root"},
		{ID: "f_mid", ParentFormulas: []string{"f_root"}},
		{ID: "f_leaf", ParentFormulas: []string{"f_mid", "f_root"}},
	}
	for _, f := range formulas {
		if err := r.RegisterFormula(f); err != nil {
			t.Fatalf("register %s: %v", f.ID, err)
		}
	}

	deps, err := r.TransitiveDependencies("f_leaf")
	if err != nil {
		t.Fatalf("transitive deps: %v", err)
	}
	want := []string{"f_mid", "f_root"}
	if !reflect.DeepEqual(deps, want) {
		t.Fatalf("deps = %v, want %v", deps, want)
	}

	if _, err := r.TransitiveDependencies("f_missing"); err == nil {
		t.Fatalf("expected unknown formula to fail")
	}
}

func TestEdgesCoverReadsToWrites(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterSimulation(domain.Simulation{ID: "s", Reads: []string{"a", "b"}, Writes: []string{"c"}}, constProcedure(0)); err != nil {
		t.Fatalf("register: %v", err)
	}
	edges := r.Edges()
	if len(edges) != 2 {
		t.Fatalf("edges = %v", edges)
	}
	for _, e := range edges {
		if e.To != "c" {
			t.Fatalf("edge %v should point at c", e)
		}
	}
}
