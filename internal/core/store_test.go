package core

import (
	"testing"

	"derivcore/pkg/domain"
)

func TestDeclareRejectsDuplicatesAndMissingFormula(t *testing.T) {
	store := NewValueStore()
	if err := store.Declare(domain.Parameter{ID: "alpha_s", Status: domain.StatusInput, Value: 0.118}); err != nil {
		t.Fatalf("declare input: %v", err)
	}
	if err := store.Declare(domain.Parameter{ID: "alpha_s", Status: domain.StatusInput}); err == nil {
		t.Fatalf("expected duplicate declaration to fail")
	}
	if err := store.Declare(domain.Parameter{ID: "m_w", Status: domain.StatusDerived}); err == nil {
		t.Fatalf("expected derived parameter without formula to fail")
	}
	if err := store.Declare(domain.Parameter{ID: "m_w", Status: domain.StatusDerived, FormulaID: "f_mw"}); err != nil {
		t.Fatalf("declare derived: %v", err)
	}
}

func TestInputsStartResolved(t *testing.T) {
	store := NewValueStore()
	mustDeclare(t, store, domain.Parameter{ID: "g", Status: domain.StatusInput, Value: 0.65})
	mustDeclare(t, store, domain.Parameter{ID: "m_z", Status: domain.StatusDerived, FormulaID: "f_mz"})

	if st, _ := store.State("g"); st != domain.StateResolved {
		t.Fatalf("input state = %s, want resolved", st)
	}
	if st, _ := store.State("m_z"); st != domain.StateUnresolved {
		t.Fatalf("derived state = %s, want unresolved", st)
	}
}

func TestListOrderedByID(t *testing.T) {
	store := NewValueStore()
	for _, id := range []string{"zeta", "alpha", "mu"} {
		mustDeclare(t, store, domain.Parameter{ID: id, Status: domain.StatusInput})
	}
	params := store.List()
	want := []string{"alpha", "mu", "zeta"}
	for i, p := range params {
		if p.ID != want[i] {
			t.Fatalf("List()[%d] = %s, want %s", i, p.ID, want[i])
		}
	}
}

func TestCloneIsolation(t *testing.T) {
	store := NewValueStore()
	mustDeclare(t, store, domain.Parameter{ID: "v", Status: domain.StatusInput, Value: 246.0})

	clone := store.Clone()
	if err := clone.setInput("v", 250.0); err != nil {
		t.Fatalf("setInput on clone: %v", err)
	}

	orig, _ := store.Get("v")
	if orig.Value != 246.0 {
		t.Fatalf("original mutated through clone: %v", orig.Value)
	}
	cloned, _ := clone.Get("v")
	if cloned.Value != 250.0 {
		t.Fatalf("clone value = %v, want 250", cloned.Value)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := NewValueStore()
	mustDeclare(t, store, domain.Parameter{ID: "x", Status: domain.StatusInput, Value: 1})
	mustDeclare(t, store, domain.Parameter{ID: "y", Status: domain.StatusDerived, FormulaID: "f_y"})
	store.setResolved("y", 4.5)

	snap := store.ExportSnapshot("run-1", true, nil)
	if snap.RunID != "run-1" || !snap.PartialRun {
		t.Fatalf("snapshot meta = %+v", snap)
	}

	restored := NewValueStore()
	restored.ImportSnapshot(snap)
	p, ok := restored.Get("y")
	if !ok || p.Value != 4.5 {
		t.Fatalf("restored y = %+v ok=%v", p, ok)
	}
	if st, _ := restored.State("y"); st != domain.StateResolved {
		t.Fatalf("restored state = %s", st)
	}
}

func mustDeclare(t *testing.T, store *ValueStore, p domain.Parameter) {
	t.Helper()
	if err := store.Declare(p); err != nil {
		t.Fatalf("declare %s: %v", p.ID, err)
	}
}
