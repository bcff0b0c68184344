package export

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"derivcore/internal/core"
	"derivcore/pkg/domain"
)

func exportFixture(t *testing.T) (*core.ValueStore, *core.Registry, []domain.ValidationResult) {
	t.Helper()
	store := core.NewValueStore()
	registry := core.NewRegistry()

	declare := func(p domain.Parameter) {
		t.Helper()
		if err := store.Declare(p); err != nil {
			t.Fatalf("declare %s: %v", p.ID, err)
		}
	}
	declare(domain.Parameter{ID: "v_ew", Status: domain.StatusInput, Value: 246.22, Unit: "GeV", Uncertainty: domain.Float(0.01)})
	declare(domain.Parameter{ID: "m_top", Status: domain.StatusPredicted, FormulaID: "f_mtop", Value: 174.0, Unit: "GeV"})

	if err := registry.RegisterFormula(domain.Formula{ID: "f_base", EstablishedPhysics: []string{"SM"}}); err != nil {
		t.Fatalf("register f_base: %v", err)
	}
	if err := registry.RegisterFormula(domain.Formula{ID: "f_mtop", ParentFormulas: []string{"f_base"}, Steps: []string{"m_top = y_t * v_ew / sqrt(2)"}}); err != nil {
		t.Fatalf("register f_mtop: %v", err)
	}

	results := []domain.ValidationResult{{
		ParameterID:  "m_top",
		Status:       domain.ValidationPass,
		Computed:     174.0,
		Experimental: domain.Float(172.69),
		BoundType:    domain.BoundCentral,
		Sigma:        domain.Float(2.1),
		Units:        "GeV",
	}}
	return store, registry, results
}

func TestExportIsByteIdempotent(t *testing.T) {
	store, registry, results := exportFixture(t)

	first, err := Marshal(Build(store, registry, results))
	if err != nil {
		t.Fatalf("first marshal: %v", err)
	}
	second, err := Marshal(Build(store, registry, results))
	if err != nil {
		t.Fatalf("second marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("export not idempotent:\n%s\n---\n%s", first, second)
	}
}

func TestExportSchema(t *testing.T) {
	store, registry, results := exportFixture(t)
	payload, err := Marshal(Build(store, registry, results))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"version", "parameters", "formulas", "validation_summary"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("missing top-level key %q in %s", key, payload)
		}
	}

	doc, err := Unmarshal(payload)
	if err != nil {
		t.Fatalf("round-trip: %v", err)
	}
	rec, ok := doc.Parameters["m_top"]
	if !ok {
		t.Fatalf("m_top missing: %+v", doc.Parameters)
	}
	if rec.Value != "174" || rec.Status != "predicted" || rec.FormulaID != "f_mtop" {
		t.Fatalf("m_top record = %+v", rec)
	}
	formula, ok := doc.Formulas["f_mtop"]
	if !ok || len(formula.ParentFormulas) != 1 {
		t.Fatalf("f_mtop formula = %+v ok=%v", formula, ok)
	}
	if len(doc.ValidationSummary) != 1 || doc.ValidationSummary[0].Status != domain.ValidationPass {
		t.Fatalf("validation summary = %+v", doc.ValidationSummary)
	}
}

func TestExportPreservesFullPrecision(t *testing.T) {
	store := core.NewValueStore()
	registry := core.NewRegistry()
	if err := store.Declare(domain.Parameter{ID: "g", Status: domain.StatusInput, Value: 0.1 + 0.2}); err != nil {
		t.Fatalf("declare: %v", err)
	}

	doc := Build(store, registry, nil)
	back, err := doc.Parameters["g"].Value.Float64()
	if err != nil {
		t.Fatalf("parse back: %v", err)
	}
	if back != 0.1+0.2 {
		t.Fatalf("precision lost: %v != %v", back, 0.1+0.2)
	}
	if !strings.Contains(string(doc.Parameters["g"].Value), "0.30000000000000004") {
		t.Fatalf("value rendered as %s", doc.Parameters["g"].Value)
	}
}

func TestExportOrderingStableAcrossDeclarationOrder(t *testing.T) {
	results := []domain.ValidationResult(nil)
	build := func(ids []string) []byte {
		store := core.NewValueStore()
		registry := core.NewRegistry()
		for i, id := range ids {
			if err := store.Declare(domain.Parameter{ID: id, Status: domain.StatusInput, Value: float64(i)}); err != nil {
				t.Fatalf("declare %s: %v", id, err)
			}
		}
		payload, err := Marshal(Build(store, registry, results))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return payload
	}

	a := build([]string{"zz", "aa", "mm"})
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(a, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	params := string(doc["parameters"])
	if !(strings.Index(params, `"aa"`) < strings.Index(params, `"mm"`) && strings.Index(params, `"mm"`) < strings.Index(params, `"zz"`)) {
		t.Fatalf("parameters not key-ordered: %s", params)
	}
}
