package model

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"derivcore/internal/core"
	"derivcore/pkg/domain"
)

const toyModel = `{
  "name": "toy-electroweak",
  "parameters": [
    {"id": "v_ew", "status": "input", "value": 246.22, "unit": "GeV", "uncertainty": 0.01},
    {"id": "y_t", "status": "input", "value": 0.9991},
    {"id": "m_top", "status": "predicted", "formula_id": "f_mtop", "unit": "GeV"}
  ],
  "formulas": [
    {"id": "f_base"},
    {"id": "f_mtop", "parentFormulas": ["f_base"]}
  ],
  "simulations": [
    {"id": "s_mtop", "source": "tree-level", "expressions": {"m_top": "y_t * v_ew / sqrt(2)"}}
  ],
  "references": [
    {"parameter_id": "m_top", "value": 172.69, "uncertainty": 0.3, "bound_type": "central", "source": "PDG"}
  ]
}`

func TestLoadBuildsRunnableModel(t *testing.T) {
	m, err := Load([]byte(toyModel))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if m.Name != "toy-electroweak" {
		t.Fatalf("name = %q", m.Name)
	}
	if len(m.References) != 1 {
		t.Fatalf("references = %+v", m.References)
	}

	sim, ok := m.Registry.Simulation("s_mtop")
	if !ok {
		t.Fatalf("simulation not registered")
	}
	// Reads are inferred from expression variables.
	if len(sim.Reads) != 2 || sim.Reads[0] != "v_ew" || sim.Reads[1] != "y_t" {
		t.Fatalf("reads = %v", sim.Reads)
	}
	if len(sim.Writes) != 1 || sim.Writes[0] != "m_top" {
		t.Fatalf("writes = %v", sim.Writes)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := core.NewExecutor(m.Registry, core.ExecutorConfig{Logger: logger})
	report, err := exec.ExecutePipeline(context.Background(), m.Store)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if report.States["m_top"] != domain.StateResolved {
		t.Fatalf("m_top state = %s", report.States["m_top"])
	}
	p, _ := m.Store.Get("m_top")
	want := 0.9991 * 246.22 / math.Sqrt(2)
	if math.Abs(p.Value-want) > 1e-9 {
		t.Fatalf("m_top = %v, want %v", p.Value, want)
	}
}

func TestLoadFileReadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(toyModel), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	m, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load file: %v", err)
	}
	if _, ok := m.Store.Get("v_ew"); !ok {
		t.Fatalf("v_ew not declared")
	}
}

func TestLoadRejectsUnsolvedJointSystem(t *testing.T) {
	src := `{
  "parameters": [
    {"id": "x", "status": "derived", "formula_id": "f_x"},
    {"id": "y", "status": "derived", "formula_id": "f_y"}
  ],
  "formulas": [{"id": "f_x"}, {"id": "f_y"}],
  "simulations": [
    {"id": "s_joint", "expressions": {"x": "y + 1", "y": "x - 1"}}
  ]
}`
	if _, err := Load([]byte(src)); err == nil {
		t.Fatalf("expected unsolved joint system to fail")
	}
}

func TestLoadRejectsDanglingFormulaParent(t *testing.T) {
	src := `{
  "parameters": [],
  "formulas": [{"id": "f_child", "parentFormulas": ["f_ghost"]}],
  "simulations": []
}`
	_, err := Load([]byte(src))
	if err == nil {
		t.Fatalf("expected dangling parent to fail")
	}
}

func TestLoadRegistersConstraintPairs(t *testing.T) {
	src := `{
  "parameters": [
    {"id": "seed", "status": "input", "value": 1},
    {"id": "u", "status": "calibrated", "formula_id": "f_u"},
    {"id": "w", "status": "calibrated", "formula_id": "f_w"}
  ],
  "formulas": [
    {"id": "f_u", "parentFormulas": ["f_w"]},
    {"id": "f_w", "parentFormulas": ["f_u"]}
  ],
  "simulations": [
    {"id": "s_pair", "expressions": {"u": "seed * 2", "w": "seed * 3"}}
  ],
  "calibration_pairs": [
    {"id": "pair_uw", "equation_a": "f_u", "equation_b": "f_w", "unique_solution": true, "justification": "linear system"}
  ]
}`
	m, err := Load([]byte(src))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(m.Registry.CalibrationPairs()) != 1 {
		t.Fatalf("pairs = %+v", m.Registry.CalibrationPairs())
	}
	// The detector accepts the whitelisted pair.
	res := core.NewDetector(m.Registry).Check(m.Store)
	if res.HasBlocking() {
		t.Fatalf("whitelisted pair blocked: %+v", res.Findings)
	}
}

func TestLoadRejectsBadExpression(t *testing.T) {
	src := `{
  "parameters": [{"id": "x", "status": "derived", "formula_id": "f_x"}],
  "formulas": [{"id": "f_x"}],
  "simulations": [{"id": "s_x", "expressions": {"x": "import(\"os\")"}}]
}`
	if _, err := Load([]byte(src)); err == nil {
		t.Fatalf("expected invalid expression to fail")
	}
}
