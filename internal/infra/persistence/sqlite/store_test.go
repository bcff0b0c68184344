package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"derivcore/internal/core"
	"derivcore/pkg/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleSnapshot(runID string, at time.Time, partial bool) core.Snapshot {
	return core.Snapshot{
		RunID:      runID,
		PartialRun: partial,
		CreatedAt:  at,
		Parameters: map[string]domain.Parameter{
			"m_top": {ID: "m_top", Status: domain.StatusPredicted, FormulaID: "f_mtop", Value: 173.95, Unit: "GeV"},
		},
		States: map[string]domain.RunState{"m_top": domain.StateResolved},
		Validation: []domain.ValidationResult{{
			ParameterID: "m_top",
			Status:      domain.ValidationPass,
			Computed:    173.95,
			Sigma:       domain.Float(2.0),
		}},
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)

	if err := s.SaveRun(ctx, sampleSnapshot("run-a", at, true)); err != nil {
		t.Fatalf("save: %v", err)
	}

	snap, found, err := s.Run(ctx, "run-a")
	if err != nil || !found {
		t.Fatalf("run = found=%v err=%v", found, err)
	}
	if !snap.PartialRun {
		t.Fatalf("partial flag lost")
	}
	p, ok := snap.Parameters["m_top"]
	if !ok || p.Value != 173.95 {
		t.Fatalf("parameter = %+v ok=%v", p, ok)
	}
	if len(snap.Validation) != 1 || snap.Validation[0].Status != domain.ValidationPass {
		t.Fatalf("validation = %+v", snap.Validation)
	}
}

func TestSQLiteWriteOnceRunIDs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC()
	if err := s.SaveRun(ctx, sampleSnapshot("run-dup", at, false)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveRun(ctx, sampleSnapshot("run-dup", at, false)); err == nil {
		t.Fatalf("expected primary key violation")
	}
}

func TestSQLiteLatestAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"r1", "r2", "r3"} {
		if err := s.SaveRun(ctx, sampleSnapshot(id, base.Add(time.Duration(i)*time.Minute), false)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	latest, found, err := s.LatestRun(ctx)
	if err != nil || !found || latest.RunID != "r3" {
		t.Fatalf("latest = %+v found=%v err=%v", latest, found, err)
	}

	metas, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(metas) != 3 || metas[0].RunID != "r1" || metas[2].RunID != "r3" {
		t.Fatalf("metas = %+v", metas)
	}

	if _, found, _ := s.Run(ctx, "ghost"); found {
		t.Fatalf("ghost run should not exist")
	}
}
