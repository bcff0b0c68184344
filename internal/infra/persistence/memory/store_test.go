package memory

import (
	"context"
	"testing"
	"time"

	"derivcore/internal/core"
	"derivcore/pkg/domain"
)

func snapshotAt(runID string, at time.Time) core.Snapshot {
	return core.Snapshot{
		RunID:     runID,
		CreatedAt: at,
		Parameters: map[string]domain.Parameter{
			"x": {ID: "x", Status: domain.StatusInput, Value: 1},
		},
		States: map[string]domain.RunState{"x": domain.StateResolved},
	}
}

func TestSaveRunIsWriteOnce(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	if err := s.SaveRun(ctx, snapshotAt("r1", time.Now())); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveRun(ctx, snapshotAt("r1", time.Now())); err == nil {
		t.Fatalf("expected duplicate run id to fail")
	}
	if err := s.SaveRun(ctx, core.Snapshot{}); err == nil {
		t.Fatalf("expected empty run id to fail")
	}
}

func TestRunAndLatestRun(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		if err := s.SaveRun(ctx, snapshotAt(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	snap, found, err := s.Run(ctx, "r2")
	if err != nil || !found || snap.RunID != "r2" {
		t.Fatalf("run r2 = %+v found=%v err=%v", snap, found, err)
	}
	if _, found, _ := s.Run(ctx, "ghost"); found {
		t.Fatalf("ghost run should not exist")
	}

	latest, found, err := s.LatestRun(ctx)
	if err != nil || !found || latest.RunID != "r3" {
		t.Fatalf("latest = %+v found=%v err=%v", latest, found, err)
	}
}

func TestListRunsOrderedByCreation(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// Insert out of chronological order.
	_ = s.SaveRun(ctx, snapshotAt("late", base.Add(time.Hour)))
	_ = s.SaveRun(ctx, snapshotAt("early", base))

	metas, err := s.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(metas) != 2 || metas[0].RunID != "early" || metas[1].RunID != "late" {
		t.Fatalf("metas = %+v", metas)
	}
}
