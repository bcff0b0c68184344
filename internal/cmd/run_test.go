package cmd

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"derivcore/internal/config"
	"derivcore/internal/core"
	"derivcore/pkg/domain"
)

// An interrupt cancels the run context before the snapshot is saved; the
// partial run must still reach the history store or validate-only has
// nothing to load.
func TestPersistRunSurvivesCancelledContext(t *testing.T) {
	cfg := config.Default()
	cfg.StoreDriver = "sqlite"
	cfg.StorePath = filepath.Join(t.TempDir(), "history.db")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	snap := core.Snapshot{
		RunID:      "run-interrupted",
		PartialRun: true,
		CreatedAt:  time.Now().UTC(),
		Parameters: map[string]domain.Parameter{
			"a": {ID: "a", Status: domain.StatusInput, Value: 2},
		},
		States: map[string]domain.RunState{"a": domain.StateResolved},
	}
	if err := persistRun(ctx, cfg, snap); err != nil {
		t.Fatalf("persist after cancellation: %v", err)
	}

	history, err := openHistory(context.Background(), cfg)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer func() { _ = history.Close() }()
	got, found, err := history.Run(context.Background(), "run-interrupted")
	if err != nil || !found {
		t.Fatalf("run lookup = found=%v err=%v", found, err)
	}
	if !got.PartialRun {
		t.Fatalf("partial flag lost")
	}
}
