package core

import (
	"context"
	"time"
)

// RunMeta identifies one persisted run.
type RunMeta struct {
	RunID      string    `json:"run_id"`
	CreatedAt  time.Time `json:"created_at"`
	PartialRun bool      `json:"partial_run,omitempty"`
}

// HistoryStore persists run snapshots and their immutable validation
// results. Snapshots enable validate-only re-runs and historical diffing;
// stored validation results are never mutated in place.
type HistoryStore interface {
	// SaveRun persists a snapshot. Saving an existing run id is an error.
	SaveRun(ctx context.Context, snap Snapshot) error
	// Run retrieves one snapshot by run id.
	Run(ctx context.Context, runID string) (Snapshot, bool, error)
	// LatestRun retrieves the most recently saved snapshot.
	LatestRun(ctx context.Context) (Snapshot, bool, error)
	// ListRuns returns run metadata ordered by creation time ascending.
	ListRuns(ctx context.Context) ([]RunMeta, error)
	Close() error
}
