// Package memory implements an in-memory run-history store for tests and
// single-shot CLI invocations.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"derivcore/internal/core"
)

// Compile-time contract assertion.
var _ core.HistoryStore = (*Store)(nil)

// Store keeps run snapshots in process memory.
type Store struct {
	mu   sync.RWMutex
	runs map[string]core.Snapshot
}

// NewStore returns an empty in-memory history store.
func NewStore() *Store {
	return &Store{runs: make(map[string]core.Snapshot)}
}

// SaveRun stores a snapshot; run ids are write-once.
func (s *Store) SaveRun(_ context.Context, snap core.Snapshot) error {
	if snap.RunID == "" {
		return fmt.Errorf("run id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[snap.RunID]; exists {
		return fmt.Errorf("run %q already saved", snap.RunID)
	}
	s.runs[snap.RunID] = snap
	return nil
}

// Run retrieves a snapshot by run id.
func (s *Store) Run(_ context.Context, runID string) (core.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.runs[runID]
	return snap, ok, nil
}

// LatestRun returns the most recently created snapshot.
func (s *Store) LatestRun(_ context.Context) (core.Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest core.Snapshot
	found := false
	for _, snap := range s.runs {
		if !found || snap.CreatedAt.After(latest.CreatedAt) {
			latest = snap
			found = true
		}
	}
	return latest, found, nil
}

// ListRuns returns run metadata ordered by creation time.
func (s *Store) ListRuns(_ context.Context) ([]core.RunMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.RunMeta, 0, len(s.runs))
	for _, snap := range s.runs {
		out = append(out, core.RunMeta{RunID: snap.RunID, CreatedAt: snap.CreatedAt, PartialRun: snap.PartialRun})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }
