// Package sqlite provides a SQLite-backed run-history store. Each run
// snapshot is stored as a single JSON payload keyed by run id.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"derivcore/internal/core"
)

// Compile-time contract assertion.
var _ core.HistoryStore = (*Store)(nil)

// Store persists run snapshots to a single SQLite table as JSON blobs.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) a SQLite-backed history store.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "derivcore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		partial INTEGER NOT NULL,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("create runs table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// SaveRun persists a snapshot; run ids are write-once.
func (s *Store) SaveRun(ctx context.Context, snap core.Snapshot) error {
	if snap.RunID == "" {
		return fmt.Errorf("run id required")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	partial := 0
	if snap.PartialRun {
		partial = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, created_at, partial, payload) VALUES(?,?,?,?)`,
		snap.RunID, snap.CreatedAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"), partial, payload)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", snap.RunID, err)
	}
	return nil
}

// Run retrieves a snapshot by run id.
func (s *Store) Run(ctx context.Context, runID string) (core.Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE run_id = ?`, runID)
	return scanSnapshot(row)
}

// LatestRun retrieves the most recently saved snapshot.
func (s *Store) LatestRun(ctx context.Context) (core.Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM runs ORDER BY created_at DESC, run_id DESC LIMIT 1`)
	return scanSnapshot(row)
}

func scanSnapshot(row *sql.Row) (core.Snapshot, bool, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Snapshot{}, false, nil
		}
		return core.Snapshot{}, false, fmt.Errorf("scan run: %w", err)
	}
	var snap core.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return core.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

// ListRuns returns run metadata ordered by creation time.
func (s *Store) ListRuns(ctx context.Context) ([]core.RunMeta, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM runs ORDER BY created_at ASC, run_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []core.RunMeta
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var snap core.Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		out = append(out, core.RunMeta{RunID: snap.RunID, CreatedAt: snap.CreatedAt, PartialRun: snap.PartialRun})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
