// Package postgres provides a Postgres-backed run-history store for shared
// deployments, mirroring the sqlite schema.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"derivcore/internal/core"
)

// Compile-time contract assertion.
var _ core.HistoryStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/derivcore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists run snapshots to Postgres.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN) and ensures the runs table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL,
		partial BOOLEAN NOT NULL,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("ensure runs table: %w", err)
	}
	return &Store{db: db}, nil
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, created_at, partial, payload) VALUES($1,$2,$3,$4)`,
		snap.RunID, snap.CreatedAt.UTC(), snap.PartialRun, payload)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", snap.RunID, err)
	}
	return nil
}

// Run retrieves a snapshot by run id.
func (s *Store) Run(ctx context.Context, runID string) (core.Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE run_id = $1`, runID)
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

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a
// restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
