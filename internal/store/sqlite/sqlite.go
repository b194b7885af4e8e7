// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlite provides a SQLite run store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tombee/folio/pkg/engine"
	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/execution"
)

// Compile-time interface assertions.
var (
	_ engine.Persister = (*Store)(nil)
	_ engine.Lister    = (*Store)(nil)
	_ engine.Pruner    = (*Store)(nil)
)

// Store is a SQLite run store. The snapshot is kept as a blob next to the
// summary columns that listing and pruning query.
type Store struct {
	db *sql.DB
}

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path.
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// New opens the database and applies migrations.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, &errors.ConfigError{Key: "store.path", Reason: "a database path is required for the sqlite store"}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite serializes writes
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure pragmas: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

// migrate creates the schema. Timestamps are unix nanoseconds so ordering
// and pruning compare them numerically.
func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			workflow_version INTEGER NOT NULL,
			status TEXT NOT NULL,
			snapshot BLOB NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_completed_at ON runs(completed_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Save upserts the run's snapshot and summary columns.
func (s *Store) Save(ctx context.Context, runID string, snap *execution.Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	sum := snap.State.Summary()

	query := `
		INSERT INTO runs (id, workflow_id, workflow_version, status, snapshot, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at
	`
	_, err = s.db.ExecContext(ctx, query,
		runID, sum.WorkflowID, sum.WorkflowVersion, string(sum.Status), data,
		sum.CreatedAt.UnixNano(), sum.UpdatedAt.UnixNano(), nullTime(sum.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// Load returns the latest snapshot of a run.
func (s *Store) Load(ctx context.Context, runID string) (*execution.Snapshot, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM runs WHERE id = ?`, runID).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, &errors.NotFoundError{Resource: "run", ID: runID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	snap, err := execution.DecodeSnapshot(data)
	if err != nil {
		return nil, errors.Wrapf(err, "run %s", runID)
	}
	return snap, nil
}

// List returns a summary of every run, newest first.
func (s *Store) List(ctx context.Context) ([]execution.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_id, workflow_version, status, created_at, updated_at, completed_at
		FROM runs ORDER BY created_at DESC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []execution.Summary{}
	for rows.Next() {
		var sum execution.Summary
		var status string
		var createdAt, updatedAt int64
		var completedAt sql.NullInt64
		if err := rows.Scan(&sum.RunID, &sum.WorkflowID, &sum.WorkflowVersion, &status, &createdAt, &updatedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		sum.Status = execution.Status(status)
		sum.CreatedAt = time.Unix(0, createdAt).UTC()
		sum.UpdatedAt = time.Unix(0, updatedAt).UTC()
		if completedAt.Valid {
			t := time.Unix(0, completedAt.Int64).UTC()
			sum.CompletedAt = &t
		}
		runs = append(runs, sum)
	}
	return runs, rows.Err()
}

// Prune deletes terminal runs completed before the cutoff.
func (s *Store) Prune(ctx context.Context, before time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM runs
		WHERE status IN (?, ?, ?) AND completed_at IS NOT NULL AND completed_at < ?
	`,
		string(execution.StatusSucceeded), string(execution.StatusFailed), string(execution.StatusCancelled),
		before.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}
