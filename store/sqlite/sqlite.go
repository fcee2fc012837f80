/*
Package sqlite provides a SQLite-backed implementation of archive.Store.

PURPOSE:
  Keeps archived simulation runs across server restarts. A run row holds
  the label, region, budget and final metrics; one stage row per snapshot
  holds that stage's metrics and extra values.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on runs or run_stages
  - No DELETE statements on runs or run_stages
  - A run and its stages are written in one transaction

KEY TABLES:
  runs:       One row per archived run
  run_stages: Snapshot history, keyed by (run_id, seq)

INDEXES:
  - idx_runs_archived_at: Newest-first listing

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's own locking.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/runs.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New() with CREATE TABLE IF NOT EXISTS.

SEE ALSO:
  - archive/archive.go: Run model and Store interface
  - archive/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/compplan/archive"
	"github.com/warp/compplan/network"
)

// Store implements archive.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ archive.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Archived runs
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		label TEXT NOT NULL DEFAULT '',
		region TEXT NOT NULL,
		budget TEXT NOT NULL,
		archived_at INTEGER NOT NULL,
		final_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_archived_at
		ON runs(archived_at);

	-- Snapshot history of each run
	CREATE TABLE IF NOT EXISTS run_stages (
		run_id TEXT NOT NULL REFERENCES runs(id),
		seq INTEGER NOT NULL,
		stage TEXT NOT NULL,
		taken_at INTEGER NOT NULL,
		metrics_json TEXT NOT NULL,
		extra_json TEXT,
		PRIMARY KEY (run_id, seq)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RUN STORE (archive.Store interface)
// =============================================================================

// Save writes a run and all its stages atomically.
func (s *Store) Save(ctx context.Context, run archive.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	finalJSON, err := json.Marshal(run.Final)
	if err != nil {
		return fmt.Errorf("failed to encode final metrics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, label, region, budget, archived_at, final_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Label,
		run.Region,
		run.Budget.String(),
		run.ArchivedAt.UnixNano(),
		string(finalJSON),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return archive.ErrDuplicateRun
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, st := range run.Stages {
		metricsJSON, err := json.Marshal(st.Metrics)
		if err != nil {
			return fmt.Errorf("failed to encode stage %d: %w", st.Seq, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_stages (run_id, seq, stage, taken_at, metrics_json, extra_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`,
			run.ID,
			st.Seq,
			st.Stage,
			st.TakenAt.UnixNano(),
			string(metricsJSON),
			nullString(string(st.Extra)),
		)
		if err != nil {
			return fmt.Errorf("failed to insert stage %d: %w", st.Seq, err)
		}
	}

	return tx.Commit()
}

// Get loads a run with its stages in sequence order.
func (s *Store) Get(ctx context.Context, id string) (archive.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		run       archive.Run
		budget    string
		at        int64
		finalJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, label, region, budget, archived_at, final_json
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Label, &run.Region, &budget, &at, &finalJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return archive.Run{}, archive.ErrNotFound
	}
	if err != nil {
		return archive.Run{}, fmt.Errorf("failed to query run: %w", err)
	}
	run.Budget = parseDecimal(budget)
	run.ArchivedAt = time.Unix(0, at).UTC()
	if err := json.Unmarshal([]byte(finalJSON), &run.Final); err != nil {
		return archive.Run{}, fmt.Errorf("failed to decode final metrics: %w", err)
	}

	stages, err := s.queryStages(ctx, id)
	if err != nil {
		return archive.Run{}, err
	}
	run.Stages = stages
	return run, nil
}

func (s *Store) queryStages(ctx context.Context, runID string) ([]archive.StageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, stage, taken_at, metrics_json, extra_json
		FROM run_stages WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query stages: %w", err)
	}
	defer rows.Close()

	var stages []archive.StageRecord
	for rows.Next() {
		var (
			st          archive.StageRecord
			takenAt     int64
			metricsJSON string
			extra       sql.NullString
		)
		if err := rows.Scan(&st.Seq, &st.Stage, &takenAt, &metricsJSON, &extra); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		st.TakenAt = time.Unix(0, takenAt).UTC()
		if err := json.Unmarshal([]byte(metricsJSON), &st.Metrics); err != nil {
			return nil, fmt.Errorf("failed to decode stage %d: %w", st.Seq, err)
		}
		if extra.Valid {
			st.Extra = json.RawMessage(extra.String)
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

// List returns run summaries, most recently archived first.
func (s *Store) List(ctx context.Context) ([]archive.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.label, r.region, r.budget, r.archived_at, r.final_json,
		       (SELECT COUNT(*) FROM run_stages st WHERE st.run_id = r.id)
		FROM runs r
		ORDER BY r.archived_at DESC, r.rowid DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	out := []archive.Summary{}
	for rows.Next() {
		var (
			sum       archive.Summary
			budget    string
			at        int64
			finalJSON string
			final     network.Metrics
		)
		if err := rows.Scan(&sum.ID, &sum.Label, &sum.Region, &budget, &at, &finalJSON, &sum.Stages); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if err := json.Unmarshal([]byte(finalJSON), &final); err != nil {
			return nil, fmt.Errorf("failed to decode run %s: %w", sum.ID, err)
		}
		sum.Budget = parseDecimal(budget)
		sum.ArchivedAt = time.Unix(0, at).UTC()
		sum.Partners = final.TotalPartners
		sum.RootIncome = final.Income.Base.Total
		sum.TotalVolume = final.TotalVolume
		out = append(out, sum)
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseDecimal(value string) decimal.Decimal {
	d, _ := decimal.NewFromString(value)
	return d
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
