// Package sqlstore implements persistence.NetworkRepo with sqlx on
// sqlite (modernc) or PostgreSQL (lib/pq).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/sawpanic/cnmfsns/internal/persistence"
)

const edgeBatch = 500

// Config holds database connection configuration
type Config struct {
	Driver       string        `yaml:"driver"` // sqlite | postgres
	DSN          string        `yaml:"dsn"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// DefaultConfig returns reasonable defaults for database connections
func DefaultConfig() Config {
	return Config{
		Driver:       "sqlite",
		MaxOpenConns: 4,
		QueryTimeout: 30 * time.Second,
	}
}

// Store implements persistence.NetworkRepo
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to the configured database and pings it.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	switch cfg.Driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.Driver == "sqlite" {
		// a single writer avoids SQLITE_BUSY and keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(db, cfg.QueryTimeout), nil
}

// New wraps an open connection. A zero timeout means 30s.
func New(db *sqlx.DB, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{db: db, timeout: timeout}
}

// DB returns the underlying connection
func (s *Store) DB() *sqlx.DB { return s.db }

// Close closes the database connection
func (s *Store) Close() error { return s.db.Close() }

var _ persistence.NetworkRepo = (*Store)(nil)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS network_runs (
		id         TEXT PRIMARY KEY,
		method     TEXT NOT NULL,
		min_corr   DOUBLE PRECISION NOT NULL,
		datasets   TEXT NOT NULL,
		geps       INTEGER NOT NULL,
		edges      INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS network_edges (
		run_id         TEXT NOT NULL REFERENCES network_runs(id) ON DELETE CASCADE,
		source_dataset TEXT NOT NULL,
		source_k       INTEGER NOT NULL,
		source_program INTEGER NOT NULL,
		target_dataset TEXT NOT NULL,
		target_k       INTEGER NOT NULL,
		target_program INTEGER NOT NULL,
		weight         DOUBLE PRECISION NOT NULL,
		cross_dataset  BOOLEAN NOT NULL,
		shared_genes   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS network_edges_run_idx ON network_edges (run_id)`,
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate: %w", err)
		}
	}
	return nil
}

// SaveRun stores a run and its edges in one transaction
func (s *Store) SaveRun(ctx context.Context, run persistence.NetworkRun, edges []persistence.EdgeRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if run.ID == uuid.Nil {
		return fmt.Errorf("run id is required")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := tx.Rebind(`
		INSERT INTO network_runs (id, method, min_corr, datasets, geps, edges, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, query,
		run.ID, run.Method, run.MinCorr, run.Datasets, run.GEPs, run.Edges, run.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert network run: %w", err)
	}

	insert := `
		INSERT INTO network_edges
		(run_id, source_dataset, source_k, source_program, target_dataset, target_k,
		 target_program, weight, cross_dataset, shared_genes)
		VALUES (:run_id, :source_dataset, :source_k, :source_program, :target_dataset, :target_k,
		 :target_program, :weight, :cross_dataset, :shared_genes)`
	for lo := 0; lo < len(edges); lo += edgeBatch {
		batch := make([]persistence.EdgeRecord, 0, edgeBatch)
		for _, e := range edges[lo:min(lo+edgeBatch, len(edges))] {
			e.RunID = run.ID
			batch = append(batch, e)
		}
		if _, err := tx.NamedExecContext(ctx, insert, batch); err != nil {
			return fmt.Errorf("failed to insert network edges: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit network run: %w", err)
	}
	return nil
}

// GetRun loads a run by id
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (persistence.NetworkRun, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var run persistence.NetworkRun
	query := s.db.Rebind(`
		SELECT id, method, min_corr, datasets, geps, edges, created_at
		FROM network_runs WHERE id = ?`)
	if err := s.db.GetContext(ctx, &run, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.NetworkRun{}, fmt.Errorf("%w: %s", persistence.ErrRunNotFound, id)
		}
		return persistence.NetworkRun{}, fmt.Errorf("failed to get network run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]persistence.NetworkRun, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	var runs []persistence.NetworkRun
	query := s.db.Rebind(`
		SELECT id, method, min_corr, datasets, geps, edges, created_at
		FROM network_runs ORDER BY created_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list network runs: %w", err)
	}
	return runs, nil
}

// ListEdges returns edges of a run with |weight| >= minAbs, strongest first
func (s *Store) ListEdges(ctx context.Context, runID uuid.UUID, minAbs float64) ([]persistence.EdgeRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var edges []persistence.EdgeRecord
	query := s.db.Rebind(`
		SELECT run_id, source_dataset, source_k, source_program, target_dataset, target_k,
		       target_program, weight, cross_dataset, shared_genes
		FROM network_edges
		WHERE run_id = ? AND ABS(weight) >= ?
		ORDER BY ABS(weight) DESC, source_dataset, source_k, source_program,
		         target_dataset, target_k, target_program`)
	if err := s.db.SelectContext(ctx, &edges, query, runID, minAbs); err != nil {
		return nil, fmt.Errorf("failed to list network edges: %w", err)
	}
	return edges, nil
}
