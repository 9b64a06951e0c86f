package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when a network run id is unknown.
var ErrRunNotFound = errors.New("network run not found")

// NetworkRun describes one persisted similarity network build
type NetworkRun struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Method    string    `json:"method" db:"method"`
	MinCorr   float64   `json:"min_corr" db:"min_corr"`
	Datasets  string    `json:"datasets" db:"datasets"` // comma separated, registry order
	GEPs      int       `json:"geps" db:"geps"`
	Edges     int       `json:"edges" db:"edges"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EdgeRecord is one network edge row
type EdgeRecord struct {
	RunID         uuid.UUID `json:"run_id" db:"run_id"`
	SourceDataset string    `json:"source_dataset" db:"source_dataset"`
	SourceK       int       `json:"source_k" db:"source_k"`
	SourceProgram int       `json:"source_program" db:"source_program"`
	TargetDataset string    `json:"target_dataset" db:"target_dataset"`
	TargetK       int       `json:"target_k" db:"target_k"`
	TargetProgram int       `json:"target_program" db:"target_program"`
	Weight        float64   `json:"weight" db:"weight"`
	CrossDataset  bool      `json:"cross_dataset" db:"cross_dataset"`
	SharedGenes   int       `json:"shared_genes" db:"shared_genes"`
}

// NetworkRepo persists built networks
type NetworkRepo interface {
	// Migrate creates the tables if they do not exist
	Migrate(ctx context.Context) error

	// SaveRun stores a run and its edges atomically
	SaveRun(ctx context.Context, run NetworkRun, edges []EdgeRecord) error

	// GetRun loads a run by id
	GetRun(ctx context.Context, id uuid.UUID) (NetworkRun, error)

	// ListRuns returns the most recent runs first
	ListRuns(ctx context.Context, limit int) ([]NetworkRun, error)

	// ListEdges returns edges of a run with |weight| >= minAbs, strongest first
	ListEdges(ctx context.Context, runID uuid.UUID, minAbs float64) ([]EdgeRecord, error)
}
