// Package results persists prediction summaries keyed by job id.
package results

import (
	"context"
	"time"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// Store is the durable summary table.
// Put overwrites any summary already stored for the same job id, so reprocessing
// a redelivered job leaves exactly one row.
type Store interface {
	Put(ctx context.Context, summary *domain.PredictionSummary) error
	// Get returns domain.ErrPredictionNotFound when the job has not completed yet
	Get(ctx context.Context, jobID string) (*domain.PredictionSummary, error)
	// List returns up to PageSize+1 summaries, newest first, so callers can tell
	// whether another page exists
	List(ctx context.Context, filter ListFilter) ([]domain.PredictionSummary, error)
}

// ListFilter selects a page of summaries
type ListFilter struct {
	RequesterRef string
	PageSize     int
	Cursor       *Cursor
}

// Cursor is the position of the last summary on the previous page
type Cursor struct {
	CompletedAt time.Time
	JobID       string
}
