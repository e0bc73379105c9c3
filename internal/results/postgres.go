package results

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

const schema = `
	CREATE TABLE IF NOT EXISTS predictions (
		job_id        TEXT PRIMARY KEY,
		input_ref     TEXT NOT NULL,
		output_ref    TEXT NOT NULL,
		requester_ref TEXT NOT NULL DEFAULT '',
		detections    JSONB NOT NULL DEFAULT '[]'::jsonb,
		completed_at  TIMESTAMPTZ NOT NULL
	)
`

// PostgresStore keeps summaries in the predictions table
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the predictions table when missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create predictions table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, summary *domain.PredictionSummary) error {
	query := `
		INSERT INTO predictions (
			job_id, input_ref, output_ref, requester_ref, detections, completed_at
		) VALUES (
			:job_id, :input_ref, :output_ref, :requester_ref, :detections, :completed_at
		)
		ON CONFLICT (job_id) DO UPDATE SET
			input_ref = EXCLUDED.input_ref,
			output_ref = EXCLUDED.output_ref,
			requester_ref = EXCLUDED.requester_ref,
			detections = EXCLUDED.detections,
			completed_at = EXCLUDED.completed_at
	`

	if _, err := s.db.NamedExecContext(ctx, query, summary); err != nil {
		return domain.NewTransientError(fmt.Errorf("failed to store prediction %s: %w", summary.JobID, err))
	}

	s.logger.Debug("Prediction stored",
		slog.String("job_id", summary.JobID),
		slog.Int("detections", len(summary.Detections)),
	)
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (*domain.PredictionSummary, error) {
	query := `
		SELECT job_id, input_ref, output_ref, requester_ref, detections, completed_at
		FROM predictions
		WHERE job_id = $1
	`

	var summary domain.PredictionSummary
	if err := s.db.GetContext(ctx, &summary, query, jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPredictionNotFound
		}
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}

	return &summary, nil
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]domain.PredictionSummary, error) {
	query := `
		SELECT job_id, input_ref, output_ref, requester_ref, detections, completed_at
		FROM predictions
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.RequesterRef != "" {
		query += fmt.Sprintf(" AND requester_ref = $%d", argIdx)
		args = append(args, filter.RequesterRef)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (completed_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CompletedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY completed_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var summaries []domain.PredictionSummary
	if err := s.db.SelectContext(ctx, &summaries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}

	return summaries, nil
}
