package autoscaling

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

// FleetManager reports how many workers a fleet is meant to run
type FleetManager interface {
	Capacity(ctx context.Context, fleet string) (int, error)
}

const fleetSchema = `
	CREATE TABLE IF NOT EXISTS fleets (
		name             TEXT PRIMARY KEY,
		desired_capacity INTEGER NOT NULL CHECK (desired_capacity >= 0),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)
`

// PostgresFleets reads desired capacity from the fleets table
type PostgresFleets struct {
	db *sqlx.DB
}

// NewPostgresFleets creates a PostgresFleets
func NewPostgresFleets(db *sqlx.DB) *PostgresFleets {
	return &PostgresFleets{db: db}
}

// EnsureSchema creates the fleets table when missing
func (f *PostgresFleets) EnsureSchema(ctx context.Context) error {
	if _, err := f.db.ExecContext(ctx, fleetSchema); err != nil {
		return fmt.Errorf("failed to create fleets table: %w", err)
	}
	return nil
}

func (f *PostgresFleets) Capacity(ctx context.Context, fleet string) (int, error) {
	var capacity int
	err := f.db.GetContext(ctx, &capacity, `SELECT desired_capacity FROM fleets WHERE name = $1`, fleet)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, &domain.FleetLookupError{Fleet: fleet, Err: domain.ErrFleetNotFound}
	}
	if err != nil {
		return 0, &domain.FleetLookupError{Fleet: fleet, Err: domain.NewTransientError(err)}
	}
	return capacity, nil
}

// SetCapacity records the fleet's desired capacity. The streamer only reads
// fleets.desired_capacity; this is the write side for the autoscaler or
// operator tooling that owns the fleet size.
func (f *PostgresFleets) SetCapacity(ctx context.Context, fleet string, capacity int) error {
	query := `
		INSERT INTO fleets (name, desired_capacity, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			desired_capacity = EXCLUDED.desired_capacity,
			updated_at = NOW()
	`
	if _, err := f.db.ExecContext(ctx, query, fleet, capacity); err != nil {
		return fmt.Errorf("failed to set capacity of fleet %s: %w", fleet, err)
	}
	return nil
}

// StaticFleets serves capacities from configuration
type StaticFleets map[string]int

func (s StaticFleets) Capacity(ctx context.Context, fleet string) (int, error) {
	capacity, ok := s[fleet]
	if !ok {
		return 0, &domain.FleetLookupError{Fleet: fleet, Err: domain.ErrFleetNotFound}
	}
	return capacity, nil
}
