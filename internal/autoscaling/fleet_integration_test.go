//go:build integration

package autoscaling

import (
	"context"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/detect-pipeline/internal/domain"
)

func TestPostgresFleets(t *testing.T) {
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}

	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	fleets := NewPostgresFleets(db)
	require.NoError(t, fleets.EnsureSchema(ctx))

	require.NoError(t, fleets.SetCapacity(ctx, "it-fleet", 3))
	capacity, err := fleets.Capacity(ctx, "it-fleet")
	require.NoError(t, err)
	assert.Equal(t, 3, capacity)

	require.NoError(t, fleets.SetCapacity(ctx, "it-fleet", 0))
	capacity, err = fleets.Capacity(ctx, "it-fleet")
	require.NoError(t, err)
	assert.Zero(t, capacity)

	_, err = fleets.Capacity(ctx, "it-fleet-missing")
	assert.ErrorIs(t, err, domain.ErrFleetNotFound)
}
