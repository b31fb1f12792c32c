//go:build integration

package database

import (
	"context"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/helixir/data-repository-service/internal/config"
)

// setupTestDB starts a disposable PostgreSQL and connects to it through New.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("datarepo"),
		tcpostgres.WithUsername("datarepo"),
		tcpostgres.WithPassword("datarepo"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)
	u, err := url.Parse(dsn)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	cfg := &config.DatabaseConfig{
		Host:           u.Hostname(),
		Port:           port,
		User:           "datarepo",
		Password:       "datarepo",
		Name:           "datarepo",
		SSLMode:        config.SSLModeDisable,
		MaxConns:       4,
		MinConns:       1,
		ConnectTimeout: 5 * time.Second,
	}

	db, err := New(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestIntegration_HealthAndCheck(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Ping(ctx))
	require.NoError(t, db.Check(ctx))

	h := db.Health(ctx)
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, int32(4), h.MaxConns)
}

func TestIntegration_Migrator(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m, err := NewMigrator(db, "../../migrations", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, m.Up())
	require.NoError(t, m.Up(), "second Up is a no-op")

	version, dirty, err := m.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	var exists bool
	require.NoError(t, db.QueryRow(ctx, "SELECT to_regclass('public.documents') IS NOT NULL").Scan(&exists))
	assert.True(t, exists)

	require.NoError(t, m.Down())
	require.NoError(t, db.QueryRow(ctx, "SELECT to_regclass('public.documents') IS NOT NULL").Scan(&exists))
	assert.False(t, exists)
}
