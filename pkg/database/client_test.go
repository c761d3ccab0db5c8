package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// testConnString returns a PostgreSQL connection string with CI/local detection.
// In CI (when CI_DATABASE_URL is set): connects to external PostgreSQL service container.
// In local dev: spins up a testcontainer with PostgreSQL.
func testConnString(t *testing.T) string {
	ctx := context.Background()

	if ciDatabaseURL := os.Getenv("CI_DATABASE_URL"); ciDatabaseURL != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		return ciDatabaseURL
	}

	t.Log("Using testcontainers for PostgreSQL")
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

// newTestClient creates a migrated client against a test database.
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	cfg := Config{
		URL:          testConnString(t),
		Database:     "test",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
	})

	return client
}

func TestClientMigrationsCreateTables(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	for _, table := range []string{"cycles", "flags", "audit_entries", "events", "context_usage"} {
		var exists bool
		err := client.DB().QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`,
			table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}
}

func TestClientMigrationsIdempotent(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	// Re-running against an up-to-date schema must be a no-op
	err := runMigrations(ctx, client.DB(), Config{Database: "test"})
	require.NoError(t, err)
}

func TestClientHealth(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	status, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, 10, status.MaxOpenConns)
	assert.GreaterOrEqual(t, status.ResponseTime, int64(0))
}

func TestClientInsertRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	_, err := client.DB().ExecContext(ctx,
		`INSERT INTO flags (id, cycle_id, phase, agent_id, workflow, inefficiency, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		"FLAG-000001", "ATO-0001", "PHASE3_WEAPONEERING", "ew_planner_agent",
		"Plan EW Missions", "INFORMATION_GAP", "missing threat data")
	require.NoError(t, err)

	var workflow string
	err = client.DB().QueryRowContext(ctx,
		`SELECT workflow FROM flags WHERE id = $1`, "FLAG-000001").Scan(&workflow)
	require.NoError(t, err)
	assert.Equal(t, "Plan EW Missions", workflow)
}

func TestConfigDSN(t *testing.T) {
	t.Run("url takes precedence", func(t *testing.T) {
		cfg := Config{
			URL:  "postgres://u:p@host:5432/db",
			Host: "ignored",
		}
		assert.Equal(t, "postgres://u:p@host:5432/db", cfg.DSN())
	})

	t.Run("discrete fields", func(t *testing.T) {
		cfg := Config{
			Host:     "localhost",
			Port:     5432,
			User:     "aether",
			Password: "secret",
			Database: "aether",
			SSLMode:  "disable",
		}
		assert.Equal(t,
			"host=localhost port=5432 user=aether password=secret dbname=aether sslmode=disable",
			cfg.DSN())
	})
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("AETHER_DATABASE_URL", "postgres://u:p@db.internal:5433/aether")

	cfg, err := LoadConfigFromEnv("AETHER_DATABASE_URL")
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.Host)
	assert.Equal(t, 5433, cfg.Port)
	assert.Equal(t, "postgres://u:p@db.internal:5433/aether", cfg.URL)

	t.Run("invalid port", func(t *testing.T) {
		t.Setenv("DB_PORT", "not-a-port")
		_, err := LoadConfigFromEnv("")
		assert.Error(t, err)
	})
}
