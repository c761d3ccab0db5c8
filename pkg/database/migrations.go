package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Migrate applies all pending embedded migrations to db. Exposed for test
// setups that build their own connection (per-test schemas) instead of going
// through NewClient.
func Migrate(ctx context.Context, db *sql.DB, dbName string) error {
	return runMigrations(ctx, db, Config{Database: dbName})
}

// CreateGINIndexes creates JSONB GIN indexes for PostgreSQL. These enable
// efficient containment queries on event payloads and are kept out of the
// numbered migrations so they can be re-applied idempotently.
func CreateGINIndexes(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_events_payload_gin
		ON events USING gin(payload)`)
	if err != nil {
		return fmt.Errorf("failed to create events payload GIN index: %w", err)
	}
	return nil
}
