package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/aether-os/aether/pkg/provision"
)

// UsageService persists context window usage statistics. Implements
// provision.UsageSink for best-effort writes from the tracker.
type UsageService struct {
	db     *sql.DB
	logger *slog.Logger

	// CycleIDFn, when set, supplies the active cycle ID for each row. Usage
	// entries do not carry one themselves.
	CycleIDFn func() string
}

// NewUsageService creates a new UsageService.
func NewUsageService(db *sql.DB) *UsageService {
	return &UsageService{db: db, logger: slog.With("component", "services")}
}

// RecordUsage stores one usage entry. Failures are logged, never returned.
func (s *UsageService) RecordUsage(entry provision.UsageEntry) {
	ctx, cancel := writeContext()
	defer cancel()

	cycleID := ""
	if s.CycleIDFn != nil {
		cycleID = s.CycleIDFn()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO context_usage (agent_id, cycle_id, phase, task, provisioned,
			referenced, token_budget, tokens_used, utilization_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.AgentID, cycleID, entry.Phase, entry.Task, entry.Provisioned,
		entry.Referenced, entry.TokenBudget, entry.TokensUsed,
		entry.UtilizationRate, entry.Timestamp)
	if err != nil {
		s.logger.Warn("Failed to persist usage entry", "agent_id", entry.AgentID, "error", err)
	}
}

// UsageFilter narrows ListUsage results. Zero fields match everything.
type UsageFilter struct {
	AgentID string
	CycleID string
	Since   time.Time
	Limit   int
}

// ListUsage returns persisted usage entries, newest first.
func (s *UsageService) ListUsage(ctx context.Context, filter UsageFilter) ([]provision.UsageEntry, error) {
	query := `SELECT agent_id, phase, task, provisioned, referenced,
		token_budget, tokens_used, utilization_rate, created_at
		FROM context_usage WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.AgentID != "" {
		query += " AND agent_id = " + arg(filter.AgentID)
	}
	if filter.CycleID != "" {
		query += " AND cycle_id = " + arg(filter.CycleID)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= " + arg(filter.Since)
	}
	query += " ORDER BY id DESC LIMIT " + arg(clampLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list usage entries: %w", err)
	}
	defer rows.Close()

	var entries []provision.UsageEntry
	for rows.Next() {
		var e provision.UsageEntry
		if err := rows.Scan(&e.AgentID, &e.Phase, &e.Task, &e.Provisioned,
			&e.Referenced, &e.TokenBudget, &e.TokensUsed,
			&e.UtilizationRate, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan usage entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
