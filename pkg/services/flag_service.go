package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/improve"
)

// FlagService persists process improvement flags. Implements
// improve.FlagSink for best-effort writes from the flag logger.
type FlagService struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewFlagService creates a new FlagService.
func NewFlagService(db *sql.DB) *FlagService {
	return &FlagService{db: db, logger: slog.With("component", "services")}
}

// RecordFlag stores a flag row. Failures are logged, never returned; the
// in-memory flag log already holds the authoritative copy.
func (s *FlagService) RecordFlag(flag improve.Flag) {
	ctx, cancel := writeContext()
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flags (id, seq, cycle_id, phase, agent_id, workflow, inefficiency,
			description, time_wasted_hours, suggestion, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		flag.ID, flag.Seq, flag.CycleID, string(flag.Phase), flag.AgentID,
		flag.Workflow, string(flag.Type), flag.Description,
		flag.TimeWastedHours, flag.SuggestedImprovement, flag.CreatedAt)
	if err != nil {
		s.logger.Warn("Failed to persist flag", "flag_id", flag.ID, "error", err)
	}
}

// FlagFilter narrows ListFlags results. Zero fields match everything.
type FlagFilter struct {
	CycleID string
	AgentID string
	Type    ems.InefficiencyType
	Limit   int
}

// ListFlags returns persisted flags, newest first.
func (s *FlagService) ListFlags(ctx context.Context, filter FlagFilter) ([]improve.Flag, error) {
	query := `SELECT id, seq, cycle_id, phase, agent_id, workflow, inefficiency,
		description, time_wasted_hours, suggestion, created_at
		FROM flags WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.CycleID != "" {
		query += " AND cycle_id = " + arg(filter.CycleID)
	}
	if filter.AgentID != "" {
		query += " AND agent_id = " + arg(filter.AgentID)
	}
	if filter.Type != "" {
		query += " AND inefficiency = " + arg(string(filter.Type))
	}
	query += " ORDER BY seq DESC LIMIT " + arg(clampLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	defer rows.Close()

	var flags []improve.Flag
	for rows.Next() {
		var f improve.Flag
		var phase, inefficiency string
		if err := rows.Scan(&f.ID, &f.Seq, &f.CycleID, &phase, &f.AgentID,
			&f.Workflow, &inefficiency, &f.Description,
			&f.TimeWastedHours, &f.SuggestedImprovement, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		f.Phase = ems.Phase(phase)
		f.Type = ems.InefficiencyType(inefficiency)
		flags = append(flags, f)
	}
	return flags, rows.Err()
}
