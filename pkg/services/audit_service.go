package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/ems"
)

// AuditService persists the information access audit trail. Implements
// broker.AuditSink for best-effort writes from the in-memory trail.
type AuditService struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAuditService creates a new AuditService.
func NewAuditService(db *sql.DB) *AuditService {
	return &AuditService{db: db, logger: slog.With("component", "services")}
}

// RecordAudit stores one audit entry. Failures are logged, never returned.
func (s *AuditService) RecordAudit(entry broker.AuditEntry) {
	ctx, cancel := writeContext()
	defer cancel()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (seq, agent_id, role, category, query_summary,
			decision, access_level, sanitized, phase, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (seq) DO NOTHING`,
		entry.Seq, entry.AgentID, string(entry.Role), string(entry.Category),
		entry.QuerySummary, entry.Decision, entry.AccessLevel.String(),
		entry.Sanitized, string(entry.Phase), entry.Timestamp)
	if err != nil {
		s.logger.Warn("Failed to persist audit entry", "seq", entry.Seq, "error", err)
	}
}

// ListAudit returns persisted audit entries matching the filter, newest first.
func (s *AuditService) ListAudit(ctx context.Context, filter broker.AuditFilter, limit int) ([]broker.AuditEntry, error) {
	query := `SELECT seq, agent_id, role, category, query_summary, decision,
		access_level, sanitized, phase, created_at
		FROM audit_entries WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.AgentID != "" {
		query += " AND agent_id = " + arg(filter.AgentID)
	}
	if filter.Category != "" {
		query += " AND category = " + arg(string(filter.Category))
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= " + arg(filter.Since)
	}
	query += " ORDER BY seq DESC LIMIT " + arg(clampLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []broker.AuditEntry
	for rows.Next() {
		var e broker.AuditEntry
		var role, category, level, phase string
		if err := rows.Scan(&e.Seq, &e.AgentID, &role, &category, &e.QuerySummary,
			&e.Decision, &level, &e.Sanitized, &phase, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Role = ems.AgentRole(role)
		e.Category = ems.InformationCategory(category)
		if parsed, perr := ems.ParseAccessLevel(level); perr == nil {
			e.AccessLevel = parsed
		}
		e.Phase = ems.Phase(phase)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
