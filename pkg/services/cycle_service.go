package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/orchestrator"
)

// CycleService persists cycle history. Live cycle state stays in the
// orchestrator; the rows here survive restarts and back the history API.
type CycleService struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCycleService creates a new CycleService.
func NewCycleService(db *sql.DB) *CycleService {
	return &CycleService{db: db, logger: slog.With("component", "services")}
}

// CycleRecord is one persisted cycle row.
type CycleRecord struct {
	CycleID      string                       `json:"cycle_id"`
	Status       string                       `json:"status"`
	CurrentPhase ems.Phase                    `json:"current_phase"`
	StartTime    time.Time                    `json:"start_time"`
	EndTime      *time.Time                   `json:"end_time,omitempty"`
	Outputs      map[ems.Phase]map[string]any `json:"outputs,omitempty"`
	PhaseHistory []orchestrator.PhaseRecord   `json:"phase_history"`
	UpdatedAt    time.Time                    `json:"updated_at"`
}

// Handler returns an orchestrator subscriber that mirrors lifecycle
// transitions into the cycles table. The orchestrator emits after releasing
// its lock, so fetching the summary here cannot deadlock. Writes are
// best-effort.
func (s *CycleService) Handler(source func() (*orchestrator.Summary, error)) orchestrator.Handler {
	return func(e orchestrator.Event) {
		switch e.Type {
		case orchestrator.EventCycleStarted, orchestrator.EventPhaseEntered:
			summary, err := source()
			if err != nil || summary.CycleID != e.CycleID {
				return
			}
			ctx, cancel := writeContext()
			defer cancel()
			if err := s.SaveSummary(ctx, summary); err != nil {
				s.logger.Warn("Failed to persist cycle state", "cycle", e.CycleID, "error", err)
			}
		case orchestrator.EventCycleCompleted:
			s.markEnded(e.CycleID, orchestrator.StatusCompleted, e.At)
		case orchestrator.EventCycleCancelled:
			s.markEnded(e.CycleID, orchestrator.StatusCancelled, e.At)
		}
	}
}

// SaveSummary upserts the cycle row from a live summary.
func (s *CycleService) SaveSummary(ctx context.Context, summary *orchestrator.Summary) error {
	outputs, err := json.Marshal(summary.Outputs)
	if err != nil {
		return fmt.Errorf("marshal cycle outputs: %w", err)
	}
	if summary.Outputs == nil {
		outputs = []byte("{}")
	}
	history, err := json.Marshal(summary.PhaseHistory)
	if err != nil {
		return fmt.Errorf("marshal phase history: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cycles (cycle_id, status, current_phase, start_time, outputs, phase_history)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cycle_id) DO UPDATE SET
			status = EXCLUDED.status,
			current_phase = EXCLUDED.current_phase,
			outputs = EXCLUDED.outputs,
			phase_history = EXCLUDED.phase_history,
			updated_at = now()`,
		summary.CycleID, summary.Status, string(summary.Phase),
		summary.StartedAt, outputs, history)
	if err != nil {
		return fmt.Errorf("upsert cycle %s: %w", summary.CycleID, err)
	}
	return nil
}

func (s *CycleService) markEnded(cycleID, status string, at time.Time) {
	ctx, cancel := writeContext()
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`UPDATE cycles SET status = $2, end_time = $3, updated_at = now()
		WHERE cycle_id = $1`,
		cycleID, status, at)
	if err != nil {
		s.logger.Warn("Failed to close cycle row", "cycle", cycleID, "error", err)
	}
}

// GetCycle returns one persisted cycle, or ErrNotFound.
func (s *CycleService) GetCycle(ctx context.Context, cycleID string) (*CycleRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT cycle_id, status, current_phase, start_time, end_time,
			outputs, phase_history, updated_at
		FROM cycles WHERE cycle_id = $1`, cycleID)
	record, err := scanCycle(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cycle %s: %w", cycleID, ErrNotFound)
	}
	return record, err
}

// ListCycles returns persisted cycles, most recently started first.
func (s *CycleService) ListCycles(ctx context.Context, limit int) ([]CycleRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cycle_id, status, current_phase, start_time, end_time,
			outputs, phase_history, updated_at
		FROM cycles ORDER BY start_time DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list cycles: %w", err)
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		record, err := scanCycle(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func scanCycle(scan func(...any) error) (*CycleRecord, error) {
	var r CycleRecord
	var phase string
	var endTime sql.NullTime
	var outputs, history []byte
	if err := scan(&r.CycleID, &r.Status, &phase, &r.StartTime, &endTime,
		&outputs, &history, &r.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan cycle: %w", err)
	}
	r.CurrentPhase = ems.Phase(phase)
	if endTime.Valid {
		t := endTime.Time
		r.EndTime = &t
	}
	if err := json.Unmarshal(outputs, &r.Outputs); err != nil {
		return nil, fmt.Errorf("decode cycle outputs: %w", err)
	}
	if err := json.Unmarshal(history, &r.PhaseHistory); err != nil {
		return nil, fmt.Errorf("decode phase history: %w", err)
	}
	return &r, nil
}
