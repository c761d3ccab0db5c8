package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aether-os/aether/pkg/events"
)

// EventService is the database-backed events.EventStore. It replaces the
// in-memory store when persistence is enabled, so reconnect catchup survives
// kernel restarts.
type EventService struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewEventService creates a new EventService.
func NewEventService(db *sql.DB) *EventService {
	return &EventService{db: db, logger: slog.With("component", "services")}
}

var _ events.EventStore = (*EventService)(nil)

// Append stores the payload and returns its BIGSERIAL event ID.
func (s *EventService) Append(ctx context.Context, channel string, payload []byte) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO events (channel, cycle_id, payload)
		VALUES ($1, $2, $3) RETURNING id`,
		channel, cycleIDFromChannel(channel), payload).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append event on %s: %w", channel, err)
	}
	return id, nil
}

// Since returns up to limit events on the channel with ID > sinceID, oldest
// first.
func (s *EventService) Since(ctx context.Context, channel string, sinceID int64, limit int) ([]events.StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel, payload, created_at FROM events
		WHERE channel = $1 AND id > $2
		ORDER BY id ASC LIMIT $3`,
		channel, sinceID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query events on %s: %w", channel, err)
	}
	defer rows.Close()

	var out []events.StoredEvent
	for rows.Next() {
		var evt events.StoredEvent
		if err := rows.Scan(&evt.ID, &evt.Channel, &evt.Payload, &evt.At); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, evt)
	}
	return out, rows.Err()
}

// GetCatchupEvents implements events.CatchupQuerier for the WebSocket
// connection manager. Rows with undecodable payloads are skipped.
func (s *EventService) GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]events.CatchupEvent, error) {
	stored, err := s.Since(ctx, channel, sinceID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]events.CatchupEvent, 0, len(stored))
	for _, evt := range stored {
		var payload map[string]any
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			s.logger.Warn("Skipping undecodable stored event", "event_id", evt.ID, "error", err)
			continue
		}
		out = append(out, events.CatchupEvent{ID: evt.ID, Payload: payload})
	}
	return out, nil
}

// cycleIDFromChannel extracts the cycle ID for the denormalized cycle_id
// column. Non-cycle channels store an empty string.
func cycleIDFromChannel(channel string) string {
	if id, ok := strings.CutPrefix(channel, "cycle:"); ok {
		return id
	}
	return ""
}
