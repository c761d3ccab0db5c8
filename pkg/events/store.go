package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// DefaultStoreCapacity bounds the in-memory event store. Oldest events are
// dropped once the cap is reached; clients that fall further behind get a
// catchup.overflow and must reload over REST.
const DefaultStoreCapacity = 4096

// StoredEvent is one persisted event row.
type StoredEvent struct {
	ID      int64
	Channel string
	Payload []byte
	At      time.Time
}

// EventStore persists events for reconnect catchup. Implemented in memory
// here and by the database-backed event service when persistence is enabled.
type EventStore interface {
	// Append stores the payload on the channel and returns its event ID.
	// IDs are strictly increasing across all channels.
	Append(ctx context.Context, channel string, payload []byte) (int64, error)
	// Since returns up to limit events on the channel with ID > sinceID,
	// in ID order.
	Since(ctx context.Context, channel string, sinceID int64, limit int) ([]StoredEvent, error)
}

// MemoryStore is a bounded in-memory EventStore, the default when the kernel
// runs without a database.
type MemoryStore struct {
	mu       sync.Mutex
	seq      int64
	capacity int
	events   []StoredEvent
}

// NewMemoryStore creates a store holding at most capacity events;
// capacity <= 0 uses DefaultStoreCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) Append(_ context.Context, channel string, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	stored := StoredEvent{
		ID:      s.seq,
		Channel: channel,
		Payload: append([]byte(nil), payload...),
		At:      time.Now().UTC(),
	}
	s.events = append(s.events, stored)
	if len(s.events) > s.capacity {
		s.events = s.events[len(s.events)-s.capacity:]
	}
	return stored.ID, nil
}

func (s *MemoryStore) Since(_ context.Context, channel string, sinceID int64, limit int) ([]StoredEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []StoredEvent
	for _, evt := range s.events {
		if evt.Channel != channel || evt.ID <= sinceID {
			continue
		}
		out = append(out, evt)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetCatchupEvents implements CatchupQuerier over the store, decoding stored
// payloads for db_event_id injection.
func (s *MemoryStore) GetCatchupEvents(ctx context.Context, channel string, sinceID int64, limit int) ([]CatchupEvent, error) {
	stored, err := s.Since(ctx, channel, sinceID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]CatchupEvent, 0, len(stored))
	for _, evt := range stored {
		var payload map[string]any
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			continue
		}
		out = append(out, CatchupEvent{ID: evt.ID, Payload: payload})
	}
	return out, nil
}
