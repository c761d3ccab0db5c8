package events

import (
	"log/slog"
	"sync"
)

// BusHandler receives every published event. The ConnectionManager's
// Broadcast satisfies this signature.
type BusHandler func(channel string, payload []byte)

// Bus is the in-process fan-out between the publisher and its consumers.
// Handlers run synchronously in registration order; a panicking handler is
// recovered and logged so one consumer cannot drop events for the rest.
type Bus struct {
	mu       sync.RWMutex
	handlers []BusHandler
	logger   *slog.Logger
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{logger: slog.With("component", "events")}
}

// Subscribe registers a handler for all subsequent publishes.
func (b *Bus) Subscribe(handler BusHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// Publish delivers the payload to every handler.
func (b *Bus) Publish(channel string, payload []byte) {
	b.mu.RLock()
	handlers := make([]BusHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.deliver(handler, channel, payload)
	}
}

func (b *Bus) deliver(handler BusHandler, channel string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event handler panicked", "channel", channel, "panic", r)
		}
	}()
	handler(channel, payload)
}
