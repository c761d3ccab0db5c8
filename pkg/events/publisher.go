package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Publisher publishes events for WebSocket delivery. Persistent events are
// appended to the store then broadcast on the bus with db_event_id injected;
// transient events are broadcast only.
//
// Each public method accepts a specific typed payload struct — see
// payloads.go. The store may be nil, in which case every event is transient
// and reconnect catchup is unavailable.
type Publisher struct {
	store  EventStore
	bus    *Bus
	logger *slog.Logger
}

// NewPublisher creates a publisher over the store and bus.
func NewPublisher(store EventStore, bus *Bus) *Publisher {
	return &Publisher{
		store:  store,
		bus:    bus,
		logger: slog.With("component", "events"),
	}
}

// Timestamp formats t the way every payload expects.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// --- Typed public methods ---

// PublishCycleStarted persists a cycle.started event to the cycle channel and
// broadcasts a transient copy to the global cycles channel for list views.
func (p *Publisher) PublishCycleStarted(ctx context.Context, payload CycleStartedPayload) error {
	payload.Type = EventTypeCycleStarted
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal CycleStartedPayload: %w", err)
	}

	var firstErr error
	if err := p.persistAndBroadcast(ctx, CycleChannel(payload.CycleID), payloadJSON); err != nil {
		p.logger.Warn("Failed to publish cycle started to cycle channel",
			"cycle_id", payload.CycleID, "error", err)
		firstErr = err
	}
	p.broadcastOnly(GlobalCyclesChannel, payloadJSON)
	return firstErr
}

// PublishPhaseChanged persists a phase.changed event to the cycle channel and
// broadcasts a transient copy to the global cycles channel.
func (p *Publisher) PublishPhaseChanged(ctx context.Context, payload PhaseChangedPayload) error {
	payload.Type = EventTypePhaseChanged
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal PhaseChangedPayload: %w", err)
	}

	var firstErr error
	if err := p.persistAndBroadcast(ctx, CycleChannel(payload.CycleID), payloadJSON); err != nil {
		p.logger.Warn("Failed to publish phase change to cycle channel",
			"cycle_id", payload.CycleID, "phase", payload.To, "error", err)
		firstErr = err
	}
	p.broadcastOnly(GlobalCyclesChannel, payloadJSON)
	return firstErr
}

// PublishOutputRecorded persists and broadcasts an output.recorded event.
func (p *Publisher) PublishOutputRecorded(ctx context.Context, payload OutputRecordedPayload) error {
	payload.Type = EventTypeOutputRecorded
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal OutputRecordedPayload: %w", err)
	}
	return p.persistAndBroadcast(ctx, CycleChannel(payload.CycleID), payloadJSON)
}

// PublishFlagCreated persists a flag.created event to the cycle channel and
// broadcasts a transient copy to the flagging agent's channel.
func (p *Publisher) PublishFlagCreated(ctx context.Context, payload FlagCreatedPayload) error {
	payload.Type = EventTypeFlagCreated
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal FlagCreatedPayload: %w", err)
	}

	var firstErr error
	if err := p.persistAndBroadcast(ctx, CycleChannel(payload.CycleID), payloadJSON); err != nil {
		firstErr = err
	}
	if payload.AgentID != "" {
		p.broadcastOnly(AgentChannel(payload.AgentID), payloadJSON)
	}
	return firstErr
}

// PublishPatternDetected persists and broadcasts a pattern.detected event on
// the global cycles channel; patterns span cycles.
func (p *Publisher) PublishPatternDetected(ctx context.Context, payload PatternDetectedPayload) error {
	payload.Type = EventTypePatternDetected
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal PatternDetectedPayload: %w", err)
	}
	return p.persistAndBroadcast(ctx, GlobalCyclesChannel, payloadJSON)
}

// PublishAgentMessage persists and broadcasts an agent.message event.
func (p *Publisher) PublishAgentMessage(ctx context.Context, payload AgentMessagePayload) error {
	payload.Type = EventTypeAgentMessage
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal AgentMessagePayload: %w", err)
	}
	return p.persistAndBroadcast(ctx, CycleChannel(payload.CycleID), payloadJSON)
}

// PublishAuthorizationDecision broadcasts an authorization.decision transient
// event on the deciding agent's channel. High frequency, never persisted.
func (p *Publisher) PublishAuthorizationDecision(_ context.Context, payload AuthorizationDecisionPayload) error {
	payload.Type = EventTypeAuthorizationDecision
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal AuthorizationDecisionPayload: %w", err)
	}
	p.broadcastOnly(AgentChannel(payload.AgentID), payloadJSON)
	return nil
}

// PublishContextProvisioned broadcasts a context.provisioned transient event
// on the receiving agent's channel.
func (p *Publisher) PublishContextProvisioned(_ context.Context, payload ContextProvisionedPayload) error {
	payload.Type = EventTypeContextProvisioned
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal ContextProvisionedPayload: %w", err)
	}
	p.broadcastOnly(AgentChannel(payload.AgentID), payloadJSON)
	return nil
}

// --- Internal core methods ---

// persistAndBroadcast appends the event to the store, injects its db_event_id
// for catchup tracking, and broadcasts on the bus. Without a store the event
// degrades to transient.
func (p *Publisher) persistAndBroadcast(ctx context.Context, channel string, payloadJSON []byte) error {
	if p.store == nil {
		p.broadcastOnly(channel, payloadJSON)
		return nil
	}

	eventID, err := p.store.Append(ctx, channel, payloadJSON)
	if err != nil {
		return fmt.Errorf("persist event: %w", err)
	}
	enriched, err := injectEventID(payloadJSON, eventID)
	if err != nil {
		return err
	}
	p.bus.Publish(channel, enriched)
	return nil
}

func (p *Publisher) broadcastOnly(channel string, payloadJSON []byte) {
	p.bus.Publish(channel, payloadJSON)
}

// injectEventID adds db_event_id to the JSON payload so clients can track
// their catchup position.
func injectEventID(payloadJSON []byte, eventID int64) ([]byte, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return nil, fmt.Errorf("unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = eventID

	enriched, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal enriched payload: %w", err)
	}
	return enriched, nil
}
