// Package events provides real-time event delivery via WebSocket, backed by
// an in-process bus. The kernel runs as a single process, so cross-pod
// distribution is unnecessary; persistent events are stored through an
// EventStore for catchup, transient events are broadcast only.
//
// Event lifecycle:
//
//	persistent: store → inject db_event_id → bus → WebSocket subscribers
//	transient:  bus → WebSocket subscribers (lost on reconnect)
//
// Clients subscribe to channels and receive every event published there.
// Reconnecting clients send their last seen db_event_id and receive the
// missed persistent events from the store.
package events

// Persistent event types (stored + broadcast).
const (
	// Cycle lifecycle
	EventTypeCycleStarted = "cycle.started"

	// Phase transitions — carries activated and deactivated agent sets
	EventTypePhaseChanged = "phase.changed"

	// Phase output recorded by an agent
	EventTypeOutputRecorded = "output.recorded"

	// Process improvement
	EventTypeFlagCreated     = "flag.created"
	EventTypePatternDetected = "pattern.detected"

	// Inter-agent messaging
	EventTypeAgentMessage = "agent.message"
)

// Transient event types (broadcast only, no persistence).
const (
	// Authorization decisions — high-frequency, ephemeral
	EventTypeAuthorizationDecision = "authorization.decision"

	// Context window provisioned for an agent task
	EventTypeContextProvisioned = "context.provisioned"
)

// GlobalCyclesChannel is the channel for cycle-level lifecycle events.
// Dashboards subscribe to this for real-time cycle updates.
const GlobalCyclesChannel = "cycles"

// CycleChannel returns the channel name for a specific cycle's events.
// Format: "cycle:{cycle_id}"
func CycleChannel(cycleID string) string {
	return "cycle:" + cycleID
}

// AgentChannel returns the channel name for a specific agent's events.
// Format: "agent:{agent_id}"
func AgentChannel(agentID string) string {
	return "agent:" + agentID
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // Channel name (e.g., "cycle:ATO-0001")
	LastEventID *int64 `json:"last_event_id,omitempty"` // For catchup
}
