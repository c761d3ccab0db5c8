package events

import (
	"github.com/aether-os/aether/pkg/ems"
)

// CycleStartedPayload is the payload for cycle.started events.
type CycleStartedPayload struct {
	Type      string    `json:"type"`     // always EventTypeCycleStarted
	CycleID   string    `json:"cycle_id"` // e.g. ATO-0001
	Phase     ems.Phase `json:"phase"`    // entry phase (oeg)
	Timestamp string    `json:"timestamp"`
}

// PhaseChangedPayload is the payload for phase.changed events.
// Activated and Deactivated list the agents whose activation state the
// transition changed.
type PhaseChangedPayload struct {
	Type        string    `json:"type"` // always EventTypePhaseChanged
	CycleID     string    `json:"cycle_id"`
	From        ems.Phase `json:"from,omitempty"`
	To          ems.Phase `json:"to"`
	Activated   []string  `json:"activated,omitempty"`
	Deactivated []string  `json:"deactivated,omitempty"`
	Timestamp   string    `json:"timestamp"`
}

// OutputRecordedPayload is the payload for output.recorded events.
type OutputRecordedPayload struct {
	Type      string    `json:"type"` // always EventTypeOutputRecorded
	CycleID   string    `json:"cycle_id"`
	Phase     ems.Phase `json:"phase"`
	AgentID   string    `json:"agent_id"`
	Key       string    `json:"key"` // output key within the phase
	Timestamp string    `json:"timestamp"`
}

// FlagCreatedPayload is the payload for flag.created events.
type FlagCreatedPayload struct {
	Type            string               `json:"type"` // always EventTypeFlagCreated
	FlagID          string               `json:"flag_id"`
	CycleID         string               `json:"cycle_id"`
	Phase           ems.Phase            `json:"phase"`
	AgentID         string               `json:"agent_id"`
	Workflow        string               `json:"workflow"`
	FlagType        ems.InefficiencyType `json:"flag_type"`
	TimeWastedHours float64              `json:"time_wasted_hours,omitempty"`
	Timestamp       string               `json:"timestamp"`
}

// PatternDetectedPayload is the payload for pattern.detected events.
type PatternDetectedPayload struct {
	Type        string               `json:"type"` // always EventTypePatternDetected
	PatternID   string               `json:"pattern_id"`
	Workflow    string               `json:"workflow"`
	FlagType    ems.InefficiencyType `json:"flag_type"`
	Occurrences int                  `json:"occurrences"`
	Priority    string               `json:"priority"`
	Timestamp   string               `json:"timestamp"`
}

// AgentMessagePayload is the payload for agent.message events. Content is
// deliberately omitted; subscribers see the exchange, not the payloads.
type AgentMessagePayload struct {
	Type        string `json:"type"` // always EventTypeAgentMessage
	CycleID     string `json:"cycle_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	MessageType string `json:"message_type"` // envelope type, e.g. frequency_request
	OK          bool   `json:"ok"`           // reply carried no error
	Timestamp   string `json:"timestamp"`
}

// AuthorizationDecisionPayload is the payload for authorization.decision
// transient events.
type AuthorizationDecisionPayload struct {
	Type      string   `json:"type"` // always EventTypeAuthorizationDecision
	AgentID   string   `json:"agent_id"`
	Action    string   `json:"action"`
	Allow     bool     `json:"allow"`
	Reasons   []string `json:"reasons,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// ContextProvisionedPayload is the payload for context.provisioned transient
// events.
type ContextProvisionedPayload struct {
	Type        string `json:"type"` // always EventTypeContextProvisioned
	AgentID     string `json:"agent_id"`
	Task        string `json:"task"`
	TokensUsed  int    `json:"tokens_used"`
	TokenBudget int    `json:"token_budget"`
	Elements    int    `json:"elements"` // information elements in the window
	Timestamp   string `json:"timestamp"`
}
