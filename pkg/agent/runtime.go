package agent

import (
	"context"
	"time"

	"github.com/aether-os/aether/pkg/authz"
	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/improve"
	"github.com/aether-os/aether/pkg/perf"
	"github.com/aether-os/aether/pkg/provision"
)

// Runtime is the capability bundle the kernel hands each agent. Agents never
// reach subsystems directly; everything flows through this interface so the
// kernel can enforce activation, authorization, and audit on every call.
type Runtime interface {
	// CurrentPhase returns the active cycle's phase, or the cycle start
	// phase when no cycle is running.
	CurrentPhase() ems.Phase

	// CurrentCycleID returns the active cycle ID, empty when none.
	CurrentCycleID() string

	// CycleOutputs returns the current cycle's outputs flattened across
	// phases. Nil when no cycle is active.
	CycleOutputs() map[string]any

	// RecordOutput stores a key output on the current cycle's phase.
	RecordOutput(key string, value any) error

	// QueryInformation routes a category query through the broker with the
	// caller's access profile applied.
	QueryInformation(ctx context.Context, agentID string, category ems.InformationCategory, params map[string]any) (*broker.Result, error)

	// Broker exposes the typed broker operations (spectrum conflict checks,
	// allocations, asset reservations). Access control still applies per
	// call.
	Broker() *broker.Broker

	// AuthorizeAction evaluates the action through every authorization
	// factor.
	AuthorizeAction(ctx context.Context, agentID string, action authz.Action) authz.Decision

	// SendAgentMessage delivers a point-to-point message; both parties
	// must be active in the current phase.
	SendAgentMessage(ctx context.Context, from, to, messageType string, payload map[string]any) (Reply, error)

	// BuildContext assembles a token-budgeted context window for a task.
	BuildContext(ctx context.Context, agentID, task string, maxTokens int) (*provision.AgentContext, error)

	// TrackContextUsage scores a response against its window.
	TrackContextUsage(ctx context.Context, window *provision.AgentContext, response string) (*provision.UsageReport, error)

	// RaiseFlag appends a process-improvement flag.
	RaiseFlag(input improve.FlagInput) (improve.Flag, error)

	// Flags reads the flag log for assessment and evaluation work.
	Flags(filter improve.FlagFilter) []improve.Flag

	// Detector exposes the auto-flag rules for procedure telemetry.
	Detector() *improve.Detector

	// RecordTaskExecution feeds the performance evaluator.
	RecordTaskExecution(m perf.TaskExecutionMetric)

	// EvaluateAgentPerformance scores one agent for one cycle.
	EvaluateAgentPerformance(agentID, cycleID string) (*perf.AgentPerformanceMetrics, error)

	// EscalateToHuman routes a decision out of the agent layer and returns
	// the operator's answer, or nil when no operator hook is installed.
	EscalateToHuman(agentID, reason string, payload map[string]any) map[string]any

	// Now is the kernel clock; simulated in tests.
	Now() time.Time
}
