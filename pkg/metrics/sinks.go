package metrics

import (
	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/improve"
	"github.com/aether-os/aether/pkg/orchestrator"
	"github.com/aether-os/aether/pkg/provision"
)

// AuditSink feeds broker query metrics from the audit trail. Chain wraps an
// optional downstream sink (persistence).
type AuditSink struct {
	Chain broker.AuditSink
}

func (s AuditSink) RecordAudit(entry broker.AuditEntry) {
	BrokerQueriesTotal.WithLabelValues(string(entry.Category), entry.Decision).Inc()
	if entry.Sanitized {
		SanitizedQueriesTotal.WithLabelValues(string(entry.Category)).Inc()
	}
	if s.Chain != nil {
		s.Chain.RecordAudit(entry)
	}
}

// FlagSink feeds flag metrics from the improvement log.
type FlagSink struct {
	Chain improve.FlagSink
}

func (s FlagSink) RecordFlag(flag improve.Flag) {
	FlagsTotal.WithLabelValues(string(flag.Type), flag.AgentID).Inc()
	if flag.TimeWastedHours > 0 {
		TimeWastedHoursTotal.WithLabelValues(flag.AgentID).Add(flag.TimeWastedHours)
	}
	if s.Chain != nil {
		s.Chain.RecordFlag(flag)
	}
}

// UsageSink feeds context utilization metrics from the usage log.
type UsageSink struct {
	Chain provision.UsageSink
}

func (s UsageSink) RecordUsage(entry provision.UsageEntry) {
	ContextUtilization.WithLabelValues(entry.AgentID).Observe(entry.UtilizationRate)
	ContextWindowTokens.WithLabelValues(entry.AgentID).Observe(float64(entry.TokensUsed))
	if s.Chain != nil {
		s.Chain.RecordUsage(entry)
	}
}

// OrchestratorHandler feeds phase and cycle counters from lifecycle events.
// Subscribe it on the orchestrator.
func OrchestratorHandler(event orchestrator.Event) {
	switch event.Type {
	case orchestrator.EventPhaseEntered:
		PhaseTransitionsTotal.WithLabelValues(string(event.Phase)).Inc()
	case orchestrator.EventCycleStarted, orchestrator.EventCycleCompleted, orchestrator.EventCycleCancelled:
		CyclesTotal.WithLabelValues(event.Type).Inc()
	}
}
