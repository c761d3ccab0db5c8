package events

import (
	"context"
	"sort"

	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/improve"
	"github.com/aether-os/aether/pkg/orchestrator"
	"github.com/aether-os/aether/pkg/provision"
)

// OrchestratorHandler returns an orchestrator event handler that publishes
// cycle.started and phase.changed. The profile registry resolves which agents
// each transition activates and deactivates; the handler keeps the previous
// phase between calls, which is safe because orchestrator handlers run
// synchronously in registration order.
func OrchestratorHandler(pub *Publisher, profiles *config.ProfileRegistry) orchestrator.Handler {
	var prevPhase ems.Phase
	return func(event orchestrator.Event) {
		ctx := context.Background()
		switch event.Type {
		case orchestrator.EventCycleStarted:
			prevPhase = ""
			_ = pub.PublishCycleStarted(ctx, CycleStartedPayload{
				CycleID:   event.CycleID,
				Phase:     ems.PhaseOEG,
				Timestamp: Timestamp(event.At),
			})
		case orchestrator.EventPhaseEntered:
			activated, deactivated := activationDiff(profiles, prevPhase, event.Phase)
			_ = pub.PublishPhaseChanged(ctx, PhaseChangedPayload{
				CycleID:     event.CycleID,
				From:        prevPhase,
				To:          event.Phase,
				Activated:   activated,
				Deactivated: deactivated,
				Timestamp:   Timestamp(event.At),
			})
			prevPhase = event.Phase
		case orchestrator.EventCycleCompleted, orchestrator.EventCycleCancelled:
			prevPhase = ""
		}
	}
}

// activationDiff lists the agents whose activation changes between phases,
// sorted for stable payloads.
func activationDiff(profiles *config.ProfileRegistry, from, to ems.Phase) (activated, deactivated []string) {
	if profiles == nil {
		return nil, nil
	}
	for agentID, profile := range profiles.GetAll() {
		wasActive := from != "" && profile.ActiveIn(from)
		isActive := profile.ActiveIn(to)
		switch {
		case isActive && !wasActive:
			activated = append(activated, agentID)
		case wasActive && !isActive:
			deactivated = append(deactivated, agentID)
		}
	}
	sort.Strings(activated)
	sort.Strings(deactivated)
	return activated, deactivated
}

// FlagSink publishes flag.created for every flag raised. Chain wraps an
// optional downstream sink (metrics, persistence).
type FlagSink struct {
	Pub   *Publisher
	Chain improve.FlagSink
}

func (s FlagSink) RecordFlag(flag improve.Flag) {
	_ = s.Pub.PublishFlagCreated(context.Background(), FlagCreatedPayload{
		FlagID:          flag.ID,
		CycleID:         flag.CycleID,
		Phase:           flag.Phase,
		AgentID:         flag.AgentID,
		Workflow:        flag.Workflow,
		FlagType:        flag.Type,
		TimeWastedHours: flag.TimeWastedHours,
		Timestamp:       Timestamp(flag.CreatedAt),
	})
	if s.Chain != nil {
		s.Chain.RecordFlag(flag)
	}
}

// UsageSink publishes context.provisioned for every tracked window. Chain
// wraps an optional downstream sink.
type UsageSink struct {
	Pub   *Publisher
	Chain provision.UsageSink
}

func (s UsageSink) RecordUsage(entry provision.UsageEntry) {
	_ = s.Pub.PublishContextProvisioned(context.Background(), ContextProvisionedPayload{
		AgentID:     entry.AgentID,
		Task:        entry.Task,
		TokensUsed:  entry.TokensUsed,
		TokenBudget: entry.TokenBudget,
		Elements:    entry.Provisioned,
		Timestamp:   Timestamp(entry.Timestamp),
	})
	if s.Chain != nil {
		s.Chain.RecordUsage(entry)
	}
}
