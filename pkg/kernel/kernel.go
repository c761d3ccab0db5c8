// Package kernel is the coordination core: it owns the agent registry and
// activation state, routes messages between active agents, and exposes the
// stable operations API over the orchestrator, broker, authorization engine,
// context provisioner, flag log, and performance evaluator. All shared state
// lives on the Kernel value; nothing is ambient.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aether-os/aether/pkg/agent"
	"github.com/aether-os/aether/pkg/authz"
	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/embedding"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/improve"
	"github.com/aether-os/aether/pkg/llm"
	"github.com/aether-os/aether/pkg/orchestrator"
	"github.com/aether-os/aether/pkg/perf"
	"github.com/aether-os/aether/pkg/provision"
)

// Escalator receives decisions an agent cannot make on its own. The returned
// map is the operator's answer; nil means unanswered.
type Escalator interface {
	Escalate(agentID, reason string, payload map[string]any) map[string]any
}

// EscalationRecord is one logged human escalation.
type EscalationRecord struct {
	CycleID  string         `json:"cycle_id,omitempty"`
	AgentID  string         `json:"agent_id"`
	Reason   string         `json:"reason"`
	Payload  map[string]any `json:"payload,omitempty"`
	Answered bool           `json:"answered"`
	At       time.Time      `json:"at"`
}

// Deps are the subsystems the kernel coordinates. Orchestrator, Broker,
// Authz, Profiles, Flags, and Detector are required; the rest degrade
// gracefully when nil.
type Deps struct {
	Profiles     *config.ProfileRegistry
	Orchestrator *orchestrator.Orchestrator
	Broker       *broker.Broker
	Authz        *authz.Engine
	Flags        *improve.Logger
	Detector     *improve.Detector
	Miner        *improve.Miner
	Embedder     embedding.Engine
	Tracker      *provision.Tracker
	LLM          *llm.Client
	Escalator    Escalator

	// ContextOptions tunes the provisioner the kernel builds over its own
	// history and collaboration sources.
	ContextOptions provision.Options

	// DispatchPhaseTasks submits ExecutePhaseTasks to newly entered phases'
	// active agents. Off, phase tasks run only when callers drive them.
	DispatchPhaseTasks bool

	// Clock supplies kernel time; nil uses time.Now.
	Clock func() time.Time
}

// Kernel coordinates the agent runtime. It implements agent.Runtime; agents
// receive it as their capability bundle and never touch subsystems directly.
type Kernel struct {
	profiles    *config.ProfileRegistry
	orch        *orchestrator.Orchestrator
	brk         *broker.Broker
	authz       *authz.Engine
	flags       *improve.Logger
	detector    *improve.Detector
	miner       *improve.Miner
	tracker     *provision.Tracker
	provisioner *provision.Provisioner
	perf        *perf.Evaluator
	llm         *llm.Client
	escalator   Escalator
	dispatch    bool
	clock       func() time.Time
	logger      *slog.Logger

	registry  *registry
	messenger *messenger

	mu          sync.Mutex
	escalations []EscalationRecord
	infoCounts  map[resourceKey]int
}

type resourceKey struct {
	agentID string
	cycleID string
}

// New wires a kernel over its subsystems and subscribes it to the
// orchestrator's phase transitions.
func New(deps Deps) *Kernel {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	miner := deps.Miner
	if miner == nil {
		miner = improve.NewMiner(config.DefaultPatternMinOccurrences, config.DefaultPatternMinCycles)
	}

	k := &Kernel{
		profiles:   deps.Profiles,
		orch:       deps.Orchestrator,
		brk:        deps.Broker,
		authz:      deps.Authz,
		flags:      deps.Flags,
		detector:   deps.Detector,
		miner:      miner,
		tracker:    deps.Tracker,
		llm:        deps.LLM,
		escalator:  deps.Escalator,
		dispatch:   deps.DispatchPhaseTasks,
		clock:      clock,
		logger:     slog.With("component", "kernel"),
		registry:   newRegistry(),
		messenger:  newMessenger(),
		infoCounts: make(map[resourceKey]int),
	}

	// The provisioner's historical and collaborative layers read back through
	// the kernel: archived cycles and the message log.
	k.provisioner = provision.New(deps.Broker, deps.Profiles, deps.Embedder, k, k, deps.ContextOptions)

	k.perf = perf.NewEvaluator(deps.Profiles, perf.Sources{
		Outputs:            k.cycleOutputsFor,
		Flags:              k.flagCounts,
		ContextUtilization: k.contextUtilization,
	})

	k.orch.Subscribe(k.onOrchestratorEvent)
	return k
}

// Provisioner exposes the context builder for status surfaces.
func (k *Kernel) Provisioner() *provision.Provisioner { return k.provisioner }

// Performance exposes the evaluator for reporting surfaces.
func (k *Kernel) Performance() *perf.Evaluator { return k.perf }

// ---- registry operations ----

// RegisterAgent creates the role controller for the profile and adds it to
// the registry, inactive. The profile must match a configured access profile;
// the broker and authorization engine resolve agents through that registry.
func (k *Kernel) RegisterAgent(profile *ems.AgentProfile) error {
	if profile == nil || profile.AgentID == "" || !profile.Role.IsValid() {
		return ErrInvalidProfile
	}
	if !k.profiles.Has(profile.AgentID) {
		return fmt.Errorf("%w: %s", ErrProfileNotConfigured, profile.AgentID)
	}
	controller, err := agent.NewController(profile, k, k.llm)
	if err != nil {
		return err
	}
	if err := k.registry.register(profile.AgentID, controller); err != nil {
		return err
	}
	k.logger.Info("Agent registered", "agent", profile.AgentID, "role", profile.Role)
	return nil
}

// ActivateAgent starts the agent's task worker and marks it active. Phase
// transitions recompute activation from profiles; manual activation holds
// until the next transition.
func (k *Kernel) ActivateAgent(id string) error {
	changed, err := k.registry.setActive(id, true)
	if err != nil {
		return err
	}
	if changed {
		k.logger.Info("Agent activated", "agent", id)
	}
	return nil
}

// DeactivateAgent stops the agent's task worker and marks it inactive.
func (k *Kernel) DeactivateAgent(id string) error {
	changed, err := k.registry.setActive(id, false)
	if err != nil {
		return err
	}
	if changed {
		k.logger.Info("Agent deactivated", "agent", id)
	}
	return nil
}

// ActiveAgents returns the sorted IDs of currently active agents.
func (k *Kernel) ActiveAgents() []string { return k.registry.activeIDs() }

// RegisteredAgents returns the registry snapshot.
func (k *Kernel) RegisteredAgents() []AgentStatus { return k.registry.snapshot() }

// Controller returns the registered controller for an agent.
func (k *Kernel) Controller(id string) (agent.Controller, bool) {
	return k.registry.controller(id)
}

// ---- cycle operations ----

// StartCycle begins a new ATO cycle; the phase-entered event activates the
// first phase's agents.
func (k *Kernel) StartCycle(id string, cancelActive bool) (*orchestrator.ATOCycle, error) {
	return k.orch.StartCycle(id, cancelActive)
}

// AdvancePhase moves the active cycle to its next phase.
func (k *Kernel) AdvancePhase() (ems.Phase, error) { return k.orch.Advance() }

// SkipToPhase jumps the cycle forward under an operator override.
func (k *Kernel) SkipToPhase(target ems.Phase, override *orchestrator.Override) (ems.Phase, error) {
	return k.orch.SkipTo(target, override)
}

// CurrentCycle returns the active cycle snapshot.
func (k *Kernel) CurrentCycle() (*orchestrator.ATOCycle, error) { return k.orch.CurrentCycle() }

// CycleSummary reports the active cycle's progress.
func (k *Kernel) CycleSummary() (*orchestrator.Summary, error) { return k.orch.CycleSummary() }

// ---- agent.Runtime ----

func (k *Kernel) CurrentPhase() ems.Phase { return k.orch.PhaseOrDefault() }

func (k *Kernel) CurrentCycleID() string {
	cycle, err := k.orch.CurrentCycle()
	if err != nil {
		return ""
	}
	return cycle.ID
}

func (k *Kernel) CycleOutputs() map[string]any {
	summary, err := k.orch.CycleSummary()
	if err != nil {
		return nil
	}
	return flattenOutputs(summary.Outputs)
}

func (k *Kernel) RecordOutput(key string, value any) error {
	phase, err := k.orch.CurrentPhase()
	if err != nil {
		return err
	}
	return k.orch.RecordOutput(phase, key, value)
}

func (k *Kernel) QueryInformation(ctx context.Context, agentID string, category ems.InformationCategory, params map[string]any) (*broker.Result, error) {
	k.countInfoRequest(agentID)
	return k.brk.Query(ctx, agentID, category, params)
}

func (k *Kernel) Broker() *broker.Broker { return k.brk }

func (k *Kernel) AuthorizeAction(ctx context.Context, agentID string, action authz.Action) authz.Decision {
	return k.authz.Authorize(ctx, agentID, action)
}

// SendAgentMessage delivers a point-to-point message. Both parties must be
// registered and active in the current phase; messages for inactive agents
// fail immediately, they are never buffered.
func (k *Kernel) SendAgentMessage(ctx context.Context, from, to, messageType string, payload map[string]any) (agent.Reply, error) {
	if !k.registry.isRegistered(from) {
		return agent.Reply{}, fmt.Errorf("%w: sender %s", ErrAgentNotRegistered, from)
	}
	receiver, ok := k.registry.controller(to)
	if !ok {
		return agent.Reply{}, fmt.Errorf("%w: receiver %s", ErrAgentNotRegistered, to)
	}
	if !k.registry.isActive(from) {
		return agent.Reply{}, fmt.Errorf("%w: sender %s", ErrAgentNotActive, from)
	}
	if !k.registry.isActive(to) {
		return agent.Reply{}, fmt.Errorf("%w: receiver %s", ErrAgentNotActive, to)
	}

	msg := agent.NewMessage(from, to, messageType, payload)
	requestTime := k.clock()
	reply := k.messenger.deliver(ctx, receiver.Base(), msg, k.clock)

	k.perf.RecordCollaboration(perf.CollaborationMetric{
		FromAgent:       from,
		ToAgent:         to,
		MessageType:     messageType,
		RequestTime:     requestTime,
		ResponseTime:    k.clock(),
		ResponseQuality: replyQuality(reply),
		Success:         reply.OK,
	})
	return reply, nil
}

// BroadcastToAgents sends the message to every other active agent,
// best-effort: each delivery gets the timeout, failures and timeouts become
// error envelopes in the result instead of aborting the sweep.
func (k *Kernel) BroadcastToAgents(ctx context.Context, from, messageType string, payload map[string]any, timeout time.Duration) map[string]agent.Reply {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	targets := k.registry.activeIDs()

	type outcome struct {
		id    string
		reply agent.Reply
	}
	results := make(chan outcome, len(targets))
	count := 0
	for _, id := range targets {
		if id == from {
			continue
		}
		count++
		go func(id string) {
			callCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			done := make(chan agent.Reply, 1)
			go func() {
				reply, err := k.SendAgentMessage(callCtx, from, id, messageType, payload)
				if err != nil {
					reply = agent.ErrReply(err.Error())
				}
				done <- reply
			}()
			select {
			case reply := <-done:
				results <- outcome{id: id, reply: reply}
			case <-callCtx.Done():
				results <- outcome{id: id, reply: agent.ErrReply(callCtx.Err().Error())}
			}
		}(id)
	}

	replies := make(map[string]agent.Reply, count)
	for i := 0; i < count; i++ {
		r := <-results
		replies[r.id] = r.reply
	}
	return replies
}

func (k *Kernel) BuildContext(ctx context.Context, agentID, task string, maxTokens int) (*provision.AgentContext, error) {
	return k.provisioner.BuildContext(ctx, agentID, k.CurrentPhase(), task, maxTokens)
}

func (k *Kernel) TrackContextUsage(ctx context.Context, window *provision.AgentContext, response string) (*provision.UsageReport, error) {
	return k.tracker.TrackUsage(ctx, window, response)
}

func (k *Kernel) RaiseFlag(input improve.FlagInput) (improve.Flag, error) {
	return k.flags.Flag(input)
}

func (k *Kernel) Flags(filter improve.FlagFilter) []improve.Flag {
	return k.flags.Flags(filter)
}

func (k *Kernel) Detector() *improve.Detector { return k.detector }

func (k *Kernel) RecordTaskExecution(m perf.TaskExecutionMetric) {
	k.perf.RecordTaskExecution(m)
}

func (k *Kernel) EvaluateAgentPerformance(agentID, cycleID string) (*perf.AgentPerformanceMetrics, error) {
	return k.perf.EvaluateCycle(agentID, cycleID)
}

func (k *Kernel) EscalateToHuman(agentID, reason string, payload map[string]any) map[string]any {
	var answer map[string]any
	if k.escalator != nil {
		answer = k.escalator.Escalate(agentID, reason, payload)
	}
	cycleID := k.CurrentCycleID()
	k.mu.Lock()
	k.escalations = append(k.escalations, EscalationRecord{
		CycleID:  cycleID,
		AgentID:  agentID,
		Reason:   reason,
		Payload:  payload,
		Answered: answer != nil,
		At:       k.clock(),
	})
	manualSteps := 0
	for _, rec := range k.escalations {
		if rec.CycleID == cycleID && rec.AgentID == agentID {
			manualSteps++
		}
	}
	k.mu.Unlock()

	// Every escalation is a manual intervention; a cycle that keeps routing
	// one agent's decisions to the operator is an automation candidate.
	if _, flagErr := k.detector.ManualSteps(cycleID, k.CurrentPhase(), agentID, "human_escalations", manualSteps); flagErr != nil {
		k.logger.Warn("Escalation telemetry failed", "agent", agentID, "error", flagErr)
	}

	if answer == nil {
		k.logger.Warn("Escalation unanswered", "agent", agentID, "reason", reason)
	}
	return answer
}

func (k *Kernel) Now() time.Time { return k.clock() }

// Escalations returns the logged human escalations, oldest first.
func (k *Kernel) Escalations() []EscalationRecord {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]EscalationRecord(nil), k.escalations...)
}

// ---- reports ----

// AnalyzePatterns mines the full flag log for recurring inefficiencies.
func (k *Kernel) AnalyzePatterns() []improve.Pattern {
	return k.miner.AnalyzePatterns(k.flags.Flags(improve.FlagFilter{}))
}

// GetProcessImprovementReport renders the flag log and mined patterns.
func (k *Kernel) GetProcessImprovementReport() string {
	flags := k.flags.Flags(improve.FlagFilter{})
	return improve.GenerateReport(flags, k.miner.AnalyzePatterns(flags))
}

// GetPerformanceReport renders one agent's scored history over its last
// cycles.
func (k *Kernel) GetPerformanceReport(agentID string, cycles int) (string, error) {
	if _, err := k.profiles.Get(agentID); err != nil {
		return "", err
	}
	return k.perf.Report(agentID, cycles), nil
}

// Status is the kernel-wide health snapshot.
type Status struct {
	Phase            ems.Phase             `json:"phase"`
	Cycle            *orchestrator.Summary `json:"cycle,omitempty"`
	RegisteredAgents []AgentStatus         `json:"registered_agents"`
	ActiveAgents     []string              `json:"active_agents"`
	FlagCount        int                   `json:"flag_count"`
	AuditCount       int                   `json:"audit_count"`
	MessageCount     int                   `json:"message_count"`
	EscalationCount  int                   `json:"escalation_count"`
}

// SystemStatus reports the current kernel state for operational surfaces.
func (k *Kernel) SystemStatus() Status {
	status := Status{
		Phase:            k.CurrentPhase(),
		RegisteredAgents: k.registry.snapshot(),
		ActiveAgents:     k.registry.activeIDs(),
		FlagCount:        k.flags.Len(),
		AuditCount:       k.brk.AuditTrail().Len(),
		MessageCount:     k.messenger.total(),
	}
	if summary, err := k.orch.CycleSummary(); err == nil {
		status.Cycle = summary
	}
	k.mu.Lock()
	status.EscalationCount = len(k.escalations)
	k.mu.Unlock()
	return status
}

// Shutdown deactivates every agent and stops the phase monitor.
func (k *Kernel) Shutdown() {
	k.orch.StopMonitor()
	for _, id := range k.registry.registeredIDs() {
		if _, err := k.registry.setActive(id, false); err != nil {
			k.logger.Warn("Agent shutdown failed", "agent", id, "error", err)
		}
	}
	k.logger.Info("Kernel shut down")
}

// ---- phase transitions ----

// onOrchestratorEvent reconciles agent activation with the entered phase and
// dispatches phase tasks. Handlers run in the orchestrator's serial event
// order.
func (k *Kernel) onOrchestratorEvent(event orchestrator.Event) {
	switch event.Type {
	case orchestrator.EventPhaseEntered:
		k.reconcileActivation(event.Phase)
		k.provisioner.InvalidateAll("phase transition")
		if event.Phase == ems.PhaseAssessment {
			k.flushResourceUsage(event.CycleID)
		}
		if k.dispatch {
			k.dispatchPhaseTasks(event.Phase, event.CycleID)
		}
	case orchestrator.EventCycleCompleted, orchestrator.EventCycleCancelled:
		k.logger.Info("Cycle closed", "cycle", event.CycleID, "event", event.Type)
	}
}

// reconcileActivation moves the active set to exactly the agents whose
// profiles are active in the phase: the difference is deactivated and
// activated, unchanged agents are untouched.
func (k *Kernel) reconcileActivation(phase ems.Phase) {
	for _, id := range k.registry.registeredIDs() {
		profile, err := k.profiles.Get(id)
		if err != nil {
			continue
		}
		want := profile.ActiveIn(phase)
		changed, err := k.registry.setActive(id, want)
		if err != nil || !changed {
			continue
		}
		if want {
			k.logger.Info("Agent activated for phase", "agent", id, "phase", phase)
		} else {
			k.logger.Info("Agent deactivated for phase", "agent", id, "phase", phase)
		}
	}
}

// dispatchPhaseTasks submits ExecutePhaseTasks to every active agent's
// worker. Each agent runs its tasks serially on its own queue.
func (k *Kernel) dispatchPhaseTasks(phase ems.Phase, cycleID string) {
	for _, id := range k.registry.activeIDs() {
		controller, ok := k.registry.controller(id)
		if !ok {
			continue
		}
		c := controller
		err := c.Base().Submit(fmt.Sprintf("phase_tasks:%s", phase), func(ctx context.Context) error {
			_, err := c.ExecutePhaseTasks(ctx, phase, cycleID)
			return err
		})
		if err != nil {
			k.logger.Warn("Phase task dispatch failed", "agent", id, "phase", phase, "error", err)
		}
	}
}

// ---- provisioner sources ----

// HistoricalRecords supplies prior-cycle lessons and assessments for the
// historical context layer.
func (k *Kernel) HistoricalRecords(agentID string, depth int) []provision.SourceRecord {
	archived := k.orch.ArchivedCycles()
	var records []provision.SourceRecord
	for i := len(archived) - 1; i >= 0 && len(records) < depth; i-- {
		cycle := archived[i]
		outputs := flattenOutputs(cycle.Outputs)
		for _, lesson := range lessonStrings(outputs["lessons_learned"]) {
			records = append(records, provision.SourceRecord{
				SourceID: cycle.ID,
				Content:  fmt.Sprintf("Cycle %s lesson: %s", cycle.ID, lesson),
				Metadata: map[string]string{"cycle_id": cycle.ID},
			})
		}
		if assessment, ok := outputs["effectiveness_assessment"].(map[string]any); ok {
			if rating, ok := assessment["overall_rating"].(string); ok {
				records = append(records, provision.SourceRecord{
					SourceID: cycle.ID,
					Content:  fmt.Sprintf("Cycle %s overall rating: %s", cycle.ID, rating),
					Metadata: map[string]string{"cycle_id": cycle.ID},
				})
			}
		}
	}
	return records
}

// CollaborativeRecords supplies the agent's recent message exchanges for the
// collaborative context layer.
func (k *Kernel) CollaborativeRecords(agentID string, phase ems.Phase) []provision.SourceRecord {
	var records []provision.SourceRecord
	for _, rec := range k.messenger.recent(agentID, 8) {
		state := "replied"
		if !rec.OK {
			state = "failed"
		}
		records = append(records, provision.SourceRecord{
			SourceID: rec.ID,
			Content:  fmt.Sprintf("Message %s from %s to %s %s", rec.Type, rec.From, rec.To, state),
			Metadata: map[string]string{"from": rec.From, "to": rec.To, "type": rec.Type},
		})
	}
	return records
}

// ---- perf sources ----

func (k *Kernel) cycleOutputsFor(cycleID string) map[string]any {
	if summary, err := k.orch.CycleSummary(); err == nil && summary.CycleID == cycleID {
		return flattenOutputs(summary.Outputs)
	}
	for _, cycle := range k.orch.ArchivedCycles() {
		if cycle.ID == cycleID {
			return flattenOutputs(cycle.Outputs)
		}
	}
	return nil
}

func (k *Kernel) flagCounts(agentID, cycleID string) (int, int) {
	flags := k.flags.Flags(improve.FlagFilter{AgentID: agentID, CycleID: cycleID})
	suggestions := 0
	for _, flag := range flags {
		if flag.SuggestedImprovement != "" {
			suggestions++
		}
	}
	return len(flags), suggestions
}

func (k *Kernel) contextUtilization(agentID string) (float64, bool) {
	if k.tracker == nil {
		return 0, false
	}
	stats := k.tracker.Stats(agentID)
	if stats.Windows == 0 {
		return 0, false
	}
	return stats.AvgUtilization, true
}

func (k *Kernel) countInfoRequest(agentID string) {
	cycleID := k.CurrentCycleID()
	if cycleID == "" {
		return
	}
	k.mu.Lock()
	k.infoCounts[resourceKey{agentID: agentID, cycleID: cycleID}]++
	k.mu.Unlock()
}

// flushResourceUsage turns the cycle's information-request counters into
// resource records before the evaluator sweeps the cycle.
func (k *Kernel) flushResourceUsage(cycleID string) {
	k.mu.Lock()
	var flushed []perf.ResourceUsageMetric
	for key, count := range k.infoCounts {
		if key.cycleID != cycleID {
			continue
		}
		flushed = append(flushed, perf.ResourceUsageMetric{
			AgentID:             key.agentID,
			CycleID:             key.cycleID,
			InformationRequests: count,
		})
		delete(k.infoCounts, key)
	}
	k.mu.Unlock()
	for _, m := range flushed {
		k.perf.RecordResourceUsage(m)
	}
}

// ---- helpers ----

// flattenOutputs merges per-phase outputs into one keyspace, phase order.
func flattenOutputs(outputs map[ems.Phase]map[string]any) map[string]any {
	flat := make(map[string]any)
	for _, phase := range ems.AllPhases() {
		for key, value := range outputs[phase] {
			flat[key] = value
		}
	}
	return flat
}

func lessonStrings(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func replyQuality(reply agent.Reply) float64 {
	if reply.OK {
		return 0.8
	}
	return 0.2
}
