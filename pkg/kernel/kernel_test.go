package kernel

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aether-os/aether/pkg/authz"
	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/doctrine"
	"github.com/aether-os/aether/pkg/embedding"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/improve"
	"github.com/aether-os/aether/pkg/orchestrator"
	"github.com/aether-os/aether/pkg/policy"
	"github.com/aether-os/aether/pkg/provision"
	"github.com/aether-os/aether/pkg/sanitize"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type approvingEscalator struct {
	mu      sync.Mutex
	reasons []string
}

func (e *approvingEscalator) Escalate(_ string, reason string, _ map[string]any) map[string]any {
	e.mu.Lock()
	e.reasons = append(e.reasons, reason)
	e.mu.Unlock()
	return map[string]any{"approved": true}
}

func newTestKernel(t *testing.T, dispatch bool) (*Kernel, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	builtin := config.GetBuiltinConfig()
	profiles := config.NewProfileRegistry(builtin.Profiles)
	policies := config.NewPolicyRegistry(builtin.Policies)

	orch := orchestrator.New(nil, orchestrator.Options{Clock: clock.Now})

	engine := embedding.NewHashEngine()
	kb := doctrine.NewMemoryKB(engine)
	require.NoError(t, kb.AddBatch(context.Background(), []doctrine.Document{
		{ID: "jp-3-85", Content: "Develop EMS strategy from commander guidance with objectives and desired effects for spectrum superiority."},
	}))

	brk := broker.New(profiles, policies, sanitize.NewService(), broker.NewAuditTrail(nil), orch.PhaseOrDefault)
	brk.SetBackend(ems.CategoryDoctrine, &broker.DoctrineBackend{KB: kb})
	brk.SetBackend(ems.CategoryThreatData, broker.NewMemoryBackend(broker.SampleThreatRecords()))
	brk.SetBackend(ems.CategorySpectrumAllocation, broker.NewMemorySpectrumBackend())
	brk.SetBackend(ems.CategoryAssetStatus, broker.NewMemoryAssetBackend())

	flags := improve.NewLogger(nil)

	k := New(Deps{
		Profiles:     profiles,
		Orchestrator: orch,
		Broker:       brk,
		Authz: authz.New(profiles, policies, orch.PhaseOrDefault,
			func() string { return "" }, kb, policy.Static{Decision: true}, false),
		Flags:              flags,
		Detector:           improve.NewDetector(flags, improve.DefaultThresholds()),
		Embedder:           engine,
		Tracker:            provision.NewTracker(engine, config.DefaultRelevanceThreshold, nil),
		Escalator:          &approvingEscalator{},
		DispatchPhaseTasks: dispatch,
		Clock:              clock.Now,
	})
	t.Cleanup(k.Shutdown)
	return k, clock
}

func registerBuiltins(t *testing.T, k *Kernel, ids ...string) {
	t.Helper()
	profiles := ems.BuiltinProfiles()
	for _, id := range ids {
		require.NoError(t, k.RegisterAgent(profiles[id]))
	}
}

var missionAgents = []string{
	ems.AgentEMSStrategy,
	ems.AgentSpectrumManager,
	ems.AgentEWPlanner,
	ems.AgentATOProducer,
	ems.AgentAssessment,
}

func TestActivationByPhase(t *testing.T) {
	k, _ := newTestKernel(t, false)
	registerBuiltins(t, k, missionAgents...)

	_, err := k.StartCycle("C1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{ems.AgentEMSStrategy}, k.ActiveAgents())

	_, err = k.AdvancePhase() // target development
	require.NoError(t, err)
	_, err = k.AdvancePhase() // weaponeering
	require.NoError(t, err)

	assert.Equal(t, []string{ems.AgentEWPlanner, ems.AgentSpectrumManager}, k.ActiveAgents())

	// The strategy cell is no longer active; its messages fail immediately.
	_, err = k.SendAgentMessage(context.Background(),
		ems.AgentEMSStrategy, ems.AgentEWPlanner, "status", nil)
	assert.ErrorIs(t, err, ErrAgentNotActive)
}

func TestEvaluatorActiveInEveryPhase(t *testing.T) {
	k, _ := newTestKernel(t, false)
	registerBuiltins(t, k, ems.AgentEvaluator, ems.AgentEMSStrategy)

	_, err := k.StartCycle("", false)
	require.NoError(t, err)
	assert.Contains(t, k.ActiveAgents(), ems.AgentEvaluator)

	for i := 0; i < 5; i++ {
		_, err = k.AdvancePhase()
		require.NoError(t, err)
		assert.Contains(t, k.ActiveAgents(), ems.AgentEvaluator)
	}
}

func TestRegisterAgent_Validation(t *testing.T) {
	k, _ := newTestKernel(t, false)

	assert.ErrorIs(t, k.RegisterAgent(nil), ErrInvalidProfile)
	assert.ErrorIs(t, k.RegisterAgent(&ems.AgentProfile{AgentID: "x", Role: "bogus"}), ErrInvalidProfile)
	assert.ErrorIs(t, k.RegisterAgent(&ems.AgentProfile{AgentID: "ghost", Role: ems.RoleEWPlanner}),
		ErrProfileNotConfigured)

	registerBuiltins(t, k, ems.AgentEWPlanner)
	assert.ErrorIs(t, k.RegisterAgent(ems.BuiltinProfiles()[ems.AgentEWPlanner]),
		ErrAgentAlreadyRegistered)
}

func TestRegisterDeactivateActivateIdentity(t *testing.T) {
	k, _ := newTestKernel(t, false)
	registerBuiltins(t, k, ems.AgentEWPlanner, ems.AgentSpectrumManager)

	_, err := k.StartCycle("", false)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = k.AdvancePhase()
		require.NoError(t, err)
	}
	require.Equal(t, []string{ems.AgentEWPlanner, ems.AgentSpectrumManager}, k.ActiveAgents())

	request := map[string]any{
		"mission_id":   "EA-C1-001",
		"freq_min_mhz": 2400.0,
		"freq_max_mhz": 2500.0,
		"area":         "AOR-NORTH",
	}

	require.NoError(t, k.DeactivateAgent(ems.AgentSpectrumManager))
	_, err = k.SendAgentMessage(context.Background(),
		ems.AgentEWPlanner, ems.AgentSpectrumManager, "frequency_request", request)
	require.ErrorIs(t, err, ErrAgentNotActive)

	// Reactivation restores the full capability set.
	require.NoError(t, k.ActivateAgent(ems.AgentSpectrumManager))
	reply, err := k.SendAgentMessage(context.Background(),
		ems.AgentEWPlanner, ems.AgentSpectrumManager, "frequency_request", request)
	require.NoError(t, err)
	require.True(t, reply.OK, "reply error: %s", reply.Err)
	assert.NotEmpty(t, reply.Payload["allocation_id"])
}

func TestSendAgentMessage_EnvelopeAndRegistration(t *testing.T) {
	k, _ := newTestKernel(t, false)
	registerBuiltins(t, k, ems.AgentEWPlanner, ems.AgentSpectrumManager)
	_, err := k.StartCycle("", false)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = k.AdvancePhase()
		require.NoError(t, err)
	}

	// Unknown message types come back as error envelopes, not errors.
	reply, err := k.SendAgentMessage(context.Background(),
		ems.AgentEWPlanner, ems.AgentSpectrumManager, "no_such_type", nil)
	require.NoError(t, err)
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Err, "unhandled message type")

	_, err = k.SendAgentMessage(context.Background(),
		"ghost", ems.AgentSpectrumManager, "ping", nil)
	assert.ErrorIs(t, err, ErrAgentNotRegistered)
	_, err = k.SendAgentMessage(context.Background(),
		ems.AgentEWPlanner, "ghost", "ping", nil)
	assert.ErrorIs(t, err, ErrAgentNotRegistered)
}

func TestBroadcastToAgents(t *testing.T) {
	k, _ := newTestKernel(t, false)
	registerBuiltins(t, k, missionAgents...)
	_, err := k.StartCycle("", false)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = k.AdvancePhase()
		require.NoError(t, err)
	}

	replies := k.BroadcastToAgents(context.Background(),
		ems.AgentEWPlanner, "status_check", nil, time.Second)

	// Best-effort sweep over the other active agents; no entry for the sender.
	require.Len(t, replies, 1)
	_, ok := replies[ems.AgentSpectrumManager]
	assert.True(t, ok)
}

func TestAuthorizationMatrixThroughKernel(t *testing.T) {
	k, _ := newTestKernel(t, false)
	registerBuiltins(t, k, missionAgents...)
	_, err := k.StartCycle("", false)
	require.NoError(t, err)

	action := authz.Action{
		Name:       "allocate_frequency",
		Categories: []ems.InformationCategory{ems.CategorySpectrumAllocation},
		Context:    map[string]any{"freq_min_mhz": 2400.0, "freq_max_mhz": 2500.0},
	}

	// Spectrum manager outside its phases: denied with a phase reason.
	decision := k.AuthorizeAction(context.Background(), ems.AgentSpectrumManager, action)
	require.False(t, decision.Allow)
	assert.Contains(t, strings.Join(decision.Reasons, "; "), "phase")

	for i := 0; i < 2; i++ {
		_, err = k.AdvancePhase()
		require.NoError(t, err)
	}

	decision = k.AuthorizeAction(context.Background(), ems.AgentSpectrumManager, action)
	assert.True(t, decision.Allow, "reasons: %v", decision.Reasons)

	// The planner holds spectrum access but not the allocation action.
	decision = k.AuthorizeAction(context.Background(), ems.AgentEWPlanner, action)
	assert.False(t, decision.Allow)
}

func TestRecordOutputAndCycleOutputs(t *testing.T) {
	k, _ := newTestKernel(t, false)
	registerBuiltins(t, k, missionAgents...)

	require.Error(t, k.RecordOutput("ems_strategy", "x"), "no active cycle")

	_, err := k.StartCycle("", false)
	require.NoError(t, err)
	require.NoError(t, k.RecordOutput("ems_strategy", map[string]any{"objectives": []string{"a"}}))

	_, err = k.AdvancePhase()
	require.NoError(t, err)
	require.NoError(t, k.RecordOutput("ems_requirements", map[string]any{"ea_requirements": []string{"b"}}))

	outputs := k.CycleOutputs()
	assert.NotNil(t, outputs["ems_strategy"])
	assert.NotNil(t, outputs["ems_requirements"])
}

func TestReports(t *testing.T) {
	k, _ := newTestKernel(t, false)
	registerBuiltins(t, k, missionAgents...)
	_, err := k.StartCycle("", false)
	require.NoError(t, err)
	cycleID := k.CurrentCycleID()

	for i := 0; i < 5; i++ {
		_, err := k.RaiseFlag(improve.FlagInput{
			CycleID:  cycleID,
			Phase:    ems.PhaseWeaponeering,
			AgentID:  ems.AgentEWPlanner,
			Workflow: "Plan EW Missions",
			Type:     ems.InefficiencyInformationGap,
		})
		require.NoError(t, err)
	}

	patterns := k.AnalyzePatterns()
	require.Len(t, patterns, 1)
	assert.Len(t, patterns[0].Evidence, 5)

	report := k.GetProcessImprovementReport()
	assert.Contains(t, report, "Plan EW Missions")

	metrics, err := k.EvaluateAgentPerformance(ems.AgentEWPlanner, cycleID)
	require.NoError(t, err)
	assert.Greater(t, metrics.OverallScore, 0.0)

	perfReport, err := k.GetPerformanceReport(ems.AgentEWPlanner, 3)
	require.NoError(t, err)
	assert.Contains(t, perfReport, ems.AgentEWPlanner)

	_, err = k.GetPerformanceReport("ghost", 3)
	assert.Error(t, err)
}

func TestSystemStatus(t *testing.T) {
	k, _ := newTestKernel(t, false)
	registerBuiltins(t, k, missionAgents...)
	_, err := k.StartCycle("C9", false)
	require.NoError(t, err)

	_, err = k.QueryInformation(context.Background(),
		ems.AgentEMSStrategy, ems.CategoryThreatData, map[string]any{"justification": "status check"})
	require.NoError(t, err)

	status := k.SystemStatus()
	assert.Equal(t, ems.PhaseOEG, status.Phase)
	require.NotNil(t, status.Cycle)
	assert.Equal(t, "C9", status.Cycle.CycleID)
	assert.Len(t, status.RegisteredAgents, 5)
	assert.Equal(t, []string{ems.AgentEMSStrategy}, status.ActiveAgents)
	assert.Greater(t, status.AuditCount, 0)
}

func TestDispatchPhaseTasks(t *testing.T) {
	k, _ := newTestKernel(t, true)
	registerBuiltins(t, k, missionAgents...)

	_, err := k.StartCycle("", false)
	require.NoError(t, err)

	// The strategy agent's worker picks up the phase task and records the
	// cycle output.
	deadline := time.Now().Add(3 * time.Second)
	for {
		if outputs := k.CycleOutputs(); outputs["ems_strategy"] != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ems_strategy output never produced")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEscalationLog(t *testing.T) {
	k, _ := newTestKernel(t, false)
	answer := k.EscalateToHuman(ems.AgentATOProducer, "EA mission requires command approval", nil)
	require.NotNil(t, answer)
	assert.Equal(t, true, answer["approved"])

	records := k.Escalations()
	require.Len(t, records, 1)
	assert.True(t, records[0].Answered)
}

func TestEscalationLog_RepeatedEscalationsFlagAutomationOpportunity(t *testing.T) {
	k, _ := newTestKernel(t, false)
	_, err := k.StartCycle("C1", false)
	require.NoError(t, err)

	for i := 0; i < 8; i++ {
		k.EscalateToHuman(ems.AgentATOProducer, "EA mission requires command approval", nil)
	}

	// The sixth escalation crosses the manual-step threshold; later ones
	// must not flag the same workflow again.
	flags := k.Flags(improve.FlagFilter{Type: ems.InefficiencyAutomationOpportunity})
	require.Len(t, flags, 1)
	assert.Equal(t, "C1", flags[0].CycleID)
	assert.Equal(t, ems.AgentATOProducer, flags[0].AgentID)
	assert.Equal(t, "human_escalations", flags[0].Workflow)

	// Escalations from a different agent keep their own count.
	for i := 0; i < 3; i++ {
		k.EscalateToHuman(ems.AgentEWPlanner, "asset substitution needs operator decision", nil)
	}
	flags = k.Flags(improve.FlagFilter{Type: ems.InefficiencyAutomationOpportunity})
	assert.Len(t, flags, 1)
}
