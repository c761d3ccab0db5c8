package authz

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/doctrine"
	"github.com/aether-os/aether/pkg/embedding"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/policy"
)

func newTestEngine(t *testing.T, phase ems.Phase, external policy.Evaluator, failOpen bool) *Engine {
	t.Helper()
	builtin := config.GetBuiltinConfig()
	return New(
		config.NewProfileRegistry(builtin.Profiles),
		config.NewPolicyRegistry(builtin.Policies),
		func() ems.Phase { return phase },
		func() string { return "ATO-0001" },
		nil,
		external,
		failOpen,
	)
}

func TestAuthorize_AllFactorsPass(t *testing.T) {
	e := newTestEngine(t, ems.PhaseWeaponeering, policy.Static{Decision: true}, false)

	decision := e.Authorize(context.Background(), ems.AgentEWPlanner, Action{
		Name:        "plan_ew_missions",
		Description: "plan electronic attack against acquisition radar",
		Categories:  []ems.InformationCategory{ems.CategoryThreatData, ems.CategoryAssetStatus},
	})
	assert.True(t, decision.Allow)
	assert.Empty(t, decision.Reasons)
}

func TestAuthorize_CollectsAllFailingFactors(t *testing.T) {
	// assessment agent in weaponeering attempting an EW-planner action on a
	// category above its level: role, phase, and information all fail.
	e := newTestEngine(t, ems.PhaseWeaponeering, policy.Static{Decision: true}, false)

	decision := e.Authorize(context.Background(), ems.AgentAssessment, Action{
		Name:       "plan_ew_missions",
		Categories: []ems.InformationCategory{ems.CategoryThreatData},
	})
	require.False(t, decision.Allow)
	assert.GreaterOrEqual(t, len(decision.Reasons), 3)

	joined := strings.Join(decision.Reasons, "; ")
	assert.Contains(t, joined, "role:")
	assert.Contains(t, joined, "phase:")
	assert.Contains(t, joined, "information:")
}

func TestAuthorize_UnknownAgent(t *testing.T) {
	e := newTestEngine(t, ems.PhaseWeaponeering, policy.Static{Decision: true}, false)
	decision := e.Authorize(context.Background(), "ghost_agent", Action{Name: "anything"})
	assert.False(t, decision.Allow)
}

func TestAuthorize_PhaseBoundAction(t *testing.T) {
	// spectrum manager is active in execution, but ATO annex production is
	// bound to the production phase.
	e := newTestEngine(t, ems.PhaseExecution, policy.Static{Decision: true}, false)
	decision := e.Authorize(context.Background(), ems.AgentSpectrumManager, Action{
		Name: "allocate_frequency",
	})
	assert.True(t, decision.Allow)

	e2 := newTestEngine(t, ems.PhaseOEG, policy.Static{Decision: true}, false)
	decision = e2.Authorize(context.Background(), ems.AgentSpectrumManager, Action{
		Name: "allocate_frequency",
	})
	assert.False(t, decision.Allow)
}

func TestAuthorize_Delegation(t *testing.T) {
	e := newTestEngine(t, ems.PhaseWeaponeering, policy.Static{Decision: true}, false)

	t.Run("delegation from authority holder passes", func(t *testing.T) {
		decision := e.Authorize(context.Background(), ems.AgentEWPlanner, Action{
			Name:       "query_threats",
			OnBehalfOf: ems.AgentSpectrumManager, // holds delegation authority
		})
		assert.True(t, decision.Allow)
	})

	t.Run("delegator without authority fails", func(t *testing.T) {
		decision := e.Authorize(context.Background(), ems.AgentEWPlanner, Action{
			Name:       "query_threats",
			OnBehalfOf: ems.AgentEMSStrategy,
		})
		require.False(t, decision.Allow)
		assert.Contains(t, strings.Join(decision.Reasons, " "), "delegation authority")
	})

	t.Run("depth beyond one fails", func(t *testing.T) {
		decision := e.Authorize(context.Background(), ems.AgentEWPlanner, Action{
			Name:            "query_threats",
			OnBehalfOf:      ems.AgentSpectrumManager,
			DelegationDepth: 1,
		})
		require.False(t, decision.Allow)
		assert.Contains(t, strings.Join(decision.Reasons, " "), "depth")
	})
}

func TestAuthorize_ExternalPolicy(t *testing.T) {
	ctx := context.Background()
	action := Action{Name: "plan_ew_missions"}

	t.Run("explicit deny is authoritative", func(t *testing.T) {
		e := newTestEngine(t, ems.PhaseWeaponeering, policy.Static{Decision: false}, true)
		decision := e.Authorize(ctx, ems.AgentEWPlanner, action)
		assert.False(t, decision.Allow)
	})

	t.Run("outage fails open in development", func(t *testing.T) {
		e := newTestEngine(t, ems.PhaseWeaponeering, policy.Static{Err: policy.ErrUnavailable}, true)
		decision := e.Authorize(ctx, ems.AgentEWPlanner, action)
		assert.True(t, decision.Allow)
		assert.Contains(t, decision.Notes, "policy_unavailable_fail_open")
	})

	t.Run("outage fails closed in production", func(t *testing.T) {
		e := newTestEngine(t, ems.PhaseWeaponeering, policy.Static{Err: policy.ErrUnavailable}, false)
		decision := e.Authorize(ctx, ems.AgentEWPlanner, action)
		assert.False(t, decision.Allow)
	})

	t.Run("no evaluator is a note, not a denial", func(t *testing.T) {
		e := newTestEngine(t, ems.PhaseWeaponeering, nil, false)
		decision := e.Authorize(ctx, ems.AgentEWPlanner, action)
		assert.True(t, decision.Allow)
		assert.Contains(t, decision.Notes, "policy_disabled")
	})
}

func TestAuthorize_DoctrinalFit(t *testing.T) {
	ctx := context.Background()
	engine := embedding.NewHashEngine()
	kb := doctrine.NewMemoryKB(engine)
	require.NoError(t, kb.AddBatch(ctx, []doctrine.Document{
		{ID: "jp-3-85-prohibit", Content: "Jamming of civilian air traffic control frequencies is prohibited under all circumstances and must never be planned."},
	}))

	builtin := config.GetBuiltinConfig()
	e := New(
		config.NewProfileRegistry(builtin.Profiles),
		config.NewPolicyRegistry(builtin.Policies),
		func() ems.Phase { return ems.PhaseWeaponeering },
		func() string { return "ATO-0001" },
		kb,
		policy.Static{Decision: true},
		false,
	)

	t.Run("prohibited action denied", func(t *testing.T) {
		decision := e.Authorize(ctx, ems.AgentEWPlanner, Action{
			Name:        "plan_ew_missions",
			Description: "jamming of civilian air traffic control frequencies near the airfield",
		})
		require.False(t, decision.Allow)
		assert.Contains(t, strings.Join(decision.Reasons, " "), "doctrine")
	})

	t.Run("nil KB is a soft pass", func(t *testing.T) {
		soft := newTestEngine(t, ems.PhaseWeaponeering, policy.Static{Decision: true}, false)
		decision := soft.Authorize(ctx, ems.AgentEWPlanner, Action{Name: "plan_ew_missions"})
		assert.True(t, decision.Allow)
		assert.Contains(t, decision.Notes, "doctrine_unavailable")
	})
}

func TestAuthorize_EmergencyReallocation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, ems.PhaseExecution, policy.Static{Decision: true}, false)

	tests := []struct {
		name    string
		context map[string]any
		allow   bool
	}{
		{"no approval field", nil, false},
		{"rank below O-5", map[string]any{"approved_by_rank": "O-4"}, false},
		{"exactly O-5", map[string]any{"approved_by_rank": "O-5"}, true},
		{"numeric rank", map[string]any{"approved_by_rank": 6}, true},
		{"garbage rank", map[string]any{"approved_by_rank": "colonel"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := e.Authorize(ctx, ems.AgentSpectrumManager, Action{
				Name:    "emergency_reallocation",
				Context: tt.context,
			})
			assert.Equal(t, tt.allow, decision.Allow, "reasons: %v", decision.Reasons)
		})
	}
}

// Mutating any single passing factor must flip the decision; no factor is
// shadowed by another.
func TestAuthorize_FactorIndependence(t *testing.T) {
	ctx := context.Background()
	base := Action{
		Name:       "plan_ew_missions",
		Categories: []ems.InformationCategory{ems.CategoryThreatData},
	}

	mutations := []struct {
		name   string
		phase  ems.Phase
		agent  string
		mutate func(Action) Action
		deny   bool
	}{
		{"baseline", ems.PhaseWeaponeering, ems.AgentEWPlanner, func(a Action) Action { return a }, false},
		{"wrong action", ems.PhaseWeaponeering, ems.AgentEWPlanner, func(a Action) Action { a.Name = "produce_ato_ems_annex"; return a }, true},
		{"wrong phase", ems.PhaseAssessment, ems.AgentEWPlanner, func(a Action) Action { return a }, true},
		{"unauthorized category", ems.PhaseWeaponeering, ems.AgentEWPlanner, func(a Action) Action {
			a.Categories = []ems.InformationCategory{ems.CategoryProcessMetrics}
			return a
		}, true},
		{"bad delegation", ems.PhaseWeaponeering, ems.AgentEWPlanner, func(a Action) Action { a.OnBehalfOf = ems.AgentATOProducer; return a }, true},
	}
	for _, tt := range mutations {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, tt.phase, policy.Static{Decision: true}, false)
			decision := e.Authorize(ctx, tt.agent, tt.mutate(base))
			assert.Equal(t, tt.deny, !decision.Allow, "reasons: %v", decision.Reasons)
		})
	}
}

func TestWrappers(t *testing.T) {
	ctx := context.Background()

	t.Run("frequency allocation", func(t *testing.T) {
		e := newTestEngine(t, ems.PhaseWeaponeering, policy.Static{Decision: true}, false)
		decision := e.AuthorizeFrequencyAllocation(ctx, ems.AgentSpectrumManager, 2700, 2900, "ea_mission", false, nil)
		assert.True(t, decision.Allow)
	})

	t.Run("emergency path requires rank", func(t *testing.T) {
		e := newTestEngine(t, ems.PhaseExecution, policy.Static{Decision: true}, false)
		decision := e.AuthorizeFrequencyAllocation(ctx, ems.AgentSpectrumManager, 2700, 2900, "ea_mission", true, nil)
		assert.False(t, decision.Allow)

		decision = e.AuthorizeFrequencyAllocation(ctx, ems.AgentSpectrumManager, 2700, 2900, "ea_mission", true,
			map[string]any{"approved_by_rank": "O-6"})
		assert.True(t, decision.Allow)
	})

	t.Run("asset assignment", func(t *testing.T) {
		e := newTestEngine(t, ems.PhaseWeaponeering, policy.Static{Decision: true}, false)
		decision := e.AuthorizeAssetAssignment(ctx, ems.AgentEWPlanner, "ASSET-EA-001", "MISSION-001")
		assert.True(t, decision.Allow)
	})
}
