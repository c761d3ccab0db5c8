package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/doctrine"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/improve"
)

func TestStrategyController_DevelopsStrategyWithoutLLM(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseOEG)
	c := NewStrategyController(NewBaseAgent(testProfile(ems.AgentEMSStrategy), rt, nil))

	outputs, err := c.ExecutePhaseTasks(context.Background(), ems.PhaseOEG, "ATO-0001")
	require.NoError(t, err)

	strategy := asMap(outputs["ems_strategy"])
	require.NotNil(t, strategy)
	assert.NotEmpty(t, strategy["commanders_intent"])
	assert.NotEmpty(t, asStrings(strategy["objectives"]))
	assert.Equal(t, "fallback", strategy["generated_by"])

	// The output is on the cycle and the response was tracked.
	assert.NotNil(t, rt.outputs["ems_strategy"])
	require.NotEmpty(t, rt.tracked)
	assert.Contains(t, rt.tracked[0], "DOC-1")
}

func TestStrategyController_RequirementsFromThreats(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseTargetDevelopment)
	c := NewStrategyController(NewBaseAgent(testProfile(ems.AgentEMSStrategy), rt, nil))

	outputs, err := c.ExecutePhaseTasks(context.Background(), ems.PhaseTargetDevelopment, "ATO-0001")
	require.NoError(t, err)

	requirements := asMap(outputs["ems_requirements"])
	require.NotNil(t, requirements)
	ea := asStrings(requirements["ea_requirements"])
	require.Len(t, ea, 2) // one per seeded threat
	assert.Contains(t, ea[0], "Suppress")
}

func TestStrategyController_InactivePhase(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseExecution)
	c := NewStrategyController(NewBaseAgent(testProfile(ems.AgentEMSStrategy), rt, nil))

	outputs, err := c.ExecutePhaseTasks(context.Background(), ems.PhaseExecution, "ATO-0001")
	require.NoError(t, err)
	assert.Empty(t, outputs)
}

func TestSpectrumController_ServesFrequencyRequest(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseWeaponeering)
	c := NewSpectrumController(NewBaseAgent(testProfile(ems.AgentSpectrumManager), rt, nil))

	reply := c.HandleMessage(context.Background(), NewMessage(
		ems.AgentEWPlanner, c.ID(), "frequency_request", map[string]any{
			"mission_id":   "EA-ATO-0001-001",
			"freq_min_mhz": 2400.0,
			"freq_max_mhz": 2500.0,
			"area":         "AOR-NORTH",
		}))
	require.True(t, reply.OK, "reply error: %s", reply.Err)
	assert.NotEmpty(t, reply.Payload["allocation_id"])
	assert.Equal(t, "allocated", reply.Payload["status"])

	outputs, err := c.ExecutePhaseTasks(context.Background(), ems.PhaseWeaponeering, "ATO-0001")
	require.NoError(t, err)
	allocations := asMapSlice(outputs["frequency_allocations"])
	require.Len(t, allocations, 1)
}

func TestSpectrumController_DeconflictsOverlappingRequest(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseWeaponeering)
	c := NewSpectrumController(NewBaseAgent(testProfile(ems.AgentSpectrumManager), rt, nil))

	// 2700-2900 overlaps the seeded surveillance radar allocation, whose
	// 72-hour window is anchored to wall-clock time.
	reply := c.HandleMessage(context.Background(), NewMessage(
		ems.AgentEWPlanner, c.ID(), "frequency_request", map[string]any{
			"mission_id":   "EA-ATO-0001-002",
			"freq_min_mhz": 2700.0,
			"freq_max_mhz": 2900.0,
			"start_time":   time.Now().UTC(),
			"end_time":     time.Now().UTC().Add(2 * time.Hour),
			"area":         "AOR-NORTH",
		}))
	require.True(t, reply.OK, "reply error: %s", reply.Err)

	granted, _ := reply.Payload["freq_min_mhz"].(float64)
	assert.NotEqual(t, 2700.0, granted, "conflicting request must be moved to a free range")
}

func TestSpectrumController_RepeatedConflictsFlagRedundantCoordination(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseWeaponeering)
	c := NewSpectrumController(NewBaseAgent(testProfile(ems.AgentSpectrumManager), rt, nil))

	// Three standing allocations by the same user cover the requested band,
	// so one deconfliction coordinates with that user three times.
	window := rt.Now().Truncate(time.Hour)
	for _, band := range [][2]float64{{2400, 2450}, {2430, 2470}, {2460, 2500}} {
		_, err := rt.brk.CreateAllocation(context.Background(), ems.AgentSpectrumManager, broker.Record{
			"freq_min_mhz": band[0],
			"freq_max_mhz": band[1],
			"start_time":   window.Add(-time.Hour),
			"end_time":     window.Add(12 * time.Hour),
			"area":         "AOR-NORTH",
			"user":         "tactical_data_link",
		})
		require.NoError(t, err)
	}

	reply := c.HandleMessage(context.Background(), NewMessage(
		ems.AgentEWPlanner, c.ID(), "frequency_request", map[string]any{
			"mission_id":   "EA-ATO-0001-003",
			"freq_min_mhz": 2400.0,
			"freq_max_mhz": 2500.0,
			"area":         "AOR-NORTH",
		}))
	require.True(t, reply.OK, "reply error: %s", reply.Err)

	flags := rt.flags.Flags(improve.FlagFilter{Type: ems.InefficiencyRedundantCoordination})
	require.Len(t, flags, 1)
	assert.Equal(t, "spectrum_deconfliction", flags[0].Workflow)
	assert.Contains(t, flags[0].Description, "tactical_data_link")
}

func TestSpectrumController_RejectsUnauthorized(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseWeaponeering)
	rt.denyAuthz = true
	c := NewSpectrumController(NewBaseAgent(testProfile(ems.AgentSpectrumManager), rt, nil))

	reply := c.HandleMessage(context.Background(), NewMessage(
		ems.AgentEWPlanner, c.ID(), "frequency_request", map[string]any{
			"mission_id":   "EA-X",
			"freq_min_mhz": 2400.0,
			"freq_max_mhz": 2500.0,
		}))
	assert.False(t, reply.OK)
	assert.Contains(t, reply.Err, "unauthorized")
}

func TestEWPlannerController_PlansMissions(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseWeaponeering)
	spectrum := NewSpectrumController(NewBaseAgent(testProfile(ems.AgentSpectrumManager), rt, nil))
	rt.peers[ems.AgentSpectrumManager] = spectrum.BaseAgent

	rt.outputs["ems_requirements"] = map[string]any{
		"ea_requirements": []string{"Suppress SA-10", "Suppress communications jammer"},
		"ep_requirements": []string{"Protect friendly communications from jamming"},
	}

	c := NewEWPlannerController(NewBaseAgent(testProfile(ems.AgentEWPlanner), rt, nil))
	outputs, err := c.ExecutePhaseTasks(context.Background(), ems.PhaseWeaponeering, "ATO-0001")
	require.NoError(t, err)

	missions := asMapSlice(outputs["ew_missions"])
	require.Len(t, missions, 3)

	ea := missions[0]
	assert.Equal(t, "EA-ATO-0001-001", ea["mission_id"])
	assert.Equal(t, "ASSET-EA-001", ea["assigned_asset"])
	require.NotNil(t, ea["frequency_allocation"], "first EA mission gets an allocation")
	assert.NotNil(t, ea["fratricide_check"])

	// Second EA mission takes the second asset.
	assert.Equal(t, "ASSET-EA-002", missions[1]["assigned_asset"])

	ep := missions[2]
	assert.Equal(t, "EP", ep["mission_type"])
	assert.Nil(t, ep["assigned_asset"])
}

func TestEWPlannerController_MissingRequirementsFlagsGap(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseWeaponeering)
	c := NewEWPlannerController(NewBaseAgent(testProfile(ems.AgentEWPlanner), rt, nil))

	outputs, err := c.ExecutePhaseTasks(context.Background(), ems.PhaseWeaponeering, "ATO-0001")
	require.NoError(t, err)
	assert.NotEmpty(t, asMapSlice(outputs["ew_missions"]))

	gaps := rt.flags.Flags(improve.FlagFilter{Type: ems.InefficiencyInformationGap})
	require.NotEmpty(t, gaps)
	assert.Equal(t, "Plan EW Missions", gaps[0].Workflow)
}

func TestProducerController_EscalatesEAApproval(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseATOProduction)
	rt.escalation = map[string]any{"approved": true}
	rt.outputs["ew_missions"] = []map[string]any{
		{"mission_id": "EA-ATO-0001-001", "mission_type": "EA", "objectives": []string{"SEAD"}},
		{"mission_id": "EP-ATO-0001-001", "mission_type": "EP"},
	}
	rt.outputs["frequency_allocations"] = []map[string]any{
		{"allocation_id": "ALLOC-002", "mission_id": "EA-ATO-0001-001"},
	}

	c := NewProducerController(NewBaseAgent(testProfile(ems.AgentATOProducer), rt, nil))
	outputs, err := c.ExecutePhaseTasks(context.Background(), ems.PhaseATOProduction, "ATO-0001")
	require.NoError(t, err)

	annex := asMap(outputs["ato_document"])
	require.NotNil(t, annex)
	assert.Equal(t, "published", annex["status"])

	validation := asMap(annex["validation"])
	assert.Equal(t, true, validation["all_approved"])
	require.Len(t, rt.escalations, 1)

	spins := asMap(annex["spins_annex"])
	assert.Equal(t, 1, spins["guarded_frequencies"])
}

func TestProducerController_UnapprovedWithoutOperator(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseATOProduction)
	rt.escalation = nil // no operator answer
	rt.outputs["ew_missions"] = []map[string]any{
		{"mission_id": "EA-ATO-0001-001", "mission_type": "EA"},
	}

	c := NewProducerController(NewBaseAgent(testProfile(ems.AgentATOProducer), rt, nil))
	outputs, err := c.ExecutePhaseTasks(context.Background(), ems.PhaseATOProduction, "ATO-0001")
	require.NoError(t, err)

	validation := asMap(asMap(outputs["ato_document"])["validation"])
	assert.Equal(t, false, validation["all_approved"])
	assert.Equal(t, []string{"EA-ATO-0001-001"}, asStrings(validation["unapproved"]))
}

func TestAssessmentController_AssessesAndLearns(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseAssessment)
	rt.outputs["ew_missions"] = []map[string]any{
		{"mission_id": "EA-1", "status": "executed"},
		{"mission_id": "EA-2", "status": "failed"},
	}
	rt.outputs["ems_strategy"] = map[string]any{"commanders_intent": "x"}

	// Seed cycle flags for the process analysis.
	for i := 0; i < 3; i++ {
		_, err := rt.flags.Flag(improve.FlagInput{
			CycleID: "ATO-0001", Phase: ems.PhaseWeaponeering,
			AgentID: ems.AgentEWPlanner, Workflow: "Plan EW Missions",
			Type: ems.InefficiencyInformationGap, Description: "missing requirements",
		})
		require.NoError(t, err)
	}

	c := NewAssessmentController(NewBaseAgent(testProfile(ems.AgentAssessment), rt, nil))
	outputs, err := c.ExecutePhaseTasks(context.Background(), ems.PhaseAssessment, "ATO-0001")
	require.NoError(t, err)

	assessment := asMap(outputs["effectiveness_assessment"])
	require.NotNil(t, assessment)
	mission := asMap(assessment["mission_effectiveness"])
	assert.Equal(t, 1, mission["successful_missions"])
	assert.Equal(t, "needs_improvement", mission["rating"]) // 50% success

	analysis := asMap(outputs["process_improvement_analysis"])
	assert.Equal(t, 3, analysis["total_flags"])
	assert.Equal(t, string(ems.InefficiencyInformationGap), analysis["dominant_type"])

	lessons := asStrings(outputs["lessons_learned"])
	assert.NotEmpty(t, lessons)

	assert.NotNil(t, rt.outputs["effectiveness_assessment"])
	assert.NotNil(t, rt.outputs["lessons_learned"])
}

func TestAssessmentController_FlagsDoctrineContradiction(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseAssessment)

	// Two doctrine sources disagree on deconfliction: one gates it behind
	// commander approval, the other delegates it to the cell.
	require.NoError(t, rt.kb.AddBatch(context.Background(), []doctrine.Document{
		{ID: "jp-3-85-deconfliction", Content: "Spectrum deconfliction of contested bands requires approval from the joint force commander before reallocation."},
		{ID: "afi-10-703-deconfliction", Content: "Spectrum deconfliction may proceed at cell level; managers reallocate contested bands directly during planning."},
	}))

	// The cycle flagged deconfliction, so the consistency review re-checks it.
	_, err := rt.flags.Flag(improve.FlagInput{
		CycleID: "ATO-0001", Phase: ems.PhaseWeaponeering,
		AgentID: ems.AgentSpectrumManager, Workflow: "spectrum_deconfliction",
		Type: ems.InefficiencyDeconflictionIssue, Description: "conflict rate above threshold",
	})
	require.NoError(t, err)

	c := NewAssessmentController(NewBaseAgent(testProfile(ems.AgentAssessment), rt, nil))
	outputs, err := c.ExecutePhaseTasks(context.Background(), ems.PhaseAssessment, "ATO-0001")
	require.NoError(t, err)

	review := asMap(outputs["doctrine_review"])
	require.NotNil(t, review)
	assert.Equal(t, 1, review["workflows_reviewed"])
	require.Len(t, asStrings(review["contradictions"]), 1)

	flags := rt.flags.Flags(improve.FlagFilter{Type: ems.InefficiencyDoctrineContradiction})
	require.Len(t, flags, 1)
	assert.Equal(t, "spectrum_deconfliction", flags[0].Workflow)
	assert.Contains(t, flags[0].Description, "jp-3-85-deconfliction")
	assert.Contains(t, flags[0].Description, "afi-10-703-deconfliction")
}

func TestEvaluatorController_SweepsInAssessment(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseAssessment)
	c := NewEvaluatorController(NewBaseAgent(testProfile(ems.AgentEvaluator), rt, nil))

	outputs, err := c.ExecutePhaseTasks(context.Background(), ems.PhaseAssessment, "ATO-0001")
	require.NoError(t, err)

	evaluations := asMap(outputs["performance_evaluations"])
	require.Len(t, evaluations, 5)
	planner := asMap(evaluations[ems.AgentEWPlanner])
	assert.Equal(t, 0.8, planner["overall_score"])

	// Quiet outside assessment.
	quiet, err := c.ExecutePhaseTasks(context.Background(), ems.PhaseExecution, "ATO-0001")
	require.NoError(t, err)
	assert.Empty(t, quiet)
}

func TestNewController_AllRoles(t *testing.T) {
	rt := newFakeRuntime(t, ems.PhaseOEG)
	for id, profile := range ems.BuiltinProfiles() {
		controller, err := NewController(profile, rt, nil)
		require.NoError(t, err, id)
		assert.Equal(t, id, controller.Base().ID())
	}

	_, err := NewController(&ems.AgentProfile{AgentID: "x", Role: "unknown"}, rt, nil)
	assert.Error(t, err)
}
