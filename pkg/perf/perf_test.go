package perf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/ems"
)

func newTestEvaluator(t *testing.T, sources Sources) *Evaluator {
	t.Helper()
	builtin := config.GetBuiltinConfig()
	return NewEvaluator(config.NewProfileRegistry(builtin.Profiles), sources)
}

func TestCalculateOverallScore_PerfectAgent(t *testing.T) {
	m := &AgentPerformanceMetrics{
		MissionSuccessRate:        1.0,
		OutputQualityScore:        1.0,
		DoctrinalComplianceRate:   1.0,
		AvgTaskCompletionTime:     1.0,
		TimelineAdherenceRate:     1.0,
		ResourceUtilization:       1.0,
		InterAgentResponseTime:    0.0,
		CoordinationEffectiveness: 1.0,
		InformationSharingQuality: 1.0,
		InefficienciesIdentified:  5,
		ImprovementSuggestions:    3,
		SuggestionAdoptionRate:    1.0,
		LessonLearnedApplication:  1.0,
		PerformanceTrend:          TrendImproving,
		ContextUtilization:        1.0,
		ErrorRate:                 0.0,
		RecoverySuccessRate:       1.0,
		EscalationAppropriateness: 1.0,
	}
	// efficiency holds back from 1.0: on-time completion only earns half of
	// the completion-time component.
	assert.InDelta(t, 0.96, m.CalculateOverallScore(), 1e-9)
	assert.InDelta(t, 0.96, m.OverallScore, 1e-9)
}

func TestCalculateOverallScore_CompletionTimeCapped(t *testing.T) {
	slow := &AgentPerformanceMetrics{AvgTaskCompletionTime: 3.0, PerformanceTrend: TrendStable}
	slower := &AgentPerformanceMetrics{AvgTaskCompletionTime: 9.0, PerformanceTrend: TrendStable}
	assert.InDelta(t, slow.CalculateOverallScore(), slower.CalculateOverallScore(), 1e-9)
}

func TestMissionSuccess_RoleSpecific(t *testing.T) {
	full := map[string]any{
		"ew_missions":              []any{map[string]any{"mission_id": "EA-001"}},
		"ato_document":             map[string]any{"annex": "EMS"},
		"effectiveness_assessment": map[string]any{"verdict": "effective"},
		"ems_strategy":             "contest the spectrum",
	}

	tests := []struct {
		role    ems.AgentRole
		outputs map[string]any
		want    float64
	}{
		{ems.RoleEWPlanner, full, 1.0},
		{ems.RoleEWPlanner, nil, 0.0},
		{ems.RoleEWPlanner, map[string]any{"ew_missions": []any{}}, 0.0},
		{ems.RoleSpectrumManager, nil, 1.0},
		{ems.RoleATOProducer, full, 1.0},
		{ems.RoleATOProducer, map[string]any{}, 0.0},
		{ems.RoleAssessment, full, 1.0},
		{ems.RoleEMSStrategy, full, 1.0},
		{ems.RoleEMSStrategy, map[string]any{"ems_strategy": "   "}, 0.0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, missionSuccess(tt.role, tt.outputs), "role %s", tt.role)
	}
}

func TestOutputQuality(t *testing.T) {
	assert.Equal(t, 0.5, outputQuality(nil))
	assert.Equal(t, 1.0, outputQuality(map[string]any{"a": "x", "b": []any{1}}))
	assert.Equal(t, 0.5, outputQuality(map[string]any{"a": "x", "b": ""}))
}

func TestEvaluateCycle_UsesTelemetry(t *testing.T) {
	outputs := map[string]any{
		"ew_missions": []any{map[string]any{"mission_id": "EA-001"}},
	}
	e := newTestEvaluator(t, Sources{
		Outputs: func(cycleID string) map[string]any { return outputs },
		Flags: func(agentID, cycleID string) (int, int) {
			return 4, 2
		},
		ContextUtilization: func(agentID string) (float64, bool) { return 0.3, true },
	})

	e.RecordTaskExecution(TaskExecutionMetric{
		TaskName: "plan_ew_missions", AgentID: ems.AgentEWPlanner, CycleID: "ATO-0001",
		ExpectedHours: 4, ActualHours: 4, Success: true,
	})
	e.RecordTaskExecution(TaskExecutionMetric{
		TaskName: "check_fratricide", AgentID: ems.AgentEWPlanner, CycleID: "ATO-0001",
		ExpectedHours: 2, ActualHours: 6, Success: false, Errors: []string{"timeout"},
	})
	e.RecordResourceUsage(ResourceUsageMetric{AgentID: ems.AgentEWPlanner, CycleID: "ATO-0001", LLMCalls: 12})

	m, err := e.EvaluateCycle(ems.AgentEWPlanner, "ATO-0001")
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.MissionSuccessRate)
	assert.InDelta(t, 2.0, m.AvgTaskCompletionTime, 1e-9) // (1.0 + 3.0) / 2
	assert.InDelta(t, 0.5, m.TimelineAdherenceRate, 1e-9)
	assert.InDelta(t, 0.5, m.ErrorRate, 1e-9)
	assert.Equal(t, meteredResourceUtilization, m.ResourceUtilization)
	assert.Equal(t, 4, m.InefficienciesIdentified)
	assert.Equal(t, 2, m.ImprovementSuggestions)
	assert.InDelta(t, 0.3, m.ContextUtilization, 1e-9)
	assert.Equal(t, TrendStable, m.PerformanceTrend)
	assert.Greater(t, m.OverallScore, 0.0)
}

func TestEvaluateCycle_DefaultsWithoutTelemetry(t *testing.T) {
	e := newTestEvaluator(t, Sources{})
	m, err := e.EvaluateCycle(ems.AgentSpectrumManager, "ATO-0001")
	require.NoError(t, err)

	assert.Equal(t, 1.0, m.MissionSuccessRate)
	assert.Equal(t, 0.5, m.OutputQualityScore)
	assert.Equal(t, 1.0, m.AvgTaskCompletionTime)
	assert.Equal(t, 1.0, m.TimelineAdherenceRate)
	assert.Equal(t, defaultResourceUtilization, m.ResourceUtilization)
	assert.Equal(t, defaultResponseMinutes, m.InterAgentResponseTime)
	assert.Equal(t, defaultSharingQuality, m.InformationSharingQuality)
	assert.Equal(t, defaultContextUtilization, m.ContextUtilization)
	assert.Equal(t, 0.0, m.ErrorRate)
}

func TestEvaluateCycle_UnknownAgent(t *testing.T) {
	e := newTestEvaluator(t, Sources{})
	_, err := e.EvaluateCycle("ghost_agent", "ATO-0001")
	assert.Error(t, err)
}

func TestCollaborationAverages(t *testing.T) {
	e := newTestEvaluator(t, Sources{})
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	// Replies the planner sent: 2 and 4 minutes.
	e.RecordCollaboration(CollaborationMetric{
		FromAgent: ems.AgentSpectrumManager, ToAgent: ems.AgentEWPlanner,
		RequestTime: base, ResponseTime: base.Add(2 * time.Minute), Success: true,
	})
	e.RecordCollaboration(CollaborationMetric{
		FromAgent: ems.AgentATOProducer, ToAgent: ems.AgentEWPlanner,
		RequestTime: base, ResponseTime: base.Add(4 * time.Minute), Success: true,
	})
	// Unanswered request does not skew the average.
	e.RecordCollaboration(CollaborationMetric{
		FromAgent: ems.AgentAssessment, ToAgent: ems.AgentEWPlanner,
		RequestTime: base, Success: false,
	})
	// Quality ratings on exchanges the planner initiated.
	e.RecordCollaboration(CollaborationMetric{
		FromAgent: ems.AgentEWPlanner, ToAgent: ems.AgentSpectrumManager,
		RequestTime: base, ResponseQuality: 0.9, Success: true,
	})
	e.RecordCollaboration(CollaborationMetric{
		FromAgent: ems.AgentEWPlanner, ToAgent: ems.AgentATOProducer,
		RequestTime: base, ResponseQuality: 0.7, Success: true,
	})

	m, err := e.EvaluateCycle(ems.AgentEWPlanner, "ATO-0001")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, m.InterAgentResponseTime, 1e-9)
	assert.InDelta(t, 0.8, m.InformationSharingQuality, 1e-9)
}

func TestTrendAcrossCycles(t *testing.T) {
	outputs := map[string]map[string]any{
		"ATO-0001": nil, // nothing produced
		"ATO-0002": {"ew_missions": []any{map[string]any{"mission_id": "EA-001"}}},
		"ATO-0003": {"ew_missions": []any{map[string]any{"mission_id": "EA-002"}}},
	}
	e := newTestEvaluator(t, Sources{
		Outputs: func(cycleID string) map[string]any { return outputs[cycleID] },
	})

	first, err := e.EvaluateCycle(ems.AgentEWPlanner, "ATO-0001")
	require.NoError(t, err)
	assert.Equal(t, TrendStable, first.PerformanceTrend)

	second, err := e.EvaluateCycle(ems.AgentEWPlanner, "ATO-0002")
	require.NoError(t, err)
	assert.Equal(t, TrendStable, second.PerformanceTrend) // only one prior score
	assert.Greater(t, second.OverallScore, first.OverallScore)

	third, err := e.EvaluateCycle(ems.AgentEWPlanner, "ATO-0003")
	require.NoError(t, err)
	assert.Equal(t, TrendImproving, third.PerformanceTrend)

	history := e.History(ems.AgentEWPlanner)
	require.Len(t, history, 3)
	assert.Equal(t, "ATO-0001", history[0].CycleID)
}

func TestLatest(t *testing.T) {
	e := newTestEvaluator(t, Sources{})
	_, err := e.EvaluateCycle(ems.AgentEWPlanner, "ATO-0001")
	require.NoError(t, err)
	_, err = e.EvaluateCycle(ems.AgentEWPlanner, "ATO-0002")
	require.NoError(t, err)

	latest := e.Latest()
	require.Contains(t, latest, ems.AgentEWPlanner)
	assert.Equal(t, "ATO-0002", latest[ems.AgentEWPlanner].CycleID)
}

func TestReport(t *testing.T) {
	e := newTestEvaluator(t, Sources{})
	_, err := e.EvaluateCycle(ems.AgentSpectrumManager, "ATO-0001")
	require.NoError(t, err)
	_, err = e.EvaluateCycle(ems.AgentSpectrumManager, "ATO-0002")
	require.NoError(t, err)

	report := e.Report(ems.AgentSpectrumManager, 1)
	assert.Contains(t, report, ems.AgentSpectrumManager)
	assert.Contains(t, report, "Cycles evaluated: 1")
	assert.Contains(t, report, "ATO-0002")
	assert.NotContains(t, report, "ATO-0001")

	empty := e.Report(ems.AgentEvaluator, 0)
	assert.Contains(t, empty, "No evaluations recorded")
}
