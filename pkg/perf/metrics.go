// Package perf scores agent performance per cycle across six weighted
// dimensions and tracks the trend across cycles.
package perf

import (
	"time"
)

// Trend labels the direction of an agent's overall score across cycles.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDegrading Trend = "degrading"
)

// trendWeight maps a trend into the learning dimension's scoring.
var trendWeight = map[Trend]float64{
	TrendImproving: 1.0,
	TrendStable:    0.7,
	TrendDegrading: 0.3,
}

// AgentPerformanceMetrics is one agent's evaluation for one cycle across the
// six dimensions: mission effectiveness, efficiency, collaboration, process
// improvement, learning and adaptation, robustness.
type AgentPerformanceMetrics struct {
	AgentID     string    `json:"agent_id"`
	CycleID     string    `json:"cycle_id"`
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Mission effectiveness
	MissionSuccessRate      float64 `json:"mission_success_rate"`
	OutputQualityScore      float64 `json:"output_quality_score"`
	DoctrinalComplianceRate float64 `json:"doctrinal_compliance_rate"`

	// Efficiency
	AvgTaskCompletionTime float64 `json:"avg_task_completion_time"` // ratio to expected
	TimelineAdherenceRate float64 `json:"timeline_adherence_rate"`
	ResourceUtilization   float64 `json:"resource_utilization"`

	// Collaboration
	InterAgentResponseTime    float64 `json:"inter_agent_response_time"` // minutes
	CoordinationEffectiveness float64 `json:"coordination_effectiveness"`
	InformationSharingQuality float64 `json:"information_sharing_quality"`

	// Process improvement
	InefficienciesIdentified int     `json:"inefficiencies_identified"`
	ImprovementSuggestions   int     `json:"improvement_suggestions"`
	SuggestionAdoptionRate   float64 `json:"suggestion_adoption_rate"`

	// Learning and adaptation
	LessonLearnedApplication float64 `json:"lesson_learned_application"`
	PerformanceTrend         Trend   `json:"performance_trend"`
	ContextUtilization       float64 `json:"context_utilization"`

	// Robustness
	ErrorRate                 float64 `json:"error_rate"`
	RecoverySuccessRate       float64 `json:"recovery_success_rate"`
	EscalationAppropriateness float64 `json:"escalation_appropriateness"`

	OverallScore float64 `json:"overall_score"`
}

// CalculateOverallScore computes and stores the weighted overall score:
// effectiveness 30%, efficiency 20%, collaboration 15%, improvement 15%,
// learning 10%, robustness 10%.
func (m *AgentPerformanceMetrics) CalculateOverallScore() float64 {
	effectiveness := m.MissionSuccessRate*0.5 +
		m.OutputQualityScore*0.3 +
		m.DoctrinalComplianceRate*0.2

	efficiency := (2.0-min(m.AvgTaskCompletionTime, 2.0))/2.0*0.4 +
		m.TimelineAdherenceRate*0.3 +
		m.ResourceUtilization*0.3

	collaboration := (1.0/(1.0+m.InterAgentResponseTime/30.0))*0.3 +
		m.CoordinationEffectiveness*0.4 +
		m.InformationSharingQuality*0.3

	improvement := min(float64(m.InefficienciesIdentified)/5.0, 1.0)*0.4 +
		min(float64(m.ImprovementSuggestions)/3.0, 1.0)*0.3 +
		m.SuggestionAdoptionRate*0.3

	trend, ok := trendWeight[m.PerformanceTrend]
	if !ok {
		trend = 0.5
	}
	learning := m.LessonLearnedApplication*0.4 +
		trend*0.3 +
		m.ContextUtilization*0.3

	robustness := (1.0-m.ErrorRate)*0.4 +
		m.RecoverySuccessRate*0.3 +
		m.EscalationAppropriateness*0.3

	m.OverallScore = effectiveness*0.30 +
		efficiency*0.20 +
		collaboration*0.15 +
		improvement*0.15 +
		learning*0.10 +
		robustness*0.10
	return m.OverallScore
}

// TaskExecutionMetric records one task run for efficiency and robustness
// scoring.
type TaskExecutionMetric struct {
	TaskName      string         `json:"task_name"`
	AgentID       string         `json:"agent_id"`
	CycleID       string         `json:"cycle_id"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	ExpectedHours float64        `json:"expected_hours"`
	ActualHours   float64        `json:"actual_hours"`
	Success       bool           `json:"success"`
	Errors        []string       `json:"errors,omitempty"`
	Outputs       map[string]any `json:"outputs,omitempty"`
}

// CollaborationMetric records one inter-agent exchange. A zero ResponseTime
// means no reply arrived.
type CollaborationMetric struct {
	FromAgent       string    `json:"from_agent"`
	ToAgent         string    `json:"to_agent"`
	MessageType     string    `json:"message_type"`
	RequestTime     time.Time `json:"request_time"`
	ResponseTime    time.Time `json:"response_time,omitempty"`
	ResponseQuality float64   `json:"response_quality"` // rated by the requester
	Success         bool      `json:"success"`
}

// ResourceUsageMetric records per-cycle resource consumption.
type ResourceUsageMetric struct {
	AgentID             string `json:"agent_id"`
	CycleID             string `json:"cycle_id"`
	LLMCalls            int    `json:"llm_calls"`
	LLMTokensUsed       int    `json:"llm_tokens_used"`
	DatabaseQueries     int    `json:"database_queries"`
	InformationRequests int    `json:"information_requests"`
	ContextSizeTokens   int    `json:"context_size_tokens"`
}
