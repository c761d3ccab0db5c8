package perf

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/ems"
)

// Defaults applied where no telemetry exists for a dimension input. Compliance
// and escalation are assumed high until authorization and escalation audits
// feed real numbers.
const (
	defaultCompliance          = 0.95
	defaultResourceUtilization = 0.7
	meteredResourceUtilization = 0.8
	defaultResponseMinutes     = 5.0
	coordinationEffectiveness  = 0.85
	defaultSharingQuality      = 0.8
	defaultAdoptionRate        = 0.5
	defaultLessonApplication   = 0.7
	defaultRecoveryRate        = 0.9
	defaultEscalation          = 0.85
	defaultContextUtilization  = 0.5

	// Tasks finishing within this multiple of their expected duration count
	// as on-time.
	timelineFactor = 1.3

	// Overall-score movement below this is treated as stable.
	trendDelta = 0.05
)

// roleKeyOutputs names the cycle outputs each role is expected to produce.
var roleKeyOutputs = map[ems.AgentRole][]string{
	ems.RoleEMSStrategy:     {"ems_strategy"},
	ems.RoleEWPlanner:       {"ew_missions"},
	ems.RoleSpectrumManager: {"frequency_allocations"},
	ems.RoleATOProducer:     {"ato_document"},
	ems.RoleAssessment:      {"effectiveness_assessment", "lessons_learned"},
}

// Sources are the optional hooks the evaluator pulls cross-subsystem data
// from. Any nil hook falls back to the dimension's default.
type Sources struct {
	// Outputs returns the flattened cycle outputs for a cycle ID.
	Outputs func(cycleID string) map[string]any
	// Flags returns the inefficiency flag count and suggestion count an
	// agent raised during a cycle.
	Flags func(agentID, cycleID string) (identified, suggestions int)
	// ContextUtilization returns the agent's average context window
	// utilization when usage data exists.
	ContextUtilization func(agentID string) (float64, bool)
}

// Evaluator accumulates execution, collaboration, and resource records and
// scores each agent per cycle. Evaluations append to a per-agent history used
// for trend analysis.
type Evaluator struct {
	profiles *config.ProfileRegistry
	sources  Sources
	logger   *slog.Logger

	mu        sync.RWMutex
	tasks     []TaskExecutionMetric
	collabs   []CollaborationMetric
	resources []ResourceUsageMetric
	history   map[string][]*AgentPerformanceMetrics
}

// NewEvaluator creates an evaluator over the given profile registry.
func NewEvaluator(profiles *config.ProfileRegistry, sources Sources) *Evaluator {
	return &Evaluator{
		profiles: profiles,
		sources:  sources,
		logger:   slog.With("component", "perf"),
		history:  make(map[string][]*AgentPerformanceMetrics),
	}
}

// RecordTaskExecution appends one task run.
func (e *Evaluator) RecordTaskExecution(m TaskExecutionMetric) {
	e.mu.Lock()
	e.tasks = append(e.tasks, m)
	e.mu.Unlock()
}

// RecordCollaboration appends one inter-agent exchange.
func (e *Evaluator) RecordCollaboration(m CollaborationMetric) {
	e.mu.Lock()
	e.collabs = append(e.collabs, m)
	e.mu.Unlock()
}

// RecordResourceUsage appends one per-cycle resource record.
func (e *Evaluator) RecordResourceUsage(m ResourceUsageMetric) {
	e.mu.Lock()
	e.resources = append(e.resources, m)
	e.mu.Unlock()
}

// EvaluateCycle scores one agent for one cycle across all six dimensions and
// appends the result to the agent's history.
func (e *Evaluator) EvaluateCycle(agentID, cycleID string) (*AgentPerformanceMetrics, error) {
	profile, err := e.profiles.Get(agentID)
	if err != nil {
		return nil, fmt.Errorf("evaluating %s: %w", agentID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tasks := e.cycleTasks(agentID, cycleID)

	var outputs map[string]any
	if e.sources.Outputs != nil {
		outputs = e.sources.Outputs(cycleID)
	}

	m := &AgentPerformanceMetrics{
		AgentID:     agentID,
		CycleID:     cycleID,
		EvaluatedAt: time.Now().UTC(),

		MissionSuccessRate:      missionSuccess(profile.Role, outputs),
		OutputQualityScore:      outputQuality(outputs),
		DoctrinalComplianceRate: defaultCompliance,

		AvgTaskCompletionTime: avgTaskTime(tasks),
		TimelineAdherenceRate: timelineAdherence(tasks),
		ResourceUtilization:   e.resourceUtilization(agentID, cycleID),

		InterAgentResponseTime:    e.avgResponseMinutes(agentID),
		CoordinationEffectiveness: coordinationEffectiveness,
		InformationSharingQuality: e.sharingQuality(agentID),

		SuggestionAdoptionRate: defaultAdoptionRate,

		LessonLearnedApplication: defaultLessonApplication,
		PerformanceTrend:         e.trend(agentID),
		ContextUtilization:       e.contextUtilization(agentID),

		ErrorRate:                 errorRate(tasks),
		RecoverySuccessRate:       defaultRecoveryRate,
		EscalationAppropriateness: defaultEscalation,
	}
	if e.sources.Flags != nil {
		m.InefficienciesIdentified, m.ImprovementSuggestions = e.sources.Flags(agentID, cycleID)
	}
	m.CalculateOverallScore()

	e.history[agentID] = append(e.history[agentID], m)

	e.logger.Info("Agent cycle evaluated",
		"agent", agentID, "cycle", cycleID,
		"score", fmt.Sprintf("%.3f", m.OverallScore), "trend", m.PerformanceTrend)

	out := *m
	return &out, nil
}

// History returns copies of the agent's evaluations, oldest first.
func (e *Evaluator) History(agentID string) []AgentPerformanceMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entries := e.history[agentID]
	out := make([]AgentPerformanceMetrics, len(entries))
	for i, m := range entries {
		out[i] = *m
	}
	return out
}

// Latest returns the most recent evaluation for every agent with history.
func (e *Evaluator) Latest() map[string]AgentPerformanceMetrics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]AgentPerformanceMetrics, len(e.history))
	for agentID, entries := range e.history {
		if len(entries) > 0 {
			out[agentID] = *entries[len(entries)-1]
		}
	}
	return out
}

func (e *Evaluator) cycleTasks(agentID, cycleID string) []TaskExecutionMetric {
	var out []TaskExecutionMetric
	for _, task := range e.tasks {
		if task.AgentID == agentID && task.CycleID == cycleID {
			out = append(out, task)
		}
	}
	return out
}

// missionSuccess is role-specific: each role is judged on its own key outputs
// for the cycle. The spectrum manager's routine allocation work always
// counts; its failures surface through deconfliction flags instead.
func missionSuccess(role ems.AgentRole, outputs map[string]any) float64 {
	switch role {
	case ems.RoleSpectrumManager:
		return 1.0
	case ems.RoleEWPlanner:
		if nonEmpty(outputs["ew_missions"]) {
			return 1.0
		}
		return 0.0
	case ems.RoleATOProducer:
		if nonEmpty(outputs["ato_document"]) {
			return 1.0
		}
		return 0.0
	case ems.RoleAssessment:
		if nonEmpty(outputs["effectiveness_assessment"]) {
			return 1.0
		}
		return 0.0
	default:
		expected := roleKeyOutputs[role]
		if len(expected) == 0 {
			return 1.0
		}
		produced := 0
		for _, key := range expected {
			if nonEmpty(outputs[key]) {
				produced++
			}
		}
		return float64(produced) / float64(len(expected))
	}
}

// outputQuality is the fraction of non-empty cycle outputs. With no outputs
// recorded yet the cycle scores neutral.
func outputQuality(outputs map[string]any) float64 {
	if len(outputs) == 0 {
		return 0.5
	}
	filled := 0
	for _, v := range outputs {
		if nonEmpty(v) {
			filled++
		}
	}
	return float64(filled) / float64(len(outputs))
}

func nonEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(x) != ""
	case []any:
		return len(x) > 0
	case []string:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

// avgTaskTime is the mean actual/expected ratio, 1.0 with no timed tasks.
func avgTaskTime(tasks []TaskExecutionMetric) float64 {
	sum, n := 0.0, 0
	for _, task := range tasks {
		if task.ExpectedHours > 0 {
			sum += task.ActualHours / task.ExpectedHours
			n++
		}
	}
	if n == 0 {
		return 1.0
	}
	return sum / float64(n)
}

// timelineAdherence is the fraction of timed tasks finishing within the
// timeline factor of their expected duration.
func timelineAdherence(tasks []TaskExecutionMetric) float64 {
	onTime, n := 0, 0
	for _, task := range tasks {
		if task.ExpectedHours <= 0 {
			continue
		}
		n++
		if task.ActualHours <= task.ExpectedHours*timelineFactor {
			onTime++
		}
	}
	if n == 0 {
		return 1.0
	}
	return float64(onTime) / float64(n)
}

func errorRate(tasks []TaskExecutionMetric) float64 {
	if len(tasks) == 0 {
		return 0.0
	}
	failed := 0
	for _, task := range tasks {
		if !task.Success {
			failed++
		}
	}
	return float64(failed) / float64(len(tasks))
}

func (e *Evaluator) resourceUtilization(agentID, cycleID string) float64 {
	for _, r := range e.resources {
		if r.AgentID == agentID && r.CycleID == cycleID {
			return meteredResourceUtilization
		}
	}
	return defaultResourceUtilization
}

// avgResponseMinutes averages the agent's reply latency on exchanges it
// answered.
func (e *Evaluator) avgResponseMinutes(agentID string) float64 {
	sum, n := 0.0, 0
	for _, c := range e.collabs {
		if c.ToAgent != agentID || c.ResponseTime.IsZero() {
			continue
		}
		sum += c.ResponseTime.Sub(c.RequestTime).Minutes()
		n++
	}
	if n == 0 {
		return defaultResponseMinutes
	}
	return sum / float64(n)
}

// sharingQuality averages the quality ratings on exchanges the agent
// initiated.
func (e *Evaluator) sharingQuality(agentID string) float64 {
	sum, n := 0.0, 0
	for _, c := range e.collabs {
		if c.FromAgent != agentID || c.ResponseQuality <= 0 {
			continue
		}
		sum += c.ResponseQuality
		n++
	}
	if n == 0 {
		return defaultSharingQuality
	}
	return sum / float64(n)
}

func (e *Evaluator) contextUtilization(agentID string) float64 {
	if e.sources.ContextUtilization == nil {
		return defaultContextUtilization
	}
	util, ok := e.sources.ContextUtilization(agentID)
	if !ok {
		return defaultContextUtilization
	}
	return util
}

// trend compares the agent's last two overall scores, prior to the evaluation
// in flight. Fewer than two evaluations reads as stable.
func (e *Evaluator) trend(agentID string) Trend {
	entries := e.history[agentID]
	if len(entries) < 2 {
		return TrendStable
	}
	previous := entries[len(entries)-2].OverallScore
	latest := entries[len(entries)-1].OverallScore
	switch {
	case latest > previous+trendDelta:
		return TrendImproving
	case latest < previous-trendDelta:
		return TrendDegrading
	default:
		return TrendStable
	}
}

// Report renders a text performance report over the agent's most recent
// evaluations, newest last.
func (e *Evaluator) Report(agentID string, lastN int) string {
	entries := e.History(agentID)
	if lastN > 0 && len(entries) > lastN {
		entries = entries[len(entries)-lastN:]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Performance Report: %s ===\n", agentID)
	fmt.Fprintf(&b, "Cycles evaluated: %d\n", len(entries))
	if len(entries) == 0 {
		b.WriteString("No evaluations recorded.\n")
		return b.String()
	}

	for _, m := range entries {
		fmt.Fprintf(&b, "\nCycle %s  overall %.3f  trend %s\n", m.CycleID, m.OverallScore, m.PerformanceTrend)
		fmt.Fprintf(&b, "  effectiveness: success %.2f  quality %.2f  compliance %.2f\n",
			m.MissionSuccessRate, m.OutputQualityScore, m.DoctrinalComplianceRate)
		fmt.Fprintf(&b, "  efficiency:    task-time %.2fx  adherence %.2f  resources %.2f\n",
			m.AvgTaskCompletionTime, m.TimelineAdherenceRate, m.ResourceUtilization)
		fmt.Fprintf(&b, "  collaboration: response %.1fm  coordination %.2f  sharing %.2f\n",
			m.InterAgentResponseTime, m.CoordinationEffectiveness, m.InformationSharingQuality)
		fmt.Fprintf(&b, "  improvement:   flags %d  suggestions %d  adoption %.2f\n",
			m.InefficienciesIdentified, m.ImprovementSuggestions, m.SuggestionAdoptionRate)
		fmt.Fprintf(&b, "  learning:      lessons %.2f  context-use %.2f\n",
			m.LessonLearnedApplication, m.ContextUtilization)
		fmt.Fprintf(&b, "  robustness:    errors %.2f  recovery %.2f  escalation %.2f\n",
			m.ErrorRate, m.RecoverySuccessRate, m.EscalationAppropriateness)
	}

	scores := make([]float64, len(entries))
	for i, m := range entries {
		scores[i] = m.OverallScore
	}
	sort.Float64s(scores)
	fmt.Fprintf(&b, "\nScore range: %.3f - %.3f\n", scores[0], scores[len(scores)-1])
	return b.String()
}
