package agent

import (
	"context"

	"github.com/aether-os/aether/pkg/ems"
)

// EvaluatorController scores the other agents' cycle performance. It is not
// phase-bound; it runs its full evaluation sweep when the cycle reaches
// assessment and stays quiet otherwise.
type EvaluatorController struct {
	*BaseAgent
}

// evaluatedAgents are the mission agents the evaluator scores each cycle.
var evaluatedAgents = []string{
	ems.AgentEMSStrategy,
	ems.AgentSpectrumManager,
	ems.AgentEWPlanner,
	ems.AgentATOProducer,
	ems.AgentAssessment,
}

func NewEvaluatorController(base *BaseAgent) *EvaluatorController {
	return &EvaluatorController{BaseAgent: base}
}

func (c *EvaluatorController) Base() *BaseAgent { return c.BaseAgent }

func (c *EvaluatorController) ExecutePhaseTasks(ctx context.Context, phase ems.Phase, cycleID string) (map[string]any, error) {
	if phase != ems.PhaseAssessment {
		return map[string]any{}, nil
	}

	var evaluations map[string]any
	err := c.ExecuteDoctrinalProcedure(ctx, "Evaluate Agent Performance", 2.0, func(ctx context.Context) error {
		evaluations = c.evaluateAll(cycleID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := c.runtime.RecordOutput("performance_evaluations", evaluations); err != nil {
		c.logger.Warn("Recording cycle output failed", "key", "performance_evaluations", "error", err)
	}
	return map[string]any{"performance_evaluations": evaluations}, nil
}

// evaluateAll scores each mission agent; a failed evaluation is recorded as
// such rather than aborting the sweep.
func (c *EvaluatorController) evaluateAll(cycleID string) map[string]any {
	evaluations := make(map[string]any, len(evaluatedAgents))
	for _, agentID := range evaluatedAgents {
		metrics, err := c.runtime.EvaluateAgentPerformance(agentID, cycleID)
		if err != nil {
			c.logger.Warn("Agent evaluation failed", "agent", agentID, "error", err)
			evaluations[agentID] = map[string]any{"error": err.Error()}
			continue
		}
		evaluations[agentID] = map[string]any{
			"overall_score": metrics.OverallScore,
			"trend":         string(metrics.PerformanceTrend),
		}
	}
	c.logger.Info("Agent performance sweep complete", "cycle", cycleID, "agents", len(evaluations))
	return evaluations
}
