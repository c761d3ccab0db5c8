package agent

import (
	"context"
	"fmt"

	"github.com/aether-os/aether/pkg/doctrine"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/improve"
)

// AssessmentController assesses cycle effectiveness during the assessment
// phase, analyzes the cycle's process-improvement flags, and captures lessons
// learned for the next cycle.
type AssessmentController struct {
	*BaseAgent
}

func NewAssessmentController(base *BaseAgent) *AssessmentController {
	return &AssessmentController{BaseAgent: base}
}

func (c *AssessmentController) Base() *BaseAgent { return c.BaseAgent }

func (c *AssessmentController) ExecutePhaseTasks(ctx context.Context, phase ems.Phase, cycleID string) (map[string]any, error) {
	if phase != ems.PhaseAssessment {
		c.logger.Warn("Not active in phase", "phase", phase)
		return map[string]any{}, nil
	}

	var assessment map[string]any
	err := c.ExecuteDoctrinalProcedure(ctx, "Assess ATO Cycle", 8.0, func(ctx context.Context) error {
		var err error
		assessment, err = c.assessCycle(ctx, cycleID)
		return err
	})
	if err != nil {
		return nil, err
	}

	var processAnalysis map[string]any
	err = c.ExecuteDoctrinalProcedure(ctx, "Analyze Process Improvements", 4.0, func(ctx context.Context) error {
		processAnalysis = c.analyzeProcessFlags(cycleID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var doctrineReview map[string]any
	err = c.ExecuteDoctrinalProcedure(ctx, "Review Doctrine Consistency", 2.0, func(ctx context.Context) error {
		doctrineReview = c.reviewDoctrineConsistency(ctx, cycleID, phase)
		return nil
	})
	if err != nil {
		return nil, err
	}

	lessons := c.generateLessons(assessment, processAnalysis)

	if err := c.runtime.RecordOutput("effectiveness_assessment", assessment); err != nil {
		c.logger.Warn("Recording cycle output failed", "key", "effectiveness_assessment", "error", err)
	}
	if err := c.runtime.RecordOutput("lessons_learned", lessons); err != nil {
		c.logger.Warn("Recording cycle output failed", "key", "lessons_learned", "error", err)
	}
	if err := c.runtime.RecordOutput("doctrine_review", doctrineReview); err != nil {
		c.logger.Warn("Recording cycle output failed", "key", "doctrine_review", "error", err)
	}

	return map[string]any{
		"effectiveness_assessment":     assessment,
		"process_improvement_analysis": processAnalysis,
		"doctrine_review":              doctrineReview,
		"lessons_learned":              lessons,
	}, nil
}

func (c *AssessmentController) assessCycle(ctx context.Context, cycleID string) (map[string]any, error) {
	if _, err := c.RequestContext(ctx, "Assess ATO cycle effectiveness", 0); err != nil {
		return nil, err
	}

	outputs := c.runtime.CycleOutputs()
	missions := asMapSlice(outputs["ew_missions"])

	successful := 0
	for _, mission := range missions {
		if status, _ := mission["status"].(string); status != "failed" {
			successful++
		}
	}
	successRate := 0.0
	if len(missions) > 0 {
		successRate = float64(successful) / float64(len(missions))
	}

	missionAssessment := map[string]any{
		"total_missions":      len(missions),
		"successful_missions": successful,
		"success_rate":        successRate,
		"rating":              rating(successRate >= 0.8),
	}

	produced := 0
	for _, key := range []string{"ems_strategy", "ems_requirements", "ew_missions", "frequency_allocations", "ato_document"} {
		if outputs[key] != nil {
			produced++
		}
	}
	timelineAssessment := map[string]any{
		"key_outputs_produced": produced,
		"key_outputs_expected": 5,
		"rating":               rating(produced >= 4),
	}

	assessment := map[string]any{
		"cycle_id":              cycleID,
		"mission_effectiveness": missionAssessment,
		"timeline_adherence":    timelineAssessment,
		"overall_rating":        rating(successRate >= 0.8 && produced >= 4),
	}

	c.trackResponse(ctx, fmt.Sprintf(
		"Cycle %s assessed: %d/%d missions successful, %d/5 key outputs produced.%s",
		cycleID, successful, len(missions), produced, joinCitations(c.Window().ReferencedIDs())))

	c.logger.Info("Cycle assessed", "cycle", cycleID, "rating", assessment["overall_rating"])
	return assessment, nil
}

// analyzeProcessFlags aggregates the cycle's inefficiency flags by type and
// names the dominant one.
func (c *AssessmentController) analyzeProcessFlags(cycleID string) map[string]any {
	flags := c.runtime.Flags(improve.FlagFilter{CycleID: cycleID})

	byType := map[string]int{}
	totalWasted := 0.0
	for _, flag := range flags {
		byType[string(flag.Type)]++
		totalWasted += flag.TimeWastedHours
	}

	dominant := ""
	dominantCount := 0
	for flagType, count := range byType {
		if count > dominantCount {
			dominant, dominantCount = flagType, count
		}
	}

	return map[string]any{
		"total_flags":       len(flags),
		"by_type":           byType,
		"time_wasted_hours": totalWasted,
		"dominant_type":     dominant,
	}
}

// doctrineReviewRelevanceFloor is the minimum relevance for a doctrine
// snippet to count as guidance in the consistency review.
const doctrineReviewRelevanceFloor = 0.25

// maxDoctrineReviewWorkflows caps how many flagged workflows one assessment
// pass re-checks against doctrine.
const maxDoctrineReviewWorkflows = 5

// reviewDoctrineConsistency re-queries doctrine for each workflow the cycle
// flagged and raises DOCTRINE_CONTRADICTION when one source restricts the
// workflow while another permits it.
func (c *AssessmentController) reviewDoctrineConsistency(ctx context.Context, cycleID string, phase ems.Phase) map[string]any {
	workflows := flaggedWorkflows(c.runtime.Flags(improve.FlagFilter{CycleID: cycleID}), maxDoctrineReviewWorkflows)

	contradictions := []string{}
	for _, workflow := range workflows {
		result, err := c.runtime.QueryInformation(ctx, c.ID(), ems.CategoryDoctrine, map[string]any{
			"text":  workflow,
			"top_k": 4,
		})
		if err != nil {
			c.logger.Warn("Doctrine review query failed", "workflow", workflow, "error", err)
			continue
		}

		restrictiveSource, permissiveSource := "", ""
		for _, record := range result.Records {
			relevance, _ := record["relevance"].(float64)
			if relevance < doctrineReviewRelevanceFloor {
				continue
			}
			id, _ := record["id"].(string)
			content, _ := record["content"].(string)
			if doctrine.Restrictive(content) {
				if restrictiveSource == "" {
					restrictiveSource = id
				}
			} else if permissiveSource == "" {
				permissiveSource = id
			}
		}
		if restrictiveSource == "" || permissiveSource == "" {
			continue
		}

		if _, err := c.runtime.Detector().DoctrineContradiction(
			cycleID, phase, c.ID(), workflow, workflow, restrictiveSource, permissiveSource); err != nil {
			c.logger.Warn("Doctrine review telemetry failed", "workflow", workflow, "error", err)
			continue
		}
		contradictions = append(contradictions,
			fmt.Sprintf("%s: %s vs %s", workflow, restrictiveSource, permissiveSource))
		c.logger.Info("Doctrine contradiction found",
			"workflow", workflow, "restrictive", restrictiveSource, "permissive", permissiveSource)
	}

	return map[string]any{
		"workflows_reviewed": len(workflows),
		"contradictions":     contradictions,
	}
}

// flaggedWorkflows returns the distinct workflows in flag order, capped.
func flaggedWorkflows(flags []improve.Flag, limit int) []string {
	seen := map[string]bool{}
	workflows := []string{}
	for _, flag := range flags {
		if flag.Workflow == "" || seen[flag.Workflow] {
			continue
		}
		seen[flag.Workflow] = true
		workflows = append(workflows, flag.Workflow)
		if len(workflows) == limit {
			break
		}
	}
	return workflows
}

func (c *AssessmentController) generateLessons(assessment, processAnalysis map[string]any) []string {
	lessons := []string{}

	if mission := asMap(assessment["mission_effectiveness"]); mission != nil {
		if r, _ := mission["rating"].(string); r == "needs_improvement" {
			lessons = append(lessons, "mission success rate below threshold; review asset assignment and deconfliction timing")
		}
	}
	if timeline := asMap(assessment["timeline_adherence"]); timeline != nil {
		if r, _ := timeline["rating"].(string); r == "needs_improvement" {
			lessons = append(lessons, "key cycle outputs missing; verify phase handoffs between cells")
		}
	}
	if dominant, _ := processAnalysis["dominant_type"].(string); dominant != "" {
		lessons = append(lessons, fmt.Sprintf("recurring inefficiency this cycle: %s; candidate for process change", dominant))
	}
	if wasted, ok := processAnalysis["time_wasted_hours"].(float64); ok && wasted > 4.0 {
		lessons = append(lessons, fmt.Sprintf("%.1f hours lost to flagged inefficiencies", wasted))
	}
	if len(lessons) == 0 {
		lessons = append(lessons, "cycle executed within expected parameters")
	}
	return lessons
}

func rating(effective bool) string {
	if effective {
		return "effective"
	}
	return "needs_improvement"
}
