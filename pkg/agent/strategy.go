package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/provision"
)

// StrategyController develops the EMS strategy during objective and guidance
// development, then turns it into concrete EMS requirements during target
// development.
type StrategyController struct {
	*BaseAgent
}

func NewStrategyController(base *BaseAgent) *StrategyController {
	return &StrategyController{BaseAgent: base}
}

func (c *StrategyController) Base() *BaseAgent { return c.BaseAgent }

func (c *StrategyController) ExecutePhaseTasks(ctx context.Context, phase ems.Phase, cycleID string) (map[string]any, error) {
	switch phase {
	case ems.PhaseOEG:
		return c.runStrategyDevelopment(ctx, cycleID)
	case ems.PhaseTargetDevelopment:
		return c.runRequirementIdentification(ctx, cycleID)
	default:
		c.logger.Warn("Not active in phase", "phase", phase)
		return map[string]any{}, nil
	}
}

func (c *StrategyController) runStrategyDevelopment(ctx context.Context, cycleID string) (map[string]any, error) {
	var strategy map[string]any
	err := c.ExecuteDoctrinalProcedure(ctx, "Develop EMS Strategy", 3.0, func(ctx context.Context) error {
		var err error
		strategy, err = c.developStrategy(ctx, cycleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := c.runtime.RecordOutput("ems_strategy", strategy); err != nil {
		c.logger.Warn("Recording cycle output failed", "key", "ems_strategy", "error", err)
	}
	return map[string]any{"ems_strategy": strategy}, nil
}

// strategyOutput is the structured schema requested from the LLM.
type strategyOutput struct {
	CommandersIntent    string   `json:"commanders_intent" validate:"required"`
	Objectives          []string `json:"objectives" validate:"required,min=1"`
	DesiredEffects      []string `json:"desired_effects"`
	ConceptOfOperations string   `json:"concept_of_operations"`
}

func (c *StrategyController) developStrategy(ctx context.Context, cycleID string) (map[string]any, error) {
	window, err := c.RequestContext(ctx, "Develop EMS strategy from JFACC guidance", 0)
	if err != nil {
		return nil, err
	}

	guidance, err := c.runtime.QueryInformation(ctx, c.ID(), ems.CategoryDoctrine, map[string]any{
		"text":  "develop EMS strategy and concept of operations",
		"top_k": 3,
	})
	var doctrineText []string
	if err != nil {
		c.FlagInformationGap("Develop EMS Strategy", ems.CategoryDoctrine, "doctrine backend unavailable")
	} else {
		for _, record := range guidance.Records {
			if content, ok := record["content"].(string); ok {
				doctrineText = append(doctrineText, content)
			}
		}
	}

	threats, err := c.runtime.QueryInformation(ctx, c.ID(), ems.CategoryThreatData, map[string]any{
		"justification": "EMS strategy development",
	})
	threatCount := 0
	if err == nil {
		threatCount = len(threats.Records)
	}

	citations := citeLayer(window, provision.LayerDoctrinal, 3)
	citations = append(citations, citeLayer(window, provision.LayerSituational, 2)...)

	var strategy map[string]any
	var response string
	if c.llm != nil {
		var out strategyOutput
		resp, err := c.llm.GenerateStructured(ctx,
			strategyPrompt,
			fmt.Sprintf("Cycle %s. Doctrine guidance:\n%s\n\nThreat environment: %d identified EMS threats.%s",
				cycleID, strings.Join(doctrineText, "\n"), threatCount, joinCitations(citations)),
			&out)
		if err != nil {
			return nil, err
		}
		strategy = map[string]any{
			"commanders_intent":     out.CommandersIntent,
			"objectives":            out.Objectives,
			"desired_effects":       out.DesiredEffects,
			"concept_of_operations": out.ConceptOfOperations,
			"references":            resp.Citations,
			"generated_by":          resp.Provider,
		}
		response = resp.Content
	} else {
		strategy = map[string]any{
			"commanders_intent": "Gain and maintain EMS superiority across the joint operations area",
			"objectives": []string{
				"Degrade enemy integrated air defense radar coverage",
				"Protect friendly command and control links from jamming",
				"Preserve spectrum access for surveillance and strike packages",
			},
			"desired_effects": []string{
				"Enemy acquisition radars suppressed during strike windows",
				"Friendly data links maintained through contested periods",
			},
			"concept_of_operations": "Phase EA effects ahead of strike packages, hold EP coverage continuous, task ES collection against emitters of interest.",
			"references":            citations,
			"generated_by":          "fallback",
		}
		response = fmt.Sprintf("EMS strategy for cycle %s developed against %d threats.%s",
			cycleID, threatCount, joinCitations(citations))
	}

	c.trackResponse(ctx, response)
	return strategy, nil
}

const strategyPrompt = `You are the EMS strategy cell of an air operations center.
Develop the electromagnetic spectrum strategy for the tasking cycle from the
doctrine guidance and threat environment provided. Respond with JSON:
{"commanders_intent": string, "objectives": [string], "desired_effects": [string], "concept_of_operations": string}`

func (c *StrategyController) runRequirementIdentification(ctx context.Context, cycleID string) (map[string]any, error) {
	var requirements map[string]any
	err := c.ExecuteDoctrinalProcedure(ctx, "Identify EMS Requirements", 4.0, func(ctx context.Context) error {
		var err error
		requirements, err = c.identifyRequirements(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := c.runtime.RecordOutput("ems_requirements", requirements); err != nil {
		c.logger.Warn("Recording cycle output failed", "key", "ems_requirements", "error", err)
	}
	return map[string]any{"ems_requirements": requirements}, nil
}

// identifyRequirements derives EA/EP requirements from the current threat
// picture. No threat data raises an information-gap flag and falls back to
// the standing requirement set.
func (c *StrategyController) identifyRequirements(ctx context.Context) (map[string]any, error) {
	threats, err := c.runtime.QueryInformation(ctx, c.ID(), ems.CategoryThreatData, map[string]any{
		"justification": "EMS requirement identification",
	})

	var eaRequirements []string
	if err != nil || len(threats.Records) == 0 {
		c.FlagInformationGap("Identify EMS Requirements", ems.CategoryThreatData, "no threat data for requirement derivation")
		eaRequirements = []string{"Suppress enemy air defense radars"}
	} else {
		for _, threat := range threats.Records {
			system, _ := threat["system"].(string)
			if system == "" {
				system = "unidentified emitter"
			}
			eaRequirements = append(eaRequirements, fmt.Sprintf("Suppress %s", system))
		}
	}

	return map[string]any{
		"ea_requirements": eaRequirements,
		"ep_requirements": []string{"Protect friendly communications from jamming"},
		"es_requirements": []string{"Collect against emitters of interest"},
	}, nil
}
