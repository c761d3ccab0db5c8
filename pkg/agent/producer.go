package agent

import (
	"context"
	"fmt"

	"github.com/aether-os/aether/pkg/ems"
)

// ProducerController integrates the cycle's EW missions and frequency
// allocations into the ATO EMS annex during production, validating mission
// approvals and generating special instructions.
type ProducerController struct {
	*BaseAgent
}

func NewProducerController(base *BaseAgent) *ProducerController {
	return &ProducerController{BaseAgent: base}
}

func (c *ProducerController) Base() *BaseAgent { return c.BaseAgent }

func (c *ProducerController) ExecutePhaseTasks(ctx context.Context, phase ems.Phase, cycleID string) (map[string]any, error) {
	if phase != ems.PhaseATOProduction {
		c.logger.Warn("Not active in phase", "phase", phase)
		return map[string]any{}, nil
	}

	var annex map[string]any
	err := c.ExecuteDoctrinalProcedure(ctx, "Produce ATO EMS Annex", 3.0, func(ctx context.Context) error {
		var err error
		annex, err = c.produceAnnex(ctx, cycleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := c.runtime.RecordOutput("ato_document", annex); err != nil {
		c.logger.Warn("Recording cycle output failed", "key", "ato_document", "error", err)
	}
	return map[string]any{"ato_document": annex}, nil
}

func (c *ProducerController) produceAnnex(ctx context.Context, cycleID string) (map[string]any, error) {
	if _, err := c.RequestContext(ctx, "Produce ATO EMS annex", 0); err != nil {
		return nil, err
	}

	outputs := c.runtime.CycleOutputs()

	missions := asMapSlice(outputs["ew_missions"])
	if missions == nil {
		c.FlagInformationGap("Produce ATO EMS Annex", ems.CategoryMissionPlan, "EW missions from weaponeering missing")
	}
	allocations := asMapSlice(outputs["frequency_allocations"])

	validation := c.validateApprovals(missions)
	if unapproved := asStrings(validation["unapproved"]); len(unapproved) > 0 {
		c.logger.Warn("Missions lack command approval", "count", len(unapproved))
	}

	annex := map[string]any{
		"cycle_id":              cycleID,
		"ems_missions":          missions,
		"frequency_allocations": allocations,
		"validation":            validation,
		"strike_integration":    c.integrateWithStrikes(missions),
		"spins_annex":           c.generateSpins(missions, allocations),
		"status":                "published",
	}

	c.trackResponse(ctx, fmt.Sprintf(
		"ATO EMS annex for cycle %s published with %d missions and %d allocations.%s",
		cycleID, len(missions), len(allocations), joinCitations(c.Window().ReferencedIDs())))

	c.logger.Info("ATO EMS annex produced", "cycle", cycleID, "missions", len(missions))
	return annex, nil
}

// validateApprovals escalates every unapproved EA mission for command
// approval; EA effects require it regardless of planning authority.
func (c *ProducerController) validateApprovals(missions []map[string]any) map[string]any {
	var unapproved []string
	for _, mission := range missions {
		missionType, _ := mission["mission_type"].(string)
		if missionType != "EA" {
			continue
		}
		if approved, _ := mission["approved"].(bool); approved {
			continue
		}
		missionID, _ := mission["mission_id"].(string)
		decision := c.EscalateToHuman("EA mission requires command approval", map[string]any{
			"decision_type": "ea_mission_approval",
			"mission_id":    missionID,
			"objectives":    mission["objectives"],
		})
		if granted, _ := decision["approved"].(bool); granted {
			mission["approved"] = true
			continue
		}
		unapproved = append(unapproved, missionID)
	}
	return map[string]any{
		"all_approved": len(unapproved) == 0,
		"unapproved":   unapproved,
	}
}

func (c *ProducerController) integrateWithStrikes(missions []map[string]any) map[string]any {
	supported := 0
	for _, mission := range missions {
		if missionType, _ := mission["mission_type"].(string); missionType == "EA" {
			supported++
		}
	}
	return map[string]any{
		"strike_packages_supported": supported,
		"timing_synchronized":       true,
	}
}

func (c *ProducerController) generateSpins(missions, allocations []map[string]any) map[string]any {
	return map[string]any{
		"guarded_frequencies":  len(allocations),
		"ems_missions_tasked":  len(missions),
		"emission_control":     "EMCON posture BRAVO during strike windows",
		"deconfliction_notice": "all spectrum use through the spectrum manager",
	}
}

func asMapSlice(v any) []map[string]any {
	switch x := v.(type) {
	case []map[string]any:
		return x
	case []any:
		out := make([]map[string]any, 0, len(x))
		for _, item := range x {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	default:
		return nil
	}
}
