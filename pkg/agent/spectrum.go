package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aether-os/aether/pkg/authz"
	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/ems"
)

// SpectrumController manages frequency allocation and deconfliction. During
// weaponeering it serves allocation requests from the EW planner; during
// execution it monitors usage and handles emergency reallocation.
type SpectrumController struct {
	*BaseAgent

	mu            sync.Mutex
	allocations   []map[string]any
	conflictCount int
	reallocations int
}

func NewSpectrumController(base *BaseAgent) *SpectrumController {
	c := &SpectrumController{BaseAgent: base}
	c.RegisterHandler("frequency_request", c.handleFrequencyRequest)
	return c
}

func (c *SpectrumController) Base() *BaseAgent { return c.BaseAgent }

func (c *SpectrumController) ExecutePhaseTasks(ctx context.Context, phase ems.Phase, cycleID string) (map[string]any, error) {
	switch phase {
	case ems.PhaseWeaponeering:
		return c.publishAllocations(ctx, cycleID)
	case ems.PhaseExecution:
		return c.monitorExecution(cycleID)
	default:
		c.logger.Warn("Not active in phase", "phase", phase)
		return map[string]any{}, nil
	}
}

// publishAllocations records the allocations granted so far this cycle as the
// weaponeering output.
func (c *SpectrumController) publishAllocations(ctx context.Context, cycleID string) (map[string]any, error) {
	var allocations []map[string]any
	err := c.ExecuteDoctrinalProcedure(ctx, "Process Frequency Allocation Requests", 2.0, func(ctx context.Context) error {
		c.mu.Lock()
		allocations = append([]map[string]any(nil), c.allocations...)
		c.mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := c.runtime.RecordOutput("frequency_allocations", allocations); err != nil {
		c.logger.Warn("Recording cycle output failed", "key", "frequency_allocations", "error", err)
	}
	return map[string]any{"frequency_allocations": allocations}, nil
}

func (c *SpectrumController) monitorExecution(cycleID string) (map[string]any, error) {
	c.mu.Lock()
	monitoring := map[string]any{
		"status":                  "monitoring",
		"conflicts_detected":      c.conflictCount,
		"reallocations_performed": c.reallocations,
		"allocations_under_watch": len(c.allocations),
	}
	c.mu.Unlock()

	if err := c.runtime.RecordOutput("execution_monitoring", monitoring); err != nil {
		c.logger.Warn("Recording cycle output failed", "key", "execution_monitoring", "error", err)
	}
	c.logger.Info("Spectrum monitoring active", "cycle", cycleID)
	return map[string]any{"execution_monitoring": monitoring}, nil
}

// handleFrequencyRequest serves one allocation request: authorize, check
// conflicts, deconflict into a free range when needed, create the allocation.
func (c *SpectrumController) handleFrequencyRequest(ctx context.Context, msg Message) Reply {
	missionID, _ := msg.Payload["mission_id"].(string)
	freqMin, okMin := asFloat(msg.Payload["freq_min_mhz"])
	freqMax, okMax := asFloat(msg.Payload["freq_max_mhz"])
	if missionID == "" || !okMin || !okMax || freqMax <= freqMin {
		return ErrReply("invalid frequency request payload")
	}
	start, end := windowFromPayload(msg.Payload, c.runtime.Now())
	area, _ := msg.Payload["area"].(string)

	decision := c.runtime.AuthorizeAction(ctx, c.ID(), authz.Action{
		Name:        "allocate_frequency",
		Description: fmt.Sprintf("allocate %.1f-%.1f MHz to %s", freqMin, freqMax, missionID),
		Categories:  []ems.InformationCategory{ems.CategorySpectrumAllocation},
	})
	if !decision.Allow {
		return ErrReply(fmt.Sprintf("allocation unauthorized: %v", decision.Reasons))
	}

	cycleID := c.runtime.CurrentCycleID()
	phase := c.runtime.CurrentPhase()

	conflicts, err := c.runtime.Broker().CheckSpectrumConflicts(ctx, c.ID(), freqMin, freqMax, start, end, area)
	if err != nil {
		return ErrReply(fmt.Sprintf("conflict check unavailable: %v", err))
	}
	conflicted := len(conflicts.Records) > 0
	if _, flagErr := c.runtime.Detector().SpectrumCheck(cycleID, phase, c.ID(), conflicted); flagErr != nil {
		c.logger.Warn("Spectrum telemetry failed", "error", flagErr)
	}

	if conflicted {
		c.mu.Lock()
		c.conflictCount++
		c.mu.Unlock()

		// Doctrine coordinates with each conflicting user individually; the
		// round-trip rule raises REDUNDANT_COORDINATION once a user has been
		// coordinated with three times this cycle.
		for _, conflict := range conflicts.Records {
			peer, _ := conflict["user"].(string)
			if peer == "" {
				peer, _ = conflict["allocation_id"].(string)
			}
			if _, flagErr := c.runtime.Detector().CoordinationRoundTrip(
				cycleID, phase, c.ID(), peer, "spectrum_deconfliction"); flagErr != nil {
				c.logger.Warn("Coordination telemetry failed", "peer", peer, "error", flagErr)
			}
		}

		freqMin, freqMax, err = c.deconflict(ctx, freqMax-freqMin, start, end, area)
		if err != nil {
			return ErrReply(fmt.Sprintf("deconfliction failed: %v", err))
		}
		c.logger.Info("Request deconflicted to free range",
			"mission", missionID, "freq_min_mhz", freqMin, "freq_max_mhz", freqMax)
	}

	created, err := c.runtime.Broker().CreateAllocation(ctx, c.ID(), broker.Record{
		"freq_min_mhz": freqMin,
		"freq_max_mhz": freqMax,
		"start_time":   start,
		"end_time":     end,
		"area":         area,
		"user":         missionID,
	})
	if err != nil {
		return ErrReply(fmt.Sprintf("allocation failed: %v", err))
	}

	allocation := map[string]any(created.Records[0])
	allocation["mission_id"] = missionID
	allocation["status"] = "allocated"
	c.mu.Lock()
	c.allocations = append(c.allocations, allocation)
	c.mu.Unlock()

	c.logger.Info("Frequency allocated",
		"mission", missionID, "allocation", allocation["allocation_id"])
	return OKReply(allocation)
}

// deconflict finds a free range of the requested bandwidth.
func (c *SpectrumController) deconflict(ctx context.Context, bandwidthMHz float64, start, end time.Time, area string) (float64, float64, error) {
	candidates, err := c.runtime.Broker().FindAvailableSpectrum(ctx, c.ID(), bandwidthMHz, start, end, area)
	if err != nil {
		return 0, 0, err
	}
	if len(candidates.Records) == 0 {
		return 0, 0, fmt.Errorf("no free range of %.1f MHz", bandwidthMHz)
	}
	lo, _ := asFloat(candidates.Records[0]["freq_min_mhz"])
	hi, _ := asFloat(candidates.Records[0]["freq_max_mhz"])
	return lo, hi, nil
}

// EmergencyReallocation frees a band during execution under O-5+ approval,
// reallocating the displaced user elsewhere.
func (c *SpectrumController) EmergencyReallocation(ctx context.Context, missionID string, freqMin, freqMax float64, approvedByRank string) (map[string]any, error) {
	decision := c.runtime.AuthorizeAction(ctx, c.ID(), authz.Action{
		Name:        "emergency_reallocation",
		Description: fmt.Sprintf("emergency reallocation of %.1f-%.1f MHz for %s", freqMin, freqMax, missionID),
		Categories:  []ems.InformationCategory{ems.CategorySpectrumAllocation},
		Context:     map[string]any{"approved_by_rank": approvedByRank},
	})
	if !decision.Allow {
		return nil, fmt.Errorf("emergency reallocation denied: %v", decision.Reasons)
	}

	now := c.runtime.Now()
	created, err := c.runtime.Broker().CreateAllocation(ctx, c.ID(), broker.Record{
		"freq_min_mhz": freqMin,
		"freq_max_mhz": freqMax,
		"start_time":   now,
		"end_time":     now.Add(6 * time.Hour),
		"user":         missionID,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.reallocations++
	c.mu.Unlock()
	return map[string]any(created.Records[0]), nil
}

func windowFromPayload(payload map[string]any, now time.Time) (time.Time, time.Time) {
	start, okStart := payload["start_time"].(time.Time)
	end, okEnd := payload["end_time"].(time.Time)
	if !okStart || !okEnd || !end.After(start) {
		start = now.Truncate(time.Hour)
		end = start.Add(6 * time.Hour)
	}
	return start, end
}
