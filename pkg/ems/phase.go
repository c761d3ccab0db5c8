package ems

import "time"

// Phase identifies one of the six sequential phases of the 72-hour ATO cycle.
// Transitions are strictly linear with a single restart edge from assessment
// back to OEG.
type Phase string

const (
	// PhaseOEG is objectives, effects, and guidance development
	PhaseOEG Phase = "PHASE1_OEG"
	// PhaseTargetDevelopment is target development and prioritization
	PhaseTargetDevelopment Phase = "PHASE2_TARGET_DEVELOPMENT"
	// PhaseWeaponeering is weaponeering and allocation
	PhaseWeaponeering Phase = "PHASE3_WEAPONEERING"
	// PhaseATOProduction is ATO document production and dissemination
	PhaseATOProduction Phase = "PHASE4_ATO_PRODUCTION"
	// PhaseExecution is execution of the published ATO
	PhaseExecution Phase = "PHASE5_EXECUTION"
	// PhaseAssessment is post-execution effectiveness assessment
	PhaseAssessment Phase = "PHASE6_ASSESSMENT"
)

// CycleDuration is the total length of one ATO cycle.
const CycleDuration = 72 * time.Hour

var phaseOrder = map[Phase]int{
	PhaseOEG:               1,
	PhaseTargetDevelopment: 2,
	PhaseWeaponeering:      3,
	PhaseATOProduction:     4,
	PhaseExecution:         5,
	PhaseAssessment:        6,
}

// IsValid checks if the phase is one of the six defined phases
func (p Phase) IsValid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Order returns the 1-based position of the phase in the cycle, or 0 for an
// invalid phase.
func (p Phase) Order() int {
	return phaseOrder[p]
}

// Next returns the phase that legally follows this one. Assessment wraps back
// to OEG, restarting the cycle.
func (p Phase) Next() Phase {
	switch p {
	case PhaseOEG:
		return PhaseTargetDevelopment
	case PhaseTargetDevelopment:
		return PhaseWeaponeering
	case PhaseWeaponeering:
		return PhaseATOProduction
	case PhaseATOProduction:
		return PhaseExecution
	case PhaseExecution:
		return PhaseAssessment
	case PhaseAssessment:
		return PhaseOEG
	default:
		return ""
	}
}

// AllPhases returns the phases in cycle order
func AllPhases() []Phase {
	return []Phase{
		PhaseOEG,
		PhaseTargetDevelopment,
		PhaseWeaponeering,
		PhaseATOProduction,
		PhaseExecution,
		PhaseAssessment,
	}
}

// PhaseSpec fixes the timing, staffing, and expected outputs of one phase.
// Critical phases may never be skipped.
type PhaseSpec struct {
	Phase        Phase         `json:"phase" yaml:"phase"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	Offset       time.Duration `json:"offset" yaml:"offset"`
	ActiveAgents []string      `json:"active_agents" yaml:"active_agents"`
	KeyOutputs   []string      `json:"key_outputs" yaml:"key_outputs"`
	Critical     bool          `json:"critical" yaml:"critical"`
}

// End returns the offset at which the phase hands over to its successor
func (s PhaseSpec) End() time.Duration {
	return s.Offset + s.Duration
}

// Schedule is the ordered set of phase specs covering one full cycle.
type Schedule []PhaseSpec

// Spec returns the spec for the given phase.
func (s Schedule) Spec(phase Phase) (PhaseSpec, bool) {
	for _, spec := range s {
		if spec.Phase == phase {
			return spec, true
		}
	}
	return PhaseSpec{}, false
}

// At returns the phase scheduled at the given elapsed time since cycle start.
// Elapsed times at or beyond the cycle length return the final phase.
func (s Schedule) At(elapsed time.Duration) (Phase, bool) {
	if len(s) == 0 || elapsed < 0 {
		return "", false
	}
	for _, spec := range s {
		if elapsed >= spec.Offset && elapsed < spec.End() {
			return spec.Phase, true
		}
	}
	return s[len(s)-1].Phase, true
}

// Total returns the summed duration of all phases.
func (s Schedule) Total() time.Duration {
	var total time.Duration
	for _, spec := range s {
		total += spec.Duration
	}
	return total
}

// DefaultSchedule returns the built-in 72-hour phase schedule.
func DefaultSchedule() Schedule {
	return Schedule{
		{
			Phase:        PhaseOEG,
			Duration:     6 * time.Hour,
			Offset:       0,
			ActiveAgents: []string{AgentEMSStrategy},
			KeyOutputs:   []string{"ems_strategy", "commander_guidance"},
		},
		{
			Phase:        PhaseTargetDevelopment,
			Duration:     8 * time.Hour,
			Offset:       6 * time.Hour,
			ActiveAgents: []string{AgentEMSStrategy},
			KeyOutputs:   []string{"target_list", "ems_requirements"},
		},
		{
			Phase:        PhaseWeaponeering,
			Duration:     10 * time.Hour,
			Offset:       14 * time.Hour,
			ActiveAgents: []string{AgentEWPlanner, AgentSpectrumManager},
			KeyOutputs:   []string{"ew_missions", "frequency_allocations"},
			Critical:     true,
		},
		{
			Phase:        PhaseATOProduction,
			Duration:     6 * time.Hour,
			Offset:       24 * time.Hour,
			ActiveAgents: []string{AgentATOProducer, AgentSpectrumManager},
			KeyOutputs:   []string{"ato_document", "spins_annex"},
			Critical:     true,
		},
		{
			Phase:        PhaseExecution,
			Duration:     24 * time.Hour,
			Offset:       30 * time.Hour,
			ActiveAgents: []string{AgentSpectrumManager},
			KeyOutputs:   []string{"execution_data", "real_time_adjustments"},
		},
		{
			Phase:        PhaseAssessment,
			Duration:     18 * time.Hour,
			Offset:       54 * time.Hour,
			ActiveAgents: []string{AgentAssessment},
			KeyOutputs:   []string{"effectiveness_assessment", "lessons_learned"},
		},
	}
}
