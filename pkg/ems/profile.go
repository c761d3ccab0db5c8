package ems

import "slices"

// Canonical agent IDs for the AOC cell.
const (
	// AgentEMSStrategy develops EMS strategy during OEG and target development
	AgentEMSStrategy = "ems_strategy_agent"
	// AgentSpectrumManager manages frequency allocation and deconfliction
	AgentSpectrumManager = "spectrum_manager_agent"
	// AgentEWPlanner plans electronic warfare missions
	AgentEWPlanner = "ew_planner_agent"
	// AgentATOProducer produces the ATO document and EMS annex
	AgentATOProducer = "ato_producer_agent"
	// AgentAssessment assesses cycle effectiveness and captures lessons
	AgentAssessment = "assessment_agent"
	// AgentEvaluator scores agent outputs and is not phase-bound
	AgentEvaluator = "evaluator_agent"
)

// AgentRole identifies an agent's functional role.
type AgentRole string

const (
	// RoleEMSStrategy is the EMS strategy development role
	RoleEMSStrategy AgentRole = "ems_strategy"
	// RoleSpectrumManager is the spectrum management role
	RoleSpectrumManager AgentRole = "spectrum_manager"
	// RoleEWPlanner is the EW mission planning role
	RoleEWPlanner AgentRole = "ew_planner"
	// RoleATOProducer is the ATO production role
	RoleATOProducer AgentRole = "ato_producer"
	// RoleAssessment is the cycle assessment role
	RoleAssessment AgentRole = "assessment"
	// RoleEvaluator is the performance evaluation role
	RoleEvaluator AgentRole = "evaluator"
)

// IsValid checks if the role is one of the six defined roles
func (r AgentRole) IsValid() bool {
	switch r {
	case RoleEMSStrategy,
		RoleSpectrumManager,
		RoleEWPlanner,
		RoleATOProducer,
		RoleAssessment,
		RoleEvaluator:
		return true
	default:
		return false
	}
}

// AgentProfile is the immutable permission record for one agent: its access
// level, the categories and actions it may use, the phases it is active in,
// and whether it may receive delegated authority.
type AgentProfile struct {
	AgentID              string                `json:"agent_id" yaml:"agent_id"`
	Role                 AgentRole             `json:"role" yaml:"role"`
	AccessLevel          AccessLevel           `json:"access_level" yaml:"access_level"`
	AuthorizedCategories []InformationCategory `json:"authorized_categories" yaml:"authorized_categories"`
	AuthorizedActions    []string              `json:"authorized_actions" yaml:"authorized_actions"`
	ActivePhases         []Phase               `json:"active_phases" yaml:"active_phases"`
	DelegationAuthority  bool                  `json:"delegation_authority" yaml:"delegation_authority"`
	MaxDelegationLevel   AccessLevel           `json:"max_delegation_level,omitempty" yaml:"max_delegation_level,omitempty"`
}

// AuthorizedFor reports whether the profile lists the category
func (p *AgentProfile) AuthorizedFor(category InformationCategory) bool {
	return slices.Contains(p.AuthorizedCategories, category)
}

// CanPerform reports whether the profile lists the action
func (p *AgentProfile) CanPerform(action string) bool {
	return slices.Contains(p.AuthorizedActions, action)
}

// ActiveIn reports whether the agent is active during the given phase. An
// empty phase list means the agent is not phase-bound.
func (p *AgentProfile) ActiveIn(phase Phase) bool {
	if len(p.ActivePhases) == 0 {
		return true
	}
	return slices.Contains(p.ActivePhases, phase)
}

// Clone returns a deep copy so callers cannot mutate registry state.
func (p *AgentProfile) Clone() *AgentProfile {
	if p == nil {
		return nil
	}
	clone := *p
	clone.AuthorizedCategories = slices.Clone(p.AuthorizedCategories)
	clone.AuthorizedActions = slices.Clone(p.AuthorizedActions)
	clone.ActivePhases = slices.Clone(p.ActivePhases)
	return &clone
}

// BuiltinProfiles returns the access profiles for the six built-in agents.
func BuiltinProfiles() map[string]*AgentProfile {
	return map[string]*AgentProfile{
		AgentEMSStrategy: {
			AgentID:     AgentEMSStrategy,
			Role:        RoleEMSStrategy,
			AccessLevel: AccessSensitive,
			AuthorizedCategories: []InformationCategory{
				CategoryDoctrine,
				CategoryThreatData,
				CategoryOrganizational,
				CategoryProcessMetrics,
			},
			AuthorizedActions: []string{
				"query_doctrine",
				"query_threats",
				"develop_strategy",
				"request_information",
			},
			ActivePhases: []Phase{PhaseOEG, PhaseTargetDevelopment},
		},
		AgentSpectrumManager: {
			AgentID:     AgentSpectrumManager,
			Role:        RoleSpectrumManager,
			AccessLevel: AccessOperational,
			AuthorizedCategories: []InformationCategory{
				CategoryDoctrine,
				CategorySpectrumAllocation,
				CategoryAssetStatus,
				CategoryThreatData,
			},
			AuthorizedActions: []string{
				"query_doctrine",
				"allocate_frequency",
				"check_spectrum_conflicts",
				"coordinate_deconfliction",
				"emergency_reallocation",
				"query_assets",
			},
			ActivePhases:        []Phase{PhaseWeaponeering, PhaseExecution},
			DelegationAuthority: true,
			MaxDelegationLevel:  AccessOperational,
		},
		AgentEWPlanner: {
			AgentID:     AgentEWPlanner,
			Role:        RoleEWPlanner,
			AccessLevel: AccessSensitive,
			AuthorizedCategories: []InformationCategory{
				CategoryDoctrine,
				CategoryThreatData,
				CategoryAssetStatus,
				CategoryMissionPlan,
				CategorySpectrumAllocation,
			},
			AuthorizedActions: []string{
				"query_doctrine",
				"query_threats",
				"query_assets",
				"plan_ew_missions",
				"request_frequency_allocation",
				"assign_ems_asset",
				"check_fratricide",
			},
			ActivePhases: []Phase{PhaseWeaponeering},
		},
		AgentATOProducer: {
			AgentID:     AgentATOProducer,
			Role:        RoleATOProducer,
			AccessLevel: AccessSensitive,
			AuthorizedCategories: []InformationCategory{
				CategoryDoctrine,
				CategoryMissionPlan,
				CategorySpectrumAllocation,
				CategoryAssetStatus,
			},
			AuthorizedActions: []string{
				"query_doctrine",
				"produce_ato_ems_annex",
				"validate_mission_approvals",
				"integrate_ems_with_strikes",
			},
			ActivePhases: []Phase{PhaseATOProduction},
		},
		AgentAssessment: {
			AgentID:     AgentAssessment,
			Role:        RoleAssessment,
			AccessLevel: AccessOperational,
			AuthorizedCategories: []InformationCategory{
				CategoryDoctrine,
				CategoryMissionPlan,
				CategoryProcessMetrics,
				CategoryOrganizational,
			},
			AuthorizedActions: []string{
				"query_doctrine",
				"assess_ato_cycle",
				"analyze_doctrine_effectiveness",
				"generate_lessons_learned",
				"query_process_metrics",
			},
			ActivePhases: []Phase{PhaseAssessment},
		},
		AgentEvaluator: {
			AgentID:     AgentEvaluator,
			Role:        RoleEvaluator,
			AccessLevel: AccessSensitive,
			AuthorizedCategories: []InformationCategory{
				CategoryDoctrine,
				CategoryThreatData,
				CategoryAssetStatus,
				CategoryMissionPlan,
				CategorySpectrumAllocation,
				CategoryProcessMetrics,
				CategoryOrganizational,
			},
			AuthorizedActions: []string{
				"evaluate_agent_responses",
				"score_performance",
				"provide_feedback",
				"query_doctrine",
			},
			// Not phase-bound: evaluation runs at any point in the cycle.
			ActivePhases: nil,
		},
	}
}
