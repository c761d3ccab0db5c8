package ems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinProfilesComplete(t *testing.T) {
	profiles := BuiltinProfiles()
	require.Len(t, profiles, 6)

	for id, profile := range profiles {
		assert.Equal(t, id, profile.AgentID)
		assert.True(t, profile.Role.IsValid(), "agent %s", id)
		assert.True(t, profile.AccessLevel.IsValid(), "agent %s", id)
		assert.NotEmpty(t, profile.AuthorizedCategories, "agent %s", id)
		assert.NotEmpty(t, profile.AuthorizedActions, "agent %s", id)
		for _, category := range profile.AuthorizedCategories {
			assert.True(t, category.IsValid(), "agent %s category %s", id, category)
		}
	}
}

func TestProfileActionAuthorization(t *testing.T) {
	profiles := BuiltinProfiles()

	tests := []struct {
		name   string
		agent  string
		action string
		want   bool
	}{
		{name: "spectrum manager allocates frequency", agent: AgentSpectrumManager, action: "allocate_frequency", want: true},
		{name: "ew planner cannot allocate frequency", agent: AgentEWPlanner, action: "allocate_frequency", want: false},
		{name: "ew planner requests allocation", agent: AgentEWPlanner, action: "request_frequency_allocation", want: true},
		{name: "ato producer validates approvals", agent: AgentATOProducer, action: "validate_mission_approvals", want: true},
		{name: "assessment cannot plan missions", agent: AgentAssessment, action: "plan_ew_missions", want: false},
		{name: "everyone queries doctrine", agent: AgentEMSStrategy, action: "query_doctrine", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile, ok := profiles[tt.agent]
			require.True(t, ok)
			assert.Equal(t, tt.want, profile.CanPerform(tt.action))
		})
	}
}

func TestProfilePhaseActivity(t *testing.T) {
	profiles := BuiltinProfiles()

	spectrum := profiles[AgentSpectrumManager]
	assert.True(t, spectrum.ActiveIn(PhaseWeaponeering))
	assert.True(t, spectrum.ActiveIn(PhaseExecution))
	assert.False(t, spectrum.ActiveIn(PhaseOEG))

	// The evaluator is not phase-bound.
	evaluator := profiles[AgentEvaluator]
	for _, phase := range AllPhases() {
		assert.True(t, evaluator.ActiveIn(phase))
	}
}

func TestProfileCategoryAuthorization(t *testing.T) {
	profiles := BuiltinProfiles()

	strategy := profiles[AgentEMSStrategy]
	assert.True(t, strategy.AuthorizedFor(CategoryThreatData))
	assert.False(t, strategy.AuthorizedFor(CategoryMissionPlan))
	assert.False(t, strategy.AuthorizedFor(CategorySpectrumAllocation))

	producer := profiles[AgentATOProducer]
	assert.True(t, producer.AuthorizedFor(CategoryMissionPlan))
	assert.False(t, producer.AuthorizedFor(CategoryThreatData))
}

func TestProfileDelegation(t *testing.T) {
	profiles := BuiltinProfiles()

	for id, profile := range profiles {
		if id == AgentSpectrumManager {
			assert.True(t, profile.DelegationAuthority)
			assert.Equal(t, AccessOperational, profile.MaxDelegationLevel)
			continue
		}
		assert.False(t, profile.DelegationAuthority, "agent %s", id)
	}
}

func TestProfileCloneIsDeep(t *testing.T) {
	original := BuiltinProfiles()[AgentEWPlanner]
	clone := original.Clone()

	clone.AuthorizedActions[0] = "tampered"
	clone.ActivePhases[0] = PhaseExecution
	clone.AuthorizedCategories[0] = CategoryProcessMetrics

	assert.Equal(t, "query_doctrine", original.AuthorizedActions[0])
	assert.Equal(t, PhaseWeaponeering, original.ActivePhases[0])
	assert.Equal(t, CategoryDoctrine, original.AuthorizedCategories[0])

	var nilProfile *AgentProfile
	assert.Nil(t, nilProfile.Clone())
}
