package config

import (
	"fmt"

	"github.com/aether-os/aether/pkg/ems"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	// Validate in order: policies → profiles → schedule → MCP servers → LLM providers → system
	// This ensures dependencies are validated before dependents

	if err := v.validatePolicies(); err != nil {
		return fmt.Errorf("policy validation failed: %w", err)
	}

	if err := v.validateProfiles(); err != nil {
		return fmt.Errorf("profile validation failed: %w", err)
	}

	if err := v.validateSchedule(); err != nil {
		return fmt.Errorf("schedule validation failed: %w", err)
	}

	if err := v.validateMCPServers(); err != nil {
		return fmt.Errorf("MCP server validation failed: %w", err)
	}

	if err := v.validateLLMProviders(); err != nil {
		return fmt.Errorf("LLM provider validation failed: %w", err)
	}

	if err := v.validateSystem(); err != nil {
		return fmt.Errorf("system validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validatePolicies() error {
	policies := v.cfg.PolicyRegistry.GetAll()

	// Every category needs a policy; the broker refuses categories without one
	for _, category := range ems.AllCategories() {
		if _, ok := policies[category]; !ok {
			return NewValidationError("policy", string(category), "", fmt.Errorf("no policy defined"))
		}
	}

	for category, policy := range policies {
		if !category.IsValid() {
			return NewValidationError("policy", string(category), "", fmt.Errorf("unknown category"))
		}
		if policy.Category != category {
			return NewValidationError("policy", string(category), "category", fmt.Errorf("policy declares %q", policy.Category))
		}
		if !policy.MinimumLevel.IsValid() {
			return NewValidationError("policy", string(category), "minimum_level", fmt.Errorf("invalid level: %d", int(policy.MinimumLevel)))
		}
		for _, phase := range policy.PhaseRestricted {
			if !phase.IsValid() {
				return NewValidationError("policy", string(category), "phase_restricted", fmt.Errorf("unknown phase: %s", phase))
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateProfiles() error {
	for agentID, profile := range v.cfg.ProfileRegistry.GetAll() {
		if profile.AgentID != agentID {
			return NewValidationError("profile", agentID, "agent_id", fmt.Errorf("profile declares %q", profile.AgentID))
		}
		if !profile.Role.IsValid() {
			return NewValidationError("profile", agentID, "role", fmt.Errorf("invalid role: %s", profile.Role))
		}
		if !profile.AccessLevel.IsValid() {
			return NewValidationError("profile", agentID, "access_level", fmt.Errorf("invalid level: %d", int(profile.AccessLevel)))
		}

		if len(profile.AuthorizedCategories) == 0 {
			return NewValidationError("profile", agentID, "authorized_categories", fmt.Errorf("at least one category required"))
		}
		for _, category := range profile.AuthorizedCategories {
			if !v.cfg.PolicyRegistry.Has(category) {
				return NewValidationError("profile", agentID, "authorized_categories", fmt.Errorf("category '%s' has no policy", category))
			}
		}

		if len(profile.AuthorizedActions) == 0 {
			return NewValidationError("profile", agentID, "authorized_actions", fmt.Errorf("at least one action required"))
		}

		for _, phase := range profile.ActivePhases {
			if !phase.IsValid() {
				return NewValidationError("profile", agentID, "active_phases", fmt.Errorf("unknown phase: %s", phase))
			}
		}

		// Delegation may never grant above the delegator's own level
		if profile.DelegationAuthority {
			if !profile.MaxDelegationLevel.IsValid() {
				return NewValidationError("profile", agentID, "max_delegation_level", fmt.Errorf("invalid level: %d", int(profile.MaxDelegationLevel)))
			}
			if profile.MaxDelegationLevel > profile.AccessLevel {
				return NewValidationError("profile", agentID, "max_delegation_level", fmt.Errorf("exceeds agent's own access level"))
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateSchedule() error {
	schedule := v.cfg.Schedule
	if len(schedule) != len(ems.AllPhases()) {
		return NewValidationError("schedule", "phases", "", fmt.Errorf("expected %d phases, got %d", len(ems.AllPhases()), len(schedule)))
	}

	var expectedOffset int64
	for i, spec := range schedule {
		if !spec.Phase.IsValid() {
			return NewValidationError("schedule", string(spec.Phase), "", fmt.Errorf("unknown phase"))
		}
		if spec.Phase.Order() != i+1 {
			return NewValidationError("schedule", string(spec.Phase), "", fmt.Errorf("out of cycle order"))
		}
		if spec.Duration <= 0 {
			return NewValidationError("schedule", string(spec.Phase), "duration", fmt.Errorf("must be positive"))
		}
		// Phases must tile the cycle: each offset equals the prior phase's end
		if spec.Offset.Nanoseconds() != expectedOffset {
			return NewValidationError("schedule", string(spec.Phase), "offset", fmt.Errorf("phases must be contiguous"))
		}
		expectedOffset = spec.End().Nanoseconds()

		for _, agentID := range spec.ActiveAgents {
			if !v.cfg.ProfileRegistry.Has(agentID) {
				return NewValidationError("schedule", string(spec.Phase), "active_agents", fmt.Errorf("agent '%s' has no profile", agentID))
			}
		}
	}

	// Weaponeering and ATO production may never be skipped; the critical
	// markers are not configurable away
	for _, phase := range []ems.Phase{ems.PhaseWeaponeering, ems.PhaseATOProduction} {
		spec, ok := schedule.Spec(phase)
		if !ok || !spec.Critical {
			return NewValidationError("schedule", string(phase), "critical", fmt.Errorf("must remain critical"))
		}
	}

	return nil
}

func (v *ConfigValidator) validateMCPServers() error {
	for serverID, server := range v.cfg.MCPServerRegistry.GetAll() {
		if !server.Transport.Type.IsValid() {
			return NewValidationError("mcp_server", serverID, "transport.type", fmt.Errorf("invalid type: %s", server.Transport.Type))
		}

		switch server.Transport.Type {
		case TransportTypeStdio:
			if server.Transport.Command == "" {
				return NewValidationError("mcp_server", serverID, "transport.command", fmt.Errorf("required for stdio transport"))
			}
		case TransportTypeHTTP, TransportTypeSSE:
			if server.Transport.URL == "" {
				return NewValidationError("mcp_server", serverID, "transport.url", fmt.Errorf("required for %s transport", server.Transport.Type))
			}
		}

		if len(server.Categories) == 0 {
			return NewValidationError("mcp_server", serverID, "categories", fmt.Errorf("at least one category required"))
		}
		for _, category := range server.Categories {
			if !category.IsValid() {
				return NewValidationError("mcp_server", serverID, "categories", fmt.Errorf("unknown category: %s", category))
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateLLMProviders() error {
	for name, provider := range v.cfg.LLMProviderRegistry.GetAll() {
		if !provider.Type.IsValid() {
			return NewValidationError("llm_provider", name, "type", fmt.Errorf("invalid type: %s", provider.Type))
		}
		if provider.Model == "" {
			return NewValidationError("llm_provider", name, "model", fmt.Errorf("model is required"))
		}
		if provider.MaxTokens < 0 {
			return NewValidationError("llm_provider", name, "max_tokens", fmt.Errorf("must not be negative"))
		}
	}

	// The default provider and every priority entry must exist
	if v.cfg.Defaults != nil {
		if v.cfg.Defaults.LLMProvider != "" && !v.cfg.LLMProviderRegistry.Has(v.cfg.Defaults.LLMProvider) {
			return NewValidationError("defaults", "llm_provider", "", fmt.Errorf("provider '%s' not found", v.cfg.Defaults.LLMProvider))
		}
		for _, name := range v.cfg.Defaults.ProviderPriority {
			if !v.cfg.LLMProviderRegistry.Has(name) {
				return NewValidationError("defaults", "provider_priority", "", fmt.Errorf("provider '%s' not found", name))
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validateSystem() error {
	sys := v.cfg.System
	if sys == nil {
		return NewValidationError("system", "system", "", fmt.Errorf("missing system configuration"))
	}

	if !sys.DeploymentMode.IsValid() {
		return NewValidationError("system", "deployment_mode", "", fmt.Errorf("invalid mode: %s", sys.DeploymentMode))
	}
	if sys.API.Port < 1 || sys.API.Port > 65535 {
		return NewValidationError("system", "api", "port", fmt.Errorf("out of range: %d", sys.API.Port))
	}

	if !sys.Policy.Mode.IsValid() {
		return NewValidationError("system", "policy", "mode", fmt.Errorf("invalid mode: %s", sys.Policy.Mode))
	}
	if sys.Policy.Mode == PolicyModeHTTP && sys.Policy.URL == "" {
		return NewValidationError("system", "policy", "url", fmt.Errorf("required for http mode"))
	}
	if sys.Policy.Timeout <= 0 {
		return NewValidationError("system", "policy", "timeout", fmt.Errorf("must be positive"))
	}

	if sys.Context.DefaultTokenBudget < 1 {
		return NewValidationError("system", "context", "default_token_budget", fmt.Errorf("must be at least 1"))
	}
	if sys.Context.DoctrinalFloor < 0 {
		return NewValidationError("system", "context", "doctrinal_floor", fmt.Errorf("must not be negative"))
	}
	if sys.Context.RelevanceThreshold < 0 || sys.Context.RelevanceThreshold > 1 {
		return NewValidationError("system", "context", "relevance_threshold", fmt.Errorf("must be within [0, 1]"))
	}

	if sys.Improvement.TimingFactor <= 1 {
		return NewValidationError("system", "improvement", "timing_factor", fmt.Errorf("must exceed 1"))
	}
	if sys.Improvement.PatternMinOccurrences < 1 {
		return NewValidationError("system", "improvement", "pattern_min_occurrences", fmt.Errorf("must be at least 1"))
	}
	if sys.Improvement.PatternMinCycles < 1 {
		return NewValidationError("system", "improvement", "pattern_min_cycles", fmt.Errorf("must be at least 1"))
	}

	if sys.Orchestrator.MonitorInterval <= 0 {
		return NewValidationError("system", "orchestrator", "monitor_interval", fmt.Errorf("must be positive"))
	}

	return nil
}
