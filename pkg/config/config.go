package config

import (
	"github.com/aether-os/aether/pkg/ems"
)

// Config is the umbrella configuration object that encapsulates
// all registries, defaults, and configuration state.
// This is the primary object returned by Initialize() and used throughout the application.
type Config struct {
	configDir string // Configuration directory path (for reference)

	// System-wide defaults
	Defaults *Defaults

	// Resolved system settings
	System *SystemConfig

	// Resolved phase schedule
	Schedule ems.Schedule

	// Component registries
	ProfileRegistry     *ProfileRegistry
	PolicyRegistry      *PolicyRegistry
	MCPServerRegistry   *MCPServerRegistry
	LLMProviderRegistry *LLMProviderRegistry
}

// Initialize is defined in loader.go

// Stats contains statistics about loaded configuration
type Stats struct {
	Profiles     int
	Policies     int
	MCPServers   int
	LLMProviders int
}

// Stats returns configuration statistics for logging/monitoring
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.ProfileRegistry != nil {
		s.Profiles = c.ProfileRegistry.Len()
	}
	if c.PolicyRegistry != nil {
		s.Policies = c.PolicyRegistry.Len()
	}
	if c.MCPServerRegistry != nil {
		s.MCPServers = c.MCPServerRegistry.Len()
	}
	if c.LLMProviderRegistry != nil {
		s.LLMProviders = c.LLMProviderRegistry.Len()
	}
	return s
}

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}

// GetProfile retrieves an agent profile by agent ID.
// This is a convenience method that wraps ProfileRegistry.Get().
func (c *Config) GetProfile(agentID string) (*ems.AgentProfile, error) {
	return c.ProfileRegistry.Get(agentID)
}

// GetPolicy retrieves the access policy for an information category.
// This is a convenience method that wraps PolicyRegistry.Get().
func (c *Config) GetPolicy(category ems.InformationCategory) (ems.CategoryPolicy, error) {
	return c.PolicyRegistry.Get(category)
}

// GetMCPServer retrieves an MCP server configuration by ID.
// This is a convenience method that wraps MCPServerRegistry.Get().
func (c *Config) GetMCPServer(serverID string) (*MCPServerConfig, error) {
	return c.MCPServerRegistry.Get(serverID)
}

// GetLLMProvider retrieves an LLM provider configuration by name.
// This is a convenience method that wraps LLMProviderRegistry.Get().
func (c *Config) GetLLMProvider(name string) (*LLMProviderConfig, error) {
	return c.LLMProviderRegistry.Get(name)
}

// PhaseSpec retrieves the schedule entry for a phase.
func (c *Config) PhaseSpec(phase ems.Phase) (ems.PhaseSpec, bool) {
	return c.Schedule.Spec(phase)
}

// AllMCPServerIDs returns a sorted list of all configured MCP server IDs.
func (c *Config) AllMCPServerIDs() []string {
	return c.MCPServerRegistry.ServerIDs()
}
