package config

import (
	"sync"

	"github.com/aether-os/aether/pkg/ems"
)

// BuiltinConfig holds all built-in configuration data.
// This provides the default agent profiles, category policies, phase
// schedule, and LLM providers used when YAML does not override them.
type BuiltinConfig struct {
	Profiles        map[string]*ems.AgentProfile
	Policies        map[ems.InformationCategory]ems.CategoryPolicy
	Schedule        ems.Schedule
	LLMProviders    map[string]LLMProviderConfig
	DefaultProvider string
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe, lazy-initialized)
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		Profiles:        ems.BuiltinProfiles(),
		Policies:        ems.DefaultPolicies(),
		Schedule:        ems.DefaultSchedule(),
		LLMProviders:    initBuiltinLLMProviders(),
		DefaultProvider: "anthropic",
	}
}

func initBuiltinLLMProviders() map[string]LLMProviderConfig {
	return map[string]LLMProviderConfig{
		"anthropic": {
			Type:      LLMProviderTypeAnthropic,
			Model:     "claude-sonnet-4-20250514",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			MaxTokens: 4096,
		},
		"openai": {
			Type:      LLMProviderTypeOpenAI,
			Model:     "gpt-4o",
			APIKeyEnv: "OPENAI_API_KEY",
			MaxTokens: 4096,
		},
		"google": {
			Type:      LLMProviderTypeGoogle,
			Model:     "gemini-pro",
			APIKeyEnv: "GOOGLE_API_KEY",
			MaxTokens: 4096,
		},
	}
}
