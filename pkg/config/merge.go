package config

import (
	"github.com/aether-os/aether/pkg/ems"
)

// mergeProfiles merges built-in and user-defined agent profiles.
// User-defined profiles override built-in profiles with the same agent ID.
func mergeProfiles(builtinProfiles map[string]*ems.AgentProfile, userProfiles map[string]ems.AgentProfile) map[string]*ems.AgentProfile {
	result := make(map[string]*ems.AgentProfile)

	// First, add built-in profiles
	for id, profile := range builtinProfiles {
		result[id] = profile.Clone()
	}

	// Then, override with user-defined profiles (or add new ones)
	for id, userProfile := range userProfiles {
		profileCopy := userProfile // Create a copy
		if profileCopy.AgentID == "" {
			profileCopy.AgentID = id
		}
		result[id] = &profileCopy
	}

	return result
}

// mergePolicies merges built-in and user-defined category policies.
// User-defined policies override built-in policies for the same category.
func mergePolicies(builtinPolicies map[ems.InformationCategory]ems.CategoryPolicy, userPolicies map[ems.InformationCategory]ems.CategoryPolicy) map[ems.InformationCategory]ems.CategoryPolicy {
	result := make(map[ems.InformationCategory]ems.CategoryPolicy)

	// First, add built-in policies
	for category, policy := range builtinPolicies {
		result[category] = policy
	}

	// Then, override with user-defined policies
	for category, userPolicy := range userPolicies {
		if userPolicy.Category == "" {
			userPolicy.Category = category
		}
		result[category] = userPolicy
	}

	return result
}

// mergeLLMProviders merges built-in and user-defined LLM provider configurations.
// User-defined providers override built-in providers with the same name.
func mergeLLMProviders(builtinProviders map[string]LLMProviderConfig, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig)

	// First, add built-in providers
	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}

	// Then, override with user-defined providers (or add new ones)
	for name, userProvider := range userProviders {
		providerCopy := userProvider
		result[name] = &providerCopy
	}

	return result
}

// toMCPServerPointers converts user-defined MCP server values into the
// pointer map the registry stores. There are no built-in MCP servers.
func toMCPServerPointers(userServers map[string]MCPServerConfig) map[string]*MCPServerConfig {
	result := make(map[string]*MCPServerConfig, len(userServers))
	for id, server := range userServers {
		serverCopy := server
		result[id] = &serverCopy
	}
	return result
}
