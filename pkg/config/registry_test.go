package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aether-os/aether/pkg/ems"
)

// Test Profile Registry

func TestProfileRegistry(t *testing.T) {
	registry := NewProfileRegistry(ems.BuiltinProfiles())

	t.Run("Get existing profile", func(t *testing.T) {
		profile, err := registry.Get(ems.AgentEWPlanner)
		require.NoError(t, err)
		assert.Equal(t, ems.RoleEWPlanner, profile.Role)
		assert.Equal(t, ems.AccessSensitive, profile.AccessLevel)
	})

	t.Run("Get nonexistent profile", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		assert.ErrorIs(t, err, ErrProfileNotFound)
	})

	t.Run("Has profile", func(t *testing.T) {
		assert.True(t, registry.Has(ems.AgentSpectrumManager))
		assert.False(t, registry.Has("nonexistent"))
	})

	t.Run("Get returns copy", func(t *testing.T) {
		profile, err := registry.Get(ems.AgentEWPlanner)
		require.NoError(t, err)

		// Mutate the returned profile
		profile.AuthorizedActions[0] = "tampered"

		// Original registry should be unchanged
		fresh, err := registry.Get(ems.AgentEWPlanner)
		require.NoError(t, err)
		assert.Equal(t, "query_doctrine", fresh.AuthorizedActions[0])
	})

	t.Run("GetAll returns copy", func(t *testing.T) {
		all := registry.GetAll()
		assert.Len(t, all, 6)

		// Modify the returned map
		all["extra_agent"] = &ems.AgentProfile{AgentID: "extra_agent"}

		// Original registry should be unchanged
		assert.False(t, registry.Has("extra_agent"))
	})

	t.Run("AgentIDs sorted", func(t *testing.T) {
		ids := registry.AgentIDs()
		require.Len(t, ids, 6)
		assert.Equal(t, ems.AgentAssessment, ids[0])
	})
}

func TestProfileRegistryThreadSafety(_ *testing.T) {
	registry := NewProfileRegistry(ems.BuiltinProfiles())

	const goroutines = 100
	var wg sync.WaitGroup

	// Launch multiple goroutines reading concurrently
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = registry.Get(ems.AgentEWPlanner)
			_ = registry.Has(ems.AgentAssessment)
			_ = registry.GetAll()
			_ = registry.AgentIDs()
		}()
	}

	wg.Wait()
	// If no panic, thread safety is good
}

// Test Policy Registry

func TestPolicyRegistry(t *testing.T) {
	registry := NewPolicyRegistry(ems.DefaultPolicies())

	t.Run("Get existing policy", func(t *testing.T) {
		policy, err := registry.Get(ems.CategoryThreatData)
		require.NoError(t, err)
		assert.Equal(t, ems.AccessOperational, policy.MinimumLevel)
		assert.True(t, policy.NeedToKnow)
		assert.True(t, policy.Sanitize)
	})

	t.Run("Get nonexistent policy", func(t *testing.T) {
		_, err := registry.Get(ems.InformationCategory("WEATHER"))
		assert.ErrorIs(t, err, ErrPolicyNotFound)
	})

	t.Run("Has policy", func(t *testing.T) {
		assert.True(t, registry.Has(ems.CategoryDoctrine))
		assert.False(t, registry.Has(ems.InformationCategory("WEATHER")))
	})

	t.Run("GetAll returns copy", func(t *testing.T) {
		all := registry.GetAll()
		assert.Len(t, all, 7)

		delete(all, ems.CategoryDoctrine)
		assert.True(t, registry.Has(ems.CategoryDoctrine))
	})
}

func TestPolicyRegistryThreadSafety(_ *testing.T) {
	registry := NewPolicyRegistry(ems.DefaultPolicies())

	const goroutines = 100
	var wg sync.WaitGroup

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = registry.Get(ems.CategoryThreatData)
			_ = registry.Has(ems.CategoryMissionPlan)
			_ = registry.GetAll()
		}()
	}

	wg.Wait()
}

// Test MCP Server Registry

func TestMCPServerRegistry(t *testing.T) {
	servers := map[string]*MCPServerConfig{
		"threat-intel": {
			Transport:  TransportConfig{Type: TransportTypeHTTP, URL: "http://localhost:9001/mcp"},
			Categories: []ems.InformationCategory{ems.CategoryThreatData},
		},
		"spectrum": {
			Transport:  TransportConfig{Type: TransportTypeStdio, Command: "spectrum-server"},
			Categories: []ems.InformationCategory{ems.CategorySpectrumAllocation, ems.CategoryAssetStatus},
		},
	}
	registry := NewMCPServerRegistry(servers)

	t.Run("Get existing server", func(t *testing.T) {
		server, err := registry.Get("threat-intel")
		require.NoError(t, err)
		assert.Equal(t, TransportTypeHTTP, server.Transport.Type)
	})

	t.Run("Get nonexistent server", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		assert.ErrorIs(t, err, ErrMCPServerNotFound)
	})

	t.Run("ServerIDs sorted", func(t *testing.T) {
		assert.Equal(t, []string{"spectrum", "threat-intel"}, registry.ServerIDs())
	})

	t.Run("ServersFor category", func(t *testing.T) {
		assert.Equal(t, []string{"spectrum"}, registry.ServersFor(ems.CategoryAssetStatus))
		assert.Empty(t, registry.ServersFor(ems.CategoryMissionPlan))
	})

	t.Run("ToolName mapping", func(t *testing.T) {
		server := &MCPServerConfig{
			Tools: map[string]string{"query_threats": "search_threats"},
		}
		assert.Equal(t, "search_threats", server.ToolName("query_threats"))
		assert.Equal(t, "check_conflicts", server.ToolName("check_conflicts"))
	})
}

// Test LLM Provider Registry

func TestLLMProviderRegistry(t *testing.T) {
	registry := NewLLMProviderRegistry(mergeLLMProviders(initBuiltinLLMProviders(), nil))

	t.Run("Get builtin provider", func(t *testing.T) {
		provider, err := registry.Get("anthropic")
		require.NoError(t, err)
		assert.Equal(t, LLMProviderTypeAnthropic, provider.Type)
		assert.Equal(t, "claude-sonnet-4-20250514", provider.Model)
	})

	t.Run("Get nonexistent provider", func(t *testing.T) {
		_, err := registry.Get("mistral")
		assert.ErrorIs(t, err, ErrLLMProviderNotFound)
	})

	t.Run("Len counts builtins", func(t *testing.T) {
		assert.Equal(t, 3, registry.Len())
	})
}
