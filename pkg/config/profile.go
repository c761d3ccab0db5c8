// Package config provides configuration management for the Aether kernel,
// including agent profiles, category policies, the phase schedule, MCP
// backend servers, and LLM provider configurations.
package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aether-os/aether/pkg/ems"
)

// ProfileRegistry stores agent access profiles in memory with thread-safe access.
// Profiles are immutable once loaded; accessors return deep copies.
type ProfileRegistry struct {
	profiles map[string]*ems.AgentProfile
	mu       sync.RWMutex
}

// NewProfileRegistry creates a new profile registry
func NewProfileRegistry(profiles map[string]*ems.AgentProfile) *ProfileRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*ems.AgentProfile, len(profiles))
	for k, v := range profiles {
		copied[k] = v.Clone()
	}
	return &ProfileRegistry{
		profiles: copied,
	}
}

// Get retrieves an agent profile by agent ID (thread-safe)
func (r *ProfileRegistry) Get(agentID string) (*ems.AgentProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, exists := r.profiles[agentID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, agentID)
	}
	return profile.Clone(), nil
}

// GetAll returns all agent profiles (thread-safe, returns copies)
func (r *ProfileRegistry) GetAll() map[string]*ems.AgentProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ems.AgentProfile, len(r.profiles))
	for k, v := range r.profiles {
		result[k] = v.Clone()
	}
	return result
}

// Has checks if an agent profile exists in the registry (thread-safe)
func (r *ProfileRegistry) Has(agentID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.profiles[agentID]
	return exists
}

// Len returns the number of profiles in the registry (thread-safe)
func (r *ProfileRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

// AgentIDs returns a sorted list of all registered agent IDs.
func (r *ProfileRegistry) AgentIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
