package config

import (
	"fmt"
	"sync"

	"github.com/aether-os/aether/pkg/ems"
)

// PolicyRegistry stores category access policies in memory with thread-safe access
type PolicyRegistry struct {
	policies map[ems.InformationCategory]ems.CategoryPolicy
	mu       sync.RWMutex
}

// NewPolicyRegistry creates a new policy registry
func NewPolicyRegistry(policies map[ems.InformationCategory]ems.CategoryPolicy) *PolicyRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[ems.InformationCategory]ems.CategoryPolicy, len(policies))
	for k, v := range policies {
		copied[k] = v
	}
	return &PolicyRegistry{
		policies: copied,
	}
}

// Get retrieves the policy for an information category (thread-safe)
func (r *PolicyRegistry) Get(category ems.InformationCategory) (ems.CategoryPolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	policy, exists := r.policies[category]
	if !exists {
		return ems.CategoryPolicy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, category)
	}
	return policy, nil
}

// GetAll returns all category policies (thread-safe, returns copy)
func (r *PolicyRegistry) GetAll() map[ems.InformationCategory]ems.CategoryPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[ems.InformationCategory]ems.CategoryPolicy, len(r.policies))
	for k, v := range r.policies {
		result[k] = v
	}
	return result
}

// Has checks if a policy exists for the category (thread-safe)
func (r *PolicyRegistry) Has(category ems.InformationCategory) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.policies[category]
	return exists
}

// Len returns the number of policies in the registry (thread-safe)
func (r *PolicyRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.policies)
}
