package kernel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aether-os/aether/pkg/agent"
	"github.com/aether-os/aether/pkg/ems"
)

// AgentStatus is one row of the registry snapshot.
type AgentStatus struct {
	AgentID string        `json:"agent_id"`
	Role    ems.AgentRole `json:"role"`
	Active  bool          `json:"active"`
}

type registration struct {
	controller agent.Controller
	active     bool
}

// registry holds the registered agents and their activation state. Mutated
// only by register/activate/deactivate; readers get consistent snapshots.
type registry struct {
	mu     sync.RWMutex
	agents map[string]*registration
}

func newRegistry() *registry {
	return &registry{agents: make(map[string]*registration)}
}

func (r *registry) register(id string, controller agent.Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[id]; exists {
		return fmt.Errorf("%w: %s", ErrAgentAlreadyRegistered, id)
	}
	r.agents[id] = &registration{controller: controller}
	return nil
}

// setActive transitions one agent's activation state, starting or stopping
// its task worker. Returns whether the state changed.
func (r *registry) setActive(id string, active bool) (bool, error) {
	r.mu.Lock()
	reg, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrAgentNotRegistered, id)
	}
	changed := reg.active != active
	reg.active = active
	base := reg.controller.Base()
	r.mu.Unlock()

	// Worker lifecycle outside the registry lock; Stop waits for the worker.
	if changed {
		if active {
			base.Start()
		} else {
			base.Stop()
		}
	}
	return changed, nil
}

func (r *registry) controller(id string) (agent.Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return reg.controller, true
}

func (r *registry) isActive(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.agents[id]
	return ok && reg.active
}

func (r *registry) isRegistered(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[id]
	return ok
}

// activeIDs returns the sorted active set.
func (r *registry) activeIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for id, reg := range r.agents {
		if reg.active {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// registeredIDs returns all registered agents, sorted.
func (r *registry) registeredIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.agents))
	for id := range r.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// snapshot returns the registry contents sorted by agent ID.
func (r *registry) snapshot() []AgentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentStatus, 0, len(r.agents))
	for id, reg := range r.agents {
		out = append(out, AgentStatus{
			AgentID: id,
			Role:    reg.controller.Base().Profile().Role,
			Active:  reg.active,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
