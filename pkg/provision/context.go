package provision

import (
	"fmt"
	"sort"
	"time"

	"github.com/aether-os/aether/pkg/ems"
)

// AgentContext is one agent's provisioned window for one task: four layers of
// typed elements under a shared token budget, plus the set of element IDs the
// agent demonstrably referenced.
type AgentContext struct {
	AgentID     string    `json:"agent_id"`
	Phase       ems.Phase `json:"phase"`
	Task        string    `json:"task"`
	TokenBudget int       `json:"token_budget"`
	CreatedAt   time.Time `json:"created_at"`

	// Degraded marks a window whose doctrinal layer fell below the
	// configured floor under token pressure.
	Degraded bool `json:"degraded,omitempty"`

	Layers map[Layer][]ContextElement `json:"layers"`

	Referenced      map[string]bool `json:"referenced"`
	UtilizationRate float64         `json:"utilization_rate"`
}

// newAgentContext creates an empty context.
func newAgentContext(agentID string, phase ems.Phase, task string, budget int) *AgentContext {
	return &AgentContext{
		AgentID:     agentID,
		Phase:       phase,
		Task:        task,
		TokenBudget: budget,
		CreatedAt:   time.Now().UTC(),
		Layers:      make(map[Layer][]ContextElement),
		Referenced:  make(map[string]bool),
	}
}

// Clone returns an independent copy of the window. Per-round state
// (Referenced, UtilizationRate) never leaks between copies; element content
// is copied by value.
func (c *AgentContext) Clone() *AgentContext {
	copied := *c
	copied.Layers = make(map[Layer][]ContextElement, len(c.Layers))
	for layer, elements := range c.Layers {
		copied.Layers[layer] = append([]ContextElement(nil), elements...)
	}
	copied.Referenced = make(map[string]bool, len(c.Referenced))
	for id, used := range c.Referenced {
		copied.Referenced[id] = used
	}
	return &copied
}

// Elements returns all provisioned elements in layer order.
func (c *AgentContext) Elements() []ContextElement {
	var all []ContextElement
	for _, layer := range AllLayers() {
		all = append(all, c.Layers[layer]...)
	}
	return all
}

// ElementIDs returns the IDs of every provisioned element.
func (c *AgentContext) ElementIDs() []string {
	elements := c.Elements()
	ids := make([]string, len(elements))
	for i, e := range elements {
		ids[i] = e.ID
	}
	return ids
}

// Element looks up a provisioned element by ID.
func (c *AgentContext) Element(id string) (ContextElement, bool) {
	for _, layer := range AllLayers() {
		for _, e := range c.Layers[layer] {
			if e.ID == id {
				return e, true
			}
		}
	}
	return ContextElement{}, false
}

// TotalTokens returns the summed token estimate of all elements.
func (c *AgentContext) TotalTokens() int {
	total := 0
	for _, e := range c.Elements() {
		total += e.Tokens
	}
	return total
}

// Reference marks an element as used by the agent. Referencing an ID that was
// never provisioned fails; referenced ⊆ provisioned is a hard invariant.
func (c *AgentContext) Reference(elementID string) error {
	if _, ok := c.Element(elementID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownElement, elementID)
	}
	c.Referenced[elementID] = true
	return nil
}

// ReferencedIDs returns the referenced element IDs, sorted.
func (c *AgentContext) ReferencedIDs() []string {
	ids := make([]string, 0, len(c.Referenced))
	for id := range c.Referenced {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks the context invariants: unique IDs, no element in more than
// one layer, token budget respected, referenced ⊆ provisioned.
func (c *AgentContext) Validate() error {
	seen := make(map[string]Layer)
	for _, layer := range AllLayers() {
		for _, e := range c.Layers[layer] {
			if prior, dup := seen[e.ID]; dup {
				return &InvariantError{
					Invariant: "unique-element-id",
					Detail:    fmt.Sprintf("%s appears in layers %s and %s", e.ID, prior, layer),
				}
			}
			seen[e.ID] = layer
		}
	}
	if total := c.TotalTokens(); total > c.TokenBudget {
		return &InvariantError{
			Invariant: "token-budget",
			Detail:    fmt.Sprintf("%d tokens provisioned against budget %d", total, c.TokenBudget),
		}
	}
	for id := range c.Referenced {
		if _, ok := seen[id]; !ok {
			return &InvariantError{
				Invariant: "referenced-subset",
				Detail:    fmt.Sprintf("referenced element %s was never provisioned", id),
			}
		}
	}
	return nil
}
