package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/llm"
	"github.com/aether-os/aether/pkg/provision"
)

// Controller is the per-role strategy: what an agent does when the
// orchestrator hands it a phase. Controllers return the phase's outputs keyed
// by output name; phases a role is not active in return an empty map.
type Controller interface {
	Base() *BaseAgent
	ExecutePhaseTasks(ctx context.Context, phase ems.Phase, cycleID string) (map[string]any, error)
}

// NewController builds the controller for the profile's role. llmClient may
// be nil; controllers then produce deterministic outputs.
func NewController(profile *ems.AgentProfile, runtime Runtime, llmClient *llm.Client) (Controller, error) {
	base := NewBaseAgent(profile, runtime, llmClient)
	switch profile.Role {
	case ems.RoleEMSStrategy:
		return NewStrategyController(base), nil
	case ems.RoleEWPlanner:
		return NewEWPlannerController(base), nil
	case ems.RoleSpectrumManager:
		return NewSpectrumController(base), nil
	case ems.RoleATOProducer:
		return NewProducerController(base), nil
	case ems.RoleAssessment:
		return NewAssessmentController(base), nil
	case ems.RoleEvaluator:
		return NewEvaluatorController(base), nil
	default:
		return nil, fmt.Errorf("no controller for role %q", profile.Role)
	}
}

// asStrings coerces the loosely typed output values agents exchange.
func asStrings(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	default:
		return nil
	}
}

// asFloat coerces numeric payload fields, which arrive as float64 after JSON
// round-trips and as native types in-process.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// asMap coerces a map-shaped output value.
func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// citeLayer returns up to n element IDs from one layer of the window, for
// composing responses that reference their provisioned context.
func citeLayer(window *provision.AgentContext, layer provision.Layer, n int) []string {
	if window == nil {
		return nil
	}
	var ids []string
	for _, element := range window.Layers[layer] {
		ids = append(ids, element.ID)
		if len(ids) == n {
			break
		}
	}
	return ids
}

func joinCitations(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	return " References: " + strings.Join(ids, ", ")
}
