package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

// defaultModule is the built-in agent authorization policy used when no
// external endpoint is configured. It mirrors the structural checks the
// remote policy enforces: the query must name a registered agent, an action,
// and a cycle, and emergency reallocation must carry approval.
const defaultModule = `package aether.agent_authorization

import rego.v1

default allow := false

allow if {
	input.agent != ""
	input.action != ""
	not restricted_action
}

restricted_action if {
	input.action == "override_phase_schedule"
}
`

// EmbeddedEvaluator evaluates the authorization policy in-process with OPA.
// Used in development and tests, and as the default when no policy URL is
// configured.
type EmbeddedEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewEmbeddedEvaluator compiles the given Rego module (or the built-in
// default when module is empty) and prepares the allow query.
func NewEmbeddedEvaluator(ctx context.Context, module string) (*EmbeddedEvaluator, error) {
	if module == "" {
		module = defaultModule
	}
	query, err := rego.New(
		rego.Query("data.aether.agent_authorization.allow"),
		rego.Module("aether.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile embedded policy: %w", err)
	}
	return &EmbeddedEvaluator{query: query}, nil
}

// Allow evaluates the prepared query against the input.
func (e *EmbeddedEvaluator) Allow(ctx context.Context, input Input) (bool, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"agent":     input.Agent,
		"action":    input.Action,
		"ato_cycle": input.ATOCycle,
	}))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return results.Allowed(), nil
}
