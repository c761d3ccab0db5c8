// Package policy provides the external authorization policy factor: a remote
// HTTP evaluator guarded by a circuit breaker for production, and an embedded
// Rego evaluator for development and tests.
package policy

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the policy backend cannot produce a decision
// (unreachable endpoint, open circuit breaker, or evaluation failure).
// The authorization engine maps this to its deployment-mode failure posture.
var ErrUnavailable = errors.New("policy evaluator unavailable")

// Input is the authorization query sent to the evaluator.
type Input struct {
	Agent    string `json:"agent"`
	Action   string `json:"action"`
	ATOCycle string `json:"ato_cycle"`
}

// Evaluator decides the external-policy authorization factor.
type Evaluator interface {
	// Allow returns the policy decision for the input. An error wrapping
	// ErrUnavailable means no decision could be produced.
	Allow(ctx context.Context, input Input) (bool, error)
}

// Static is a fixed-decision evaluator for tests and the disabled mode.
type Static struct {
	Decision bool
	Err      error
}

// Allow returns the configured decision.
func (s Static) Allow(context.Context, Input) (bool, error) {
	return s.Decision, s.Err
}
