// Package authz decides every privileged action through six independent
// factors: role authority, phase appropriateness, information access,
// delegation chain, doctrinal fit, and external policy. Factors are all
// evaluated so a denial lists every failing factor, not just the first.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/doctrine"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/metrics"
	"github.com/aether-os/aether/pkg/policy"
)

// Action describes one privileged operation under authorization.
type Action struct {
	// Name must appear in the acting profile's authorized actions.
	Name string
	// Description is free text checked for doctrinal fit.
	Description string
	// Categories are the information categories the action touches.
	Categories []ems.InformationCategory
	// OnBehalfOf names the delegating agent when authority is delegated.
	OnBehalfOf string
	// DelegationDepth is how many delegation hops preceded this action.
	DelegationDepth int
	// Context carries action-specific fields such as approved_by_rank.
	Context map[string]any
}

// Decision is the authorization outcome. Reasons enumerate every failing
// factor; Notes record soft degradations that did not deny.
type Decision struct {
	Allow       bool      `json:"allow"`
	AgentID     string    `json:"agent_id"`
	Action      string    `json:"action"`
	Reasons     []string  `json:"reasons,omitempty"`
	Notes       []string  `json:"notes,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// maxDelegationDepth caps the delegation chain.
const maxDelegationDepth = 1

// emergency reallocation requires approval at or above this officer rank.
const minEmergencyApprovalRank = 5 // O-5

// Engine evaluates the six authorization factors. The doctrine KB and the
// policy evaluator are optional; their absence is a soft degradation noted on
// the decision, handled per the deployment's failure posture.
type Engine struct {
	profiles *config.ProfileRegistry
	policies *config.PolicyRegistry
	phase    func() ems.Phase
	cycleID  func() string
	kb       doctrine.KB
	external policy.Evaluator
	failOpen bool
	logger   *slog.Logger
}

// New creates the engine. phase and cycleID supply current cycle state; kb
// and external may be nil.
func New(profiles *config.ProfileRegistry, policies *config.PolicyRegistry, phase func() ems.Phase, cycleID func() string, kb doctrine.KB, external policy.Evaluator, failOpen bool) *Engine {
	return &Engine{
		profiles: profiles,
		policies: policies,
		phase:    phase,
		cycleID:  cycleID,
		kb:       kb,
		external: external,
		failOpen: failOpen,
		logger:   slog.With("component", "authz"),
	}
}

// phaseBoundActions restricts certain actions to specific phases regardless
// of the acting agent's own activation window.
var phaseBoundActions = map[string][]ems.Phase{
	"develop_strategy":       {ems.PhaseOEG, ems.PhaseTargetDevelopment},
	"plan_ew_missions":       {ems.PhaseWeaponeering},
	"allocate_frequency":     {ems.PhaseWeaponeering, ems.PhaseExecution},
	"produce_ato_ems_annex":  {ems.PhaseATOProduction},
	"emergency_reallocation": {ems.PhaseExecution},
	"assess_ato_cycle":       {ems.PhaseAssessment},
}

// Authorize evaluates all six factors for the action and returns the
// decision. Unknown agents are denied outright.
func (e *Engine) Authorize(ctx context.Context, agentID string, action Action) Decision {
	started := time.Now()
	decision := Decision{
		AgentID:     agentID,
		Action:      action.Name,
		EvaluatedAt: started.UTC(),
	}

	profile, err := e.profiles.Get(agentID)
	if err != nil {
		decision.Reasons = append(decision.Reasons, fmt.Sprintf("unknown agent %q", agentID))
		return e.finish(decision, started)
	}

	e.checkRole(profile, action, &decision)
	e.checkPhase(profile, action, &decision)
	e.checkInformationAccess(profile, action, &decision)
	e.checkDelegation(action, &decision)
	e.checkDoctrinalFit(ctx, action, &decision)
	e.checkExternalPolicy(ctx, agentID, action, &decision)
	e.checkEmergencyApproval(action, &decision)

	return e.finish(decision, started)
}

func (e *Engine) finish(decision Decision, started time.Time) Decision {
	decision.Allow = len(decision.Reasons) == 0
	metrics.RecordAuthzDecision(decision.Action, decision.Allow)
	e.logger.Info("Authorization decision",
		"agent", decision.AgentID, "action", decision.Action,
		"allow", decision.Allow, "reasons", len(decision.Reasons),
		"elapsed", time.Since(started))
	return decision
}

// Factor 1: role authority.
func (e *Engine) checkRole(profile *ems.AgentProfile, action Action, decision *Decision) {
	if !profile.CanPerform(action.Name) {
		decision.Reasons = append(decision.Reasons,
			fmt.Sprintf("role: action %q not authorized for role %s", action.Name, profile.Role))
	}
}

// Factor 2: phase appropriateness. The agent must be active in the current
// phase and the action itself must be permitted in it.
func (e *Engine) checkPhase(profile *ems.AgentProfile, action Action, decision *Decision) {
	current := e.phase()
	if !profile.ActiveIn(current) {
		decision.Reasons = append(decision.Reasons,
			fmt.Sprintf("phase: agent not active during %s", current))
	}
	if phases, bound := phaseBoundActions[action.Name]; bound {
		allowed := false
		for _, p := range phases {
			if p == current {
				allowed = true
				break
			}
		}
		if !allowed {
			decision.Reasons = append(decision.Reasons,
				fmt.Sprintf("phase: action %q not permitted during %s", action.Name, current))
		}
	}
}

// Factor 3: information access, per category the action touches.
func (e *Engine) checkInformationAccess(profile *ems.AgentProfile, action Action, decision *Decision) {
	for _, category := range action.Categories {
		if !profile.AuthorizedFor(category) {
			decision.Reasons = append(decision.Reasons,
				fmt.Sprintf("information: category %s not in authorized set", category))
			continue
		}
		catPolicy, err := e.policies.Get(category)
		if err != nil {
			decision.Reasons = append(decision.Reasons,
				fmt.Sprintf("information: no policy for category %s", category))
			continue
		}
		if !profile.AccessLevel.AtLeast(catPolicy.MinimumLevel) {
			decision.Reasons = append(decision.Reasons,
				fmt.Sprintf("information: level %s below %s minimum %s",
					profile.AccessLevel, category, catPolicy.MinimumLevel))
		}
	}
}

// Factor 4: delegation chain.
func (e *Engine) checkDelegation(action Action, decision *Decision) {
	if action.OnBehalfOf == "" {
		return
	}
	delegator, err := e.profiles.Get(action.OnBehalfOf)
	if err != nil {
		decision.Reasons = append(decision.Reasons,
			fmt.Sprintf("delegation: unknown delegator %q", action.OnBehalfOf))
		return
	}
	if !delegator.DelegationAuthority {
		decision.Reasons = append(decision.Reasons,
			fmt.Sprintf("delegation: %s holds no delegation authority", action.OnBehalfOf))
	}
	if action.DelegationDepth >= maxDelegationDepth {
		decision.Reasons = append(decision.Reasons,
			fmt.Sprintf("delegation: depth %d exceeds limit %d", action.DelegationDepth+1, maxDelegationDepth))
	}
}

// Factor 5: doctrinal fit. An unreachable KB is a soft pass recorded in
// Notes, never a denial.
func (e *Engine) checkDoctrinalFit(ctx context.Context, action Action, decision *Decision) {
	if e.kb == nil {
		decision.Notes = append(decision.Notes, "doctrine_unavailable")
		return
	}
	description := action.Description
	if description == "" {
		description = action.Name
	}
	result, err := e.kb.CheckCompliance(ctx, description)
	if err != nil {
		decision.Notes = append(decision.Notes, "doctrine_unavailable")
		return
	}
	if result.Verdict == doctrine.VerdictReview {
		decision.Reasons = append(decision.Reasons,
			"doctrine: action conflicts with doctrinal guidance, review required")
	}
}

// Factor 6: external policy. Authoritative when reachable; unavailability
// degrades per the deployment's failure posture.
func (e *Engine) checkExternalPolicy(ctx context.Context, agentID string, action Action, decision *Decision) {
	if e.external == nil {
		decision.Notes = append(decision.Notes, "policy_disabled")
		return
	}
	allow, err := e.external.Allow(ctx, policy.Input{
		Agent:    agentID,
		Action:   action.Name,
		ATOCycle: e.cycleID(),
	})
	if err != nil {
		if errors.Is(err, policy.ErrUnavailable) && e.failOpen {
			decision.Notes = append(decision.Notes, "policy_unavailable_fail_open")
			return
		}
		decision.Reasons = append(decision.Reasons, "policy: evaluator unavailable, failing closed")
		return
	}
	if !allow {
		decision.Reasons = append(decision.Reasons, "policy: denied by external policy")
	}
}

// Edge policy: emergency reallocation needs explicit O-5 (or higher) approval
// carried in the action context.
func (e *Engine) checkEmergencyApproval(action Action, decision *Decision) {
	if action.Name != "emergency_reallocation" {
		return
	}
	rank, ok := approvalRank(action.Context)
	if !ok {
		decision.Reasons = append(decision.Reasons,
			"approval: emergency reallocation requires approved_by_rank")
		return
	}
	if rank < minEmergencyApprovalRank {
		decision.Reasons = append(decision.Reasons,
			fmt.Sprintf("approval: rank O-%d below required O-%d", rank, minEmergencyApprovalRank))
	}
}

// approvalRank parses the approved_by_rank context field ("O-5" or numeric).
func approvalRank(actionCtx map[string]any) (int, bool) {
	if actionCtx == nil {
		return 0, false
	}
	raw, ok := actionCtx["approved_by_rank"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case string:
		trimmed := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(v)), "O-")
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			return 0, false
		}
		return n, true
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
