package api

// StartCycleRequest is the HTTP request body for POST /api/v1/cycles.
type StartCycleRequest struct {
	CycleID      string `json:"cycle_id,omitempty"`
	CancelActive bool   `json:"cancel_active,omitempty"`
}

// AdvancePhaseRequest is the HTTP request body for POST /api/v1/cycles/advance.
// Without a target the cycle moves to its next phase; with one it skips
// forward, which requires an override reason (the approver comes from proxy
// auth headers unless given explicitly).
type AdvancePhaseRequest struct {
	Target     string `json:"target,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// AuthorizeRequest is the HTTP request body for POST /api/v1/authorize.
// Runs the six-factor evaluation without executing anything.
type AuthorizeRequest struct {
	AgentID         string         `json:"agent_id"`
	Action          string         `json:"action"`
	Description     string         `json:"description,omitempty"`
	Categories      []string       `json:"categories,omitempty"`
	OnBehalfOf      string         `json:"on_behalf_of,omitempty"`
	DelegationDepth int            `json:"delegation_depth,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
}

// QueryRequest is the HTTP request body for POST /api/v1/query.
type QueryRequest struct {
	AgentID  string         `json:"agent_id"`
	Category string         `json:"category"`
	Params   map[string]any `json:"params,omitempty"`
}
