package api

import (
	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/database"
	"github.com/aether-os/aether/pkg/improve"
	"github.com/aether-os/aether/pkg/mcp"
	"github.com/aether-os/aether/pkg/provision"
)

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string                       `json:"status"`
	Version       string                       `json:"version"`
	Database      *database.HealthStatus       `json:"database,omitempty"`
	Configuration ConfigurationStats           `json:"configuration"`
	MCPHealth     map[string]*mcp.HealthStatus `json:"mcp_health,omitempty"`
}

// ConfigurationStats contains counts of loaded configuration items.
type ConfigurationStats struct {
	Profiles     int `json:"profiles"`
	Policies     int `json:"policies"`
	MCPServers   int `json:"mcp_servers"`
	LLMProviders int `json:"llm_providers"`
}

// StartCycleResponse is returned by POST /api/v1/cycles.
type StartCycleResponse struct {
	CycleID string `json:"cycle_id"`
	Phase   string `json:"phase"`
	Status  string `json:"status"`
}

// AdvancePhaseResponse is returned by POST /api/v1/cycles/advance.
type AdvancePhaseResponse struct {
	Phase string `json:"phase"`
}

// FlagsResponse is returned by GET /api/v1/flags.
type FlagsResponse struct {
	Flags []improve.Flag `json:"flags"`
	Count int            `json:"count"`
}

// PatternsResponse is returned by GET /api/v1/patterns.
type PatternsResponse struct {
	Patterns []improve.Pattern `json:"patterns"`
	Count    int               `json:"count"`
}

// AuditResponse is returned by GET /api/v1/audit.
type AuditResponse struct {
	Entries []broker.AuditEntry `json:"entries"`
	Count   int                 `json:"count"`
}

// ContextStatsResponse is returned by GET /api/v1/context/stats.
type ContextStatsResponse struct {
	Agents map[string]provision.UsageStats `json:"agents"`
}

// PerformanceResponse is returned by GET /api/v1/performance/:agent.
type PerformanceResponse struct {
	AgentID string `json:"agent_id"`
	Report  string `json:"report"`
}
