package config

import "time"

// APIConfig holds resolved HTTP API configuration.
type APIConfig struct {
	Host             string   // Listen host (default: "0.0.0.0")
	Port             int      // Listen port (default: 8080)
	AllowedWSOrigins []string // Allowed WebSocket origins (empty = same-origin only)
}

// DatabaseConfig holds resolved database configuration. Persistence is
// optional; when disabled, flags, audit records, and events stay in memory.
type DatabaseConfig struct {
	Enabled bool
	DSNEnv  string // Env var name containing the connection string (default: "AETHER_DATABASE_URL")
}

// PolicyConfig holds resolved external authorization policy configuration.
type PolicyConfig struct {
	Mode    PolicyMode    // embedded, http, or disabled (default: embedded)
	URL     string        // Policy endpoint base URL (http mode)
	Timeout time.Duration // Per-request timeout (default: 5s)
}

// ContextConfig holds resolved context provisioning configuration.
type ContextConfig struct {
	DefaultTokenBudget int     // Token budget when no template overrides (default: 32000)
	DoctrinalFloor     int     // Minimum doctrinal elements kept under pressure (default: 2)
	RelevanceThreshold float64 // Cosine similarity floor for semantic reference detection (default: 0.5)
}

// ImprovementConfig holds resolved process improvement configuration.
type ImprovementConfig struct {
	TimingFactor          float64 // Overrun multiple that triggers a timing flag (default: 1.3)
	PatternMinOccurrences int     // Flags needed before a pattern is mined (default: 5)
	PatternMinCycles      int     // Alternative trigger: distinct cycles with the same signature (default: 2)
}

// OrchestratorConfig holds resolved cycle orchestration configuration.
type OrchestratorConfig struct {
	MonitorInterval time.Duration // Phase monitor tick (default: 60s)
	AutoAdvance     bool          // Advance phases on schedule without operator action (default: true)
}

// SystemConfig groups all resolved system-wide settings.
type SystemConfig struct {
	DeploymentMode DeploymentMode
	API            APIConfig
	Database       DatabaseConfig
	Policy         PolicyConfig
	Context        ContextConfig
	Improvement    ImprovementConfig
	Orchestrator   OrchestratorConfig
}

// FailOpen reports whether authorization degrades permissively when the
// policy backend is unreachable. Development fails open, production closed.
func (c *SystemConfig) FailOpen() bool {
	return c.DeploymentMode == DeploymentModeDevelopment
}
