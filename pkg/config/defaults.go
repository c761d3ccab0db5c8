package config

import "time"

// Defaults contains system-wide default configurations
// These values are used when specific components don't specify their own values
type Defaults struct {
	// LLM provider tried first for agent tasks
	LLMProvider string `yaml:"llm_provider,omitempty"`

	// Fallback order across configured providers
	ProviderPriority []string `yaml:"provider_priority,omitempty"`

	// Retries per provider before falling back to the next
	MaxRetries *int `yaml:"max_retries,omitempty" validate:"omitempty,min=0"`

	// Sanitization pattern group applied to broker payloads
	SanitizePatternGroup string `yaml:"sanitize_pattern_group,omitempty"`
}

// Built-in default values applied when YAML leaves them unset.
const (
	DefaultTokenBudget           = 32000
	DefaultDoctrinalFloor        = 2
	DefaultRelevanceThreshold    = 0.5
	DefaultTimingFactor          = 1.3
	DefaultPatternMinOccurrences = 5
	DefaultPatternMinCycles      = 2
	DefaultMaxRetries            = 3
	DefaultAPIPort               = 8080
	DefaultDatabaseDSNEnv        = "AETHER_DATABASE_URL"
	DefaultMonitorInterval       = 60 * time.Second
)
