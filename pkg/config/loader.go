package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/aether-os/aether/pkg/ems"
)

// AetherYAMLConfig represents the complete aether.yaml file structure
type AetherYAMLConfig struct {
	System           *SystemYAMLConfig                              `yaml:"system"`
	AgentProfiles    map[string]ems.AgentProfile                    `yaml:"agent_profiles"`
	CategoryPolicies map[ems.InformationCategory]ems.CategoryPolicy `yaml:"category_policies"`
	PhaseSchedule    map[ems.Phase]PhaseSpecYAML                    `yaml:"phase_schedule"`
	MCPServers       map[string]MCPServerConfig                     `yaml:"mcp_servers"`
	Defaults         *Defaults                                      `yaml:"defaults"`
}

// SystemYAMLConfig groups system-wide infrastructure settings.
type SystemYAMLConfig struct {
	DeploymentMode   string                  `yaml:"deployment_mode"`
	AllowedWSOrigins []string                `yaml:"allowed_ws_origins"`
	API              *APIYAMLConfig          `yaml:"api"`
	Database         *DatabaseYAMLConfig     `yaml:"database"`
	Policy           *PolicyYAMLConfig       `yaml:"policy"`
	Context          *ContextYAMLConfig      `yaml:"context"`
	Improvement      *ImprovementYAMLConfig  `yaml:"improvement"`
	Orchestrator     *OrchestratorYAMLConfig `yaml:"orchestrator"`
}

// APIYAMLConfig holds HTTP API settings from YAML.
type APIYAMLConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// DatabaseYAMLConfig holds database settings from YAML.
type DatabaseYAMLConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	DSNEnv  string `yaml:"dsn_env,omitempty"`
}

// PolicyYAMLConfig holds external policy settings from YAML.
type PolicyYAMLConfig struct {
	Mode    string `yaml:"mode,omitempty"`
	URL     string `yaml:"url,omitempty"`
	Timeout string `yaml:"timeout,omitempty"` // Parsed to time.Duration
}

// ContextYAMLConfig holds context provisioning settings from YAML.
type ContextYAMLConfig struct {
	DefaultTokenBudget int      `yaml:"default_token_budget,omitempty"`
	DoctrinalFloor     *int     `yaml:"doctrinal_floor,omitempty"`
	RelevanceThreshold *float64 `yaml:"relevance_threshold,omitempty"`
}

// ImprovementYAMLConfig holds process improvement settings from YAML.
type ImprovementYAMLConfig struct {
	TimingFactor          *float64 `yaml:"timing_factor,omitempty"`
	PatternMinOccurrences *int     `yaml:"pattern_min_occurrences,omitempty"`
	PatternMinCycles      *int     `yaml:"pattern_min_cycles,omitempty"`
}

// OrchestratorYAMLConfig holds cycle orchestration settings from YAML.
type OrchestratorYAMLConfig struct {
	MonitorInterval string `yaml:"monitor_interval,omitempty"` // Parsed to time.Duration
	AutoAdvance     *bool  `yaml:"auto_advance,omitempty"`
}

// PhaseSpecYAML overrides one phase of the built-in schedule. Unset fields
// keep their built-in values.
type PhaseSpecYAML struct {
	Duration     string   `yaml:"duration,omitempty"` // Parsed to time.Duration
	Offset       string   `yaml:"offset,omitempty"`   // Parsed to time.Duration
	ActiveAgents []string `yaml:"active_agents,omitempty"`
	KeyOutputs   []string `yaml:"key_outputs,omitempty"`
	Critical     *bool    `yaml:"critical,omitempty"`
}

// LLMProvidersYAMLConfig represents the complete llm-providers.yaml file structure
type LLMProvidersYAMLConfig struct {
	LLMProviders map[string]LLMProviderConfig `yaml:"llm_providers"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Build in-memory registries
//  6. Apply default values
//  7. Validate all configuration
//  8. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"profiles", stats.Profiles,
		"policies", stats.Policies,
		"mcp_servers", stats.MCPServers,
		"llm_providers", stats.LLMProviders)

	return cfg, nil
}

// Default returns a configuration built entirely from built-ins, without
// reading any files. Used when no config directory is provided.
func Default() *Config {
	builtin := GetBuiltinConfig()

	cfg := &Config{
		Defaults: &Defaults{
			LLMProvider:      builtin.DefaultProvider,
			ProviderPriority: []string{"anthropic", "openai", "google"},
		},
		System:              defaultSystemConfig(),
		Schedule:            ems.DefaultSchedule(),
		ProfileRegistry:     NewProfileRegistry(builtin.Profiles),
		PolicyRegistry:      NewPolicyRegistry(builtin.Policies),
		MCPServerRegistry:   NewMCPServerRegistry(nil),
		LLMProviderRegistry: NewLLMProviderRegistry(mergeLLMProviders(builtin.LLMProviders, nil)),
	}
	applyDefaults(cfg.Defaults)
	return cfg
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load aether.yaml (system, profiles, policies, schedule, mcp_servers, defaults)
	aetherConfig, err := loader.loadAetherYAML()
	if err != nil {
		return nil, NewLoadError("aether.yaml", err)
	}

	// 2. Load llm-providers.yaml (optional; built-ins cover the common providers)
	llmProviders, err := loader.loadLLMProvidersYAML()
	if err != nil {
		return nil, NewLoadError("llm-providers.yaml", err)
	}

	// 3. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 4. Merge built-in + user-defined components (user overrides built-in)
	profiles := mergeProfiles(builtin.Profiles, aetherConfig.AgentProfiles)
	policies := mergePolicies(builtin.Policies, aetherConfig.CategoryPolicies)
	llmProvidersMerged := mergeLLMProviders(builtin.LLMProviders, llmProviders)
	mcpServers := toMCPServerPointers(aetherConfig.MCPServers)

	// 5. Resolve the phase schedule (YAML overrides built-in per phase)
	schedule, err := resolveSchedule(builtin.Schedule, aetherConfig.PhaseSchedule)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve phase schedule: %w", err)
	}

	// 6. Resolve defaults (merge user YAML with built-in defaults)
	// Start with defaults, then merge user config on top to preserve unset defaults
	defaults := &Defaults{
		LLMProvider: builtin.DefaultProvider,
	}
	if aetherConfig.Defaults != nil {
		// Merge user-provided config into defaults (non-zero values override)
		if err := mergo.Merge(defaults, aetherConfig.Defaults, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge defaults: %w", err)
		}
	}
	applyDefaults(defaults)

	// 7. Resolve system config
	system, err := resolveSystemConfig(aetherConfig.System)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve system config: %w", err)
	}

	return &Config{
		configDir:           configDir,
		Defaults:            defaults,
		System:              system,
		Schedule:            schedule,
		ProfileRegistry:     NewProfileRegistry(profiles),
		PolicyRegistry:      NewPolicyRegistry(policies),
		MCPServerRegistry:   NewMCPServerRegistry(mcpServers),
		LLMProviderRegistry: NewLLMProviderRegistry(llmProvidersMerged),
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

func applyDefaults(defaults *Defaults) {
	if len(defaults.ProviderPriority) == 0 {
		defaults.ProviderPriority = []string{"anthropic", "openai", "google"}
	}
	if defaults.MaxRetries == nil {
		retries := DefaultMaxRetries
		defaults.MaxRetries = &retries
	}
	if defaults.SanitizePatternGroup == "" {
		defaults.SanitizePatternGroup = "operational"
	}
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	// Note: ExpandEnv passes through original data on parse/execution errors,
	// allowing YAML parser to handle the content (or fail with clearer error message)
	data = ExpandEnv(data)

	// Parse YAML
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadAetherYAML() (*AetherYAMLConfig, error) {
	var config AetherYAMLConfig

	// Initialize maps to avoid nil maps
	config.AgentProfiles = make(map[string]ems.AgentProfile)
	config.CategoryPolicies = make(map[ems.InformationCategory]ems.CategoryPolicy)
	config.PhaseSchedule = make(map[ems.Phase]PhaseSpecYAML)
	config.MCPServers = make(map[string]MCPServerConfig)

	if err := l.loadYAML("aether.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func (l *configLoader) loadLLMProvidersYAML() (map[string]LLMProviderConfig, error) {
	var config LLMProvidersYAMLConfig

	// Initialize map to avoid nil map
	config.LLMProviders = make(map[string]LLMProviderConfig)

	if err := l.loadYAML("llm-providers.yaml", &config); err != nil {
		// The file is optional; built-in providers cover the defaults
		if errors.Is(err, ErrConfigNotFound) {
			return config.LLMProviders, nil
		}
		return nil, err
	}

	return config.LLMProviders, nil
}

// resolveSchedule applies per-phase YAML overrides onto the built-in schedule.
func resolveSchedule(builtin ems.Schedule, overrides map[ems.Phase]PhaseSpecYAML) (ems.Schedule, error) {
	schedule := make(ems.Schedule, len(builtin))
	copy(schedule, builtin)

	for phase, override := range overrides {
		if !phase.IsValid() {
			return nil, fmt.Errorf("%w: unknown phase %q", ErrInvalidValue, phase)
		}
		idx := -1
		for i := range schedule {
			if schedule[i].Phase == phase {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: phase %q missing from built-in schedule", ErrInvalidValue, phase)
		}

		if override.Duration != "" {
			duration, err := time.ParseDuration(override.Duration)
			if err != nil {
				return nil, fmt.Errorf("phase %s: invalid duration %q: %w", phase, override.Duration, err)
			}
			schedule[idx].Duration = duration
		}
		if override.Offset != "" {
			offset, err := time.ParseDuration(override.Offset)
			if err != nil {
				return nil, fmt.Errorf("phase %s: invalid offset %q: %w", phase, override.Offset, err)
			}
			schedule[idx].Offset = offset
		}
		if override.ActiveAgents != nil {
			schedule[idx].ActiveAgents = override.ActiveAgents
		}
		if override.KeyOutputs != nil {
			schedule[idx].KeyOutputs = override.KeyOutputs
		}
		if override.Critical != nil {
			schedule[idx].Critical = *override.Critical
		}
	}

	return schedule, nil
}

// resolveSystemConfig resolves system configuration from YAML, applying defaults.
func resolveSystemConfig(sys *SystemYAMLConfig) (*SystemConfig, error) {
	cfg := defaultSystemConfig()
	if sys == nil {
		return cfg, nil
	}

	if sys.DeploymentMode != "" {
		cfg.DeploymentMode = DeploymentMode(sys.DeploymentMode)
	}
	cfg.API.AllowedWSOrigins = sys.AllowedWSOrigins

	if sys.API != nil {
		if sys.API.Host != "" {
			cfg.API.Host = sys.API.Host
		}
		if sys.API.Port != 0 {
			cfg.API.Port = sys.API.Port
		}
	}

	if sys.Database != nil {
		if sys.Database.Enabled != nil {
			cfg.Database.Enabled = *sys.Database.Enabled
		}
		if sys.Database.DSNEnv != "" {
			cfg.Database.DSNEnv = sys.Database.DSNEnv
		}
	}

	if sys.Policy != nil {
		if sys.Policy.Mode != "" {
			cfg.Policy.Mode = PolicyMode(sys.Policy.Mode)
		}
		if sys.Policy.URL != "" {
			cfg.Policy.URL = sys.Policy.URL
		}
		if sys.Policy.Timeout != "" {
			timeout, err := time.ParseDuration(sys.Policy.Timeout)
			if err != nil {
				return nil, fmt.Errorf("invalid policy timeout %q: %w", sys.Policy.Timeout, err)
			}
			cfg.Policy.Timeout = timeout
		}
	}

	if sys.Context != nil {
		if sys.Context.DefaultTokenBudget != 0 {
			cfg.Context.DefaultTokenBudget = sys.Context.DefaultTokenBudget
		}
		if sys.Context.DoctrinalFloor != nil {
			cfg.Context.DoctrinalFloor = *sys.Context.DoctrinalFloor
		}
		if sys.Context.RelevanceThreshold != nil {
			cfg.Context.RelevanceThreshold = *sys.Context.RelevanceThreshold
		}
	}

	if sys.Improvement != nil {
		if sys.Improvement.TimingFactor != nil {
			cfg.Improvement.TimingFactor = *sys.Improvement.TimingFactor
		}
		if sys.Improvement.PatternMinOccurrences != nil {
			cfg.Improvement.PatternMinOccurrences = *sys.Improvement.PatternMinOccurrences
		}
		if sys.Improvement.PatternMinCycles != nil {
			cfg.Improvement.PatternMinCycles = *sys.Improvement.PatternMinCycles
		}
	}

	if sys.Orchestrator != nil {
		if sys.Orchestrator.MonitorInterval != "" {
			interval, err := time.ParseDuration(sys.Orchestrator.MonitorInterval)
			if err != nil {
				return nil, fmt.Errorf("invalid monitor interval %q: %w", sys.Orchestrator.MonitorInterval, err)
			}
			cfg.Orchestrator.MonitorInterval = interval
		}
		if sys.Orchestrator.AutoAdvance != nil {
			cfg.Orchestrator.AutoAdvance = *sys.Orchestrator.AutoAdvance
		}
	}

	return cfg, nil
}

func defaultSystemConfig() *SystemConfig {
	return &SystemConfig{
		DeploymentMode: DeploymentModeDevelopment,
		API: APIConfig{
			Host: "0.0.0.0",
			Port: DefaultAPIPort,
		},
		Database: DatabaseConfig{
			Enabled: false,
			DSNEnv:  DefaultDatabaseDSNEnv,
		},
		Policy: PolicyConfig{
			Mode:    PolicyModeEmbedded,
			Timeout: 5 * time.Second,
		},
		Context: ContextConfig{
			DefaultTokenBudget: DefaultTokenBudget,
			DoctrinalFloor:     DefaultDoctrinalFloor,
			RelevanceThreshold: DefaultRelevanceThreshold,
		},
		Improvement: ImprovementConfig{
			TimingFactor:          DefaultTimingFactor,
			PatternMinOccurrences: DefaultPatternMinOccurrences,
			PatternMinCycles:      DefaultPatternMinCycles,
		},
		Orchestrator: OrchestratorConfig{
			MonitorInterval: time.Minute,
			AutoAdvance:     true,
		},
	}
}
