package config

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aether-os/aether/pkg/ems"
)

// TransportConfig defines MCP backend transport configuration
type TransportConfig struct {
	Type TransportType `yaml:"type" validate:"required"`

	// For stdio transport
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"` // Environment overrides for stdio subprocess

	// For http/sse transport
	URL         string `yaml:"url,omitempty"`
	BearerToken string `yaml:"bearer_token,omitempty"`
	Timeout     int    `yaml:"timeout,omitempty"` // In seconds
}

// MCPServerConfig defines an external information backend reachable over MCP.
// Each server declares which information categories it serves; the broker
// routes category queries to the matching server's tools.
type MCPServerConfig struct {
	// Transport configuration (required)
	Transport TransportConfig `yaml:"transport" validate:"required"`

	// Information categories this backend serves (required, at least one)
	Categories []ems.InformationCategory `yaml:"categories" validate:"required"`

	// Optional remapping of broker operations to tool names. Unlisted
	// operations use the operation name as the tool name.
	Tools map[string]string `yaml:"tools,omitempty"`

	// Human-readable description
	Description string `yaml:"description,omitempty"`
}

// ToolName resolves the MCP tool that implements a broker operation.
func (c *MCPServerConfig) ToolName(operation string) string {
	if name, ok := c.Tools[operation]; ok {
		return name
	}
	return operation
}

// Serves reports whether the backend declares the given category
func (c *MCPServerConfig) Serves(category ems.InformationCategory) bool {
	for _, served := range c.Categories {
		if served == category {
			return true
		}
	}
	return false
}

// MCPServerRegistry stores MCP server configurations in memory with thread-safe access
type MCPServerRegistry struct {
	servers map[string]*MCPServerConfig
	mu      sync.RWMutex
}

// NewMCPServerRegistry creates a new MCP server registry
func NewMCPServerRegistry(servers map[string]*MCPServerConfig) *MCPServerRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*MCPServerConfig, len(servers))
	for k, v := range servers {
		copied[k] = v
	}
	return &MCPServerRegistry{
		servers: copied,
	}
}

// Get retrieves an MCP server configuration by ID (thread-safe)
func (r *MCPServerRegistry) Get(serverID string) (*MCPServerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	server, exists := r.servers[serverID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrMCPServerNotFound, serverID)
	}
	return server, nil
}

// GetAll returns all MCP server configurations (thread-safe, returns copy)
func (r *MCPServerRegistry) GetAll() map[string]*MCPServerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*MCPServerConfig, len(r.servers))
	for k, v := range r.servers {
		result[k] = v
	}
	return result
}

// Has checks if an MCP server exists in the registry (thread-safe)
func (r *MCPServerRegistry) Has(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.servers[serverID]
	return exists
}

// Len returns the number of MCP servers in the registry (thread-safe)
func (r *MCPServerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// ServerIDs returns a sorted list of all configured server IDs.
func (r *MCPServerRegistry) ServerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ServersFor returns the IDs of servers declaring the given category, sorted.
func (r *MCPServerRegistry) ServersFor(category ems.InformationCategory) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, server := range r.servers {
		if server.Serves(category) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
