package mcp

import (
	"context"

	"github.com/aether-os/aether/pkg/config"
)

// ClientFactory creates Client instances connected to store servers.
type ClientFactory struct {
	registry *config.MCPServerRegistry

	// createClientFn overrides client creation; set by NewTestClientFactory.
	createClientFn func(ctx context.Context, serverIDs []string) (*Client, error)
}

// NewClientFactory creates a new factory.
func NewClientFactory(registry *config.MCPServerRegistry) *ClientFactory {
	return &ClientFactory{registry: registry}
}

// CreateClient creates a new Client connected to the specified servers.
// The caller is responsible for calling Close() when done.
func (f *ClientFactory) CreateClient(ctx context.Context, serverIDs []string) (*Client, error) {
	if f.createClientFn != nil {
		return f.createClientFn(ctx, serverIDs)
	}
	client := newClient(f.registry)
	if err := client.Initialize(ctx, serverIDs); err != nil {
		_ = client.Close() // clean up partial initialization
		return nil, err
	}
	return client, nil
}
