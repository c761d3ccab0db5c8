// Package llm dispatches prompts across a prioritized chain of LLM providers
// with retries, fallback, and structured-output parsing. Providers are
// reached through langchaingo; the chain degrades provider by provider
// rather than failing on the first outage.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/metrics"
	"github.com/aether-os/aether/pkg/provision"
)

// Response is the adapter's uniform completion result.
type Response struct {
	Content      string   `json:"content"`
	Model        string   `json:"model"`
	Provider     string   `json:"provider"`
	TokensUsed   int      `json:"tokens_used"`
	FinishReason string   `json:"finish_reason,omitempty"`
	Citations    []string `json:"citations,omitempty"`
}

// backoffBase is the first retry delay; each retry doubles it.
const backoffBase = 500 * time.Millisecond

// Client walks the provider chain in priority order, retrying each provider
// with exponential backoff before falling to the next.
type Client struct {
	providers []*Provider
	retries   int
	backoff   time.Duration
	logger    *slog.Logger
}

// NewClient builds the fallback chain from the registry in the given
// priority order. Providers whose API key is absent are skipped with a
// warning; an empty resulting chain is ErrNoProviders so callers can degrade
// to deterministic output.
func NewClient(ctx context.Context, registry *config.LLMProviderRegistry, priority []string, retries int) (*Client, error) {
	logger := slog.With("component", "llm")
	if retries <= 0 {
		retries = config.DefaultMaxRetries
	}

	var providers []*Provider
	for _, name := range priority {
		cfg, err := registry.Get(name)
		if err != nil {
			logger.Warn("Provider in priority list is not configured", "provider", name)
			continue
		}
		provider, err := newProvider(ctx, name, cfg)
		if err != nil {
			logger.Warn("Provider skipped", "provider", name, "error", err)
			continue
		}
		providers = append(providers, provider)
	}
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}

	logger.Info("LLM provider chain ready", "providers", len(providers), "primary", providers[0].Name)
	return &Client{
		providers: providers,
		retries:   retries,
		backoff:   backoffBase,
		logger:    logger,
	}, nil
}

// Providers returns the chain's provider names in priority order.
func (c *Client) Providers() []string {
	names := make([]string, len(c.providers))
	for i, p := range c.providers {
		names[i] = p.Name
	}
	return names
}

// Generate runs the prompt through the chain and returns the first
// successful completion, with citations extracted from the content.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	var lastErr error
	for _, provider := range c.providers {
		for attempt := 0; attempt <= c.retries; attempt++ {
			if attempt > 0 {
				if err := sleepCtx(ctx, c.backoff<<(attempt-1)); err != nil {
					return nil, err
				}
			}

			result, err := provider.generate(ctx, systemPrompt, userPrompt)
			if err != nil {
				lastErr = err
				metrics.RecordLLMRequest(provider.Name, false, 0)
				c.logger.Warn("LLM call failed",
					"provider", provider.Name, "attempt", attempt+1, "error", err)
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				continue
			}
			if len(result.Choices) == 0 {
				lastErr = fmt.Errorf("provider %s returned no choices", provider.Name)
				continue
			}

			choice := result.Choices[0]
			response := &Response{
				Content:      choice.Content,
				Model:        provider.Model,
				Provider:     provider.Name,
				TokensUsed:   tokensFrom(choice.GenerationInfo),
				FinishReason: choice.StopReason,
				Citations:    provision.ExtractCitations(choice.Content),
			}
			metrics.RecordLLMRequest(provider.Name, true, response.TokensUsed)
			c.logger.Info("LLM call completed",
				"provider", provider.Name, "model", provider.Model,
				"tokens", response.TokensUsed, "attempt", attempt+1)
			return response, nil
		}
		c.logger.Warn("Provider exhausted, falling back", "provider", provider.Name)
	}
	return nil, fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
}

// GenerateStructured runs the prompt and parses the completion into out.
// Parse or validation failure is a hard *SchemaViolationError; the raw
// response is preserved on the error for diagnosis.
func (c *Client) GenerateStructured(ctx context.Context, systemPrompt, userPrompt string, out any) (*Response, error) {
	response, err := c.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}
	if err := ParseStructured(response.Content, out); err != nil {
		if violation, ok := err.(*SchemaViolationError); ok {
			violation.Provider = response.Provider
			return nil, violation
		}
		return nil, err
	}
	return response, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
