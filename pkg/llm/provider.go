package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/aether-os/aether/pkg/config"
)

// Provider is one configured LLM endpoint in the fallback chain.
type Provider struct {
	Name  string
	Model string
	Type  config.LLMProviderType

	client      llms.Model
	maxTokens   int
	temperature *float64
}

// newProvider constructs the langchaingo client for one provider config.
// A missing API key is an error here; BuildProviders skips such entries so a
// partially configured environment still yields a working chain.
func newProvider(ctx context.Context, name string, cfg *config.LLMProviderConfig) (*Provider, error) {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
		if apiKey == "" {
			return nil, fmt.Errorf("provider %s: environment variable %s is not set", name, cfg.APIKeyEnv)
		}
	}

	var client llms.Model
	var err error
	switch cfg.Type {
	case config.LLMProviderTypeAnthropic:
		opts := []anthropic.Option{anthropic.WithToken(apiKey), anthropic.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		client, err = anthropic.New(opts...)
	case config.LLMProviderTypeOpenAI:
		opts := []openai.Option{openai.WithToken(apiKey), openai.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err = openai.New(opts...)
	case config.LLMProviderTypeGoogle:
		client, err = googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(cfg.Model))
	default:
		return nil, fmt.Errorf("provider %s: unsupported type %q", name, cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}

	return &Provider{
		Name:        name,
		Model:       cfg.Model,
		Type:        cfg.Type,
		client:      client,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// generate runs one completion against this provider.
func (p *Provider) generate(ctx context.Context, systemPrompt, userPrompt string) (*llms.ContentResponse, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userPrompt),
	}
	var opts []llms.CallOption
	if p.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(p.maxTokens))
	}
	if p.temperature != nil {
		opts = append(opts, llms.WithTemperature(*p.temperature))
	}
	return p.client.GenerateContent(ctx, messages, opts...)
}

// tokensFrom reads token usage out of a choice's generation info. Providers
// report under different keys; unknown shapes yield zero.
func tokensFrom(info map[string]any) int {
	asInt := func(v any) int {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		default:
			return 0
		}
	}
	if total := asInt(info["TotalTokens"]); total > 0 {
		return total
	}
	if sum := asInt(info["PromptTokens"]) + asInt(info["CompletionTokens"]); sum > 0 {
		return sum
	}
	return asInt(info["InputTokens"]) + asInt(info["OutputTokens"])
}
