package llm

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// fakeModel scripts GenerateContent outcomes per call.
type fakeModel struct {
	calls     int
	responses []fakeResult
}

type fakeResult struct {
	content string
	tokens  int
	err     error
}

func (f *fakeModel) GenerateContent(_ context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	r := f.responses[idx]
	if r.err != nil {
		return nil, r.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{
			Content:        r.content,
			StopReason:     "stop",
			GenerationInfo: map[string]any{"TotalTokens": r.tokens},
		}},
	}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	resp, err := f.GenerateContent(ctx, nil, opts...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func newTestClient(providers ...*Provider) *Client {
	return &Client{
		providers: providers,
		retries:   2,
		backoff:   time.Millisecond,
		logger:    slog.Default(),
	}
}

func TestGenerate_RetriesThenSucceeds(t *testing.T) {
	model := &fakeModel{responses: []fakeResult{
		{err: errors.New("rate limited")},
		{err: errors.New("rate limited")},
		{content: "plan complete per DOC-3 and THR-1", tokens: 120},
	}}
	c := newTestClient(&Provider{Name: "anthropic", Model: "claude-sonnet-4-5", client: model})

	resp, err := c.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", resp.Provider)
	assert.Equal(t, "claude-sonnet-4-5", resp.Model)
	assert.Equal(t, 120, resp.TokensUsed)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, []string{"DOC-3", "THR-1"}, resp.Citations)
	assert.Equal(t, 3, model.calls)
}

func TestGenerate_FallbackChain(t *testing.T) {
	primary := &fakeModel{responses: []fakeResult{{err: errors.New("unreachable")}}}
	secondary := &fakeModel{responses: []fakeResult{{content: "from backup", tokens: 10}}}
	c := newTestClient(
		&Provider{Name: "anthropic", Model: "a", client: primary},
		&Provider{Name: "openai", Model: "b", client: secondary},
	)

	resp, err := c.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "openai", resp.Provider)
	// Primary burned all its attempts before fallback
	assert.Equal(t, 3, primary.calls)
}

func TestGenerate_AllProvidersFail(t *testing.T) {
	c := newTestClient(
		&Provider{Name: "anthropic", Model: "a", client: &fakeModel{responses: []fakeResult{{err: errors.New("down")}}}},
	)
	_, err := c.Generate(context.Background(), "system", "user")
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestGenerate_ContextCancellation(t *testing.T) {
	c := newTestClient(
		&Provider{Name: "anthropic", Model: "a", client: &fakeModel{responses: []fakeResult{{err: errors.New("down")}}}},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Generate(ctx, "system", "user")
	assert.ErrorIs(t, err, context.Canceled)
}

type missionPlan struct {
	MissionID string   `json:"mission_id" validate:"required"`
	Targets   []string `json:"targets" validate:"required,min=1"`
}

func TestParseStructured(t *testing.T) {
	t.Run("plain JSON", func(t *testing.T) {
		var plan missionPlan
		err := ParseStructured(`{"mission_id":"MSN-7","targets":["THR-1"]}`, &plan)
		require.NoError(t, err)
		assert.Equal(t, "MSN-7", plan.MissionID)
	})

	t.Run("fenced JSON", func(t *testing.T) {
		var plan missionPlan
		content := "```json\n{\"mission_id\":\"MSN-7\",\"targets\":[\"THR-1\"]}\n```"
		require.NoError(t, ParseStructured(content, &plan))
		assert.Equal(t, []string{"THR-1"}, plan.Targets)
	})

	t.Run("JSON embedded in prose", func(t *testing.T) {
		var plan missionPlan
		content := `Here is the plan: {"mission_id":"MSN-7","targets":["THR-1"]} as requested.`
		require.NoError(t, ParseStructured(content, &plan))
		assert.Equal(t, "MSN-7", plan.MissionID)
	})

	t.Run("no JSON at all", func(t *testing.T) {
		var plan missionPlan
		err := ParseStructured("I cannot produce the plan.", &plan)
		var violation *SchemaViolationError
		require.ErrorAs(t, err, &violation)
		assert.Contains(t, violation.Raw, "cannot produce")
	})

	t.Run("validation failure is a schema violation", func(t *testing.T) {
		var plan missionPlan
		err := ParseStructured(`{"mission_id":"MSN-7","targets":[]}`, &plan)
		var violation *SchemaViolationError
		require.ErrorAs(t, err, &violation)
	})

	t.Run("non-struct targets skip validation", func(t *testing.T) {
		var payload map[string]any
		require.NoError(t, ParseStructured(`{"anything":1}`, &payload))
	})
}

func TestGenerateStructured_ViolationCarriesProvider(t *testing.T) {
	model := &fakeModel{responses: []fakeResult{{content: "not json", tokens: 5}}}
	c := newTestClient(&Provider{Name: "anthropic", Model: "a", client: model})

	var plan missionPlan
	_, err := c.GenerateStructured(context.Background(), "system", "user", &plan)
	var violation *SchemaViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "anthropic", violation.Provider)
}

func TestTokensFrom(t *testing.T) {
	assert.Equal(t, 30, tokensFrom(map[string]any{"TotalTokens": 30}))
	assert.Equal(t, 25, tokensFrom(map[string]any{"PromptTokens": 10, "CompletionTokens": 15}))
	assert.Equal(t, 40, tokensFrom(map[string]any{"InputTokens": 22, "OutputTokens": 18}))
	assert.Equal(t, 0, tokensFrom(nil))
}
