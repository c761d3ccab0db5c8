package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedEvaluator(t *testing.T) {
	ctx := context.Background()
	evaluator, err := NewEmbeddedEvaluator(ctx, "")
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    Input
		expected bool
	}{
		{
			name:     "valid input allowed",
			input:    Input{Agent: "spectrum_manager_agent", Action: "allocate_frequency", ATOCycle: "ATO-0001"},
			expected: true,
		},
		{
			name:     "missing agent denied",
			input:    Input{Action: "allocate_frequency", ATOCycle: "ATO-0001"},
			expected: false,
		},
		{
			name:     "restricted action denied",
			input:    Input{Agent: "spectrum_manager_agent", Action: "override_phase_schedule", ATOCycle: "ATO-0001"},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allow, err := evaluator.Allow(ctx, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, allow)
		})
	}
}

func TestEmbeddedEvaluator_CustomModule(t *testing.T) {
	ctx := context.Background()
	evaluator, err := NewEmbeddedEvaluator(ctx, `package aether.agent_authorization

import rego.v1

default allow := false

allow if input.agent == "ew_planner_agent"
`)
	require.NoError(t, err)

	allow, err := evaluator.Allow(ctx, Input{Agent: "ew_planner_agent", Action: "plan_ew_missions"})
	require.NoError(t, err)
	assert.True(t, allow)

	allow, err = evaluator.Allow(ctx, Input{Agent: "assessment_agent", Action: "plan_ew_missions"})
	require.NoError(t, err)
	assert.False(t, allow)
}

func TestEmbeddedEvaluator_InvalidModule(t *testing.T) {
	_, err := NewEmbeddedEvaluator(context.Background(), "this is not rego")
	assert.Error(t, err)
}

func TestHTTPEvaluator_Allow(t *testing.T) {
	var gotBody map[string]map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, allowPath, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"result": true}`))
	}))
	defer server.Close()

	evaluator := NewHTTPEvaluator(server.URL, 0)
	allow, err := evaluator.Allow(context.Background(), Input{
		Agent:    "spectrum_manager_agent",
		Action:   "allocate_frequency",
		ATOCycle: "ATO-0001",
	})
	require.NoError(t, err)
	assert.True(t, allow)
	assert.Equal(t, "spectrum_manager_agent", gotBody["input"]["agent"])
	assert.Equal(t, "ATO-0001", gotBody["input"]["ato_cycle"])
}

func TestHTTPEvaluator_UndefinedDecision(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	evaluator := NewHTTPEvaluator(server.URL, 0)
	_, err := evaluator.Allow(context.Background(), Input{Agent: "a", Action: "x"})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestHTTPEvaluator_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	evaluator := NewHTTPEvaluator(server.URL, 0)
	input := Input{Agent: "a", Action: "x", ATOCycle: "ATO-0001"}

	for i := 0; i < breakerConsecutiveFailures; i++ {
		_, err := evaluator.Allow(context.Background(), input)
		require.ErrorIs(t, err, ErrUnavailable)
	}

	// Breaker is now open: requests fail fast without hitting the server.
	server.Close()
	_, err := evaluator.Allow(context.Background(), input)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestStatic(t *testing.T) {
	allow, err := Static{Decision: true}.Allow(context.Background(), Input{})
	require.NoError(t, err)
	assert.True(t, allow)
}
