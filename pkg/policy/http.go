package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// allowPath is the OPA data API path for the authorization decision document.
const allowPath = "/v1/data/aether/agent_authorization/allow"

// DefaultTimeout bounds one policy request.
const DefaultTimeout = 5 * time.Second

// breakerConsecutiveFailures opens the breaker after this many consecutive
// request failures.
const breakerConsecutiveFailures = 5

// HTTPEvaluator queries a remote OPA-compatible policy endpoint. Requests run
// through a circuit breaker so a dead endpoint degrades to fast local
// failures instead of per-call timeouts.
type HTTPEvaluator struct {
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewHTTPEvaluator creates an evaluator for the given endpoint base URL.
// A zero timeout uses DefaultTimeout.
func NewHTTPEvaluator(baseURL string, timeout time.Duration) *HTTPEvaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "policy-evaluator",
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Policy breaker state changed",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &HTTPEvaluator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		logger:  slog.With("component", "policy"),
	}
}

type allowRequest struct {
	Input Input `json:"input"`
}

type allowResponse struct {
	Result *bool `json:"result"`
}

// Allow posts the input to the policy endpoint and returns the decision.
func (e *HTTPEvaluator) Allow(ctx context.Context, input Input) (bool, error) {
	result, err := e.breaker.Execute(func() (interface{}, error) {
		return e.query(ctx, input)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return false, fmt.Errorf("%w: circuit breaker open", ErrUnavailable)
		}
		return false, err
	}
	return result.(bool), nil
}

func (e *HTTPEvaluator) query(ctx context.Context, input Input) (bool, error) {
	body, err := json.Marshal(allowRequest{Input: input})
	if err != nil {
		return false, fmt.Errorf("failed to marshal policy input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+allowPath, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build policy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: policy endpoint returned %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var decoded allowResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return false, fmt.Errorf("%w: invalid policy response: %v", ErrUnavailable, err)
	}
	if decoded.Result == nil {
		// Undefined decision document — treat as no decision, not deny.
		return false, fmt.Errorf("%w: decision document undefined", ErrUnavailable)
	}

	e.logger.Debug("External policy decision",
		"agent", input.Agent, "action", input.Action, "allow", *decoded.Result)
	return *decoded.Result, nil
}
