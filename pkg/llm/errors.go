package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrNoProviders is returned when no configured provider could be
	// constructed (missing API keys, empty priority list).
	ErrNoProviders = errors.New("no usable LLM providers configured")

	// ErrAllProvidersFailed is returned after the whole fallback chain is
	// exhausted.
	ErrAllProvidersFailed = errors.New("all LLM providers failed")
)

// SchemaViolationError reports a response that could not be parsed or
// validated against the caller's schema. Hard error: the caller decides
// whether to re-prompt, never the adapter.
type SchemaViolationError struct {
	Provider string
	Detail   string
	Raw      string
	Err      error
}

// Error returns the formatted error message
func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("structured output from %s violates schema: %s", e.Provider, e.Detail)
}

// Unwrap returns the underlying parse or validation error
func (e *SchemaViolationError) Unwrap() error {
	return e.Err
}
