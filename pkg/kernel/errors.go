package kernel

import "errors"

var (
	// ErrAgentNotRegistered is returned when an operation names an agent the
	// kernel has never seen.
	ErrAgentNotRegistered = errors.New("agent not registered")

	// ErrAgentAlreadyRegistered is returned on duplicate registration.
	ErrAgentAlreadyRegistered = errors.New("agent already registered")

	// ErrAgentNotActive is returned when a message names a sender or receiver
	// outside the current phase's active set. Messages are never buffered for
	// inactive agents.
	ErrAgentNotActive = errors.New("agent not active in current phase")

	// ErrProfileNotConfigured is returned when a registration profile has no
	// matching entry in the configured profile registry; the broker and
	// authorization engine resolve agents through that registry.
	ErrProfileNotConfigured = errors.New("no access profile configured for agent")

	// ErrInvalidProfile is returned for a registration profile with a missing
	// ID or unknown role.
	ErrInvalidProfile = errors.New("invalid agent profile")
)
