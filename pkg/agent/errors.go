package agent

import "errors"

var (
	// ErrQueueFull is returned when an agent's task queue is at capacity.
	ErrQueueFull = errors.New("agent task queue full")

	// ErrNotRunning is returned when a task is submitted to a stopped agent.
	ErrNotRunning = errors.New("agent worker not running")

	// ErrUnhandledMessage is returned in reply envelopes for message types
	// the agent registered no handler for.
	ErrUnhandledMessage = errors.New("unhandled message type")
)
