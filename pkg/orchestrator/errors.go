package orchestrator

import "errors"

var (
	// ErrCycleActive is returned by StartCycle when a cycle is already
	// running and cancellation was not requested.
	ErrCycleActive = errors.New("a cycle is already active")

	// ErrNoActiveCycle is returned by operations that need a running cycle.
	ErrNoActiveCycle = errors.New("no active cycle")

	// ErrIllegalTransition is returned when a requested phase change is not
	// an edge of the transition graph.
	ErrIllegalTransition = errors.New("illegal phase transition")

	// ErrCriticalSkip is returned when a skip would jump over a critical phase.
	ErrCriticalSkip = errors.New("cannot skip a critical phase")

	// ErrOverrideRequired is returned when a non-critical skip is requested
	// without an explicit override.
	ErrOverrideRequired = errors.New("phase skip requires an explicit override")
)
