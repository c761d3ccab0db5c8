package broker

import (
	"errors"
	"fmt"

	"github.com/aether-os/aether/pkg/ems"
)

var (
	// ErrUnauthorized is returned when the caller's profile does not permit
	// the requested category at the required level.
	ErrUnauthorized = errors.New("unauthorized information access")

	// ErrUnknownCategory is returned for categories with no routed backend.
	ErrUnknownCategory = errors.New("no backend for category")

	// ErrReservationDenied is returned when an asset reservation cannot be
	// honored (already reserved or unavailable in the window). Callers count
	// denials for resource-bottleneck flagging.
	ErrReservationDenied = errors.New("asset reservation denied")
)

// UnavailableError indicates a backing store could not serve the query.
// The broker never retries; retry policy belongs to the caller.
type UnavailableError struct {
	Category ems.InformationCategory
	Err      error
}

// Error returns the formatted error message
func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend for %s unavailable: %v", e.Category, e.Err)
}

// Unwrap returns the underlying error
func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// AccessError carries the specific access checks that failed.
type AccessError struct {
	AgentID  string
	Category ems.InformationCategory
	Reasons  []string
}

// Error returns the formatted error message
func (e *AccessError) Error() string {
	return fmt.Sprintf("agent %s denied %s access: %v", e.AgentID, e.Category, e.Reasons)
}

// Unwrap lets errors.Is match ErrUnauthorized
func (e *AccessError) Unwrap() error {
	return ErrUnauthorized
}
