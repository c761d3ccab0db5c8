package provision

import (
	"errors"
	"fmt"
)

// ErrUnknownElement is returned when a referenced element ID was never
// provisioned into the context.
var ErrUnknownElement = errors.New("element not provisioned in context")

// InvariantError reports a violated context invariant: a token budget
// overrun, a duplicate element ID, or an element in more than one layer.
// Always a bug in the provisioner, never a recoverable condition.
type InvariantError struct {
	Invariant string
	Detail    string
}

// Error returns the formatted error message
func (e *InvariantError) Error() string {
	return fmt.Sprintf("context invariant %s violated: %s", e.Invariant, e.Detail)
}
