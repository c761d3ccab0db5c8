package improve

import "errors"

// ErrUnknownInefficiency is returned when a flag is raised with a type
// outside the closed taxonomy.
var ErrUnknownInefficiency = errors.New("inefficiency type not in taxonomy")
