// Package services persists kernel state to PostgreSQL: improvement flags,
// the information access audit trail, context usage statistics, cycle
// history, and published events.
//
// The in-memory subsystems remain authoritative while the process runs; the
// services record durable copies behind the same sink interfaces the metrics
// adapters use. Sink methods are best-effort: a failed insert is logged and
// never surfaces to the caller.
package services

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// writeTimeout bounds best-effort sink inserts so a stalled database cannot
// block the flag logger or audit trail.
const writeTimeout = 5 * time.Second

// DefaultListLimit caps list queries when the caller passes limit <= 0.
const DefaultListLimit = 100

func writeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), writeTimeout)
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return DefaultListLimit
	}
	return limit
}
