package broker

import (
	"context"
	"time"
)

// Record is one backend result row. Backends return generic maps; the broker
// sanitizes and stamps them before they reach agents.
type Record = map[string]any

// Backend serves queries for one or more information categories. Category
// routing selects the backend; the params carry category-specific filters.
type Backend interface {
	Query(ctx context.Context, params map[string]any) ([]Record, error)
}

// FuncBackend adapts a query function to the Backend interface. Used for
// in-process categories whose data lives in another subsystem.
type FuncBackend func(ctx context.Context, params map[string]any) ([]Record, error)

func (f FuncBackend) Query(ctx context.Context, params map[string]any) ([]Record, error) {
	return f(ctx, params)
}

// SpectrumBackend is the narrow interface for spectrum operations beyond
// plain queries.
type SpectrumBackend interface {
	Backend

	// CheckConflicts returns the allocations overlapping the given range,
	// time window, and area.
	CheckConflicts(ctx context.Context, freqMinMHz, freqMaxMHz float64, start, end time.Time, area string) ([]Record, error)

	// CreateAllocation records a new frequency allocation and returns it.
	CreateAllocation(ctx context.Context, allocation Record) (Record, error)

	// FindAvailable returns candidate ranges of the requested bandwidth.
	FindAvailable(ctx context.Context, bandwidthMHz float64, start, end time.Time, area string) ([]Record, error)
}

// AssetBackend is the narrow interface for asset reservation.
type AssetBackend interface {
	Backend

	// QueryAvailability returns assets matching the types and capabilities
	// that are free in the window.
	QueryAvailability(ctx context.Context, assetTypes []string, start, end time.Time, capabilities []string) ([]Record, error)

	// Reserve books an asset for a mission. Denials return ErrReservationDenied.
	Reserve(ctx context.Context, assetID, missionID string, start, end time.Time) (Record, error)
}
