// Package improve records process-improvement flags, auto-detects common
// inefficiencies from procedure telemetry, and mines recurring patterns
// across tasking cycles.
package improve

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aether-os/aether/pkg/ems"
)

// Flag is one recorded process deviation. Append-only; flags are never
// updated or removed once logged.
type Flag struct {
	ID                   string               `json:"id"`
	Seq                  int64                `json:"seq"`
	CycleID              string               `json:"cycle_id"`
	Phase                ems.Phase            `json:"phase"`
	AgentID              string               `json:"agent_id"`
	Workflow             string               `json:"workflow"`
	Type                 ems.InefficiencyType `json:"type"`
	Description          string               `json:"description"`
	TimeWastedHours      float64              `json:"time_wasted_hours,omitempty"`
	SuggestedImprovement string               `json:"suggested_improvement,omitempty"`
	CreatedAt            time.Time            `json:"created_at"`
}

// FlagInput is the caller-supplied portion of a flag; ID, Seq, and CreatedAt
// are assigned by the logger.
type FlagInput struct {
	CycleID              string
	Phase                ems.Phase
	AgentID              string
	Workflow             string
	Type                 ems.InefficiencyType
	Description          string
	TimeWastedHours      float64
	SuggestedImprovement string
}

// FlagSink receives a copy of every logged flag for best-effort persistence.
type FlagSink interface {
	RecordFlag(flag Flag)
}

// FlagFilter narrows Flags results. Zero values match everything.
type FlagFilter struct {
	CycleID string
	AgentID string
	Phase   ems.Phase
	Type    ems.InefficiencyType
}

// Logger is the append-only flag log. Flags carry process-wide monotonic
// sequence numbers; concurrent writers are serialized under one lock.
type Logger struct {
	sink   FlagSink
	logger *slog.Logger

	mu    sync.RWMutex
	seq   int64
	flags []Flag
}

// NewLogger creates an empty flag log. sink may be nil.
func NewLogger(sink FlagSink) *Logger {
	return &Logger{
		sink:   sink,
		logger: slog.With("component", "improve"),
	}
}

// Flag appends one flag, assigning its ID and sequence number.
func (l *Logger) Flag(input FlagInput) (Flag, error) {
	if !input.Type.IsValid() {
		return Flag{}, fmt.Errorf("%w: %s", ErrUnknownInefficiency, input.Type)
	}

	l.mu.Lock()
	l.seq++
	flag := Flag{
		ID:                   fmt.Sprintf("FLAG-%06d", l.seq),
		Seq:                  l.seq,
		CycleID:              input.CycleID,
		Phase:                input.Phase,
		AgentID:              input.AgentID,
		Workflow:             input.Workflow,
		Type:                 input.Type,
		Description:          input.Description,
		TimeWastedHours:      input.TimeWastedHours,
		SuggestedImprovement: input.SuggestedImprovement,
		CreatedAt:            time.Now().UTC(),
	}
	l.flags = append(l.flags, flag)
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.RecordFlag(flag)
	}
	l.logger.Info("Process improvement flag raised",
		"flag_id", flag.ID, "type", flag.Type, "agent", flag.AgentID,
		"workflow", flag.Workflow, "cycle", flag.CycleID)
	return flag, nil
}

// Flags returns the flags matching the filter, in sequence order.
func (l *Logger) Flags(filter FlagFilter) []Flag {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Flag, 0, len(l.flags))
	for _, flag := range l.flags {
		if filter.CycleID != "" && flag.CycleID != filter.CycleID {
			continue
		}
		if filter.AgentID != "" && flag.AgentID != filter.AgentID {
			continue
		}
		if filter.Phase != "" && flag.Phase != filter.Phase {
			continue
		}
		if filter.Type != "" && flag.Type != filter.Type {
			continue
		}
		out = append(out, flag)
	}
	return out
}

// Len returns the total flag count.
func (l *Logger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.flags)
}
