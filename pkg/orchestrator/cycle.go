package orchestrator

import (
	"time"

	"github.com/aether-os/aether/pkg/ems"
)

// Cycle statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// PhaseRecord is one phase-history entry. ExitedAt is zero while the phase
// is current.
type PhaseRecord struct {
	Phase     ems.Phase `json:"phase"`
	EnteredAt time.Time `json:"entered_at"`
	ExitedAt  time.Time `json:"exited_at,omitempty"`
}

// SkipRecord audits an explicit phase-skip override.
type SkipRecord struct {
	From       ems.Phase   `json:"from"`
	To         ems.Phase   `json:"to"`
	Skipped    []ems.Phase `json:"skipped"`
	ApprovedBy string      `json:"approved_by"`
	Reason     string      `json:"reason"`
	At         time.Time   `json:"at"`
}

// ATOCycle is one 72-hour tasking cycle. The orchestrator is the single
// writer; callers receive snapshots.
type ATOCycle struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at,omitempty"`
	CurrentPhase ems.Phase `json:"current_phase"`
	PhaseStart   time.Time `json:"phase_start"`

	History   []PhaseRecord                    `json:"history"`
	Overrides []SkipRecord                     `json:"overrides,omitempty"`
	Outputs   map[ems.Phase]map[string]any     `json:"outputs,omitempty"`
}

func newCycle(id string, now time.Time) *ATOCycle {
	return &ATOCycle{
		ID:           id,
		Status:       StatusActive,
		StartedAt:    now,
		CurrentPhase: ems.PhaseOEG,
		PhaseStart:   now,
		History:      []PhaseRecord{{Phase: ems.PhaseOEG, EnteredAt: now}},
		Outputs:      make(map[ems.Phase]map[string]any),
	}
}

// enterPhase closes the current history entry and opens the next.
func (c *ATOCycle) enterPhase(phase ems.Phase, now time.Time) {
	if n := len(c.History); n > 0 && c.History[n-1].ExitedAt.IsZero() {
		c.History[n-1].ExitedAt = now
	}
	c.CurrentPhase = phase
	c.PhaseStart = now
	c.History = append(c.History, PhaseRecord{Phase: phase, EnteredAt: now})
}

// close finalizes the cycle with the given status.
func (c *ATOCycle) close(status string, now time.Time) {
	if n := len(c.History); n > 0 && c.History[n-1].ExitedAt.IsZero() {
		c.History[n-1].ExitedAt = now
	}
	c.Status = status
	c.EndedAt = now
}

// snapshot returns a deep copy safe to hand to callers.
func (c *ATOCycle) snapshot() *ATOCycle {
	copied := *c
	copied.History = append([]PhaseRecord(nil), c.History...)
	copied.Overrides = append([]SkipRecord(nil), c.Overrides...)
	copied.Outputs = make(map[ems.Phase]map[string]any, len(c.Outputs))
	for phase, outputs := range c.Outputs {
		inner := make(map[string]any, len(outputs))
		for k, v := range outputs {
			inner[k] = v
		}
		copied.Outputs[phase] = inner
	}
	return &copied
}
