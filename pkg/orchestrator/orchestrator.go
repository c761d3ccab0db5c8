// Package orchestrator owns the single active ATO cycle: its phase, the
// wall-clock schedule driving transitions, and the subscriber fan-out that
// lets the kernel (de)activate agents as phases change.
package orchestrator

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/ems"
)

// Event types emitted to subscribers.
const (
	EventCycleStarted   = "cycle_started"
	EventCycleCompleted = "cycle_completed"
	EventCycleCancelled = "cycle_cancelled"
	EventPhaseEntered   = "phase_entered"
	EventPhaseExited    = "phase_exited"
)

// Event is one lifecycle notification. Events for a cycle are delivered in a
// single serial order.
type Event struct {
	Type    string    `json:"type"`
	CycleID string    `json:"cycle_id"`
	Phase   ems.Phase `json:"phase,omitempty"`
	At      time.Time `json:"at"`
}

// Handler receives events synchronously in registration order. A panicking
// handler is recovered and logged; it never aborts the transition.
type Handler func(Event)

// Options tunes the orchestrator.
type Options struct {
	// Clock supplies the current time; nil uses time.Now. Tests inject a
	// fake clock here.
	Clock func() time.Time
	// MonitorInterval is the background tick period (default 60s).
	MonitorInterval time.Duration
}

// Orchestrator drives phase transitions for the single active cycle, either
// from the wall clock (Tick, the monitor goroutine) or by explicit Advance.
type Orchestrator struct {
	schedule ems.Schedule
	clock    func() time.Time
	interval time.Duration
	logger   *slog.Logger

	mu          sync.RWMutex
	current     *ATOCycle
	archive     []*ATOCycle
	cycleSerial int
	subscribers []Handler

	monitorStop chan struct{}
	monitorOnce sync.Once
	monitorWG   sync.WaitGroup
}

// New creates an orchestrator over the given schedule. A nil or empty
// schedule uses the built-in 72-hour default.
func New(schedule ems.Schedule, opts Options) *Orchestrator {
	if len(schedule) == 0 {
		schedule = ems.DefaultSchedule()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := opts.MonitorInterval
	if interval <= 0 {
		interval = config.DefaultMonitorInterval
	}
	return &Orchestrator{
		schedule:    schedule,
		clock:       clock,
		interval:    interval,
		logger:      slog.With("component", "orchestrator"),
		monitorStop: make(chan struct{}),
	}
}

// Schedule returns the phase schedule in effect.
func (o *Orchestrator) Schedule() ems.Schedule {
	return o.schedule
}

// Subscribe registers a handler for lifecycle events. Handlers run
// synchronously in registration order during the transition.
func (o *Orchestrator) Subscribe(handler Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, handler)
}

// StartCycle begins a new cycle in PHASE1_OEG at offset zero. An empty ID is
// auto-generated. Fails with ErrCycleActive while a cycle runs unless
// cancelActive is set, which cancels and archives the running cycle first.
func (o *Orchestrator) StartCycle(id string, cancelActive bool) (*ATOCycle, error) {
	o.mu.Lock()
	now := o.clock()
	var emitted []Event

	if o.current != nil && o.current.Status == StatusActive {
		if !cancelActive {
			o.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrCycleActive, o.current.ID)
		}
		o.current.close(StatusCancelled, now)
		o.archive = append(o.archive, o.current)
		emitted = append(emitted, Event{Type: EventCycleCancelled, CycleID: o.current.ID, Phase: o.current.CurrentPhase, At: now})
		o.logger.Info("Active cycle cancelled for restart", "cycle", o.current.ID)
	}

	if id == "" {
		o.cycleSerial++
		id = fmt.Sprintf("ATO-%04d", o.cycleSerial)
	}
	o.current = newCycle(id, now)
	emitted = append(emitted,
		Event{Type: EventCycleStarted, CycleID: id, At: now},
		Event{Type: EventPhaseEntered, CycleID: id, Phase: ems.PhaseOEG, At: now},
	)
	snapshot := o.current.snapshot()
	o.mu.Unlock()

	o.emit(emitted)
	o.logger.Info("ATO cycle started", "cycle", id)
	return snapshot, nil
}

// CurrentCycle returns a snapshot of the active cycle.
func (o *Orchestrator) CurrentCycle() (*ATOCycle, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil || o.current.Status != StatusActive {
		return nil, ErrNoActiveCycle
	}
	return o.current.snapshot(), nil
}

// CurrentPhase returns the active cycle's phase.
func (o *Orchestrator) CurrentPhase() (ems.Phase, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil || o.current.Status != StatusActive {
		return "", ErrNoActiveCycle
	}
	return o.current.CurrentPhase, nil
}

// PhaseOrDefault returns the current phase, or OEG when no cycle is active.
// Used as the broker's phase source.
func (o *Orchestrator) PhaseOrDefault() ems.Phase {
	phase, err := o.CurrentPhase()
	if err != nil {
		return ems.PhaseOEG
	}
	return phase
}

// Advance moves the cycle to the next phase of the transition graph.
// Advancing out of assessment completes the cycle and starts its successor.
func (o *Orchestrator) Advance() (ems.Phase, error) {
	o.mu.Lock()
	if o.current == nil || o.current.Status != StatusActive {
		o.mu.Unlock()
		return "", ErrNoActiveCycle
	}
	now := o.clock()
	from := o.current.CurrentPhase
	next := from.Next()
	if next == "" {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: no successor for %s", ErrIllegalTransition, from)
	}

	var emitted []Event
	cycleID := o.current.ID
	if from == ems.PhaseAssessment {
		// Wrap edge: the cycle is done; its successor begins at OEG.
		o.current.close(StatusCompleted, now)
		o.archive = append(o.archive, o.current)
		emitted = append(emitted,
			Event{Type: EventPhaseExited, CycleID: cycleID, Phase: from, At: now},
			Event{Type: EventCycleCompleted, CycleID: cycleID, At: now},
		)
		o.cycleSerial++
		newID := fmt.Sprintf("ATO-%04d", o.cycleSerial)
		o.current = newCycle(newID, now)
		emitted = append(emitted,
			Event{Type: EventCycleStarted, CycleID: newID, At: now},
			Event{Type: EventPhaseEntered, CycleID: newID, Phase: ems.PhaseOEG, At: now},
		)
	} else {
		o.current.enterPhase(next, now)
		emitted = append(emitted,
			Event{Type: EventPhaseExited, CycleID: cycleID, Phase: from, At: now},
			Event{Type: EventPhaseEntered, CycleID: cycleID, Phase: next, At: now},
		)
	}
	o.mu.Unlock()

	o.emit(emitted)
	o.logger.Info("Phase advanced", "cycle", cycleID, "from", from, "to", next)
	return next, nil
}

// Override authorizes a non-critical phase skip.
type Override struct {
	ApprovedBy string
	Reason     string
}

// SkipTo jumps the cycle forward to a later phase. Jumps over a critical
// phase are forbidden; any skip requires an explicit override, recorded on
// the cycle.
func (o *Orchestrator) SkipTo(target ems.Phase, override *Override) (ems.Phase, error) {
	if !target.IsValid() {
		return "", fmt.Errorf("%w: unknown phase %q", ErrIllegalTransition, target)
	}
	o.mu.Lock()
	if o.current == nil || o.current.Status != StatusActive {
		o.mu.Unlock()
		return "", ErrNoActiveCycle
	}
	from := o.current.CurrentPhase
	if target.Order() <= from.Order() {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, target)
	}
	if target == from.Next() {
		o.mu.Unlock()
		return o.Advance()
	}

	var skipped []ems.Phase
	for p := from.Next(); p != target; p = p.Next() {
		if spec, ok := o.schedule.Spec(p); ok && spec.Critical {
			o.mu.Unlock()
			return "", fmt.Errorf("%w: %s", ErrCriticalSkip, p)
		}
		skipped = append(skipped, p)
	}
	if override == nil || override.ApprovedBy == "" {
		o.mu.Unlock()
		return "", fmt.Errorf("%w: skipping %v", ErrOverrideRequired, skipped)
	}

	now := o.clock()
	cycleID := o.current.ID
	o.current.Overrides = append(o.current.Overrides, SkipRecord{
		From: from, To: target, Skipped: skipped,
		ApprovedBy: override.ApprovedBy, Reason: override.Reason, At: now,
	})
	o.current.enterPhase(target, now)
	emitted := []Event{
		{Type: EventPhaseExited, CycleID: cycleID, Phase: from, At: now},
		{Type: EventPhaseEntered, CycleID: cycleID, Phase: target, At: now},
	}
	o.mu.Unlock()

	o.emit(emitted)
	o.logger.Warn("Phase skip override applied",
		"cycle", cycleID, "from", from, "to", target,
		"skipped", skipped, "approved_by", override.ApprovedBy)
	return target, nil
}

// Tick reconciles the phase with the wall clock. The scheduled phase is
// computed from (now - cycle start), never from accumulated deltas, so a
// repeated Tick with the same now is a no-op and clock skew self-corrects.
// The cycle holds in assessment until an explicit Advance or restart.
func (o *Orchestrator) Tick(now time.Time) []Event {
	o.mu.Lock()
	if o.current == nil || o.current.Status != StatusActive {
		o.mu.Unlock()
		return nil
	}
	scheduled, ok := o.schedule.At(now.Sub(o.current.StartedAt))
	if !ok || scheduled.Order() <= o.current.CurrentPhase.Order() {
		o.mu.Unlock()
		return nil
	}

	cycleID := o.current.ID
	var emitted []Event
	for o.current.CurrentPhase != scheduled {
		from := o.current.CurrentPhase
		o.current.enterPhase(from.Next(), now)
		emitted = append(emitted,
			Event{Type: EventPhaseExited, CycleID: cycleID, Phase: from, At: now},
			Event{Type: EventPhaseEntered, CycleID: cycleID, Phase: o.current.CurrentPhase, At: now},
		)
	}
	o.mu.Unlock()

	o.emit(emitted)
	if len(emitted) > 0 {
		o.logger.Info("Scheduled phase transition", "cycle", cycleID, "phase", scheduled)
	}
	return emitted
}

// RecordOutput stores one key output under the given phase of the active cycle.
func (o *Orchestrator) RecordOutput(phase ems.Phase, key string, value any) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil || o.current.Status != StatusActive {
		return ErrNoActiveCycle
	}
	if o.current.Outputs[phase] == nil {
		o.current.Outputs[phase] = make(map[string]any)
	}
	o.current.Outputs[phase][key] = value
	return nil
}

// Summary describes the active cycle for status surfaces.
type Summary struct {
	CycleID      string                       `json:"cycle_id"`
	Status       string                       `json:"status"`
	Phase        ems.Phase                    `json:"phase"`
	StartedAt    time.Time                    `json:"started_at"`
	Elapsed      time.Duration                `json:"elapsed"`
	PhaseHistory []PhaseRecord                `json:"phase_history"`
	Outputs      map[ems.Phase]map[string]any `json:"outputs,omitempty"`
}

// CycleSummary reports the active cycle's progress.
func (o *Orchestrator) CycleSummary() (*Summary, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.current == nil || o.current.Status != StatusActive {
		return nil, ErrNoActiveCycle
	}
	snapshot := o.current.snapshot()
	return &Summary{
		CycleID:      snapshot.ID,
		Status:       snapshot.Status,
		Phase:        snapshot.CurrentPhase,
		StartedAt:    snapshot.StartedAt,
		Elapsed:      o.clock().Sub(snapshot.StartedAt),
		PhaseHistory: snapshot.History,
		Outputs:      snapshot.Outputs,
	}, nil
}

// ArchivedCycles returns snapshots of completed and cancelled cycles, oldest
// first.
func (o *Orchestrator) ArchivedCycles() []*ATOCycle {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*ATOCycle, len(o.archive))
	for i, c := range o.archive {
		out[i] = c.snapshot()
	}
	return out
}

// StartMonitor launches the background goroutine that ticks the schedule.
func (o *Orchestrator) StartMonitor() {
	o.monitorWG.Add(1)
	go func() {
		defer o.monitorWG.Done()
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		for {
			select {
			case <-o.monitorStop:
				return
			case <-ticker.C:
				o.Tick(o.clock())
			}
		}
	}()
	o.logger.Info("Phase monitor started", "interval", o.interval)
}

// StopMonitor stops the background monitor. Safe to call more than once.
func (o *Orchestrator) StopMonitor() {
	o.monitorOnce.Do(func() {
		close(o.monitorStop)
	})
	o.monitorWG.Wait()
}

// emit delivers events to subscribers in registration order, outside the
// state lock. A panicking handler is recovered and logged.
func (o *Orchestrator) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	o.mu.RLock()
	handlers := append([]Handler(nil), o.subscribers...)
	o.mu.RUnlock()

	for _, event := range events {
		for _, handler := range handlers {
			o.deliver(handler, event)
		}
	}
}

func (o *Orchestrator) deliver(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("Event handler panicked",
				"event", event.Type, "cycle", event.CycleID, "panic", r)
		}
	}()
	handler(event)
}
