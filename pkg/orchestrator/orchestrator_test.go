package orchestrator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aether-os/aether/pkg/ems"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	return New(nil, Options{Clock: clock.Now}), clock
}

func TestStartCycle(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	cycle, err := o.StartCycle("", false)
	require.NoError(t, err)
	assert.Equal(t, "ATO-0001", cycle.ID)
	assert.Equal(t, StatusActive, cycle.Status)
	assert.Equal(t, ems.PhaseOEG, cycle.CurrentPhase)
	require.Len(t, cycle.History, 1)

	t.Run("second start without cancel fails", func(t *testing.T) {
		_, err := o.StartCycle("", false)
		assert.ErrorIs(t, err, ErrCycleActive)
	})

	t.Run("restart cancels and archives", func(t *testing.T) {
		next, err := o.StartCycle("ATO-9000", true)
		require.NoError(t, err)
		assert.Equal(t, "ATO-9000", next.ID)

		archived := o.ArchivedCycles()
		require.Len(t, archived, 1)
		assert.Equal(t, "ATO-0001", archived[0].ID)
		assert.Equal(t, StatusCancelled, archived[0].Status)
		assert.False(t, archived[0].EndedAt.IsZero())
	})
}

func TestAdvance_WalksTheGraph(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.StartCycle("", false)
	require.NoError(t, err)

	expected := []ems.Phase{
		ems.PhaseTargetDevelopment,
		ems.PhaseWeaponeering,
		ems.PhaseATOProduction,
		ems.PhaseExecution,
		ems.PhaseAssessment,
	}
	for _, want := range expected {
		got, err := o.Advance()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// Advancing out of assessment completes the cycle and starts the next
	got, err := o.Advance()
	require.NoError(t, err)
	assert.Equal(t, ems.PhaseOEG, got)

	current, err := o.CurrentCycle()
	require.NoError(t, err)
	assert.Equal(t, "ATO-0002", current.ID)

	archived := o.ArchivedCycles()
	require.Len(t, archived, 1)
	assert.Equal(t, StatusCompleted, archived[0].Status)
	assert.Len(t, archived[0].History, 6)
}

func TestAdvance_NoActiveCycle(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.Advance()
	assert.ErrorIs(t, err, ErrNoActiveCycle)
	_, err = o.CurrentPhase()
	assert.ErrorIs(t, err, ErrNoActiveCycle)
	assert.Equal(t, ems.PhaseOEG, o.PhaseOrDefault())
}

func TestTick_ScheduledTransitions(t *testing.T) {
	o, clock := newTestOrchestrator(t)
	start := clock.Now()
	_, err := o.StartCycle("", false)
	require.NoError(t, err)

	t.Run("before first boundary nothing happens", func(t *testing.T) {
		events := o.Tick(start.Add(5 * time.Hour))
		assert.Empty(t, events)
	})

	t.Run("boundary crossing emits exit and enter", func(t *testing.T) {
		events := o.Tick(start.Add(6 * time.Hour))
		require.Len(t, events, 2)
		assert.Equal(t, EventPhaseExited, events[0].Type)
		assert.Equal(t, ems.PhaseOEG, events[0].Phase)
		assert.Equal(t, EventPhaseEntered, events[1].Type)
		assert.Equal(t, ems.PhaseTargetDevelopment, events[1].Phase)
	})

	t.Run("same now is idempotent", func(t *testing.T) {
		assert.Empty(t, o.Tick(start.Add(6*time.Hour)))
	})

	t.Run("large jump walks every intermediate phase", func(t *testing.T) {
		// 31h lands in execution: target_development -> weaponeering ->
		// ato_production -> execution, each with an exit/enter pair
		events := o.Tick(start.Add(31 * time.Hour))
		require.Len(t, events, 6)
		phase, err := o.CurrentPhase()
		require.NoError(t, err)
		assert.Equal(t, ems.PhaseExecution, phase)
	})

	t.Run("past cycle end holds in assessment", func(t *testing.T) {
		o.Tick(start.Add(80 * time.Hour))
		phase, err := o.CurrentPhase()
		require.NoError(t, err)
		assert.Equal(t, ems.PhaseAssessment, phase)
		assert.Empty(t, o.Tick(start.Add(200*time.Hour)))
	})

	t.Run("earlier clock reading does not regress", func(t *testing.T) {
		assert.Empty(t, o.Tick(start.Add(2*time.Hour)))
		phase, err := o.CurrentPhase()
		require.NoError(t, err)
		assert.Equal(t, ems.PhaseAssessment, phase)
	})
}

func TestSkipTo(t *testing.T) {
	t.Run("critical phase cannot be skipped", func(t *testing.T) {
		o, _ := newTestOrchestrator(t)
		_, err := o.StartCycle("", false)
		require.NoError(t, err)
		_, err = o.Advance() // target development
		require.NoError(t, err)

		// weaponeering and ato_production are critical
		_, err = o.SkipTo(ems.PhaseExecution, &Override{ApprovedBy: "col_rivera", Reason: "exercise"})
		assert.ErrorIs(t, err, ErrCriticalSkip)
	})

	t.Run("non-critical skip needs an override", func(t *testing.T) {
		o, _ := newTestOrchestrator(t)
		_, err := o.StartCycle("", false)
		require.NoError(t, err)

		// OEG -> weaponeering skips only target_development (non-critical)
		_, err = o.SkipTo(ems.PhaseWeaponeering, nil)
		assert.ErrorIs(t, err, ErrOverrideRequired)

		phase, err := o.SkipTo(ems.PhaseWeaponeering, &Override{ApprovedBy: "col_rivera", Reason: "compressed timeline"})
		require.NoError(t, err)
		assert.Equal(t, ems.PhaseWeaponeering, phase)

		cycle, err := o.CurrentCycle()
		require.NoError(t, err)
		require.Len(t, cycle.Overrides, 1)
		assert.Equal(t, []ems.Phase{ems.PhaseTargetDevelopment}, cycle.Overrides[0].Skipped)
		assert.Equal(t, "col_rivera", cycle.Overrides[0].ApprovedBy)
	})

	t.Run("backward skip is illegal", func(t *testing.T) {
		o, _ := newTestOrchestrator(t)
		_, err := o.StartCycle("", false)
		require.NoError(t, err)
		_, err = o.Advance()
		require.NoError(t, err)

		_, err = o.SkipTo(ems.PhaseOEG, &Override{ApprovedBy: "x"})
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})
}

func TestSubscribe_OrderAndPanicIsolation(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	var mu sync.Mutex
	var order []string
	o.Subscribe(func(e Event) {
		mu.Lock()
		order = append(order, "first:"+e.Type)
		mu.Unlock()
	})
	o.Subscribe(func(e Event) {
		panic("subscriber bug")
	})
	o.Subscribe(func(e Event) {
		mu.Lock()
		order = append(order, "third:"+e.Type)
		mu.Unlock()
	})

	_, err := o.StartCycle("", false)
	require.NoError(t, err)
	_, err = o.Advance()
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	// cycle_started, phase_entered, then phase_exited + phase_entered from
	// the advance; the panicking middle handler never blocks the third.
	require.GreaterOrEqual(t, len(order), 8)
	assert.Equal(t, "first:"+EventCycleStarted, order[0])
	assert.Equal(t, "third:"+EventCycleStarted, order[1])
}

func TestRecordOutputAndSummary(t *testing.T) {
	o, clock := newTestOrchestrator(t)
	_, err := o.StartCycle("", false)
	require.NoError(t, err)

	require.NoError(t, o.RecordOutput(ems.PhaseOEG, "ems_strategy", map[string]any{"objectives": 3}))
	clock.Set(clock.Now().Add(2 * time.Hour))

	summary, err := o.CycleSummary()
	require.NoError(t, err)
	assert.Equal(t, "ATO-0001", summary.CycleID)
	assert.Equal(t, ems.PhaseOEG, summary.Phase)
	assert.Equal(t, 2*time.Hour, summary.Elapsed)
	assert.Contains(t, summary.Outputs[ems.PhaseOEG], "ems_strategy")
}

func TestMonitor_StopIsIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	o := New(nil, Options{Clock: clock.Now, MonitorInterval: time.Millisecond})
	_, err := o.StartCycle("", false)
	require.NoError(t, err)

	o.StartMonitor()
	clock.Set(clock.Now().Add(7 * time.Hour))

	deadline := time.After(2 * time.Second)
	for {
		phase, err := o.CurrentPhase()
		require.NoError(t, err)
		if phase == ems.PhaseTargetDevelopment {
			break
		}
		select {
		case <-deadline:
			t.Fatal("monitor never advanced the phase")
		case <-time.After(5 * time.Millisecond):
		}
	}

	o.StopMonitor()
	o.StopMonitor()
}
