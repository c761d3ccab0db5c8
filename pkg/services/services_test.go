package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/improve"
	"github.com/aether-os/aether/pkg/orchestrator"
	"github.com/aether-os/aether/pkg/provision"
	"github.com/aether-os/aether/test/util"
)

func testFlag(id string, seq int64) improve.Flag {
	return improve.Flag{
		ID:                   id,
		Seq:                  seq,
		CycleID:              "ATO-0001",
		Phase:                ems.PhaseWeaponeering,
		AgentID:              "ew_planner_agent",
		Workflow:             "deconfliction",
		Type:                 ems.InefficiencyInformationGap,
		Description:          "waited on spectrum data",
		TimeWastedHours:      2,
		SuggestedImprovement: "pre-provision allocations",
		CreatedAt:            time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestFlagService_RecordAndList(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewFlagService(db)
	ctx := context.Background()

	svc.RecordFlag(testFlag("flag-1", 1))
	second := testFlag("flag-2", 2)
	second.AgentID = "spectrum_manager_agent"
	second.Type = ems.InefficiencyAutomationOpportunity
	svc.RecordFlag(second)

	// Duplicate ID is a no-op.
	dup := testFlag("flag-1", 99)
	dup.Description = "changed"
	svc.RecordFlag(dup)

	flags, err := svc.ListFlags(ctx, FlagFilter{CycleID: "ATO-0001"})
	require.NoError(t, err)
	require.Len(t, flags, 2)

	// Newest first by sequence.
	assert.Equal(t, "flag-2", flags[0].ID)
	assert.Equal(t, "flag-1", flags[1].ID)
	assert.Equal(t, ems.PhaseWeaponeering, flags[1].Phase)
	assert.Equal(t, ems.InefficiencyInformationGap, flags[1].Type)
	assert.Equal(t, "waited on spectrum data", flags[1].Description)
	assert.InDelta(t, 2, flags[1].TimeWastedHours, 0.001)

	byAgent, err := svc.ListFlags(ctx, FlagFilter{AgentID: "spectrum_manager_agent"})
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, "flag-2", byAgent[0].ID)

	byType, err := svc.ListFlags(ctx, FlagFilter{Type: ems.InefficiencyAutomationOpportunity})
	require.NoError(t, err)
	require.Len(t, byType, 1)

	none, err := svc.ListFlags(ctx, FlagFilter{CycleID: "ATO-9999"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAuditService_RecordAndList(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewAuditService(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Millisecond)
	entries := []broker.AuditEntry{
		{
			Seq:          1,
			Timestamp:    base,
			AgentID:      "ew_planner_agent",
			Role:         ems.RoleEWPlanner,
			Category:     ems.CategoryThreatData,
			QuerySummary: "threats in sector 4",
			Decision:     broker.DecisionGranted,
			AccessLevel:  ems.AccessOperational,
			Sanitized:    true,
			Phase:        ems.PhaseWeaponeering,
		},
		{
			Seq:         2,
			Timestamp:   base.Add(time.Minute),
			AgentID:     "assessment_agent",
			Role:        ems.RoleAssessment,
			Category:    ems.CategoryMissionPlan,
			Decision:    broker.DecisionDenied,
			AccessLevel: ems.AccessSensitive,
		},
	}
	for _, e := range entries {
		svc.RecordAudit(e)
	}

	all, err := svc.ListAudit(ctx, broker.AuditFilter{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, uint64(2), all[0].Seq)

	byAgent, err := svc.ListAudit(ctx, broker.AuditFilter{AgentID: "ew_planner_agent"}, 0)
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	got := byAgent[0]
	assert.Equal(t, ems.CategoryThreatData, got.Category)
	assert.Equal(t, ems.AccessOperational, got.AccessLevel)
	assert.Equal(t, ems.PhaseWeaponeering, got.Phase)
	assert.True(t, got.Sanitized)
	assert.Equal(t, broker.DecisionGranted, got.Decision)

	since, err := svc.ListAudit(ctx, broker.AuditFilter{Since: base.Add(30 * time.Second)}, 0)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, "assessment_agent", since[0].AgentID)
}

func TestUsageService_RecordAndList(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewUsageService(db)
	svc.CycleIDFn = func() string { return "ATO-0002" }
	ctx := context.Background()

	svc.RecordUsage(provision.UsageEntry{
		Timestamp:       time.Now().UTC(),
		AgentID:         "ato_producer_agent",
		Phase:           string(ems.PhaseATOProduction),
		Task:            "assemble tasking order",
		Provisioned:     10,
		Referenced:      2,
		TokensUsed:      1800,
		TokenBudget:     9000,
		UtilizationRate: 0.2,
	})

	entries, err := svc.ListUsage(ctx, UsageFilter{AgentID: "ato_producer_agent"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 10, entries[0].Provisioned)
	assert.Equal(t, 2, entries[0].Referenced)
	assert.InDelta(t, 0.2, entries[0].UtilizationRate, 0.001)

	byCycle, err := svc.ListUsage(ctx, UsageFilter{CycleID: "ATO-0002"})
	require.NoError(t, err)
	assert.Len(t, byCycle, 1)

	none, err := svc.ListUsage(ctx, UsageFilter{AgentID: "evaluator_agent"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCycleService_SummaryLifecycle(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewCycleService(db)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Millisecond)
	summary := &orchestrator.Summary{
		CycleID:   "ATO-0001",
		Status:    orchestrator.StatusActive,
		Phase:     ems.PhaseOEG,
		StartedAt: started,
		PhaseHistory: []orchestrator.PhaseRecord{
			{Phase: ems.PhaseOEG, EnteredAt: started},
		},
	}
	require.NoError(t, svc.SaveSummary(ctx, summary))

	// Advancing updates the same row.
	summary.Phase = ems.PhaseTargetDevelopment
	summary.PhaseHistory = append(summary.PhaseHistory,
		orchestrator.PhaseRecord{Phase: ems.PhaseTargetDevelopment, EnteredAt: started.Add(time.Hour)})
	summary.Outputs = map[ems.Phase]map[string]any{
		ems.PhaseOEG: {"guidance": "suppress IADS in sector 4"},
	}
	require.NoError(t, svc.SaveSummary(ctx, summary))

	record, err := svc.GetCycle(ctx, "ATO-0001")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusActive, record.Status)
	assert.Equal(t, ems.PhaseTargetDevelopment, record.CurrentPhase)
	assert.Nil(t, record.EndTime)
	require.Len(t, record.PhaseHistory, 2)
	assert.Equal(t, ems.PhaseOEG, record.PhaseHistory[0].Phase)
	assert.Equal(t, "suppress IADS in sector 4", record.Outputs[ems.PhaseOEG]["guidance"])

	// Completion closes the row through the orchestrator handler.
	handler := svc.Handler(func() (*orchestrator.Summary, error) {
		return summary, nil
	})
	endedAt := started.Add(72 * time.Hour)
	handler(orchestrator.Event{
		Type:    orchestrator.EventCycleCompleted,
		CycleID: "ATO-0001",
		At:      endedAt,
	})

	record, err = svc.GetCycle(ctx, "ATO-0001")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.StatusCompleted, record.Status)
	require.NotNil(t, record.EndTime)
	assert.WithinDuration(t, endedAt, *record.EndTime, time.Second)

	list, err := svc.ListCycles(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	_, err = svc.GetCycle(ctx, "ATO-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCycleService_HandlerPersistsOnLifecycleEvents(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewCycleService(db)
	ctx := context.Background()

	started := time.Now().UTC()
	summary := &orchestrator.Summary{
		CycleID:   "ATO-0007",
		Status:    orchestrator.StatusActive,
		Phase:     ems.PhaseOEG,
		StartedAt: started,
		PhaseHistory: []orchestrator.PhaseRecord{
			{Phase: ems.PhaseOEG, EnteredAt: started},
		},
	}
	handler := svc.Handler(func() (*orchestrator.Summary, error) {
		return summary, nil
	})

	handler(orchestrator.Event{Type: orchestrator.EventCycleStarted, CycleID: "ATO-0007", At: started})

	record, err := svc.GetCycle(ctx, "ATO-0007")
	require.NoError(t, err)
	assert.Equal(t, ems.PhaseOEG, record.CurrentPhase)

	// Events for a different cycle than the live summary are ignored.
	handler(orchestrator.Event{Type: orchestrator.EventPhaseEntered, CycleID: "ATO-other", At: started})
	_, err = svc.GetCycle(ctx, "ATO-other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventService_AppendAndCatchup(t *testing.T) {
	db := util.SetupTestDatabase(t)
	svc := NewEventService(db)
	ctx := context.Background()

	id1, err := svc.Append(ctx, "cycle:ATO-0001", []byte(`{"type":"cycle.started","cycle_id":"ATO-0001"}`))
	require.NoError(t, err)
	id2, err := svc.Append(ctx, "cycle:ATO-0001", []byte(`{"type":"phase.changed","to":"PHASE2_TARGET_DEVELOPMENT"}`))
	require.NoError(t, err)
	id3, err := svc.Append(ctx, "cycles", []byte(`{"type":"pattern.detected"}`))
	require.NoError(t, err)
	assert.Less(t, id1, id2)
	assert.Less(t, id2, id3)

	// Since filters by channel and honors sinceID ordering.
	stored, err := svc.Since(ctx, "cycle:ATO-0001", 0, 50)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, id1, stored[0].ID)
	assert.Equal(t, id2, stored[1].ID)

	after, err := svc.Since(ctx, "cycle:ATO-0001", id1, 50)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, id2, after[0].ID)

	// Catchup decodes payloads; the denormalized cycle_id column is filled
	// from the channel name.
	catchup, err := svc.GetCatchupEvents(ctx, "cycle:ATO-0001", 0, 50)
	require.NoError(t, err)
	require.Len(t, catchup, 2)
	assert.Equal(t, "cycle.started", catchup[0].Payload["type"])

	var cycleID string
	err = db.QueryRowContext(ctx,
		`SELECT cycle_id FROM events WHERE id = $1`, id1).Scan(&cycleID)
	require.NoError(t, err)
	assert.Equal(t, "ATO-0001", cycleID)

	var globalCycleID string
	err = db.QueryRowContext(ctx,
		`SELECT cycle_id FROM events WHERE id = $1`, id3).Scan(&globalCycleID)
	require.NoError(t, err)
	assert.Empty(t, globalCycleID)
}
