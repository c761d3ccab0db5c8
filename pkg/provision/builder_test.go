package provision

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/doctrine"
	"github.com/aether-os/aether/pkg/embedding"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/sanitize"
)

type stubHistory struct{ records []SourceRecord }

func (s stubHistory) HistoricalRecords(string, int) []SourceRecord { return s.records }

type stubCollab struct{ records []SourceRecord }

func (s stubCollab) CollaborativeRecords(string, ems.Phase) []SourceRecord { return s.records }

func newTestProvisioner(t *testing.T, opts Options) (*Provisioner, *broker.Broker) {
	t.Helper()
	engine := embedding.NewHashEngine()
	kb := doctrine.NewMemoryKB(engine)
	require.NoError(t, kb.AddBatch(context.Background(), []doctrine.Document{
		{ID: "jp-3-85-ew", Content: "Electronic warfare mission planning requires deconfliction with friendly spectrum users and fratricide prevention measures before any electronic attack."},
		{ID: "jp-3-85-strategy", Content: "EMS strategy development translates commander guidance into joint electromagnetic spectrum operations objectives for the tasking cycle."},
		{ID: "jp-6-01-spectrum", Content: "Spectrum management assigns frequencies from the joint restricted frequency list and resolves allocation conflicts across the area of operations."},
	}))

	builtin := config.GetBuiltinConfig()
	profiles := config.NewProfileRegistry(builtin.Profiles)
	b := broker.New(
		profiles,
		config.NewPolicyRegistry(builtin.Policies),
		sanitize.NewService(),
		broker.NewAuditTrail(nil),
		func() ems.Phase { return ems.PhaseWeaponeering },
	)
	b.SetBackend(ems.CategoryDoctrine, &broker.DoctrineBackend{KB: kb})
	b.SetBackend(ems.CategoryThreatData, broker.NewMemoryBackend(broker.SampleThreatRecords()))
	b.SetBackend(ems.CategorySpectrumAllocation, broker.NewMemorySpectrumBackend())
	b.SetBackend(ems.CategoryAssetStatus, broker.NewMemoryAssetBackend())

	history := stubHistory{records: []SourceRecord{
		{SourceID: "ATO-0001", Content: "Prior cycle lesson: pre-coordinated jamming windows cut deconfliction time in half.", Relevance: 0.8},
	}}
	collab := stubCollab{records: []SourceRecord{
		{SourceID: "msg-17", Content: "spectrum_manager_agent: allocation ALLOC-001 holds 2700-2900 MHz through end of cycle.", Relevance: 0.7},
	}}
	return New(b, profiles, engine, history, collab, opts), b
}

func TestBuildContext_LayersAndInvariants(t *testing.T) {
	p, _ := newTestProvisioner(t, DefaultOptions())
	ctx := context.Background()

	window, err := p.BuildContext(ctx, ems.AgentEWPlanner, ems.PhaseWeaponeering, "plan EA missions against SA-10 site", 0)
	require.NoError(t, err)
	require.NoError(t, window.Validate())

	assert.Equal(t, config.DefaultTokenBudget, window.TokenBudget)
	assert.False(t, window.Degraded)
	assert.NotEmpty(t, window.Layers[LayerDoctrinal])
	assert.NotEmpty(t, window.Layers[LayerSituational])
	assert.NotEmpty(t, window.Layers[LayerHistorical])
	assert.NotEmpty(t, window.Layers[LayerCollaborative])
	assert.LessOrEqual(t, window.TotalTokens(), window.TokenBudget)

	for _, e := range window.Layers[LayerDoctrinal] {
		assert.True(t, strings.HasPrefix(e.ID, "DOC-"), "doctrinal element %s", e.ID)
	}
	// Situational mixes threat and mission kinds under one layer
	var sawThreat, sawMission bool
	for _, e := range window.Layers[LayerSituational] {
		switch {
		case strings.HasPrefix(e.ID, "THR-"):
			sawThreat = true
		case strings.HasPrefix(e.ID, "MSN-"):
			sawMission = true
		default:
			t.Errorf("unexpected situational element ID %s", e.ID)
		}
	}
	assert.True(t, sawThreat)
	assert.True(t, sawMission)

	// IDs are globally unique across the window
	seen := make(map[string]bool)
	for _, id := range window.ElementIDs() {
		assert.False(t, seen[id], "duplicate element ID %s", id)
		seen[id] = true
	}
}

func TestBuildContext_CacheAndRefresh(t *testing.T) {
	p, _ := newTestProvisioner(t, DefaultOptions())
	ctx := context.Background()
	const task = "plan EA missions"

	first, err := p.BuildContext(ctx, ems.AgentEWPlanner, ems.PhaseWeaponeering, task, 0)
	require.NoError(t, err)
	second, err := p.BuildContext(ctx, ems.AgentEWPlanner, ems.PhaseWeaponeering, task, 0)
	require.NoError(t, err)

	// A cache hit serves the same window content as an independent copy:
	// element IDs are stable, per-round state is not shared.
	assert.Equal(t, first.ElementIDs(), second.ElementIDs())
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.NotSame(t, first, second)

	require.NotEmpty(t, first.ElementIDs())
	require.NoError(t, first.Reference(first.ElementIDs()[0]))
	assert.Empty(t, second.ReferencedIDs())

	again, err := p.BuildContext(ctx, ems.AgentEWPlanner, ems.PhaseWeaponeering, task, 0)
	require.NoError(t, err)
	assert.Empty(t, again.ReferencedIDs())

	// A refresh rebuilds: fresh elements carry fresh IDs.
	p.Refresh(ems.AgentEWPlanner, ems.PhaseWeaponeering, task)
	third, err := p.BuildContext(ctx, ems.AgentEWPlanner, ems.PhaseWeaponeering, task, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.ElementIDs(), third.ElementIDs())

	p.InvalidateAll("phase transition")
	fourth, err := p.BuildContext(ctx, ems.AgentEWPlanner, ems.PhaseWeaponeering, task, 0)
	require.NoError(t, err)
	assert.NotEqual(t, third.ElementIDs(), fourth.ElementIDs())
}

func TestBuildContext_TightBudgetDegrades(t *testing.T) {
	p, _ := newTestProvisioner(t, DefaultOptions())

	// 40 tokens cannot hold even one doctrine snippet; the window must stay
	// within budget and report the thinned doctrinal layer.
	window, err := p.BuildContext(context.Background(), ems.AgentEWPlanner, ems.PhaseWeaponeering, "plan EA missions", 40)
	require.NoError(t, err)
	assert.LessOrEqual(t, window.TotalTokens(), 40)
	assert.True(t, window.Degraded)
}

func TestBuildContext_UnknownAgent(t *testing.T) {
	p, _ := newTestProvisioner(t, DefaultOptions())
	_, err := p.BuildContext(context.Background(), "no_such_agent", ems.PhaseWeaponeering, "task", 0)
	assert.Error(t, err)
}

func TestSelectGreedy_SkipsOversized(t *testing.T) {
	elements := []ContextElement{
		{ID: "DOC-1", RelevanceScore: 0.9, Tokens: 80},
		{ID: "DOC-2", RelevanceScore: 0.8, Tokens: 30},
		{ID: "DOC-3", RelevanceScore: 0.7, Tokens: 30},
	}
	selected := selectGreedy(elements, 70)

	// The most relevant element does not fit and is skipped whole, never
	// truncated; the next two fill the sub-budget.
	require.Len(t, selected, 2)
	assert.Equal(t, "DOC-2", selected[0].ID)
	assert.Equal(t, "DOC-3", selected[1].ID)
}

func TestPruneToBudget_Order(t *testing.T) {
	p, _ := newTestProvisioner(t, DefaultOptions())
	window := newAgentContext(ems.AgentEWPlanner, ems.PhaseWeaponeering, "task", 100)
	window.Layers[LayerDoctrinal] = []ContextElement{{ID: "DOC-1", Tokens: 60, RelevanceScore: 0.9}}
	window.Layers[LayerSituational] = []ContextElement{{ID: "THR-1", Tokens: 30, RelevanceScore: 0.8}}
	window.Layers[LayerHistorical] = []ContextElement{{ID: "HIST-1", Tokens: 30, RelevanceScore: 0.5}}
	window.Layers[LayerCollaborative] = []ContextElement{{ID: "COLL-1", Tokens: 30, RelevanceScore: 0.6}}

	p.pruneToBudget(window)

	// 150 tokens against 100: collaborative goes first, then historical.
	assert.LessOrEqual(t, window.TotalTokens(), 100)
	assert.Empty(t, window.Layers[LayerCollaborative])
	assert.Empty(t, window.Layers[LayerHistorical])
	assert.Len(t, window.Layers[LayerDoctrinal], 1)
	assert.Len(t, window.Layers[LayerSituational], 1)
}

func TestTemplateFor_Fallback(t *testing.T) {
	custom := TemplateFor(ems.PhaseWeaponeering, ems.RoleEWPlanner)
	assert.Equal(t, 0.45, custom.Split.Situational)
	assert.Equal(t, ThreatDetailFull, custom.ThreatDetailLevel)

	fallback := TemplateFor(ems.PhaseOEG, ems.RoleATOProducer)
	assert.Equal(t, DefaultSplit, fallback.Split)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
}

func TestIDFactory_PerKindCounters(t *testing.T) {
	f := NewIDFactory()
	assert.Equal(t, "DOC-1", f.Next(KindDoctrine))
	assert.Equal(t, "THR-1", f.Next(KindThreat))
	assert.Equal(t, "DOC-2", f.Next(KindDoctrine))
	assert.Equal(t, "HIST-1", f.Next(KindHistorical))
	assert.Equal(t, "COLL-1", f.Next(KindCollaborative))
	assert.Equal(t, "MSN-1", f.Next(KindMission))
}

func TestAgentContext_ReferenceInvariant(t *testing.T) {
	window := newAgentContext(ems.AgentEWPlanner, ems.PhaseWeaponeering, "task", 1000)
	window.Layers[LayerDoctrinal] = []ContextElement{{ID: "DOC-1", Tokens: 10}}

	require.NoError(t, window.Reference("DOC-1"))
	err := window.Reference("DOC-99")
	assert.ErrorIs(t, err, ErrUnknownElement)

	window.Referenced["THR-5"] = true
	var invariant *InvariantError
	require.ErrorAs(t, window.Validate(), &invariant)
	assert.Equal(t, "referenced-subset", invariant.Invariant)
}

func TestAgentContext_DuplicateIDRejected(t *testing.T) {
	window := newAgentContext(ems.AgentEWPlanner, ems.PhaseWeaponeering, "task", 1000)
	window.Layers[LayerDoctrinal] = []ContextElement{{ID: "DOC-1", Tokens: 10}}
	window.Layers[LayerHistorical] = []ContextElement{{ID: "DOC-1", Tokens: 10}}

	var invariant *InvariantError
	require.ErrorAs(t, window.Validate(), &invariant)
	assert.Equal(t, "unique-element-id", invariant.Invariant)
}

func TestRenderRecord_DetailLevels(t *testing.T) {
	record := broker.Record{
		"threat_id":   "THREAT-001",
		"threat_type": "SAM",
		"frequency":   "2900 MHz",
	}
	full := renderRecord("threat", record, true)
	assert.Contains(t, full, "frequency=2900 MHz")

	summary := renderRecord("threat", record, false)
	assert.Contains(t, summary, "threat_id=THREAT-001")
	assert.NotContains(t, summary, "frequency")
}

func TestBuildContext_BudgetsAreLayerScoped(t *testing.T) {
	p, _ := newTestProvisioner(t, DefaultOptions())
	window, err := p.BuildContext(context.Background(), ems.AgentEWPlanner, ems.PhaseWeaponeering, "plan EA missions", 0)
	require.NoError(t, err)

	template := TemplateFor(ems.PhaseWeaponeering, ems.RoleEWPlanner)
	for _, layer := range AllLayers() {
		tokens := 0
		for _, e := range window.Layers[layer] {
			tokens += e.Tokens
		}
		sub := template.Split.Of(layer, window.TokenBudget)
		assert.LessOrEqual(t, tokens, sub, fmt.Sprintf("layer %s over sub-budget", layer))
	}
}
