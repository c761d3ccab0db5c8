// Package e2e runs full ATO cycle scenarios through the kernel over
// in-memory backends: no database, no network, no provider credentials.
package e2e

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aether-os/aether/pkg/authz"
	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/doctrine"
	"github.com/aether-os/aether/pkg/embedding"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/improve"
	"github.com/aether-os/aether/pkg/kernel"
	"github.com/aether-os/aether/pkg/orchestrator"
	"github.com/aether-os/aether/pkg/policy"
	"github.com/aether-os/aether/pkg/provision"
	"github.com/aether-os/aether/pkg/sanitize"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 25, 6, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// system is one fully wired in-memory AetherOS instance.
type system struct {
	Kernel  *kernel.Kernel
	Clock   *fakeClock
	Broker  *broker.Broker
	Trail   *broker.AuditTrail
	Tracker *provision.Tracker
}

var doctrineCorpus = []doctrine.Document{
	{ID: "jp-3-85", Content: "Develop EMS strategy from commander guidance with objectives and desired effects for spectrum superiority."},
	{ID: "jfc-targeting", Content: "Target development nominates emitters and integrated air defense nodes for electromagnetic attack."},
	{ID: "spectrum-management", Content: "Frequency allocation requests are deconflicted against existing assignments before approval."},
}

// newSystem builds a kernel over in-memory backends, with the built-in
// mission agents registered but no cycle started.
func newSystem(t *testing.T) *system {
	t.Helper()
	clock := newFakeClock()
	builtin := config.GetBuiltinConfig()
	profiles := config.NewProfileRegistry(builtin.Profiles)
	policies := config.NewPolicyRegistry(builtin.Policies)

	orch := orchestrator.New(nil, orchestrator.Options{Clock: clock.Now})

	engine := embedding.NewHashEngine()
	kb := doctrine.NewMemoryKB(engine)
	require.NoError(t, kb.AddBatch(context.Background(), doctrineCorpus))

	trail := broker.NewAuditTrail(nil)
	brk := broker.New(profiles, policies, sanitize.NewService(), trail, orch.PhaseOrDefault)
	brk.SetBackend(ems.CategoryDoctrine, &broker.DoctrineBackend{KB: kb})
	brk.SetBackend(ems.CategoryThreatData, broker.NewMemoryBackend(broker.SampleThreatRecords()))
	brk.SetBackend(ems.CategorySpectrumAllocation, broker.NewMemorySpectrumBackend())
	brk.SetBackend(ems.CategoryAssetStatus, broker.NewMemoryAssetBackend())

	flags := improve.NewLogger(nil)
	tracker := provision.NewTracker(engine, config.DefaultRelevanceThreshold, nil)

	k := kernel.New(kernel.Deps{
		Profiles:     profiles,
		Orchestrator: orch,
		Broker:       brk,
		Authz: authz.New(profiles, policies, orch.PhaseOrDefault,
			func() string { return "" }, kb, policy.Static{Decision: true}, false),
		Flags:    flags,
		Detector: improve.NewDetector(flags, improve.DefaultThresholds()),
		Embedder: engine,
		Tracker:  tracker,
		Clock:    clock.Now,
	})
	t.Cleanup(k.Shutdown)

	builtins := ems.BuiltinProfiles()
	for _, id := range []string{
		ems.AgentEMSStrategy,
		ems.AgentSpectrumManager,
		ems.AgentEWPlanner,
		ems.AgentATOProducer,
		ems.AgentAssessment,
	} {
		require.NoError(t, k.RegisterAgent(builtins[id]))
	}

	return &system{Kernel: k, Clock: clock, Broker: brk, Trail: trail, Tracker: tracker}
}

// startAt advances the active cycle to the target phase, starting one
// first if none is running.
func (s *system) startAt(t *testing.T, cycleID string, target ems.Phase) {
	t.Helper()
	if _, err := s.Kernel.CurrentCycle(); err != nil {
		_, err = s.Kernel.StartCycle(cycleID, false)
		require.NoError(t, err)
	}
	for s.Kernel.CurrentPhase() != target {
		_, err := s.Kernel.AdvancePhase()
		require.NoError(t, err)
	}
}
