package improve

import (
	"fmt"
	"sync"

	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/ems"
)

// Thresholds tunes the auto-flag rules.
type Thresholds struct {
	// TimingFactor flags a procedure when elapsed > factor × expected.
	TimingFactor float64
	// CoordinationRoundTrips flags when one logical decision needs this many
	// round-trips to the same agent.
	CoordinationRoundTrips int
	// ConflictRate flags a cycle whose spectrum-conflict fraction exceeds it.
	ConflictRate float64
	// DenialRate flags a cycle whose asset-reservation denial fraction exceeds it.
	DenialRate float64
	// ManualSteps flags a workflow with more manual steps than this.
	ManualSteps int
	// MinRateSamples is how many observations a rate needs before it can flag.
	MinRateSamples int
}

// DefaultThresholds returns the built-in detection limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TimingFactor:           config.DefaultTimingFactor,
		CoordinationRoundTrips: 3,
		ConflictRate:           0.25,
		DenialRate:             0.25,
		ManualSteps:            5,
		MinRateSamples:         4,
	}
}

type roundTripKey struct {
	cycleID  string
	agentID  string
	peerID   string
	decision string
}

type rateKey struct {
	cycleID string
	kind    string
}

type manualKey struct {
	cycleID  string
	agentID  string
	workflow string
}

type rateCounter struct {
	total int
	hits  int
}

// Detector applies the auto-flag rules to procedure and coordination
// telemetry, raising flags through the logger. Rate rules flag at most once
// per cycle.
type Detector struct {
	log        *Logger
	thresholds Thresholds

	mu          sync.Mutex
	roundTrips  map[roundTripKey]int
	rates       map[rateKey]*rateCounter
	rateFired   map[rateKey]bool
	manualFired map[manualKey]bool
}

// NewDetector creates a detector writing through the given flag logger.
func NewDetector(log *Logger, thresholds Thresholds) *Detector {
	if thresholds.TimingFactor <= 0 {
		thresholds = DefaultThresholds()
	}
	return &Detector{
		log:         log,
		thresholds:  thresholds,
		roundTrips:  make(map[roundTripKey]int),
		rates:       make(map[rateKey]*rateCounter),
		rateFired:   make(map[rateKey]bool),
		manualFired: make(map[manualKey]bool),
	}
}

// ProcedureCompleted applies the timing rule to one finished doctrinal
// procedure. A cancelled procedure always flags; otherwise the flag fires
// only when elapsed exceeds the timing factor times the expectation.
func (d *Detector) ProcedureCompleted(cycleID string, phase ems.Phase, agentID, workflow string, expectedHours, elapsedHours float64, cancelled bool) (*Flag, error) {
	if cancelled {
		flag, err := d.log.Flag(FlagInput{
			CycleID: cycleID, Phase: phase, AgentID: agentID, Workflow: workflow,
			Type:                 ems.InefficiencyTimingConstraint,
			Description:          fmt.Sprintf("procedure %q cancelled after %.1fh (expected %.1fh)", workflow, elapsedHours, expectedHours),
			TimeWastedHours:      elapsedHours,
			SuggestedImprovement: "review cancellation cause; break the procedure into resumable steps",
		})
		if err != nil {
			return nil, err
		}
		return &flag, nil
	}

	if expectedHours <= 0 || elapsedHours <= d.thresholds.TimingFactor*expectedHours {
		return nil, nil
	}
	flag, err := d.log.Flag(FlagInput{
		CycleID: cycleID, Phase: phase, AgentID: agentID, Workflow: workflow,
		Type:                 ems.InefficiencyTimingConstraint,
		Description:          fmt.Sprintf("procedure %q took %.1fh against %.1fh expected", workflow, elapsedHours, expectedHours),
		TimeWastedHours:      elapsedHours - expectedHours,
		SuggestedImprovement: "profile the procedure; revise the doctrinal time estimate or remove the bottleneck",
	})
	if err != nil {
		return nil, err
	}
	return &flag, nil
}

// InformationGap flags a needed category that was denied or returned empty.
func (d *Detector) InformationGap(cycleID string, phase ems.Phase, agentID, workflow string, category ems.InformationCategory, reason string) (*Flag, error) {
	flag, err := d.log.Flag(FlagInput{
		CycleID: cycleID, Phase: phase, AgentID: agentID, Workflow: workflow,
		Type:                 ems.InefficiencyInformationGap,
		Description:          fmt.Sprintf("needed %s but got: %s", category, reason),
		SuggestedImprovement: fmt.Sprintf("review %s access policy for role or provision the data ahead of the task", category),
	})
	if err != nil {
		return nil, err
	}
	return &flag, nil
}

// CoordinationRoundTrip counts a request/reply to one peer for one logical
// decision; hitting the threshold raises REDUNDANT_COORDINATION once.
func (d *Detector) CoordinationRoundTrip(cycleID string, phase ems.Phase, agentID, peerID, decision string) (*Flag, error) {
	key := roundTripKey{cycleID, agentID, peerID, decision}
	d.mu.Lock()
	d.roundTrips[key]++
	count := d.roundTrips[key]
	d.mu.Unlock()

	if count != d.thresholds.CoordinationRoundTrips {
		return nil, nil
	}
	flag, err := d.log.Flag(FlagInput{
		CycleID: cycleID, Phase: phase, AgentID: agentID, Workflow: decision,
		Type:                 ems.InefficiencyRedundantCoordination,
		Description:          fmt.Sprintf("%d round-trips to %s for decision %q", count, peerID, decision),
		SuggestedImprovement: "batch the exchange into one structured request or share the inputs up front",
	})
	if err != nil {
		return nil, err
	}
	return &flag, nil
}

// DoctrineContradiction flags two doctrine sources giving conflicting
// verdicts for the same query.
func (d *Detector) DoctrineContradiction(cycleID string, phase ems.Phase, agentID, workflow, query, sourceA, sourceB string) (*Flag, error) {
	flag, err := d.log.Flag(FlagInput{
		CycleID: cycleID, Phase: phase, AgentID: agentID, Workflow: workflow,
		Type:                 ems.InefficiencyDoctrineContradiction,
		Description:          fmt.Sprintf("sources %s and %s contradict on %q", sourceA, sourceB, query),
		SuggestedImprovement: "escalate to doctrine authority for reconciliation; record the interim ruling",
	})
	if err != nil {
		return nil, err
	}
	return &flag, nil
}

// ManualSteps flags a workflow whose manual step count exceeds the
// threshold, at most once per (cycle, agent, workflow). Callers may report
// a running count as steps accumulate.
func (d *Detector) ManualSteps(cycleID string, phase ems.Phase, agentID, workflow string, steps int) (*Flag, error) {
	if steps <= d.thresholds.ManualSteps {
		return nil, nil
	}
	key := manualKey{cycleID, agentID, workflow}
	d.mu.Lock()
	fired := d.manualFired[key]
	d.manualFired[key] = true
	d.mu.Unlock()
	if fired {
		return nil, nil
	}
	flag, err := d.log.Flag(FlagInput{
		CycleID: cycleID, Phase: phase, AgentID: agentID, Workflow: workflow,
		Type:                 ems.InefficiencyAutomationOpportunity,
		Description:          fmt.Sprintf("%d manual steps in %q", steps, workflow),
		SuggestedImprovement: "encode the repeated steps as a doctrinal procedure the runtime can execute",
	})
	if err != nil {
		return nil, err
	}
	return &flag, nil
}

// SpectrumCheck records one conflict-check outcome; the cycle flags
// DECONFLICTION_ISSUE once when the conflict rate crosses the threshold.
func (d *Detector) SpectrumCheck(cycleID string, phase ems.Phase, agentID string, conflicted bool) (*Flag, error) {
	return d.rateRule(rateKey{cycleID, "spectrum"}, conflicted, d.thresholds.ConflictRate, FlagInput{
		CycleID: cycleID, Phase: phase, AgentID: agentID, Workflow: "spectrum_deconfliction",
		Type:                 ems.InefficiencyDeconflictionIssue,
		SuggestedImprovement: "pre-coordinate frequency plans before mission planning locks in emitters",
	})
}

// AssetReservation records one reservation outcome; the cycle flags
// RESOURCE_BOTTLENECK once when the denial rate crosses the threshold.
func (d *Detector) AssetReservation(cycleID string, phase ems.Phase, agentID string, denied bool) (*Flag, error) {
	return d.rateRule(rateKey{cycleID, "asset"}, denied, d.thresholds.DenialRate, FlagInput{
		CycleID: cycleID, Phase: phase, AgentID: agentID, Workflow: "asset_reservation",
		Type:                 ems.InefficiencyResourceBottleneck,
		SuggestedImprovement: "request additional apportionment or stagger mission windows across the cycle",
	})
}

func (d *Detector) rateRule(key rateKey, hit bool, threshold float64, input FlagInput) (*Flag, error) {
	d.mu.Lock()
	counter := d.rates[key]
	if counter == nil {
		counter = &rateCounter{}
		d.rates[key] = counter
	}
	counter.total++
	if hit {
		counter.hits++
	}
	rate := float64(counter.hits) / float64(counter.total)
	fire := counter.total >= d.thresholds.MinRateSamples && rate > threshold && !d.rateFired[key]
	if fire {
		d.rateFired[key] = true
	}
	total, hits := counter.total, counter.hits
	d.mu.Unlock()

	if !fire {
		return nil, nil
	}
	input.Description = fmt.Sprintf("%d of %d %s operations failed this cycle (rate %.2f)", hits, total, key.kind, rate)
	flag, err := d.log.Flag(input)
	if err != nil {
		return nil, err
	}
	return &flag, nil
}
