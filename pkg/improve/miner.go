package improve

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/ems"
)

// Pattern priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Pattern is a recurring inefficiency detected across flags: one (workflow,
// type) group that met the occurrence or recurrence threshold.
type Pattern struct {
	ID              string               `json:"id"`
	Workflow        string               `json:"workflow"`
	Type            ems.InefficiencyType `json:"type"`
	Occurrences     int                  `json:"occurrences"`
	Cycles          []string             `json:"cycles"`
	TotalTimeWasted float64              `json:"total_time_wasted_hours"`
	Evidence        []string             `json:"evidence"` // flag IDs, sequence order
	Priority        string               `json:"priority"`
	SuggestedAction string               `json:"suggested_action"`
}

// Miner groups flags by (workflow, type) and promotes groups to patterns.
// Pattern IDs are monotonic across AnalyzePatterns calls.
type Miner struct {
	minOccurrences int
	minCycles      int

	mu      sync.Mutex
	counter int
	// assigned keeps pattern IDs stable when the same group is re-mined.
	assigned map[patternKey]string
}

type patternKey struct {
	workflow string
	kind     ems.InefficiencyType
}

// NewMiner creates a miner. Non-positive thresholds use the defaults
// (5 occurrences, 2 cycles).
func NewMiner(minOccurrences, minCycles int) *Miner {
	if minOccurrences <= 0 {
		minOccurrences = config.DefaultPatternMinOccurrences
	}
	if minCycles <= 0 {
		minCycles = config.DefaultPatternMinCycles
	}
	return &Miner{
		minOccurrences: minOccurrences,
		minCycles:      minCycles,
		assigned:       make(map[patternKey]string),
	}
}

// AnalyzePatterns mines the flags for recurring groups. A group qualifies
// when it has at least minOccurrences flags or spans at least minCycles
// distinct cycles. Results are ordered by occurrences, most frequent first.
func (m *Miner) AnalyzePatterns(flags []Flag) []Pattern {
	groups := make(map[patternKey][]Flag)
	for _, flag := range flags {
		key := patternKey{flag.Workflow, flag.Type}
		groups[key] = append(groups[key], flag)
	}

	var patterns []Pattern
	for key, group := range groups {
		cycles := make(map[string]bool)
		wasted := 0.0
		evidence := make([]string, len(group))
		for i, flag := range group {
			if flag.CycleID != "" {
				cycles[flag.CycleID] = true
			}
			wasted += flag.TimeWastedHours
			evidence[i] = flag.ID
		}
		if len(group) < m.minOccurrences && len(cycles) < m.minCycles {
			continue
		}

		cycleIDs := make([]string, 0, len(cycles))
		for id := range cycles {
			cycleIDs = append(cycleIDs, id)
		}
		sort.Strings(cycleIDs)

		patterns = append(patterns, Pattern{
			ID:              m.patternID(key),
			Workflow:        key.workflow,
			Type:            key.kind,
			Occurrences:     len(group),
			Cycles:          cycleIDs,
			TotalTimeWasted: wasted,
			Evidence:        evidence,
			Priority:        priorityFor(len(group), wasted),
			SuggestedAction: recommendFor(key.kind, key.workflow),
		})
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Occurrences != patterns[j].Occurrences {
			return patterns[i].Occurrences > patterns[j].Occurrences
		}
		return patterns[i].Workflow < patterns[j].Workflow
	})
	return patterns
}

func (m *Miner) patternID(key patternKey) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.assigned[key]; ok {
		return id
	}
	m.counter++
	id := fmt.Sprintf("PATTERN-%04d", m.counter)
	m.assigned[key] = id
	return id
}

func priorityFor(occurrences int, wastedHours float64) string {
	switch {
	case occurrences >= 10 || wastedHours >= 10:
		return PriorityHigh
	case occurrences >= 5:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// recommendFor renders the per-type remediation guidance.
func recommendFor(kind ems.InefficiencyType, workflow string) string {
	switch kind {
	case ems.InefficiencyTimingConstraint:
		return fmt.Sprintf("revise the doctrinal time allocation for %q or decompose it into parallelizable steps", workflow)
	case ems.InefficiencyInformationGap:
		return fmt.Sprintf("grant or pre-provision the information %q repeatedly lacks", workflow)
	case ems.InefficiencyRedundantCoordination:
		return fmt.Sprintf("define a structured exchange format for %q to collapse repeated round-trips", workflow)
	case ems.InefficiencyDoctrineContradiction:
		return fmt.Sprintf("submit the conflicting guidance behind %q for doctrinal reconciliation", workflow)
	case ems.InefficiencyAutomationOpportunity:
		return fmt.Sprintf("automate %q as an executable procedure", workflow)
	case ems.InefficiencyDeconflictionIssue:
		return fmt.Sprintf("move deconfliction for %q earlier in the cycle, before plans lock in emitters", workflow)
	case ems.InefficiencyResourceBottleneck:
		return fmt.Sprintf("rebalance apportionment or stagger demand for the assets behind %q", workflow)
	default:
		return "review the recurring deviation with the process owner"
	}
}
