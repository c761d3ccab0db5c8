package improve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aether-os/aether/pkg/ems"
)

// Summary aggregates a set of flags for reporting.
type Summary struct {
	TotalFlags      int                          `json:"total_flags"`
	ByType          map[ems.InefficiencyType]int `json:"by_type"`
	ByPhase         map[ems.Phase]int            `json:"by_phase"`
	ByAgent         map[string]int               `json:"by_agent"`
	TotalTimeWasted float64                      `json:"total_time_wasted_hours"`
}

// Summarize computes summary statistics over the flags.
func Summarize(flags []Flag) Summary {
	summary := Summary{
		ByType:  make(map[ems.InefficiencyType]int),
		ByPhase: make(map[ems.Phase]int),
		ByAgent: make(map[string]int),
	}
	for _, flag := range flags {
		summary.TotalFlags++
		summary.ByType[flag.Type]++
		summary.ByPhase[flag.Phase]++
		summary.ByAgent[flag.AgentID]++
		summary.TotalTimeWasted += flag.TimeWastedHours
	}
	return summary
}

// GenerateReport renders the flags and mined patterns as a text report.
func GenerateReport(flags []Flag, patterns []Pattern) string {
	summary := Summarize(flags)
	var b strings.Builder

	b.WriteString("PROCESS IMPROVEMENT REPORT\n")
	b.WriteString("==========================\n\n")
	fmt.Fprintf(&b, "Flags raised: %d\n", summary.TotalFlags)
	fmt.Fprintf(&b, "Total time wasted: %.1f hours\n\n", summary.TotalTimeWasted)

	if summary.TotalFlags > 0 {
		b.WriteString("By inefficiency type:\n")
		for _, kind := range ems.AllInefficiencyTypes() {
			if count := summary.ByType[kind]; count > 0 {
				fmt.Fprintf(&b, "  %-26s %d\n", kind, count)
			}
		}
		b.WriteString("\nBy agent:\n")
		agents := make([]string, 0, len(summary.ByAgent))
		for agent := range summary.ByAgent {
			agents = append(agents, agent)
		}
		sort.Strings(agents)
		for _, agent := range agents {
			fmt.Fprintf(&b, "  %-26s %d\n", agent, summary.ByAgent[agent])
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Recurring patterns: %d\n", len(patterns))
	for _, pattern := range patterns {
		fmt.Fprintf(&b, "\n%s [%s] %s / %s\n", pattern.ID, pattern.Priority, pattern.Workflow, pattern.Type)
		fmt.Fprintf(&b, "  occurrences: %d across %d cycle(s)", pattern.Occurrences, len(pattern.Cycles))
		if pattern.TotalTimeWasted > 0 {
			fmt.Fprintf(&b, ", %.1f hours wasted", pattern.TotalTimeWasted)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "  action: %s\n", pattern.SuggestedAction)
		fmt.Fprintf(&b, "  evidence: %s\n", strings.Join(pattern.Evidence, ", "))
	}
	return b.String()
}
