package provision

import "github.com/aether-os/aether/pkg/ems"

// Split partitions a token budget across the four layers. Fractions sum to 1.
type Split struct {
	Doctrinal     float64
	Situational   float64
	Historical    float64
	Collaborative float64
}

// DefaultSplit is the 40/30/20/10 partition used when no template overrides.
var DefaultSplit = Split{
	Doctrinal:     0.40,
	Situational:   0.30,
	Historical:    0.20,
	Collaborative: 0.10,
}

// Of returns the sub-budget for a layer.
func (s Split) Of(layer Layer, budget int) int {
	switch layer {
	case LayerDoctrinal:
		return int(float64(budget) * s.Doctrinal)
	case LayerSituational:
		return int(float64(budget) * s.Situational)
	case LayerHistorical:
		return int(float64(budget) * s.Historical)
	case LayerCollaborative:
		return int(float64(budget) * s.Collaborative)
	default:
		return 0
	}
}

// Threat detail levels requested from the situational layer.
const (
	ThreatDetailSummary  = "summary"
	ThreatDetailStandard = "standard"
	ThreatDetailFull     = "full"
)

// Asset visibility requested from the situational layer.
const (
	AssetVisibilityNone     = "none"
	AssetVisibilityRelevant = "relevant"
	AssetVisibilityAll      = "all"
)

// Template tunes window composition for one (phase, role) pairing.
type Template struct {
	Split             Split
	DoctrinePriority  []string // Doctrine topics queried first for the doctrinal layer
	ThreatDetailLevel string
	AssetVisibility   string
	HistoricalDepth   int // Number of prior cycles drawn into the historical layer
	SituationalTopN   int // Cap on situational elements before budget pruning
}

type templateKey struct {
	phase ems.Phase
	role  ems.AgentRole
}

// phaseTemplates carries the per-(phase, role) overrides. Pairings not listed
// fall back to defaultTemplate.
var phaseTemplates = map[templateKey]Template{
	{ems.PhaseOEG, ems.RoleEMSStrategy}: {
		Split:             Split{Doctrinal: 0.50, Situational: 0.25, Historical: 0.15, Collaborative: 0.10},
		DoctrinePriority:  []string{"EMS strategy development", "commander guidance", "JEMSO planning"},
		ThreatDetailLevel: ThreatDetailSummary,
		AssetVisibility:   AssetVisibilityNone,
		HistoricalDepth:   3,
		SituationalTopN:   5,
	},
	{ems.PhaseTargetDevelopment, ems.RoleEMSStrategy}: {
		Split:             Split{Doctrinal: 0.40, Situational: 0.35, Historical: 0.15, Collaborative: 0.10},
		DoctrinePriority:  []string{"target development", "EMS requirements"},
		ThreatDetailLevel: ThreatDetailStandard,
		AssetVisibility:   AssetVisibilityNone,
		HistoricalDepth:   2,
		SituationalTopN:   5,
	},
	// Weaponeering boosts the situational layer: planners need current
	// threats and asset posture more than broad doctrine.
	{ems.PhaseWeaponeering, ems.RoleEWPlanner}: {
		Split:             Split{Doctrinal: 0.30, Situational: 0.45, Historical: 0.15, Collaborative: 0.10},
		DoctrinePriority:  []string{"EW mission planning", "electronic attack", "fratricide prevention"},
		ThreatDetailLevel: ThreatDetailFull,
		AssetVisibility:   AssetVisibilityAll,
		HistoricalDepth:   1,
		SituationalTopN:   10,
	},
	{ems.PhaseWeaponeering, ems.RoleSpectrumManager}: {
		Split:             Split{Doctrinal: 0.30, Situational: 0.45, Historical: 0.15, Collaborative: 0.10},
		DoctrinePriority:  []string{"spectrum management", "frequency deconfliction", "JRFL"},
		ThreatDetailLevel: ThreatDetailStandard,
		AssetVisibility:   AssetVisibilityRelevant,
		HistoricalDepth:   1,
		SituationalTopN:   10,
	},
	{ems.PhaseATOProduction, ems.RoleATOProducer}: {
		Split:             Split{Doctrinal: 0.35, Situational: 0.35, Historical: 0.15, Collaborative: 0.15},
		DoctrinePriority:  []string{"ATO production", "SPINS", "EMS annex format"},
		ThreatDetailLevel: ThreatDetailSummary,
		AssetVisibility:   AssetVisibilityRelevant,
		HistoricalDepth:   1,
		SituationalTopN:   8,
	},
	{ems.PhaseExecution, ems.RoleSpectrumManager}: {
		Split:             Split{Doctrinal: 0.20, Situational: 0.55, Historical: 0.10, Collaborative: 0.15},
		DoctrinePriority:  []string{"dynamic spectrum management", "emergency reallocation"},
		ThreatDetailLevel: ThreatDetailFull,
		AssetVisibility:   AssetVisibilityAll,
		HistoricalDepth:   1,
		SituationalTopN:   10,
	},
	{ems.PhaseAssessment, ems.RoleAssessment}: {
		Split:             Split{Doctrinal: 0.25, Situational: 0.20, Historical: 0.45, Collaborative: 0.10},
		DoctrinePriority:  []string{"effectiveness assessment", "lessons learned"},
		ThreatDetailLevel: ThreatDetailSummary,
		AssetVisibility:   AssetVisibilityNone,
		HistoricalDepth:   5,
		SituationalTopN:   5,
	},
}

var defaultTemplate = Template{
	Split:             DefaultSplit,
	ThreatDetailLevel: ThreatDetailStandard,
	AssetVisibility:   AssetVisibilityRelevant,
	HistoricalDepth:   2,
	SituationalTopN:   8,
}

// TemplateFor returns the window template for a (phase, role) pairing.
func TemplateFor(phase ems.Phase, role ems.AgentRole) Template {
	if t, ok := phaseTemplates[templateKey{phase, role}]; ok {
		return t
	}
	return defaultTemplate
}
