package ems

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// AccessLevel is an ordered organizational access rank. Authorization compares
// an agent's level against a category's minimum level; higher ranks subsume
// lower ones. This is an internal organizational scale, not a national
// classification system.
type AccessLevel int

const (
	// AccessPublic is publicly available information
	AccessPublic AccessLevel = 1
	// AccessInternal is internal organizational use
	AccessInternal AccessLevel = 2
	// AccessOperational is operational personnel information
	AccessOperational AccessLevel = 3
	// AccessSensitive is restricted operational information
	AccessSensitive AccessLevel = 4
	// AccessCritical is mission-critical information
	AccessCritical AccessLevel = 5
)

var accessLevelNames = map[AccessLevel]string{
	AccessPublic:      "PUBLIC",
	AccessInternal:    "INTERNAL",
	AccessOperational: "OPERATIONAL",
	AccessSensitive:   "SENSITIVE",
	AccessCritical:    "CRITICAL",
}

var accessLevelValues = map[string]AccessLevel{
	"PUBLIC":      AccessPublic,
	"INTERNAL":    AccessInternal,
	"OPERATIONAL": AccessOperational,
	"SENSITIVE":   AccessSensitive,
	"CRITICAL":    AccessCritical,
}

// String returns the canonical level name, or "UNKNOWN" for invalid values.
func (l AccessLevel) String() string {
	if name, ok := accessLevelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsValid checks if the access level is one of the five defined ranks
func (l AccessLevel) IsValid() bool {
	_, ok := accessLevelNames[l]
	return ok
}

// AtLeast reports whether the level meets or exceeds the given minimum
func (l AccessLevel) AtLeast(min AccessLevel) bool {
	return l >= min
}

// ParseAccessLevel converts a level name to its rank.
func ParseAccessLevel(s string) (AccessLevel, error) {
	if level, ok := accessLevelValues[s]; ok {
		return level, nil
	}
	return 0, fmt.Errorf("unknown access level %q", s)
}

// MarshalJSON encodes the level as its canonical name
func (l AccessLevel) MarshalJSON() ([]byte, error) {
	if !l.IsValid() {
		return nil, fmt.Errorf("invalid access level %d", int(l))
	}
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts either a level name or its numeric rank
func (l *AccessLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, perr := ParseAccessLevel(s)
		if perr != nil {
			return perr
		}
		*l = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("access level must be a name or rank: %w", err)
	}
	level := AccessLevel(n)
	if !level.IsValid() {
		return fmt.Errorf("invalid access level %d", n)
	}
	*l = level
	return nil
}

// MarshalYAML encodes the level as its canonical name
func (l AccessLevel) MarshalYAML() (interface{}, error) {
	if !l.IsValid() {
		return nil, fmt.Errorf("invalid access level %d", int(l))
	}
	return l.String(), nil
}

// UnmarshalYAML accepts either a level name or its numeric rank
func (l *AccessLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		if parsed, perr := ParseAccessLevel(s); perr == nil {
			*l = parsed
			return nil
		}
	}
	var n int
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("access level must be a name or rank: %w", err)
	}
	level := AccessLevel(n)
	if !level.IsValid() {
		return fmt.Errorf("invalid access level %d", n)
	}
	*l = level
	return nil
}

// InformationCategory classifies the kinds of information the broker serves.
// Every query names exactly one category and is checked against that
// category's policy.
type InformationCategory string

const (
	// CategoryDoctrine is published doctrine and procedures
	CategoryDoctrine InformationCategory = "DOCTRINE"
	// CategoryThreatData is threat intelligence
	CategoryThreatData InformationCategory = "THREAT_DATA"
	// CategoryAssetStatus is platform and asset availability
	CategoryAssetStatus InformationCategory = "ASSET_STATUS"
	// CategorySpectrumAllocation is frequency assignments
	CategorySpectrumAllocation InformationCategory = "SPECTRUM_ALLOCATION"
	// CategoryMissionPlan is mission details and plans
	CategoryMissionPlan InformationCategory = "MISSION_PLAN"
	// CategoryOrganizational is organizational structure and contacts
	CategoryOrganizational InformationCategory = "ORGANIZATIONAL"
	// CategoryProcessMetrics is performance and process data
	CategoryProcessMetrics InformationCategory = "PROCESS_METRICS"
)

// IsValid checks if the category is one of the seven defined categories
func (c InformationCategory) IsValid() bool {
	switch c {
	case CategoryDoctrine,
		CategoryThreatData,
		CategoryAssetStatus,
		CategorySpectrumAllocation,
		CategoryMissionPlan,
		CategoryOrganizational,
		CategoryProcessMetrics:
		return true
	default:
		return false
	}
}

// AllCategories returns the categories in declaration order
func AllCategories() []InformationCategory {
	return []InformationCategory{
		CategoryDoctrine,
		CategoryThreatData,
		CategoryAssetStatus,
		CategorySpectrumAllocation,
		CategoryMissionPlan,
		CategoryOrganizational,
		CategoryProcessMetrics,
	}
}

// CategoryPolicy controls how one information category is served: the minimum
// access level, whether need-to-know and sanitization apply, whether serving
// it produces an audit record, and an optional phase restriction.
type CategoryPolicy struct {
	Category        InformationCategory `json:"category" yaml:"category"`
	MinimumLevel    AccessLevel         `json:"minimum_level" yaml:"minimum_level"`
	NeedToKnow      bool                `json:"need_to_know" yaml:"need_to_know"`
	PhaseRestricted []Phase             `json:"phase_restricted,omitempty" yaml:"phase_restricted,omitempty"`
	Sanitize        bool                `json:"sanitize" yaml:"sanitize"`
	Audit           bool                `json:"audit" yaml:"audit"`
}

// AllowedInPhase reports whether the policy permits access during the given
// phase. An empty restriction list means the category is phase-unrestricted.
func (p *CategoryPolicy) AllowedInPhase(phase Phase) bool {
	if len(p.PhaseRestricted) == 0 {
		return true
	}
	for _, allowed := range p.PhaseRestricted {
		if allowed == phase {
			return true
		}
	}
	return false
}

// DefaultPolicies returns the built-in policy for every information category.
func DefaultPolicies() map[InformationCategory]CategoryPolicy {
	return map[InformationCategory]CategoryPolicy{
		CategoryDoctrine: {
			Category:     CategoryDoctrine,
			MinimumLevel: AccessPublic,
		},
		CategoryThreatData: {
			Category:     CategoryThreatData,
			MinimumLevel: AccessOperational,
			NeedToKnow:   true,
			Sanitize:     true,
			Audit:        true,
		},
		CategoryAssetStatus: {
			Category:     CategoryAssetStatus,
			MinimumLevel: AccessOperational,
			Audit:        true,
		},
		CategorySpectrumAllocation: {
			Category:     CategorySpectrumAllocation,
			MinimumLevel: AccessOperational,
			NeedToKnow:   true,
			Audit:        true,
		},
		CategoryMissionPlan: {
			Category:     CategoryMissionPlan,
			MinimumLevel: AccessSensitive,
			NeedToKnow:   true,
			Sanitize:     true,
			Audit:        true,
		},
		CategoryOrganizational: {
			Category:     CategoryOrganizational,
			MinimumLevel: AccessInternal,
		},
		CategoryProcessMetrics: {
			Category:     CategoryProcessMetrics,
			MinimumLevel: AccessInternal,
			Audit:        true,
		},
	}
}
