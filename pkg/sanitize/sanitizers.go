package sanitize

import (
	"math"

	"github.com/aether-os/aether/pkg/ems"
)

// ThreatSanitizer projects threat records by access level. Below SENSITIVE,
// precise geolocation is coarsened to one decimal (~11 km) and source fields
// are removed; SENSITIVE and above see the full record.
type ThreatSanitizer struct{}

// Name identifies the sanitizer
func (t *ThreatSanitizer) Name() string { return "threat" }

// threatRestrictedFields are removed below SENSITIVE.
var threatRestrictedFields = []string{"sources", "collection_methods"}

// Sanitize returns a projected copy of the threat record.
func (t *ThreatSanitizer) Sanitize(record map[string]any, level ems.AccessLevel) map[string]any {
	out := copyRecord(record)
	if level.AtLeast(ems.AccessSensitive) {
		return out
	}

	for _, field := range threatRestrictedFields {
		delete(out, field)
	}
	if loc, ok := out["location"].(map[string]any); ok {
		coarse := copyRecord(loc)
		if lat, ok := numeric(coarse["lat"]); ok {
			coarse["lat"] = coarsen(lat)
		}
		if lon, ok := numeric(coarse["lon"]); ok {
			coarse["lon"] = coarsen(lon)
		}
		out["location"] = coarse
	}
	return out
}

// MissionSanitizer projects mission plan records by access level. Below
// CRITICAL, exact target coordinates, weaponeering specifics, and assigned
// asset IDs are removed.
type MissionSanitizer struct{}

// Name identifies the sanitizer
func (m *MissionSanitizer) Name() string { return "mission" }

// missionRestrictedFields are removed below CRITICAL.
var missionRestrictedFields = []string{"full_target_coordinates", "weapon_specifics", "asset_ids"}

// Sanitize returns a projected copy of the mission record.
func (m *MissionSanitizer) Sanitize(record map[string]any, level ems.AccessLevel) map[string]any {
	out := copyRecord(record)
	if level.AtLeast(ems.AccessCritical) {
		return out
	}
	for _, field := range missionRestrictedFields {
		delete(out, field)
	}
	return out
}

// coarsen rounds a coordinate to one decimal place.
func coarsen(v float64) float64 {
	return math.Round(v*10) / 10
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
