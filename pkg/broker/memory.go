package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aether-os/aether/pkg/doctrine"
)

// DoctrineBackend adapts the doctrine KB to the broker Backend interface.
type DoctrineBackend struct {
	KB doctrine.KB
}

// Query searches doctrine. Params: "text" (required), "top_k", and any
// metadata filters under "filters".
func (d *DoctrineBackend) Query(ctx context.Context, params map[string]any) ([]Record, error) {
	text, _ := params["text"].(string)
	topK := 0
	if k, ok := params["top_k"].(int); ok {
		topK = k
	}
	filters := map[string]string{}
	if f, ok := params["filters"].(map[string]string); ok {
		filters = f
	}

	snippets, err := d.KB.Query(ctx, text, filters, topK)
	if err != nil {
		return nil, err
	}
	records := make([]Record, len(snippets))
	for i, snippet := range snippets {
		records[i] = Record{
			"id":        snippet.ID,
			"content":   snippet.Content,
			"metadata":  snippet.Metadata,
			"relevance": snippet.Relevance,
		}
	}
	return records, nil
}

// MemoryBackend is a static in-memory backend for one category. Used for
// tests, development, and the organizational category (an in-process
// snapshot rather than an external store).
type MemoryBackend struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemoryBackend creates a backend serving the given records.
func NewMemoryBackend(records []Record) *MemoryBackend {
	return &MemoryBackend{records: records}
}

// Query returns records matching every equality param (element IDs and flat
// string fields). A nil params map returns everything.
func (m *MemoryBackend) Query(_ context.Context, params map[string]any) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Record
	for _, record := range m.records {
		if matchesParams(record, params) {
			out = append(out, record)
		}
	}
	return out, nil
}

// Add appends a record.
func (m *MemoryBackend) Add(record Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
}

// filterParamKeys are broker-level params that never match record fields.
var filterParamKeys = map[string]bool{
	"justification": true,
	"top_k":         true,
	"filters":       true,
}

func matchesParams(record Record, params map[string]any) bool {
	for key, want := range params {
		if filterParamKeys[key] {
			continue
		}
		got, ok := record[key]
		if !ok {
			return false
		}
		if fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

// allocation is one spectrum assignment held by the in-memory spectrum store.
type allocation struct {
	id      string
	freqMin float64
	freqMax float64
	start   time.Time
	end     time.Time
	area    string
	user    string
}

func (a allocation) record() Record {
	return Record{
		"allocation_id": a.id,
		"freq_min_mhz":  a.freqMin,
		"freq_max_mhz":  a.freqMax,
		"start_time":    a.start,
		"end_time":      a.end,
		"area":          a.area,
		"user":          a.user,
	}
}

// MemorySpectrumBackend is an in-memory spectrum store with conflict
// detection over frequency range, time window, and area.
type MemorySpectrumBackend struct {
	mu          sync.RWMutex
	allocations []allocation
	nextID      int
}

// NewMemorySpectrumBackend creates a spectrum store seeded with one sample
// allocation.
func NewMemorySpectrumBackend() *MemorySpectrumBackend {
	base := time.Now().UTC().Truncate(time.Hour)
	return &MemorySpectrumBackend{
		allocations: []allocation{
			{
				id:      "ALLOC-001",
				freqMin: 2700,
				freqMax: 2900,
				start:   base,
				end:     base.Add(72 * time.Hour),
				area:    "AOR-NORTH",
				user:    "air_surveillance_radar",
			},
		},
		nextID: 2,
	}
}

// Query returns all allocations matching the params.
func (s *MemorySpectrumBackend) Query(_ context.Context, params map[string]any) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, alloc := range s.allocations {
		if matchesParams(alloc.record(), params) {
			out = append(out, alloc.record())
		}
	}
	return out, nil
}

// CheckConflicts returns allocations overlapping the range, window, and area.
func (s *MemorySpectrumBackend) CheckConflicts(_ context.Context, freqMinMHz, freqMaxMHz float64, start, end time.Time, area string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conflicts []Record
	for _, alloc := range s.allocations {
		if freqMinMHz < alloc.freqMax && freqMaxMHz > alloc.freqMin &&
			start.Before(alloc.end) && end.After(alloc.start) &&
			(area == "" || strings.EqualFold(area, alloc.area)) {
			conflicts = append(conflicts, alloc.record())
		}
	}
	return conflicts, nil
}

// CreateAllocation stores a new allocation built from the record fields.
func (s *MemorySpectrumBackend) CreateAllocation(_ context.Context, rec Record) (Record, error) {
	freqMin, okMin := toFloat(rec["freq_min_mhz"])
	freqMax, okMax := toFloat(rec["freq_max_mhz"])
	if !okMin || !okMax || freqMax <= freqMin {
		return nil, fmt.Errorf("invalid frequency range")
	}
	start, _ := rec["start_time"].(time.Time)
	end, _ := rec["end_time"].(time.Time)
	area, _ := rec["area"].(string)
	user, _ := rec["user"].(string)

	s.mu.Lock()
	defer s.mu.Unlock()
	alloc := allocation{
		id:      fmt.Sprintf("ALLOC-%03d", s.nextID),
		freqMin: freqMin,
		freqMax: freqMax,
		start:   start,
		end:     end,
		area:    area,
		user:    user,
	}
	s.nextID++
	s.allocations = append(s.allocations, alloc)
	return alloc.record(), nil
}

// FindAvailable scans upward from the bottom of the working band for a gap of
// the requested bandwidth, checking against current allocations.
func (s *MemorySpectrumBackend) FindAvailable(_ context.Context, bandwidthMHz float64, start, end time.Time, area string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const bandFloor, bandCeiling = 2000.0, 6000.0
	var candidates []Record
	for lo := bandFloor; lo+bandwidthMHz <= bandCeiling && len(candidates) < 3; lo += bandwidthMHz {
		hi := lo + bandwidthMHz
		conflict := false
		for _, alloc := range s.allocations {
			if lo < alloc.freqMax && hi > alloc.freqMin &&
				start.Before(alloc.end) && end.After(alloc.start) &&
				(area == "" || strings.EqualFold(area, alloc.area)) {
				conflict = true
				break
			}
		}
		if !conflict {
			candidates = append(candidates, Record{
				"id":           fmt.Sprintf("RANGE-%.0f-%.0f", lo, hi),
				"freq_min_mhz": lo,
				"freq_max_mhz": hi,
			})
		}
	}
	return candidates, nil
}

// reservation is one asset booking.
type reservation struct {
	assetID   string
	missionID string
	start     time.Time
	end       time.Time
}

// MemoryAssetBackend is an in-memory asset store with window-based
// reservation conflicts.
type MemoryAssetBackend struct {
	mu           sync.RWMutex
	assets       []Record
	reservations []reservation
}

// NewMemoryAssetBackend creates an asset store seeded with sample EA assets.
func NewMemoryAssetBackend() *MemoryAssetBackend {
	return &MemoryAssetBackend{
		assets: []Record{
			{
				"asset_id":     "ASSET-EA-001",
				"asset_type":   "EA",
				"platform":     "EC-130H",
				"capabilities": []string{"communications_jamming", "standoff"},
				"status":       "available",
			},
			{
				"asset_id":     "ASSET-EA-002",
				"asset_type":   "EA",
				"platform":     "EA-18G",
				"capabilities": []string{"radar_jamming", "escort"},
				"status":       "available",
			},
		},
	}
}

// Query returns all assets matching the params.
func (a *MemoryAssetBackend) Query(_ context.Context, params map[string]any) ([]Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []Record
	for _, asset := range a.assets {
		if matchesParams(asset, params) {
			out = append(out, asset)
		}
	}
	return out, nil
}

// QueryAvailability returns assets of the requested types free in the window.
func (a *MemoryAssetBackend) QueryAvailability(_ context.Context, assetTypes []string, start, end time.Time, capabilities []string) ([]Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []Record
	for _, asset := range a.assets {
		if len(assetTypes) > 0 && !containsFold(assetTypes, asset["asset_type"].(string)) {
			continue
		}
		if !a.freeLocked(asset["asset_id"].(string), start, end) {
			continue
		}
		if len(capabilities) > 0 {
			have, _ := asset["capabilities"].([]string)
			matched := false
			for _, want := range capabilities {
				if containsFold(have, want) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, asset)
	}
	return out, nil
}

// Reserve books an asset; overlapping reservations are denied.
func (a *MemoryAssetBackend) Reserve(_ context.Context, assetID, missionID string, start, end time.Time) (Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	found := false
	for _, asset := range a.assets {
		if asset["asset_id"] == assetID {
			found = true
			break
		}
	}
	if !found {
		return nil, fmt.Errorf("%w: unknown asset %s", ErrReservationDenied, assetID)
	}
	if !a.freeLocked(assetID, start, end) {
		return nil, fmt.Errorf("%w: %s already reserved in window", ErrReservationDenied, assetID)
	}

	a.reservations = append(a.reservations, reservation{
		assetID: assetID, missionID: missionID, start: start, end: end,
	})
	return Record{
		"asset_id":   assetID,
		"mission_id": missionID,
		"start_time": start,
		"end_time":   end,
		"status":     "reserved",
	}, nil
}

func (a *MemoryAssetBackend) freeLocked(assetID string, start, end time.Time) bool {
	for _, r := range a.reservations {
		if r.assetID == assetID && start.Before(r.end) && end.After(r.start) {
			return false
		}
	}
	return true
}

// SampleThreatRecords returns the seed threat store contents.
func SampleThreatRecords() []Record {
	return []Record{
		{
			"threat_id":   "THREAT-001",
			"threat_type": "SAM",
			"system":      "SA-10",
			"location": map[string]any{
				"lat": 36.04567,
				"lon": 44.01234,
			},
			"frequencies":        []string{"2700-2900 MHz", "64-70 GHz"},
			"status":             "active",
			"sources":            []string{"SIGINT", "IMINT"},
			"collection_methods": []string{"airborne_collection"},
		},
		{
			"threat_id":   "THREAT-002",
			"threat_type": "EW",
			"system":      "communications jammer",
			"location": map[string]any{
				"lat": 35.78901,
				"lon": 43.65432,
			},
			"frequencies":        []string{"225-400 MHz"},
			"status":             "suspected",
			"sources":            []string{"SIGINT"},
			"collection_methods": []string{"ground_collection"},
		},
	}
}

// SampleMissionRecords returns the seed mission store contents.
func SampleMissionRecords() []Record {
	return []Record{
		{
			"mission_id":              "MISSION-001",
			"mission_type":            "EA",
			"target":                  "IADS node",
			"time_on_target":          "H+02:00",
			"full_target_coordinates": "36.04567N 44.01234E",
			"weapon_specifics":        "standoff communications jamming",
			"asset_ids":               []string{"ASSET-EA-001"},
			"status":                  "planned",
		},
	}
}

// SampleOrgRecords returns the organizational snapshot served in-process.
func SampleOrgRecords() []Record {
	return []Record{
		{
			"id":       "ORG-EMS-CELL",
			"name":     "EMS operations cell",
			"contacts": []string{"ems_strategy_agent", "spectrum_manager_agent", "ew_planner_agent", "ato_producer_agent", "assessment_agent"},
		},
	}
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
