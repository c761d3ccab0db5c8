// Package broker is the single entry point for all cross-category information
// reads. Every query runs the same pipeline: access check, category routing,
// access-level sanitization, audit. The broker never retries a backend;
// retry policy belongs to the caller.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/ems"
	"github.com/aether-os/aether/pkg/sanitize"
)

// PhaseSource reports the current cycle phase for phase-restricted policies
// and audit records. Returns "" when no cycle is active.
type PhaseSource func() ems.Phase

// Result is the sanitized answer to one query plus the element IDs supplied,
// for citation tracking by the context provisioner.
type Result struct {
	Category   ems.InformationCategory `json:"category"`
	Records    []Record                `json:"records"`
	ElementIDs []string                `json:"element_ids"`
	Sanitized  bool                    `json:"sanitized"`
}

// Broker routes category queries to backing stores under the caller's access
// profile. Reentrant; safe under parallel callers.
type Broker struct {
	profiles  *config.ProfileRegistry
	policies  *config.PolicyRegistry
	sanitizer *sanitize.Service
	trail     *AuditTrail
	phase     PhaseSource
	logger    *slog.Logger

	backendMu sync.RWMutex
	backends  map[ems.InformationCategory]Backend
}

// New creates a broker over the given registries. Backends are attached with
// SetBackend before first use; phase may be nil when no orchestrator exists
// (all phase restrictions then pass).
func New(profiles *config.ProfileRegistry, policies *config.PolicyRegistry, sanitizer *sanitize.Service, trail *AuditTrail, phase PhaseSource) *Broker {
	if phase == nil {
		phase = func() ems.Phase { return "" }
	}
	return &Broker{
		profiles:  profiles,
		policies:  policies,
		sanitizer: sanitizer,
		trail:     trail,
		phase:     phase,
		backends:  make(map[ems.InformationCategory]Backend),
		logger:    slog.With("component", "broker"),
	}
}

// SetBackend routes a category to a backend. Last registration wins; safe
// to call while queries are in flight.
func (b *Broker) SetBackend(category ems.InformationCategory, backend Backend) {
	b.backendMu.Lock()
	b.backends[category] = backend
	b.backendMu.Unlock()
}

func (b *Broker) backend(category ems.InformationCategory) (Backend, bool) {
	b.backendMu.RLock()
	defer b.backendMu.RUnlock()
	backend, ok := b.backends[category]
	return backend, ok
}

// AuditTrail exposes the access log for the kernel API.
func (b *Broker) AuditTrail() *AuditTrail {
	return b.trail
}

// Query runs the full pipeline for one category read.
func (b *Broker) Query(ctx context.Context, agentID string, category ems.InformationCategory, params map[string]any) (*Result, error) {
	profile, policy, err := b.checkAccess(agentID, category, params)
	if err != nil {
		return nil, err
	}

	backend, ok := b.backend(category)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	records, err := backend.Query(ctx, params)
	if err != nil {
		return nil, b.backendError(category, err)
	}

	return b.finish(profile, policy, category, summarizeParams(params), records), nil
}

// opParams carries the operational justification for typed broker
// operations, satisfying need-to-know policies on their categories.
func opParams(operation string) map[string]any {
	return map[string]any{"justification": operation}
}

// CheckSpectrumConflicts reports allocations conflicting with the range.
func (b *Broker) CheckSpectrumConflicts(ctx context.Context, agentID string, freqMinMHz, freqMaxMHz float64, start, end time.Time, area string) (*Result, error) {
	profile, policy, err := b.checkAccess(agentID, ems.CategorySpectrumAllocation, opParams("spectrum conflict check"))
	if err != nil {
		return nil, err
	}
	backend, err := b.spectrumBackend()
	if err != nil {
		return nil, err
	}
	records, err := backend.CheckConflicts(ctx, freqMinMHz, freqMaxMHz, start, end, area)
	if err != nil {
		return nil, b.backendError(ems.CategorySpectrumAllocation, err)
	}
	summary := fmt.Sprintf("check_conflicts %.1f-%.1f MHz area=%s", freqMinMHz, freqMaxMHz, area)
	return b.finish(profile, policy, ems.CategorySpectrumAllocation, summary, records), nil
}

// CreateAllocation records a new frequency allocation.
func (b *Broker) CreateAllocation(ctx context.Context, agentID string, allocation Record) (*Result, error) {
	profile, policy, err := b.checkAccess(agentID, ems.CategorySpectrumAllocation, opParams("frequency allocation"))
	if err != nil {
		return nil, err
	}
	backend, err := b.spectrumBackend()
	if err != nil {
		return nil, err
	}
	created, err := backend.CreateAllocation(ctx, allocation)
	if err != nil {
		return nil, b.backendError(ems.CategorySpectrumAllocation, err)
	}
	return b.finish(profile, policy, ems.CategorySpectrumAllocation, "create_allocation", []Record{created}), nil
}

// FindAvailableSpectrum returns candidate ranges of the requested bandwidth.
func (b *Broker) FindAvailableSpectrum(ctx context.Context, agentID string, bandwidthMHz float64, start, end time.Time, area string) (*Result, error) {
	profile, policy, err := b.checkAccess(agentID, ems.CategorySpectrumAllocation, opParams("available spectrum search"))
	if err != nil {
		return nil, err
	}
	backend, err := b.spectrumBackend()
	if err != nil {
		return nil, err
	}
	records, err := backend.FindAvailable(ctx, bandwidthMHz, start, end, area)
	if err != nil {
		return nil, b.backendError(ems.CategorySpectrumAllocation, err)
	}
	summary := fmt.Sprintf("find_available %.1f MHz area=%s", bandwidthMHz, area)
	return b.finish(profile, policy, ems.CategorySpectrumAllocation, summary, records), nil
}

// QueryAssetAvailability returns assets free in the window.
func (b *Broker) QueryAssetAvailability(ctx context.Context, agentID string, assetTypes []string, start, end time.Time, capabilities []string) (*Result, error) {
	profile, policy, err := b.checkAccess(agentID, ems.CategoryAssetStatus, opParams("asset availability check"))
	if err != nil {
		return nil, err
	}
	backend, err := b.assetBackend()
	if err != nil {
		return nil, err
	}
	records, err := backend.QueryAvailability(ctx, assetTypes, start, end, capabilities)
	if err != nil {
		return nil, b.backendError(ems.CategoryAssetStatus, err)
	}
	summary := fmt.Sprintf("query_availability types=%v", assetTypes)
	return b.finish(profile, policy, ems.CategoryAssetStatus, summary, records), nil
}

// ReserveAsset books an asset for a mission.
func (b *Broker) ReserveAsset(ctx context.Context, agentID, assetID, missionID string, start, end time.Time) (*Result, error) {
	profile, policy, err := b.checkAccess(agentID, ems.CategoryAssetStatus, opParams("asset reservation"))
	if err != nil {
		return nil, err
	}
	backend, err := b.assetBackend()
	if err != nil {
		return nil, err
	}
	reserved, err := backend.Reserve(ctx, assetID, missionID, start, end)
	if err != nil {
		// Denials surface unchanged so callers can count them for
		// resource-bottleneck flagging.
		if errors.Is(err, ErrReservationDenied) {
			return nil, err
		}
		return nil, b.backendError(ems.CategoryAssetStatus, err)
	}
	summary := fmt.Sprintf("reserve %s for %s", assetID, missionID)
	return b.finish(profile, policy, ems.CategoryAssetStatus, summary, []Record{reserved}), nil
}

// checkAccess verifies the caller may read the category right now. Failed
// checks are collected, audited when the policy requires it, and returned as
// one AccessError.
func (b *Broker) checkAccess(agentID string, category ems.InformationCategory, params map[string]any) (*ems.AgentProfile, ems.CategoryPolicy, error) {
	profile, err := b.profiles.Get(agentID)
	if err != nil {
		return nil, ems.CategoryPolicy{}, fmt.Errorf("unknown agent %q: %w", agentID, ErrUnauthorized)
	}
	policy, err := b.policies.Get(category)
	if err != nil {
		return nil, ems.CategoryPolicy{}, fmt.Errorf("%w: %s", ErrUnknownCategory, category)
	}

	var reasons []string
	if !profile.AuthorizedFor(category) {
		reasons = append(reasons, fmt.Sprintf("category %s not in authorized set", category))
	}
	if !profile.AccessLevel.AtLeast(policy.MinimumLevel) {
		reasons = append(reasons, fmt.Sprintf("access level %s below required %s", profile.AccessLevel, policy.MinimumLevel))
	}
	if current := b.phase(); current != "" && !policy.AllowedInPhase(current) {
		reasons = append(reasons, fmt.Sprintf("category restricted during %s", current))
	}
	if policy.NeedToKnow && justification(params) == "" {
		reasons = append(reasons, "need-to-know category requires justification")
	}

	if len(reasons) > 0 {
		if policy.Audit {
			b.trail.Append(AuditEntry{
				AgentID:      agentID,
				Role:         profile.Role,
				Category:     category,
				QuerySummary: summarizeParams(params),
				Decision:     DecisionDenied,
				AccessLevel:  profile.AccessLevel,
				Phase:        b.phase(),
			})
		}
		return nil, ems.CategoryPolicy{}, &AccessError{AgentID: agentID, Category: category, Reasons: reasons}
	}
	return profile, policy, nil
}

// finish sanitizes, audits, and stamps the result with element IDs.
func (b *Broker) finish(profile *ems.AgentProfile, policy ems.CategoryPolicy, category ems.InformationCategory, summary string, records []Record) *Result {
	result := &Result{Category: category, Records: records}

	if policy.Sanitize {
		result.Records = b.sanitizer.SanitizeRecords(category, records, profile.AccessLevel)
		result.Sanitized = true
	}
	result.ElementIDs = extractElementIDs(result.Records)

	if policy.Audit {
		b.trail.Append(AuditEntry{
			AgentID:      profile.AgentID,
			Role:         profile.Role,
			Category:     category,
			QuerySummary: summary,
			Decision:     DecisionGranted,
			AccessLevel:  profile.AccessLevel,
			Sanitized:    result.Sanitized,
			Phase:        b.phase(),
		})
	}

	b.logger.Debug("Information query served",
		"agent", profile.AgentID, "category", category,
		"records", len(result.Records), "sanitized", result.Sanitized)
	return result
}

func (b *Broker) spectrumBackend() (SpectrumBackend, error) {
	registered, _ := b.backend(ems.CategorySpectrumAllocation)
	backend, ok := registered.(SpectrumBackend)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, ems.CategorySpectrumAllocation)
	}
	return backend, nil
}

func (b *Broker) assetBackend() (AssetBackend, error) {
	registered, _ := b.backend(ems.CategoryAssetStatus)
	backend, ok := registered.(AssetBackend)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, ems.CategoryAssetStatus)
	}
	return backend, nil
}

func (b *Broker) backendError(category ems.InformationCategory, err error) error {
	b.logger.Warn("Backend query failed", "category", category, "error", err)
	return &UnavailableError{Category: category, Err: err}
}

// justification reads the need-to-know justification from query params.
func justification(params map[string]any) string {
	if params == nil {
		return ""
	}
	if j, ok := params["justification"].(string); ok {
		return strings.TrimSpace(j)
	}
	return ""
}

// extractElementIDs collects the identifying field from each record for
// citation tracking. Records without a recognizable ID contribute nothing.
var idFields = []string{"element_id", "id", "threat_id", "allocation_id", "asset_id", "mission_id", "doc_id"}

func extractElementIDs(records []Record) []string {
	ids := make([]string, 0, len(records))
	for _, record := range records {
		for _, field := range idFields {
			if id, ok := record[field].(string); ok && id != "" {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

func summarizeParams(params map[string]any) string {
	if len(params) == 0 {
		return "query"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		// Keys only; values may carry restricted detail.
		parts = append(parts, k)
	}
	return "query " + strings.Join(parts, ",")
}
