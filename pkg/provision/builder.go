package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/aether-os/aether/pkg/broker"
	"github.com/aether-os/aether/pkg/config"
	"github.com/aether-os/aether/pkg/embedding"
	"github.com/aether-os/aether/pkg/ems"
)

// SourceRecord is raw material for one context element, supplied by a layer
// source before ID stamping and relevance scoring.
type SourceRecord struct {
	SourceID  string
	Content   string
	Metadata  map[string]string
	Relevance float64     // 0 means "score me against the task"
	Kind      ElementKind // empty uses the layer's default kind
}

// HistorySource supplies prior-cycle material for the historical layer.
// Implemented by the kernel over archived cycle outputs and lessons.
type HistorySource interface {
	HistoricalRecords(agentID string, depth int) []SourceRecord
}

// CollabSource supplies recent coordination for the collaborative layer.
// Implemented by the kernel over the message log.
type CollabSource interface {
	CollaborativeRecords(agentID string, phase ems.Phase) []SourceRecord
}

// Options tunes the provisioner.
type Options struct {
	DefaultTokenBudget int
	DoctrinalFloor     int
}

// DefaultOptions returns the built-in provisioning limits.
func DefaultOptions() Options {
	return Options{
		DefaultTokenBudget: config.DefaultTokenBudget,
		DoctrinalFloor:     config.DefaultDoctrinalFloor,
	}
}

type cacheKey struct {
	agentID string
	phase   ems.Phase
	task    string
}

// Provisioner builds token-budgeted context windows. Each window is assembled
// by querying the broker under the requesting agent's identity, so access
// control and sanitization apply to provisioned material exactly as they do
// to direct queries.
type Provisioner struct {
	broker   *broker.Broker
	profiles *config.ProfileRegistry
	engine   embedding.Engine
	history  HistorySource
	collab   CollabSource
	opts     Options
	ids      *IDFactory
	logger   *slog.Logger

	// Cache is partitioned by agent; entries live until a refresh trigger.
	cacheMu sync.Mutex
	cache   map[cacheKey]*AgentContext
}

// New creates a provisioner. History and collab sources may be nil; the
// corresponding layers are then left empty.
func New(b *broker.Broker, profiles *config.ProfileRegistry, engine embedding.Engine, history HistorySource, collab CollabSource, opts Options) *Provisioner {
	if opts.DefaultTokenBudget <= 0 {
		opts.DefaultTokenBudget = config.DefaultTokenBudget
	}
	if opts.DoctrinalFloor <= 0 {
		opts.DoctrinalFloor = config.DefaultDoctrinalFloor
	}
	return &Provisioner{
		broker:   b,
		profiles: profiles,
		engine:   engine,
		history:  history,
		collab:   collab,
		opts:     opts,
		ids:      NewIDFactory(),
		logger:   slog.With("component", "provision"),
		cache:    make(map[cacheKey]*AgentContext),
	}
}

// BuildContext assembles the window for one task. Repeat calls with the same
// (agent, phase, task) return the cached window until a refresh trigger
// invalidates it. maxTokens ≤ 0 uses the default budget.
func (p *Provisioner) BuildContext(ctx context.Context, agentID string, phase ems.Phase, task string, maxTokens int) (*AgentContext, error) {
	if maxTokens <= 0 {
		maxTokens = p.opts.DefaultTokenBudget
	}
	key := cacheKey{agentID, phase, task}

	p.cacheMu.Lock()
	if cached, ok := p.cache[key]; ok && cached.TokenBudget == maxTokens {
		p.cacheMu.Unlock()
		// The cache keeps the pristine window; each round gets its own
		// copy so usage tracking never bleeds across rounds.
		return cached.Clone(), nil
	}
	p.cacheMu.Unlock()

	profile, err := p.profiles.Get(agentID)
	if err != nil {
		return nil, fmt.Errorf("cannot provision for unknown agent: %w", err)
	}
	template := TemplateFor(phase, profile.Role)

	window := newAgentContext(agentID, phase, task, maxTokens)

	taskVec, err := p.engine.EmbedQuery(ctx, task)
	if err != nil {
		// Relevance scoring degrades to source ordering; provisioning
		// itself continues.
		p.logger.Warn("Task embedding failed, using source order for relevance", "error", err)
		taskVec = nil
	}

	layerSources := map[Layer][]SourceRecord{
		LayerDoctrinal:     p.doctrinalRecords(ctx, agentID, task, template),
		LayerSituational:   p.situationalRecords(ctx, agentID, task, template),
		LayerHistorical:    p.historicalRecords(agentID, template),
		LayerCollaborative: p.collaborativeRecords(agentID, phase),
	}

	for _, layer := range AllLayers() {
		elements := p.score(ctx, layer, layerSources[layer], taskVec, phase)
		subBudget := template.Split.Of(layer, maxTokens)
		window.Layers[layer] = selectGreedy(elements, subBudget)
	}

	p.pruneToBudget(window)

	if len(window.Layers[LayerDoctrinal]) < p.opts.DoctrinalFloor {
		window.Degraded = true
	}

	if err := window.Validate(); err != nil {
		return nil, err
	}

	p.cacheMu.Lock()
	p.cache[key] = window
	p.cacheMu.Unlock()

	p.logger.Debug("Context provisioned",
		"agent", agentID, "phase", phase,
		"elements", len(window.Elements()), "tokens", window.TotalTokens(),
		"budget", maxTokens, "degraded", window.Degraded)
	return window.Clone(), nil
}

// Refresh drops the cached window for one (agent, phase, task), forcing the
// next BuildContext to reassemble it.
func (p *Provisioner) Refresh(agentID string, phase ems.Phase, task string) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	delete(p.cache, cacheKey{agentID, phase, task})
}

// InvalidateAgent drops all cached windows for one agent. Trigger: task change.
func (p *Provisioner) InvalidateAgent(agentID string) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	for key := range p.cache {
		if key.agentID == agentID {
			delete(p.cache, key)
		}
	}
}

// InvalidateAll drops every cached window. Triggers: phase transition, new
// intelligence event.
func (p *Provisioner) InvalidateAll(reason string) {
	p.cacheMu.Lock()
	count := len(p.cache)
	p.cache = make(map[cacheKey]*AgentContext)
	p.cacheMu.Unlock()
	if count > 0 {
		p.logger.Debug("Context cache invalidated", "reason", reason, "entries", count)
	}
}

// doctrinalRecords queries the doctrine KB for each template priority topic
// plus the task itself.
func (p *Provisioner) doctrinalRecords(ctx context.Context, agentID, task string, template Template) []SourceRecord {
	queries := append([]string{task}, template.DoctrinePriority...)
	seen := make(map[string]bool)
	var records []SourceRecord
	for _, q := range queries {
		result, err := p.broker.Query(ctx, agentID, ems.CategoryDoctrine, map[string]any{
			"text":  q + " " + task,
			"top_k": 3,
		})
		if err != nil {
			p.logger.Warn("Doctrinal layer query failed", "agent", agentID, "error", err)
			continue
		}
		for _, record := range result.Records {
			id, _ := record["id"].(string)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			content, _ := record["content"].(string)
			relevance, _ := record["relevance"].(float64)
			records = append(records, SourceRecord{
				SourceID:  id,
				Content:   content,
				Relevance: relevance,
			})
		}
	}
	return records
}

// situationalRecords draws current threats, allocations, and assets per the
// template's detail knobs. Unauthorized categories are skipped; the window is
// simply thinner for agents with narrower profiles.
func (p *Provisioner) situationalRecords(ctx context.Context, agentID, task string, template Template) []SourceRecord {
	var records []SourceRecord
	justify := map[string]any{"justification": "context provisioning: " + task}

	appendResult := func(result *broker.Result, err error, kind ElementKind, render func(broker.Record) string) {
		if err != nil {
			if !errors.Is(err, broker.ErrUnauthorized) {
				p.logger.Warn("Situational layer query failed", "agent", agentID, "error", err)
			}
			return
		}
		for i, record := range result.Records {
			id := ""
			if i < len(result.ElementIDs) {
				id = result.ElementIDs[i]
			}
			records = append(records, SourceRecord{
				SourceID: id,
				Content:  render(record),
				Kind:     kind,
			})
		}
	}

	threats, err := p.broker.Query(ctx, agentID, ems.CategoryThreatData, justify)
	appendResult(threats, err, KindThreat, func(r broker.Record) string {
		return renderRecord("threat", r, template.ThreatDetailLevel == ThreatDetailFull)
	})

	allocations, err := p.broker.Query(ctx, agentID, ems.CategorySpectrumAllocation, justify)
	appendResult(allocations, err, KindMission, func(r broker.Record) string {
		return renderRecord("spectrum allocation", r, true)
	})

	if template.AssetVisibility != AssetVisibilityNone {
		assets, err := p.broker.Query(ctx, agentID, ems.CategoryAssetStatus, justify)
		appendResult(assets, err, KindMission, func(r broker.Record) string {
			return renderRecord("asset", r, template.AssetVisibility == AssetVisibilityAll)
		})
	}

	if len(records) > template.SituationalTopN {
		records = records[:template.SituationalTopN]
	}
	return records
}

func (p *Provisioner) historicalRecords(agentID string, template Template) []SourceRecord {
	if p.history == nil {
		return nil
	}
	return p.history.HistoricalRecords(agentID, template.HistoricalDepth)
}

func (p *Provisioner) collaborativeRecords(agentID string, phase ems.Phase) []SourceRecord {
	if p.collab == nil {
		return nil
	}
	return p.collab.CollaborativeRecords(agentID, phase)
}

// score stamps IDs, estimates tokens, embeds contents, and fills in missing
// relevance against the task vector.
func (p *Provisioner) score(ctx context.Context, layer Layer, records []SourceRecord, taskVec []float32, phase ems.Phase) []ContextElement {
	if len(records) == 0 {
		return nil
	}
	defaultKind := layerKind(layer)

	contents := make([]string, len(records))
	for i, r := range records {
		contents[i] = r.Content
	}
	vectors, err := p.engine.EmbedDocuments(ctx, contents)
	if err != nil {
		p.logger.Warn("Element embedding failed", "layer", layer, "error", err)
		vectors = nil
	}

	elements := make([]ContextElement, 0, len(records))
	for i, r := range records {
		kind := r.Kind
		if kind == "" {
			kind = defaultKind
		}
		element := ContextElement{
			ID:             p.ids.Next(kind),
			Kind:           kind,
			Content:        r.Content,
			Metadata:       r.Metadata,
			RelevanceScore: r.Relevance,
			Tokens:         EstimateTokens(r.Content),
			SourceID:       r.SourceID,
			Phase:          phase,
		}
		if vectors != nil {
			element.Embedding = vectors[i]
			if element.RelevanceScore == 0 && taskVec != nil {
				element.RelevanceScore = embedding.Cosine(taskVec, vectors[i])
			}
		}
		elements = append(elements, element)
	}
	return elements
}

// selectGreedy picks elements by descending relevance until the sub-budget is
// exhausted. An element that does not fit is skipped, not truncated.
func selectGreedy(elements []ContextElement, subBudget int) []ContextElement {
	sorted := make([]ContextElement, len(elements))
	copy(sorted, elements)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RelevanceScore > sorted[j].RelevanceScore
	})

	var selected []ContextElement
	used := 0
	for _, e := range sorted {
		if used+e.Tokens > subBudget {
			continue
		}
		selected = append(selected, e)
		used += e.Tokens
	}
	return selected
}

// pruneToBudget removes lowest-relevance elements, collaborative layer first,
// until the window fits its budget.
func (p *Provisioner) pruneToBudget(window *AgentContext) {
	for _, layer := range pruneOrder {
		for window.TotalTokens() > window.TokenBudget && len(window.Layers[layer]) > 0 {
			elements := window.Layers[layer]
			lowest := 0
			for i, e := range elements {
				if e.RelevanceScore < elements[lowest].RelevanceScore {
					lowest = i
				}
			}
			window.Layers[layer] = append(elements[:lowest], elements[lowest+1:]...)
		}
	}
}

func layerKind(layer Layer) ElementKind {
	switch layer {
	case LayerDoctrinal:
		return KindDoctrine
	case LayerSituational:
		return KindThreat
	case LayerHistorical:
		return KindHistorical
	case LayerCollaborative:
		return KindCollaborative
	default:
		return KindMission
	}
}

// renderRecord flattens a broker record into element text. Full detail keeps
// every field; summary keeps identity and status fields only.
func renderRecord(label string, record broker.Record, full bool) string {
	summaryFields := map[string]bool{
		"threat_id": true, "threat_type": true, "system": true, "status": true,
		"allocation_id": true, "asset_id": true, "asset_type": true,
		"platform": true, "mission_id": true, "id": true, "name": true,
	}
	keys := make([]string, 0, len(record))
	for k := range record {
		if full || summaryFields[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys)+1)
	parts = append(parts, label+":")
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, record[k]))
	}
	return strings.Join(parts, " ")
}
