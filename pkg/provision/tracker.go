package provision

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aether-os/aether/pkg/embedding"
)

// citationPattern matches prefix-typed element IDs cited in free text.
var citationPattern = regexp.MustCompile(`\b(?:DOC|THR|MSN|HIST|COLL)-\w+\b`)

// ExtractCitations returns the distinct element IDs cited in the text, in
// first-appearance order.
func ExtractCitations(text string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, match := range citationPattern.FindAllString(text, -1) {
		if !seen[match] {
			seen[match] = true
			ids = append(ids, match)
		}
	}
	return ids
}

// semanticTopN caps how many elements one response can mark used via
// semantic similarity alone.
const semanticTopN = 10

// CitationValidation compares the IDs an agent cited against the provisioned
// window.
type CitationValidation struct {
	Valid    []string `json:"valid"`             // cited and provisioned
	Invalid  []string `json:"invalid,omitempty"` // cited but never provisioned
	Missing  []string `json:"missing,omitempty"` // semantically used but uncited
	Accuracy float64  `json:"accuracy"`          // |valid| / |cited|, 1.0 when nothing cited
}

// UsageReport is the outcome of tracking one response against its window.
type UsageReport struct {
	AgentID          string             `json:"agent_id"`
	UsedElements     []string           `json:"used_elements"`
	CitedElements    []string           `json:"cited_elements"`
	SemanticElements []string           `json:"semantic_elements,omitempty"`
	Underutilized    []string           `json:"underutilized"`
	UtilizationRate  float64            `json:"utilization_rate"`
	Validation       CitationValidation `json:"validation"`
}

// UsageEntry is one row of the usage log.
type UsageEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	AgentID         string    `json:"agent_id"`
	Phase           string    `json:"phase"`
	Task            string    `json:"task"`
	Provisioned     int       `json:"provisioned"`
	Referenced      int       `json:"referenced"`
	TokensUsed      int       `json:"tokens_used"`
	TokenBudget     int       `json:"token_budget"`
	UtilizationRate float64   `json:"utilization_rate"`
}

// UsageStats aggregates the usage log for template tuning.
type UsageStats struct {
	Windows        int     `json:"windows"`
	AvgUtilization float64 `json:"avg_utilization"`
	AvgTokensUsed  float64 `json:"avg_tokens_used"`
	AvgProvisioned float64 `json:"avg_provisioned"`
}

// UsageSink receives a copy of every usage entry for best-effort persistence.
type UsageSink interface {
	RecordUsage(entry UsageEntry)
}

// Tracker computes per-element usage from agent responses through two
// independent signals: literal ID citation and semantic similarity between
// element content and the response.
type Tracker struct {
	engine    embedding.Engine
	threshold float64
	logger    *slog.Logger
	sink      UsageSink

	mu  sync.RWMutex
	log []UsageEntry
}

// NewTracker creates a tracker. threshold is the cosine similarity floor for
// the semantic signal; sink may be nil.
func NewTracker(engine embedding.Engine, threshold float64, sink UsageSink) *Tracker {
	return &Tracker{
		engine:    engine,
		threshold: threshold,
		sink:      sink,
		logger:    slog.With("component", "provision.tracker"),
	}
}

// TrackUsage scores the response against the window, marks the used elements
// on the context, appends a usage log entry, and returns the report.
func (t *Tracker) TrackUsage(ctx context.Context, window *AgentContext, response string) (*UsageReport, error) {
	cited := ExtractCitations(response)
	provisioned := make(map[string]bool, len(window.Elements()))
	for _, id := range window.ElementIDs() {
		provisioned[id] = true
	}

	used := make(map[string]bool)
	var validCited, invalidCited []string
	for _, id := range cited {
		if provisioned[id] {
			used[id] = true
			validCited = append(validCited, id)
		} else {
			invalidCited = append(invalidCited, id)
		}
	}

	semantic := t.semanticMatches(ctx, window, response)
	var missing []string
	for _, id := range semantic {
		if !used[id] {
			missing = append(missing, id)
		}
		used[id] = true
	}

	for id := range used {
		if err := window.Reference(id); err != nil {
			return nil, err
		}
	}

	total := len(window.Elements())
	rate := 0.0
	if total > 0 {
		rate = float64(len(used)) / float64(total)
	}
	window.UtilizationRate = rate

	var underutilized []string
	for _, id := range window.ElementIDs() {
		if !used[id] {
			underutilized = append(underutilized, id)
		}
	}
	sort.Strings(underutilized)

	accuracy := 1.0
	if len(cited) > 0 {
		accuracy = float64(len(validCited)) / float64(len(cited))
	}

	report := &UsageReport{
		AgentID:          window.AgentID,
		UsedElements:     sortedKeys(used),
		CitedElements:    cited,
		SemanticElements: semantic,
		Underutilized:    underutilized,
		UtilizationRate:  rate,
		Validation: CitationValidation{
			Valid:    validCited,
			Invalid:  invalidCited,
			Missing:  missing,
			Accuracy: accuracy,
		},
	}

	entry := UsageEntry{
		Timestamp:       time.Now().UTC(),
		AgentID:         window.AgentID,
		Phase:           string(window.Phase),
		Task:            window.Task,
		Provisioned:     total,
		Referenced:      len(used),
		TokensUsed:      window.TotalTokens(),
		TokenBudget:     window.TokenBudget,
		UtilizationRate: rate,
	}
	t.mu.Lock()
	t.log = append(t.log, entry)
	t.mu.Unlock()
	if t.sink != nil {
		t.sink.RecordUsage(entry)
	}

	t.logger.Debug("Context usage tracked",
		"agent", window.AgentID, "utilization", rate,
		"cited", len(cited), "semantic", len(semantic))
	return report, nil
}

// semanticMatches returns element IDs whose content is similar to the
// response above the threshold, capped at semanticTopN by similarity.
func (t *Tracker) semanticMatches(ctx context.Context, window *AgentContext, response string) []string {
	if strings.TrimSpace(response) == "" {
		return nil
	}
	responseVec, err := t.engine.EmbedQuery(ctx, response)
	if err != nil {
		t.logger.Warn("Response embedding failed, semantic signal skipped", "error", err)
		return nil
	}

	type match struct {
		id    string
		score float64
	}
	var matches []match
	for _, element := range window.Elements() {
		vec := element.Embedding
		if vec == nil {
			docVec, err := t.engine.EmbedQuery(ctx, element.Content)
			if err != nil {
				continue
			}
			vec = docVec
		}
		if score := embedding.Cosine(responseVec, vec); score >= t.threshold {
			matches = append(matches, match{element.ID, score})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > semanticTopN {
		matches = matches[:semanticTopN]
	}
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.id
	}
	return ids
}

// Log returns a copy of the usage log, optionally filtered by agent.
func (t *Tracker) Log(agentID string) []UsageEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]UsageEntry, 0, len(t.log))
	for _, entry := range t.log {
		if agentID == "" || entry.AgentID == agentID {
			out = append(out, entry)
		}
	}
	return out
}

// Stats aggregates the usage log, optionally filtered by agent.
func (t *Tracker) Stats(agentID string) UsageStats {
	entries := t.Log(agentID)
	stats := UsageStats{Windows: len(entries)}
	if len(entries) == 0 {
		return stats
	}
	for _, entry := range entries {
		stats.AvgUtilization += entry.UtilizationRate
		stats.AvgTokensUsed += float64(entry.TokensUsed)
		stats.AvgProvisioned += float64(entry.Provisioned)
	}
	n := float64(len(entries))
	stats.AvgUtilization /= n
	stats.AvgTokensUsed /= n
	stats.AvgProvisioned /= n
	return stats
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
