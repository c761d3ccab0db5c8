// Package provision builds bounded, phase-templated context windows for agent
// tasks and tracks how much of each provisioned window the agent actually
// used. Every element carries a globally unique, prefix-typed ID that agents
// cite in their responses.
package provision

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/aether-os/aether/pkg/ems"
)

// ElementKind classifies a context element and determines its ID prefix.
type ElementKind string

const (
	// KindDoctrine is a doctrine or procedure snippet (DOC-)
	KindDoctrine ElementKind = "doctrine"
	// KindThreat is current threat intelligence (THR-)
	KindThreat ElementKind = "threat"
	// KindMission is mission and asset situational data (MSN-)
	KindMission ElementKind = "mission"
	// KindHistorical is prior-cycle outputs and lessons (HIST-)
	KindHistorical ElementKind = "historical"
	// KindCollaborative is recent inter-agent coordination (COLL-)
	KindCollaborative ElementKind = "collaborative"
)

var kindPrefixes = map[ElementKind]string{
	KindDoctrine:      "DOC",
	KindThreat:        "THR",
	KindMission:       "MSN",
	KindHistorical:    "HIST",
	KindCollaborative: "COLL",
}

// Prefix returns the ID prefix for the kind, or "ELEM" for unknown kinds.
func (k ElementKind) Prefix() string {
	if p, ok := kindPrefixes[k]; ok {
		return p
	}
	return "ELEM"
}

// Layer identifies which window layer an element was provisioned into.
type Layer string

const (
	// LayerDoctrinal holds doctrine applicable to the task
	LayerDoctrinal Layer = "doctrinal"
	// LayerSituational holds current threats, allocations, and assets
	LayerSituational Layer = "situational"
	// LayerHistorical holds prior-cycle outputs and lessons
	LayerHistorical Layer = "historical"
	// LayerCollaborative holds recent coordination with other agents
	LayerCollaborative Layer = "collaborative"
)

// AllLayers returns the layers in provisioning order.
func AllLayers() []Layer {
	return []Layer{LayerDoctrinal, LayerSituational, LayerHistorical, LayerCollaborative}
}

// pruneOrder is the order layers give up elements under token pressure.
var pruneOrder = []Layer{LayerCollaborative, LayerHistorical, LayerSituational, LayerDoctrinal}

// ContextElement is the citation unit: one provisioned piece of information
// with its relevance to the task and an optional embedding for semantic
// usage tracking.
type ContextElement struct {
	ID             string            `json:"id"`
	Kind           ElementKind       `json:"kind"`
	Content        string            `json:"content"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	RelevanceScore float64           `json:"relevance_score"`
	Tokens         int               `json:"tokens"`
	Embedding      []float32         `json:"-"`
	SourceID       string            `json:"source_id,omitempty"`
	Phase          ems.Phase         `json:"phase,omitempty"`
}

// EstimateTokens approximates the token count of a text at four characters
// per token, matching the budget arithmetic used throughout the system.
func EstimateTokens(text string) int {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}

// IDFactory issues globally unique, prefix-typed element IDs with one
// monotonic counter per kind.
type IDFactory struct {
	mu       sync.Mutex
	counters map[ElementKind]int
}

// NewIDFactory creates a factory with all counters at zero.
func NewIDFactory() *IDFactory {
	return &IDFactory{counters: make(map[ElementKind]int)}
}

// Next returns the next ID for the kind, e.g. "DOC-7".
func (f *IDFactory) Next(kind ElementKind) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters[kind]++
	return fmt.Sprintf("%s-%d", kind.Prefix(), f.counters[kind])
}
