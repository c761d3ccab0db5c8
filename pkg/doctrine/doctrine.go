// Package doctrine provides the semantic-search facade over the doctrine
// knowledge base. Documents are embedded on ingest and queried by cosine
// similarity; the authorization engine consults CheckCompliance for the
// doctrinal-fit factor.
package doctrine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aether-os/aether/pkg/embedding"
)

// ErrUnavailable indicates the knowledge base backend cannot be reached.
// The authorization engine treats this as a soft failure (doctrine_unavailable),
// never a hard deny.
var ErrUnavailable = errors.New("doctrine knowledge base unavailable")

// ErrProcedureNotFound indicates no procedure document matches the name.
var ErrProcedureNotFound = errors.New("procedure not found")

// Content types stored in the knowledge base.
const (
	ContentTypeDoctrine  = "doctrine"
	ContentTypeProcedure = "procedure"
	ContentTypePolicy    = "policy"
)

// Compliance verdicts returned by CheckCompliance.
const (
	VerdictCompliant = "compliant"
	VerdictReview    = "review_required"
	VerdictUnknown   = "unknown"
)

// Document is one ingested doctrine chunk.
type Document struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Snippet is a query hit: a document plus its relevance to the query.
type Snippet struct {
	Document
	Relevance float64 `json:"relevance"`
}

// ComplianceResult is the doctrinal-fit verdict for an action description.
type ComplianceResult struct {
	Verdict   string   `json:"verdict"`
	Citations []string `json:"citations,omitempty"`
	Rationale string   `json:"rationale,omitempty"`
}

// KB is the narrow interface the broker and authorization engine consume.
type KB interface {
	// Query returns the top-k most relevant snippets, optionally filtered by
	// metadata equality.
	Query(ctx context.Context, text string, filters map[string]string, topK int) ([]Snippet, error)

	// GetProcedure looks up a procedure document by name.
	GetProcedure(ctx context.Context, name string) (*Document, error)

	// CheckCompliance returns a doctrinal-fit verdict for an action description.
	CheckCompliance(ctx context.Context, actionDescription string) (*ComplianceResult, error)
}

// defaultTopK matches the source system's query size.
const defaultTopK = 5

// complianceRelevanceFloor is the minimum similarity for a doctrine snippet
// to count as evidence in a compliance check.
const complianceRelevanceFloor = 0.25

// MemoryKB is an in-process vector index over an embedding engine. Adequate
// for the doctrine corpus sizes this system carries; swapping in an external
// vector store only requires reimplementing KB.
type MemoryKB struct {
	engine embedding.Engine

	mu      sync.RWMutex
	docs    map[string]Document
	vectors map[string][]float32
}

// NewMemoryKB creates an empty knowledge base over the given engine.
func NewMemoryKB(engine embedding.Engine) *MemoryKB {
	return &MemoryKB{
		engine:  engine,
		docs:    make(map[string]Document),
		vectors: make(map[string][]float32),
	}
}

// Add ingests a single document, embedding its content.
func (kb *MemoryKB) Add(ctx context.Context, doc Document) error {
	return kb.AddBatch(ctx, []Document{doc})
}

// AddBatch ingests documents in one embedding call.
func (kb *MemoryKB) AddBatch(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document at index %d has no ID", i)
		}
		texts[i] = doc.Content
	}

	vectors, err := kb.engine.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()
	for i, doc := range docs {
		kb.docs[doc.ID] = doc
		kb.vectors[doc.ID] = vectors[i]
	}
	return nil
}

// Delete removes a document by ID. Deleting an absent ID is a no-op.
func (kb *MemoryKB) Delete(id string) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	delete(kb.docs, id)
	delete(kb.vectors, id)
}

// Count returns the number of ingested documents.
func (kb *MemoryKB) Count() int {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return len(kb.docs)
}

// Query returns the top-k most relevant snippets for the text.
func (kb *MemoryKB) Query(ctx context.Context, text string, filters map[string]string, topK int) ([]Snippet, error) {
	if topK <= 0 {
		topK = defaultTopK
	}

	queryVec, err := kb.engine.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	kb.mu.RLock()
	defer kb.mu.RUnlock()

	snippets := make([]Snippet, 0, len(kb.docs))
	for id, doc := range kb.docs {
		if !matchesFilters(doc.Metadata, filters) {
			continue
		}
		snippets = append(snippets, Snippet{
			Document:  doc,
			Relevance: embedding.Cosine(queryVec, kb.vectors[id]),
		})
	}

	sort.Slice(snippets, func(i, j int) bool {
		if snippets[i].Relevance != snippets[j].Relevance {
			return snippets[i].Relevance > snippets[j].Relevance
		}
		return snippets[i].ID < snippets[j].ID
	})
	if len(snippets) > topK {
		snippets = snippets[:topK]
	}
	return snippets, nil
}

// GetProcedure looks up a procedure document by its name metadata.
func (kb *MemoryKB) GetProcedure(_ context.Context, name string) (*Document, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	for _, doc := range kb.docs {
		if doc.Metadata["content_type"] != ContentTypeProcedure {
			continue
		}
		if strings.EqualFold(doc.Metadata["name"], name) {
			d := doc
			return &d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProcedureNotFound, name)
}

// CheckCompliance queries doctrine for the action description and derives a
// verdict from the evidence: prohibitive language in a relevant snippet flags
// the action for review; relevant non-prohibitive doctrine reads as
// compliant; no relevant doctrine at all is unknown.
func (kb *MemoryKB) CheckCompliance(ctx context.Context, actionDescription string) (*ComplianceResult, error) {
	snippets, err := kb.Query(ctx, actionDescription, nil, defaultTopK)
	if err != nil {
		return nil, err
	}

	result := &ComplianceResult{Verdict: VerdictUnknown}
	for _, snippet := range snippets {
		if snippet.Relevance < complianceRelevanceFloor {
			continue
		}
		result.Citations = append(result.Citations, snippet.ID)
		if Restrictive(snippet.Content) {
			result.Verdict = VerdictReview
			result.Rationale = fmt.Sprintf("doctrine %s contains restrictive guidance", snippet.ID)
			return result, nil
		}
	}
	if len(result.Citations) > 0 {
		result.Verdict = VerdictCompliant
	}
	return result, nil
}

var prohibitionMarkers = []string{
	"prohibited",
	"must not",
	"shall not",
	"forbidden",
	"not authorized",
	"requires approval",
}

// Restrictive reports whether doctrine text carries prohibitive or
// approval-gated language. Compliance checks and cross-source consistency
// reviews both key off it.
func Restrictive(content string) bool {
	lower := strings.ToLower(content)
	for _, marker := range prohibitionMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func matchesFilters(metadata, filters map[string]string) bool {
	for key, want := range filters {
		if metadata[key] != want {
			return false
		}
	}
	return true
}
