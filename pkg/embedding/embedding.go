// Package embedding provides the vector embedding engine used for semantic
// relevance scoring in the doctrine KB and the context utilization tracker.
package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
)

// Engine produces vector embeddings for text. Implementations must return
// vectors of a fixed dimension for the life of the engine.
type Engine interface {
	// EmbedDocuments embeds a batch of texts, one vector per text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery embeds a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Cosine returns the cosine similarity of two vectors, or 0 when either
// vector is empty, zero, or the dimensions differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// LangchainEngine adapts a langchaingo embedder to the Engine interface.
// Used when an LLM provider with an embeddings endpoint is configured.
type LangchainEngine struct {
	embedder embeddings.Embedder
}

// NewLangchainEngine wraps an embedder client (e.g. the openai LLM client)
// in an Engine.
func NewLangchainEngine(client embeddings.EmbedderClient) (*LangchainEngine, error) {
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &LangchainEngine{embedder: embedder}, nil
}

// EmbedDocuments embeds a batch of texts via the provider.
func (e *LangchainEngine) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents failed: %w", err)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query text via the provider.
func (e *LangchainEngine) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query failed: %w", err)
	}
	return vector, nil
}

// hashDimensions is the vector size of the hash engine. Large enough to keep
// token collisions rare for short operational texts.
const hashDimensions = 256

// HashEngine is a deterministic, dependency-free fallback engine based on
// token feature hashing. Similarity degrades to weighted token overlap, which
// is adequate for tests and for development without provider credentials.
type HashEngine struct{}

// NewHashEngine creates a hash-based embedding engine.
func NewHashEngine() *HashEngine {
	return &HashEngine{}
}

// EmbedDocuments embeds each text independently. Never fails.
func (e *HashEngine) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = hashEmbed(text)
	}
	return vectors, nil
}

// EmbedQuery embeds a single text. Never fails.
func (e *HashEngine) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return hashEmbed(text), nil
}

func hashEmbed(text string) []float32 {
	vector := make([]float32, hashDimensions)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum32()
		// Sign bit from the hash spreads tokens across both directions,
		// keeping unrelated texts near-orthogonal.
		idx := sum % hashDimensions
		if sum&0x80000000 != 0 {
			vector[idx] -= 1
		} else {
			vector[idx] += 1
		}
	}
	return normalize(vector)
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
