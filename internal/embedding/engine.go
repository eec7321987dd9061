// Package embedding provides vector embedding generation for semantic
// search over work items. The default engine is fully local and
// deterministic; an Ollama-backed engine is available for real models.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Dimension is the fixed embedding dimension D used by the store schema.
const Dimension = 384

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text. Empty input must
	// return a zero vector of length Dimensions().
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string
}

// NewEngine creates an engine from a model name. "local-hash-384" (the
// default) is the deterministic local engine; "ollama" selects the Ollama
// client.
func NewEngine(model, ollamaEndpoint string) (Engine, error) {
	switch model {
	case "", "local-hash-384", "local":
		return NewLocalEngine(), nil
	case "ollama":
		return NewOllamaEngine(ollamaEndpoint, "")
	default:
		return nil, fmt.Errorf("unsupported embedding model: %q (use local-hash-384 or ollama)", model)
	}
}

// ZeroVector returns an all-zero vector of dimension dim.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}

// IsZero reports whether every component of v is zero.
func IsZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Normalize L2-normalizes v in place. Zero vectors are left unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
}

// CosineSimilarity calculates the cosine similarity between two vectors.
// Returns 0 for zero-magnitude vectors, an error on dimension mismatch.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors must have the same length: %d != %d", len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}
