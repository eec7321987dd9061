package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// LocalEngine is a deterministic feature-hashing embedder. It maps
// lowercased word unigrams and bigrams into Dimension buckets and
// L2-normalizes the result. It needs no model download and produces the
// same vector for the same input on every platform, which is what the
// store's embedding-determinism contract requires of the default engine.
//
// The geometry is crude compared to a learned model: similarity is driven
// by shared vocabulary rather than meaning. Good enough for offline tests
// and air-gapped use; configure the ollama engine for real semantics.
type LocalEngine struct{}

// NewLocalEngine creates the deterministic local engine.
func NewLocalEngine() *LocalEngine {
	return &LocalEngine{}
}

// Name returns the engine name.
func (e *LocalEngine) Name() string { return "local-hash-384" }

// Dimensions returns the embedding dimension.
func (e *LocalEngine) Dimensions() int { return Dimension }

// Embed generates the feature-hash embedding. Empty or whitespace-only
// input returns the zero vector.
func (e *LocalEngine) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, Dimension)

	words := tokenize(text)
	if len(words) == 0 {
		return vec, nil
	}

	for i, w := range words {
		addFeature(vec, w)
		if i+1 < len(words) {
			addFeature(vec, w+" "+words[i+1])
		}
	}

	Normalize(vec)
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (e *LocalEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// addFeature hashes the feature into a bucket with a signed weight so that
// collisions partially cancel instead of compounding.
func addFeature(vec []float32, feature string) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := int(sum % uint64(len(vec)))
	if sum&(1<<63) != 0 {
		vec[bucket] -= 1
	} else {
		vec[bucket] += 1
	}
}

// tokenize lowercases and splits on any non-letter/digit rune.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
