package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalEngineDeterministic(t *testing.T) {
	e := NewLocalEngine()
	ctx := context.Background()

	a, err := e.Embed(ctx, "E-commerce Platform Modernization rebuild the checkout")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "E-commerce Platform Modernization rebuild the checkout")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, Dimension)
	assert.False(t, IsZero(a))
}

func TestLocalEngineEmptyInputZeroVector(t *testing.T) {
	e := NewLocalEngine()
	for _, in := range []string{"", "   ", "\t\n"} {
		v, err := e.Embed(context.Background(), in)
		require.NoError(t, err)
		assert.Len(t, v, Dimension)
		assert.True(t, IsZero(v), "input %q should embed to zero vector", in)
	}
}

func TestLocalEngineNormalized(t *testing.T) {
	e := NewLocalEngine()
	v, err := e.Embed(context.Background(), "payment gateway migration")
	require.NoError(t, err)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestLocalEngineSimilarityOrdering(t *testing.T) {
	e := NewLocalEngine()
	ctx := context.Background()

	query, err := e.Embed(ctx, "checkout payment flow")
	require.NoError(t, err)
	near, err := e.Embed(ctx, "rework the checkout payment flow for mobile")
	require.NoError(t, err)
	far, err := e.Embed(ctx, "kubernetes node autoscaler tuning")
	require.NoError(t, err)

	simNear, err := CosineSimilarity(query, near)
	require.NoError(t, err)
	simFar, err := CosineSimilarity(query, far)
	require.NoError(t, err)
	assert.Greater(t, simNear, simFar)
}

func TestEmbedBatch(t *testing.T) {
	e := NewLocalEngine()
	vecs, err := e.EmbedBatch(context.Background(), []string{"one", "two", ""})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.False(t, IsZero(vecs[0]))
	assert.True(t, IsZero(vecs[2]))
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	c := []float32{0, 1, 0}

	sim, err := CosineSimilarity(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sim, 1e-9)

	sim, err = CosineSimilarity(a, c)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, sim, 1e-9)

	_, err = CosineSimilarity(a, []float32{1, 2})
	assert.Error(t, err)

	sim, err = CosineSimilarity([]float32{0, 0, 0}, a)
	require.NoError(t, err)
	assert.Zero(t, sim)
}

func TestNewEngine(t *testing.T) {
	e, err := NewEngine("", "")
	require.NoError(t, err)
	assert.Equal(t, "local-hash-384", e.Name())
	assert.Equal(t, Dimension, e.Dimensions())

	e, err = NewEngine("ollama", "http://example:11434")
	require.NoError(t, err)
	assert.Contains(t, e.Name(), "ollama")

	_, err = NewEngine("word2vec", "")
	assert.Error(t, err)
}

func TestNormalizeZeroVectorUnchanged(t *testing.T) {
	v := make([]float32, 4)
	Normalize(v)
	assert.True(t, IsZero(v))
}
