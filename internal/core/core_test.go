package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/config"
	"github.com/jivedev/jive/internal/resolver"
	"github.com/jivedev/jive/internal/types"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.DataPath = filepath.Join(dir, "data")
	cfg.TasksRoot = filepath.Join(dir, "tasks")

	c, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewWiresComponents(t *testing.T) {
	c := newTestCore(t)
	assert.NotNil(t, c.Store)
	assert.NotNil(t, c.Resolver)
	assert.NotNil(t, c.Orchestrator)
	assert.NotNil(t, c.Handlers)
	assert.Equal(t, 384, c.Embedder.Dimensions())
}

func TestComponentsShareOneStore(t *testing.T) {
	c := newTestCore(t)
	ctx := context.Background()

	require.NoError(t, c.Store.CreateWorkItem(ctx, &types.WorkItem{
		ID: "init-1", Type: types.TypeInitiative,
		Title: "Ship the launch", Description: "Umbrella",
	}))

	got, kind, err := c.Resolver.Resolve(ctx, "Ship the launch")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "init-1", got.ID)
	assert.Equal(t, resolver.MatchExactTitle, kind)
}

func TestNewRejectsUnknownEmbeddingModel(t *testing.T) {
	cfg := config.Default()
	cfg.DataPath = filepath.Join(t.TempDir(), "data")
	cfg.EmbeddingModel = "quantum"

	_, err := New(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding")
}
