package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/embedding"
	"github.com/jivedev/jive/internal/store/sqlite"
	"github.com/jivedev/jive/internal/types"
)

func newTestResolver(t *testing.T) (*Resolver, *sqlite.SQLiteStore) {
	t.Helper()
	engine, err := embedding.NewEngine("local", "")
	require.NoError(t, err)
	st, err := sqlite.Open(t.TempDir(), engine, zap.NewNop(), sqlite.Options{EnableFTS: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, zap.NewNop()), st
}

func seed(t *testing.T, st *sqlite.SQLiteStore, item *types.WorkItem) {
	t.Helper()
	if item.Type == "" {
		item.Type = types.TypeTask
	}
	if item.Type == types.TypeTask && item.ParentID == "" {
		item.ParentID = "story-root"
	}
	require.NoError(t, st.CreateWorkItem(context.Background(), item))
}

func TestResolveByUUID(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	id := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"
	seed(t, st, &types.WorkItem{ID: id, Title: "UUID addressed"})

	item, kind, err := r.Resolve(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, MatchUUID, kind)
	assert.Equal(t, id, item.ID)
}

func TestResolveMissingUUIDDoesNotFallThrough(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	// A title that happens to contain a UUID must not be reachable when the
	// input itself parses as a UUID.
	seed(t, st, &types.WorkItem{ID: "task-1", Title: "6ba7b810-9dad-11d1-80b4-00c04fd430c8"})

	item, kind, err := r.Resolve(ctx, "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, MatchNone, kind)
}

func TestResolveByPlainID(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	seed(t, st, &types.WorkItem{ID: "task-42", Title: "Slug addressed"})

	item, kind, err := r.Resolve(ctx, "task-42")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, MatchUUID, kind)
}

func TestResolveExactTitle(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	seed(t, st, &types.WorkItem{ID: "task-1", Title: "Implement login"})
	seed(t, st, &types.WorkItem{ID: "task-2", Title: "Implement logout"})

	item, kind, err := r.Resolve(ctx, "  implement LOGIN  ")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, MatchExactTitle, kind)
	assert.Equal(t, "task-1", item.ID)
}

func TestResolveExactTitleTieBreaksByRecency(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	seed(t, st, &types.WorkItem{ID: "task-old", Title: "Duplicate title", CreatedAt: old, UpdatedAt: old})
	seed(t, st, &types.WorkItem{ID: "task-new", Title: "Duplicate title", CreatedAt: recent, UpdatedAt: recent})

	item, kind, err := r.Resolve(ctx, "Duplicate title")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, MatchExactTitle, kind)
	assert.Equal(t, "task-new", item.ID)
}

func TestResolveExactTitleTieBreaksBySmallerID(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	stamp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	seed(t, st, &types.WorkItem{ID: "task-b", Title: "Same everything", CreatedAt: stamp, UpdatedAt: stamp})
	seed(t, st, &types.WorkItem{ID: "task-a", Title: "Same everything", CreatedAt: stamp, UpdatedAt: stamp})

	item, _, err := r.Resolve(ctx, "Same everything")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "task-a", item.ID)
}

func TestResolveByKeywordPhrase(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	seed(t, st, &types.WorkItem{ID: "task-1", Title: "Implement OAuth login flow", Description: "Providers: google, github"})
	seed(t, st, &types.WorkItem{ID: "task-2", Title: "Fix dashboard charts"})

	item, kind, err := r.Resolve(ctx, "oauth login")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, MatchKeyword, kind)
	assert.Equal(t, "task-1", item.ID)
}

func TestResolveUnresolvableReturnsNil(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	seed(t, st, &types.WorkItem{ID: "task-1", Title: "Something"})

	item, kind, err := r.Resolve(ctx, "zzz qqq vvv")
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, MatchNone, kind)

	item, kind, err = r.Resolve(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, item)
	assert.Equal(t, MatchNone, kind)
}

func TestResolveID(t *testing.T) {
	r, st := newTestResolver(t)
	ctx := context.Background()

	seed(t, st, &types.WorkItem{ID: "task-1", Title: "Addressable"})

	id, kind, err := r.ResolveID(ctx, "Addressable")
	require.NoError(t, err)
	assert.Equal(t, "task-1", id)
	assert.Equal(t, MatchExactTitle, kind)
}
