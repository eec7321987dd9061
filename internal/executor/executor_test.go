package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/depgraph"
	"github.com/jivedev/jive/internal/embedding"
	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/store/sqlite"
	"github.com/jivedev/jive/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	driver *Driver
	store  *sqlite.SQLiteStore
	deps   *depgraph.Engine

	mu      sync.Mutex
	reports []types.ProgressUpdate
}

func newHarness(t *testing.T, maxParallel int) *harness {
	t.Helper()
	eng, err := embedding.NewEngine("local", "")
	require.NoError(t, err)
	st, err := sqlite.Open(t.TempDir(), eng, zap.NewNop(), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	deps := depgraph.New(st, zap.NewNop(), 0)
	return &harness{
		driver: New(st, deps, zap.NewNop(), maxParallel),
		store:  st,
		deps:   deps,
	}
}

func (h *harness) report(u types.ProgressUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reports = append(h.reports, u)
}

func (h *harness) completions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var ids []string
	for _, r := range h.reports {
		if r.Kind == types.UpdateCompletion {
			ids = append(ids, r.Message)
		}
	}
	return ids
}

func seedStory(t *testing.T, h *harness, taskIDs ...string) *types.WorkItem {
	t.Helper()
	ctx := context.Background()
	root := &types.WorkItem{ID: "story-1", Type: types.TypeStory, Title: "Root story", ParentID: "feat-x"}
	// The store only validates shape, so a free-floating story is fine here.
	require.NoError(t, h.store.CreateWorkItem(ctx, root))
	for _, id := range taskIDs {
		require.NoError(t, h.store.CreateWorkItem(ctx, &types.WorkItem{
			ID: id, Type: types.TypeTask, Title: "Task " + id,
			ParentID: root.ID, Status: types.StatusReady,
		}))
	}
	return root
}

func TestRunSequentialCompletesChildren(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	root := seedStory(t, h, "task-a", "task-b", "task-c")

	err := h.driver.Run(ctx, Job{ExecutionID: "exec-1", Root: root, Mode: types.ModeSequential}, h.report)
	require.NoError(t, err)

	for _, id := range []string{"task-a", "task-b", "task-c"} {
		got, err := h.store.GetWorkItem(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusDone, got.Status, id)
		assert.Equal(t, 100.0, got.ProgressPercentage, id)
	}
	assert.Equal(t,
		[]string{"completed task-a", "completed task-b", "completed task-c"},
		h.completions(), "sequential mode preserves order")
}

func TestRunParallelCompletesAllChildren(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	root := seedStory(t, h, "task-a", "task-b", "task-c", "task-d")

	err := h.driver.Run(ctx, Job{ExecutionID: "exec-1", Root: root, Mode: types.ModeParallel}, h.report)
	require.NoError(t, err)

	assert.Len(t, h.completions(), 4)
	for _, id := range []string{"task-a", "task-b", "task-c", "task-d"} {
		got, err := h.store.GetWorkItem(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusDone, got.Status)
	}
}

func TestRunSkipsAlreadyDoneChildren(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	root := seedStory(t, h, "task-a")
	require.NoError(t, h.store.CreateWorkItem(ctx, &types.WorkItem{
		ID: "task-done", Type: types.TypeTask, Title: "Already done",
		ParentID: root.ID, Status: types.StatusDone, ProgressPercentage: 100,
	}))

	err := h.driver.Run(ctx, Job{ExecutionID: "exec-1", Root: root, Mode: types.ModeSequential}, h.report)
	require.NoError(t, err)
	assert.Equal(t, []string{"completed task-a"}, h.completions())
}

func TestRunLeafExecutesRootItself(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	leaf := &types.WorkItem{ID: "task-solo", Type: types.TypeTask, Title: "Solo", ParentID: "story-x"}
	require.NoError(t, h.store.CreateWorkItem(ctx, leaf))

	err := h.driver.Run(ctx, Job{ExecutionID: "exec-1", Root: leaf, Mode: types.ModeSequential}, h.report)
	require.NoError(t, err)

	got, err := h.store.GetWorkItem(ctx, "task-solo")
	require.NoError(t, err)
	assert.Equal(t, types.StatusDone, got.Status)
	assert.Equal(t, 100.0, got.ProgressPercentage)
}

func TestRunDependencyBasedRespectsEdges(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	root := seedStory(t, h, "task-a", "task-b")

	// task-a waits for task-b.
	require.NoError(t, h.store.AddDependency(ctx, &types.Dependency{
		SourceID: "task-a", TargetID: "task-b", Kind: types.DepDependsOn,
	}))

	err := h.driver.Run(ctx, Job{ExecutionID: "exec-1", Root: root, Mode: types.ModeDependencyBased}, h.report)
	require.NoError(t, err)
	assert.Equal(t, []string{"completed task-b", "completed task-a"}, h.completions())
}

func TestRunDependencyBasedDeadlock(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	root := seedStory(t, h, "task-a", "task-b")

	require.NoError(t, h.store.AddDependency(ctx, &types.Dependency{
		SourceID: "task-a", TargetID: "task-b", Kind: types.DepDependsOn,
	}))
	require.NoError(t, h.store.AddDependency(ctx, &types.Dependency{
		SourceID: "task-b", TargetID: "task-a", Kind: types.DepDependsOn,
	}))

	err := h.driver.Run(ctx, Job{ExecutionID: "exec-1", Root: root, Mode: types.ModeDependencyBased}, h.report)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock")
}

// failingStore forces the completion write to fail for one item.
type failingStore struct {
	store.Store
	failID string
}

func (f *failingStore) UpdateWorkItem(ctx context.Context, id string, upd store.WorkItemUpdate) (*types.WorkItem, error) {
	if id == f.failID {
		return nil, fmt.Errorf("disk full writing %s", id)
	}
	return f.Store.UpdateWorkItem(ctx, id, upd)
}

func TestRunDependencyBasedFailureBlocksDependents(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	root := seedStory(t, h, "task-a", "task-b", "task-c")

	// task-a waits for task-b; task-c is independent.
	require.NoError(t, h.store.AddDependency(ctx, &types.Dependency{
		SourceID: "task-a", TargetID: "task-b", Kind: types.DepDependsOn,
	}))

	driver := New(&failingStore{Store: h.store, failID: "task-b"}, h.deps, zap.NewNop(), 1)
	err := driver.Run(ctx, Job{ExecutionID: "exec-1", Root: root, Mode: types.ModeDependencyBased}, h.report)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task-b")

	got, err := h.store.GetWorkItem(ctx, "task-a")
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, got.Status, "dependents of a failed child are not dispatched")
	assert.Equal(t, []string{"completed task-c"}, h.completions(), "independent siblings still run")
}

func TestRunHonorsCancellation(t *testing.T) {
	h := newHarness(t, 0)
	root := seedStory(t, h, "task-a", "task-b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.driver.Run(ctx, Job{ExecutionID: "exec-1", Root: root, Mode: types.ModeSequential}, h.report)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	got, err := h.store.GetWorkItem(context.Background(), "task-a")
	require.NoError(t, err)
	assert.Equal(t, types.StatusReady, got.Status, "no child started after cancellation")
}

func TestTaskRunsRecorded(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()
	root := seedStory(t, h, "task-a")

	err := h.driver.Run(ctx, Job{ExecutionID: "exec-1", Root: root, Mode: types.ModeSequential}, h.report)
	require.NoError(t, err)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.NotEmpty(t, h.reports)
	assert.Equal(t, types.UpdateProgress, h.reports[0].Kind)
	assert.Equal(t, types.UpdateCompletion, h.reports[len(h.reports)-1].Kind)
}
