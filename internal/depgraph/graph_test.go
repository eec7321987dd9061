package depgraph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/embedding"
	"github.com/jivedev/jive/internal/store/sqlite"
	"github.com/jivedev/jive/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, *sqlite.SQLiteStore) {
	t.Helper()
	engine, err := embedding.NewEngine("local", "")
	require.NoError(t, err)
	st, err := sqlite.Open(t.TempDir(), engine, zap.NewNop(), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return New(st, zap.NewNop(), 0), st
}

func task(id string, pr types.Priority) *types.WorkItem {
	return &types.WorkItem{
		ID: id, Type: types.TypeTask, Title: "Task " + id,
		ParentID: "story-root", Status: types.StatusReady, Priority: pr,
	}
}

func addEdge(t *testing.T, st *sqlite.SQLiteStore, source, target string, kind types.DependencyKind) {
	t.Helper()
	require.NoError(t, st.AddDependency(context.Background(),
		&types.Dependency{SourceID: source, TargetID: target, Kind: kind}))
}

func TestBuildEdgeDirections(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	items := []*types.WorkItem{
		task("a", types.PriorityMedium),
		task("b", types.PriorityMedium),
		task("c", types.PriorityMedium),
	}
	for _, it := range items {
		require.NoError(t, st.CreateWorkItem(ctx, it))
	}
	addEdge(t, st, "a", "b", types.DepDependsOn) // a waits for b
	addEdge(t, st, "b", "c", types.DepBlocks)    // b blocks c: c waits for b
	addEdge(t, st, "a", "c", types.DepRelatesTo) // no scheduling edge

	g, err := e.Build(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, g.Edges["a"])
	assert.Equal(t, []string{"b"}, g.Edges["c"])
	assert.Empty(t, g.Edges["b"])
	assert.Equal(t, 2, g.EdgeCount())
}

func TestBuildDropsForeignEndpoints(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	items := []*types.WorkItem{task("a", types.PriorityMedium)}
	require.NoError(t, st.CreateWorkItem(ctx, items[0]))
	addEdge(t, st, "a", "outside", types.DepDependsOn)

	g, err := e.Build(ctx, items)
	require.NoError(t, err)
	assert.Zero(t, g.EdgeCount())
}

func TestDependenciesOf(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	done := task("c", types.PriorityMedium)
	done.Status = types.StatusDone
	done.ProgressPercentage = 100
	items := []*types.WorkItem{task("a", types.PriorityMedium), task("b", types.PriorityMedium), done}
	for _, it := range items {
		require.NoError(t, st.CreateWorkItem(ctx, it))
	}
	addEdge(t, st, "a", "b", types.DepDependsOn)
	addEdge(t, st, "b", "c", types.DepDependsOn)

	g, err := e.Build(ctx, items)
	require.NoError(t, err)

	direct := e.DependenciesOf(ctx, g, "a", false, false)
	require.Len(t, direct, 1)
	assert.Equal(t, "b", direct[0].ID)

	transitive := e.DependenciesOf(ctx, g, "a", true, false)
	require.Len(t, transitive, 2)

	blocking := e.DependenciesOf(ctx, g, "a", true, true)
	require.Len(t, blocking, 1, "done prerequisites are not blocking")
	assert.Equal(t, "b", blocking[0].ID)
}

func TestExecutionOrderRespectsEdges(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	items := []*types.WorkItem{
		task("a", types.PriorityCritical),
		task("b", types.PriorityLow),
		task("c", types.PriorityMedium),
	}
	for _, it := range items {
		require.NoError(t, st.CreateWorkItem(ctx, it))
	}
	// a waits for b; b waits for c. Despite a's priority, order is c, b, a.
	addEdge(t, st, "a", "b", types.DepDependsOn)
	addEdge(t, st, "b", "c", types.DepDependsOn)

	g, err := e.Build(ctx, items)
	require.NoError(t, err)

	order := e.ExecutionOrder(g, items)
	require.Len(t, order, 3)
	assert.Equal(t, "c", order[0].ID)
	assert.Equal(t, "b", order[1].ID)
	assert.Equal(t, "a", order[2].ID)
}

func TestExecutionOrderTieBreaks(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	items := []*types.WorkItem{
		task("z", types.PriorityCritical),
		task("m", types.PriorityCritical),
		task("a", types.PriorityLow),
	}
	for _, it := range items {
		require.NoError(t, st.CreateWorkItem(ctx, it))
	}

	g, err := e.Build(ctx, items)
	require.NoError(t, err)

	order := e.ExecutionOrder(g, items)
	require.Len(t, order, 3)
	assert.Equal(t, "m", order[0].ID, "critical ties break by id")
	assert.Equal(t, "z", order[1].ID)
	assert.Equal(t, "a", order[2].ID, "low priority last")
}

func TestExecutionOrderCycleFallsBackToInput(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	items := []*types.WorkItem{task("a", types.PriorityMedium), task("b", types.PriorityMedium)}
	for _, it := range items {
		require.NoError(t, st.CreateWorkItem(ctx, it))
	}
	addEdge(t, st, "a", "b", types.DepDependsOn)
	addEdge(t, st, "b", "a", types.DepDependsOn)

	g, err := e.Build(ctx, items)
	require.NoError(t, err)

	order := e.ExecutionOrder(g, items)
	require.Len(t, order, 2)
	assert.Equal(t, "a", order[0].ID)
	assert.Equal(t, "b", order[1].ID)
}

func TestValidateCleanGraph(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	items := []*types.WorkItem{task("a", types.PriorityMedium), task("b", types.PriorityMedium)}
	for _, it := range items {
		it.ParentID = ""
		it.Type = types.TypeInitiative
		require.NoError(t, st.CreateWorkItem(ctx, it))
	}
	addEdge(t, st, "a", "b", types.DepDependsOn)

	report, err := e.Validate(ctx, items, ValidateOptions{CheckCircular: true, CheckMissing: true})
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.True(t, report.Stats.IsDAG)
	assert.Equal(t, 2, report.Stats.Nodes)
	assert.Equal(t, 1, report.Stats.Edges)
	assert.InDelta(t, 0.5, report.Stats.Density, 0.001)
}

func TestValidateReportsCyclesAndFixes(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	items := []*types.WorkItem{
		task("a", types.PriorityMedium),
		task("b", types.PriorityMedium),
		task("c", types.PriorityMedium),
	}
	for _, it := range items {
		require.NoError(t, st.CreateWorkItem(ctx, it))
	}
	addEdge(t, st, "a", "b", types.DepDependsOn)
	addEdge(t, st, "b", "c", types.DepDependsOn)
	addEdge(t, st, "c", "a", types.DepDependsOn)

	report, err := e.Validate(ctx, items, ValidateOptions{CheckCircular: true, SuggestFixes: true})
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.False(t, report.Stats.IsDAG)
	require.Len(t, report.Cycles, 1)
	assert.Equal(t, []string{"a", "b", "c"}, report.Cycles[0].Nodes)
	require.Len(t, report.SuggestedFixes, 1)
	assert.Equal(t, "c", report.SuggestedFixes[0].RemoveSource)
	assert.Equal(t, "a", report.SuggestedFixes[0].RemoveTarget)
}

func TestValidateReportsMissingAndOrphans(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()

	orphan := task("a", types.PriorityMedium)
	orphan.ParentID = "gone-parent"
	require.NoError(t, st.CreateWorkItem(ctx, orphan))
	addEdge(t, st, "a", "missing-dep", types.DepDependsOn)

	report, err := e.Validate(ctx, []*types.WorkItem{orphan},
		ValidateOptions{CheckCircular: true, CheckMissing: true})
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.NotEmpty(t, report.Missing)
	assert.Equal(t, "missing-dep", report.Missing[0].MissingID)
	assert.Equal(t, []string{"a"}, report.Orphans)
}

func TestCycleEnumerationCap(t *testing.T) {
	engine, err := embedding.NewEngine("local", "")
	require.NoError(t, err)
	st, err := sqlite.Open(t.TempDir(), engine, zap.NewNop(), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	e := New(st, zap.NewNop(), 1)

	ctx := context.Background()
	items := []*types.WorkItem{
		task("a", types.PriorityMedium),
		task("b", types.PriorityMedium),
		task("c", types.PriorityMedium),
	}
	for _, it := range items {
		require.NoError(t, st.CreateWorkItem(ctx, it))
	}
	// Two distinct 2-cycles through a.
	addEdge(t, st, "a", "b", types.DepDependsOn)
	addEdge(t, st, "b", "a", types.DepDependsOn)
	addEdge(t, st, "a", "c", types.DepDependsOn)
	addEdge(t, st, "c", "a", types.DepDependsOn)

	report, err := e.Validate(ctx, items, ValidateOptions{CheckCircular: true})
	require.NoError(t, err)
	assert.True(t, report.CycleEnumerationTruncated)
	assert.Len(t, report.Cycles, 1)
}
