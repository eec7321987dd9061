package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/depgraph"
	"github.com/jivedev/jive/internal/embedding"
	"github.com/jivedev/jive/internal/executor"
	"github.com/jivedev/jive/internal/filesync"
	"github.com/jivedev/jive/internal/hierarchy"
	"github.com/jivedev/jive/internal/resolver"
	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/store/sqlite"
	"github.com/jivedev/jive/internal/types"
)

func newTestOrchestrator(t *testing.T, opts Options) (*Orchestrator, *sqlite.SQLiteStore) {
	t.Helper()
	eng, err := embedding.NewEngine("local", "")
	require.NoError(t, err)
	st, err := sqlite.Open(t.TempDir(), eng, zap.NewNop(), sqlite.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hier := hierarchy.New(st, zap.NewNop())
	deps := depgraph.New(st, zap.NewNop(), 0)
	res := resolver.New(st, zap.NewNop())
	syncEng := filesync.New(st, hier, t.TempDir(), zap.NewNop())
	driver := executor.New(st, deps, zap.NewNop(), 0)
	return New(st, res, hier, deps, syncEng, driver, zap.NewNop(), opts), st
}

// seedTree creates initiative init-1 with two tasks under the usual chain.
func seedTree(t *testing.T, st *sqlite.SQLiteStore) {
	t.Helper()
	ctx := context.Background()
	items := []*types.WorkItem{
		{ID: "init-1", Type: types.TypeInitiative, Title: "Launch", Priority: types.PriorityHigh},
		{ID: "epic-1", Type: types.TypeEpic, Title: "Epic", ParentID: "init-1"},
		{ID: "feat-1", Type: types.TypeFeature, Title: "Feature", ParentID: "epic-1"},
		{ID: "story-1", Type: types.TypeStory, Title: "Story", ParentID: "feat-1"},
		{ID: "task-1", Type: types.TypeTask, Title: "First task", ParentID: "story-1",
			Priority: types.PriorityCritical, Complexity: types.ComplexityComplex},
		{ID: "task-2", Type: types.TypeTask, Title: "Second task", ParentID: "story-1",
			Priority: types.PriorityLow, Complexity: types.ComplexitySimple},
	}
	for _, it := range items {
		require.NoError(t, st.CreateWorkItem(ctx, it))
	}
}

func TestExecuteBuildsPlanAndDispatchesFirstTask(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	seedTree(t, st)

	d, err := o.Execute(ctx, "init-1", ExecuteOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, d.ExecutionID)
	assert.Equal(t, types.SessionReady, d.Status)
	require.NotNil(t, d.Task)
	assert.Equal(t, "init-1", d.Task.ID, "dependency_order puts the initiative first")
	assert.Equal(t, "1 of 6", d.Position)
	require.NotNil(t, d.Guidance)
	assert.NotEmpty(t, d.Guidance.Approach)
	assert.NotEmpty(t, d.Guidance.SuccessCriteria)
	assert.Equal(t, ReportingContract, d.Reporting)
}

func TestExecuteResolvesByTitle(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{})
	seedTree(t, st)

	d, err := o.Execute(context.Background(), "Launch", ExecuteOptions{})
	require.NoError(t, err)
	assert.Equal(t, "init-1", d.Session.RootID)
}

func TestExecuteUnknownRoot(t *testing.T) {
	o, _ := newTestOrchestrator(t, Options{})

	_, err := o.Execute(context.Background(), "no such thing at all", ExecuteOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestExecutePriorityOrdering(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{})
	seedTree(t, st)

	d, err := o.Execute(context.Background(), "story-1", ExecuteOptions{
		Ordering: types.OrderPriorityHighFirst,
	})
	require.NoError(t, err)
	require.NotNil(t, d.Task)
	assert.Equal(t, "task-1", d.Task.ID, "critical task outranks the medium story")
}

func TestExecuteComplexityOrdering(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{})
	seedTree(t, st)

	d, err := o.Execute(context.Background(), "story-1", ExecuteOptions{
		Ordering: types.OrderComplexitySimpleFirst,
	})
	require.NoError(t, err)
	require.NotNil(t, d.Task)
	assert.Equal(t, "task-2", d.Task.ID, "simple complexity first")
}

func TestExecuteDependencyBasedPlansLeafWorkOnly(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	seedTree(t, st)
	require.NoError(t, st.AddDependency(ctx, &types.Dependency{
		SourceID: "task-2", TargetID: "task-1", Kind: types.DepDependsOn,
	}))

	d, err := o.Execute(ctx, "story-1", ExecuteOptions{Mode: types.ModeDependencyBased})
	require.NoError(t, err)
	require.NotNil(t, d.Task)
	assert.Equal(t, "task-1", d.Task.ID, "the dependency-free leaf runs first")
	assert.Equal(t, "1 of 2", d.Position, "containers are not plan entries")

	next, err := o.Status(ctx, d.ExecutionID, &StatusUpdate{TaskCompleted: true})
	require.NoError(t, err)
	require.NotNil(t, next.Task)
	assert.Equal(t, "task-2", next.Task.ID)

	done, err := o.Status(ctx, d.ExecutionID, &StatusUpdate{TaskCompleted: true})
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, done.Status, "two completions finish the plan")
}

func TestStatusInspectReturnsCurrentTask(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	seedTree(t, st)

	d, err := o.Execute(ctx, "story-1", ExecuteOptions{})
	require.NoError(t, err)

	again, err := o.Status(ctx, d.ExecutionID, nil)
	require.NoError(t, err)
	assert.Equal(t, d.Task.ID, again.Task.ID)
	assert.Equal(t, types.SessionReady, again.Status, "pure inspect does not start the session")
}

func TestStatusAdvancesOnTaskCompleted(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	seedTree(t, st)

	d, err := o.Execute(ctx, "story-1", ExecuteOptions{})
	require.NoError(t, err)
	first := d.Task.ID

	next, err := o.Status(ctx, d.ExecutionID, &StatusUpdate{TaskCompleted: true})
	require.NoError(t, err)
	assert.Equal(t, types.SessionRunning, next.Status)
	require.NotNil(t, next.Task)
	assert.NotEqual(t, first, next.Task.ID)
	assert.Equal(t, "2 of 3", next.Position)
	assert.Equal(t, 1, next.Session.CurrentIndex)
}

func TestStatusCompletesSessionAfterLastTask(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	seedTree(t, st)

	d, err := o.Execute(ctx, "task-2", ExecuteOptions{})
	require.NoError(t, err)
	require.Equal(t, "1 of 1", d.Position)

	done, err := o.Status(ctx, d.ExecutionID, &StatusUpdate{TaskCompleted: true})
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, done.Status)
	assert.Nil(t, done.Task)
	assert.NotNil(t, done.Session.CompletedAt)

	// Completed sessions accept no further updates.
	after, err := o.Status(ctx, d.ExecutionID, &StatusUpdate{TaskCompleted: true})
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, after.Status)
	assert.Contains(t, after.Message, "not accepted")
}

func TestStatusBlockerParksAndResumes(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	seedTree(t, st)

	d, err := o.Execute(ctx, "task-2", ExecuteOptions{})
	require.NoError(t, err)

	blocked, err := o.Status(ctx, d.ExecutionID, &StatusUpdate{
		Kind: types.UpdateBlocker, Message: "waiting on credentials",
	})
	require.NoError(t, err)
	assert.Equal(t, types.SessionBlocked, blocked.Status)

	resumed, err := o.Status(ctx, d.ExecutionID, &StatusUpdate{
		Kind: types.UpdateProgress, Message: "credentials arrived",
	})
	require.NoError(t, err)
	assert.Equal(t, types.SessionRunning, resumed.Status)
}

func TestStatusUnknownSession(t *testing.T) {
	o, _ := newTestOrchestrator(t, Options{})
	_, err := o.Status(context.Background(), "ghost", nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStatusTimeoutFailsSession(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{SessionTimeout: time.Nanosecond})
	ctx := context.Background()
	seedTree(t, st)

	d, err := o.Execute(ctx, "task-2", ExecuteOptions{})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	out, err := o.Status(ctx, d.ExecutionID, nil)
	require.NoError(t, err)
	assert.Equal(t, types.SessionFailed, out.Status)
	assert.Equal(t, "timeout", out.Session.Reason)
}

func TestCancelTerminatesSession(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	seedTree(t, st)

	d, err := o.Execute(ctx, "story-1", ExecuteOptions{})
	require.NoError(t, err)

	out, err := o.Cancel(ctx, d.ExecutionID, "changed priorities", false, false)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCancelled, out.Status)
	assert.NotNil(t, out.Session.CancelledAt)
	assert.Equal(t, "changed priorities", out.Session.Reason)

	// Terminal sessions cannot be cancelled twice.
	_, err = o.Cancel(ctx, d.ExecutionID, "again", false, false)
	assert.ErrorIs(t, err, ErrSessionTerminal)

	// Nor advanced.
	after, err := o.Status(ctx, d.ExecutionID, &StatusUpdate{TaskCompleted: true})
	require.NoError(t, err)
	assert.Equal(t, types.SessionCancelled, after.Status)
}

func TestCancelWithRollback(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	seedTree(t, st)

	d, err := o.Execute(ctx, "story-1", ExecuteOptions{})
	require.NoError(t, err)

	// A file write journaled under the session tag.
	prior, err := st.GetWorkItem(ctx, "task-1")
	require.NoError(t, err)
	o.sync.Journal().RecordUpdate(d.ExecutionID, prior)
	title := "Mutated during session"
	_, err = st.UpdateWorkItem(ctx, "task-1", store.WorkItemUpdate{Title: &title})
	require.NoError(t, err)

	_, err = o.Cancel(ctx, d.ExecutionID, "abort", false, true)
	require.NoError(t, err)

	got, err := st.GetWorkItem(ctx, "task-1")
	require.NoError(t, err)
	assert.Equal(t, "First task", got.Title, "session writes rolled back")
}

func TestDelegatedExecutionCompletesChildren(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	seedTree(t, st)

	d, err := o.Execute(ctx, "story-1", ExecuteOptions{Delegate: true, Mode: types.ModeSequential})
	require.NoError(t, err)

	// The background driver owns completion; wait for the terminal state.
	require.Eventually(t, func() bool {
		sess, err := o.Session(d.ExecutionID)
		return err == nil && sess.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	sess, err := o.Session(d.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionCompleted, sess.Status)
	assert.NotEmpty(t, sess.Updates)

	for _, id := range []string{"task-1", "task-2"} {
		got, err := st.GetWorkItem(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, types.StatusDone, got.Status)
		assert.Equal(t, 100.0, got.ProgressPercentage)
	}
}

func TestExecutionLogPersisted(t *testing.T) {
	o, st := newTestOrchestrator(t, Options{})
	ctx := context.Background()
	seedTree(t, st)

	d, err := o.Execute(ctx, "task-2", ExecuteOptions{})
	require.NoError(t, err)
	_, err = o.Status(ctx, d.ExecutionID, &StatusUpdate{Kind: types.UpdateProgress, Message: "halfway"})
	require.NoError(t, err)

	entries, err := st.ListExecutionLog(ctx, d.ExecutionID, 0)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 2)
	assert.Equal(t, types.UpdateMilestone, entries[0].Kind, "session start is logged")
	assert.Equal(t, "halfway", entries[len(entries)-1].Message)
}
