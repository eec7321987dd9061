package rpc

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/depgraph"
	"github.com/jivedev/jive/internal/embedding"
	"github.com/jivedev/jive/internal/executor"
	"github.com/jivedev/jive/internal/filesync"
	"github.com/jivedev/jive/internal/hierarchy"
	"github.com/jivedev/jive/internal/orchestrator"
	"github.com/jivedev/jive/internal/resolver"
	"github.com/jivedev/jive/internal/store/sqlite"
	"github.com/jivedev/jive/internal/types"
)

type rig struct {
	server *Server
	client *Client
	store  *sqlite.SQLiteStore
	dir    string
}

func newRig(t *testing.T) *rig {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()

	eng, err := embedding.NewEngine("local", "")
	require.NoError(t, err)
	st, err := sqlite.Open(dir, eng, logger, sqlite.Options{EnableFTS: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	hier := hierarchy.New(st, logger)
	deps := depgraph.New(st, logger, 0)
	res := resolver.New(st, logger)
	syncEng := filesync.New(st, hier, filepath.Join(dir, "tasks"), logger)
	driver := executor.New(st, deps, logger, 0)
	orch := orchestrator.New(st, res, hier, deps, syncEng, driver, logger, orchestrator.Options{})

	handlers := NewHandlers(st, res, hier, deps, syncEng, orch, logger)
	socket := filepath.Join(dir, "jive.sock")
	server := NewServer(socket, handlers, logger, 0)
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })

	client, err := Dial(socket, "test", 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return &rig{server: server, client: client, store: st, dir: dir}
}

// call fails the test on transport errors, leaving status checks to callers.
func (r *rig) call(t *testing.T, tool string, args interface{}) *Response {
	t.Helper()
	resp, err := r.client.Call(tool, args)
	require.NoError(t, err)
	return resp
}

func (r *rig) mustCreate(t *testing.T, args CreateWorkItemArgs) types.WorkItem {
	t.Helper()
	resp := r.call(t, ToolCreateWorkItem, args)
	require.Equal(t, StatusSuccess, resp.Status, "create %s: %+v", args.ID, resp.Error)
	var item types.WorkItem
	require.NoError(t, json.Unmarshal(resp.Data, &item))
	return item
}

func (r *rig) seedChain(t *testing.T) {
	t.Helper()
	r.mustCreate(t, CreateWorkItemArgs{ID: "init-1", Type: "initiative", Title: "Ship the launch", Description: "Umbrella for the launch effort"})
	r.mustCreate(t, CreateWorkItemArgs{ID: "epic-1", Type: "epic", Title: "Checkout flow", Description: "Payment and checkout work", ParentID: "init-1"})
	r.mustCreate(t, CreateWorkItemArgs{ID: "feat-1", Type: "feature", Title: "Card payments", Description: "Accept card payments", ParentID: "epic-1"})
	r.mustCreate(t, CreateWorkItemArgs{ID: "story-1", Type: "story", Title: "Tokenize cards", Description: "Store card tokens", ParentID: "feat-1"})
	r.mustCreate(t, CreateWorkItemArgs{ID: "task-1", Type: "task", Title: "Add token table", Description: "Schema for card tokens", ParentID: "story-1", Priority: "critical"})
	r.mustCreate(t, CreateWorkItemArgs{ID: "task-2", Type: "task", Title: "Wire vault client", Description: "Client for the token vault", ParentID: "story-1", Priority: "low"})
}

func TestPing(t *testing.T) {
	r := newRig(t)
	resp := r.call(t, OpPing, nil)
	assert.Equal(t, StatusSuccess, resp.Status)
	assert.Contains(t, string(resp.Data), `"ok"`)
}

func TestHealth(t *testing.T) {
	r := newRig(t)
	resp := r.call(t, OpHealth, nil)
	require.Equal(t, StatusSuccess, resp.Status)
	var got struct {
		Status string  `json:"status"`
		Uptime float64 `json:"uptime_seconds"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "healthy", got.Status)
	assert.GreaterOrEqual(t, got.Uptime, 0.0)
}

func TestUnknownTool(t *testing.T) {
	r := newRig(t)
	resp := r.call(t, "definitely_not_a_tool", nil)
	assert.Equal(t, StatusError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeValidation, resp.Error.Code)
}

func TestCreateAndGetWorkItem(t *testing.T) {
	r := newRig(t)
	created := r.mustCreate(t, CreateWorkItemArgs{
		ID: "init-1", Type: "initiative",
		Title: "Ship the launch", Description: "Umbrella for the launch effort",
		Tags: []string{"launch"},
	})
	assert.Equal(t, types.StatusBacklog, created.Status, "default status applies")

	resp := r.call(t, ToolGetWorkItem, GetWorkItemArgs{WorkItemID: "init-1"})
	require.Equal(t, StatusSuccess, resp.Status)
	var got types.WorkItem
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "Ship the launch", got.Title)
}

func TestGetWorkItemByTitle(t *testing.T) {
	r := newRig(t)
	r.seedChain(t)

	resp := r.call(t, ToolGetWorkItem, GetWorkItemArgs{WorkItemID: "Tokenize Cards"})
	require.Equal(t, StatusSuccess, resp.Status)
	var got types.WorkItem
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "story-1", got.ID)
}

func TestCreateRequiresFields(t *testing.T) {
	r := newRig(t)
	resp := r.call(t, ToolCreateWorkItem, CreateWorkItemArgs{Type: "task"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, CodeValidation, resp.Error.Code)
}

func TestCreateHierarchyViolation(t *testing.T) {
	r := newRig(t)
	resp := r.call(t, ToolCreateWorkItem, CreateWorkItemArgs{
		ID: "task-9", Type: "task", Title: "Orphan", Description: "No parent",
	})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, CodeHierarchyViolation, resp.Error.Code)
}

func TestCreateLegacyStatusWarning(t *testing.T) {
	r := newRig(t)
	resp := r.call(t, ToolCreateWorkItem, CreateWorkItemArgs{
		ID: "init-1", Type: "initiative",
		Title: "Ship the launch", Description: "Umbrella",
		Status: "not_started",
	})
	require.Equal(t, StatusSuccess, resp.Status)
	require.Len(t, resp.Warnings, 1)
	assert.Contains(t, resp.Warnings[0], "legacy alias")
}

func TestGetNotFound(t *testing.T) {
	r := newRig(t)
	resp := r.call(t, ToolGetWorkItem, GetWorkItemArgs{WorkItemID: "nope-1"})
	assert.Equal(t, StatusNotFound, resp.Status)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestCreateGeneratesUUID(t *testing.T) {
	r := newRig(t)
	created := r.mustCreate(t, CreateWorkItemArgs{
		Type: "initiative", Title: "No explicit id", Description: "Server assigns the identifier",
	})
	_, err := uuid.Parse(created.ID)
	assert.NoError(t, err, "generated ids are UUIDs")
}

func TestUpdateWorkItem(t *testing.T) {
	r := newRig(t)
	r.seedChain(t)

	title := "Tokenize all cards"
	status := "in_progress"
	resp := r.call(t, ToolUpdateWorkItem, UpdateWorkItemArgs{
		WorkItemID: "story-1",
		Updates:    ItemUpdates{Title: &title, Status: &status},
	})
	require.Equal(t, StatusSuccess, resp.Status)
	var got types.WorkItem
	require.NoError(t, json.Unmarshal(resp.Data, &got))
	assert.Equal(t, "Tokenize all cards", got.Title)
	assert.Equal(t, types.StatusInProgress, got.Status)
}

func TestUpdateRequiresFields(t *testing.T) {
	r := newRig(t)
	r.seedChain(t)
	resp := r.call(t, ToolUpdateWorkItem, UpdateWorkItemArgs{WorkItemID: "story-1"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, CodeValidation, resp.Error.Code)
}

func TestListWorkItemsFiltered(t *testing.T) {
	r := newRig(t)
	r.seedChain(t)

	resp := r.call(t, ToolListWorkItems, ListWorkItemsArgs{Type: []string{"task"}})
	require.Equal(t, StatusSuccess, resp.Status)
	var out struct {
		Items []types.WorkItem `json:"items"`
		Count int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, 2, out.Count)
}

func TestSearchWorkItems(t *testing.T) {
	r := newRig(t)
	r.seedChain(t)

	resp := r.call(t, ToolSearchWorkItems, SearchWorkItemsArgs{Query: "vault", Kind: "keyword"})
	require.Equal(t, StatusSuccess, resp.Status)
	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.GreaterOrEqual(t, out.Count, 1)
}

func TestSearchRejectsUnknownKind(t *testing.T) {
	r := newRig(t)
	resp := r.call(t, ToolSearchWorkItems, SearchWorkItemsArgs{Query: "x", Kind: "psychic"})
	assert.Equal(t, StatusError, resp.Status)
	assert.Equal(t, CodeValidation, resp.Error.Code)
}

func TestGetChildrenRecursiveAndTree(t *testing.T) {
	r := newRig(t)
	r.seedChain(t)

	resp := r.call(t, ToolGetWorkItemChildren, ChildrenArgs{WorkItemID: "init-1", Recursive: true})
	require.Equal(t, StatusSuccess, resp.Status)
	var out struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	assert.Equal(t, 5, out.Count)

	resp = r.call(t, ToolGetWorkItemChildren, ChildrenArgs{WorkItemID: "init-1", AsTree: true})
	require.Equal(t, StatusSuccess, resp.Status)
	var tree types.TreeNode
	require.NoError(t, json.Unmarshal(resp.Data, &tree))
	require.Len(t, tree.Children, 1)
	assert.Equal(t, "epic-1", tree.Children[0].ID)
}

func TestGetDependencies(t *testing.T) {
	r := newRig(t)
	r.seedChain(t)
	require.NoError(t, r.store.AddDependency(context.Background(), &types.Dependency{
		SourceID: "task-1", TargetID: "task-2", Kind: types.DepDependsOn,
	}))

	resp := r.call(t, ToolGetWorkItemDependencies, DependenciesArgs{WorkItemID: "task-1"})
	require.Equal(t, StatusSuccess, resp.Status)
	var out struct {
		Dependencies []types.WorkItem `json:"dependencies"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	require.Len(t, out.Dependencies, 1)
	assert.Equal(t, "task-2", out.Dependencies[0].ID)
}

func TestValidateDependenciesFindsCycle(t *testing.T) {
	r := newRig(t)
	r.seedChain(t)
	ctx := context.Background()
	require.NoError(t, r.store.AddDependency(ctx, &types.Dependency{SourceID: "task-1", TargetID: "task-2", Kind: types.DepDependsOn}))
	require.NoError(t, r.store.AddDependency(ctx, &types.Dependency{SourceID: "task-2", TargetID: "task-1", Kind: types.DepDependsOn}))

	resp := r.call(t, ToolValidateDependencies, ValidateDependenciesArgs{SuggestFixes: true})
	require.Equal(t, StatusSuccess, resp.Status)
	var report depgraph.ValidationReport
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.False(t, report.Valid)
	require.Len(t, report.Cycles, 1)
	assert.NotEmpty(t, report.SuggestedFixes)
	assert.NotEmpty(t, resp.Warnings)
}

func TestExecuteStatusCancelRoundTrip(t *testing.T) {
	r := newRig(t)
	r.seedChain(t)

	resp := r.call(t, ToolExecuteWorkItem, ExecuteWorkItemArgs{WorkItemID: "story-1"})
	require.Equal(t, StatusSuccess, resp.Status)
	var d orchestrator.Dispatch
	require.NoError(t, json.Unmarshal(resp.Data, &d))
	require.NotEmpty(t, d.ExecutionID)
	require.NotNil(t, d.Task)
	assert.Equal(t, "1 of 3", d.Position)

	resp = r.call(t, ToolGetExecutionStatus, ExecutionStatusArgs{
		ExecutionID: d.ExecutionID, Message: "schema done", TaskCompleted: true,
	})
	require.Equal(t, StatusSuccess, resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, &d))
	assert.Equal(t, "2 of 3", d.Position)

	resp = r.call(t, ToolCancelExecution, CancelExecutionArgs{
		ExecutionID: d.ExecutionID, Reason: "priorities changed",
	})
	require.Equal(t, StatusSuccess, resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, &d))
	assert.Equal(t, types.SessionCancelled, d.Status)

	resp = r.call(t, ToolCancelExecution, CancelExecutionArgs{ExecutionID: d.ExecutionID})
	assert.Equal(t, StatusError, resp.Status)
}

func TestExecutionStatusUnknownSession(t *testing.T) {
	r := newRig(t)
	resp := r.call(t, ToolGetExecutionStatus, ExecutionStatusArgs{ExecutionID: "ghost"})
	assert.Equal(t, StatusNotFound, resp.Status)
}

func TestSyncFileToDatabase(t *testing.T) {
	r := newRig(t)
	content := `{"id":"init-7","type":"initiative","title":"Imported plan","description":"From disk"}`

	resp := r.call(t, ToolSyncFileToDatabase, SyncFileArgs{
		FilePath: "plans/init-7.json", FileContent: content,
	})
	require.Equal(t, StatusSuccess, resp.Status, "%+v", resp.Error)

	got, err := r.store.GetWorkItem(context.Background(), "init-7")
	require.NoError(t, err)
	assert.Equal(t, "Imported plan", got.Title)
}

func TestSyncFileConflict(t *testing.T) {
	r := newRig(t)
	r.mustCreate(t, CreateWorkItemArgs{ID: "init-1", Type: "initiative", Title: "Original", Description: "Stored version"})

	content := `{"id":"init-1","type":"initiative","title":"Edited","description":"Stored version"}`
	resp := r.call(t, ToolSyncFileToDatabase, SyncFileArgs{FilePath: "plans/init-1.json", FileContent: content})
	require.Equal(t, StatusConflict, resp.Status)
	assert.Equal(t, CodeConflict, resp.Error.Code)
	assert.Contains(t, string(resp.Data), `"title"`)

	resp = r.call(t, ToolSyncFileToDatabase, SyncFileArgs{
		FilePath: "plans/init-1.json", FileContent: content, Strategy: "file_wins",
	})
	require.Equal(t, StatusSuccess, resp.Status)
	got, err := r.store.GetWorkItem(context.Background(), "init-1")
	require.NoError(t, err)
	assert.Equal(t, "Edited", got.Title)
}

func TestSyncFileParseError(t *testing.T) {
	r := newRig(t)
	resp := r.call(t, ToolSyncFileToDatabase, SyncFileArgs{
		FilePath: "plans/broken.json", FileContent: "{not json",
	})
	assert.Equal(t, StatusError, resp.Status)
}

func TestSyncDatabaseToFileWritesFile(t *testing.T) {
	r := newRig(t)
	r.mustCreate(t, CreateWorkItemArgs{ID: "init-1", Type: "initiative", Title: "Ship v2", Description: "Umbrella"})

	resp := r.call(t, ToolSyncDatabaseToFile, SyncItemArgs{WorkItemID: "init-1"})
	require.Equal(t, StatusSuccess, resp.Status)
	var result filesync.Result
	require.NoError(t, json.Unmarshal(resp.Data, &result))

	data, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Ship v2"`)
}

func TestGetSyncStatus(t *testing.T) {
	r := newRig(t)
	r.mustCreate(t, CreateWorkItemArgs{ID: "init-1", Type: "initiative", Title: "Ship v2", Description: "Umbrella"})
	r.call(t, ToolSyncDatabaseToFile, SyncItemArgs{WorkItemID: "init-1"})

	resp := r.call(t, ToolGetSyncStatus, SyncStatusArgs{WorkItemID: "init-1"})
	require.Equal(t, StatusSuccess, resp.Status)
	var rec types.SyncRecord
	require.NoError(t, json.Unmarshal(resp.Data, &rec))
	assert.Equal(t, "init-1", rec.WorkItemID)

	resp = r.call(t, ToolGetSyncStatus, SyncStatusArgs{CheckAll: true})
	require.Equal(t, StatusSuccess, resp.Status)
	var all struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &all))
	assert.Equal(t, 1, all.Count)

	resp = r.call(t, ToolGetSyncStatus, SyncStatusArgs{})
	assert.Equal(t, StatusError, resp.Status)
}

func TestStats(t *testing.T) {
	r := newRig(t)
	r.seedChain(t)
	resp := r.call(t, OpStats, nil)
	require.Equal(t, StatusSuccess, resp.Status)
	var stats types.Statistics
	require.NoError(t, json.Unmarshal(resp.Data, &stats))
	assert.Equal(t, 6, stats.TotalItems)
}

func TestShutdownSignals(t *testing.T) {
	r := newRig(t)
	resp := r.call(t, OpShutdown, nil)
	require.Equal(t, StatusSuccess, resp.Status)
	select {
	case <-r.server.Shutdown:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown was not signalled")
	}
}
