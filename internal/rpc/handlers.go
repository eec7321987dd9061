package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/depgraph"
	"github.com/jivedev/jive/internal/filesync"
	"github.com/jivedev/jive/internal/hierarchy"
	"github.com/jivedev/jive/internal/orchestrator"
	"github.com/jivedev/jive/internal/resolver"
	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

// HandlerFunc is one tool implementation.
type HandlerFunc func(ctx context.Context, args json.RawMessage) *Response

// Handlers maps tool names onto the engine components.
type Handlers struct {
	store    store.Store
	resolver *resolver.Resolver
	hier     *hierarchy.Manager
	deps     *depgraph.Engine
	sync     *filesync.Engine
	orch     *orchestrator.Orchestrator
	logger   *zap.Logger

	startedAt time.Time
	registry  map[string]HandlerFunc
}

// NewHandlers wires the tool registry.
func NewHandlers(st store.Store, res *resolver.Resolver, hier *hierarchy.Manager, deps *depgraph.Engine, syncEng *filesync.Engine, orch *orchestrator.Orchestrator, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handlers{
		store:     st,
		resolver:  res,
		hier:      hier,
		deps:      deps,
		sync:      syncEng,
		orch:      orch,
		logger:    logger.Named("rpc"),
		startedAt: time.Now(),
	}
	h.registry = map[string]HandlerFunc{
		ToolCreateWorkItem:          h.createWorkItem,
		ToolGetWorkItem:             h.getWorkItem,
		ToolUpdateWorkItem:          h.updateWorkItem,
		ToolListWorkItems:           h.listWorkItems,
		ToolSearchWorkItems:         h.searchWorkItems,
		ToolGetWorkItemChildren:     h.getChildren,
		ToolGetWorkItemDependencies: h.getDependencies,
		ToolValidateDependencies:    h.validateDependencies,
		ToolExecuteWorkItem:         h.executeWorkItem,
		ToolGetExecutionStatus:      h.getExecutionStatus,
		ToolCancelExecution:         h.cancelExecution,
		ToolSyncFileToDatabase:      h.syncFileToDatabase,
		ToolSyncDatabaseToFile:      h.syncDatabaseToFile,
		ToolGetSyncStatus:           h.getSyncStatus,
		OpPing:                      h.ping,
		OpHealth:                    h.health,
		OpStats:                     h.stats,
	}
	return h
}

// Lookup returns the handler for a tool name.
func (h *Handlers) Lookup(tool string) (HandlerFunc, bool) {
	fn, ok := h.registry[tool]
	return fn, ok
}

// Tools lists the registered tool names.
func (h *Handlers) Tools() []string {
	names := make([]string, 0, len(h.registry))
	for name := range h.registry {
		names = append(names, name)
	}
	return names
}

// decode unmarshals tool args, tolerating an absent args object.
func decode(args json.RawMessage, dst interface{}) error {
	if len(args) == 0 {
		return nil
	}
	return json.Unmarshal(args, dst)
}

// failErr maps component errors onto the wire error taxonomy.
func failErr(err error) *Response {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, orchestrator.ErrSessionNotFound):
		return Fail(CodeNotFound, err.Error())
	case hierarchy.IsViolation(err):
		return Fail(CodeHierarchyViolation, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return Fail(CodeTimeout, err.Error())
	case errors.Is(err, store.ErrDuplicateID):
		return Fail(CodeValidation, err.Error())
	default:
		return Fail(CodeInternal, err.Error())
	}
}

// resolveItem turns a user-supplied identifier into a work item, mapping a
// miss onto the not_found code.
func (h *Handlers) resolveItem(ctx context.Context, identifier string) (*types.WorkItem, *Response) {
	if identifier == "" {
		return nil, Fail(CodeValidation, "work_item_id is required")
	}
	item, _, err := h.resolver.Resolve(ctx, identifier)
	if err != nil {
		return nil, failErr(err)
	}
	if item == nil {
		return nil, Fail(CodeNotFound, fmt.Sprintf("work item %q not found", identifier))
	}
	return item, nil
}

func legacyWarning(s types.Status) []string {
	if !s.IsLegacy() {
		return nil
	}
	return []string{fmt.Sprintf("status %q is a legacy alias of %q", s, s.Canonical())}
}

func (h *Handlers) createWorkItem(ctx context.Context, args json.RawMessage) *Response {
	var a CreateWorkItemArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}
	if a.Type == "" || a.Title == "" || a.Description == "" {
		return Fail(CodeValidation, "type, title and description are required")
	}

	item := &types.WorkItem{
		ID:                 a.ID,
		Type:               types.ItemType(a.Type),
		Title:              a.Title,
		Description:        a.Description,
		Status:             types.Status(a.Status),
		Priority:           types.Priority(a.Priority),
		Complexity:         types.Complexity(a.Complexity),
		ParentID:           a.ParentID,
		Dependencies:       a.Dependencies,
		AcceptanceCriteria: a.AcceptanceCriteria,
		Assignee:           a.Assignee,
		Tags:               a.Tags,
		Metadata:           a.Metadata,
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	warnings := legacyWarning(item.Status)

	if err := h.hier.CheckPlacement(ctx, item.Type, item.ParentID); err != nil {
		return failErr(err)
	}
	if err := h.store.CreateWorkItem(ctx, item); err != nil {
		return failErr(err)
	}
	resp := Ok(item)
	resp.Warnings = warnings
	return resp
}

func (h *Handlers) getWorkItem(ctx context.Context, args json.RawMessage) *Response {
	var a GetWorkItemArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}
	item, fail := h.resolveItem(ctx, a.WorkItemID)
	if fail != nil {
		return fail
	}
	return Ok(item)
}

func (h *Handlers) updateWorkItem(ctx context.Context, args json.RawMessage) *Response {
	var a UpdateWorkItemArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}
	item, fail := h.resolveItem(ctx, a.WorkItemID)
	if fail != nil {
		return fail
	}

	upd := a.Updates.toStoreUpdate()
	if upd.Empty() {
		return Fail(CodeValidation, "updates must set at least one field")
	}

	var warnings []string
	if upd.Status != nil {
		warnings = legacyWarning(*upd.Status)
	}
	// Re-parenting must land on a valid slot in the hierarchy.
	if upd.ParentID != nil && *upd.ParentID != item.ParentID {
		if err := h.hier.CheckPlacement(ctx, item.Type, *upd.ParentID); err != nil {
			return failErr(err)
		}
	}

	updated, err := h.store.UpdateWorkItem(ctx, item.ID, upd)
	if err != nil {
		return failErr(err)
	}
	resp := Ok(updated)
	resp.Warnings = warnings
	return resp
}

func (h *Handlers) listWorkItems(ctx context.Context, args json.RawMessage) *Response {
	var a ListWorkItemsArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}
	items, err := h.store.ListWorkItems(ctx, store.ListOptions{
		Filter: store.ItemFilter{
			Status:   statusSlice(a.Status),
			Type:     typeSlice(a.Type),
			Priority: prioritySlice(a.Priority),
			ParentID: a.ParentID,
			Assignee: a.Assignee,
			Tags:     a.Tags,
		},
		SortBy:    a.SortBy,
		SortOrder: store.SortOrder(a.SortOrder),
		Limit:     a.Limit,
		Offset:    a.Offset,
	})
	if err != nil {
		return failErr(err)
	}
	return Ok(map[string]interface{}{"items": items, "count": len(items)})
}

func (h *Handlers) searchWorkItems(ctx context.Context, args json.RawMessage) *Response {
	var a SearchWorkItemsArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}
	if a.Query == "" {
		return Fail(CodeValidation, "query is required")
	}
	kind := store.SearchKind(a.Kind)
	if kind == "" {
		kind = store.SearchHybrid
	}
	if !kind.IsValid() {
		return Fail(CodeValidation, fmt.Sprintf("unknown search kind %q", a.Kind))
	}
	results, err := h.store.SearchWorkItems(ctx, a.Query, kind, a.Limit, store.ItemFilter{
		Status: statusSlice(a.Status),
		Type:   typeSlice(a.Type),
	})
	if err != nil {
		return failErr(err)
	}
	return Ok(map[string]interface{}{"results": results, "count": len(results)})
}

func (h *Handlers) getChildren(ctx context.Context, args json.RawMessage) *Response {
	var a ChildrenArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}
	item, fail := h.resolveItem(ctx, a.WorkItemID)
	if fail != nil {
		return fail
	}

	if a.AsTree {
		tree, err := h.hier.Tree(ctx, item.ID, a.MaxDepth)
		if err != nil {
			return failErr(err)
		}
		return Ok(tree)
	}
	children, err := h.hier.Children(ctx, item.ID, a.Recursive)
	if err != nil {
		return failErr(err)
	}
	return Ok(map[string]interface{}{"children": children, "count": len(children)})
}

func (h *Handlers) getDependencies(ctx context.Context, args json.RawMessage) *Response {
	var a DependenciesArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}
	item, fail := h.resolveItem(ctx, a.WorkItemID)
	if fail != nil {
		return fail
	}

	all, err := h.store.ListWorkItems(ctx, store.ListOptions{})
	if err != nil {
		return failErr(err)
	}
	g, err := h.deps.Build(ctx, all)
	if err != nil {
		return failErr(err)
	}
	items := h.deps.DependenciesOf(ctx, g, item.ID, a.Transitive, a.OnlyBlocking)
	return Ok(map[string]interface{}{"dependencies": items, "count": len(items)})
}

func (h *Handlers) validateDependencies(ctx context.Context, args json.RawMessage) *Response {
	var a ValidateDependenciesArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}
	// With no explicit checks requested, run the structural ones.
	if !a.CheckCircular && !a.CheckMissing {
		a.CheckCircular = true
		a.CheckMissing = true
	}

	opts := store.ListOptions{}
	if len(a.WorkItemIDs) > 0 {
		opts.Filter.IDs = a.WorkItemIDs
	}
	items, err := h.store.ListWorkItems(ctx, opts)
	if err != nil {
		return failErr(err)
	}
	report, err := h.deps.Validate(ctx, items, depgraph.ValidateOptions{
		CheckCircular: a.CheckCircular,
		CheckMissing:  a.CheckMissing,
		SuggestFixes:  a.SuggestFixes,
	})
	if err != nil {
		return failErr(err)
	}
	resp := Ok(report)
	if len(report.Cycles) > 0 {
		resp.Warnings = append(resp.Warnings,
			fmt.Sprintf("%d dependency cycle(s) detected", len(report.Cycles)))
	}
	return resp
}

func (h *Handlers) executeWorkItem(ctx context.Context, args json.RawMessage) *Response {
	var a ExecuteWorkItemArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}
	if a.WorkItemID == "" {
		return Fail(CodeValidation, "work_item_id is required")
	}
	dispatch, err := h.orch.Execute(ctx, a.WorkItemID, orchestrator.ExecuteOptions{
		Mode:           types.ExecutionMode(a.Mode),
		Ordering:       types.PlanOrdering(a.Ordering),
		TimeoutMinutes: a.TimeoutMinutes,
		Delegate:       a.Delegate,
		FailFast:       a.FailFast,
	})
	if err != nil {
		return failErr(err)
	}
	return Ok(dispatch)
}

func (h *Handlers) getExecutionStatus(ctx context.Context, args json.RawMessage) *Response {
	var a ExecutionStatusArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}
	if a.ExecutionID == "" {
		return Fail(CodeValidation, "execution_id is required")
	}

	var upd *orchestrator.StatusUpdate
	if a.Kind != "" || a.Message != "" || a.TaskCompleted || a.Progress != nil {
		upd = &orchestrator.StatusUpdate{
			Kind:          types.UpdateKind(a.Kind),
			Message:       a.Message,
			Progress:      a.Progress,
			TaskCompleted: a.TaskCompleted,
			Details:       a.Details,
		}
	}
	dispatch, err := h.orch.Status(ctx, a.ExecutionID, upd)
	if err != nil {
		return failErr(err)
	}
	return Ok(dispatch)
}

func (h *Handlers) cancelExecution(ctx context.Context, args json.RawMessage) *Response {
	var a CancelExecutionArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}
	if a.ExecutionID == "" {
		return Fail(CodeValidation, "execution_id is required")
	}
	dispatch, err := h.orch.Cancel(ctx, a.ExecutionID, a.Reason, a.Force, a.RollbackChanges)
	if err != nil {
		if errors.Is(err, orchestrator.ErrSessionTerminal) {
			return Fail(CodeValidation, err.Error())
		}
		return failErr(err)
	}
	return Ok(dispatch)
}

func (h *Handlers) syncFileToDatabase(ctx context.Context, args json.RawMessage) *Response {
	var a SyncFileArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}
	if a.FilePath == "" {
		return Fail(CodeValidation, "file_path is required")
	}
	content := []byte(a.FileContent)
	if len(content) == 0 {
		data, err := os.ReadFile(a.FilePath)
		if err != nil {
			return Fail(CodeStoreIO, fmt.Sprintf("read %s: %v", a.FilePath, err))
		}
		content = data
	}

	result, err := h.sync.FileToStore(ctx, a.FilePath, content, filesync.FileToStoreOptions{
		ValidateOnly: a.ValidateOnly,
		Strategy:     filesync.MergeStrategy(a.Strategy),
		SessionTag:   a.SessionTag,
	})
	if err != nil {
		return failErr(err)
	}

	switch result.Outcome {
	case filesync.OutcomeConflict:
		resp := Conflicted(fmt.Sprintf("%d field(s) conflict; no changes applied", len(result.Conflicts)), result.Conflicts)
		resp.Warnings = result.Warnings
		return resp
	case filesync.OutcomeError:
		code := CodeValidation
		if len(result.Errors) == 1 && result.Item == nil {
			code = CodeParse
		}
		resp := Fail(code, "file rejected", result.Errors...)
		resp.Warnings = result.Warnings
		return resp
	default:
		resp := Ok(result)
		resp.Warnings = result.Warnings
		return resp
	}
}

func (h *Handlers) syncDatabaseToFile(ctx context.Context, args json.RawMessage) *Response {
	var a SyncItemArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}
	item, fail := h.resolveItem(ctx, a.WorkItemID)
	if fail != nil {
		return fail
	}

	result, err := h.sync.StoreToFile(ctx, item.ID, a.FilePath, filesync.Format(a.Format))
	if err != nil {
		return failErr(err)
	}
	if result.Outcome == filesync.OutcomeError {
		return Fail(CodeNotFound, "export failed", result.Errors...)
	}

	if err := os.MkdirAll(filepath.Dir(result.Path), 0o755); err != nil {
		return Fail(CodeStoreIO, fmt.Sprintf("create %s: %v", filepath.Dir(result.Path), err))
	}
	if err := os.WriteFile(result.Path, result.Content, 0o644); err != nil {
		return Fail(CodeStoreIO, fmt.Sprintf("write %s: %v", result.Path, err))
	}
	return Ok(result)
}

func (h *Handlers) getSyncStatus(ctx context.Context, args json.RawMessage) *Response {
	var a SyncStatusArgs
	if err := decode(args, &a); err != nil {
		return Fail(CodeParse, err.Error())
	}

	if a.CheckAll {
		records, err := h.sync.StatusAll(ctx)
		if err != nil {
			return failErr(err)
		}
		return Ok(map[string]interface{}{"records": records, "count": len(records)})
	}

	key := a.Identifier
	if key == "" {
		key = a.FilePath
	}
	if key == "" {
		key = a.WorkItemID
	}
	if key == "" {
		return Fail(CodeValidation, "one of identifier, file_path, work_item_id or check_all is required")
	}
	rec, err := h.sync.Status(ctx, key)
	if err != nil {
		return failErr(err)
	}
	return Ok(rec)
}

func (h *Handlers) ping(_ context.Context, _ json.RawMessage) *Response {
	return Ok(map[string]interface{}{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

func (h *Handlers) health(ctx context.Context, _ json.RawMessage) *Response {
	status := "healthy"
	var detail string
	if _, err := h.store.GetStatistics(ctx); err != nil {
		status = "degraded"
		detail = err.Error()
	}
	payload := map[string]interface{}{
		"status":         status,
		"uptime_seconds": time.Since(h.startedAt).Seconds(),
		"tools":          len(h.registry),
	}
	if detail != "" {
		payload["error"] = detail
	}
	return Ok(payload)
}

func (h *Handlers) stats(ctx context.Context, _ json.RawMessage) *Response {
	stats, err := h.store.GetStatistics(ctx)
	if err != nil {
		return failErr(err)
	}
	return Ok(stats)
}
