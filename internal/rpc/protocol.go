// Package rpc is the tool-call surface: request/response framing, the
// handler registry and the unix-socket server agents connect through.
package rpc

import (
	"encoding/json"

	"github.com/jivedev/jive/internal/filesync"
	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

// Tool name constants. These spellings are stable contracts.
const (
	ToolCreateWorkItem          = "create_work_item"
	ToolGetWorkItem             = "get_work_item"
	ToolUpdateWorkItem          = "update_work_item"
	ToolListWorkItems           = "list_work_items"
	ToolSearchWorkItems         = "search_work_items"
	ToolGetWorkItemChildren     = "get_work_item_children"
	ToolGetWorkItemDependencies = "get_work_item_dependencies"
	ToolValidateDependencies    = "validate_dependencies"
	ToolExecuteWorkItem         = "execute_work_item"
	ToolGetExecutionStatus      = "get_execution_status"
	ToolCancelExecution         = "cancel_execution"
	ToolSyncFileToDatabase      = "sync_file_to_database"
	ToolSyncDatabaseToFile      = "sync_database_to_file"
	ToolGetSyncStatus           = "get_sync_status"

	// Service operations outside the stable tool surface.
	OpPing     = "ping"
	OpHealth   = "health"
	OpStats    = "stats"
	OpShutdown = "shutdown"
)

// Status classifies a tool response.
type Status string

// Response status constants.
const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusConflict Status = "conflict"
	StatusNotFound Status = "not_found"
)

// Error code constants, mirrored in every error payload.
const (
	CodeNotFound           = "not_found"
	CodeValidation         = "validation"
	CodeHierarchyViolation = "hierarchy_violation"
	CodeCycle              = "cycle"
	CodeConflict           = "conflict"
	CodeParse              = "parse"
	CodeTimeout            = "timeout"
	CodeStoreIO            = "store_io"
	CodeInternal           = "internal"
)

// Request is one tool invocation from a client.
type Request struct {
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// ErrorInfo carries a human message plus a machine code.
type ErrorInfo struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// Response is the uniform tool result envelope.
type Response struct {
	Status   Status          `json:"status"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    *ErrorInfo      `json:"error,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Ok wraps a payload in a success response. Marshal failures collapse to an
// internal error so the envelope is always well-formed.
func Ok(payload interface{}) *Response {
	data, err := json.Marshal(payload)
	if err != nil {
		return Fail(CodeInternal, "encode response: "+err.Error())
	}
	return &Response{Status: StatusSuccess, Data: data}
}

// Fail builds an error response.
func Fail(code, message string, details ...string) *Response {
	status := StatusError
	if code == CodeNotFound {
		status = StatusNotFound
	}
	return &Response{
		Status: status,
		Error:  &ErrorInfo{Code: code, Message: message, Details: details},
	}
}

// Conflicted builds a conflict response carrying the conflict list.
func Conflicted(message string, conflicts []filesync.Conflict) *Response {
	data, _ := json.Marshal(map[string]interface{}{"conflicts": conflicts})
	return &Response{
		Status: StatusConflict,
		Data:   data,
		Error:  &ErrorInfo{Code: CodeConflict, Message: message},
	}
}

// CreateWorkItemArgs are the arguments of create_work_item.
type CreateWorkItemArgs struct {
	ID                 string            `json:"id,omitempty"`
	Type               string            `json:"type"`
	Title              string            `json:"title"`
	Description        string            `json:"description"`
	Status             string            `json:"status,omitempty"`
	Priority           string            `json:"priority,omitempty"`
	Complexity         string            `json:"complexity,omitempty"`
	ParentID           string            `json:"parent_id,omitempty"`
	Dependencies       []string          `json:"dependencies,omitempty"`
	AcceptanceCriteria []string          `json:"acceptance_criteria,omitempty"`
	Assignee           string            `json:"assignee,omitempty"`
	Tags               []string          `json:"tags,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// GetWorkItemArgs are the arguments of get_work_item.
type GetWorkItemArgs struct {
	WorkItemID string `json:"work_item_id"`
}

// UpdateWorkItemArgs are the arguments of update_work_item. Updates uses
// pointer fields so absent keys leave the stored value untouched.
type UpdateWorkItemArgs struct {
	WorkItemID string      `json:"work_item_id"`
	Updates    ItemUpdates `json:"updates"`
}

// ItemUpdates is the wire shape of a partial update.
type ItemUpdates struct {
	Title              *string            `json:"title,omitempty"`
	Description        *string            `json:"description,omitempty"`
	Status             *string            `json:"status,omitempty"`
	Priority           *string            `json:"priority,omitempty"`
	Complexity         *string            `json:"complexity,omitempty"`
	ParentID           *string            `json:"parent_id,omitempty"`
	Dependencies       *[]string          `json:"dependencies,omitempty"`
	AcceptanceCriteria *[]string          `json:"acceptance_criteria,omitempty"`
	Progress           *float64           `json:"progress_percentage,omitempty"`
	Assignee           *string            `json:"assignee,omitempty"`
	Tags               *[]string          `json:"tags,omitempty"`
	Metadata           *map[string]string `json:"metadata,omitempty"`
}

// ListWorkItemsArgs are the arguments of list_work_items.
type ListWorkItemsArgs struct {
	Status    []string `json:"status,omitempty"`
	Type      []string `json:"type,omitempty"`
	Priority  []string `json:"priority,omitempty"`
	ParentID  *string  `json:"parent_id,omitempty"`
	Assignee  *string  `json:"assignee,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	SortBy    string   `json:"sort_by,omitempty"`
	SortOrder string   `json:"sort_order,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Offset    int      `json:"offset,omitempty"`
}

// SearchWorkItemsArgs are the arguments of search_work_items.
type SearchWorkItemsArgs struct {
	Query  string   `json:"query"`
	Kind   string   `json:"kind,omitempty"` // vector, keyword, hybrid (default)
	Limit  int      `json:"limit,omitempty"`
	Status []string `json:"status,omitempty"`
	Type   []string `json:"type,omitempty"`
}

// ChildrenArgs are the arguments of get_work_item_children.
type ChildrenArgs struct {
	WorkItemID string `json:"work_item_id"`
	Recursive  bool   `json:"recursive,omitempty"`
	AsTree     bool   `json:"as_tree,omitempty"`
	MaxDepth   int    `json:"max_depth,omitempty"`
}

// DependenciesArgs are the arguments of get_work_item_dependencies.
type DependenciesArgs struct {
	WorkItemID   string `json:"work_item_id"`
	Transitive   bool   `json:"transitive,omitempty"`
	OnlyBlocking bool   `json:"only_blocking,omitempty"`
}

// ValidateDependenciesArgs are the arguments of validate_dependencies.
type ValidateDependenciesArgs struct {
	WorkItemIDs   []string `json:"work_item_ids,omitempty"` // empty means all
	CheckCircular bool     `json:"check_circular,omitempty"`
	CheckMissing  bool     `json:"check_missing,omitempty"`
	SuggestFixes  bool     `json:"suggest_fixes,omitempty"`
}

// ExecuteWorkItemArgs are the arguments of execute_work_item.
type ExecuteWorkItemArgs struct {
	WorkItemID     string `json:"work_item_id"`
	Mode           string `json:"mode,omitempty"`
	Ordering       string `json:"ordering,omitempty"`
	TimeoutMinutes int    `json:"timeout_minutes,omitempty"`
	Delegate       bool   `json:"delegate,omitempty"`
	FailFast       bool   `json:"fail_fast,omitempty"`
}

// ExecutionStatusArgs are the arguments of get_execution_status.
type ExecutionStatusArgs struct {
	ExecutionID   string            `json:"execution_id"`
	Kind          string            `json:"kind,omitempty"`
	Message       string            `json:"message,omitempty"`
	Progress      *float64          `json:"progress,omitempty"`
	TaskCompleted bool              `json:"task_completed,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

// CancelExecutionArgs are the arguments of cancel_execution.
type CancelExecutionArgs struct {
	ExecutionID     string `json:"execution_id"`
	Reason          string `json:"reason,omitempty"`
	Force           bool   `json:"force,omitempty"`
	RollbackChanges bool   `json:"rollback_changes,omitempty"`
}

// SyncFileArgs are the arguments of sync_file_to_database. The host reads
// the file and passes its bytes; the core never opens files itself.
type SyncFileArgs struct {
	FilePath     string `json:"file_path"`
	FileContent  string `json:"file_content"`
	ValidateOnly bool   `json:"validate_only,omitempty"`
	Strategy     string `json:"strategy,omitempty"`
	SessionTag   string `json:"session_tag,omitempty"`
}

// SyncItemArgs are the arguments of sync_database_to_file.
type SyncItemArgs struct {
	WorkItemID string `json:"work_item_id"`
	FilePath   string `json:"file_path,omitempty"`
	Format     string `json:"format,omitempty"`
}

// SyncStatusArgs are the arguments of get_sync_status.
type SyncStatusArgs struct {
	Identifier string `json:"identifier,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	WorkItemID string `json:"work_item_id,omitempty"`
	CheckAll   bool   `json:"check_all,omitempty"`
}

// statusSlice converts wire strings to canonical statuses.
func statusSlice(in []string) []types.Status {
	out := make([]types.Status, len(in))
	for i, v := range in {
		out[i] = types.Status(v)
	}
	return out
}

func typeSlice(in []string) []types.ItemType {
	out := make([]types.ItemType, len(in))
	for i, v := range in {
		out[i] = types.ItemType(v)
	}
	return out
}

func prioritySlice(in []string) []types.Priority {
	out := make([]types.Priority, len(in))
	for i, v := range in {
		out[i] = types.Priority(v)
	}
	return out
}

// toStoreUpdate converts the wire update into the store's typed shape.
func (u ItemUpdates) toStoreUpdate() store.WorkItemUpdate {
	upd := store.WorkItemUpdate{
		Title:              u.Title,
		Description:        u.Description,
		ParentID:           u.ParentID,
		Dependencies:       u.Dependencies,
		AcceptanceCriteria: u.AcceptanceCriteria,
		Progress:           u.Progress,
		Assignee:           u.Assignee,
		Tags:               u.Tags,
		Metadata:           u.Metadata,
	}
	if u.Status != nil {
		s := types.Status(*u.Status)
		upd.Status = &s
	}
	if u.Priority != nil {
		p := types.Priority(*u.Priority)
		upd.Priority = &p
	}
	if u.Complexity != nil {
		c := types.Complexity(*u.Complexity)
		upd.Complexity = &c
	}
	return upd
}
