// Package store defines the contract every other component uses to reach
// durable state.
//
// The concrete implementation lives in the sqlite sub-package. This package
// holds the interface and the value types referenced by both the
// implementation and its consumers, so that mocks and proxies can be
// substituted.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jivedev/jive/internal/types"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnknownTable is returned for operations against a table name outside
// the fixed schema.
var ErrUnknownTable = errors.New("unknown table")

// ErrDuplicateID is returned when creating a record whose ID already exists.
var ErrDuplicateID = errors.New("duplicate id")

// SearchKind selects the retrieval strategy.
type SearchKind string

// Search kind constants.
const (
	SearchVector  SearchKind = "vector"
	SearchKeyword SearchKind = "keyword"
	SearchHybrid  SearchKind = "hybrid"
)

// IsValid checks if the search kind value is valid.
func (k SearchKind) IsValid() bool {
	switch k {
	case SearchVector, SearchKeyword, SearchHybrid:
		return true
	}
	return false
}

// SortOrder is the direction of a list sort.
type SortOrder string

// Sort order constants.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// ItemFilter narrows work-item queries. All set fields are ANDed;
// slice-valued fields use IN semantics.
type ItemFilter struct {
	Status   []types.Status
	Type     []types.ItemType
	Priority []types.Priority
	ParentID *string
	Assignee *string
	Tags     []string // item must carry ALL of these
	IDs      []string
}

// ListOptions controls filtering, ordering and pagination of List.
// Ordering is stable: ties always break by id ascending.
type ListOptions struct {
	Filter    ItemFilter
	SortBy    string // any scalar column; default created_at
	SortOrder SortOrder
	Limit     int
	Offset    int
}

// SearchResult pairs a work item with its retrieval relevance.
// Relevance is cosine similarity for vector search and a rank-derived
// score in [0,1] for keyword search.
type SearchResult struct {
	Item      *types.WorkItem `json:"item"`
	Relevance float64         `json:"relevance"`
}

// WorkItemUpdate is a typed partial update. Nil fields are left untouched.
// The store regenerates the embedding iff Title or Description is set and
// changes the stored value.
type WorkItemUpdate struct {
	Title              *string
	Description        *string
	Status             *types.Status
	Priority           *types.Priority
	Complexity         *types.Complexity
	ParentID           *string
	Dependencies       *[]string
	AcceptanceCriteria *[]string
	Progress           *float64
	Assignee           *string
	Tags               *[]string
	Metadata           *map[string]string
	UpdatedAt          *time.Time // explicit stamp; defaults to now()
}

// Empty reports whether the update changes nothing.
func (u *WorkItemUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Status == nil &&
		u.Priority == nil && u.Complexity == nil && u.ParentID == nil &&
		u.Dependencies == nil && u.AcceptanceCriteria == nil &&
		u.Progress == nil && u.Assignee == nil && u.Tags == nil &&
		u.Metadata == nil
}

// ExecutionLogEntry is one persisted row of an execution session's log.
type ExecutionLogEntry struct {
	ID          int64             `json:"id"`
	ExecutionID string            `json:"execution_id"`
	WorkItemID  string            `json:"work_item_id,omitempty"`
	Kind        types.UpdateKind  `json:"kind"`
	TaskIndex   int               `json:"task_index"`
	Message     string            `json:"message,omitempty"`
	Details     map[string]string `json:"details,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// TaskRun is a row in the tasks table: one background execution of an
// atomic work item delegated to the executor.
type TaskRun struct {
	ID          string     `json:"id"`
	WorkItemID  string     `json:"work_item_id"`
	ExecutionID string     `json:"execution_id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Result      string     `json:"result,omitempty"`
}

// Store is the uniform access layer over durable state. Writes derive
// embeddings and retry transient failures; reads do not retry.
type Store interface {
	// Work items
	CreateWorkItem(ctx context.Context, item *types.WorkItem) error
	GetWorkItem(ctx context.Context, id string) (*types.WorkItem, error)
	UpdateWorkItem(ctx context.Context, id string, upd WorkItemUpdate) (*types.WorkItem, error)
	DeleteWorkItem(ctx context.Context, id string) (bool, error)
	ListWorkItems(ctx context.Context, opts ListOptions) ([]*types.WorkItem, error)
	SearchWorkItems(ctx context.Context, query string, kind SearchKind, limit int, filter ItemFilter) ([]SearchResult, error)

	// Dependencies
	AddDependency(ctx context.Context, dep *types.Dependency) error
	RemoveDependency(ctx context.Context, sourceID, targetID string) error
	DependenciesOf(ctx context.Context, id string) ([]*types.Dependency, error)
	DependentsOf(ctx context.Context, id string) ([]*types.Dependency, error)
	ListDependencies(ctx context.Context, ids []string) ([]*types.Dependency, error)

	// Execution log
	AppendExecutionLog(ctx context.Context, entry *ExecutionLogEntry) error
	ListExecutionLog(ctx context.Context, executionID string, limit int) ([]*ExecutionLogEntry, error)

	// Task runs
	PutTaskRun(ctx context.Context, run *TaskRun) error
	GetTaskRun(ctx context.Context, id string) (*TaskRun, error)

	// Sync records
	PutSyncRecord(ctx context.Context, rec *types.SyncRecord) error
	GetSyncRecordByPath(ctx context.Context, path string) (*types.SyncRecord, error)
	GetSyncRecordByItem(ctx context.Context, workItemID string) (*types.SyncRecord, error)
	ListSyncRecords(ctx context.Context) ([]*types.SyncRecord, error)

	// Statistics and internal state
	GetStatistics(ctx context.Context) (*types.Statistics, error)
	SetMetadata(ctx context.Context, key, value string) error
	GetMetadata(ctx context.Context, key string) (string, error)

	// Lifecycle
	Close() error
}
