package types

import "time"

// ExecutionMode selects how children of an executed item are scheduled.
type ExecutionMode string

// Execution mode constants.
const (
	ModeSequential      ExecutionMode = "sequential"
	ModeParallel        ExecutionMode = "parallel"
	ModeDependencyBased ExecutionMode = "dependency_based"
)

// IsValid checks if the execution mode value is valid.
func (m ExecutionMode) IsValid() bool {
	switch m {
	case ModeSequential, ModeParallel, ModeDependencyBased:
		return true
	}
	return false
}

// PlanOrdering selects how the execution plan is ordered.
type PlanOrdering string

// Plan ordering constants.
const (
	OrderDependency            PlanOrdering = "dependency_order"
	OrderPriorityHighFirst     PlanOrdering = "priority_high_first"
	OrderComplexitySimpleFirst PlanOrdering = "complexity_simple_first"
)

// IsValid checks if the plan ordering value is valid.
func (o PlanOrdering) IsValid() bool {
	switch o {
	case OrderDependency, OrderPriorityHighFirst, OrderComplexitySimpleFirst, "":
		return true
	}
	return false
}

// SessionStatus is the lifecycle state of an execution session.
type SessionStatus string

// Session status constants.
const (
	SessionReady     SessionStatus = "ready"
	SessionRunning   SessionStatus = "running"
	SessionBlocked   SessionStatus = "blocked"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
	SessionFailed    SessionStatus = "failed"
)

// Terminal reports whether the session can never advance again.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionFailed:
		return true
	}
	return false
}

// TaskSlot is one entry in an execution plan.
type TaskSlot struct {
	ID     string     `json:"id"`
	Order  int        `json:"order"`
	Status SlotStatus `json:"status"`
}

// SlotStatus is the state of a single plan entry.
type SlotStatus string

// Slot status constants.
const (
	SlotReady     SlotStatus = "ready"
	SlotRunning   SlotStatus = "running"
	SlotCompleted SlotStatus = "completed"
	SlotFailed    SlotStatus = "failed"
	SlotSkipped   SlotStatus = "skipped"
)

// UpdateKind categorizes a progress update.
type UpdateKind string

// Update kind constants.
const (
	UpdateProgress   UpdateKind = "progress"
	UpdateMilestone  UpdateKind = "milestone"
	UpdateBlocker    UpdateKind = "blocker"
	UpdateCompletion UpdateKind = "completion"
)

// IsValid checks if the update kind value is valid.
func (k UpdateKind) IsValid() bool {
	switch k {
	case UpdateProgress, UpdateMilestone, UpdateBlocker, UpdateCompletion:
		return true
	}
	return false
}

// ProgressUpdate is a caller-reported event advancing or annotating a
// session. Updates are append-only and totally ordered within a session.
type ProgressUpdate struct {
	Timestamp time.Time         `json:"timestamp"`
	Kind      UpdateKind        `json:"kind"`
	TaskIndex int               `json:"task_index"`
	Message   string            `json:"message,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// SyncRecord is the reconciliation state between an on-disk file and a
// stored work item. Checksum is SHA-256 of the exact synced file bytes.
type SyncRecord struct {
	Path       string    `json:"path"`
	WorkItemID string    `json:"work_item_id"`
	Checksum   string    `json:"checksum"`
	LastSynced time.Time `json:"last_synced"`
}
