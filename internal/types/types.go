// Package types defines the core data structures for the jive work-item
// orchestration engine.
package types

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"
)

// TitleMaxLen is the maximum allowed length of a work item title.
const TitleMaxLen = 200

// WorkItem is the primary entity: a unit of work at any level of the
// initiative/epic/feature/story/task hierarchy.
type WorkItem struct {
	ID                 string            `json:"id" yaml:"id"`
	Type               ItemType          `json:"type" yaml:"type"`
	Title              string            `json:"title" yaml:"title"`
	Description        string            `json:"description,omitempty" yaml:"description,omitempty"`
	Status             Status            `json:"status,omitempty" yaml:"status,omitempty"`
	Priority           Priority          `json:"priority,omitempty" yaml:"priority,omitempty"`
	Complexity         Complexity        `json:"complexity,omitempty" yaml:"complexity,omitempty"`
	ParentID           string            `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	Dependencies       []string          `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	AcceptanceCriteria []string          `json:"acceptance_criteria,omitempty" yaml:"acceptance_criteria,omitempty"`
	ProgressPercentage float64           `json:"progress_percentage" yaml:"progress_percentage"`
	Assignee           string            `json:"assignee,omitempty" yaml:"assignee,omitempty"`
	Tags               []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"created_at" yaml:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at" yaml:"updated_at"`

	// Embedding is derived from title + description by the store on write.
	// Never serialized to work-item files.
	Embedding []float32 `json:"-" yaml:"-"`
}

// ComputeContentHash creates a deterministic hash of the item's substantive
// content (excludes ID, timestamps, and derived fields) so that identical
// content produces identical hashes regardless of origin.
func (w *WorkItem) ComputeContentHash() string {
	h := sha256.New()

	h.Write([]byte(w.Title))
	h.Write([]byte{0})
	h.Write([]byte(w.Description))
	h.Write([]byte{0})
	h.Write([]byte(w.Type))
	h.Write([]byte{0})
	h.Write([]byte(w.Status))
	h.Write([]byte{0})
	h.Write([]byte(w.Priority))
	h.Write([]byte{0})
	h.Write([]byte(w.Complexity))
	h.Write([]byte{0})
	h.Write([]byte(w.ParentID))
	h.Write([]byte{0})
	h.Write([]byte(w.Assignee))
	h.Write([]byte{0})
	for _, d := range w.Dependencies {
		h.Write([]byte(d))
		h.Write([]byte{0})
	}
	for _, c := range w.AcceptanceCriteria {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	for _, t := range w.Tags {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

// Validate checks field values against the data model. Returns every failed
// rule, not just the first, so callers can enumerate violations.
func (w *WorkItem) Validate() []error {
	var errs []error
	if strings.TrimSpace(w.Title) == "" {
		errs = append(errs, fmt.Errorf("title is required"))
	}
	if len(w.Title) > TitleMaxLen {
		errs = append(errs, fmt.Errorf("title must be %d characters or less (got %d)", TitleMaxLen, len(w.Title)))
	}
	if !w.Type.IsValid() {
		errs = append(errs, fmt.Errorf("invalid type: %q", w.Type))
	}
	if w.Status != "" && !w.Status.IsValid() {
		errs = append(errs, fmt.Errorf("invalid status: %q", w.Status))
	}
	if w.Priority != "" && !w.Priority.IsValid() {
		errs = append(errs, fmt.Errorf("invalid priority: %q", w.Priority))
	}
	if w.Complexity != "" && !w.Complexity.IsValid() {
		errs = append(errs, fmt.Errorf("invalid complexity: %q", w.Complexity))
	}
	if w.ProgressPercentage < 0 || w.ProgressPercentage > 100 {
		errs = append(errs, fmt.Errorf("progress_percentage must be between 0 and 100 (got %v)", w.ProgressPercentage))
	}
	switch w.Status.Canonical() {
	case StatusDone:
		if w.ProgressPercentage != 100 {
			errs = append(errs, fmt.Errorf("status %q requires progress_percentage = 100 (got %v)", w.Status, w.ProgressPercentage))
		}
	case StatusBacklog:
		if w.ProgressPercentage != 0 {
			errs = append(errs, fmt.Errorf("status %q requires progress_percentage = 0 (got %v)", w.Status, w.ProgressPercentage))
		}
	}
	if w.Type == TypeInitiative && w.ParentID != "" {
		errs = append(errs, fmt.Errorf("initiatives cannot have a parent"))
	}
	if w.Type != TypeInitiative && w.Type.IsValid() && w.ParentID == "" {
		errs = append(errs, fmt.Errorf("type %q requires a parent_id", w.Type))
	}
	return errs
}

// SetDefaults applies default values for fields omitted during import or
// file sync. Status defaults to backlog, priority to medium.
func (w *WorkItem) SetDefaults() {
	if w.Status == "" {
		w.Status = StatusBacklog
	}
	if w.Priority == "" {
		w.Priority = PriorityMedium
	}
}

// SearchText returns the text the embedding and keyword indexes are built
// over. The embedding contract is deterministic in exactly this string.
func (w *WorkItem) SearchText() string {
	return w.Title + " " + w.Description
}

// ItemType is the level of a work item in the hierarchy.
type ItemType string

// Item type constants, ordered root to leaf.
const (
	TypeInitiative ItemType = "initiative"
	TypeEpic       ItemType = "epic"
	TypeFeature    ItemType = "feature"
	TypeStory      ItemType = "story"
	TypeTask       ItemType = "task"
)

// IsValid checks if the item type value is valid.
func (t ItemType) IsValid() bool {
	switch t {
	case TypeInitiative, TypeEpic, TypeFeature, TypeStory, TypeTask:
		return true
	}
	return false
}

// Rank returns the hierarchy depth of the type: initiative=0 .. task=4.
// Unknown types sort last.
func (t ItemType) Rank() int {
	switch t {
	case TypeInitiative:
		return 0
	case TypeEpic:
		return 1
	case TypeFeature:
		return 2
	case TypeStory:
		return 3
	case TypeTask:
		return 4
	}
	return 5
}

// ChildType returns the type that may appear directly below this one in the
// hierarchy, and false for task (leaf level).
func (t ItemType) ChildType() (ItemType, bool) {
	switch t {
	case TypeInitiative:
		return TypeEpic, true
	case TypeEpic:
		return TypeFeature, true
	case TypeFeature:
		return TypeStory, true
	case TypeStory:
		return TypeTask, true
	}
	return "", false
}

// ParentType returns the type required directly above this one, and false
// for initiative (root level).
func (t ItemType) ParentType() (ItemType, bool) {
	switch t {
	case TypeEpic:
		return TypeInitiative, true
	case TypeFeature:
		return TypeEpic, true
	case TypeStory:
		return TypeFeature, true
	case TypeTask:
		return TypeStory, true
	}
	return "", false
}

// Status represents the current state of a work item.
type Status string

// Canonical status vocabulary.
const (
	StatusBacklog    Status = "backlog"
	StatusReady      Status = "ready"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
)

// Legacy status vocabulary, accepted as aliases of the canonical set.
const (
	StatusNotStarted Status = "not_started" // alias of backlog
	StatusTodo       Status = "todo"        // alias of ready
	StatusCompleted  Status = "completed"   // alias of done
	StatusFailed     Status = "failed"      // alias of cancelled
	StatusValidated  Status = "validated"   // alias of done
)

// IsValid checks if the status is in the canonical or legacy vocabulary.
func (s Status) IsValid() bool {
	switch s {
	case StatusBacklog, StatusReady, StatusInProgress, StatusBlocked,
		StatusReview, StatusDone, StatusCancelled,
		StatusNotStarted, StatusTodo, StatusCompleted, StatusFailed, StatusValidated:
		return true
	}
	return false
}

// IsLegacy reports whether the status uses the older vocabulary.
func (s Status) IsLegacy() bool {
	switch s {
	case StatusNotStarted, StatusTodo, StatusCompleted, StatusFailed, StatusValidated:
		return true
	}
	return false
}

// Canonical maps legacy aliases onto the canonical vocabulary. Canonical
// statuses map to themselves.
func (s Status) Canonical() Status {
	switch s {
	case StatusNotStarted:
		return StatusBacklog
	case StatusTodo:
		return StatusReady
	case StatusCompleted, StatusValidated:
		return StatusDone
	case StatusFailed:
		return StatusCancelled
	}
	return s
}

// IsTerminalDone reports whether the status means the work is finished for
// scheduling purposes (done, completed, or validated).
func (s Status) IsTerminalDone() bool {
	return s.Canonical() == StatusDone
}

// Priority categorizes urgency.
type Priority string

// Priority constants, most urgent first.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// IsValid checks if the priority value is valid.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank returns the sort rank: critical=0 .. low=3. Unknown sorts last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}

// Complexity categorizes estimated effort.
type Complexity string

// Complexity constants.
const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// IsValid checks if the complexity value is valid.
func (c Complexity) IsValid() bool {
	switch c {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex:
		return true
	}
	return false
}

// Rank returns the sort rank: simple=0 .. complex=2. Empty and unknown
// values sort after complex.
func (c Complexity) Rank() int {
	switch c {
	case ComplexitySimple:
		return 0
	case ComplexityModerate:
		return 1
	case ComplexityComplex:
		return 2
	}
	return 3
}

// Dependency is a directed relationship between work items.
type Dependency struct {
	SourceID  string         `json:"source_id"`
	TargetID  string         `json:"target_id"`
	Kind      DependencyKind `json:"kind"`
	CreatedAt time.Time      `json:"created_at"`
	CreatedBy string         `json:"created_by,omitempty"`
}

// DependencyKind categorizes the relationship.
type DependencyKind string

// Dependency kind constants.
const (
	// DepBlocks means source blocks target: blocks(A->B) is the same
	// scheduling edge as depends_on(B->A).
	DepBlocks DependencyKind = "blocks"
	// DepDependsOn means source must wait for target.
	DepDependsOn DependencyKind = "depends_on"
	// DepRelatesTo is informational only; it never affects scheduling.
	DepRelatesTo DependencyKind = "relates_to"
)

// IsValid checks if the dependency kind value is valid.
func (k DependencyKind) IsValid() bool {
	switch k {
	case DepBlocks, DepDependsOn, DepRelatesTo:
		return true
	}
	return false
}

// AffectsScheduling reports whether edges of this kind participate in the
// execution DAG.
func (k DependencyKind) AffectsScheduling() bool {
	return k == DepBlocks || k == DepDependsOn
}

// TreeNode is a work item annotated with its position in a hierarchy
// traversal.
type TreeNode struct {
	WorkItem
	Depth     int         `json:"depth"`
	Path      []string    `json:"path"`
	Children  []*TreeNode `json:"children,omitempty"`
	Truncated bool        `json:"truncated,omitempty"`
}

// Statistics provides aggregate work-item metrics.
type Statistics struct {
	TotalItems      int              `json:"total_items"`
	ByStatus        map[Status]int   `json:"by_status"`
	ByType          map[ItemType]int `json:"by_type"`
	BlockedItems    int              `json:"blocked_items"`
	AverageProgress float64          `json:"average_progress"`
}
