// Package filesync reconciles on-disk work-item files with the store:
// parsing, validation, conflict resolution and sync-state bookkeeping.
// The engine never touches the filesystem itself; callers supply file
// bytes and write exported bytes back out.
package filesync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/hierarchy"
	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

// Outcome classifies a sync result.
type Outcome string

// Outcome constants.
const (
	OutcomeSuccess  Outcome = "success"
	OutcomeConflict Outcome = "conflict"
	OutcomeError    Outcome = "error"
)

// Result is the uniform return of both sync directions.
type Result struct {
	Outcome   Outcome         `json:"outcome"`
	Item      *types.WorkItem `json:"item,omitempty"`
	Conflicts []Conflict      `json:"conflicts,omitempty"`
	Errors    []string        `json:"errors,omitempty"`
	Warnings  []string        `json:"warnings,omitempty"`
	Path      string          `json:"path,omitempty"`
	Content   []byte          `json:"-"`
	Checksum  string          `json:"checksum,omitempty"`
	Created   bool            `json:"created,omitempty"`
}

// FileToStoreOptions tune a file->store sync.
type FileToStoreOptions struct {
	ValidateOnly bool
	Strategy     MergeStrategy // default manual_resolution
	// SessionTag groups writes for later rollback; empty disables journaling.
	SessionTag string
}

// Engine reconciles files with the store.
type Engine struct {
	store   store.Store
	hier    *hierarchy.Manager
	logger  *zap.Logger
	root    string
	journal *Journal
}

// New builds an Engine. root is the tasks directory used for default
// export paths.
func New(st store.Store, hier *hierarchy.Manager, root string, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:   st,
		hier:    hier,
		logger:  logger.Named("filesync"),
		root:    root,
		journal: NewJournal(),
	}
}

// Journal exposes the rollback journal for session-scoped undo.
func (e *Engine) Journal() *Journal {
	return e.journal
}

// FileToStore reconciles one file's content into the store.
func (e *Engine) FileToStore(ctx context.Context, path string, content []byte, opts FileToStoreOptions) (*Result, error) {
	if opts.Strategy == "" {
		opts.Strategy = ManualResolution
	}
	if !opts.Strategy.IsValid() {
		return &Result{
			Outcome: OutcomeError,
			Errors:  []string{fmt.Sprintf("unknown merge strategy %q", opts.Strategy)},
			Path:    path,
		}, nil
	}
	if opts.Strategy == CreateBranch {
		opts.Strategy = ManualResolution
	}

	incoming, err := Parse(content, FormatForPath(path))
	if err != nil {
		return &Result{Outcome: OutcomeError, Errors: []string{err.Error()}, Path: path}, nil
	}

	result := &Result{Path: path, Item: incoming}
	if incoming.Status.IsLegacy() {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("status %q is a legacy alias of %q", incoming.Status, incoming.Status.Canonical()))
	}

	var msgs []string
	if incoming.ID == "" {
		msgs = append(msgs, "id is required")
	}
	for _, verr := range incoming.Validate() {
		msgs = append(msgs, verr.Error())
	}
	if incoming.ID != "" && len(msgs) == 0 {
		if err := e.hier.CheckPlacement(ctx, incoming.Type, incoming.ParentID); err != nil {
			if hierarchy.IsViolation(err) {
				msgs = append(msgs, err.Error())
			} else {
				return nil, err
			}
		}
	}
	if len(msgs) > 0 {
		result.Outcome = OutcomeError
		result.Errors = msgs
		return result, nil
	}

	if opts.ValidateOnly {
		result.Outcome = OutcomeSuccess
		return result, nil
	}

	// Re-syncing byte-identical content is a no-op: the previous sync
	// already reconciled exactly this file state.
	if rec, recErr := e.store.GetSyncRecordByPath(ctx, path); recErr == nil && rec.Checksum == checksum(content) {
		if _, getErr := e.store.GetWorkItem(ctx, incoming.ID); getErr == nil {
			result.Outcome = OutcomeSuccess
			result.Checksum = rec.Checksum
			return result, nil
		}
	}

	stored, err := e.store.GetWorkItem(ctx, incoming.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.journal.recordCreate(opts.SessionTag, incoming.ID)
		if err := e.store.CreateWorkItem(ctx, incoming); err != nil {
			return nil, err
		}
		result.Created = true
	case err != nil:
		return nil, err
	default:
		conflicts := DetectConflicts(incoming, stored)
		if len(conflicts) > 0 {
			resolved := Resolve(opts.Strategy, incoming, stored, time.Now())
			if resolved == nil {
				result.Outcome = OutcomeConflict
				result.Conflicts = conflicts
				return result, nil
			}
			incoming = resolved
			result.Item = resolved
			result.Conflicts = conflicts
		}
		e.journal.recordUpdate(opts.SessionTag, stored)
		if _, err := e.store.UpdateWorkItem(ctx, incoming.ID, fullUpdate(incoming)); err != nil {
			return nil, err
		}
	}

	// Sync state updates only after the store write succeeded.
	result.Checksum = checksum(content)
	rec := &types.SyncRecord{
		Path:       path,
		WorkItemID: incoming.ID,
		Checksum:   result.Checksum,
		LastSynced: time.Now().UTC(),
	}
	if err := e.store.PutSyncRecord(ctx, rec); err != nil {
		return nil, err
	}

	result.Outcome = OutcomeSuccess
	e.logger.Info("synced file to store",
		zap.String("path", path),
		zap.String("id", incoming.ID),
		zap.Bool("created", result.Created))
	return result, nil
}

// StoreToFile exports a stored item as serialized bytes. The caller writes
// them to disk; the sync record is updated optimistically with the checksum
// of the returned content.
func (e *Engine) StoreToFile(ctx context.Context, id, path string, format Format) (*Result, error) {
	item, err := e.store.GetWorkItem(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &Result{
				Outcome: OutcomeError,
				Errors:  []string{fmt.Sprintf("work item %s not found", id)},
			}, nil
		}
		return nil, err
	}

	if format == "" {
		if path != "" {
			format = FormatForPath(path)
		} else {
			format = FormatJSON
		}
	}
	if path == "" {
		path = TargetPath(e.root, item, format)
	}

	now := time.Now().UTC()
	content, err := Serialize(item, format, now)
	if err != nil {
		return nil, err
	}

	sum := checksum(content)
	rec := &types.SyncRecord{
		Path:       path,
		WorkItemID: item.ID,
		Checksum:   sum,
		LastSynced: now,
	}
	if err := e.store.PutSyncRecord(ctx, rec); err != nil {
		return nil, err
	}

	e.logger.Info("exported work item", zap.String("id", id), zap.String("path", path))
	return &Result{
		Outcome:  OutcomeSuccess,
		Item:     item,
		Path:     path,
		Content:  content,
		Checksum: sum,
	}, nil
}

// Status returns the reconciliation state for a path or a work-item ID,
// whichever matches first.
func (e *Engine) Status(ctx context.Context, pathOrID string) (*types.SyncRecord, error) {
	rec, err := e.store.GetSyncRecordByPath(ctx, pathOrID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	return e.store.GetSyncRecordByItem(ctx, pathOrID)
}

// StatusAll returns every sync record.
func (e *Engine) StatusAll(ctx context.Context) ([]*types.SyncRecord, error) {
	return e.store.ListSyncRecords(ctx)
}

// Changed reports whether content differs from the last synced state of
// path. Unknown paths always count as changed.
func (e *Engine) Changed(ctx context.Context, path string, content []byte) (bool, error) {
	rec, err := e.store.GetSyncRecordByPath(ctx, path)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return rec.Checksum != checksum(content), nil
}

// fullUpdate converts a complete item into the partial-update shape.
func fullUpdate(item *types.WorkItem) store.WorkItemUpdate {
	title := item.Title
	desc := item.Description
	status := item.Status
	priority := item.Priority
	complexity := item.Complexity
	parent := item.ParentID
	deps := item.Dependencies
	criteria := item.AcceptanceCriteria
	progress := item.ProgressPercentage
	assignee := item.Assignee
	tags := item.Tags
	meta := item.Metadata
	upd := store.WorkItemUpdate{
		Title:              &title,
		Description:        &desc,
		Status:             &status,
		Priority:           &priority,
		Complexity:         &complexity,
		ParentID:           &parent,
		Dependencies:       &deps,
		AcceptanceCriteria: &criteria,
		Progress:           &progress,
		Assignee:           &assignee,
		Tags:               &tags,
		Metadata:           &meta,
	}
	if !item.UpdatedAt.IsZero() {
		stamp := item.UpdatedAt
		upd.UpdatedAt = &stamp
	}
	return upd
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
