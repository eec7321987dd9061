package filesync

import (
	"sort"
	"time"

	"github.com/jivedev/jive/internal/types"
)

// MergeStrategy selects how conflicting records reconcile.
type MergeStrategy string

// Merge strategy constants.
const (
	FileWins         MergeStrategy = "file_wins"
	DatabaseWins     MergeStrategy = "database_wins"
	AutoMerge        MergeStrategy = "auto_merge"
	ManualResolution MergeStrategy = "manual_resolution"
	// CreateBranch is reserved; it downgrades to manual_resolution.
	CreateBranch MergeStrategy = "create_branch"
)

// IsValid checks if the merge strategy value is valid.
func (s MergeStrategy) IsValid() bool {
	switch s {
	case FileWins, DatabaseWins, AutoMerge, ManualResolution, CreateBranch:
		return true
	}
	return false
}

// Conflict describes one field that differs between the incoming file and
// the stored record.
type Conflict struct {
	Field      string `json:"field"`
	FileValue  string `json:"file_value"`
	StoreValue string `json:"store_value"`
}

// DetectConflicts compares the incoming record against the stored one over
// the reconciled field set. Differing updated_at stamps conflict only when
// both sides carry one.
func DetectConflicts(incoming, stored *types.WorkItem) []Conflict {
	var conflicts []Conflict
	add := func(field, file, db string) {
		if file != db {
			conflicts = append(conflicts, Conflict{Field: field, FileValue: file, StoreValue: db})
		}
	}

	add("title", incoming.Title, stored.Title)
	add("description", incoming.Description, stored.Description)
	add("status", string(incoming.Status.Canonical()), string(stored.Status.Canonical()))
	add("priority", string(incoming.Priority), string(stored.Priority))
	add("assignee", incoming.Assignee, stored.Assignee)

	if !incoming.UpdatedAt.IsZero() && !stored.UpdatedAt.IsZero() &&
		!incoming.UpdatedAt.Equal(stored.UpdatedAt) {
		add("updated_at",
			incoming.UpdatedAt.UTC().Format(time.RFC3339Nano),
			stored.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}
	return conflicts
}

// Resolve applies a strategy to produce the record to write. Returns nil
// when the strategy defers to the caller (manual_resolution, or the
// reserved create_branch which downgrades to it).
func Resolve(strategy MergeStrategy, incoming, stored *types.WorkItem, now time.Time) *types.WorkItem {
	switch strategy {
	case FileWins:
		merged := *incoming
		return &merged
	case DatabaseWins:
		// Conflicting fields keep the stored value; everything else comes
		// from the file so non-conflicting edits still land.
		merged := *incoming
		merged.Title = stored.Title
		merged.Description = stored.Description
		merged.Status = stored.Status
		merged.Priority = stored.Priority
		merged.Assignee = stored.Assignee
		merged.UpdatedAt = stored.UpdatedAt
		return &merged
	case AutoMerge:
		return autoMerge(incoming, stored, now)
	default:
		return nil
	}
}

// autoMerge bases the result on the newer side, unions list-valued fields
// and stamps updated_at with the merge time.
func autoMerge(incoming, stored *types.WorkItem, now time.Time) *types.WorkItem {
	base, other := stored, incoming
	if incoming.UpdatedAt.After(stored.UpdatedAt) {
		base, other = incoming, stored
	}
	merged := *base
	merged.Tags = unionSorted(base.Tags, other.Tags)
	merged.Dependencies = unionSorted(base.Dependencies, other.Dependencies)
	merged.UpdatedAt = now.UTC()
	return &merged
}

func unionSorted(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	for _, v := range a {
		set[v] = true
	}
	for _, v := range b {
		set[v] = true
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
