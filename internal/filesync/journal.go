package filesync

import (
	"context"
	"sync"

	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

// Journal records the prior state of every record a tagged session
// overwrites, so a cancelled session can be rolled back. Entries are held
// in memory; a journal only needs to outlive its session.
type Journal struct {
	mu      sync.Mutex
	entries map[string][]journalEntry
}

type journalEntry struct {
	id    string
	prior *types.WorkItem // nil means the session created the record
}

// NewJournal builds an empty Journal.
func NewJournal() *Journal {
	return &Journal{entries: make(map[string][]journalEntry)}
}

func (j *Journal) recordCreate(tag, id string) {
	if tag == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[tag] = append(j.entries[tag], journalEntry{id: id})
}

func (j *Journal) recordUpdate(tag string, prior *types.WorkItem) {
	if tag == "" {
		return
	}
	snapshot := *prior
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[tag] = append(j.entries[tag], journalEntry{id: prior.ID, prior: &snapshot})
}

// RecordUpdate journals the pre-write state of an item under tag. Exposed
// for callers that write to the store outside the sync engine but still
// want session rollback.
func (j *Journal) RecordUpdate(tag string, prior *types.WorkItem) {
	j.recordUpdate(tag, prior)
}

// Rollback undoes a session's writes in reverse order: updated records are
// restored to their prior state, created records are deleted. The tag's
// entries are dropped afterwards regardless of partial failure; the first
// error is returned.
func (j *Journal) Rollback(ctx context.Context, st store.Store, tag string) error {
	j.mu.Lock()
	entries := j.entries[tag]
	delete(j.entries, tag)
	j.mu.Unlock()

	var firstErr error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		var err error
		if e.prior == nil {
			_, err = st.DeleteWorkItem(ctx, e.id)
		} else {
			_, err = st.UpdateWorkItem(ctx, e.id, fullUpdate(e.prior))
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Discard drops a session's journal without undoing anything.
func (j *Journal) Discard(tag string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, tag)
}

// Len reports how many writes are journaled under tag.
func (j *Journal) Len(tag string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries[tag])
}
