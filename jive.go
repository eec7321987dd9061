// Package jive provides a minimal public API for extending the engine
// with custom orchestration.
//
// It exports only the essential types and the store constructor needed by
// Go programs that want to use the work-item storage layer directly; the
// full engine (resolver, hierarchy, execution sessions, sync) is wired by
// internal/core and exposed over the daemon's tool surface.
package jive

import (
	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/embedding"
	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/store/sqlite"
	"github.com/jivedev/jive/internal/types"
)

// Core types for working with work items.
type (
	WorkItem   = types.WorkItem
	Status     = types.Status
	ItemType   = types.ItemType
	Priority   = types.Priority
	Dependency = types.Dependency
	ItemFilter = store.ItemFilter
)

// Status constants.
const (
	StatusBacklog    = types.StatusBacklog
	StatusReady      = types.StatusReady
	StatusInProgress = types.StatusInProgress
	StatusBlocked    = types.StatusBlocked
	StatusDone       = types.StatusDone
	StatusCancelled  = types.StatusCancelled
)

// Item type constants.
const (
	TypeInitiative = types.TypeInitiative
	TypeEpic       = types.TypeEpic
	TypeFeature    = types.TypeFeature
	TypeStory      = types.TypeStory
	TypeTask       = types.TypeTask
)

// Store is the uniform access layer over durable state.
type Store = store.Store

// OpenStore opens the embedded store at dataPath with the deterministic
// local embedding engine. Programs needing real embeddings or tuned
// retry/FTS behavior should construct the store via internal wiring
// options instead.
func OpenStore(dataPath string) (Store, error) {
	engine := embedding.NewLocalEngine()
	return sqlite.Open(dataPath, engine, zap.NewNop(), sqlite.Options{EnableFTS: true})
}
