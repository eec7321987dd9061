// Package core assembles the engine: store, resolver, hierarchy,
// dependency graph, sync, executor and orchestrator, wired in dependency
// order from one Config.
package core

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/config"
	"github.com/jivedev/jive/internal/depgraph"
	"github.com/jivedev/jive/internal/embedding"
	"github.com/jivedev/jive/internal/executor"
	"github.com/jivedev/jive/internal/filesync"
	"github.com/jivedev/jive/internal/hierarchy"
	"github.com/jivedev/jive/internal/orchestrator"
	"github.com/jivedev/jive/internal/resolver"
	"github.com/jivedev/jive/internal/rpc"
	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/store/sqlite"
	"github.com/jivedev/jive/internal/telemetry"
)

// Core holds every wired component. Construction order is fixed: the
// embedding engine feeds the store, everything else layers on the store.
type Core struct {
	Config       *config.Config
	Logger       *zap.Logger
	Embedder     embedding.Engine
	Store        store.Store
	Hierarchy    *hierarchy.Manager
	Deps         *depgraph.Engine
	Resolver     *resolver.Resolver
	Sync         *filesync.Engine
	Driver       *executor.Driver
	Orchestrator *orchestrator.Orchestrator
	Handlers     *rpc.Handlers
}

// New builds a Core from cfg. Close releases the store.
func New(cfg *config.Config, logger *zap.Logger) (*Core, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	embedder, err := embedding.NewEngine(cfg.EmbeddingModel, cfg.OllamaEndpoint)
	if err != nil {
		return nil, fmt.Errorf("embedding engine: %w", err)
	}

	sqliteStore, err := sqlite.Open(cfg.DataPath, embedder, logger, sqlite.Options{
		OpTimeout:           cfg.StoreOpTimeout(),
		MaxRetries:          cfg.StoreMaxRetries,
		RetryBase:           cfg.StoreRetryBase,
		NormalizeEmbeddings: cfg.NormalizeEmbeddings,
		EnableFTS:           cfg.EnableFTS,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	st := telemetry.WrapStore(sqliteStore)

	hier := hierarchy.New(st, logger)
	deps := depgraph.New(st, logger, 0)
	res := resolver.New(st, logger)
	syncEng := filesync.New(st, hier, cfg.TasksRoot, logger)
	driver := executor.New(st, deps, logger, cfg.MaxParallel)
	orch := orchestrator.New(st, res, hier, deps, syncEng, driver, logger, orchestrator.Options{
		SessionTimeout: cfg.SessionTimeout(),
		MaxParallel:    cfg.MaxParallel,
	})
	handlers := rpc.NewHandlers(st, res, hier, deps, syncEng, orch, logger)

	return &Core{
		Config:       cfg,
		Logger:       logger,
		Embedder:     embedder,
		Store:        st,
		Hierarchy:    hier,
		Deps:         deps,
		Resolver:     res,
		Sync:         syncEng,
		Driver:       driver,
		Orchestrator: orch,
		Handlers:     handlers,
	}, nil
}

// Close releases the store.
func (c *Core) Close() error {
	return c.Store.Close()
}
