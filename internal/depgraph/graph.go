// Package depgraph interprets work-item dependencies as a scheduling DAG:
// graph construction, cycle detection, topological ordering and validation.
package depgraph

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

// DefaultCycleCap bounds simple-cycle enumeration.
const DefaultCycleCap = 10_000

// Engine owns the dependency graph logic. All operations are pure reads;
// nothing here mutates the store.
type Engine struct {
	store    store.Store
	logger   *zap.Logger
	cycleCap int
}

// New builds an Engine. cycleCap <= 0 selects DefaultCycleCap.
func New(st store.Store, logger *zap.Logger, cycleCap int) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cycleCap <= 0 {
		cycleCap = DefaultCycleCap
	}
	return &Engine{store: st, logger: logger.Named("depgraph"), cycleCap: cycleCap}
}

// Graph is the scheduling view over a node set. Edges point from waiter to
// prerequisite: A -> B means A must wait for B.
type Graph struct {
	Nodes map[string]*types.WorkItem
	// Edges[A] lists the prerequisites of A, sorted ascending.
	Edges map[string][]string
	// Reverse[B] lists the waiters on B, sorted ascending.
	Reverse map[string][]string
}

// EdgeCount returns the number of scheduling edges.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, targets := range g.Edges {
		n += len(targets)
	}
	return n
}

// Build constructs the scheduling graph over items. Edges whose endpoints
// are not both in the set are dropped here; Validate reports them.
func (e *Engine) Build(ctx context.Context, items []*types.WorkItem) (*Graph, error) {
	g := &Graph{
		Nodes:   make(map[string]*types.WorkItem, len(items)),
		Edges:   make(map[string][]string),
		Reverse: make(map[string][]string),
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		g.Nodes[item.ID] = item
		ids = append(ids, item.ID)
	}

	edges, err := e.store.ListDependencies(ctx, ids)
	if err != nil {
		return nil, err
	}

	seen := make(map[[2]string]bool)
	addEdge := func(waiter, prereq string) {
		if !g.has(waiter) || !g.has(prereq) || waiter == prereq {
			return
		}
		key := [2]string{waiter, prereq}
		if seen[key] {
			return
		}
		seen[key] = true
		g.Edges[waiter] = append(g.Edges[waiter], prereq)
		g.Reverse[prereq] = append(g.Reverse[prereq], waiter)
	}

	for _, dep := range edges {
		switch dep.Kind {
		case types.DepDependsOn:
			addEdge(dep.SourceID, dep.TargetID)
		case types.DepBlocks:
			// blocks(A->B) is the same scheduling edge as depends_on(B->A).
			addEdge(dep.TargetID, dep.SourceID)
		case types.DepRelatesTo:
			// informational only
		}
	}

	// Embedded dependency lists on the items themselves are depends_on.
	for _, item := range items {
		for _, prereq := range item.Dependencies {
			addEdge(item.ID, prereq)
		}
	}

	for id := range g.Edges {
		sort.Strings(g.Edges[id])
	}
	for id := range g.Reverse {
		sort.Strings(g.Reverse[id])
	}
	return g, nil
}

func (g *Graph) has(id string) bool {
	_, ok := g.Nodes[id]
	return ok
}

// DependenciesOf returns the must-wait prerequisites of id, optionally
// extended transitively. onlyBlocking keeps only prerequisites whose
// status is not terminal-done.
func (e *Engine) DependenciesOf(ctx context.Context, g *Graph, id string, transitive, onlyBlocking bool) []*types.WorkItem {
	collected := make(map[string]bool)
	var walk func(cur string)
	walk = func(cur string) {
		for _, prereq := range g.Edges[cur] {
			if collected[prereq] {
				continue
			}
			collected[prereq] = true
			if transitive {
				walk(prereq)
			}
		}
	}
	walk(id)

	out := make([]*types.WorkItem, 0, len(collected))
	for prereq := range collected {
		item := g.Nodes[prereq]
		if onlyBlocking && item.Status.IsTerminalDone() {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExecutionOrder returns a stable topological sort of the graph: among the
// ready nodes, smallest priority rank first, ties by type rank, then by id.
// A cyclic graph returns the input order unchanged as the fallback.
func (e *Engine) ExecutionOrder(g *Graph, input []*types.WorkItem) []*types.WorkItem {
	indegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = len(g.Edges[id])
	}

	ready := make([]*types.WorkItem, 0, len(input))
	for _, item := range input {
		if indegree[item.ID] == 0 {
			ready = append(ready, item)
		}
	}

	var order []*types.WorkItem
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return scheduleBefore(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, waiter := range g.Reverse[next.ID] {
			indegree[waiter]--
			if indegree[waiter] == 0 {
				ready = append(ready, g.Nodes[waiter])
			}
		}
	}

	if len(order) != len(input) {
		e.logger.Warn("dependency graph has cycles, using input order",
			zap.Int("ordered", len(order)), zap.Int("total", len(input)))
		return input
	}
	return order
}

// scheduleBefore is the ready-set ordering: priority rank, then type rank,
// then id ascending.
func scheduleBefore(a, b *types.WorkItem) bool {
	if pa, pb := a.Priority.Rank(), b.Priority.Rank(); pa != pb {
		return pa < pb
	}
	if ta, tb := a.Type.Rank(), b.Type.Rank(); ta != tb {
		return ta < tb
	}
	return a.ID < b.ID
}
