// Package executor runs delegated atomic work items in the background:
// sequential, parallel or dependency-ordered child scheduling bounded by
// a worker limit, reporting progress back into the owning session.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jivedev/jive/internal/depgraph"
	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

// DefaultMaxParallel bounds concurrent child dispatch.
const DefaultMaxParallel = 3

// Report delivers a progress event to the session owner. Calls arrive from
// worker goroutines; the receiver serializes them.
type Report func(types.ProgressUpdate)

// Job is one delegated execution.
type Job struct {
	ExecutionID string
	Root        *types.WorkItem
	Mode        types.ExecutionMode
	FailFast    bool
}

// Driver schedules and completes delegated work.
type Driver struct {
	store       store.Store
	deps        *depgraph.Engine
	logger      *zap.Logger
	maxParallel int
}

// New builds a Driver. maxParallel <= 0 selects DefaultMaxParallel.
func New(st store.Store, deps *depgraph.Engine, logger *zap.Logger, maxParallel int) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	return &Driver{store: st, deps: deps, logger: logger.Named("executor"), maxParallel: maxParallel}
}

// Run executes the job's open children per its mode, or the root itself
// when it has none. Cancellation is honored at every suspension point; a
// child that has begun its store write finishes it first.
func (d *Driver) Run(ctx context.Context, job Job, report Report) error {
	children, err := d.openChildren(ctx, job.Root.ID)
	if err != nil {
		return err
	}
	if len(children) == 0 {
		return d.runOne(ctx, job, job.Root, 0, report)
	}

	switch job.Mode {
	case types.ModeParallel:
		return d.runParallel(ctx, job, children, report)
	case types.ModeDependencyBased:
		return d.runDependencyBased(ctx, job, children, report)
	default:
		return d.runSequential(ctx, job, children, report)
	}
}

// openChildren lists direct children that still need work.
func (d *Driver) openChildren(ctx context.Context, parentID string) ([]*types.WorkItem, error) {
	kids, err := d.store.ListWorkItems(ctx, store.ListOptions{
		Filter: store.ItemFilter{ParentID: &parentID},
		SortBy: "id",
	})
	if err != nil {
		return nil, err
	}
	open := kids[:0]
	for _, kid := range kids {
		if !kid.Status.IsTerminalDone() && kid.Status.Canonical() != types.StatusCancelled {
			open = append(open, kid)
		}
	}
	return open, nil
}

func (d *Driver) runSequential(ctx context.Context, job Job, children []*types.WorkItem, report Report) error {
	var firstErr error
	for i, child := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.runOne(ctx, job, child, i, report); err != nil {
			if job.FailFast {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *Driver) runParallel(ctx context.Context, job Job, children []*types.WorkItem, report Report) error {
	if job.FailFast {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.maxParallel)
		for i, child := range children {
			g.Go(func() error {
				return d.runOne(gctx, job, child, i, report)
			})
		}
		return g.Wait()
	}

	// Without fail_fast every child runs to a verdict; the first error is
	// still reported.
	sem := semaphore.NewWeighted(int64(d.maxParallel))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	for i, child := range children {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			if err := d.runOne(ctx, job, child, i, report); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return firstErr
}

// runDependencyBased repeatedly dispatches the wave of children whose
// prerequisites are complete, up to maxParallel per wave.
func (d *Driver) runDependencyBased(ctx context.Context, job Job, children []*types.WorkItem, report Report) error {
	g, err := d.deps.Build(ctx, children)
	if err != nil {
		return err
	}

	completed := make(map[string]bool, len(children))
	remaining := make(map[string]*types.WorkItem, len(children))
	order := make([]string, 0, len(children))
	for _, child := range children {
		remaining[child.ID] = child
		order = append(order, child.ID)
	}

	index := func(id string) int {
		for i, v := range order {
			if v == id {
				return i
			}
		}
		return 0
	}

	var (
		mu       sync.Mutex
		failed   = make(map[string]bool)
		firstErr error
	)

	for len(remaining) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		var wave []*types.WorkItem
		for _, id := range order {
			child, ok := remaining[id]
			if !ok {
				continue
			}
			ready := true
			for _, prereq := range g.Edges[id] {
				if !completed[prereq] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, child)
			}
			if len(wave) == d.maxParallel {
				break
			}
		}
		if len(wave) == 0 {
			// Remaining children are blocked on a failed prerequisite or
			// on a genuine cycle.
			if firstErr != nil {
				return firstErr
			}
			return fmt.Errorf("dependency deadlock: %d children cannot become ready", len(remaining))
		}

		eg, gctx := errgroup.WithContext(ctx)
		for _, child := range wave {
			eg.Go(func() error {
				if err := d.runOne(gctx, job, child, index(child.ID), report); err != nil {
					mu.Lock()
					failed[child.ID] = true
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
					if job.FailFast {
						return err
					}
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
		// Completed members of the wave unblock their dependents; failed
		// members keep their subtree un-ready.
		for _, child := range wave {
			delete(remaining, child.ID)
			if !failed[child.ID] {
				completed[child.ID] = true
			}
		}
	}
	return firstErr
}

// runOne drives a single item to completion: a task-run row, the store
// completion write, and progress reports. The store write, once begun, is
// not abandoned on cancellation.
func (d *Driver) runOne(ctx context.Context, job Job, item *types.WorkItem, taskIndex int, report Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	run := &store.TaskRun{
		ID:          uuid.NewString(),
		WorkItemID:  item.ID,
		ExecutionID: job.ExecutionID,
		Status:      "running",
		StartedAt:   time.Now().UTC(),
	}
	if err := d.store.PutTaskRun(ctx, run); err != nil {
		return err
	}

	report(types.ProgressUpdate{
		Timestamp: time.Now().UTC(),
		Kind:      types.UpdateProgress,
		TaskIndex: taskIndex,
		Message:   fmt.Sprintf("executing %s", item.ID),
	})

	if err := ctx.Err(); err != nil {
		d.finishRun(run, "cancelled", err.Error())
		return err
	}

	// The completion write is the only mutation the driver makes to the
	// work item: status, progress, nothing else.
	status := types.StatusCompleted
	progress := 100.0
	_, err := d.store.UpdateWorkItem(context.WithoutCancel(ctx), item.ID, store.WorkItemUpdate{
		Status:   &status,
		Progress: &progress,
	})
	if err != nil {
		d.finishRun(run, "failed", err.Error())
		report(types.ProgressUpdate{
			Timestamp: time.Now().UTC(),
			Kind:      types.UpdateBlocker,
			TaskIndex: taskIndex,
			Message:   fmt.Sprintf("completing %s failed: %v", item.ID, err),
		})
		return fmt.Errorf("complete %s: %w", item.ID, err)
	}

	d.finishRun(run, "completed", "ok")
	report(types.ProgressUpdate{
		Timestamp: time.Now().UTC(),
		Kind:      types.UpdateCompletion,
		TaskIndex: taskIndex,
		Message:   fmt.Sprintf("completed %s", item.ID),
	})
	return nil
}

// finishRun closes out the task-run row. Best effort: the run table is an
// audit trail, not the source of truth.
func (d *Driver) finishRun(run *store.TaskRun, status, result string) {
	now := time.Now().UTC()
	run.Status = status
	run.CompletedAt = &now
	run.Result = result
	if err := d.store.PutTaskRun(context.Background(), run); err != nil {
		d.logger.Warn("task run close failed", zap.String("run", run.ID), zap.Error(err))
	}
}
