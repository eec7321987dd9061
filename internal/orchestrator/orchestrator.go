// Package orchestrator drives the cooperative execution loop: plan
// building, session state, next-task dispatch and cancellation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/depgraph"
	"github.com/jivedev/jive/internal/executor"
	"github.com/jivedev/jive/internal/filesync"
	"github.com/jivedev/jive/internal/hierarchy"
	"github.com/jivedev/jive/internal/resolver"
	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

// ErrSessionNotFound is returned for unknown execution IDs.
var ErrSessionNotFound = errors.New("execution session not found")

// ErrSessionTerminal is returned when an operation needs a live session.
var ErrSessionTerminal = errors.New("execution session already terminal")

// DefaultSessionTimeout bounds a session's lifetime.
const DefaultSessionTimeout = 60 * time.Minute

// Options tune the orchestrator.
type Options struct {
	SessionTimeout time.Duration // default 60m
	MaxParallel    int           // executor bound, default 3
}

// Orchestrator owns the session map. Sessions are mutated only under mu,
// so each read-modify-write is serialized; executor workers feed back
// through the same path.
type Orchestrator struct {
	store    store.Store
	resolver *resolver.Resolver
	hier     *hierarchy.Manager
	deps     *depgraph.Engine
	sync     *filesync.Engine
	driver   *executor.Driver
	logger   *zap.Logger
	opts     Options

	mu       sync.Mutex
	sessions map[string]*Session
}

// New wires an Orchestrator.
func New(st store.Store, res *resolver.Resolver, hier *hierarchy.Manager, deps *depgraph.Engine, syncEng *filesync.Engine, driver *executor.Driver, logger *zap.Logger, opts Options) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = executor.DefaultMaxParallel
	}
	return &Orchestrator{
		store:    st,
		resolver: res,
		hier:     hier,
		deps:     deps,
		sync:     syncEng,
		driver:   driver,
		logger:   logger.Named("orchestrator"),
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// ExecuteOptions tune session creation.
type ExecuteOptions struct {
	Mode           types.ExecutionMode // default sequential
	Ordering       types.PlanOrdering  // default dependency_order
	TimeoutMinutes int                 // default from Options
	// Delegate hands the root's children to the background executor.
	Delegate bool
	FailFast bool
}

// StatusUpdate is a caller-reported progress event.
type StatusUpdate struct {
	Kind          types.UpdateKind  `json:"kind,omitempty"`
	Message       string            `json:"message,omitempty"`
	Progress      *float64          `json:"progress,omitempty"`
	TaskCompleted bool              `json:"task_completed,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

// Dispatch is what a tool call gets back: session state plus the task the
// agent should work on next, with its execution brief.
type Dispatch struct {
	ExecutionID string              `json:"execution_id"`
	Status      types.SessionStatus `json:"status"`
	Task        *types.WorkItem     `json:"task,omitempty"`
	Guidance    *Guidance           `json:"guidance,omitempty"`
	Position    string              `json:"position,omitempty"`
	Reporting   string              `json:"reporting,omitempty"`
	Message     string              `json:"message,omitempty"`
	Session     *Session            `json:"session,omitempty"`
}

// Execute resolves the root, builds the plan and creates a session in the
// ready state, returning the first task dispatch.
func (o *Orchestrator) Execute(ctx context.Context, identifier string, opts ExecuteOptions) (*Dispatch, error) {
	if opts.Mode == "" {
		opts.Mode = types.ModeSequential
	}
	if !opts.Mode.IsValid() {
		return nil, fmt.Errorf("invalid execution mode %q", opts.Mode)
	}
	if !opts.Ordering.IsValid() {
		return nil, fmt.Errorf("invalid plan ordering %q", opts.Ordering)
	}

	root, _, err := o.resolver.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("work item %q: %w", identifier, store.ErrNotFound)
	}

	items, err := o.buildPlan(ctx, root, opts.Ordering, opts.Mode)
	if err != nil {
		return nil, err
	}

	timeout := o.opts.SessionTimeout
	if opts.TimeoutMinutes > 0 {
		timeout = time.Duration(opts.TimeoutMinutes) * time.Minute
	}

	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.NewString(),
		RootID:    root.ID,
		Mode:      opts.Mode,
		Ordering:  opts.Ordering,
		Status:    types.SessionReady,
		Plan:      toSlots(items),
		CreatedAt: now,
		Deadline:  now.Add(timeout),
	}

	o.mu.Lock()
	o.sessions[sess.ID] = sess
	o.mu.Unlock()

	o.appendLog(ctx, sess.ID, root.ID, types.UpdateMilestone, 0,
		fmt.Sprintf("execution started with %d planned tasks", len(items)))
	o.logger.Info("execution session created",
		zap.String("execution_id", sess.ID),
		zap.String("root", root.ID),
		zap.String("mode", string(opts.Mode)),
		zap.Int("plan_size", len(items)))

	if opts.Delegate && o.driver != nil {
		o.startDelegated(sess, root, opts)
	}

	return o.dispatch(ctx, sess, "")
}

// Status advances or inspects a session. A nil update is a pure inspect.
func (o *Orchestrator) Status(ctx context.Context, executionID string, upd *StatusUpdate) (*Dispatch, error) {
	o.mu.Lock()
	sess, ok := o.sessions[executionID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, executionID)
	}

	now := time.Now().UTC()
	if sess.expired(now) {
		o.failLocked(sess, "timeout", now)
		o.mu.Unlock()
		o.appendLog(ctx, sess.ID, sess.RootID, types.UpdateBlocker, sess.CurrentIndex, "session timed out")
		return o.dispatch(ctx, sess, "session failed: timeout")
	}

	if upd == nil || (upd.Kind == "" && !upd.TaskCompleted) {
		o.mu.Unlock()
		return o.dispatch(ctx, sess, "")
	}

	if sess.Status.Terminal() {
		o.mu.Unlock()
		return o.dispatch(ctx, sess, fmt.Sprintf("session is %s; updates are not accepted", sess.Status))
	}

	if upd.Kind != "" && !upd.Kind.IsValid() {
		o.mu.Unlock()
		return nil, fmt.Errorf("invalid update kind %q", upd.Kind)
	}

	kind := upd.Kind
	if kind == "" {
		kind = types.UpdateProgress
	}
	if upd.TaskCompleted {
		kind = types.UpdateCompletion
	}

	event := types.ProgressUpdate{
		Timestamp: now,
		Kind:      kind,
		TaskIndex: sess.CurrentIndex,
		Message:   upd.Message,
		Details:   upd.Details,
	}
	sess.Updates = append(sess.Updates, event)

	// State machine: blockers park the session, anything else resumes it.
	switch {
	case kind == types.UpdateBlocker:
		sess.Status = types.SessionBlocked
	default:
		if sess.Status == types.SessionReady {
			started := now
			sess.StartedAt = &started
		}
		sess.Status = types.SessionRunning
	}

	var message string
	taskIndex := sess.CurrentIndex
	if upd.TaskCompleted {
		if slot := sess.currentSlot(); slot != nil {
			slot.Status = types.SlotCompleted
		}
		sess.CurrentIndex++
		if sess.CurrentIndex >= len(sess.Plan) {
			done := now
			sess.Status = types.SessionCompleted
			sess.CompletedAt = &done
			message = "all planned tasks completed"
		}
	}
	sess.clampIndex()
	o.mu.Unlock()

	o.appendLog(ctx, executionID, sess.RootID, kind, taskIndex, upd.Message)
	return o.dispatch(ctx, sess, message)
}

// Cancel terminates a session. rollback reverts writes journaled under the
// session tag; force skips waiting for a delegated executor to stop.
func (o *Orchestrator) Cancel(ctx context.Context, executionID, reason string, force, rollback bool) (*Dispatch, error) {
	o.mu.Lock()
	sess, ok := o.sessions[executionID]
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, executionID)
	}
	if sess.Status.Terminal() {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionTerminal, executionID, sess.Status)
	}

	now := time.Now().UTC()
	sess.Status = types.SessionCancelled
	sess.CancelledAt = &now
	sess.Reason = reason
	cancelExec := sess.cancelExec
	done := sess.execDone
	o.mu.Unlock()

	if cancelExec != nil {
		cancelExec()
		if !force && done != nil {
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				o.logger.Warn("delegated executor did not stop in time",
					zap.String("execution_id", executionID))
			case <-ctx.Done():
			}
		}
	}

	if rollback && o.sync != nil {
		if err := o.sync.Journal().Rollback(ctx, o.store, executionID); err != nil {
			o.logger.Error("session rollback failed",
				zap.String("execution_id", executionID), zap.Error(err))
		}
	}

	msg := "execution cancelled"
	if reason != "" {
		msg += ": " + reason
	}
	o.appendLog(ctx, executionID, sess.RootID, types.UpdateBlocker, sess.CurrentIndex, msg)
	o.logger.Info("execution session cancelled",
		zap.String("execution_id", executionID),
		zap.String("reason", reason),
		zap.Bool("rollback", rollback))
	return o.dispatch(ctx, sess, msg)
}

// Session returns a copy of the session state.
func (o *Orchestrator) Session(executionID string) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	sess, ok := o.sessions[executionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, executionID)
	}
	return sess.clone(), nil
}

// dispatch assembles the caller-facing view: current task, guidance and
// position. The session snapshot is taken under the lock.
func (o *Orchestrator) dispatch(ctx context.Context, sess *Session, message string) (*Dispatch, error) {
	o.mu.Lock()
	snapshot := sess.clone()
	o.mu.Unlock()

	d := &Dispatch{
		ExecutionID: snapshot.ID,
		Status:      snapshot.Status,
		Message:     message,
		Session:     snapshot,
	}
	if snapshot.Status.Terminal() {
		return d, nil
	}

	slot := snapshot.currentSlot()
	if slot == nil {
		return d, nil
	}
	task, err := o.store.GetWorkItem(ctx, slot.ID)
	if err != nil {
		// The plan can outlive a deleted item; surface the gap, keep the
		// session at its last valid state.
		return nil, err
	}
	g := guidanceFor(task)
	d.Task = task
	d.Guidance = &g
	d.Position = fmt.Sprintf("%d of %d", snapshot.CurrentIndex+1, len(snapshot.Plan))
	d.Reporting = ReportingContract
	return d, nil
}

// startDelegated hands the plan's leaf work to the background executor.
func (o *Orchestrator) startDelegated(sess *Session, root *types.WorkItem, opts ExecuteOptions) {
	execCtx, cancel := context.WithDeadline(context.Background(), sess.Deadline)
	done := make(chan struct{})

	o.mu.Lock()
	sess.cancelExec = cancel
	sess.execDone = done
	o.mu.Unlock()

	report := func(update types.ProgressUpdate) {
		o.applyExecUpdate(sess.ID, update)
	}

	go func() {
		defer close(done)
		defer cancel()
		err := o.driver.Run(execCtx, executor.Job{
			ExecutionID: sess.ID,
			Root:        root,
			Mode:        opts.Mode,
			FailFast:    opts.FailFast,
		}, report)
		o.finishDelegated(sess.ID, err)
	}()
}

// applyExecUpdate is the executor's entry into the serialized session
// state. It mirrors the status-call state machine for background updates.
func (o *Orchestrator) applyExecUpdate(executionID string, update types.ProgressUpdate) {
	o.mu.Lock()
	sess, ok := o.sessions[executionID]
	if !ok || sess.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	sess.Updates = append(sess.Updates, update)
	if update.Kind == types.UpdateBlocker {
		sess.Status = types.SessionBlocked
	} else {
		if sess.Status == types.SessionReady {
			started := update.Timestamp
			sess.StartedAt = &started
		}
		sess.Status = types.SessionRunning
	}
	o.mu.Unlock()

	o.appendLog(context.Background(), executionID, sess.RootID, update.Kind, update.TaskIndex, update.Message)
}

// finishDelegated records the background run's outcome.
func (o *Orchestrator) finishDelegated(executionID string, err error) {
	o.mu.Lock()
	sess, ok := o.sessions[executionID]
	if !ok || sess.Status.Terminal() {
		o.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	if err != nil {
		o.failLocked(sess, err.Error(), now)
	} else {
		for i := range sess.Plan {
			sess.Plan[i].Status = types.SlotCompleted
		}
		sess.CurrentIndex = len(sess.Plan)
		sess.Status = types.SessionCompleted
		sess.CompletedAt = &now
	}
	o.mu.Unlock()

	msg := "delegated execution completed"
	if err != nil {
		msg = "delegated execution failed: " + err.Error()
	}
	o.appendLog(context.Background(), executionID, sess.RootID, types.UpdateCompletion, sess.CurrentIndex, msg)
}

// failLocked transitions a session to failed. Caller holds mu.
func (o *Orchestrator) failLocked(sess *Session, reason string, now time.Time) {
	sess.Status = types.SessionFailed
	sess.Reason = reason
	done := now
	sess.CompletedAt = &done
}

// appendLog persists a session event; log failures never fail the
// operation that produced them.
func (o *Orchestrator) appendLog(ctx context.Context, executionID, itemID string, kind types.UpdateKind, taskIndex int, message string) {
	entry := &store.ExecutionLogEntry{
		ExecutionID: executionID,
		WorkItemID:  itemID,
		Kind:        kind,
		TaskIndex:   taskIndex,
		Message:     message,
	}
	if err := o.store.AppendExecutionLog(ctx, entry); err != nil {
		o.logger.Warn("execution log append failed",
			zap.String("execution_id", executionID), zap.Error(err))
	}
}
