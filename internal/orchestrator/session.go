package orchestrator

import (
	"context"
	"time"

	"github.com/jivedev/jive/internal/types"
)

// Session is the live state of one execution. All mutation happens under
// the orchestrator's serialized apply path; readers receive copies.
type Session struct {
	ID           string                 `json:"id"`
	RootID       string                 `json:"root_id"`
	Mode         types.ExecutionMode    `json:"mode"`
	Ordering     types.PlanOrdering     `json:"ordering"`
	Status       types.SessionStatus    `json:"status"`
	Plan         []types.TaskSlot       `json:"plan"`
	CurrentIndex int                    `json:"current_index"`
	Updates      []types.ProgressUpdate `json:"updates,omitempty"`
	Reason       string                 `json:"reason,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	Deadline     time.Time              `json:"deadline"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	CancelledAt  *time.Time             `json:"cancelled_at,omitempty"`

	// cancelExec stops a delegated background executor, if one is running.
	cancelExec context.CancelFunc
	execDone   chan struct{}
}

// clone returns a defensive copy safe to hand to callers.
func (s *Session) clone() *Session {
	cp := *s
	cp.Plan = append([]types.TaskSlot(nil), s.Plan...)
	cp.Updates = append([]types.ProgressUpdate(nil), s.Updates...)
	cp.cancelExec = nil
	cp.execDone = nil
	return &cp
}

// expired reports whether the session ran past its deadline.
func (s *Session) expired(now time.Time) bool {
	return !s.Status.Terminal() && now.After(s.Deadline)
}

// clampIndex keeps current_index within [0, len(plan)]. It only ever moves
// forward; cancel and rollback are the explicit exceptions handled by the
// orchestrator.
func (s *Session) clampIndex() {
	if s.CurrentIndex > len(s.Plan) {
		s.CurrentIndex = len(s.Plan)
	}
	if s.CurrentIndex < 0 {
		s.CurrentIndex = 0
	}
}

// currentSlot returns the active plan entry, or nil when the plan is
// exhausted.
func (s *Session) currentSlot() *types.TaskSlot {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Plan) {
		return nil
	}
	return &s.Plan[s.CurrentIndex]
}
