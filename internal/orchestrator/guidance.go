package orchestrator

import (
	"fmt"

	"github.com/jivedev/jive/internal/types"
)

// Guidance is the per-task execution brief attached to every dispatch.
type Guidance struct {
	Approach        string   `json:"approach"`
	Considerations  []string `json:"considerations,omitempty"`
	SuccessCriteria []string `json:"success_criteria"`
	BestPractices   []string `json:"best_practices,omitempty"`
	Pitfalls        []string `json:"pitfalls,omitempty"`
	Tools           []string `json:"tools,omitempty"`
}

// ReportingContract tells the agent when and how to report progress.
const ReportingContract = "Report progress through get_execution_status: send kind=progress " +
	"with a percentage at meaningful checkpoints, kind=blocker immediately when stuck, " +
	"and task_completed=true exactly once when the current task's success criteria hold."

// guidanceFor renders the execution brief for one plan entry.
func guidanceFor(item *types.WorkItem) Guidance {
	g := Guidance{
		Tools: []string{
			"get_work_item", "update_work_item", "search_work_items",
			"get_work_item_dependencies", "get_execution_status",
		},
	}

	switch item.Type {
	case types.TypeInitiative, types.TypeEpic:
		g.Approach = fmt.Sprintf("Decompose %q: confirm its children cover the whole scope before touching leaf work.", item.Title)
		g.Considerations = []string{
			"Children carry the implementation; this level is coordination and sequencing.",
			"Check the dependency graph before reordering children.",
		}
		g.Pitfalls = []string{"Marking the container complete while children are still open."}
	case types.TypeFeature, types.TypeStory:
		g.Approach = fmt.Sprintf("Work through the tasks under %q in plan order, validating each against its acceptance criteria.", item.Title)
		g.Considerations = []string{"Unblock dependent siblings early when task order allows."}
		g.Pitfalls = []string{"Skipping acceptance criteria review on individual tasks."}
	default:
		g.Approach = fmt.Sprintf("Implement %q directly; it is an atomic unit of work.", item.Title)
		g.Considerations = []string{"Keep the change scoped to this task; open follow-up items for anything adjacent."}
		g.Pitfalls = []string{"Letting scope grow past the task description."}
	}

	if len(item.AcceptanceCriteria) > 0 {
		g.SuccessCriteria = item.AcceptanceCriteria
	} else {
		g.SuccessCriteria = []string{fmt.Sprintf("%q is functionally complete and verified.", item.Title)}
	}

	g.BestPractices = []string{
		"Report progress at every meaningful checkpoint.",
		"Raise a blocker update instead of guessing when requirements are unclear.",
	}
	if item.Complexity == types.ComplexityComplex {
		g.BestPractices = append(g.BestPractices,
			"Break the work into observable milestones and report each one.")
	}
	return g
}
