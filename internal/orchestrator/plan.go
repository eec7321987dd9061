package orchestrator

import (
	"context"
	"sort"

	"github.com/jivedev/jive/internal/types"
)

// buildPlan collects root plus its recursive children and orders them by
// the selected setting. dependency_based mode plans only the leaf work,
// topologically sorted; containers complete through their children.
func (o *Orchestrator) buildPlan(ctx context.Context, root *types.WorkItem, ordering types.PlanOrdering, mode types.ExecutionMode) ([]*types.WorkItem, error) {
	children, err := o.hier.Children(ctx, root.ID, true)
	if err != nil {
		return nil, err
	}
	items := append([]*types.WorkItem{root}, children...)

	if mode == types.ModeDependencyBased {
		leaves := leafItems(items)
		g, err := o.deps.Build(ctx, leaves)
		if err != nil {
			return nil, err
		}
		return o.deps.ExecutionOrder(g, leaves), nil
	}

	switch ordering {
	case types.OrderPriorityHighFirst:
		sort.SliceStable(items, func(i, j int) bool {
			if pi, pj := items[i].Priority.Rank(), items[j].Priority.Rank(); pi != pj {
				return pi < pj
			}
			return items[i].Type.Rank() < items[j].Type.Rank()
		})
	case types.OrderComplexitySimpleFirst:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Complexity.Rank() < items[j].Complexity.Rank()
		})
	default: // dependency_order
		sort.SliceStable(items, func(i, j int) bool {
			if ti, tj := items[i].Type.Rank(), items[j].Type.Rank(); ti != tj {
				return ti < tj
			}
			return items[i].Priority.Rank() < items[j].Priority.Rank()
		})
	}
	return items, nil
}

// leafItems drops containers from a plan set. An item that is the parent
// of another plan member is tracked through its children, not dispatched
// as a task of its own; a root with no children is its own leaf.
func leafItems(items []*types.WorkItem) []*types.WorkItem {
	isParent := make(map[string]bool, len(items))
	for _, item := range items {
		if item.ParentID != "" {
			isParent[item.ParentID] = true
		}
	}
	leaves := make([]*types.WorkItem, 0, len(items))
	for _, item := range items {
		if !isParent[item.ID] {
			leaves = append(leaves, item)
		}
	}
	return leaves
}

// toSlots wraps ordered items into plan entries.
func toSlots(items []*types.WorkItem) []types.TaskSlot {
	slots := make([]types.TaskSlot, len(items))
	for i, item := range items {
		slots[i] = types.TaskSlot{ID: item.ID, Order: i, Status: types.SlotReady}
	}
	return slots
}
