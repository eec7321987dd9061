// Package hierarchy provides tree operations over the parent/child
// structure of work items plus derived progress rollup.
package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

// MaxDepth caps recursive traversals. Ten levels is twice the legal chain
// length, so hitting it means corrupted parent links.
const MaxDepth = 10

// ViolationError reports a broken parent/child rule. It names the offending
// types so tool responses can surface them.
type ViolationError struct {
	ChildType  types.ItemType
	ParentType types.ItemType
	Message    string
}

func (e *ViolationError) Error() string {
	return e.Message
}

// IsViolation reports whether err is a hierarchy violation.
func IsViolation(err error) bool {
	var ve *ViolationError
	return errors.As(err, &ve)
}

// Manager owns parent/child traversal and rule enforcement.
type Manager struct {
	store  store.Store
	logger *zap.Logger
}

// New builds a Manager.
func New(st store.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: st, logger: logger.Named("hierarchy")}
}

// CheckPlacement enforces the structural rules: initiatives are the only
// roots, and every other type must sit directly below its predecessor in
// the chain initiative > epic > feature > story > task.
func (m *Manager) CheckPlacement(ctx context.Context, itemType types.ItemType, parentID string) error {
	if parentID == "" {
		if itemType != types.TypeInitiative {
			return &ViolationError{
				ChildType: itemType,
				Message:   fmt.Sprintf("%s requires a parent; only initiatives are roots", itemType),
			}
		}
		return nil
	}
	if itemType == types.TypeInitiative {
		return &ViolationError{
			ChildType: itemType,
			Message:   "initiatives cannot have a parent",
		}
	}

	parent, err := m.store.GetWorkItem(ctx, parentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &ViolationError{
				ChildType: itemType,
				Message:   fmt.Sprintf("parent %s does not exist", parentID),
			}
		}
		return err
	}

	if want, ok := itemType.ParentType(); !ok || want != parent.Type {
		return &ViolationError{
			ChildType:  itemType,
			ParentType: parent.Type,
			Message: fmt.Sprintf("%s cannot be a child of %s; expected parent type %s",
				itemType, parent.Type, want),
		}
	}
	return nil
}

// Children returns the direct children of id, or the whole subtree when
// recursive. Traversal is depth-first, capped at MaxDepth, and skips nodes
// already visited so corrupted parent links cannot loop it.
func (m *Manager) Children(ctx context.Context, id string, recursive bool) ([]*types.WorkItem, error) {
	visited := map[string]bool{id: true}
	var out []*types.WorkItem

	var walk func(parentID string, depth int) error
	walk = func(parentID string, depth int) error {
		if depth >= MaxDepth {
			m.logger.Warn("hierarchy traversal depth cap hit", zap.String("root", id))
			return nil
		}
		kids, err := m.directChildren(ctx, parentID)
		if err != nil {
			return err
		}
		for _, kid := range kids {
			if visited[kid.ID] {
				continue
			}
			visited[kid.ID] = true
			out = append(out, kid)
			if recursive {
				if err := walk(kid.ID, depth+1); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(id, 0); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) directChildren(ctx context.Context, parentID string) ([]*types.WorkItem, error) {
	return m.store.ListWorkItems(ctx, store.ListOptions{
		Filter: store.ItemFilter{ParentID: &parentID},
		SortBy: "id",
	})
}

// Ancestors walks up parent links and returns the chain root-first,
// excluding id itself.
func (m *Manager) Ancestors(ctx context.Context, id string) ([]*types.WorkItem, error) {
	item, err := m.store.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}

	var chain []*types.WorkItem
	visited := map[string]bool{id: true}
	for item.ParentID != "" {
		if visited[item.ParentID] {
			m.logger.Warn("parent chain loops", zap.String("id", id))
			break
		}
		visited[item.ParentID] = true
		parent, err := m.store.GetWorkItem(ctx, item.ParentID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				break
			}
			return nil, err
		}
		chain = append(chain, parent)
		item = parent
		if len(chain) >= MaxDepth {
			break
		}
	}

	// Collected child-first; reverse to root-first.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Tree returns the nested hierarchy under root with depth and path
// annotations. maxDepth <= 0 selects MaxDepth; a subtree cut off by the
// limit is marked Truncated.
func (m *Manager) Tree(ctx context.Context, rootID string, maxDepth int) (*types.TreeNode, error) {
	if maxDepth <= 0 || maxDepth > MaxDepth {
		maxDepth = MaxDepth
	}
	root, err := m.store.GetWorkItem(ctx, rootID)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{rootID: true}
	var build func(item *types.WorkItem, depth int, path []string) (*types.TreeNode, error)
	build = func(item *types.WorkItem, depth int, path []string) (*types.TreeNode, error) {
		node := &types.TreeNode{
			WorkItem: *item,
			Depth:    depth,
			Path:     append(append([]string(nil), path...), item.ID),
		}
		if depth >= maxDepth {
			kids, err := m.directChildren(ctx, item.ID)
			if err != nil {
				return nil, err
			}
			node.Truncated = len(kids) > 0
			return node, nil
		}
		kids, err := m.directChildren(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		for _, kid := range kids {
			if visited[kid.ID] {
				continue
			}
			visited[kid.ID] = true
			child, err := build(kid, depth+1, node.Path)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, child)
		}
		return node, nil
	}
	return build(root, 0, nil)
}

// Progress computes the derived completion of id: an item with no children
// reports its own progress, otherwise the unweighted mean of its children's
// derived progress. Pure query; nothing is written back.
func (m *Manager) Progress(ctx context.Context, id string) (float64, error) {
	item, err := m.store.GetWorkItem(ctx, id)
	if err != nil {
		return 0, err
	}
	visited := map[string]bool{}
	return m.progressOf(ctx, item, visited, 0)
}

func (m *Manager) progressOf(ctx context.Context, item *types.WorkItem, visited map[string]bool, depth int) (float64, error) {
	visited[item.ID] = true
	if depth >= MaxDepth {
		return item.ProgressPercentage, nil
	}

	kids, err := m.directChildren(ctx, item.ID)
	if err != nil {
		return 0, err
	}
	fresh := kids[:0]
	for _, kid := range kids {
		if !visited[kid.ID] {
			fresh = append(fresh, kid)
		}
	}
	if len(fresh) == 0 {
		return item.ProgressPercentage, nil
	}

	var sum float64
	for _, kid := range fresh {
		p, err := m.progressOf(ctx, kid, visited, depth+1)
		if err != nil {
			return 0, err
		}
		sum += p
	}
	return sum / float64(len(fresh)), nil
}

// SortSiblings orders a sibling slice the way listings present them:
// priority rank, then id.
func SortSiblings(items []*types.WorkItem) {
	sort.Slice(items, func(i, j int) bool {
		if pi, pj := items[i].Priority.Rank(), items[j].Priority.Rank(); pi != pj {
			return pi < pj
		}
		return items[i].ID < items[j].ID
	})
}
