package depgraph

import (
	"context"
	"fmt"
	"sort"

	"github.com/jivedev/jive/internal/types"
)

// ValidateOptions selects which checks run.
type ValidateOptions struct {
	CheckCircular bool
	CheckMissing  bool
	SuggestFixes  bool
}

// Cycle is one simple cycle, reported as the ordered node list starting at
// its lexicographically smallest member.
type Cycle struct {
	Nodes []string `json:"nodes"`
}

// MissingRef is a dependency edge endpoint that is absent from the node set.
type MissingRef struct {
	SourceID  string `json:"source_id"`
	TargetID  string `json:"target_id"`
	MissingID string `json:"missing_id"`
}

// SuggestedFix proposes removing one edge to break a cycle.
type SuggestedFix struct {
	RemoveSource string `json:"remove_source"`
	RemoveTarget string `json:"remove_target"`
	Reason       string `json:"reason"`
}

// GraphStats summarizes the validated graph.
type GraphStats struct {
	Nodes   int     `json:"nodes"`
	Edges   int     `json:"edges"`
	IsDAG   bool    `json:"is_dag"`
	Density float64 `json:"density"`
}

// ValidationReport is the result of Validate. It is a pure description;
// producing it never mutates anything.
type ValidationReport struct {
	Valid                     bool           `json:"valid"`
	Cycles                    []Cycle        `json:"cycles,omitempty"`
	CycleEnumerationTruncated bool           `json:"cycle_enumeration_truncated,omitempty"`
	Missing                   []MissingRef   `json:"missing,omitempty"`
	Orphans                   []string       `json:"orphans,omitempty"`
	SuggestedFixes            []SuggestedFix `json:"suggested_fixes,omitempty"`
	Stats                     GraphStats     `json:"stats"`
}

// Validate checks the dependency graph over items. Missing endpoints are
// taken from the raw store edges, before Build drops them.
func (e *Engine) Validate(ctx context.Context, items []*types.WorkItem, opts ValidateOptions) (*ValidationReport, error) {
	g, err := e.Build(ctx, items)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{Valid: true}

	if opts.CheckMissing {
		ids := make([]string, 0, len(items))
		for _, item := range items {
			ids = append(ids, item.ID)
		}
		edges, err := e.store.ListDependencies(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, dep := range edges {
			if !dep.Kind.AffectsScheduling() {
				continue
			}
			if !g.has(dep.SourceID) {
				report.Missing = append(report.Missing, MissingRef{
					SourceID: dep.SourceID, TargetID: dep.TargetID, MissingID: dep.SourceID,
				})
			}
			if !g.has(dep.TargetID) {
				report.Missing = append(report.Missing, MissingRef{
					SourceID: dep.SourceID, TargetID: dep.TargetID, MissingID: dep.TargetID,
				})
			}
		}
		// Embedded dependency lists can also dangle.
		for _, item := range items {
			for _, prereq := range item.Dependencies {
				if !g.has(prereq) {
					report.Missing = append(report.Missing, MissingRef{
						SourceID: item.ID, TargetID: prereq, MissingID: prereq,
					})
				}
			}
		}
	}

	// Orphans: parent points outside the node set.
	for _, item := range items {
		if item.ParentID != "" && !g.has(item.ParentID) {
			report.Orphans = append(report.Orphans, item.ID)
		}
	}
	sort.Strings(report.Orphans)

	if opts.CheckCircular {
		report.Cycles, report.CycleEnumerationTruncated = e.enumerateCycles(g)
	}

	if opts.SuggestFixes {
		for _, c := range report.Cycles {
			if len(c.Nodes) == 0 {
				continue
			}
			last := c.Nodes[len(c.Nodes)-1]
			first := c.Nodes[0]
			report.SuggestedFixes = append(report.SuggestedFixes, SuggestedFix{
				RemoveSource: last,
				RemoveTarget: first,
				Reason:       fmt.Sprintf("breaks cycle %v", c.Nodes),
			})
		}
	}

	isDAG := len(report.Cycles) == 0 && !report.CycleEnumerationTruncated
	if !opts.CheckCircular {
		isDAG = !e.hasCycle(g)
	}

	n := len(g.Nodes)
	m := g.EdgeCount()
	density := 0.0
	if n > 1 {
		density = float64(m) / float64(n*(n-1))
	}
	report.Stats = GraphStats{Nodes: n, Edges: m, IsDAG: isDAG, Density: density}

	report.Valid = isDAG && len(report.Missing) == 0 && len(report.Orphans) == 0
	return report, nil
}

// hasCycle is a cheap DFS check used when full enumeration is not requested.
func (e *Engine) hasCycle(g *Graph) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.Nodes))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, next := range g.Edges[id] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for id := range g.Nodes {
		if color[id] == white && visit(id) {
			return true
		}
	}
	return false
}

// enumerateCycles lists all simple cycles, capped at e.cycleCap. Each cycle
// is found exactly once by only admitting cycles whose smallest node is the
// DFS root, and is reported starting from that node.
func (e *Engine) enumerateCycles(g *Graph) ([]Cycle, bool) {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var (
		cycles    []Cycle
		truncated bool
	)

	for _, root := range ids {
		if truncated {
			break
		}
		onPath := map[string]bool{root: true}
		path := []string{root}

		var dfs func(cur string)
		dfs = func(cur string) {
			if truncated {
				return
			}
			for _, next := range g.Edges[cur] {
				// Nodes smaller than the root belong to earlier roots.
				if next < root {
					continue
				}
				if next == root {
					if len(cycles) >= e.cycleCap {
						truncated = true
						return
					}
					cycles = append(cycles, Cycle{Nodes: append([]string(nil), path...)})
					continue
				}
				if onPath[next] {
					continue
				}
				onPath[next] = true
				path = append(path, next)
				dfs(next)
				path = path[:len(path)-1]
				delete(onPath, next)
			}
		}
		dfs(root)
	}
	return cycles, truncated
}
