// Package resolver maps free-form identifiers (UUIDs, exact titles,
// keyword phrases) to canonical work items.
package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

// MatchKind records which resolution stage produced the hit.
type MatchKind string

// Match kind constants.
const (
	MatchNone       MatchKind = "none"
	MatchUUID       MatchKind = "uuid"
	MatchExactTitle MatchKind = "exact_title"
	MatchKeyword    MatchKind = "keyword"
)

// keywordLimit bounds the candidate set in the keyword stage.
const keywordLimit = 5

// Resolver resolves identifiers against a store snapshot. Resolution is
// deterministic for a fixed snapshot.
type Resolver struct {
	store  store.Store
	logger *zap.Logger
}

// New builds a Resolver.
func New(st store.Store, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: st, logger: logger.Named("resolver")}
}

// Resolve runs the three stages in order: UUID lookup, exact-title match,
// keyword scoring. Unresolvable input returns (nil, MatchNone, nil); only
// store failures surface as errors.
func (r *Resolver) Resolve(ctx context.Context, input string) (*types.WorkItem, MatchKind, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, MatchNone, nil
	}

	// Stage 1: UUID. A parseable UUID that does not exist falls through to
	// nothing rather than the later stages; it cannot be a title or phrase.
	if _, err := uuid.Parse(input); err == nil {
		item, err := r.store.GetWorkItem(ctx, input)
		if err == nil {
			return item, MatchUUID, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, MatchNone, err
		}
		return nil, MatchNone, nil
	}

	// IDs are not required to be UUIDs; try a direct lookup before the
	// fuzzy stages so stable slugs like "task-42" resolve immediately.
	if item, err := r.store.GetWorkItem(ctx, input); err == nil {
		return item, MatchUUID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, MatchNone, err
	}

	results, err := r.store.SearchWorkItems(ctx, input, store.SearchKeyword, keywordLimit, store.ItemFilter{})
	if err != nil {
		return nil, MatchNone, err
	}
	if len(results) == 0 {
		return nil, MatchNone, nil
	}

	// Stage 2: exact title under case-insensitive, trimmed comparison.
	if item := exactTitleMatch(input, results); item != nil {
		return item, MatchExactTitle, nil
	}

	// Stage 3: keyword scoring. The winner must be unique and positive.
	if item := keywordMatch(input, results); item != nil {
		return item, MatchKeyword, nil
	}

	r.logger.Debug("identifier unresolved", zap.String("input", input))
	return nil, MatchNone, nil
}

// ResolveID is Resolve for callers that only need the canonical ID.
func (r *Resolver) ResolveID(ctx context.Context, input string) (string, MatchKind, error) {
	item, kind, err := r.Resolve(ctx, input)
	if err != nil || item == nil {
		return "", kind, err
	}
	return item.ID, kind, nil
}

// exactTitleMatch keeps candidates whose title equals the input after
// trimming and lowering. Ties break by larger updated_at, then larger
// created_at, then lexicographically smaller id.
func exactTitleMatch(input string, results []store.SearchResult) *types.WorkItem {
	want := strings.ToLower(strings.TrimSpace(input))

	var best *types.WorkItem
	for _, res := range results {
		item := res.Item
		if strings.ToLower(strings.TrimSpace(item.Title)) != want {
			continue
		}
		if best == nil || titleTieBreak(item, best) {
			best = item
		}
	}
	return best
}

// titleTieBreak reports whether a beats b under the exact-title ordering.
func titleTieBreak(a, b *types.WorkItem) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// keywordMatch scores each candidate and returns the winner only when the
// maximum score is unique and positive.
func keywordMatch(input string, results []store.SearchResult) *types.WorkItem {
	needle := strings.ToLower(strings.TrimSpace(input))

	var (
		best      *types.WorkItem
		bestScore float64
		tied      bool
	)
	for _, res := range results {
		score := keywordScore(needle, res)
		if score <= 0 {
			continue
		}
		switch {
		case best == nil || score > bestScore:
			best, bestScore, tied = res.Item, score, false
		case score == bestScore:
			tied = true
		}
	}
	if tied {
		return nil
	}
	return best
}

func keywordScore(needle string, res store.SearchResult) float64 {
	var score float64
	if strings.Contains(strings.ToLower(res.Item.Title), needle) {
		score += 10
	}
	if strings.Contains(strings.ToLower(res.Item.Description), needle) {
		score += 5
	}
	score += 2 * res.Relevance
	return score
}
