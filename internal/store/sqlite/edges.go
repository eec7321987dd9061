package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

// AddDependency records an edge. Re-adding the same (source, target) pair
// overwrites the kind; endpoints are not required to exist so validation
// can report dangling references instead of the write failing.
func (s *SQLiteStore) AddDependency(ctx context.Context, dep *types.Dependency) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if dep.SourceID == "" || dep.TargetID == "" {
		return fmt.Errorf("dependency requires both source and target ids")
	}
	if dep.SourceID == dep.TargetID {
		return fmt.Errorf("dependency cannot reference itself: %s", dep.SourceID)
	}
	if dep.Kind == "" {
		dep.Kind = types.DepDependsOn
	}
	if !dep.Kind.IsValid() {
		return fmt.Errorf("invalid dependency kind %q", dep.Kind)
	}
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now().UTC()
	}

	return s.withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO dependencies (source_id, target_id, kind, created_at, created_by)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(source_id, target_id) DO UPDATE SET kind = excluded.kind`,
			dep.SourceID, dep.TargetID, string(dep.Kind),
			formatTime(dep.CreatedAt), dep.CreatedBy)
		if err != nil {
			return fmt.Errorf("add dependency %s -> %s: %w", dep.SourceID, dep.TargetID, err)
		}
		return nil
	})
}

// RemoveDependency deletes an edge. Removing a missing edge returns
// ErrNotFound.
func (s *SQLiteStore) RemoveDependency(ctx context.Context, sourceID, targetID string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.withWriteRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM dependencies WHERE source_id = ? AND target_id = ?`,
			sourceID, targetID)
		if err != nil {
			return fmt.Errorf("remove dependency %s -> %s: %w", sourceID, targetID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("dependency %s -> %s: %w", sourceID, targetID, store.ErrNotFound)
		}
		return nil
	})
}

// DependenciesOf returns the outgoing edges of id (what id points at).
func (s *SQLiteStore) DependenciesOf(ctx context.Context, id string) ([]*types.Dependency, error) {
	return s.queryEdges(ctx, `SELECT source_id, target_id, kind, created_at, created_by
		FROM dependencies WHERE source_id = ? ORDER BY target_id`, id)
}

// DependentsOf returns the incoming edges of id (what points at id).
func (s *SQLiteStore) DependentsOf(ctx context.Context, id string) ([]*types.Dependency, error) {
	return s.queryEdges(ctx, `SELECT source_id, target_id, kind, created_at, created_by
		FROM dependencies WHERE target_id = ? ORDER BY source_id`, id)
}

// ListDependencies returns every edge touching any of ids, or all edges
// when ids is empty.
func (s *SQLiteStore) ListDependencies(ctx context.Context, ids []string) ([]*types.Dependency, error) {
	if len(ids) == 0 {
		return s.queryEdges(ctx, `SELECT source_id, target_id, kind, created_at, created_by
			FROM dependencies ORDER BY source_id, target_id`)
	}

	ph := make([]string, len(ids))
	args := make([]interface{}, 0, len(ids)*2)
	for i, id := range ids {
		ph[i] = "?"
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.Join(ph, ", ")
	q := fmt.Sprintf(`SELECT source_id, target_id, kind, created_at, created_by
		FROM dependencies
		WHERE source_id IN (%s) OR target_id IN (%s)
		ORDER BY source_id, target_id`, placeholders, placeholders)
	return s.queryEdges(ctx, q, args...)
}

func (s *SQLiteStore) queryEdges(ctx context.Context, query string, args ...interface{}) ([]*types.Dependency, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query dependencies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []*types.Dependency
	for rows.Next() {
		var (
			dep       types.Dependency
			kind      string
			createdAt string
		)
		if err := rows.Scan(&dep.SourceID, &dep.TargetID, &kind, &createdAt, &dep.CreatedBy); err != nil {
			return nil, fmt.Errorf("scan dependency: %w", err)
		}
		dep.Kind = types.DependencyKind(kind)
		dep.CreatedAt = parseTime(createdAt)
		edges = append(edges, &dep)
	}
	return edges, rows.Err()
}

// errIsNoRows collapses the two ways "missing" surfaces from database/sql.
func errIsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
