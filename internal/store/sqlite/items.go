package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

const itemColumns = `id, content_hash, title, description, item_type, status, priority,
	complexity, parent_id, dependencies, acceptance_criteria, progress,
	assignee, tags, metadata, created_at, updated_at, embedding`

// CreateWorkItem validates the item, derives its embedding, stamps
// timestamps and inserts. Legacy status aliases are canonicalized on write.
func (s *SQLiteStore) CreateWorkItem(ctx context.Context, item *types.WorkItem) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	item.SetDefaults()
	item.Status = item.Status.Canonical()
	if errs := item.Validate(); len(errs) > 0 {
		return errors.Join(errs...)
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}
	item.Embedding = s.embedFor(ctx, item.SearchText())

	deps, _ := json.Marshal(orEmpty(item.Dependencies))
	criteria, _ := json.Marshal(orEmpty(item.AcceptanceCriteria))
	tags, _ := json.Marshal(orEmpty(item.Tags))
	meta, _ := json.Marshal(orEmptyMap(item.Metadata))

	return s.withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO work_items (`+itemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID, item.ComputeContentHash(), item.Title, item.Description,
			string(item.Type), string(item.Status), string(item.Priority),
			string(item.Complexity), nullable(item.ParentID), string(deps),
			string(criteria), item.ProgressPercentage, item.Assignee,
			string(tags), string(meta), formatTime(item.CreatedAt),
			formatTime(item.UpdatedAt), encodeVector(item.Embedding),
		)
		if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", store.ErrDuplicateID, item.ID)
		}
		if err != nil {
			return fmt.Errorf("insert work item: %w", err)
		}
		s.ftsUpsert(ctx, item)
		return nil
	})
}

// GetWorkItem fetches a single item by canonical ID.
func (s *SQLiteStore) GetWorkItem(ctx context.Context, id string) (*types.WorkItem, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("work item %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get work item %s: %w", id, err)
	}
	return item, nil
}

// UpdateWorkItem merges the partial update, bumps updated_at and
// regenerates the embedding iff title or description changed. Returns the
// updated item.
func (s *SQLiteStore) UpdateWorkItem(ctx context.Context, id string, upd store.WorkItemUpdate) (*types.WorkItem, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	item, err := s.GetWorkItem(ctx, id)
	if err != nil {
		return nil, err
	}

	textChanged := false
	if upd.Title != nil && *upd.Title != item.Title {
		item.Title = *upd.Title
		textChanged = true
	}
	if upd.Description != nil && *upd.Description != item.Description {
		item.Description = *upd.Description
		textChanged = true
	}
	if upd.Status != nil {
		item.Status = upd.Status.Canonical()
	}
	if upd.Priority != nil {
		item.Priority = *upd.Priority
	}
	if upd.Complexity != nil {
		item.Complexity = *upd.Complexity
	}
	if upd.ParentID != nil {
		item.ParentID = *upd.ParentID
	}
	if upd.Dependencies != nil {
		item.Dependencies = *upd.Dependencies
	}
	if upd.AcceptanceCriteria != nil {
		item.AcceptanceCriteria = *upd.AcceptanceCriteria
	}
	if upd.Progress != nil {
		item.ProgressPercentage = *upd.Progress
	}
	if upd.Assignee != nil {
		item.Assignee = *upd.Assignee
	}
	if upd.Tags != nil {
		item.Tags = *upd.Tags
	}
	if upd.Metadata != nil {
		item.Metadata = *upd.Metadata
	}
	if upd.UpdatedAt != nil {
		item.UpdatedAt = upd.UpdatedAt.UTC()
	} else {
		item.UpdatedAt = time.Now().UTC()
	}

	if errs := item.Validate(); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if textChanged {
		item.Embedding = s.embedFor(ctx, item.SearchText())
	}

	deps, _ := json.Marshal(orEmpty(item.Dependencies))
	criteria, _ := json.Marshal(orEmpty(item.AcceptanceCriteria))
	tags, _ := json.Marshal(orEmpty(item.Tags))
	meta, _ := json.Marshal(orEmptyMap(item.Metadata))

	err = s.withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE work_items SET content_hash = ?, title = ?, description = ?,
				item_type = ?, status = ?, priority = ?, complexity = ?,
				parent_id = ?, dependencies = ?, acceptance_criteria = ?,
				progress = ?, assignee = ?, tags = ?, metadata = ?,
				updated_at = ?, embedding = ?
			WHERE id = ?`,
			item.ComputeContentHash(), item.Title, item.Description,
			string(item.Type), string(item.Status), string(item.Priority),
			string(item.Complexity), nullable(item.ParentID), string(deps),
			string(criteria), item.ProgressPercentage, item.Assignee,
			string(tags), string(meta), formatTime(item.UpdatedAt),
			encodeVector(item.Embedding), id,
		)
		if err != nil {
			return fmt.Errorf("update work item %s: %w", id, err)
		}
		s.ftsUpsert(ctx, item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteWorkItem removes the item. Deletes never cascade to children or
// dependency edges.
func (s *SQLiteStore) DeleteWorkItem(ctx context.Context, id string) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var deleted bool
	err := s.withWriteRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM work_items WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete work item %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		deleted = n > 0
		if deleted {
			s.ftsDelete(ctx, id)
		}
		return nil
	})
	return deleted, err
}

// ListWorkItems filters, sorts and paginates. Ordering is stable: ties
// break by id ascending.
func (s *SQLiteStore) ListWorkItems(ctx context.Context, opts store.ListOptions) ([]*types.WorkItem, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	whereSQL, args := buildFilter(opts.Filter, "")

	sortCol, ok := sortColumns[opts.SortBy]
	if !ok {
		sortCol = "created_at"
	}
	dir := "ASC"
	if opts.SortOrder == store.SortDesc {
		dir = "DESC"
	}

	limitSQL := ""
	if opts.Limit > 0 {
		limitSQL = " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			limitSQL += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	} else if opts.Offset > 0 {
		limitSQL = " LIMIT -1 OFFSET ?"
		args = append(args, opts.Offset)
	}

	// #nosec G201 -- sortCol and dir come from fixed tables above.
	querySQL := fmt.Sprintf(`SELECT `+itemColumns+` FROM work_items %s ORDER BY %s %s, id ASC%s`,
		whereSQL, sortCol, dir, limitSQL)

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanItems(rows)
}

// sortColumns maps the public sort field names onto columns. Anything
// outside this map falls back to created_at.
var sortColumns = map[string]string{
	"":           "created_at",
	"id":         "id",
	"title":      "title",
	"type":       "item_type",
	"status":     "status",
	"priority":   "priority",
	"complexity": "complexity",
	"progress":   "progress",
	"assignee":   "assignee",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

// buildFilter renders an ItemFilter as a WHERE clause. prefix qualifies
// column names for joined queries (pass "" for plain ones).
func buildFilter(f store.ItemFilter, prefix string) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	addIn := func(col string, vals []string) {
		if len(vals) == 0 {
			return
		}
		ph := make([]string, len(vals))
		for i, v := range vals {
			ph[i] = "?"
			args = append(args, v)
		}
		clauses = append(clauses, fmt.Sprintf("%s%s IN (%s)", prefix, col, strings.Join(ph, ", ")))
	}

	addIn("status", statusStrings(f.Status))
	addIn("item_type", typeStrings(f.Type))
	addIn("priority", priorityStrings(f.Priority))
	addIn("id", f.IDs)

	if f.ParentID != nil {
		if *f.ParentID == "" {
			clauses = append(clauses, fmt.Sprintf("(%[1]sparent_id IS NULL OR %[1]sparent_id = '')", prefix))
		} else {
			clauses = append(clauses, prefix+"parent_id = ?")
			args = append(args, *f.ParentID)
		}
	}
	if f.Assignee != nil {
		clauses = append(clauses, prefix+"assignee = ?")
		args = append(args, *f.Assignee)
	}
	// Tags are a JSON array column; membership is matched on the quoted
	// element. AND semantics: every requested tag must be present.
	for _, tag := range f.Tags {
		clauses = append(clauses, prefix+"tags LIKE ?")
		args = append(args, `%"`+tag+`"%`)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func statusStrings(in []types.Status) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v.Canonical())
	}
	return out
}

func typeStrings(in []types.ItemType) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

func priorityStrings(in []types.Priority) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*types.WorkItem, error) {
	var (
		item                  types.WorkItem
		contentHash           string
		itemType, status      string
		priority, complexity  string
		parentID              sql.NullString
		deps, criteria        string
		tags, meta            string
		createdAt, updatedAt  string
		embeddingBlob         []byte
	)

	err := row.Scan(&item.ID, &contentHash, &item.Title, &item.Description,
		&itemType, &status, &priority, &complexity, &parentID, &deps,
		&criteria, &item.ProgressPercentage, &item.Assignee, &tags, &meta,
		&createdAt, &updatedAt, &embeddingBlob)
	if err != nil {
		return nil, err
	}

	item.Type = types.ItemType(itemType)
	item.Status = types.Status(status)
	item.Priority = types.Priority(priority)
	item.Complexity = types.Complexity(complexity)
	if parentID.Valid {
		item.ParentID = parentID.String
	}
	_ = json.Unmarshal([]byte(deps), &item.Dependencies)
	_ = json.Unmarshal([]byte(criteria), &item.AcceptanceCriteria)
	_ = json.Unmarshal([]byte(tags), &item.Tags)
	_ = json.Unmarshal([]byte(meta), &item.Metadata)
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)
	if len(embeddingBlob) > 0 {
		if vec, err := decodeVector(embeddingBlob); err == nil {
			item.Embedding = vec
		}
	}
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]*types.WorkItem, error) {
	var items []*types.WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
