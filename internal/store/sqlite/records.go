package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

// AppendExecutionLog persists one session log row. The table is
// append-only; rows are never updated or deleted.
func (s *SQLiteStore) AppendExecutionLog(ctx context.Context, entry *store.ExecutionLogEntry) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if entry.ExecutionID == "" {
		return fmt.Errorf("execution log entry requires an execution id")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	details, _ := json.Marshal(orEmptyMap(entry.Details))

	return s.withWriteRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO execution_logs (execution_id, work_item_id, kind, task_index, message, details, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			entry.ExecutionID, entry.WorkItemID, string(entry.Kind),
			entry.TaskIndex, entry.Message, string(details),
			formatTime(entry.CreatedAt))
		if err != nil {
			return fmt.Errorf("append execution log: %w", err)
		}
		entry.ID, _ = res.LastInsertId()
		return nil
	})
}

// ListExecutionLog returns a session's log rows in insertion order.
// limit <= 0 means no limit.
func (s *SQLiteStore) ListExecutionLog(ctx context.Context, executionID string, limit int) ([]*store.ExecutionLogEntry, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	q := `SELECT id, execution_id, work_item_id, kind, task_index, message, details, created_at
		FROM execution_logs WHERE execution_id = ? ORDER BY id ASC`
	args := []interface{}{executionID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list execution log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*store.ExecutionLogEntry
	for rows.Next() {
		var (
			e         store.ExecutionLogEntry
			kind      string
			details   string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.ExecutionID, &e.WorkItemID, &kind,
			&e.TaskIndex, &e.Message, &details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan execution log: %w", err)
		}
		e.Kind = types.UpdateKind(kind)
		_ = json.Unmarshal([]byte(details), &e.Details)
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// PutTaskRun upserts a task run row keyed by run ID.
func (s *SQLiteStore) PutTaskRun(ctx context.Context, run *store.TaskRun) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if run.ID == "" || run.WorkItemID == "" {
		return fmt.Errorf("task run requires id and work item id")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	var completedAt interface{}
	if run.CompletedAt != nil {
		completedAt = formatTime(*run.CompletedAt)
	}

	return s.withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (id, work_item_id, execution_id, status, started_at, completed_at, result)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				completed_at = excluded.completed_at,
				result = excluded.result`,
			run.ID, run.WorkItemID, run.ExecutionID, run.Status,
			formatTime(run.StartedAt), completedAt, run.Result)
		if err != nil {
			return fmt.Errorf("put task run %s: %w", run.ID, err)
		}
		return nil
	})
}

// GetTaskRun fetches a task run by ID.
func (s *SQLiteStore) GetTaskRun(ctx context.Context, id string) (*store.TaskRun, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		run         store.TaskRun
		startedAt   string
		completedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, work_item_id, execution_id, status, started_at, completed_at, result
		FROM tasks WHERE id = ?`, id).
		Scan(&run.ID, &run.WorkItemID, &run.ExecutionID, &run.Status,
			&startedAt, &completedAt, &run.Result)
	if errIsNoRows(err) {
		return nil, fmt.Errorf("task run %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task run %s: %w", id, err)
	}
	run.StartedAt = parseTime(startedAt)
	if completedAt.Valid {
		t := parseTime(completedAt.String)
		run.CompletedAt = &t
	}
	return &run, nil
}

// PutSyncRecord upserts reconciliation state keyed by path.
func (s *SQLiteStore) PutSyncRecord(ctx context.Context, rec *types.SyncRecord) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if rec.Path == "" {
		return fmt.Errorf("sync record requires a path")
	}
	if rec.LastSynced.IsZero() {
		rec.LastSynced = time.Now().UTC()
	}

	return s.withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sync_records (path, work_item_id, checksum, last_synced)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				work_item_id = excluded.work_item_id,
				checksum = excluded.checksum,
				last_synced = excluded.last_synced`,
			rec.Path, rec.WorkItemID, rec.Checksum, formatTime(rec.LastSynced))
		if err != nil {
			return fmt.Errorf("put sync record %s: %w", rec.Path, err)
		}
		return nil
	})
}

// GetSyncRecordByPath fetches the sync record for an on-disk path.
func (s *SQLiteStore) GetSyncRecordByPath(ctx context.Context, path string) (*types.SyncRecord, error) {
	return s.querySyncRecord(ctx,
		`SELECT path, work_item_id, checksum, last_synced FROM sync_records WHERE path = ?`,
		path)
}

// GetSyncRecordByItem fetches the sync record tied to a work item. When an
// item has been synced to several paths the most recent wins.
func (s *SQLiteStore) GetSyncRecordByItem(ctx context.Context, workItemID string) (*types.SyncRecord, error) {
	return s.querySyncRecord(ctx,
		`SELECT path, work_item_id, checksum, last_synced FROM sync_records
		WHERE work_item_id = ? ORDER BY last_synced DESC LIMIT 1`,
		workItemID)
}

func (s *SQLiteStore) querySyncRecord(ctx context.Context, query, key string) (*types.SyncRecord, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var (
		rec        types.SyncRecord
		lastSynced string
	)
	err := s.db.QueryRowContext(ctx, query, key).
		Scan(&rec.Path, &rec.WorkItemID, &rec.Checksum, &lastSynced)
	if errIsNoRows(err) {
		return nil, fmt.Errorf("sync record %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get sync record %s: %w", key, err)
	}
	rec.LastSynced = parseTime(lastSynced)
	return &rec, nil
}

// ListSyncRecords returns all reconciliation state ordered by path.
func (s *SQLiteStore) ListSyncRecords(ctx context.Context) ([]*types.SyncRecord, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT path, work_item_id, checksum, last_synced FROM sync_records ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list sync records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []*types.SyncRecord
	for rows.Next() {
		var (
			rec        types.SyncRecord
			lastSynced string
		)
		if err := rows.Scan(&rec.Path, &rec.WorkItemID, &rec.Checksum, &lastSynced); err != nil {
			return nil, fmt.Errorf("scan sync record: %w", err)
		}
		rec.LastSynced = parseTime(lastSynced)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// GetStatistics aggregates work-item counts. BlockedItems counts items in
// the blocked status, not items with unresolved scheduling edges; the
// dependency engine owns that deeper analysis.
func (s *SQLiteStore) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	stats := &types.Statistics{
		ByStatus: make(map[types.Status]int),
		ByType:   make(map[types.ItemType]int),
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT status, item_type, COUNT(*), AVG(progress) FROM work_items GROUP BY status, item_type`)
	if err != nil {
		return nil, fmt.Errorf("aggregate statistics: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var weightedProgress float64
	for rows.Next() {
		var (
			status, itemType string
			count            int
			avgProgress      float64
		)
		if err := rows.Scan(&status, &itemType, &count, &avgProgress); err != nil {
			return nil, fmt.Errorf("scan statistics: %w", err)
		}
		st := types.Status(status)
		stats.TotalItems += count
		stats.ByStatus[st] += count
		stats.ByType[types.ItemType(itemType)] += count
		weightedProgress += avgProgress * float64(count)
		if st == types.StatusBlocked {
			stats.BlockedItems += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if stats.TotalItems > 0 {
		stats.AverageProgress = weightedProgress / float64(stats.TotalItems)
	}
	return stats, nil
}

// SetMetadata upserts an internal state key.
func (s *SQLiteStore) SetMetadata(ctx context.Context, key, value string) error {
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	return s.withWriteRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
		if err != nil {
			return fmt.Errorf("set metadata %s: %w", key, err)
		}
		return nil
	})
}

// GetMetadata reads an internal state key. Missing keys return ErrNotFound.
func (s *SQLiteStore) GetMetadata(ctx context.Context, key string) (string, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return "", err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errIsNoRows(err) {
		return "", fmt.Errorf("metadata %s: %w", key, store.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, nil
}
