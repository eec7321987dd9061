package sqlite

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/embedding"
	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

// SearchWorkItems dispatches on the search kind. Hybrid pulls limit/2 from
// each side and merges by id, first occurrence wins, vector results first.
func (s *SQLiteStore) SearchWorkItems(ctx context.Context, query string, kind store.SearchKind, limit int, filter store.ItemFilter) ([]store.SearchResult, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	switch kind {
	case store.SearchVector:
		return s.vectorSearch(ctx, query, limit, filter)
	case store.SearchKeyword:
		return s.keywordSearch(ctx, query, limit, filter)
	case store.SearchHybrid, "":
		half := limit / 2
		if half < 1 {
			half = 1
		}
		vec, err := s.vectorSearch(ctx, query, half, filter)
		if err != nil {
			return nil, err
		}
		kw, err := s.keywordSearch(ctx, query, half, filter)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]bool, len(vec)+len(kw))
		merged := make([]store.SearchResult, 0, len(vec)+len(kw))
		for _, r := range append(vec, kw...) {
			if seen[r.Item.ID] {
				continue
			}
			seen[r.Item.ID] = true
			merged = append(merged, r)
		}
		return merged, nil
	default:
		return nil, fmt.Errorf("unknown search kind %q", kind)
	}
}

// vectorSearch embeds the query and ranks candidates by cosine similarity.
// Items carrying the zero vector never match. The scan is linear over the
// filtered candidate set, which is fine at work-tracker scale.
func (s *SQLiteStore) vectorSearch(ctx context.Context, query string, limit int, filter store.ItemFilter) ([]store.SearchResult, error) {
	if s.engine == nil {
		return nil, fmt.Errorf("vector search requires an embedding engine")
	}
	qvec, err := s.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if embedding.IsZero(qvec) {
		return nil, nil
	}

	items, err := s.ListWorkItems(ctx, store.ListOptions{Filter: filter})
	if err != nil {
		return nil, err
	}

	results := make([]store.SearchResult, 0, len(items))
	for _, item := range items {
		if len(item.Embedding) == 0 || embedding.IsZero(item.Embedding) {
			continue
		}
		sim, err := embedding.CosineSimilarity(qvec, item.Embedding)
		if err != nil || sim <= 0 {
			continue
		}
		results = append(results, store.SearchResult{Item: item, Relevance: sim})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Relevance != results[j].Relevance {
			return results[i].Relevance > results[j].Relevance
		}
		return results[i].Item.ID < results[j].Item.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// keywordSearch runs an FTS5 MATCH when the index is available, otherwise a
// case-insensitive substring scan over title and description.
func (s *SQLiteStore) keywordSearch(ctx context.Context, query string, limit int, filter store.ItemFilter) ([]store.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if s.opts.EnableFTS {
		if err := s.ensureFTS(ctx); err != nil {
			s.logger.Warn("fts index unavailable, using substring fallback", zap.Error(err))
		}
	}

	if s.ftsEnabled() {
		results, err := s.ftsSearch(ctx, query, limit, filter)
		if err == nil {
			return results, nil
		}
		// Bad user-supplied MATCH syntax should degrade, not fail.
		s.logger.Debug("fts query failed, using substring fallback",
			zap.String("query", query), zap.Error(err))
	}
	return s.likeSearch(ctx, query, limit, filter)
}

func (s *SQLiteStore) ftsEnabled() bool {
	s.ftsMu.Lock()
	defer s.ftsMu.Unlock()
	return s.ftsReady
}

// ensureFTS creates and backfills the search_index FTS5 table. Creation is
// deferred until the first keyword search that finds work_items non-empty,
// so short-lived sessions that never search pay nothing.
func (s *SQLiteStore) ensureFTS(ctx context.Context) error {
	s.ftsMu.Lock()
	defer s.ftsMu.Unlock()
	if s.ftsReady {
		return nil
	}

	// A previous process may have built the index already.
	var marker string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = 'fts_ready'`).Scan(&marker)
	if err == nil && marker == "1" {
		s.ftsReady = true
		return nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM work_items`).Scan(&count); err != nil {
		return fmt.Errorf("count work items: %w", err)
	}
	if count == 0 {
		return nil
	}

	return s.withWriteRetry(ctx, func() error {
		if _, err := s.db.ExecContext(ctx, `
			CREATE VIRTUAL TABLE IF NOT EXISTS search_index USING fts5(
				id UNINDEXED, title, description
			)`); err != nil {
			return fmt.Errorf("create fts index: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO search_index (id, title, description)
			SELECT id, title, description FROM work_items`); err != nil {
			return fmt.Errorf("backfill fts index: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO metadata (key, value) VALUES ('fts_ready', '1')
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`); err != nil {
			return fmt.Errorf("mark fts ready: %w", err)
		}
		s.ftsReady = true
		s.logger.Info("built keyword search index", zap.Int("items", count))
		return nil
	})
}

func (s *SQLiteStore) ftsSearch(ctx context.Context, query string, limit int, filter store.ItemFilter) ([]store.SearchResult, error) {
	whereSQL, args := buildFilter(filter, "w.")
	joined := strings.Replace(whereSQL, "WHERE", "AND", 1)

	// bm25 returns lower-is-better; negate so higher relevance sorts first.
	sqlQuery := fmt.Sprintf(`
		SELECT `+prefixedItemColumns("w")+`, -bm25(search_index) AS score
		FROM search_index si
		JOIN work_items w ON w.id = si.id
		WHERE search_index MATCH ? %s
		ORDER BY score DESC, w.id ASC
		LIMIT ?`, joined)

	allArgs := append([]interface{}{ftsQuote(query)}, args...)
	allArgs = append(allArgs, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, allArgs...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []store.SearchResult
	for rows.Next() {
		item, score, err := scanItemWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, store.SearchResult{Item: item, Relevance: score})
	}
	return results, rows.Err()
}

// ftsQuote turns free text into an AND-of-terms FTS5 query, quoting each
// term so punctuation cannot be parsed as MATCH syntax.
func ftsQuote(query string) string {
	terms := strings.Fields(query)
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ReplaceAll(t, `"`, `""`)
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " ")
}

// likeSearch is the substring fallback. Relevance is a fixed 0.5 for a
// title hit and 0.25 for a description-only hit.
func (s *SQLiteStore) likeSearch(ctx context.Context, query string, limit int, filter store.ItemFilter) ([]store.SearchResult, error) {
	whereSQL, args := buildFilter(filter, "")
	joined := strings.Replace(whereSQL, "WHERE", "AND", 1)

	pattern := "%" + strings.ToLower(query) + "%"
	sqlQuery := fmt.Sprintf(`
		SELECT `+itemColumns+`,
			CASE WHEN lower(title) LIKE ? THEN 0.5 ELSE 0.25 END AS score
		FROM work_items
		WHERE (lower(title) LIKE ? OR lower(description) LIKE ?) %s
		ORDER BY score DESC, id ASC
		LIMIT ?`, joined)

	allArgs := append([]interface{}{pattern, pattern, pattern}, args...)
	allArgs = append(allArgs, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, allArgs...)
	if err != nil {
		return nil, fmt.Errorf("substring search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []store.SearchResult
	for rows.Next() {
		item, score, err := scanItemWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, store.SearchResult{Item: item, Relevance: score})
	}
	return results, rows.Err()
}

// ftsUpsert keeps the index in step with a created or updated item. No-op
// until the index exists. Runs inside the caller's write retry.
func (s *SQLiteStore) ftsUpsert(ctx context.Context, item *types.WorkItem) {
	if !s.ftsEnabled() {
		return
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM search_index WHERE id = ?`, item.ID); err != nil {
		s.logger.Warn("fts delete before upsert failed", zap.String("id", item.ID), zap.Error(err))
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO search_index (id, title, description) VALUES (?, ?, ?)`,
		item.ID, item.Title, item.Description); err != nil {
		s.logger.Warn("fts upsert failed", zap.String("id", item.ID), zap.Error(err))
	}
}

func (s *SQLiteStore) ftsDelete(ctx context.Context, id string) {
	if !s.ftsEnabled() {
		return
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM search_index WHERE id = ?`, id); err != nil {
		s.logger.Warn("fts delete failed", zap.String("id", id), zap.Error(err))
	}
}

// prefixedItemColumns qualifies itemColumns with a table alias for joins.
func prefixedItemColumns(alias string) string {
	cols := strings.Split(itemColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// scoreScanner appends a score destination to the item column scan so
// scanItem can be reused for SELECTs carrying a trailing relevance column.
type scoreScanner struct {
	inner rowScanner
	score float64
}

func (sc *scoreScanner) Scan(dest ...interface{}) error {
	return sc.inner.Scan(append(dest, &sc.score)...)
}

func scanItemWithScore(rows rowScanner) (*types.WorkItem, float64, error) {
	sc := &scoreScanner{inner: rows}
	item, err := scanItem(sc)
	if err != nil {
		return nil, 0, err
	}
	return item, sc.score, nil
}
