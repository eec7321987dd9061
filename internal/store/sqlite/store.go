// Package sqlite implements the store contract on an embedded SQLite
// database with derived embeddings, FTS5 keyword search and cosine vector
// search.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/jivedev/jive/internal/embedding"
)

// Options tune the store. Zero values fall back to the defaults noted on
// each field.
type Options struct {
	OpTimeout           time.Duration // per-operation timeout (default 30s)
	MaxRetries          int           // write attempts including the first (default 3)
	RetryBase           time.Duration // initial backoff interval (default 1s)
	NormalizeEmbeddings bool          // L2-normalize before insert
	EnableFTS           bool          // false switches keyword search to substring fallback
}

func (o *Options) applyDefaults() {
	if o.OpTimeout <= 0 {
		o.OpTimeout = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryBase <= 0 {
		o.RetryBase = time.Second
	}
}

// SQLiteStore satisfies store.Store. Safe for concurrent use; SQLite-level
// write contention is absorbed by the retry policy.
type SQLiteStore struct {
	db     *sql.DB
	engine embedding.Engine
	logger *zap.Logger
	opts   Options

	schemaOnce sync.Once
	schemaErr  error

	ftsMu    sync.Mutex
	ftsReady bool
}

// Open creates or opens the embedded database under dataPath. Tables are
// created lazily on first access, not here.
func Open(dataPath string, engine embedding.Engine, logger *zap.Logger, opts Options) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.applyDefaults()

	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data path %s: %w", dataPath, err)
	}

	dbPath := filepath.Join(dataPath, "jive.db")
	// _busy_timeout gives the driver a first line of defense before our own
	// retry policy kicks in; WAL keeps readers unblocked during writes.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=off", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}

	return &SQLiteStore{
		db:     db,
		engine: engine,
		logger: logger.Named("store"),
		opts:   opts,
	}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ensureSchema applies the fixed schema exactly once, on first access.
func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.ExecContext(ctx, schema)
		if s.schemaErr != nil {
			s.schemaErr = fmt.Errorf("apply schema: %w", s.schemaErr)
		}
	})
	return s.schemaErr
}

// opCtx wraps ctx with the per-operation timeout.
func (s *SQLiteStore) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.OpTimeout)
}

// isRetryableError returns true for transient SQLite contention errors that
// a retry can clear.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "database is locked") {
		return true
	}
	if strings.Contains(errStr, "database table is locked") {
		return true
	}
	if strings.Contains(errStr, "busy") {
		return true
	}
	if strings.Contains(errStr, "i/o timeout") {
		return true
	}
	return false
}

// withWriteRetry executes a write with exponential backoff: base interval
// opts.RetryBase, factor 2, at most opts.MaxRetries attempts. Reads never
// go through here.
func (s *SQLiteStore) withWriteRetry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.opts.RetryBase
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	attempts := uint64(s.opts.MaxRetries - 1)
	return backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			s.logger.Warn("retrying store write", zap.Error(err))
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), attempts))
}

// embedFor derives the embedding for a search text. Empty text yields the
// zero vector. An engine failure also yields the zero vector rather than
// failing the write; the incident is logged and vector search quality for
// that record degrades until the next rewrite.
func (s *SQLiteStore) embedFor(ctx context.Context, text string) []float32 {
	dim := embedding.Dimension
	if s.engine != nil {
		dim = s.engine.Dimensions()
	}
	if strings.TrimSpace(text) == "" || s.engine == nil {
		return embedding.ZeroVector(dim)
	}

	vec, err := s.engine.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("embedding generation failed, storing zero vector",
			zap.String("engine", s.engine.Name()),
			zap.Error(err))
		return embedding.ZeroVector(dim)
	}
	if len(vec) != dim {
		s.logger.Warn("embedding dimension mismatch, storing zero vector",
			zap.Int("want", dim), zap.Int("got", len(vec)))
		return embedding.ZeroVector(dim)
	}
	if s.opts.NormalizeEmbeddings {
		embedding.Normalize(vec)
	}
	return vec
}

// timeFmt is the canonical timestamp encoding for DATETIME columns.
const timeFmt = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFmt)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeFmt, s)
	if err != nil {
		// Accept second-precision stamps written by external tools.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}
		}
	}
	return t
}
