package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/jivedev/jive/internal/store"
	"github.com/jivedev/jive/internal/types"
)

const storeScopeName = "github.com/jivedev/jive/store"

// InstrumentedStore wraps store.Store with OTel tracing and metrics.
// Every method gets a span and is counted in jive.store.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  store.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStore(s store.Store) store.Store {
	if !Enabled() {
		return s
	}
	m := Meter(storeScopeName)
	ops, _ := m.Int64Counter("jive.store.operations",
		metric.WithDescription("Total store operations executed"),
	)
	dur, _ := m.Float64Histogram("jive.store.operation.duration",
		metric.WithDescription("Store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("jive.store.errors",
		metric.WithDescription("Total store operation errors"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: Tracer(storeScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
	}
}

// op starts a span and counts the named store operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "store."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and the optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) CreateWorkItem(ctx context.Context, item *types.WorkItem) error {
	attrs := []attribute.KeyValue{attribute.String("item.id", item.ID)}
	ctx, span, start := s.op(ctx, "CreateWorkItem", attrs...)
	err := s.inner.CreateWorkItem(ctx, item)
	s.done(ctx, span, start, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetWorkItem(ctx context.Context, id string) (*types.WorkItem, error) {
	attrs := []attribute.KeyValue{attribute.String("item.id", id)}
	ctx, span, start := s.op(ctx, "GetWorkItem", attrs...)
	item, err := s.inner.GetWorkItem(ctx, id)
	s.done(ctx, span, start, err, attrs...)
	return item, err
}

func (s *InstrumentedStore) UpdateWorkItem(ctx context.Context, id string, upd store.WorkItemUpdate) (*types.WorkItem, error) {
	attrs := []attribute.KeyValue{attribute.String("item.id", id)}
	ctx, span, start := s.op(ctx, "UpdateWorkItem", attrs...)
	item, err := s.inner.UpdateWorkItem(ctx, id, upd)
	s.done(ctx, span, start, err, attrs...)
	return item, err
}

func (s *InstrumentedStore) DeleteWorkItem(ctx context.Context, id string) (bool, error) {
	attrs := []attribute.KeyValue{attribute.String("item.id", id)}
	ctx, span, start := s.op(ctx, "DeleteWorkItem", attrs...)
	deleted, err := s.inner.DeleteWorkItem(ctx, id)
	s.done(ctx, span, start, err, attrs...)
	return deleted, err
}

func (s *InstrumentedStore) ListWorkItems(ctx context.Context, opts store.ListOptions) ([]*types.WorkItem, error) {
	ctx, span, start := s.op(ctx, "ListWorkItems")
	items, err := s.inner.ListWorkItems(ctx, opts)
	span.SetAttributes(attribute.Int("result.count", len(items)))
	s.done(ctx, span, start, err)
	return items, err
}

func (s *InstrumentedStore) SearchWorkItems(ctx context.Context, query string, kind store.SearchKind, limit int, filter store.ItemFilter) ([]store.SearchResult, error) {
	attrs := []attribute.KeyValue{attribute.String("search.kind", string(kind))}
	ctx, span, start := s.op(ctx, "SearchWorkItems", attrs...)
	results, err := s.inner.SearchWorkItems(ctx, query, kind, limit, filter)
	span.SetAttributes(attribute.Int("result.count", len(results)))
	s.done(ctx, span, start, err, attrs...)
	return results, err
}

func (s *InstrumentedStore) AddDependency(ctx context.Context, dep *types.Dependency) error {
	ctx, span, start := s.op(ctx, "AddDependency")
	err := s.inner.AddDependency(ctx, dep)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) RemoveDependency(ctx context.Context, sourceID, targetID string) error {
	ctx, span, start := s.op(ctx, "RemoveDependency")
	err := s.inner.RemoveDependency(ctx, sourceID, targetID)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) DependenciesOf(ctx context.Context, id string) ([]*types.Dependency, error) {
	ctx, span, start := s.op(ctx, "DependenciesOf")
	deps, err := s.inner.DependenciesOf(ctx, id)
	s.done(ctx, span, start, err)
	return deps, err
}

func (s *InstrumentedStore) DependentsOf(ctx context.Context, id string) ([]*types.Dependency, error) {
	ctx, span, start := s.op(ctx, "DependentsOf")
	deps, err := s.inner.DependentsOf(ctx, id)
	s.done(ctx, span, start, err)
	return deps, err
}

func (s *InstrumentedStore) ListDependencies(ctx context.Context, ids []string) ([]*types.Dependency, error) {
	ctx, span, start := s.op(ctx, "ListDependencies")
	deps, err := s.inner.ListDependencies(ctx, ids)
	s.done(ctx, span, start, err)
	return deps, err
}

func (s *InstrumentedStore) AppendExecutionLog(ctx context.Context, entry *store.ExecutionLogEntry) error {
	ctx, span, start := s.op(ctx, "AppendExecutionLog")
	err := s.inner.AppendExecutionLog(ctx, entry)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) ListExecutionLog(ctx context.Context, executionID string, limit int) ([]*store.ExecutionLogEntry, error) {
	ctx, span, start := s.op(ctx, "ListExecutionLog")
	entries, err := s.inner.ListExecutionLog(ctx, executionID, limit)
	s.done(ctx, span, start, err)
	return entries, err
}

func (s *InstrumentedStore) PutTaskRun(ctx context.Context, run *store.TaskRun) error {
	ctx, span, start := s.op(ctx, "PutTaskRun")
	err := s.inner.PutTaskRun(ctx, run)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) GetTaskRun(ctx context.Context, id string) (*store.TaskRun, error) {
	ctx, span, start := s.op(ctx, "GetTaskRun")
	run, err := s.inner.GetTaskRun(ctx, id)
	s.done(ctx, span, start, err)
	return run, err
}

func (s *InstrumentedStore) PutSyncRecord(ctx context.Context, rec *types.SyncRecord) error {
	ctx, span, start := s.op(ctx, "PutSyncRecord")
	err := s.inner.PutSyncRecord(ctx, rec)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) GetSyncRecordByPath(ctx context.Context, path string) (*types.SyncRecord, error) {
	ctx, span, start := s.op(ctx, "GetSyncRecordByPath")
	rec, err := s.inner.GetSyncRecordByPath(ctx, path)
	s.done(ctx, span, start, err)
	return rec, err
}

func (s *InstrumentedStore) GetSyncRecordByItem(ctx context.Context, workItemID string) (*types.SyncRecord, error) {
	ctx, span, start := s.op(ctx, "GetSyncRecordByItem")
	rec, err := s.inner.GetSyncRecordByItem(ctx, workItemID)
	s.done(ctx, span, start, err)
	return rec, err
}

func (s *InstrumentedStore) ListSyncRecords(ctx context.Context) ([]*types.SyncRecord, error) {
	ctx, span, start := s.op(ctx, "ListSyncRecords")
	recs, err := s.inner.ListSyncRecords(ctx)
	s.done(ctx, span, start, err)
	return recs, err
}

func (s *InstrumentedStore) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	ctx, span, start := s.op(ctx, "GetStatistics")
	stats, err := s.inner.GetStatistics(ctx)
	s.done(ctx, span, start, err)
	return stats, err
}

func (s *InstrumentedStore) SetMetadata(ctx context.Context, key, value string) error {
	ctx, span, start := s.op(ctx, "SetMetadata")
	err := s.inner.SetMetadata(ctx, key, value)
	s.done(ctx, span, start, err)
	return err
}

func (s *InstrumentedStore) GetMetadata(ctx context.Context, key string) (string, error) {
	ctx, span, start := s.op(ctx, "GetMetadata")
	value, err := s.inner.GetMetadata(ctx, key)
	s.done(ctx, span, start, err)
	return value, err
}

func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}
