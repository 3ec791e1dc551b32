package query

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/parsekit/internal/constraint"
	"github.com/roach88/parsekit/internal/localstore"
	"github.com/roach88/parsekit/internal/metrics"
	"github.com/roach88/parsekit/internal/querywire"
	"github.com/roach88/parsekit/internal/record"
	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

// Paging and limit defaults shared with the server.
const (
	DefaultPageSize = 1000
	DefaultLimit    = 100
)

// Engine evaluates queries, preferring the local cache when the query and
// the cache both allow it and falling back to the network otherwise.
//
// Cache problems are never returned to callers: they are logged and the
// query goes to the network instead.
type Engine struct {
	transport    transport.Transport
	registry     *localstore.Registry
	logger       *slog.Logger
	metrics      *metrics.Metrics
	pageSize     int
	defaultLimit int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPageSize sets the page size used by Each and FetchAll.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.pageSize = n
		}
	}
}

// WithDefaultLimit sets the limit applied to local results when a query
// sets none.
func WithDefaultLimit(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.defaultLimit = n
		}
	}
}

// NewEngine creates an engine. registry may be nil, in which case every
// query is remote.
func NewEngine(t transport.Transport, registry *localstore.Registry, opts ...Option) *Engine {
	e := &Engine{
		transport:    t,
		registry:     registry,
		logger:       slog.Default(),
		pageSize:     DefaultPageSize,
		defaultLimit: DefaultLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transport returns the underlying transport.
func (e *Engine) Transport() transport.Transport { return e.transport }

// Registry returns the cache registry, or nil.
func (e *Engine) Registry() *localstore.Registry { return e.registry }

// result is what one evaluation produces.
type result struct {
	records []record.Record
	count   int
}

// Find returns the records matched by q.
func (e *Engine) Find(ctx context.Context, q Query) ([]record.Record, error) {
	res, err := e.evaluate(ctx, q, false)
	if err != nil {
		return nil, err
	}
	return res.records, nil
}

// Count returns the number of records matched by q, ignoring skip and limit.
func (e *Engine) Count(ctx context.Context, q Query) (int, error) {
	res, err := e.evaluate(ctx, q, true)
	if err != nil {
		return 0, err
	}
	return res.count, nil
}

// First returns the first record matched by q.
func (e *Engine) First(ctx context.Context, q Query) (record.Record, bool, error) {
	recs, err := e.Find(ctx, q.Limit(1))
	if err != nil || len(recs) == 0 {
		return record.Record{}, false, err
	}
	return recs[0], true, nil
}

// Get returns one object, from the cache when a fresh copy exists.
func (e *Engine) Get(ctx context.Context, className, objectID string) (record.Record, error) {
	if s, ok := e.store(className); ok {
		rec, err := s.Get(objectID)
		if err == nil {
			e.metrics.Query(className, metrics.PathLocal)
			return rec, nil
		}
		e.logger.Debug("cache miss", "class", className, "id", objectID, "error", err)
	}

	e.metrics.Query(className, metrics.PathRemote)
	body, err := e.transport.Request(ctx, http.MethodGet, transport.ObjectPath(className, objectID), nil)
	if err != nil {
		return record.Record{}, err
	}
	return record.New(body), nil
}

// Each pages through every record matched by q over the network, calling
// fn for each one. Paging stops at the first page shorter than the page
// size. A non-nil error from fn stops the iteration and is returned.
func (e *Engine) Each(ctx context.Context, q Query, fn func(record.Record) error) error {
	for skip := 0; ; skip += e.pageSize {
		page, err := e.remoteList(ctx, q.Limit(e.pageSize).Skip(skip))
		if err != nil {
			return err
		}
		for _, rec := range page {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(page) < e.pageSize {
			return nil
		}
	}
}

// FetchAll returns every record of className from the network.
func (e *Engine) FetchAll(ctx context.Context, className string) ([]record.Record, error) {
	var all []record.Record
	err := e.Each(ctx, New(className), func(rec record.Record) error {
		all = append(all, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetch all %s: %w", className, err)
	}
	return all, nil
}

// Populate refreshes the local snapshot of className from the network.
// Concurrent calls share one download.
func (e *Engine) Populate(ctx context.Context, className string) ([]record.Record, error) {
	s, ok := e.store(className)
	if !ok {
		return nil, fmt.Errorf("populate %s: class is not registered for caching", className)
	}
	started := time.Now()
	recs, err := s.PopulateAll(ctx, func(ctx context.Context) ([]record.Record, error) {
		return e.FetchAll(ctx, className)
	})
	e.metrics.Populated(className, time.Since(started), err)
	return recs, err
}

func (e *Engine) store(className string) (*localstore.Store, bool) {
	if e.registry == nil {
		return nil, false
	}
	return e.registry.Store(className)
}

func (e *Engine) evaluate(ctx context.Context, q Query, counting bool) (result, error) {
	if err := constraint.Validate(q.set); err != nil {
		return result{}, err
	}

	if res, ok, err := e.searchLocal(ctx, q, counting); err != nil || ok {
		return res, err
	}

	e.metrics.Query(q.ClassName(), metrics.PathRemote)
	return e.searchRemote(ctx, q, counting)
}

// localRecords returns the full snapshot of a class when local evaluation
// of set is possible. reason explains a refusal.
func (e *Engine) localRecords(set constraint.Set) (recs []record.Record, reason string) {
	s, ok := e.store(set.ClassName)
	if !ok {
		return nil, "unregistered"
	}
	if !set.AllowsLocalSearch() {
		return nil, "server_only"
	}
	if _, err := s.ListIDs(); err != nil {
		e.logger.Debug("local index unusable", "class", set.ClassName, "error", err)
		return nil, cacheReason(err)
	}
	recs, err := s.Records()
	if err != nil {
		e.logger.Debug("local snapshot unusable", "class", set.ClassName, "error", err)
		return nil, cacheReason(err)
	}
	return recs, ""
}

func cacheReason(err error) string {
	switch {
	case localstore.IsExpired(err):
		return "expired"
	case localstore.IsNotFound(err):
		return "missing"
	case localstore.IsWrongFormat(err):
		return "malformed"
	}
	return "error"
}

// searchLocal answers q from the cache. ok=false means the network must
// be used.
func (e *Engine) searchLocal(ctx context.Context, q Query, counting bool) (result, bool, error) {
	class := q.ClassName()
	if q.remote {
		return result{}, false, nil
	}
	if len(q.include) > 0 {
		e.metrics.Fallback(class, "include")
		return result{}, false, nil
	}

	all, reason := e.localRecords(q.set)
	if reason != "" {
		if reason != "unregistered" {
			e.metrics.Fallback(class, reason)
		}
		return result{}, false, nil
	}

	set, err := q.set.ReplaceSubQueries(e.resolver(ctx, true))
	if err != nil {
		return result{}, false, err
	}

	var matched []record.Record
	count := 0
	matcher := set.Matcher()
	for _, rec := range all {
		if matcher.Match(rec) {
			count++
			if !counting {
				matched = append(matched, rec)
			}
		}
	}
	e.metrics.Query(class, metrics.PathLocal)
	e.logger.Debug("answered locally", "class", class, "matched", count, "scanned", len(all))

	if counting {
		return result{count: count}, true, nil
	}

	Sort(matched, q.order)

	if q.skip > 0 {
		matched = matched[min(q.skip, len(matched)):]
	}
	limit := q.limit
	if limit <= 0 {
		limit = e.defaultLimit
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	if len(q.keys) > 0 {
		for i, rec := range matched {
			matched[i] = rec.Project(q.keys)
		}
	}
	return result{records: matched}, true, nil
}

// resolver answers sub-queries. With exhaustive set, an inner class that
// cannot be evaluated locally is paged from the network; otherwise it is
// left for the server to resolve.
func (e *Engine) resolver(ctx context.Context, exhaustive bool) constraint.Resolver {
	var resolve constraint.Resolver
	resolve = func(matchKey string, inner constraint.Set) ([]value.Value, bool, error) {
		if all, reason := e.localRecords(inner); reason == "" {
			rewritten, err := inner.ReplaceSubQueries(resolve)
			if err != nil {
				return nil, false, err
			}
			var vals []value.Value
			matcher := rewritten.Matcher()
			for _, rec := range all {
				if matcher.Match(rec) {
					vals = append(vals, rec.Value(matchKey))
				}
			}
			return vals, true, nil
		}
		if !exhaustive {
			return nil, false, nil
		}

		var vals []value.Value
		err := e.Each(ctx, FromSet(inner).Keys(matchKey), func(rec record.Record) error {
			vals = append(vals, rec.Value(matchKey))
			return nil
		})
		if err != nil {
			return nil, false, err
		}
		return vals, true, nil
	}
	return resolve
}

func (e *Engine) searchRemote(ctx context.Context, q Query, counting bool) (result, error) {
	set, err := q.set.ReplaceSubQueries(e.resolver(ctx, false))
	if err != nil {
		return result{}, err
	}
	q.set = set

	if counting {
		body, err := e.get(ctx, q, true)
		if err != nil {
			return result{}, err
		}
		n, ok := body["count"].(float64)
		if !ok {
			return result{}, fmt.Errorf("count %s: response has no count", q.ClassName())
		}
		return result{count: int(n)}, nil
	}

	recs, err := e.remoteList(ctx, q)
	if err != nil {
		return result{}, err
	}
	return result{records: recs}, nil
}

func (e *Engine) remoteList(ctx context.Context, q Query) ([]record.Record, error) {
	body, err := e.get(ctx, q, false)
	if err != nil {
		return nil, err
	}
	results, ok := body["results"].([]any)
	if !ok {
		if _, present := body["results"]; present {
			return nil, fmt.Errorf("list %s: results is not an array", q.ClassName())
		}
		return nil, nil
	}
	return record.FromResults(results), nil
}

func (e *Engine) get(ctx context.Context, q Query, counting bool) (map[string]any, error) {
	params, err := querywire.Params(q.Request(counting))
	if err != nil {
		return nil, err
	}
	body, err := e.transport.Request(ctx, http.MethodGet, transport.ClassPath(q.ClassName()), params)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.ClassName(), err)
	}
	return body, nil
}
