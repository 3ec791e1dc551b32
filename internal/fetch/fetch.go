// Package fetch coalesces single-object lookups into batched remote queries.
//
// A lookup that misses the local cache joins a per-class batch. Every new
// lookup pushes the batch deadline back by the debounce delay; when the
// delay elapses without new lookups, the batch is sent as one
// objectId-membership query and every waiter is answered.
package fetch

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/parsekit/internal/localstore"
	"github.com/roach88/parsekit/internal/metrics"
	"github.com/roach88/parsekit/internal/query"
	"github.com/roach88/parsekit/internal/record"
	"github.com/roach88/parsekit/internal/transport"
)

// DefaultDelay is the debounce window of a batch.
const DefaultDelay = 250 * time.Millisecond

// maxBatch bounds one remote query. Larger batches are split.
const maxBatch = query.DefaultPageSize

// Callback receives the outcome of one lookup. It runs on the batch
// goroutine, or synchronously on a cache hit.
type Callback func(rec record.Record, err error)

// Coalescer batches lookups per class.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks are
// invoked without any internal lock held.
type Coalescer struct {
	engine   *query.Engine
	registry *localstore.Registry
	delay    time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	pending map[string]*batch // class -> open batch
}

type batch struct {
	class   string
	timer   *time.Timer
	waiters []waiter
}

type waiter struct {
	id string
	cb Callback
}

// Option configures a Coalescer.
type Option func(*Coalescer)

// WithDelay sets the debounce window.
func WithDelay(d time.Duration) Option {
	return func(c *Coalescer) {
		if d > 0 {
			c.delay = d
		}
	}
}

// WithTimeout bounds each batch's remote query.
func WithTimeout(d time.Duration) Option {
	return func(c *Coalescer) { c.timeout = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coalescer) { c.logger = logger }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coalescer) { c.metrics = m }
}

// New creates a coalescer. Fetched records are persisted into the matching
// class store of registry, when one is registered.
func New(engine *query.Engine, registry *localstore.Registry, opts ...Option) *Coalescer {
	c := &Coalescer{
		engine:   engine,
		registry: registry,
		delay:    DefaultDelay,
		timeout:  30 * time.Second,
		logger:   slog.Default(),
		pending:  make(map[string]*batch),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coalescer) store(className string) (*localstore.Store, bool) {
	if c.registry == nil {
		return nil, false
	}
	return c.registry.Store(className)
}

// Get looks up one object. A fresh cached copy is delivered synchronously;
// otherwise the lookup joins the class's batch.
func (c *Coalescer) Get(className, objectID string, cb Callback) {
	if s, ok := c.store(className); ok {
		rec, err := s.Get(objectID)
		if err == nil {
			cb(rec, nil)
			return
		}
		c.logger.Debug("fetch: cache miss", "class", className, "id", objectID, "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.pending[className]
	if !ok {
		b = &batch{class: className}
		b.timer = time.AfterFunc(c.delay, func() { c.fire(b) })
		c.pending[className] = b
	} else {
		b.timer.Reset(c.delay)
	}
	b.waiters = append(b.waiters, waiter{id: objectID, cb: cb})
}

// Fetch is the blocking form of Get.
func (c *Coalescer) Fetch(ctx context.Context, className, objectID string) (record.Record, error) {
	type outcome struct {
		rec record.Record
		err error
	}
	done := make(chan outcome, 1)
	c.Get(className, objectID, func(rec record.Record, err error) {
		done <- outcome{rec, err}
	})
	select {
	case o := <-done:
		return o.rec, o.err
	case <-ctx.Done():
		return record.Record{}, ctx.Err()
	}
}

// Pending returns the number of lookups waiting in className's batch.
func (c *Coalescer) Pending(className string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.pending[className]; ok {
		return len(b.waiters)
	}
	return 0
}

// Flush sends every open batch now and waits for all callbacks.
func (c *Coalescer) Flush() {
	c.mu.Lock()
	batches := make([]*batch, 0, len(c.pending))
	for _, b := range c.pending {
		b.timer.Stop()
		batches = append(batches, b)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, b := range batches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.fire(b)
		}()
	}
	wg.Wait()
}

// fire drains b and answers its waiters. A timer re-armed after b was
// drained finds it detached and does nothing.
func (c *Coalescer) fire(b *batch) {
	c.mu.Lock()
	if c.pending[b.class] != b {
		c.mu.Unlock()
		return
	}
	delete(c.pending, b.class)
	waiters := b.waiters
	b.waiters = nil
	c.mu.Unlock()

	if len(waiters) == 0 {
		return
	}

	ids := make([]string, 0, len(waiters))
	for _, w := range waiters {
		if !slices.Contains(ids, w.id) {
			ids = append(ids, w.id)
		}
	}
	c.metrics.FetchBatch(b.class, len(ids))
	c.logger.Debug("fetch: sending batch", "class", b.class, "ids", len(ids), "waiters", len(waiters))

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	found, err := c.lookup(ctx, b.class, ids)
	if err != nil {
		c.logger.Warn("fetch: batch failed", "class", b.class, "ids", len(ids), "error", err)
		for _, w := range waiters {
			w.cb(record.Record{}, err)
		}
		return
	}

	if s, ok := c.store(b.class); ok {
		for _, rec := range found {
			if err := s.Persist(rec, false); err != nil {
				c.logger.Debug("fetch: persist failed", "class", b.class, "id", rec.ObjectID(), "error", err)
			}
		}
	}

	for _, w := range waiters {
		if rec, ok := found[w.id]; ok {
			w.cb(rec, nil)
			continue
		}
		w.cb(record.Record{}, transport.NotFound(b.class, w.id))
	}
}

// lookup queries ids remotely in chunks and indexes the results.
func (c *Coalescer) lookup(ctx context.Context, className string, ids []string) (map[string]record.Record, error) {
	found := make(map[string]record.Record, len(ids))
	for chunk := range slices.Chunk(ids, maxBatch) {
		vals := make([]any, len(chunk))
		for i, id := range chunk {
			vals[i] = id
		}
		q := query.New(className).In(record.FieldObjectID, vals...).Limit(len(chunk)).Local(false)
		recs, err := c.engine.Find(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			found[rec.ObjectID()] = rec
		}
	}
	return found, nil
}
