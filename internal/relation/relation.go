// Package relation caches many-to-many relation memberships.
//
// Each (relation key, owner, target class) triple is resolved at most once
// at a time: the first caller queries the server and every concurrent
// caller waits for the same result.
package relation

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/parsekit/internal/metrics"
	"github.com/roach88/parsekit/internal/query"
	"github.com/roach88/parsekit/internal/record"
	"github.com/roach88/parsekit/internal/value"
)

// Members is an ordered list of pointers, unique by objectId.
//
// Thread-safety: all methods are safe for concurrent use.
type Members struct {
	mu    sync.RWMutex
	items []value.Pointer
}

// NewMembers creates a list from ps, keeping the last occurrence of
// duplicate objectIds.
func NewMembers(ps ...value.Pointer) *Members {
	m := &Members{}
	for _, p := range ps {
		m.Add(p)
	}
	return m
}

// Add appends p, moving it to the end if already present.
func (m *Members) Add(p value.Pointer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = slices.DeleteFunc(m.items, func(x value.Pointer) bool { return x.ObjectID == p.ObjectID })
	m.items = append(m.items, p)
}

// Remove drops the member with objectID.
func (m *Members) Remove(objectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = slices.DeleteFunc(m.items, func(x value.Pointer) bool { return x.ObjectID == objectID })
}

// Contains reports whether objectID is a member.
func (m *Members) Contains(objectID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.ContainsFunc(m.items, func(x value.Pointer) bool { return x.ObjectID == objectID })
}

// Len returns the number of members.
func (m *Members) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// List returns a copy of the members in order.
func (m *Members) List() []value.Pointer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.items)
}

// Key identifies the members of owner's relation key that live in
// targetClass.
func Key(key string, owner value.Pointer, targetClass string) string {
	return fmt.Sprintf("%s-%s/%s-%s", key, owner.ClassName, owner.ObjectID, targetClass)
}

// InverseKey identifies the objects of ownerClass whose key field points at
// target.
func InverseKey(key, ownerClass string, target value.Pointer) string {
	return fmt.Sprintf("%s-%s-%s/%s", key, ownerClass, target.ClassName, target.ObjectID)
}

type entry struct {
	done    chan struct{}
	members *Members
	err     error
}

// Cache memoises relation lookups.
type Cache struct {
	engine  *query.Engine
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates an empty cache that resolves through engine.
func New(engine *query.Engine, opts ...Option) *Cache {
	c := &Cache{
		engine:  engine,
		logger:  slog.Default(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve returns the members of owner's relation key in targetClass.
func (c *Cache) Resolve(ctx context.Context, key string, owner value.Pointer, targetClass string) (*Members, error) {
	q := query.New(targetClass).RelatedTo(key, owner)
	return c.resolve(ctx, Key(key, owner, targetClass), targetClass, q)
}

// OfOwner returns the objects of ownerClass whose pointer field key refers
// to target. This is the inverse of Resolve for pointer-backed links.
func (c *Cache) OfOwner(ctx context.Context, ownerClass, key string, target value.Pointer) (*Members, error) {
	q := query.New(ownerClass).EqualTo(key, target).Local(false)
	return c.resolve(ctx, InverseKey(key, ownerClass, target), ownerClass, q)
}

// Of resolves asynchronously and reports to cb from another goroutine.
func (c *Cache) Of(ctx context.Context, key string, owner value.Pointer, targetClass string, cb func(*Members, error)) {
	go func() {
		cb(c.Resolve(ctx, key, owner, targetClass))
	}()
}

// Lookup returns a resolved entry without querying.
func (c *Cache) Lookup(key string, owner value.Pointer, targetClass string) (*Members, bool) {
	c.mu.Lock()
	e, ok := c.entries[Key(key, owner, targetClass)]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	select {
	case <-e.done:
		return e.members, e.err == nil
	default:
		return nil, false
	}
}

// Invalidate drops the entry for the triple so the next call re-queries.
func (c *Cache) Invalidate(key string, owner value.Pointer, targetClass string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, Key(key, owner, targetClass))
}

// Reset drops every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

func (c *Cache) resolve(ctx context.Context, id, className string, q query.Query) (*Members, error) {
	c.mu.Lock()
	e, ok := c.entries[id]
	if ok {
		c.mu.Unlock()
		select {
		case <-e.done:
			c.metrics.RelationLookup(className, "hit")
		default:
			c.metrics.RelationLookup(className, "shared")
		}
		select {
		case <-e.done:
			return e.members, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e = &entry{done: make(chan struct{})}
	c.entries[id] = e
	c.mu.Unlock()
	c.metrics.RelationLookup(className, "miss")

	members := NewMembers()
	err := c.engine.Each(ctx, q, func(rec record.Record) error {
		members.Add(value.NewPointer(className, rec.ObjectID()))
		return nil
	})
	if err != nil {
		err = fmt.Errorf("resolve relation %s: %w", id, err)
		c.mu.Lock()
		if c.entries[id] == e {
			delete(c.entries, id)
		}
		c.mu.Unlock()
		c.logger.Debug("relation lookup failed", "relation", id, "error", err)
	} else {
		e.members = members
		c.logger.Debug("relation cached", "relation", id, "members", members.Len())
	}
	e.err = err
	close(e.done)
	return e.members, e.err
}
