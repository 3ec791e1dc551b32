package operation

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"

	"github.com/roach88/parsekit/internal/localstore"
	"github.com/roach88/parsekit/internal/record"
	"github.com/roach88/parsekit/internal/relation"
	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

// Writer sends writes to the server and mirrors their effect into the
// local store and relation cache. Cache upkeep is best-effort: failures
// there are logged and never fail the write.
type Writer struct {
	transport transport.Transport
	registry  *localstore.Registry
	relations *relation.Cache
	logger    *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithRelations mirrors relation operations into c.
func WithRelations(c *relation.Cache) Option {
	return func(w *Writer) { w.relations = c }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) { w.logger = logger }
}

// NewWriter creates a writer. registry may be nil.
func NewWriter(t transport.Transport, registry *localstore.Registry, opts ...Option) *Writer {
	w := &Writer{transport: t, registry: registry, logger: slog.Default()}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Writer) store(className string) (*localstore.Store, bool) {
	if w.registry == nil {
		return nil, false
	}
	return w.registry.Store(className)
}

// Save creates rec, or updates it if it already has an objectId, sending
// its pending fields. The returned record carries the server-assigned
// fields and is written to the local store.
func (w *Writer) Save(ctx context.Context, className string, rec record.Record) (record.Record, error) {
	body := rec.PendingWire()

	var (
		resp map[string]any
		err  error
	)
	if rec.IsNew() {
		resp, err = w.transport.Request(ctx, http.MethodPost, transport.ClassPath(className), body)
	} else {
		resp, err = w.transport.Request(ctx, http.MethodPut, transport.ObjectPath(className, rec.ObjectID()), body)
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("save %s: %w", className, err)
	}

	saved := rec.Commit(resp)
	if s, ok := w.store(className); ok {
		// Only a fresh index is extended; starting one here would make a
		// single object look like the whole class.
		_, err := s.ListIDs()
		if err := s.Persist(saved, err == nil); err != nil {
			w.logger.Debug("save: cache not updated", "class", className, "id", saved.ObjectID(), "error", err)
		}
	}
	w.logger.Debug("saved", "class", className, "id", saved.ObjectID())
	return saved, nil
}

// Update applies ops to an existing object and returns the server
// response (updatedAt plus the results of numeric and array operations).
//
// A cached copy of the object, if fresh, gets the Set, DeleteColumn and
// security operations applied. Increment and array operations take the
// value the server returns; when the response lacks it the cached copy is
// evicted. Relation operations update relation-cache
// entries that are already loaded.
func (w *Writer) Update(ctx context.Context, className, objectID string, ops ...Op) (record.Record, error) {
	resp, err := w.transport.Request(ctx, http.MethodPut, transport.ObjectPath(className, objectID), Compose(ops...))
	if err != nil {
		return record.Record{}, fmt.Errorf("update %s/%s: %w", className, objectID, err)
	}

	w.updateCached(className, objectID, ops, resp)
	w.updateRelations(value.NewPointer(className, objectID), ops)
	return record.New(resp), nil
}

func (w *Writer) updateCached(className, objectID string, ops []Op, resp map[string]any) {
	s, ok := w.store(className)
	if !ok {
		return
	}
	cached, err := s.Get(objectID)
	if err != nil {
		w.logger.Debug("update: no cached copy", "class", className, "id", objectID, "error", err)
		return
	}

	fields := map[string]any{}
	var removed []string
	for _, op := range ops {
		switch o := op.(type) {
		case Set:
			fields[o.Key] = value.Wire(o.Value)
		case DeleteColumn:
			removed = append(removed, o.Key)
		case SetSecurity, ClearSecurity:
			maps.Copy(fields, Compose(o))
		case Increment, Add, AddUnique, Remove:
			key := serverKey(o)
			v, ok := resp[key]
			if !ok {
				// The result only exists on the server. Keep the id indexed
				// so local reads fail over until the object is refetched.
				if err := s.Evict(objectID); err != nil {
					w.logger.Debug("update: cache not evicted", "class", className, "id", objectID, "error", err)
				}
				w.logger.Debug("update: evicted cached copy", "class", className, "id", objectID, "key", key)
				return
			}
			fields[key] = v
		}
	}
	if at, ok := resp[record.FieldUpdatedAt]; ok {
		fields[record.FieldUpdatedAt] = at
	}

	next := cached.Without(removed...).Merge(fields)
	if err := s.Persist(next, false); err != nil {
		w.logger.Debug("update: cache not updated", "class", className, "id", objectID, "error", err)
	}
}

// serverKey returns the field of an operation whose result is computed by
// the server.
func serverKey(op Op) string {
	switch o := op.(type) {
	case Increment:
		return o.Key
	case Add:
		return o.Key
	case AddUnique:
		return o.Key
	case Remove:
		return o.Key
	}
	return ""
}

func (w *Writer) updateRelations(owner value.Pointer, ops []Op) {
	if w.relations == nil {
		return
	}
	for _, op := range ops {
		switch o := op.(type) {
		case AddRelation:
			if m, ok := w.relations.Lookup(o.Key, owner, o.To.ClassName); ok {
				m.Add(o.To)
			}
		case RemoveRelation:
			if m, ok := w.relations.Lookup(o.Key, owner, o.To.ClassName); ok {
				m.Remove(o.To.ObjectID)
			}
		}
	}
}

// Delete removes an object on the server and from the local store.
func (w *Writer) Delete(ctx context.Context, className, objectID string) error {
	if _, err := w.transport.Request(ctx, http.MethodDelete, transport.ObjectPath(className, objectID), nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", className, objectID, err)
	}
	if s, ok := w.store(className); ok {
		if err := s.Remove(objectID); err != nil {
			w.logger.Debug("delete: cache not updated", "class", className, "id", objectID, "error", err)
		}
	}
	return nil
}

// Call runs a cloud function and returns its "result".
func (w *Writer) Call(ctx context.Context, name string, params map[string]any) (any, error) {
	resp, err := w.transport.Request(ctx, http.MethodPost, transport.FunctionPath(name), params)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	return resp["result"], nil
}

// Event records an analytics event such as "AppOpened".
func (w *Writer) Event(ctx context.Context, name string, dimensions map[string]string) error {
	body := map[string]any{}
	if len(dimensions) > 0 {
		body["dimensions"] = dimensions
	}
	if _, err := w.transport.Request(ctx, http.MethodPost, transport.EventPath(name), body); err != nil {
		return fmt.Errorf("event %s: %w", name, err)
	}
	return nil
}
