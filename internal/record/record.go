// Package record holds the immutable field bag representing one stored object.
package record

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/goccy/go-json"

	"github.com/roach88/parsekit/internal/value"
)

// Well-known server-maintained fields.
const (
	FieldObjectID  = "objectId"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// Record is an immutable map of field names to decoded JSON values, plus an
// optional overlay of staged assignments that have not been saved yet.
//
// The zero value is an empty, unsaved record. All mutators return copies.
type Record struct {
	fields  map[string]any
	pending map[string]value.Value
}

// New creates a record from a decoded JSON object. The map is copied.
func New(fields map[string]any) Record {
	return Record{fields: maps.Clone(fields)}
}

// Parse decodes a JSON object into a record.
func Parse(data []byte) (Record, error) {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Record{}, fmt.Errorf("parse record: %w", err)
	}
	if fields == nil {
		return Record{}, fmt.Errorf("parse record: not a JSON object")
	}
	return Record{fields: fields}, nil
}

// ObjectID returns the server-assigned id, or "" for unsaved records.
func (r Record) ObjectID() string {
	id, _ := r.fields[FieldObjectID].(string)
	return id
}

// IsNew reports whether the record has never been saved.
func (r Record) IsNew() bool {
	return r.ObjectID() == ""
}

// Has reports whether the server-known state contains key.
func (r Record) Has(key string) bool {
	_, ok := r.fields[key]
	return ok
}

// Raw returns the decoded JSON stored under key.
func (r Record) Raw(key string) (any, bool) {
	v, ok := r.fields[key]
	return v, ok
}

// Value returns key as a typed value. Missing fields are Null.
// createdAt and updatedAt are typed as dates so they compare against
// Date constraints the way the server compares them.
func (r Record) Value(key string) value.Value {
	raw, ok := r.fields[key]
	if !ok {
		return value.Null{}
	}
	if key == FieldCreatedAt || key == FieldUpdatedAt {
		if s, ok := raw.(string); ok {
			if d, err := value.ParseDate(s); err == nil {
				return d
			}
		}
	}
	return value.FromField(key, raw)
}

// String returns key as a string.
func (r Record) String(key string) (string, bool) {
	s, ok := r.Value(key).(value.String)
	return string(s), ok
}

// Number returns key as a float64.
func (r Record) Number(key string) (float64, bool) {
	n, ok := r.Value(key).(value.Number)
	return float64(n), ok
}

// Int returns key truncated to an int.
func (r Record) Int(key string) (int, bool) {
	n, ok := r.Number(key)
	return int(n), ok
}

// Bool returns key as a bool.
func (r Record) Bool(key string) (bool, bool) {
	b, ok := r.Value(key).(value.Bool)
	return bool(b), ok
}

// Date returns key as a time. createdAt and updatedAt are stored by the
// server as bare ISO strings, so plain strings are accepted too.
func (r Record) Date(key string) (time.Time, bool) {
	switch v := r.Value(key).(type) {
	case value.Date:
		return v.Time, true
	case value.String:
		// Bare ISO strings held outside the server-maintained fields.
		d, err := value.ParseDate(string(v))
		if err != nil {
			return time.Time{}, false
		}
		return d.Time, true
	default:
		return time.Time{}, false
	}
}

// CreatedAt returns the server creation time.
func (r Record) CreatedAt() (time.Time, bool) {
	return r.Date(FieldCreatedAt)
}

// UpdatedAt returns the last server update time, falling back to CreatedAt.
func (r Record) UpdatedAt() (time.Time, bool) {
	if t, ok := r.Date(FieldUpdatedAt); ok {
		return t, true
	}
	return r.CreatedAt()
}

// Pointer returns key as a pointer.
func (r Record) Pointer(key string) (value.Pointer, bool) {
	p, ok := r.Value(key).(value.Pointer)
	return p, ok
}

// ACL returns the record's access control list.
func (r Record) ACL() (value.ACL, bool) {
	acl, ok := r.Value(value.ACLField).(value.ACL)
	return acl, ok
}

// Keys returns the field names in sorted order.
func (r Record) Keys() []string {
	return slices.Sorted(maps.Keys(r.fields))
}

// Fields returns a copy of the server-known state.
func (r Record) Fields() map[string]any {
	return maps.Clone(r.fields)
}

// Len returns the number of server-known fields.
func (r Record) Len() int {
	return len(r.fields)
}

// PointerTo builds a pointer to this record in className. Its connections
// are the record's own pointer-valued fields.
func (r Record) PointerTo(className string) value.Pointer {
	p := value.NewPointer(className, r.ObjectID())
	for k := range r.fields {
		if nested, ok := r.Pointer(k); ok {
			if p.Connections == nil {
				p.Connections = make(map[string]value.Pointer)
			}
			p.Connections[k] = nested
		}
	}
	return p
}

// Set returns a copy with key staged for the next save.
func (r Record) Set(key string, v any) Record {
	out := Record{fields: r.fields, pending: maps.Clone(r.pending)}
	if out.pending == nil {
		out.pending = make(map[string]value.Value)
	}
	out.pending[key] = value.Of(v)
	return out
}

// Pending returns the staged assignments.
func (r Record) Pending() map[string]value.Value {
	return maps.Clone(r.pending)
}

// HasPending reports whether any assignment is staged.
func (r Record) HasPending() bool {
	return len(r.pending) > 0
}

// PendingWire returns the staged assignments as a JSON tree suitable for a
// save payload.
func (r Record) PendingWire() map[string]any {
	out := make(map[string]any, len(r.pending))
	for k, v := range r.pending {
		out[k] = value.Wire(v)
	}
	return out
}

// Merge returns a copy whose server-known state is overwritten by fields.
// The pending overlay is dropped.
func (r Record) Merge(fields map[string]any) Record {
	out := maps.Clone(r.fields)
	if out == nil {
		out = make(map[string]any, len(fields))
	}
	maps.Copy(out, fields)
	return Record{fields: out}
}

// Commit folds the pending overlay into the server-known state together
// with the server-assigned fields.
func (r Record) Commit(server map[string]any) Record {
	merged := r.Merge(r.PendingWire())
	return merged.Merge(server)
}

// Without returns a copy with keys removed.
func (r Record) Without(keys ...string) Record {
	out := maps.Clone(r.fields)
	for _, k := range keys {
		delete(out, k)
	}
	return Record{fields: out, pending: maps.Clone(r.pending)}
}

// Project keeps only keys plus the server-maintained fields and ACL.
func (r Record) Project(keys []string) Record {
	keep := map[string]bool{
		FieldObjectID:  true,
		FieldCreatedAt: true,
		FieldUpdatedAt: true,
		value.ACLField: true,
	}
	for _, k := range keys {
		keep[k] = true
	}
	out := make(map[string]any, len(keep))
	for k, v := range r.fields {
		if keep[k] {
			out[k] = v
		}
	}
	return Record{fields: out}
}

// Equal compares records by objectId. Unsaved records are never equal.
func (r Record) Equal(o Record) bool {
	id := r.ObjectID()
	return id != "" && id == o.ObjectID()
}

// MarshalJSON emits only the server-known fields.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r.fields)
}

// UnmarshalJSON replaces the record with the decoded object.
func (r *Record) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// FromResults converts a "results" array from a list response.
// Non-object entries are skipped.
func FromResults(results []any) []Record {
	out := make([]Record, 0, len(results))
	for _, item := range results {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Record{fields: m})
		}
	}
	return out
}

// IDs returns the objectIds of records, in order.
func IDs(records []Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ObjectID())
	}
	return ids
}
