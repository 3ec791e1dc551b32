// Package query builds constraint queries and evaluates them either
// against the local cache or through the REST API.
package query

import (
	"slices"

	"github.com/roach88/parsekit/internal/constraint"
	"github.com/roach88/parsekit/internal/querywire"
	"github.com/roach88/parsekit/internal/record"
	"github.com/roach88/parsekit/internal/value"
)

// Query is an immutable description of a list or count request.
// Every builder method returns a modified copy.
type Query struct {
	set     constraint.Set
	order   string
	limit   int
	skip    int
	keys    []string
	include []string
	remote  bool
}

// New starts a query over className.
func New(className string) Query {
	return Query{set: constraint.NewSet(className)}
}

// FromSet wraps an existing constraint set.
func FromSet(s constraint.Set) Query {
	return Query{set: s}
}

func (q Query) with(c constraint.Constraint) Query {
	q.set = q.set.With(c)
	return q
}

// EqualTo matches records whose key equals v. Comparing objectId with a
// pointer compares against the pointer's objectId.
func (q Query) EqualTo(key string, v any) Query {
	val := value.Of(v)
	if p, ok := val.(value.Pointer); ok && key == record.FieldObjectID {
		val = value.String(p.ObjectID)
	}
	return q.with(constraint.EqualTo{Key: key, Value: val})
}

// GreaterThan matches records whose key is strictly greater than v.
func (q Query) GreaterThan(key string, v any) Query {
	return q.with(constraint.GreaterThan{Key: key, Value: value.Of(v)})
}

// LessThan matches records whose key is strictly less than v.
func (q Query) LessThan(key string, v any) Query {
	return q.with(constraint.LessThan{Key: key, Value: value.Of(v)})
}

// Exists matches records that have a non-null key.
func (q Query) Exists(key string) Query {
	return q.with(constraint.Exists{Key: key, Exists: true})
}

// DoesNotExist matches records whose key is missing or null.
func (q Query) DoesNotExist(key string) Query {
	return q.with(constraint.Exists{Key: key, Exists: false})
}

// MatchRegex matches the string form of key against pattern. options
// follows the server's $options ("i" for case-insensitive).
func (q Query) MatchRegex(key, pattern, options string) Query {
	return q.with(constraint.MatchRegex{Key: key, Pattern: pattern, Options: options})
}

// In matches records whose key is one of vals.
func (q Query) In(key string, vals ...any) Query {
	return q.with(constraint.In{Key: key, Values: values(vals)})
}

// NotIn matches records whose key is none of vals.
func (q Query) NotIn(key string, vals ...any) Query {
	return q.with(constraint.NotIn{Key: key, Values: values(vals)})
}

func values(vals []any) []value.Value {
	out := make([]value.Value, len(vals))
	for i, v := range vals {
		out[i] = value.Of(v)
	}
	return out
}

// MatchKeyInQuery matches records whose key equals the matchKey of some
// record matched by inner.
func (q Query) MatchKeyInQuery(key, matchKey string, inner Query) Query {
	return q.with(constraint.MatchQuery{Key: key, MatchKey: matchKey, Query: inner.set})
}

// DontMatchKeyInQuery is the negation of MatchKeyInQuery.
func (q Query) DontMatchKeyInQuery(key, matchKey string, inner Query) Query {
	return q.with(constraint.DoNotMatchQuery{Key: key, MatchKey: matchKey, Query: inner.set})
}

// RelatedTo matches members of owner's relation key. Always remote.
func (q Query) RelatedTo(key string, owner value.Pointer) Query {
	return q.with(constraint.RelatedTo{Key: key, Object: owner})
}

// Or matches records matched by q or other. Both must target the same
// class. Paging and ordering come from q.
func (q Query) Or(other Query) Query {
	left := q.set
	right := other.set
	q.set = constraint.NewSet(left.ClassName, constraint.Or{Left: left, Right: right})
	return q
}

// Or combines two queries; see Query.Or.
func Or(a, b Query) Query {
	return a.Or(b)
}

// Order sets the sort expression, e.g. "-age,name".
func (q Query) Order(expr string) Query {
	q.order = expr
	return q
}

// Limit caps the number of results. Zero means the default.
func (q Query) Limit(n int) Query {
	q.limit = n
	return q
}

// Skip drops the first n results.
func (q Query) Skip(n int) Query {
	q.skip = n
	return q
}

// Keys projects results onto the given fields.
func (q Query) Keys(keys ...string) Query {
	q.keys = slices.Clone(keys)
	return q
}

// Include expands the given pointer fields. Forces the remote path.
func (q Query) Include(keys ...string) Query {
	q.include = slices.Clone(keys)
	return q
}

// Local enables or disables the local cache for this query. Enabled by
// default.
func (q Query) Local(enabled bool) Query {
	q.remote = !enabled
	return q
}

// ClassName returns the target class.
func (q Query) ClassName() string { return q.set.ClassName }

// Set returns the constraint set.
func (q Query) Set() constraint.Set { return q.set }

// Request builds the wire request, optionally as a count.
func (q Query) Request(count bool) querywire.Request {
	return querywire.Request{
		Set:     q.set,
		Order:   q.order,
		Limit:   q.limit,
		Skip:    q.skip,
		Keys:    q.keys,
		Include: q.include,
		Count:   count,
	}
}
