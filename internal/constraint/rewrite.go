package constraint

import (
	"fmt"

	"github.com/roach88/parsekit/internal/value"
)

// AllowsLocalSearch reports whether s can be answered from a local
// snapshot. Relation membership and pointer equality are resolved by the
// server and disqualify the whole set, including through Or branches.
func (s Set) AllowsLocalSearch() bool {
	for _, c := range s.Constraints {
		switch con := c.(type) {
		case RelatedTo:
			return false
		case EqualTo:
			if _, ok := con.Value.(value.Pointer); ok {
				return false
			}
		case Or:
			if !con.Left.AllowsLocalSearch() || !con.Right.AllowsLocalSearch() {
				return false
			}
		}
	}
	return true
}

// HasSubQueries reports whether any MatchQuery or DoNotMatchQuery remains.
func (s Set) HasSubQueries() bool {
	for _, c := range s.Constraints {
		switch con := c.(type) {
		case MatchQuery, DoNotMatchQuery:
			return true
		case Or:
			if con.Left.HasSubQueries() || con.Right.HasSubQueries() {
				return true
			}
		}
	}
	return false
}

// Resolver returns the values of matchKey across the records of inner that
// match. ok=false leaves the sub-query in place.
type Resolver func(matchKey string, inner Set) (values []value.Value, ok bool, err error)

// ReplaceSubQueries returns a copy of s in which every sub-query the
// resolver can answer becomes In (MatchQuery) or NotIn (DoNotMatchQuery).
// Or branches are rewritten too. s is not modified.
func (s Set) ReplaceSubQueries(resolve Resolver) (Set, error) {
	out := Set{ClassName: s.ClassName, Constraints: make([]Constraint, len(s.Constraints))}
	for i, c := range s.Constraints {
		switch con := c.(type) {
		case MatchQuery:
			vals, ok, err := resolve(con.MatchKey, con.Query)
			if err != nil {
				return Set{}, fmt.Errorf("resolve %s.%s for %q: %w", con.Query.ClassName, con.MatchKey, con.Key, err)
			}
			if ok {
				out.Constraints[i] = In{Key: con.Key, Values: vals}
				continue
			}
		case DoNotMatchQuery:
			vals, ok, err := resolve(con.MatchKey, con.Query)
			if err != nil {
				return Set{}, fmt.Errorf("resolve %s.%s for %q: %w", con.Query.ClassName, con.MatchKey, con.Key, err)
			}
			if ok {
				out.Constraints[i] = NotIn{Key: con.Key, Values: vals}
				continue
			}
		case Or:
			left, err := con.Left.ReplaceSubQueries(resolve)
			if err != nil {
				return Set{}, err
			}
			right, err := con.Right.ReplaceSubQueries(resolve)
			if err != nil {
				return Set{}, err
			}
			out.Constraints[i] = Or{Left: left, Right: right}
			continue
		}
		out.Constraints[i] = c
	}
	return out, nil
}
