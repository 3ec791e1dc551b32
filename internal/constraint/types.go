// Package constraint defines the query predicate AST and its local evaluator.
//
// A Set is an ordered list of constraints ANDed together and scoped to one
// record class. Sets are evaluated in memory by Match and compiled to the
// remote "where" grammar by package querywire.
package constraint

import "github.com/roach88/parsekit/internal/value"

// Constraint is one predicate clause.
//
// This is a sealed interface - only types in this package implement it.
// The marker method enables exhaustive type switches in the evaluator and
// in the wire compiler.
//
// Constraint types:
//   - EqualTo, GreaterThan, LessThan: typed comparisons
//   - Exists: field presence
//   - MatchRegex: regular expression over the field's string form
//   - In, NotIn: set membership
//   - Or: disjunction of two Sets
//   - RelatedTo: membership in a server-side relation (remote only)
//   - MatchQuery, DoNotMatchQuery: sub-query joins, rewritten to In/NotIn
type Constraint interface {
	constraintNode() // Marker method - seals interface to this package
}

// Set is an ordered conjunction of constraints over one class.
type Set struct {
	ClassName   string
	Constraints []Constraint
}

// NewSet creates a Set for className.
func NewSet(className string, cs ...Constraint) Set {
	return Set{ClassName: className, Constraints: cs}
}

// With returns a copy of s with c appended.
func (s Set) With(c Constraint) Set {
	out := make([]Constraint, len(s.Constraints), len(s.Constraints)+1)
	copy(out, s.Constraints)
	return Set{ClassName: s.ClassName, Constraints: append(out, c)}
}

// Len returns the number of top-level constraints.
func (s Set) Len() int {
	return len(s.Constraints)
}

// EqualTo matches when the field equals Value.
//
// A field holding an array matches when any element equals Value.
type EqualTo struct {
	Key   string
	Value value.Value
}

func (EqualTo) constraintNode() {}

// GreaterThan matches when the field orders strictly after Value.
// Null and incomparable fields never match.
type GreaterThan struct {
	Key   string
	Value value.Value
}

func (GreaterThan) constraintNode() {}

// LessThan matches when the field orders strictly before Value.
// Null and incomparable fields never match.
type LessThan struct {
	Key   string
	Value value.Value
}

func (LessThan) constraintNode() {}

// Exists matches when the field's non-nullness equals Exists.
type Exists struct {
	Key    string
	Exists bool
}

func (Exists) constraintNode() {}

// MatchRegex matches when the field's string form matches Pattern.
// Options uses the wire letters; only "i" (case-insensitive) is honoured
// locally.
type MatchRegex struct {
	Key     string
	Pattern string
	Options string
}

func (MatchRegex) constraintNode() {}

// CaseInsensitive reports whether the "i" option is set.
func (m MatchRegex) CaseInsensitive() bool {
	for _, o := range m.Options {
		if o == 'i' {
			return true
		}
	}
	return false
}

// In matches when the field is a member of Values.
type In struct {
	Key    string
	Values []value.Value
}

func (In) constraintNode() {}

// NotIn is the exact negation of In.
type NotIn struct {
	Key    string
	Values []value.Value
}

func (NotIn) constraintNode() {}

// Or matches when either Set matches.
type Or struct {
	Left  Set
	Right Set
}

func (Or) constraintNode() {}

// RelatedTo matches objects that are members of Object's relation Key.
// It can only be answered by the server.
type RelatedTo struct {
	Key    string
	Object value.Pointer
}

func (RelatedTo) constraintNode() {}

// MatchQuery matches when field Key equals the MatchKey field of some
// record matching Query.
type MatchQuery struct {
	Key      string
	MatchKey string
	Query    Set
}

func (MatchQuery) constraintNode() {}

// DoNotMatchQuery matches when field Key equals no MatchKey value of the
// records matching Query.
type DoNotMatchQuery struct {
	Key      string
	MatchKey string
	Query    Set
}

func (DoNotMatchQuery) constraintNode() {}
