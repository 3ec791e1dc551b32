package constraint

import (
	"regexp"

	"github.com/roach88/parsekit/internal/value"
)

// Fields is the read side of a record needed for matching.
// Missing fields must be reported as value.Null.
type Fields interface {
	Value(key string) value.Value
}

// Match reports whether every constraint in s holds for f.
// It is pure: no I/O, no mutation. Regex patterns are compiled on each
// call; use Matcher to test many records against one set.
func (s Set) Match(f Fields) bool {
	return s.Matcher().Match(f)
}

// Matcher holds a Set with its regex patterns compiled.
type Matcher struct {
	set     Set
	regexes map[string]*regexp.Regexp // expression -> compiled, nil if invalid
}

// Matcher compiles every regex pattern in s, including those inside Or
// branches.
func (s Set) Matcher() *Matcher {
	m := &Matcher{set: s}
	m.compile(s)
	return m
}

func (m *Matcher) compile(s Set) {
	for _, c := range s.Constraints {
		switch con := c.(type) {
		case MatchRegex:
			expr := regexExpr(con)
			if _, done := m.regexes[expr]; done {
				continue
			}
			if m.regexes == nil {
				m.regexes = make(map[string]*regexp.Regexp)
			}
			re, err := regexp.Compile(expr)
			if err != nil {
				re = nil
			}
			m.regexes[expr] = re
		case Or:
			m.compile(con.Left)
			m.compile(con.Right)
		}
	}
}

// Match reports whether every constraint holds for f.
func (m *Matcher) Match(f Fields) bool {
	return m.matchSet(m.set, f)
}

func (m *Matcher) matchSet(s Set, f Fields) bool {
	for _, c := range s.Constraints {
		if !m.matchOne(c, f) {
			return false
		}
	}
	return true
}

func (m *Matcher) matchOne(c Constraint, f Fields) bool {
	switch con := c.(type) {
	case EqualTo:
		return matchEqual(f.Value(con.Key), con.Value)
	case GreaterThan:
		cmp, ok := value.Compare(f.Value(con.Key), con.Value)
		return ok && cmp > 0
	case LessThan:
		cmp, ok := value.Compare(f.Value(con.Key), con.Value)
		return ok && cmp < 0
	case Exists:
		return !value.IsNull(f.Value(con.Key)) == con.Exists
	case MatchRegex:
		return matchRegex(f.Value(con.Key), m.regexes[regexExpr(con)])
	case In:
		return memberOf(f.Value(con.Key), con.Values)
	case NotIn:
		return !memberOf(f.Value(con.Key), con.Values)
	case Or:
		return m.matchSet(con.Left, f) || m.matchSet(con.Right, f)
	case RelatedTo, MatchQuery, DoNotMatchQuery:
		// Remote-only or not yet rewritten.
		return false
	default:
		return false
	}
}

func matchEqual(field, want value.Value) bool {
	if value.Equal(field, want) {
		return true
	}
	if arr, ok := field.(value.Array); ok {
		for _, elem := range arr {
			if value.Equal(elem, want) {
				return true
			}
		}
	}
	return false
}

// memberOf tests set membership. Pointer fields match either a pointer to
// the same object or a bare objectId string; array fields match when any
// element is a member.
func memberOf(field value.Value, set []value.Value) bool {
	if arr, ok := field.(value.Array); ok {
		for _, elem := range arr {
			if memberOf(elem, set) {
				return true
			}
		}
		return false
	}

	ptr, isPtr := field.(value.Pointer)
	for _, candidate := range set {
		if value.Equal(field, candidate) {
			return true
		}
		if isPtr {
			if id, ok := candidate.(value.String); ok && string(id) == ptr.ObjectID {
				return true
			}
		}
	}
	return false
}

func regexExpr(m MatchRegex) string {
	if m.CaseInsensitive() {
		return "(?i)" + m.Pattern
	}
	return m.Pattern
}

func matchRegex(field value.Value, re *regexp.Regexp) bool {
	if re == nil {
		return false
	}
	s, ok := value.Render(field)
	if !ok {
		return false
	}
	return re.MatchString(s)
}
