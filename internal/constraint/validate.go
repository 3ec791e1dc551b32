package constraint

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Issue is one problem found in a Set.
type Issue struct {
	Path    string // e.g. "Note[2].or.left[0]"
	Message string
}

// ValidationError lists every issue found by Validate.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.Path + ": " + is.Message
	}
	return "invalid constraints: " + strings.Join(parts, "; ")
}

// IsValidationError returns true if err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks structural rules the evaluator and compiler rely on:
// class names and keys are non-empty, regex patterns compile, and Or
// branches and sub-queries are themselves valid.
//
// Validate is a pure function with no side effects.
func Validate(s Set) error {
	v := &validator{}
	v.validateSet(s, s.ClassName)
	if len(v.issues) == 0 {
		return nil
	}
	return &ValidationError{Issues: v.issues}
}

// validator accumulates issues during traversal.
type validator struct {
	issues []Issue
}

func (v *validator) add(path, format string, args ...any) {
	v.issues = append(v.issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) validateSet(s Set, path string) {
	if s.ClassName == "" {
		v.add(path, "class name is required")
	}
	for i, c := range s.Constraints {
		v.validateConstraint(c, fmt.Sprintf("%s[%d]", path, i))
	}
}

func (v *validator) key(path, key string) {
	if key == "" {
		v.add(path, "key is required")
	}
}

func (v *validator) validateConstraint(c Constraint, path string) {
	switch con := c.(type) {
	case EqualTo:
		v.key(path, con.Key)
	case GreaterThan:
		v.key(path, con.Key)
	case LessThan:
		v.key(path, con.Key)
	case Exists:
		v.key(path, con.Key)
	case In:
		v.key(path, con.Key)
	case NotIn:
		v.key(path, con.Key)
	case MatchRegex:
		v.key(path, con.Key)
		if _, err := regexp.Compile(regexExpr(con)); err != nil {
			v.add(path, "invalid pattern %q: %v", con.Pattern, err)
		}
	case RelatedTo:
		v.key(path, con.Key)
		if con.Object.ClassName == "" || con.Object.ObjectID == "" {
			v.add(path, "relatedTo requires a saved object")
		}
	case Or:
		v.validateSet(con.Left, path+".or.left")
		v.validateSet(con.Right, path+".or.right")
	case MatchQuery:
		v.key(path, con.Key)
		if con.MatchKey == "" {
			v.add(path, "match key is required")
		}
		v.validateSet(con.Query, path+".query")
	case DoNotMatchQuery:
		v.key(path, con.Key)
		if con.MatchKey == "" {
			v.add(path, "match key is required")
		}
		v.validateSet(con.Query, path+".query")
	case nil:
		v.add(path, "nil constraint")
	default:
		v.add(path, "unknown constraint type %T", c)
	}
}
