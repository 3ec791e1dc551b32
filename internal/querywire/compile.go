// Package querywire compiles constraint sets to the remote query grammar.
//
// The output mirrors the MongoDB-style "where" object accepted by the
// backend's REST API: plain equality as key/value, and $gt, $lt, $in, $nin,
// $exists, $regex/$options, $select/$dontSelect, $or and $relatedTo for
// everything else.
package querywire

import (
	"fmt"
	"sort"

	"github.com/roach88/parsekit/internal/constraint"
	"github.com/roach88/parsekit/internal/value"
)

// CompileError reports constraints that cannot be expressed on the wire.
type CompileError struct {
	Key     string
	Message string
}

func (e *CompileError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("compile where: key %q: %s", e.Key, e.Message)
	}
	return "compile where: " + e.Message
}

// Compile converts a constraint set into the "where" object.
//
// Several operator constraints on one key merge into a single operator
// object ({"$gt":1,"$lt":5}). Mixing plain equality with operators on one
// key, or repeating an operator, is a *CompileError. Several Or
// constraints are combined under "$and" so no disjunction is lost.
func Compile(s constraint.Set) (map[string]any, error) {
	c := &compiler{where: make(map[string]any)}
	for _, con := range s.Constraints {
		if err := c.add(con); err != nil {
			return nil, err
		}
	}
	return c.finish(), nil
}

// compiler accumulates one where object.
type compiler struct {
	where map[string]any
	ors   [][]any
}

func (c *compiler) add(con constraint.Constraint) error {
	switch v := con.(type) {
	case constraint.EqualTo:
		return c.equal(v.Key, value.Wire(v.Value))
	case constraint.GreaterThan:
		return c.operator(v.Key, "$gt", value.Wire(v.Value))
	case constraint.LessThan:
		return c.operator(v.Key, "$lt", value.Wire(v.Value))
	case constraint.Exists:
		return c.operator(v.Key, "$exists", v.Exists)
	case constraint.MatchRegex:
		if err := c.operator(v.Key, "$regex", v.Pattern); err != nil {
			return err
		}
		return c.operator(v.Key, "$options", v.Options)
	case constraint.In:
		return c.operator(v.Key, "$in", wireList(v.Values))
	case constraint.NotIn:
		return c.operator(v.Key, "$nin", wireList(v.Values))
	case constraint.MatchQuery:
		sub, err := subQuery(v.MatchKey, v.Query)
		if err != nil {
			return err
		}
		return c.operator(v.Key, "$select", sub)
	case constraint.DoNotMatchQuery:
		sub, err := subQuery(v.MatchKey, v.Query)
		if err != nil {
			return err
		}
		return c.operator(v.Key, "$dontSelect", sub)
	case constraint.Or:
		left, err := Compile(v.Left)
		if err != nil {
			return err
		}
		right, err := Compile(v.Right)
		if err != nil {
			return err
		}
		c.ors = append(c.ors, []any{left, right})
		return nil
	case constraint.RelatedTo:
		if _, dup := c.where["$relatedTo"]; dup {
			return &CompileError{Message: "only one relatedTo constraint is allowed"}
		}
		c.where["$relatedTo"] = map[string]any{
			"object": value.Wire(v.Object),
			"key":    v.Key,
		}
		return nil
	default:
		return &CompileError{Message: fmt.Sprintf("unsupported constraint type %T", con)}
	}
}

func (c *compiler) equal(key string, wire any) error {
	if _, exists := c.where[key]; exists {
		return &CompileError{Key: key, Message: "equality conflicts with another constraint"}
	}
	c.where[key] = wire
	return nil
}

func (c *compiler) operator(key, op string, arg any) error {
	existing, exists := c.where[key]
	if !exists {
		c.where[key] = operatorObject{op: arg}
		return nil
	}
	ops, ok := existing.(operatorObject)
	if !ok {
		return &CompileError{Key: key, Message: fmt.Sprintf("%s conflicts with equality", op)}
	}
	if _, dup := ops[op]; dup {
		return &CompileError{Key: key, Message: fmt.Sprintf("%s given twice", op)}
	}
	ops[op] = arg
	return nil
}

func (c *compiler) finish() map[string]any {
	for k, v := range c.where {
		if ops, ok := v.(operatorObject); ok {
			c.where[k] = map[string]any(ops)
		}
	}
	switch len(c.ors) {
	case 0:
	case 1:
		c.where["$or"] = c.ors[0]
	default:
		and := make([]any, len(c.ors))
		for i, pair := range c.ors {
			and[i] = map[string]any{"$or": pair}
		}
		c.where["$and"] = and
	}
	return c.where
}

// operatorObject marks objects built by the compiler, so that a user
// value that happens to be an object is never merged into.
type operatorObject map[string]any

func subQuery(matchKey string, inner constraint.Set) (map[string]any, error) {
	where, err := Compile(inner)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"key": matchKey,
		"query": map[string]any{
			"className": inner.ClassName,
			"where":     where,
		},
	}, nil
}

func wireList(vals []value.Value) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = value.Wire(v)
	}
	return out
}

// Keys returns the top-level keys of a compiled where object, sorted.
// Used for logging.
func Keys(where map[string]any) []string {
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
