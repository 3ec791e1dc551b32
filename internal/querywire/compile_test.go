package querywire

import (
	"reflect"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parsekit/internal/constraint"
	"github.com/roach88/parsekit/internal/record"
	"github.com/roach88/parsekit/internal/value"
)

func newGolden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestCompile_Golden(t *testing.T) {
	set := func(cs ...constraint.Constraint) constraint.Set { return constraint.NewSet("Note", cs...) }

	tests := []struct {
		name string
		set  constraint.Set
	}{
		{"simple_equal", set(constraint.EqualTo{Key: "tag", Value: value.String("x")})},
		{"range_merge", set(
			constraint.GreaterThan{Key: "stars", Value: value.Number(1)},
			constraint.LessThan{Key: "stars", Value: value.Number(5)},
			constraint.Exists{Key: "due", Exists: true},
		)},
		{"subquery", set(
			constraint.MatchQuery{Key: "tag", MatchKey: "name", Query: constraint.NewSet("Tag",
				constraint.EqualTo{Key: "color", Value: value.String("red")})},
			constraint.DoNotMatchQuery{Key: "author", MatchKey: "objectId", Query: constraint.NewSet("_User",
				constraint.EqualTo{Key: "banned", Value: value.Bool(true)})},
		)},
		{"or_relation_membership", set(
			constraint.Or{
				Left:  set(constraint.EqualTo{Key: "tag", Value: value.String("x")}),
				Right: set(constraint.EqualTo{Key: "tag", Value: value.String("y")}),
			},
			constraint.RelatedTo{Key: "tags", Object: value.NewPointer("Post", "p1")},
			constraint.MatchRegex{Key: "title", Pattern: "^he", Options: "i"},
			constraint.In{Key: "owner", Values: []value.Value{value.NewPointer("_User", "u1")}},
			constraint.NotIn{Key: "state", Values: []value.Value{value.String("done")}},
		)},
		{"date_range", set(constraint.GreaterThan{
			Key:   "createdAt",
			Value: value.NewDate(time.Date(2016, 1, 15, 10, 30, 45, 123_000_000, time.UTC)),
		})},
		{"multiple_or", set(
			constraint.Or{
				Left:  set(constraint.EqualTo{Key: "a", Value: value.Number(1)}),
				Right: set(constraint.EqualTo{Key: "a", Value: value.Number(2)}),
			},
			constraint.Or{
				Left:  set(constraint.EqualTo{Key: "b", Value: value.Number(1)}),
				Right: set(constraint.EqualTo{Key: "b", Value: value.Number(2)}),
			},
		)},
	}

	g := newGolden(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, err := Compile(tt.set)
			require.NoError(t, err)

			data, err := json.MarshalIndent(where, "", "  ")
			require.NoError(t, err)
			g.Assert(t, tt.name, append(data, '\n'))
		})
	}
}

func TestCompile_Conflicts(t *testing.T) {
	tests := []struct {
		name string
		cs   []constraint.Constraint
	}{
		{"equality twice", []constraint.Constraint{
			constraint.EqualTo{Key: "a", Value: value.Number(1)},
			constraint.EqualTo{Key: "a", Value: value.Number(2)},
		}},
		{"equality then operator", []constraint.Constraint{
			constraint.EqualTo{Key: "a", Value: value.Number(1)},
			constraint.GreaterThan{Key: "a", Value: value.Number(0)},
		}},
		{"operator then equality", []constraint.Constraint{
			constraint.LessThan{Key: "a", Value: value.Number(1)},
			constraint.EqualTo{Key: "a", Value: value.Number(0)},
		}},
		{"operator twice", []constraint.Constraint{
			constraint.GreaterThan{Key: "a", Value: value.Number(1)},
			constraint.GreaterThan{Key: "a", Value: value.Number(2)},
		}},
		{"two relations", []constraint.Constraint{
			constraint.RelatedTo{Key: "x", Object: value.NewPointer("A", "1")},
			constraint.RelatedTo{Key: "y", Object: value.NewPointer("A", "1")},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(constraint.NewSet("Note", tt.cs...))
			require.Error(t, err)
			var ce *CompileError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestCompile_ObjectValueIsNotMerged(t *testing.T) {
	// An equality against an object literal must not absorb later operators.
	_, err := Compile(constraint.NewSet("Note",
		constraint.EqualTo{Key: "meta", Value: value.Object{"k": value.String("v")}},
		constraint.Exists{Key: "meta", Exists: true},
	))
	require.Error(t, err)
}

func TestCompile_Empty(t *testing.T) {
	where, err := Compile(constraint.NewSet("Note"))
	require.NoError(t, err)
	assert.Empty(t, where)
}

func TestParams(t *testing.T) {
	req := Request{
		Set:     constraint.NewSet("Note", constraint.EqualTo{Key: "tag", Value: value.String("x")}),
		Order:   "-stars,title",
		Limit:   20,
		Skip:    40,
		Keys:    []string{"title", "stars"},
		Include: []string{"owner"},
	}
	params, err := Params(req)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"where":   `{"tag":"x"}`,
		"order":   "-stars,title",
		"limit":   20,
		"skip":    40,
		"keys":    "title,stars",
		"include": "owner",
	}, params)
}

func TestParams_Count(t *testing.T) {
	params, err := Params(Request{Set: constraint.NewSet("Note"), Limit: 50, Count: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 1, "limit": 1}, params)
}

func TestParams_CompileError(t *testing.T) {
	_, err := Params(Request{Set: constraint.NewSet("Note",
		constraint.EqualTo{Key: "a", Value: value.Number(1)},
		constraint.EqualTo{Key: "a", Value: value.Number(2)},
	)})
	require.Error(t, err)
}

// remoteEval is a small interpreter of the wire grammar used to check that
// local matching and server semantics partition records identically.
func remoteEval(t *testing.T, where map[string]any, doc map[string]any) bool {
	t.Helper()
	for k, cond := range where {
		if k == "$or" {
			matched := false
			for _, branch := range cond.([]any) {
				if remoteEval(t, branch.(map[string]any), doc) {
					matched = true
				}
			}
			if !matched {
				return false
			}
			continue
		}

		field, present := doc[k]
		ops, isOps := cond.(map[string]any)
		if !isOps {
			if !wireEqual(field, cond) {
				return false
			}
			continue
		}
		for op, arg := range ops {
			switch op {
			case "$in":
				if !wireIn(field, arg.([]any)) {
					return false
				}
			case "$nin":
				if wireIn(field, arg.([]any)) {
					return false
				}
			case "$exists":
				if (present && field != nil) != arg.(bool) {
					return false
				}
			default:
				t.Fatalf("remoteEval: unsupported operator %s", op)
			}
		}
	}
	return true
}

func wireEqual(field, want any) bool {
	if arr, ok := field.([]any); ok {
		for _, elem := range arr {
			if reflect.DeepEqual(elem, want) {
				return true
			}
		}
		return false
	}
	return reflect.DeepEqual(field, want)
}

func wireIn(field any, set []any) bool {
	for _, candidate := range set {
		if wireEqual(field, candidate) {
			return true
		}
	}
	return false
}

func TestMatch_AgreesWithRemoteSemantics(t *testing.T) {
	docs := []map[string]any{
		{"objectId": "1", "tag": "x", "stars": 1.0, "labels": []any{"red"}},
		{"objectId": "2", "tag": "y", "stars": 2.0},
		{"objectId": "3", "tag": "z", "stars": nil},
		{"objectId": "4", "stars": 3.0, "labels": []any{"blue", "red"}},
		{"objectId": "5", "tag": "x", "pinned": true},
	}
	set := func(cs ...constraint.Constraint) constraint.Set { return constraint.NewSet("Note", cs...) }

	sets := map[string]constraint.Set{
		"equal":        set(constraint.EqualTo{Key: "tag", Value: value.String("x")}),
		"equal number": set(constraint.EqualTo{Key: "stars", Value: value.Number(2)}),
		"equal array":  set(constraint.EqualTo{Key: "labels", Value: value.String("red")}),
		"in":           set(constraint.In{Key: "tag", Values: []value.Value{value.String("x"), value.String("z")}}),
		"in array":     set(constraint.In{Key: "labels", Values: []value.Value{value.String("blue")}}),
		"not in":       set(constraint.NotIn{Key: "tag", Values: []value.Value{value.String("x")}}),
		"exists":       set(constraint.Exists{Key: "stars", Exists: true}),
		"not exists":   set(constraint.Exists{Key: "tag", Exists: false}),
		"or": set(constraint.Or{
			Left:  set(constraint.EqualTo{Key: "tag", Value: value.String("y")}),
			Right: set(constraint.Exists{Key: "pinned", Exists: true}),
		}),
		"conjunction": set(
			constraint.In{Key: "tag", Values: []value.Value{value.String("x"), value.String("y")}},
			constraint.Exists{Key: "stars", Exists: true},
		),
	}

	for name, s := range sets {
		t.Run(name, func(t *testing.T) {
			where, err := Compile(s)
			require.NoError(t, err)

			for _, doc := range docs {
				local := s.Match(record.New(doc))
				remote := remoteEval(t, where, doc)
				assert.Equal(t, remote, local, "doc %v", doc["objectId"])
			}
		})
	}
}
