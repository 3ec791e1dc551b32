package query

import (
	"cmp"
	"slices"
	"strings"

	"github.com/roach88/parsekit/internal/record"
	"github.com/roach88/parsekit/internal/value"
)

// SortKey is one term of an order expression.
type SortKey struct {
	Key        string
	Descending bool
}

// ParseOrder splits "-age,name" into sort keys. Blank terms are skipped.
func ParseOrder(expr string) []SortKey {
	var keys []SortKey
	for _, term := range strings.Split(expr, ",") {
		term = strings.TrimSpace(term)
		desc := strings.HasPrefix(term, "-")
		term = strings.TrimPrefix(term, "-")
		if term == "" {
			continue
		}
		keys = append(keys, SortKey{Key: term, Descending: desc})
	}
	return keys
}

// compareRecords walks keys in order and returns the first decisive
// comparison of sortCompare.
func compareRecords(a, b record.Record, keys []SortKey) int {
	for _, k := range keys {
		c := sortCompare(a.Value(k.Key), b.Value(k.Key))
		if c == 0 {
			continue
		}
		if k.Descending {
			return -c
		}
		return c
	}
	return 0
}

// sortRank orders kinds against each other: missing and null first, then
// numbers, strings, booleans, dates, and every other kind last.
func sortRank(v value.Value) int {
	switch v.(type) {
	case nil, value.Null:
		return 0
	case value.Number:
		return 1
	case value.String:
		return 2
	case value.Bool:
		return 3
	case value.Date:
		return 4
	default:
		return 5
	}
}

// sortCompare is a total order over values. Values of different kinds
// order by sortRank; values of one kind that Compare cannot order tie.
func sortCompare(a, b value.Value) int {
	ra, rb := sortRank(a), sortRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	if c, ok := value.Compare(a, b); ok {
		return c
	}
	return 0
}

// Sort orders records in place by expr. The sort is stable, so records
// that tie on every key keep their input order.
func Sort(records []record.Record, expr string) {
	keys := ParseOrder(expr)
	if len(keys) == 0 {
		return
	}
	slices.SortStableFunc(records, func(a, b record.Record) int {
		return compareRecords(a, b, keys)
	})
}
