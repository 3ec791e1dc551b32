package querywire

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/roach88/parsekit/internal/constraint"
)

// Request is everything a list or count call sends to the server.
type Request struct {
	Set     constraint.Set
	Order   string   // "-age,name"
	Limit   int      // 0 = server default
	Skip    int      // 0 = none
	Keys    []string // projection
	Include []string // pointer fields to expand
	Count   bool     // count instead of listing
}

// Params builds the GET query-string envelope. "where" is JSON-encoded;
// the other values are left for the transport to stringify.
//
// Count requests force limit=1 and count=1, matching the server contract:
// the count is returned alongside at most one result.
func Params(r Request) (map[string]any, error) {
	where, err := Compile(r.Set)
	if err != nil {
		return nil, err
	}

	params := map[string]any{}
	if len(where) > 0 {
		encoded, err := json.Marshal(where)
		if err != nil {
			return nil, fmt.Errorf("encode where: %w", err)
		}
		params["where"] = string(encoded)
	}
	if r.Order != "" {
		params["order"] = r.Order
	}
	if len(r.Keys) > 0 {
		params["keys"] = strings.Join(r.Keys, ",")
	}
	if len(r.Include) > 0 {
		params["include"] = strings.Join(r.Include, ",")
	}
	if r.Skip > 0 {
		params["skip"] = r.Skip
	}
	if r.Count {
		params["count"] = 1
		params["limit"] = 1
	} else if r.Limit > 0 {
		params["limit"] = r.Limit
	}
	return params, nil
}
