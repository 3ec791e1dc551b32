package testutil

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/goccy/go-json"

	"github.com/roach88/parsekit/internal/transport"
)

// Call is one request observed by a FakeTransport.
type Call struct {
	Method string
	Path   string
	Params map[string]any
}

// Handler answers one request.
type Handler func(params map[string]any) (map[string]any, error)

// FakeTransport is an in-memory transport.Transport.
//
// Requests are routed by "METHOD path". Unrouted requests fail the call
// with an error rather than the test, so code paths that must not touch the
// network can assert CallCount() == 0 afterwards.
type FakeTransport struct {
	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
}

var _ transport.Transport = (*FakeTransport)(nil)

// NewFakeTransport creates a transport with no routes.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{handlers: make(map[string]Handler)}
}

// Handle routes method and path to h, replacing any previous route.
func (f *FakeTransport) Handle(method, path string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method+" "+path] = h
}

// Request implements transport.Transport.
func (f *FakeTransport) Request(ctx context.Context, method, path string, params map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, Call{Method: method, Path: path, Params: params})
	h, ok := f.handlers[method+" "+path]
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("fake transport: no route for %s %s", method, path)
	}
	return h(params)
}

// Upload implements transport.Transport.
func (f *FakeTransport) Upload(ctx context.Context, path, contentType string, data []byte) (map[string]any, error) {
	return f.Request(ctx, "POST", path, map[string]any{"contentType": contentType, "size": len(data)})
}

// Calls returns every request so far.
func (f *FakeTransport) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// CallCount returns the number of requests so far.
func (f *FakeTransport) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Reset forgets recorded calls. Routes are kept.
func (f *FakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Reply returns a handler that always answers with body.
func Reply(body map[string]any) Handler {
	return func(map[string]any) (map[string]any, error) { return body, nil }
}

// Fail returns a handler that always fails with err.
func Fail(err error) Handler {
	return func(map[string]any) (map[string]any, error) { return nil, err }
}

// ClassServer answers list and count requests over a fixed set of documents.
//
// It understands skip, limit (default 100), count and a where clause made of
// plain equalities and $in. Any other operator is rejected with an
// InvalidQuery error so tests never silently receive unfiltered data.
func ClassServer(docs []map[string]any) Handler {
	return func(params map[string]any) (map[string]any, error) {
		where := map[string]any{}
		if raw, ok := params["where"].(string); ok {
			if err := json.Unmarshal([]byte(raw), &where); err != nil {
				return nil, &transport.RemoteError{Code: transport.ErrCodeInvalidJSON, Message: err.Error()}
			}
		}

		var matched []any
		for _, doc := range docs {
			ok, err := matchWhere(doc, where)
			if err != nil {
				return nil, err
			}
			if ok {
				matched = append(matched, doc)
			}
		}

		skip := intParam(params, "skip", 0)
		limit := intParam(params, "limit", 100)
		page := []any{}
		if skip < len(matched) {
			page = matched[skip:min(len(matched), skip+limit)]
		}

		body := map[string]any{"results": page}
		if _, ok := params["count"]; ok {
			body["count"] = float64(len(matched))
		}
		return body, nil
	}
}

func matchWhere(doc, where map[string]any) (bool, error) {
	for key, cond := range where {
		field := doc[key]
		op, isOp := cond.(map[string]any)
		if isOp {
			if _, tagged := op["__type"]; tagged {
				isOp = false
			}
		}
		if !isOp {
			if !sameJSON(field, cond) {
				return false, nil
			}
			continue
		}
		for name, arg := range op {
			switch name {
			case "$in":
				list, _ := arg.([]any)
				if !slices.ContainsFunc(list, func(x any) bool { return sameJSON(field, x) }) {
					return false, nil
				}
			default:
				return false, &transport.RemoteError{
					Code:    transport.ErrCodeInvalidQuery,
					Message: fmt.Sprintf("fake server: unsupported operator %s", name),
				}
			}
		}
	}
	return true, nil
}

// sameJSON compares decoded JSON values, treating every number as float64.
func sameJSON(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func normalize(x any) any {
	data, err := json.Marshal(x)
	if err != nil {
		return x
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return x
	}
	return out
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
