package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parsekit/internal/transport"
)

func docs(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{"objectId": fmt.Sprintf("d%d", i), "n": float64(i), "even": i%2 == 0}
	}
	return out
}

func TestFakeTransport_RoutesAndRecords(t *testing.T) {
	f := NewFakeTransport()
	f.Handle("GET", "classes/Note", Reply(map[string]any{"results": []any{}}))

	_, err := f.Request(context.Background(), "GET", "classes/Note", map[string]any{"limit": 1})
	require.NoError(t, err)

	_, err = f.Request(context.Background(), "GET", "classes/Tag", nil)
	require.Error(t, err)

	calls := f.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "classes/Note", calls[0].Path)
	assert.Equal(t, 1, calls[0].Params["limit"])

	f.Reset()
	assert.Zero(t, f.CallCount())
}

func TestFakeTransport_Fail(t *testing.T) {
	boom := errors.New("boom")
	f := NewFakeTransport()
	f.Handle("POST", "functions/x", Fail(boom))

	_, err := f.Request(context.Background(), "POST", "functions/x", nil)
	assert.ErrorIs(t, err, boom)
}

func TestFakeTransport_HonoursCancellation(t *testing.T) {
	f := NewFakeTransport()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Request(ctx, "GET", "classes/Note", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.CallCount())
}

func TestClassServer_Paging(t *testing.T) {
	h := ClassServer(docs(250))

	got, err := h(map[string]any{"limit": 100, "skip": 200})
	require.NoError(t, err)
	assert.Len(t, got["results"], 50)

	got, err = h(map[string]any{})
	require.NoError(t, err)
	assert.Len(t, got["results"], 100, "default limit")

	got, err = h(map[string]any{"skip": 300})
	require.NoError(t, err)
	assert.Empty(t, got["results"])
}

func TestClassServer_Where(t *testing.T) {
	h := ClassServer(docs(10))

	got, err := h(map[string]any{"where": `{"even":true}`, "count": 1, "limit": 1})
	require.NoError(t, err)
	assert.Equal(t, 5.0, got["count"])
	assert.Len(t, got["results"], 1)

	got, err = h(map[string]any{"where": `{"objectId":{"$in":["d1","d3","nope"]}}`})
	require.NoError(t, err)
	assert.Len(t, got["results"], 2)

	_, err = h(map[string]any{"where": `{"n":{"$gt":3}}`})
	assert.True(t, transport.HasCode(err, transport.ErrCodeInvalidQuery))
}
