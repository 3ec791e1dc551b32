package parsekit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parsekit/internal/blob"
	"github.com/roach88/parsekit/internal/config"
	"github.com/roach88/parsekit/internal/operation"
	"github.com/roach88/parsekit/internal/schema"
	"github.com/roach88/parsekit/internal/testutil"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.ApplicationID = "app"
	cfg.Cache.Backend = blob.KindMemory
	cfg.Cache.Debounce = 10 * time.Millisecond
	cfg.Classes = map[string]config.ClassConfig{"Note": {ExpireAfter: time.Hour}}
	require.NoError(t, cfg.Validate())
	return &cfg
}

func notes(n int) []map[string]any {
	docs := make([]map[string]any, n)
	for i := range docs {
		docs[i] = map[string]any{"objectId": fmt.Sprintf("n%d", i), "stars": float64(i % 5)}
	}
	return docs
}

func TestClient_PopulateThenQueryLocally(t *testing.T) {
	ft := testutil.NewFakeTransport()
	ft.Handle("GET", "classes/Note", testutil.ClassServer(notes(1250)))
	reg := prometheus.NewRegistry()

	c, err := New(testConfig(t), WithTransport(ft), WithLogger(quiet), WithRegisterer(reg))
	require.NoError(t, err)
	defer c.Close()

	all, err := c.Populate(context.Background(), "Note")
	require.NoError(t, err)
	assert.Len(t, all, 1250)
	assert.Equal(t, 2, ft.CallCount(), "one full page and one short page")

	ft.Reset()
	n, err := c.Count(context.Background(), NewQuery("Note").EqualTo("stars", 4))
	require.NoError(t, err)
	assert.Equal(t, 250, n)
	top, err := c.Find(context.Background(), NewQuery("Note").Order("-stars,objectId").Limit(3))
	require.NoError(t, err)
	require.Len(t, top, 3)
	assert.Equal(t, "n1004", top[0].ObjectID())
	assert.Zero(t, ft.CallCount())

	reports, err := c.Inspect()
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 1250, reports[0].Fresh)

	count, err := prom.GatherAndCount(reg, "parsekit_cache_populations_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestClient_GetIsCoalesced(t *testing.T) {
	ft := testutil.NewFakeTransport()
	ft.Handle("GET", "classes/Tag", testutil.ClassServer([]map[string]any{{"objectId": "t1"}, {"objectId": "t2"}}))

	c, err := New(testConfig(t), WithTransport(ft), WithLogger(quiet))
	require.NoError(t, err)
	defer c.Close()

	done := make(chan Record, 2)
	for _, id := range []string{"t1", "t2"} {
		c.GetAsync("Tag", id, func(rec Record, err error) {
			assert.NoError(t, err)
			done <- rec
		})
	}
	<-done
	<-done
	assert.Equal(t, 1, ft.CallCount())

	rec, err := c.Get(context.Background(), "Tag", "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.ObjectID())
}

func TestClient_SaveChecksDeclaredFields(t *testing.T) {
	ft := testutil.NewFakeTransport()
	ft.Handle("POST", "classes/Folder", testutil.Reply(map[string]any{"objectId": "f1"}))
	folder := schema.Class{Name: "Folder", ExpireAfter: time.Minute, Fields: []schema.Field{{Name: "name", Kind: schema.KindString}}}

	c, err := New(testConfig(t), WithTransport(ft), WithLogger(quiet), WithClasses(folder))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Save(context.Background(), "Folder", NewRecord().Set("name", 7))
	require.Error(t, err)
	assert.True(t, schema.IsError(err))
	assert.Zero(t, ft.CallCount())

	saved, err := c.Save(context.Background(), "Folder", NewRecord().Set("name", "inbox"))
	require.NoError(t, err)
	assert.Equal(t, "f1", saved.ObjectID())

	cl, ok := c.Class("Folder")
	require.True(t, ok)
	assert.Equal(t, time.Minute, cl.ExpireAfter)
	assert.Equal(t, []string{"Folder", "Note"}, c.Registry().Classes())
}

func TestClient_WritesAndFunctions(t *testing.T) {
	ft := testutil.NewFakeTransport()
	ft.Handle("PUT", "classes/Note/n1", testutil.Reply(map[string]any{"updatedAt": "2024-03-02T00:00:00.000Z"}))
	ft.Handle("DELETE", "classes/Note/n1", testutil.Reply(map[string]any{}))
	ft.Handle("POST", "functions/ping", testutil.Reply(map[string]any{"result": "pong"}))
	ft.Handle("POST", "events/AppOpened", testutil.Reply(map[string]any{}))

	c, err := New(testConfig(t), WithTransport(ft), WithLogger(quiet))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	_, err = c.Update(ctx, "Note", "n1", operation.Increment{Key: "stars", Amount: 1})
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "Note", "n1"))
	got, err := c.Call(ctx, "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", got)
	require.NoError(t, c.TrackAppOpen(ctx))
	assert.Equal(t, 4, ft.CallCount())
}

func TestClient_SchemaDirAndFileBackend(t *testing.T) {
	dir := t.TempDir()
	schemaDir := filepath.Join(dir, "schema")
	require.NoError(t, os.MkdirAll(schemaDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "app.cue"),
		[]byte("package app\n\nclass: Tag: expireAfter: \"5m\"\n"), 0o644))

	cfg := testConfig(t)
	cfg.Cache.Backend = blob.KindBolt
	cfg.Cache.Dir = filepath.Join(dir, "cache")
	cfg.SchemaDir = schemaDir

	c, err := New(cfg, WithTransport(testutil.NewFakeTransport()), WithLogger(quiet))
	require.NoError(t, err)
	assert.Equal(t, []string{"Note", "Tag"}, c.Registry().Classes())
	require.NoError(t, c.Close())

	_, err = os.Stat(filepath.Join(dir, "cache", "cache.db"))
	assert.NoError(t, err)
}

func TestClient_BadSchemaDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.SchemaDir = filepath.Join(t.TempDir(), "missing")

	_, err := New(cfg, WithTransport(testutil.NewFakeTransport()), WithLogger(quiet))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load schema")
}
