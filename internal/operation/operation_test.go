package operation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parsekit/internal/blob"
	"github.com/roach88/parsekit/internal/localstore"
	"github.com/roach88/parsekit/internal/query"
	"github.com/roach88/parsekit/internal/record"
	"github.com/roach88/parsekit/internal/relation"
	"github.com/roach88/parsekit/internal/testutil"
	"github.com/roach88/parsekit/internal/transport"
	"github.com/roach88/parsekit/internal/value"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestCompose(t *testing.T) {
	tag := value.NewPointer("Tag", "t1")
	body := Compose(
		AddUnique{Key: "labels", Objects: Objects("a", "b")},
		Add{Key: "log", Objects: Objects(1.0)},
		Remove{Key: "old", Objects: Objects("x")},
		Increment{Key: "views", Amount: 2},
		SetValue("title", "hello"),
		AddRelation{Key: "tags", To: tag},
		RemoveRelation{Key: "stale", To: tag},
		DeleteColumn{Key: "draft"},
		SetSecurity{OwnerID: "u1"},
	)

	got, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"labels": {"__op": "AddUnique", "objects": ["a", "b"]},
		"log": {"__op": "Add", "objects": [1]},
		"old": {"__op": "Remove", "objects": ["x"]},
		"views": {"__op": "Increment", "amount": 2},
		"title": "hello",
		"tags": {"__op": "AddRelation", "objects": [{"__type": "Pointer", "className": "Tag", "objectId": "t1"}]},
		"stale": {"__op": "RemoveRelation", "objects": [{"__type": "Pointer", "className": "Tag", "objectId": "t1"}]},
		"draft": {"__op": "Delete"},
		"ACL": {"*": {"read": true}, "u1": {"read": true, "write": true}}
	}`, string(got))
}

func TestCompose_LaterOpWins(t *testing.T) {
	body := Compose(SetSecurity{OwnerID: "u1"}, ClearSecurity{}, SetValue("n", 1.0), Increment{Key: "n", Amount: 1})

	got, err := json.Marshal(body)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"ACL": {"*": {"read": true, "write": true}},
		"n": {"__op": "Increment", "amount": 1}
	}`, string(got))
}

type fixture struct {
	ft        *testutil.FakeTransport
	store     *localstore.Store
	relations *relation.Cache
	writer    *Writer
}

func setup(t *testing.T) fixture {
	t.Helper()
	ft := testutil.NewFakeTransport()
	reg := localstore.NewRegistry(blob.NewMemStore(), localstore.WithLogger(quiet))
	s, err := reg.Register("Note", time.Hour)
	require.NoError(t, err)
	engine := query.NewEngine(ft, reg, query.WithLogger(quiet))
	rc := relation.New(engine, relation.WithLogger(quiet))
	return fixture{
		ft:        ft,
		store:     s,
		relations: rc,
		writer:    NewWriter(ft, reg, WithRelations(rc), WithLogger(quiet)),
	}
}

func TestWriter_SaveNew(t *testing.T) {
	f := setup(t)
	f.ft.Handle("POST", "classes/Note", testutil.Reply(map[string]any{
		"objectId":  "n1",
		"createdAt": "2024-03-01T09:00:00.000Z",
	}))
	require.NoError(t, f.store.Enlist([]string{"n0"}, true))

	saved, err := f.writer.Save(context.Background(), "Note", record.New(nil).Set("title", "hi"))
	require.NoError(t, err)
	assert.Equal(t, "n1", saved.ObjectID())
	title, _ := saved.String("title")
	assert.Equal(t, "hi", title)
	assert.False(t, saved.HasPending())

	require.Len(t, f.ft.Calls(), 1)
	assert.Equal(t, map[string]any{"title": "hi"}, f.ft.Calls()[0].Params)

	cached, err := f.store.Get("n1")
	require.NoError(t, err)
	assert.True(t, cached.Equal(saved))
	ids, err := f.store.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"n0", "n1"}, ids)
}

func TestWriter_SaveDoesNotStartAnIndex(t *testing.T) {
	f := setup(t)
	f.ft.Handle("POST", "classes/Note", testutil.Reply(map[string]any{"objectId": "n1"}))

	_, err := f.writer.Save(context.Background(), "Note", record.New(nil).Set("title", "hi"))
	require.NoError(t, err)

	_, err = f.store.Get("n1")
	require.NoError(t, err)
	_, err = f.store.ListIDs()
	assert.True(t, localstore.IsNotFound(err))
}

func TestWriter_SaveExisting(t *testing.T) {
	f := setup(t)
	f.ft.Handle("PUT", "classes/Note/n1", testutil.Reply(map[string]any{"updatedAt": "2024-03-02T00:00:00.000Z"}))

	rec := record.New(map[string]any{"objectId": "n1", "title": "old"}).Set("title", "new")
	saved, err := f.writer.Save(context.Background(), "Note", rec)
	require.NoError(t, err)

	title, _ := saved.String("title")
	assert.Equal(t, "new", title)
	_, ok := saved.UpdatedAt()
	assert.True(t, ok)
	assert.Equal(t, "PUT", f.ft.Calls()[0].Method)
}

func TestWriter_SaveFailure(t *testing.T) {
	f := setup(t)
	f.ft.Handle("POST", "classes/Note", testutil.Fail(&transport.RemoteError{Code: transport.ErrCodeInvalidACL, Message: "nope"}))

	_, err := f.writer.Save(context.Background(), "Note", record.New(nil).Set("title", "hi"))
	require.Error(t, err)
	assert.True(t, transport.HasCode(err, transport.ErrCodeInvalidACL))
	assert.Contains(t, err.Error(), "save Note")
}

func TestWriter_UpdateAppliesToCachedCopy(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.store.Persist(record.New(map[string]any{
		"objectId": "n1", "title": "old", "draft": true, "views": 3.0,
	}), true))
	f.ft.Handle("PUT", "classes/Note/n1", testutil.Reply(map[string]any{
		"updatedAt": "2024-03-02T00:00:00.000Z",
		"views":     4.0,
	}))

	resp, err := f.writer.Update(context.Background(), "Note", "n1",
		SetValue("title", "new"),
		DeleteColumn{Key: "draft"},
		Increment{Key: "views", Amount: 1},
		SetSecurity{OwnerID: "u1"},
	)
	require.NoError(t, err)
	n, _ := resp.Number("views")
	assert.Equal(t, 4.0, n)

	cached, err := f.store.Get("n1")
	require.NoError(t, err)
	title, _ := cached.String("title")
	assert.Equal(t, "new", title)
	assert.False(t, cached.Has("draft"))
	views, _ := cached.Number("views")
	assert.Equal(t, 4.0, views, "takes the server's result")
	acl, ok := cached.ACL()
	require.True(t, ok)
	assert.True(t, acl.CanWrite("u1"))
	assert.False(t, acl.CanWrite(value.PublicPrincipal))
	_, ok = cached.UpdatedAt()
	assert.True(t, ok)
}

func TestWriter_UpdateEvictsWhenResultUnknown(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.store.Persist(record.New(map[string]any{
		"objectId": "n1", "labels": []any{"a"}, "views": 3.0,
	}), true))
	f.ft.Handle("PUT", "classes/Note/n1", testutil.Reply(map[string]any{
		"updatedAt": "2024-03-02T00:00:00.000Z",
	}))

	for _, op := range []Op{
		Increment{Key: "views", Amount: 1},
		AddUnique{Key: "labels", Objects: Objects("b")},
	} {
		require.NoError(t, f.store.Persist(record.New(map[string]any{
			"objectId": "n1", "labels": []any{"a"}, "views": 3.0,
		}), false))

		_, err := f.writer.Update(context.Background(), "Note", "n1", op)
		require.NoError(t, err)

		_, err = f.store.Get("n1")
		assert.True(t, localstore.IsNotFound(err), "%T leaves no stale copy", op)
		ids, err := f.store.ListIDs()
		require.NoError(t, err)
		assert.Equal(t, []string{"n1"}, ids, "the id stays indexed")
		_, err = f.store.Records()
		assert.Error(t, err, "local reads fail over to the network")
	}
}

func TestWriter_UpdateWithoutCachedCopy(t *testing.T) {
	f := setup(t)
	f.ft.Handle("PUT", "classes/Note/n1", testutil.Reply(map[string]any{"updatedAt": "2024-03-02T00:00:00.000Z"}))

	_, err := f.writer.Update(context.Background(), "Note", "n1", SetValue("title", "new"))
	require.NoError(t, err)
	_, err = f.store.Get("n1")
	assert.True(t, localstore.IsNotFound(err))
}

func TestWriter_UpdateMirrorsRelations(t *testing.T) {
	f := setup(t)
	f.ft.Handle("GET", "classes/Tag", testutil.Reply(map[string]any{"results": []any{
		map[string]any{"objectId": "t1"},
		map[string]any{"objectId": "t2"},
	}}))
	f.ft.Handle("PUT", "classes/Note/n1", testutil.Reply(map[string]any{"updatedAt": "2024-03-02T00:00:00.000Z"}))
	owner := value.NewPointer("Note", "n1")

	members, err := f.relations.Resolve(context.Background(), "tags", owner, "Tag")
	require.NoError(t, err)

	_, err = f.writer.Update(context.Background(), "Note", "n1",
		AddRelation{Key: "tags", To: value.NewPointer("Tag", "t3")},
	)
	require.NoError(t, err)
	_, err = f.writer.Update(context.Background(), "Note", "n1",
		RemoveRelation{Key: "tags", To: value.NewPointer("Tag", "t1")},
	)
	require.NoError(t, err)

	assert.True(t, members.Contains("t3"))
	assert.False(t, members.Contains("t1"))
	assert.Equal(t, 2, members.Len())

	_, err = f.writer.Update(context.Background(), "Note", "n1",
		AddRelation{Key: "links", To: value.NewPointer("Tag", "t9")},
	)
	require.NoError(t, err)
	_, ok := f.relations.Lookup("links", owner, "Tag")
	assert.False(t, ok, "unloaded relations are left alone")
}

func TestWriter_UpdateFailureLeavesCache(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.store.Persist(record.New(map[string]any{"objectId": "n1", "title": "old"}), true))
	f.ft.Handle("PUT", "classes/Note/n1", testutil.Fail(errors.New("offline")))

	_, err := f.writer.Update(context.Background(), "Note", "n1", SetValue("title", "new"))
	require.Error(t, err)

	cached, err := f.store.Get("n1")
	require.NoError(t, err)
	title, _ := cached.String("title")
	assert.Equal(t, "old", title)
}

func TestWriter_Delete(t *testing.T) {
	f := setup(t)
	require.NoError(t, f.store.Persist(record.New(map[string]any{"objectId": "n1"}), true))
	require.NoError(t, f.store.Persist(record.New(map[string]any{"objectId": "n2"}), true))
	f.ft.Handle("DELETE", "classes/Note/n1", testutil.Reply(map[string]any{}))

	require.NoError(t, f.writer.Delete(context.Background(), "Note", "n1"))

	_, err := f.store.Get("n1")
	assert.True(t, localstore.IsNotFound(err))
	ids, err := f.store.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"n2"}, ids)
}

func TestWriter_DeleteUnregisteredClass(t *testing.T) {
	f := setup(t)
	f.ft.Handle("DELETE", "classes/Tag/t1", testutil.Reply(map[string]any{}))
	require.NoError(t, f.writer.Delete(context.Background(), "Tag", "t1"))
}

func TestWriter_Call(t *testing.T) {
	f := setup(t)
	var sent map[string]any
	f.ft.Handle("POST", "functions/hello", func(params map[string]any) (map[string]any, error) {
		sent = params
		return map[string]any{"result": "hi ada"}, nil
	})

	got, err := f.writer.Call(context.Background(), "hello", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, "hi ada", got)
	assert.Equal(t, map[string]any{"name": "ada"}, sent)
}

func TestWriter_Event(t *testing.T) {
	f := setup(t)
	f.ft.Handle("POST", "events/AppOpened", testutil.Reply(map[string]any{}))
	f.ft.Handle("POST", "events/Search", testutil.Reply(map[string]any{}))

	require.NoError(t, f.writer.Event(context.Background(), "AppOpened", nil))
	require.NoError(t, f.writer.Event(context.Background(), "Search", map[string]string{"term": "go"}))

	calls := f.ft.Calls()
	require.Len(t, calls, 2)
	assert.Empty(t, calls[0].Params)
	assert.Equal(t, map[string]string{"term": "go"}, calls[1].Params["dimensions"])
}
