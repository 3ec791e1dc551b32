package localstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/parsekit/internal/blob"
	"github.com/roach88/parsekit/internal/record"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, ttl time.Duration) (*Store, *blob.MemStore, *clock) {
	t.Helper()
	c := &clock{t: t0}
	mem := blob.NewMemStore(blob.WithClock(c.Now))
	reg := NewRegistry(mem,
		WithAppID("app"),
		WithClock(c.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s, err := reg.Register("Note", ttl)
	require.NoError(t, err)
	return s, mem, c
}

func note(id string, fields ...any) record.Record {
	m := map[string]any{"objectId": id}
	for i := 0; i+1 < len(fields); i += 2 {
		m[fields[i].(string)] = fields[i+1]
	}
	return record.New(m)
}

func TestStore_Freshness(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		fresh   bool
	}{
		{"before expiry", 59 * time.Second, true},
		{"at expiry", 60 * time.Second, true},
		{"after expiry", 61 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, c := newTestStore(t, time.Minute)
			require.NoError(t, s.Persist(note("n1", "title", "a"), true))

			c.Advance(tt.elapsed)

			_, err := s.Get("n1")
			ids, listErr := s.ListIDs()
			recs, recErr := s.Records()
			if tt.fresh {
				require.NoError(t, err)
				require.NoError(t, listErr)
				require.NoError(t, recErr)
				assert.Equal(t, []string{"n1"}, ids)
				assert.Len(t, recs, 1)
			} else {
				assert.True(t, IsExpired(err), "got %v", err)
				assert.True(t, IsExpired(listErr), "got %v", listErr)
				assert.True(t, IsExpired(recErr), "got %v", recErr)
			}
		})
	}
}

func TestStore_IndexAndObjectsExpireIndependently(t *testing.T) {
	s, mem, c := newTestStore(t, time.Minute)
	require.NoError(t, s.Persist(note("n1"), true))

	// Index refreshed, object left stale.
	mem.Touch(s.Namespace(), "n1", t0.Add(-2*time.Minute))
	_, err := s.ListIDs()
	require.NoError(t, err)
	_, err = s.Get("n1")
	assert.True(t, IsExpired(err))

	// Object refreshed, index left stale.
	c.Advance(2 * time.Minute)
	require.NoError(t, s.Persist(note("n1"), false))
	_, err = s.Get("n1")
	require.NoError(t, err)
	_, err = s.ListIDs()
	assert.True(t, IsExpired(err))
}

func TestStore_Missing(t *testing.T) {
	s, _, _ := newTestStore(t, time.Hour)

	_, err := s.ListIDs()
	assert.True(t, IsNotFound(err))
	_, err = s.Get("nope")
	assert.True(t, IsNotFound(err))
	_, err = s.Records()
	assert.True(t, IsNotFound(err))

	// Index lists an object that was never written.
	require.NoError(t, s.Enlist([]string{"ghost"}, true))
	_, err = s.Records()
	assert.True(t, IsNotFound(err))
}

func TestStore_WrongFormat(t *testing.T) {
	s, mem, _ := newTestStore(t, time.Hour)

	require.NoError(t, mem.Write(s.Namespace(), IndexKey, []byte(`{"not":"a list"}`)))
	_, err := s.ListIDs()
	assert.True(t, IsWrongFormat(err))

	require.NoError(t, mem.Write(s.Namespace(), "n1", []byte(`[1,2]`)))
	_, err = s.Get("n1")
	assert.True(t, IsWrongFormat(err))

	require.NoError(t, mem.Write(s.Namespace(), "n2", []byte(`{"objectId":"other"}`)))
	_, err = s.Get("n2")
	assert.True(t, IsWrongFormat(err))
}

func TestStore_EnlistMergesOrReplaces(t *testing.T) {
	s, _, _ := newTestStore(t, time.Hour)

	require.NoError(t, s.Enlist([]string{"a", "b"}, false))
	require.NoError(t, s.Enlist([]string{"b", "c"}, false))
	ids, err := s.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	require.NoError(t, s.Enlist([]string{"z", "z"}, true))
	ids, err = s.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, ids)
}

func TestStore_EnlistDoesNotExtendExpiredIndex(t *testing.T) {
	s, _, c := newTestStore(t, time.Minute)
	require.NoError(t, s.Enlist([]string{"a"}, false))

	c.Advance(2 * time.Minute)
	require.NoError(t, s.Persist(note("b"), true))

	_, err := s.ListIDs()
	assert.True(t, IsExpired(err), "expired index must stay expired")
}

func TestStore_Remove(t *testing.T) {
	s, _, _ := newTestStore(t, time.Hour)
	require.NoError(t, s.Persist(note("a"), true))
	require.NoError(t, s.Persist(note("b"), true))

	recs, err := s.Records()
	require.NoError(t, err)
	require.Len(t, recs, 2)

	require.NoError(t, s.Remove("a"))
	ids, err := s.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
	_, err = s.Get("a")
	assert.True(t, IsNotFound(err))

	recs, err = s.Records()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, record.IDs(recs))

	require.NoError(t, s.Remove("a"), "remove is idempotent")
}

func TestStore_EvictKeepsIndex(t *testing.T) {
	s, _, _ := newTestStore(t, time.Hour)
	require.NoError(t, s.Persist(note("a"), true))
	require.NoError(t, s.Persist(note("b"), true))
	_, err := s.Records()
	require.NoError(t, err)

	require.NoError(t, s.Evict("a"))
	ids, err := s.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)
	_, err = s.Get("a")
	assert.True(t, IsNotFound(err))

	_, err = s.Records()
	assert.True(t, IsNotFound(err), "an indexed object without a blob fails the local read")

	require.NoError(t, s.Persist(note("a"), false))
	recs, err := s.Records()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, record.IDs(recs))
}

func TestStore_PersistUpdatesSnapshot(t *testing.T) {
	s, _, _ := newTestStore(t, time.Hour)
	require.NoError(t, s.Persist(note("a", "v", 1.0), true))
	_, err := s.Records()
	require.NoError(t, err)

	require.NoError(t, s.Persist(note("a", "v", 2.0), false))
	require.NoError(t, s.Persist(note("b", "v", 3.0), true))

	recs, err := s.Records()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	v, _ := recs[0].Number("v")
	assert.Equal(t, 2.0, v)
	assert.Equal(t, "b", recs[1].ObjectID())
}

func TestStore_PopulateAll(t *testing.T) {
	s, mem, _ := newTestStore(t, time.Hour)

	var all []record.Record
	for i := 0; i < 1250; i++ {
		all = append(all, note(fmt.Sprintf("n%04d", i), "i", float64(i)))
	}
	// Duplicate ids collapse to one entry.
	all = append(all, note("n0000", "i", -1.0))

	got, err := s.PopulateAll(context.Background(), func(context.Context) ([]record.Record, error) {
		return all, nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 1250)

	ids, err := s.ListIDs()
	require.NoError(t, err)
	assert.Len(t, ids, 1250)
	assert.Equal(t, 1251, mem.Len(s.Namespace()), "objects plus index")

	first, err := s.Get("n0000")
	require.NoError(t, err)
	v, _ := first.Number("i")
	assert.Equal(t, -1.0, v)

	recs, err := s.Records()
	require.NoError(t, err)
	assert.Len(t, recs, 1250)
}

func TestStore_PopulateFailureKeepsOldState(t *testing.T) {
	s, _, _ := newTestStore(t, time.Hour)
	require.NoError(t, s.Persist(note("old"), true))
	_, err := s.Records()
	require.NoError(t, err)

	boom := errors.New("network down")
	_, err = s.PopulateAll(context.Background(), func(context.Context) ([]record.Record, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	ids, err := s.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, ids)
	recs, err := s.Records()
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, record.IDs(recs))
}

func TestStore_PopulateReplacesIndex(t *testing.T) {
	s, _, _ := newTestStore(t, time.Hour)
	require.NoError(t, s.Persist(note("gone"), true))

	_, err := s.PopulateAll(context.Background(), func(context.Context) ([]record.Record, error) {
		return []record.Record{note("x"), note("y")}, nil
	})
	require.NoError(t, err)

	ids, err := s.ListIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, ids)
}

func TestStore_PopulateSharesInFlightFetch(t *testing.T) {
	s, _, _ := newTestStore(t, time.Hour)

	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(context.Context) ([]record.Record, error) {
		calls.Add(1)
		<-release
		return []record.Record{note("a")}, nil
	}

	var wg sync.WaitGroup
	results := make([][]record.Record, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.PopulateAll(context.Background(), fetch)
			assert.NoError(t, err)
			results[i] = got
		}()
	}
	// Give the goroutines a chance to join the flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, calls.Load(), int32(4))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
	for _, got := range results {
		assert.Equal(t, []string{"a"}, record.IDs(got))
	}
}

func TestStore_PopulateSurvivesCancelledCaller(t *testing.T) {
	s, _, _ := newTestStore(t, time.Hour)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fetchErrs := make(chan error, 2)
	fetch := func(ctx context.Context) ([]record.Record, error) {
		once.Do(func() { close(started) })
		<-release
		fetchErrs <- ctx.Err()
		return []record.Record{note("a")}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.PopulateAll(ctx, fetch)
		first <- err
	}()
	<-started

	second := make(chan []record.Record, 1)
	go func() {
		got, err := s.PopulateAll(context.Background(), fetch)
		assert.NoError(t, err)
		second <- got
	}()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	// Give the second caller a chance to join the flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	assert.Equal(t, []string{"a"}, record.IDs(<-second))
	assert.NoError(t, <-fetchErrs, "the shared fetch is not cancelled with the first caller")
}

func TestStore_ReadersSeeSnapshotDuringPopulate(t *testing.T) {
	s, _, _ := newTestStore(t, time.Hour)
	require.NoError(t, s.Persist(note("old"), true))
	_, err := s.Records()
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := s.PopulateAll(context.Background(), func(context.Context) ([]record.Record, error) {
			close(started)
			<-release
			return []record.Record{note("new")}, nil
		})
		done <- err
	}()

	<-started
	recs, err := s.Records()
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, record.IDs(recs))

	close(release)
	require.NoError(t, <-done)
	recs, err = s.Records()
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, record.IDs(recs))
}

func TestStore_Inspect(t *testing.T) {
	s, mem, _ := newTestStore(t, time.Minute)
	require.NoError(t, s.Persist(note("a"), true))
	require.NoError(t, s.Persist(note("b"), true))
	require.NoError(t, s.Enlist([]string{"c"}, false))
	require.NoError(t, mem.Write(s.Namespace(), "d", []byte("nope")))
	require.NoError(t, s.Enlist([]string{"d"}, false))
	mem.Touch(s.Namespace(), "b", t0.Add(-time.Hour))

	rep, err := s.Inspect()
	require.NoError(t, err)
	assert.Equal(t, "Note", rep.Class)
	assert.True(t, rep.IndexOK)
	assert.Equal(t, 4, rep.IDs)
	assert.Equal(t, 1, rep.Fresh)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 1, rep.Missing)
	assert.Equal(t, 1, rep.Malformed)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(blob.NewMemStore(), WithAppID("app"))

	_, err := reg.Register("", time.Hour)
	require.Error(t, err)
	_, err = reg.Register("Note", 0)
	require.Error(t, err)

	s, err := reg.Register("Tag", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "app/Tag", s.Namespace())
	_, err = reg.Register("Note", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, []string{"Note", "Tag"}, reg.Classes())
	got, ok := reg.Store("Note")
	require.True(t, ok)
	assert.Equal(t, time.Minute, got.TTL())
	_, ok = reg.Store("Missing")
	assert.False(t, ok)

	reports, err := reg.Inspect()
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestCacheError_Message(t *testing.T) {
	err := &CacheError{Code: ErrCodeExpired, Class: "Note", Key: IndexKey, Age: 90 * time.Second}
	assert.Equal(t, "EXPIRED: Note/.list (age 1m30s)", err.Error())
	wrapped := fmt.Errorf("query: %w", err)
	assert.True(t, IsCacheError(wrapped))
	assert.True(t, IsExpired(wrapped))
	assert.False(t, IsNotFound(wrapped))
}
