// Package localstore is the per-class on-disk snapshot used to answer
// queries without the network.
//
// Each class owns an index blob (IndexKey, a JSON list of objectIds) and one
// blob per object. The index and every object blob carry their own write
// time and expire independently once older than the class TTL.
package localstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/parsekit/internal/blob"
	"github.com/roach88/parsekit/internal/record"
)

// IndexKey is the blob key of a class's objectId list.
const IndexKey = ".list"

// DefaultPersistConcurrency bounds parallel blob writes during population.
const DefaultPersistConcurrency = 8

// FetchFunc retrieves every record of a class from the network.
type FetchFunc func(ctx context.Context) ([]record.Record, error)

// Store is the local snapshot of one record class.
//
// Thread-safety model:
//   - ListIDs, Get: read blobs directly, safe from any goroutine
//   - Records: served from an immutable in-memory snapshot swapped
//     atomically; never blocks on a population in flight unless no
//     snapshot has been loaded yet
//   - Persist, Enlist, Remove, PopulateAll: serialized by a write lock
type Store struct {
	className string
	namespace string
	ttl       time.Duration
	blobs     blob.Store
	now       func() time.Time
	logger    *slog.Logger
	parallel  int

	mu       sync.Mutex // serializes writers and lazy snapshot loads
	snap     atomic.Pointer[snapshot]
	populate singleflight.Group
}

// snapshot is one complete, immutable view of the class.
type snapshot struct {
	indexModified time.Time
	ids           []string
	entries       map[string]entry
}

type entry struct {
	rec      record.Record
	modified time.Time
}

// ClassName returns the record class.
func (s *Store) ClassName() string { return s.className }

// TTL returns the freshness window.
func (s *Store) TTL() time.Duration { return s.ttl }

// Namespace returns the blob namespace.
func (s *Store) Namespace() string { return s.namespace }

// fresh reports whether a blob written at modified is still usable.
// The boundary instant modified+ttl is still fresh.
func (s *Store) fresh(modified time.Time) (time.Duration, bool) {
	age := s.now().Sub(modified)
	return age, age <= s.ttl
}

func (s *Store) readBlob(key string) ([]byte, error) {
	data, modified, err := s.blobs.Read(s.namespace, key)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, &CacheError{Code: ErrCodeNotFound, Class: s.className, Key: key}
	}
	if err != nil {
		return nil, &CacheError{Code: ErrCodeNotFound, Class: s.className, Key: key, Err: err}
	}
	if age, ok := s.fresh(modified); !ok {
		return nil, &CacheError{Code: ErrCodeExpired, Class: s.className, Key: key, Age: age}
	}
	return data, nil
}

// ListIDs reads the index.
func (s *Store) ListIDs() ([]string, error) {
	data, err := s.readBlob(IndexKey)
	if err != nil {
		return nil, err
	}
	return decodeIndex(s.className, data)
}

func decodeIndex(className string, data []byte) ([]string, error) {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, &CacheError{Code: ErrCodeWrongFormat, Class: className, Key: IndexKey, Err: err}
	}
	return ids, nil
}

// Get reads one object blob, independently of the index.
func (s *Store) Get(id string) (record.Record, error) {
	data, err := s.readBlob(id)
	if err != nil {
		return record.Record{}, err
	}
	return s.decodeRecord(id, data)
}

func (s *Store) decodeRecord(id string, data []byte) (record.Record, error) {
	rec, err := record.Parse(data)
	if err != nil {
		return record.Record{}, &CacheError{Code: ErrCodeWrongFormat, Class: s.className, Key: id, Err: err}
	}
	if rec.ObjectID() != id {
		return record.Record{}, &CacheError{
			Code:  ErrCodeWrongFormat,
			Class: s.className,
			Key:   id,
			Err:   fmt.Errorf("blob holds objectId %q", rec.ObjectID()),
		}
	}
	return rec, nil
}

// Persist writes one object blob. With enlist the id is appended to the
// index if missing.
func (s *Store) Persist(rec record.Record, enlist bool) error {
	id := rec.ObjectID()
	if id == "" {
		return fmt.Errorf("persist %s: record has no objectId", s.className)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("persist %s/%s: encode: %w", s.className, id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.blobs.Write(s.namespace, id, data); err != nil {
		return fmt.Errorf("persist %s/%s: %w", s.className, id, err)
	}
	written := s.now()

	// Entry first, so an enlist below sees a complete snapshot.
	if old := s.snap.Load(); old != nil {
		next := old.clone()
		next.entries[id] = entry{rec: rec, modified: written}
		s.swap(next)
	}

	if enlist {
		if _, err := s.enlistLocked([]string{id}, false); err != nil {
			return err
		}
	}

	s.logger.Debug("persisted record", "class", s.className, "id", id, "enlist", enlist)
	return nil
}

// Enlist writes the index. With replace the index becomes exactly ids;
// otherwise ids are merged in (never removed). Duplicates are dropped.
func (s *Store) Enlist(ids []string, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.enlistLocked(ids, replace)
	return err
}

func (s *Store) enlistLocked(ids []string, replace bool) ([]string, error) {
	var keys []string
	if !replace {
		existing, err := s.ListIDs()
		switch {
		case err == nil:
			keys = existing
		case IsNotFound(err):
			// first entry
		default:
			// An expired or corrupt index must not be extended: that
			// would refresh its timestamp without refreshing its contents.
			s.logger.Debug("index not extended", "class", s.className, "error", err)
			return nil, nil
		}
	}

	seen := make(map[string]bool, len(keys)+len(ids))
	merged := make([]string, 0, len(keys)+len(ids))
	for _, id := range slices.Concat(keys, ids) {
		if !seen[id] {
			seen[id] = true
			merged = append(merged, id)
		}
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("enlist %s: encode: %w", s.className, err)
	}
	if err := s.blobs.Write(s.namespace, IndexKey, data); err != nil {
		return nil, fmt.Errorf("enlist %s: %w", s.className, err)
	}

	if old := s.snap.Load(); old != nil {
		next := old.clone()
		next.ids = merged
		next.indexModified = s.now()
		if next.complete() {
			s.swap(next)
		} else {
			s.swap(nil)
		}
	}

	s.logger.Debug("index written", "class", s.className, "count", len(merged), "replace", replace)
	return merged, nil
}

// Remove deletes an object blob and drops its id from the index.
// Used when the server reports the object deleted.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.blobs.Delete(s.namespace, id); err != nil {
		return fmt.Errorf("remove %s/%s: %w", s.className, id, err)
	}

	ids, err := s.ListIDs()
	switch {
	case err == nil:
		if i := slices.Index(ids, id); i >= 0 {
			ids = slices.Delete(ids, i, i+1)
			if _, err := s.enlistLocked(ids, true); err != nil {
				return err
			}
		}
	case IsNotFound(err):
	default:
		// Leave an expired or corrupt index alone; the next population
		// rewrites it anyway.
		s.logger.Debug("remove: index not updated", "class", s.className, "id", id, "error", err)
	}

	if old := s.snap.Load(); old != nil {
		next := old.clone()
		delete(next.entries, id)
		next.ids = slices.DeleteFunc(next.ids, func(x string) bool { return x == id })
		s.swap(next)
	}
	return nil
}

// Evict deletes the object blob but keeps its id in the index, so local
// reads of the class fail over to the network until the object is fetched
// or the class is populated again.
func (s *Store) Evict(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.blobs.Delete(s.namespace, id); err != nil {
		return fmt.Errorf("evict %s/%s: %w", s.className, id, err)
	}
	if old := s.snap.Load(); old != nil {
		next := old.clone()
		delete(next.entries, id)
		s.swap(next)
	}
	return nil
}

// Invalidate drops the in-memory snapshot. Blobs are untouched.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.swap(nil)
}

func (s *Store) swap(next *snapshot) {
	s.snap.Store(next)
}

// Records returns every indexed record in index order.
//
// It fails, without partial results, if the index or any object blob is
// missing, expired or malformed.
func (s *Store) Records() ([]record.Record, error) {
	snap := s.snap.Load()
	if snap == nil {
		var err error
		snap, err = s.loadSnapshot()
		if err != nil {
			return nil, err
		}
	}
	return s.serve(snap)
}

func (s *Store) loadSnapshot() (*snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap := s.snap.Load(); snap != nil {
		return snap, nil
	}

	data, indexModified, err := s.blobs.Read(s.namespace, IndexKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, &CacheError{Code: ErrCodeNotFound, Class: s.className, Key: IndexKey}
	}
	if err != nil {
		return nil, &CacheError{Code: ErrCodeNotFound, Class: s.className, Key: IndexKey, Err: err}
	}
	ids, err := decodeIndex(s.className, data)
	if err != nil {
		return nil, err
	}

	snap := &snapshot{indexModified: indexModified, ids: ids, entries: make(map[string]entry, len(ids))}
	for _, id := range ids {
		raw, modified, err := s.blobs.Read(s.namespace, id)
		if errors.Is(err, blob.ErrNotFound) {
			return nil, &CacheError{Code: ErrCodeNotFound, Class: s.className, Key: id}
		}
		if err != nil {
			return nil, &CacheError{Code: ErrCodeNotFound, Class: s.className, Key: id, Err: err}
		}
		rec, err := s.decodeRecord(id, raw)
		if err != nil {
			return nil, err
		}
		snap.entries[id] = entry{rec: rec, modified: modified}
	}

	s.swap(snap)
	s.logger.Debug("snapshot loaded", "class", s.className, "count", len(ids))
	return snap, nil
}

// serve applies freshness to a snapshot at the current time.
func (s *Store) serve(snap *snapshot) ([]record.Record, error) {
	if age, ok := s.fresh(snap.indexModified); !ok {
		return nil, &CacheError{Code: ErrCodeExpired, Class: s.className, Key: IndexKey, Age: age}
	}
	out := make([]record.Record, 0, len(snap.ids))
	for _, id := range snap.ids {
		e, ok := snap.entries[id]
		if !ok {
			return nil, &CacheError{Code: ErrCodeNotFound, Class: s.className, Key: id}
		}
		if age, ok := s.fresh(e.modified); !ok {
			return nil, &CacheError{Code: ErrCodeExpired, Class: s.className, Key: id, Age: age}
		}
		out = append(out, e.rec)
	}
	return out, nil
}

func (snap *snapshot) clone() *snapshot {
	entries := make(map[string]entry, len(snap.entries))
	for k, v := range snap.entries {
		entries[k] = v
	}
	return &snapshot{
		indexModified: snap.indexModified,
		ids:           slices.Clone(snap.ids),
		entries:       entries,
	}
}

// complete reports whether every indexed id has an entry.
func (snap *snapshot) complete() bool {
	for _, id := range snap.ids {
		if _, ok := snap.entries[id]; !ok {
			return false
		}
	}
	return true
}

// PopulateAll replaces the snapshot with a full network fetch.
//
// The fetch runs first and without any lock, so readers keep seeing the
// previous snapshot. If it fails, nothing on disk or in memory changes.
// Blobs are then written with bounded parallelism, the index is replaced,
// and the new snapshot is swapped in. Concurrent callers share one
// in-flight population and its result. The shared population ignores
// cancellation of any single caller; a cancelled caller stops waiting and
// the others still get the result.
func (s *Store) PopulateAll(ctx context.Context, fetch FetchFunc) ([]record.Record, error) {
	ch := s.populate.DoChan("populate", func() (any, error) {
		return s.populateOnce(context.WithoutCancel(ctx), fetch)
	})
	select {
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("joined in-flight population", "class", s.className)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]record.Record), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) populateOnce(ctx context.Context, fetch FetchFunc) ([]record.Record, error) {
	started := s.now()
	s.logger.Info("populating cache", "class", s.className)

	fetched, err := fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("populate %s: %w", s.className, err)
	}

	// Deduplicate by id, keeping the last copy, and encode before touching disk.
	order := make([]string, 0, len(fetched))
	byID := make(map[string]record.Record, len(fetched))
	for _, rec := range fetched {
		id := rec.ObjectID()
		if id == "" {
			continue
		}
		if _, seen := byID[id]; !seen {
			order = append(order, id)
		}
		byID[id] = rec
	}
	encoded := make(map[string][]byte, len(byID))
	for id, rec := range byID {
		data, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("populate %s: encode %s: %w", s.className, id, err)
		}
		encoded[id] = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallel)
	for _, id := range order {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return s.blobs.Write(s.namespace, id, encoded[id])
		})
	}
	if err := g.Wait(); err != nil {
		// Some blobs now hold newer copies; the old index still points at
		// valid objects, so only the memoised snapshot is stale.
		s.swap(nil)
		return nil, fmt.Errorf("populate %s: persist: %w", s.className, err)
	}
	written := s.now()

	if _, err := s.enlistLocked(order, true); err != nil {
		s.swap(nil)
		return nil, fmt.Errorf("populate %s: %w", s.className, err)
	}

	snap := &snapshot{indexModified: written, ids: order, entries: make(map[string]entry, len(order))}
	records := make([]record.Record, len(order))
	for i, id := range order {
		snap.entries[id] = entry{rec: byID[id], modified: written}
		records[i] = byID[id]
	}
	s.swap(snap)

	s.logger.Info("cache populated", "class", s.className, "count", len(order), "elapsed", s.now().Sub(started))
	return records, nil
}

// Report summarises the on-disk state of a class.
type Report struct {
	Class     string
	TTL       time.Duration
	IDs       int
	IndexAge  time.Duration
	IndexOK   bool
	Fresh     int
	Expired   int
	Missing   int
	Malformed int
}

// Inspect walks the index and classifies every object blob.
func (s *Store) Inspect() (Report, error) {
	rep := Report{Class: s.className, TTL: s.ttl}

	data, indexModified, err := s.blobs.Read(s.namespace, IndexKey)
	if errors.Is(err, blob.ErrNotFound) {
		return rep, nil
	}
	if err != nil {
		return rep, fmt.Errorf("inspect %s: %w", s.className, err)
	}
	rep.IndexAge, rep.IndexOK = s.fresh(indexModified)
	ids, err := decodeIndex(s.className, data)
	if err != nil {
		return rep, err
	}
	rep.IDs = len(ids)

	for _, id := range ids {
		_, err := s.Get(id)
		switch {
		case err == nil:
			rep.Fresh++
		case IsExpired(err):
			rep.Expired++
		case IsWrongFormat(err):
			rep.Malformed++
		default:
			rep.Missing++
		}
	}
	return rep, nil
}
