package blob

import (
	"bytes"
	"sync"
	"time"
)

// MemStore is an in-process Store. Write times come from its clock, which
// makes it the backend of choice for freshness tests.
type MemStore struct {
	mu   sync.RWMutex
	now  Clock
	data map[string]map[string]memEntry
}

type memEntry struct {
	data     []byte
	modified time.Time
}

// NewMemStore creates an empty store.
func NewMemStore(opts ...Option) *MemStore {
	o := buildOptions(opts)
	return &MemStore{now: o.now, data: make(map[string]map[string]memEntry)}
}

func (s *MemStore) Read(namespace, key string) ([]byte, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[namespace][key]
	if !ok {
		return nil, time.Time{}, ErrNotFound
	}
	return bytes.Clone(e.data), e.modified, nil
}

func (s *MemStore) Write(namespace, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.data[namespace]
	if !ok {
		ns = make(map[string]memEntry)
		s.data[namespace] = ns
	}
	ns[key] = memEntry{data: bytes.Clone(data), modified: s.now()}
	return nil
}

func (s *MemStore) Delete(namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[namespace], key)
	return nil
}

// Touch rewrites a blob's modification time. Used by tests to age entries.
func (s *MemStore) Touch(namespace, key string, modified time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[namespace][key]
	if !ok {
		return false
	}
	e.modified = modified
	s.data[namespace][key] = e
	return true
}

// Len returns the number of blobs in namespace.
func (s *MemStore) Len(namespace string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[namespace])
}

// Close is a no-op.
func (s *MemStore) Close() error {
	return nil
}
