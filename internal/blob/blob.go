// Package blob provides the key-value blob stores backing the local cache.
//
// A blob is addressed by a namespace (one per record class, of the form
// "<appId>/<className>") and a key (an objectId or the index name). Every
// blob carries the time it was last written; the cache derives freshness
// from it.
package blob

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by Read when no blob exists under the key.
var ErrNotFound = errors.New("blob not found")

// Store is the contract every backend implements.
//
// Implementations must be safe for concurrent use. Delete of a missing
// blob is not an error.
type Store interface {
	Read(namespace, key string) ([]byte, time.Time, error)
	Write(namespace, key string, data []byte) error
	Delete(namespace, key string) error
	Close() error
}

// Clock returns the current time. Backends that record their own write
// times (everything except the file store) use it.
type Clock func() time.Time

// Option configures a backend.
type Option func(*options)

type options struct {
	now Clock
}

// WithClock overrides the write-time source. Used by tests.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.now = c
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Namespace builds the per-class namespace.
func Namespace(appID, className string) string {
	if appID == "" {
		return className
	}
	return appID + "/" + className
}

// Kind names a backend.
type Kind string

// Supported backends.
const (
	KindFile   Kind = "file"
	KindBolt   Kind = "bolt"
	KindSQLite Kind = "sqlite"
	KindMemory Kind = "memory"
)

// Kinds lists the supported backends.
var Kinds = []Kind{KindFile, KindBolt, KindSQLite, KindMemory}

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(string(k), s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown cache backend %q: must be one of %v", s, Kinds)
}

// Open opens a backend. path is a directory for the file store and a
// database file for bolt and sqlite; it is ignored for memory.
func Open(kind Kind, path string, opts ...Option) (Store, error) {
	switch kind {
	case KindFile:
		return NewFileStore(path)
	case KindBolt:
		return OpenBolt(path, opts...)
	case KindSQLite:
		return OpenSQLite(path, opts...)
	case KindMemory:
		return NewMemStore(opts...), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", kind)
	}
}
