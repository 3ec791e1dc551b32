package blob

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

// BoltStore keeps every namespace in its own bbolt bucket. Values are
// msgpack envelopes holding the payload and its write time.
type BoltStore struct {
	db  *bbolt.DB
	now Clock
}

// envelope is the stored value layout.
type envelope struct {
	Modified int64  `msgpack:"m"` // unix nanoseconds
	Data     []byte `msgpack:"d"`
}

// OpenBolt opens or creates the database file at path.
func OpenBolt(path string, opts ...Option) (*BoltStore, error) {
	o := buildOptions(opts)
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	return &BoltStore{db: db, now: o.now}, nil
}

func (s *BoltStore) Read(namespace, key string) ([]byte, time.Time, error) {
	var env envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return ErrNotFound
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return ErrNotFound
		}
		if err := msgpack.Unmarshal(raw, &env); err != nil {
			return err
		}
		// raw is only valid inside the transaction.
		env.Data = bytes.Clone(env.Data)
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("bolt read %s/%s: %w", namespace, key, err)
	}
	return env.Data, time.Unix(0, env.Modified), nil
}

func (s *BoltStore) Write(namespace, key string, data []byte) error {
	raw, err := msgpack.Marshal(envelope{Modified: s.now().UnixNano(), Data: data})
	if err != nil {
		return fmt.Errorf("bolt encode: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return fmt.Errorf("bolt bucket %s: %w", namespace, err)
		}
		return b.Put([]byte(key), raw)
	})
}

func (s *BoltStore) Delete(namespace, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
