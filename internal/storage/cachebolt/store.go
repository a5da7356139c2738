// Package cachebolt is a BoltDB-backed implementation of overlay.Cache.
// Delivered payloads are appended per category in arrival order.
package cachebolt

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"wisp/internal/overlay"
)

const defaultTO = 2 * time.Second

type Store struct {
	db *bolt.DB
}

// Open opens (or creates) a BoltDB database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultTO})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// AddData appends a payload under category. Keys are big-endian arrival
// nanos plus a per-bucket sequence so iteration order matches arrival order.
func (s *Store) AddData(category overlay.Category, payload []byte) error {
	if category == "" {
		return errors.New("empty category")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(category))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(entryKey(time.Now().UnixNano(), seq), payload)
	})
}

// Recent returns up to n payloads from a category, newest first.
func (s *Store) Recent(category overlay.Category, n int) ([][]byte, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([][]byte, 0, n)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(category))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			out = append(out, append([]byte(nil), v...))
		}
		return nil
	})
	return out, err
}

// Count returns the number of entries in a category.
func (s *Store) Count(category overlay.Category) (int, error) {
	var out int
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(category))
		if b == nil {
			return nil
		}
		out = b.Stats().KeyN
		return nil
	})
	return out, err
}

func entryKey(ts int64, seq uint64) []byte {
	// big-endian timestamp then sequence for correct ordering
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], uint64(ts))
	binary.BigEndian.PutUint64(b[8:], seq)
	return b
}

// Compile-time check that Store satisfies the interface.
var _ overlay.Cache = (*Store)(nil)
