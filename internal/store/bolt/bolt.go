// Package bolt provides a BoltDB-backed Store. Each cache namespace maps
// to one bucket; entries are JSON payloads keyed by canonical request key.
// A single local file makes it the default choice for a sidecar that must
// survive restarts without external services.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/offlinekit/offcache/internal/store"
)

// Store persists entries in a BoltDB file.
type Store struct {
	mu     sync.RWMutex
	db     *bbolt.DB
	closed bool
}

// Open opens or creates the BoltDB file at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("bolt: path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return store.ErrClosed
	}
	return nil
}

// Get fetches the entry stored under namespace and key.
func (s *Store) Get(ctx context.Context, namespace, key string) (store.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return store.Entry{}, false, err
	}

	var (
		e     store.Entry
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		payload := bucket.Get([]byte(key))
		if payload == nil {
			return nil
		}
		if err := json.Unmarshal(payload, &e); err != nil {
			return fmt.Errorf("unmarshal entry %s/%s: %w", namespace, key, err)
		}
		found = true
		return nil
	})
	if err != nil {
		return store.Entry{}, false, err
	}
	return e, found, nil
}

// Put stores the entry under namespace and key, creating the namespace
// bucket on first use.
func (s *Store) Put(ctx context.Context, namespace, key string, e store.Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry %s/%s: %w", namespace, key, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", namespace, err)
		}
		return bucket.Put([]byte(key), payload)
	})
}

// Delete removes the entry under namespace and key if present.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

// DeleteNamespace drops the whole namespace bucket and its entries.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.DeleteBucket([]byte(namespace))
	})
	if err != nil && err != bbolt.ErrBucketNotFound {
		return fmt.Errorf("delete bucket %s: %w", namespace, err)
	}
	return nil
}

// Namespaces lists bucket names holding at least one entry, sorted.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bbolt.Bucket) error {
			if b.Stats().KeyN > 0 {
				names = append(names, string(name))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Count reports how many entries the namespace holds.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return 0, err
	}

	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(namespace))
		if bucket == nil {
			return nil
		}
		n = bucket.Stats().KeyN
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Counter = (*Store)(nil)
)
