// Package redis provides a Redis-backed Store for deployments where several
// sidecar instances share one cache. Each namespace maps to a Redis hash, so
// namespace eviction is a single DEL and entry operations stay atomic.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/offlinekit/offcache/internal/store"
)

// hashPrefix namespaces every key this package touches inside Redis.
const hashPrefix = "offcache:ns:"

// Store keeps entries in Redis hashes, one hash per cache namespace.
type Store struct {
	mu     sync.RWMutex
	client *redis.Client
	closed bool
}

// Open dials a Redis server and verifies the connection.
func Open(ctx context.Context, addr, password string, db int) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis: addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", addr, err)
	}
	return &Store{client: client}, nil
}

// New wraps an existing client. The caller keeps ownership of its lifecycle
// until Close is called.
func New(client *redis.Client) *Store {
	return &Store{client: client}
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

func hashKey(namespace string) string {
	return hashPrefix + namespace
}

// Get fetches the entry stored under namespace and key.
func (s *Store) Get(ctx context.Context, namespace, key string) (store.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return store.Entry{}, false, err
	}

	payload, err := s.client.HGet(ctx, hashKey(namespace), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, fmt.Errorf("redis: get %s/%s: %w", namespace, key, err)
	}
	var e store.Entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return store.Entry{}, false, fmt.Errorf("redis: decode entry %s/%s: %w", namespace, key, err)
	}
	return e, true, nil
}

// Put stores the entry under namespace and key.
func (s *Store) Put(ctx context.Context, namespace, key string, e store.Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis: encode entry %s/%s: %w", namespace, key, err)
	}
	if err := s.client.HSet(ctx, hashKey(namespace), key, payload).Err(); err != nil {
		return fmt.Errorf("redis: put %s/%s: %w", namespace, key, err)
	}
	return nil
}

// Delete removes the entry under namespace and key if present.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return err
	}

	if err := s.client.HDel(ctx, hashKey(namespace), key).Err(); err != nil {
		return fmt.Errorf("redis: delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// DeleteNamespace drops the namespace hash and every entry in it.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return err
	}

	if err := s.client.Del(ctx, hashKey(namespace)).Err(); err != nil {
		return fmt.Errorf("redis: delete namespace %s: %w", namespace, err)
	}
	return nil
}

// Namespaces scans for namespace hashes and returns their names sorted.
// Redis removes empty hashes automatically, so every match holds entries.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	var (
		names  []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, hashPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: scan namespaces: %w", err)
		}
		for _, k := range keys {
			names = append(names, strings.TrimPrefix(k, hashPrefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
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

	n, err := s.client.HLen(ctx, hashKey(namespace)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: count %s: %w", namespace, err)
	}
	return int(n), nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Counter = (*Store)(nil)
)
