// Package postgres provides a PostgreSQL-backed Store using a pgx pool.
// It suits fleets of sidecars sharing one durable cache behind a managed
// database. Entries live in an offcache_entries table keyed by
// (namespace, key) with upsert writes, so concurrent writers settle on
// whichever row version lands last.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/offlinekit/offcache/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS offcache_entries (
  namespace TEXT NOT NULL,
  key       TEXT NOT NULL,
  status    INTEGER NOT NULL,
  header    JSONB NOT NULL,
  body      BYTEA NOT NULL,
  stored_at BIGINT NOT NULL,
  PRIMARY KEY (namespace, key)
)`

// Store persists entries in PostgreSQL.
type Store struct {
	mu     sync.RWMutex
	pool   *pgxpool.Pool
	closed bool
}

// Open connects to the database named by dsn and bootstraps the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: bootstrap schema: %w", err)
	}
	return &Store{pool: pool}, nil
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
		e         store.Entry
		headerRaw []byte
		storedAt  int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT status, header, body, stored_at FROM offcache_entries WHERE namespace = $1 AND key = $2`,
		namespace, key,
	).Scan(&e.Status, &headerRaw, &e.Body, &storedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, fmt.Errorf("postgres: get %s/%s: %w", namespace, key, err)
	}
	e.Header = http.Header{}
	if err := json.Unmarshal(headerRaw, &e.Header); err != nil {
		return store.Entry{}, false, fmt.Errorf("postgres: decode header %s/%s: %w", namespace, key, err)
	}
	e.StoredAt = time.UnixMilli(storedAt).UTC()
	return e, true, nil
}

// Put stores the entry under namespace and key, replacing any previous row.
func (s *Store) Put(ctx context.Context, namespace, key string, e store.Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return err
	}

	headerRaw, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("postgres: encode header %s/%s: %w", namespace, key, err)
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO offcache_entries (namespace, key, status, header, body, stored_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (namespace, key) DO UPDATE SET
		   status = EXCLUDED.status,
		   header = EXCLUDED.header,
		   body = EXCLUDED.body,
		   stored_at = EXCLUDED.stored_at`,
		namespace, key, e.Status, headerRaw, body, e.StoredAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("postgres: put %s/%s: %w", namespace, key, err)
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

	_, err := s.pool.Exec(ctx,
		`DELETE FROM offcache_entries WHERE namespace = $1 AND key = $2`, namespace, key)
	if err != nil {
		return fmt.Errorf("postgres: delete %s/%s: %w", namespace, key, err)
	}
	return nil
}

// DeleteNamespace removes every entry in the namespace.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx,
		`DELETE FROM offcache_entries WHERE namespace = $1`, namespace)
	if err != nil {
		return fmt.Errorf("postgres: delete namespace %s: %w", namespace, err)
	}
	return nil
}

// Namespaces lists distinct namespaces holding at least one entry, sorted.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT namespace FROM offcache_entries ORDER BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list namespaces: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("postgres: scan namespace: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate namespaces: %w", err)
	}
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
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM offcache_entries WHERE namespace = $1`, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count %s: %w", namespace, err)
	}
	return n, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.pool.Close()
	return nil
}

var (
	_ store.Store   = (*Store)(nil)
	_ store.Counter = (*Store)(nil)
)
