// Package sqlite provides a SQLite-backed Store. Entries live in a single
// table keyed by (namespace, key), so namespace eviction is one DELETE and
// the file stays queryable with ordinary tooling.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/offlinekit/offcache/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
  namespace TEXT NOT NULL,
  key       TEXT NOT NULL,
  status    INTEGER NOT NULL,
  header    TEXT NOT NULL,
  body      BLOB NOT NULL,
  stored_at INTEGER NOT NULL,
  PRIMARY KEY (namespace, key)
);
CREATE INDEX IF NOT EXISTS entries_namespace ON entries (namespace);
`

// Store persists entries in a SQLite database file.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// Open opens a SQLite store at path and bootstraps its schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: bootstrap schema: %w", err)
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
		e         store.Entry
		headerRaw []byte
		storedAt  int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, header, body, stored_at FROM entries WHERE namespace = ? AND key = ?`,
		namespace, key,
	).Scan(&e.Status, &headerRaw, &e.Body, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, fmt.Errorf("sqlite: get %s/%s: %w", namespace, key, err)
	}
	e.Header = http.Header{}
	if err := json.Unmarshal(headerRaw, &e.Header); err != nil {
		return store.Entry{}, false, fmt.Errorf("sqlite: decode header %s/%s: %w", namespace, key, err)
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
		return fmt.Errorf("sqlite: encode header %s/%s: %w", namespace, key, err)
	}
	body := e.Body
	if body == nil {
		body = []byte{}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entries (namespace, key, status, header, body, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET
		   status = excluded.status,
		   header = excluded.header,
		   body = excluded.body,
		   stored_at = excluded.stored_at`,
		namespace, key, e.Status, headerRaw, body, e.StoredAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: put %s/%s: %w", namespace, key, err)
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

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE namespace = ? AND key = ?`, namespace, key)
	if err != nil {
		return fmt.Errorf("sqlite: delete %s/%s: %w", namespace, key, err)
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

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM entries WHERE namespace = ?`, namespace)
	if err != nil {
		return fmt.Errorf("sqlite: delete namespace %s: %w", namespace, err)
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

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT namespace FROM entries ORDER BY namespace`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list namespaces: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlite: scan namespace: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate namespaces: %w", err)
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
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE namespace = ?`, namespace).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", namespace, err)
	}
	return n, nil
}

// Close closes the database handle.
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
