// Package memory provides an in-memory Store implementation.
//
// It is the default backend and doubles as the test substitute for the
// persistent backends: no I/O, no external processes, identical contract.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/offlinekit/offcache/internal/store"
)

// Store implements store.Store with an RWMutex-guarded map of namespaces.
type Store struct {
	mu         sync.RWMutex
	closed     bool
	namespaces map[string]map[string]store.Entry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		namespaces: make(map[string]map[string]store.Entry),
	}
}

// Get retrieves an entry. Entries are returned as deep copies so callers
// can mutate them without corrupting the stored value.
func (s *Store) Get(ctx context.Context, namespace, key string) (store.Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return store.Entry{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return store.Entry{}, false, store.ErrClosed
	}
	ns, ok := s.namespaces[namespace]
	if !ok {
		return store.Entry{}, false, nil
	}
	e, ok := ns[key]
	if !ok {
		return store.Entry{}, false, nil
	}
	return e.Clone(), true, nil
}

// Put stores an entry, creating the namespace on first write.
func (s *Store) Put(ctx context.Context, namespace, key string, e store.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	ns, ok := s.namespaces[namespace]
	if !ok {
		ns = make(map[string]store.Entry)
		s.namespaces[namespace] = ns
	}
	ns[key] = e.Clone()
	return nil
}

// Delete removes an entry. Absent keys are ignored.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	if ns, ok := s.namespaces[namespace]; ok {
		delete(ns, key)
	}
	return nil
}

// DeleteNamespace removes a namespace and all of its entries.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	delete(s.namespaces, namespace)
	return nil
}

// Namespaces lists namespaces holding at least one entry, sorted.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	names := make([]string, 0, len(s.namespaces))
	for name, ns := range s.namespaces {
		if len(ns) == 0 {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of entries in a namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, store.ErrClosed
	}
	return len(s.namespaces[namespace]), nil
}

// Close marks the store closed. Further operations return store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.namespaces = nil
	return nil
}

// Ensure Store implements the store interfaces.
var (
	_ store.Store   = (*Store)(nil)
	_ store.Counter = (*Store)(nil)
)
