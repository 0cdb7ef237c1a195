// Package file provides a Store backed by plain files: one JSON document
// per entry inside per-namespace directories, sharded by key digest. The
// cache stays inspectable with nothing but ls and cat, at the cost of one
// file per cached response.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/offlinekit/offcache/internal/store"
)

const (
	dirPerm  = 0o750
	filePerm = 0o600
)

// Store persists entries under a root directory.
type Store struct {
	root string

	mu     sync.RWMutex
	closed bool
}

// Open creates the root directory if needed and returns the store.
func Open(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("file: root directory is required")
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, fmt.Errorf("file: create root %s: %w", root, err)
	}
	return &Store{root: root}, nil
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

// record is the on-disk document. The original key rides along so cache
// directories stay debuggable without reversing the digest.
type record struct {
	Key   string      `json:"key"`
	Entry store.Entry `json:"entry"`
}

func (s *Store) namespaceDir(namespace string) string {
	return filepath.Join(s.root, url.PathEscape(namespace))
}

func (s *Store) entryPath(namespace, key string) string {
	digest := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(digest[:16])
	return filepath.Join(s.namespaceDir(namespace), name[:2], name+".json")
}

// Get fetches the entry stored under namespace and key.
func (s *Store) Get(ctx context.Context, namespace, key string) (store.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return store.Entry{}, false, err
	}

	data, err := os.ReadFile(s.entryPath(namespace, key))
	if errors.Is(err, fs.ErrNotExist) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, fmt.Errorf("file: read entry %s/%s: %w", namespace, key, err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return store.Entry{}, false, fmt.Errorf("file: decode entry %s/%s: %w", namespace, key, err)
	}
	return rec.Entry, true, nil
}

// Put writes the entry, creating namespace and shard directories on first
// use. The write lands in a temp file first; the rename keeps concurrent
// same-key writers from interleaving partial documents.
func (s *Store) Put(ctx context.Context, namespace, key string, e store.Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(record{Key: key, Entry: e})
	if err != nil {
		return fmt.Errorf("file: encode entry %s/%s: %w", namespace, key, err)
	}

	path := s.entryPath(namespace, key)
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return fmt.Errorf("file: create shard for %s: %w", namespace, err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("file: write entry %s/%s: %w", namespace, key, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "put-*.tmp")
	if err != nil {
		return err
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(tmp.Name())
		if werr != nil {
			return werr
		}
		return cerr
	}
	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}

// Delete removes an entry. Absent keys are ignored.
func (s *Store) Delete(ctx context.Context, namespace, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return err
	}

	err := os.Remove(s.entryPath(namespace, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("file: delete entry %s/%s: %w", namespace, key, err)
	}
	return nil
}

// DeleteNamespace removes a namespace directory and everything in it.
func (s *Store) DeleteNamespace(ctx context.Context, namespace string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return err
	}

	if err := os.RemoveAll(s.namespaceDir(namespace)); err != nil {
		return fmt.Errorf("file: delete namespace %s: %w", namespace, err)
	}
	return nil
}

// Namespaces lists namespaces holding at least one entry, sorted.
func (s *Store) Namespaces(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return nil, err
	}

	dirs, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("file: list namespaces: %w", err)
	}

	names := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if !dir.IsDir() {
			continue
		}
		name, err := url.PathUnescape(dir.Name())
		if err != nil {
			continue
		}
		count, err := s.countDir(filepath.Join(s.root, dir.Name()))
		if err != nil {
			return nil, err
		}
		if count > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the number of entries in a namespace.
func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.guard(ctx); err != nil {
		return 0, err
	}

	count, err := s.countDir(s.namespaceDir(namespace))
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) countDir(dir string) (int, error) {
	shards, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("file: list shards in %s: %w", dir, err)
	}

	count := 0
	for _, shard := range shards {
		if !shard.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(dir, shard.Name()))
		if err != nil {
			return 0, fmt.Errorf("file: list entries in %s: %w", shard.Name(), err)
		}
		for _, f := range files {
			if strings.HasSuffix(f.Name(), ".json") {
				count++
			}
		}
	}
	return count, nil
}

// Close marks the store closed. Further operations return store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ensure Store implements the store interfaces.
var (
	_ store.Store   = (*Store)(nil)
	_ store.Counter = (*Store)(nil)
)
