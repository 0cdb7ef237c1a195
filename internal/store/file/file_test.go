package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/offlinekit/offcache/internal/store"
	"github.com/offlinekit/offcache/internal/store/storetest"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cache"))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return open(t)
	})
}

func TestOpenRequiresRoot(t *testing.T) {
	t.Parallel()

	if _, err := Open("  "); err == nil {
		t.Error("expected Open of blank root to fail")
	}
}

func TestOpenCreatesRoot(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "nested", "cache")
	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer s.Close()

	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("Stat root: %v", err)
	}
	if !info.IsDir() {
		t.Errorf("root %s is not a directory", root)
	}
}

func TestEntriesSurviveReopen(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "cache")
	ctx := context.Background()

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	want := store.Entry{Status: 200, Body: []byte("persisted")}
	if err := s.Put(ctx, "app-v1-static", "/index.html", want); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	reopened, err := Open(root)
	if err != nil {
		t.Fatalf("Open after close returned error: %v", err)
	}
	defer reopened.Close()

	got, ok, err := reopened.Get(ctx, "app-v1-static", "/index.html")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v, want hit after reopen", ok, err)
	}
	if string(got.Body) != "persisted" {
		t.Errorf("body = %q, want %q", got.Body, "persisted")
	}
}

func TestNamespaceDirectoryIsEscaped(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "cache")
	ctx := context.Background()

	s, err := Open(root)
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	defer s.Close()

	namespace := "app/v1-static"
	if err := s.Put(ctx, namespace, "/app.js", store.Entry{Status: 200}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir root: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("root holds %d directories, want 1", len(entries))
	}
	if got := entries[0].Name(); got == namespace {
		t.Errorf("namespace directory %q was not escaped", got)
	}

	names, err := s.Namespaces(ctx)
	if err != nil {
		t.Fatalf("Namespaces returned error: %v", err)
	}
	if len(names) != 1 || names[0] != namespace {
		t.Errorf("Namespaces = %v, want [%q]", names, namespace)
	}
}

func TestDeletedEntriesDropNamespace(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := open(t)

	if err := s.Put(ctx, "app-v1-dynamic", "/reports", store.Entry{Status: 200}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}
	if err := s.Delete(ctx, "app-v1-dynamic", "/reports"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}

	names, err := s.Namespaces(ctx)
	if err != nil {
		t.Fatalf("Namespaces returned error: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("Namespaces = %v, want empty after last entry deleted", names)
	}
}
