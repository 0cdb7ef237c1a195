// Package storetest provides a conformance suite shared by every Store
// backend. Each backend's tests call Run with a factory; the suite checks
// the contract the caching layer depends on: atomic per-key operations,
// namespace isolation, enumeration, and last-write-wins under concurrency.
package storetest

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/offlinekit/offcache/internal/store"
)

// Factory opens a fresh, empty store for one subtest. Cleanup is the
// caller's job (t.Cleanup inside the factory).
type Factory func(t *testing.T) store.Store

func entry(status int, body string) store.Entry {
	return store.Entry{
		Status: status,
		Header: http.Header{
			"Content-Type":  {"text/plain; charset=utf-8"},
			"X-Multi-Value": {"a", "b"},
		},
		Body:     []byte(body),
		StoredAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

// Run exercises the full Store contract against the factory's backend.
func Run(t *testing.T, open Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("put and get roundtrip", func(t *testing.T) {
		s := open(t)
		want := entry(200, "hello")
		if err := s.Put(ctx, "app-v1-static", "/index.html", want); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
		got, ok, err := s.Get(ctx, "app-v1-static", "/index.html")
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		if !ok {
			t.Fatal("expected a hit")
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("entry mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("miss on absent key", func(t *testing.T) {
		s := open(t)
		_, ok, err := s.Get(ctx, "app-v1-static", "/missing")
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		if ok {
			t.Error("expected a miss")
		}
	})

	t.Run("overwrite is last write wins", func(t *testing.T) {
		s := open(t)
		if err := s.Put(ctx, "app-v1-api", "/api/v1/patients", entry(200, "one")); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
		if err := s.Put(ctx, "app-v1-api", "/api/v1/patients", entry(200, "two")); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
		got, ok, err := s.Get(ctx, "app-v1-api", "/api/v1/patients")
		if err != nil || !ok {
			t.Fatalf("Get = ok %v, err %v, want hit", ok, err)
		}
		if string(got.Body) != "two" {
			t.Errorf("body = %q, want %q", got.Body, "two")
		}
	})

	t.Run("delete removes entry", func(t *testing.T) {
		s := open(t)
		if err := s.Put(ctx, "app-v1-dynamic", "/page", entry(200, "page")); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
		if err := s.Delete(ctx, "app-v1-dynamic", "/page"); err != nil {
			t.Fatalf("Delete returned error: %v", err)
		}
		_, ok, err := s.Get(ctx, "app-v1-dynamic", "/page")
		if err != nil {
			t.Fatalf("Get returned error: %v", err)
		}
		if ok {
			t.Error("expected entry to be deleted")
		}
	})

	t.Run("delete of absent key is not an error", func(t *testing.T) {
		s := open(t)
		if err := s.Delete(ctx, "app-v1-dynamic", "/never-stored"); err != nil {
			t.Errorf("Delete returned error: %v", err)
		}
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		s := open(t)
		if err := s.Put(ctx, "app-v1-static", "/shared", entry(200, "static copy")); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
		if err := s.Put(ctx, "app-v1-dynamic", "/shared", entry(200, "dynamic copy")); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
		got, ok, err := s.Get(ctx, "app-v1-static", "/shared")
		if err != nil || !ok {
			t.Fatalf("Get = ok %v, err %v, want hit", ok, err)
		}
		if string(got.Body) != "static copy" {
			t.Errorf("body = %q, want %q", got.Body, "static copy")
		}
	})

	t.Run("namespace enumeration", func(t *testing.T) {
		s := open(t)
		for _, ns := range []string{"app-v1-static", "app-v1-dynamic", "app-v2-static"} {
			if err := s.Put(ctx, ns, "/x", entry(200, ns)); err != nil {
				t.Fatalf("Put(%s) returned error: %v", ns, err)
			}
		}
		names, err := s.Namespaces(ctx)
		if err != nil {
			t.Fatalf("Namespaces returned error: %v", err)
		}
		want := []string{"app-v1-dynamic", "app-v1-static", "app-v2-static"}
		if diff := cmp.Diff(want, names); diff != "" {
			t.Errorf("namespaces mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("delete namespace removes only that namespace", func(t *testing.T) {
		s := open(t)
		if err := s.Put(ctx, "app-v1-static", "/a", entry(200, "a")); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
		if err := s.Put(ctx, "app-v2-static", "/a", entry(200, "a2")); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
		if err := s.DeleteNamespace(ctx, "app-v1-static"); err != nil {
			t.Fatalf("DeleteNamespace returned error: %v", err)
		}
		if _, ok, _ := s.Get(ctx, "app-v1-static", "/a"); ok {
			t.Error("expected app-v1-static entry to be gone")
		}
		got, ok, err := s.Get(ctx, "app-v2-static", "/a")
		if err != nil || !ok {
			t.Fatalf("Get = ok %v, err %v, want surviving entry", ok, err)
		}
		if string(got.Body) != "a2" {
			t.Errorf("body = %q, want %q", got.Body, "a2")
		}
	})

	t.Run("binary bodies survive", func(t *testing.T) {
		s := open(t)
		want := entry(200, "")
		want.Body = []byte{0x00, 0xff, 0x10, 0x80, 0x7f}
		want.Header = http.Header{"Content-Type": {"application/octet-stream"}}
		if err := s.Put(ctx, "app-v1-static", "/logo.png", want); err != nil {
			t.Fatalf("Put returned error: %v", err)
		}
		got, ok, err := s.Get(ctx, "app-v1-static", "/logo.png")
		if err != nil || !ok {
			t.Fatalf("Get = ok %v, err %v, want hit", ok, err)
		}
		if diff := cmp.Diff(want.Body, got.Body); diff != "" {
			t.Errorf("body mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("concurrent same-key writers leave one entry", func(t *testing.T) {
		s := open(t)
		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				e := entry(200, "race")
				e.Body = []byte{byte(n)}
				_ = s.Put(ctx, "app-v1-static", "/contested", e)
			}(i)
		}
		wg.Wait()
		got, ok, err := s.Get(ctx, "app-v1-static", "/contested")
		if err != nil || !ok {
			t.Fatalf("Get = ok %v, err %v, want hit", ok, err)
		}
		if len(got.Body) != 1 || got.Body[0] >= writers {
			t.Errorf("body = %v, want a single writer's intact payload", got.Body)
		}
	})

	t.Run("operations after close fail", func(t *testing.T) {
		s := open(t)
		if err := s.Close(); err != nil {
			t.Fatalf("Close returned error: %v", err)
		}
		if err := s.Put(ctx, "app-v1-static", "/x", entry(200, "x")); err == nil {
			t.Error("expected Put after Close to fail")
		}
	})
}
