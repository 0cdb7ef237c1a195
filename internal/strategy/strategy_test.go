package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/offlinekit/offcache/internal/netx"
	"github.com/offlinekit/offcache/internal/registry"
	"github.com/offlinekit/offcache/internal/store"
	"github.com/offlinekit/offcache/internal/store/memory"
)

// fakeFetcher serves canned responses and counts calls.
type fakeFetcher struct {
	calls   atomic.Int64
	respond func(req *http.Request) (*netx.Response, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, req *http.Request) (*netx.Response, error) {
	f.calls.Add(1)
	return f.respond(req)
}

func response(status int, body string) *netx.Response {
	return netx.NewResponse(&http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	})
}

func fallbackEntry(*http.Request) store.Entry {
	return store.Entry{Status: http.StatusServiceUnavailable, Body: []byte("fallback")}
}

func newCache(t *testing.T) registry.Cache {
	t.Helper()
	r, err := registry.New(memory.New(), "app", "v1")
	if err != nil {
		t.Fatalf("registry.New returned error: %v", err)
	}
	return r.Static()
}

func TestCacheFirstHitSkipsNetwork(t *testing.T) {
	t.Parallel()

	cache := newCache(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/static/css/app.css", nil)
	seed := store.Entry{Status: 200, Body: []byte("cached bytes")}
	if err := cache.Put(ctx, store.Key(req), seed); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	fetcher := &fakeFetcher{respond: func(*http.Request) (*netx.Response, error) {
		return response(200, "network bytes"), nil
	}}
	e := New(fetcher, nil, nil)

	out := e.CacheFirst(ctx, req, cache, fallbackEntry)
	if out.Source != SourceCache {
		t.Errorf("source = %q, want %q", out.Source, SourceCache)
	}
	if string(out.Entry.Body) != "cached bytes" {
		t.Errorf("body = %q, want cached bytes", out.Entry.Body)
	}
	if n := fetcher.calls.Load(); n != 0 {
		t.Errorf("network calls = %d, want 0", n)
	}
}

func TestCacheFirstMissFetchesAndStores(t *testing.T) {
	t.Parallel()

	cache := newCache(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/static/js/app.js", nil)

	fetcher := &fakeFetcher{respond: func(*http.Request) (*netx.Response, error) {
		return response(200, "fresh"), nil
	}}
	e := New(fetcher, nil, nil)

	out := e.CacheFirst(ctx, req, cache, fallbackEntry)
	if out.Source != SourceNetwork {
		t.Errorf("source = %q, want %q", out.Source, SourceNetwork)
	}
	if string(out.Entry.Body) != "fresh" {
		t.Errorf("body = %q, want fresh", out.Entry.Body)
	}

	stored, ok, err := cache.Get(ctx, store.Key(req))
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v, want stored entry", ok, err)
	}
	if string(stored.Body) != "fresh" {
		t.Errorf("stored body = %q, want fresh", stored.Body)
	}
	if stored.StoredAt.IsZero() {
		t.Error("stored entry has zero StoredAt")
	}

	second := e.CacheFirst(ctx, req, cache, fallbackEntry)
	if second.Source != SourceCache {
		t.Errorf("second source = %q, want %q", second.Source, SourceCache)
	}
	if n := fetcher.calls.Load(); n != 1 {
		t.Errorf("network calls = %d, want 1", n)
	}
}

func TestCacheFirstErrorStatusNotStored(t *testing.T) {
	t.Parallel()

	cache := newCache(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/static/missing.js", nil)

	fetcher := &fakeFetcher{respond: func(*http.Request) (*netx.Response, error) {
		return response(404, "not found"), nil
	}}
	e := New(fetcher, nil, nil)

	out := e.CacheFirst(ctx, req, cache, fallbackEntry)
	if out.Source != SourceNetwork {
		t.Errorf("source = %q, want %q", out.Source, SourceNetwork)
	}
	if out.Entry.Status != 404 {
		t.Errorf("status = %d, want 404", out.Entry.Status)
	}
	if _, ok, _ := cache.Get(ctx, store.Key(req)); ok {
		t.Error("error status was persisted, want uncached")
	}
}

func TestCacheFirstTransportErrorFallsBack(t *testing.T) {
	t.Parallel()

	cache := newCache(t)
	req := httptest.NewRequest(http.MethodGet, "/static/app.css", nil)

	fetcher := &fakeFetcher{respond: func(*http.Request) (*netx.Response, error) {
		return nil, errors.New("connection refused")
	}}
	e := New(fetcher, nil, nil)

	out := e.CacheFirst(context.Background(), req, cache, fallbackEntry)
	if out.Source != SourceFallback {
		t.Errorf("source = %q, want %q", out.Source, SourceFallback)
	}
	if out.Entry.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", out.Entry.Status)
	}
}

// failingPutStore wraps a store and rejects writes.
type failingPutStore struct {
	store.Store
}

func (f *failingPutStore) Put(context.Context, string, string, store.Entry) error {
	return errors.New("disk full")
}

func TestCacheFirstWriteFailureStillServes(t *testing.T) {
	t.Parallel()

	r, err := registry.New(&failingPutStore{Store: memory.New()}, "app", "v1")
	if err != nil {
		t.Fatalf("registry.New returned error: %v", err)
	}
	cache := r.Static()
	req := httptest.NewRequest(http.MethodGet, "/static/app.css", nil)

	fetcher := &fakeFetcher{respond: func(*http.Request) (*netx.Response, error) {
		return response(200, "survives"), nil
	}}
	e := New(fetcher, nil, nil)

	out := e.CacheFirst(context.Background(), req, cache, fallbackEntry)
	if out.Source != SourceNetwork {
		t.Errorf("source = %q, want %q", out.Source, SourceNetwork)
	}
	if string(out.Entry.Body) != "survives" {
		t.Errorf("body = %q, want survives", out.Entry.Body)
	}
	if got := e.Stats().WriteFailures; got != 1 {
		t.Errorf("WriteFailures = %d, want 1", got)
	}
}

func TestNetworkFirstSuccessStores(t *testing.T) {
	t.Parallel()

	cache := newCache(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)

	fetcher := &fakeFetcher{respond: func(*http.Request) (*netx.Response, error) {
		return response(200, `[{"id":1}]`), nil
	}}
	e := New(fetcher, nil, nil)

	out := e.NetworkFirst(ctx, req, cache, fallbackEntry)
	if out.Source != SourceNetwork {
		t.Errorf("source = %q, want %q", out.Source, SourceNetwork)
	}
	if _, ok, _ := cache.Get(ctx, store.Key(req)); !ok {
		t.Error("successful response was not stored")
	}
}

func TestNetworkFirstServesStaleOnTransportError(t *testing.T) {
	t.Parallel()

	cache := newCache(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	if err := cache.Put(ctx, store.Key(req), store.Entry{Status: 200, Body: []byte("stale data")}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	fetcher := &fakeFetcher{respond: func(*http.Request) (*netx.Response, error) {
		return nil, errors.New("network down")
	}}
	e := New(fetcher, nil, nil)

	out := e.NetworkFirst(ctx, req, cache, fallbackEntry)
	if out.Source != SourceCache {
		t.Errorf("source = %q, want %q", out.Source, SourceCache)
	}
	if !out.Stale {
		t.Error("outcome not marked stale")
	}
	if string(out.Entry.Body) != "stale data" {
		t.Errorf("body = %q, want stale data", out.Entry.Body)
	}
}

func TestNetworkFirstFallsBackWhenNothingCached(t *testing.T) {
	t.Parallel()

	cache := newCache(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)

	fetcher := &fakeFetcher{respond: func(*http.Request) (*netx.Response, error) {
		return nil, errors.New("network down")
	}}
	e := New(fetcher, nil, nil)

	out := e.NetworkFirst(context.Background(), req, cache, fallbackEntry)
	if out.Source != SourceFallback {
		t.Errorf("source = %q, want %q", out.Source, SourceFallback)
	}
	if out.Entry.Status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", out.Entry.Status)
	}
}

func TestNetworkFirstErrorStatusServedUncachedNotStale(t *testing.T) {
	t.Parallel()

	cache := newCache(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients", nil)
	if err := cache.Put(ctx, store.Key(req), store.Entry{Status: 200, Body: []byte("cached")}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	fetcher := &fakeFetcher{respond: func(*http.Request) (*netx.Response, error) {
		return response(500, "server error"), nil
	}}
	e := New(fetcher, nil, nil)

	out := e.NetworkFirst(ctx, req, cache, fallbackEntry)
	if out.Source != SourceNetwork {
		t.Errorf("source = %q, want %q", out.Source, SourceNetwork)
	}
	if out.Entry.Status != 500 {
		t.Errorf("status = %d, want the served 500", out.Entry.Status)
	}

	stored, ok, err := cache.Get(ctx, store.Key(req))
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v, want original entry intact", ok, err)
	}
	if string(stored.Body) != "cached" {
		t.Errorf("stored body = %q, want untouched cached entry", stored.Body)
	}
}

func TestConcurrentFirstFetchLeavesOneEntry(t *testing.T) {
	t.Parallel()

	cache := newCache(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/static/js/vendor.js", nil)

	var (
		mu     sync.Mutex
		served = map[string]bool{}
		serial atomic.Int64
	)
	fetcher := &fakeFetcher{respond: func(*http.Request) (*netx.Response, error) {
		body := fmt.Sprintf("variant-%d", serial.Add(1))
		mu.Lock()
		served[body] = true
		mu.Unlock()
		return response(200, body), nil
	}}
	e := New(fetcher, nil, nil)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := e.CacheFirst(ctx, req, cache, fallbackEntry)
			if out.Source == SourceFallback {
				t.Errorf("unexpected fallback outcome")
			}
		}()
	}
	wg.Wait()

	final, ok, err := cache.Get(ctx, store.Key(req))
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v, want one final entry", ok, err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !served[string(final.Body)] && string(final.Body) != "" {
		t.Errorf("final body %q is not one of the served variants", final.Body)
	}
	if !strings.HasPrefix(string(final.Body), "variant-") {
		t.Errorf("final body %q is corrupted", final.Body)
	}
}

func TestStatsCounters(t *testing.T) {
	t.Parallel()

	cache := newCache(t)
	ctx := context.Background()
	req := httptest.NewRequest(http.MethodGet, "/static/app.css", nil)

	fetcher := &fakeFetcher{respond: func(*http.Request) (*netx.Response, error) {
		return response(200, "x"), nil
	}}
	e := New(fetcher, nil, nil)

	e.CacheFirst(ctx, req, cache, fallbackEntry) // miss + network
	e.CacheFirst(ctx, req, cache, fallbackEntry) // hit

	stats := e.Stats()
	if stats.CacheMisses != 1 {
		t.Errorf("CacheMisses = %d, want 1", stats.CacheMisses)
	}
	if stats.CacheHits != 1 {
		t.Errorf("CacheHits = %d, want 1", stats.CacheHits)
	}
	if stats.NetworkServed != 1 {
		t.Errorf("NetworkServed = %d, want 1", stats.NetworkServed)
	}
}
