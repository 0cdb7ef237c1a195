// Package strategy implements the two request-handling policies. Both
// resolve every request to a valid outcome: failures route to cache or to
// the fallback delegate, never to the caller as an error.
package strategy

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/offlinekit/offcache/internal/logging"
	"github.com/offlinekit/offcache/internal/netx"
	"github.com/offlinekit/offcache/internal/registry"
	"github.com/offlinekit/offcache/internal/store"
)

// Source names where an outcome's payload came from.
type Source string

const (
	// SourceCache marks payloads served from a namespace.
	SourceCache Source = "cache"
	// SourceNetwork marks payloads served from a live fetch.
	SourceNetwork Source = "network"
	// SourceFallback marks synthesized offline payloads.
	SourceFallback Source = "fallback"
)

// Outcome is the single result every dispatched request produces.
type Outcome struct {
	Entry  store.Entry
	Source Source
	// Stale is set when network-first served a cached entry after the
	// network failed.
	Stale bool
}

// Fallback synthesizes a response for a request nothing else could serve.
// It must not fail.
type Fallback func(*http.Request) store.Entry

// Stats is a point-in-time snapshot of policy counters.
type Stats struct {
	CacheHits      uint64 `json:"cache_hits"`
	CacheMisses    uint64 `json:"cache_misses"`
	NetworkServed  uint64 `json:"network_served"`
	StaleServed    uint64 `json:"stale_served"`
	FallbackServed uint64 `json:"fallback_served"`
	WriteFailures  uint64 `json:"write_failures"`
}

// Engine executes cache-first and network-first policies against namespace
// handles. The zero clock defaults to time.Now; entries are stamped with it
// when written.
type Engine struct {
	fetcher netx.Fetcher
	logger  logging.Logger
	clock   func() time.Time

	cacheHits      atomic.Uint64
	cacheMisses    atomic.Uint64
	networkServed  atomic.Uint64
	staleServed    atomic.Uint64
	fallbackServed atomic.Uint64
	writeFailures  atomic.Uint64
}

// New constructs an engine. A nil logger discards output; a nil clock uses
// time.Now.
func New(fetcher netx.Fetcher, logger logging.Logger, clock func() time.Time) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Engine{fetcher: fetcher, logger: logger, clock: clock}
}

// Stats returns the current counter values.
func (e *Engine) Stats() Stats {
	return Stats{
		CacheHits:      e.cacheHits.Load(),
		CacheMisses:    e.cacheMisses.Load(),
		NetworkServed:  e.networkServed.Load(),
		StaleServed:    e.staleServed.Load(),
		FallbackServed: e.fallbackServed.Load(),
		WriteFailures:  e.writeFailures.Load(),
	}
}

// CacheFirst serves from the namespace when present and only consults the
// network on a miss. Successful fetches are written back; write failures
// are logged and dropped while the response still reaches the caller.
func (e *Engine) CacheFirst(ctx context.Context, req *http.Request, cache registry.Cache, fb Fallback) Outcome {
	key := store.Key(req)

	entry, ok, err := cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("cache read failed", "namespace", cache.Name(), "key", key, "error", err)
	}
	if ok {
		e.cacheHits.Add(1)
		return Outcome{Entry: entry, Source: SourceCache}
	}
	e.cacheMisses.Add(1)

	res, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		e.logger.Debug("network unavailable", "key", key, "error", err)
		e.fallbackServed.Add(1)
		return Outcome{Entry: fb(req), Source: SourceFallback}
	}
	return e.serveNetwork(ctx, req, cache, key, res, fb, nil)
}

// NetworkFirst prefers a live fetch and writes successes back. When the
// network fails it serves the cached entry if one exists, stale or not,
// and synthesizes a fallback otherwise.
func (e *Engine) NetworkFirst(ctx context.Context, req *http.Request, cache registry.Cache, fb Fallback) Outcome {
	key := store.Key(req)

	res, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		e.logger.Debug("network unavailable", "key", key, "error", err)
		return e.serveStale(ctx, req, cache, key, fb)
	}
	return e.serveNetwork(ctx, req, cache, key, res, fb, e.serveStale)
}

type rescue func(context.Context, *http.Request, registry.Cache, string, Fallback) Outcome

// serveNetwork finishes a fetched response: persist and return on success,
// return uncached on an error status, rescue on a broken body. A nil
// rescue falls straight to the fallback delegate.
func (e *Engine) serveNetwork(ctx context.Context, req *http.Request, cache registry.Cache, key string, res *netx.Response, fb Fallback, onBroken rescue) Outcome {
	if onBroken == nil {
		onBroken = func(_ context.Context, req *http.Request, _ registry.Cache, _ string, fb Fallback) Outcome {
			e.fallbackServed.Add(1)
			return Outcome{Entry: fb(req), Source: SourceFallback}
		}
	}

	if !res.Success() {
		entry, err := res.Entry()
		if err != nil {
			e.logger.Warn("response body read failed", "key", key, "error", err)
			return onBroken(ctx, req, cache, key, fb)
		}
		e.networkServed.Add(1)
		return Outcome{Entry: entry, Source: SourceNetwork}
	}

	toStore, toReturn, err := res.Duplicate()
	if err != nil {
		e.logger.Warn("response body read failed", "key", key, "error", err)
		return onBroken(ctx, req, cache, key, fb)
	}
	toStore.StoredAt = e.clock()
	if err := cache.Put(ctx, key, toStore); err != nil {
		e.writeFailures.Add(1)
		e.logger.Error("cache write failed", "namespace", cache.Name(), "key", key, "error", err)
	}
	e.networkServed.Add(1)
	return Outcome{Entry: toReturn, Source: SourceNetwork}
}

// serveStale is the network-failure path: cached entry if present,
// fallback otherwise.
func (e *Engine) serveStale(ctx context.Context, req *http.Request, cache registry.Cache, key string, fb Fallback) Outcome {
	entry, ok, err := cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("cache read failed", "namespace", cache.Name(), "key", key, "error", err)
	}
	if ok {
		e.staleServed.Add(1)
		return Outcome{Entry: entry, Source: SourceCache, Stale: true}
	}
	e.fallbackServed.Add(1)
	return Outcome{Entry: fb(req), Source: SourceFallback}
}
