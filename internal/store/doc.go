// Package store defines the response store used by the caching layer.
//
// A Store maps canonicalized request keys to stored response payloads,
// grouped into named cache namespaces. Backends live in subpackages
// (memory, file, bolt, sqlite, redis, postgres) and all satisfy the same
// contract: atomic per-key operations, namespace-scoped deletion, and
// namespace enumeration for stale-cache cleanup.
//
// Usage:
//
//	s := memory.New()
//	err := s.Put(ctx, "app-v3-static", store.Key(req), entry)
//	e, ok, err := s.Get(ctx, "app-v3-static", store.Key(req))
package store
