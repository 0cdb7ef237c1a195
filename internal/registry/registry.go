// Package registry governs cache namespace naming and lifecycle. Every
// namespace is <prefix>-<version>-<purpose>; the prefix isolates the
// product, the version ties entries to one deployed release, and the
// purpose separates precached assets from runtime caches. Version bumps
// retire old namespaces wholesale instead of evicting entry by entry.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/offlinekit/offcache/internal/store"
)

// Purpose names the role a namespace plays within one version.
type Purpose string

const (
	// PurposeStatic holds precached assets from the install manifest.
	PurposeStatic Purpose = "static"
	// PurposeDynamic holds pages and documents cached at runtime.
	PurposeDynamic Purpose = "dynamic"
	// PurposeAPI holds API responses cached for offline reads.
	PurposeAPI Purpose = "api"
)

// Valid reports whether p is one of the known purposes.
func (p Purpose) Valid() bool {
	switch p {
	case PurposeStatic, PurposeDynamic, PurposeAPI:
		return true
	}
	return false
}

// Namespace is a parsed cache namespace name.
type Namespace struct {
	Prefix  string
	Version string
	Purpose Purpose
}

// Name renders the canonical <prefix>-<version>-<purpose> form.
func (n Namespace) Name() string {
	return n.Prefix + "-" + n.Version + "-" + string(n.Purpose)
}

// ParseError reports a namespace name that does not follow the
// <prefix>-<version>-<purpose> convention.
type ParseError struct {
	Name   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("namespace %q: %s", e.Name, e.Reason)
}

// Parse splits a namespace name from the right: the purpose is the final
// hyphen segment and the version the one before it, so prefixes may
// themselves contain hyphens. Versions may not.
func Parse(name string) (Namespace, error) {
	rest, purpose, ok := cutLast(name, "-")
	if !ok {
		return Namespace{}, &ParseError{Name: name, Reason: "missing purpose segment"}
	}
	p := Purpose(purpose)
	if !p.Valid() {
		return Namespace{}, &ParseError{Name: name, Reason: fmt.Sprintf("unknown purpose %q", purpose)}
	}
	prefix, version, ok := cutLast(rest, "-")
	if !ok || prefix == "" || version == "" {
		return Namespace{}, &ParseError{Name: name, Reason: "missing prefix or version segment"}
	}
	return Namespace{Prefix: prefix, Version: version, Purpose: p}, nil
}

func cutLast(s, sep string) (before, after string, found bool) {
	i := strings.LastIndex(s, sep)
	if i < 0 {
		return s, "", false
	}
	return s[:i], s[i+len(sep):], true
}

// Cache is a handle binding one namespace to the underlying store.
type Cache struct {
	store store.Store
	name  string
}

// Name returns the bound namespace name.
func (c Cache) Name() string { return c.name }

// Get fetches the entry stored under key in the bound namespace.
func (c Cache) Get(ctx context.Context, key string) (store.Entry, bool, error) {
	return c.store.Get(ctx, c.name, key)
}

// Put stores the entry under key in the bound namespace.
func (c Cache) Put(ctx context.Context, key string, e store.Entry) error {
	return c.store.Put(ctx, c.name, key, e)
}

// Delete removes the entry under key in the bound namespace.
func (c Cache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, c.name, key)
}

// Registry derives the current version's namespaces and finds stale ones.
type Registry struct {
	store   store.Store
	prefix  string
	version string
}

// New binds a registry to a store, product prefix, and release version.
// The version must not contain hyphens so names stay parseable.
func New(s store.Store, prefix, version string) (*Registry, error) {
	if s == nil {
		return nil, fmt.Errorf("registry: store is required")
	}
	if strings.TrimSpace(prefix) == "" {
		return nil, fmt.Errorf("registry: prefix is required")
	}
	if strings.TrimSpace(version) == "" {
		return nil, fmt.Errorf("registry: version is required")
	}
	if strings.Contains(version, "-") {
		return nil, fmt.Errorf("registry: version %q must not contain hyphens", version)
	}
	return &Registry{store: s, prefix: prefix, version: version}, nil
}

// Prefix returns the product prefix.
func (r *Registry) Prefix() string { return r.prefix }

// Version returns the bound release version.
func (r *Registry) Version() string { return r.version }

// Store exposes the underlying store for callers that need raw access.
func (r *Registry) Store() store.Store { return r.store }

func (r *Registry) cache(p Purpose) Cache {
	n := Namespace{Prefix: r.prefix, Version: r.version, Purpose: p}
	return Cache{store: r.store, name: n.Name()}
}

// Static returns the precache namespace handle for the bound version.
func (r *Registry) Static() Cache { return r.cache(PurposeStatic) }

// Dynamic returns the runtime page namespace handle.
func (r *Registry) Dynamic() Cache { return r.cache(PurposeDynamic) }

// API returns the API response namespace handle.
func (r *Registry) API() Cache { return r.cache(PurposeAPI) }

// Current lists the namespace names the bound version owns.
func (r *Registry) Current() []string {
	return []string{
		r.Static().Name(),
		r.Dynamic().Name(),
		r.API().Name(),
	}
}

// Stale lists namespaces in the store that belong to this product but to a
// different version. Names that do not parse, or that carry another
// product's prefix, are never reported.
func (r *Registry) Stale(ctx context.Context) ([]string, error) {
	names, err := r.store.Namespaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: list namespaces: %w", err)
	}
	var stale []string
	for _, name := range names {
		ns, err := Parse(name)
		if err != nil {
			continue
		}
		if ns.Prefix != r.prefix || ns.Version == r.version {
			continue
		}
		stale = append(stale, name)
	}
	return stale, nil
}
