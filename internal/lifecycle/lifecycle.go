// Package lifecycle drives the install and activate transitions. Install
// precaches the manifest into the current static namespace all or nothing;
// activate evicts namespaces left behind by earlier versions and claims
// connected clients. A failed install never disturbs the previously active
// version's caches.
package lifecycle

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/offlinekit/offcache/internal/logging"
	"github.com/offlinekit/offcache/internal/manifest"
	"github.com/offlinekit/offcache/internal/netx"
	"github.com/offlinekit/offcache/internal/registry"
	"github.com/offlinekit/offcache/internal/store"
)

// InstallError reports the asset that aborted an install.
type InstallError struct {
	Asset string
	Err   error
}

// Error implements the error interface.
func (e InstallError) Error() string {
	return fmt.Sprintf("install asset %q: %v", e.Asset, e.Err)
}

// Unwrap returns the underlying error.
func (e InstallError) Unwrap() error { return e.Err }

// Claimer stamps connected clients onto the newly activated version.
type Claimer interface {
	Claim() int
}

// Controller runs lifecycle transitions against injected collaborators.
// Claimer and Logger may be nil; Clock defaults to time.Now.
type Controller struct {
	Registry *registry.Registry
	Fetcher  netx.Fetcher
	Manifest manifest.Manifest
	Claimer  Claimer
	Logger   logging.Logger
	Clock    func() time.Time
}

func (c *Controller) logger() logging.Logger {
	if c.Logger == nil {
		return logging.NewNopLogger()
	}
	return c.Logger
}

func (c *Controller) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock()
}

// Install resolves the manifest and precaches every asset into the static
// namespace. All assets are fetched and buffered before anything is
// written, so a failure part way through leaves no partial cache; a write
// failure rolls the namespace back. The resolved asset set is returned for
// routing membership checks.
func (c *Controller) Install(ctx context.Context) (*manifest.Resolved, error) {
	logger := c.logger()

	resolved, err := c.Manifest.Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve manifest: %w", err)
	}

	type buffered struct {
		key   string
		entry store.Entry
	}
	entries := make([]buffered, 0, resolved.Len())

	for _, asset := range resolved.Assets() {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset, nil)
		if err != nil {
			return nil, InstallError{Asset: asset, Err: err}
		}
		res, err := c.Fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, InstallError{Asset: asset, Err: err}
		}
		if !res.Success() {
			status := res.StatusCode()
			_ = res.Discard()
			return nil, InstallError{Asset: asset, Err: fmt.Errorf("status %d", status)}
		}
		entry, err := res.Entry()
		if err != nil {
			return nil, InstallError{Asset: asset, Err: err}
		}
		entry.StoredAt = c.now()
		entries = append(entries, buffered{key: store.KeyForURL(req.URL), entry: entry})
		logger.Debug("asset fetched", "asset", asset)
	}

	static := c.Registry.Static()
	for _, b := range entries {
		if err := static.Put(ctx, b.key, b.entry); err != nil {
			logger.Error("precache write failed", "namespace", static.Name(), "key", b.key, "error", err)
			if derr := c.Registry.Store().DeleteNamespace(ctx, static.Name()); derr != nil {
				logger.Warn("precache rollback failed", "namespace", static.Name(), "error", derr)
			}
			return nil, fmt.Errorf("precache write %q: %w", b.key, err)
		}
	}

	logger.Info("install complete", "namespace", static.Name(), "assets", len(entries))
	return resolved, nil
}

// Activate evicts every stale namespace best effort and claims clients.
// Individual eviction failures are logged and skipped; even a failed
// enumeration only costs the eviction pass, never the activation.
func (c *Controller) Activate(ctx context.Context) error {
	logger := c.logger()

	stale, err := c.Registry.Stale(ctx)
	if err != nil {
		logger.Error("stale namespace enumeration failed", "error", err)
	}

	removed := 0
	for _, ns := range stale {
		if err := c.Registry.Store().DeleteNamespace(ctx, ns); err != nil {
			logger.Warn("stale namespace eviction failed", "namespace", ns, "error", err)
			continue
		}
		removed++
		logger.Debug("stale namespace evicted", "namespace", ns)
	}

	claimed := 0
	if c.Claimer != nil {
		claimed = c.Claimer.Claim()
	}

	logger.Info("activate complete", "version", c.Registry.Version(), "evicted", removed, "claimed", claimed)
	return nil
}
