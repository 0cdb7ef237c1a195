// Package channel accepts external commands and background events. The
// message protocol is deliberately forgiving: unknown or malformed
// payloads are ignored without error so old and new clients can coexist.
package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/offlinekit/offcache/internal/logging"
	"github.com/offlinekit/offcache/internal/netx"
	"github.com/offlinekit/offcache/internal/registry"
	"github.com/offlinekit/offcache/internal/store"
)

// Message types understood by the channel.
const (
	TypeSkipWaiting = "SKIP_WAITING"
	TypeCacheURLs   = "CACHE_URLS"
)

// Message is a decoded command.
type Message struct {
	Type string   `json:"type"`
	URLs []string `json:"urls,omitempty"`
}

// Decode parses a command payload. It reports false for malformed JSON and
// for unknown types; callers ignore those silently.
func Decode(data []byte) (Message, bool) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, false
	}
	switch m.Type {
	case TypeSkipWaiting, TypeCacheURLs:
		return m, true
	}
	return Message{}, false
}

// Activator forces a waiting worker to activate immediately.
type Activator interface {
	SkipWaiting()
}

// Notification is the payload shown for a push event.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Notifier surfaces notifications to the user and focuses the application
// window on notification clicks.
type Notifier interface {
	Notify(n Notification)
	FocusWindow()
}

// Handler executes channel commands. Cache is the namespace CACHE_URLS
// warms; DefaultTitle labels notifications with no usable payload.
// Activator, Notifier, and Logger may be nil; Clock defaults to time.Now.
type Handler struct {
	Activator    Activator
	Cache        registry.Cache
	Fetcher      netx.Fetcher
	Notifier     Notifier
	Logger       logging.Logger
	Clock        func() time.Time
	DefaultTitle string
}

func (h *Handler) logger() logging.Logger {
	if h.Logger == nil {
		return logging.NewNopLogger()
	}
	return h.Logger
}

func (h *Handler) now() time.Time {
	if h.Clock == nil {
		return time.Now()
	}
	return h.Clock()
}

// HandleMessage decodes and dispatches one command payload. Unknown and
// malformed payloads are dropped after a debug log.
func (h *Handler) HandleMessage(ctx context.Context, data []byte) {
	m, ok := Decode(data)
	if !ok {
		h.logger().Debug("message ignored", "bytes", len(data))
		return
	}
	switch m.Type {
	case TypeSkipWaiting:
		h.SkipWaiting()
	case TypeCacheURLs:
		h.CacheURLs(ctx, m.URLs)
	}
}

// SkipWaiting forwards the force-activate command.
func (h *Handler) SkipWaiting() {
	if h.Activator == nil {
		h.logger().Debug("skip waiting ignored, no activator bound")
		return
	}
	h.logger().Info("skip waiting requested")
	h.Activator.SkipWaiting()
}

// CacheURLs opportunistically fetches and stores the given URLs. Only
// success responses are written; each failure is logged and skipped so one
// bad URL never blocks the rest. The number of cached entries is returned.
func (h *Handler) CacheURLs(ctx context.Context, urls []string) int {
	logger := h.logger()
	cached := 0
	for _, raw := range urls {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		if err != nil {
			logger.Warn("cache url skipped", "url", raw, "error", err)
			continue
		}
		res, err := h.Fetcher.Fetch(ctx, req)
		if err != nil {
			logger.Warn("cache url fetch failed", "url", raw, "error", err)
			continue
		}
		if !res.Success() {
			logger.Warn("cache url rejected", "url", raw, "status", res.StatusCode())
			_ = res.Discard()
			continue
		}
		entry, err := res.Entry()
		if err != nil {
			logger.Warn("cache url read failed", "url", raw, "error", err)
			continue
		}
		entry.StoredAt = h.now()
		key := store.KeyForURL(req.URL)
		if err := h.Cache.Put(ctx, key, entry); err != nil {
			logger.Warn("cache url write failed", "url", raw, "error", err)
			continue
		}
		cached++
		logger.Debug("url cached", "url", raw, "namespace", h.Cache.Name())
	}
	logger.Info("cache urls handled", "requested", len(urls), "cached", cached)
	return cached
}

// Sync acknowledges a background sync tag. No retried work is performed;
// the hook only records that the tag fired.
func (h *Handler) Sync(_ context.Context, tag string) {
	h.logger().Info("sync event", "tag", tag)
}

// Push decodes an optional payload into a notification and hands it to the
// notifier. A payload that is not JSON becomes the notification body; an
// empty payload falls back to defaults entirely.
func (h *Handler) Push(_ context.Context, payload []byte) {
	n := Notification{Title: h.DefaultTitle, Body: "You have a new notification."}
	if len(payload) > 0 {
		var decoded Notification
		if err := json.Unmarshal(payload, &decoded); err == nil && (decoded.Title != "" || decoded.Body != "") {
			if decoded.Title != "" {
				n.Title = decoded.Title
			}
			if decoded.Body != "" {
				n.Body = decoded.Body
			}
		} else {
			n.Body = string(payload)
		}
	}
	if h.Notifier == nil {
		h.logger().Debug("push dropped, no notifier bound", "title", n.Title)
		return
	}
	h.logger().Info("push notification", "title", n.Title)
	h.Notifier.Notify(n)
}

// NotificationClick focuses the application window.
func (h *Handler) NotificationClick() {
	if h.Notifier == nil {
		h.logger().Debug("notification click dropped, no notifier bound")
		return
	}
	h.Notifier.FocusWindow()
}
