package store

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ErrClosed indicates an operation against a store that has been closed.
var ErrClosed = errors.New("store: closed")

// Entry is a stored response payload: status, headers, and body captured
// from a network response, plus the time it was written.
type Entry struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header"`
	Body     []byte      `json:"body"`
	StoredAt time.Time   `json:"stored_at"`
}

// Success reports whether the entry carries a success status (2xx). Only
// successful responses are ever persisted.
func (e Entry) Success() bool {
	return e.Status >= 200 && e.Status < 300
}

// Clone returns a deep copy of the entry. The copy shares no memory with
// the original, so mutating one never affects the other.
func (e Entry) Clone() Entry {
	clone := Entry{
		Status:   e.Status,
		StoredAt: e.StoredAt,
	}
	if e.Header != nil {
		clone.Header = e.Header.Clone()
	}
	if e.Body != nil {
		clone.Body = append([]byte(nil), e.Body...)
	}
	return clone
}

// Store is a namespaced key-value mapping from canonicalized request keys to
// stored response payloads. Implementations must provide atomic per-key
// Get/Put/Delete semantics and be safe for concurrent use; concurrent writes
// to the same key resolve last-write-wins.
type Store interface {
	// Get returns the entry for key in namespace. The boolean reports
	// whether the key was present; an error indicates a store failure, not
	// a miss.
	Get(ctx context.Context, namespace, key string) (Entry, bool, error)
	// Put writes the entry under key in namespace, creating the namespace
	// if it does not exist yet.
	Put(ctx context.Context, namespace, key string, e Entry) error
	// Delete removes key from namespace. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, namespace, key string) error
	// DeleteNamespace removes a namespace and every entry in it.
	DeleteNamespace(ctx context.Context, namespace string) error
	// Namespaces lists every namespace currently holding at least one entry.
	Namespaces(ctx context.Context) ([]string, error)
	// Close releases underlying resources. Operations after Close return
	// ErrClosed.
	Close() error
}

// Counter reports entry counts per namespace. Persistent stores implement it
// for the status endpoint; it is optional for Store implementations.
type Counter interface {
	Count(ctx context.Context, namespace string) (int, error)
}

// Key canonicalizes a request into a cache key: the request path plus its
// query parameters in sorted order. The method is excluded because only GET
// responses are cached. Incoming proxy requests carry path-only URLs, so
// same-origin traffic keys by path alone; absolute URLs (cross-origin
// manifest assets) keep their host to avoid collisions between origins.
func Key(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	return KeyForURL(r.URL)
}

// KeyForURL canonicalizes a URL the same way Key does for a request.
func KeyForURL(u *url.URL) string {
	var b strings.Builder
	if u.Host != "" {
		b.WriteString(u.Host)
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(canonicalQuery(u.RawQuery))
	}
	return b.String()
}

func canonicalQuery(raw string) string {
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		vs := values[k]
		sort.Strings(vs)
		for _, v := range vs {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}
