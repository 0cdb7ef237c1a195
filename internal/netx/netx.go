// Package netx wraps origin fetches behind a small interface and enforces
// single-consumption ownership of response bodies. A live body can be read
// exactly once; callers that need to both store and return a response must
// duplicate it into two independent entries first.
package netx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/offlinekit/offcache/internal/store"
)

// ErrSpent indicates a response body that has already been consumed.
var ErrSpent = errors.New("netx: response already consumed")

// Fetcher performs one network fetch. Implementations return an error only
// for transport failures; HTTP error statuses come back as responses.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*Response, error)
}

// Response owns a live network response body until one of Entry, Duplicate,
// or Discard consumes it.
type Response struct {
	status int
	header http.Header
	body   io.ReadCloser
	spent  bool
}

// NewResponse takes ownership of an *http.Response.
func NewResponse(res *http.Response) *Response {
	return &Response{
		status: res.StatusCode,
		header: res.Header,
		body:   res.Body,
	}
}

// StatusCode returns the response status without consuming the body.
func (r *Response) StatusCode() int { return r.status }

// Success reports whether the status is in the 2xx range.
func (r *Response) Success() bool { return r.status >= 200 && r.status < 300 }

func (r *Response) consume() ([]byte, error) {
	if r.spent {
		return nil, ErrSpent
	}
	r.spent = true
	defer r.body.Close()
	data, err := io.ReadAll(r.body)
	if err != nil {
		return nil, fmt.Errorf("netx: read body: %w", err)
	}
	return data, nil
}

// Entry consumes the body into a single entry.
func (r *Response) Entry() (store.Entry, error) {
	data, err := r.consume()
	if err != nil {
		return store.Entry{}, err
	}
	return store.Entry{Status: r.status, Header: r.header.Clone(), Body: data}, nil
}

// Duplicate consumes the body once and returns two independent entries,
// one to persist and one to hand back to the caller.
func (r *Response) Duplicate() (store.Entry, store.Entry, error) {
	first, err := r.Entry()
	if err != nil {
		return store.Entry{}, store.Entry{}, err
	}
	return first, first.Clone(), nil
}

// Discard drains and closes the body without keeping it.
func (r *Response) Discard() error {
	if r.spent {
		return ErrSpent
	}
	r.spent = true
	defer r.body.Close()
	if _, err := io.Copy(io.Discard, r.body); err != nil {
		return fmt.Errorf("netx: discard body: %w", err)
	}
	return nil
}

// hopHeaders are connection-scoped and never forwarded (RFC 7230 §6.1).
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// OriginFetcher fetches against a configured origin server. Relative
// request URLs are resolved against the origin; absolute URLs (cross-origin
// manifest assets) pass through unchanged. The injected client's timeout is
// the only network bound applied.
type OriginFetcher struct {
	origin *url.URL
	client *http.Client
}

// NewOriginFetcher parses the origin URL and binds the client. A nil client
// falls back to http.DefaultClient.
func NewOriginFetcher(origin string, client *http.Client) (*OriginFetcher, error) {
	if strings.TrimSpace(origin) == "" {
		return nil, fmt.Errorf("netx: origin is required")
	}
	u, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("netx: parse origin %q: %w", origin, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("netx: origin %q must be an absolute URL", origin)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OriginFetcher{origin: u, client: client}, nil
}

// Fetch issues the request upstream and returns an owned response.
func (f *OriginFetcher) Fetch(ctx context.Context, req *http.Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target := req.URL
	if !target.IsAbs() {
		target = f.origin.ResolveReference(target)
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("netx: build request: %w", err)
	}
	out.Header = req.Header.Clone()
	if out.Header == nil {
		out.Header = http.Header{}
	}
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	res, err := f.client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("netx: fetch %s: %w", target, err)
	}
	for _, h := range hopHeaders {
		res.Header.Del(h)
	}
	return NewResponse(res), nil
}

var _ Fetcher = (*OriginFetcher)(nil)
