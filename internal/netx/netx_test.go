package netx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func liveResponse(status int, body string) *Response {
	return NewResponse(&http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	})
}

func TestEntryConsumesOnce(t *testing.T) {
	t.Parallel()

	r := liveResponse(200, "payload")
	e, err := r.Entry()
	if err != nil {
		t.Fatalf("Entry returned error: %v", err)
	}
	if e.Status != 200 || string(e.Body) != "payload" {
		t.Errorf("Entry = status %d body %q, want 200 %q", e.Status, e.Body, "payload")
	}

	if _, err := r.Entry(); !errors.Is(err, ErrSpent) {
		t.Errorf("second Entry error = %v, want ErrSpent", err)
	}
}

func TestDuplicateReturnsIndependentEntries(t *testing.T) {
	t.Parallel()

	r := liveResponse(200, "shared")
	a, b, err := r.Duplicate()
	if err != nil {
		t.Fatalf("Duplicate returned error: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Fatalf("duplicates differ (-a +b):\n%s", diff)
	}

	a.Body[0] = 'X'
	a.Header.Set("Content-Type", "mutated")
	if string(b.Body) != "shared" {
		t.Errorf("second entry body = %q, want %q after mutating the first", b.Body, "shared")
	}
	if b.Header.Get("Content-Type") != "text/plain" {
		t.Errorf("second entry header mutated: %q", b.Header.Get("Content-Type"))
	}

	if _, _, err := r.Duplicate(); !errors.Is(err, ErrSpent) {
		t.Errorf("second Duplicate error = %v, want ErrSpent", err)
	}
}

func TestDiscardSpendsResponse(t *testing.T) {
	t.Parallel()

	r := liveResponse(404, "not found")
	if err := r.Discard(); err != nil {
		t.Fatalf("Discard returned error: %v", err)
	}
	if err := r.Discard(); !errors.Is(err, ErrSpent) {
		t.Errorf("second Discard error = %v, want ErrSpent", err)
	}
	if _, err := r.Entry(); !errors.Is(err, ErrSpent) {
		t.Errorf("Entry after Discard error = %v, want ErrSpent", err)
	}
}

func TestSuccess(t *testing.T) {
	t.Parallel()

	if !liveResponse(204, "").Success() {
		t.Error("204 reported as failure")
	}
	if liveResponse(301, "").Success() {
		t.Error("301 reported as success")
	}
	if liveResponse(503, "").Success() {
		t.Error("503 reported as success")
	}
}

func TestNewOriginFetcherValidation(t *testing.T) {
	t.Parallel()

	for _, origin := range []string{"", "   ", "not-a-url", "/relative/path"} {
		if _, err := NewOriginFetcher(origin, nil); err == nil {
			t.Errorf("NewOriginFetcher(%q) succeeded, want error", origin)
		}
	}
}

func TestFetchResolvesRelativeAgainstOrigin(t *testing.T) {
	t.Parallel()

	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "text/css")
		w.Write([]byte("body{}"))
	}))
	defer upstream.Close()

	f, err := NewOriginFetcher(upstream.URL, upstream.Client())
	if err != nil {
		t.Fatalf("NewOriginFetcher returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/static/css/app.css", nil)
	res, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	e, err := res.Entry()
	if err != nil {
		t.Fatalf("Entry returned error: %v", err)
	}
	if gotPath != "/static/css/app.css" {
		t.Errorf("upstream saw path %q, want /static/css/app.css", gotPath)
	}
	if string(e.Body) != "body{}" {
		t.Errorf("body = %q, want %q", e.Body, "body{}")
	}
}

func TestFetchPassesAbsoluteURLs(t *testing.T) {
	t.Parallel()

	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("font-data"))
	}))
	defer cdn.Close()

	f, err := NewOriginFetcher("http://origin.invalid", cdn.Client())
	if err != nil {
		t.Fatalf("NewOriginFetcher returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, cdn.URL+"/inter.css", nil)
	res, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	e, err := res.Entry()
	if err != nil {
		t.Fatalf("Entry returned error: %v", err)
	}
	if string(e.Body) != "font-data" {
		t.Errorf("body = %q, want %q", e.Body, "font-data")
	}
}

func TestFetchStripsHopHeaders(t *testing.T) {
	t.Parallel()

	var sawConnection, sawKeepAlive string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawConnection = r.Header.Get("Proxy-Connection")
		sawKeepAlive = r.Header.Get("Keep-Alive")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f, err := NewOriginFetcher(upstream.URL, upstream.Client())
	if err != nil {
		t.Fatalf("NewOriginFetcher returned error: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Proxy-Connection", "keep-alive")
	req.Header.Set("Keep-Alive", "timeout=5")
	req.Header.Set("X-Custom", "kept")

	res, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	_ = res.Discard()

	if sawConnection != "" {
		t.Errorf("upstream saw Proxy-Connection = %q, want stripped", sawConnection)
	}
	if sawKeepAlive != "" {
		t.Errorf("upstream saw Keep-Alive = %q, want stripped", sawKeepAlive)
	}
}

func TestFetchTransportError(t *testing.T) {
	t.Parallel()

	f, err := NewOriginFetcher("http://127.0.0.1:1", &http.Client{})
	if err != nil {
		t.Fatalf("NewOriginFetcher returned error: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if _, err := f.Fetch(context.Background(), req); err == nil {
		t.Error("expected transport error for unreachable origin")
	}
}

func TestFetchCancelledContext(t *testing.T) {
	t.Parallel()

	f, err := NewOriginFetcher("http://origin.invalid", nil)
	if err != nil {
		t.Fatalf("NewOriginFetcher returned error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if _, err := f.Fetch(ctx, req); !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch error = %v, want context.Canceled", err)
	}
}
