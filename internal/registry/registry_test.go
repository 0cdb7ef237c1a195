package registry

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/offlinekit/offcache/internal/store"
	"github.com/offlinekit/offcache/internal/store/memory"
)

func TestNamespaceName(t *testing.T) {
	t.Parallel()

	n := Namespace{Prefix: "medconnect", Version: "v2", Purpose: PurposeStatic}
	if got, want := n.Name(), "medconnect-v2-static"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Namespace
		wantErr bool
	}{
		{
			name:  "simple",
			input: "medconnect-v2-static",
			want:  Namespace{Prefix: "medconnect", Version: "v2", Purpose: PurposeStatic},
		},
		{
			name:  "hyphenated prefix",
			input: "med-connect-v2-api",
			want:  Namespace{Prefix: "med-connect", Version: "v2", Purpose: PurposeAPI},
		},
		{
			name:  "dynamic purpose",
			input: "app-3-dynamic",
			want:  Namespace{Prefix: "app", Version: "3", Purpose: PurposeDynamic},
		},
		{
			name:    "unknown purpose",
			input:   "medconnect-v2-images",
			wantErr: true,
		},
		{
			name:    "no hyphens",
			input:   "static",
			wantErr: true,
		},
		{
			name:    "missing prefix",
			input:   "v2-static",
			wantErr: true,
		},
		{
			name:    "empty segments",
			input:   "--static",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) = %+v, want error", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) returned error: %v", tt.input, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestParseRoundtrip(t *testing.T) {
	t.Parallel()

	orig := Namespace{Prefix: "med-connect", Version: "v10", Purpose: PurposeDynamic}
	got, err := Parse(orig.Name())
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if diff := cmp.Diff(orig, got); diff != "" {
		t.Errorf("roundtrip mismatch (-want +got):\n%s", diff)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	s := memory.New()
	tests := []struct {
		name            string
		prefix, version string
	}{
		{"empty prefix", "", "v1"},
		{"empty version", "app", ""},
		{"hyphenated version", "app", "v1-rc2"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(s, tt.prefix, tt.version); err == nil {
				t.Errorf("New(%q, %q) succeeded, want error", tt.prefix, tt.version)
			}
		})
	}
}

func TestCacheHandlesBindNamespaces(t *testing.T) {
	t.Parallel()

	s := memory.New()
	r, err := New(s, "medconnect", "v2")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx := context.Background()

	if err := r.Static().Put(ctx, "/app.js", store.Entry{Status: 200, Body: []byte("js")}); err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	got, ok, err := s.Get(ctx, "medconnect-v2-static", "/app.js")
	if err != nil || !ok {
		t.Fatalf("Get = ok %v, err %v, want entry under static namespace", ok, err)
	}
	if string(got.Body) != "js" {
		t.Errorf("body = %q, want %q", got.Body, "js")
	}

	if _, ok, _ := r.Dynamic().Get(ctx, "/app.js"); ok {
		t.Error("dynamic namespace sees static entry, want isolation")
	}
}

func TestCurrent(t *testing.T) {
	t.Parallel()

	r, err := New(memory.New(), "medconnect", "v2")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	want := []string{"medconnect-v2-static", "medconnect-v2-dynamic", "medconnect-v2-api"}
	if diff := cmp.Diff(want, r.Current()); diff != "" {
		t.Errorf("Current mismatch (-want +got):\n%s", diff)
	}
}

func TestStale(t *testing.T) {
	t.Parallel()

	s := memory.New()
	ctx := context.Background()
	seed := []string{
		"medconnect-v1-static",  // stale
		"medconnect-v1-dynamic", // stale
		"medconnect-v2-static",  // current
		"otherapp-v1-static",    // foreign prefix
		"not-a-namespace",       // unparseable purpose
	}
	for _, ns := range seed {
		if err := s.Put(ctx, ns, "/x", store.Entry{Status: 200}); err != nil {
			t.Fatalf("Put(%s) returned error: %v", ns, err)
		}
	}

	r, err := New(s, "medconnect", "v2")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	got, err := r.Stale(ctx)
	if err != nil {
		t.Fatalf("Stale returned error: %v", err)
	}
	want := []string{"medconnect-v1-dynamic", "medconnect-v1-static"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Stale mismatch (-want +got):\n%s", diff)
	}
}
