// Package fallback synthesizes responses for requests that neither cache
// nor network could satisfy. Every response is built from static local
// data at construction time, so synthesis at request time cannot fail and
// cannot recurse into another failure path.
package fallback

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"html/template"
	"net/http"
	"strings"

	"github.com/offlinekit/offcache/internal/store"
)

//go:embed offline.html
var offlinePageTemplate string

// Category selects which synthetic payload a failed request receives.
type Category string

const (
	// CategoryHTML marks document navigations that get the offline page.
	CategoryHTML Category = "html"
	// CategoryAPI marks API calls that get a structured JSON error.
	CategoryAPI Category = "api"
	// CategoryOther covers everything else with a plain text body.
	CategoryOther Category = "other"
)

// CategoryFor classifies a failed request. The API prefix wins over Accept
// sniffing; a missing Accept header is never treated as HTML. A nil request
// or URL classifies as other.
func CategoryFor(req *http.Request, apiPrefix string) Category {
	if req == nil || req.URL == nil {
		return CategoryOther
	}
	if apiPrefix != "" && strings.HasPrefix(req.URL.Path, apiPrefix) {
		return CategoryAPI
	}
	if strings.Contains(req.Header.Get("Accept"), "text/html") {
		return CategoryHTML
	}
	return CategoryOther
}

type apiEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Generator produces offline responses. All payloads are rendered once in
// New; Response only assembles headers around the prebuilt bodies.
type Generator struct {
	apiPrefix string
	htmlBody  []byte
	apiBody   []byte
	textBody  []byte
}

// New builds a generator for the given application name and API prefix.
// The name appears on the offline page shown for failed navigations.
func New(appName, apiPrefix string) *Generator {
	if strings.TrimSpace(appName) == "" {
		appName = "This application"
	}

	var page bytes.Buffer
	tmpl := template.Must(template.New("offline").Parse(offlinePageTemplate))
	if err := tmpl.Execute(&page, struct{ AppName string }{AppName: appName}); err != nil {
		page.Reset()
		page.WriteString("<!doctype html><title>Offline</title><h1>You are offline</h1>")
	}

	apiBody, err := json.Marshal(apiEnvelope{
		Error:   "offline",
		Message: "The network is unreachable and this response is not cached. Reconnect and retry.",
	})
	if err != nil {
		apiBody = []byte(`{"error":"offline","message":"service offline"}`)
	}

	return &Generator{
		apiPrefix: apiPrefix,
		htmlBody:  page.Bytes(),
		apiBody:   apiBody,
		textBody:  []byte("Offline"),
	}
}

// Response synthesizes the offline payload for a failed request. The result
// always carries status 503 and is never persisted; the HTML variant adds
// Cache-Control: no-store so intermediaries cannot hold it either.
func (g *Generator) Response(req *http.Request) store.Entry {
	switch CategoryFor(req, g.apiPrefix) {
	case CategoryHTML:
		return store.Entry{
			Status: http.StatusServiceUnavailable,
			Header: http.Header{
				"Content-Type":  {"text/html; charset=utf-8"},
				"Cache-Control": {"no-store"},
			},
			Body: append([]byte(nil), g.htmlBody...),
		}
	case CategoryAPI:
		return store.Entry{
			Status: http.StatusServiceUnavailable,
			Header: http.Header{
				"Content-Type": {"application/json"},
			},
			Body: append([]byte(nil), g.apiBody...),
		}
	default:
		return store.Entry{
			Status: http.StatusServiceUnavailable,
			Header: http.Header{
				"Content-Type": {"text/plain; charset=utf-8"},
			},
			Body: append([]byte(nil), g.textBody...),
		}
	}
}
