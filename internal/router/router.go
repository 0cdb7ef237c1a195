// Package router classifies intercepted requests and dispatches each one
// to a strategy policy against a specific namespace. Classification is
// pure; every request maps to exactly one policy invocation.
package router

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/offlinekit/offcache/internal/fallback"
	"github.com/offlinekit/offcache/internal/logging"
	"github.com/offlinekit/offcache/internal/netx"
	"github.com/offlinekit/offcache/internal/registry"
	"github.com/offlinekit/offcache/internal/strategy"
)

// Class is the routing decision for one request.
type Class string

const (
	// ClassBypass marks non-GET requests that skip caching entirely.
	ClassBypass Class = "bypass"
	// ClassHealthCheck marks the exact health path, always live.
	ClassHealthCheck Class = "health"
	// ClassAPICall marks API-prefixed paths, network-first.
	ClassAPICall Class = "api"
	// ClassStaticAsset marks manifest members and static-prefixed paths,
	// cache-first.
	ClassStaticAsset Class = "static"
	// ClassHTMLNavigation marks document navigations, network-first.
	ClassHTMLNavigation Class = "navigation"
	// ClassOther covers remaining GET traffic, cache-first.
	ClassOther Class = "other"
)

// Membership answers whether a path belongs to the precache manifest.
type Membership interface {
	Contains(path string) bool
}

// Routes holds the path rules classification evaluates, first match wins.
type Routes struct {
	HealthPath   string
	APIPrefix    string
	StaticPrefix string
	Manifest     Membership
}

// Classify decides the route class for a request. It inspects only the
// method, path, and Accept header; it never touches cache or network.
// A missing Accept header never classifies as a navigation.
func Classify(req *http.Request, routes Routes) Class {
	if req.Method != http.MethodGet {
		return ClassBypass
	}
	path := req.URL.Path
	if routes.HealthPath != "" && path == routes.HealthPath {
		return ClassHealthCheck
	}
	if routes.APIPrefix != "" && strings.HasPrefix(path, routes.APIPrefix) {
		return ClassAPICall
	}
	if routes.Manifest != nil && routes.Manifest.Contains(path) {
		return ClassStaticAsset
	}
	if routes.StaticPrefix != "" && strings.HasPrefix(path, routes.StaticPrefix) {
		return ClassStaticAsset
	}
	if strings.Contains(req.Header.Get("Accept"), "text/html") {
		return ClassHTMLNavigation
	}
	return ClassOther
}

// Result pairs the outcome with the class that produced it.
type Result struct {
	Outcome strategy.Outcome
	Class   Class
}

// Router dispatches classified requests. Fields are injected by the
// caller; Logger may be nil.
type Router struct {
	Routes   Routes
	Engine   *strategy.Engine
	Registry *registry.Registry
	Fetcher  netx.Fetcher
	Fallback *fallback.Generator
	Logger   logging.Logger
}

// Handle resolves one request to a result. Only health checks and bypassed
// methods may return an error (a failed live fetch); every cached class
// terminates in a valid outcome.
func (r *Router) Handle(ctx context.Context, req *http.Request) (*Result, error) {
	logger := r.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	class := Classify(req, r.Routes)
	logger.Debug("request classified", "method", req.Method, "path", req.URL.Path, "class", string(class))

	switch class {
	case ClassBypass, ClassHealthCheck:
		return r.passThrough(ctx, req, class)
	case ClassAPICall:
		out := r.Engine.NetworkFirst(ctx, req, r.Registry.API(), r.Fallback.Response)
		return &Result{Outcome: out, Class: class}, nil
	case ClassStaticAsset:
		out := r.Engine.CacheFirst(ctx, req, r.Registry.Static(), r.Fallback.Response)
		return &Result{Outcome: out, Class: class}, nil
	case ClassHTMLNavigation:
		out := r.Engine.NetworkFirst(ctx, req, r.Registry.Dynamic(), r.Fallback.Response)
		return &Result{Outcome: out, Class: class}, nil
	default:
		out := r.Engine.CacheFirst(ctx, req, r.Registry.Dynamic(), r.Fallback.Response)
		return &Result{Outcome: out, Class: class}, nil
	}
}

// passThrough fetches live with no cache interaction and no fallback
// synthesis. Transport failures surface to the caller.
func (r *Router) passThrough(ctx context.Context, req *http.Request, class Class) (*Result, error) {
	res, err := r.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("router: %s fetch: %w", class, err)
	}
	entry, err := res.Entry()
	if err != nil {
		return nil, fmt.Errorf("router: %s read: %w", class, err)
	}
	return &Result{
		Outcome: strategy.Outcome{Entry: entry, Source: strategy.SourceNetwork},
		Class:   class,
	}, nil
}
