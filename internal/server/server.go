// Package server exposes a worker over HTTP as a caching sidecar. GET
// traffic routes through the worker's policies; every other method is
// proxied to the origin untouched. A small control plane under /_offcache/
// carries the message protocol, background events, and introspection.
package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/offlinekit/offcache/internal/logging"
	"github.com/offlinekit/offcache/internal/router"
	"github.com/offlinekit/offcache/internal/worker"
)

const (
	// HeaderSource reports where a proxied response came from.
	HeaderSource = "X-Offcache-Source"
	// HeaderStale marks responses served from cache after a network failure.
	HeaderStale = "X-Offcache-Stale"
	// HeaderClient carries an optional client ID for connection tracking.
	HeaderClient = "X-Offcache-Client"
)

// maxMessageBytes bounds control-plane payload reads.
const maxMessageBytes = 1 << 20

// Server adapts HTTP traffic onto worker events.
type Server struct {
	worker *worker.Worker
	logger logging.Logger
	mux    *http.ServeMux
}

// New builds the HTTP front end for a worker. A nil logger discards output.
func New(w *worker.Worker, logger logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	s := &Server{worker: w, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/_offcache/", s.handleControl)
	mux.HandleFunc("/", s.handleProxy)
	s.mux = mux
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	s.mux.ServeHTTP(rw, req)
}

// handleProxy dispatches one request as a fetch event. GET traffic goes
// through classification and the policies; everything else passes straight
// to the origin. A transport failure that escapes the subsystem (health
// checks, bypassed methods, pre-active passthrough) becomes a 502.
func (s *Server) handleProxy(rw http.ResponseWriter, req *http.Request) {
	if id := req.Header.Get(HeaderClient); id != "" {
		s.worker.Clients().Touch(id)
	}

	res, err := s.worker.Dispatch(req.Context(), worker.Event{Type: worker.EventFetch, Request: req})
	if err != nil {
		s.logger.Warn("proxy fetch failed", "method", req.Method, "path", req.URL.Path, "error", err)
		http.Error(rw, "bad gateway", http.StatusBadGateway)
		return
	}
	s.writeResult(rw, res)
}

func (s *Server) writeResult(rw http.ResponseWriter, res *router.Result) {
	header := rw.Header()
	for key, values := range res.Outcome.Entry.Header {
		for _, value := range values {
			header.Add(key, value)
		}
	}
	header.Set(HeaderSource, string(res.Outcome.Source))
	if res.Outcome.Stale {
		header.Set(HeaderStale, "true")
	}
	rw.WriteHeader(res.Outcome.Entry.Status)
	if _, err := rw.Write(res.Outcome.Entry.Body); err != nil {
		s.logger.Debug("response write failed", "error", err)
	}
}

// handleControl serves the /_offcache/ control plane.
func (s *Server) handleControl(rw http.ResponseWriter, req *http.Request) {
	switch req.URL.Path {
	case "/_offcache/message":
		s.handleMessage(rw, req)
	case "/_offcache/status":
		s.handleStatus(rw, req)
	case "/_offcache/sync":
		s.handleSync(rw, req)
	case "/_offcache/push":
		s.handlePush(rw, req)
	case "/_offcache/notification-click":
		s.handleNotificationClick(rw, req)
	default:
		http.NotFound(rw, req)
	}
}

// handleMessage accepts a command payload. The response is 202 regardless
// of whether the message was understood; ignoring unknown types silently is
// part of the protocol.
func (s *Server) handleMessage(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, maxMessageBytes))
	if err != nil {
		http.Error(rw, "read body", http.StatusBadRequest)
		return
	}
	_, _ = s.worker.Dispatch(req.Context(), worker.Event{Type: worker.EventMessage, Data: data})
	rw.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleStatus(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(s.worker.Stats(req.Context())); err != nil {
		s.logger.Debug("status write failed", "error", err)
	}
}

func (s *Server) handleSync(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tag := req.URL.Query().Get("tag")
	_, _ = s.worker.Dispatch(req.Context(), worker.Event{Type: worker.EventSync, Tag: tag})
	rw.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePush(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, err := io.ReadAll(io.LimitReader(req.Body, maxMessageBytes))
	if err != nil {
		http.Error(rw, "read body", http.StatusBadRequest)
		return
	}
	_, _ = s.worker.Dispatch(req.Context(), worker.Event{Type: worker.EventPush, Data: data})
	rw.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleNotificationClick(rw http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_, _ = s.worker.Dispatch(req.Context(), worker.Event{Type: worker.EventNotificationClick})
	rw.WriteHeader(http.StatusAccepted)
}
