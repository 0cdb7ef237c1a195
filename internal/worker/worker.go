// Package worker hosts the caching subsystem behind one event-driven
// adapter. A worker owns one version's namespaces and walks the install,
// waiting, activating, active lifecycle; an install failure parks it as
// redundant so the previously active version keeps serving.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/offlinekit/offcache/internal/channel"
	"github.com/offlinekit/offcache/internal/fallback"
	"github.com/offlinekit/offcache/internal/lifecycle"
	"github.com/offlinekit/offcache/internal/logging"
	"github.com/offlinekit/offcache/internal/manifest"
	"github.com/offlinekit/offcache/internal/netx"
	"github.com/offlinekit/offcache/internal/registry"
	"github.com/offlinekit/offcache/internal/router"
	"github.com/offlinekit/offcache/internal/store"
	"github.com/offlinekit/offcache/internal/strategy"
)

// State is a worker lifecycle phase.
type State string

const (
	// StateInstalling covers construction through the end of install.
	StateInstalling State = "installing"
	// StateWaiting means install succeeded and the worker is parked until
	// a skip-waiting command arrives.
	StateWaiting State = "waiting"
	// StateActivating means stale namespace eviction is in progress.
	StateActivating State = "activating"
	// StateActive means fetch events route through the subsystem.
	StateActive State = "active"
	// StateRedundant means install failed and the worker will never serve.
	StateRedundant State = "redundant"
)

// EventType identifies a host-dispatched event.
type EventType int

const (
	// EventInstall precaches the manifest into the static namespace.
	EventInstall EventType = iota
	// EventActivate evicts stale namespaces and claims clients.
	EventActivate
	// EventFetch routes one request.
	EventFetch
	// EventMessage carries an external command payload.
	EventMessage
	// EventSync fires a background sync tag.
	EventSync
	// EventPush carries a push notification payload.
	EventPush
	// EventNotificationClick reports a clicked notification.
	EventNotificationClick
)

func (t EventType) String() string {
	switch t {
	case EventInstall:
		return "install"
	case EventActivate:
		return "activate"
	case EventFetch:
		return "fetch"
	case EventMessage:
		return "message"
	case EventSync:
		return "sync"
	case EventPush:
		return "push"
	case EventNotificationClick:
		return "notificationclick"
	default:
		return "EventType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Event is one host dispatch. Fetch events carry Request, message and push
// events carry Data, sync events carry Tag.
type Event struct {
	Type    EventType
	Request *http.Request
	Data    []byte
	Tag     string
}

// Options configures a worker. Registry and Fetcher are required; the rest
// default sensibly.
type Options struct {
	Registry *registry.Registry
	Fetcher  netx.Fetcher
	Manifest manifest.Manifest
	Routes   router.Routes
	// AppName labels the offline page and default notifications.
	AppName  string
	Notifier channel.Notifier
	Logger   logging.Logger
	Clock    func() time.Time
	// WaitForClients parks the worker in StateWaiting after a successful
	// install until SKIP_WAITING arrives. The default activates
	// immediately, trading per-tab version consistency for fast rollout.
	WaitForClients bool
}

// Worker wires the subsystem together and adapts host events onto it.
type Worker struct {
	id       string
	registry *registry.Registry
	fetcher  netx.Fetcher
	engine   *strategy.Engine
	router   *router.Router
	control  *lifecycle.Controller
	channel  *channel.Handler
	clients  *Clients
	logger   logging.Logger
	wait     bool

	// transition serializes install and activate end to end; mu guards
	// the fields below for cheap reads.
	transition    sync.Mutex
	mu            sync.Mutex
	state         State
	skipRequested bool
}

var (
	_ channel.Activator = (*Worker)(nil)
	_ lifecycle.Claimer = (*Clients)(nil)
)

// New assembles a worker from its dependencies.
func New(opts Options) (*Worker, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("worker: registry is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("worker: fetcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	w := &Worker{
		id:       uuid.NewString(),
		registry: opts.Registry,
		fetcher:  opts.Fetcher,
		logger:   logger,
		wait:     opts.WaitForClients,
		state:    StateInstalling,
	}
	w.clients = NewClients(opts.Registry.Version(), w.id)
	w.engine = strategy.New(opts.Fetcher, logger, opts.Clock)
	w.router = &router.Router{
		Routes:   opts.Routes,
		Engine:   w.engine,
		Registry: opts.Registry,
		Fetcher:  opts.Fetcher,
		Fallback: fallback.New(opts.AppName, opts.Routes.APIPrefix),
		Logger:   logger,
	}
	w.control = &lifecycle.Controller{
		Registry: opts.Registry,
		Fetcher:  opts.Fetcher,
		Manifest: opts.Manifest,
		Claimer:  w.clients,
		Logger:   logger,
		Clock:    opts.Clock,
	}
	w.channel = &channel.Handler{
		Activator:    w,
		Cache:        opts.Registry.Dynamic(),
		Fetcher:      opts.Fetcher,
		Notifier:     opts.Notifier,
		Logger:       logger,
		Clock:        opts.Clock,
		DefaultTitle: opts.AppName,
	}
	return w, nil
}

// ID returns the worker instance ID.
func (w *Worker) ID() string { return w.id }

// Clients returns the client registry for connection tracking.
func (w *Worker) Clients() *Clients { return w.clients }

// State returns the current lifecycle phase.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Install precaches the manifest and publishes the resolved asset set to
// routing. On success the worker activates immediately unless configured
// to wait for a skip-waiting command; on failure it becomes redundant.
func (w *Worker) Install(ctx context.Context) error {
	w.transition.Lock()
	defer w.transition.Unlock()

	if st := w.State(); st != StateInstalling {
		return fmt.Errorf("worker: install from state %q", st)
	}

	resolved, err := w.control.Install(ctx)
	if err != nil {
		w.setState(StateRedundant)
		return fmt.Errorf("worker: install: %w", err)
	}

	w.mu.Lock()
	w.router.Routes.Manifest = resolved
	park := w.wait && !w.skipRequested
	if park {
		w.state = StateWaiting
	}
	w.mu.Unlock()

	if park {
		w.logger.Info("worker waiting", "instance", w.id, "version", w.registry.Version())
		return nil
	}
	return w.activate(ctx)
}

// Activate evicts stale namespaces and claims clients. It is a no-op when
// the worker is already active.
func (w *Worker) Activate(ctx context.Context) error {
	w.transition.Lock()
	defer w.transition.Unlock()

	switch st := w.State(); st {
	case StateActive:
		return nil
	case StateWaiting:
		return w.activate(ctx)
	default:
		return fmt.Errorf("worker: activate from state %q", st)
	}
}

// activate runs with w.transition held.
func (w *Worker) activate(ctx context.Context) error {
	w.setState(StateActivating)
	if err := w.control.Activate(ctx); err != nil {
		return fmt.Errorf("worker: activate: %w", err)
	}
	w.setState(StateActive)
	return nil
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// SkipWaiting activates a waiting worker immediately. Requested during
// install, it cancels the configured wait so install rolls straight into
// activation.
func (w *Worker) SkipWaiting() {
	w.transition.Lock()
	defer w.transition.Unlock()

	w.mu.Lock()
	w.skipRequested = true
	waiting := w.state == StateWaiting
	w.mu.Unlock()

	if !waiting {
		return
	}
	if err := w.activate(context.Background()); err != nil {
		w.logger.Error("skip waiting activation failed", "instance", w.id, "error", err)
	}
}

// Dispatch adapts one host event onto the subsystem. Fetch events return a
// result; every other event runs its handler to completion before the
// dispatch returns, so a nil error means the event is fully resolved.
func (w *Worker) Dispatch(ctx context.Context, ev Event) (*router.Result, error) {
	switch ev.Type {
	case EventInstall:
		return nil, w.Install(ctx)
	case EventActivate:
		return nil, w.Activate(ctx)
	case EventFetch:
		if ev.Request == nil {
			return nil, fmt.Errorf("worker: fetch event without request")
		}
		if w.State() != StateActive {
			return w.proxy(ctx, ev.Request)
		}
		return w.router.Handle(ctx, ev.Request)
	case EventMessage:
		w.channel.HandleMessage(ctx, ev.Data)
		return nil, nil
	case EventSync:
		w.channel.Sync(ctx, ev.Tag)
		return nil, nil
	case EventPush:
		w.channel.Push(ctx, ev.Data)
		return nil, nil
	case EventNotificationClick:
		w.channel.NotificationClick()
		return nil, nil
	default:
		return nil, fmt.Errorf("worker: unknown event type %s", ev.Type)
	}
}

// proxy serves a request live while the worker is not yet active,
// matching a page the worker does not control. No cache interaction.
func (w *Worker) proxy(ctx context.Context, req *http.Request) (*router.Result, error) {
	res, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("worker: passthrough fetch: %w", err)
	}
	entry, err := res.Entry()
	if err != nil {
		return nil, fmt.Errorf("worker: passthrough read: %w", err)
	}
	return &router.Result{
		Outcome: strategy.Outcome{Entry: entry, Source: strategy.SourceNetwork},
		Class:   router.ClassBypass,
	}, nil
}

// Stats is a point-in-time snapshot of the worker for introspection.
type Stats struct {
	State      State          `json:"state"`
	Version    string         `json:"version"`
	Instance   string         `json:"instance"`
	Clients    int            `json:"clients"`
	Strategy   strategy.Stats `json:"strategy"`
	Namespaces map[string]int `json:"namespaces,omitempty"`
}

// Stats snapshots the worker state, policy counters, and entry counts for
// the current version's namespaces when the store can report them.
func (w *Worker) Stats(ctx context.Context) Stats {
	s := Stats{
		State:    w.State(),
		Version:  w.registry.Version(),
		Instance: w.id,
		Clients:  w.clients.Count(),
		Strategy: w.engine.Stats(),
	}
	counter, ok := w.registry.Store().(store.Counter)
	if !ok {
		return s
	}
	counts := make(map[string]int)
	for _, name := range w.registry.Current() {
		n, err := counter.Count(ctx, name)
		if err != nil {
			w.logger.Debug("namespace count failed", "namespace", name, "error", err)
			continue
		}
		counts[name] = n
	}
	s.Namespaces = counts
	return s
}
