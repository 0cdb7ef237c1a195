// Package main implements the offcache sidecar daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/offlinekit/offcache/internal/channel"
	"github.com/offlinekit/offcache/internal/cli"
	"github.com/offlinekit/offcache/internal/config"
	"github.com/offlinekit/offcache/internal/logging"
	"github.com/offlinekit/offcache/internal/manifest"
	"github.com/offlinekit/offcache/internal/netx"
	"github.com/offlinekit/offcache/internal/registry"
	"github.com/offlinekit/offcache/internal/router"
	"github.com/offlinekit/offcache/internal/server"
	"github.com/offlinekit/offcache/internal/store"
	boltstore "github.com/offlinekit/offcache/internal/store/bolt"
	filestore "github.com/offlinekit/offcache/internal/store/file"
	memorystore "github.com/offlinekit/offcache/internal/store/memory"
	postgresstore "github.com/offlinekit/offcache/internal/store/postgres"
	redisstore "github.com/offlinekit/offcache/internal/store/redis"
	sqlitestore "github.com/offlinekit/offcache/internal/store/sqlite"
	"github.com/offlinekit/offcache/internal/worker"
)

const (
	// originTimeout bounds upstream fetches; a hung origin would otherwise
	// block NetworkFirst from ever reaching its cache fallback.
	originTimeout = 30 * time.Second

	shutdownGrace = 10 * time.Second
)

func main() {
	code := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts, err := cli.Parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintln(stdout, err.Error())
			return 0
		}
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	format, err := logging.ParseFormat(opts.LogFormat)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	logger := logging.NewSlogAdapter(logging.New(logging.Options{
		Verbose: opts.Verbose,
		Format:  format,
		Writer:  stderr,
	}))

	result, err := config.Load(opts.ConfigPath, config.LoadOptions{Strict: opts.StrictConfig})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	for _, warning := range result.Warnings {
		_, _ = fmt.Fprintln(stderr, warning)
	}

	plan := result.Plan
	if opts.Listen != "" {
		plan.Listen = opts.Listen
	}
	if opts.Origin != "" {
		plan.Origin = opts.Origin
	}
	if opts.Store != "" {
		backend, err := config.ParseBackend(opts.Store)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err.Error())
			return 1
		}
		plan.Store.Backend = backend
	}

	var m manifest.Manifest
	if plan.ManifestPath != "" {
		m, err = manifest.Load(plan.ManifestPath)
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err.Error())
			return 1
		}
	}

	if opts.Check {
		return check(stdout, stderr, plan, m)
	}
	return serve(ctx, stderr, logger, plan, m)
}

// check validates the effective configuration without opening the store or
// binding the listen address.
func check(stdout, stderr io.Writer, plan config.Plan, m manifest.Manifest) int {
	if _, err := netx.NewOriginFetcher(plan.Origin, nil); err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	assets := 0
	if plan.ManifestPath != "" {
		resolved, err := m.Resolve()
		if err != nil {
			_, _ = fmt.Fprintln(stderr, err.Error())
			return 1
		}
		assets = resolved.Len()
	}

	_, _ = fmt.Fprintf(stdout, "configuration OK: product=%s version=%s origin=%s store=%s assets=%d\n",
		plan.Product, plan.Version, plan.Origin, plan.Store.Backend, assets)
	return 0
}

func serve(ctx context.Context, stderr io.Writer, logger logging.Logger, plan config.Plan, m manifest.Manifest) int {
	cacheStore, err := openStore(ctx, plan.Store)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}
	defer func() {
		if err := cacheStore.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}()

	reg, err := registry.New(cacheStore, plan.Product, plan.Version)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	fetcher, err := netx.NewOriginFetcher(plan.Origin, &http.Client{Timeout: originTimeout})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	w, err := worker.New(worker.Options{
		Registry: reg,
		Fetcher:  fetcher,
		Manifest: m,
		Routes: router.Routes{
			HealthPath:   plan.HealthPath,
			APIPrefix:    plan.APIPrefix,
			StaticPrefix: plan.StaticPrefix,
		},
		AppName:  plan.AppName,
		Notifier: logNotifier{logger: logger},
		Logger:   logger,
	})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	// A fresh process has no prior generation in control, so a failed
	// install would leave nothing but a blind proxy. Fail fast instead.
	if err := w.Install(ctx); err != nil {
		_, _ = fmt.Fprintln(stderr, err.Error())
		return 1
	}

	httpServer := &http.Server{
		Addr:              plan.Listen,
		Handler:           server.New(w, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("offcache listening",
		"addr", plan.Listen,
		"origin", plan.Origin,
		"version", plan.Version,
		"store", string(plan.Store.Backend),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_, _ = fmt.Fprintln(stderr, err.Error())
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_, _ = fmt.Fprintln(stderr, err.Error())
			return 1
		}
	}
	return 0
}

func openStore(ctx context.Context, plan config.StorePlan) (store.Store, error) {
	switch plan.Backend {
	case config.BackendMemory:
		return memorystore.New(), nil
	case config.BackendFile:
		return filestore.Open(plan.Path)
	case config.BackendBolt:
		return boltstore.Open(plan.Path)
	case config.BackendSQLite:
		return sqlitestore.Open(plan.Path)
	case config.BackendRedis:
		return redisstore.Open(ctx, plan.RedisAddr, "", 0)
	case config.BackendPostgres:
		return postgresstore.Open(ctx, plan.PostgresURL)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", plan.Backend)
	}
}

// logNotifier surfaces push notifications in the daemon log. A sidecar has
// no window to focus, so the click handler logs as well.
type logNotifier struct {
	logger logging.Logger
}

func (n logNotifier) Notify(notification channel.Notification) {
	n.logger.Info("notification", "title", notification.Title, "body", notification.Body)
}

func (n logNotifier) FocusWindow() {
	n.logger.Info("notification clicked")
}
