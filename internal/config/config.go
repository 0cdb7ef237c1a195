// Package config loads and validates the offcache configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/caarlos0/env/v11"
	toml "github.com/pelletier/go-toml/v2"
)

// Backend identifies the store implementation to run against.
type Backend string

const (
	// BackendMemory keeps entries in process memory.
	BackendMemory Backend = "memory"
	// BackendFile persists entries as JSON files under a directory.
	BackendFile Backend = "file"
	// BackendBolt persists entries in a single BoltDB file.
	BackendBolt Backend = "bolt"
	// BackendSQLite persists entries in a SQLite database file.
	BackendSQLite Backend = "sqlite"
	// BackendRedis shares entries through a Redis server.
	BackendRedis Backend = "redis"
	// BackendPostgres shares entries through a PostgreSQL server.
	BackendPostgres Backend = "postgres"
)

var validBackends = map[Backend]struct{}{
	BackendMemory:   {},
	BackendFile:     {},
	BackendBolt:     {},
	BackendSQLite:   {},
	BackendRedis:    {},
	BackendPostgres: {},
}

// RoutesConfig captures the request classification paths.
type RoutesConfig struct {
	HealthPath   string `toml:"health_path"`
	APIPrefix    string `toml:"api_prefix"`
	StaticPrefix string `toml:"static_prefix"`
}

// PrecacheConfig points at the install manifest.
type PrecacheConfig struct {
	Manifest string `toml:"manifest"`
}

// StoreConfig selects and parameterizes the backing store.
type StoreConfig struct {
	Backend     Backend `toml:"backend"`
	Path        string  `toml:"path"`
	RedisAddr   string  `toml:"redis_addr"`
	PostgresURL string  `toml:"postgres_url"`
}

// Config mirrors the expected offcache TOML schema.
type Config struct {
	Product  string         `toml:"product"`
	Version  string         `toml:"version"`
	AppName  string         `toml:"app_name"`
	Origin   string         `toml:"origin"`
	Listen   string         `toml:"listen"`
	Routes   RoutesConfig   `toml:"routes"`
	Precache PrecacheConfig `toml:"precache"`
	Store    StoreConfig    `toml:"store"`
}

// StorePlan is the normalized store selection forwarded to startup.
type StorePlan struct {
	Backend     Backend
	Path        string
	RedisAddr   string
	PostgresURL string
}

// Plan is the fully-resolved configuration used by the rest of the system.
type Plan struct {
	Product      string
	Version      string
	AppName      string
	Origin       string
	Listen       string
	HealthPath   string
	APIPrefix    string
	StaticPrefix string
	ManifestPath string
	Store        StorePlan
}

// envOverrides are applied on top of the file for container deployments.
type envOverrides struct {
	Origin      string `env:"OFFCACHE_ORIGIN"`
	Listen      string `env:"OFFCACHE_LISTEN"`
	Version     string `env:"OFFCACHE_VERSION"`
	Backend     string `env:"OFFCACHE_STORE_BACKEND"`
	StorePath   string `env:"OFFCACHE_STORE_PATH"`
	RedisAddr   string `env:"OFFCACHE_REDIS_ADDR"`
	PostgresURL string `env:"OFFCACHE_POSTGRES_URL"`
}

// LoadOptions tunes config loading behavior.
type LoadOptions struct {
	Strict bool
}

// Result wraps a loaded plan alongside any non-fatal warnings.
type Result struct {
	Plan     Plan
	Warnings []string
}

// Load reads, validates, and resolves an offcache configuration file.
func Load(path string, opts LoadOptions) (Result, error) {
	var res Result

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}

	unknownKeys, err := collectUnknownKeys(data)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	if len(unknownKeys) > 0 {
		slices.Sort(unknownKeys)
		message := fmt.Sprintf("%s: unknown configuration keys: %s", path, strings.Join(unknownKeys, ", "))
		if opts.Strict {
			return res, errors.New(message)
		}
		res.Warnings = append(res.Warnings, message)
	}

	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return res, fmt.Errorf("%s: environment overrides: %w", path, err)
	}
	applyOverrides(&cfg, overrides)

	if cfg.Product == "" {
		return res, fmt.Errorf("%s: product is required", path)
	}
	if err := validateVersion(path, cfg.Version); err != nil {
		return res, err
	}
	if err := validateOrigin(path, cfg.Origin); err != nil {
		return res, err
	}
	if err := validateRoutes(path, cfg.Routes); err != nil {
		return res, err
	}

	backend, err := resolveBackend(path, cfg.Store)
	if err != nil {
		return res, err
	}

	listen := cfg.Listen
	if listen == "" {
		listen = ":8787"
	}
	appName := cfg.AppName
	if appName == "" {
		appName = cfg.Product
	}

	manifestPath := cfg.Precache.Manifest
	if manifestPath != "" && !filepath.IsAbs(manifestPath) {
		manifestPath = filepath.Join(filepath.Dir(path), manifestPath)
	}

	res.Plan = Plan{
		Product:      cfg.Product,
		Version:      cfg.Version,
		AppName:      appName,
		Origin:       cfg.Origin,
		Listen:       listen,
		HealthPath:   cfg.Routes.HealthPath,
		APIPrefix:    cfg.Routes.APIPrefix,
		StaticPrefix: cfg.Routes.StaticPrefix,
		ManifestPath: manifestPath,
		Store: StorePlan{
			Backend:     backend,
			Path:        cfg.Store.Path,
			RedisAddr:   cfg.Store.RedisAddr,
			PostgresURL: cfg.Store.PostgresURL,
		},
	}

	return res, nil
}

func applyOverrides(cfg *Config, overrides envOverrides) {
	if overrides.Origin != "" {
		cfg.Origin = overrides.Origin
	}
	if overrides.Listen != "" {
		cfg.Listen = overrides.Listen
	}
	if overrides.Version != "" {
		cfg.Version = overrides.Version
	}
	if overrides.Backend != "" {
		cfg.Store.Backend = Backend(overrides.Backend)
	}
	if overrides.StorePath != "" {
		cfg.Store.Path = overrides.StorePath
	}
	if overrides.RedisAddr != "" {
		cfg.Store.RedisAddr = overrides.RedisAddr
	}
	if overrides.PostgresURL != "" {
		cfg.Store.PostgresURL = overrides.PostgresURL
	}
}

func collectUnknownKeys(data []byte) ([]string, error) {
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	known := map[string]map[string]struct{}{
		"product":  nil,
		"version":  nil,
		"app_name": nil,
		"origin":   nil,
		"listen":   nil,
		"routes": {
			"health_path":   {},
			"api_prefix":    {},
			"static_prefix": {},
		},
		"precache": {
			"manifest": {},
		},
		"store": {
			"backend":      {},
			"path":         {},
			"redis_addr":   {},
			"postgres_url": {},
		},
	}

	unknown := make([]string, 0)
	for key, value := range raw {
		fields, ok := known[key]
		if !ok {
			unknown = append(unknown, key)
			continue
		}
		if fields == nil {
			continue
		}
		record, ok := value.(map[string]any)
		if !ok {
			continue
		}
		for field := range record {
			if _, ok := fields[field]; !ok {
				unknown = append(unknown, key+"."+field)
			}
		}
	}

	return unknown, nil
}

// ParseBackend validates a backend name supplied outside the configuration
// file, such as a command line flag.
func ParseBackend(name string) (Backend, error) {
	backend := Backend(name)
	if _, ok := validBackends[backend]; !ok {
		return "", fmt.Errorf("unsupported store backend %q", name)
	}
	return backend, nil
}

func validateVersion(path, version string) error {
	if version == "" {
		return fmt.Errorf("%s: version is required", path)
	}
	if strings.Contains(version, "-") {
		return fmt.Errorf("%s: version %q must not contain hyphens", path, version)
	}
	return nil
}

func validateOrigin(path, origin string) error {
	if origin == "" {
		return fmt.Errorf("%s: origin is required", path)
	}
	u, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("%s: origin %q: %w", path, origin, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: origin %q must be an absolute http(s) URL", path, origin)
	}
	return nil
}

func validateRoutes(path string, routes RoutesConfig) error {
	for field, value := range map[string]string{
		"routes.health_path":   routes.HealthPath,
		"routes.api_prefix":    routes.APIPrefix,
		"routes.static_prefix": routes.StaticPrefix,
	} {
		if value != "" && !strings.HasPrefix(value, "/") {
			return fmt.Errorf("%s: %s %q must start with /", path, field, value)
		}
	}
	return nil
}

func resolveBackend(path string, store StoreConfig) (Backend, error) {
	backend := store.Backend
	if backend == "" {
		backend = BackendMemory
	}
	if _, ok := validBackends[backend]; !ok {
		return "", fmt.Errorf("%s: unsupported store backend %q", path, backend)
	}
	switch backend {
	case BackendFile, BackendBolt, BackendSQLite:
		if store.Path == "" {
			return "", fmt.Errorf("%s: store.path is required for backend %q", path, backend)
		}
	case BackendRedis:
		if store.RedisAddr == "" {
			return "", fmt.Errorf("%s: store.redis_addr is required for backend %q", path, backend)
		}
	case BackendPostgres:
		if store.PostgresURL == "" {
			return "", fmt.Errorf("%s: store.postgres_url is required for backend %q", path, backend)
		}
	}
	return backend, nil
}
