// Package manifest loads the precache asset list and expands its glob
// patterns. The manifest is the deploy-time contract: every entry must be
// fetchable at install or the whole install aborts, so a pattern matching
// nothing is an error rather than a silent gap.
package manifest

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the parsed precache document.
type Manifest struct {
	// Assets are absolute paths or absolute URLs precached at install.
	Assets []string `yaml:"assets"`
	// AssetGlobs are patterns expanded against BuildDir into further assets.
	AssetGlobs []string `yaml:"asset_globs"`
	// BuildDir roots glob expansion, typically the deployed output dir.
	BuildDir string `yaml:"build_dir"`
}

// PatternError wraps syntax issues reported while evaluating a glob pattern.
type PatternError struct {
	Pattern string
	Err     error
}

// Error implements the error interface.
func (e PatternError) Error() string {
	return fmt.Sprintf("invalid glob pattern %q: %v", e.Pattern, e.Err)
}

// Unwrap returns the underlying error.
func (e PatternError) Unwrap() error { return e.Err }

// NoMatchError describes which patterns failed to yield any results. It
// usually means the manifest and the deployed build drifted apart.
type NoMatchError struct {
	Patterns []string
}

// Error implements the error interface.
func (e NoMatchError) Error() string {
	return "patterns matched no files: " + strings.Join(e.Patterns, ", ")
}

// Load reads and parses the manifest file at path.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates manifest YAML.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (m Manifest) validate() error {
	if len(m.Assets) == 0 && len(m.AssetGlobs) == 0 {
		return fmt.Errorf("manifest lists no assets")
	}
	for _, asset := range m.Assets {
		if err := validateAsset(asset); err != nil {
			return err
		}
	}
	if len(m.AssetGlobs) > 0 && strings.TrimSpace(m.BuildDir) == "" {
		return fmt.Errorf("asset_globs require build_dir")
	}
	return nil
}

// validateAsset accepts absolute paths ("/app.js") and absolute http(s)
// URLs (cross-origin fonts and icons). Anything relative would be ambiguous
// at fetch time.
func validateAsset(asset string) error {
	if asset == "" {
		return fmt.Errorf("manifest contains an empty asset entry")
	}
	if strings.HasPrefix(asset, "/") {
		return nil
	}
	u, err := url.Parse(asset)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return nil
	}
	return fmt.Errorf("asset %q is neither an absolute path nor an absolute URL", asset)
}

// Resolved is the expanded, deduplicated asset list ready for install.
type Resolved struct {
	assets []string
	set    map[string]struct{}
}

// Assets returns the ordered asset list: explicit entries first, then glob
// expansions in sorted order.
func (r *Resolved) Assets() []string {
	return slices.Clone(r.assets)
}

// Len reports how many distinct assets resolved.
func (r *Resolved) Len() int { return len(r.assets) }

// Contains reports whether path is a manifest member. Used by routing to
// recognize precached assets outside the static prefix.
func (r *Resolved) Contains(path string) bool {
	if r == nil {
		return false
	}
	_, ok := r.set[path]
	return ok
}

// Resolve expands the manifest against its build directory.
func (m Manifest) Resolve() (*Resolved, error) {
	if len(m.AssetGlobs) == 0 {
		return m.ResolveFS(nil)
	}
	base, err := filepath.Abs(m.BuildDir)
	if err != nil {
		return nil, fmt.Errorf("resolve build_dir %q: %w", m.BuildDir, err)
	}
	info, err := os.Stat(base)
	if err != nil {
		return nil, fmt.Errorf("stat build_dir %q: %w", base, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build_dir %q is not a directory", base)
	}
	return m.ResolveFS(os.DirFS(base))
}

// ResolveFS expands the manifest against the provided filesystem. Glob
// matches become web paths rooted at "/". A pattern with no matches aborts
// with NoMatchError.
func (m Manifest) ResolveFS(fsys fs.FS) (*Resolved, error) {
	combined := make([]string, 0, len(m.Assets))
	combined = append(combined, m.Assets...)

	if len(m.AssetGlobs) > 0 {
		if fsys == nil {
			return nil, fmt.Errorf("manifest has asset_globs but no filesystem to expand against")
		}
		expanded := make([]string, 0)
		missing := make([]string, 0)
		for _, pattern := range m.AssetGlobs {
			matches, err := fs.Glob(fsys, filepath.ToSlash(pattern))
			if err != nil {
				return nil, PatternError{Pattern: pattern, Err: err}
			}
			if len(matches) == 0 {
				missing = append(missing, pattern)
				continue
			}
			for _, match := range matches {
				expanded = append(expanded, "/"+strings.TrimPrefix(match, "/"))
			}
		}
		if len(missing) > 0 {
			return nil, NoMatchError{Patterns: append([]string(nil), missing...)}
		}
		slices.Sort(expanded)
		combined = append(combined, expanded...)
	}

	assets := dedupePreserveOrder(combined)
	set := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		set[a] = struct{}{}
	}
	return &Resolved{assets: assets, set: set}, nil
}

func dedupePreserveOrder(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	result := make([]string, 0, len(paths))
	for _, path := range paths {
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		result = append(result, path)
	}
	return result
}
