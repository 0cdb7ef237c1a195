package cli

import (
	"errors"
	"flag"
	"strings"
	"testing"
)

func TestParseDefaults(t *testing.T) {
	opts, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if opts.ConfigPath != "offcache.toml" {
		t.Fatalf("ConfigPath = %q, want %q", opts.ConfigPath, "offcache.toml")
	}
	if opts.Listen != "" {
		t.Fatalf("Listen = %q, want empty", opts.Listen)
	}
	if opts.Origin != "" {
		t.Fatalf("Origin = %q, want empty", opts.Origin)
	}
	if opts.Store != "" {
		t.Fatalf("Store = %q, want empty", opts.Store)
	}
	if opts.LogFormat != "" {
		t.Fatalf("LogFormat = %q, want empty", opts.LogFormat)
	}
	if opts.Check {
		t.Fatalf("Check = true, want false")
	}
	if opts.StrictConfig {
		t.Fatalf("StrictConfig = true, want false")
	}
	if opts.Verbose {
		t.Fatalf("Verbose = true, want false")
	}
	if len(opts.Args) != 0 {
		t.Fatalf("Args = %v, want empty slice", opts.Args)
	}
}

func TestParseOverrides(t *testing.T) {
	args := []string{
		"--config", "sidecar.toml",
		"--listen", ":9090",
		"--origin", "http://localhost:3000",
		"--store", "bolt",
		"--log-format", "json",
		"--check",
		"--strict-config",
		"-v",
		"extra",
	}

	opts, err := Parse(args)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if got, want := opts.ConfigPath, "sidecar.toml"; got != want {
		t.Fatalf("ConfigPath = %q, want %q", got, want)
	}
	if got, want := opts.Listen, ":9090"; got != want {
		t.Fatalf("Listen = %q, want %q", got, want)
	}
	if got, want := opts.Origin, "http://localhost:3000"; got != want {
		t.Fatalf("Origin = %q, want %q", got, want)
	}
	if got, want := opts.Store, "bolt"; got != want {
		t.Fatalf("Store = %q, want %q", got, want)
	}
	if got, want := opts.LogFormat, "json"; got != want {
		t.Fatalf("LogFormat = %q, want %q", got, want)
	}
	if !opts.Check {
		t.Fatalf("Check = false, want true")
	}
	if !opts.StrictConfig {
		t.Fatalf("StrictConfig = false, want true")
	}
	if !opts.Verbose {
		t.Fatalf("Verbose = false, want true")
	}
	if len(opts.Args) != 1 || opts.Args[0] != "extra" {
		t.Fatalf("Args = %v, want [extra]", opts.Args)
	}
}

func TestParseShortConfigFlag(t *testing.T) {
	opts, err := Parse([]string{"-c", "alt.toml"})
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if opts.ConfigPath != "alt.toml" {
		t.Fatalf("ConfigPath = %q, want %q", opts.ConfigPath, "alt.toml")
	}
}

func TestParseInvalidFlag(t *testing.T) {
	_, err := Parse([]string{"--unknown"})
	if err == nil {
		t.Fatalf("Parse expected error for unknown flag")
	}
	if !strings.Contains(err.Error(), "Usage of offcache") {
		t.Fatalf("error = %q, want usage string", err.Error())
	}
	if errors.Is(err, flag.ErrHelp) {
		t.Fatalf("error unexpectedly wraps flag.ErrHelp")
	}
}

func TestUsage(t *testing.T) {
	fs := flag.NewFlagSet("offcache", flag.ContinueOnError)
	fs.String("flag", "value", "test flag")

	usage := Usage(fs)
	if !strings.Contains(usage, "Usage of offcache:") {
		t.Fatalf("usage missing header: %q", usage)
	}
	if !strings.Contains(usage, "-flag") {
		t.Fatalf("usage missing flag definition: %q", usage)
	}
}
