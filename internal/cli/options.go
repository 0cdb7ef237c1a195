package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
)

type Options struct {
	ConfigPath   string
	Listen       string
	Origin       string
	Store        string
	LogFormat    string
	Check        bool
	StrictConfig bool
	Verbose      bool
	Args         []string
}

func Parse(args []string) (Options, error) {
	const defaultConfig = "offcache.toml"

	opts := Options{
		ConfigPath: defaultConfig,
	}

	fs := flag.NewFlagSet("offcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&opts.ConfigPath, "config", opts.ConfigPath, "Path to configuration file")
	fs.StringVar(&opts.ConfigPath, "c", opts.ConfigPath, "Path to configuration file")
	fs.StringVar(&opts.Listen, "listen", "", "Override the listen address from the configuration")
	fs.StringVar(&opts.Origin, "origin", "", "Override the origin base URL from the configuration")
	fs.StringVar(&opts.Store, "store", "", "Override the store backend (memory, file, bolt, sqlite, redis, postgres)")
	fs.StringVar(&opts.LogFormat, "log-format", "", "Log output format (text or json)")
	fs.BoolVar(&opts.Check, "check", false, "Validate configuration and precache manifest, then exit")
	fs.BoolVar(&opts.StrictConfig, "strict-config", false, "Treat configuration warnings as errors")
	fs.BoolVar(&opts.Verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&opts.Verbose, "v", false, "Enable verbose logging")

	if err := fs.Parse(args); err != nil {
		usage := Usage(fs)
		if errors.Is(err, flag.ErrHelp) {
			return Options{}, fmt.Errorf("%w\n\n%s", err, usage)
		}
		return Options{}, fmt.Errorf("%w\n\n%s", err, usage)
	}

	opts.Args = fs.Args()
	return opts, nil
}

func Usage(fs *flag.FlagSet) string {
	if fs == nil {
		return ""
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "Usage of %s:\n", fs.Name())
	out := fs.Output()
	fs.SetOutput(&buf)
	fs.PrintDefaults()
	fs.SetOutput(out)
	return buf.String()
}
