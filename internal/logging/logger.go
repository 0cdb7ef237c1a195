// Package logging builds the slog loggers the offcache daemon writes to.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the handler encoding used by New.
type Format string

const (
	// FormatText renders key=value lines for terminals.
	FormatText Format = "text"
	// FormatJSON renders one JSON object per line for log collectors.
	FormatJSON Format = "json"
)

// ParseFormat validates a format name from a flag or environment value.
// An empty name selects FormatText.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unknown log format %q (want text or json)", name)
}

// Options configures the daemon logger.
type Options struct {
	// Verbose toggles debug level logging when true.
	Verbose bool
	// Format selects the output encoding; the zero value means FormatText.
	Format Format
	// Writer directs log output; defaults to os.Stderr when nil.
	Writer io.Writer
}

// New constructs a slog.Logger with offcache defaults: info level unless
// Verbose is set, text output unless Format says otherwise.
func New(opts Options) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	writer := opts.Writer
	if writer == nil {
		writer = os.Stderr
	}
	handlerOptions := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch opts.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(writer, handlerOptions)
	default:
		handler = slog.NewTextHandler(writer, handlerOptions)
	}
	return slog.New(handler)
}

// Logger is the logging surface offcache components accept. SlogAdapter
// bridges a *slog.Logger; NopLogger discards everything.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
}

// SlogAdapter wraps a *slog.Logger as a Logger.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps logger, typically the result of New.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

func (s *SlogAdapter) Debug(msg string, args ...any) { s.logger.Debug(msg, args...) }

func (s *SlogAdapter) Info(msg string, args ...any) { s.logger.Info(msg, args...) }

func (s *SlogAdapter) Warn(msg string, args ...any) { s.logger.Warn(msg, args...) }

func (s *SlogAdapter) Error(msg string, args ...any) { s.logger.Error(msg, args...) }

// With returns a Logger carrying the given attributes on every record.
func (s *SlogAdapter) With(args ...any) Logger {
	return &SlogAdapter{logger: s.logger.With(args...)}
}

var _ Logger = (*SlogAdapter)(nil)

// NopLogger discards all records. Components that receive no logger fall
// back to it so logging calls never need a nil check.
type NopLogger struct{}

// NewNopLogger creates a new NopLogger.
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Debug(_ string, _ ...any) {}

func (n *NopLogger) Info(_ string, _ ...any) {}

func (n *NopLogger) Warn(_ string, _ ...any) {}

func (n *NopLogger) Error(_ string, _ ...any) {}

// With returns the receiver; there is nothing to attach attributes to.
func (n *NopLogger) With(_ ...any) Logger { return n }

var _ Logger = (*NopLogger)(nil)
