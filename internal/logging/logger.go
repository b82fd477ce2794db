// Cartographus - Media Server Analytics and Geographic Visualization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartographus

package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn, error, disabled.
	Level string `koanf:"level"`

	// Format is json (default) or console.
	Format string `koanf:"format"`

	// Caller adds file:line to every entry.
	Caller bool `koanf:"caller"`

	// Output defaults to os.Stderr.
	Output io.Writer `koanf:"-"`
}

// DefaultConfig returns JSON logging at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
		Output: os.Stderr,
	}
}

var (
	log zerolog.Logger
	mu  sync.RWMutex
)

//nolint:gochecknoinits // logging must work before Init is called
func init() {
	cfg := DefaultConfig()
	if os.Getenv("BEACON_QUIET_LOGS") == "1" {
		cfg.Level = "disabled"
	}
	configure(cfg)
}

// Init reconfigures the global logger. It is safe to call more than once.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	configure(cfg)
}

// configure must be called with mu held.
func configure(cfg Config) {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.TimestampFieldName = "time"
	zerolog.MessageFieldName = "message"

	out := cfg.Output
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).With().Timestamp().Str("service", "beacon")
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	log = ctx.Logger()
}

// ParseLevel maps a level name to a zerolog level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// ValidLevel reports whether ParseLevel recognises level by name.
func ValidLevel(level string) bool {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled", "off":
		return true
	}
	return false
}

// Logger returns the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetLogger replaces the global logger, mainly for tests.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

// With starts a child logger context from the global logger.
func With() zerolog.Context {
	l := Logger()
	return l.With()
}

// WithComponent returns a child logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return With().Str("component", component).Logger()
}

// Trace starts a trace level entry on the global logger.
func Trace() *zerolog.Event {
	l := Logger()
	return l.Trace()
}

// Debug starts a debug level entry on the global logger.
func Debug() *zerolog.Event {
	l := Logger()
	return l.Debug()
}

// Info starts an info level entry on the global logger.
func Info() *zerolog.Event {
	l := Logger()
	return l.Info()
}

// Warn starts a warn level entry on the global logger.
func Warn() *zerolog.Event {
	l := Logger()
	return l.Warn()
}

// Error starts an error level entry on the global logger.
func Error() *zerolog.Event {
	l := Logger()
	return l.Error()
}

// Fatal starts a fatal entry; the process exits after Msg.
func Fatal() *zerolog.Event {
	l := Logger()
	return l.Fatal()
}

// Err starts an error entry with err attached, or an info entry if err is nil.
func Err(err error) *zerolog.Event {
	l := Logger()
	return l.Err(err)
}

// NewTestLogger returns a JSON logger writing to w at debug level.
func NewTestLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(zerolog.DebugLevel).With().Timestamp().Logger()
}
