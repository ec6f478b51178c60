// Package telemetry carries the engine's ambient logging, metrics, and
// tracing helpers: a slog wrapper with optional file rotation (mirroring
// the teacher's daemon logger), Prometheus counters/histograms for the
// scheduler's worker pool and gate attempts, and OpenTelemetry spans
// around gate execution and orchestrator runs.
package telemetry

import (
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps slog.Logger with level-specific methods, matching
// cmd/bd/daemon_logger.go's daemonLogger shape so call sites read the
// same way whether they originated in the CLI or the core.
type Logger struct {
	logger *slog.Logger
}

// Info, Warn, Error, and Debug are no-ops on the zero Logger value, so
// callers never need a nil check before logging.

func (l Logger) Info(msg string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Info(msg, toSlogArgs(args)...)
}

func (l Logger) Warn(msg string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Warn(msg, toSlogArgs(args)...)
}

func (l Logger) Error(msg string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Error(msg, toSlogArgs(args)...)
}

func (l Logger) Debug(msg string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Debug(msg, toSlogArgs(args)...)
}

// Slog returns the underlying *slog.Logger for callers that want to
// attach structured fields with slog.Group or similar.
func (l Logger) Slog() *slog.Logger { return l.logger }

func toSlogArgs(args []interface{}) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, len(args))
	copy(out, args)
	return out
}

// ParseLevel converts a level name to slog.Level, defaulting to Info for
// an unrecognized or empty string.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FileConfig configures rotation for a file-backed logger, mirroring
// lumberjack's knobs as surfaced by the teacher's daemon logger.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewFileLogger creates a structured logger that writes to a
// lumberjack-rotated file. The returned io.Closer should be closed (it
// also flushes) when the engine shuts down.
func NewFileLogger(cfg FileConfig, jsonFormat bool, level slog.Level) (io.Closer, Logger) {
	lj := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    orDefault(cfg.MaxSizeMB, 50),
		MaxBackups: orDefault(cfg.MaxBackups, 7),
		MaxAge:     orDefault(cfg.MaxAgeDays, 30),
		Compress:   cfg.Compress,
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(lj, opts)
	} else {
		handler = slog.NewTextHandler(lj, opts)
	}

	return lj, Logger{logger: slog.New(handler)}
}

// NewWriterLogger creates a structured logger over an arbitrary writer
// (e.g. os.Stderr, or a test buffer).
func NewWriterLogger(w io.Writer, jsonFormat bool, level slog.Level) Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return Logger{logger: slog.New(handler)}
}

// NewSilentLogger discards everything. Components that receive no logger
// use the zero Logger{} instead, which is silent on its own.
func NewSilentLogger() Logger {
	return Logger{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
