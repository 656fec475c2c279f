// Package logging provides leveled slog loggers for the runtime and its
// models. All loggers of a run share one output handler; each model filters
// records through its own level so that levels can differ along the model
// tree.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelTrace is a custom slog level below Debug for very verbose output.
const LevelTrace = slog.LevelDebug - 4

// LevelCritical is a custom slog level above Error.
const LevelCritical = slog.LevelError + 4

// Component names used in the log_levels configuration.
const (
	Core   = "core"
	DataIO = "data_io"
	Model  = "model"
)

// ParseLevel maps a string level name to a slog.Level.
// Supported values: trace, debug, info, warn, error, critical
// (case-insensitive). Unknown values default to info.
func ParseLevel(s string) slog.Level {
	lvl, err := ParseLevelStrict(s)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ParseLevelStrict is ParseLevel but rejects unknown level names.
func ParseLevelStrict(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	case "critical", "crit":
		return LevelCritical, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error, critical)", s)
	}
}

// LevelName returns the canonical lower-case name of a level.
func LevelName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "trace"
	case l <= slog.LevelDebug:
		return "debug"
	case l <= slog.LevelInfo:
		return "info"
	case l <= slog.LevelWarn:
		return "warn"
	case l <= slog.LevelError:
		return "error"
	default:
		return "critical"
	}
}

// NewHandler creates the shared output handler. It lets every record
// through; filtering happens in the per-component handlers.
func NewHandler(w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: LevelTrace,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					switch {
					case lvl == LevelTrace:
						a.Value = slog.StringValue("TRACE")
					case lvl >= LevelCritical:
						a.Value = slog.StringValue("CRITICAL")
					}
				}
			}
			return a
		},
	}
	return slog.NewTextHandler(w, opts)
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(level))
	return New(NewHandler(w), lv)
}

// New wraps the shared handler so that records below level are dropped.
func New(shared slog.Handler, level *slog.LevelVar) *slog.Logger {
	return slog.New(&levelHandler{inner: shared, level: level})
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: LevelCritical + 1}))
}

// Trace logs at LevelTrace.
func Trace(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelTrace, msg, args...)
}

type levelHandler struct {
	inner slog.Handler
	level *slog.LevelVar
}

func (h *levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.inner.Enabled(ctx, l)
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{inner: h.inner.WithAttrs(attrs), level: h.level}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{inner: h.inner.WithGroup(name), level: h.level}
}
