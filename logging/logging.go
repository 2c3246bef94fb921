// Package logging is a small structured-logging layer over log/slog,
// shaped after the teacher's own "log" package: a Logger interface with
// leveled methods, a terminal handler for interactive use, and a JSON
// handler (optionally rotated on disk) for production. There is no
// per-file verbosity handler; filtering is by minimum level only.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level mirrors slog's levels plus a Trace level below Debug, matching the
// teacher's six-level scheme (Trace, Debug, Info, Warn, Error, Crit).
type Level int

const (
	LevelTrace Level = -8
	LevelDebug Level = -4
	LevelInfo  Level = 0
	LevelWarn  Level = 4
	LevelError Level = 8
	LevelCrit  Level = 12
)

func (l Level) String() string {
	switch {
	case l <= LevelTrace:
		return "TRCE"
	case l <= LevelDebug:
		return "DBUG"
	case l <= LevelInfo:
		return "INFO"
	case l <= LevelWarn:
		return "WARN"
	case l <= LevelError:
		return "EROR"
	default:
		return "CRIT"
	}
}

// Logger is the interface the rest of the engine logs through. Components
// take a Logger rather than calling a package-level global, so a worker's
// logger can be tagged with its ThreadId and a logger's with its file name.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	Crit(msg string, ctx ...any)
	With(ctx ...any) Logger
}

type logger struct {
	inner *slog.Logger
}

// New builds a Logger writing through h, with ctx as baseline attributes.
func New(h slog.Handler, ctx ...any) Logger {
	return &logger{inner: slog.New(h).With(ctx...)}
}

func (l *logger) log(lvl Level, msg string, ctx []any) {
	l.inner.Log(context.Background(), slog.Level(lvl), msg, ctx...)
}

func (l *logger) Trace(msg string, ctx ...any) { l.log(LevelTrace, msg, ctx) }
func (l *logger) Debug(msg string, ctx ...any) { l.log(LevelDebug, msg, ctx) }
func (l *logger) Info(msg string, ctx ...any)  { l.log(LevelInfo, msg, ctx) }
func (l *logger) Warn(msg string, ctx ...any)  { l.log(LevelWarn, msg, ctx) }
func (l *logger) Error(msg string, ctx ...any) { l.log(LevelError, msg, ctx) }
func (l *logger) Crit(msg string, ctx ...any)  { l.log(LevelCrit, msg, ctx) }

func (l *logger) With(ctx ...any) Logger {
	return &logger{inner: l.inner.With(ctx...)}
}

// TerminalHandler writes human-readable, aligned lines to w, for interactive
// use (benchmark harness, local dev).
func TerminalHandler(w io.Writer, minLevel Level) slog.Handler {
	return &terminalHandler{mu: &sync.Mutex{}, w: w, min: minLevel}
}

type terminalHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	min   Level
	attrs []slog.Attr
}

func (h *terminalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return Level(level) >= h.min
}

func (h *terminalHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Fprintf(h.w, "%s[%s] %s", Level(r.Level), r.Time.Format("01-02|15:04:05.000"), r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, " %s=%v", a.Key, a.Value.Any())
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, " %s=%v", a.Key, a.Value.Any())
		return true
	})
	fmt.Fprintln(h.w)
	return nil
}

func (h *terminalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &terminalHandler{mu: h.mu, w: h.w, min: h.min, attrs: merged}
}
func (h *terminalHandler) WithGroup(name string) slog.Handler { return h }

// JSONHandler is a thin convenience wrapper over slog's own JSON handler,
// for production log shipping.
func JSONHandler(w io.Writer) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
}

// RotatingFileHandler is a JSON handler writing to path, rotated by
// lumberjack once it crosses maxSizeMB. An engine process runs for the life
// of the host; without rotation its own JSON log would grow without bound
// alongside the data it's logging about.
func RotatingFileHandler(path string, maxSizeMB, maxBackups int) slog.Handler {
	return JSONHandler(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	})
}

var (
	rootMu sync.Mutex
	root   Logger = New(TerminalHandler(os.Stderr, LevelInfo))
)

// Root returns the process-wide default Logger, used only by call sites that
// have no better Logger to hand (e.g. package init).
func Root() Logger {
	rootMu.Lock()
	defer rootMu.Unlock()
	return root
}

// SetRoot replaces the process-wide default Logger.
func SetRoot(l Logger) {
	rootMu.Lock()
	defer rootMu.Unlock()
	root = l
}
