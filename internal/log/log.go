// Package log is a thin structured-logging wrapper around log/slog,
// modeled on the teacher's log package: a handful of package-level
// convenience functions (Trace/Debug/Info/Warn/Error) that write to a
// swappable default Logger, plus New for component-scoped loggers that
// carry a fixed set of key/value pairs.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Levels, mirroring the teacher's five-level scheme on top of slog's four.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger is the interface satisfied by both the package-level default and
// component-scoped loggers returned by New.
type Logger interface {
	Trace(msg string, ctx ...any)
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Warn(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	With(ctx ...any) Logger
}

type logger struct {
	inner *slog.Logger
}

func (l *logger) Trace(msg string, ctx ...any) { l.inner.Log(context.Background(), LevelTrace, msg, ctx...) }
func (l *logger) Debug(msg string, ctx ...any) { l.inner.Debug(msg, ctx...) }
func (l *logger) Info(msg string, ctx ...any)  { l.inner.Info(msg, ctx...) }
func (l *logger) Warn(msg string, ctx ...any)  { l.inner.Warn(msg, ctx...) }
func (l *logger) Error(msg string, ctx ...any) { l.inner.Error(msg, ctx...) }
func (l *logger) With(ctx ...any) Logger       { return &logger{inner: l.inner.With(ctx...)} }

// NewTerminalHandler returns a slog text handler that writes key=value
// lines ("time=... level=INFO msg=... key=value ...") to w, at every level
// from Trace up. When w is a terminal it is wrapped with go-colorable; the
// handler itself writes no color codes.
func NewTerminalHandler(w io.Writer) slog.Handler {
	useColor := false
	if f, ok := w.(*os.File); ok {
		useColor = isatty.IsTerminal(f.Fd())
	}
	if useColor {
		w = colorable.NewColorable(w.(*os.File))
	}
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: LevelTrace})
}

var defaultLogger atomic.Pointer[logger]

func init() {
	defaultLogger.Store(&logger{inner: slog.New(NewTerminalHandler(os.Stderr))})
}

// SetDefault replaces the package-level logger.
func SetDefault(l Logger) {
	if ll, ok := l.(*logger); ok {
		defaultLogger.Store(ll)
	}
}

// New returns a Logger that always includes ctx as leading key/value
// pairs, e.g. log.New("component", "routing").
func New(ctx ...any) Logger {
	return &logger{inner: slog.New(NewTerminalHandler(os.Stderr)).With(ctx...)}
}

func Trace(msg string, ctx ...any) { defaultLogger.Load().Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { defaultLogger.Load().Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { defaultLogger.Load().Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { defaultLogger.Load().Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { defaultLogger.Load().Error(msg, ctx...) }
