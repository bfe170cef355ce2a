package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	levelVar = new(slog.LevelVar)
	output   = newSwapWriter(os.Stdout)
)

// L is the process-wide structured logger. It is never reassigned; SetOutput
// changes where it writes.
var L = slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: levelVar}))

type writerBox struct{ io.Writer }

// swapWriter forwards writes to a destination that can be replaced while
// other goroutines are logging.
type swapWriter struct {
	dst atomic.Pointer[writerBox]
}

func newSwapWriter(w io.Writer) *swapWriter {
	s := &swapWriter{}
	s.dst.Store(&writerBox{w})
	return s
}

func (s *swapWriter) Write(p []byte) (int, error) {
	return s.dst.Load().Write(p)
}

// SetLevel configures the global log level (debug, info, warn, error).
func SetLevel(lvl string) {
	switch strings.ToLower(lvl) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// SetOutput redirects L to w. Safe to call while logging.
func SetOutput(w io.Writer) {
	output.dst.Store(&writerBox{w})
}

// Level reports the currently active level.
func Level() slog.Level {
	return levelVar.Level()
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying l.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or L.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return L
}
