package logging

import (
	"context"
	"log/slog"
)

// Logger is a minimal interface wrapper allowing trajectory correlation
// attributes (seed, step, simulation time) to be injected uniformly.
type Logger interface {
	DebugCtx(ctx context.Context, msg string, attrs ...any)
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)
	With(attrs ...any) Logger
}

type correlatedLogger struct{ base *slog.Logger }

// New returns a correlated Logger wrapper.
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &correlatedLogger{base: base}
}

func (l *correlatedLogger) DebugCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.DebugContext(ctx, msg, attrs...)
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.InfoContext(ctx, msg, attrs...)
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.ErrorContext(ctx, msg, attrs...)
}

func (l *correlatedLogger) With(attrs ...any) Logger {
	return &correlatedLogger{base: l.base.With(attrs...)}
}
