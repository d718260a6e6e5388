package log

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// IntoContext returns a copy of ctx carrying the given logger. Middleware
// uses this to give handlers a logger pre-tagged with the request ID.
func IntoContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger carried by ctx, or slog.Default when the
// context carries none.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
