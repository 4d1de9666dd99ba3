package httpapi

import (
	"context"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

func withLogger(ctx context.Context, log zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, log)
}

// loggerFrom returns the request-scoped logger installed by withRequestID,
// falling back to fallback if the request context carries none (e.g. in
// tests that call handlers directly without going through Routes()).
func loggerFrom(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if log, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return log
	}
	return fallback
}
