// Package logctx carries a logger and request-scoped log attributes in a
// context.
package logctx

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	loggerKey contextKey = iota
	attrsKey
)

// Attribute keys set through this package.
const (
	DownloadIDKey = "download_id"
	RequestIDKey  = "request_id"
)

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}

// With returns a context whose records, when logged through a ContextHandler,
// carry attrs. A key set again replaces the earlier value.
func With(ctx context.Context, attrs ...slog.Attr) context.Context {
	prev := Attrs(ctx)
	merged := make([]slog.Attr, 0, len(prev)+len(attrs))

	for _, a := range prev {
		if !hasKey(attrs, a.Key) {
			merged = append(merged, a)
		}
	}

	merged = append(merged, attrs...)

	return context.WithValue(ctx, attrsKey, merged)
}

// Attrs returns the attributes added with With.
func Attrs(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(attrsKey).([]slog.Attr)

	return attrs
}

func hasKey(attrs []slog.Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}

	return false
}

func lookup(ctx context.Context, key string) string {
	for _, a := range Attrs(ctx) {
		if a.Key == key {
			return a.Value.String()
		}
	}

	return ""
}

func WithDownloadID(ctx context.Context, id string) context.Context {
	return With(ctx, slog.String(DownloadIDKey, id))
}

// DownloadIDFromContext returns the id set by WithDownloadID, or "".
func DownloadIDFromContext(ctx context.Context) string {
	return lookup(ctx, DownloadIDKey)
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return With(ctx, slog.String(RequestIDKey, id))
}

// RequestIDFromContext returns the id set by WithRequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	return lookup(ctx, RequestIDKey)
}
