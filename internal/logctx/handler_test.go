package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func newTestLogger(buf *bytes.Buffer, level slog.Level) *slog.Logger {
	return slog.New(NewContextHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})))
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))

	return m
}

func spanContext(t *testing.T) trace.SpanContext {
	t.Helper()

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)

	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	return trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
}

func TestContextHandler_Attributes(t *testing.T) {
	tests := []struct {
		name    string
		ctx     func(t *testing.T) context.Context
		want    map[string]string
		missing []string
	}{
		{
			name:    "plain context",
			ctx:     func(*testing.T) context.Context { return context.Background() },
			missing: []string{"trace_id", "span_id", DownloadIDKey, RequestIDKey},
		},
		{
			name: "span context",
			ctx: func(t *testing.T) context.Context {
				return trace.ContextWithSpanContext(context.Background(), spanContext(t))
			},
			want: map[string]string{
				"trace_id": "4bf92f3577b34da6a3ce929d0e0e4736",
				"span_id":  "00f067aa0ba902b7",
			},
		},
		{
			name: "download and request ids",
			ctx: func(*testing.T) context.Context {
				return WithRequestID(WithDownloadID(context.Background(), "dl-1"), "req-1")
			},
			want:    map[string]string{DownloadIDKey: "dl-1", RequestIDKey: "req-1"},
			missing: []string{"trace_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			newTestLogger(&buf, slog.LevelInfo).InfoContext(tt.ctx(t), "hello")

			line := decodeLine(t, &buf)
			assert.Equal(t, "hello", line["msg"])

			for k, v := range tt.want {
				assert.Equal(t, v, line[k], k)
			}

			for _, k := range tt.missing {
				assert.NotContains(t, line, k)
			}
		})
	}
}

func TestContextHandler_InvalidSpanIsIgnored(t *testing.T) {
	var buf bytes.Buffer

	ctx := trace.ContextWithSpanContext(context.Background(), trace.SpanContext{})
	newTestLogger(&buf, slog.LevelInfo).InfoContext(ctx, "hello")

	assert.NotContains(t, decodeLine(t, &buf), "trace_id")
}

func TestContextHandler_Enabled(t *testing.T) {
	h := NewContextHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestContextHandler_WithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer

	logger := newTestLogger(&buf, slog.LevelInfo).With("component", "test").WithGroup("job")
	logger.InfoContext(WithDownloadID(context.Background(), "dl-2"), "hello", "attempt", 2)

	line := decodeLine(t, &buf)
	assert.Equal(t, "test", line["component"])

	job, ok := line["job"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 2, job["attempt"])
	assert.Equal(t, "dl-2", job[DownloadIDKey])

	_, isContextHandler := logger.Handler().(*ContextHandler)
	assert.True(t, isContextHandler)
}

func TestNewContextHandler_Nil(t *testing.T) {
	assert.Panics(t, func() { NewContextHandler(nil) })
}

func TestWith_ReplacesKeys(t *testing.T) {
	ctx := WithDownloadID(context.Background(), "first")
	ctx = With(ctx, slog.String("backend", "ytdlp"))
	ctx = WithDownloadID(ctx, "second")

	assert.Equal(t, "second", DownloadIDFromContext(ctx))
	assert.Len(t, Attrs(ctx), 2)
	assert.Empty(t, RequestIDFromContext(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, logger, LoggerFromContext(WithLogger(context.Background(), logger)))
}
