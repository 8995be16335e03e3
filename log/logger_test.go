package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestTraceHook(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, zerolog.DebugLevel, false)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))

	logger.Info().Ctx(ctx).Msg("traced")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])

	buf.Reset()
	logger.Info().Msg("untraced")

	entry = nil
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotContains(t, entry, "trace_id")
}

func TestFromContext(t *testing.T) {
	prev := zerolog.DefaultContextLogger
	zerolog.DefaultContextLogger = nil
	t.Cleanup(func() { zerolog.DefaultContextLogger = prev })

	var ctxBuf, fallbackBuf bytes.Buffer
	fallback := zerolog.New(&fallbackBuf)

	FromContext(context.Background(), &fallback).Info().Msg("no request logger")
	assert.Contains(t, fallbackBuf.String(), "no request logger")

	ctx := zerolog.New(&ctxBuf).WithContext(context.Background())
	FromContext(ctx, &fallback).Info().Msg("request logger")
	assert.Contains(t, ctxBuf.String(), "request logger")
	assert.NotContains(t, fallbackBuf.String(), "request logger")
}
