package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesStructuredJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, LevelDebug, "test-service", func(context.Context) string { return "abc123" })

	log.Info(context.Background(), "something happened", "key", "value")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))

	assert.Equal(t, "something happened", line["msg"])
	assert.Equal(t, "test-service", line["service"])
	assert.Equal(t, "value", line["key"])
	assert.Equal(t, "abc123", line["trace_id"])
	assert.Contains(t, line, "file")
}

func TestLoggerMinLevelFilters(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := New(&buf, LevelInfo, "test-service", nil)

	log.Debug(context.Background(), "too quiet")
	assert.Zero(t, buf.Len())

	log.Warn(context.Background(), "loud enough")
	assert.NotZero(t, buf.Len())
}

func TestLoggerEventsHook(t *testing.T) {
	t.Parallel()

	var got Record
	events := Events{
		Error: func(_ context.Context, r Record) { got = r },
	}

	var buf bytes.Buffer
	log := NewWithMetadata(&buf, LevelDebug, "test-service", nil, events, map[string]string{"app": "governor"})

	log.Info(context.Background(), "not an error")
	assert.Empty(t, got.Message, "info must not fire the error hook")

	log.Error(context.Background(), "boom", "cause", "disk")
	assert.Equal(t, "boom", got.Message)
	assert.Equal(t, "disk", got.Attributes["cause"])

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes()[:bytes.IndexByte(buf.Bytes(), '\n')+1], &line))
	assert.Equal(t, "governor", line["app"])
}
