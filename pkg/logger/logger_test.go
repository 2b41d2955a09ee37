package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry), "line %s", line)
		entries = append(entries, entry)
	}
	return entries
}

func TestErrorCarriesScopedFieldsAndStack(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf, Fields: map[string]any{"env": "dev"}})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithOrderID(ctx, "order-9")
	log.Error(ctx, "capture failed", errors.New("gateway timeout"))

	entries := decodeLines(t, buf)
	require.Len(t, entries, 1)
	entry := entries[0]
	assert.Equal(t, "req-123", entry["request_id"])
	assert.Equal(t, "order-9", entry["order_id"])
	assert.Equal(t, "api", entry["service"])
	assert.Equal(t, "dev", entry["env"])
	assert.Equal(t, "gateway timeout", entry["error"])
	assert.NotEmpty(t, entry["stack"])
}

func TestScopedFieldsDoNotLeakIntoParentContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Output: buf})

	parent := log.WithUserID(context.Background(), "driver-1")
	_ = log.WithFields(parent, map[string]any{"delivery_id": "d-1"})
	log.Info(parent, "location accepted")

	entry := decodeLines(t, buf)[0]
	assert.Equal(t, "driver-1", entry["user_id"])
	assert.NotContains(t, entry, "delivery_id")
}

func TestWarnStackToggle(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{Output: buf, WarnStack: true}).Warn(context.Background(), "slow query")
	assert.Contains(t, decodeLines(t, buf)[0], "stack")

	buf.Reset()
	New(Options{Output: buf}).Warn(context.Background(), "slow query")
	assert.NotContains(t, decodeLines(t, buf)[0], "stack")
}

func TestDebugRespectsLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{Output: buf}).Debug(context.Background(), "hidden")
	assert.Zero(t, buf.Len())

	New(Options{Output: buf, Level: zerolog.DebugLevel}).Debug(context.Background(), "shown")
	assert.Equal(t, "debug", decodeLines(t, buf)[0]["level"])
}

func TestSecurityEventMarksEntry(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Output: buf})

	log.SecurityEvent(context.Background(), "webhook signature mismatch", errors.New("no match"))
	log.SecurityEvent(context.Background(), "forbidden", nil)

	entries := decodeLines(t, buf)
	require.Len(t, entries, 2)
	assert.Equal(t, true, entries[0]["security_event"])
	assert.Equal(t, "warn", entries[0]["level"])
	assert.Equal(t, "no match", entries[0]["error"])
	assert.NotContains(t, entries[1], "error")
}

func TestConsoleFormatIsNotJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	New(Options{Output: buf, Format: "Console"}).Info(context.Background(), "hello")
	assert.Contains(t, buf.String(), "hello")
	assert.False(t, json.Valid(bytes.TrimSpace(buf.Bytes())))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"invalid": zerolog.InfoLevel,
		" WARN ":  zerolog.WarnLevel,
		"debug":   zerolog.DebugLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}
