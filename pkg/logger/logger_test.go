package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }

func capture(level Level, format Format) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return New(Options{Output: buf, Level: level, Format: format, Now: fixedNow}), buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), line)
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{
		"debug":   LevelDebug,
		" INFO ":  LevelInfo,
		"warning": LevelWarn,
		"Error":   LevelError,
		"bogus":   LevelInfo,
	} {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, "UNKNOWN", Level(42).String())
}

func TestLogger_JSONLine(t *testing.T) {
	l, buf := capture(LevelInfo, FormatJSON)

	l.Debug("hidden")
	l.With(Component("store"), UserID("u-1")).Info("xp added", XPAmount(50), UserID("u-2"))

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, map[string]any{
		"time":      "2024-06-01T12:00:00Z",
		"level":     "INFO",
		"msg":       "xp added",
		"component": "store",
		"user_id":   "u-2",
		"xp_amount": float64(50),
	}, got[0])
	assert.True(t, strings.HasPrefix(buf.String(), `{"time":"2024-06-01T12:00:00Z","level":"INFO","msg":"xp added","component":"store","user_id":"u-2"`))
}

func TestLogger_WithDoesNotLeak(t *testing.T) {
	l, buf := capture(LevelDebug, FormatJSON)
	child := l.With(String("scope", "child"))
	l.Info("parent")
	child.Info("child")

	got := lines(t, buf)
	require.Len(t, got, 2)
	assert.NotContains(t, got[0], "scope")
	assert.Equal(t, "child", got[1]["scope"])
}

func TestLogger_TextFormat(t *testing.T) {
	l, buf := capture(LevelDebug, FormatText)
	l.Warn("rank api slow", RankID("Ajaw"), Err(errors.New("timeout")))

	assert.Equal(t, "2024-06-01T12:00:00Z WARN  rank api slow rank=Ajaw error=timeout\n", buf.String())
}

func TestLogger_Caller(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(Options{Output: buf, AddCaller: true, Now: fixedNow})
	l.Info("direct")
	l.Slog().Info("bridged")

	got := lines(t, buf)
	require.Len(t, got, 2)
	for _, m := range got {
		assert.Contains(t, m["caller"], "logger_test.go:")
	}
}

func TestLogger_SlogBridge(t *testing.T) {
	l, buf := capture(LevelInfo, FormatJSON)
	s := l.Slog().With("component", "eventbus").WithGroup("event")

	s.Debug("dropped")
	s.Error("handler failed", "type", "rank.promoted", "err", errors.New("boom"))

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "ERROR", got[0]["level"])
	assert.Equal(t, "eventbus", got[0]["component"])
	assert.Equal(t, "rank.promoted", got[0]["event.type"])
	assert.Equal(t, "boom", got[0]["event.err"])
}

func TestContextRoundTrip(t *testing.T) {
	l, buf := capture(LevelInfo, FormatJSON)
	ctx := WithContext(context.Background(), l.WithRequestID("req-7"))

	FromContext(ctx).Info("hello")
	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "req-7", got[0][RequestIDKey])

	assert.NotNil(t, FromContext(context.Background()))
}

func TestNop(t *testing.T) {
	l := Nop()
	assert.False(t, l.Enabled(LevelError))
	l.Error("nothing")
}
