package logutil

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLoggerSourceBaseName(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	logger.Info("hello", "k", 1)

	out := buf.String()
	assert.Contains(t, out, "source=logutil_test.go:")
	assert.Contains(t, out, "msg=hello")
	assert.Contains(t, out, "k=1")
}

func TestTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	slog.SetDefault(NewLogger(&buf, slog.LevelInfo))
	Trace("hidden")
	assert.Empty(t, buf.String())

	slog.SetDefault(NewLogger(&buf, LevelTrace))
	Trace("shown")
	assert.Contains(t, buf.String(), "level=TRACE")
	assert.Contains(t, buf.String(), "source=logutil_test.go:")
}

func TestLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Level(true))
	assert.Equal(t, slog.LevelInfo, Level(false))
}
