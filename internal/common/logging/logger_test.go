package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(t *testing.T, level LogLevel) (Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger, err := NewZapLogger(LogConfig{
		Level:  level,
		Output: &buf,
	})
	require.NoError(t, err)
	return logger, &buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  LogLevel
	}{
		{"DEBUG", DebugLevel},
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"WARN", WarnLevel},
		{"WARNING", WarnLevel},
		{"ERROR", ErrorLevel},
		{"garbage", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "INFO", InfoLevel.String())
	assert.Equal(t, "WARN", WarnLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
	assert.Equal(t, "UNKNOWN", LogLevel(99).String())
}

func TestZapAdapter_LevelFiltering(t *testing.T) {
	logger, buf := newBufferedLogger(t, WarnLevel)

	logger.Debug("debug line")
	logger.Info("info line")
	logger.Warn("warn line")
	logger.Error("error line", nil)

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "warn line")
	assert.Contains(t, out, "error line")
}

func TestZapAdapter_Fields(t *testing.T) {
	logger, buf := newBufferedLogger(t, InfoLevel)

	logger.Info("enrichment complete",
		String("business_key", "MPN-123"),
		Float64("score", 87.5),
	)

	out := buf.String()
	assert.Contains(t, out, "MPN-123")
	assert.Contains(t, out, "87.5")
}

func TestZapAdapter_WithFields(t *testing.T) {
	logger, buf := newBufferedLogger(t, InfoLevel)

	child := logger.WithFields(String("component", "dispatcher"))
	child.Info("message received")

	assert.Contains(t, buf.String(), "dispatcher")

	// Parent logger is unaffected
	buf.Reset()
	logger.Info("bare message")
	assert.NotContains(t, buf.String(), "dispatcher")
}

func TestZapAdapter_WithContext(t *testing.T) {
	logger, buf := newBufferedLogger(t, InfoLevel)

	ctx := ContextWith(context.Background(), "T1", "MPN-123", "exec-9")
	logger.WithContext(ctx).Info("step complete")

	out := buf.String()
	assert.Contains(t, out, "T1")
	assert.Contains(t, out, "MPN-123")
	assert.Contains(t, out, "exec-9")
}

func TestZapAdapter_WithContext_Empty(t *testing.T) {
	logger, _ := newBufferedLogger(t, InfoLevel)

	// A context without correlation values returns the same logger
	same := logger.WithContext(context.Background())
	assert.Equal(t, logger, same)
}

func TestZapAdapter_ErrorField(t *testing.T) {
	logger, buf := newBufferedLogger(t, InfoLevel)

	logger.Error("persist failed", assert.AnError)

	assert.Contains(t, buf.String(), assert.AnError.Error())
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	logger, buf := newBufferedLogger(t, InfoLevel)
	SetGlobalLogger(logger)

	Info("via global")
	assert.True(t, strings.Contains(buf.String(), "via global"))
}
