package common

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{TraceLevel, "TRACE"},
		{DebugLevel, "DEBUG"},
		{InfoLevel, "INFO"},
		{WarningLevel, "WARNING"},
		{ErrorLevel, "ERROR"},
		{CriticalLevel, "CRITICAL"},
		{ExternalLevel, "EXTERNAL"},
		{LogLevel(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			require.Equal(t, tt.expected, tt.level.String())
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, InfoLevel)
	require.NotNil(t, logger)
	require.Equal(t, InfoLevel, logger.GetLevel())
}

func TestLogger_SetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, InfoLevel)

	logger.SetLevel(DebugLevel)
	require.Equal(t, DebugLevel, logger.GetLevel())

	logger.Debug("worker %d picked up job %s", 2, "job-1")
	require.Contains(t, buf.String(), "worker 2 picked up job job-1")
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, WarningLevel)

	logger.Info("should not appear")
	require.Empty(t, buf.String())

	logger.Warning("admission gate saturated for set %d", 3)
	require.Contains(t, buf.String(), "admission gate saturated for set 3")
}

func TestLogger_Critical_NeverExits(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, InfoLevel)

	// Critical must log and return, never terminate the process.
	logger.Critical("reconfigure callback to %s exhausted retries", "client-9")
	require.Contains(t, buf.String(), `"critical":true`)
}

func TestLogger_WithClient(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, InfoLevel)

	child := logger.WithClient("client-42")
	child.External("client requested verbose tracing")

	out := buf.String()
	require.Contains(t, out, `"client_id":"client-42"`)
	require.Contains(t, out, `"external":true`)
}

func TestLogger_SetOutput(t *testing.T) {
	logger := NewLogger(&bytes.Buffer{}, InfoLevel)

	var redirected bytes.Buffer
	logger.SetOutput(&redirected)
	logger.Info("hello")

	require.True(t, strings.Contains(redirected.String(), "hello"))
}

func TestDefaultLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(&bytes.Buffer{})

	SetLevel(TraceLevel)
	require.Equal(t, TraceLevel, GetLevel())

	Trace("trace line")
	Debug("debug line")
	Info("info line")
	Warning("warning line")
	Error("error line")
	Critical("critical line")
	External("external line")

	out := buf.String()
	for _, want := range []string{"trace line", "debug line", "info line", "warning line", "error line", "critical line", "external line"} {
		require.Contains(t, out, want)
	}
}
