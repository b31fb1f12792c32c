package observability

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultLoggingConfig(t *testing.T) {
	cfg := DefaultLoggingConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
	assert.False(t, cfg.AddSource)
}

func TestNewLogger(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.TraceLevel) })

	t.Run("creates logger with default config", func(t *testing.T) {
		logger := NewLogger(DefaultLoggingConfig())
		assert.Equal(t, zerolog.InfoLevel, logger.GetLevel())
	})

	t.Run("creates logger with debug level", func(t *testing.T) {
		logger := NewLogger(LoggingConfig{
			Level:  "debug",
			Format: "json",
			Output: "stdout",
		})
		assert.Equal(t, zerolog.DebugLevel, logger.GetLevel())
	})

	t.Run("creates logger with console format", func(t *testing.T) {
		logger := NewLogger(LoggingConfig{
			Level:  "warn",
			Format: "console",
			Output: "stderr",
		})
		assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())
	})

	t.Run("creates logger with source", func(t *testing.T) {
		logger := NewLogger(LoggingConfig{
			Level:     "error",
			Format:    "pretty",
			AddSource: true,
		})
		assert.Equal(t, zerolog.ErrorLevel, logger.GetLevel())
	})
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"WARNING", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"panic", zerolog.PanicLevel},
		{"unknown", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}

func TestIsValidLevel(t *testing.T) {
	assert.True(t, IsValidLevel("debug"))
	assert.True(t, IsValidLevel("WARN"))
	assert.False(t, IsValidLevel("verbose"))
	assert.False(t, IsValidLevel(""))
}

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	return logEntry
}

func TestWithCollectionContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	collLogger := WithCollectionContext(logger, "notes")
	collLogger.Info().Msg("item created")

	logEntry := decodeEntry(t, &buf)
	assert.Equal(t, "notes", logEntry["collection"])
	assert.Equal(t, "item created", logEntry["message"])
}

func TestWithRequestContext(t *testing.T) {
	t.Run("includes user", func(t *testing.T) {
		var buf bytes.Buffer
		reqLogger := WithRequestContext(zerolog.New(&buf), "req-1", "user-1")
		reqLogger.Info().Msg("x")

		logEntry := decodeEntry(t, &buf)
		assert.Equal(t, "req-1", logEntry["request_id"])
		assert.Equal(t, "user-1", logEntry["user_id"])
	})

	t.Run("omits empty user", func(t *testing.T) {
		var buf bytes.Buffer
		reqLogger := WithRequestContext(zerolog.New(&buf), "req-2", "")
		reqLogger.Info().Msg("x")

		logEntry := decodeEntry(t, &buf)
		assert.Equal(t, "req-2", logEntry["request_id"])
		assert.NotContains(t, logEntry, "user_id")
	})
}

func TestLoggerContextChaining(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	enriched := WithCollectionContext(logger, "notes")
	enriched = WithItemContext(enriched, "update", "n-1")
	enriched = WithTraceContext(enriched, "trace-1", "span-1")
	enriched.Info().Msg("chained context")

	logEntry := decodeEntry(t, &buf)
	assert.Equal(t, "notes", logEntry["collection"])
	assert.Equal(t, "update", logEntry["operation"])
	assert.Equal(t, "n-1", logEntry["item_id"])
	assert.Equal(t, "trace-1", logEntry["trace_id"])
	assert.Equal(t, "span-1", logEntry["span_id"])
}

func TestPrintfLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	pl := NewPrintfLogger(logger, "kafka", zerolog.WarnLevel)
	pl.Printf("writing %d messages\n", 3)

	logEntry := decodeEntry(t, &buf)
	assert.Equal(t, "writing 3 messages", logEntry["message"])
	assert.Equal(t, "kafka", logEntry["component"])
	assert.Equal(t, "warn", logEntry["level"])
	assert.True(t, pl.Verbose())

	quiet := NewPrintfLogger(zerolog.New(&buf).Level(zerolog.InfoLevel), "migrate", zerolog.InfoLevel)
	assert.False(t, quiet.Verbose())
}
