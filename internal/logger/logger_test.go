package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rate-limit-engine/internal/domain"
)

func newBufferLogger(level logrus.Level) (*StructuredLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	return &StructuredLogger{
		logger: &logrus.Logger{
			Out:       &buf,
			Formatter: &logrus.JSONFormatter{},
			Level:     level,
		},
		fields: make(logrus.Fields),
	}, &buf
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		format   string
		expected logrus.Level
	}{
		{name: "Debug level JSON format", level: "debug", format: "json", expected: logrus.DebugLevel},
		{name: "Info level text format", level: "info", format: "text", expected: logrus.InfoLevel},
		{name: "Invalid level defaults to info", level: "invalid", format: "json", expected: logrus.InfoLevel},
		{name: "Warn level", level: "warn", format: "json", expected: logrus.WarnLevel},
		{name: "Error level", level: "error", format: "json", expected: logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.level, tt.format)
			structLogger, ok := logger.(*StructuredLogger)
			require.True(t, ok)
			assert.Equal(t, tt.expected, structLogger.logger.GetLevel())
		})
	}
}

func TestStructuredLogger_LogLevels(t *testing.T) {
	structLogger, buf := newBufferLogger(logrus.DebugLevel)

	tests := []struct {
		name     string
		logFunc  func()
		expected string
	}{
		{
			name:     "Debug log",
			logFunc:  func() { structLogger.Debug("Debug message", map[string]interface{}{"key": "value"}) },
			expected: "debug",
		},
		{
			name:     "Info log",
			logFunc:  func() { structLogger.Info("Info message", map[string]interface{}{"key": "value"}) },
			expected: "info",
		},
		{
			name:     "Warn log",
			logFunc:  func() { structLogger.Warn("Warn message", map[string]interface{}{"key": "value"}) },
			expected: "warning",
		},
		{
			name: "Error log",
			logFunc: func() {
				structLogger.Error("Error message", errors.New("test error"), map[string]interface{}{"key": "value"})
			},
			expected: "error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.logFunc()

			output := buf.String()
			assert.Contains(t, output, tt.expected)
			assert.Contains(t, output, "component")
			assert.Contains(t, output, "admission_engine")
		})
	}
}

func TestStructuredLogger_SkipsDisabledLevels(t *testing.T) {
	structLogger, buf := newBufferLogger(logrus.WarnLevel)

	structLogger.Debug("hidden", nil)
	structLogger.Info("hidden", nil)

	assert.Empty(t, buf.String())
}

func TestStructuredLogger_WithContext(t *testing.T) {
	structLogger, buf := newBufferLogger(logrus.DebugLevel)

	ctx := ContextWithRequestInfo(context.Background(), "req-123", "cl-key-123456789", "192.168.1.1", "test-agent")
	structLogger.WithContext(ctx).Info("Test message with context", nil)

	output := buf.String()
	assert.Contains(t, output, "req-123")
	assert.Contains(t, output, "192.168.1.1")
	assert.Contains(t, output, "cl-key-1***")
	assert.NotContains(t, output, "cl-key-123456789")
	assert.Contains(t, output, "test-agent")
}

func TestStructuredLogger_LogAdmissionEvent(t *testing.T) {
	structLogger, buf := newBufferLogger(logrus.DebugLevel)
	rule := domain.MustRule("get:/api", "1m", 10, false)

	tests := []struct {
		name     string
		decision *domain.Decision
		expected string
	}{
		{
			name:     "Allowed request",
			decision: &domain.Decision{Allowed: true, Rule: &rule, Result: domain.AdmissionResult{Success: true, Remaining: 4}},
			expected: "Rate limit check passed",
		},
		{
			name:     "Blocked request",
			decision: &domain.Decision{Allowed: false, Rule: &rule},
			expected: "Rate limit exceeded",
		},
		{
			name:     "Exempt request",
			decision: &domain.Decision{Allowed: true, Exempt: true},
			expected: "Request exempt from rate limiting",
		},
	}

	identity := domain.Identity{
		ClientID: "cl-key-a",
		ClientIP: netip.MustParseAddr("10.0.0.1"),
		HTTPVerb: "GET",
		Path:     "/api/values",
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			structLogger.LogAdmissionEvent(identity, tt.decision, nil)

			output := buf.String()
			assert.Contains(t, output, tt.expected)
			assert.Contains(t, output, "10.0.0.1")
			assert.Contains(t, output, "/api/values")
			assert.Contains(t, output, "cl-key-a***")
			if tt.decision.Rule != nil {
				assert.Contains(t, output, "get:/api")
			}
		})
	}
}

func TestStructuredLogger_LogStorageEvent(t *testing.T) {
	structLogger, buf := newBufferLogger(logrus.DebugLevel)

	structLogger.LogStorageEvent("CONSUME", "crlc:10.0.0.1:1m", true, 1.5, nil)
	assert.Contains(t, buf.String(), "latency_ms")
	assert.Contains(t, buf.String(), "crlc:10.0.0.1:1m")

	buf.Reset()
	structLogger.LogStorageEvent("RESET", "crlc:10.0.0.1:1m", false, 0, errors.New("connection failed"))
	assert.Contains(t, buf.String(), "connection failed")
}

func TestStructuredLogger_LogHTTPRequest(t *testing.T) {
	structLogger, buf := newBufferLogger(logrus.InfoLevel)

	structLogger.LogHTTPRequest("POST", "/v1/admit", 429, 1500*time.Microsecond, nil)
	assert.Contains(t, buf.String(), "HTTP request completed")
	assert.Contains(t, buf.String(), `"latency_ms":1.5`)
	assert.Contains(t, buf.String(), `"status":429`)

	buf.Reset()
	structLogger.LogHTTPRequest("GET", "/health", 503, time.Millisecond, nil)
	assert.Contains(t, buf.String(), "HTTP request failed")
}

func TestStructuredLogger_LogConfigEvent(t *testing.T) {
	structLogger, buf := newBufferLogger(logrus.InfoLevel)

	structLogger.LogConfigEvent("policy_reload", map[string]interface{}{"file": "policies.yaml"})

	assert.Contains(t, buf.String(), "policy_reload")
	assert.Contains(t, buf.String(), "policies.yaml")
}

func TestContextWithRequestInfo(t *testing.T) {
	ctx := ContextWithRequestInfo(context.Background(), "req-456", "client-1", "10.0.0.1", "Mozilla/5.0")

	assert.Equal(t, "req-456", ctx.Value(RequestIDKey))
	assert.Equal(t, "client-1", ctx.Value(ClientIDKey))
	assert.Equal(t, "10.0.0.1", ctx.Value(ClientIPKey))
	assert.Equal(t, "Mozilla/5.0", ctx.Value(UserAgentKey))

	anonymous := ContextWithRequestInfo(context.Background(), "req-1", "", "", "agent")
	assert.Nil(t, anonymous.Value(ClientIDKey))
	assert.Nil(t, anonymous.Value(ClientIPKey))
}

func TestGetRequestID(t *testing.T) {
	tests := []struct {
		name     string
		ctx      context.Context
		expected string
	}{
		{name: "Nil context", ctx: nil, expected: ""},
		{name: "Context without request ID", ctx: context.Background(), expected: ""},
		{name: "Context with request ID", ctx: context.WithValue(context.Background(), RequestIDKey, "req-789"), expected: "req-789"},
		{name: "Context with invalid request ID type", ctx: context.WithValue(context.Background(), RequestIDKey, 123), expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetRequestID(tt.ctx))
		})
	}
}

func TestMaskClientID(t *testing.T) {
	assert.Equal(t, "", MaskClientID(""))
	assert.Equal(t, "short***", MaskClientID("short"))
	assert.Equal(t, "exactly8***", MaskClientID("exactly8"))
	assert.Equal(t, "verylong***", MaskClientID("verylongclientid"))
}

func TestStructuredLogger_JSONFormat(t *testing.T) {
	structLogger, buf := newBufferLogger(logrus.InfoLevel)

	structLogger.Info("Test JSON format", map[string]interface{}{
		"test_field": "test_value",
		"number":     123,
	})

	var logEntry map[string]interface{}
	err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &logEntry)
	require.NoError(t, err)

	assert.Contains(t, logEntry, "msg")
	assert.Contains(t, logEntry, "level")
	assert.Equal(t, "admission_engine", logEntry["component"])
	assert.Equal(t, "test_value", logEntry["test_field"])
	assert.Equal(t, float64(123), logEntry["number"])
}

func TestNewLoggerWithOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithOutput("info", "json", &buf)

	logger.Info("hello", nil)

	assert.Contains(t, buf.String(), `"message":"hello"`)
}
