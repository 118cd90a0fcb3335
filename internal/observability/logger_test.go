package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "test-svc"})
	logger.Info().Str("k", "v").Msg("hello")

	out := buf.String()
	assert.Contains(t, out, `"service":"test-svc"`)
	assert.Contains(t, out, `"k":"v"`)
	assert.Contains(t, out, `"message":"hello"`)
}

func TestLogger_WithContext_AddsTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf, ServiceName: "test-svc"})
	ctx := ContextWithTraceID(context.Background(), "trace-123")

	logger.WithContext(ctx).Info().Msg("traced")
	assert.Contains(t, buf.String(), `"trace_id":"trace-123"`)
}

func TestTraceIDFromContext_EmptyWhenUnset(t *testing.T) {
	assert.Equal(t, "", TraceIDFromContext(context.Background()))
}

func TestParseLevel_UnknownDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "not-a-level", Format: "json", Output: &buf, ServiceName: "svc"})
	logger.Debug().Msg("should be suppressed at info level")
	assert.False(t, strings.Contains(buf.String(), "should be suppressed"))
}
