package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/platinummonkey/hub/pkg/contextkeys"
)

// logLine is the subset of slog's JSON output the tests inspect
type logLine map[string]interface{}

func decodeLine(t *testing.T, buf *bytes.Buffer) logLine {
	t.Helper()
	var line logLine
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("Failed to unmarshal log line %q: %v", buf.String(), err)
	}
	return line
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.Debug("debug message")
	if buf.Len() > 0 {
		t.Error("Debug message should not be logged at Info level")
	}

	logger.Info("info message")
	line := decodeLine(t, &buf)
	if line["level"] != "INFO" {
		t.Errorf("Expected level INFO, got %v", line["level"])
	}
	if line["msg"] != "info message" {
		t.Errorf("Expected msg 'info message', got %v", line["msg"])
	}

	buf.Reset()
	logger.Errorf("failed %d times", 3)
	line = decodeLine(t, &buf)
	if line["msg"] != "failed 3 times" {
		t.Errorf("Expected formatted message, got %v", line["msg"])
	}
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("tenant_id", 4).
		WithFields(map[string]interface{}{"permission": "tickets.view"}).
		WithError(errors.New("store unavailable")).
		Warn("decision failed")

	line := decodeLine(t, &buf)
	if line["tenant_id"] != float64(4) {
		t.Errorf("Expected tenant_id 4, got %v", line["tenant_id"])
	}
	if line["permission"] != "tickets.view" {
		t.Errorf("Expected permission field, got %v", line["permission"])
	}
	if line["error"] != "store unavailable" {
		t.Errorf("Expected error field, got %v", line["error"])
	}
}

func TestLogger_WithNilError(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	if logger.WithError(nil) != logger {
		t.Error("WithError(nil) should return the same logger")
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), base)
	ctx = contextkeys.WithRequestID(ctx, "req-123")
	ctx = contextkeys.WithUserID(ctx, "42")

	FromContext(ctx).Info("handled")

	line := decodeLine(t, &buf)
	if line["request_id"] != "req-123" {
		t.Errorf("Expected request_id, got %v", line["request_id"])
	}
	if line["user_id"] != "42" {
		t.Errorf("Expected user_id, got %v", line["user_id"])
	}
}

func TestGetLogger_Fallback(t *testing.T) {
	if GetLogger(context.Background()) == nil {
		t.Fatal("GetLogger should never return nil")
	}
}

func TestLogLevel_String(t *testing.T) {
	cases := map[LogLevel]string{
		DebugLevel: "DEBUG",
		InfoLevel:  "INFO",
		WarnLevel:  "WARN",
		ErrorLevel: "ERROR",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("LogLevel(%d).String() = %s, want %s", level, got, want)
		}
	}
}
