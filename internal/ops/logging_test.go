package ops

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fourochan/fourochan/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&config.Logging{Level: "info", Format: "text"}, &buf)

	log.Info("hello", "key", "value")

	out := buf.String()
	if !strings.Contains(out, "hello") {
		t.Errorf("Expected message in output, got %q", out)
	}
	if !strings.Contains(out, "key=value") {
		t.Errorf("Expected key=value in text output, got %q", out)
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&config.Logging{Level: "info", Format: "json"}, &buf)

	log.Info("hello", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("Expected valid JSON output, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("Expected key 'value', got %v", entry["key"])
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&config.Logging{Level: "warn", Format: "text"}, &buf)

	log.Debug("hidden debug")
	log.Info("hidden info")
	log.Warn("visible warn")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("Expected debug/info suppressed at warn level, got %q", out)
	}
	if !strings.Contains(out, "visible warn") {
		t.Errorf("Expected warn message, got %q", out)
	}
}

func TestLogger_WithComponent(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&config.Logging{Level: "info", Format: "text"}, &buf)

	log.WithComponent("relay").Info("connected")

	if !strings.Contains(buf.String(), "component=relay") {
		t.Errorf("Expected component field, got %q", buf.String())
	}
}

func TestLogger_IsDebugEnabled(t *testing.T) {
	log := NewLoggerWithWriter(&config.Logging{Level: "debug", Format: "text"}, &bytes.Buffer{})
	if !log.IsDebugEnabled() {
		t.Error("Expected debug enabled at debug level")
	}

	log = NewLoggerWithWriter(&config.Logging{Level: "info", Format: "text"}, &bytes.Buffer{})
	if log.IsDebugEnabled() {
		t.Error("Expected debug disabled at info level")
	}
}

func TestLogRelayConnection(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&config.Logging{Level: "debug", Format: "text"}, &buf)

	log.LogRelayConnection("wss://relay.example.com", "connected", nil)
	if !strings.Contains(buf.String(), "wss://relay.example.com") {
		t.Errorf("Expected relay URL in output, got %q", buf.String())
	}

	buf.Reset()
	log.LogRelayConnection("wss://relay.example.com", "error", fmt.Errorf("dial refused"))
	if !strings.Contains(buf.String(), "dial refused") {
		t.Errorf("Expected error in output, got %q", buf.String())
	}
}

func TestLogQuery(t *testing.T) {
	var buf bytes.Buffer
	log := NewLoggerWithWriter(&config.Logging{Level: "debug", Format: "text"}, &buf)

	log.LogQuery(3, 2, 42, 150*time.Millisecond)

	out := buf.String()
	if !strings.Contains(out, "responded=2") {
		t.Errorf("Expected responded count, got %q", out)
	}
	if !strings.Contains(out, "events=42") {
		t.Errorf("Expected event count, got %q", out)
	}
}
