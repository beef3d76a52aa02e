package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

func TestNewJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "debug", Format: "json", Output: &buf})

	l := Component(logger, "triage")
	l.Debug().Str("candidate", "unknown_20240101_1").Msg("queued")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["component"] != "triage" {
		t.Errorf("expected component field, got %v", entry["component"])
	}
	if entry["candidate"] != "unknown_20240101_1" {
		t.Errorf("expected candidate field, got %v", entry["candidate"])
	}
	if entry["level"] != "debug" {
		t.Errorf("expected debug level, got %v", entry["level"])
	}
}

func TestNewLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Format: "json", Output: &buf})

	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn line missing: %q", out)
	}
}

func TestNewUnknownLevelFallsBack(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "loud", Format: "json", Output: &buf})
	logger.Info().Msg("after")

	if !strings.Contains(buf.String(), "unknown log level") {
		t.Errorf("expected fallback warning, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "after") {
		t.Errorf("expected info to be enabled after fallback, got %q", buf.String())
	}
}

func TestAutoFormatOnBufferIsJSON(t *testing.T) {
	if useConsole("auto", &bytes.Buffer{}) {
		t.Error("a plain buffer is not a terminal; expected JSON")
	}
	if !useConsole("console", &bytes.Buffer{}) {
		t.Error("explicit console format should be honored")
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe(Options{Level: "debug"}); got != "level=debug format=auto" {
		t.Errorf("unexpected banner %q", got)
	}
	if got := Describe(Options{Level: "warn", Format: "json"}); got != "level=warn format=json" {
		t.Errorf("unexpected banner %q", got)
	}
}
