package telemetry

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerWritesJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "production", "api")

	logger.Debug().Msg("hidden")
	logger.Info().Str("job_id", "job-1").Msg("stylization queued")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected debug to be filtered, got %d lines", len(lines))
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("expected json log line: %v", err)
	}
	if entry["component"] != "api" || entry["job_id"] != "job-1" || entry["message"] != "stylization queued" {
		t.Fatalf("unexpected log entry %v", entry)
	}
}

func TestNewLoggerDevelopmentIsConsole(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "development", "worker")

	logger.Debug().Msg("visible")

	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("expected debug line in development, got %q", buf.String())
	}
	if json.Valid(buf.Bytes()) {
		t.Fatal("expected console output in development")
	}
}
