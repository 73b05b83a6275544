package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestLoggerAddsServiceAndRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "worker", "info")

	logger.Info("stage_started", "document_id", "doc-1", "provider_key", "sk-123")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if record["service"] != "worker" {
		t.Fatalf("expected service attr, got %v", record["service"])
	}
	if record["provider_key"] != redacted {
		t.Fatalf("expected redacted key, got %v", record["provider_key"])
	}
	if record["msg"] != "stage_started" {
		t.Fatalf("unexpected msg %v", record["msg"])
	}
}

func TestLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "api", "warn")
	logger.Info("ignored")
	if buf.Len() != 0 {
		t.Fatalf("info record should be filtered at warn level")
	}
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level parsing")
	}
}
