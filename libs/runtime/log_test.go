package runtime

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewLoggerToLevelAndServiceField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "reservation-service", "warn")
	logger.Info("hidden")
	logger.Warn("shown", "order_id", "o-1")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("expected exactly one json line, got %q: %v", buf.String(), err)
	}
	if entry["service"] != "reservation-service" || entry["order_id"] != "o-1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("") != slog.LevelInfo {
		t.Fatalf("unexpected level parsing")
	}
}
