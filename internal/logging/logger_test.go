package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNewWriterEmitsJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(NewWriter(&buf, slog.LevelInfo), "pipeline")
	logger.Debug("hidden")
	logger.Info("alert emitted", "device_id", "ble_1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one json line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "alert emitted" || entry["component"] != "pipeline" || entry["service"] != "follower-watch" {
		t.Fatalf("unexpected entry %v", entry)
	}
}
