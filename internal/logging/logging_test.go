package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNew_LevelAndFields(t *testing.T) {
	var buf bytes.Buffer
	l := Component(New(&buf, "warn", false), "hub")

	l.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at warn level, got %q", buf.String())
	}

	l.Warn().Str("channel", "chat.1").Msg("slow consumer")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	if entry["component"] != "hub" || entry["channel"] != "chat.1" || entry["level"] != "warn" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "loud", false)
	l.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug should be filtered at default level")
	}
	l.Info().Msg("shown")
	if buf.Len() == 0 {
		t.Fatalf("info should be written at default level")
	}
}
