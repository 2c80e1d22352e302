package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{"WARN", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"trace", zerolog.NoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(Config{Level: "warn", Format: FormatJSON}, &buf)
	if err != nil {
		t.Fatalf("NewWithWriter: %v", err)
	}

	logger.Info().Msg("hidden")
	logger.Warn().Str("table", "prices").Msg("visible")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal(lines[0], &rec); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if rec["service"] != DefaultService {
		t.Errorf("service = %v, want %s", rec["service"], DefaultService)
	}
	if rec["table"] != "prices" || rec["message"] != "visible" {
		t.Errorf("unexpected record: %v", rec)
	}
	if _, ok := rec["time"]; !ok {
		t.Error("timestamp missing")
	}
}

func TestNewWithWriter_InvalidConfig(t *testing.T) {
	if _, err := NewWithWriter(Config{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := NewWithWriter(Config{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown format")
	}
}
