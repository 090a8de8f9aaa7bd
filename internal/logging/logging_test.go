package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/kumar-ayush101/prompt-scheduler/internal/config"
	"github.com/rs/zerolog"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	log.Info().Msg("hidden")
	log.Warn().Int64("job_id", 7).Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if ev["message"] != "shown" || ev["job_id"] != float64(7) {
		t.Errorf("event = %v", ev)
	}
	if _, ok := ev["time"]; !ok {
		t.Error("missing timestamp")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	if got := ParseLevel("debug", zerolog.InfoLevel); got != zerolog.DebugLevel {
		t.Errorf("debug -> %v", got)
	}
	if got := ParseLevel("Warning", zerolog.InfoLevel); got != zerolog.WarnLevel {
		t.Errorf("Warning -> %v", got)
	}
	if got := ParseLevel("loud", zerolog.ErrorLevel); got != zerolog.ErrorLevel {
		t.Errorf("unknown -> %v", got)
	}
}

func TestCronLogger(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	CronLogger(log).Error(errors.New("boom"), "panic", "entry", 3)

	var ev map[string]any
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatalf("not json: %v (%q)", err, buf.String())
	}
	if ev["message"] != "panic" || ev["error"] != "boom" || ev["entry"] != float64(3) {
		t.Errorf("event = %v", ev)
	}
}
