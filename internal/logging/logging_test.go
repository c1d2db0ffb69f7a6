package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/michaelbrown/crucible/internal/config"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewWithWriter(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	if err != nil {
		t.Fatal(err)
	}
	log.WithField("submission_id", "abc").Debug("picked up")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %q", buf.String())
	}
	if entry["submission_id"] != "abc" || entry["msg"] != "picked up" {
		t.Errorf("entry = %v", entry)
	}
}

func TestLevel(t *testing.T) {
	log, err := NewWithWriter(config.LogConfig{Level: "warn"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if log.GetLevel() != logrus.WarnLevel {
		t.Errorf("level = %s", log.GetLevel())
	}
}

func TestInvalidConfig(t *testing.T) {
	if _, err := NewWithWriter(config.LogConfig{Level: "loud"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for bad level")
	}
	if _, err := NewWithWriter(config.LogConfig{Format: "xml"}, &bytes.Buffer{}); err == nil {
		t.Error("expected error for bad format")
	}
}
