package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "json", slog.LevelInfo).Info("hello", slog.String("device", "nursery"))
	if !strings.Contains(buf.String(), `"device":"nursery"`) {
		t.Fatalf("json output = %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, "text", slog.LevelWarn).Info("dropped")
	newLogger(&buf, "text", slog.LevelWarn).Warn("kept", slog.String("role", "speaker"))
	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "role=speaker") {
		t.Fatalf("text output = %q", out)
	}
}

func TestEnvOr(t *testing.T) {
	t.Setenv("STORYTELLER_CONFIG", "")
	if got := envOr("STORYTELLER_CONFIG", "storyteller.yaml"); got != "storyteller.yaml" {
		t.Fatalf("got %q", got)
	}
	t.Setenv("STORYTELLER_CONFIG", "/etc/storyteller.yaml")
	if got := envOr("STORYTELLER_CONFIG", "storyteller.yaml"); got != "/etc/storyteller.yaml" {
		t.Fatalf("got %q", got)
	}
}
