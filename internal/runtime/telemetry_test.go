package runtime

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestDeviceResourceCarriesIdentity(t *testing.T) {
	cfg := config.Default()
	cfg.Device.ID = "nursery"
	cfg.Device.Role = "speaker"
	res, err := deviceResource(context.Background(), cfg, "1.2.3")
	if err != nil {
		t.Fatal(err)
	}
	want := map[attribute.Key]string{
		"service.name":            "storyteller",
		"service.version":         "1.2.3",
		"service.instance.id":     "nursery",
		"storyteller.device.id":   "nursery",
		"storyteller.device.role": "speaker",
		"storyteller.llm.mode":    "mock",
	}
	set := res.Set()
	for key, value := range want {
		got, ok := set.Value(key)
		if !ok || got.AsString() != value {
			t.Errorf("%s = %q (present %v), want %q", key, got.AsString(), ok, value)
		}
	}
}

func TestSamplerRatio(t *testing.T) {
	cases := map[float64]string{
		1:    "AlwaysOnSampler",
		0:    "AlwaysOffSampler",
		0.25: "TraceIDRatioBased{0.25}",
	}
	for ratio, want := range cases {
		if got := sampler(ratio).Description(); !strings.Contains(got, want) {
			t.Errorf("sampler(%v) = %s, want root %s", ratio, got, want)
		}
	}
}
