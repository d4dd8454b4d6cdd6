package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sarpel/BedtimeStoryTeller/internal/agent"
	"github.com/sarpel/BedtimeStoryTeller/internal/bus"
	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	"github.com/sarpel/BedtimeStoryTeller/internal/natsserver"
	"github.com/sarpel/BedtimeStoryTeller/internal/protocol"
)

func TestParseToggle(t *testing.T) {
	for _, in := range []string{"on", "ON", "yes"} {
		if v, err := parseToggle(in); err != nil || !v {
			t.Fatalf("parseToggle(%q) = %v, %v", in, v, err)
		}
	}
	if v, err := parseToggle("off"); err != nil || v {
		t.Fatalf("parseToggle(off) = %v, %v", v, err)
	}
	if _, err := parseToggle("maybe"); err == nil {
		t.Fatalf("expected error for unknown toggle")
	}
}

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2025, 1, 1, 20, 30, 0, 0, time.Local)
	data, _ := json.Marshal(agent.Event{Type: agent.EventStateChanged, Time: ts, From: agent.StateIdle, To: agent.StateGenerating})
	if got := formatEvent(data); got != "20:30:00 state idle -> generating" {
		t.Fatalf("formatEvent = %q", got)
	}
	data, _ = json.Marshal(agent.Event{Type: agent.EventError, Time: ts, Kind: agent.KindPlaybackStalled, Message: "stalled"})
	if got := formatEvent(data); !strings.Contains(got, "[playback_stalled] stalled") {
		t.Fatalf("formatEvent = %q", got)
	}
	if got := formatEvent([]byte("not json")); got != "not json" {
		t.Fatalf("formatEvent passthrough = %q", got)
	}
}

func TestCallAndPrint(t *testing.T) {
	srv, err := natsserver.Start(config.BusConfig{
		Enabled:  true,
		Embedded: true,
		Port:     -1,
		StoreDir: filepath.Join(t.TempDir(), "nats"),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	client, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 1000},
		"storyctl-test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(client.Close)

	_, err = client.Conn().Subscribe(protocol.SubjectTell, func(msg *nats.Msg) {
		var req protocol.TellRequest
		_ = json.Unmarshal(msg.Data, &req)
		reply := protocol.Reply{OK: false, Error: "storyteller is busy", Kind: string(agent.KindBusy)}
		if req.Prompt == "ok" {
			reply = protocol.Reply{OK: true, Data: json.RawMessage(`{"id":"s-1"}`)}
		}
		data, _ := json.Marshal(reply)
		_ = msg.Respond(data)
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	reply, err := call(ctx, client, protocol.SubjectTell, protocol.TellRequest{Prompt: "ok"}, time.Second)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	var out bytes.Buffer
	if err := printReply(&out, reply); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"id": "s-1"`) {
		t.Fatalf("printed %q", out.String())
	}

	if _, err := call(ctx, client, protocol.SubjectTell, protocol.TellRequest{Prompt: "again"}, time.Second); err == nil || !strings.Contains(err.Error(), "busy") {
		t.Fatalf("expected busy error, got %v", err)
	}

	if _, err := call(ctx, client, protocol.SubjectHistory, nil, time.Second); !errors.Is(err, bus.ErrNoStoryteller) {
		t.Fatalf("expected ErrNoStoryteller, got %v", err)
	}
}
