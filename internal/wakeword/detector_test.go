package wakeword

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeCapture struct {
	mu      sync.Mutex
	started int
	stopped int
	closed  int
}

func (c *fakeCapture) Start(onFrame func(pcm []byte)) error {
	c.mu.Lock()
	c.started++
	c.mu.Unlock()
	onFrame(make([]byte, 1024))
	return nil
}

func (c *fakeCapture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped++
	return nil
}

func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

const helperScript = `sh -c 'echo "{\"keyword\": \"porcupine\", \"confidence\": 0.9}"; echo "{\"keyword\": \"porcupine\", \"confidence\": 0.1}"; cat >/dev/null'`

func TestDetectorEngineLifecycle(t *testing.T) {
	ctx := context.Background()
	capture := &fakeCapture{}
	engine, err := newDetectorEngine("porcupine", EngineConfig{
		Command:     helperScript,
		Keywords:    []string{"porcupine"},
		Threshold:   0.5,
		FrameLength: 512,
	}, nil, newLogger())
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	engine.openCapture = func(sampleRate, channels, frameLength int) (Capture, error) {
		if sampleRate != 16000 || channels != 1 || frameLength != 512 {
			t.Errorf("unexpected capture format %d/%d/%d", sampleRate, channels, frameLength)
		}
		return capture, nil
	}

	if err := engine.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	hits := make(chan string, 4)
	if err := engine.StartListening(ctx, func(keyword string, confidence float64) {
		hits <- keyword
	}); err != nil {
		t.Fatalf("start listening: %v", err)
	}

	select {
	case kw := <-hits:
		if kw != "porcupine" {
			t.Fatalf("unexpected keyword %q", kw)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no detection from helper")
	}

	if err := engine.StopListening(ctx); err != nil {
		t.Fatalf("stop listening: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("low-confidence detection should be filtered, got %d extra", len(hits))
	}
	if err := engine.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if capture.started != 1 || capture.stopped != 1 || capture.closed != 1 {
		t.Fatalf("capture not released cleanly: %+v", capture)
	}
}

func TestDetectorStopAfterHelperExit(t *testing.T) {
	ctx := context.Background()
	capture := &fakeCapture{}
	engine, err := newDetectorEngine("openwakeword", EngineConfig{Command: "true", FrameLength: 1280}, nil, newLogger())
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	engine.openCapture = func(int, int, int) (Capture, error) { return capture, nil }
	if err := engine.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.StartListening(ctx, func(string, float64) {}); err != nil {
		t.Fatalf("start listening: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := engine.StopListening(ctx); err != nil {
		t.Fatalf("stop after helper exit: %v", err)
	}
	if capture.stopped != 1 {
		t.Fatalf("capture must be stopped even when the helper died, got %d", capture.stopped)
	}
}

func TestPorcupineRequiresAccessKey(t *testing.T) {
	if _, err := newPorcupine(EngineConfig{Command: "porcupine-helper"}, newLogger()); err == nil {
		t.Fatal("expected error without access key")
	}
}

func TestOpenWakeWordDefaults(t *testing.T) {
	engine, err := newOpenWakeWord(EngineConfig{Command: "oww-helper --model x"}, newLogger())
	if err != nil {
		t.Fatalf("new openwakeword: %v", err)
	}
	d := engine.(*detectorEngine)
	if d.cfg.FrameLength != 1280 || d.cfg.Threshold != 0.5 {
		t.Fatalf("unexpected defaults: %+v", d.cfg)
	}
	if len(d.args) != 3 || d.args[0] != "oww-helper" {
		t.Fatalf("unexpected args: %v", d.args)
	}
}
