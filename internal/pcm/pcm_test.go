package pcm

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeWAV(t *testing.T, data []byte, f Format) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := EncodeWAV(file, data, f); err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	file.Close()
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func samples(vals ...int16) []byte {
	out := make([]byte, len(vals)*2)
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestWAVRoundTripSameFormat(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1}
	in := samples(0, 1000, -1000, 32767, -32768)
	raw := writeWAV(t, in, f)
	if !IsWAV(raw) {
		t.Fatal("encoded data not recognised as wav")
	}
	out, err := FromWAV(raw, f)
	if err != nil {
		t.Fatalf("FromWAV: %v", err)
	}
	if string(out) != string(in) {
		t.Fatalf("pcm changed: %v != %v", out, in)
	}
}

func TestFromWAVConvertsFormat(t *testing.T) {
	src := Format{SampleRate: 32000, Channels: 2}
	// 4 stereo frames
	in := samples(100, 300, 100, 300, 100, 300, 100, 300)
	raw := writeWAV(t, in, src)

	out, err := FromWAV(raw, Format{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("FromWAV: %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("len = %d, want 2 mono frames", len(out))
	}
	if v := int16(binary.LittleEndian.Uint16(out)); v != 200 {
		t.Fatalf("first sample = %d, want 200", v)
	}
}

func TestIsWAVRejectsRawPCM(t *testing.T) {
	if IsWAV(samples(1, 2, 3, 4, 5, 6)) {
		t.Fatal("raw pcm detected as wav")
	}
}

func TestDurationAndSilence(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1}
	if d := f.Duration(32000); d != time.Second {
		t.Fatalf("duration = %v", d)
	}
	if n := len(f.Silence(500 * time.Millisecond)); n != 16000 {
		t.Fatalf("silence bytes = %d", n)
	}
}
