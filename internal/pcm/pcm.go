// Package pcm converts between WAV containers and the raw 16-bit little-endian
// PCM the pipeline moves around.
package pcm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Format describes raw signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) bytesPerSecond() int { return f.SampleRate * f.Channels * 2 }

// Duration returns how long n bytes of audio in this format play.
func (f Format) Duration(n int) time.Duration {
	if f.bytesPerSecond() == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(f.bytesPerSecond())
}

// Silence returns d worth of zeroed samples.
func (f Format) Silence(d time.Duration) []byte {
	frames := int(d.Seconds() * float64(f.SampleRate))
	return make([]byte, frames*2*f.Channels)
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// FromWAV decodes a WAV file and converts it to the target format.
func FromWAV(data []byte, target Format) ([]byte, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid wav data")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return nil, errors.New("wav missing format")
	}
	samples := to16(buf.Data, int(dec.BitDepth))
	src := Format{SampleRate: buf.Format.SampleRate, Channels: buf.Format.NumChannels}
	samples = remix(samples, src.Channels, target.Channels)
	samples = resample(samples, target.Channels, src.SampleRate, target.SampleRate)
	return encode(samples), nil
}

// EncodeWAV writes raw PCM in format f as a WAV file.
func EncodeWAV(w io.WriteSeeker, data []byte, f Format) error {
	if len(data)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate}, SourceBitDepth: 16}
	buffer.Data = decode(data)

	enc := wav.NewEncoder(w, f.SampleRate, 16, f.Channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

func to16(data []int, depth int) []int {
	switch {
	case depth == 8:
		for i, v := range data {
			data[i] = (v - 128) << 8
		}
	case depth > 16:
		shift := uint(depth - 16)
		for i, v := range data {
			data[i] = v >> shift
		}
	}
	return data
}

// remix converts between mono and interleaved multi-channel audio by
// averaging or duplicating.
func remix(samples []int, from, to int) []int {
	if from == to || to <= 0 {
		return samples
	}
	frames := len(samples) / from
	out := make([]int, frames*to)
	for f := 0; f < frames; f++ {
		sum := 0
		for c := 0; c < from; c++ {
			sum += samples[f*from+c]
		}
		mean := sum / from
		for c := 0; c < to; c++ {
			out[f*to+c] = mean
		}
	}
	return out
}

// resample uses linear interpolation.
func resample(samples []int, channels, from, to int) []int {
	if from == to || to <= 0 || channels <= 0 {
		return samples
	}
	frames := len(samples) / channels
	if frames == 0 {
		return samples
	}
	outFrames := int(int64(frames) * int64(to) / int64(from))
	out := make([]int, outFrames*channels)
	for f := 0; f < outFrames; f++ {
		pos := float64(f) * float64(from) / float64(to)
		i := int(pos)
		frac := pos - float64(i)
		j := i + 1
		if j >= frames {
			j = frames - 1
		}
		for c := 0; c < channels; c++ {
			a := float64(samples[i*channels+c])
			b := float64(samples[j*channels+c])
			out[f*channels+c] = int(a + (b-a)*frac)
		}
	}
	return out
}

func decode(data []byte) []int {
	samples := make([]int, len(data)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(data[i*2:])))
	}
	return samples
}

func encode(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
