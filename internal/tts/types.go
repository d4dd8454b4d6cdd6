// Package tts turns story paragraphs into raw 16-bit PCM.
package tts

import "context"

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
	Language  string
}

// Synthesizer is the contract for producing audio. The returned buffer is
// signed 16-bit little-endian PCM in the synthesizer's configured format.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) ([]byte, error)
}
