package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/mattn/go-shellwords"
	"github.com/sarpel/BedtimeStoryTeller/internal/pcm"
	"github.com/sarpel/BedtimeStoryTeller/internal/provider"
)

const execProvider = "tts-exec"

type execSynth struct {
	cmd    []string
	format pcm.Format
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	Language   string `json:"language,omitempty"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// NewExecSynth runs command once per paragraph. The request is written to
// stdin as JSON; stdout carries newline-delimited JSON objects holding base64
// PCM chunks, the last one marked final.
func NewExecSynth(command string, sampleRate, channels int) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, format: pcm.Format{SampleRate: sampleRate, Channels: channels}}, nil
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) ([]byte, error) {
	data, err := json.Marshal(execRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		Language:   req.Language,
		SampleRate: e.format.SampleRate,
		Channels:   e.format.Channels,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, provider.Fatal(execProvider, provider.KindUnavailable, err)
	}

	var audio bytes.Buffer
	var decodeErr error
	final := false
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			decodeErr = fmt.Errorf("decode response: %w", err)
			break
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			decodeErr = fmt.Errorf("decode pcm: %w", err)
			break
		}
		audio.Write(chunk)
		if resp.Final {
			final = true
			break
		}
	}
	scanErr := scanner.Err()
	if decodeErr != nil || final {
		// Drain so a helper still writing can exit.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case decodeErr != nil:
		return nil, provider.Fatal(execProvider, provider.KindInvalid, decodeErr)
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) && stderr.Len() > 0 {
			waitErr = fmt.Errorf("%w: %s", waitErr, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, provider.Recoverable(execProvider, provider.KindUnavailable, waitErr)
	case scanErr != nil:
		return nil, provider.Recoverable(execProvider, provider.KindUnavailable, scanErr)
	}
	out := audio.Bytes()
	if pcm.IsWAV(out) {
		converted, err := pcm.FromWAV(out, e.format)
		if err != nil {
			return nil, provider.Fatal(execProvider, provider.KindInvalid, err)
		}
		return converted, nil
	}
	return out, nil
}
