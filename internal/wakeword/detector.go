package wakeword

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-shellwords"
)

const frameQueueSize = 32

// detectorEngine streams microphone audio into a detector helper process and
// reads newline-delimited JSON detections back from it. Porcupine and
// openWakeWord only differ in their defaults and environment.
type detectorEngine struct {
	name        string
	args        []string
	env         []string
	cfg         EngineConfig
	log         *slog.Logger
	openCapture CaptureOpener

	capture Capture

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	dropped atomic.Int64
}

type detectorLine struct {
	Keyword    string  `json:"keyword"`
	Confidence float64 `json:"confidence"`
}

func newPorcupine(cfg EngineConfig, log *slog.Logger) (Engine, error) {
	if strings.TrimSpace(cfg.AccessKey) == "" {
		return nil, errors.New("porcupine requires an access key")
	}
	if cfg.FrameLength <= 0 {
		cfg.FrameLength = 512
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = []string{"porcupine"}
	}
	env := []string{"PICOVOICE_ACCESS_KEY=" + cfg.AccessKey}
	if len(cfg.Sensitivities) > 0 {
		env = append(env, "STORYTELLER_WAKE_SENSITIVITIES="+joinFloats(cfg.Sensitivities))
	}
	return newDetectorEngine("porcupine", cfg, env, log)
}

func newOpenWakeWord(cfg EngineConfig, log *slog.Logger) (Engine, error) {
	if cfg.FrameLength <= 0 {
		cfg.FrameLength = 1280
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.5
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = []string{"hey_jarvis"}
	}
	var env []string
	if cfg.ModelPath != "" {
		env = append(env, "STORYTELLER_WAKE_MODEL_PATH="+cfg.ModelPath)
	}
	return newDetectorEngine("openwakeword", cfg, env, log)
}

func newDetectorEngine(name string, cfg EngineConfig, env []string, log *slog.Logger) (*detectorEngine, error) {
	args, err := shellwords.NewParser().Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse %s command: %w", name, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("%s command empty", name)
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	env = append(env,
		"STORYTELLER_WAKE_KEYWORDS="+strings.Join(cfg.Keywords, ","),
		"STORYTELLER_WAKE_SAMPLE_RATE="+strconv.Itoa(cfg.SampleRate),
		"STORYTELLER_WAKE_FRAME_LENGTH="+strconv.Itoa(cfg.FrameLength),
	)
	return &detectorEngine{
		name:        name,
		args:        args,
		env:         env,
		cfg:         cfg,
		log:         log.With(slog.String("engine", name)),
		openCapture: openMalgoCapture,
	}, nil
}

func (d *detectorEngine) Keywords() []string { return d.cfg.Keywords }

func (d *detectorEngine) Initialize(ctx context.Context) error {
	if _, err := exec.LookPath(d.args[0]); err != nil {
		return fmt.Errorf("detector helper: %w", err)
	}
	capture, err := d.openCapture(d.cfg.SampleRate, 1, d.cfg.FrameLength)
	if err != nil {
		return err
	}
	d.capture = capture
	return nil
}

func (d *detectorEngine) StartListening(ctx context.Context, onDetect func(keyword string, confidence float64)) error {
	if d.capture == nil {
		return errors.New("capture not initialized")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(runCtx, d.args[0], d.args[1:]...)
	cmd.Env = append(os.Environ(), d.env...)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start detector helper: %w", err)
	}
	d.cmd, d.stdin, d.cancel = cmd, stdin, cancel

	frames := make(chan []byte, frameQueueSize)
	d.wg.Add(2)
	go d.pump(runCtx, frames)
	go d.readDetections(runCtx, stdout, onDetect)

	err = d.capture.Start(func(pcm []byte) {
		frame := make([]byte, len(pcm))
		copy(frame, pcm)
		select {
		case frames <- frame:
		default:
			d.dropped.Add(1)
		}
	})
	if err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	return nil
}

// pump copies captured frames into the helper's stdin.
func (d *detectorEngine) pump(ctx context.Context, frames <-chan []byte) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			if _, err := d.stdin.Write(frame); err != nil {
				if ctx.Err() == nil {
					d.log.Warn("detector helper stopped accepting audio", slogError(err))
				}
				return
			}
		}
	}
}

func (d *detectorEngine) readDetections(ctx context.Context, stdout io.Reader, onDetect func(string, float64)) {
	defer d.wg.Done()

	var last time.Time
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var hit detectorLine
		if err := json.Unmarshal(line, &hit); err != nil {
			d.log.Warn("invalid detector output", slogError(err))
			continue
		}
		if hit.Keyword == "" || hit.Confidence < d.cfg.Threshold {
			continue
		}
		now := time.Now()
		if d.cfg.Debounce > 0 && !last.IsZero() && now.Sub(last) < d.cfg.Debounce {
			continue
		}
		last = now
		onDetect(hit.Keyword, hit.Confidence)
	}
	if ctx.Err() == nil {
		d.log.Warn("detector helper exited", slog.Any("scan_error", scanner.Err()))
	}
}

func (d *detectorEngine) StopListening(ctx context.Context) error {
	var errs []error
	if d.capture != nil {
		if err := d.capture.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.stdin != nil {
		_ = d.stdin.Close()
	}
	d.wg.Wait()
	if d.cmd != nil {
		// The helper is killed by cancel; its exit status is expected to be non-zero.
		_ = d.cmd.Wait()
	}
	if dropped := d.dropped.Swap(0); dropped > 0 {
		d.log.Warn("dropped audio frames while listening", slog.Int64("frames", dropped))
	}
	d.cmd, d.stdin, d.cancel = nil, nil, nil
	return errors.Join(errs...)
}

func (d *detectorEngine) Release(ctx context.Context) error {
	if d.capture == nil {
		return nil
	}
	err := d.capture.Close()
	d.capture = nil
	return err
}

func joinFloats(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(parts, ",")
}
