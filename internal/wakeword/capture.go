package wakeword

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Capture delivers 16-bit little-endian PCM from a microphone. onFrame runs on
// the audio driver's thread and must return quickly.
type Capture interface {
	Start(onFrame func(pcm []byte)) error
	Stop() error
	Close() error
}

// CaptureOpener opens a capture device for the given format.
type CaptureOpener func(sampleRate, channels, frameLength int) (Capture, error)

type malgoCapture struct {
	audioContext *malgo.AllocatedContext
	device       *malgo.Device

	mu      sync.Mutex
	onFrame func(pcm []byte)
}

func openMalgoCapture(sampleRate, channels, frameLength int) (Capture, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(string) {})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	c := &malgoCapture{audioContext: audioCtx}

	format := malgo.FormatS16
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Capture.Format = format
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.Alsa.NoMMap = 1
	deviceConfig.PerformanceProfile = malgo.LowLatency
	deviceConfig.PeriodSizeInFrames = uint32(frameLength)
	deviceConfig.Periods = 3

	c.device, err = malgo.InitDevice(audioCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(input) < n || n == 0 {
				return
			}
			c.mu.Lock()
			onFrame := c.onFrame
			c.mu.Unlock()
			if onFrame != nil {
				onFrame(input[:n])
			}
		},
	})
	if err != nil {
		_ = audioCtx.Uninit()
		audioCtx.Free()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	return c, nil
}

func (c *malgoCapture) Start(onFrame func(pcm []byte)) error {
	c.mu.Lock()
	c.onFrame = onFrame
	c.mu.Unlock()

	if c.device == nil {
		return fmt.Errorf("capture device not initialized")
	}
	if c.device.IsStarted() {
		return nil
	}
	if err := c.device.Start(); err != nil {
		return fmt.Errorf("start capture device: %w", err)
	}
	return nil
}

func (c *malgoCapture) Stop() error {
	c.mu.Lock()
	c.onFrame = nil
	c.mu.Unlock()

	if c.device == nil || !c.device.IsStarted() {
		return nil
	}
	if err := c.device.Stop(); err != nil {
		return fmt.Errorf("stop capture device: %w", err)
	}
	return nil
}

func (c *malgoCapture) Close() error {
	c.mu.Lock()
	c.onFrame = nil
	c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	if c.audioContext != nil {
		err := c.audioContext.Uninit()
		c.audioContext.Free()
		c.audioContext = nil
		return err
	}
	return nil
}
