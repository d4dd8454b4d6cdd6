package wakeword

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MockEngine fires detections on a timer or on Trigger. It stands in for a
// microphone on development boards.
type MockEngine struct {
	cfg EngineConfig
	log *slog.Logger

	mu       sync.Mutex
	onDetect func(string, float64)
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newMockEngine(cfg EngineConfig, log *slog.Logger) (Engine, error) {
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = []string{"porcupine"}
	}
	return &MockEngine{cfg: cfg, log: log.With(slog.String("engine", "mock"))}, nil
}

func (m *MockEngine) Keywords() []string { return m.cfg.Keywords }

func (m *MockEngine) Initialize(ctx context.Context) error { return nil }

func (m *MockEngine) StartListening(ctx context.Context, onDetect func(string, float64)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.onDetect = onDetect
	if m.cfg.MockInterval <= 0 {
		return nil
	}
	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.MockInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				m.Trigger(m.cfg.Keywords[0])
			}
		}
	}()
	return nil
}

// Trigger delivers a detection as if the keyword had been heard. It does
// nothing unless the engine is listening.
func (m *MockEngine) Trigger(keyword string) {
	m.mu.Lock()
	onDetect := m.onDetect
	m.mu.Unlock()
	if onDetect != nil {
		onDetect(keyword, 1.0)
	}
}

func (m *MockEngine) StopListening(ctx context.Context) error {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.onDetect = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	return nil
}

func (m *MockEngine) Release(ctx context.Context) error { return nil }
