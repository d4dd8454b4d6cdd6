package wakeword

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrEngineInitFailed = errors.New("wake engine initialization failed")
	ErrUnknownEngine    = errors.New("unknown wake engine")
	ErrNoEngine         = errors.New("no wake engine loaded")
	ErrNotReady         = errors.New("wake engine not ready")
	ErrClosed           = errors.New("wake engine manager closed")
)

// EngineInfo is a value snapshot of the resident engine. Callers never get a
// reference to the engine itself.
type EngineInfo struct {
	Name      string   `json:"name,omitempty"`
	Status    Status   `json:"status"`
	Keywords  []string `json:"keywords,omitempty"`
	Listening bool     `json:"listening"`
	Supported []string `json:"supported"`
}

// Manager keeps at most one engine constructed. All lifecycle operations are
// serialized by opMu; mu only guards the fields read by Info.
type Manager struct {
	registry Registry
	log      *slog.Logger

	opMu sync.Mutex

	mu     sync.RWMutex
	engine Engine
	name   string
	status Status
	closed bool

	detections metric.Int64Counter
	loads      metric.Int64Counter
}

func NewManager(registry Registry, log *slog.Logger) *Manager {
	m := &Manager{
		registry: registry,
		log:      log.With(slog.String("component", "wakeword-manager")),
		status:   StatusUninitialized,
	}
	meter := otel.Meter("github.com/sarpel/BedtimeStoryTeller/wakeword")
	var err error
	if m.detections, err = meter.Int64Counter("storyteller.wakeword.detections", metric.WithDescription("Wake words detected")); err != nil {
		m.log.Warn("failed to create detection counter", slogError(err))
	}
	if m.loads, err = meter.Int64Counter("storyteller.wakeword.loads", metric.WithDescription("Wake engine load attempts")); err != nil {
		m.log.Warn("failed to create load counter", slogError(err))
	}
	return m
}

// Load releases the resident engine, if any, and brings up the named one.
// On failure no engine is left loaded and the error wraps ErrEngineInitFailed.
func (m *Manager) Load(ctx context.Context, name string, cfg EngineConfig) (EngineInfo, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.isClosed() {
		return m.Info(), ErrClosed
	}
	return m.loadLocked(ctx, name, cfg)
}

// Switch is Load that keeps the resident engine when it already has the
// requested name.
func (m *Manager) Switch(ctx context.Context, name string, cfg EngineConfig) (EngineInfo, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.isClosed() {
		return m.Info(), ErrClosed
	}
	m.mu.RLock()
	same := m.engine != nil && m.name == name
	m.mu.RUnlock()
	if same {
		m.log.Info("wake engine already loaded", slog.String("engine", name))
		return m.Info(), nil
	}
	return m.loadLocked(ctx, name, cfg)
}

func (m *Manager) loadLocked(ctx context.Context, name string, cfg EngineConfig) (EngineInfo, error) {
	m.unloadLocked(ctx)

	if m.loads != nil {
		m.loads.Add(ctx, 1, metric.WithAttributes(attribute.String("engine", name)))
	}

	ctor, ok := m.registry[name]
	if !ok {
		m.setStatus(StatusError)
		return m.Info(), fmt.Errorf("%w: %w: %q", ErrEngineInitFailed, ErrUnknownEngine, name)
	}

	m.setStatus(StatusInitializing)
	engine, err := ctor(cfg, m.log)
	if err != nil {
		m.setStatus(StatusError)
		return m.Info(), fmt.Errorf("%w: construct %s: %w", ErrEngineInitFailed, name, err)
	}
	if err := engine.Initialize(ctx); err != nil {
		if relErr := engine.Release(ctx); relErr != nil {
			m.log.Warn("release after failed init", slog.String("engine", name), slogError(relErr))
		}
		m.setStatus(StatusError)
		return m.Info(), fmt.Errorf("%w: initialize %s: %w", ErrEngineInitFailed, name, err)
	}

	m.mu.Lock()
	m.engine = engine
	m.name = name
	m.status = StatusReady
	m.mu.Unlock()

	m.log.Info("wake engine loaded", slog.String("engine", name), slog.Any("keywords", engine.Keywords()))
	return m.Info(), nil
}

// unloadLocked stops and releases the resident engine. The reference is
// dropped even when stop or release fail.
func (m *Manager) unloadLocked(ctx context.Context) {
	m.mu.RLock()
	engine, name, status := m.engine, m.name, m.status
	m.mu.RUnlock()
	if engine == nil {
		return
	}

	if status == StatusListening || status == StatusError {
		if err := engine.StopListening(ctx); err != nil {
			m.log.Warn("stop listening during unload", slog.String("engine", name), slogError(err))
		}
	}
	if err := engine.Release(ctx); err != nil {
		m.log.Warn("release wake engine", slog.String("engine", name), slogError(err))
	}

	m.mu.Lock()
	m.engine = nil
	m.name = ""
	m.status = StatusUninitialized
	m.mu.Unlock()
	m.log.Info("wake engine released", slog.String("engine", name))
}

// StartDetection begins delivering detections to callback. Calling it while
// already listening is a no-op. The callback runs on the engine's goroutine
// and must not block.
func (m *Manager) StartDetection(ctx context.Context, callback func(Detection)) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.isClosed() {
		return ErrClosed
	}
	m.mu.RLock()
	engine, name, status := m.engine, m.name, m.status
	m.mu.RUnlock()

	if engine == nil {
		return ErrNoEngine
	}
	switch status {
	case StatusListening:
		return nil
	case StatusReady:
	default:
		return fmt.Errorf("%w: status %s", ErrNotReady, status)
	}

	onDetect := func(keyword string, confidence float64) {
		det := Detection{
			Keyword:    keyword,
			Confidence: confidence,
			Timestamp:  time.Now().UTC(),
			Engine:     name,
		}
		if m.detections != nil {
			m.detections.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("engine", name),
				attribute.String("keyword", keyword),
			))
		}
		m.log.Info("wake word detected", slog.String("keyword", keyword), slog.Float64("confidence", confidence))
		callback(det)
	}

	if err := engine.StartListening(ctx, onDetect); err != nil {
		if stopErr := engine.StopListening(ctx); stopErr != nil {
			m.log.Warn("cleanup after failed start", slogError(stopErr))
		}
		m.setStatus(StatusError)
		return fmt.Errorf("start listening on %s: %w", name, err)
	}
	m.setStatus(StatusListening)
	m.log.Info("wake detection started", slog.String("engine", name))
	return nil
}

// StopDetection stops listening. It is a no-op when nothing is listening.
func (m *Manager) StopDetection(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	engine, name, status := m.engine, m.name, m.status
	m.mu.RUnlock()

	if engine == nil || (status != StatusListening && status != StatusError) {
		return nil
	}
	if err := engine.StopListening(ctx); err != nil {
		m.setStatus(StatusError)
		return fmt.Errorf("stop listening on %s: %w", name, err)
	}
	m.setStatus(StatusReady)
	m.log.Info("wake detection stopped", slog.String("engine", name))
	return nil
}

// Unload releases the resident engine without closing the manager.
func (m *Manager) Unload(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.unloadLocked(ctx)
}

// Close releases the resident engine and refuses further loads.
func (m *Manager) Close(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.unloadLocked(ctx)
	m.mu.Lock()
	m.closed = true
	m.status = StatusStopped
	m.mu.Unlock()
}

// Info returns a snapshot of the resident engine.
func (m *Manager) Info() EngineInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := EngineInfo{
		Name:      m.name,
		Status:    m.status,
		Listening: m.status == StatusListening,
		Supported: m.registry.Names(),
	}
	if m.engine != nil {
		info.Keywords = append([]string(nil), m.engine.Keywords()...)
	}
	return info
}

// Simulate injects a detection into the resident engine when it supports
// manual triggering. It reports whether the detection was delivered.
func (m *Manager) Simulate(keyword string) bool {
	m.mu.RLock()
	engine, status := m.engine, m.status
	m.mu.RUnlock()

	trigger, ok := engine.(interface{ Trigger(string) })
	if !ok || status != StatusListening {
		return false
	}
	trigger.Trigger(keyword)
	return true
}

// Supported lists the engines that can be loaded.
func (m *Manager) Supported() []string {
	return m.registry.Names()
}

func (m *Manager) setStatus(status Status) {
	m.mu.Lock()
	m.status = status
	m.mu.Unlock()
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
