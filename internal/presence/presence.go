// Package presence announces this device on the bus and tracks the other
// storytellers that share it.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	"github.com/sarpel/BedtimeStoryTeller/internal/protocol"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// StatusFunc reports the local device state carried in each heartbeat.
type StatusFunc func() protocol.Heartbeat

// Device is what is known about one storyteller on the bus.
type Device struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	State     string    `json:"state"`
	Engine    string    `json:"engine,omitempty"`
	Listening bool      `json:"listening"`
	Session   string    `json:"session,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
	Healthy   bool      `json:"healthy"`
}

type Tracker struct {
	cfg    config.DeviceConfig
	conn   *nats.Conn
	status StatusFunc
	log    *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	devices map[string]*Device

	cancel context.CancelFunc
	wg     sync.WaitGroup
	sub    *nats.Subscription
	reg    metric.Registration
}

func NewTracker(ctx context.Context, cfg config.DeviceConfig, conn *nats.Conn, status StatusFunc, log *slog.Logger) (*Tracker, error) {
	ctx, cancel := context.WithCancel(ctx)
	t := &Tracker{
		cfg:     cfg,
		conn:    conn,
		status:  status,
		log:     log.With(slog.String("component", "presence")),
		now:     time.Now,
		devices: make(map[string]*Device),
		cancel:  cancel,
	}

	if err := t.initMetrics(); err != nil {
		t.log.Warn("failed to initialize metrics", slogError(err))
	}

	sub, err := conn.Subscribe(protocol.SubjectHeartbeatAll, t.handleHeartbeat)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe heartbeat: %w", err)
	}
	t.sub = sub

	if err := t.publish(); err != nil {
		t.log.Warn("failed to publish heartbeat", slogError(err))
	}

	t.wg.Add(1)
	go t.run(ctx)
	return t, nil
}

func (t *Tracker) Close() {
	t.cancel()
	t.wg.Wait()
	if t.sub != nil {
		_ = t.sub.Drain()
	}
	if t.reg != nil {
		_ = t.reg.Unregister()
	}
}

func (t *Tracker) run(ctx context.Context) {
	defer t.wg.Done()
	heartbeat := time.NewTicker(time.Duration(t.cfg.HeartbeatInterval) * time.Millisecond)
	defer heartbeat.Stop()
	health := time.NewTicker(time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := t.publish(); err != nil {
				t.log.Warn("failed to publish heartbeat", slogError(err))
			}
		case <-health.C:
			t.evaluateHealth()
		}
	}
}

func (t *Tracker) publish() error {
	hb := t.status()
	hb.DeviceID = t.cfg.ID
	hb.Role = t.cfg.Role
	hb.Timestamp = t.now().UTC()

	payload, err := json.Marshal(hb)
	if err != nil {
		return err
	}
	if err := t.conn.Publish(protocol.HeartbeatSubject(t.cfg.ID), payload); err != nil {
		return err
	}
	t.update(hb)
	return nil
}

func (t *Tracker) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.Heartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		t.log.Warn("invalid heartbeat message", slogError(err))
		return
	}
	if hb.DeviceID == "" {
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = t.now().UTC()
	}
	t.update(hb)
}

func (t *Tracker) update(hb protocol.Heartbeat) {
	t.mu.Lock()
	defer t.mu.Unlock()

	dev, ok := t.devices[hb.DeviceID]
	if !ok {
		dev = &Device{ID: hb.DeviceID}
		t.devices[hb.DeviceID] = dev
	}
	if hb.Timestamp.Before(dev.LastSeen) {
		return
	}
	if hb.Role != "" {
		dev.Role = hb.Role
	}
	dev.State = hb.State
	dev.Engine = hb.Engine
	dev.Listening = hb.Listening
	dev.Session = hb.Session
	dev.LastSeen = hb.Timestamp
	dev.Healthy = true
}

func (t *Tracker) evaluateHealth() {
	t.mu.Lock()
	defer t.mu.Unlock()

	timeout := time.Duration(t.cfg.HeartbeatTimeout) * time.Millisecond
	now := t.now()
	for _, dev := range t.devices {
		if now.Sub(dev.LastSeen) > timeout {
			dev.Healthy = false
		}
	}
}

// Healthy reports whether this device's own heartbeat is current.
func (t *Tracker) Healthy() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	dev, ok := t.devices[t.cfg.ID]
	return ok && dev.Healthy
}

// Devices returns every known device ordered by ID.
func (t *Tracker) Devices() []Device {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Device, 0, len(t.devices))
	for _, dev := range t.devices {
		out = append(out, *dev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Tracker) initMetrics() error {
	meter := otel.Meter("github.com/sarpel/BedtimeStoryTeller/presence")
	devices, err := meter.Int64ObservableGauge("storyteller.presence.devices", metric.WithDescription("Known storyteller devices"))
	if err != nil {
		return err
	}
	healthy, err := meter.Int64ObservableGauge("storyteller.presence.healthy", metric.WithDescription("Devices with a current heartbeat"))
	if err != nil {
		return err
	}
	t.reg, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		total, ok := t.counts()
		obs.ObserveInt64(devices, total)
		obs.ObserveInt64(healthy, ok)
		return nil
	}, devices, healthy)
	return err
}

func (t *Tracker) counts() (int64, int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var total, ok int64
	for _, dev := range t.devices {
		total++
		if dev.Healthy {
			ok++
		}
	}
	return total, ok
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
