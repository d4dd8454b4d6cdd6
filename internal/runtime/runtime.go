// Package runtime wires the storyteller daemon together and owns its
// lifecycle.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sarpel/BedtimeStoryTeller/internal/agent"
	"github.com/sarpel/BedtimeStoryTeller/internal/bus"
	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	"github.com/sarpel/BedtimeStoryTeller/internal/control"
	"github.com/sarpel/BedtimeStoryTeller/internal/eventstore"
	"github.com/sarpel/BedtimeStoryTeller/internal/llm"
	"github.com/sarpel/BedtimeStoryTeller/internal/natsserver"
	"github.com/sarpel/BedtimeStoryTeller/internal/player"
	"github.com/sarpel/BedtimeStoryTeller/internal/presence"
	"github.com/sarpel/BedtimeStoryTeller/internal/protocol"
	"github.com/sarpel/BedtimeStoryTeller/internal/safety"
	"github.com/sarpel/BedtimeStoryTeller/internal/tts"
	"github.com/sarpel/BedtimeStoryTeller/internal/wakeword"
)

type Runtime struct {
	cfg     config.Config
	version string
	logger  *slog.Logger

	httpServer    *http.Server
	metricsServer *http.Server
	metrics       http.Handler

	bus      *bus.Client
	store    *eventstore.Store
	agent    *agent.Orchestrator
	engines  *wakeword.Manager
	control  *control.Service
	presence *presence.Tracker

	closers []func(context.Context) error
	ready   atomic.Bool
	wg      sync.WaitGroup
}

// New prepares a runtime; version is reported in telemetry and /status.
func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Start brings every component up, serves until ctx is cancelled and then
// tears everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(ctx, r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.metrics = tel.metrics
	r.onClose("telemetry", tel.Shutdown)
	defer r.close()

	if err := r.startBus(ctx); err != nil {
		return err
	}

	store, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	r.store = store
	r.onClose("event store", func(context.Context) error { return store.Close() })

	if err := r.startAgent(ctx); err != nil {
		return err
	}

	if r.bus != nil {
		if err := r.startControl(ctx); err != nil {
			return err
		}
	}

	if r.engines != nil && r.cfg.Wakeword.ListenOnStart {
		if err := r.agent.StartListening(ctx); err != nil {
			r.logger.Warn("failed to start listening", slogError(err))
		}
	}

	addr := r.startHTTP()
	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	return nil
}

func (r *Runtime) onClose(name string, fn func(context.Context) error) {
	r.closers = append(r.closers, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

func (r *Runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			r.logger.Error("shutdown error", slogError(err))
		}
	}
	r.closers = nil
	r.wg.Wait()
}

func (r *Runtime) startBus(ctx context.Context) error {
	if !r.cfg.Bus.Enabled {
		r.logger.Info("bus disabled; remote control unavailable")
		return nil
	}
	busCfg := r.cfg.Bus

	srv, err := natsserver.Start(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS: %w", err)
	}
	if srv != nil {
		busCfg.Servers = []string{srv.ClientURL()}
		r.onClose("nats server", func(context.Context) error {
			srv.Shutdown()
			return nil
		})
	}

	client, err := bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.bus = client
	r.onClose("bus", func(context.Context) error {
		client.Close()
		return nil
	})
	return nil
}

func (r *Runtime) startAgent(ctx context.Context) error {
	gen, err := llm.NewFromConfig(ctx, r.cfg.LLM, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create story generator: %w", err)
	}
	synth, err := tts.NewFromConfig(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to create synthesizer: %w", err)
	}
	out, err := player.New(r.cfg.Audio, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open audio output: %w", err)
	}
	r.onClose("player", func(context.Context) error { return out.Close() })

	deps := agent.Dependencies{
		Generator:   llm.NewStoryGenerator(gen, r.cfg.LLM.MaxTokens, r.cfg.LLM.Temperature),
		Synthesizer: synth,
		Player:      out,
		Safety:      safety.New(r.cfg.Safety, r.logger),
	}

	if r.cfg.Wakeword.Enabled {
		mgr := wakeword.NewManager(wakeword.DefaultRegistry(), r.logger)
		r.engines = mgr
		r.onClose("wake engines", func(ctx context.Context) error {
			mgr.Close(ctx)
			return nil
		})
		if _, err := mgr.Load(ctx, r.cfg.Wakeword.Engine, wakeword.ConfigFromSettings(r.cfg.Wakeword)); err != nil {
			// The daemon still tells stories on request without a wake engine.
			r.logger.Error("wake engine unavailable", slog.String("engine", r.cfg.Wakeword.Engine), slogError(err))
		}
		deps.Wake = mgr
	}

	orch := agent.New(deps, agent.OptionsFromConfig(r.cfg), r.logger)
	r.agent = orch

	// The recorder drains until Shutdown closes the event stream, so history
	// is complete before the store closes.
	events, _ := orch.Subscribe(128)
	recorded := make(chan struct{})
	go func() {
		defer close(recorded)
		newRecorder(r.store, r.logger).run(context.Background(), events)
	}()
	r.onClose("storyteller", func(ctx context.Context) error {
		err := orch.Shutdown(ctx)
		select {
		case <-recorded:
		case <-ctx.Done():
		}
		return err
	})

	if err := orch.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize storyteller: %w", err)
	}
	return nil
}

func (r *Runtime) startControl(ctx context.Context) error {
	opts := control.Options{
		Agent:        r.agent,
		History:      r.store,
		EngineConfig: wakeword.ConfigFromSettings(r.cfg.Wakeword),
		RetainEvents: r.cfg.EventStore.RetentionMode != "ephemeral",
	}
	if r.engines != nil {
		opts.Engines = r.engines
	}
	svc := control.NewService(ctx, r.bus.Conn(), r.bus.JetStream(), opts, r.logger)
	if err := svc.Start(); err != nil {
		return fmt.Errorf("failed to start control service: %w", err)
	}
	r.control = svc
	r.onClose("control", func(context.Context) error {
		svc.Close()
		return nil
	})

	tracker, err := presence.NewTracker(ctx, r.cfg.Device, r.bus.Conn(), r.heartbeat, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start presence: %w", err)
	}
	r.presence = tracker
	r.onClose("presence", func(context.Context) error {
		tracker.Close()
		return nil
	})
	return nil
}

func (r *Runtime) heartbeat() protocol.Heartbeat {
	st := r.agent.Status()
	hb := protocol.Heartbeat{State: string(st.State)}
	if st.Engine != nil {
		hb.Engine = st.Engine.Name
		hb.Listening = st.Engine.Listening
	}
	if st.Session != nil {
		hb.Session = st.Session.ID
	}
	return hb
}

func (r *Runtime) startHTTP() string {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/status", r.handleStatus)

	if r.metrics != nil {
		if bind := r.cfg.Telemetry.PrometheusBind; bind != "" {
			metricsMux := http.NewServeMux()
			metricsMux.Handle("/metrics", r.metrics)
			r.metricsServer = r.serve("metrics", bind, metricsMux)
		} else {
			mux.Handle("/metrics", r.metrics)
		}
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = r.serve("http", addr, mux)
	return addr
}

func (r *Runtime) serve(name, addr string, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error(name+" server failed", slogError(err))
		}
	}()
	r.onClose(name+" server", srv.Shutdown)
	return srv
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.isReady() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) isReady() bool {
	if !r.ready.Load() || r.agent == nil || !r.agent.Status().Initialized {
		return false
	}
	if r.bus != nil && !r.bus.Healthy() {
		return false
	}
	if r.control != nil && !r.control.Healthy() {
		return false
	}
	return r.store == nil || r.store.Ensure() == nil
}

type statusResponse struct {
	Version string              `json:"version"`
	Device  string              `json:"device"`
	Agent   agent.Status        `json:"agent"`
	History *eventstore.Summary `json:"history,omitempty"`
	Devices []presence.Device   `json:"devices,omitempty"`
}

func (r *Runtime) handleStatus(w http.ResponseWriter, req *http.Request) {
	if r.agent == nil {
		http.Error(w, "not started", http.StatusServiceUnavailable)
		return
	}
	resp := statusResponse{Version: r.version, Device: r.cfg.Device.ID, Agent: r.agent.Status()}
	if r.store != nil {
		if sum, err := r.store.Summarize(req.Context()); err != nil {
			r.logger.Warn("failed to summarize history", slogError(err))
		} else {
			resp.History = &sum
		}
	}
	if r.presence != nil {
		resp.Devices = r.presence.Devices()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		r.logger.Warn("failed to write status", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
