// Package control exposes the storyteller over the bus: request/reply
// commands and a stream of agent events.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sarpel/BedtimeStoryTeller/internal/agent"
	"github.com/sarpel/BedtimeStoryTeller/internal/eventstore"
	"github.com/sarpel/BedtimeStoryTeller/internal/protocol"
	"github.com/sarpel/BedtimeStoryTeller/internal/wakeword"
)

const eventRetention = 24 * time.Hour

var errNoEngines = errors.New("wake word engines not configured")

// Agent is the orchestrator surface the service drives.
type Agent interface {
	Start(ctx context.Context, prompt string, opts agent.StoryOptions) (*agent.Handle, error)
	StopCurrentStory(ctx context.Context) error
	Status() agent.Status
	StartListening(ctx context.Context) error
	StopListening(ctx context.Context) error
	Subscribe(buffer int) (<-chan agent.Event, func())
}

// Engines is the wake engine manager surface.
type Engines interface {
	Switch(ctx context.Context, name string, cfg wakeword.EngineConfig) (wakeword.EngineInfo, error)
	Simulate(keyword string) bool
	Info() wakeword.EngineInfo
}

// History answers queries about past sessions.
type History interface {
	RecentSessions(ctx context.Context, limit int) ([]eventstore.Session, error)
	Summarize(ctx context.Context) (eventstore.Summary, error)
}

// Options wire the service. Engines and History are optional.
type Options struct {
	Agent        Agent
	Engines      Engines
	History      History
	EngineConfig wakeword.EngineConfig
	// RetainEvents creates a JetStream stream for published events.
	RetainEvents bool
}

type Service struct {
	opts   Options
	conn   *nats.Conn
	js     nats.JetStreamContext
	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	ready  bool
	mu     sync.Mutex
	logger *slog.Logger
}

func NewService(parent context.Context, conn *nats.Conn, js nats.JetStreamContext, opts Options, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		opts:   opts,
		conn:   conn,
		js:     js,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(slog.String("component", "control")),
	}
}

func (s *Service) Start() error {
	if s.opts.RetainEvents && s.js != nil {
		if err := s.ensureStream(); err != nil {
			s.logger.Warn("event retention unavailable", slogError(err))
		}
	}

	handlers := map[string]nats.MsgHandler{
		protocol.SubjectTell:    s.handleTell,
		protocol.SubjectStop:    s.handleStop,
		protocol.SubjectStatus:  s.handleStatus,
		protocol.SubjectListen:  s.handleListen,
		protocol.SubjectEngine:  s.handleEngine,
		protocol.SubjectWake:    s.handleWake,
		protocol.SubjectHistory: s.handleHistory,
	}
	for subject, handler := range handlers {
		sub, err := s.conn.Subscribe(subject, handler)
		if err != nil {
			s.unsubscribe()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	events, cancel := s.opts.Agent.Subscribe(64)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.forwardEvents(events)
	}()

	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.unsubscribe()
	s.wg.Wait()
	s.mu.Lock()
	s.ready = false
	s.mu.Unlock()
}

func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && s.conn.IsConnected()
}

func (s *Service) unsubscribe() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) ensureStream() error {
	if _, err := s.js.StreamInfo(protocol.EventStream); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err := s.js.AddStream(&nats.StreamConfig{
		Name:     protocol.EventStream,
		Subjects: []string{protocol.SubjectEventAll},
		Storage:  nats.FileStorage,
		MaxAge:   eventRetention,
		MaxMsgs:  10000,
	})
	if err != nil {
		return fmt.Errorf("create event stream: %w", err)
	}
	s.logger.Info("event stream created", slog.String("stream", protocol.EventStream))
	return nil
}

func (s *Service) forwardEvents(events <-chan agent.Event) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				s.logger.Warn("failed to encode event", slogError(err))
				continue
			}
			if err := s.conn.Publish(protocol.EventSubject(string(evt.Type)), data); err != nil {
				s.logger.Warn("failed to publish event", slog.String("type", string(evt.Type)), slogError(err))
			}
		}
	}
}

func (s *Service) handleTell(msg *nats.Msg) {
	var req protocol.TellRequest
	if !s.decode(msg, &req) {
		return
	}
	h, err := s.opts.Agent.Start(s.ctx, req.Prompt, agent.StoryOptions{
		Language:      req.Language,
		AgeRating:     req.AgeRating,
		MaxParagraphs: req.MaxParagraphs,
	})
	if err != nil {
		s.respond(msg, nil, err)
		return
	}
	if !req.Wait {
		s.respond(msg, h.Session(), nil)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		session, err := h.Wait(s.ctx)
		s.respond(msg, session, err)
	}()
}

func (s *Service) handleStop(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()
	err := s.opts.Agent.StopCurrentStory(ctx)
	s.respond(msg, s.opts.Agent.Status().State, err)
}

func (s *Service) handleStatus(msg *nats.Msg) {
	s.respond(msg, s.opts.Agent.Status(), nil)
}

func (s *Service) handleListen(msg *nats.Msg) {
	var req protocol.ListenRequest
	if !s.decode(msg, &req) {
		return
	}
	var err error
	if req.Enabled {
		err = s.opts.Agent.StartListening(s.ctx)
	} else {
		err = s.opts.Agent.StopListening(s.ctx)
	}
	s.respond(msg, s.opts.Agent.Status().State, err)
}

// handleEngine stops detection and swaps the resident engine. Listening is
// not restarted.
func (s *Service) handleEngine(msg *nats.Msg) {
	var req protocol.EngineRequest
	if !s.decode(msg, &req) {
		return
	}
	if s.opts.Engines == nil {
		s.respond(msg, nil, errNoEngines)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.respond(msg, s.opts.Engines.Info(), nil)
		return
	}
	if err := s.opts.Agent.StopListening(s.ctx); err != nil {
		s.respond(msg, nil, err)
		return
	}
	info, err := s.opts.Engines.Switch(s.ctx, name, s.opts.EngineConfig)
	s.respond(msg, info, err)
}

func (s *Service) handleWake(msg *nats.Msg) {
	var req protocol.WakeRequest
	if !s.decode(msg, &req) {
		return
	}
	if s.opts.Engines == nil {
		s.respond(msg, nil, errNoEngines)
		return
	}
	if !s.opts.Engines.Simulate(req.Keyword) {
		s.respond(msg, nil, errors.New("resident engine is not listening or cannot be triggered"))
		return
	}
	s.respond(msg, req.Keyword, nil)
}

func (s *Service) handleHistory(msg *nats.Msg) {
	var req protocol.HistoryRequest
	if !s.decode(msg, &req) {
		return
	}
	if s.opts.History == nil {
		s.respond(msg, nil, errors.New("history not recorded"))
		return
	}
	sessions, err := s.opts.History.RecentSessions(s.ctx, req.Limit)
	if err != nil {
		s.respond(msg, nil, err)
		return
	}
	summary, err := s.opts.History.Summarize(s.ctx)
	s.respond(msg, HistoryReply{Sessions: sessions, Summary: summary}, err)
}

// HistoryReply is the data of a history reply.
type HistoryReply struct {
	Sessions []eventstore.Session `json:"sessions"`
	Summary  eventstore.Summary   `json:"summary"`
}

func (s *Service) decode(msg *nats.Msg, v any) bool {
	if len(msg.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		s.logger.Warn("failed to decode request", slog.String("subject", msg.Subject), slogError(err))
		s.respond(msg, nil, fmt.Errorf("decode request: %w", err))
		return false
	}
	return true
}

func (s *Service) respond(msg *nats.Msg, data any, err error) {
	if msg.Reply == "" {
		return
	}
	reply := protocol.Reply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
		reply.Kind = string(agent.KindOf(err))
	}
	if data != nil {
		encoded, mErr := json.Marshal(data)
		if mErr != nil {
			s.logger.Warn("failed to encode reply", slogError(mErr))
		} else {
			reply.Data = encoded
		}
	}
	payload, mErr := json.Marshal(reply)
	if mErr != nil {
		s.logger.Warn("failed to encode reply", slogError(mErr))
		return
	}
	if err := msg.Respond(payload); err != nil {
		s.logger.Warn("failed to send reply", slog.String("subject", msg.Subject), slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
