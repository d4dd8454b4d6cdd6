// Package bus connects storyteller daemons and storyctl to NATS and carries
// the control request/reply traffic and the event feed.
package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sarpel/BedtimeStoryTeller/internal/config"
	"github.com/sarpel/BedtimeStoryTeller/internal/protocol"
)

// ErrNoStoryteller is returned by Call when no daemon serves the subject.
var ErrNoStoryteller = errors.New("no storyteller is running on this bus")

const reconnectWait = 500 * time.Millisecond

// Client is a connection to the storyteller bus.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *slog.Logger
}

// Connect dials the configured servers. name identifies the connection in
// server monitoring, usually the runtime name or "storyctl".
func Connect(ctx context.Context, cfg config.BusConfig, name string, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log = log.With(slog.String("component", "bus"))

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, connectOptions(cfg, name, log)...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}
	log.Info("connected", slog.String("servers", url), slog.String("name", name))
	return &Client{conn: conn, js: js, log: log}, nil
}

func connectOptions(cfg config.BusConfig, name string, log *slog.Logger) []nats.Option {
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("reconnected", slog.String("url", c.ConnectedUrl()))
		}),
		// Slow event watchers surface here rather than on a subscription.
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			attrs := []any{slog.String("error", err.Error())}
			if sub != nil {
				attrs = append(attrs, slog.String("subject", sub.Subject))
			}
			log.Warn("async bus error", attrs...)
		}),
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	case cfg.Username != "" || cfg.Password != "":
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.TLSInsecure {
		opts = append(opts, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}
	return opts
}

// Call sends a control request and decodes the daemon's reply envelope. A
// reply with OK unset is returned as is; interpreting it is up to the
// caller. A zero wait leaves the call bounded only by ctx.
func (c *Client) Call(ctx context.Context, subject string, req any, wait time.Duration) (protocol.Reply, error) {
	var payload []byte
	if req != nil {
		var err error
		if payload, err = json.Marshal(req); err != nil {
			return protocol.Reply{}, fmt.Errorf("encode %s request: %w", subject, err)
		}
	}
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	msg, err := c.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return protocol.Reply{}, ErrNoStoryteller
		}
		return protocol.Reply{}, fmt.Errorf("%s: %w", subject, err)
	}
	var reply protocol.Reply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return protocol.Reply{}, fmt.Errorf("decode %s reply: %w", subject, err)
	}
	return reply, nil
}

// Events subscribes to the event feed. With replay set the retained stream
// is delivered from its start before live events.
func (c *Client) Events(replay bool) (*nats.Subscription, error) {
	var (
		sub *nats.Subscription
		err error
	)
	if replay {
		sub, err = c.js.SubscribeSync(protocol.SubjectEventAll, nats.OrderedConsumer(), nats.DeliverAll())
	} else {
		sub, err = c.conn.SubscribeSync(protocol.SubjectEventAll)
	}
	if err != nil {
		return nil, fmt.Errorf("subscribe events: %w", err)
	}
	return sub, nil
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) JetStream() nats.JetStreamContext {
	return c.js
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}
