// Package ws exposes the presence tracker over websocket connections.
//
// Clients connect with ?userId=<id>. The server sends JSON frames
// {"kind":"message"|"heartbeat","payload":...}; any frame the client sends
// counts as a heartbeat.
package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"golang.org/x/net/websocket"

	"github.com/okian/ladder/internal/adapters/presence"
	"github.com/okian/ladder/pkg/logger"
	"github.com/okian/ladder/pkg/metrics"
)

const (
	defaultWriteTimeout = 5 * time.Second
	maxFrameBytes       = 4 << 10
)

// ErrMissingUser rejects a handshake without a userId query parameter.
var ErrMissingUser = errors.New("missing userId")

// Gateway accepts websocket connections and registers them with a tracker.
type Gateway struct {
	tracker      *presence.Tracker
	writeTimeout time.Duration
	log          logger.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.writeTimeout = d
		}
	}
}

// WithLogger overrides the gateway logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.log = l
		}
	}
}

// NewGateway creates a Gateway over tracker.
func NewGateway(tracker *presence.Tracker, opts ...Option) *Gateway {
	g := &Gateway{tracker: tracker, writeTimeout: defaultWriteTimeout}
	for _, opt := range opts {
		opt(g)
	}
	if g.log == nil {
		g.log = logger.Get().Named("ws")
	}
	return g
}

// Handler returns the http.Handler that upgrades connections.
func (g *Gateway) Handler() http.Handler {
	return websocket.Server{Handshake: g.handshake, Handler: g.serve}
}

func (g *Gateway) handshake(_ *websocket.Config, r *http.Request) error {
	if r.URL.Query().Get("userId") == "" {
		metrics.RecordErrorByEndpoint("/ws", r.Method, "missing_user")
		return ErrMissingUser
	}
	return nil
}

func (g *Gateway) serve(c *websocket.Conn) {
	ctx := c.Request().Context()
	userID := c.Request().URL.Query().Get("userId")
	c.MaxPayloadBytes = maxFrameBytes
	// Liveness is decided by the tracker, not by the server's read timeout.
	_ = c.SetReadDeadline(time.Time{})

	s, err := g.tracker.Connect(ctx, userID, &conn{ws: c, writeTimeout: g.writeTimeout})
	if err != nil {
		g.log.Warn(ctx, "connection refused", logger.String("user_id", userID), logger.Error(err))
		return
	}
	defer g.tracker.Disconnect(context.WithoutCancel(ctx), s)

	// The writer goroutine owns writes; this loop only reads.
	for {
		var frame string
		if err := websocket.Message.Receive(c, &frame); err != nil {
			select {
			case <-s.Done():
			default:
				g.log.Debug(ctx, "connection read ended", logger.String("user_id", userID), logger.Error(err))
			}
			return
		}
		g.tracker.Heartbeat(s)
	}
}

// conn adapts a websocket connection to presence.Conn.
type conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration
}

func (c *conn) Send(p presence.Push) error {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return websocket.JSON.Send(c.ws, p)
}

func (c *conn) Close() error { return c.ws.Close() }
