package rt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/peerzee/peersync/internal/bus"
	"github.com/peerzee/peersync/internal/status"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
)

// ErrNotConnected is returned by Emit when the channel is down. Outbound
// actions are fire-and-forget; callers surface this however they see fit.
var ErrNotConnected = errors.New("realtime channel not connected")

// TokenSource yields the credential attached to the websocket handshake.
type TokenSource interface {
	Token() (string, error)
}

// Config tunes the realtime client.
type Config struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int // 0 = retry forever
}

// Client owns the one realtime channel of a session: it dials with the
// session credential, decodes inbound frames into typed events published on
// the bus under "rt.", sends outbound commands, correlates one-shot acks by
// request id, and reconnects with capped exponential backoff. A reconnect is
// a channel-level reset only; no replica state is cleared here.
type Client struct {
	cfg     Config
	tokens  TokenSource
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger

	writeMu sync.Mutex
	connMu  sync.Mutex
	conn    *websocket.Conn

	ackMu   sync.Mutex
	pending map[string]func(json.RawMessage)

	cancel context.CancelFunc
}

// NewClient creates a realtime client. It does not connect until Start.
func NewClient(cfg Config, tokens TokenSource, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Client {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		tokens:  tokens,
		bus:     b,
		machine: machine,
		logger:  logger,
		pending: make(map[string]func(json.RawMessage)),
	}
}

// Start launches the connect/reconnect loop in the background.
func (c *Client) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Stop tears the connection down and stops reconnecting.
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.connMu.Unlock()
}

func (c *Client) run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		token, err := c.tokens.Token()
		if err != nil {
			c.logger.Error("credential unavailable", zap.Error(err))
			_ = c.machine.Transition(status.AuthRequired)
			return
		}

		header := http.Header{"Authorization": {"Bearer " + token}}
		conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, header)
		if err != nil {
			if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
				c.logger.Error("credential rejected by server", zap.Int("status", resp.StatusCode))
				_ = c.machine.Transition(status.AuthRequired)
				return
			}
			c.logger.Warn("dial failed", zap.Error(err), zap.Int("attempt", attempt+1))
			if !c.sleepBackoff(ctx, &attempt) {
				return
			}
			continue
		}

		attempt = 0
		c.setConn(conn)
		_ = c.machine.Transition(status.Ready)
		c.publish(bus.KindRTConnected, Connectivity{Connected: true})
		c.logger.Info("realtime channel connected", zap.String("url", c.cfg.URL))

		err = c.pump(ctx, conn)
		c.setConn(nil)
		c.dropPending()

		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("realtime channel lost", zap.Error(err))
		_ = c.machine.Transition(status.Reconnecting)
		c.publish(bus.KindRTDisconnected, Connectivity{Connected: false})

		if !c.sleepBackoff(ctx, &attempt) {
			return
		}
	}
}

// pump runs the read and ping loops until either fails.
func (c *Client) pump(ctx context.Context, conn *websocket.Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		conn.SetReadLimit(maxMessageSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return err
			}
			c.handleFrame(data)
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.writeControl(conn, websocket.PingMessage); err != nil {
					return err
				}
			case <-ctx.Done():
				_ = conn.Close()
				return ctx.Err()
			}
		}
	})

	return g.Wait()
}

// Emit sends a fire-and-forget command.
func (c *Client) Emit(event string, payload any) error {
	return c.send(Envelope{Event: event}, payload)
}

// EmitWithAck sends a command whose one-shot acknowledgment is routed to ack.
// The callback is dropped, never invoked, if the connection is lost before
// the reply arrives.
func (c *Client) EmitWithAck(event string, payload any, ack func(json.RawMessage)) error {
	id := uuid.New().String()
	c.ackMu.Lock()
	c.pending[id] = ack
	c.ackMu.Unlock()

	if err := c.send(Envelope{Event: event, AckID: id}, payload); err != nil {
		c.ackMu.Lock()
		delete(c.pending, id)
		c.ackMu.Unlock()
		return err
	}
	return nil
}

func (c *Client) send(env Envelope, payload any) error {
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", env.Event, err)
		}
		env.Data = data
	}

	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}

func (c *Client) writeControl(conn *websocket.Conn, messageType int) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteControl(messageType, nil, time.Now().Add(writeWait))
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

// dropPending discards outstanding ack callbacks after a disconnect; their
// replies will never arrive on the new connection.
func (c *Client) dropPending() {
	c.ackMu.Lock()
	n := len(c.pending)
	c.pending = make(map[string]func(json.RawMessage))
	c.ackMu.Unlock()
	if n > 0 {
		c.logger.Warn("dropped outstanding acks on disconnect", zap.Int("count", n))
	}
}

// sleepBackoff waits base*2^attempt capped at max, with up to 50% jitter.
// Returns false when the retry budget or context is exhausted.
func (c *Client) sleepBackoff(ctx context.Context, attempt *int) bool {
	if c.cfg.MaxAttempts > 0 && *attempt+1 >= c.cfg.MaxAttempts {
		c.logger.Error("reconnect attempts exhausted", zap.Int("attempts", c.cfg.MaxAttempts))
		_ = c.machine.Transition(status.Error)
		return false
	}
	delay := c.cfg.BaseDelay << *attempt
	if delay > c.cfg.MaxDelay || delay <= 0 {
		delay = c.cfg.MaxDelay
	}
	delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
	*attempt++

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
