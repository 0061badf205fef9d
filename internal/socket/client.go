package socket

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/meritdesk/meritdesk-go/internal/apierr"
	"github.com/meritdesk/meritdesk-go/internal/logger"
	"github.com/meritdesk/meritdesk-go/internal/metrics"
)

// ReadyState mirrors the connection lifecycle of a per-view socket.
type ReadyState int

const (
	StateConnecting ReadyState = iota
	StateOpen
	StateClosed
)

const (
	// DefaultHeartbeatInterval is how often an open client pings.
	DefaultHeartbeatInterval = 25 * time.Second

	// DefaultQueueCap bounds the outbound queue; the oldest entry is
	// dropped beyond it.
	DefaultQueueCap = 200
)

// Handlers dispatches inbound frames by their type tag. Nil handlers drop
// the frame silently; OnUnknown catches everything without a dedicated
// handler.
type Handlers struct {
	OnConnectionConfirmed func(raw json.RawMessage)
	OnMessageConfirmation func(raw json.RawMessage)
	OnConversationMessage func(raw json.RawMessage)
	OnUnknown             func(frameType string, raw json.RawMessage)
}

// Options tunes a Client. Zero values select the defaults above.
type Options struct {
	HeartbeatInterval time.Duration
	QueueCap          int
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
}

// Client is a generic single-connection WebSocket primitive for views that
// need their own channel independent of the global managers. It differs
// from the conversation manager in three ways: sends are queued while the
// socket is down instead of failing, reconnect backoff is randomized
// instead of fixed, and it heartbeats.
//
// Thread-safe.
type Client struct {
	endpoint string
	tokenFn  func() string
	handlers Handlers
	logger   *logger.Logger

	heartbeatInterval time.Duration
	queueCap          int

	mu             sync.Mutex
	state          ReadyState
	conn           *websocket.Conn
	queue          []interface{}
	gen            uint64
	closed         bool
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
	bo             *backoff.ExponentialBackOff

	writeMu sync.Mutex
}

// NewClient creates a client for the given endpoint (full ws/wss URL
// without credentials). tokenFn is read at every (re)connect; when it
// returns "", the client tears down instead of dialing.
func NewClient(endpoint string, tokenFn func() string, handlers Handlers, log *logger.Logger, opts Options) *Client {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.QueueCap <= 0 {
		opts.QueueCap = DefaultQueueCap
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = 1 * time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30 * time.Second
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.ReconnectBase
	bo.MaxInterval = opts.ReconnectMax
	bo.MaxElapsedTime = 0 // retry until closed

	return &Client{
		endpoint:          endpoint,
		tokenFn:           tokenFn,
		handlers:          handlers,
		logger:            log.WithComponent("view_socket"),
		heartbeatInterval: opts.HeartbeatInterval,
		queueCap:          opts.QueueCap,
		state:             StateConnecting,
		bo:                bo,
	}
}

// Connect dials the endpoint. A failure schedules a reconnect with
// randomized backoff; a missing token tears the client down.
func (c *Client) Connect() {
	tok := c.tokenFn()
	if tok == "" {
		c.logger.Debug("token gone, tearing down view socket")
		c.Close()
		return
	}

	c.mu.Lock()
	if c.closed || c.state == StateOpen {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.Dial(c.endpoint+"?token="+url.QueryEscape(tok), nil)

	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		c.logger.Warn("view socket dial failed", slog.String("error", err.Error()))
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}

	c.conn = conn
	c.state = StateOpen
	c.bo.Reset()

	stop := make(chan struct{})
	c.heartbeatStop = stop

	pendingSends := c.queue
	c.queue = nil
	c.mu.Unlock()

	c.logger.Info("view socket connected")

	// Flush queued sends in FIFO order before anything else goes out.
	for _, msg := range pendingSends {
		c.write(conn, msg)
	}

	go c.heartbeatLoop(conn, stop)
	go c.readLoop(conn, gen)
}

// Send serializes and sends the message immediately when open; otherwise
// it is queued (FIFO, capped, oldest dropped) and flushed on the next
// successful connect. Always accepts from the caller's point of view.
func (c *Client) Send(msg interface{}) {
	c.mu.Lock()
	if c.state == StateOpen && c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		c.write(conn, msg)
		return
	}

	if len(c.queue) >= c.queueCap {
		c.queue = c.queue[1:]
		metrics.OutboundDropped()
		c.logger.Warn("outbound queue full, dropping oldest message")
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()
}

// State reports the client's ready state.
func (c *Client) State() ReadyState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueuedCount reports how many messages await a connection.
func (c *Client) QueuedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close tears the client down: timers cleared, heartbeat cancelled,
// socket closed, queue dropped. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.gen++
	c.state = StateClosed
	c.queue = nil

	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) write(conn *websocket.Conn, msg interface{}) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := conn.WriteJSON(msg); err != nil {
		// The read loop will notice the dead connection and reconnect;
		// this message is lost, matching at-least-once best effort.
		c.logger.Warn("view socket write failed", slog.String("error", err.Error()))
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.write(conn, map[string]string{"type": "ping"})
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if gen == c.gen && !c.closed {
				c.state = StateConnecting
				c.conn = nil
				if c.heartbeatStop != nil {
					close(c.heartbeatStop)
					c.heartbeatStop = nil
				}
				c.logger.Info("view socket closed", slog.String("reason", err.Error()))
				c.scheduleReconnectLocked()
			}
			c.mu.Unlock()
			return
		}
		c.dispatch(data)
	}
}

// scheduleReconnectLocked arms a single backoff timer; repeated failures
// before it fires never stack timers.
func (c *Client) scheduleReconnectLocked() {
	if c.closed || c.reconnectTimer != nil {
		return
	}

	delay := c.bo.NextBackOff()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		metrics.SocketReconnect("view")
		c.Connect()
	})
}

// dispatch routes one inbound frame to its typed handler.
func (c *Client) dispatch(data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		parseErr := apierr.NewSocketParseError("view", err)
		c.logger.Warn("dropping malformed frame", slog.String("error", parseErr.Error()))
		return
	}

	metrics.SocketFrame("view", env.Type)
	raw := json.RawMessage(data)

	switch env.Type {
	case "connection_confirmed":
		if c.handlers.OnConnectionConfirmed != nil {
			c.handlers.OnConnectionConfirmed(raw)
			return
		}
	case "message_confirmation":
		if c.handlers.OnMessageConfirmation != nil {
			c.handlers.OnMessageConfirmation(raw)
			return
		}
	case "conversation_message":
		if c.handlers.OnConversationMessage != nil {
			c.handlers.OnConversationMessage(raw)
			return
		}
	}

	if c.handlers.OnUnknown != nil {
		c.handlers.OnUnknown(env.Type, raw)
	}
}
