package convo

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meritdesk/meritdesk-go/internal/apierr"
	"github.com/meritdesk/meritdesk-go/internal/logger"
	"github.com/meritdesk/meritdesk-go/internal/metrics"
	"github.com/meritdesk/meritdesk-go/internal/token"
)

// DefaultReconnectDelay is the fixed delay before the conversation channel
// retries after an unexpected close.
const DefaultReconnectDelay = 3 * time.Second

// Frame type tags recognized on the conversation channel. Frames of any
// type, recognized or not, fan out to subscribers once they parse.
const (
	FrameConnectionConfirmed = "connection_confirmed"
	FrameUnreadStatusUpdate  = "unread_status_update"
	FrameConversationMessage = "conversation_message"
	FrameMessageConfirmation = "message_confirmation"
)

// envelope is the decoded view of an inbound frame; unrecognized types
// only populate Type.
type envelope struct {
	Type                     string `json:"type"`
	TotalUnreadConversations *int   `json:"total_unread_conversations,omitempty"`
}

// Subscriber callbacks receive every successfully parsed inbound frame,
// unchanged.
type SubscriberFunc func(frame json.RawMessage)

// Manager owns the single WebSocket connection to the user's conversation
// channel. Unlike the notification channel it self-heals: an unexpected
// close schedules exactly one reconnect attempt after a fixed delay.
//
// Thread-safe: all methods may be called from any goroutine. Subscriber
// callbacks are invoked from the read loop goroutine and must not block.
type Manager struct {
	wsBaseURL      string
	store          *token.Store
	logger         *logger.Logger
	reconnectDelay time.Duration

	mu             sync.Mutex
	conn           *websocket.Conn
	ready          bool
	closed         bool
	gen            uint64
	reconnectTimer *time.Timer
	unread         int
	subs           map[string]SubscriberFunc

	writeMu sync.Mutex
}

// NewManager creates a manager dialing against wsBaseURL.
// reconnectDelay <= 0 selects DefaultReconnectDelay.
func NewManager(wsBaseURL string, store *token.Store, log *logger.Logger, reconnectDelay time.Duration) *Manager {
	if reconnectDelay <= 0 {
		reconnectDelay = DefaultReconnectDelay
	}
	return &Manager{
		wsBaseURL:      strings.TrimRight(wsBaseURL, "/"),
		store:          store,
		logger:         log.WithComponent("convo_socket"),
		reconnectDelay: reconnectDelay,
		subs:           make(map[string]SubscriberFunc),
	}
}

// Connect opens the conversation socket. Aborts with a logged warning when
// no access token is available. A dial failure schedules a reconnect like
// an unexpected close would.
func (m *Manager) Connect() error {
	access := m.store.Access()
	if access == "" {
		m.logger.Warn("no access token, conversation socket not connected")
		return nil
	}

	m.mu.Lock()
	if m.ready {
		m.mu.Unlock()
		return nil
	}
	m.closed = false
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	endpoint := m.wsBaseURL + "/ws/conversations/user/?token=" + url.QueryEscape(access)
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}

	if err != nil {
		m.logger.Warn("failed to connect conversation socket", slog.String("error", err.Error()))
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return err
	}

	m.conn = conn
	m.ready = true
	m.mu.Unlock()

	m.logger.Info("conversation socket connected")
	go m.readLoop(conn, gen)
	return nil
}

// Close shuts the socket down and cancels any pending reconnect. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.gen++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.ready = false
}

// Ready reports whether the socket is open. Sends issued while not ready
// fail; there is no queueing at this layer.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// UnreadConversations returns the unread-conversation counter as last
// reported by the server.
func (m *Manager) UnreadConversations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unread
}

// Subscribe registers a callback for every parsed inbound frame and
// returns an opaque subscriber ID.
func (m *Manager) Subscribe(fn SubscriberFunc) string {
	id := uuid.NewString()
	m.mu.Lock()
	m.subs[id] = fn
	m.mu.Unlock()
	return id
}

// Unsubscribe removes a subscriber. Unknown IDs are a no-op.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	delete(m.subs, id)
	m.mu.Unlock()
}

// SendPayload serializes and sends a message if the socket is open.
// Returns false when the socket is absent or not ready, or the write
// fails; the caller owns retry policy.
func (m *Manager) SendPayload(payload interface{}) bool {
	m.mu.Lock()
	conn := m.conn
	ready := m.ready
	m.mu.Unlock()

	if conn == nil || !ready {
		return false
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := conn.WriteJSON(payload); err != nil {
		m.logger.Warn("failed to send conversation payload", slog.String("error", err.Error()))
		return false
	}
	return true
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if gen == m.gen {
				m.ready = false
				m.conn = nil
				m.logger.Info("conversation socket closed", slog.String("reason", err.Error()))
				m.scheduleReconnectLocked()
			}
			m.mu.Unlock()
			return
		}
		m.handleFrame(data)
	}
}

// scheduleReconnectLocked arms a single reconnect timer. Repeated close
// events before the timer fires never accumulate extra timers.
func (m *Manager) scheduleReconnectLocked() {
	if m.closed || m.reconnectTimer != nil {
		return
	}

	m.reconnectTimer = time.AfterFunc(m.reconnectDelay, func() {
		m.mu.Lock()
		m.reconnectTimer = nil
		if m.closed {
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		metrics.SocketReconnect("conversations")
		m.logger.Debug("attempting conversation reconnect")
		m.Connect()
	})
}

// handleFrame parses one inbound frame, applies recognized types to local
// state, and fans the frame out to all subscribers. Parse failures are
// logged and dropped.
func (m *Manager) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		parseErr := apierr.NewSocketParseError("conversations", err)
		m.logger.Warn("dropping malformed frame", slog.String("error", parseErr.Error()))
		return
	}

	metrics.SocketFrame("conversations", env.Type)

	switch env.Type {
	case FrameConnectionConfirmed, FrameUnreadStatusUpdate:
		if env.TotalUnreadConversations != nil {
			m.mu.Lock()
			m.unread = *env.TotalUnreadConversations
			m.mu.Unlock()
			metrics.SetUnread("conversations", *env.TotalUnreadConversations)
		}
	}

	// Every parsed frame reaches every subscriber, recognized or not.
	m.mu.Lock()
	subs := make([]SubscriberFunc, 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(json.RawMessage(data))
	}
}
