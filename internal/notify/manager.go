package notify

import (
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/meritdesk/meritdesk-go/internal/logger"
	"github.com/meritdesk/meritdesk-go/internal/metrics"
	"github.com/meritdesk/meritdesk-go/internal/token"
)

// State is the connection state of the notification channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Open
)

// DefaultListCap is how many notifications the manager retains; the oldest
// entry is evicted beyond this.
const DefaultListCap = 10

// Manager owns the single WebSocket connection to the notification channel
// and the local notification list driven by it.
//
// Lifecycle is manual: Connect and Close only. The notification channel
// does not auto-reconnect; the owning surface decides when a live feed is
// worth re-establishing. This is the opposite of the conversation channel
// in internal/convo, which self-heals.
//
// Thread-safe: all methods may be called from any goroutine.
type Manager struct {
	wsBaseURL string
	store     *token.Store
	logger    *logger.Logger
	listCap   int

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	gen    uint64 // connection generation, guards against stale read loops
	items  []Notification
	unread int
}

// NewManager creates a manager dialing against wsBaseURL
// (e.g. "wss://api.example.com"). listCap <= 0 selects DefaultListCap.
func NewManager(wsBaseURL string, store *token.Store, log *logger.Logger, listCap int) *Manager {
	if listCap <= 0 {
		listCap = DefaultListCap
	}
	return &Manager{
		wsBaseURL: strings.TrimRight(wsBaseURL, "/"),
		store:     store,
		logger:    log.WithComponent("notify_socket"),
		listCap:   listCap,
	}
}

// Connect opens the notification socket. No-op when there is no access
// token or a connection is already open or being established. Any stale
// handle is closed before dialing.
func (m *Manager) Connect() error {
	access := m.store.Access()
	if access == "" {
		m.logger.Debug("no access token, skipping notification connect")
		return nil
	}

	m.mu.Lock()
	if m.state == Open || m.state == Connecting {
		m.mu.Unlock()
		return nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = Connecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	endpoint := m.wsBaseURL + "/ws/notifications/?token=" + url.QueryEscape(access)
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen {
		// Close raced the dial; drop the late connection.
		if conn != nil {
			conn.Close()
		}
		return nil
	}

	if err != nil {
		m.state = Disconnected
		m.logger.Warn("failed to connect notification socket", slog.String("error", err.Error()))
		return err
	}

	m.conn = conn
	m.state = Open
	m.logger.Info("notification socket connected")

	go m.readLoop(conn, gen)
	return nil
}

// Close shuts the socket down. Idempotent; local notification state is
// kept (use ClearAll for that).
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *Manager) closeLocked() {
	m.gen++
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.state = Disconnected
}

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if gen == m.gen {
				m.state = Disconnected
				m.conn = nil
				m.logger.Info("notification socket closed", slog.String("reason", err.Error()))
			}
			m.mu.Unlock()
			return
		}
		m.handleFrame(data)
	}
}

// HandleTokenChange reacts to an access-token change made outside this
// process. A cleared token means another session logged out: close and
// wipe local state. A different token invalidates the credential the open
// socket was dialed with: close the stale socket but stay disconnected,
// the channel remains manual-connect only.
func (m *Manager) HandleTokenChange(old, updated string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if updated == "" {
		m.logger.Info("access token cleared externally, dropping notification state")
		m.closeLocked()
		m.items = nil
		m.unread = 0
		metrics.SetUnread("notifications", 0)
		return
	}

	if updated != old {
		m.logger.Info("access token replaced externally, closing stale notification socket")
		m.closeLocked()
	}
}
