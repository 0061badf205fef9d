package notify

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meritdesk/meritdesk-go/internal/logger"
	"github.com/meritdesk/meritdesk-go/internal/token"
)

// wsEmulator is a one-connection notification channel server. Frames
// pushed on send are written to whichever client is connected.
type wsEmulator struct {
	srv      *httptest.Server
	send     chan string
	gotToken chan string
}

func newWSEmulator(t *testing.T) *wsEmulator {
	t.Helper()

	emu := &wsEmulator{
		send:     make(chan string, 32),
		gotToken: make(chan string, 8),
	}

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/notifications/", func(w http.ResponseWriter, r *http.Request) {
		emu.gotToken <- r.URL.Query().Get("token")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for frame := range emu.send {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}
	})

	emu.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		// Unblock any handler waiting on send so Close can finish.
		close(emu.send)
		emu.srv.Close()
	})
	return emu
}

func (e *wsEmulator) wsURL() string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http")
}

func newTestManager(t *testing.T, emu *wsEmulator) (*Manager, *token.Store) {
	t.Helper()

	store, err := token.NewStore(filepath.Join(t.TempDir(), "tokens.json"), logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	store.SetPair("tok-1", "ref-1")

	return NewManager(emu.wsURL(), store, logger.NewNop(), 10), store
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func notificationFrame(id string) string {
	return fmt.Sprintf(`{"type":"notification","notification":{"id":%q,"title":"Merit awarded","message":"+5 points","status":"unread","type":"merit_awarded","navigate_url":"/points/%s"}}`, id, id)
}

func TestConnectSendsTokenAsQueryCredential(t *testing.T) {
	emu := newWSEmulator(t)
	mgr, _ := newTestManager(t, emu)
	defer mgr.Close()

	if err := mgr.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case tok := <-emu.gotToken:
		if tok != "tok-1" {
			t.Errorf("expected token 'tok-1' in query, got %q", tok)
		}
	case <-time.After(time.Second):
		t.Fatal("server never saw the connection")
	}

	if mgr.State() != Open {
		t.Errorf("expected Open state, got %v", mgr.State())
	}
}

func TestConnectWithoutTokenIsNoop(t *testing.T) {
	emu := newWSEmulator(t)
	mgr, store := newTestManager(t, emu)
	store.Clear()

	if err := mgr.Connect(); err != nil {
		t.Fatalf("Connect should no-op without a token, got %v", err)
	}
	if mgr.State() != Disconnected {
		t.Errorf("expected Disconnected, got %v", mgr.State())
	}
}

func TestConnectWhileOpenIsNoop(t *testing.T) {
	emu := newWSEmulator(t)
	mgr, _ := newTestManager(t, emu)
	defer mgr.Close()

	mgr.Connect()
	<-emu.gotToken

	mgr.Connect()

	select {
	case <-emu.gotToken:
		t.Error("second Connect must not dial while open")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNotificationDedup(t *testing.T) {
	emu := newWSEmulator(t)
	mgr, _ := newTestManager(t, emu)
	defer mgr.Close()
	mgr.Connect()

	emu.send <- notificationFrame("n1")
	emu.send <- notificationFrame("n1")
	emu.send <- notificationFrame("n2")

	waitFor(t, time.Second, func() bool { return len(mgr.Notifications()) == 2 }, "expected 2 notifications after dedup")

	// Give the duplicate a chance to land wrongly.
	time.Sleep(50 * time.Millisecond)
	if got := len(mgr.Notifications()); got != 2 {
		t.Errorf("expected 2 notifications, got %d", got)
	}
}

func TestNotificationCapEvictsOldest(t *testing.T) {
	emu := newWSEmulator(t)
	mgr, _ := newTestManager(t, emu)
	defer mgr.Close()
	mgr.Connect()

	for i := 1; i <= 11; i++ {
		emu.send <- notificationFrame(fmt.Sprintf("n%d", i))
	}

	waitFor(t, time.Second, func() bool {
		items := mgr.Notifications()
		return len(items) == 10 && items[0].ID == "n11"
	}, "expected 10 notifications with n11 newest")

	for _, n := range mgr.Notifications() {
		if n.ID == "n1" {
			t.Error("oldest notification n1 should have been evicted")
		}
	}
}

func TestCountUpdateReplacesUnread(t *testing.T) {
	emu := newWSEmulator(t)
	mgr, _ := newTestManager(t, emu)
	defer mgr.Close()
	mgr.Connect()

	emu.send <- `{"type":"count_update","unread_count":7}`

	waitFor(t, time.Second, func() bool { return mgr.UnreadCount() == 7 }, "expected unread count 7")
}

func TestMalformedFrameIsDroppedWithoutKillingConnection(t *testing.T) {
	emu := newWSEmulator(t)
	mgr, _ := newTestManager(t, emu)
	defer mgr.Close()
	mgr.Connect()

	emu.send <- `{"type":`
	emu.send <- notificationFrame("after-garbage")

	waitFor(t, time.Second, func() bool { return len(mgr.Notifications()) == 1 }, "manager should survive malformed frames")
}

func TestLocalMutations(t *testing.T) {
	emu := newWSEmulator(t)
	mgr, _ := newTestManager(t, emu)
	defer mgr.Close()
	mgr.Connect()

	emu.send <- notificationFrame("n1")
	emu.send <- notificationFrame("n2")
	waitFor(t, time.Second, func() bool { return len(mgr.Notifications()) == 2 }, "setup: expected 2 notifications")

	mgr.MarkRead("n1")
	for _, n := range mgr.Notifications() {
		if n.ID == "n1" && n.Status != "read" {
			t.Error("n1 should be marked read")
		}
	}

	// Acting on stale ids is a no-op, not an error.
	mgr.MarkRead("ghost")
	mgr.Remove("ghost")

	mgr.Remove("n2")
	if got := len(mgr.Notifications()); got != 1 {
		t.Errorf("expected 1 notification after remove, got %d", got)
	}

	mgr.ClearAll()
	if got := len(mgr.Notifications()); got != 0 {
		t.Errorf("expected empty list after ClearAll, got %d", got)
	}
}

func TestExternalLogoutClosesAndClears(t *testing.T) {
	emu := newWSEmulator(t)
	mgr, _ := newTestManager(t, emu)
	mgr.Connect()

	emu.send <- notificationFrame("n1")
	waitFor(t, time.Second, func() bool { return len(mgr.Notifications()) == 1 }, "setup: expected 1 notification")

	mgr.HandleTokenChange("tok-1", "")

	if mgr.State() != Disconnected {
		t.Error("external logout must close the socket")
	}
	if len(mgr.Notifications()) != 0 || mgr.UnreadCount() != 0 {
		t.Error("external logout must clear local state")
	}
}

func TestExternalTokenSwapClosesButDoesNotReconnect(t *testing.T) {
	emu := newWSEmulator(t)
	mgr, _ := newTestManager(t, emu)
	mgr.Connect()
	<-emu.gotToken

	emu.send <- notificationFrame("n1")
	waitFor(t, time.Second, func() bool { return len(mgr.Notifications()) == 1 }, "setup: expected 1 notification")

	mgr.HandleTokenChange("tok-1", "tok-2")

	if mgr.State() != Disconnected {
		t.Error("stale socket must be closed on token swap")
	}
	// Connection stays manual: no dial may happen on its own.
	select {
	case <-emu.gotToken:
		t.Error("token swap must not auto-reconnect")
	case <-time.After(150 * time.Millisecond):
	}
	// Local list survives a swap (only logout clears it).
	if len(mgr.Notifications()) != 1 {
		t.Error("token swap must not clear local notifications")
	}
}
