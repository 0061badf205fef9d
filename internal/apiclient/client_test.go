package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meritdesk/meritdesk-go/internal/apierr"
	"github.com/meritdesk/meritdesk-go/internal/logger"
	"github.com/meritdesk/meritdesk-go/internal/token"
)

// apiEmulator is a configurable fake of the MeritDesk API, covering the
// login, refresh, and one protected endpoint.
type apiEmulator struct {
	t *testing.T

	mu             sync.Mutex
	validAccess    string
	refreshBodies  []string
	refreshCalls   int32
	refreshDelay   time.Duration
	refreshBroken  bool
	pinAccess      bool
	rotateRefresh  string
	protectedHits  int32
	lastAuthHeader string
}

func (e *apiEmulator) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/login/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		json.NewEncoder(w).Encode(LoginResponse{Access: "a1", Refresh: "r1"})
	})

	mux.HandleFunc("/accounts/refresh/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		atomic.AddInt32(&e.refreshCalls, 1)

		var req RefreshRequest
		json.NewDecoder(r.Body).Decode(&req)
		e.mu.Lock()
		e.refreshBodies = append(e.refreshBodies, req.Refresh)
		broken := e.refreshBroken
		rotate := e.rotateRefresh
		delay := e.refreshDelay
		e.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		if broken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		e.mu.Lock()
		if !e.pinAccess {
			e.validAccess = "a2"
		}
		e.mu.Unlock()
		json.NewEncoder(w).Encode(RefreshResponse{Access: "a2", Refresh: rotate})
	})

	mux.HandleFunc("/protected/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		atomic.AddInt32(&e.protectedHits, 1)
		auth := r.Header.Get("Authorization")
		e.mu.Lock()
		e.lastAuthHeader = auth
		valid := "Bearer " + e.validAccess
		e.mu.Unlock()

		if auth != valid {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"ok": "true"})
	})

	mux.HandleFunc("/missing/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		http.Error(w, "not found", http.StatusNotFound)
	})

	return mux
}

func newTestClient(t *testing.T, emu *apiEmulator, opts Options) (*Client, *token.Store, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(emu.handler())
	t.Cleanup(srv.Close)

	store, err := token.NewStore(filepath.Join(t.TempDir(), "tokens.json"), logger.NewNop())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	return New(srv.URL, store, logger.NewNop(), opts), store, srv
}

func TestSingleFlightRefresh(t *testing.T) {
	emu := &apiEmulator{t: t, validAccess: "a2", refreshDelay: 100 * time.Millisecond}
	client, store, _ := newTestClient(t, emu, Options{})
	store.SetPair("a1", "r1")

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Get(context.Background(), "protected/", nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("request %d failed: %v", i, err)
		}
	}
	if calls := atomic.LoadInt32(&emu.refreshCalls); calls != 1 {
		t.Errorf("expected exactly 1 refresh call, got %d", calls)
	}
	if store.Access() != "a2" {
		t.Errorf("expected stored access 'a2', got %q", store.Access())
	}
}

func TestRetryOnceGuarantee(t *testing.T) {
	// The protected endpoint rejects even the refreshed token: the retry
	// budget is spent and no second refresh cycle may start.
	emu := &apiEmulator{t: t, validAccess: "never-valid", pinAccess: true}
	client, store, _ := newTestClient(t, emu, Options{})
	store.SetPair("a1", "r1")

	err := client.Get(context.Background(), "protected/", nil)

	var authErr *apierr.AuthExpiredError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthExpiredError, got %v", err)
	}
	if calls := atomic.LoadInt32(&emu.refreshCalls); calls != 1 {
		t.Errorf("expected exactly 1 refresh call, got %d", calls)
	}
	if hits := atomic.LoadInt32(&emu.protectedHits); hits != 2 {
		t.Errorf("expected original + one retry = 2 hits, got %d", hits)
	}
}

func TestTerminalRefreshFailureClearsState(t *testing.T) {
	emu := &apiEmulator{t: t, refreshBroken: true}

	expired := make(chan struct{})
	var expireOnce sync.Once
	client, store, _ := newTestClient(t, emu, Options{
		SessionExpiredDelay: 10 * time.Millisecond,
		OnSessionExpired:    func() { expireOnce.Do(func() { close(expired) }) },
	})
	store.SetPair("a1", "r1")

	const n = 3
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Get(context.Background(), "protected/", nil)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		var authErr *apierr.AuthExpiredError
		if !errors.As(err, &authErr) {
			t.Errorf("request %d: expected AuthExpiredError, got %v", i, err)
		}
	}
	if store.Access() != "" || store.Refresh() != "" {
		t.Errorf("expected cleared store, got access=%q refresh=%q", store.Access(), store.Refresh())
	}

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Error("OnSessionExpired never fired")
	}
}

func TestMissingRefreshTokenFailsImmediately(t *testing.T) {
	emu := &apiEmulator{t: t, validAccess: "a2"}
	client, store, _ := newTestClient(t, emu, Options{})
	store.SetAccess("a1") // no refresh token

	err := client.Get(context.Background(), "protected/", nil)

	var authErr *apierr.AuthExpiredError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthExpiredError, got %v", err)
	}
	if !errors.Is(err, apierr.ErrNoRefreshToken) {
		t.Errorf("expected ErrNoRefreshToken in chain, got %v", err)
	}
	if calls := atomic.LoadInt32(&emu.refreshCalls); calls != 0 {
		t.Errorf("expected no refresh HTTP call, got %d", calls)
	}
}

func TestOtherHTTPErrorPropagatedUntouched(t *testing.T) {
	emu := &apiEmulator{t: t, validAccess: "a1"}
	client, store, _ := newTestClient(t, emu, Options{})
	store.SetPair("a1", "r1")

	err := client.Get(context.Background(), "missing/", nil)

	var httpErr *apierr.HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", httpErr.StatusCode)
	}
	if calls := atomic.LoadInt32(&emu.refreshCalls); calls != 0 {
		t.Errorf("404 must not trigger refresh, got %d calls", calls)
	}
}

func TestNetworkErrorNotRetried(t *testing.T) {
	store, err := token.NewStore(filepath.Join(t.TempDir(), "tokens.json"), logger.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	store.SetPair("a1", "r1")

	// Nothing listens here.
	client := New("http://127.0.0.1:1/", store, logger.NewNop(), Options{HTTPTimeout: time.Second})

	reqErr := client.Get(context.Background(), "protected/", nil)

	var netErr *apierr.NetworkError
	if !errors.As(reqErr, &netErr) {
		t.Fatalf("expected NetworkError, got %v", reqErr)
	}
	// Tokens untouched on network failure.
	if store.Access() != "a1" || store.Refresh() != "r1" {
		t.Error("network error must not touch the token store")
	}
}

func TestEndToEndLoginRefreshRetry(t *testing.T) {
	emu := &apiEmulator{t: t, validAccess: "a2"}
	client, store, _ := newTestClient(t, emu, Options{})

	// login -> {access:"a1", refresh:"r1"} stored.
	if err := client.Login(context.Background(), "casey", "hunter2"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if store.Access() != "a1" || store.Refresh() != "r1" {
		t.Fatalf("expected stored pair a1/r1, got %q/%q", store.Access(), store.Refresh())
	}

	// Request 401s with a1, refresh exchanges r1 for a2 (no rotation),
	// retry succeeds with the new token.
	var out map[string]string
	if err := client.Get(context.Background(), "protected/", &out); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if store.Access() != "a2" {
		t.Errorf("expected stored access 'a2', got %q", store.Access())
	}
	if store.Refresh() != "r1" {
		t.Errorf("refresh token must survive a non-rotating refresh, got %q", store.Refresh())
	}

	emu.mu.Lock()
	defer emu.mu.Unlock()
	if len(emu.refreshBodies) != 1 || emu.refreshBodies[0] != "r1" {
		t.Errorf("expected one refresh call with r1, got %v", emu.refreshBodies)
	}
	if emu.lastAuthHeader != "Bearer a2" {
		t.Errorf("expected retry with 'Bearer a2', got %q", emu.lastAuthHeader)
	}
}

func TestRefreshRotationStoresNewRefreshToken(t *testing.T) {
	emu := &apiEmulator{t: t, validAccess: "a2", rotateRefresh: "r2"}
	client, store, _ := newTestClient(t, emu, Options{})
	store.SetPair("a1", "r1")

	if err := client.Get(context.Background(), "protected/", nil); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if store.Access() != "a2" || store.Refresh() != "r2" {
		t.Errorf("expected rotated pair a2/r2, got %q/%q", store.Access(), store.Refresh())
	}
}

func TestLogoutClearsTokensEvenWhenServerFails(t *testing.T) {
	emu := &apiEmulator{t: t, validAccess: "a1"}
	client, store, srv := newTestClient(t, emu, Options{})
	store.SetPair("a1", "r1")

	// Server gone: logout is best-effort and must still clear locally.
	srv.Close()

	if err := client.Logout(context.Background()); err != nil {
		t.Fatalf("logout returned error: %v", err)
	}
	if store.Access() != "" || store.Refresh() != "" {
		t.Error("logout must clear tokens regardless of server outcome")
	}
}
