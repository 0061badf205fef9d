package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/meritdesk/meritdesk-go/internal/apierr"
	"github.com/meritdesk/meritdesk-go/internal/logger"
	"github.com/meritdesk/meritdesk-go/internal/token"
)

// Client is the authenticated HTTP client for the MeritDesk API.
//
// Every request carries the current access token as a bearer credential.
// A 401 response triggers the refresh flow transparently: the original
// request is retried exactly once with the new token. Concurrent 401s
// share a single refresh call (see refresh.go).
//
// Thread-safe: one Client serves the whole process.
type Client struct {
	baseURL string
	http    *http.Client
	store   *token.Store
	logger  *logger.Logger

	// sessionExpiredDelay postpones the expired callback slightly so any
	// in-flight UI feedback can render first.
	sessionExpiredDelay time.Duration

	// onSessionExpired fires after a terminal refresh failure, once the
	// store has been cleared. The login-redirect analog.
	onSessionExpired func()

	coordinator refreshCoordinator
}

// Options configures a Client. Zero values get sensible defaults.
type Options struct {
	HTTPTimeout         time.Duration
	SessionExpiredDelay time.Duration
	OnSessionExpired    func()
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, store *token.Store, log *logger.Logger, opts Options) *Client {
	timeout := opts.HTTPTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	delay := opts.SessionExpiredDelay
	if delay == 0 {
		delay = 1500 * time.Millisecond
	}

	return &Client{
		baseURL:             strings.TrimRight(baseURL, "/") + "/",
		http:                &http.Client{Timeout: timeout},
		store:               store,
		logger:              log.WithComponent("api_client"),
		sessionExpiredDelay: delay,
		onSessionExpired:    opts.OnSessionExpired,
	}
}

// Do issues an authenticated request and decodes a JSON response into out
// (out may be nil to discard the body).
//
// Error behavior follows the session contract:
//   - transport failure: *apierr.NetworkError, never retried
//   - 401: refresh once, retry once; a second 401 or a failed refresh
//     surfaces *apierr.AuthExpiredError
//   - any other non-2xx: *apierr.HTTPError, untouched
func (c *Client) Do(ctx context.Context, method, path string, body, out interface{}) error {
	access := c.store.Access()

	status, respBody, err := c.send(ctx, method, path, body, access)
	if err != nil {
		return err
	}

	if status != http.StatusUnauthorized {
		return c.finish(status, respBody, out)
	}

	// 401: run (or join) the refresh, then retry this request exactly once.
	newAccess, err := c.waitForRefresh(ctx)
	if err != nil {
		return err
	}

	status, respBody, err = c.send(ctx, method, path, body, newAccess)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		// Fresh token and still 401: the retry budget for this request is
		// spent, do not start another refresh cycle.
		return apierr.NewAuthExpiredError("request unauthorized after retry", nil)
	}
	return c.finish(status, respBody, out)
}

// Get issues an authenticated GET.
func (c *Client) Get(ctx context.Context, path string, out interface{}) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post issues an authenticated POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// send performs one HTTP round trip. A non-empty access token is attached
// as a bearer credential; otherwise the request goes out unauthenticated.
func (c *Client) send(ctx context.Context, method, path string, body interface{}, access string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+strings.TrimPrefix(path, "/"), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// No server response: surface as a network error, no retry.
		return 0, nil, apierr.NewNetworkError(method+" "+path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, apierr.NewNetworkError(method+" "+path, err)
	}

	return resp.StatusCode, respBody, nil
}

// finish maps a settled response to the caller: decode on 2xx, typed error
// otherwise.
func (c *Client) finish(status int, body []byte, out interface{}) error {
	if status < 200 || status >= 300 {
		return apierr.NewHTTPError(status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
