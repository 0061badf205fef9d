package apiclient

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/meritdesk/meritdesk-go/internal/apierr"
	"github.com/meritdesk/meritdesk-go/internal/metrics"
)

// refreshCoordinator serializes token refreshes: no matter how many
// requests hit a 401 concurrently, exactly one refresh HTTP call goes out
// and every waiter is settled exactly once with its outcome.
type refreshCoordinator struct {
	mu           sync.Mutex
	isRefreshing bool
	pending      []chan refreshOutcome
}

type refreshOutcome struct {
	access string
	err    error
}

// waitForRefresh joins the in-flight refresh, starting one if none is
// running, and blocks until it settles or ctx is cancelled.
func (c *Client) waitForRefresh(ctx context.Context) (string, error) {
	// Buffered so settling never blocks on a caller that already gave up.
	ch := make(chan refreshOutcome, 1)

	c.coordinator.mu.Lock()
	c.coordinator.pending = append(c.coordinator.pending, ch)
	if !c.coordinator.isRefreshing {
		c.coordinator.isRefreshing = true
		go c.runRefresh()
	}
	c.coordinator.mu.Unlock()

	select {
	case outcome := <-ch:
		return outcome.access, outcome.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// runRefresh performs the single refresh call and flushes every queued
// waiter with the result. Runs in its own goroutine; uses a background
// context so one caller's cancellation cannot abort the shared refresh.
func (c *Client) runRefresh() {
	access, err := c.refreshAccessToken(context.Background())

	if err != nil {
		metrics.TokenRefresh("failure")
		c.logger.Error("token refresh failed, clearing session", slog.String("error", err.Error()))

		// Terminal: the session is gone regardless of why refresh failed.
		if clearErr := c.store.Clear(); clearErr != nil {
			c.logger.Warn("failed to clear token store", slog.String("error", clearErr.Error()))
		}

		if c.onSessionExpired != nil {
			delay := c.sessionExpiredDelay
			fn := c.onSessionExpired
			go func() {
				time.Sleep(delay)
				fn()
			}()
		}

		err = apierr.NewAuthExpiredError("refresh failed", err)
	} else {
		metrics.TokenRefresh("success")
		c.logger.Debug("access token refreshed")
	}

	c.coordinator.mu.Lock()
	waiters := c.coordinator.pending
	c.coordinator.pending = nil
	c.coordinator.isRefreshing = false
	c.coordinator.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshOutcome{access: access, err: err}
	}
}

// refreshAccessToken exchanges the stored refresh token for a new access
// token, persisting the new pair. The refresh call itself is
// unauthenticated and never goes through the 401-retry path.
func (c *Client) refreshAccessToken(ctx context.Context) (string, error) {
	refresh := c.store.Refresh()
	if refresh == "" {
		return "", apierr.ErrNoRefreshToken
	}

	status, body, err := c.send(ctx, http.MethodPost, "accounts/refresh/", RefreshRequest{Refresh: refresh}, "")
	if err != nil {
		return "", err
	}

	var resp RefreshResponse
	if err := c.finish(status, body, &resp); err != nil {
		return "", err
	}
	if resp.Access == "" {
		return "", apierr.NewAuthExpiredError("refresh response missing access token", nil)
	}

	// The server may rotate the refresh token; keep the old one otherwise.
	if resp.Refresh != "" {
		if err := c.store.SetPair(resp.Access, resp.Refresh); err != nil {
			return "", err
		}
	} else {
		if err := c.store.SetAccess(resp.Access); err != nil {
			return "", err
		}
	}

	return resp.Access, nil
}
