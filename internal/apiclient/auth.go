package apiclient

import (
	"context"
	"log/slog"
	"net/http"
)

// Login exchanges credentials for a token pair and persists it.
// The login call itself is unauthenticated.
func (c *Client) Login(ctx context.Context, username, password string) error {
	status, body, err := c.send(ctx, http.MethodPost, "login/", LoginRequest{Username: username, Password: password}, "")
	if err != nil {
		return err
	}

	var resp LoginResponse
	if err := c.finish(status, body, &resp); err != nil {
		return err
	}

	return c.store.SetPair(resp.Access, resp.Refresh)
}

// Logout invalidates the session server-side on a best-effort basis and
// clears the local token store regardless of the server's answer.
func (c *Client) Logout(ctx context.Context) error {
	refresh := c.store.Refresh()
	if refresh != "" {
		status, body, err := c.send(ctx, http.MethodPost, "logout/", LogoutRequest{Refresh: refresh}, c.store.Access())
		if err != nil {
			c.logger.Warn("server-side logout failed", slog.String("error", err.Error()))
		} else if err := c.finish(status, body, nil); err != nil {
			c.logger.Warn("server-side logout rejected", slog.String("error", err.Error()))
		}
	}

	return c.store.Clear()
}
