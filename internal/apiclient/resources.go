package apiclient

import (
	"context"
	"fmt"
)

// CurrentUser fetches the authenticated account.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.Get(ctx, "accounts/me/", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Balance fetches the caller's current point balance.
func (c *Client) Balance(ctx context.Context) (*PointsBalance, error) {
	var b PointsBalance
	if err := c.Get(ctx, "points/balance/", &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListPointEntries fetches one page of audited point entries.
func (c *Client) ListPointEntries(ctx context.Context, page int) (*PointEntryPage, error) {
	var p PointEntryPage
	if err := c.Get(ctx, fmt.Sprintf("points/entries/?page=%d", page), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListNotifications fetches the persisted notification history.
func (c *Client) ListNotifications(ctx context.Context) ([]NotificationRecord, error) {
	var records []NotificationRecord
	if err := c.Get(ctx, "notifications/", &records); err != nil {
		return nil, err
	}
	return records, nil
}
