package portal

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tab resource paths under BaseURL.
const (
	pathItems           = "/merchant/api/items"
	pathOrders          = "/merchant/api/orders"
	pathScheduledOrders = "/merchant/api/orders/scheduled"
	pathPayouts         = "/merchant/api/payouts"
	pathNotifications   = "/merchant/api/notifications"
)

// ListItems returns the merchant's home items as opaque rows.
func (c *Client) ListItems(ctx context.Context) ([]json.RawMessage, error) {
	return c.list(ctx, pathItems)
}

// CreateItem posts a new item. The item body is owned by the caller.
func (c *Client) CreateItem(ctx context.Context, item json.RawMessage) error {
	res, err := c.req(ctx, nil).SetBody(item).Post(pathItems)
	_, err = handleError(res, err)
	return err
}

// UpdateItem replaces an existing item.
func (c *Client) UpdateItem(ctx context.Context, itemID string, item json.RawMessage) error {
	res, err := c.req(ctx, nil).
		SetBody(item).
		SetPathParams(map[string]string{"itemId": itemID}).
		Put(pathItems + "/{itemId}")
	_, err = handleError(res, err)
	return err
}

// ListOrders returns the merchant's orders.
func (c *Client) ListOrders(ctx context.Context) ([]json.RawMessage, error) {
	return c.list(ctx, pathOrders)
}

// ListScheduledOrders returns orders scheduled for future fulfilment.
func (c *Client) ListScheduledOrders(ctx context.Context) ([]json.RawMessage, error) {
	return c.list(ctx, pathScheduledOrders)
}

// ListPayouts returns the merchant's payout history.
func (c *Client) ListPayouts(ctx context.Context) ([]json.RawMessage, error) {
	return c.list(ctx, pathPayouts)
}

// ListNotifications returns the stored (non-realtime) notifications.
func (c *Client) ListNotifications(ctx context.Context) ([]json.RawMessage, error) {
	return c.list(ctx, pathNotifications)
}

// list fetches a collection endpoint. The backend wraps some collections in
// {data: [...]} and returns others as a bare array; both are accepted. Row
// contents stay opaque to this layer.
func (c *Client) list(ctx context.Context, path string) ([]json.RawMessage, error) {
	res, err := c.req(ctx, nil).Get(path)
	if _, err = handleError(res, err); err != nil {
		return nil, err
	}

	var wrapped struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(res.Body(), &wrapped); err == nil && wrapped.Data != nil {
		return wrapped.Data, nil
	}

	var rows []json.RawMessage
	if err := json.Unmarshal(res.Body(), &rows); err != nil {
		return nil, fmt.Errorf("unexpected response shape for %s: %w", path, err)
	}
	return rows, nil
}
