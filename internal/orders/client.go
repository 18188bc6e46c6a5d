package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Wire headers shared with the backend.
const (
	HeaderIdempotencyKey = "x-idempotency-key"
	HeaderRequestID      = "x-request-id"
)

// ErrRemote wraps backend 4xx/5xx responses.
var ErrRemote = errors.New("orders: backend error")

// SubmitRequest is the wire payload for placing an order.
type SubmitRequest struct {
	UserID       string     `json:"user_id"`
	RestaurantID string     `json:"restaurant_id"`
	Items        []Item     `json:"items"`
	Type         Type       `json:"order_type"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
}

// Client talks to the remote order backend over HTTP/JSON.
//
// Every submission carries a caller-supplied idempotency key so the backend
// can deduplicate retried requests; placing an order is not naturally
// idempotent without it. Transient failures are retried at most once, with
// the same key.
type Client struct {
	baseURL   string
	authToken string
	http      *http.Client
}

func NewClient(baseURL, authToken string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, authToken: authToken, http: httpClient}
}

// Submit places the order and returns the backend's record.
// idempotencyKey must be a stable client-generated unique identifier.
func (c *Client) Submit(ctx context.Context, req SubmitRequest, idempotencyKey string) (Order, error) {
	if idempotencyKey == "" {
		return Order{}, fmt.Errorf("orders: idempotency key is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Order{}, fmt.Errorf("orders: encode request: %w", err)
	}

	var lastErr error
	// One transparent retry only: the idempotency key makes the repeat safe,
	// but anything beyond that needs explicit user confirmation.
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			slog.WarnContext(ctx, "retrying order submission", "idempotency_key", idempotencyKey, "error", lastErr)
		}

		var order Order
		var retryable bool
		order, retryable, lastErr = c.submitOnce(ctx, body, idempotencyKey)
		if lastErr == nil {
			return order, nil
		}
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return Order{}, lastErr
}

func (c *Client) submitOnce(ctx context.Context, body []byte, idempotencyKey string) (Order, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return Order{}, false, fmt.Errorf("orders: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(HeaderIdempotencyKey, idempotencyKey)
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Network-level failures (timeouts included) are the retryable class.
		return Order{}, true, fmt.Errorf("orders: submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		drain(resp.Body)
		return Order{}, true, fmt.Errorf("%w: submit returned %d", ErrRemote, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		drain(resp.Body)
		return Order{}, false, fmt.Errorf("%w: submit returned %d", ErrRemote, resp.StatusCode)
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return Order{}, false, fmt.Errorf("orders: decode response: %w", err)
	}
	return order, false, nil
}

// Get fetches the current authoritative state of one order.
func (c *Client) Get(ctx context.Context, orderID string) (Order, error) {
	var order Order
	if err := c.getJSON(ctx, "/orders/"+orderID, &order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// ListUserOrders fetches every order the backend holds for the user.
func (c *Client) ListUserOrders(ctx context.Context, userID string) ([]Order, error) {
	var out []Order
	if err := c.getJSON(ctx, "/users/"+userID+"/orders", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel asks the backend to cancel the order. The backend decides whether
// the transition is still legal.
func (c *Client) Cancel(ctx context.Context, orderID string) error {
	body, _ := json.Marshal(map[string]Status{"status": StatusCancelled})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders/"+orderID+"/status", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("orders: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("orders: cancel: %w", err)
	}
	defer resp.Body.Close()
	drain(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: cancel returned %d", ErrRemote, resp.StatusCode)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("orders: build request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("orders: get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		drain(resp.Body)
		return fmt.Errorf("%w: get %s returned %d", ErrRemote, path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("orders: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

func drain(r io.Reader) { _, _ = io.Copy(io.Discard, r) }
