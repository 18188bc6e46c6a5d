package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuseats/orderpay/internal/pkg/cache"
)

// Tracker is the client-side read cache over backend orders.
//
// Every value the backend reports is authoritative; the tracker's only job
// is to keep late-arriving responses from downgrading a fresher one. Orders
// are replaced wholesale, compared by the server-provided UpdatedAt, never
// merged field-by-field.
type Tracker struct {
	client *Client
	cache  cache.Cache
	ttl    time.Duration
}

func NewTracker(client *Client, c cache.Cache, ttl time.Duration) *Tracker {
	if c == nil {
		c = cache.NewMemory()
	}
	return &Tracker{client: client, cache: c, ttl: ttl}
}

// Apply offers a fetched order to the cache. It returns the order that is
// current after the call: the given one if it was applied, the cached one if
// the given one was stale.
func (t *Tracker) Apply(ctx context.Context, order Order) (Order, error) {
	key := t.cache.Key("order", order.ID)

	if cached, ok, err := t.get(ctx, key); err != nil {
		return Order{}, err
	} else if ok && order.UpdatedAt.Before(cached.UpdatedAt) {
		slog.DebugContext(ctx, "discarding stale order response",
			"order_id", order.ID,
			"stale_updated_at", order.UpdatedAt,
			"cached_updated_at", cached.UpdatedAt)
		return cached, nil
	}

	raw, err := json.Marshal(order)
	if err != nil {
		return Order{}, fmt.Errorf("orders: encode cached order: %w", err)
	}
	if err := t.cache.Set(ctx, key, string(raw), t.ttl); err != nil {
		return Order{}, fmt.Errorf("orders: cache order: %w", err)
	}
	return order, nil
}

// Refresh fetches the authoritative order state and applies it.
func (t *Tracker) Refresh(ctx context.Context, orderID string) (Order, error) {
	order, err := t.client.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	return t.Apply(ctx, order)
}

// Cached returns the cached order, if any.
func (t *Tracker) Cached(ctx context.Context, orderID string) (Order, bool, error) {
	return t.get(ctx, t.cache.Key("order", orderID))
}

func (t *Tracker) get(ctx context.Context, key string) (Order, bool, error) {
	raw, ok, err := t.cache.Get(ctx, key)
	if err != nil || !ok {
		return Order{}, false, err
	}
	var order Order
	if err := json.Unmarshal([]byte(raw), &order); err != nil {
		return Order{}, false, fmt.Errorf("orders: decode cached order: %w", err)
	}
	return order, true, nil
}
