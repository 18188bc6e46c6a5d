// Package orders models the backend-owned order record and the client-side
// pieces around it: the HTTP submission client and the monotonic status
// tracker. The backend is authoritative for every status; the client only
// caches.
package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the backend-reported lifecycle state of an order.
type Status string

const (
	StatusPending        Status = "PENDING"
	StatusPreparing      Status = "PREPARING"
	StatusReadyForPickup Status = "READY_FOR_PICKUP"
	StatusCompleted      Status = "COMPLETED"
	StatusCancelled      Status = "CANCELLED"
)

// rank orders the forward progression. Cancelled sits outside it.
var rank = map[Status]int{
	StatusPending:        0,
	StatusPreparing:      1,
	StatusReadyForPickup: 2,
	StatusCompleted:      3,
}

// CanTransition reports whether the backend state machine allows moving
// from one status to another. Cancellation is reachable from Pending and
// Preparing only; the forward path never goes backwards.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	if to == StatusCancelled {
		return from == StatusPending || from == StatusPreparing
	}
	if from == StatusCancelled {
		return false
	}
	fr, ok1 := rank[from]
	tr, ok2 := rank[to]
	return ok1 && ok2 && tr == fr+1
}

// Type distinguishes how the order is fulfilled.
type Type string

const (
	TypeTakeaway Type = "TAKEAWAY"
	TypeDineIn   Type = "DINE_IN"
)

// Item is one line of an order.
type Item struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Name      string          `json:"name,omitempty"`
}

// Order is the backend-owned record. The client never mutates one except to
// replace its whole cached copy with a fresher fetch.
type Order struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	RestaurantID string          `json:"restaurant_id"`
	Items        []Item          `json:"items"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	Status       Status          `json:"status"`
	Type         Type            `json:"order_type"`
	ScheduledAt  *time.Time      `json:"scheduled_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Total sums the item subtotals.
func Total(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}
