// Package purchase drives a purchase attempt from the cart to a finalized
// platform transaction, and reconciles every platform-delivered transaction
// into exactly one local effect.
package purchase

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/campuseats/orderpay/internal/catalog"
	"github.com/campuseats/orderpay/internal/orders"
)

// Intent is one purchase attempt's input, created per attempt and discarded
// after terminal resolution. The amount override travels on the intent
// through the whole call chain; there is no hidden side-table keyed by
// product ID.
type Intent struct {
	Offer catalog.Offer

	// Amount is what the purchase is worth to the client: the override when
	// one was given, the offer's display price otherwise. It never alters
	// what the platform itself displays or charges.
	Amount decimal.Decimal

	// Cart is the order to submit once payment succeeds. Nil for top-ups.
	Cart *orders.SubmitRequest

	// IdempotencyKey is generated once per intent so a retried order
	// submission deduplicates server-side.
	IdempotencyKey string

	CreatedAt time.Time
}

// NewIntent builds an intent for the offer. override, when non-nil, must be
// positive; it replaces the offer's display price as the recorded amount.
func NewIntent(offer catalog.Offer, override *decimal.Decimal, cart *orders.SubmitRequest) (Intent, error) {
	amount := offer.DisplayPrice
	if override != nil {
		if !override.IsPositive() {
			return Intent{}, fmt.Errorf("purchase: override amount must be positive, got %s", override.String())
		}
		amount = *override
	}
	if offer.Kind == catalog.KindOrderPayment && cart == nil {
		return Intent{}, fmt.Errorf("purchase: order payment for %s needs a cart", offer.ID)
	}

	return Intent{
		Offer:          offer,
		Amount:         amount,
		Cart:           cart,
		IdempotencyKey: uuid.NewString(),
		CreatedAt:      time.Now().UTC(),
	}, nil
}
