// Package catalog holds the purchasable product offers exposed by the
// platform store and a load-once catalog around them.
//
// Offers are immutable after loading: the platform owns pricing, the client
// only reads it. The catalog is refreshed at most once per process lifetime;
// calling Load again is a no-op so callers never need to coordinate.
package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Kind distinguishes what a successful purchase of an offer pays for.
type Kind string

const (
	// KindOrderPayment pays for a concrete food order.
	KindOrderPayment Kind = "ORDER_PAYMENT"
	// KindWalletTopUp credits the local wallet balance.
	KindWalletTopUp Kind = "WALLET_TOP_UP"
)

// Offer is a purchasable catalog entry with a platform-assigned price.
type Offer struct {
	ID           string
	DisplayPrice decimal.Decimal
	Kind         Kind
}

// Lister is the slice of the platform store the catalog needs.
type Lister interface {
	ListProducts(ctx context.Context, ids []string) ([]Offer, error)
}

// Catalog caches the loaded offers keyed by product ID.
type Catalog struct {
	lister Lister
	ids    []string

	mu     sync.RWMutex
	offers map[string]Offer
	loaded bool
}

func New(lister Lister, productIDs []string) *Catalog {
	return &Catalog{
		lister: lister,
		ids:    productIDs,
		offers: make(map[string]Offer),
	}
}

// Load fetches the offers for the configured product IDs.
// Once a load has succeeded, further calls return immediately.
func (c *Catalog) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return nil
	}

	offers, err := c.lister.ListProducts(ctx, c.ids)
	if err != nil {
		return fmt.Errorf("catalog: list products: %w", err)
	}

	for _, o := range offers {
		c.offers[o.ID] = o
	}
	c.loaded = true
	return nil
}

// Offer returns the loaded offer for the given product ID.
func (c *Catalog) Offer(productID string) (Offer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.offers[productID]
	return o, ok
}

// Offers returns a copy of every loaded offer.
func (c *Catalog) Offers() []Offer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Offer, 0, len(c.offers))
	for _, o := range c.offers {
		out = append(out, o)
	}
	return out
}
