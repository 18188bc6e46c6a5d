package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campuseats/orderpay/internal/catalog"
)

// MemStore is an in-memory Store used by the sandbox environment and tests.
// It issues transactions itself and keeps track of which ones the client has
// finalized, so redelivery behaviour can be exercised without the real
// platform.
type MemStore struct {
	mu        sync.RWMutex
	offers    map[string]catalog.Offer
	outcome   PurchaseOutcome
	finalized map[string]bool
	pending   []Update
	updates   chan Update
}

func NewMemStore(offers []catalog.Offer) *MemStore {
	m := &MemStore{
		offers:    make(map[string]catalog.Offer, len(offers)),
		outcome:   OutcomeSuccess,
		finalized: make(map[string]bool),
		updates:   make(chan Update, 16),
	}
	for _, o := range offers {
		m.offers[o.ID] = o
	}
	return m
}

// SetOutcome changes what the next Purchase call reports.
func (m *MemStore) SetOutcome(o PurchaseOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcome = o
}

func (m *MemStore) ListProducts(ctx context.Context, ids []string) ([]catalog.Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]catalog.Offer, 0, len(ids))
	for _, id := range ids {
		if o, ok := m.offers[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *MemStore) Purchase(ctx context.Context, offer catalog.Offer) (PurchaseResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.offers[offer.ID]; !ok {
		return PurchaseResult{}, fmt.Errorf("platform: unknown product %q", offer.ID)
	}

	switch m.outcome {
	case OutcomeSuccess:
		tx := Transaction{
			ID:           uuid.NewString(),
			ProductID:    offer.ID,
			PurchaseDate: time.Now().UTC(),
		}
		return PurchaseResult{
			Outcome:     OutcomeSuccess,
			Transaction: &tx,
			RawReceipt:  Receipt(tx.ID),
		}, nil
	default:
		return PurchaseResult{Outcome: m.outcome}, nil
	}
}

func (m *MemStore) Finalize(ctx context.Context, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized[transactionID] = true
	return nil
}

// Finalized reports whether the client has acknowledged the transaction.
func (m *MemStore) Finalized(transactionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.finalized[transactionID]
}

func (m *MemStore) Updates() <-chan Update { return m.updates }

func (m *MemStore) Entitlements(ctx context.Context) ([]Update, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Update, len(m.pending))
	copy(out, m.pending)
	return out, nil
}

// Deliver pushes an unsolicited update onto the stream, as the platform does
// for purchases completed elsewhere or deferred approvals resolving.
func (m *MemStore) Deliver(u Update) {
	m.updates <- u
}

// AddEntitlement registers an update returned by Entitlements at startup.
func (m *MemStore) AddEntitlement(u Update) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, u)
}

// Issue creates a transaction for the product as if it had been purchased
// out of band, returning the matching update.
func (m *MemStore) Issue(productID string) Update {
	tx := Transaction{
		ID:           uuid.NewString(),
		ProductID:    productID,
		PurchaseDate: time.Now().UTC(),
	}
	return Update{Transaction: tx, RawReceipt: Receipt(tx.ID)}
}

// Revoke returns a revocation update for a previously issued transaction.
func (m *MemStore) Revoke(tx Transaction) Update {
	now := time.Now().UTC()
	tx.RevokedAt = &now
	return Update{Transaction: tx, RawReceipt: Receipt(tx.ID)}
}

// Receipt builds the signed-receipt stand-in the sandbox verifier accepts.
func Receipt(transactionID string) string {
	return "sig:" + transactionID
}
