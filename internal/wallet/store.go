package wallet

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Snapshot is the persisted wallet state: the balance scalar plus the full
// transaction log, read back in insertion order.
type Snapshot struct {
	Balance decimal.Decimal
	Log     []Transaction
}

// Store is the port for wallet persistence. Append must write the
// transaction and the new balance atomically so a crash cannot leave them
// inconsistent.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Append(ctx context.Context, tx Transaction, balance decimal.Decimal) error
}

// MemStore is an in-memory Store for tests and the sandbox harness.
// FailNext makes the next Append fail, to exercise persistence-failure
// handling.
type MemStore struct {
	mu       sync.Mutex
	snap     Snapshot
	failNext error
}

func NewMemStore() *MemStore {
	return &MemStore{snap: Snapshot{Balance: decimal.Zero}}
}

func (m *MemStore) Load(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Snapshot{Balance: m.snap.Balance, Log: make([]Transaction, len(m.snap.Log))}
	copy(out.Log, m.snap.Log)
	return out, nil
}

func (m *MemStore) Append(ctx context.Context, tx Transaction, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.snap.Log = append(m.snap.Log, tx)
	m.snap.Balance = balance
	return nil
}

// FailNext arms the store to fail the next Append with err.
func (m *MemStore) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Corrupt overwrites the persisted balance snapshot without touching the
// log, simulating the divergence Load must repair.
func (m *MemStore) Corrupt(balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap.Balance = balance
}
