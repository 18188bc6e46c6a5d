// Package wallet maintains the client-owned wallet: an append-only log of
// balance-affecting transactions plus the derived balance.
//
// The log is the source of truth. The balance is a cache that must equal the
// signed sum of the log after every operation; on load the two are compared
// and the log wins if they disagree.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind classifies a wallet transaction.
type Kind string

const (
	KindTopUp   Kind = "TOP_UP"
	KindPayment Kind = "PAYMENT"
	KindRefund  Kind = "REFUND"
)

// Transaction is one immutable entry in the wallet log.
// Amount is signed: positive for credits, negative for debits.
type Transaction struct {
	ID          string
	Amount      decimal.Decimal
	Kind        Kind
	Timestamp   time.Time
	Description string

	// Reference carries the platform transaction ID that caused this entry,
	// when there is one. The reconciler uses it to stay idempotent across
	// process restarts.
	Reference string
}

var (
	// ErrInsufficientFunds is the expected business outcome of withdrawing
	// more than the balance. It is returned, never panicked, and the caller
	// is expected to handle it as a normal result.
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")

	// ErrInvalidAmount rejects non-positive deposit/withdraw amounts.
	ErrInvalidAmount = errors.New("wallet: amount must be positive")
)

// Ledger serializes every mutation behind one mutex so a listener-driven
// refund arriving mid-purchase cannot interleave with a payment and break
// the balance-vs-log invariant.
type Ledger struct {
	store Store

	mu      sync.Mutex
	balance decimal.Decimal
	log     []Transaction
}

// Load reads the persisted state and rebuilds the ledger. If the persisted
// balance snapshot disagrees with the sum of the log, the log wins and the
// snapshot is treated as stale.
func Load(ctx context.Context, store Store, warn func(msg string, args ...any)) (*Ledger, error) {
	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("wallet: load: %w", err)
	}

	sum := decimal.Zero
	for _, tx := range snap.Log {
		sum = sum.Add(tx.Amount)
	}
	if !sum.Equal(snap.Balance) && warn != nil {
		warn("wallet balance snapshot diverged from log, rebuilding",
			"snapshot", snap.Balance.String(), "log_sum", sum.String())
	}

	return &Ledger{store: store, balance: sum, log: snap.Log}, nil
}

// Deposit appends a credit and persists log and balance together.
func (l *Ledger) Deposit(ctx context.Context, amount decimal.Decimal, kind Kind, description, reference string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.append(ctx, amount, kind, description, reference)
}

// Withdraw appends a debit. Withdrawing more than the balance returns
// ErrInsufficientFunds without touching log or balance.
func (l *Ledger) Withdraw(ctx context.Context, amount decimal.Decimal, kind Kind, description, reference string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.GreaterThan(l.balance) {
		return Transaction{}, ErrInsufficientFunds
	}
	return l.append(ctx, amount.Neg(), kind, description, reference)
}

// Reverse debits the wallet for a platform revocation. Chargebacks are
// authoritative, so this path skips the insufficient-funds check and may
// drive the balance negative.
func (l *Ledger) Reverse(ctx context.Context, amount decimal.Decimal, description, reference string) (Transaction, error) {
	if !amount.IsPositive() {
		return Transaction{}, ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.append(ctx, amount.Neg(), KindRefund, description, reference)
}

// append persists before mutating memory, so a persistence failure leaves
// the in-memory ledger exactly as it was. Callers hold l.mu.
func (l *Ledger) append(ctx context.Context, amount decimal.Decimal, kind Kind, description, reference string) (Transaction, error) {
	tx := Transaction{
		ID:          uuid.NewString(),
		Amount:      amount,
		Kind:        kind,
		Timestamp:   time.Now().UTC(),
		Description: description,
		Reference:   reference,
	}
	newBalance := l.balance.Add(amount)

	if err := l.store.Append(ctx, tx, newBalance); err != nil {
		return Transaction{}, fmt.Errorf("wallet: persist transaction: %w", err)
	}

	l.balance = newBalance
	l.log = append(l.log, tx)
	return tx, nil
}

// Balance returns the current derived balance.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Transactions returns a copy of the log in application order.
func (l *Ledger) Transactions() []Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transaction, len(l.log))
	copy(out, l.log)
	return out
}

// FindByReference returns the first log entry recorded for the given
// platform transaction ID.
func (l *Ledger) FindByReference(reference string) (Transaction, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, tx := range l.log {
		if tx.Reference == reference {
			return tx, true
		}
	}
	return Transaction{}, false
}
