package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/campuseats/orderpay/internal/catalog"
	"github.com/campuseats/orderpay/internal/orders"
	"github.com/campuseats/orderpay/internal/platform"
	"github.com/campuseats/orderpay/internal/wallet"
)

// Submission is the durable record of a cart paid for by a platform
// transaction. It is written before the order is submitted so that a
// redelivery after any later failure resubmits exactly this cart under the
// same idempotency key, instead of inventing a second effect.
type Submission struct {
	IdempotencyKey string
	Cart           orders.SubmitRequest
}

// Journal persists what the reconciler has done with each platform
// transaction: applied markers and order submissions. The in-memory set
// alone is not enough; redelivery after a process restart must still be
// recognised.
type Journal interface {
	Seen(ctx context.Context, transactionID string) (bool, error)
	Mark(ctx context.Context, transactionID string) error
	SaveSubmission(ctx context.Context, transactionID string, sub Submission) error
	// Submission returns the stored record and whether one exists.
	Submission(ctx context.Context, transactionID string) (Submission, bool, error)
}

// MemJournal is an in-memory Journal for tests and the sandbox harness.
type MemJournal struct {
	mu       sync.Mutex
	seen     map[string]bool
	subs     map[string]Submission
	failNext error
}

func NewMemJournal() *MemJournal {
	return &MemJournal{
		seen: make(map[string]bool),
		subs: make(map[string]Submission),
	}
}

func (m *MemJournal) Seen(ctx context.Context, transactionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[transactionID], nil
}

func (m *MemJournal) Mark(ctx context.Context, transactionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	m.seen[transactionID] = true
	return nil
}

func (m *MemJournal) SaveSubmission(ctx context.Context, transactionID string, sub Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[transactionID]; !ok {
		m.subs[transactionID] = sub
	}
	return nil
}

func (m *MemJournal) Submission(ctx context.Context, transactionID string) (Submission, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[transactionID]
	return sub, ok, nil
}

// FailNext arms the journal to fail the next Mark with err.
func (m *MemJournal) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// revocationKey namespaces the applied marker for a revocation, which
// shares its transaction ID with the original purchase it undoes.
func revocationKey(transactionID string) string { return "revoked:" + transactionID }

// Reconciler is the single authority mapping a platform transaction onto an
// idempotent local effect: a wallet credit, an order submission, or the undo
// of either. All application is serialized behind one mutex, so the wallet
// only ever sees one writer.
type Reconciler struct {
	catalog *catalog.Catalog
	ledger  *wallet.Ledger
	journal Journal
	store   platform.Store
	orders  *orders.Client

	applyMu sync.Mutex
	seen    map[string]bool

	pendingMu sync.Mutex
	pending   map[string]Intent // productID -> intent awaiting platform resolution
	orderRefs map[string]string // platform tx ID -> submitted order ID
}

func NewReconciler(cat *catalog.Catalog, ledger *wallet.Ledger, journal Journal, store platform.Store, ordersClient *orders.Client) *Reconciler {
	return &Reconciler{
		catalog:   cat,
		ledger:    ledger,
		journal:   journal,
		store:     store,
		orders:    ordersClient,
		seen:      make(map[string]bool),
		pending:   make(map[string]Intent),
		orderRefs: make(map[string]string),
	}
}

// RegisterPending parks an intent whose platform purchase reported pending.
// The listener consumes it when the success update eventually arrives.
func (r *Reconciler) RegisterPending(intent Intent) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending[intent.Offer.ID] = intent
}

func (r *Reconciler) takePending(productID string) (Intent, bool) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	intent, ok := r.pending[productID]
	if ok {
		delete(r.pending, productID)
	}
	return intent, ok
}

// Reconcile applies a listener-delivered transaction. Unverified updates
// are dropped without finalizing so the platform redelivers them.
func (r *Reconciler) Reconcile(ctx context.Context, tx platform.Transaction, verified bool) error {
	if !verified {
		slog.WarnContext(ctx, "dropping unverified transaction, left unfinalized",
			"transaction_id", tx.ID, "product_id", tx.ProductID)
		return nil
	}
	var intent *Intent
	if parked, ok := r.takePending(tx.ProductID); ok {
		intent = &parked
	}
	return r.apply(ctx, tx, intent)
}

// ApplyPurchase applies the transaction of a just-completed purchase
// attempt, with the attempt's intent carried through explicitly.
func (r *Reconciler) ApplyPurchase(ctx context.Context, intent Intent, tx platform.Transaction) error {
	return r.apply(ctx, tx, &intent)
}

func (r *Reconciler) apply(ctx context.Context, tx platform.Transaction, intent *Intent) error {
	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	if tx.Revoked() {
		return r.applyRevocation(ctx, tx)
	}

	applied, err := r.alreadyApplied(ctx, tx.ID)
	if err != nil {
		return err
	}
	if !applied {
		// A revocation for this ID that already landed means the platform
		// considers the purchase undone; re-crediting would resurrect it.
		if applied, err = r.alreadyApplied(ctx, revocationKey(tx.ID)); err != nil {
			return err
		}
	}
	if applied {
		// Redelivery of an applied transaction: acknowledge and move on.
		return r.finalize(ctx, tx.ID)
	}

	offer, ok := r.catalog.Offer(tx.ProductID)
	if !ok {
		// Without the offer the effect cannot be classified. Leave the
		// transaction unfinalized; it redelivers once the catalog is loaded.
		return fmt.Errorf("purchase: no loaded offer for product %s", tx.ProductID)
	}

	if offer.Kind == catalog.KindOrderPayment {
		return r.applyOrderPayment(ctx, tx, offer, intent)
	}

	amount := offer.DisplayPrice
	if intent != nil {
		amount = intent.Amount
	}
	if _, err := r.ledger.Deposit(ctx, amount, wallet.KindTopUp,
		"wallet top-up "+tx.ID, tx.ID); err != nil {
		return fmt.Errorf("purchase: credit top-up %s: %w", tx.ID, err)
	}
	if err := r.journal.Mark(ctx, tx.ID); err != nil {
		return fmt.Errorf("purchase: persist applied marker for %s: %w", tx.ID, err)
	}
	slog.InfoContext(ctx, "wallet top-up applied",
		"transaction_id", tx.ID, "amount", amount.String())

	return r.finalize(ctx, tx.ID)
}

// applyOrderPayment turns a paid transaction into exactly one placed order.
// The submission record is persisted before the remote call; together with
// the backend's idempotency-key dedupe this makes the whole path replayable
// without a second effect, whichever step fails.
func (r *Reconciler) applyOrderPayment(ctx context.Context, tx platform.Transaction, offer catalog.Offer, intent *Intent) error {
	var sub Submission
	switch {
	case intent != nil && intent.Cart != nil:
		sub = Submission{IdempotencyKey: intent.IdempotencyKey, Cart: *intent.Cart}
		if err := r.journal.SaveSubmission(ctx, tx.ID, sub); err != nil {
			return fmt.Errorf("purchase: persist submission for %s: %w", tx.ID, err)
		}
	default:
		stored, ok, err := r.journal.Submission(ctx, tx.ID)
		if err != nil {
			return fmt.Errorf("purchase: load submission for %s: %w", tx.ID, err)
		}
		if !ok {
			// Paid transaction with no recorded cart anywhere: completed on
			// another device, or lost before the submission record was
			// written. Credit the wallet rather than guess at a cart; funds
			// are never silently lost.
			if _, err := r.ledger.Deposit(ctx, offer.DisplayPrice, wallet.KindTopUp,
				"recovered order payment "+tx.ID, tx.ID); err != nil {
				return fmt.Errorf("purchase: recover payment %s: %w", tx.ID, err)
			}
			if err := r.journal.Mark(ctx, tx.ID); err != nil {
				return fmt.Errorf("purchase: persist applied marker for %s: %w", tx.ID, err)
			}
			slog.InfoContext(ctx, "order payment recovered into wallet",
				"transaction_id", tx.ID, "amount", offer.DisplayPrice.String())
			return r.finalize(ctx, tx.ID)
		}
		sub = stored
	}

	order, err := r.orders.Submit(ctx, sub.Cart, sub.IdempotencyKey)
	if err != nil {
		// Not marked, not finalized: the transaction redelivers, the stored
		// submission replays this cart, and the idempotency key keeps the
		// retry safe server-side.
		return fmt.Errorf("purchase: submit order for %s: %w", tx.ID, err)
	}
	r.orderRefs[tx.ID] = order.ID
	if err := r.journal.Mark(ctx, tx.ID); err != nil {
		return fmt.Errorf("purchase: persist applied marker for %s: %w", tx.ID, err)
	}
	slog.InfoContext(ctx, "order payment applied",
		"transaction_id", tx.ID, "order_id", order.ID)

	return r.finalize(ctx, tx.ID)
}

// applyRevocation undoes a previously applied effect. The revocation shares
// its transaction ID with the original purchase, so its marker lives under a
// separate key.
func (r *Reconciler) applyRevocation(ctx context.Context, tx platform.Transaction) error {
	key := revocationKey(tx.ID)

	applied, err := r.alreadyApplied(ctx, key)
	if err != nil {
		return err
	}
	if applied {
		return r.finalize(ctx, tx.ID)
	}

	if orig, ok := r.ledger.FindByReference(tx.ID); ok && orig.Amount.IsPositive() {
		// Undo the credit with a debit of equal magnitude. Chargebacks are
		// authoritative, so this may drive the balance negative.
		if _, err := r.ledger.Reverse(ctx, orig.Amount,
			"revocation of "+tx.ID, key); err != nil {
			return fmt.Errorf("purchase: reverse credit for %s: %w", tx.ID, err)
		}
	} else if orderID, ok := r.orderRefs[tx.ID]; ok {
		if err := r.orders.Cancel(ctx, orderID); err != nil {
			return fmt.Errorf("purchase: cancel order %s for revoked %s: %w", orderID, tx.ID, err)
		}
	} else {
		slog.WarnContext(ctx, "revocation with no local effect to undo",
			"transaction_id", tx.ID, "product_id", tx.ProductID)
	}

	if err := r.journal.Mark(ctx, key); err != nil {
		return fmt.Errorf("purchase: persist revocation marker for %s: %w", tx.ID, err)
	}
	slog.InfoContext(ctx, "revocation applied", "transaction_id", tx.ID)
	return r.finalize(ctx, tx.ID)
}

// alreadyApplied consults, in order: the process-lifetime set, the orders
// submitted this process, the persisted marker table, and the wallet log's
// references. Callers hold applyMu.
func (r *Reconciler) alreadyApplied(ctx context.Context, key string) (bool, error) {
	if r.seen[key] {
		return true, nil
	}
	if _, ok := r.orderRefs[key]; ok {
		r.seen[key] = true
		return true, nil
	}
	persisted, err := r.journal.Seen(ctx, key)
	if err != nil {
		return false, fmt.Errorf("purchase: check applied marker %s: %w", key, err)
	}
	if persisted {
		r.seen[key] = true
		return true, nil
	}
	if _, ok := r.ledger.FindByReference(key); ok {
		r.seen[key] = true
		return true, nil
	}
	return false, nil
}

// finalize acknowledges the transaction with the platform. It runs only
// after every local effect and its marker are durably recorded; an error
// here just means one more redelivery, which the markers absorb.
func (r *Reconciler) finalize(ctx context.Context, transactionID string) error {
	r.seen[transactionID] = true
	if err := r.store.Finalize(ctx, transactionID); err != nil {
		return fmt.Errorf("purchase: finalize %s: %w", transactionID, err)
	}
	return nil
}
