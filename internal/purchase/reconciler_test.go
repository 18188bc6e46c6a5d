package purchase

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuseats/orderpay/internal/catalog"
	"github.com/campuseats/orderpay/internal/foodcourt"
	"github.com/campuseats/orderpay/internal/orders"
	"github.com/campuseats/orderpay/internal/platform"
	"github.com/campuseats/orderpay/internal/wallet"
)

const (
	topUpProduct = "wallet.topup.10"
	mealProduct  = "meal.payment"
)

type rig struct {
	store   *platform.MemStore
	catalog *catalog.Catalog
	ledger  *wallet.Ledger
	journal *MemJournal
	orders  *orders.Client
	rec     *Reconciler
	backend *httptest.Server
}

func newRig(t *testing.T) *rig {
	t.Helper()
	ctx := context.Background()

	store := platform.NewMemStore([]catalog.Offer{
		{ID: topUpProduct, DisplayPrice: decimal.RequireFromString("10.00"), Kind: catalog.KindWalletTopUp},
		{ID: mealProduct, DisplayPrice: decimal.RequireFromString("8.50"), Kind: catalog.KindOrderPayment},
	})

	cat := catalog.New(store, []string{topUpProduct, mealProduct})
	require.NoError(t, cat.Load(ctx))

	ledger, err := wallet.Load(ctx, wallet.NewMemStore(), nil)
	require.NoError(t, err)

	backend := httptest.NewServer(foodcourt.NewServer().Router())
	t.Cleanup(backend.Close)
	ordersClient := orders.NewClient(backend.URL, "", backend.Client())

	journal := NewMemJournal()
	return &rig{
		store:   store,
		catalog: cat,
		ledger:  ledger,
		journal: journal,
		orders:  ordersClient,
		rec:     NewReconciler(cat, ledger, journal, store, ordersClient),
		backend: backend,
	}
}

func topUpTx(id string) platform.Transaction {
	return platform.Transaction{ID: id, ProductID: topUpProduct, PurchaseDate: time.Now().UTC()}
}

func TestReconcileAppliesTopUpOnce(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	tx := topUpTx("tx-1")

	require.NoError(t, r.rec.Reconcile(ctx, tx, true))
	require.NoError(t, r.rec.Reconcile(ctx, tx, true))

	assert.Equal(t, "10", r.ledger.Balance().String())
	assert.Len(t, r.ledger.Transactions(), 1)
	assert.True(t, r.store.Finalized("tx-1"))
}

func TestConcurrentReconcileSameTransaction(t *testing.T) {
	r := newRig(t)
	tx := topUpTx("tx-1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.rec.Reconcile(context.Background(), tx, true)
		}(i)
	}
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Len(t, r.ledger.Transactions(), 1)
	assert.Equal(t, "10", r.ledger.Balance().String())
}

func TestReconcileSurvivesRestart(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	tx := topUpTx("tx-1")

	require.NoError(t, r.rec.Reconcile(ctx, tx, true))

	// A fresh reconciler (new process) must still recognise the transaction
	// through the persisted markers, not the lost in-memory set.
	fresh := NewReconciler(r.catalog, r.ledger, r.journal, r.store, nil)
	require.NoError(t, fresh.Reconcile(ctx, tx, true))

	assert.Len(t, r.ledger.Transactions(), 1)
}

func TestUnverifiedDroppedWithoutFinalize(t *testing.T) {
	r := newRig(t)
	tx := topUpTx("tx-1")

	require.NoError(t, r.rec.Reconcile(context.Background(), tx, false))

	assert.Empty(t, r.ledger.Transactions())
	assert.False(t, r.store.Finalized("tx-1"))
}

func TestRevocationUndoesCredit(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	tx := topUpTx("tx-1")

	require.NoError(t, r.rec.Reconcile(ctx, tx, true))
	require.Equal(t, "10", r.ledger.Balance().String())

	now := time.Now().UTC()
	revoked := tx
	revoked.RevokedAt = &now
	require.NoError(t, r.rec.Reconcile(ctx, revoked, true))

	assert.True(t, r.ledger.Balance().IsZero())
	log := r.ledger.Transactions()
	require.Len(t, log, 2)
	assert.Equal(t, wallet.KindRefund, log[1].Kind)
	assert.Equal(t, log[0].Amount.String(), log[1].Amount.Neg().String())

	// Redelivered revocation is a no-op besides finalization.
	require.NoError(t, r.rec.Reconcile(ctx, revoked, true))
	assert.Len(t, r.ledger.Transactions(), 2)
}

func TestMarkerFailureBlocksFinalize(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	tx := topUpTx("tx-1")

	r.journal.FailNext(errors.New("disk full"))
	require.Error(t, r.rec.Reconcile(ctx, tx, true))
	assert.False(t, r.store.Finalized("tx-1"), "must not finalize when the marker was not persisted")

	// Redelivery finds the wallet entry by reference and only finalizes.
	require.NoError(t, r.rec.Reconcile(ctx, tx, true))
	assert.Len(t, r.ledger.Transactions(), 1)
	assert.True(t, r.store.Finalized("tx-1"))
}

func TestUnknownProductLeftForRedelivery(t *testing.T) {
	r := newRig(t)
	tx := platform.Transaction{ID: "tx-x", ProductID: "not.loaded", PurchaseDate: time.Now().UTC()}

	require.Error(t, r.rec.Reconcile(context.Background(), tx, true))
	assert.False(t, r.store.Finalized("tx-x"))
}

func TestOrderPaymentSubmitsCart(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	offer, _ := r.catalog.Offer(mealProduct)
	intent, err := NewIntent(offer, nil, &orders.SubmitRequest{
		UserID:       "user-1",
		RestaurantID: "campus-grill",
		Items: []orders.Item{
			{ProductID: "burger", Quantity: 1, Price: decimal.RequireFromString("8.50")},
		},
		Type: orders.TypeTakeaway,
	})
	require.NoError(t, err)

	tx := platform.Transaction{ID: "tx-meal", ProductID: mealProduct, PurchaseDate: time.Now().UTC()}
	require.NoError(t, r.rec.ApplyPurchase(ctx, intent, tx))

	// Order payment touches the backend, not the wallet.
	assert.Empty(t, r.ledger.Transactions())
	assert.True(t, r.store.Finalized("tx-meal"))

	// Redelivery after the order exists is a no-op.
	require.NoError(t, r.rec.Reconcile(ctx, tx, true))
	assert.Empty(t, r.ledger.Transactions())
}

func TestRedeliveredOrderPaymentWithoutCartCreditsWallet(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	// Delivered through the listener with no pending cart, e.g. after a crash
	// between payment and order submission.
	tx := platform.Transaction{ID: "tx-lost", ProductID: mealProduct, PurchaseDate: time.Now().UTC()}
	require.NoError(t, r.rec.Reconcile(ctx, tx, true))

	assert.Equal(t, "8.5", r.ledger.Balance().String())
	assert.True(t, r.store.Finalized("tx-lost"))
}

func TestOrderPaymentMarkerFailureNoDoubleEffect(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	offer, _ := r.catalog.Offer(mealProduct)
	intent, err := NewIntent(offer, nil, &orders.SubmitRequest{
		UserID:       "user-1",
		RestaurantID: "campus-grill",
		Items: []orders.Item{
			{ProductID: "burger", Quantity: 1, Price: decimal.RequireFromString("8.50")},
		},
		Type: orders.TypeTakeaway,
	})
	require.NoError(t, err)

	tx := platform.Transaction{ID: "tx-meal", ProductID: mealProduct, PurchaseDate: time.Now().UTC()}
	r.journal.FailNext(errors.New("disk full"))
	require.Error(t, r.rec.ApplyPurchase(ctx, intent, tx))
	assert.False(t, r.store.Finalized("tx-meal"))

	// The order was placed but the marker write failed. A restarted
	// reconciler finds the stored submission and replays the same cart; the
	// backend dedupes on the idempotency key, so there is exactly one order
	// and the wallet is never credited on top of it.
	fresh := NewReconciler(r.catalog, r.ledger, r.journal, r.store, r.orders)
	require.NoError(t, fresh.Reconcile(ctx, tx, true))

	assert.Empty(t, r.ledger.Transactions(), "payment must not also credit the wallet")
	placed, err := r.orders.ListUserOrders(ctx, "user-1")
	require.NoError(t, err)
	assert.Len(t, placed, 1)
	assert.True(t, r.store.Finalized("tx-meal"))
}

func TestOriginalAfterRevocationIsNotApplied(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	tx := topUpTx("tx-1")

	// The revocation lands before the original was ever applied locally.
	now := time.Now().UTC()
	revoked := tx
	revoked.RevokedAt = &now
	require.NoError(t, r.rec.Reconcile(ctx, revoked, true))
	assert.Empty(t, r.ledger.Transactions())

	// Even through a restart, the out-of-order original must not resurrect
	// the credit the platform already took back.
	fresh := NewReconciler(r.catalog, r.ledger, r.journal, r.store, nil)
	require.NoError(t, fresh.Reconcile(ctx, tx, true))

	assert.Empty(t, r.ledger.Transactions())
	assert.True(t, r.store.Finalized("tx-1"))
}

func TestPendingIntentConsumedByLaterDelivery(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	offer, _ := r.catalog.Offer(topUpProduct)
	override := decimal.RequireFromString("42.00")
	intent, err := NewIntent(offer, &override, nil)
	require.NoError(t, err)

	r.rec.RegisterPending(intent)

	tx := topUpTx("tx-deferred")
	require.NoError(t, r.rec.Reconcile(ctx, tx, true))

	// The deferred approval resolves at the intent's override amount.
	assert.Equal(t, "42", r.ledger.Balance().String())
}
