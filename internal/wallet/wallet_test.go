package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) (*Ledger, *MemStore) {
	t.Helper()
	store := NewMemStore()
	ledger, err := Load(context.Background(), store, nil)
	require.NoError(t, err)
	return ledger, store
}

func logSum(l *Ledger) decimal.Decimal {
	sum := decimal.Zero
	for _, tx := range l.Transactions() {
		sum = sum.Add(tx.Amount)
	}
	return sum
}

func TestDepositThenWithdraw(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, decimal.NewFromInt(100), KindTopUp, "top-up", "")
	require.NoError(t, err)

	_, err = ledger.Withdraw(ctx, decimal.NewFromInt(40), KindPayment, "lunch", "")
	require.NoError(t, err)

	assert.Equal(t, "60", ledger.Balance().String())
	require.Len(t, ledger.Transactions(), 2)
	assert.Equal(t, "60", logSum(ledger).String())
}

func TestBalanceEqualsLogSumAfterEveryOperation(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	ops := []func() error{
		func() error { _, err := ledger.Deposit(ctx, decimal.NewFromInt(50), KindTopUp, "a", ""); return err },
		func() error { _, err := ledger.Withdraw(ctx, decimal.NewFromInt(20), KindPayment, "b", ""); return err },
		func() error { _, err := ledger.Deposit(ctx, decimal.RequireFromString("12.75"), KindTopUp, "c", ""); return err },
		func() error { _, err := ledger.Withdraw(ctx, decimal.RequireFromString("0.25"), KindPayment, "d", ""); return err },
		func() error { _, err := ledger.Reverse(ctx, decimal.NewFromInt(50), "chargeback", ""); return err },
	}

	for i, op := range ops {
		require.NoError(t, op(), "op %d", i)
		assert.True(t, ledger.Balance().Equal(logSum(ledger)), "after op %d: balance %s, log sum %s",
			i, ledger.Balance(), logSum(ledger))
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, decimal.NewFromInt(20), KindTopUp, "top-up", "")
	require.NoError(t, err)

	_, err = ledger.Withdraw(ctx, decimal.NewFromInt(50), KindPayment, "too much", "")
	require.ErrorIs(t, err, ErrInsufficientFunds)

	assert.Equal(t, "20", ledger.Balance().String())
	assert.Len(t, ledger.Transactions(), 1)
}

func TestInvalidAmounts(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for _, amount := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		_, err := ledger.Deposit(ctx, amount, KindTopUp, "", "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = ledger.Withdraw(ctx, amount, KindPayment, "", "")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	}
	assert.Empty(t, ledger.Transactions())
}

func TestLoadRebuildsBalanceFromLog(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, decimal.NewFromInt(30), KindTopUp, "", "")
	require.NoError(t, err)
	_, err = ledger.Withdraw(ctx, decimal.NewFromInt(10), KindPayment, "", "")
	require.NoError(t, err)

	// A stale snapshot must lose to the log on reload.
	store.Corrupt(decimal.NewFromInt(999))

	var warned bool
	reloaded, err := Load(ctx, store, func(msg string, args ...any) { warned = true })
	require.NoError(t, err)

	assert.Equal(t, "20", reloaded.Balance().String())
	assert.True(t, warned)
}

func TestPersistenceFailureLeavesLedgerUnchanged(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, decimal.NewFromInt(10), KindTopUp, "", "")
	require.NoError(t, err)

	store.FailNext(errors.New("disk full"))
	_, err = ledger.Deposit(ctx, decimal.NewFromInt(5), KindTopUp, "", "")
	require.Error(t, err)

	assert.Equal(t, "10", ledger.Balance().String())
	assert.Len(t, ledger.Transactions(), 1)
}

func TestReverseMayGoNegative(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, decimal.NewFromInt(10), KindTopUp, "", "tx-a")
	require.NoError(t, err)
	_, err = ledger.Withdraw(ctx, decimal.NewFromInt(8), KindPayment, "", "")
	require.NoError(t, err)

	// The chargeback is authoritative even though most of the credit was spent.
	_, err = ledger.Reverse(ctx, decimal.NewFromInt(10), "revocation of tx-a", "revoked:tx-a")
	require.NoError(t, err)

	assert.Equal(t, "-8", ledger.Balance().String())
	assert.True(t, ledger.Balance().Equal(logSum(ledger)))
}

func TestConcurrentMutationsKeepInvariant(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, decimal.NewFromInt(1000), KindTopUp, "seed", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = ledger.Deposit(ctx, decimal.NewFromInt(3), KindTopUp, "", "")
		}()
		go func() {
			defer wg.Done()
			_, _ = ledger.Withdraw(ctx, decimal.NewFromInt(2), KindPayment, "", "")
		}()
	}
	wg.Wait()

	assert.True(t, ledger.Balance().Equal(logSum(ledger)),
		"balance %s, log sum %s", ledger.Balance(), logSum(ledger))
}

func TestFindByReference(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Deposit(ctx, decimal.NewFromInt(10), KindTopUp, "", "tx-1")
	require.NoError(t, err)

	tx, ok := ledger.FindByReference("tx-1")
	require.True(t, ok)
	assert.Equal(t, "10", tx.Amount.String())

	_, ok = ledger.FindByReference("tx-2")
	assert.False(t, ok)
}
