package purchase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerDrainsEntitlementsAndUpdates(t *testing.T) {
	r := newRig(t)

	// One transaction the client missed finalizing on a previous run, one
	// arriving live.
	missed := r.store.Issue(topUpProduct)
	r.store.AddEntitlement(missed)

	listener := NewListener(r.store, sandboxVerifier(), r.rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = listener.Run(ctx)
		close(done)
	}()

	live := r.store.Issue(topUpProduct)
	r.store.Deliver(live)

	require.Eventually(t, func() bool {
		return len(r.ledger.Transactions()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "20", r.ledger.Balance().String())
	assert.True(t, r.store.Finalized(missed.Transaction.ID))
	assert.True(t, r.store.Finalized(live.Transaction.ID))

	cancel()
	<-done
}

func TestListenerDropsUnverifiedUpdates(t *testing.T) {
	r := newRig(t)
	listener := NewListener(r.store, sandboxVerifier(), r.rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Run(ctx) }()

	forged := r.store.Issue(topUpProduct)
	forged.RawReceipt = "sig:someone-else"
	r.store.Deliver(forged)

	good := r.store.Issue(topUpProduct)
	r.store.Deliver(good)

	require.Eventually(t, func() bool {
		return len(r.ledger.Transactions()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, r.store.Finalized(forged.Transaction.ID),
		"unverified update must stay unfinalized so the platform redelivers it")
	assert.True(t, r.store.Finalized(good.Transaction.ID))
}

func TestListenerHandlesRevocationDelivery(t *testing.T) {
	r := newRig(t)
	listener := NewListener(r.store, sandboxVerifier(), r.rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = listener.Run(ctx) }()

	update := r.store.Issue(topUpProduct)
	r.store.Deliver(update)
	r.store.Deliver(r.store.Revoke(update.Transaction))

	require.Eventually(t, func() bool {
		return len(r.ledger.Transactions()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, r.ledger.Balance().IsZero())
}
