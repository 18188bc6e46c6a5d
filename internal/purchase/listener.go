package purchase

import (
	"context"
	"log/slog"

	"github.com/campuseats/orderpay/internal/platform"
	"github.com/campuseats/orderpay/internal/verify"
)

// Listener is the long-lived background task that keeps the client in sync
// with the platform: it drains the currently-valid entitlements once at
// startup (catching anything the client missed finalizing) and then consumes
// the unsolicited update stream until shutdown.
//
// A user cancelling a purchase attempt never stops the listener; only
// cancelling the context passed to Run does.
type Listener struct {
	store    platform.Store
	verifier verify.Verifier
	rec      *Reconciler
}

func NewListener(store platform.Store, verifier verify.Verifier, rec *Reconciler) *Listener {
	return &Listener{store: store, verifier: verifier, rec: rec}
}

// Run blocks until ctx is cancelled or the update stream closes.
// Start it once at initialization:
//
//	go func() { _ = listener.Run(ctx) }()
func (l *Listener) Run(ctx context.Context) error {
	ents, err := l.store.Entitlements(ctx)
	if err != nil {
		// Startup reconciliation is best-effort; the update stream and the
		// next launch cover whatever was missed.
		slog.ErrorContext(ctx, "failed to read current entitlements", "error", err)
	}
	for _, u := range ents {
		l.handle(ctx, u)
	}

	updates := l.store.Updates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			l.handle(ctx, u)
		}
	}
}

func (l *Listener) handle(ctx context.Context, u platform.Update) {
	tx := u.Transaction

	outcome, err := l.verifier.Verify(ctx, tx.ID, u.RawReceipt)
	if err != nil {
		// Not finalized, so the platform redelivers and verification gets
		// another chance.
		slog.ErrorContext(ctx, "verifier unavailable for update",
			"transaction_id", tx.ID, "error", err)
		return
	}
	if !outcome.Verified {
		slog.WarnContext(ctx, "dropping unverified update, left unfinalized",
			"transaction_id", tx.ID, "reason", outcome.Reason)
		return
	}

	if err := l.rec.Reconcile(ctx, tx, true); err != nil {
		slog.ErrorContext(ctx, "reconciliation failed, transaction left for redelivery",
			"transaction_id", tx.ID, "error", err)
	}
}
