// Package platform defines the port for the in-app purchase store: the
// external system that displays the purchase sheet, issues transactions and
// redelivers them until the client acknowledges (finalizes) each one.
package platform

import (
	"context"
	"time"

	"github.com/campuseats/orderpay/internal/catalog"
)

// Transaction is a platform-issued record of a completed purchase.
// The client only ever reads it; the platform owns its lifecycle.
type Transaction struct {
	// ID is unique per transaction and is the idempotency anchor for the
	// reconciler: every local effect is applied at most once per ID.
	ID string

	ProductID    string
	PurchaseDate time.Time

	// RevokedAt is non-nil when the platform has refunded or charged back
	// the purchase. A revoked transaction undoes a previously applied
	// effect instead of applying one.
	RevokedAt *time.Time
}

// Revoked reports whether the platform has withdrawn this transaction.
func (t Transaction) Revoked() bool { return t.RevokedAt != nil }

// Update is one delivery from the store: a transaction plus the raw signed
// receipt the verifier needs.
type Update struct {
	Transaction Transaction
	RawReceipt  string
}

// PurchaseOutcome classifies the result of presenting the purchase sheet.
type PurchaseOutcome string

const (
	// OutcomeSuccess means the platform confirmed the purchase and handed
	// back a transaction awaiting verification and local application.
	OutcomeSuccess PurchaseOutcome = "SUCCESS"
	// OutcomePending means the purchase needs external authorization
	// (e.g. parental approval). Not an error: the resolution arrives later
	// through the update stream.
	OutcomePending PurchaseOutcome = "PENDING"
	// OutcomeUserCancelled means the user dismissed the purchase sheet.
	OutcomeUserCancelled PurchaseOutcome = "USER_CANCELLED"
	// OutcomeUnknown covers results the store could not classify.
	OutcomeUnknown PurchaseOutcome = "UNKNOWN"
)

// PurchaseResult is what Purchase returns. Transaction and RawReceipt are
// populated only when Outcome is OutcomeSuccess.
type PurchaseResult struct {
	Outcome     PurchaseOutcome
	Transaction *Transaction
	RawReceipt  string
}

// Store is the platform store port.
//
// Updates delivers unsolicited transaction updates (purchases completed on
// another device, deferred approvals resolving, revocations) for the
// lifetime of the process. Entitlements returns the currently-valid
// transactions so startup can reconcile anything the client missed
// finalizing. Finalize acknowledges a transaction; the platform stops
// redelivering it afterwards.
type Store interface {
	catalog.Lister
	Purchase(ctx context.Context, offer catalog.Offer) (PurchaseResult, error)
	Finalize(ctx context.Context, transactionID string) error
	Updates() <-chan Update
	Entitlements(ctx context.Context) ([]Update, error)
}
