package purchase

import (
	"errors"
	"fmt"
)

// ErrBusy rejects a Begin call while another attempt is in flight. Attempts
// are never queued silently; rapid repeated taps must not double-charge.
var ErrBusy = errors.New("purchase: attempt already in flight")

// VerificationError means the platform confirmed the purchase but the
// independent verifier rejected it. The transaction is left unfinalized so
// the platform redelivers it for a later retry.
type VerificationError struct {
	TransactionID string
	Reason        string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("purchase: verification failed for %s: %s", e.TransactionID, e.Reason)
}
