package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/campuseats/orderpay/internal/platform"
	"github.com/campuseats/orderpay/internal/verify"
)

// State is the orchestrator's position in one purchase attempt.
type State string

const (
	StateIdle            State = "IDLE"
	StateRequested       State = "REQUESTED"
	StatePlatformPending State = "PLATFORM_PENDING"
	StateVerifying       State = "VERIFYING"
	StateApplying        State = "APPLYING"
)

// Status is the terminal outcome reported to the caller.
type Status string

const (
	// StatusFinished: effect applied and transaction acknowledged.
	StatusFinished Status = "FINISHED"
	// StatusPaymentPending: the platform needs external authorization.
	// Not a failure; the resolution arrives later through the listener.
	StatusPaymentPending Status = "PAYMENT_PENDING"
	// StatusCancelled: the user dismissed the purchase sheet. No side effects.
	StatusCancelled Status = "CANCELLED"
	// StatusFailed: see the returned error for the reason.
	StatusFailed Status = "FAILED"
)

// Result is what one attempt resolved to.
type Result struct {
	Status      Status
	Transaction *platform.Transaction
}

// Orchestrator drives exactly one purchase attempt at a time to a terminal
// outcome: platform purchase sheet, independent verification, local effect,
// acknowledgment. A second Begin while one attempt is in flight returns
// ErrBusy rather than queueing.
type Orchestrator struct {
	store    platform.Store
	verifier verify.Verifier
	rec      *Reconciler

	mu    sync.Mutex
	state State
}

func NewOrchestrator(store platform.Store, verifier verify.Verifier, rec *Reconciler) *Orchestrator {
	return &Orchestrator{store: store, verifier: verifier, rec: rec, state: StateIdle}
}

// State returns the current attempt state, StateIdle when nothing is in
// flight.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Begin runs the attempt described by intent to a terminal outcome.
// The intent is discarded after resolution regardless of the outcome.
func (o *Orchestrator) Begin(ctx context.Context, intent Intent) (Result, error) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return Result{}, ErrBusy
	}
	o.state = StateRequested
	o.mu.Unlock()

	defer o.setState(StateIdle)

	slog.InfoContext(ctx, "purchase attempt started",
		"product_id", intent.Offer.ID, "amount", intent.Amount.String())

	o.setState(StatePlatformPending)
	res, err := o.store.Purchase(ctx, intent.Offer)
	if err != nil {
		return Result{Status: StatusFailed}, fmt.Errorf("purchase: platform purchase: %w", err)
	}

	switch res.Outcome {
	case platform.OutcomePending:
		// Park the intent so the listener can complete the attempt when the
		// deferred approval resolves. No wallet or order mutation yet.
		o.rec.RegisterPending(intent)
		slog.InfoContext(ctx, "purchase awaiting external authorization", "product_id", intent.Offer.ID)
		return Result{Status: StatusPaymentPending}, nil

	case platform.OutcomeUserCancelled:
		return Result{Status: StatusCancelled}, nil

	case platform.OutcomeSuccess:
		// fallthrough to verification below

	default:
		return Result{Status: StatusFailed}, fmt.Errorf("purchase: unclassified platform outcome %q", res.Outcome)
	}

	tx := *res.Transaction

	o.setState(StateVerifying)
	outcome, err := o.verifier.Verify(ctx, tx.ID, res.RawReceipt)
	if err != nil {
		// The check itself could not run. Leave the transaction unfinalized;
		// the platform redelivers it and the listener retries verification.
		return Result{Status: StatusFailed}, fmt.Errorf("purchase: verify %s: %w", tx.ID, err)
	}
	if !outcome.Verified {
		// Deliberately not finalized: acknowledging would tell the platform
		// the purchase was delivered even though the client rejected it.
		return Result{Status: StatusFailed}, &VerificationError{TransactionID: tx.ID, Reason: outcome.Reason}
	}

	o.setState(StateApplying)
	if err := o.rec.ApplyPurchase(ctx, intent, tx); err != nil {
		return Result{Status: StatusFailed}, err
	}

	slog.InfoContext(ctx, "purchase attempt finished",
		"product_id", intent.Offer.ID, "transaction_id", tx.ID)
	return Result{Status: StatusFinished, Transaction: &tx}, nil
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}
