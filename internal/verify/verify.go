// Package verify is the port for the external purchase verifier: the opaque
// capability that decides whether a signed platform receipt is authentic.
// The environment (sandbox vs. production) selects the implementation.
package verify

import (
	"context"
	"fmt"
	"strings"
)

// Environment selects which verifier backs the port.
type Environment string

const (
	Sandbox    Environment = "sandbox"
	Production Environment = "production"
)

// ParseEnvironment maps a config string onto an Environment, defaulting to
// sandbox for anything unrecognised so a misconfigured client never trusts
// production receipts by accident.
func ParseEnvironment(s string) Environment {
	if strings.EqualFold(s, string(Production)) {
		return Production
	}
	return Sandbox
}

// Outcome is the verifier's verdict on one receipt.
type Outcome struct {
	Verified bool
	// Reason is set when Verified is false.
	Reason string
}

// Verifier checks a platform receipt's authenticity.
// An error return means the check itself could not run (network, config);
// an unverified Outcome means the check ran and rejected the receipt.
type Verifier interface {
	Verify(ctx context.Context, transactionID, rawReceipt string) (Outcome, error)
}

// Receipt signatures carry an environment-specific scheme prefix. Each
// verifier trusts only its own environment's scheme, so a sandbox receipt
// can never redeem against a production wallet.
const (
	sandboxScheme    = "sig:"
	productionScheme = "psig:"
)

// New returns the verifier for the environment.
func New(env Environment) Verifier {
	if env == Production {
		return productionVerifier{}
	}
	return sandboxVerifier{}
}

// sandboxVerifier accepts sandbox-signed receipts. The real signature scheme
// lives with the platform; locally the verifier enforces the binding between
// receipt and transaction ID.
type sandboxVerifier struct{}

func (sandboxVerifier) Verify(ctx context.Context, transactionID, rawReceipt string) (Outcome, error) {
	return checkBinding(ctx, sandboxScheme, transactionID, rawReceipt)
}

// productionVerifier accepts only production-signed receipts and calls out
// sandbox signatures explicitly, since those are the common replay attempt.
type productionVerifier struct{}

func (productionVerifier) Verify(ctx context.Context, transactionID, rawReceipt string) (Outcome, error) {
	if strings.HasPrefix(rawReceipt, sandboxScheme) {
		return Outcome{Reason: "sandbox receipt rejected in production"}, nil
	}
	return checkBinding(ctx, productionScheme, transactionID, rawReceipt)
}

func checkBinding(ctx context.Context, scheme, transactionID, rawReceipt string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("verify: %w", err)
	}
	if transactionID == "" {
		return Outcome{}, fmt.Errorf("verify: empty transaction id")
	}

	sig, ok := strings.CutPrefix(rawReceipt, scheme)
	if !ok {
		return Outcome{Reason: "malformed receipt"}, nil
	}
	if sig != transactionID {
		return Outcome{Reason: "receipt does not match transaction"}, nil
	}
	return Outcome{Verified: true}, nil
}

// Func adapts a function to the Verifier interface, mainly for tests.
type Func func(ctx context.Context, transactionID, rawReceipt string) (Outcome, error)

func (f Func) Verify(ctx context.Context, transactionID, rawReceipt string) (Outcome, error) {
	return f(ctx, transactionID, rawReceipt)
}
