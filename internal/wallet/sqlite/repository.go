// Package sqlite provides the durable implementation of wallet.Store plus
// the processed-transaction markers the reconciler needs to stay idempotent
// across process restarts.
//
// WAL mode is enabled on Open so the listener goroutine can write while the
// presentation layer reads the balance. Everything a single wallet mutation
// touches (log row, balance snapshot, processed marker) is written in one
// SQL transaction, so a crash can never leave them inconsistent.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/campuseats/orderpay/internal/purchase"
	"github.com/campuseats/orderpay/internal/wallet"

	// Register the pure-Go SQLite driver. modernc.org/sqlite avoids CGO,
	// which matters on the mobile-adjacent build targets this client ships to.
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on Open.
const schema = `
CREATE TABLE IF NOT EXISTS wallet_transactions (
    -- Insertion order doubles as application order; the log is append-only.
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,

    -- Client-generated UUID of the wallet transaction.
    id           TEXT    NOT NULL UNIQUE,

    -- Signed amount as decimal text: positive credit, negative debit.
    -- TEXT keeps exact decimal semantics; SQLite REAL would round.
    amount       TEXT    NOT NULL,

    -- TOP_UP, PAYMENT or REFUND.
    kind         TEXT    NOT NULL,

    -- RFC3339 stored as TEXT, SQLite idiom.
    created_at   TEXT    NOT NULL,

    description  TEXT    NOT NULL DEFAULT '',

    -- Platform transaction ID that caused this entry, '' when none.
    reference    TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_wallet_transactions_reference
    ON wallet_transactions(reference);

-- Single-row balance snapshot. Rebuilt from the log if it ever diverges;
-- kept only so startup does not need a full table scan on the hot path.
CREATE TABLE IF NOT EXISTS wallet_balance (
    id      INTEGER PRIMARY KEY CHECK (id = 1),
    balance TEXT    NOT NULL
);

-- Platform transaction IDs whose local effect has been applied.
-- Checked before applying, written before finalizing.
CREATE TABLE IF NOT EXISTS processed_transactions (
    transaction_id TEXT PRIMARY KEY,
    applied_at     TEXT NOT NULL
);

-- Carts paid for by a platform transaction, written before the order is
-- submitted. On redelivery the same cart is resubmitted under the same
-- idempotency key instead of producing a second effect.
CREATE TABLE IF NOT EXISTS order_submissions (
    transaction_id  TEXT PRIMARY KEY,
    idempotency_key TEXT NOT NULL,
    cart            TEXT NOT NULL, -- JSON-encoded submit request
    created_at      TEXT NOT NULL
);
`

// Repository is the SQLite implementation of wallet.Store and of the
// reconciler's applied-transaction log.
type Repository struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
//
//	repo, err := sqlite.Open("./data/wallet.db")
func Open(path string) (*Repository, error) {
	// busy_timeout waits for locks instead of failing immediately;
	// foreign_keys is on for integrity even though the schema is flat today.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error { return r.db.Close() }

// Load reads the balance snapshot and the full log in insertion order.
func (r *Repository) Load(ctx context.Context) (wallet.Snapshot, error) {
	snap := wallet.Snapshot{Balance: decimal.Zero}

	var balanceText string
	err := r.db.QueryRowContext(ctx, `SELECT balance FROM wallet_balance WHERE id = 1`).Scan(&balanceText)
	switch {
	case err == sql.ErrNoRows:
		// Fresh database.
	case err != nil:
		return wallet.Snapshot{}, fmt.Errorf("sqlite: load balance: %w", err)
	default:
		snap.Balance, err = decimal.NewFromString(balanceText)
		if err != nil {
			return wallet.Snapshot{}, fmt.Errorf("sqlite: parse balance %q: %w", balanceText, err)
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, amount, kind, created_at, description, reference
		FROM wallet_transactions
		ORDER BY seq`)
	if err != nil {
		return wallet.Snapshot{}, fmt.Errorf("sqlite: load log: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var tx wallet.Transaction
		var amount, createdAt, kind string
		if err := rows.Scan(&tx.ID, &amount, &kind, &createdAt, &tx.Description, &tx.Reference); err != nil {
			return wallet.Snapshot{}, fmt.Errorf("sqlite: scan log row: %w", err)
		}
		tx.Kind = wallet.Kind(kind)
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return wallet.Snapshot{}, fmt.Errorf("sqlite: parse amount %q: %w", amount, err)
		}
		if tx.Timestamp, err = parseRFC3339(createdAt); err != nil {
			return wallet.Snapshot{}, err
		}
		snap.Log = append(snap.Log, tx)
	}
	if err := rows.Err(); err != nil {
		return wallet.Snapshot{}, fmt.Errorf("sqlite: iterate log: %w", err)
	}
	return snap, nil
}

// Append writes the transaction, the new balance snapshot and, when the
// transaction carries a platform reference, the processed marker — all in
// one SQL transaction.
func (r *Repository) Append(ctx context.Context, tx wallet.Transaction, balance decimal.Decimal) error {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer dbTx.Rollback()

	createdAt := formatRFC3339(tx.Timestamp)
	if _, err := dbTx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, amount, kind, created_at, description, reference)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.Amount.String(), string(tx.Kind), createdAt, tx.Description, tx.Reference,
	); err != nil {
		return fmt.Errorf("sqlite: insert transaction: %w", err)
	}

	if _, err := dbTx.ExecContext(ctx, `
		INSERT INTO wallet_balance (id, balance) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET balance = excluded.balance`,
		balance.String(),
	); err != nil {
		return fmt.Errorf("sqlite: update balance: %w", err)
	}

	if tx.Reference != "" {
		if _, err := dbTx.ExecContext(ctx, `
			INSERT INTO processed_transactions (transaction_id, applied_at)
			VALUES (?, ?) ON CONFLICT(transaction_id) DO NOTHING`,
			tx.Reference, createdAt,
		); err != nil {
			return fmt.Errorf("sqlite: mark processed: %w", err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Seen reports whether the platform transaction's effect was already applied.
func (r *Repository) Seen(ctx context.Context, transactionID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_transactions WHERE transaction_id = ?`, transactionID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: seen: %w", err)
	}
	return true, nil
}

// Mark records an applied platform transaction that produced no wallet entry
// (order payments). Marking twice is a no-op.
func (r *Repository) Mark(ctx context.Context, transactionID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO processed_transactions (transaction_id, applied_at)
		VALUES (?, ?) ON CONFLICT(transaction_id) DO NOTHING`,
		transactionID, nowRFC3339(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: mark: %w", err)
	}
	return nil
}

// SaveSubmission records the cart a platform transaction paid for. The first
// write wins; a replay of the same transaction keeps the original cart.
func (r *Repository) SaveSubmission(ctx context.Context, transactionID string, sub purchase.Submission) error {
	cart, err := json.Marshal(sub.Cart)
	if err != nil {
		return fmt.Errorf("sqlite: encode cart for %s: %w", transactionID, err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO order_submissions (transaction_id, idempotency_key, cart, created_at)
		VALUES (?, ?, ?, ?) ON CONFLICT(transaction_id) DO NOTHING`,
		transactionID, sub.IdempotencyKey, string(cart), nowRFC3339(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save submission: %w", err)
	}
	return nil
}

// Submission returns the stored cart for the transaction, if any.
func (r *Repository) Submission(ctx context.Context, transactionID string) (purchase.Submission, bool, error) {
	var sub purchase.Submission
	var cart string
	err := r.db.QueryRowContext(ctx, `
		SELECT idempotency_key, cart FROM order_submissions WHERE transaction_id = ?`,
		transactionID,
	).Scan(&sub.IdempotencyKey, &cart)
	if err == sql.ErrNoRows {
		return purchase.Submission{}, false, nil
	}
	if err != nil {
		return purchase.Submission{}, false, fmt.Errorf("sqlite: load submission: %w", err)
	}
	if err := json.Unmarshal([]byte(cart), &sub.Cart); err != nil {
		return purchase.Submission{}, false, fmt.Errorf("sqlite: decode cart for %s: %w", transactionID, err)
	}
	return sub, true, nil
}
