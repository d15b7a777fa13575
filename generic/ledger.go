/*
ledger.go - Append-only movement journal

PURPOSE:
  Every change to an entitlement balance is explained by a Transaction in
  the journal: accruals, grants, carry-forward, forfeits, reservations,
  releases, commits and manual adjustments. The balance row is the fast
  path; the journal is the audit trail.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IMMUTABLE: Once written, transactions cannot be modified
  3. IDEMPOTENT: Same idempotency key = same transaction (no duplicates)

CORRECTIONS:
  A mistake is corrected with a new adjustment transaction, never by
  editing the original one.

SEE ALSO:
  - leave/ledger.go: Writes one movement per balance mutation
  - store/*: Journal implementations
*/
package generic

import (
	"context"
	"slices"
)

// Journal persists balance movements.
type Journal interface {
	// Append adds transactions atomically. Fails with
	// ErrDuplicateIdempotencyKey if any key already exists.
	Append(ctx context.Context, txs ...Transaction) error

	// Transactions returns the movements for entity+policy in one period
	// year, oldest first.
	Transactions(ctx context.Context, entityID EntityID, policyID PolicyID, year int) ([]Transaction, error)
}

// SumDeltas returns the net of the movements of the given types. With no
// types, every movement counts.
func SumDeltas(txs []Transaction, unit Unit, types ...TransactionType) Amount {
	total := Amount{Unit: unit}
	for _, tx := range txs {
		if len(types) > 0 && !slices.Contains(types, tx.Type) {
			continue
		}
		total = total.Add(tx.Delta)
	}
	return total
}
