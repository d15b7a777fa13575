/*
Package generic provides the domain-agnostic primitives of the leave engine.

PURPOSE:
  Quantities, dates, periods, the append-only movement journal and the
  concurrency helpers used by the leave package. Nothing in here knows
  what a leave type or an approval step is.

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A quantity with a unit (e.g., 2.5 days)
  - Transaction: An immutable journal entry recording a balance movement
  - Entity/Policy IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Transactions are never modified
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Auditability: Every transaction has reason, actor and idempotency key

SEE ALSO:
  - ledger.go: Journal interface
  - time.go: TimePoint and holiday calendar
  - keylock.go: Per-key lock registry
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Quantity with unit
// =============================================================================

type Amount struct {
	Value decimal.Decimal
	Unit  Unit
}

type Unit string

const UnitDays Unit = "days"

func Days(value decimal.Decimal) Amount {
	return Amount{Value: value, Unit: UnitDays}
}

func (a Amount) Add(b Amount) Amount { return Amount{Value: a.Value.Add(b.Value), Unit: a.Unit} }
func (a Amount) IsNegative() bool    { return a.Value.IsNegative() }
func (a Amount) String() string      { return a.Value.String() + " " + string(a.Unit) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type PolicyID string
type TransactionID string

// =============================================================================
// TRANSACTION - One movement on a balance
// =============================================================================

type TransactionType string

const (
	TxAccrual      TransactionType = "accrual"       // Passive accrual (monthly/yearly)
	TxGrant        TransactionType = "grant"         // Explicit grant (on-demand leave)
	TxCarryForward TransactionType = "carry_forward" // Balance moved in from the previous period
	TxForfeit      TransactionType = "forfeit"       // Balance lost at period rollover
	TxReserve      TransactionType = "reserve"       // Held for a pending request
	TxRelease      TransactionType = "release"       // Hold returned on reject/cancel
	TxCommit       TransactionType = "commit"        // Hold converted to consumption
	TxAdjustment   TransactionType = "adjustment"    // Manual HR correction
)

// Transaction is a journal entry. The balance fields it touched are kept on
// the owning row; the journal only explains how they got there.
type Transaction struct {
	ID             TransactionID
	EntityID       EntityID
	PolicyID       PolicyID
	PeriodYear     int
	EffectiveAt    TimePoint
	Delta          Amount
	Type           TransactionType
	ReferenceID    string
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string

	// Audit fields
	CreatedBy     string
	CreatedByType string // "employee", "manager", "system", "admin"
	CreatedAt     time.Time
}
