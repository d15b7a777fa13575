/*
ledger.go - Entitlement ledger

PURPOSE:
  Owns every write to an entitlement row. Accrual, carry-forward,
  reservation, release, commit, grants and manual adjustments all go
  through here; no other component touches Taken, Pending or Remaining.

CONCURRENCY:
  Each public operation runs under the per-key lock of its row, inside a
  store transaction, with a versioned (compare-and-swap) save. A lost race
  surfaces as generic.ErrConcurrentModification and is retried. Together
  these make Reserve linearizable per (employee, leave type, year) even
  across processes sharing one database.

  The *Tx variants run inside a caller's transaction and assume the caller
  already holds the row lock. The lifecycle engine uses them to reserve and
  persist a request atomically.

AUDIT:
  Every mutation appends a generic.Transaction to the journal.

SEE ALSO:
  - accrual.go: Accrual arithmetic
  - entitlement.go: Row layout and invariant
  - lifecycle.go: Request engine built on the *Tx variants
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// errNoop tells mutateTx to leave the row untouched.
var errNoop = errors.New("noop")

type AdjustDirection string

const (
	AdjustAdd    AdjustDirection = "ADD"
	AdjustDeduct AdjustDirection = "DEDUCT"
)

// Adjustment is a manual HR correction outside the request lifecycle.
type Adjustment struct {
	Amount    decimal.Decimal
	Direction AdjustDirection
	Reason    string
	ActorID   EmployeeID
}

// rules is a leave type with its current policy.
type rules struct {
	Type   LeaveType
	Policy LeavePolicy
}

type mutation func(r rules, e *Entitlement) ([]generic.Transaction, error)

type Ledger struct {
	store     Store
	locks     *generic.KeyedMutex
	directory Directory // optional; clamps accrual to the hire date
	now       func() time.Time
	logger    *zap.Logger
}

func NewLedger(store Store, locks *generic.KeyedMutex, logger *zap.Logger) *Ledger {
	if locks == nil {
		locks = generic.NewKeyedMutex()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{store: store, locks: locks, now: time.Now, logger: logger.Named("ledger")}
}

// WithDirectory makes accrual start no earlier than the employee's hire date.
func (l *Ledger) WithDirectory(d Directory) *Ledger {
	l.directory = d
	return l
}

// =============================================================================
// PUBLIC OPERATIONS
// =============================================================================

// Get returns the stored row for key.
func (l *Ledger) Get(ctx context.Context, key EntitlementKey) (Entitlement, error) {
	return l.store.GetEntitlement(ctx, key)
}

// History returns the journal of key, oldest first.
func (l *Ledger) History(ctx context.Context, key EntitlementKey) ([]generic.Transaction, error) {
	return l.store.Transactions(ctx, generic.EntityID(key.EmployeeID), generic.PolicyID(key.LeaveTypeID), key.Year)
}

// Accrue brings the asOf year's row of employeeID/leaveTypeID up to asOf.
func (l *Ledger) Accrue(ctx context.Context, employeeID EmployeeID, leaveTypeID LeaveTypeID, asOf generic.TimePoint) (Entitlement, error) {
	key := EntitlementKey{EmployeeID: employeeID, LeaveTypeID: leaveTypeID, Year: asOf.Year()}
	start, err := l.accrualStart(ctx, key)
	if err != nil {
		return Entitlement{}, err
	}
	return l.mutate(ctx, key, l.accrual(key, start, asOf))
}

// Grant adds days to an entitlement explicitly, e.g. approved mission leave
// on an ON_DEMAND type.
func (l *Ledger) Grant(ctx context.Context, key EntitlementKey, days decimal.Decimal, reason string, actor EmployeeID) (Entitlement, error) {
	if !days.IsPositive() {
		return Entitlement{}, &ValidationError{Field: "days", Message: "grant must be positive"}
	}
	return l.mutate(ctx, key, func(r rules, e *Entitlement) ([]generic.Transaction, error) {
		e.AccruedActual = e.AccruedActual.Add(days)
		mv := l.movement(key, generic.TxGrant, days, "", reason, "")
		mv.CreatedBy, mv.CreatedByType = string(actor), "admin"
		return []generic.Transaction{mv}, nil
	})
}

// Reserve holds days against key for a pending request. It fails with
// InsufficientBalanceError when Remaining < days on a deductible type.
func (l *Ledger) Reserve(ctx context.Context, key EntitlementKey, days decimal.Decimal, ref string) (Entitlement, error) {
	if err := positiveDays(days); err != nil {
		return Entitlement{}, err
	}
	return l.mutate(ctx, key, l.reservation(key, days, ref))
}

// Release returns previously reserved days.
func (l *Ledger) Release(ctx context.Context, key EntitlementKey, days decimal.Decimal, ref string) (Entitlement, error) {
	if err := positiveDays(days); err != nil {
		return Entitlement{}, err
	}
	return l.mutate(ctx, key, l.release(key, days, ref))
}

// Commit turns reserved days into taken days. Remaining is unchanged.
func (l *Ledger) Commit(ctx context.Context, key EntitlementKey, days decimal.Decimal, ref string) (Entitlement, error) {
	if err := positiveDays(days); err != nil {
		return Entitlement{}, err
	}
	return l.mutate(ctx, key, l.commit(key, days, ref))
}

// Adjust applies a manual correction and journals who made it and why.
func (l *Ledger) Adjust(ctx context.Context, key EntitlementKey, adj Adjustment) (Entitlement, error) {
	switch {
	case !adj.Amount.IsPositive():
		return Entitlement{}, &InvalidAdjustmentError{Key: key, Reason: "amount must be positive"}
	case adj.Direction != AdjustAdd && adj.Direction != AdjustDeduct:
		return Entitlement{}, &InvalidAdjustmentError{Key: key, Reason: fmt.Sprintf("unknown direction %q", adj.Direction)}
	case adj.Reason == "":
		return Entitlement{}, &InvalidAdjustmentError{Key: key, Reason: "reason is required"}
	case adj.ActorID == "":
		return Entitlement{}, &InvalidAdjustmentError{Key: key, Reason: "actor is required"}
	}

	return l.mutate(ctx, key, func(r rules, e *Entitlement) ([]generic.Transaction, error) {
		delta := adj.Amount
		if adj.Direction == AdjustDeduct {
			delta = delta.Neg()
		}
		e.Adjusted = e.Adjusted.Add(delta)
		e.recompute(r.Policy.RoundingRule)
		if r.Type.Deductible && e.Remaining.IsNegative() {
			return nil, &InvalidAdjustmentError{Key: key, Reason: fmt.Sprintf("remaining would be %s", e.Remaining)}
		}

		mv := l.movement(key, generic.TxAdjustment, delta, "", adj.Reason, "adjust:"+uuid.NewString())
		mv.CreatedBy, mv.CreatedByType = string(adj.ActorID), "admin"
		mv.Metadata = map[string]string{
			"direction": string(adj.Direction),
			"amount":    adj.Amount.String(),
		}
		return []generic.Transaction{mv}, nil
	})
}

// ApplyCarryForward rolls fromYear's remaining balance into toYear, capped by
// the policy, and forfeits the rest. Calling it again for the same target
// year is a no-op.
func (l *Ledger) ApplyCarryForward(ctx context.Context, employeeID EmployeeID, leaveTypeID LeaveTypeID, fromYear, toYear int) (Entitlement, error) {
	if toYear <= fromYear {
		return Entitlement{}, &ValidationError{Field: "to_year", Message: "must be after from_year"}
	}
	fromKey := EntitlementKey{EmployeeID: employeeID, LeaveTypeID: leaveTypeID, Year: fromYear}
	toKey := EntitlementKey{EmployeeID: employeeID, LeaveTypeID: leaveTypeID, Year: toYear}

	unlock := l.locks.LockAll(fromKey.lockKey(), toKey.lockKey())
	defer unlock()

	var out Entitlement
	err := generic.Retry(ctx, generic.DefaultRetryAttempts, func() error {
		return l.store.WithTx(ctx, func(tx Store) error {
			e, err := l.carryForwardTx(ctx, tx, fromKey, toKey)
			out = e
			return err
		})
	})
	return out, err
}

func (l *Ledger) carryForwardTx(ctx context.Context, tx Store, fromKey, toKey EntitlementKey) (Entitlement, error) {
	r, err := rulesFor(ctx, tx, toKey.LeaveTypeID)
	if err != nil {
		return Entitlement{}, err
	}
	target, err := load(ctx, tx, toKey, r.Policy)
	if err != nil {
		return Entitlement{}, err
	}
	if target.CarryForwardApplied {
		return target, nil
	}
	source, err := load(ctx, tx, fromKey, r.Policy)
	if err != nil {
		return Entitlement{}, err
	}

	carry := decimal.Zero
	if r.Policy.CarryForwardAllowed && source.Remaining.IsPositive() {
		carry = source.Remaining
		if r.Policy.MaxCarryForward != nil {
			carry = decimal.Min(carry, *r.Policy.MaxCarryForward)
		}
	}
	forfeit := decimal.Max(source.Remaining.Sub(carry), decimal.Zero)

	target.CarryForward = target.CarryForward.Add(carry)
	target.CarryForwardApplied = true
	if err := l.save(ctx, tx, r, &target); err != nil {
		return Entitlement{}, err
	}

	var movements []generic.Transaction
	if carry.IsPositive() {
		mv := l.movement(toKey, generic.TxCarryForward, carry, fromKey.String(), "year-end carry-forward", "carry_forward:"+toKey.String())
		movements = append(movements, mv)
	}
	if forfeit.IsPositive() {
		mv := l.movement(fromKey, generic.TxForfeit, forfeit.Neg(), toKey.String(), "year-end forfeit", "forfeit:"+fromKey.String())
		movements = append(movements, mv)
	}
	if len(movements) > 0 {
		if err := tx.Append(ctx, movements...); err != nil {
			return Entitlement{}, fmt.Errorf("journal carry-forward: %w", err)
		}
	}

	l.logger.Info("carry-forward applied",
		zap.String("employee_id", string(toKey.EmployeeID)),
		zap.String("leave_type_id", string(toKey.LeaveTypeID)),
		zap.Int("to_year", toKey.Year),
		zap.Stringer("carried", carry),
		zap.Stringer("forfeited", forfeit))
	return target, nil
}

// =============================================================================
// IN-TRANSACTION VARIANTS (caller holds the row lock)
// =============================================================================

func (l *Ledger) accrueTx(ctx context.Context, tx Store, key EntitlementKey, accrualStart, asOf generic.TimePoint) (Entitlement, error) {
	return l.mutateTx(ctx, tx, key, l.accrual(key, accrualStart, asOf))
}

func (l *Ledger) reserveTx(ctx context.Context, tx Store, key EntitlementKey, days decimal.Decimal, ref string) (Entitlement, error) {
	return l.mutateTx(ctx, tx, key, l.reservation(key, days, ref))
}

func (l *Ledger) releaseTx(ctx context.Context, tx Store, key EntitlementKey, days decimal.Decimal, ref string) (Entitlement, error) {
	return l.mutateTx(ctx, tx, key, l.release(key, days, ref))
}

func (l *Ledger) commitTx(ctx context.Context, tx Store, key EntitlementKey, days decimal.Decimal, ref string) (Entitlement, error) {
	return l.mutateTx(ctx, tx, key, l.commit(key, days, ref))
}

// =============================================================================
// MUTATIONS
// =============================================================================

func (l *Ledger) accrual(key EntitlementKey, accrualStart, asOf generic.TimePoint) mutation {
	return func(r rules, e *Entitlement) ([]generic.Transaction, error) {
		if !r.Policy.AccrualMethod.Passive() {
			return nil, errNoop
		}
		step := accrue(e, r.Policy, accrualStart, asOf)
		if step.Uncapped && step.Gain.IsPositive() {
			l.logger.Warn("uncapped monthly accrual: policy has no yearly rate",
				zap.String("employee_id", string(key.EmployeeID)),
				zap.String("leave_type_id", string(key.LeaveTypeID)),
				zap.Int("year", key.Year),
				zap.Stringer("accrued_actual", e.AccruedActual))
		}
		if !step.Gain.IsPositive() {
			return nil, nil
		}
		mv := l.movement(key, generic.TxAccrual, step.Gain, "", string(r.Policy.AccrualMethod),
			"accrual:"+key.String()+":"+e.LastAccrualDate.String())
		mv.EffectiveAt = e.LastAccrualDate
		if step.Months > 0 {
			mv.Metadata = map[string]string{"months": fmt.Sprint(step.Months)}
		}
		return []generic.Transaction{mv}, nil
	}
}

func (l *Ledger) reservation(key EntitlementKey, days decimal.Decimal, ref string) mutation {
	return func(r rules, e *Entitlement) ([]generic.Transaction, error) {
		if !r.Type.Deductible {
			return nil, errNoop
		}
		if e.Remaining.LessThan(days) {
			return nil, &InsufficientBalanceError{Key: key, Remaining: e.Remaining, Requested: days}
		}
		e.Pending = e.Pending.Add(days)
		return []generic.Transaction{l.movement(key, generic.TxReserve, days.Neg(), ref, "", idem("reserve", ref))}, nil
	}
}

func (l *Ledger) release(key EntitlementKey, days decimal.Decimal, ref string) mutation {
	return func(r rules, e *Entitlement) ([]generic.Transaction, error) {
		if !r.Type.Deductible {
			return nil, errNoop
		}
		if e.Pending.LessThan(days) {
			return nil, fmt.Errorf("%w: release %s from %s with only %s pending", ErrInvariant, days, key, e.Pending)
		}
		e.Pending = e.Pending.Sub(days)
		return []generic.Transaction{l.movement(key, generic.TxRelease, days, ref, "", idem("release", ref))}, nil
	}
}

func (l *Ledger) commit(key EntitlementKey, days decimal.Decimal, ref string) mutation {
	return func(r rules, e *Entitlement) ([]generic.Transaction, error) {
		if !r.Type.Deductible {
			return nil, errNoop
		}
		if e.Pending.LessThan(days) {
			return nil, fmt.Errorf("%w: commit %s on %s with only %s pending", ErrInvariant, days, key, e.Pending)
		}
		e.Pending = e.Pending.Sub(days)
		e.Taken = e.Taken.Add(days)
		// remaining is unchanged: the reservation already took it out
		return []generic.Transaction{l.movement(key, generic.TxCommit, decimal.Zero, ref, days.String()+" days taken", idem("commit", ref))}, nil
	}
}

// =============================================================================
// PLUMBING
// =============================================================================

func (l *Ledger) mutate(ctx context.Context, key EntitlementKey, fn mutation) (Entitlement, error) {
	unlock := l.locks.Lock(key.lockKey())
	defer unlock()

	var out Entitlement
	err := generic.Retry(ctx, generic.DefaultRetryAttempts, func() error {
		return l.store.WithTx(ctx, func(tx Store) error {
			e, err := l.mutateTx(ctx, tx, key, fn)
			out = e
			return err
		})
	})
	return out, err
}

func (l *Ledger) mutateTx(ctx context.Context, tx Store, key EntitlementKey, fn mutation) (Entitlement, error) {
	r, err := rulesFor(ctx, tx, key.LeaveTypeID)
	if err != nil {
		return Entitlement{}, err
	}
	e, err := load(ctx, tx, key, r.Policy)
	if err != nil {
		return Entitlement{}, err
	}

	movements, err := fn(r, &e)
	if errors.Is(err, errNoop) {
		return e, nil
	}
	if err != nil {
		return Entitlement{}, err
	}

	if err := l.save(ctx, tx, r, &e); err != nil {
		return Entitlement{}, err
	}
	if len(movements) > 0 {
		if err := tx.Append(ctx, movements...); err != nil {
			return Entitlement{}, fmt.Errorf("journal %s: %w", key, err)
		}
	}
	return e, nil
}

func (l *Ledger) save(ctx context.Context, tx Store, r rules, e *Entitlement) error {
	e.recompute(r.Policy.RoundingRule)
	if err := e.CheckInvariant(r.Type.Deductible); err != nil {
		return err
	}
	e.UpdatedAt = l.now()
	if err := tx.SaveEntitlement(ctx, e); err != nil {
		return fmt.Errorf("save entitlement %s: %w", e.EntitlementKey, err)
	}
	return nil
}

// accrualStart is the later of the row's year start and the hire date.
func (l *Ledger) accrualStart(ctx context.Context, key EntitlementKey) (generic.TimePoint, error) {
	start := generic.StartOfYear(key.Year)
	if l.directory == nil {
		return start, nil
	}
	p, err := l.directory.GetEmployee(ctx, key.EmployeeID)
	if err != nil {
		return generic.TimePoint{}, err
	}
	return generic.Latest(start, p.HireDate), nil
}

func (l *Ledger) movement(key EntitlementKey, typ generic.TransactionType, delta decimal.Decimal, ref, reason, idempotencyKey string) generic.Transaction {
	now := l.now()
	return generic.Transaction{
		ID:             generic.TransactionID(uuid.NewString()),
		EntityID:       generic.EntityID(key.EmployeeID),
		PolicyID:       generic.PolicyID(key.LeaveTypeID),
		PeriodYear:     key.Year,
		EffectiveAt:    generic.FromTime(now),
		Delta:          generic.Days(delta),
		Type:           typ,
		ReferenceID:    ref,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
		CreatedBy:      "system",
		CreatedByType:  "system",
		CreatedAt:      now,
	}
}

func rulesFor(ctx context.Context, c Catalog, id LeaveTypeID) (rules, error) {
	lt, err := c.GetLeaveType(ctx, id)
	if errors.Is(err, generic.ErrNotFound) {
		return rules{}, fmt.Errorf("%w: %s", ErrLeaveTypeNotFound, id)
	}
	if err != nil {
		return rules{}, err
	}
	p, err := c.GetPolicy(ctx, id)
	if errors.Is(err, generic.ErrNotFound) {
		return rules{}, &PolicyNotFoundError{LeaveTypeID: id}
	}
	if err != nil {
		return rules{}, err
	}
	return rules{Type: lt, Policy: p}, nil
}

// load returns the stored row, or a fresh unsaved one, recomputed under the
// current rounding rule.
func load(ctx context.Context, s EntitlementStore, key EntitlementKey, p LeavePolicy) (Entitlement, error) {
	e, err := s.GetEntitlement(ctx, key)
	if errors.Is(err, generic.ErrNotFound) {
		e = newEntitlement(key, p)
	} else if err != nil {
		return Entitlement{}, fmt.Errorf("load entitlement %s: %w", key, err)
	}
	e.recompute(p.RoundingRule)
	return e, nil
}

func positiveDays(days decimal.Decimal) error {
	if !days.IsPositive() {
		return &ValidationError{Field: "days", Message: "must be positive"}
	}
	return nil
}

func idem(op, ref string) string {
	if ref == "" {
		return ""
	}
	return op + ":" + ref
}
