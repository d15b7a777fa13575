package leave

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

// EntitlementKey identifies one ledger row.
type EntitlementKey struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Year        int
}

func (k EntitlementKey) String() string {
	return string(k.EmployeeID) + "/" + string(k.LeaveTypeID) + "/" + strconv.Itoa(k.Year)
}

// lockKey is the KeyedMutex key guarding this row.
func (k EntitlementKey) lockKey() string { return "entitlement:" + k.String() }

// Entitlement is the balance of one employee for one leave type in one year.
//
// INVARIANT (checked before every write):
//
//	Remaining == AccruedRounded + CarryForward - Taken - Pending
//	Remaining >= 0 when the leave type is deductible
//
// AccruedRounded is RoundingRule(AccruedActual) + Adjusted, so manual
// adjustments survive re-rounding on later accruals.
type Entitlement struct {
	EntitlementKey

	YearlyEntitlement decimal.Decimal
	CarryForward      decimal.Decimal
	AccruedActual     decimal.Decimal // continuous, unrounded
	Adjusted          decimal.Decimal // net of manual ADD/DEDUCT
	AccruedRounded    decimal.Decimal
	Taken             decimal.Decimal
	Pending           decimal.Decimal
	Remaining         decimal.Decimal

	LastAccrualDate     generic.TimePoint // zero = never accrued
	CarryForwardApplied bool              // rollover into this row already done

	Version   int64 // optimistic concurrency, 0 = not yet stored
	UpdatedAt time.Time
}

func newEntitlement(key EntitlementKey, policy LeavePolicy) Entitlement {
	return Entitlement{
		EntitlementKey:    key,
		YearlyEntitlement: policy.YearlyRate,
	}
}

// recompute derives AccruedRounded and Remaining from the stored components.
func (e *Entitlement) recompute(rule RoundingRule) {
	e.AccruedRounded = rule.Apply(e.AccruedActual).Add(e.Adjusted)
	e.Remaining = e.AccruedRounded.Add(e.CarryForward).Sub(e.Taken).Sub(e.Pending)
}

// CheckInvariant returns ErrInvariant if the row is internally inconsistent.
func (e Entitlement) CheckInvariant(deductible bool) error {
	want := e.AccruedRounded.Add(e.CarryForward).Sub(e.Taken).Sub(e.Pending)
	if !e.Remaining.Equal(want) {
		return fmt.Errorf("%w: %s remaining %s, expected %s", ErrInvariant, e.EntitlementKey, e.Remaining, want)
	}
	if e.Pending.IsNegative() || e.Taken.IsNegative() {
		return fmt.Errorf("%w: %s pending %s taken %s", ErrInvariant, e.EntitlementKey, e.Pending, e.Taken)
	}
	if deductible && e.Remaining.IsNegative() {
		return fmt.Errorf("%w: %s remaining %s is negative", ErrInvariant, e.EntitlementKey, e.Remaining)
	}
	return nil
}
