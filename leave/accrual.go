package leave

import (
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// ACCRUAL - How a policy grows an entitlement row over time
// =============================================================================

// accrualStep is the outcome of bringing one row forward to asOf.
type accrualStep struct {
	Gain     decimal.Decimal
	Months   int
	Uncapped bool
}

// accrue advances e to asOf under policy and returns what was added.
// accrualStart is the earliest day accrual may count from (hire date or the
// start of the row's year, whichever is later).
//
// MONTHLY:            MonthlyRate per whole month since the anchor not yet
//                     counted (LastAccrualDate marks the last one counted),
//                     clamped at YearlyRate unless YearlyRate is zero.
// YEARLY / LUMP_SUM:  YearlyRate once, on first access within the year.
// ON_DEMAND / NONE:   nothing; grants and carry-forward only.
func accrue(e *Entitlement, policy LeavePolicy, accrualStart, asOf generic.TimePoint) accrualStep {
	yearStart := generic.StartOfYear(e.Year)
	if asOf.Before(yearStart) || asOf.Before(accrualStart) {
		return accrualStep{}
	}

	switch policy.AccrualMethod {
	case AccrualMonthly:
		// months are counted from a fixed anchor so that a Jan 31 start
		// accrues the same total however often this runs
		anchor := generic.Latest(yearStart, accrualStart)
		counted := 0
		if !e.LastAccrualDate.IsZero() {
			counted = generic.WholeMonthsBetween(anchor, e.LastAccrualDate)
		}
		// accruing as of Dec 31 closes the twelfth month
		until := asOf
		if !asOf.Before(generic.EndOfYear(e.Year)) {
			until = generic.StartOfYear(e.Year + 1)
		}
		total := generic.WholeMonthsBetween(anchor, until)
		if e.LastAccrualDate.IsZero() {
			e.LastAccrualDate = anchor
		}
		months := total - counted
		if months <= 0 {
			return accrualStep{}
		}

		gain := policy.MonthlyRate.Mul(decimal.NewFromInt(int64(months)))
		uncapped := policy.UncappedAccrual()
		if !uncapped && !policy.YearlyRate.IsZero() {
			headroom := policy.YearlyRate.Sub(e.AccruedActual)
			if headroom.IsNegative() {
				headroom = decimal.Zero
			}
			gain = decimal.Min(gain, headroom)
		}

		e.AccruedActual = e.AccruedActual.Add(gain)
		e.LastAccrualDate = anchor.AddMonths(total)
		return accrualStep{Gain: gain, Months: months, Uncapped: uncapped}

	case AccrualYearly, AccrualLumpSum:
		if !e.LastAccrualDate.IsZero() {
			return accrualStep{}
		}
		e.AccruedActual = e.AccruedActual.Add(policy.YearlyRate)
		e.LastAccrualDate = asOf
		return accrualStep{Gain: policy.YearlyRate}

	default:
		return accrualStep{}
	}
}
