package leave_test

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// ACCRUAL
// =============================================================================

func TestAccrue_MonthlySixMonths(t *testing.T) {
	// GIVEN: MONTHLY 2.5/month capped at 30, ROUND_DOWN
	f := newFixture(t, at(2025, time.July, 1))

	// WHEN: Alice accrues for six whole months
	e, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", day(2025, time.July, 1))
	require.NoError(t, err)

	// THEN: 15 days, both actual and rounded
	assert.Equal(t, "15", e.AccruedActual.String())
	assert.Equal(t, "15", e.AccruedRounded.String())
	assert.Equal(t, "15", e.Remaining.String())
	assert.True(t, e.LastAccrualDate.Equal(day(2025, time.July, 1)))

	history, err := f.engine.Ledger.History(f.ctx, f.key("alice", "annual", 2025))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, generic.TxAccrual, history[0].Type)
	assert.Equal(t, "6", history[0].Metadata["months"])
}

func TestAccrue_IsResumable(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))

	// GIVEN: Accrual run in three steps, one of them repeated
	for _, d := range []generic.TimePoint{day(2025, time.March, 1), day(2025, time.March, 1), day(2025, time.May, 20), day(2025, time.July, 1)} {
		_, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", d)
		require.NoError(t, err)
	}

	// THEN: Same total as one six-month accrual
	e := f.entitlement(t, f.key("alice", "annual", 2025))
	assert.Equal(t, "15", e.AccruedActual.String())

	history, err := f.engine.Ledger.History(f.ctx, e.EntitlementKey)
	require.NoError(t, err)
	assert.Equal(t, "15", generic.SumDeltas(history, generic.UnitDays, generic.TxAccrual).Value.String())
}

func TestAccrue_MonthEndHireIsFrequencyIndependent(t *testing.T) {
	// GIVEN: Two people hired on Jan 31
	f := newFixture(t, at(2025, time.December, 31))
	for _, id := range []leave.EmployeeID{"monthly", "yearly"} {
		require.NoError(t, f.store.SaveEmployee(f.ctx, leave.EmployeeProfile{
			ID: id, Name: string(id), HireDate: day(2025, time.January, 31),
			ContractType: leave.ContractPermanent, ManagerID: "mgr", HRAdminID: "hr",
		}))
	}

	// WHEN: One accrues on the 1st of every month then on Dec 31, the other once
	for m := time.February; m <= time.December; m++ {
		_, err := f.engine.Ledger.Accrue(f.ctx, "monthly", "annual", day(2025, m, 1))
		require.NoError(t, err)
	}
	_, err := f.engine.Ledger.Accrue(f.ctx, "monthly", "annual", day(2025, time.December, 31))
	require.NoError(t, err)
	_, err = f.engine.Ledger.Accrue(f.ctx, "yearly", "annual", day(2025, time.December, 31))
	require.NoError(t, err)

	// THEN: Both closed the same eleven months
	stepwise := f.entitlement(t, f.key("monthly", "annual", 2025))
	once := f.entitlement(t, f.key("yearly", "annual", 2025))
	assert.Equal(t, "27.5", once.AccruedActual.String())
	assert.Equal(t, once.AccruedActual.String(), stepwise.AccruedActual.String())
	assert.True(t, stepwise.LastAccrualDate.Equal(once.LastAccrualDate))

	history, err := f.engine.Ledger.History(f.ctx, stepwise.EntitlementKey)
	require.NoError(t, err)
	assert.Equal(t, "27.5", generic.SumDeltas(history, generic.UnitDays, generic.TxAccrual).Value.String())
}

func TestAccrue_RoundingRules(t *testing.T) {
	cases := []struct {
		rule leave.RoundingRule
		want string
	}{
		{leave.RoundNone, "5.25"},
		{leave.RoundDown, "5"},
		{leave.RoundUp, "6"},
		{leave.RoundNearest, "5.5"},
	}
	for _, tc := range cases {
		t.Run(string(tc.rule), func(t *testing.T) {
			// GIVEN: 1.75 days/month under the rule
			f := newFixture(t, at(2025, time.April, 1))
			id := leave.LeaveTypeID("rounded")
			f.saveType(t,
				leave.LeaveType{ID: id, Name: "Rounded", Deductible: true},
				leave.LeavePolicy{LeaveTypeID: id, AccrualMethod: leave.AccrualMonthly,
					MonthlyRate: dec("1.75"), YearlyRate: dec("21"), RoundingRule: tc.rule})

			// WHEN: Three months accrue
			e, err := f.engine.Ledger.Accrue(f.ctx, "alice", id, day(2025, time.April, 1))
			require.NoError(t, err)

			// THEN: Actual is exact, rounded follows the rule
			assert.Equal(t, "5.25", e.AccruedActual.String())
			assert.Equal(t, tc.want, e.AccruedRounded.String())
			assert.Equal(t, tc.want, e.Remaining.String())
		})
	}
}

func TestAccrue_ClampsAtYearlyRate(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))

	// WHEN: A full year accrues, then accrual is asked again
	e, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", generic.EndOfYear(2024))
	require.NoError(t, err)
	again, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", generic.EndOfYear(2024))
	require.NoError(t, err)

	// THEN: Twelve months, never above the yearly rate
	assert.Equal(t, "30", e.AccruedActual.String())
	assert.Equal(t, "30", again.AccruedActual.String())
}

func TestAccrue_UncappedMonthlyIsFlagged(t *testing.T) {
	// GIVEN: MONTHLY with no yearly ceiling
	f := newFixture(t, at(2025, time.July, 1))
	id := leave.LeaveTypeID("uncapped")
	f.saveType(t,
		leave.LeaveType{ID: id, Name: "Uncapped", Deductible: true},
		leave.LeavePolicy{LeaveTypeID: id, AccrualMethod: leave.AccrualMonthly, MonthlyRate: dec("4"), RoundingRule: leave.RoundNone})

	// WHEN: A year of accrual
	e, err := f.engine.Ledger.Accrue(f.ctx, "alice", id, generic.EndOfYear(2024))
	require.NoError(t, err)

	// THEN: Not clamped, and a warning is logged
	assert.Equal(t, "48", e.AccruedActual.String())
	warnings := f.logs.FilterMessage("uncapped monthly accrual: policy has no yearly rate").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "uncapped", warnings[0].ContextMap()["leave_type_id"])
}

func TestAccrue_LumpSumOncePerYear(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	id := leave.LeaveTypeID("sick")
	f.saveType(t,
		leave.LeaveType{ID: id, Name: "Sick", Deductible: true},
		leave.LeavePolicy{LeaveTypeID: id, AccrualMethod: leave.AccrualLumpSum, YearlyRate: dec("12"), RoundingRule: leave.RoundNone})

	_, err := f.engine.Ledger.Accrue(f.ctx, "alice", id, day(2025, time.February, 3))
	require.NoError(t, err)
	e, err := f.engine.Ledger.Accrue(f.ctx, "alice", id, day(2025, time.June, 3))
	require.NoError(t, err)

	assert.Equal(t, "12", e.AccruedActual.String())
}

func TestAccrue_StartsAtHireDate(t *testing.T) {
	// GIVEN: Bob joined on 15 January
	f := newFixture(t, at(2025, time.July, 1))

	// WHEN: Accruing to 1 July
	e, err := f.engine.Ledger.Accrue(f.ctx, "bob", "annual", day(2025, time.July, 1))
	require.NoError(t, err)

	// THEN: Five whole months since the hire date, rounded down
	assert.Equal(t, "12.5", e.AccruedActual.String())
	assert.Equal(t, "12", e.AccruedRounded.String())
}

func TestAccrue_NonPassiveIsNoop(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))

	_, err := f.engine.Ledger.Accrue(f.ctx, "alice", "unpaid", day(2025, time.July, 1))
	require.NoError(t, err)

	_, err = f.engine.Ledger.Get(f.ctx, f.key("alice", "unpaid", 2025))
	assert.ErrorIs(t, err, generic.ErrNotFound, "no row is written")
}

func TestAccrue_UnknownLeaveType(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	_, err := f.engine.Ledger.Accrue(f.ctx, "alice", "sabbatical", day(2025, time.July, 1))
	assert.ErrorIs(t, err, leave.ErrLeaveTypeNotFound)
	assert.True(t, leave.IsNotFound(err))
}

func TestGrant(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	key := f.key("alice", "unpaid", 2025)

	e, err := f.engine.Ledger.Grant(f.ctx, key, dec("3"), "mission", "hr")
	require.NoError(t, err)
	assert.Equal(t, "3", e.Remaining.String())

	_, err = f.engine.Ledger.Grant(f.ctx, key, dec("0"), "nothing", "hr")
	assert.ErrorIs(t, err, leave.ErrValidation)
}

// =============================================================================
// RESERVE / RELEASE / COMMIT
// =============================================================================

func TestReserveReleaseCommit(t *testing.T) {
	// GIVEN: 15 days accrued
	f := newFixture(t, at(2025, time.July, 1))
	key := f.key("alice", "annual", 2025)
	_, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", day(2025, time.July, 1))
	require.NoError(t, err)

	// WHEN: 4 reserved, 1 released, 3 committed
	e, err := f.engine.Ledger.Reserve(f.ctx, key, dec("4"), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "4", e.Pending.String())
	assert.Equal(t, "11", e.Remaining.String())

	e, err = f.engine.Ledger.Release(f.ctx, key, dec("1"), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "3", e.Pending.String())
	assert.Equal(t, "12", e.Remaining.String())

	e, err = f.engine.Ledger.Commit(f.ctx, key, dec("3"), "req-1")
	require.NoError(t, err)

	// THEN: Taken grows, remaining does not move on commit
	assert.Equal(t, "0", e.Pending.String())
	assert.Equal(t, "3", e.Taken.String())
	assert.Equal(t, "12", e.Remaining.String())

	history, err := f.engine.Ledger.History(f.ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []generic.TransactionType{generic.TxAccrual, generic.TxReserve, generic.TxRelease, generic.TxCommit}, txTypes(history))
}

func TestReserve_InsufficientBalance(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	key := f.key("alice", "annual", 2025)
	_, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", day(2025, time.March, 1))
	require.NoError(t, err)

	_, err = f.engine.Ledger.Reserve(f.ctx, key, dec("7"), "req-1")

	var ibe *leave.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.Equal(t, "5", ibe.Remaining.String())
	assert.Equal(t, "2", ibe.Shortfall().String())
	assert.True(t, leave.IsClientError(err))

	e := f.entitlement(t, key)
	assert.True(t, e.Pending.IsZero(), "failed reserve leaves the row untouched")
}

func TestRelease_MoreThanPendingIsInvariantViolation(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	key := f.key("alice", "annual", 2025)
	_, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", day(2025, time.July, 1))
	require.NoError(t, err)
	_, err = f.engine.Ledger.Reserve(f.ctx, key, dec("2"), "req-1")
	require.NoError(t, err)

	_, err = f.engine.Ledger.Release(f.ctx, key, dec("3"), "req-2")
	assert.ErrorIs(t, err, leave.ErrInvariant)

	_, err = f.engine.Ledger.Commit(f.ctx, key, dec("3"), "req-3")
	assert.ErrorIs(t, err, leave.ErrInvariant)
}

func TestReserve_NonDeductibleIsNoop(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))

	_, err := f.engine.Ledger.Reserve(f.ctx, f.key("alice", "unpaid", 2025), dec("20"), "req-1")
	require.NoError(t, err)

	_, err = f.engine.Ledger.Get(f.ctx, f.key("alice", "unpaid", 2025))
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestReserve_RejectsNonPositiveDays(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	_, err := f.engine.Ledger.Reserve(f.ctx, f.key("alice", "annual", 2025), dec("-1"), "req-1")
	assert.ErrorIs(t, err, leave.ErrValidation)
}

func TestLedger_ConcurrentReservationsNeverOverdraw(t *testing.T) {
	// GIVEN: 15 days and 40 goroutines each reserving one
	f := newFixture(t, at(2025, time.July, 1))
	key := f.key("alice", "annual", 2025)
	_, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", day(2025, time.July, 1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, refused := 0, 0
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Ledger.Reserve(f.ctx, key, dec("1"), "req-"+strconv.Itoa(i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, leave.ErrInsufficientBalance):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	// THEN: Exactly the balance was handed out
	assert.Equal(t, 15, succeeded)
	assert.Equal(t, 25, refused)
	e := f.entitlement(t, key)
	assert.Equal(t, "15", e.Pending.String())
	assert.Equal(t, "0", e.Remaining.String())
}

// =============================================================================
// ADJUST
// =============================================================================

func TestAdjust(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	key := f.key("alice", "annual", 2025)
	_, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", day(2025, time.July, 1))
	require.NoError(t, err)

	// WHEN: HR adds 2 days, then deducts 1
	_, err = f.engine.Ledger.Adjust(f.ctx, key, leave.Adjustment{Amount: dec("2"), Direction: leave.AdjustAdd, Reason: "overtime", ActorID: "hr"})
	require.NoError(t, err)
	e, err := f.engine.Ledger.Adjust(f.ctx, key, leave.Adjustment{Amount: dec("1"), Direction: leave.AdjustDeduct, Reason: "correction", ActorID: "hr"})
	require.NoError(t, err)

	// THEN: Net +1, journaled with the actor
	assert.Equal(t, "1", e.Adjusted.String())
	assert.Equal(t, "16", e.AccruedRounded.String())
	assert.Equal(t, "16", e.Remaining.String())

	history, err := f.engine.Ledger.History(f.ctx, key)
	require.NoError(t, err)
	var adjustments []generic.Transaction
	for _, tx := range history {
		if tx.Type == generic.TxAdjustment {
			adjustments = append(adjustments, tx)
		}
	}
	require.Len(t, adjustments, 2)
	assert.Equal(t, "hr", adjustments[0].CreatedBy)
	assert.Equal(t, "overtime", adjustments[0].Reason)
	assert.Equal(t, "DEDUCT", adjustments[1].Metadata["direction"])
	assert.True(t, adjustments[1].Delta.IsNegative())
}

func TestAdjust_Rejects(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	key := f.key("alice", "annual", 2025)
	_, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", day(2025, time.March, 1))
	require.NoError(t, err)

	cases := map[string]leave.Adjustment{
		"zero amount":       {Amount: dec("0"), Direction: leave.AdjustAdd, Reason: "x", ActorID: "hr"},
		"unknown direction": {Amount: dec("1"), Direction: "SIDEWAYS", Reason: "x", ActorID: "hr"},
		"missing reason":    {Amount: dec("1"), Direction: leave.AdjustAdd, ActorID: "hr"},
		"missing actor":     {Amount: dec("1"), Direction: leave.AdjustAdd, Reason: "x"},
		"overdraw":          {Amount: dec("6"), Direction: leave.AdjustDeduct, Reason: "x", ActorID: "hr"},
	}
	for name, adj := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.Ledger.Adjust(f.ctx, key, adj)
			assert.ErrorIs(t, err, leave.ErrInvalidAdjustment)
		})
	}

	e := f.entitlement(t, key)
	assert.True(t, e.Adjusted.IsZero())
	assert.Equal(t, "5", e.Remaining.String())
}

func TestAdjust_SurvivesRerounding(t *testing.T) {
	// GIVEN: Half a day added on a ROUND_DOWN policy
	f := newFixture(t, at(2025, time.July, 1))
	key := f.key("alice", "annual", 2025)
	_, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", day(2025, time.March, 1))
	require.NoError(t, err)
	_, err = f.engine.Ledger.Adjust(f.ctx, key, leave.Adjustment{Amount: dec("0.5"), Direction: leave.AdjustAdd, Reason: "goodwill", ActorID: "hr"})
	require.NoError(t, err)

	// WHEN: More accrual arrives
	e, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", day(2025, time.July, 1))
	require.NoError(t, err)

	// THEN: The half day is not rounded away
	assert.Equal(t, "15.5", e.AccruedRounded.String())
}

// =============================================================================
// CARRY-FORWARD
// =============================================================================

func TestApplyCarryForward_CapsAndForfeits(t *testing.T) {
	// GIVEN: 8 days left over from 2024, cap of 5
	f := newFixture(t, at(2025, time.January, 2))
	prev := f.key("alice", "annual", 2024)
	_, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", generic.EndOfYear(2024))
	require.NoError(t, err)
	_, err = f.engine.Ledger.Reserve(f.ctx, prev, dec("22"), "req-2024")
	require.NoError(t, err)
	_, err = f.engine.Ledger.Commit(f.ctx, prev, dec("22"), "req-2024")
	require.NoError(t, err)
	require.Equal(t, "8", f.entitlement(t, prev).Remaining.String())

	// WHEN: Rolling 2024 into 2025
	e, err := f.engine.Ledger.ApplyCarryForward(f.ctx, "alice", "annual", 2024, 2025)
	require.NoError(t, err)

	// THEN: 5 carried, 3 forfeited
	assert.Equal(t, "5", e.CarryForward.String())
	assert.Equal(t, "5", e.Remaining.String())
	assert.True(t, e.CarryForwardApplied)

	forward, err := f.engine.Ledger.History(f.ctx, f.key("alice", "annual", 2025))
	require.NoError(t, err)
	assert.Equal(t, []generic.TransactionType{generic.TxCarryForward}, txTypes(forward))

	back, err := f.engine.Ledger.History(f.ctx, prev)
	require.NoError(t, err)
	last := back[len(back)-1]
	assert.Equal(t, generic.TxForfeit, last.Type)
	assert.Equal(t, "-3", last.Delta.Value.String())
}

func TestApplyCarryForward_Idempotent(t *testing.T) {
	f := newFixture(t, at(2025, time.January, 2))
	_, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", generic.EndOfYear(2024))
	require.NoError(t, err)

	_, err = f.engine.Ledger.ApplyCarryForward(f.ctx, "alice", "annual", 2024, 2025)
	require.NoError(t, err)
	e, err := f.engine.Ledger.ApplyCarryForward(f.ctx, "alice", "annual", 2024, 2025)
	require.NoError(t, err)

	assert.Equal(t, "5", e.CarryForward.String())
	history, err := f.engine.Ledger.History(f.ctx, f.key("alice", "annual", 2025))
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestApplyCarryForward_PolicyVariants(t *testing.T) {
	cases := []struct {
		name    string
		allowed bool
		max     *string
		want    string
	}{
		{"not allowed", false, nil, "0"},
		{"uncapped", true, nil, "30"},
		{"zero cap", true, ptr("0"), "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, at(2025, time.January, 2))
			p := annualPolicy
			p.CarryForwardAllowed = tc.allowed
			p.MaxCarryForward = nil
			if tc.max != nil {
				p.MaxCarryForward = ptr(dec(*tc.max))
			}
			_, err := f.store.SavePolicy(f.ctx, p)
			require.NoError(t, err)
			_, err = f.engine.Ledger.Accrue(f.ctx, "alice", "annual", generic.EndOfYear(2024))
			require.NoError(t, err)

			e, err := f.engine.Ledger.ApplyCarryForward(f.ctx, "alice", "annual", 2024, 2025)
			require.NoError(t, err)
			assert.Equal(t, tc.want, e.CarryForward.String())
		})
	}
}

func TestApplyCarryForward_RejectsBackwardYears(t *testing.T) {
	f := newFixture(t, at(2025, time.January, 2))
	_, err := f.engine.Ledger.ApplyCarryForward(f.ctx, "alice", "annual", 2025, 2025)
	assert.ErrorIs(t, err, leave.ErrValidation)
}
