/*
Package storetest is the shared conformance suite for leave.Store backends.

PURPOSE:
  Every backend (memory, sqlite, postgres) runs the same tests so they are
  interchangeable behind leave.Engine: versioned writes, append-only
  catalog and journal, transaction rollback, and the end-to-end request
  flow including the concurrent races: last days of a balance, two
  decisions on one approval step, two overlapping delegations. The races
  use two engines with separate locks, as two processes sharing the
  database would.

USAGE:
  func TestStore(t *testing.T) {
      storetest.Run(t, func(t *testing.T) storetest.Backend {
          return memory.New()
      })
  }
*/
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// Backend is a store that can also act as directory and holiday calendar.
type Backend interface {
	leave.Store
	leave.EmployeeLookup
	leave.EmployeeLister
	generic.HolidayCalendar
	SaveEmployee(ctx context.Context, p leave.EmployeeProfile) error
	SaveHoliday(ctx context.Context, h generic.Holiday) error
}

// Run executes the suite. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) Backend) {
	t.Run("Catalog", func(t *testing.T) { testCatalog(t, open(t)) })
	t.Run("EntitlementVersioning", func(t *testing.T) { testEntitlements(t, open(t)) })
	t.Run("Requests", func(t *testing.T) { testRequests(t, open(t)) })
	t.Run("Delegations", func(t *testing.T) { testDelegations(t, open(t)) })
	t.Run("BlockPeriods", func(t *testing.T) { testBlockPeriods(t, open(t)) })
	t.Run("Journal", func(t *testing.T) { testJournal(t, open(t)) })
	t.Run("TxRollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("Directory", func(t *testing.T) { testDirectory(t, open(t)) })
	t.Run("EngineFlow", func(t *testing.T) { testEngineFlow(t, open(t)) })
	t.Run("ConcurrentCreate", func(t *testing.T) { testConcurrentCreate(t, open(t)) })
	t.Run("ConcurrentDecisions", func(t *testing.T) { testConcurrentDecisions(t, open(t)) })
	t.Run("ConcurrentDelegations", func(t *testing.T) { testConcurrentDelegations(t, open(t)) })
}

var dec = decimal.RequireFromString

func day(y int, m time.Month, d int) generic.TimePoint { return generic.NewTimePoint(y, m, d) }

// =============================================================================
// TABLES
// =============================================================================

func testCatalog(t *testing.T, s Backend) {
	ctx := context.Background()
	lt := leave.LeaveType{
		ID: "annual", Name: "Annual Leave", Category: leave.CategoryAnnual,
		Paid: true, Deductible: true, AllowHalfDay: true, MaxDurationDays: 20,
	}
	require.NoError(t, s.SaveLeaveType(ctx, lt))
	assert.ErrorIs(t, s.SaveLeaveType(ctx, lt), generic.ErrAlreadyExists, "leave types are append-only")

	got, err := s.GetLeaveType(ctx, "annual")
	require.NoError(t, err)
	assert.Equal(t, "Annual Leave", got.Name)
	assert.True(t, got.Deductible)
	assert.True(t, got.AllowHalfDay)
	assert.Equal(t, 20, got.MaxDurationDays)

	_, err = s.GetLeaveType(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
	_, err = s.GetPolicy(ctx, "annual")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	cap5 := dec("5")
	p := leave.LeavePolicy{
		LeaveTypeID: "annual", AccrualMethod: leave.AccrualMonthly,
		MonthlyRate: dec("2.5"), YearlyRate: dec("30"),
		CarryForwardAllowed: true, MaxCarryForward: &cap5,
		RoundingRule: leave.RoundDown, MinNoticeDays: 3,
		Eligibility: leave.Eligibility{MinTenureMonths: 6, ContractTypesAllowed: []leave.ContractType{leave.ContractPermanent}},
	}
	v1, err := s.SavePolicy(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	p.MinNoticeDays = 7
	v2, err := s.SavePolicy(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	latest, err := s.GetPolicy(ctx, "annual")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, 7, latest.MinNoticeDays)
	assert.True(t, latest.MonthlyRate.Equal(dec("2.5")))
	require.NotNil(t, latest.MaxCarryForward)
	assert.True(t, latest.MaxCarryForward.Equal(cap5))
	assert.Equal(t, []leave.ContractType{leave.ContractPermanent}, latest.Eligibility.ContractTypesAllowed)

	types, err := s.ListLeaveTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 1)
}

func testEntitlements(t *testing.T, s Backend) {
	ctx := context.Background()
	key := leave.EntitlementKey{EmployeeID: "alice", LeaveTypeID: "annual", Year: 2025}
	e := leave.Entitlement{
		EntitlementKey: key, YearlyEntitlement: dec("30"),
		AccruedActual: dec("15"), AccruedRounded: dec("15"), Remaining: dec("15"),
		LastAccrualDate: day(2025, 7, 1), UpdatedAt: time.Now(),
	}

	// insert
	require.NoError(t, s.SaveEntitlement(ctx, &e))
	assert.Equal(t, int64(1), e.Version)

	// a second writer that loaded before the insert loses
	stale := e
	stale.Version = 0
	assert.ErrorIs(t, s.SaveEntitlement(ctx, &stale), generic.ErrConcurrentModification)

	// update
	e.Pending, e.Remaining = dec("3"), dec("12")
	require.NoError(t, s.SaveEntitlement(ctx, &e))
	assert.Equal(t, int64(2), e.Version)

	// a writer holding version 1 loses
	old := e
	old.Version = 1
	assert.ErrorIs(t, s.SaveEntitlement(ctx, &old), generic.ErrConcurrentModification)

	got, err := s.GetEntitlement(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.True(t, got.Pending.Equal(dec("3")))
	assert.True(t, got.Remaining.Equal(dec("12")))
	assert.True(t, got.LastAccrualDate.Equal(day(2025, 7, 1)))

	other := leave.Entitlement{EntitlementKey: leave.EntitlementKey{EmployeeID: "alice", LeaveTypeID: "annual", Year: 2024}, UpdatedAt: time.Now()}
	require.NoError(t, s.SaveEntitlement(ctx, &other))

	all, err := s.ListEntitlements(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	only, err := s.ListEntitlements(ctx, "alice", 2025)
	require.NoError(t, err)
	require.Len(t, only, 1)
	assert.Equal(t, 2025, only[0].Year)

	_, err = s.GetEntitlement(ctx, leave.EntitlementKey{EmployeeID: "bob", LeaveTypeID: "annual", Year: 2025})
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func testRequests(t *testing.T, s Backend) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	flow := leave.NewApprovalFlow(leave.DefaultApprovalRoles()...)
	flow, _ = flow.Decide("mgr", "", leave.DecisionApprove, "ok", now)

	r := leave.LeaveRequest{
		ID: "req-1", EmployeeID: "alice", LeaveTypeID: "annual",
		From: day(2025, 7, 7), To: day(2025, 7, 11), DurationDays: dec("5"),
		Status: leave.StatusPending, Justification: "summer",
		Attachments: []string{"ticket.pdf"}, Flow: flow,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.SaveRequest(ctx, &r))
	assert.Equal(t, int64(1), r.Version)

	got, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.True(t, got.DurationDays.Equal(dec("5")))
	assert.Equal(t, []string{"ticket.pdf"}, got.Attachments)
	assert.Equal(t, 1, got.Flow.Current)
	require.Len(t, got.Flow.Steps, 2)
	assert.Equal(t, leave.RoleLineManager, got.Flow.Steps[0].Role)
	assert.Equal(t, leave.EmployeeID("mgr"), got.Flow.Steps[0].ActionBy)
	assert.Equal(t, "ok", got.Flow.Steps[0].Comment)
	assert.Equal(t, leave.StepPending, got.Flow.Steps[1].Status)

	stale := got
	got.Status = leave.StatusCancelled
	require.NoError(t, s.SaveRequest(ctx, &got))
	assert.ErrorIs(t, s.SaveRequest(ctx, &stale), generic.ErrConcurrentModification)

	second := leave.LeaveRequest{ID: "req-2", EmployeeID: "bob", LeaveTypeID: "annual",
		From: day(2025, 8, 4), To: day(2025, 8, 4), DurationDays: dec("1"),
		Status: leave.StatusPending, Flow: leave.NewApprovalFlow(leave.DefaultApprovalRoles()...),
		CreatedAt: now.Add(time.Second), UpdatedAt: now}
	require.NoError(t, s.SaveRequest(ctx, &second))

	pending, err := s.ListRequests(ctx, leave.RequestFilter{Status: leave.StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, leave.RequestID("req-2"), pending[0].ID)

	alices, err := s.ListRequests(ctx, leave.RequestFilter{EmployeeID: "alice"})
	require.NoError(t, err)
	require.Len(t, alices, 1)
	assert.Equal(t, leave.StatusCancelled, alices[0].Status)

	_, err = s.GetRequest(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func testDelegations(t *testing.T, s Backend) {
	ctx := context.Background()
	d := leave.Delegation{
		ID: "del-1", DelegatorID: "mgr", DelegateID: "deputy",
		Window: generic.Period{Start: day(2025, 7, 1), End: day(2025, 7, 10)},
		Reason: "holiday", CreatedAt: time.Now(),
	}
	require.NoError(t, s.SaveDelegation(ctx, d))
	require.NoError(t, s.SaveDelegation(ctx, leave.Delegation{
		ID: "del-2", DelegatorID: "hr", DelegateID: "mgr",
		Window: generic.Period{Start: day(2025, 8, 1), End: day(2025, 8, 2)}, CreatedAt: time.Now(),
	}))

	got, err := s.GetDelegation(ctx, "del-1")
	require.NoError(t, err)
	assert.Equal(t, leave.EmployeeID("deputy"), got.DelegateID)
	assert.True(t, got.Window.End.Equal(day(2025, 7, 10)))
	assert.Nil(t, got.RevokedAt)

	revokedAt := time.Now()
	got.RevokedAt = &revokedAt
	require.NoError(t, s.SaveDelegation(ctx, got))

	mine, err := s.ListDelegations(ctx, leave.DelegationFilter{DelegatorID: "mgr"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.NotNil(t, mine[0].RevokedAt)

	all, err := s.ListDelegations(ctx, leave.DelegationFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.GetDelegation(ctx, "missing")
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func testBlockPeriods(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.SaveBlockPeriod(ctx, leave.BlockPeriod{
		ID: "freeze", Name: "Year-end close",
		Window:           generic.Period{Start: day(2025, 12, 15), End: day(2025, 12, 31)},
		ExemptLeaveTypes: []leave.LeaveTypeID{"sick"},
	}))

	hit, err := s.ListBlockPeriods(ctx, generic.Period{Start: day(2025, 12, 31), End: day(2025, 12, 31)})
	require.NoError(t, err)
	require.Len(t, hit, 1)
	assert.Equal(t, []leave.LeaveTypeID{"sick"}, hit[0].ExemptLeaveTypes)

	miss, err := s.ListBlockPeriods(ctx, generic.Period{Start: day(2025, 12, 1), End: day(2025, 12, 14)})
	require.NoError(t, err)
	assert.Empty(t, miss)
}

func testJournal(t *testing.T, s Backend) {
	ctx := context.Background()
	mv := func(id, idem string, delta string, year int) generic.Transaction {
		return generic.Transaction{
			ID: generic.TransactionID(id), EntityID: "alice", PolicyID: "annual", PeriodYear: year,
			EffectiveAt: day(year, 7, 1), Delta: generic.Days(dec(delta)), Type: generic.TxAccrual,
			IdempotencyKey: idem, Metadata: map[string]string{"months": "6"},
			CreatedBy: "system", CreatedByType: "system", CreatedAt: time.Now(),
		}
	}
	require.NoError(t, s.Append(ctx, mv("tx-1", "accrual:1", "15", 2025), mv("tx-2", "", "2", 2024)))

	err := s.Append(ctx, mv("tx-3", "accrual:1", "15", 2025))
	assert.ErrorIs(t, err, generic.ErrDuplicateIdempotencyKey)

	txs, err := s.Transactions(ctx, "alice", "annual", 2025)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Delta.Value.Equal(dec("15")))
	assert.Equal(t, "6", txs[0].Metadata["months"])
}

func testRollback(t *testing.T, s Backend) {
	ctx := context.Background()
	boom := errors.New("boom")
	key := leave.EntitlementKey{EmployeeID: "alice", LeaveTypeID: "annual", Year: 2025}

	err := s.WithTx(ctx, func(tx leave.Store) error {
		e := leave.Entitlement{EntitlementKey: key, Remaining: dec("1"), AccruedRounded: dec("1"), UpdatedAt: time.Now()}
		if err := tx.SaveEntitlement(ctx, &e); err != nil {
			return err
		}
		if err := tx.Append(ctx, generic.Transaction{ID: "tx-rb", EntityID: "alice", PolicyID: "annual", PeriodYear: 2025,
			Delta: generic.Days(dec("1")), Type: generic.TxGrant, CreatedAt: time.Now()}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.GetEntitlement(ctx, key)
	assert.ErrorIs(t, err, generic.ErrNotFound)
	txs, err := s.Transactions(ctx, "alice", "annual", 2025)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func testDirectory(t *testing.T, s Backend) {
	ctx := context.Background()
	p := leave.EmployeeProfile{ID: "alice", Name: "Alice", Email: "alice@example.com", HireDate: day(2020, 1, 6),
		Gender: leave.GenderFemale, ContractType: leave.ContractPermanent, ManagerID: "mgr", HRAdminID: "hr"}
	require.NoError(t, s.SaveEmployee(ctx, p))
	p.ManagerID = "deputy"
	require.NoError(t, s.SaveEmployee(ctx, p), "employees are upserted")

	got, err := s.GetEmployee(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, leave.EmployeeID("deputy"), got.ManagerID)
	assert.True(t, got.HireDate.Equal(day(2020, 1, 6)))

	list, err := s.ListEmployees(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetEmployee(ctx, "zoe")
	assert.ErrorIs(t, err, generic.ErrNotFound)

	require.NoError(t, s.SaveHoliday(ctx, generic.Holiday{ID: "xmas", Date: day(2020, 12, 25), Name: "Christmas", Recurring: true}))
	require.NoError(t, s.SaveHoliday(ctx, generic.Holiday{ID: "jubilee", Date: day(2024, 6, 3), Name: "Jubilee"}))

	h2025, err := s.Holidays(ctx, 2025)
	require.NoError(t, err)
	require.Len(t, h2025, 1)
	assert.Equal(t, "xmas", h2025[0].ID)

	h2024, err := s.Holidays(ctx, 2024)
	require.NoError(t, err)
	assert.Len(t, h2024, 2)
}

// =============================================================================
// ENGINE ON TOP OF THE BACKEND
// =============================================================================

func seed(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, s.SaveLeaveType(ctx, leave.LeaveType{ID: "annual", Name: "Annual", Deductible: true}))
	_, err := s.SavePolicy(ctx, leave.LeavePolicy{LeaveTypeID: "annual", AccrualMethod: leave.AccrualMonthly,
		MonthlyRate: dec("2.5"), YearlyRate: dec("30"), RoundingRule: leave.RoundDown})
	require.NoError(t, err)
	for _, p := range []leave.EmployeeProfile{
		{ID: "alice", HireDate: day(2020, 1, 6), ContractType: leave.ContractPermanent, ManagerID: "mgr", HRAdminID: "hr"},
		{ID: "mgr", HireDate: day(2018, 1, 1), ContractType: leave.ContractPermanent, HRAdminID: "hr"},
		{ID: "hr", HireDate: day(2017, 1, 1), ContractType: leave.ContractPermanent},
	} {
		require.NoError(t, s.SaveEmployee(ctx, p))
	}
}

func newEngine(s Backend, now time.Time) *leave.Engine {
	e := leave.NewEngine(leave.Deps{
		Store:     s,
		Directory: leave.NewDirectory(s),
		Calendar:  leave.NewWorkCalendar(s),
	})
	e.SetClock(func() time.Time { return now })
	return e
}

func testEngineFlow(t *testing.T, s Backend) {
	ctx := context.Background()
	seed(t, s)
	engine := newEngine(s, time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC))

	req, err := engine.Create(ctx, leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: day(2025, 7, 7), To: day(2025, 7, 11)})
	require.NoError(t, err)
	_, err = engine.Advance(ctx, req.ID, "mgr", leave.DecisionApprove, "")
	require.NoError(t, err)
	done, err := engine.Advance(ctx, req.ID, "hr", leave.DecisionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusApproved, done.Status)

	e, err := engine.Ledger.Get(ctx, req.Key())
	require.NoError(t, err)
	require.NoError(t, e.CheckInvariant(true))
	assert.True(t, e.Taken.Equal(dec("5")))
	assert.True(t, e.Remaining.Equal(dec("10")))

	history, err := engine.Ledger.History(ctx, req.Key())
	require.NoError(t, err)
	var types []generic.TransactionType
	for _, tx := range history {
		types = append(types, tx.Type)
	}
	assert.Equal(t, []generic.TransactionType{generic.TxAccrual, generic.TxReserve, generic.TxCommit}, types)
}

func testConcurrentCreate(t *testing.T, s Backend) {
	ctx := context.Background()
	seed(t, s)
	engine := newEngine(s, time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC))
	_, err := engine.Ledger.Accrue(ctx, "alice", "annual", day(2025, 3, 1))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	starts := []generic.TimePoint{day(2025, 3, 10), day(2025, 3, 17)}
	for i, from := range starts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = engine.Create(ctx, leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: from, To: from.AddDays(2)})
		}()
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, leave.ErrInsufficientBalance)
			failures++
		}
	}
	assert.Equal(t, 1, failures)

	e, err := engine.Ledger.Get(ctx, leave.EntitlementKey{EmployeeID: "alice", LeaveTypeID: "annual", Year: 2025})
	require.NoError(t, err)
	assert.True(t, e.Remaining.Equal(dec("2")))
}

// race runs each fn on its own goroutine, released together.
func race(fns ...func() error) []error {
	errs := make([]error, len(fns))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}()
	}
	close(start)
	wg.Wait()
	return errs
}

// oneWinner asserts exactly one nil error and that the rest match target.
func oneWinner(t *testing.T, errs []error, target error) int {
	t.Helper()
	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "more than one winner")
			winner = i
			continue
		}
		assert.ErrorIs(t, err, target)
	}
	require.NotEqual(t, -1, winner, "no winner: %v", errs)
	return winner
}

func testConcurrentDecisions(t *testing.T, s Backend) {
	ctx := context.Background()
	seed(t, s)
	now := time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)
	a, b := newEngine(s, now), newEngine(s, now)

	req, err := a.Create(ctx, leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: day(2025, 7, 7), To: day(2025, 7, 11)})
	require.NoError(t, err)
	_, err = a.Advance(ctx, req.ID, "mgr", leave.DecisionApprove, "")
	require.NoError(t, err)

	decisions := []leave.Decision{leave.DecisionApprove, leave.DecisionReject}
	errs := race(
		func() error { _, err := a.Advance(ctx, req.ID, "hr", decisions[0], ""); return err },
		func() error { _, err := b.Advance(ctx, req.ID, "hr", decisions[1], ""); return err },
	)
	winner := oneWinner(t, errs, leave.ErrInvalidState)

	stored, err := s.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	final := generic.TxCommit
	if decisions[winner] == leave.DecisionReject {
		final = generic.TxRelease
		assert.Equal(t, leave.StatusRejected, stored.Status)
	} else {
		assert.Equal(t, leave.StatusApproved, stored.Status)
	}

	e, err := a.Ledger.Get(ctx, req.Key())
	require.NoError(t, err)
	require.NoError(t, e.CheckInvariant(true))
	assert.True(t, e.Pending.IsZero())

	history, err := a.Ledger.History(ctx, req.Key())
	require.NoError(t, err)
	var types []generic.TransactionType
	for _, tx := range history {
		types = append(types, tx.Type)
	}
	assert.Equal(t, []generic.TransactionType{generic.TxAccrual, generic.TxReserve, final}, types)
}

func testConcurrentDelegations(t *testing.T, s Backend) {
	ctx := context.Background()
	seed(t, s)
	now := time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)
	a, b := newEngine(s, now), newEngine(s, now)

	errs := race(
		func() error {
			_, err := a.Delegations.SetDelegation(ctx, "mgr", "alice", day(2025, 7, 1), day(2025, 7, 10), "")
			return err
		},
		func() error {
			_, err := b.Delegations.SetDelegation(ctx, "mgr", "hr", day(2025, 7, 5), day(2025, 7, 15), "")
			return err
		},
	)
	oneWinner(t, errs, leave.ErrOverlappingDelegation)

	stored, err := s.ListDelegations(ctx, leave.DelegationFilter{DelegatorID: "mgr"})
	require.NoError(t, err)
	require.Len(t, stored, 1)

	// revoking from either engine is serialized the same way
	errs = race(
		func() error { _, err := a.Delegations.Revoke(ctx, stored[0].ID, "mgr"); return err },
		func() error { _, err := b.Delegations.Revoke(ctx, stored[0].ID, "mgr"); return err },
	)
	oneWinner(t, errs, leave.ErrInvalidState)
}
