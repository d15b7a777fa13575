package leave_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/memory"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

var dec = decimal.RequireFromString

func day(y int, m time.Month, d int) generic.TimePoint {
	return generic.NewTimePoint(y, m, d)
}

func ptr[T any](v T) *T { return &v }

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, to leave.EmployeeID, event leave.EventType, n leave.Notification) error {
	args := m.Called(ctx, to, event, n)
	return args.Error(0)
}

// fixture is a small organization on an in-memory store:
//
//	alice  permanent, female, hired 2020, reports to mgr
//	bob    fixed-term, male, hired 2025-01-15, reports to mgr
//	mgr    line manager of alice and bob
//	deputy stands in for mgr in delegation tests
//	hr     HR admin of everyone
type fixture struct {
	ctx      context.Context
	store    *memory.Store
	engine   *leave.Engine
	notifier *mockNotifier
	logs     *observer.ObservedLogs
	now      time.Time
}

var (
	annualType = leave.LeaveType{
		ID: "annual", Name: "Annual Leave", Category: leave.CategoryAnnual,
		Paid: true, Deductible: true, AllowHalfDay: true,
	}
	annualPolicy = leave.LeavePolicy{
		LeaveTypeID:         "annual",
		AccrualMethod:       leave.AccrualMonthly,
		MonthlyRate:         dec("2.5"),
		YearlyRate:          dec("30"),
		CarryForwardAllowed: true,
		MaxCarryForward:     ptr(dec("5")),
		RoundingRule:        leave.RoundDown,
	}

	unpaidType = leave.LeaveType{
		ID: "unpaid", Name: "Unpaid Leave", Category: leave.CategoryUnpaid,
	}
	unpaidPolicy = leave.LeavePolicy{
		LeaveTypeID:   "unpaid",
		AccrualMethod: leave.AccrualNone,
		RoundingRule:  leave.RoundNone,
	}

	maternityType = leave.LeaveType{
		ID: "maternity", Name: "Maternity Leave", Category: leave.CategoryMaternity,
		Paid: true, RequiresAttachment: true, Gender: leave.GenderFemale,
	}
	maternityPolicy = leave.LeavePolicy{
		LeaveTypeID:   "maternity",
		AccrualMethod: leave.AccrualNone,
		RoundingRule:  leave.RoundNone,
		Eligibility: leave.Eligibility{
			MinTenureMonths:      12,
			ContractTypesAllowed: []leave.ContractType{leave.ContractPermanent},
		},
	}
)

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	for _, tp := range []struct {
		lt leave.LeaveType
		p  leave.LeavePolicy
	}{
		{annualType, annualPolicy},
		{unpaidType, unpaidPolicy},
		{maternityType, maternityPolicy},
	} {
		require.NoError(t, store.SaveLeaveType(ctx, tp.lt))
		_, err := store.SavePolicy(ctx, tp.p)
		require.NoError(t, err)
	}

	for _, p := range []leave.EmployeeProfile{
		{ID: "alice", Name: "Alice", HireDate: day(2020, 1, 6), Gender: leave.GenderFemale,
			ContractType: leave.ContractPermanent, ManagerID: "mgr", HRAdminID: "hr"},
		{ID: "bob", Name: "Bob", HireDate: day(2025, 1, 15), Gender: leave.GenderMale,
			ContractType: leave.ContractFixedTerm, ManagerID: "mgr", HRAdminID: "hr"},
		{ID: "mgr", Name: "Manager", HireDate: day(2018, 3, 1), ContractType: leave.ContractPermanent, HRAdminID: "hr"},
		{ID: "deputy", Name: "Deputy", HireDate: day(2019, 3, 1), ContractType: leave.ContractPermanent, HRAdminID: "hr"},
		{ID: "hr", Name: "HR", HireDate: day(2017, 9, 1), ContractType: leave.ContractPermanent},
	} {
		require.NoError(t, store.SaveEmployee(ctx, p))
	}

	notifier := &mockNotifier{}
	notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	core, logs := observer.New(zapcore.DebugLevel)
	f := &fixture{ctx: ctx, store: store, notifier: notifier, logs: logs, now: now}
	f.engine = leave.NewEngine(leave.Deps{
		Store:     store,
		Directory: leave.NewDirectory(store),
		Calendar:  leave.NewWorkCalendar(store),
		Notifier:  notifier,
		Logger:    zap.New(core),
	})
	f.engine.SetClock(func() time.Time { return f.now })
	t.Cleanup(f.engine.WaitNotifications)
	return f
}

// peer is a second engine on the same store with its own locks, as another
// process sharing the database would be.
func (f *fixture) peer() *leave.Engine {
	e := leave.NewEngine(leave.Deps{
		Store:     f.store,
		Directory: leave.NewDirectory(f.store),
		Calendar:  leave.NewWorkCalendar(f.store),
	})
	e.SetClock(func() time.Time { return f.now })
	return e
}

// at returns 09:00 UTC on the given day.
func at(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func (f *fixture) key(emp leave.EmployeeID, lt leave.LeaveTypeID, year int) leave.EntitlementKey {
	return leave.EntitlementKey{EmployeeID: emp, LeaveTypeID: lt, Year: year}
}

func (f *fixture) entitlement(t *testing.T, key leave.EntitlementKey) leave.Entitlement {
	t.Helper()
	e, err := f.engine.Ledger.Get(f.ctx, key)
	require.NoError(t, err)
	require.NoError(t, e.CheckInvariant(true), "ledger invariant")
	return e
}

func (f *fixture) create(t *testing.T, emp leave.EmployeeID, lt leave.LeaveTypeID, from, to generic.TimePoint) leave.LeaveRequest {
	t.Helper()
	req, err := f.engine.Create(f.ctx, leave.CreateRequest{EmployeeID: emp, LeaveTypeID: lt, From: from, To: to})
	require.NoError(t, err)
	return req
}

func (f *fixture) decide(t *testing.T, id leave.RequestID, actor leave.EmployeeID, d leave.Decision) leave.LeaveRequest {
	t.Helper()
	req, err := f.engine.Advance(f.ctx, id, actor, d, "")
	require.NoError(t, err)
	return req
}

// saveType registers an extra leave type with its policy.
func (f *fixture) saveType(t *testing.T, lt leave.LeaveType, p leave.LeavePolicy) {
	t.Helper()
	require.NoError(t, f.store.SaveLeaveType(f.ctx, lt))
	_, err := f.store.SavePolicy(f.ctx, p)
	require.NoError(t, err)
}

func txTypes(txs []generic.Transaction) []generic.TransactionType {
	out := make([]generic.TransactionType, len(txs))
	for i, tx := range txs {
		out[i] = tx.Type
	}
	return out
}
