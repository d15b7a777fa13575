package leave_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// CREATE
// =============================================================================

func TestCreate_ReservesAndNotifiesApprover(t *testing.T) {
	// GIVEN: Alice on 1 July with 15 days accrued on demand
	f := newFixture(t, at(2025, time.July, 1))

	// WHEN: She asks for Mon 7 - Fri 11 July
	req := f.create(t, "alice", "annual", day(2025, time.July, 7), day(2025, time.July, 11))

	// THEN: Five working days are held and the line manager is told
	assert.Equal(t, leave.StatusPending, req.Status)
	assert.Equal(t, "5", req.DurationDays.String())
	step, ok := req.Flow.CurrentStep()
	require.True(t, ok)
	assert.Equal(t, leave.RoleLineManager, step.Role)

	e := f.entitlement(t, req.Key())
	assert.Equal(t, "15", e.AccruedRounded.String())
	assert.Equal(t, "5", e.Pending.String())
	assert.Equal(t, "10", e.Remaining.String())

	f.engine.WaitNotifications()
	f.notifier.AssertCalled(t, "Notify", mock.Anything, leave.EmployeeID("mgr"), leave.EventApprovalRequired,
		mock.MatchedBy(func(n leave.Notification) bool { return n.RequestID == req.ID && n.Step == leave.RoleLineManager }))
}

func TestCreate_CountsHolidaysOut(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	require.NoError(t, f.store.SaveHoliday(f.ctx, generic.Holiday{ID: "bastille", Date: day(2020, time.July, 14), Name: "Fête nationale", Recurring: true}))

	req := f.create(t, "alice", "annual", day(2025, time.July, 14), day(2025, time.July, 18))

	assert.Equal(t, "4", req.DurationDays.String())
}

func TestCreate_HalfDay(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))

	req, err := f.engine.Create(f.ctx, leave.CreateRequest{
		EmployeeID: "alice", LeaveTypeID: "annual",
		From: day(2025, time.July, 8), To: day(2025, time.July, 8), HalfDay: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "0.5", req.DurationDays.String())
	assert.Equal(t, "0.5", f.entitlement(t, req.Key()).Pending.String())
}

func TestCreate_Validation(t *testing.T) {
	cases := []struct {
		name string
		in   leave.CreateRequest
		want error
	}{
		{"missing employee", leave.CreateRequest{LeaveTypeID: "annual", From: day(2025, 7, 7), To: day(2025, 7, 8)}, leave.ErrValidation},
		{"inverted dates", leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: day(2025, 7, 8), To: day(2025, 7, 7)}, leave.ErrValidation},
		{"across years", leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: day(2025, 12, 30), To: day(2026, 1, 2)}, leave.ErrValidation},
		{"weekend only", leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: day(2025, 7, 5), To: day(2025, 7, 6)}, leave.ErrValidation},
		{"half day over two days", leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: day(2025, 7, 7), To: day(2025, 7, 8), HalfDay: true}, leave.ErrValidation},
		{"half day not allowed", leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "unpaid", From: day(2025, 7, 7), To: day(2025, 7, 7), HalfDay: true}, leave.ErrValidation},
		{"missing attachment", leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "maternity", From: day(2025, 7, 7), To: day(2025, 7, 8)}, leave.ErrValidation},
		{"unknown leave type", leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "sabbatical", From: day(2025, 7, 7), To: day(2025, 7, 8)}, leave.ErrLeaveTypeNotFound},
		{"unknown employee", leave.CreateRequest{EmployeeID: "zoe", LeaveTypeID: "annual", From: day(2025, 7, 7), To: day(2025, 7, 8)}, leave.ErrEmployeeNotFound},
		{"over balance", leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: day(2025, 7, 7), To: day(2025, 8, 29)}, leave.ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, at(2025, time.July, 1))

			_, err := f.engine.Create(f.ctx, tc.in)

			assert.ErrorIs(t, err, tc.want)
			requests, listErr := f.store.ListRequests(f.ctx, leave.RequestFilter{})
			require.NoError(t, listErr)
			assert.Empty(t, requests, "nothing is persisted on failure")
		})
	}
}

func TestCreate_PolicyWithoutVersion(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	require.NoError(t, f.store.SaveLeaveType(f.ctx, leave.LeaveType{ID: "draft", Name: "Draft", Deductible: true}))

	_, err := f.engine.Create(f.ctx, leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "draft", From: day(2025, 7, 7), To: day(2025, 7, 7)})

	var pnf *leave.PolicyNotFoundError
	require.ErrorAs(t, err, &pnf)
	assert.Equal(t, leave.LeaveTypeID("draft"), pnf.LeaveTypeID)
}

func TestCreate_NoticePeriod(t *testing.T) {
	// GIVEN: A new policy version demanding a week of notice
	f := newFixture(t, at(2025, time.July, 1))
	p := annualPolicy
	p.MinNoticeDays = 7
	saved, err := f.store.SavePolicy(f.ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Version)

	// WHEN: Asking three days ahead
	_, err = f.engine.Create(f.ctx, leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: day(2025, 7, 4), To: day(2025, 7, 4)})

	// THEN: Refused with the numbers
	var npe *leave.NoticePeriodError
	require.ErrorAs(t, err, &npe)
	assert.Equal(t, 7, npe.RequiredDays)
	assert.Equal(t, 3, npe.GivenDays)

	// a week ahead is fine
	f.create(t, "alice", "annual", day(2025, 7, 8), day(2025, 7, 8))
}

func TestCreate_RetroactiveWithoutNotice(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	req := f.create(t, "alice", "annual", day(2025, 6, 23), day(2025, 6, 24))
	assert.Equal(t, "2", req.DurationDays.String())
}

func TestCreate_Eligibility(t *testing.T) {
	cases := []struct {
		name    string
		profile leave.EmployeeProfile
		rule    leave.EligibilityRule
	}{
		{"tenure", leave.EmployeeProfile{ID: "new", HireDate: day(2025, 3, 1), Gender: leave.GenderFemale, ContractType: leave.ContractPermanent, ManagerID: "mgr", HRAdminID: "hr"}, leave.RuleTenure},
		{"contract", leave.EmployeeProfile{ID: "temp", HireDate: day(2020, 3, 1), Gender: leave.GenderFemale, ContractType: leave.ContractFixedTerm, ManagerID: "mgr", HRAdminID: "hr"}, leave.RuleContract},
		{"gender", leave.EmployeeProfile{ID: "dan", HireDate: day(2020, 3, 1), Gender: leave.GenderMale, ContractType: leave.ContractPermanent, ManagerID: "mgr", HRAdminID: "hr"}, leave.RuleGender},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, at(2025, time.July, 1))
			require.NoError(t, f.store.SaveEmployee(f.ctx, tc.profile))

			_, err := f.engine.Create(f.ctx, leave.CreateRequest{
				EmployeeID: tc.profile.ID, LeaveTypeID: "maternity",
				From: day(2025, 7, 7), To: day(2025, 7, 11), Attachments: []string{"certificate.pdf"},
			})

			var ee *leave.EligibilityError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tc.rule, ee.Rule)
		})
	}
}

func TestCreate_NonDeductibleSkipsLedger(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))

	req, err := f.engine.Create(f.ctx, leave.CreateRequest{
		EmployeeID: "alice", LeaveTypeID: "maternity",
		From: day(2025, 7, 7), To: day(2025, 7, 25), Attachments: []string{"certificate.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, "15", req.DurationDays.String())

	_, err = f.engine.Ledger.Get(f.ctx, f.key("alice", "maternity", 2025))
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestCreate_BlockPeriod(t *testing.T) {
	// GIVEN: A freeze on 14-18 July that exempts unpaid leave
	f := newFixture(t, at(2025, time.July, 1))
	require.NoError(t, f.store.SaveBlockPeriod(f.ctx, leave.BlockPeriod{
		ID: "audit", Name: "Audit week",
		Window:           generic.Period{Start: day(2025, 7, 14), End: day(2025, 7, 18)},
		ExemptLeaveTypes: []leave.LeaveTypeID{"unpaid"},
	}))

	// WHEN / THEN: Annual leave touching the window is refused
	_, err := f.engine.Create(f.ctx, leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: day(2025, 7, 10), To: day(2025, 7, 14)})
	var bpe *leave.BlockPeriodError
	require.ErrorAs(t, err, &bpe)
	assert.Equal(t, "audit", bpe.Block.ID)

	// unpaid leave is exempt, and leave outside the window is unaffected
	f.create(t, "alice", "unpaid", day(2025, 7, 14), day(2025, 7, 15))
	f.create(t, "alice", "annual", day(2025, 7, 21), day(2025, 7, 22))
}

func TestCreate_NoApprover(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	require.NoError(t, f.store.SaveEmployee(f.ctx, leave.EmployeeProfile{ID: "solo", HireDate: day(2020, 1, 1), ContractType: leave.ContractPermanent}))

	_, err := f.engine.Create(f.ctx, leave.CreateRequest{EmployeeID: "solo", LeaveTypeID: "annual", From: day(2025, 7, 7), To: day(2025, 7, 7)})

	assert.ErrorIs(t, err, leave.ErrNoApprover)
	_, getErr := f.engine.Ledger.Get(f.ctx, f.key("solo", "annual", 2025))
	assert.ErrorIs(t, getErr, generic.ErrNotFound, "nothing reserved")
}

func TestCreate_ConcurrentRequestsOnLastDays(t *testing.T) {
	// GIVEN: Alice has exactly 5 days on 1 March
	f := newFixture(t, at(2025, time.March, 1))
	_, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", day(2025, 3, 1))
	require.NoError(t, err)
	require.Equal(t, "5", f.entitlement(t, f.key("alice", "annual", 2025)).Remaining.String())

	// WHEN: Two 3-day requests race
	windows := [][2]generic.TimePoint{
		{day(2025, 3, 10), day(2025, 3, 12)},
		{day(2025, 3, 17), day(2025, 3, 19)},
	}
	errs := make([]error, len(windows))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, w := range windows {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = f.engine.Create(f.ctx, leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: w[0], To: w[1]})
		}()
	}
	close(start)
	wg.Wait()

	// THEN: Exactly one wins, the other is refused for balance
	var ok, refused int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, leave.ErrInsufficientBalance):
			refused++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, refused)

	e := f.entitlement(t, f.key("alice", "annual", 2025))
	assert.Equal(t, "3", e.Pending.String())
	assert.Equal(t, "2", e.Remaining.String())

	pending, err := f.store.ListRequests(f.ctx, leave.RequestFilter{EmployeeID: "alice", Status: leave.StatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

// =============================================================================
// ADVANCE
// =============================================================================

func TestAdvance_ConcurrentDecisionsOnFinalStep(t *testing.T) {
	cases := map[string]func(f *fixture) *leave.Engine{
		"same engine":                func(f *fixture) *leave.Engine { return f.engine },
		"two engines sharing a store": func(f *fixture) *leave.Engine { return f.peer() },
	}
	for name, other := range cases {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A 5-day request waiting on its HR step
			f := newFixture(t, at(2025, time.July, 1))
			req := f.create(t, "alice", "annual", day(2025, 7, 7), day(2025, 7, 11))
			req = f.decide(t, req.ID, "mgr", leave.DecisionApprove)
			engines := []*leave.Engine{f.engine, other(f)}

			// WHEN: HR approves and rejects at the same time
			decisions := []leave.Decision{leave.DecisionApprove, leave.DecisionReject}
			results := make([]leave.LeaveRequest, len(decisions))
			errs := make([]error, len(decisions))
			start := make(chan struct{})
			var wg sync.WaitGroup
			for i, d := range decisions {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					results[i], errs[i] = engines[i].Advance(f.ctx, req.ID, "hr", d, "")
				}()
			}
			close(start)
			wg.Wait()

			// THEN: One decision lands, the other finds a closed request
			var winner leave.LeaveRequest
			var ok, refused int
			for i, err := range errs {
				switch {
				case err == nil:
					ok++
					winner = results[i]
				case errors.Is(err, leave.ErrInvalidState):
					refused++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			require.Equal(t, 1, ok)
			require.Equal(t, 1, refused)

			stored, err := f.store.GetRequest(f.ctx, req.ID)
			require.NoError(t, err)
			assert.Equal(t, winner.Status, stored.Status)

			e := f.entitlement(t, req.Key())
			assert.True(t, e.Pending.IsZero())
			history, err := f.engine.Ledger.History(f.ctx, req.Key())
			require.NoError(t, err)
			final := generic.TxCommit
			if winner.Status == leave.StatusRejected {
				final = generic.TxRelease
				assert.Equal(t, "15", e.Remaining.String())
			} else {
				assert.Equal(t, "5", e.Taken.String())
			}
			assert.Equal(t, []generic.TransactionType{generic.TxAccrual, generic.TxReserve, final}, txTypes(history))
		})
	}
}

func TestAdvance_TwoStepApproval(t *testing.T) {
	// GIVEN: A pending 5-day request
	f := newFixture(t, at(2025, time.July, 1))
	req := f.create(t, "alice", "annual", day(2025, 7, 7), day(2025, 7, 11))

	// WHEN: The line manager approves
	req = f.decide(t, req.ID, "mgr", leave.DecisionApprove)

	// THEN: Still pending, now on the HR step, nothing committed
	assert.Equal(t, leave.StatusPending, req.Status)
	step, ok := req.Flow.CurrentStep()
	require.True(t, ok)
	assert.Equal(t, leave.RoleHRAdmin, step.Role)
	assert.Equal(t, leave.StepPending, step.Status)
	assert.Equal(t, leave.StepApproved, req.Flow.Steps[0].Status)
	assert.Equal(t, leave.EmployeeID("mgr"), req.Flow.Steps[0].ActionBy)
	e := f.entitlement(t, req.Key())
	assert.True(t, e.Taken.IsZero())

	// WHEN: HR approves
	req = f.decide(t, req.ID, "hr", leave.DecisionApprove)

	// THEN: Approved and committed exactly once
	assert.Equal(t, leave.StatusApproved, req.Status)
	e = f.entitlement(t, req.Key())
	assert.Equal(t, "5", e.Taken.String())
	assert.True(t, e.Pending.IsZero())
	assert.Equal(t, "10", e.Remaining.String())

	history, err := f.engine.Ledger.History(f.ctx, req.Key())
	require.NoError(t, err)
	commits := 0
	for _, tx := range history {
		if tx.Type == generic.TxCommit {
			commits++
			assert.Equal(t, string(req.ID), tx.ReferenceID)
		}
	}
	assert.Equal(t, 1, commits)

	f.engine.WaitNotifications()
	f.notifier.AssertCalled(t, "Notify", mock.Anything, leave.EmployeeID("hr"), leave.EventApprovalRequired, mock.Anything)
	f.notifier.AssertCalled(t, "Notify", mock.Anything, leave.EmployeeID("alice"), leave.EventRequestApproved, mock.Anything)
}

func TestAdvance_DecidingTerminalRequestIsInvalidState(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	req := f.create(t, "alice", "annual", day(2025, 7, 7), day(2025, 7, 11))
	f.decide(t, req.ID, "mgr", leave.DecisionApprove)
	f.decide(t, req.ID, "hr", leave.DecisionApprove)
	before, err := f.engine.Ledger.History(f.ctx, req.Key())
	require.NoError(t, err)

	// WHEN: HR approves again, twice
	for range 2 {
		_, err := f.engine.Advance(f.ctx, req.ID, "hr", leave.DecisionApprove, "")
		assert.ErrorIs(t, err, leave.ErrInvalidState)
		assert.True(t, leave.IsConflict(err))
	}

	// THEN: The ledger did not move
	after, err := f.engine.Ledger.History(f.ctx, req.Key())
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	assert.Equal(t, "5", f.entitlement(t, req.Key()).Taken.String())
}

func TestAdvance_WrongActor(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	req := f.create(t, "alice", "annual", day(2025, 7, 7), day(2025, 7, 11))

	cases := map[string]leave.EmployeeID{
		"requester":          "alice",
		"hr before manager":  "hr",
		"unrelated employee": "bob",
	}
	for name, actor := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.engine.Advance(f.ctx, req.ID, actor, leave.DecisionApprove, "")
			var nae *leave.NotAuthorizedError
			require.ErrorAs(t, err, &nae)
			assert.Equal(t, leave.EmployeeID("mgr"), nae.Expected)
		})
	}

	stored, err := f.store.GetRequest(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, stored.Status)
	assert.Equal(t, 0, stored.Flow.Current)
}

func TestAdvance_BadInput(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))

	_, err := f.engine.Advance(f.ctx, "missing", "mgr", leave.DecisionApprove, "")
	assert.ErrorIs(t, err, leave.ErrRequestNotFound)

	req := f.create(t, "alice", "annual", day(2025, 7, 7), day(2025, 7, 7))
	_, err = f.engine.Advance(f.ctx, req.ID, "mgr", "MAYBE", "")
	assert.ErrorIs(t, err, leave.ErrValidation)
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_RestoresBalanceExactly(t *testing.T) {
	// GIVEN: The balance before any request
	f := newFixture(t, at(2025, time.July, 1))
	before, err := f.engine.Ledger.Accrue(f.ctx, "alice", "annual", day(2025, 7, 1))
	require.NoError(t, err)

	// WHEN: A half-day request is created and cancelled
	req, err := f.engine.Create(f.ctx, leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: day(2025, 7, 9), To: day(2025, 7, 9), HalfDay: true})
	require.NoError(t, err)
	cancelled, err := f.engine.Cancel(f.ctx, req.ID, "alice")
	require.NoError(t, err)

	// THEN: Pending and remaining are back where they were
	assert.Equal(t, leave.StatusCancelled, cancelled.Status)
	_, open := cancelled.Flow.CurrentStep()
	assert.False(t, open)
	after := f.entitlement(t, req.Key())
	assert.True(t, before.Pending.Equal(after.Pending))
	assert.True(t, before.Remaining.Equal(after.Remaining))

	f.engine.WaitNotifications()
	f.notifier.AssertCalled(t, "Notify", mock.Anything, leave.EmployeeID("mgr"), leave.EventRequestCancelled, mock.Anything)
}

func TestCancel_Rules(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	req := f.create(t, "alice", "annual", day(2025, 7, 7), day(2025, 7, 7))

	// only the requester
	_, err := f.engine.Cancel(f.ctx, req.ID, "mgr")
	assert.ErrorIs(t, err, leave.ErrNotAuthorized)

	// only while pending
	f.decide(t, req.ID, "mgr", leave.DecisionReject)
	_, err = f.engine.Cancel(f.ctx, req.ID, "alice")
	assert.ErrorIs(t, err, leave.ErrInvalidState)

	_, err = f.engine.Cancel(f.ctx, "missing", "alice")
	assert.ErrorIs(t, err, leave.ErrRequestNotFound)
}

// =============================================================================
// END-TO-END BALANCE WALKTHROUGH
// =============================================================================

func TestLifecycle_RejectAndCancelRestoreBalance(t *testing.T) {
	// GIVEN: accruedRounded=15, taken=5, pending=2, remaining=8
	f := newFixture(t, at(2025, time.July, 1))
	taken := f.create(t, "alice", "annual", day(2025, 7, 7), day(2025, 7, 11))
	f.decide(t, taken.ID, "mgr", leave.DecisionApprove)
	f.decide(t, taken.ID, "hr", leave.DecisionApprove)
	held := f.create(t, "alice", "annual", day(2025, 7, 14), day(2025, 7, 15))

	key := f.key("alice", "annual", 2025)
	e := f.entitlement(t, key)
	require.Equal(t, "15", e.AccruedRounded.String())
	require.Equal(t, "5", e.Taken.String())
	require.Equal(t, "2", e.Pending.String())
	require.Equal(t, "8", e.Remaining.String())

	// WHEN: Three more days are requested
	extra := f.create(t, "alice", "annual", day(2025, 7, 16), day(2025, 7, 18))
	e = f.entitlement(t, key)
	assert.Equal(t, "5", e.Pending.String())
	assert.Equal(t, "5", e.Remaining.String())

	// AND: The manager rejects them
	rejected, err := f.engine.Advance(f.ctx, extra.ID, "mgr", leave.DecisionReject, "team offsite")
	require.NoError(t, err)
	assert.Equal(t, leave.StatusRejected, rejected.Status)
	assert.Equal(t, "team offsite", rejected.Flow.Steps[0].Comment)
	e = f.entitlement(t, key)
	assert.Equal(t, "2", e.Pending.String())
	assert.Equal(t, "8", e.Remaining.String())

	// AND: Alice cancels the other pending request
	_, err = f.engine.Cancel(f.ctx, held.ID, "alice")
	require.NoError(t, err)

	// THEN
	e = f.entitlement(t, key)
	assert.Equal(t, "0", e.Pending.String())
	assert.Equal(t, "10", e.Remaining.String())

	f.engine.WaitNotifications()
	f.notifier.AssertCalled(t, "Notify", mock.Anything, leave.EmployeeID("alice"), leave.EventRequestRejected,
		mock.MatchedBy(func(n leave.Notification) bool { return n.RequestID == extra.ID && n.Comment == "team offsite" }))
}

// =============================================================================
// DELEGATED APPROVAL
// =============================================================================

func TestAdvance_DelegateActsForManager(t *testing.T) {
	// GIVEN: mgr delegates to deputy for 1-10 July
	f := newFixture(t, at(2025, time.July, 1))
	_, err := f.engine.Delegations.SetDelegation(f.ctx, "mgr", "deputy", day(2025, 7, 1), day(2025, 7, 10), "holiday")
	require.NoError(t, err)
	req := f.create(t, "alice", "annual", day(2025, 7, 14), day(2025, 7, 15))

	f.engine.WaitNotifications()
	f.notifier.AssertCalled(t, "Notify", mock.Anything, leave.EmployeeID("deputy"), leave.EventApprovalRequired, mock.Anything)

	// WHEN: On 5 July
	f.now = at(2025, time.July, 5)
	approver, err := f.engine.Router.ResolveApprover(f.ctx, "alice", leave.RoleLineManager, day(2025, 7, 5))
	require.NoError(t, err)
	assert.Equal(t, leave.EmployeeID("deputy"), approver)

	// THEN: mgr may not act, deputy may
	_, err = f.engine.Advance(f.ctx, req.ID, "mgr", leave.DecisionApprove, "")
	assert.ErrorIs(t, err, leave.ErrNotAuthorized)

	req = f.decide(t, req.ID, "deputy", leave.DecisionApprove)
	assert.Equal(t, leave.EmployeeID("deputy"), req.Flow.Steps[0].ActionBy)
	assert.Equal(t, leave.EmployeeID("mgr"), req.Flow.Steps[0].OnBehalfOf)

	// after the window mgr is back in charge
	approver, err = f.engine.Router.ResolveApprover(f.ctx, "alice", leave.RoleLineManager, day(2025, 7, 11))
	require.NoError(t, err)
	assert.Equal(t, leave.EmployeeID("mgr"), approver)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func TestNotifierFailureDoesNotUndoTransition(t *testing.T) {
	// GIVEN: An engine whose notifier always fails
	f := newFixture(t, at(2025, time.July, 1))
	failing := &mockNotifier{}
	failing.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down"))
	core, logs := observer.New(zapcore.WarnLevel)
	engine := leave.NewEngine(leave.Deps{
		Store:     f.store,
		Directory: leave.NewDirectory(f.store),
		Calendar:  leave.NewWorkCalendar(f.store),
		Notifier:  failing,
		Logger:    zap.New(core),
	})
	engine.SetClock(func() time.Time { return at(2025, time.July, 1) })

	// WHEN: A request is created
	req, err := engine.Create(context.Background(), leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: day(2025, 7, 7), To: day(2025, 7, 8)})
	engine.WaitNotifications()

	// THEN: It exists, and the failure was logged
	require.NoError(t, err)
	stored, err := f.store.GetRequest(f.ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StatusPending, stored.Status)
	assert.Equal(t, 1, logs.FilterMessage("notification failed").Len())
}

func TestNotifierPanicIsContained(t *testing.T) {
	f := newFixture(t, at(2025, time.July, 1))
	panicking := &mockNotifier{}
	panicking.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(mock.Arguments) { panic("boom") })
	core, logs := observer.New(zapcore.ErrorLevel)
	engine := leave.NewEngine(leave.Deps{
		Store:     f.store,
		Directory: leave.NewDirectory(f.store),
		Calendar:  leave.NewWorkCalendar(f.store),
		Notifier:  panicking,
		Logger:    zap.New(core),
	})
	engine.SetClock(func() time.Time { return at(2025, time.July, 1) })

	_, err := engine.Create(context.Background(), leave.CreateRequest{EmployeeID: "alice", LeaveTypeID: "annual", From: day(2025, 7, 7), To: day(2025, 7, 8)})
	engine.WaitNotifications()

	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("notifier panicked").Len())
}
