/*
lifecycle.go - Leave request state machine

PURPOSE:
  Drives a request from creation to its final disposition and keeps the
  entitlement ledger in step with it.

STATES:
  (validation) -> PENDING -> APPROVED | REJECTED | CANCELLED

  Create   validates, reserves and persists in one store transaction.
  Advance  decides the current approval step. REJECT releases the
           reservation; the final APPROVE commits it.
  Cancel   requester-only, PENDING-only; releases like REJECT.

LOCKING:
  Advance and Cancel hold the request's lock for their whole duration, then
  take the entitlement lock for the ledger effect. Create only takes the
  entitlement lock. Locks are always taken in that order.

NOTIFICATIONS:
  Sent after the transaction commits, asynchronously. Failures are logged
  and never undo the transition.

SEE ALSO:
  - ledger.go: Reserve/Release/Commit (the *Tx variants are used here)
  - router.go: Approver resolution and authorization
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/generic"
)

// DefaultNotifyTimeout bounds one notification delivery.
const DefaultNotifyTimeout = 10 * time.Second

var half = decimal.RequireFromString("0.5")

// Engine is the request lifecycle engine and the entry point of the package.
type Engine struct {
	Store       Store
	Ledger      *Ledger
	Router      *Router
	Delegations *DelegationRegistry

	calendar      Calendar
	directory     Directory
	notifier      Notifier
	locks         *generic.KeyedMutex
	logger        *zap.Logger
	now           func() time.Time
	notifyTimeout time.Duration
	inflight      sync.WaitGroup
}

// Deps are the collaborators of an Engine. Notifier and Logger are optional.
type Deps struct {
	Store     Store
	Directory Directory
	Calendar  Calendar
	Notifier  Notifier
	Logger    *zap.Logger
}

func NewEngine(deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := generic.NewKeyedMutex()
	delegations := NewDelegationRegistry(deps.Store, locks, logger)
	e := &Engine{
		Store:         deps.Store,
		Ledger:        NewLedger(deps.Store, locks, logger).WithDirectory(deps.Directory),
		Router:        NewRouter(deps.Directory, delegations),
		Delegations:   delegations,
		calendar:      deps.Calendar,
		directory:     deps.Directory,
		notifier:      deps.Notifier,
		locks:         locks,
		logger:        logger.Named("requests"),
		now:           time.Now,
		notifyTimeout: DefaultNotifyTimeout,
	}
	return e
}

// SetClock replaces the time source of the engine and its components.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
	e.Ledger.now = now
	e.Delegations.now = now
}

// SetNotifyTimeout bounds each notification delivery.
func (e *Engine) SetNotifyTimeout(d time.Duration) { e.notifyTimeout = d }

// Today is the current day on the engine clock.
func (e *Engine) Today() generic.TimePoint { return generic.FromTime(e.now()) }

// =============================================================================
// CREATE
// =============================================================================

type CreateRequest struct {
	EmployeeID    EmployeeID
	LeaveTypeID   LeaveTypeID
	From          generic.TimePoint
	To            generic.TimePoint
	HalfDay       bool
	Justification string
	Attachments   []string
}

// Create validates a new request, reserves its days and persists it. Every
// validation runs before anything is written; the reservation and the
// request row are committed together.
func (e *Engine) Create(ctx context.Context, in CreateRequest) (LeaveRequest, error) {
	today := e.Today()

	r, err := rulesFor(ctx, e.Store, in.LeaveTypeID)
	if err != nil {
		return LeaveRequest{}, err
	}
	if err := e.validateDates(in, r, today); err != nil {
		return LeaveRequest{}, err
	}
	profile, err := e.checkEligibility(ctx, in, r, today)
	if err != nil {
		return LeaveRequest{}, err
	}
	if err := e.checkBlockPeriods(ctx, in); err != nil {
		return LeaveRequest{}, err
	}
	duration, err := e.duration(ctx, in, r)
	if err != nil {
		return LeaveRequest{}, err
	}

	flow := NewApprovalFlow(DefaultApprovalRoles()...)
	first, _ := flow.CurrentStep()
	approver, err := e.Router.ResolveApprover(ctx, in.EmployeeID, first.Role, today)
	if err != nil {
		return LeaveRequest{}, err
	}

	key := EntitlementKey{EmployeeID: in.EmployeeID, LeaveTypeID: in.LeaveTypeID, Year: in.From.Year()}
	accrualStart := generic.Latest(generic.StartOfYear(key.Year), profile.HireDate)

	if r.Type.Deductible {
		unlock := e.locks.Lock(key.lockKey())
		defer unlock()
	}

	var req LeaveRequest
	err = generic.Retry(ctx, generic.DefaultRetryAttempts, func() error {
		now := e.now()
		req = LeaveRequest{
			ID:            RequestID(uuid.NewString()),
			EmployeeID:    in.EmployeeID,
			LeaveTypeID:   in.LeaveTypeID,
			From:          in.From,
			To:            in.To,
			HalfDay:       in.HalfDay,
			DurationDays:  duration,
			Status:        StatusPending,
			Justification: in.Justification,
			Attachments:   in.Attachments,
			Flow:          flow,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		return e.Store.WithTx(ctx, func(tx Store) error {
			if r.Type.Deductible {
				if _, err := e.Ledger.accrueTx(ctx, tx, key, accrualStart, generic.Earliest(today, generic.EndOfYear(key.Year))); err != nil {
					return err
				}
				if _, err := e.Ledger.reserveTx(ctx, tx, key, duration, string(req.ID)); err != nil {
					return err
				}
			}
			return tx.SaveRequest(ctx, &req)
		})
	})
	if err != nil {
		return LeaveRequest{}, err
	}

	e.logger.Info("leave request created",
		zap.String("request_id", string(req.ID)),
		zap.String("employee_id", string(req.EmployeeID)),
		zap.String("leave_type_id", string(req.LeaveTypeID)),
		zap.Stringer("days", req.DurationDays))

	e.dispatch(ctx, approver, EventApprovalRequired, notificationFor(req, first.Role, ""))
	return req, nil
}

func (e *Engine) validateDates(in CreateRequest, r rules, today generic.TimePoint) error {
	if in.EmployeeID == "" {
		return &ValidationError{Field: "employee_id", Message: "required"}
	}
	if in.From.IsZero() || in.To.IsZero() {
		return &ValidationError{Field: "from", Message: "from and to dates are required"}
	}
	if in.To.Before(in.From) {
		return &ValidationError{Field: "to", Message: "end date is before start date"}
	}
	if in.From.Year() != in.To.Year() {
		return &ValidationError{Field: "to", Message: "a request must fall within one leave year"}
	}

	// minNoticeDays = 0 allows retroactive requests (e.g. sick leave)
	notice := generic.DaysBetween(today, in.From)
	if r.Policy.MinNoticeDays > 0 && notice < r.Policy.MinNoticeDays {
		return &NoticePeriodError{RequiredDays: r.Policy.MinNoticeDays, GivenDays: notice}
	}

	if in.HalfDay {
		if !r.Type.AllowHalfDay {
			return &ValidationError{Field: "half_day", Message: fmt.Sprintf("%s does not allow half days", r.Type.ID)}
		}
		if !in.From.Equal(in.To) {
			return &ValidationError{Field: "half_day", Message: "a half-day request covers a single date"}
		}
	}
	if r.Type.RequiresAttachment && len(in.Attachments) == 0 {
		return &ValidationError{Field: "attachments", Message: fmt.Sprintf("%s requires a supporting document", r.Type.ID)}
	}
	return nil
}

func (e *Engine) checkEligibility(ctx context.Context, in CreateRequest, r rules, today generic.TimePoint) (EmployeeProfile, error) {
	profile, err := e.directory.GetEmployee(ctx, in.EmployeeID)
	if err != nil {
		return EmployeeProfile{}, err
	}
	tenure, err := e.directory.GetEmployeeTenureMonths(ctx, in.EmployeeID, today)
	if err != nil {
		return EmployeeProfile{}, err
	}

	elig := r.Policy.Eligibility
	if tenure < elig.MinTenureMonths {
		return EmployeeProfile{}, &EligibilityError{
			EmployeeID: in.EmployeeID, LeaveTypeID: in.LeaveTypeID, Rule: RuleTenure,
			Detail: fmt.Sprintf("%d months of tenure, %d required", tenure, elig.MinTenureMonths),
		}
	}
	if !elig.AllowsContract(profile.ContractType) {
		return EmployeeProfile{}, &EligibilityError{
			EmployeeID: in.EmployeeID, LeaveTypeID: in.LeaveTypeID, Rule: RuleContract,
			Detail: fmt.Sprintf("contract type %q not allowed", profile.ContractType),
		}
	}
	if r.Type.Gender != GenderAny && profile.Gender != r.Type.Gender {
		return EmployeeProfile{}, &EligibilityError{
			EmployeeID: in.EmployeeID, LeaveTypeID: in.LeaveTypeID, Rule: RuleGender,
			Detail: fmt.Sprintf("restricted to %s employees", r.Type.Gender),
		}
	}
	return profile, nil
}

func (e *Engine) checkBlockPeriods(ctx context.Context, in CreateRequest) error {
	window := generic.Period{Start: in.From, End: in.To}
	blocks, err := e.Store.ListBlockPeriods(ctx, window)
	if err != nil {
		return fmt.Errorf("list block periods: %w", err)
	}
	for _, b := range blocks {
		if b.Window.Overlaps(window) && !b.Exempts(in.LeaveTypeID) {
			return &BlockPeriodError{Block: b}
		}
	}
	return nil
}

func (e *Engine) duration(ctx context.Context, in CreateRequest, r rules) (decimal.Decimal, error) {
	days, err := e.calendar.GetWorkingDaysBetween(ctx, in.From, in.To, in.From.Year())
	if err != nil {
		return decimal.Zero, fmt.Errorf("count working days: %w", err)
	}
	if days == 0 {
		return decimal.Zero, &ValidationError{Field: "from", Message: "the requested range contains no working days"}
	}
	duration := decimal.NewFromInt(int64(days))
	if in.HalfDay {
		duration = half
	}

	if max := r.Type.MaxDurationDays; max > 0 && duration.GreaterThan(decimal.NewFromInt(int64(max))) {
		return decimal.Zero, &ValidationError{Field: "to", Message: fmt.Sprintf("%s allows at most %d days per request", r.Type.ID, max)}
	}
	if max := r.Policy.MaxConsecutiveDays; max > 0 && duration.GreaterThan(decimal.NewFromInt(int64(max))) {
		return decimal.Zero, &ValidationError{Field: "to", Message: fmt.Sprintf("%s allows at most %d consecutive days", r.Type.ID, max)}
	}
	return duration, nil
}

// =============================================================================
// ADVANCE
// =============================================================================

// Advance records actor's decision on the request's current step. The step
// transition and its ledger effect are applied together or not at all.
func (e *Engine) Advance(ctx context.Context, id RequestID, actor EmployeeID, decision Decision, comment string) (LeaveRequest, error) {
	if !decision.Valid() {
		return LeaveRequest{}, &ValidationError{Field: "decision", Message: fmt.Sprintf("unknown decision %q", decision)}
	}

	unlock := e.locks.Lock(requestLockKey(id))
	defer unlock()

	// each attempt reloads the request: another process may have decided
	// the same step in between
	var (
		updated LeaveRequest
		step    ApprovalStep
	)
	err := generic.Retry(ctx, generic.DefaultRetryAttempts, func() error {
		req, err := e.getRequest(ctx, id)
		if err != nil {
			return err
		}
		var ok bool
		step, ok = req.Flow.CurrentStep()
		if req.IsTerminal() || !ok {
			return &InvalidStateError{Entity: "request", ID: string(id), State: string(req.Status), Op: "decide"}
		}

		now := e.now()
		assignment, err := e.Router.Authorize(ctx, req.EmployeeID, step.Role, actor, generic.FromTime(now))
		if err != nil {
			return err
		}
		var onBehalfOf EmployeeID
		if assignment.Delegation != nil {
			onBehalfOf = assignment.Structural
		}

		flow, _ := req.Flow.Decide(actor, onBehalfOf, decision, comment, now)
		updated = req
		updated.Flow = flow
		updated.Status = flow.Outcome()
		updated.UpdatedAt = now
		return e.persistTransition(ctx, &updated, "decide")
	})
	if err != nil {
		return LeaveRequest{}, err
	}
	now := updated.UpdatedAt

	e.logger.Info("leave request decided",
		zap.String("request_id", string(id)),
		zap.String("actor", string(actor)),
		zap.Stringer("role", step.Role),
		zap.String("decision", string(decision)),
		zap.String("status", string(updated.Status)))

	switch updated.Status {
	case StatusPending:
		next, _ := updated.Flow.CurrentStep()
		approver, err := e.Router.ResolveApprover(ctx, updated.EmployeeID, next.Role, generic.FromTime(now))
		if err != nil {
			e.logger.Warn("cannot resolve next approver for notification",
				zap.String("request_id", string(id)), zap.Error(err))
			break
		}
		e.dispatch(ctx, approver, EventApprovalRequired, notificationFor(updated, next.Role, ""))
	case StatusApproved:
		e.dispatch(ctx, updated.EmployeeID, EventRequestApproved, notificationFor(updated, step.Role, comment))
	case StatusRejected:
		e.dispatch(ctx, updated.EmployeeID, EventRequestRejected, notificationFor(updated, step.Role, comment))
	}
	return updated, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel withdraws a pending request on behalf of its requester and releases
// its reservation.
func (e *Engine) Cancel(ctx context.Context, id RequestID, requesterID EmployeeID) (LeaveRequest, error) {
	unlock := e.locks.Lock(requestLockKey(id))
	defer unlock()

	var (
		req, updated LeaveRequest
		step         ApprovalStep
	)
	err := generic.Retry(ctx, generic.DefaultRetryAttempts, func() error {
		var err error
		req, err = e.getRequest(ctx, id)
		if err != nil {
			return err
		}
		if req.IsTerminal() {
			return &InvalidStateError{Entity: "request", ID: string(id), State: string(req.Status), Op: "cancel"}
		}
		if requesterID != req.EmployeeID {
			return &NotAuthorizedError{Actor: requesterID, Role: RoleEmployee, Expected: req.EmployeeID, Reason: "only the requester can cancel a request"}
		}

		step, _ = req.Flow.CurrentStep()
		updated = req
		updated.Flow = req.Flow.Close()
		updated.Status = StatusCancelled
		updated.UpdatedAt = e.now()
		return e.persistTransition(ctx, &updated, "cancel")
	})
	if err != nil {
		return LeaveRequest{}, err
	}
	now := updated.UpdatedAt

	e.logger.Info("leave request cancelled",
		zap.String("request_id", string(id)),
		zap.String("employee_id", string(req.EmployeeID)))

	if approver, err := e.Router.ResolveApprover(ctx, req.EmployeeID, step.Role, generic.FromTime(now)); err == nil {
		e.dispatch(ctx, approver, EventRequestCancelled, notificationFor(updated, step.Role, ""))
	}
	return updated, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// persistTransition saves updated and applies the ledger effect of its new
// status in one transaction. The caller holds the request lock and retries
// on ErrConcurrentModification from a fresh load.
//
// The stored request is re-read inside the transaction first. If it moved
// on since updated was loaded, nothing is written: a request that reached a
// terminal status fails with InvalidStateError, anything else is retryable.
func (e *Engine) persistTransition(ctx context.Context, updated *LeaveRequest, op string) error {
	lt, err := e.Store.GetLeaveType(ctx, updated.LeaveTypeID)
	if err != nil {
		return fmt.Errorf("load leave type %s: %w", updated.LeaveTypeID, err)
	}
	key := updated.Key()
	touchesLedger := lt.Deductible && updated.Status != StatusPending
	if touchesLedger {
		unlock := e.locks.Lock(key.lockKey())
		defer unlock()
	}

	version := updated.Version
	err = e.Store.WithTx(ctx, func(tx Store) error {
		current, err := tx.GetRequest(ctx, updated.ID)
		if err != nil {
			return err
		}
		if current.Version != version {
			if current.IsTerminal() {
				return &InvalidStateError{Entity: "request", ID: string(updated.ID), State: string(current.Status), Op: op}
			}
			return fmt.Errorf("request %s: %w", updated.ID, generic.ErrConcurrentModification)
		}
		if touchesLedger {
			ref := string(updated.ID)
			switch updated.Status {
			case StatusApproved:
				_, err = e.Ledger.commitTx(ctx, tx, key, updated.DurationDays, ref)
			case StatusRejected, StatusCancelled:
				_, err = e.Ledger.releaseTx(ctx, tx, key, updated.DurationDays, ref)
			}
			if err != nil {
				return err
			}
		}
		return tx.SaveRequest(ctx, updated)
	})
	if err != nil {
		updated.Version = version
	}
	return err
}

func (e *Engine) getRequest(ctx context.Context, id RequestID) (LeaveRequest, error) {
	req, err := e.Store.GetRequest(ctx, id)
	if errors.Is(err, generic.ErrNotFound) {
		return LeaveRequest{}, fmt.Errorf("%w: %s", ErrRequestNotFound, id)
	}
	return req, err
}

// dispatch delivers a notification in the background. It never fails the
// caller.
func (e *Engine) dispatch(ctx context.Context, to EmployeeID, event EventType, n Notification) {
	if e.notifier == nil || to == "" {
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer func() {
			if p := recover(); p != nil {
				e.logger.Error("notifier panicked",
					zap.Any("panic", p),
					zap.ByteString("stack", debug.Stack()))
			}
		}()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notifyTimeout)
		defer cancel()
		if err := e.notifier.Notify(nctx, to, event, n); err != nil {
			e.logger.Warn("notification failed",
				zap.String("to", string(to)),
				zap.String("event", string(event)),
				zap.String("request_id", string(n.RequestID)),
				zap.Error(err))
		}
	}()
}

// WaitNotifications blocks until in-flight notifications have finished.
func (e *Engine) WaitNotifications() {
	e.inflight.Wait()
}

func notificationFor(r LeaveRequest, step Role, comment string) Notification {
	return Notification{
		RequestID:   r.ID,
		EmployeeID:  r.EmployeeID,
		LeaveTypeID: r.LeaveTypeID,
		Status:      r.Status,
		Step:        step,
		Window:      r.Window(),
		Comment:     comment,
	}
}
