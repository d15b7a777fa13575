package leave

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// REQUEST STATUS
// =============================================================================

type RequestStatus string

const (
	StatusPending   RequestStatus = "PENDING"
	StatusApproved  RequestStatus = "APPROVED"
	StatusRejected  RequestStatus = "REJECTED"
	StatusCancelled RequestStatus = "CANCELLED"
)

func (s RequestStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

type StepStatus string

const (
	StepUnset    StepStatus = ""
	StepPending  StepStatus = "PENDING"
	StepApproved StepStatus = "APPROVED"
	StepRejected StepStatus = "REJECTED"
)

type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

func (d Decision) Valid() bool { return d == DecisionApprove || d == DecisionReject }

// =============================================================================
// APPROVAL FLOW - Immutable steps plus cached current index
// =============================================================================

// ApprovalStep is one role's decision slot. A step value is never edited;
// deciding produces a new flow with a new step in that slot.
type ApprovalStep struct {
	Role       Role       `json:"role"`
	Status     StepStatus `json:"status,omitempty"`
	ActionBy   EmployeeID `json:"action_by,omitempty"`    // empty until acted
	OnBehalfOf EmployeeID `json:"on_behalf_of,omitempty"` // structural approver when a delegate acted
	ActedAt    *time.Time `json:"acted_at,omitempty"`
	Comment    string     `json:"comment,omitempty"`
}

// ApprovalFlow is the ordered step sequence of a request. Current points at
// the single PENDING step, or is -1 once the flow has resolved.
type ApprovalFlow struct {
	Steps   []ApprovalStep `json:"steps"`
	Current int            `json:"current"`
}

// NewApprovalFlow starts a flow with the first role PENDING and the rest unset.
func NewApprovalFlow(roles ...Role) ApprovalFlow {
	steps := make([]ApprovalStep, len(roles))
	for i, r := range roles {
		steps[i] = ApprovalStep{Role: r}
	}
	if len(steps) == 0 {
		return ApprovalFlow{Current: -1}
	}
	steps[0].Status = StepPending
	return ApprovalFlow{Steps: steps, Current: 0}
}

// CurrentStep returns the pending step, if any.
func (f ApprovalFlow) CurrentStep() (ApprovalStep, bool) {
	if f.Current < 0 || f.Current >= len(f.Steps) {
		return ApprovalStep{}, false
	}
	return f.Steps[f.Current], true
}

// Outcome projects the flow onto a request status. It reads the cached
// index and the last decided step only.
func (f ApprovalFlow) Outcome() RequestStatus {
	if f.Current >= 0 {
		return StatusPending
	}
	for i := len(f.Steps) - 1; i >= 0; i-- {
		switch f.Steps[i].Status {
		case StepRejected:
			return StatusRejected
		case StepApproved:
			return StatusApproved
		}
	}
	return StatusApproved
}

// Decide records decision on the current step and returns the new flow.
// The receiver is left untouched.
func (f ApprovalFlow) Decide(actor, onBehalfOf EmployeeID, decision Decision, comment string, at time.Time) (ApprovalFlow, bool) {
	if _, ok := f.CurrentStep(); !ok {
		return f, false
	}

	next := ApprovalFlow{Steps: slices.Clone(f.Steps), Current: f.Current}
	acted := at
	step := ApprovalStep{
		Role:       f.Steps[f.Current].Role,
		ActionBy:   actor,
		OnBehalfOf: onBehalfOf,
		ActedAt:    &acted,
		Comment:    comment,
	}

	if decision == DecisionReject {
		step.Status = StepRejected
		next.Steps[f.Current] = step
		next.Current = -1
		return next, true
	}

	step.Status = StepApproved
	next.Steps[f.Current] = step
	if f.Current+1 < len(f.Steps) {
		next.Current = f.Current + 1
		next.Steps[next.Current] = ApprovalStep{Role: f.Steps[next.Current].Role, Status: StepPending}
	} else {
		next.Current = -1
	}
	return next, true
}

// Close ends the flow without a decision (cancellation). The pending step
// goes back to unset.
func (f ApprovalFlow) Close() ApprovalFlow {
	next := ApprovalFlow{Steps: slices.Clone(f.Steps), Current: -1}
	if f.Current >= 0 && f.Current < len(f.Steps) {
		next.Steps[f.Current] = ApprovalStep{Role: f.Steps[f.Current].Role}
	}
	return next
}

// =============================================================================
// LEAVE REQUEST
// =============================================================================

type LeaveRequest struct {
	ID           RequestID
	EmployeeID   EmployeeID
	LeaveTypeID  LeaveTypeID
	From         generic.TimePoint
	To           generic.TimePoint
	HalfDay      bool
	DurationDays decimal.Decimal

	Status        RequestStatus
	Justification string
	Attachments   []string
	Flow          ApprovalFlow

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

func (r LeaveRequest) IsTerminal() bool { return r.Status.IsTerminal() }

// Key is the entitlement row the request reserves against.
func (r LeaveRequest) Key() EntitlementKey {
	return EntitlementKey{EmployeeID: r.EmployeeID, LeaveTypeID: r.LeaveTypeID, Year: r.From.Year()}
}

func (r LeaveRequest) Window() generic.Period {
	return generic.Period{Start: r.From, End: r.To}
}

func requestLockKey(id RequestID) string { return "request:" + string(id) }
