package leave

import (
	"context"
	"errors"
	"fmt"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// DIRECTORY - Identity and org-chart lookups
// =============================================================================

// EmployeeProfile is the read-only directory record of an employee.
type EmployeeProfile struct {
	ID           EmployeeID
	Name         string
	Email        string
	HireDate     generic.TimePoint
	Gender       Gender
	ContractType ContractType
	ManagerID    EmployeeID // structural line manager
	HRAdminID    EmployeeID // structural HR admin
}

// Directory answers the identity questions the engine asks.
type Directory interface {
	GetEmployee(ctx context.Context, id EmployeeID) (EmployeeProfile, error)
	GetEmployeeTenureMonths(ctx context.Context, id EmployeeID, asOf generic.TimePoint) (int, error)
	GetStructuralApprover(ctx context.Context, id EmployeeID, role Role) (EmployeeID, error)
}

// ProfileDirectory derives tenure and structural approvers from stored
// employee profiles.
type ProfileDirectory struct {
	lookup EmployeeLookup
}

func NewDirectory(lookup EmployeeLookup) *ProfileDirectory {
	return &ProfileDirectory{lookup: lookup}
}

func (d *ProfileDirectory) GetEmployee(ctx context.Context, id EmployeeID) (EmployeeProfile, error) {
	p, err := d.lookup.GetEmployee(ctx, id)
	if errors.Is(err, generic.ErrNotFound) {
		return EmployeeProfile{}, fmt.Errorf("%w: %s", ErrEmployeeNotFound, id)
	}
	return p, err
}

func (d *ProfileDirectory) GetEmployeeTenureMonths(ctx context.Context, id EmployeeID, asOf generic.TimePoint) (int, error) {
	p, err := d.GetEmployee(ctx, id)
	if err != nil {
		return 0, err
	}
	if p.HireDate.IsZero() {
		return 0, nil
	}
	return generic.WholeMonthsBetween(p.HireDate, asOf), nil
}

func (d *ProfileDirectory) GetStructuralApprover(ctx context.Context, id EmployeeID, role Role) (EmployeeID, error) {
	p, err := d.GetEmployee(ctx, id)
	if err != nil {
		return "", err
	}
	var approver EmployeeID
	switch role {
	case RoleLineManager:
		approver = p.ManagerID
	case RoleHRAdmin:
		approver = p.HRAdminID
	default:
		return "", &ValidationError{Field: "role", Message: fmt.Sprintf("%s cannot approve", role)}
	}
	if approver == "" {
		return "", fmt.Errorf("%w: %s has no %s", ErrNoApprover, id, role)
	}
	return approver, nil
}

// =============================================================================
// NOTIFIER - Fire-and-forget side effects
// =============================================================================

type EventType string

const (
	EventApprovalRequired EventType = "approval_required"
	EventRequestApproved  EventType = "request_approved"
	EventRequestRejected  EventType = "request_rejected"
	EventRequestCancelled EventType = "request_cancelled"
)

// Notification is the payload handed to a Notifier.
type Notification struct {
	RequestID   RequestID
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Status      RequestStatus
	Step        Role
	Window      generic.Period
	Comment     string
}

// Notifier delivers events. Errors are logged by the engine and never undo
// the transition that produced the event.
type Notifier interface {
	Notify(ctx context.Context, to EmployeeID, event EventType, n Notification) error
}
