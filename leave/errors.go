/*
errors.go - Domain error taxonomy

PURPOSE:
  Every failure the engine reports to its host is one of the structured
  types below. Each unwraps to a sentinel so callers can branch with
  errors.Is, or pull details out with errors.As.

ERROR CATEGORIES:
  1. Missing reference data  - PolicyNotFoundError, ErrLeaveTypeNotFound
  2. Request validation      - ValidationError, EligibilityError,
                               NoticePeriodError, BlockPeriodError
  3. Balance admission       - InsufficientBalanceError, InvalidAdjustmentError
  4. Workflow                - InvalidStateError, NotAuthorizedError,
                               OverlappingDelegationError

SEE ALSO:
  - generic/errors.go: Storage sentinels (not found, conflicts)
  - api/handlers.go: writeDomainError maps these to HTTP status codes
*/
package leave

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrPolicyNotFound        = errors.New("leave policy not found")
	ErrLeaveTypeNotFound     = errors.New("leave type not found")
	ErrRequestNotFound       = errors.New("leave request not found")
	ErrEmployeeNotFound      = errors.New("employee not found")
	ErrDelegationNotFound    = errors.New("delegation not found")
	ErrNoApprover            = errors.New("no approver configured")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrIneligible            = errors.New("employee not eligible for leave type")
	ErrNoticePeriod          = errors.New("notice period not met")
	ErrBlockPeriod           = errors.New("dates fall in a block period")
	ErrInvalidState          = errors.New("invalid state transition")
	ErrNotAuthorized         = errors.New("not authorized")
	ErrOverlappingDelegation = errors.New("overlapping delegation")
	ErrInvalidAdjustment     = errors.New("invalid adjustment")
	ErrValidation            = errors.New("validation failed")
	ErrInvariant             = errors.New("entitlement invariant violated")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type PolicyNotFoundError struct {
	LeaveTypeID LeaveTypeID
}

func (e *PolicyNotFoundError) Error() string {
	return fmt.Sprintf("no leave policy for leave type %q", e.LeaveTypeID)
}

func (e *PolicyNotFoundError) Unwrap() error { return ErrPolicyNotFound }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Key       EntitlementKey
	Remaining decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: remaining %s, requested %s",
		e.Key, e.Remaining, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Remaining)
}

type EligibilityRule string

const (
	RuleTenure   EligibilityRule = "tenure"
	RuleContract EligibilityRule = "contract"
	RuleGender   EligibilityRule = "gender"
)

type EligibilityError struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Rule        EligibilityRule
	Detail      string
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("employee %s not eligible for %s (%s): %s", e.EmployeeID, e.LeaveTypeID, e.Rule, e.Detail)
}

func (e *EligibilityError) Unwrap() error { return ErrIneligible }

type NoticePeriodError struct {
	RequiredDays int
	GivenDays    int
}

func (e *NoticePeriodError) Error() string {
	return fmt.Sprintf("notice period not met: %d days required, %d given", e.RequiredDays, e.GivenDays)
}

func (e *NoticePeriodError) Unwrap() error { return ErrNoticePeriod }

type BlockPeriodError struct {
	Block BlockPeriod
}

func (e *BlockPeriodError) Error() string {
	return fmt.Sprintf("requested dates overlap block period %q %s", e.Block.Name, e.Block.Window)
}

func (e *BlockPeriodError) Unwrap() error { return ErrBlockPeriod }

// InvalidStateError reports an operation attempted on an entity whose state
// does not allow it, e.g. deciding an already-terminal request.
type InvalidStateError struct {
	Entity string
	ID     string
	State  string
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %s", e.Op, e.Entity, e.ID, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

type NotAuthorizedError struct {
	Actor    EmployeeID
	Role     Role
	Expected EmployeeID
	Reason   string
}

func (e *NotAuthorizedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s is not authorized: %s", e.Actor, e.Reason)
	}
	return fmt.Sprintf("%s is not authorized to act as %s (expected %s)", e.Actor, e.Role, e.Expected)
}

func (e *NotAuthorizedError) Unwrap() error { return ErrNotAuthorized }

type OverlappingDelegationError struct {
	DelegatorID EmployeeID
	Existing    Delegation
}

func (e *OverlappingDelegationError) Error() string {
	return fmt.Sprintf("delegator %s already has delegation %s for %s",
		e.DelegatorID, e.Existing.ID, e.Existing.Window)
}

func (e *OverlappingDelegationError) Unwrap() error { return ErrOverlappingDelegation }

type InvalidAdjustmentError struct {
	Key    EntitlementKey
	Reason string
}

func (e *InvalidAdjustmentError) Error() string {
	return fmt.Sprintf("invalid adjustment on %s: %s", e.Key, e.Reason)
}

func (e *InvalidAdjustmentError) Unwrap() error { return ErrInvalidAdjustment }

// ValidationError reports malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's input or a
// business rule, as opposed to a storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrIneligible) ||
		errors.Is(err, ErrNoticePeriod) ||
		errors.Is(err, ErrBlockPeriod) ||
		errors.Is(err, ErrInvalidAdjustment) ||
		errors.Is(err, ErrOverlappingDelegation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrLeaveTypeNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrEmployeeNotFound) ||
		errors.Is(err, ErrDelegationNotFound) ||
		errors.Is(err, generic.ErrNotFound)
}

// IsConflict returns true if the error is a state conflict the caller may
// want to surface as 409.
func IsConflict(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, generic.ErrConcurrentModification) ||
		errors.Is(err, generic.ErrAlreadyExists)
}
