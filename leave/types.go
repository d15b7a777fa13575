/*
Package leave implements leave entitlements and the request approval workflow.

PURPOSE:
  Computes how many days an employee has accrued per leave type and year,
  holds days against pending requests, and drives each request through a
  sequential approval flow (line manager, then HR admin) with optional
  delegation of approval authority.

KEY COMPONENTS:
  - Ledger:             Entitlement rows and their arithmetic (ledger.go)
  - Engine:             Request lifecycle Create/Advance/Cancel (lifecycle.go)
  - Router:             Who must act on a step (router.go)
  - DelegationRegistry: Time-bounded substitution of approvers (delegation.go)
  - WorkCalendar:       Working-day counts (calendar.go)

KEY CONCEPTS IN THIS FILE (types.go):
  - LeaveType:   Reference data describing a kind of leave
  - LeavePolicy: How a leave type accrues, rounds and carries forward

SEE ALSO:
  - generic/: Amounts, dates, journal, per-key locks
  - factory/: Catalog presets and YAML loading
*/
package leave

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// EmployeeID identifies an employee. Approvers and delegates are employees
// too, so this doubles as the acting identity.
type EmployeeID string

type LeaveTypeID string
type RequestID string
type DelegationID string

// =============================================================================
// LEAVE TYPE
// =============================================================================

type Category string

const (
	CategoryAnnual    Category = "annual"
	CategorySick      Category = "sick"
	CategoryMaternity Category = "maternity"
	CategoryPaternity Category = "paternity"
	CategoryMission   Category = "mission"
	CategoryUnpaid    Category = "unpaid"
	CategorySpecial   Category = "special"
)

type Gender string

const (
	GenderAny    Gender = ""
	GenderFemale Gender = "female"
	GenderMale   Gender = "male"
)

type ContractType string

const (
	ContractPermanent  ContractType = "permanent"
	ContractFixedTerm  ContractType = "fixed_term"
	ContractIntern     ContractType = "intern"
	ContractContractor ContractType = "contractor"
)

// LeaveType is append-only reference data. Once saved it is never edited.
type LeaveType struct {
	ID       LeaveTypeID
	Name     string
	Category Category

	Paid               bool
	Deductible         bool // false = no balance check, no reservation
	RequiresAttachment bool
	AllowHalfDay       bool

	Gender          Gender // GenderAny when unrestricted
	MaxDurationDays int    // per request, 0 = unlimited

	CreatedAt time.Time
}

func (lt LeaveType) Validate() error {
	if lt.ID == "" {
		return &ValidationError{Field: "id", Message: "leave type id is required"}
	}
	if lt.Name == "" {
		return &ValidationError{Field: "name", Message: "leave type name is required"}
	}
	if lt.MaxDurationDays < 0 {
		return &ValidationError{Field: "max_duration_days", Message: "must not be negative"}
	}
	switch lt.Gender {
	case GenderAny, GenderFemale, GenderMale:
	default:
		return &ValidationError{Field: "gender", Message: fmt.Sprintf("unknown gender constraint %q", lt.Gender)}
	}
	return nil
}

// =============================================================================
// LEAVE POLICY
// =============================================================================

type AccrualMethod string

const (
	AccrualMonthly  AccrualMethod = "MONTHLY"
	AccrualYearly   AccrualMethod = "YEARLY"
	AccrualOnDemand AccrualMethod = "ON_DEMAND"
	AccrualLumpSum  AccrualMethod = "LUMP_SUM"
	AccrualNone     AccrualMethod = "NONE"
)

// Passive reports whether the method grows the balance without a grant.
func (m AccrualMethod) Passive() bool {
	return m == AccrualMonthly || m == AccrualYearly || m == AccrualLumpSum
}

type RoundingRule string

const (
	RoundNone    RoundingRule = "NONE"
	RoundUp      RoundingRule = "ROUND_UP"
	RoundDown    RoundingRule = "ROUND_DOWN"
	RoundNearest RoundingRule = "ROUND_NEAREST"
)

var two = decimal.NewFromInt(2)

// Apply rounds d: UP/DOWN to whole days, NEAREST to the nearest half day.
func (r RoundingRule) Apply(d decimal.Decimal) decimal.Decimal {
	switch r {
	case RoundUp:
		return d.Ceil()
	case RoundDown:
		return d.Floor()
	case RoundNearest:
		return d.Mul(two).Round(0).Div(two)
	default:
		return d
	}
}

type Eligibility struct {
	MinTenureMonths      int
	ContractTypesAllowed []ContractType // empty = all
}

// AllowsContract reports whether ct may take this leave.
func (e Eligibility) AllowsContract(ct ContractType) bool {
	return len(e.ContractTypesAllowed) == 0 || slices.Contains(e.ContractTypesAllowed, ct)
}

// LeavePolicy governs exactly one LeaveType. Policies are versioned: saving
// appends a new version and lookups return the latest one.
type LeavePolicy struct {
	LeaveTypeID LeaveTypeID
	Version     int

	AccrualMethod AccrualMethod
	MonthlyRate   decimal.Decimal
	YearlyRate    decimal.Decimal

	CarryForwardAllowed bool
	MaxCarryForward     *decimal.Decimal // nil = uncapped

	RoundingRule       RoundingRule
	MinNoticeDays      int
	MaxConsecutiveDays int // 0 = unlimited

	Eligibility Eligibility
	CreatedAt   time.Time
}

// UncappedAccrual flags MONTHLY policies with a monthly rate but no yearly
// ceiling. Such policies accrue without limit.
func (p LeavePolicy) UncappedAccrual() bool {
	return p.AccrualMethod == AccrualMonthly && p.YearlyRate.IsZero() && p.MonthlyRate.IsPositive()
}

func (p LeavePolicy) Validate() error {
	if p.LeaveTypeID == "" {
		return &ValidationError{Field: "leave_type_id", Message: "policy must reference a leave type"}
	}
	switch p.AccrualMethod {
	case AccrualMonthly, AccrualYearly, AccrualOnDemand, AccrualLumpSum, AccrualNone:
	default:
		return &ValidationError{Field: "accrual_method", Message: fmt.Sprintf("unknown accrual method %q", p.AccrualMethod)}
	}
	switch p.RoundingRule {
	case RoundNone, RoundUp, RoundDown, RoundNearest:
	default:
		return &ValidationError{Field: "rounding_rule", Message: fmt.Sprintf("unknown rounding rule %q", p.RoundingRule)}
	}
	if p.MonthlyRate.IsNegative() || p.YearlyRate.IsNegative() {
		return &ValidationError{Field: "rate", Message: "accrual rates must not be negative"}
	}
	if p.MaxCarryForward != nil && p.MaxCarryForward.IsNegative() {
		return &ValidationError{Field: "max_carry_forward", Message: "must not be negative"}
	}
	if p.MinNoticeDays < 0 || p.MaxConsecutiveDays < 0 || p.Eligibility.MinTenureMonths < 0 {
		return &ValidationError{Field: "limits", Message: "notice, consecutive-day and tenure limits must not be negative"}
	}
	return nil
}
