/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the leave package's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

CONVENTIONS:
  - Dates are YYYY-MM-DD strings, timestamps are RFC 3339
  - Day quantities are decimal strings ("2.5"), never floats

VALIDATION:
  Validation is done in handlers and in the leave package, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/catalog.go: LeaveTypeSpec, reused for the leave type catalog
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// EMPLOYEES
// =============================================================================

// EmployeeDTO is both the create payload and the response shape.
type EmployeeDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	HireDate     string `json:"hire_date"`
	Gender       string `json:"gender,omitempty"`
	ContractType string `json:"contract_type"`
	ManagerID    string `json:"manager_id,omitempty"`
	HRAdminID    string `json:"hr_admin_id,omitempty"`
}

func toEmployeeDTO(p leave.EmployeeProfile) EmployeeDTO {
	return EmployeeDTO{
		ID:           string(p.ID),
		Name:         p.Name,
		Email:        p.Email,
		HireDate:     p.HireDate.String(),
		Gender:       string(p.Gender),
		ContractType: string(p.ContractType),
		ManagerID:    string(p.ManagerID),
		HRAdminID:    string(p.HRAdminID),
	}
}

func (d EmployeeDTO) profile() (leave.EmployeeProfile, error) {
	if d.ID == "" || d.Name == "" {
		return leave.EmployeeProfile{}, &leave.ValidationError{Field: "id", Message: "id and name are required"}
	}
	hire, err := parseDate("hire_date", d.HireDate)
	if err != nil {
		return leave.EmployeeProfile{}, err
	}
	return leave.EmployeeProfile{
		ID:           leave.EmployeeID(d.ID),
		Name:         d.Name,
		Email:        d.Email,
		HireDate:     hire,
		Gender:       leave.Gender(d.Gender),
		ContractType: leave.ContractType(d.ContractType),
		ManagerID:    leave.EmployeeID(d.ManagerID),
		HRAdminID:    leave.EmployeeID(d.HRAdminID),
	}, nil
}

// =============================================================================
// ENTITLEMENTS & JOURNAL
// =============================================================================

type EntitlementDTO struct {
	EmployeeID          string          `json:"employee_id"`
	LeaveTypeID         string          `json:"leave_type_id"`
	Year                int             `json:"year"`
	YearlyEntitlement   decimal.Decimal `json:"yearly_entitlement"`
	CarryForward        decimal.Decimal `json:"carry_forward"`
	AccruedActual       decimal.Decimal `json:"accrued_actual"`
	Adjusted            decimal.Decimal `json:"adjusted"`
	AccruedRounded      decimal.Decimal `json:"accrued_rounded"`
	Taken               decimal.Decimal `json:"taken"`
	Pending             decimal.Decimal `json:"pending"`
	Remaining           decimal.Decimal `json:"remaining"`
	LastAccrualDate     string          `json:"last_accrual_date,omitempty"`
	CarryForwardApplied bool            `json:"carry_forward_applied"`
	Version             int64           `json:"version"`
}

func toEntitlementDTO(e leave.Entitlement) EntitlementDTO {
	return EntitlementDTO{
		EmployeeID:          string(e.EmployeeID),
		LeaveTypeID:         string(e.LeaveTypeID),
		Year:                e.Year,
		YearlyEntitlement:   e.YearlyEntitlement,
		CarryForward:        e.CarryForward,
		AccruedActual:       e.AccruedActual,
		Adjusted:            e.Adjusted,
		AccruedRounded:      e.AccruedRounded,
		Taken:               e.Taken,
		Pending:             e.Pending,
		Remaining:           e.Remaining,
		LastAccrualDate:     e.LastAccrualDate.String(),
		CarryForwardApplied: e.CarryForwardApplied,
		Version:             e.Version,
	}
}

// TransactionDTO is one journal movement.
type TransactionDTO struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	Delta       decimal.Decimal   `json:"delta"`
	Unit        string            `json:"unit"`
	EffectiveAt string            `json:"effective_at"`
	ReferenceID string            `json:"reference_id,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	CreatedBy   string            `json:"created_by,omitempty"`
	CreatedAt   string            `json:"created_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func toTransactionDTOs(txs []generic.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		out = append(out, TransactionDTO{
			ID:          string(tx.ID),
			Type:        string(tx.Type),
			Delta:       tx.Delta.Value,
			Unit:        string(tx.Delta.Unit),
			EffectiveAt: tx.EffectiveAt.String(),
			ReferenceID: tx.ReferenceID,
			Reason:      tx.Reason,
			CreatedBy:   tx.CreatedBy,
			CreatedAt:   tx.CreatedAt.UTC().Format(time.RFC3339),
			Metadata:    tx.Metadata,
		})
	}
	return out
}

// =============================================================================
// LEAVE REQUESTS
// =============================================================================

type CreateLeaveRequest struct {
	EmployeeID    string   `json:"employee_id,omitempty"` // defaults to the caller
	LeaveTypeID   string   `json:"leave_type_id"`
	From          string   `json:"from"`
	To            string   `json:"to"`
	HalfDay       bool     `json:"half_day,omitempty"`
	Justification string   `json:"justification,omitempty"`
	Attachments   []string `json:"attachments,omitempty"`
}

type DecisionRequest struct {
	Comment string `json:"comment,omitempty"`
}

type RequestDTO struct {
	ID            string             `json:"id"`
	EmployeeID    string             `json:"employee_id"`
	LeaveTypeID   string             `json:"leave_type_id"`
	From          string             `json:"from"`
	To            string             `json:"to"`
	HalfDay       bool               `json:"half_day"`
	DurationDays  decimal.Decimal    `json:"duration_days"`
	Status        string             `json:"status"`
	Justification string             `json:"justification,omitempty"`
	Attachments   []string           `json:"attachments,omitempty"`
	Flow          leave.ApprovalFlow `json:"flow"`
	CreatedAt     string             `json:"created_at"`
	UpdatedAt     string             `json:"updated_at"`
}

func toRequestDTO(r leave.LeaveRequest) RequestDTO {
	return RequestDTO{
		ID:            string(r.ID),
		EmployeeID:    string(r.EmployeeID),
		LeaveTypeID:   string(r.LeaveTypeID),
		From:          r.From.String(),
		To:            r.To.String(),
		HalfDay:       r.HalfDay,
		DurationDays:  r.DurationDays,
		Status:        string(r.Status),
		Justification: r.Justification,
		Attachments:   r.Attachments,
		Flow:          r.Flow,
		CreatedAt:     r.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     r.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toRequestDTOs(rs []leave.LeaveRequest) []RequestDTO {
	out := make([]RequestDTO, 0, len(rs))
	for _, r := range rs {
		out = append(out, toRequestDTO(r))
	}
	return out
}

// =============================================================================
// CATALOG
// =============================================================================

// LeaveTypeDTO renders a leave type with its latest policy.
type LeaveTypeDTO struct {
	factory.LeaveTypeSpec
	PolicyVersion int `json:"policy_version"`
}

// =============================================================================
// DELEGATIONS & ROUTING
// =============================================================================

type SetDelegationRequest struct {
	DelegatorID string `json:"delegator_id,omitempty"` // defaults to the caller
	DelegateID  string `json:"delegate_id"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Reason      string `json:"reason,omitempty"`
}

type DelegationDTO struct {
	ID          string  `json:"id"`
	DelegatorID string  `json:"delegator_id"`
	DelegateID  string  `json:"delegate_id"`
	Start       string  `json:"start"`
	End         string  `json:"end"`
	Reason      string  `json:"reason,omitempty"`
	CreatedAt   string  `json:"created_at"`
	RevokedAt   *string `json:"revoked_at,omitempty"`
}

func toDelegationDTO(d leave.Delegation) DelegationDTO {
	dto := DelegationDTO{
		ID:          string(d.ID),
		DelegatorID: string(d.DelegatorID),
		DelegateID:  string(d.DelegateID),
		Start:       d.Window.Start.String(),
		End:         d.Window.End.String(),
		Reason:      d.Reason,
		CreatedAt:   d.CreatedAt.UTC().Format(time.RFC3339),
	}
	if d.RevokedAt != nil {
		s := d.RevokedAt.UTC().Format(time.RFC3339)
		dto.RevokedAt = &s
	}
	return dto
}

type ApproverDTO struct {
	EmployeeID string `json:"employee_id"`
	Role       string `json:"role"`
	Date       string `json:"date"`
	ApproverID string `json:"approver_id"`
}

// =============================================================================
// CALENDAR
// =============================================================================

type HolidayDTO struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	Name      string `json:"name"`
	Recurring bool   `json:"recurring"`
}

type BlockPeriodDTO struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Start            string   `json:"start"`
	End              string   `json:"end"`
	ExemptLeaveTypes []string `json:"exempt_leave_types,omitempty"`
}

func toBlockPeriodDTO(b leave.BlockPeriod) BlockPeriodDTO {
	exempt := make([]string, 0, len(b.ExemptLeaveTypes))
	for _, id := range b.ExemptLeaveTypes {
		exempt = append(exempt, string(id))
	}
	return BlockPeriodDTO{
		ID:               b.ID,
		Name:             b.Name,
		Start:            b.Window.Start.String(),
		End:              b.Window.End.String(),
		ExemptLeaveTypes: exempt,
	}
}

// =============================================================================
// ADMIN
// =============================================================================

type AccrueRequest struct {
	EmployeeID  string `json:"employee_id"`
	LeaveTypeID string `json:"leave_type_id"`
	AsOf        string `json:"as_of,omitempty"` // defaults to today
}

type CarryForwardRequest struct {
	EmployeeID  string `json:"employee_id"`
	LeaveTypeID string `json:"leave_type_id"`
	FromYear    int    `json:"from_year"`
	ToYear      int    `json:"to_year"`
}

type GrantRequest struct {
	EmployeeID  string          `json:"employee_id"`
	LeaveTypeID string          `json:"leave_type_id"`
	Year        int             `json:"year"`
	Days        decimal.Decimal `json:"days"`
	Reason      string          `json:"reason"`
}

type AdjustRequest struct {
	EmployeeID  string          `json:"employee_id"`
	LeaveTypeID string          `json:"leave_type_id"`
	Year        int             `json:"year"`
	Amount      decimal.Decimal `json:"amount"`
	Direction   string          `json:"direction"` // ADD or DEDUCT
	Reason      string          `json:"reason"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func parseDate(field, s string) (generic.TimePoint, error) {
	if s == "" {
		return generic.TimePoint{}, &leave.ValidationError{Field: field, Message: "is required"}
	}
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}, &leave.ValidationError{Field: field, Message: err.Error()}
	}
	return tp, nil
}
