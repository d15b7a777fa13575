/*
handlers.go - HTTP API handlers for the leave engine

PURPOSE:
  Exposes the leave engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the leave package.

ENDPOINTS:
  Employees:
    GET    /api/employees                                 List (hr_admin)
    POST   /api/employees                                 Create or update (hr_admin)
    GET    /api/employees/{id}                            Profile
    GET    /api/employees/{id}/entitlements?year=         Balances
    GET    /api/employees/{id}/entitlements/{type}/history?year=
    GET    /api/employees/{id}/approvers/{role}?date=     Resolved approver

  Requests:
    POST   /api/requests                                  Create
    GET    /api/requests?employee_id=&status=             List
    GET    /api/requests/inbox                            Awaiting the caller
    GET    /api/requests/{id}                             Detail
    POST   /api/requests/{id}/approve                     Decide current step
    POST   /api/requests/{id}/reject
    POST   /api/requests/{id}/cancel                      Requester only

  Catalog, delegations, calendar: see server.go.

  Admin (hr_admin):
    POST   /api/admin/accrue
    POST   /api/admin/carry-forward
    POST   /api/admin/grant
    POST   /api/admin/adjust
    POST   /api/admin/scheduler/run

ACTING IDENTITY:
  The bearer token's subject is the actor handed to the engine. The engine
  does its own approval authorization; handlers only gate reads and the
  hr_admin-only surfaces.

ERROR HANDLING:
  writeDomainError maps the leave package's typed errors:
  - 400: ValidationError
  - 403: NotAuthorizedError
  - 404: Missing employee, leave type, policy, request, delegation
  - 409: Invalid state, concurrent modification, duplicate
  - 422: Business rule (balance, eligibility, notice, block period, ...)
  - 500: Everything else (logged)

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - auth.go: Bearer token verification
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/factory"
	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// EmployeeStore holds the employee directory records.
type EmployeeStore interface {
	leave.EmployeeLookup
	leave.EmployeeLister
	SaveEmployee(ctx context.Context, p leave.EmployeeProfile) error
}

// HolidayStore holds the holiday calendar.
type HolidayStore interface {
	generic.HolidayCalendar
	SaveHoliday(ctx context.Context, h generic.Holiday) error
}

// Backend is the store surface the HTTP host needs. store/memory,
// store/sqlite and store/postgres all satisfy it.
type Backend interface {
	leave.Store
	EmployeeStore
	HolidayStore
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *leave.Engine
	Store     Backend
	Scheduler *AccrualScheduler // optional

	logger *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(engine *leave.Engine, store Backend, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Engine: engine, Store: store, logger: logger.Named("api")}
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]EmployeeDTO, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, toEmployeeDTO(p))
	}
	writeJSON(w, http.StatusOK, out)
}

// SaveEmployee creates or replaces an employee profile.
func (h *Handler) SaveEmployee(w http.ResponseWriter, r *http.Request) {
	var req EmployeeDTO
	if !decode(w, r, &req) {
		return
	}
	p, err := req.profile()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.Store.SaveEmployee(r.Context(), p); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEmployeeDTO(p))
}

// GetEmployee returns one profile. Employees can read their own.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	id, ok := h.selfOrAdmin(w, r)
	if !ok {
		return
	}
	p, err := h.Store.GetEmployee(r.Context(), id)
	if errors.Is(err, generic.ErrNotFound) {
		err = leave.ErrEmployeeNotFound
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(p))
}

// GetEntitlements returns the employee's balances for one year.
func (h *Handler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	id, ok := h.selfOrAdmin(w, r)
	if !ok {
		return
	}
	year, ok := h.yearParam(w, r)
	if !ok {
		return
	}
	rows, err := h.Store.ListEntitlements(r.Context(), id, year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]EntitlementDTO, 0, len(rows))
	for _, e := range rows {
		out = append(out, toEntitlementDTO(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetHistory returns the journal behind one entitlement row.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.selfOrAdmin(w, r)
	if !ok {
		return
	}
	year, ok := h.yearParam(w, r)
	if !ok {
		return
	}
	key := leave.EntitlementKey{
		EmployeeID:  id,
		LeaveTypeID: leave.LeaveTypeID(chi.URLParam(r, "leaveTypeID")),
		Year:        year,
	}
	txs, err := h.Engine.Ledger.History(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// ResolveApprover answers who must act for a role on an employee's request.
func (h *Handler) ResolveApprover(w http.ResponseWriter, r *http.Request) {
	id, ok := h.selfOrAdmin(w, r)
	if !ok {
		return
	}
	var role leave.Role
	if err := role.UnmarshalText([]byte(chi.URLParam(r, "role"))); err != nil {
		h.writeDomainError(w, err)
		return
	}
	onDate, ok := h.dateParam(w, r, "date")
	if !ok {
		return
	}
	approver, err := h.Engine.Router.ResolveApprover(r.Context(), id, role, onDate)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ApproverDTO{
		EmployeeID: string(id),
		Role:       role.String(),
		Date:       onDate.String(),
		ApproverID: string(approver),
	})
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// CreateRequest submits a leave request. Only hr_admin may file on behalf of
// someone else.
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	caller := principal(r)
	var req CreateLeaveRequest
	if !decode(w, r, &req) {
		return
	}
	employeeID := caller.ID
	if req.EmployeeID != "" && leave.EmployeeID(req.EmployeeID) != caller.ID {
		if !caller.Admin {
			writeError(w, http.StatusForbidden, "cannot file a request for another employee", nil)
			return
		}
		employeeID = leave.EmployeeID(req.EmployeeID)
	}
	from, err := parseDate("from", req.From)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	to, err := parseDate("to", req.To)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	created, err := h.Engine.Create(r.Context(), leave.CreateRequest{
		EmployeeID:    employeeID,
		LeaveTypeID:   leave.LeaveTypeID(req.LeaveTypeID),
		From:          from,
		To:            to,
		HalfDay:       req.HalfDay,
		Justification: req.Justification,
		Attachments:   req.Attachments,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRequestDTO(created))
}

// ListRequests lists requests. Non-admins only see their own.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	caller := principal(r)
	filter := leave.RequestFilter{
		EmployeeID: leave.EmployeeID(r.URL.Query().Get("employee_id")),
		Status:     leave.RequestStatus(strings.ToUpper(r.URL.Query().Get("status"))),
	}
	if !caller.Admin {
		filter.EmployeeID = caller.ID
	}
	list, err := h.Store.ListRequests(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(list))
}

// Inbox lists the pending requests whose current step the caller must
// decide today, delegations included.
func (h *Handler) Inbox(w http.ResponseWriter, r *http.Request) {
	caller := principal(r)
	ctx := r.Context()
	pending, err := h.Store.ListRequests(ctx, leave.RequestFilter{Status: leave.StatusPending})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	today := h.Engine.Today()
	var mine []leave.LeaveRequest
	for _, req := range pending {
		step, ok := req.Flow.CurrentStep()
		if !ok {
			continue
		}
		approver, err := h.Engine.Router.ResolveApprover(ctx, req.EmployeeID, step.Role, today)
		if err != nil {
			h.logger.Warn("inbox: cannot resolve approver",
				zap.String("request_id", string(req.ID)),
				zap.Error(err))
			continue
		}
		if approver == caller.ID {
			mine = append(mine, req)
		}
	}
	writeJSON(w, http.StatusOK, toRequestDTOs(mine))
}

// GetRequest returns one request to its requester, an hr_admin, or anyone
// who has acted on or must act on it.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.Store.GetRequest(ctx, leave.RequestID(chi.URLParam(r, "id")))
	if errors.Is(err, generic.ErrNotFound) {
		err = leave.ErrRequestNotFound
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !h.canView(ctx, principal(r), req) {
		writeError(w, http.StatusForbidden, "not a party to this request", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, leave.DecisionApprove)
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, leave.DecisionReject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request, decision leave.Decision) {
	var req DecisionRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	updated, err := h.Engine.Advance(r.Context(),
		leave.RequestID(chi.URLParam(r, "id")), principal(r).ID, decision, req.Comment)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(updated))
}

// CancelRequest withdraws a pending request. Only the requester may cancel.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	updated, err := h.Engine.Cancel(r.Context(), leave.RequestID(chi.URLParam(r, "id")), principal(r).ID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(updated))
}

func (h *Handler) canView(ctx context.Context, p Principal, req leave.LeaveRequest) bool {
	if p.Admin || p.ID == req.EmployeeID {
		return true
	}
	for _, step := range req.Flow.Steps {
		if step.ActionBy == p.ID || step.OnBehalfOf == p.ID {
			return true
		}
	}
	step, ok := req.Flow.CurrentStep()
	if !ok {
		return false
	}
	approver, err := h.Engine.Router.ResolveApprover(ctx, req.EmployeeID, step.Role, h.Engine.Today())
	return err == nil && approver == p.ID
}

// =============================================================================
// CATALOG HANDLERS
// =============================================================================

// ListLeaveTypes returns every leave type with its latest policy.
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	types, err := h.Store.ListLeaveTypes(ctx)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]LeaveTypeDTO, 0, len(types))
	for _, lt := range types {
		p, err := h.Store.GetPolicy(ctx, lt.ID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		out = append(out, LeaveTypeDTO{LeaveTypeSpec: factory.SpecOf(lt, p), PolicyVersion: p.Version})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetLeaveType(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := leave.LeaveTypeID(chi.URLParam(r, "id"))
	lt, err := h.Store.GetLeaveType(ctx, id)
	if errors.Is(err, generic.ErrNotFound) {
		err = leave.ErrLeaveTypeNotFound
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	p, err := h.Store.GetPolicy(ctx, id)
	if errors.Is(err, generic.ErrNotFound) {
		err = &leave.PolicyNotFoundError{LeaveTypeID: id}
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LeaveTypeDTO{LeaveTypeSpec: factory.SpecOf(lt, p), PolicyVersion: p.Version})
}

// SaveLeaveType creates a leave type, or versions its policy when the type
// already exists.
func (h *Handler) SaveLeaveType(w http.ResponseWriter, r *http.Request) {
	var spec factory.LeaveTypeSpec
	if !decode(w, r, &spec) {
		return
	}
	catalog := factory.Catalog{LeaveTypes: []factory.LeaveTypeSpec{spec}}
	if err := catalog.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid leave type", err)
		return
	}
	res, err := catalog.Apply(r.Context(), h.Store)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.logger.Info("leave type saved",
		zap.String("leave_type_id", spec.ID),
		zap.Int("created", res.LeaveTypesCreated),
		zap.Int("policies", res.PoliciesSaved))

	status := http.StatusOK
	if res.LeaveTypesCreated > 0 {
		status = http.StatusCreated
	}
	p, err := h.Store.GetPolicy(r.Context(), leave.LeaveTypeID(spec.ID))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, status, LeaveTypeDTO{LeaveTypeSpec: spec, PolicyVersion: p.Version})
}

// =============================================================================
// DELEGATION HANDLERS
// =============================================================================

// SetDelegation hands the caller's approvals to a delegate for a window.
func (h *Handler) SetDelegation(w http.ResponseWriter, r *http.Request) {
	caller := principal(r)
	var req SetDelegationRequest
	if !decode(w, r, &req) {
		return
	}
	delegator := caller.ID
	if req.DelegatorID != "" && leave.EmployeeID(req.DelegatorID) != caller.ID {
		if !caller.Admin {
			writeError(w, http.StatusForbidden, "cannot delegate on behalf of another employee", nil)
			return
		}
		delegator = leave.EmployeeID(req.DelegatorID)
	}
	start, err := parseDate("start", req.Start)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	end, err := parseDate("end", req.End)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	d, err := h.Engine.Delegations.SetDelegation(r.Context(), delegator, leave.EmployeeID(req.DelegateID), start, end, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDelegationDTO(d))
}

// ListActiveDelegations returns the delegations active on ?date (default today).
func (h *Handler) ListActiveDelegations(w http.ResponseWriter, r *http.Request) {
	asOf, ok := h.dateParam(w, r, "date")
	if !ok {
		return
	}
	out := []DelegationDTO{}
	for d, err := range h.Engine.Delegations.GetActiveDelegations(r.Context(), asOf) {
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		out = append(out, toDelegationDTO(d))
	}
	writeJSON(w, http.StatusOK, out)
}

// RevokeDelegation ends a delegation. Only its delegator may revoke it.
func (h *Handler) RevokeDelegation(w http.ResponseWriter, r *http.Request) {
	d, err := h.Engine.Delegations.Revoke(r.Context(), leave.DelegationID(chi.URLParam(r, "id")), principal(r).ID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDelegationDTO(d))
}

// =============================================================================
// CALENDAR HANDLERS
// =============================================================================

func (h *Handler) ListHolidays(w http.ResponseWriter, r *http.Request) {
	year, ok := h.yearParam(w, r)
	if !ok {
		return
	}
	holidays, err := h.Store.Holidays(r.Context(), year)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]HolidayDTO, 0, len(holidays))
	for _, hol := range holidays {
		out = append(out, HolidayDTO{ID: hol.ID, Date: hol.Date.String(), Name: hol.Name, Recurring: hol.Recurring})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateHoliday(w http.ResponseWriter, r *http.Request) {
	var req HolidayDTO
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	hol := generic.Holiday{ID: req.ID, Date: date, Name: req.Name, Recurring: req.Recurring}
	if err := h.Store.SaveHoliday(r.Context(), hol); err != nil {
		h.writeDomainError(w, err)
		return
	}
	req.Date = date.String()
	writeJSON(w, http.StatusCreated, req)
}

// ListBlockPeriods returns block periods overlapping [?from, ?to], the
// current year by default.
func (h *Handler) ListBlockPeriods(w http.ResponseWriter, r *http.Request) {
	window := generic.YearPeriod(h.Engine.Today().Year())
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		from, err := parseDate("from", s)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		window.Start = from
	}
	if s := q.Get("to"); s != "" {
		to, err := parseDate("to", s)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		window.End = to
	}
	blocks, err := h.Store.ListBlockPeriods(r.Context(), window)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	out := make([]BlockPeriodDTO, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, toBlockPeriodDTO(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateBlockPeriod(w http.ResponseWriter, r *http.Request) {
	var req BlockPeriodDTO
	if !decode(w, r, &req) {
		return
	}
	start, err := parseDate("start", req.Start)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	end, err := parseDate("end", req.End)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	window, err := generic.NewPeriod(start, end)
	if err != nil {
		h.writeDomainError(w, &leave.ValidationError{Field: "end", Message: err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	b := leave.BlockPeriod{ID: req.ID, Name: req.Name, Window: window}
	for _, id := range req.ExemptLeaveTypes {
		b.ExemptLeaveTypes = append(b.ExemptLeaveTypes, leave.LeaveTypeID(id))
	}
	if err := h.Store.SaveBlockPeriod(r.Context(), b); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBlockPeriodDTO(b))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Accrue brings one entitlement up to ?as_of (default today).
func (h *Handler) Accrue(w http.ResponseWriter, r *http.Request) {
	var req AccrueRequest
	if !decode(w, r, &req) {
		return
	}
	asOf := h.Engine.Today()
	if req.AsOf != "" {
		var err error
		if asOf, err = parseDate("as_of", req.AsOf); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}
	e, err := h.Engine.Ledger.Accrue(r.Context(), leave.EmployeeID(req.EmployeeID), leave.LeaveTypeID(req.LeaveTypeID), asOf)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementDTO(e))
}

func (h *Handler) CarryForward(w http.ResponseWriter, r *http.Request) {
	var req CarryForwardRequest
	if !decode(w, r, &req) {
		return
	}
	e, err := h.Engine.Ledger.ApplyCarryForward(r.Context(),
		leave.EmployeeID(req.EmployeeID), leave.LeaveTypeID(req.LeaveTypeID), req.FromYear, req.ToYear)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementDTO(e))
}

func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if !decode(w, r, &req) {
		return
	}
	key := leave.EntitlementKey{EmployeeID: leave.EmployeeID(req.EmployeeID), LeaveTypeID: leave.LeaveTypeID(req.LeaveTypeID), Year: req.Year}
	if key.Year == 0 {
		key.Year = h.Engine.Today().Year()
	}
	e, err := h.Engine.Ledger.Grant(r.Context(), key, req.Days, req.Reason, principal(r).ID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementDTO(e))
}

// Adjust applies a manual correction. The caller is recorded as the actor.
func (h *Handler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req AdjustRequest
	if !decode(w, r, &req) {
		return
	}
	key := leave.EntitlementKey{EmployeeID: leave.EmployeeID(req.EmployeeID), LeaveTypeID: leave.LeaveTypeID(req.LeaveTypeID), Year: req.Year}
	if key.Year == 0 {
		key.Year = h.Engine.Today().Year()
	}
	e, err := h.Engine.Ledger.Adjust(r.Context(), key, leave.Adjustment{
		Amount:    req.Amount,
		Direction: leave.AdjustDirection(strings.ToUpper(req.Direction)),
		Reason:    req.Reason,
		ActorID:   principal(r).ID,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementDTO(e))
}

// RunScheduler runs one accrual pass synchronously.
func (h *Handler) RunScheduler(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not configured", nil)
		return
	}
	run, err := h.Scheduler.RunNow(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// =============================================================================
// HELPERS
// =============================================================================

// selfOrAdmin returns the {id} path parameter when the caller is that
// employee or an hr_admin.
func (h *Handler) selfOrAdmin(w http.ResponseWriter, r *http.Request) (leave.EmployeeID, bool) {
	id := leave.EmployeeID(chi.URLParam(r, "id"))
	if p := principal(r); !p.Admin && p.ID != id {
		writeError(w, http.StatusForbidden, "cannot access another employee", nil)
		return "", false
	}
	return id, true
}

func (h *Handler) yearParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("year")
	if s == "" {
		return h.Engine.Today().Year(), true
	}
	year, err := strconv.Atoi(s)
	if err != nil || year < 1 {
		writeError(w, http.StatusBadRequest, "invalid year", err)
		return 0, false
	}
	return year, true
}

func (h *Handler) dateParam(w http.ResponseWriter, r *http.Request, name string) (generic.TimePoint, bool) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return h.Engine.Today(), true
	}
	tp, err := parseDate(name, s)
	if err != nil {
		h.writeDomainError(w, err)
		return generic.TimePoint{}, false
	}
	return tp, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the leave package's error taxonomy to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	status := domainStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		writeError(w, status, "internal error", nil)
		return
	}
	writeError(w, status, http.StatusText(status), err)
}

var unprocessable = []error{
	leave.ErrInsufficientBalance,
	leave.ErrIneligible,
	leave.ErrNoticePeriod,
	leave.ErrBlockPeriod,
	leave.ErrInvalidAdjustment,
	leave.ErrOverlappingDelegation,
	leave.ErrNoApprover,
}

func domainStatus(err error) int {
	switch {
	case errors.Is(err, leave.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, leave.ErrNotAuthorized):
		return http.StatusForbidden
	case leave.IsNotFound(err):
		return http.StatusNotFound
	case leave.IsConflict(err):
		return http.StatusConflict
	case slices.ContainsFunc(unprocessable, func(target error) bool { return errors.Is(err, target) }):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
