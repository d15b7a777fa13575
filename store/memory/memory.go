// Package memory provides an in-memory leave.Store for tests and local runs.
package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store keeps every table in maps behind one RWMutex. WithTx holds the write
// lock for the whole transaction and rolls back to a snapshot on error.
type Store struct {
	mu   sync.RWMutex
	data *memoryData
}

var (
	_ leave.Store          = (*Store)(nil)
	_ leave.EmployeeLookup = (*Store)(nil)
	_ leave.EmployeeLister = (*Store)(nil)
)

func New() *Store {
	return &Store{data: newMemoryData()}
}

type memoryData struct {
	leaveTypes   map[leave.LeaveTypeID]leave.LeaveType
	policies     map[leave.LeaveTypeID][]leave.LeavePolicy
	entitlements map[leave.EntitlementKey]leave.Entitlement
	requests     map[leave.RequestID]leave.LeaveRequest
	delegations  map[leave.DelegationID]leave.Delegation
	blocks       map[string]leave.BlockPeriod
	movements    []generic.Transaction
	idempotency  map[string]bool
	employees    map[leave.EmployeeID]leave.EmployeeProfile
	holidays     map[string]generic.Holiday
}

func newMemoryData() *memoryData {
	return &memoryData{
		leaveTypes:   make(map[leave.LeaveTypeID]leave.LeaveType),
		policies:     make(map[leave.LeaveTypeID][]leave.LeavePolicy),
		entitlements: make(map[leave.EntitlementKey]leave.Entitlement),
		requests:     make(map[leave.RequestID]leave.LeaveRequest),
		delegations:  make(map[leave.DelegationID]leave.Delegation),
		blocks:       make(map[string]leave.BlockPeriod),
		idempotency:  make(map[string]bool),
		employees:    make(map[leave.EmployeeID]leave.EmployeeProfile),
		holidays:     make(map[string]generic.Holiday),
	}
}

// snapshot copies the maps. Stored values are already private copies, so a
// shallow copy of each map is enough.
func (d *memoryData) snapshot() *memoryData {
	policies := make(map[leave.LeaveTypeID][]leave.LeavePolicy, len(d.policies))
	for k, v := range d.policies {
		policies[k] = slices.Clone(v)
	}
	return &memoryData{
		leaveTypes:   maps.Clone(d.leaveTypes),
		policies:     policies,
		entitlements: maps.Clone(d.entitlements),
		requests:     maps.Clone(d.requests),
		delegations:  maps.Clone(d.delegations),
		blocks:       maps.Clone(d.blocks),
		movements:    slices.Clone(d.movements),
		idempotency:  maps.Clone(d.idempotency),
		employees:    maps.Clone(d.employees),
		holidays:     maps.Clone(d.holidays),
	}
}

// WithTx executes fn within a transaction.
// For the memory store, this is simulated with a snapshot + rollback on error.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.data.snapshot()
	if err := fn(&txView{data: s.data}); err != nil {
		s.data = saved
		return err
	}
	return nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (s *Store) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getLeaveType(id)
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listLeaveTypes(), nil
}

func (s *Store) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.saveLeaveType(lt)
}

func (s *Store) GetPolicy(ctx context.Context, id leave.LeaveTypeID) (leave.LeavePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getPolicy(id)
}

func (s *Store) SavePolicy(ctx context.Context, p leave.LeavePolicy) (leave.LeavePolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.savePolicy(p), nil
}

func (d *memoryData) getLeaveType(id leave.LeaveTypeID) (leave.LeaveType, error) {
	lt, ok := d.leaveTypes[id]
	if !ok {
		return leave.LeaveType{}, generic.ErrNotFound
	}
	return lt, nil
}

func (d *memoryData) listLeaveTypes() []leave.LeaveType {
	out := slices.Collect(maps.Values(d.leaveTypes))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d *memoryData) saveLeaveType(lt leave.LeaveType) error {
	if _, ok := d.leaveTypes[lt.ID]; ok {
		return generic.ErrAlreadyExists
	}
	if lt.CreatedAt.IsZero() {
		lt.CreatedAt = time.Now()
	}
	d.leaveTypes[lt.ID] = lt
	return nil
}

func (d *memoryData) getPolicy(id leave.LeaveTypeID) (leave.LeavePolicy, error) {
	versions := d.policies[id]
	if len(versions) == 0 {
		return leave.LeavePolicy{}, generic.ErrNotFound
	}
	return versions[len(versions)-1], nil
}

func (d *memoryData) savePolicy(p leave.LeavePolicy) leave.LeavePolicy {
	p.Version = len(d.policies[p.LeaveTypeID]) + 1
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	p.Eligibility.ContractTypesAllowed = slices.Clone(p.Eligibility.ContractTypesAllowed)
	d.policies[p.LeaveTypeID] = append(d.policies[p.LeaveTypeID], p)
	return p
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

func (s *Store) GetEntitlement(ctx context.Context, key leave.EntitlementKey) (leave.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getEntitlement(key)
}

func (s *Store) SaveEntitlement(ctx context.Context, e *leave.Entitlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.saveEntitlement(e)
}

func (s *Store) ListEntitlements(ctx context.Context, employeeID leave.EmployeeID, year int) ([]leave.Entitlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listEntitlements(employeeID, year), nil
}

func (d *memoryData) getEntitlement(key leave.EntitlementKey) (leave.Entitlement, error) {
	e, ok := d.entitlements[key]
	if !ok {
		return leave.Entitlement{}, generic.ErrNotFound
	}
	return e, nil
}

func (d *memoryData) saveEntitlement(e *leave.Entitlement) error {
	current, ok := d.entitlements[e.EntitlementKey]
	switch {
	case !ok && e.Version != 0:
		return generic.ErrConcurrentModification
	case ok && current.Version != e.Version:
		return generic.ErrConcurrentModification
	}
	e.Version++
	d.entitlements[e.EntitlementKey] = *e
	return nil
}

func (d *memoryData) listEntitlements(employeeID leave.EmployeeID, year int) []leave.Entitlement {
	var out []leave.Entitlement
	for k, e := range d.entitlements {
		if k.EmployeeID == employeeID && (year == 0 || k.Year == year) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].LeaveTypeID < out[j].LeaveTypeID
	})
	return out
}

// =============================================================================
// REQUESTS
// =============================================================================

func (s *Store) GetRequest(ctx context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getRequest(id)
}

func (s *Store) SaveRequest(ctx context.Context, r *leave.LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.saveRequest(r)
}

func (s *Store) ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listRequests(filter), nil
}

func (d *memoryData) getRequest(id leave.RequestID) (leave.LeaveRequest, error) {
	r, ok := d.requests[id]
	if !ok {
		return leave.LeaveRequest{}, generic.ErrNotFound
	}
	return cloneRequest(r), nil
}

func (d *memoryData) saveRequest(r *leave.LeaveRequest) error {
	current, ok := d.requests[r.ID]
	switch {
	case !ok && r.Version != 0:
		return generic.ErrConcurrentModification
	case ok && current.Version != r.Version:
		return generic.ErrConcurrentModification
	}
	r.Version++
	d.requests[r.ID] = cloneRequest(*r)
	return nil
}

func (d *memoryData) listRequests(filter leave.RequestFilter) []leave.LeaveRequest {
	var out []leave.LeaveRequest
	for _, r := range d.requests {
		if filter.EmployeeID != "" && r.EmployeeID != filter.EmployeeID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func cloneRequest(r leave.LeaveRequest) leave.LeaveRequest {
	r.Attachments = slices.Clone(r.Attachments)
	steps := make([]leave.ApprovalStep, len(r.Flow.Steps))
	for i, s := range r.Flow.Steps {
		if s.ActedAt != nil {
			at := *s.ActedAt
			s.ActedAt = &at
		}
		steps[i] = s
	}
	r.Flow.Steps = steps
	return r
}

// =============================================================================
// DELEGATIONS
// =============================================================================

func (s *Store) GetDelegation(ctx context.Context, id leave.DelegationID) (leave.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.getDelegation(id)
}

func (s *Store) SaveDelegation(ctx context.Context, d leave.Delegation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.saveDelegation(d)
	return nil
}

func (s *Store) ListDelegations(ctx context.Context, filter leave.DelegationFilter) ([]leave.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listDelegations(filter), nil
}

func (d *memoryData) getDelegation(id leave.DelegationID) (leave.Delegation, error) {
	del, ok := d.delegations[id]
	if !ok {
		return leave.Delegation{}, generic.ErrNotFound
	}
	return cloneDelegation(del), nil
}

func (d *memoryData) saveDelegation(del leave.Delegation) {
	d.delegations[del.ID] = cloneDelegation(del)
}

func (d *memoryData) listDelegations(filter leave.DelegationFilter) []leave.Delegation {
	var out []leave.Delegation
	for _, del := range d.delegations {
		if filter.DelegatorID != "" && del.DelegatorID != filter.DelegatorID {
			continue
		}
		out = append(out, cloneDelegation(del))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Window.Start.Before(out[j].Window.Start) })
	return out
}

func cloneDelegation(d leave.Delegation) leave.Delegation {
	if d.RevokedAt != nil {
		at := *d.RevokedAt
		d.RevokedAt = &at
	}
	return d
}

// =============================================================================
// BLOCK PERIODS
// =============================================================================

func (s *Store) SaveBlockPeriod(ctx context.Context, b leave.BlockPeriod) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.saveBlockPeriod(b)
	return nil
}

func (s *Store) ListBlockPeriods(ctx context.Context, window generic.Period) ([]leave.BlockPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.listBlockPeriods(window), nil
}

func (d *memoryData) saveBlockPeriod(b leave.BlockPeriod) {
	b.ExemptLeaveTypes = slices.Clone(b.ExemptLeaveTypes)
	d.blocks[b.ID] = b
}

func (d *memoryData) listBlockPeriods(window generic.Period) []leave.BlockPeriod {
	var out []leave.BlockPeriod
	for _, b := range d.blocks {
		if b.Window.Overlaps(window) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Window.Start.Before(out[j].Window.Start) })
	return out
}

// =============================================================================
// JOURNAL (generic.Journal)
// =============================================================================

// Append adds movements atomically. Append-only.
func (s *Store) Append(ctx context.Context, txs ...generic.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.append(txs)
}

func (s *Store) Transactions(ctx context.Context, entityID generic.EntityID, policyID generic.PolicyID, year int) ([]generic.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.transactions(entityID, policyID, year), nil
}

func (d *memoryData) append(txs []generic.Transaction) error {
	// Check all idempotency keys first (atomic check)
	seen := make(map[string]bool)
	for _, tx := range txs {
		if tx.IdempotencyKey == "" {
			continue
		}
		if d.idempotency[tx.IdempotencyKey] || seen[tx.IdempotencyKey] {
			return generic.ErrDuplicateIdempotencyKey
		}
		seen[tx.IdempotencyKey] = true
	}
	for _, tx := range txs {
		tx.Metadata = maps.Clone(tx.Metadata)
		d.movements = append(d.movements, tx)
		if tx.IdempotencyKey != "" {
			d.idempotency[tx.IdempotencyKey] = true
		}
	}
	return nil
}

func (d *memoryData) transactions(entityID generic.EntityID, policyID generic.PolicyID, year int) []generic.Transaction {
	var out []generic.Transaction
	for _, tx := range d.movements {
		if tx.EntityID == entityID && tx.PolicyID == policyID && tx.PeriodYear == year {
			out = append(out, tx)
		}
	}
	return out
}

// =============================================================================
// DIRECTORY AND HOLIDAYS
// =============================================================================

// SaveEmployee inserts or replaces an employee profile.
func (s *Store) SaveEmployee(ctx context.Context, p leave.EmployeeProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.employees[p.ID] = p
	return nil
}

func (s *Store) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.EmployeeProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.employees[id]
	if !ok {
		return leave.EmployeeProfile{}, generic.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListEmployees(ctx context.Context) ([]leave.EmployeeProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Collect(maps.Values(s.data.employees))
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.holidays[h.ID] = h
	return nil
}

// Holidays implements generic.HolidayCalendar.
func (s *Store) Holidays(ctx context.Context, year int) ([]generic.Holiday, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []generic.Holiday
	for _, h := range s.data.holidays {
		switch {
		case h.Recurring:
			h.Date = generic.NewTimePoint(year, h.Date.Month(), h.Date.Day())
			out = append(out, h)
		case h.Date.Year() == year:
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// =============================================================================
// TRANSACTION VIEW
// =============================================================================

// txView is the Store handed to WithTx callbacks. The parent's write lock is
// already held, so it touches the data directly.
type txView struct {
	data *memoryData
}

func (v *txView) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	return fn(v)
}

func (v *txView) GetLeaveType(_ context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	return v.data.getLeaveType(id)
}

func (v *txView) ListLeaveTypes(context.Context) ([]leave.LeaveType, error) {
	return v.data.listLeaveTypes(), nil
}

func (v *txView) SaveLeaveType(_ context.Context, lt leave.LeaveType) error {
	return v.data.saveLeaveType(lt)
}

func (v *txView) GetPolicy(_ context.Context, id leave.LeaveTypeID) (leave.LeavePolicy, error) {
	return v.data.getPolicy(id)
}

func (v *txView) SavePolicy(_ context.Context, p leave.LeavePolicy) (leave.LeavePolicy, error) {
	return v.data.savePolicy(p), nil
}

func (v *txView) GetEntitlement(_ context.Context, key leave.EntitlementKey) (leave.Entitlement, error) {
	return v.data.getEntitlement(key)
}

func (v *txView) SaveEntitlement(_ context.Context, e *leave.Entitlement) error {
	return v.data.saveEntitlement(e)
}

func (v *txView) ListEntitlements(_ context.Context, employeeID leave.EmployeeID, year int) ([]leave.Entitlement, error) {
	return v.data.listEntitlements(employeeID, year), nil
}

func (v *txView) GetRequest(_ context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	return v.data.getRequest(id)
}

func (v *txView) SaveRequest(_ context.Context, r *leave.LeaveRequest) error {
	return v.data.saveRequest(r)
}

func (v *txView) ListRequests(_ context.Context, filter leave.RequestFilter) ([]leave.LeaveRequest, error) {
	return v.data.listRequests(filter), nil
}

func (v *txView) GetDelegation(_ context.Context, id leave.DelegationID) (leave.Delegation, error) {
	return v.data.getDelegation(id)
}

// LockDelegator is a no-op: WithTx holds the store mutex throughout.
func (v *txView) LockDelegator(context.Context, leave.EmployeeID) error { return nil }

func (s *Store) LockDelegator(context.Context, leave.EmployeeID) error { return nil }

func (v *txView) SaveDelegation(_ context.Context, d leave.Delegation) error {
	v.data.saveDelegation(d)
	return nil
}

func (v *txView) ListDelegations(_ context.Context, filter leave.DelegationFilter) ([]leave.Delegation, error) {
	return v.data.listDelegations(filter), nil
}

func (v *txView) SaveBlockPeriod(_ context.Context, b leave.BlockPeriod) error {
	v.data.saveBlockPeriod(b)
	return nil
}

func (v *txView) ListBlockPeriods(_ context.Context, window generic.Period) ([]leave.BlockPeriod, error) {
	return v.data.listBlockPeriods(window), nil
}

func (v *txView) Append(_ context.Context, txs ...generic.Transaction) error {
	return v.data.append(txs)
}

func (v *txView) Transactions(_ context.Context, entityID generic.EntityID, policyID generic.PolicyID, year int) ([]generic.Transaction, error) {
	return v.data.transactions(entityID, policyID, year), nil
}
