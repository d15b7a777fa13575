/*
store.go - Persistence interfaces for the leave engine

PURPOSE:
  Defines the interface between the engine and the database. Stores are
  dumb: they load and save rows and report generic.ErrNotFound,
  generic.ErrAlreadyExists and generic.ErrConcurrentModification. All
  business rules live in the leave package.

LOGICAL TABLES:
  leave_types         Append-only reference data
  leave_policies      Versioned, append-only
  leave_entitlements  Keyed by employee + leave type + year, versioned
  leave_requests      With the embedded ordered approval flow, versioned
  delegations
  ledger_movements    generic.Journal
  block_periods

VERSIONED WRITES:
  SaveEntitlement and SaveRequest are compare-and-swap on Version. The
  caller passes the version it loaded (0 for a new row); on success the
  store increments it in place. A mismatch is ErrConcurrentModification.

IMPLEMENTATIONS:
  - store/memory:   In-memory, snapshot + rollback transactions
  - store/sqlite:   mattn/go-sqlite3, WAL, immediate transactions
  - store/postgres: pgx, row locks inside transactions
*/
package leave

import (
	"context"

	"github.com/warp/leave-engine/generic"
)

// Catalog is the policy store.
type Catalog interface {
	GetLeaveType(ctx context.Context, id LeaveTypeID) (LeaveType, error)
	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)
	// SaveLeaveType inserts; an existing ID is generic.ErrAlreadyExists.
	SaveLeaveType(ctx context.Context, lt LeaveType) error

	// GetPolicy returns the latest policy version for a leave type.
	GetPolicy(ctx context.Context, id LeaveTypeID) (LeavePolicy, error)
	// SavePolicy appends a new version and returns it.
	SavePolicy(ctx context.Context, p LeavePolicy) (LeavePolicy, error)
}

type EntitlementStore interface {
	GetEntitlement(ctx context.Context, key EntitlementKey) (Entitlement, error)
	SaveEntitlement(ctx context.Context, e *Entitlement) error
	// ListEntitlements returns an employee's rows; year 0 means all years.
	ListEntitlements(ctx context.Context, employeeID EmployeeID, year int) ([]Entitlement, error)
}

type RequestFilter struct {
	EmployeeID EmployeeID
	Status     RequestStatus
}

type RequestStore interface {
	GetRequest(ctx context.Context, id RequestID) (LeaveRequest, error)
	SaveRequest(ctx context.Context, r *LeaveRequest) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]LeaveRequest, error)
}

type DelegationFilter struct {
	DelegatorID EmployeeID // empty = all delegators
}

type DelegationStore interface {
	GetDelegation(ctx context.Context, id DelegationID) (Delegation, error)
	// SaveDelegation inserts or replaces by ID.
	SaveDelegation(ctx context.Context, d Delegation) error
	ListDelegations(ctx context.Context, filter DelegationFilter) ([]Delegation, error)
	// LockDelegator serializes delegation writes for one delegator across
	// processes until the enclosing WithTx ends. Stores whose transactions
	// already exclude each other may treat it as a no-op.
	LockDelegator(ctx context.Context, delegatorID EmployeeID) error
}

type BlockPeriodStore interface {
	SaveBlockPeriod(ctx context.Context, b BlockPeriod) error
	// ListBlockPeriods returns the block periods overlapping window.
	ListBlockPeriods(ctx context.Context, window generic.Period) ([]BlockPeriod, error)
}

// Store is everything the engine persists.
type Store interface {
	Catalog
	EntitlementStore
	RequestStore
	DelegationStore
	BlockPeriodStore
	generic.Journal

	// WithTx runs fn atomically. Every write made through the Store passed
	// to fn is committed together or not at all.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// EmployeeLookup is the read side of an employee directory.
type EmployeeLookup interface {
	GetEmployee(ctx context.Context, id EmployeeID) (EmployeeProfile, error)
}

// EmployeeLister enumerates employees for batch jobs.
type EmployeeLister interface {
	ListEmployees(ctx context.Context) ([]EmployeeProfile, error)
}
