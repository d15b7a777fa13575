/*
Package postgres provides a PostgreSQL-backed implementation of leave.Store.

PURPOSE:
  Production storage. Same tables and semantics as store/sqlite, with
  native NUMERIC, DATE and JSONB columns.

CONCURRENCY:
  Versioned rows use the same compare-and-swap UPDATE as SQLite. Inside
  WithTx, entitlement and request reads take a row lock (SELECT ... FOR
  UPDATE) so concurrent engine instances serialize on the row instead of
  retrying. Delegation writes take a per-delegator advisory lock
  (pg_advisory_xact_lock) since a new delegation has no row to lock yet.

SEE ALSO:
  - leave/store.go: Interface definitions
  - store/sqlite: Embedded implementation with the same schema
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	conn
	pool *pgxpool.Pool
}

var (
	_ leave.Store             = (*Store)(nil)
	_ leave.EmployeeLookup    = (*Store)(nil)
	_ leave.EmployeeLister    = (*Store)(nil)
	_ generic.HolidayCalendar = (*Store)(nil)
)

type conn struct {
	q         querier
	forUpdate string // row-lock suffix for reads inside a transaction
}

// New connects to databaseURL and migrates the schema. maxConns <= 0 keeps
// the pgxpool default.
func New(ctx context.Context, databaseURL string, maxConns int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{conn: conn{q: pool}, pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Truncate empties every table. Test databases only.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE leave_policies, leave_types, leave_entitlements, leave_requests,
		delegations, block_periods, ledger_movements, employees, holidays`)
	return err
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS leave_types (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL,
	paid BOOLEAN NOT NULL,
	deductible BOOLEAN NOT NULL,
	requires_attachment BOOLEAN NOT NULL,
	allow_half_day BOOLEAN NOT NULL,
	gender TEXT NOT NULL DEFAULT '',
	max_duration_days INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS leave_policies (
	leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
	version INTEGER NOT NULL,
	accrual_method TEXT NOT NULL,
	monthly_rate NUMERIC NOT NULL,
	yearly_rate NUMERIC NOT NULL,
	carry_forward_allowed BOOLEAN NOT NULL,
	max_carry_forward NUMERIC,
	rounding_rule TEXT NOT NULL,
	min_notice_days INTEGER NOT NULL,
	max_consecutive_days INTEGER NOT NULL,
	min_tenure_months INTEGER NOT NULL,
	contract_types JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (leave_type_id, version)
);

CREATE TABLE IF NOT EXISTS leave_entitlements (
	employee_id TEXT NOT NULL,
	leave_type_id TEXT NOT NULL,
	year INTEGER NOT NULL,
	yearly_entitlement NUMERIC NOT NULL,
	carry_forward NUMERIC NOT NULL,
	accrued_actual NUMERIC NOT NULL,
	adjusted NUMERIC NOT NULL,
	accrued_rounded NUMERIC NOT NULL,
	taken NUMERIC NOT NULL,
	pending NUMERIC NOT NULL,
	remaining NUMERIC NOT NULL,
	last_accrual_date DATE,
	carry_forward_applied BOOLEAN NOT NULL DEFAULT FALSE,
	version BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (employee_id, leave_type_id, year)
);

CREATE TABLE IF NOT EXISTS leave_requests (
	id TEXT PRIMARY KEY,
	employee_id TEXT NOT NULL,
	leave_type_id TEXT NOT NULL,
	from_date DATE NOT NULL,
	to_date DATE NOT NULL,
	half_day BOOLEAN NOT NULL,
	duration_days NUMERIC NOT NULL,
	status TEXT NOT NULL,
	justification TEXT NOT NULL DEFAULT '',
	attachments JSONB NOT NULL,
	flow JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	version BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leave_requests_employee ON leave_requests(employee_id, created_at);
CREATE INDEX IF NOT EXISTS idx_leave_requests_status ON leave_requests(status);

CREATE TABLE IF NOT EXISTS delegations (
	id TEXT PRIMARY KEY,
	delegator_id TEXT NOT NULL,
	delegate_id TEXT NOT NULL,
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_delegations_delegator ON delegations(delegator_id, start_date);

CREATE TABLE IF NOT EXISTS block_periods (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	start_date DATE NOT NULL,
	end_date DATE NOT NULL,
	exempt_leave_types JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS ledger_movements (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	employee_id TEXT NOT NULL,
	leave_type_id TEXT NOT NULL,
	period_year INTEGER NOT NULL,
	effective_at DATE NOT NULL,
	delta_value NUMERIC NOT NULL,
	delta_unit TEXT NOT NULL,
	tx_type TEXT NOT NULL,
	reference_id TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT UNIQUE,
	metadata JSONB,
	created_by TEXT NOT NULL DEFAULT '',
	created_by_type TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_movements_row ON ledger_movements(employee_id, leave_type_id, period_year);

CREATE TABLE IF NOT EXISTS employees (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT NOT NULL DEFAULT '',
	hire_date DATE,
	gender TEXT NOT NULL DEFAULT '',
	contract_type TEXT NOT NULL DEFAULT '',
	manager_id TEXT NOT NULL DEFAULT '',
	hr_admin_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS holidays (
	id TEXT PRIMARY KEY,
	date DATE NOT NULL,
	name TEXT NOT NULL,
	recurring BOOLEAN NOT NULL DEFAULT FALSE
);
`

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&txStore{conn: conn{q: tx, forUpdate: " FOR UPDATE"}}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type txStore struct {
	conn
}

func (ts *txStore) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	return fn(ts)
}

// =============================================================================
// CATALOG
// =============================================================================

const leaveTypeColumns = `id, name, category, paid, deductible, requires_attachment, allow_half_day,
	gender, max_duration_days, created_at`

func (c conn) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	row := c.q.QueryRow(ctx, `SELECT `+leaveTypeColumns+` FROM leave_types WHERE id = $1`, id)
	lt, err := scanLeaveType(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.LeaveType{}, generic.ErrNotFound
	}
	return lt, err
}

func (c conn) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	rows, err := c.q.Query(ctx, `SELECT `+leaveTypeColumns+` FROM leave_types ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (leave.LeaveType, error) {
		return scanLeaveType(r)
	})
}

func (c conn) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	if lt.CreatedAt.IsZero() {
		lt.CreatedAt = time.Now()
	}
	_, err := c.q.Exec(ctx, `INSERT INTO leave_types (`+leaveTypeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		lt.ID, lt.Name, lt.Category, lt.Paid, lt.Deductible, lt.RequiresAttachment, lt.AllowHalfDay,
		lt.Gender, lt.MaxDurationDays, lt.CreatedAt)
	if isUniqueViolation(err) {
		return generic.ErrAlreadyExists
	}
	return err
}

func (c conn) GetPolicy(ctx context.Context, id leave.LeaveTypeID) (leave.LeavePolicy, error) {
	var (
		p               leave.LeavePolicy
		monthly, yearly string
		maxCarry        *string
		contracts       []byte
	)
	err := c.q.QueryRow(ctx, `
		SELECT leave_type_id, version, accrual_method, monthly_rate::text, yearly_rate::text,
		       carry_forward_allowed, max_carry_forward::text, rounding_rule, min_notice_days,
		       max_consecutive_days, min_tenure_months, contract_types, created_at
		FROM leave_policies WHERE leave_type_id = $1
		ORDER BY version DESC LIMIT 1`, id).Scan(
		&p.LeaveTypeID, &p.Version, &p.AccrualMethod, &monthly, &yearly,
		&p.CarryForwardAllowed, &maxCarry, &p.RoundingRule, &p.MinNoticeDays,
		&p.MaxConsecutiveDays, &p.Eligibility.MinTenureMonths, &contracts, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.LeavePolicy{}, generic.ErrNotFound
	}
	if err != nil {
		return leave.LeavePolicy{}, fmt.Errorf("scan policy %s: %w", id, err)
	}
	if p.MonthlyRate, err = decimal.NewFromString(monthly); err != nil {
		return leave.LeavePolicy{}, err
	}
	if p.YearlyRate, err = decimal.NewFromString(yearly); err != nil {
		return leave.LeavePolicy{}, err
	}
	if maxCarry != nil {
		d, err := decimal.NewFromString(*maxCarry)
		if err != nil {
			return leave.LeavePolicy{}, err
		}
		p.MaxCarryForward = &d
	}
	if err := json.Unmarshal(contracts, &p.Eligibility.ContractTypesAllowed); err != nil {
		return leave.LeavePolicy{}, fmt.Errorf("decode contract types of %s: %w", id, err)
	}
	return p, nil
}

func (c conn) SavePolicy(ctx context.Context, p leave.LeavePolicy) (leave.LeavePolicy, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	contracts, err := json.Marshal(nonNil(p.Eligibility.ContractTypesAllowed))
	if err != nil {
		return leave.LeavePolicy{}, err
	}
	var maxCarry *string
	if p.MaxCarryForward != nil {
		s := p.MaxCarryForward.String()
		maxCarry = &s
	}
	err = c.q.QueryRow(ctx, `
		INSERT INTO leave_policies
		(leave_type_id, version, accrual_method, monthly_rate, yearly_rate, carry_forward_allowed,
		 max_carry_forward, rounding_rule, min_notice_days, max_consecutive_days, min_tenure_months,
		 contract_types, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, $3::numeric, $4::numeric, $5,
		       $6::numeric, $7, $8, $9, $10, $11, $12
		FROM leave_policies WHERE leave_type_id = $1
		RETURNING version`,
		p.LeaveTypeID, p.AccrualMethod, p.MonthlyRate.String(), p.YearlyRate.String(), p.CarryForwardAllowed,
		maxCarry, p.RoundingRule, p.MinNoticeDays, p.MaxConsecutiveDays, p.Eligibility.MinTenureMonths,
		contracts, p.CreatedAt,
	).Scan(&p.Version)
	if err != nil {
		return leave.LeavePolicy{}, fmt.Errorf("save policy: %w", err)
	}
	return p, nil
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

const entitlementSelect = `
	SELECT employee_id, leave_type_id, year, yearly_entitlement::text, carry_forward::text,
	       accrued_actual::text, adjusted::text, accrued_rounded::text, taken::text, pending::text,
	       remaining::text, last_accrual_date, carry_forward_applied, version, updated_at
	FROM leave_entitlements`

func (c conn) GetEntitlement(ctx context.Context, key leave.EntitlementKey) (leave.Entitlement, error) {
	row := c.q.QueryRow(ctx, entitlementSelect+`
		WHERE employee_id = $1 AND leave_type_id = $2 AND year = $3`+c.forUpdate,
		key.EmployeeID, key.LeaveTypeID, key.Year)
	e, err := scanEntitlement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.Entitlement{}, generic.ErrNotFound
	}
	return e, err
}

func (c conn) SaveEntitlement(ctx context.Context, e *leave.Entitlement) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if e.Version == 0 {
		tag, err = c.q.Exec(ctx, `
			INSERT INTO leave_entitlements
			(employee_id, leave_type_id, year, yearly_entitlement, carry_forward, accrued_actual,
			 adjusted, accrued_rounded, taken, pending, remaining, last_accrual_date,
			 carry_forward_applied, version, updated_at)
			VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric, $8::numeric,
			        $9::numeric, $10::numeric, $11::numeric, $12, $13, 1, $14)`,
			e.EmployeeID, e.LeaveTypeID, e.Year, e.YearlyEntitlement.String(), e.CarryForward.String(),
			e.AccruedActual.String(), e.Adjusted.String(), e.AccruedRounded.String(), e.Taken.String(),
			e.Pending.String(), e.Remaining.String(), dateOrNil(e.LastAccrualDate),
			e.CarryForwardApplied, e.UpdatedAt)
		if isUniqueViolation(err) {
			return generic.ErrConcurrentModification
		}
	} else {
		tag, err = c.q.Exec(ctx, `
			UPDATE leave_entitlements SET
				yearly_entitlement = $1::numeric, carry_forward = $2::numeric,
				accrued_actual = $3::numeric, adjusted = $4::numeric, accrued_rounded = $5::numeric,
				taken = $6::numeric, pending = $7::numeric, remaining = $8::numeric,
				last_accrual_date = $9, carry_forward_applied = $10,
				version = version + 1, updated_at = $11
			WHERE employee_id = $12 AND leave_type_id = $13 AND year = $14 AND version = $15`,
			e.YearlyEntitlement.String(), e.CarryForward.String(), e.AccruedActual.String(),
			e.Adjusted.String(), e.AccruedRounded.String(), e.Taken.String(), e.Pending.String(),
			e.Remaining.String(), dateOrNil(e.LastAccrualDate), e.CarryForwardApplied, e.UpdatedAt,
			e.EmployeeID, e.LeaveTypeID, e.Year, e.Version)
	}
	if err := checkSingleRow(tag, err); err != nil {
		return err
	}
	e.Version++
	return nil
}

func (c conn) ListEntitlements(ctx context.Context, employeeID leave.EmployeeID, year int) ([]leave.Entitlement, error) {
	rows, err := c.q.Query(ctx, entitlementSelect+`
		WHERE employee_id = $1 AND ($2 = 0 OR year = $2)
		ORDER BY year, leave_type_id`, employeeID, year)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (leave.Entitlement, error) {
		return scanEntitlement(r)
	})
}

// =============================================================================
// REQUESTS
// =============================================================================

const requestSelect = `
	SELECT id, employee_id, leave_type_id, from_date, to_date, half_day, duration_days::text,
	       status, justification, attachments, flow, created_at, updated_at, version
	FROM leave_requests`

func (c conn) GetRequest(ctx context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	row := c.q.QueryRow(ctx, requestSelect+` WHERE id = $1`+c.forUpdate, id)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.LeaveRequest{}, generic.ErrNotFound
	}
	return r, err
}

func (c conn) SaveRequest(ctx context.Context, r *leave.LeaveRequest) error {
	attachments, err := json.Marshal(nonNil(r.Attachments))
	if err != nil {
		return err
	}
	flow, err := json.Marshal(r.Flow)
	if err != nil {
		return err
	}

	var tag pgconn.CommandTag
	if r.Version == 0 {
		tag, err = c.q.Exec(ctx, `
			INSERT INTO leave_requests
			(id, employee_id, leave_type_id, from_date, to_date, half_day, duration_days, status,
			 justification, attachments, flow, created_at, updated_at, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10, $11, $12, $13, 1)`,
			r.ID, r.EmployeeID, r.LeaveTypeID, r.From.Time, r.To.Time, r.HalfDay,
			r.DurationDays.String(), r.Status, r.Justification, attachments, flow,
			r.CreatedAt, r.UpdatedAt)
		if isUniqueViolation(err) {
			return generic.ErrConcurrentModification
		}
	} else {
		tag, err = c.q.Exec(ctx, `
			UPDATE leave_requests SET
				status = $1, justification = $2, attachments = $3, flow = $4,
				updated_at = $5, version = version + 1
			WHERE id = $6 AND version = $7`,
			r.Status, r.Justification, attachments, flow, r.UpdatedAt, r.ID, r.Version)
	}
	if err := checkSingleRow(tag, err); err != nil {
		return err
	}
	r.Version++
	return nil
}

func (c conn) ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.LeaveRequest, error) {
	rows, err := c.q.Query(ctx, requestSelect+`
		WHERE ($1 = '' OR employee_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at`, string(filter.EmployeeID), string(filter.Status))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (leave.LeaveRequest, error) {
		return scanRequest(r)
	})
}

// =============================================================================
// DELEGATIONS
// =============================================================================

const delegationSelect = `
	SELECT id, delegator_id, delegate_id, start_date, end_date, reason, created_at, revoked_at
	FROM delegations`

func (c conn) GetDelegation(ctx context.Context, id leave.DelegationID) (leave.Delegation, error) {
	d, err := scanDelegation(c.q.QueryRow(ctx, delegationSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.Delegation{}, generic.ErrNotFound
	}
	return d, err
}

// LockDelegator takes a transaction-scoped advisory lock keyed on the
// delegator. Outside WithTx there is no transaction to hold it.
func (c conn) LockDelegator(ctx context.Context, delegatorID leave.EmployeeID) error {
	if c.forUpdate == "" {
		return nil
	}
	if _, err := c.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('delegator:' || $1::text))`, string(delegatorID)); err != nil {
		return fmt.Errorf("lock delegator %s: %w", delegatorID, err)
	}
	return nil
}

func (c conn) SaveDelegation(ctx context.Context, d leave.Delegation) error {
	_, err := c.q.Exec(ctx, `
		INSERT INTO delegations (id, delegator_id, delegate_id, start_date, end_date, reason, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			delegate_id = EXCLUDED.delegate_id,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			reason = EXCLUDED.reason,
			revoked_at = EXCLUDED.revoked_at`,
		d.ID, d.DelegatorID, d.DelegateID, d.Window.Start.Time, d.Window.End.Time, d.Reason,
		d.CreatedAt, d.RevokedAt)
	return err
}

func (c conn) ListDelegations(ctx context.Context, filter leave.DelegationFilter) ([]leave.Delegation, error) {
	rows, err := c.q.Query(ctx, delegationSelect+`
		WHERE ($1 = '' OR delegator_id = $1)
		ORDER BY start_date`, string(filter.DelegatorID))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (leave.Delegation, error) {
		return scanDelegation(r)
	})
}

// =============================================================================
// BLOCK PERIODS
// =============================================================================

func (c conn) SaveBlockPeriod(ctx context.Context, b leave.BlockPeriod) error {
	exempt, err := json.Marshal(nonNil(b.ExemptLeaveTypes))
	if err != nil {
		return err
	}
	_, err = c.q.Exec(ctx, `
		INSERT INTO block_periods (id, name, start_date, end_date, exempt_leave_types)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			exempt_leave_types = EXCLUDED.exempt_leave_types`,
		b.ID, b.Name, b.Window.Start.Time, b.Window.End.Time, exempt)
	return err
}

func (c conn) ListBlockPeriods(ctx context.Context, window generic.Period) ([]leave.BlockPeriod, error) {
	rows, err := c.q.Query(ctx, `
		SELECT id, name, start_date, end_date, exempt_leave_types
		FROM block_periods
		WHERE start_date <= $1 AND end_date >= $2
		ORDER BY start_date`, window.End.Time, window.Start.Time)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (leave.BlockPeriod, error) {
		var (
			b          leave.BlockPeriod
			start, end time.Time
			exempt     []byte
		)
		if err := r.Scan(&b.ID, &b.Name, &start, &end, &exempt); err != nil {
			return leave.BlockPeriod{}, err
		}
		b.Window = generic.Period{Start: generic.FromTime(start), End: generic.FromTime(end)}
		return b, json.Unmarshal(exempt, &b.ExemptLeaveTypes)
	})
}

// =============================================================================
// JOURNAL (generic.Journal)
// =============================================================================

// Append adds movements in one transaction.
func (s *Store) Append(ctx context.Context, txs ...generic.Transaction) error {
	return s.WithTx(ctx, func(tx leave.Store) error {
		return tx.Append(ctx, txs...)
	})
}

func (c conn) Append(ctx context.Context, txs ...generic.Transaction) error {
	for _, tx := range txs {
		var metadata []byte
		if len(tx.Metadata) > 0 {
			var err error
			if metadata, err = json.Marshal(tx.Metadata); err != nil {
				return err
			}
		}
		_, err := c.q.Exec(ctx, `
			INSERT INTO ledger_movements
			(id, employee_id, leave_type_id, period_year, effective_at, delta_value, delta_unit,
			 tx_type, reference_id, reason, idempotency_key, metadata, created_by, created_by_type,
			 created_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			tx.ID, tx.EntityID, tx.PolicyID, tx.PeriodYear, tx.EffectiveAt.Time,
			tx.Delta.Value.String(), tx.Delta.Unit, tx.Type, tx.ReferenceID, tx.Reason,
			textOrNil(tx.IdempotencyKey), metadata, tx.CreatedBy, tx.CreatedByType, tx.CreatedAt)
		if isUniqueViolation(err) {
			return generic.ErrDuplicateIdempotencyKey
		}
		if err != nil {
			return fmt.Errorf("append movement: %w", err)
		}
	}
	return nil
}

func (c conn) Transactions(ctx context.Context, entityID generic.EntityID, policyID generic.PolicyID, year int) ([]generic.Transaction, error) {
	rows, err := c.q.Query(ctx, `
		SELECT id, employee_id, leave_type_id, period_year, effective_at, delta_value::text,
		       delta_unit, tx_type, reference_id, reason, COALESCE(idempotency_key, ''), metadata,
		       created_by, created_by_type, created_at
		FROM ledger_movements
		WHERE employee_id = $1 AND leave_type_id = $2 AND period_year = $3
		ORDER BY seq`, entityID, policyID, year)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (generic.Transaction, error) {
		var (
			tx        generic.Transaction
			effective time.Time
			delta     string
			metadata  []byte
		)
		err := r.Scan(&tx.ID, &tx.EntityID, &tx.PolicyID, &tx.PeriodYear, &effective, &delta,
			&tx.Delta.Unit, &tx.Type, &tx.ReferenceID, &tx.Reason, &tx.IdempotencyKey, &metadata,
			&tx.CreatedBy, &tx.CreatedByType, &tx.CreatedAt)
		if err != nil {
			return generic.Transaction{}, err
		}
		tx.EffectiveAt = generic.FromTime(effective)
		if tx.Delta.Value, err = decimal.NewFromString(delta); err != nil {
			return generic.Transaction{}, err
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
				return generic.Transaction{}, err
			}
		}
		return tx, nil
	})
}

// =============================================================================
// EMPLOYEES AND HOLIDAYS
// =============================================================================

func (s *Store) SaveEmployee(ctx context.Context, p leave.EmployeeProfile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (id, name, email, hire_date, gender, contract_type, manager_id, hr_admin_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			hire_date = EXCLUDED.hire_date,
			gender = EXCLUDED.gender,
			contract_type = EXCLUDED.contract_type,
			manager_id = EXCLUDED.manager_id,
			hr_admin_id = EXCLUDED.hr_admin_id`,
		p.ID, p.Name, p.Email, dateOrNil(p.HireDate), p.Gender, p.ContractType, p.ManagerID, p.HRAdminID)
	return err
}

const employeeSelect = `
	SELECT id, name, email, hire_date, gender, contract_type, manager_id, hr_admin_id
	FROM employees`

func (s *Store) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.EmployeeProfile, error) {
	p, err := scanEmployee(s.pool.QueryRow(ctx, employeeSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return leave.EmployeeProfile{}, generic.ErrNotFound
	}
	return p, err
}

func (s *Store) ListEmployees(ctx context.Context) ([]leave.EmployeeProfile, error) {
	rows, err := s.pool.Query(ctx, employeeSelect+` ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (leave.EmployeeProfile, error) {
		return scanEmployee(r)
	})
}

func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO holidays (id, date, name, recurring) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			date = EXCLUDED.date, name = EXCLUDED.name, recurring = EXCLUDED.recurring`,
		h.ID, h.Date.Time, h.Name, h.Recurring)
	return err
}

func (s *Store) Holidays(ctx context.Context, year int) ([]generic.Holiday, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, date, name, recurring FROM holidays
		WHERE recurring OR EXTRACT(YEAR FROM date) = $1
		ORDER BY EXTRACT(MONTH FROM date), EXTRACT(DAY FROM date)`, year)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (generic.Holiday, error) {
		var (
			h    generic.Holiday
			date time.Time
		)
		if err := r.Scan(&h.ID, &date, &h.Name, &h.Recurring); err != nil {
			return generic.Holiday{}, err
		}
		h.Date = generic.FromTime(date)
		if h.Recurring {
			h.Date = generic.NewTimePoint(year, date.Month(), date.Day())
		}
		return h, nil
	})
}

// =============================================================================
// SCANNERS
// =============================================================================

func scanLeaveType(row pgx.Row) (leave.LeaveType, error) {
	var lt leave.LeaveType
	err := row.Scan(&lt.ID, &lt.Name, &lt.Category, &lt.Paid, &lt.Deductible, &lt.RequiresAttachment,
		&lt.AllowHalfDay, &lt.Gender, &lt.MaxDurationDays, &lt.CreatedAt)
	return lt, err
}

func scanEntitlement(row pgx.Row) (leave.Entitlement, error) {
	var (
		e           leave.Entitlement
		amounts     [8]string
		lastAccrual *time.Time
	)
	err := row.Scan(&e.EmployeeID, &e.LeaveTypeID, &e.Year,
		&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4], &amounts[5], &amounts[6], &amounts[7],
		&lastAccrual, &e.CarryForwardApplied, &e.Version, &e.UpdatedAt)
	if err != nil {
		return leave.Entitlement{}, err
	}
	targets := []*decimal.Decimal{
		&e.YearlyEntitlement, &e.CarryForward, &e.AccruedActual, &e.Adjusted,
		&e.AccruedRounded, &e.Taken, &e.Pending, &e.Remaining,
	}
	for i, t := range targets {
		if *t, err = decimal.NewFromString(amounts[i]); err != nil {
			return leave.Entitlement{}, fmt.Errorf("decode entitlement %s: %w", e.EntitlementKey, err)
		}
	}
	if lastAccrual != nil {
		e.LastAccrualDate = generic.FromTime(*lastAccrual)
	}
	return e, nil
}

func scanRequest(row pgx.Row) (leave.LeaveRequest, error) {
	var (
		r                 leave.LeaveRequest
		from, to          time.Time
		duration          string
		attachments, flow []byte
	)
	err := row.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &from, &to, &r.HalfDay, &duration,
		&r.Status, &r.Justification, &attachments, &flow, &r.CreatedAt, &r.UpdatedAt, &r.Version)
	if err != nil {
		return leave.LeaveRequest{}, err
	}
	r.From, r.To = generic.FromTime(from), generic.FromTime(to)
	if r.DurationDays, err = decimal.NewFromString(duration); err != nil {
		return leave.LeaveRequest{}, err
	}
	if err := json.Unmarshal(attachments, &r.Attachments); err != nil {
		return leave.LeaveRequest{}, fmt.Errorf("decode attachments of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal(flow, &r.Flow); err != nil {
		return leave.LeaveRequest{}, fmt.Errorf("decode approval flow of %s: %w", r.ID, err)
	}
	return r, nil
}

func scanDelegation(row pgx.Row) (leave.Delegation, error) {
	var (
		d          leave.Delegation
		start, end time.Time
	)
	err := row.Scan(&d.ID, &d.DelegatorID, &d.DelegateID, &start, &end, &d.Reason, &d.CreatedAt, &d.RevokedAt)
	if err != nil {
		return leave.Delegation{}, err
	}
	d.Window = generic.Period{Start: generic.FromTime(start), End: generic.FromTime(end)}
	return d, nil
}

func scanEmployee(row pgx.Row) (leave.EmployeeProfile, error) {
	var (
		p    leave.EmployeeProfile
		hire *time.Time
	)
	err := row.Scan(&p.ID, &p.Name, &p.Email, &hire, &p.Gender, &p.ContractType, &p.ManagerID, &p.HRAdminID)
	if err != nil {
		return leave.EmployeeProfile{}, err
	}
	if hire != nil {
		p.HireDate = generic.FromTime(*hire)
	}
	return p, nil
}

// Helper functions

func dateOrNil(tp generic.TimePoint) *time.Time {
	if tp.IsZero() {
		return nil
	}
	return &tp.Time
}

func textOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func checkSingleRow(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
