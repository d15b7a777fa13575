/*
Package sqlite provides a SQLite-backed implementation of leave.Store.

PURPOSE:
  Persists the catalog, entitlements, requests, delegations, block periods
  and the movement journal. Also serves as the employee directory source
  and the holiday calendar.

INTERFACES IMPLEMENTED:
  leave.Store:             All engine tables + WithTx
  leave.EmployeeLookup:    Directory source for leave.NewDirectory
  leave.EmployeeLister:    Batch jobs (accrual scheduler)
  generic.HolidayCalendar: Working-day counting

APPEND-ONLY ENFORCEMENT:
  - leave_types: INSERT only
  - leave_policies: INSERT only, one row per version
  - ledger_movements: INSERT only, unique idempotency_key

VERSIONED ROWS:
  leave_entitlements and leave_requests carry a version column. Saving a
  row with version 0 inserts it; otherwise the UPDATE is guarded by
  "WHERE version = ?" and zero affected rows is
  generic.ErrConcurrentModification.

WAL MODE:
  SQLite is opened with WAL and immediate transactions:
  - Multiple readers don't block
  - A writer takes the write lock at BEGIN, not at first write
  - busy_timeout makes concurrent writers wait instead of failing

USAGE:
  store, err := sqlite.New("./data/leave.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - leave/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
  - store/postgres: Production implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements leave.Store using SQLite.
type Store struct {
	conn
	db *sql.DB
}

var (
	_ leave.Store             = (*Store)(nil)
	_ leave.EmployeeLookup    = (*Store)(nil)
	_ leave.EmployeeLister    = (*Store)(nil)
	_ generic.HolidayCalendar = (*Store)(nil)
)

// conn holds every query. Store runs them on the pool, txStore on a
// transaction.
type conn struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		paid INTEGER NOT NULL,
		deductible INTEGER NOT NULL,
		requires_attachment INTEGER NOT NULL,
		allow_half_day INTEGER NOT NULL,
		gender TEXT NOT NULL DEFAULT '',
		max_duration_days INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Policies (versioned, append-only)
	CREATE TABLE IF NOT EXISTS leave_policies (
		leave_type_id TEXT NOT NULL REFERENCES leave_types(id),
		version INTEGER NOT NULL,
		accrual_method TEXT NOT NULL,
		monthly_rate TEXT NOT NULL,
		yearly_rate TEXT NOT NULL,
		carry_forward_allowed INTEGER NOT NULL,
		max_carry_forward TEXT,
		rounding_rule TEXT NOT NULL,
		min_notice_days INTEGER NOT NULL,
		max_consecutive_days INTEGER NOT NULL,
		min_tenure_months INTEGER NOT NULL,
		contract_types_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (leave_type_id, version)
	);

	CREATE TABLE IF NOT EXISTS leave_entitlements (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		yearly_entitlement TEXT NOT NULL,
		carry_forward TEXT NOT NULL,
		accrued_actual TEXT NOT NULL,
		adjusted TEXT NOT NULL,
		accrued_rounded TEXT NOT NULL,
		taken TEXT NOT NULL,
		pending TEXT NOT NULL,
		remaining TEXT NOT NULL,
		last_accrual_date TEXT NOT NULL DEFAULT '',
		carry_forward_applied INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id, year)
	);

	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		from_date TEXT NOT NULL,
		to_date TEXT NOT NULL,
		half_day INTEGER NOT NULL,
		duration_days TEXT NOT NULL,
		status TEXT NOT NULL,
		justification TEXT NOT NULL DEFAULT '',
		attachments_json TEXT NOT NULL,
		flow_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_leave_requests_employee
		ON leave_requests(employee_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_leave_requests_status
		ON leave_requests(status);

	CREATE TABLE IF NOT EXISTS delegations (
		id TEXT PRIMARY KEY,
		delegator_id TEXT NOT NULL,
		delegate_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		revoked_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_delegations_delegator
		ON delegations(delegator_id, start_date);

	CREATE TABLE IF NOT EXISTS block_periods (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		exempt_json TEXT NOT NULL
	);

	-- Movement journal (append-only)
	CREATE TABLE IF NOT EXISTS ledger_movements (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		period_year INTEGER NOT NULL,
		effective_at TEXT NOT NULL,
		delta_value TEXT NOT NULL,
		delta_unit TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		reference_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		metadata_json TEXT,
		created_by TEXT,
		created_by_type TEXT,
		created_at TEXT NOT NULL
	);

	-- Composite index for per-row history (hot path)
	CREATE INDEX IF NOT EXISTS idx_ledger_movements_row
		ON ledger_movements(employee_id, leave_type_id, period_year, created_at);

	-- For request tracking
	CREATE INDEX IF NOT EXISTS idx_ledger_movements_reference
		ON ledger_movements(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS employees (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		hire_date TEXT NOT NULL DEFAULT '',
		gender TEXT NOT NULL DEFAULT '',
		contract_type TEXT NOT NULL DEFAULT '',
		manager_id TEXT NOT NULL DEFAULT '',
		hr_admin_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS holidays (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		name TEXT NOT NULL,
		recurring INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction. The transaction is
// opened IMMEDIATE, so concurrent writers queue on BEGIN.
func (s *Store) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{conn: conn{q: sqlTx}}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type txStore struct {
	conn
}

// WithTx joins the enclosing transaction.
func (ts *txStore) WithTx(ctx context.Context, fn func(leave.Store) error) error {
	return fn(ts)
}

// =============================================================================
// CATALOG
// =============================================================================

func (c conn) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, name, category, paid, deductible, requires_attachment, allow_half_day,
		       gender, max_duration_days, created_at
		FROM leave_types WHERE id = ?`, id)
	lt, err := scanLeaveType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LeaveType{}, generic.ErrNotFound
	}
	return lt, err
}

func (c conn) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, name, category, paid, deductible, requires_attachment, allow_half_day,
		       gender, max_duration_days, created_at
		FROM leave_types ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave types: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveType
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

func (c conn) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	if lt.CreatedAt.IsZero() {
		lt.CreatedAt = time.Now()
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO leave_types
		(id, name, category, paid, deductible, requires_attachment, allow_half_day,
		 gender, max_duration_days, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lt.ID, lt.Name, lt.Category, lt.Paid, lt.Deductible, lt.RequiresAttachment, lt.AllowHalfDay,
		lt.Gender, lt.MaxDurationDays, formatTime(lt.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrAlreadyExists
	}
	return err
}

func (c conn) GetPolicy(ctx context.Context, id leave.LeaveTypeID) (leave.LeavePolicy, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT leave_type_id, version, accrual_method, monthly_rate, yearly_rate,
		       carry_forward_allowed, max_carry_forward, rounding_rule, min_notice_days,
		       max_consecutive_days, min_tenure_months, contract_types_json, created_at
		FROM leave_policies WHERE leave_type_id = ?
		ORDER BY version DESC LIMIT 1`, id)

	var (
		p             leave.LeavePolicy
		maxCarry      decimal.NullDecimal
		contractsJSON string
		createdAt     string
	)
	err := row.Scan(&p.LeaveTypeID, &p.Version, &p.AccrualMethod, &p.MonthlyRate, &p.YearlyRate,
		&p.CarryForwardAllowed, &maxCarry, &p.RoundingRule, &p.MinNoticeDays,
		&p.MaxConsecutiveDays, &p.Eligibility.MinTenureMonths, &contractsJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.LeavePolicy{}, generic.ErrNotFound
	}
	if err != nil {
		return leave.LeavePolicy{}, fmt.Errorf("failed to scan policy: %w", err)
	}
	if maxCarry.Valid {
		p.MaxCarryForward = &maxCarry.Decimal
	}
	if err := json.Unmarshal([]byte(contractsJSON), &p.Eligibility.ContractTypesAllowed); err != nil {
		return leave.LeavePolicy{}, fmt.Errorf("decode contract types of %s: %w", id, err)
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// SavePolicy appends the next version in a single statement.
func (c conn) SavePolicy(ctx context.Context, p leave.LeavePolicy) (leave.LeavePolicy, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	contractsJSON, err := json.Marshal(nonNil(p.Eligibility.ContractTypesAllowed))
	if err != nil {
		return leave.LeavePolicy{}, err
	}
	var maxCarry decimal.NullDecimal
	if p.MaxCarryForward != nil {
		maxCarry = decimal.NewNullDecimal(*p.MaxCarryForward)
	}

	err = c.q.QueryRowContext(ctx, `
		INSERT INTO leave_policies
		(leave_type_id, version, accrual_method, monthly_rate, yearly_rate,
		 carry_forward_allowed, max_carry_forward, rounding_rule, min_notice_days,
		 max_consecutive_days, min_tenure_months, contract_types_json, created_at)
		SELECT ?, COALESCE(MAX(version), 0) + 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?
		FROM leave_policies WHERE leave_type_id = ?
		RETURNING version`,
		p.LeaveTypeID, p.AccrualMethod, p.MonthlyRate, p.YearlyRate,
		p.CarryForwardAllowed, maxCarry, p.RoundingRule, p.MinNoticeDays,
		p.MaxConsecutiveDays, p.Eligibility.MinTenureMonths, string(contractsJSON), formatTime(p.CreatedAt),
		p.LeaveTypeID,
	).Scan(&p.Version)
	if err != nil {
		return leave.LeavePolicy{}, fmt.Errorf("failed to save policy: %w", err)
	}
	return p, nil
}

// =============================================================================
// ENTITLEMENTS
// =============================================================================

const entitlementColumns = `
	employee_id, leave_type_id, year, yearly_entitlement, carry_forward, accrued_actual,
	adjusted, accrued_rounded, taken, pending, remaining, last_accrual_date,
	carry_forward_applied, version, updated_at`

func (c conn) GetEntitlement(ctx context.Context, key leave.EntitlementKey) (leave.Entitlement, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+entitlementColumns+`
		FROM leave_entitlements
		WHERE employee_id = ? AND leave_type_id = ? AND year = ?`,
		key.EmployeeID, key.LeaveTypeID, key.Year)
	e, err := scanEntitlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Entitlement{}, generic.ErrNotFound
	}
	return e, err
}

func (c conn) SaveEntitlement(ctx context.Context, e *leave.Entitlement) error {
	var (
		res sql.Result
		err error
	)
	if e.Version == 0 {
		res, err = c.q.ExecContext(ctx, `INSERT INTO leave_entitlements (`+entitlementColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			e.EmployeeID, e.LeaveTypeID, e.Year, e.YearlyEntitlement, e.CarryForward, e.AccruedActual,
			e.Adjusted, e.AccruedRounded, e.Taken, e.Pending, e.Remaining, formatDate(e.LastAccrualDate),
			e.CarryForwardApplied, formatTime(e.UpdatedAt))
		if isUniqueConstraintError(err) {
			return generic.ErrConcurrentModification
		}
	} else {
		res, err = c.q.ExecContext(ctx, `
			UPDATE leave_entitlements SET
				yearly_entitlement = ?, carry_forward = ?, accrued_actual = ?, adjusted = ?,
				accrued_rounded = ?, taken = ?, pending = ?, remaining = ?,
				last_accrual_date = ?, carry_forward_applied = ?,
				version = version + 1, updated_at = ?
			WHERE employee_id = ? AND leave_type_id = ? AND year = ? AND version = ?`,
			e.YearlyEntitlement, e.CarryForward, e.AccruedActual, e.Adjusted,
			e.AccruedRounded, e.Taken, e.Pending, e.Remaining,
			formatDate(e.LastAccrualDate), e.CarryForwardApplied, formatTime(e.UpdatedAt),
			e.EmployeeID, e.LeaveTypeID, e.Year, e.Version)
	}
	if err := checkSingleRow(res, err); err != nil {
		return err
	}
	e.Version++
	return nil
}

func (c conn) ListEntitlements(ctx context.Context, employeeID leave.EmployeeID, year int) ([]leave.Entitlement, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+entitlementColumns+`
		FROM leave_entitlements
		WHERE employee_id = ? AND (? = 0 OR year = ?)
		ORDER BY year, leave_type_id`, employeeID, year, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query entitlements: %w", err)
	}
	defer rows.Close()

	var out []leave.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// REQUESTS
// =============================================================================

const requestColumns = `
	id, employee_id, leave_type_id, from_date, to_date, half_day, duration_days, status,
	justification, attachments_json, flow_json, created_at, updated_at, version`

func (c conn) GetRequest(ctx context.Context, id leave.RequestID) (leave.LeaveRequest, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM leave_requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
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

	var res sql.Result
	if r.Version == 0 {
		res, err = c.q.ExecContext(ctx, `INSERT INTO leave_requests (`+requestColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
			r.ID, r.EmployeeID, r.LeaveTypeID, formatDate(r.From), formatDate(r.To), r.HalfDay,
			r.DurationDays, r.Status, r.Justification, string(attachments), string(flow),
			formatTime(r.CreatedAt), formatTime(r.UpdatedAt))
		if isUniqueConstraintError(err) {
			return generic.ErrConcurrentModification
		}
	} else {
		res, err = c.q.ExecContext(ctx, `
			UPDATE leave_requests SET
				status = ?, justification = ?, attachments_json = ?, flow_json = ?,
				updated_at = ?, version = version + 1
			WHERE id = ? AND version = ?`,
			r.Status, r.Justification, string(attachments), string(flow),
			formatTime(r.UpdatedAt), r.ID, r.Version)
	}
	if err := checkSingleRow(res, err); err != nil {
		return err
	}
	r.Version++
	return nil
}

func (c conn) ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.LeaveRequest, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+requestColumns+`
		FROM leave_requests
		WHERE (? = '' OR employee_id = ?) AND (? = '' OR status = ?)
		ORDER BY created_at`,
		filter.EmployeeID, filter.EmployeeID, filter.Status, filter.Status)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []leave.LeaveRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// DELEGATIONS
// =============================================================================

const delegationColumns = `id, delegator_id, delegate_id, start_date, end_date, reason, created_at, revoked_at`

func (c conn) GetDelegation(ctx context.Context, id leave.DelegationID) (leave.Delegation, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+delegationColumns+` FROM delegations WHERE id = ?`, id)
	d, err := scanDelegation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.Delegation{}, generic.ErrNotFound
	}
	return d, err
}

// LockDelegator is a no-op: _txlock=immediate makes every transaction take
// the database write lock at BEGIN.
func (c conn) LockDelegator(context.Context, leave.EmployeeID) error { return nil }

func (c conn) SaveDelegation(ctx context.Context, d leave.Delegation) error {
	var revoked sql.NullString
	if d.RevokedAt != nil {
		revoked = nullString(formatTime(*d.RevokedAt))
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO delegations (`+delegationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			delegate_id = excluded.delegate_id,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			reason = excluded.reason,
			revoked_at = excluded.revoked_at`,
		d.ID, d.DelegatorID, d.DelegateID, formatDate(d.Window.Start), formatDate(d.Window.End),
		d.Reason, formatTime(d.CreatedAt), revoked)
	if err != nil {
		return fmt.Errorf("failed to save delegation: %w", err)
	}
	return nil
}

func (c conn) ListDelegations(ctx context.Context, filter leave.DelegationFilter) ([]leave.Delegation, error) {
	rows, err := c.q.QueryContext(ctx, `SELECT `+delegationColumns+`
		FROM delegations
		WHERE (? = '' OR delegator_id = ?)
		ORDER BY start_date`, filter.DelegatorID, filter.DelegatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to query delegations: %w", err)
	}
	defer rows.Close()

	var out []leave.Delegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// BLOCK PERIODS
// =============================================================================

func (c conn) SaveBlockPeriod(ctx context.Context, b leave.BlockPeriod) error {
	exempt, err := json.Marshal(nonNil(b.ExemptLeaveTypes))
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO block_periods (id, name, start_date, end_date, exempt_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			exempt_json = excluded.exempt_json`,
		b.ID, b.Name, formatDate(b.Window.Start), formatDate(b.Window.End), string(exempt))
	return err
}

func (c conn) ListBlockPeriods(ctx context.Context, window generic.Period) ([]leave.BlockPeriod, error) {
	// ISO dates compare correctly as text
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, name, start_date, end_date, exempt_json
		FROM block_periods
		WHERE start_date <= ? AND end_date >= ?
		ORDER BY start_date`, formatDate(window.End), formatDate(window.Start))
	if err != nil {
		return nil, fmt.Errorf("failed to query block periods: %w", err)
	}
	defer rows.Close()

	var out []leave.BlockPeriod
	for rows.Next() {
		var (
			b          leave.BlockPeriod
			start, end string
			exempt     string
		)
		if err := rows.Scan(&b.ID, &b.Name, &start, &end, &exempt); err != nil {
			return nil, fmt.Errorf("failed to scan block period: %w", err)
		}
		b.Window = generic.Period{Start: parseDate(start), End: parseDate(end)}
		if err := json.Unmarshal([]byte(exempt), &b.ExemptLeaveTypes); err != nil {
			return nil, fmt.Errorf("decode exemptions of block %s: %w", b.ID, err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// =============================================================================
// JOURNAL (generic.Journal)
// =============================================================================

// Append adds movements to the journal. Outside WithTx the batch gets its
// own transaction.
func (s *Store) Append(ctx context.Context, txs ...generic.Transaction) error {
	return s.WithTx(ctx, func(tx leave.Store) error {
		return tx.Append(ctx, txs...)
	})
}

func (c conn) Append(ctx context.Context, txs ...generic.Transaction) error {
	for _, tx := range txs {
		if err := c.appendOne(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (c conn) appendOne(ctx context.Context, tx generic.Transaction) error {
	metadataJSON, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO ledger_movements
		(id, employee_id, leave_type_id, period_year, effective_at, delta_value, delta_unit,
		 tx_type, reference_id, reason, idempotency_key, metadata_json, created_by,
		 created_by_type, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.q.ExecContext(ctx, query,
		tx.ID,
		tx.EntityID,
		tx.PolicyID,
		tx.PeriodYear,
		formatDate(tx.EffectiveAt),
		tx.Delta.Value,
		tx.Delta.Unit,
		tx.Type,
		nullString(tx.ReferenceID),
		nullString(tx.Reason),
		nullString(tx.IdempotencyKey),
		string(metadataJSON),
		nullString(tx.CreatedBy),
		nullString(tx.CreatedByType),
		formatTime(tx.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return generic.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to append movement: %w", err)
	}
	return nil
}

func (c conn) Transactions(ctx context.Context, entityID generic.EntityID, policyID generic.PolicyID, year int) ([]generic.Transaction, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, employee_id, leave_type_id, period_year, effective_at, delta_value, delta_unit,
		       tx_type, reference_id, reason, idempotency_key, metadata_json, created_by,
		       created_by_type, created_at
		FROM ledger_movements
		WHERE employee_id = ? AND leave_type_id = ? AND period_year = ?
		ORDER BY created_at ASC, rowid ASC`, entityID, policyID, year)
	if err != nil {
		return nil, fmt.Errorf("failed to query movements: %w", err)
	}
	defer rows.Close()

	var out []generic.Transaction
	for rows.Next() {
		var (
			tx                                                generic.Transaction
			effectiveAt, deltaUnit, createdAt                 string
			referenceID, reason, idempotencyKey, metadataJSON sql.NullString
			createdBy, createdByType                          sql.NullString
		)
		err := rows.Scan(&tx.ID, &tx.EntityID, &tx.PolicyID, &tx.PeriodYear, &effectiveAt,
			&tx.Delta.Value, &deltaUnit, &tx.Type, &referenceID, &reason, &idempotencyKey,
			&metadataJSON, &createdBy, &createdByType, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan movement: %w", err)
		}
		tx.EffectiveAt = parseDate(effectiveAt)
		tx.Delta.Unit = generic.Unit(deltaUnit)
		tx.ReferenceID = referenceID.String
		tx.Reason = reason.String
		tx.IdempotencyKey = idempotencyKey.String
		tx.CreatedBy = createdBy.String
		tx.CreatedByType = createdByType.String
		tx.CreatedAt = parseTime(createdAt)
		if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &tx.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", tx.ID, err)
			}
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// =============================================================================
// EMPLOYEES (leave.EmployeeLookup)
// =============================================================================

// SaveEmployee inserts or replaces an employee profile.
func (s *Store) SaveEmployee(ctx context.Context, p leave.EmployeeProfile) error {
	query := `
		INSERT INTO employees
		(id, name, email, hire_date, gender, contract_type, manager_id, hr_admin_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			hire_date = excluded.hire_date,
			gender = excluded.gender,
			contract_type = excluded.contract_type,
			manager_id = excluded.manager_id,
			hr_admin_id = excluded.hr_admin_id
	`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Email, formatDate(p.HireDate), p.Gender, p.ContractType,
		p.ManagerID, p.HRAdminID, formatTime(time.Now()),
	)
	return err
}

func (s *Store) GetEmployee(ctx context.Context, id leave.EmployeeID) (leave.EmployeeProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, hire_date, gender, contract_type, manager_id, hr_admin_id
		FROM employees WHERE id = ?`, id)
	p, err := scanEmployee(row)
	if errors.Is(err, sql.ErrNoRows) {
		return leave.EmployeeProfile{}, generic.ErrNotFound
	}
	return p, err
}

func (s *Store) ListEmployees(ctx context.Context) ([]leave.EmployeeProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, hire_date, gender, contract_type, manager_id, hr_admin_id
		FROM employees ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []leave.EmployeeProfile
	for rows.Next() {
		p, err := scanEmployee(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// =============================================================================
// HOLIDAY CALENDAR IMPLEMENTATION
// =============================================================================

// SaveHoliday saves a holiday to the database.
func (s *Store) SaveHoliday(ctx context.Context, h generic.Holiday) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holidays (id, date, name, recurring)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			name = excluded.name,
			recurring = excluded.recurring`,
		h.ID, formatDate(h.Date), h.Name, h.Recurring)
	return err
}

// Holidays returns the holidays of year, recurring ones moved into year.
func (s *Store) Holidays(ctx context.Context, year int) ([]generic.Holiday, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, name, recurring
		FROM holidays
		WHERE recurring = 1 OR strftime('%Y', date) = ?
		ORDER BY strftime('%m-%d', date)`, strconv.Itoa(year))
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var holidays []generic.Holiday
	for rows.Next() {
		var (
			h       generic.Holiday
			dateStr string
		)
		if err := rows.Scan(&h.ID, &dateStr, &h.Name, &h.Recurring); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		h.Date = parseDate(dateStr)
		if h.Recurring {
			h.Date = generic.NewTimePoint(year, h.Date.Month(), h.Date.Day())
		}
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

// =============================================================================
// SCANNERS
// =============================================================================

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanLeaveType(s scanner) (leave.LeaveType, error) {
	var (
		lt        leave.LeaveType
		createdAt string
	)
	err := s.Scan(&lt.ID, &lt.Name, &lt.Category, &lt.Paid, &lt.Deductible, &lt.RequiresAttachment,
		&lt.AllowHalfDay, &lt.Gender, &lt.MaxDurationDays, &createdAt)
	if err != nil {
		return leave.LeaveType{}, err
	}
	lt.CreatedAt = parseTime(createdAt)
	return lt, nil
}

func scanEntitlement(s scanner) (leave.Entitlement, error) {
	var (
		e                    leave.Entitlement
		lastAccrual, updated string
	)
	err := s.Scan(&e.EmployeeID, &e.LeaveTypeID, &e.Year, &e.YearlyEntitlement, &e.CarryForward,
		&e.AccruedActual, &e.Adjusted, &e.AccruedRounded, &e.Taken, &e.Pending, &e.Remaining,
		&lastAccrual, &e.CarryForwardApplied, &e.Version, &updated)
	if err != nil {
		return leave.Entitlement{}, err
	}
	e.LastAccrualDate = parseDate(lastAccrual)
	e.UpdatedAt = parseTime(updated)
	return e, nil
}

func scanRequest(s scanner) (leave.LeaveRequest, error) {
	var (
		r                 leave.LeaveRequest
		from, to          string
		attachments, flow string
		created, updated  string
	)
	err := s.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &from, &to, &r.HalfDay, &r.DurationDays,
		&r.Status, &r.Justification, &attachments, &flow, &created, &updated, &r.Version)
	if err != nil {
		return leave.LeaveRequest{}, err
	}
	r.From, r.To = parseDate(from), parseDate(to)
	r.CreatedAt, r.UpdatedAt = parseTime(created), parseTime(updated)
	if err := json.Unmarshal([]byte(attachments), &r.Attachments); err != nil {
		return leave.LeaveRequest{}, fmt.Errorf("decode attachments of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(flow), &r.Flow); err != nil {
		return leave.LeaveRequest{}, fmt.Errorf("decode approval flow of %s: %w", r.ID, err)
	}
	return r, nil
}

func scanDelegation(s scanner) (leave.Delegation, error) {
	var (
		d                   leave.Delegation
		start, end, created string
		revoked             sql.NullString
	)
	err := s.Scan(&d.ID, &d.DelegatorID, &d.DelegateID, &start, &end, &d.Reason, &created, &revoked)
	if err != nil {
		return leave.Delegation{}, err
	}
	d.Window = generic.Period{Start: parseDate(start), End: parseDate(end)}
	d.CreatedAt = parseTime(created)
	if revoked.Valid {
		at := parseTime(revoked.String)
		d.RevokedAt = &at
	}
	return d, nil
}

func scanEmployee(s scanner) (leave.EmployeeProfile, error) {
	var (
		p        leave.EmployeeProfile
		hireDate string
	)
	err := s.Scan(&p.ID, &p.Name, &p.Email, &hireDate, &p.Gender, &p.ContractType, &p.ManagerID, &p.HRAdminID)
	if err != nil {
		return leave.EmployeeProfile{}, err
	}
	p.HireDate = parseDate(hireDate)
	return p, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func formatDate(tp generic.TimePoint) string {
	if tp.IsZero() {
		return ""
	}
	return tp.Time.Format(generic.DateLayout)
}

func parseDate(s string) generic.TimePoint {
	if s == "" {
		return generic.TimePoint{}
	}
	tp, err := generic.ParseDate(s)
	if err != nil {
		return generic.TimePoint{}
	}
	return tp
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func checkSingleRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return generic.ErrConcurrentModification
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
