/*
scheduler.go - Automated accrual and year-end rollover

PURPOSE:
  Periodically brings every employee's passive-accrual entitlements up to
  date and rolls the previous year's balance into the current year.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Fans out per employee with a bounded errgroup
  - Every step is idempotent (accrual resumes from LastAccrualDate, carry-
    forward is marked on the target row), so overlapping or repeated runs
    are harmless
  - One employee failing is logged and counted; it never stops the pass

PER EMPLOYEE x LEAVE TYPE:
  1. Accrue last year's row to Dec 31 (passive accrual, employed then)
  2. ApplyCarryForward(last year -> this year) (carry-forward allowed,
     including granted ON_DEMAND balances)
  3. Accrue this year's row to today (passive accrual)

USAGE:
  scheduler := NewAccrualScheduler(engine, store, logger)
  scheduler.Start(ctx)
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: RunScheduler endpoint (manual run)
  - leave/ledger.go: Accrue, ApplyCarryForward
*/
package api

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/leave-engine/generic"
	"github.com/warp/leave-engine/leave"
)

// AccrualScheduler handles automated accrual and carry-forward.
type AccrualScheduler struct {
	Interval time.Duration
	Workers  int

	engine    *leave.Engine
	employees leave.EmployeeLister
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// SchedulerRun summarizes one pass.
type SchedulerRun struct {
	AsOf         string `json:"as_of"`
	Employees    int    `json:"employees"`
	Accrued      int64  `json:"accrued"`
	CarriedOver  int64  `json:"carried_over"`
	Failed       int64  `json:"failed"`
	DurationMsec int64  `json:"duration_ms"`
}

func NewAccrualScheduler(engine *leave.Engine, employees leave.EmployeeLister, logger *zap.Logger) *AccrualScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccrualScheduler{
		Interval:  24 * time.Hour,
		Workers:   4,
		engine:    engine,
		employees: employees,
		logger:    logger.Named("scheduler"),
	}
}

// Start runs a pass immediately and then every Interval until Stop or ctx
// is done.
func (s *AccrualScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("started", zap.Duration("interval", s.Interval), zap.Int("workers", s.Workers))
}

// Stop stops the scheduler and waits for an in-flight pass.
func (s *AccrualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	s.logger.Info("stopped")
}

func (s *AccrualScheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunNow(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("pass failed", zap.Error(err))
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// RunNow performs one pass synchronously.
func (s *AccrualScheduler) RunNow(ctx context.Context) (SchedulerRun, error) {
	started := time.Now()
	today := s.engine.Today()
	run := SchedulerRun{AsOf: today.String()}

	employees, err := s.employees.ListEmployees(ctx)
	if err != nil {
		return run, fmt.Errorf("list employees: %w", err)
	}
	rules, err := s.scheduledTypes(ctx)
	if err != nil {
		return run, err
	}
	run.Employees = len(employees)

	var accrued, carried, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.Workers, 1))
	for _, emp := range employees {
		g.Go(func() error {
			for _, lt := range rules {
				if !appliesTo(lt, emp) {
					continue
				}
				a, c, err := s.process(gctx, emp, lt, today)
				accrued.Add(a)
				carried.Add(c)
				if err != nil {
					failed.Add(1)
					s.logger.Warn("accrual failed",
						zap.String("employee_id", string(emp.ID)),
						zap.String("leave_type_id", string(lt.ID)),
						zap.Error(err))
				}
			}
			return gctx.Err()
		})
	}
	err = g.Wait()

	run.Accrued, run.CarriedOver, run.Failed = accrued.Load(), carried.Load(), failed.Load()
	run.DurationMsec = time.Since(started).Milliseconds()
	s.logger.Info("pass completed",
		zap.Int("employees", run.Employees),
		zap.Int64("accrued", run.Accrued),
		zap.Int64("carried_over", run.CarriedOver),
		zap.Int64("failed", run.Failed))
	return run, err
}

func (s *AccrualScheduler) process(ctx context.Context, emp leave.EmployeeProfile, st scheduledType, today generic.TimePoint) (accrued, carried int64, err error) {
	ledger := s.engine.Ledger
	id := st.ID
	prevYear := today.Year() - 1
	if emp.HireDate.IsZero() || emp.HireDate.BeforeOrEqual(generic.EndOfYear(prevYear)) {
		if st.accrues {
			if _, err := ledger.Accrue(ctx, emp.ID, id, generic.EndOfYear(prevYear)); err != nil {
				return accrued, carried, fmt.Errorf("close %d: %w", prevYear, err)
			}
		}
		if st.carries {
			if _, err := ledger.ApplyCarryForward(ctx, emp.ID, id, prevYear, today.Year()); err != nil {
				return accrued, carried, fmt.Errorf("carry forward: %w", err)
			}
			carried++
		}
	}
	if !st.accrues || emp.HireDate.After(today) {
		return accrued, carried, nil
	}
	if _, err := ledger.Accrue(ctx, emp.ID, id, today); err != nil {
		return accrued, carried, err
	}
	accrued++
	return accrued, carried, nil
}

// scheduledType is a leave type the pass has work for.
type scheduledType struct {
	leave.LeaveType
	accrues bool // passive accrual method
	carries bool // balance rolls into the next year
}

func (s *AccrualScheduler) scheduledTypes(ctx context.Context) ([]scheduledType, error) {
	types, err := s.engine.Store.ListLeaveTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list leave types: %w", err)
	}
	var out []scheduledType
	for _, lt := range types {
		p, err := s.engine.Store.GetPolicy(ctx, lt.ID)
		if err != nil {
			s.logger.Warn("leave type has no policy", zap.String("leave_type_id", string(lt.ID)), zap.Error(err))
			continue
		}
		st := scheduledType{LeaveType: lt, accrues: p.AccrualMethod.Passive(), carries: p.CarryForwardAllowed}
		if st.accrues || st.carries {
			out = append(out, st)
		}
	}
	return out, nil
}

// appliesTo skips gender-restricted types the employee can never take.
func appliesTo(lt scheduledType, emp leave.EmployeeProfile) bool {
	return lt.Gender == leave.GenderAny || lt.Gender == emp.Gender
}
