package leave

import (
	"context"
	"fmt"
	"slices"

	"github.com/warp/leave-engine/generic"
)

// Calendar counts working days.
type Calendar interface {
	// GetWorkingDaysBetween counts working days in [from, to] using the
	// holiday list of calendarYear.
	GetWorkingDaysBetween(ctx context.Context, from, to generic.TimePoint, calendarYear int) (int, error)
}

// WorkCalendar treats Saturday, Sunday and listed holidays as non-working.
type WorkCalendar struct {
	holidays generic.HolidayCalendar
}

func NewWorkCalendar(holidays generic.HolidayCalendar) *WorkCalendar {
	if holidays == nil {
		holidays = generic.NoHolidays{}
	}
	return &WorkCalendar{holidays: holidays}
}

func (c *WorkCalendar) GetWorkingDaysBetween(ctx context.Context, from, to generic.TimePoint, calendarYear int) (int, error) {
	window, err := generic.NewPeriod(from, to)
	if err != nil {
		return 0, err
	}
	holidays, err := c.holidays.Holidays(ctx, calendarYear)
	if err != nil {
		return 0, fmt.Errorf("load holidays for %d: %w", calendarYear, err)
	}
	days := 0
	for day := range window.Days() {
		if day.IsWorkdayWithHolidays(holidays) {
			days++
		}
	}
	return days, nil
}

// =============================================================================
// BLOCK PERIODS - Company-wide windows where leave is not allowed
// =============================================================================

type BlockPeriod struct {
	ID               string
	Name             string
	Window           generic.Period
	ExemptLeaveTypes []LeaveTypeID
}

// Exempts reports whether requests of leave type id may ignore this block.
func (b BlockPeriod) Exempts(id LeaveTypeID) bool {
	return slices.Contains(b.ExemptLeaveTypes, id)
}
