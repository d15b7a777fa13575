package generic

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - Day-granular date used as ledger and request keys
// =============================================================================

type TimePoint struct {
	Time        time.Time
	Granularity Granularity
}

type Granularity int

const (
	GranularityDay Granularity = iota
	GranularityHour
)

const DateLayout = "2006-01-02"

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), Granularity: GranularityDay}
}

// FromTime truncates t to its calendar day in t's own location.
func FromTime(t time.Time) TimePoint {
	return NewTimePoint(t.Year(), t.Month(), t.Day())
}

func Today() TimePoint {
	return FromTime(time.Now())
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return FromTime(t), nil
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return tp.Before(other) || tp.Equal(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return tp.After(other) || tp.Equal(other) }

func (tp TimePoint) normalize() time.Time {
	switch tp.Granularity {
	case GranularityDay:
		return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
	case GranularityHour:
		return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), tp.Time.Hour(), 0, 0, 0, time.UTC)
	default:
		return tp.Time
	}
}

// Arithmetic
func (tp TimePoint) AddDays(n int) TimePoint {
	return TimePoint{Time: tp.Time.AddDate(0, 0, n), Granularity: tp.Granularity}
}

// AddMonths clamps to the last day of the target month: Jan 31 + 1 is Feb 28.
func (tp TimePoint) AddMonths(n int) TimePoint {
	first := time.Date(tp.Time.Year(), tp.Time.Month()+time.Month(n), 1, tp.Time.Hour(), 0, 0, 0, tp.Time.Location())
	day := min(tp.Time.Day(), daysIn(first.Year(), first.Month()))
	return TimePoint{Time: first.AddDate(0, 0, day-1), Granularity: tp.Granularity}
}

// Properties
func (tp TimePoint) Year() int             { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month     { return tp.Time.Month() }
func (tp TimePoint) Day() int              { return tp.Time.Day() }
func (tp TimePoint) Weekday() time.Weekday { return tp.Time.Weekday() }
func (tp TimePoint) IsZero() bool          { return tp.Time.IsZero() }
func (tp TimePoint) IsWeekend() bool {
	wd := tp.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func (tp TimePoint) String() string {
	if tp.IsZero() {
		return ""
	}
	switch tp.Granularity {
	case GranularityDay:
		return tp.Time.Format(DateLayout)
	case GranularityHour:
		return tp.Time.Format("2006-01-02 15:00")
	default:
		return tp.Time.Format(time.RFC3339)
	}
}

// =============================================================================
// HOLIDAY CALENDAR - Non-working days
// =============================================================================

// Holiday is a day that never counts against leave.
type Holiday struct {
	ID        string
	Date      TimePoint
	Name      string
	Recurring bool // same month/day every year
}

// OccursOn reports whether the holiday falls on day.
func (h Holiday) OccursOn(day TimePoint) bool {
	if h.Recurring {
		return h.Date.Month() == day.Month() && h.Date.Day() == day.Day()
	}
	return h.Date.Equal(day)
}

// HolidayCalendar returns the holiday list for a calendar year, including
// recurring holidays.
type HolidayCalendar interface {
	Holidays(ctx context.Context, year int) ([]Holiday, error)
}

// NoHolidays is a calendar with weekends only.
type NoHolidays struct{}

func (NoHolidays) Holidays(context.Context, int) ([]Holiday, error) { return nil, nil }

// IsWorkdayWithHolidays checks if a date is a working day given a holiday list.
func (tp TimePoint) IsWorkdayWithHolidays(holidays []Holiday) bool {
	if tp.IsWeekend() {
		return false
	}
	for _, h := range holidays {
		if h.OccursOn(tp) {
			return false
		}
	}
	return true
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

func DaysBetween(from, to TimePoint) int {
	return int(to.normalize().Sub(from.normalize()).Hours() / 24)
}

// WholeMonthsBetween counts complete calendar months from 'from' to 'to'.
// Jan 1 -> Jul 1 is 6; Jan 15 -> Feb 14 is 0; Jan 31 -> Feb 28 is 1.
// It agrees with AddMonths: WholeMonthsBetween(d, d.AddMonths(n)) == n.
func WholeMonthsBetween(from, to TimePoint) int {
	if !to.After(from) {
		return 0
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() && !to.IsLastDayOfMonth() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (tp TimePoint) IsLastDayOfMonth() bool {
	return tp.Day() == daysIn(tp.Year(), tp.Month())
}

func StartOfYear(year int) TimePoint { return NewTimePoint(year, time.January, 1) }
func EndOfYear(year int) TimePoint   { return NewTimePoint(year, time.December, 31) }

// Earliest returns the earlier of a and b.
func Earliest(a, b TimePoint) TimePoint {
	if b.Before(a) {
		return b
	}
	return a
}

// Latest returns the later of a and b.
func Latest(a, b TimePoint) TimePoint {
	if b.After(a) {
		return b
	}
	return a
}
