package timestep

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimeType is the declared granularity of a time column. It governs how
// step arithmetic and window sizes are interpreted: one step of a
// week-typed value is 7 days, one step of a yearmonth-typed value is a
// calendar month.
type TimeType string

const (
	TypeDay       TimeType = "day"
	TypeWeek      TimeType = "week"
	TypeYearWeek  TimeType = "yearweek"
	TypeYearMonth TimeType = "yearmonth"

	// TypeInteger is an abstract unit counter with no calendar meaning:
	// step n is stored as the Unix epoch plus n days, so the time axis
	// carries the counter and one step always moves one unit. Never
	// guessed; a dataset must declare it.
	TypeInteger TimeType = "integer"
)

// Parse validates a time type label.
func Parse(s string) (TimeType, error) {
	tt := TimeType(s)
	if !tt.Valid() {
		return "", fmt.Errorf("unsupported time_type %q (must be day, week, yearweek, yearmonth, or integer)", s)
	}
	return tt, nil
}

// Valid reports whether tt is a known time type.
func (tt TimeType) Valid() bool {
	switch tt {
	case TypeDay, TypeWeek, TypeYearWeek, TypeYearMonth, TypeInteger:
		return true
	}
	return false
}

// PlusN advances t by n granularity-steps. n may be negative or zero.
// Calendar types use calendar arithmetic: yearmonth moves whole months,
// day/week/yearweek move whole days. Time values are normalized to
// midnight UTC on construction, so AddDate never crosses a DST boundary.
func PlusN(t time.Time, n int, tt TimeType) time.Time {
	switch tt {
	case TypeDay, TypeInteger:
		return t.AddDate(0, 0, n)
	case TypeWeek, TypeYearWeek:
		return t.AddDate(0, 0, 7*n)
	case TypeYearMonth:
		return t.AddDate(0, n, 0)
	}
	return t
}

// MinusN retreats t by n granularity-steps.
func MinusN(t time.Time, n int, tt TimeType) time.Time {
	return PlusN(t, -n, tt)
}

// Between returns the signed whole-step distance from a to b.
// Returns an error when b is not reachable from a in whole steps
// (e.g. two week-typed values anchored on different weekdays).
func Between(a, b time.Time, tt TimeType) (int, error) {
	switch tt {
	case TypeDay, TypeInteger:
		return wholeDays(a, b, 1)
	case TypeWeek, TypeYearWeek:
		return wholeDays(a, b, 7)
	case TypeYearMonth:
		months := (b.Year()-a.Year())*12 + int(b.Month()-a.Month())
		if !PlusN(a, months, tt).Equal(b) {
			return 0, fmt.Errorf("%s and %s are not aligned to whole %s steps",
				a.Format(time.DateOnly), b.Format(time.DateOnly), tt)
		}
		return months, nil
	}
	return 0, fmt.Errorf("unsupported time_type %q", tt)
}

func wholeDays(a, b time.Time, stepDays int) (int, error) {
	days := int(b.Sub(a) / (24 * time.Hour))
	if days%stepDays != 0 || !a.AddDate(0, 0, days).Equal(b) {
		return 0, fmt.Errorf("%s and %s are not aligned to whole %d-day steps",
			a.Format(time.DateOnly), b.Format(time.DateOnly), stepDays)
	}
	return days / stepDays, nil
}

// ValidateValue checks that t is a canonical value for the time type:
// midnight UTC for all calendar types, Monday (ISO week start) for
// yearweek, and the first of the month for yearmonth. Plain week values
// only need to be dates; the shared weekday anchor is enforced at the
// series level.
func ValidateValue(t time.Time, tt TimeType) error {
	if !t.Equal(t.UTC().Truncate(24 * time.Hour)) {
		return fmt.Errorf("time value %s is not a midnight UTC date", t.Format(time.RFC3339))
	}
	switch tt {
	case TypeYearWeek:
		if t.Weekday() != time.Monday {
			return fmt.Errorf("yearweek value %s does not fall on an ISO week start (Monday)",
				t.Format(time.DateOnly))
		}
	case TypeYearMonth:
		if t.Day() != 1 {
			return fmt.Errorf("yearmonth value %s is not the first of a month", t.Format(time.DateOnly))
		}
	}
	return nil
}

// WeekStart returns the Monday (ISO week start) of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC().Truncate(24 * time.Hour)
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday counts as day 7 of the ISO week
	}
	return t.AddDate(0, 0, -(weekday - 1))
}

// Guess infers a time type from the observed spacing of a series of
// time values. Distinct values spaced by multiples of 7 days guess week
// (yearweek when Monday-anchored), month boundaries guess yearmonth,
// everything else guesses day.
func Guess(times []time.Time) TimeType {
	if len(times) < 2 {
		return TypeDay
	}
	sorted := make([]time.Time, len(times))
	copy(sorted, times)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	allWeekly := true
	allMonthly := true
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.Equal(prev) {
			continue
		}
		if _, err := Between(prev, cur, TypeWeek); err != nil {
			allWeekly = false
		}
		if _, err := Between(prev, cur, TypeYearMonth); err != nil {
			allMonthly = false
		}
	}

	if allMonthly && sorted[0].Day() == 1 {
		return TypeYearMonth
	}
	if allWeekly {
		if sorted[0].Weekday() == time.Monday {
			return TypeYearWeek
		}
		return TypeWeek
	}
	return TypeDay
}

// ParseWindow parses a window size into a whole number of steps for the
// given time type. Accepts a bare step count ("7") or a suffixed form
// whose unit must match the time type: "7d" for day, "2w" for
// week/yearweek, "3m" for yearmonth.
func ParseWindow(s string, tt TimeType) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("window must not be empty")
	}

	unit := s[len(s)-1]
	digits := s
	if unit == 'd' || unit == 'w' || unit == 'm' {
		digits = s[:len(s)-1]
		expected := map[byte]TimeType{'d': TypeDay, 'w': TypeWeek, 'm': TypeYearMonth}[unit]
		if expected != tt && !(unit == 'w' && tt == TypeYearWeek) {
			return 0, fmt.Errorf("window unit %q does not match time_type %q", string(unit), tt)
		}
	}

	n, err := strconv.Atoi(strings.TrimSpace(digits))
	if err != nil {
		return 0, fmt.Errorf("invalid window %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("window must be positive, got %q", s)
	}
	return n, nil
}
