package climatology

import (
	"fmt"
	"time"
)

// DayOfYearDate returns the date of the 1-based day of year doy in year.
func DayOfYearDate(year, doy int) time.Time {
	return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, doy-1)
}

// SeasonEnd is the fixed end of the kharif season: October 31.
func SeasonEnd(year int) time.Time {
	return time.Date(year, time.October, 31, 0, 0, 0, 0, time.UTC)
}

// WeekStarts returns every 7th day from onset through end inclusive.
func WeekStarts(onset, end time.Time) []time.Time {
	var out []time.Time
	for d := onset; !d.After(end); d = d.AddDate(0, 0, 7) {
		out = append(out, d)
	}
	return out
}

// MonthDay is a calendar day without a year, written "MM-DD".
type MonthDay struct {
	Month time.Month
	Day   int
}

// ParseMonthDay parses s in "MM-DD" form.
func ParseMonthDay(s string) (MonthDay, error) {
	t, err := time.Parse("01-02", s)
	if err != nil {
		return MonthDay{}, fmt.Errorf("parse month-day %q: %w", s, err)
	}
	return MonthDay{Month: t.Month(), Day: t.Day()}, nil
}

// In returns the day in year.
func (m MonthDay) In(year int) time.Time {
	return time.Date(year, m.Month, m.Day, 0, 0, 0, 0, time.UTC)
}

func (m MonthDay) String() string {
	return fmt.Sprintf("%02d-%02d", int(m.Month), m.Day)
}
