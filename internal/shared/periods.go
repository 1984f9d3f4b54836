package shared

import (
	"time"
)

// PeriodLayout is the calendar-month period format used for statements.
const PeriodLayout = "2006-01"

// Period identifies a calendar month.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the calendar month containing t (in t's location).
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// ParsePeriod parses a YYYY-MM string.
func ParsePeriod(s string) (Period, error) {
	t, err := time.Parse(PeriodLayout, s)
	if err != nil {
		return Period{}, Validationf("invalid period %q", s)
	}
	return PeriodOf(t), nil
}

// String formats the period as YYYY-MM.
func (p Period) String() string {
	return p.Start(time.UTC).Format(PeriodLayout)
}

// Start returns the first instant of the period.
func (p Period) Start(loc *time.Location) time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, loc)
}

// End returns the first instant after the period.
func (p Period) End(loc *time.Location) time.Time {
	return p.Start(loc).AddDate(0, 1, 0)
}

// Prev returns the preceding calendar month.
func (p Period) Prev() Period {
	return PeriodOf(p.Start(time.UTC).AddDate(0, -1, 0))
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool {
	return p.Year == 0 && p.Month == 0
}
