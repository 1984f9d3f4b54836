package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// DirectionFilter selects entries by stream or by raw direction.
type DirectionFilter string

const (
	FilterAll   DirectionFilter = "all"
	FilterStock DirectionFilter = "stock"
	FilterCash  DirectionFilter = "cash"
	FilterIn    DirectionFilter = "IN"
	FilterOut   DirectionFilter = "OUT"
)

// DateRange selects whole calendar days; either bound may be left zero.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// MonthYear selects one calendar month.
type MonthYear struct {
	Month time.Month
	Year  int
}

// AmountRange bounds the non-zero side of an entry, inclusive.
type AmountRange struct {
	Min *decimal.Decimal
	Max *decimal.Decimal
}

// Filter describes a view over an already balanced sequence. DateRange, MonthYear and
// Year are mutually exclusive windows. Windows compare calendar days, never instants.
type Filter struct {
	DateRange *DateRange
	MonthYear *MonthYear
	Year      int
	Direction DirectionFilter
	Amount    AmountRange
}

// Normalize keeps a single window, preferring DateRange over MonthYear over Year.
func (f Filter) Normalize() Filter {
	switch {
	case f.DateRange != nil:
		f.MonthYear = nil
		f.Year = 0
	case f.MonthYear != nil:
		f.Year = 0
	}
	if f.Direction == "" {
		f.Direction = FilterAll
	}
	return f
}

// Validate rejects malformed filters.
func (f Filter) Validate() error {
	windows := 0
	if f.DateRange != nil {
		windows++
	}
	if f.MonthYear != nil {
		windows++
	}
	if f.Year != 0 {
		windows++
	}
	if windows > 1 {
		return shared.Validationf("date range, month/year and year are mutually exclusive")
	}
	if dr := f.DateRange; dr != nil {
		if !dr.Start.IsZero() && !dr.End.IsZero() && CalendarDay(dr.Start).After(CalendarDay(dr.End)) {
			return shared.Validationf("start date %s is after end date %s", dr.Start.Format(time.DateOnly), dr.End.Format(time.DateOnly))
		}
	}
	if my := f.MonthYear; my != nil {
		if my.Month < time.January || my.Month > time.December {
			return shared.Validationf("month must be between 1 and 12, got %d", my.Month)
		}
		if my.Year <= 0 {
			return shared.Validationf("month filter requires a year")
		}
	}
	if f.Year < 0 {
		return shared.Validationf("year must be positive, got %d", f.Year)
	}
	switch f.Direction {
	case "", FilterAll, FilterStock, FilterCash, FilterIn, FilterOut:
	default:
		return shared.Validationf("direction %q not supported", f.Direction)
	}
	minV, maxV := f.Amount.Min, f.Amount.Max
	if minV != nil && minV.IsNegative() {
		return shared.Validationf("minimum amount must not be negative")
	}
	if maxV != nil && maxV.IsNegative() {
		return shared.Validationf("maximum amount must not be negative")
	}
	if minV != nil && maxV != nil && minV.GreaterThan(*maxV) {
		return shared.Validationf("minimum amount %s exceeds maximum %s", minV, maxV)
	}
	return nil
}

// Match reports whether a single entry falls inside the view.
func (f Filter) Match(e LedgerEntry) bool {
	from, to := f.window()
	day := CalendarDay(e.Date)
	if !from.IsZero() && day.Before(from) {
		return false
	}
	if !to.IsZero() && !day.Before(to) {
		return false
	}
	switch f.Direction {
	case FilterStock:
		if e.Category != CategoryStock {
			return false
		}
	case FilterCash:
		if e.Category != CategoryCash {
			return false
		}
	case FilterIn:
		if e.Direction != DirectionIn {
			return false
		}
	case FilterOut:
		if e.Direction != DirectionOut {
			return false
		}
	}
	amount := e.Amount()
	if f.Amount.Min != nil && amount.LessThan(*f.Amount.Min) {
		return false
	}
	if f.Amount.Max != nil && amount.GreaterThan(*f.Amount.Max) {
		return false
	}
	return true
}

// Apply selects the entries of a fully balanced sequence that match the filter.
// BalanceAfter values are carried over untouched.
func Apply(balanced []LedgerEntry, f Filter) ([]LedgerEntry, error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out := make([]LedgerEntry, 0, len(balanced))
	for _, e := range balanced {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Label renders a short human description of the view for document headers.
func (f Filter) Label() string {
	f = f.Normalize()
	parts := make([]string, 0, 3)
	switch {
	case f.DateRange != nil:
		start, end := "beginning", "today"
		if !f.DateRange.Start.IsZero() {
			start = f.DateRange.Start.Format(time.DateOnly)
		}
		if !f.DateRange.End.IsZero() {
			end = f.DateRange.End.Format(time.DateOnly)
		}
		parts = append(parts, start+" to "+end)
	case f.MonthYear != nil:
		parts = append(parts, fmt.Sprintf("%s %d", f.MonthYear.Month, f.MonthYear.Year))
	case f.Year != 0:
		parts = append(parts, fmt.Sprintf("Year %d", f.Year))
	default:
		parts = append(parts, "All dates")
	}
	if f.Direction != FilterAll {
		parts = append(parts, "direction "+string(f.Direction))
	}
	if f.Amount.Min != nil || f.Amount.Max != nil {
		lo, hi := "0", "∞"
		if f.Amount.Min != nil {
			lo = f.Amount.Min.StringFixed(2)
		}
		if f.Amount.Max != nil {
			hi = f.Amount.Max.StringFixed(2)
		}
		parts = append(parts, "amount "+lo+"–"+hi)
	}
	return strings.Join(parts, ", ")
}

// window returns the half-open [from, to) calendar-day range of the date window.
func (f Filter) window() (time.Time, time.Time) {
	switch {
	case f.DateRange != nil:
		var from, to time.Time
		if !f.DateRange.Start.IsZero() {
			from = CalendarDay(f.DateRange.Start)
		}
		if !f.DateRange.End.IsZero() {
			to = CalendarDay(f.DateRange.End).AddDate(0, 0, 1)
		}
		return from, to
	case f.MonthYear != nil:
		p := shared.Period{Year: f.MonthYear.Year, Month: f.MonthYear.Month}
		return p.Start(time.UTC), p.End(time.UTC)
	case f.Year != 0:
		from := time.Date(f.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(1, 0, 0)
	}
	return time.Time{}, time.Time{}
}

// CalendarDay keeps the year, month and day t carries in its own location and drops
// the rest. Transaction dates are stored as DATE, so this never shifts them across zones.
func CalendarDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PeriodFilter selects the full entry set of one calendar period.
func PeriodFilter(p shared.Period) Filter {
	return Filter{MonthYear: &MonthYear{Month: p.Month, Year: p.Year}, Direction: FilterAll}
}
