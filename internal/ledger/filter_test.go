package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func yearOfEntries(t *testing.T) []LedgerEntry {
	t.Helper()
	var cash []CashRecord
	for i, month := range []time.Month{time.January, time.February, time.February, time.November} {
		dir := DirectionOut
		if i%2 == 1 {
			dir = DirectionIn
		}
		cash = append(cash, CashRecord{
			ID: int64(i + 1), Seq: int64(i + 1), Direction: dir,
			Amount: decimal.NewFromInt(int64(100 * (i + 1))),
			Date:   time.Date(2024, month, 10, 0, 0, 0, 0, time.UTC),
		})
	}
	stock := []StockRecord{{ID: 9, Seq: 9, Direction: DirectionOut, Amount: dec("50"), Date: time.Date(2023, time.December, 31, 0, 0, 0, 0, time.UTC)}}
	merged, err := Merge(stock, cash)
	require.NoError(t, err)
	balanced, _, err := Fold(1, merged)
	require.NoError(t, err)
	return balanced
}

func ids(entries []LedgerEntry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.Source.ID
	}
	return out
}

func TestFilterWindows(t *testing.T) {
	balanced := yearOfEntries(t)

	cases := []struct {
		name   string
		filter Filter
		want   []int64
	}{
		{"all", Filter{}, []int64{9, 1, 2, 3, 4}},
		{"month", Filter{MonthYear: &MonthYear{Month: time.February, Year: 2024}}, []int64{2, 3}},
		{"year", Filter{Year: 2023}, []int64{9}},
		{"open start", Filter{DateRange: &DateRange{End: time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)}}, []int64{9, 1}},
		{"open end", Filter{DateRange: &DateRange{Start: time.Date(2024, time.February, 11, 0, 0, 0, 0, time.UTC)}}, []int64{4}},
		{"stock", Filter{Direction: FilterStock}, []int64{9}},
		{"cash IN", Filter{Direction: FilterIn}, []int64{2, 4}},
		{"OUT", Filter{Direction: FilterOut}, []int64{9, 1, 3}},
		{"amount", Filter{Amount: AmountRange{Min: ptr(dec("100")), Max: ptr(dec("300"))}}, []int64{1, 2, 3}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Apply(balanced, tc.filter)
			require.NoError(t, err)
			require.Equal(t, tc.want, ids(got))
		})
	}
}

func TestFilterCarriesBalancesUntouched(t *testing.T) {
	balanced := yearOfEntries(t)
	got, err := Apply(balanced, Filter{MonthYear: &MonthYear{Month: time.February, Year: 2024}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, got[0].BalanceAfter.Equal(balanced[2].BalanceAfter))
	require.True(t, got[1].BalanceAfter.Equal(balanced[3].BalanceAfter))
}

func TestFilterNormalizePrecedence(t *testing.T) {
	f := Filter{
		DateRange: &DateRange{Start: day1},
		MonthYear: &MonthYear{Month: time.May, Year: 2024},
		Year:      2020,
	}.Normalize()
	require.NotNil(t, f.DateRange)
	require.Nil(t, f.MonthYear)
	require.Zero(t, f.Year)
	require.Equal(t, FilterAll, f.Direction)

	f = Filter{MonthYear: &MonthYear{Month: time.May, Year: 2024}, Year: 2020}.Normalize()
	require.NotNil(t, f.MonthYear)
	require.Zero(t, f.Year)
}

func TestFilterValidate(t *testing.T) {
	cases := map[string]Filter{
		"two windows":     {MonthYear: &MonthYear{Month: time.May, Year: 2024}, Year: 2024},
		"inverted range":  {DateRange: &DateRange{Start: day3, End: day1}},
		"bad month":       {MonthYear: &MonthYear{Month: 13, Year: 2024}},
		"month no year":   {MonthYear: &MonthYear{Month: time.May}},
		"negative year":   {Year: -1},
		"bad direction":   {Direction: "sideways"},
		"negative amount": {Amount: AmountRange{Min: ptr(dec("-1"))}},
		"min above max":   {Amount: AmountRange{Min: ptr(dec("10")), Max: ptr(dec("5"))}},
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, f.Validate(), shared.ErrValidation)
		})
	}
	require.NoError(t, Filter{DateRange: &DateRange{Start: day1, End: day1}}.Validate())
}

func TestFilterWindowsUseStoredCalendarDay(t *testing.T) {
	// DATE columns come back as UTC midnight; the zone that prints them must not move them.
	first := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	entries := []LedgerEntry{{Source: SourceRef{ID: 1}, Date: first, Debit: dec("1")}}

	march, err := Apply(entries, PeriodFilter(shared.Period{Year: 2024, Month: time.March}))
	require.NoError(t, err)
	require.Len(t, march, 1)
	feb, err := Apply(entries, PeriodFilter(shared.Period{Year: 2024, Month: time.February}))
	require.NoError(t, err)
	require.Empty(t, feb)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	// A bound parsed in the business zone names the same day.
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, ny)
	got, err := Apply(entries, Filter{DateRange: &DateRange{Start: start, End: start}})
	require.NoError(t, err)
	require.Len(t, got, 1)

	year, err := Apply(entries, Filter{Year: 2023})
	require.NoError(t, err)
	require.Empty(t, year)
}

func TestNormalizeKeepsCalendarDay(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	entry, err := NormalizeCash(CashRecord{ID: 1, Direction: DirectionIn, Amount: dec("5"), Date: time.Date(2024, time.March, 2, 1, 30, 0, 0, ist)})
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC), entry.Date)
}

func TestFilterLabel(t *testing.T) {
	require.Equal(t, "All dates", Filter{}.Label())
	require.Equal(t, "February 2024, direction cash", Filter{MonthYear: &MonthYear{Month: time.February, Year: 2024}, Direction: FilterCash}.Label())
	require.Equal(t, "2024-03-01 to today", Filter{DateRange: &DateRange{Start: day1}}.Label())
	require.Equal(t, "Year 2023, amount 10.00–∞", Filter{Year: 2023, Amount: AmountRange{Min: ptr(dec("10"))}}.Label())
}

func TestPeriodFilter(t *testing.T) {
	balanced := yearOfEntries(t)
	got, err := Apply(balanced, PeriodFilter(shared.Period{Year: 2024, Month: time.November}))
	require.NoError(t, err)
	require.Equal(t, []int64{4}, ids(got))
}

func ptr[T any](v T) *T { return &v }
