package ledger

import (
	"github.com/shopspring/decimal"
)

// Summary aggregates a view. Query responses and exports both build it from the same
// filtered sequence, so their totals always reconcile.
type Summary struct {
	TotalDebit       decimal.Decimal `json:"totalDebit"`
	TotalCredit      decimal.Decimal `json:"totalCredit"`
	TransactionCount int             `json:"transactionCount"`
	StockCount       int             `json:"stockCount"`
	CashCount        int             `json:"cashCount"`
	OpeningBalance   decimal.Decimal `json:"openingBalance"`
	ClosingBalance   decimal.Decimal `json:"closingBalance"`
}

// Summarize totals a filtered sequence. Opening and closing balances are read from the
// carried BalanceAfter values, never recomputed.
func Summarize(entries []LedgerEntry) Summary {
	sum := Summary{
		TotalDebit:     decimal.Zero,
		TotalCredit:    decimal.Zero,
		OpeningBalance: decimal.Zero,
		ClosingBalance: decimal.Zero,
	}
	for _, e := range entries {
		sum.TotalDebit = sum.TotalDebit.Add(e.Debit)
		sum.TotalCredit = sum.TotalCredit.Add(e.Credit)
		switch e.Category {
		case CategoryStock:
			sum.StockCount++
		case CategoryCash:
			sum.CashCount++
		}
	}
	sum.TransactionCount = len(entries)
	if len(entries) > 0 {
		sum.OpeningBalance = OpeningBalance(entries[0])
		sum.ClosingBalance = entries[len(entries)-1].BalanceAfter
	}
	return sum
}
