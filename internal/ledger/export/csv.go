package export

import (
	"bytes"
	"encoding/csv"
	"strconv"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// renderCSV writes machine-readable figures: plain fixed-point amounts, ISO dates.
func (r *Renderer) renderCSV(doc ledger.Document) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write([]string{"Date", "Category", "Direction", "Description", "Debit", "Credit", "Balance"}); err != nil {
		return nil, err
	}
	for _, e := range doc.Entries {
		if err := writer.Write([]string{
			e.Date.Format("2006-01-02"),
			string(e.Category),
			string(e.Direction),
			e.Description,
			e.Debit.StringFixed(2),
			e.Credit.StringFixed(2),
			e.BalanceAfter.StringFixed(2),
		}); err != nil {
			return nil, err
		}
	}
	sum := doc.Summary
	records := [][]string{
		{},
		{"Summary", "Value"},
		{"Client", doc.Client.Name},
		{"Period", doc.FilterLabel},
		{"Opening Balance", sum.OpeningBalance.StringFixed(2)},
		{"Total Debit", sum.TotalDebit.StringFixed(2)},
		{"Total Credit", sum.TotalCredit.StringFixed(2)},
		{"Closing Balance", sum.ClosingBalance.StringFixed(2)},
		{"Transactions", strconv.Itoa(sum.TransactionCount)},
		{"Stock Transactions", strconv.Itoa(sum.StockCount)},
		{"Cash Transactions", strconv.Itoa(sum.CashCount)},
	}
	for _, record := range records {
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}
