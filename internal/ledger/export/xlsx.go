package export

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

const (
	sheetName    = "Statement"
	amountFormat = "#,##0.00"
	headerRow    = 6
)

func (r *Renderer) renderXLSX(doc ledger.Document) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, err
	}
	amountStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: ptr(amountFormat)})
	if err != nil {
		return nil, err
	}
	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	meta := [][2]any{
		{doc.Title, ""},
		{"Client", doc.Client.Name},
		{"Period", doc.FilterLabel},
		{"Generated", formatDate(doc.GeneratedAt, doc.Location)},
	}
	for i, kv := range meta {
		row := i + 1
		if err := f.SetCellValue(sheetName, cell("A", row), kv[0]); err != nil {
			return nil, err
		}
		if err := f.SetCellValue(sheetName, cell("B", row), kv[1]); err != nil {
			return nil, err
		}
	}

	headers := []string{"Date", "Category", "Description", "Debit", "Credit", "Balance"}
	for i, h := range headers {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetCellValue(sheetName, cell(col, headerRow), h); err != nil {
			return nil, err
		}
	}
	if err := f.SetCellStyle(sheetName, cell("A", headerRow), cell("F", headerRow), boldStyle); err != nil {
		return nil, err
	}

	row := headerRow
	for _, e := range doc.Entries {
		row++
		values := []any{formatDay(e.Date), string(e.Category), e.Description}
		if err := f.SetSheetRow(sheetName, cell("A", row), &values); err != nil {
			return nil, err
		}
		if err := setAmounts(f, row, sideAmount(e.Debit), sideAmount(e.Credit), &e.BalanceAfter); err != nil {
			return nil, err
		}
	}
	if row > headerRow {
		if err := f.SetCellStyle(sheetName, cell("D", headerRow+1), cell("F", row), amountStyle); err != nil {
			return nil, err
		}
	}

	sum := doc.Summary
	row += 2
	totals := []struct {
		label, note        string
		debit, credit, bal *decimal.Decimal
	}{
		{"Opening Balance", "", nil, nil, &sum.OpeningBalance},
		{"Totals", fmt.Sprintf("%d transactions", sum.TransactionCount), &sum.TotalDebit, &sum.TotalCredit, &sum.ClosingBalance},
	}
	for i, t := range totals {
		at := row + i
		values := []any{t.label, "", t.note}
		if err := f.SetSheetRow(sheetName, cell("A", at), &values); err != nil {
			return nil, err
		}
		if err := setAmounts(f, at, t.debit, t.credit, t.bal); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheetName, cell("D", at), cell("F", at), amountStyle); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sheetName, cell("A", at), cell("C", at), boldStyle); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(sheetName, "C", "C", 48); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sideAmount leaves the cell empty for the zero side of an entry.
func sideAmount(d decimal.Decimal) *decimal.Decimal {
	if d.IsZero() {
		return nil
	}
	return &d
}

// setAmounts writes debit, credit and balance into D, E and F of row. The cells hold the
// fixed-point text of the decimal as a numeric value, so no figure passes through float64.
func setAmounts(f *excelize.File, row int, debit, credit, balance *decimal.Decimal) error {
	for col, d := range map[string]*decimal.Decimal{"D": debit, "E": credit, "F": balance} {
		if d == nil {
			continue
		}
		if err := f.SetCellDefault(sheetName, cell(col, row), d.StringFixed(2)); err != nil {
			return err
		}
	}
	return nil
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}

func ptr[T any](v T) *T { return &v }
