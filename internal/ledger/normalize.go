package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// NormalizeStock converts a stock record into an unbalanced ledger entry.
// A sale (OUT) raises what the client owes and lands on the debit side; a purchase (IN)
// lowers it and lands on the credit side.
func NormalizeStock(rec StockRecord) (LedgerEntry, error) {
	if !rec.Direction.Valid() {
		return LedgerEntry{}, stockErr(rec, "direction %q not allowed", rec.Direction)
	}
	if rec.Date.IsZero() {
		return LedgerEntry{}, stockErr(rec, "date required")
	}
	amount, err := stockAmount(rec)
	if err != nil {
		return LedgerEntry{}, err
	}

	entry := LedgerEntry{
		Source:      SourceRef{Kind: CategoryStock, ID: rec.ID},
		Seq:         rec.Seq,
		Date:        CalendarDay(rec.Date),
		Category:    CategoryStock,
		Direction:   rec.Direction,
		Description: describeStock(rec),
		Debit:       decimal.Zero,
		Credit:      decimal.Zero,
	}
	if rec.Direction == DirectionOut {
		entry.Debit = amount
	} else {
		entry.Credit = amount
	}
	return entry, nil
}

// NormalizeCash converts a cash record into an unbalanced ledger entry.
// Cash paid to the client (OUT) is a debit; cash received from the client (IN) is a credit.
func NormalizeCash(rec CashRecord) (LedgerEntry, error) {
	if !rec.Direction.Valid() {
		return LedgerEntry{}, cashErr(rec, "direction %q not allowed", rec.Direction)
	}
	if rec.Date.IsZero() {
		return LedgerEntry{}, cashErr(rec, "date required")
	}
	if !rec.Amount.IsPositive() {
		return LedgerEntry{}, cashErr(rec, "amount must be positive, got %s", rec.Amount)
	}

	entry := LedgerEntry{
		Source:      SourceRef{Kind: CategoryCash, ID: rec.ID},
		Seq:         rec.Seq,
		Date:        CalendarDay(rec.Date),
		Category:    CategoryCash,
		Direction:   rec.Direction,
		Description: describeCash(rec),
		Debit:       decimal.Zero,
		Credit:      decimal.Zero,
	}
	if rec.Direction == DirectionOut {
		entry.Debit = rec.Amount
	} else {
		entry.Credit = rec.Amount
	}
	return entry, nil
}

// stockAmount resolves the line amount. A missing amount is derived from quantity × rate;
// an explicit one must agree with it to the cent.
func stockAmount(rec StockRecord) (decimal.Decimal, error) {
	if rec.Amount.IsNegative() {
		return decimal.Zero, stockErr(rec, "amount must be positive, got %s", rec.Amount)
	}
	hasQtyRate := !rec.Quantity.IsZero() || !rec.Rate.IsZero()
	if hasQtyRate && (!rec.Quantity.IsPositive() || !rec.Rate.IsPositive()) {
		return decimal.Zero, stockErr(rec, "quantity and rate must be positive")
	}
	if rec.Amount.IsZero() {
		if !hasQtyRate {
			return decimal.Zero, stockErr(rec, "amount must be positive, got 0")
		}
		return rec.Quantity.Mul(rec.Rate).Round(2), nil
	}
	if hasQtyRate {
		expected := rec.Quantity.Mul(rec.Rate).Round(2)
		if !expected.Equal(rec.Amount.Round(2)) {
			return decimal.Zero, stockErr(rec, "amount %s does not match quantity × rate %s", rec.Amount, expected)
		}
	}
	return rec.Amount, nil
}

func describeStock(rec StockRecord) string {
	var b strings.Builder
	if rec.Direction == DirectionOut {
		b.WriteString("Sale: ")
	} else {
		b.WriteString("Purchase: ")
	}
	b.WriteString(strings.TrimSpace(rec.ProductName))
	if !rec.Quantity.IsZero() {
		b.WriteString(" ")
		b.WriteString(rec.Quantity.String())
		if unit := strings.TrimSpace(rec.Unit); unit != "" {
			b.WriteString(" ")
			b.WriteString(unit)
		}
		b.WriteString(" @ ")
		b.WriteString(rec.Rate.StringFixed(2))
	}
	if inv := strings.TrimSpace(rec.InvoiceNo); inv != "" {
		b.WriteString(" (Inv ")
		b.WriteString(inv)
		b.WriteString(")")
	}
	return b.String()
}

func describeCash(rec CashRecord) string {
	var b strings.Builder
	if rec.Direction == DirectionIn {
		b.WriteString("Cash received")
	} else {
		b.WriteString("Cash paid")
	}
	if mode := strings.TrimSpace(rec.PaymentMode); mode != "" {
		b.WriteString(" (")
		b.WriteString(mode)
		b.WriteString(")")
	}
	if cat := strings.TrimSpace(rec.Category); cat != "" {
		b.WriteString(" - ")
		b.WriteString(cat)
	}
	return b.String()
}

func stockErr(rec StockRecord, format string, args ...any) error {
	return shared.Validationf("stock record: "+format, args...).
		WithClient(rec.ClientID).
		WithRecord(string(CategoryStock), rec.ID)
}

func cashErr(rec CashRecord, format string, args ...any) error {
	return shared.Validationf("cash record: "+format, args...).
		WithClient(rec.ClientID).
		WithRecord(string(CategoryCash), rec.ID)
}
