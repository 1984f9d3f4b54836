package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Fold walks the complete merged history once and fills BalanceAfter on a copy of it:
// balanceAfter[i] = balanceAfter[i-1] + debit[i] - credit[i], starting from zero.
// The returned balance is the client's current balance. Never call Fold on a filtered view.
func Fold(clientID int64, merged []LedgerEntry) ([]LedgerEntry, decimal.Decimal, error) {
	out := make([]LedgerEntry, len(merged))
	running := decimal.Zero
	for i, entry := range merged {
		if err := checkEntry(entry); err != nil {
			return nil, decimal.Zero, shared.Computation(clientID, fmt.Errorf("entry %d: %w", i, err)).
				WithRecord(string(entry.Source.Kind), entry.Source.ID)
		}
		running = running.Add(entry.Debit).Sub(entry.Credit)
		entry.BalanceAfter = running
		out[i] = entry
	}
	return out, running, nil
}

// Verify re-checks the balance recurrence over a balanced sequence and returns the
// index of the first entry that breaks it, or -1.
func Verify(balanced []LedgerEntry) int {
	prev := decimal.Zero
	for i, entry := range balanced {
		if checkEntry(entry) != nil {
			return i
		}
		want := prev.Add(entry.Debit).Sub(entry.Credit)
		if !entry.BalanceAfter.Equal(want) {
			return i
		}
		prev = entry.BalanceAfter
	}
	return -1
}

// OpeningBalance is the balance standing immediately before entry was applied.
func OpeningBalance(entry LedgerEntry) decimal.Decimal {
	return entry.BalanceAfter.Sub(entry.Debit).Add(entry.Credit)
}

func checkEntry(entry LedgerEntry) error {
	if entry.Debit.IsNegative() || entry.Credit.IsNegative() {
		return fmt.Errorf("negative amount (debit %s, credit %s)", entry.Debit, entry.Credit)
	}
	debit := entry.Debit.IsPositive()
	credit := entry.Credit.IsPositive()
	if debit == credit {
		return fmt.Errorf("exactly one of debit/credit must be non-zero (debit %s, credit %s)", entry.Debit, entry.Credit)
	}
	return nil
}
