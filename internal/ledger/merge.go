package ledger

import (
	"sort"
)

// Merge normalizes a client's stock and cash records and orders them into one sequence.
// The order key is (date, seq, category, source id). Seq is the shared insertion
// sequence; category and id keep the key strict should two streams ever collide.
func Merge(stock []StockRecord, cash []CashRecord) ([]LedgerEntry, error) {
	entries := make([]LedgerEntry, 0, len(stock)+len(cash))
	for _, rec := range stock {
		entry, err := NormalizeStock(rec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	for _, rec := range cash {
		entry, err := NormalizeCash(rec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entryLess(entries[i], entries[j])
	})
	return entries, nil
}

func entryLess(a, b LedgerEntry) bool {
	if !a.Date.Equal(b.Date) {
		return a.Date.Before(b.Date)
	}
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	if a.Category != b.Category {
		return a.Category < b.Category
	}
	return a.Source.ID < b.Source.ID
}
