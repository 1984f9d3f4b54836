package ledger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func TestNormalizeStockSides(t *testing.T) {
	sale, err := NormalizeStock(StockRecord{ID: 1, Direction: DirectionOut, ProductName: "Rice", Quantity: dec("10"), Unit: "kg", Rate: dec("50"), Date: day1, InvoiceNo: "INV-7"})
	require.NoError(t, err)
	require.True(t, sale.Debit.Equal(dec("500")))
	require.True(t, sale.Credit.IsZero())
	require.Equal(t, "Sale: Rice 10 kg @ 50.00 (Inv INV-7)", sale.Description)
	require.Equal(t, SourceRef{Kind: CategoryStock, ID: 1}, sale.Source)

	purchase, err := NormalizeStock(StockRecord{ID: 2, Direction: DirectionIn, ProductName: "Wheat", Amount: dec("200"), Date: day1})
	require.NoError(t, err)
	require.True(t, purchase.Credit.Equal(dec("200")))
	require.True(t, purchase.Debit.IsZero())
	require.Equal(t, "Purchase: Wheat", purchase.Description)
}

func TestNormalizeStockAmountMustMatchQuantityRate(t *testing.T) {
	_, err := NormalizeStock(StockRecord{Direction: DirectionOut, Quantity: dec("3"), Rate: dec("1.50"), Amount: dec("4.50"), Date: day1})
	require.NoError(t, err)

	_, err = NormalizeStock(StockRecord{Direction: DirectionOut, Quantity: dec("3"), Rate: dec("1.50"), Amount: dec("5"), Date: day1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestNormalizeStockRejects(t *testing.T) {
	cases := map[string]StockRecord{
		"direction":     {Direction: "out", Amount: dec("1"), Date: day1},
		"date":          {Direction: DirectionOut, Amount: dec("1")},
		"zero amount":   {Direction: DirectionOut, Date: day1},
		"negative":      {Direction: DirectionOut, Amount: dec("-1"), Date: day1},
		"negative rate": {Direction: DirectionOut, Quantity: dec("2"), Rate: dec("-1"), Date: day1},
	}
	for name, rec := range cases {
		t.Run(name, func(t *testing.T) {
			rec.ID = 9
			rec.ClientID = 4
			_, err := NormalizeStock(rec)
			require.ErrorIs(t, err, shared.ErrValidation)
			var le *shared.Error
			require.ErrorAs(t, err, &le)
			require.Equal(t, int64(4), le.ClientID)
			require.Equal(t, "stock", le.RecordKind)
			require.Equal(t, int64(9), le.RecordID)
		})
	}
}

func TestNormalizeCashSides(t *testing.T) {
	received, err := NormalizeCash(CashRecord{ID: 3, Direction: DirectionIn, Amount: dec("200"), PaymentMode: "UPI", Category: "Advance", Date: day2})
	require.NoError(t, err)
	require.True(t, received.Credit.Equal(dec("200")))
	require.True(t, received.Debit.IsZero())
	require.Equal(t, "Cash received (UPI) - Advance", received.Description)

	paid, err := NormalizeCash(CashRecord{ID: 4, Direction: DirectionOut, Amount: dec("75.25"), Date: day2})
	require.NoError(t, err)
	require.True(t, paid.Debit.Equal(dec("75.25")))
	require.Equal(t, "Cash paid", paid.Description)
}

func TestNormalizeCashRejects(t *testing.T) {
	_, err := NormalizeCash(CashRecord{Direction: DirectionIn, Amount: dec("0"), Date: day2})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = NormalizeCash(CashRecord{Direction: "", Amount: dec("1"), Date: day2})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = NormalizeCash(CashRecord{Direction: DirectionIn, Amount: dec("1")})
	require.ErrorIs(t, err, shared.ErrValidation)
}
