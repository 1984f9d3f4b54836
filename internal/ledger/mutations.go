package ledger

import (
	"context"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// SaveStock creates the record when ID is zero and replaces it otherwise.
func SaveStock(rec StockRecord) Mutation { return saveStock{rec: rec} }

// DeleteStock removes a stock record.
func DeleteStock(id int64) Mutation { return deleteRecord{kind: CategoryStock, id: id} }

// SaveCash creates the record when ID is zero and replaces it otherwise.
func SaveCash(rec CashRecord) Mutation { return saveCash{rec: rec} }

// DeleteCash removes a cash record.
func DeleteCash(id int64) Mutation { return deleteRecord{kind: CategoryCash, id: id} }

type saveStock struct{ rec StockRecord }

func (m saveStock) Validate(clientID int64) error {
	if m.rec.ClientID != 0 && m.rec.ClientID != clientID {
		return shared.Validationf("stock record belongs to client %d", m.rec.ClientID).WithClient(clientID)
	}
	rec := m.rec
	rec.ClientID = clientID
	_, err := NormalizeStock(rec)
	return err
}

func (m saveStock) Apply(ctx context.Context, tx TxRepository, clientID int64) (SourceRef, ChangeOp, error) {
	rec := m.rec
	rec.ClientID = clientID
	op := ChangeUpdated
	if rec.ID == 0 {
		op = ChangeCreated
	}
	if err := tx.SaveStockRecord(ctx, &rec); err != nil {
		return SourceRef{}, "", err
	}
	return SourceRef{Kind: CategoryStock, ID: rec.ID}, op, nil
}

type saveCash struct{ rec CashRecord }

func (m saveCash) Validate(clientID int64) error {
	if m.rec.ClientID != 0 && m.rec.ClientID != clientID {
		return shared.Validationf("cash record belongs to client %d", m.rec.ClientID).WithClient(clientID)
	}
	rec := m.rec
	rec.ClientID = clientID
	_, err := NormalizeCash(rec)
	return err
}

func (m saveCash) Apply(ctx context.Context, tx TxRepository, clientID int64) (SourceRef, ChangeOp, error) {
	rec := m.rec
	rec.ClientID = clientID
	op := ChangeUpdated
	if rec.ID == 0 {
		op = ChangeCreated
	}
	if err := tx.SaveCashRecord(ctx, &rec); err != nil {
		return SourceRef{}, "", err
	}
	return SourceRef{Kind: CategoryCash, ID: rec.ID}, op, nil
}

type deleteRecord struct {
	kind Category
	id   int64
}

func (m deleteRecord) Validate(clientID int64) error {
	if m.id <= 0 {
		return shared.Validationf("%s record id must be positive", m.kind).WithClient(clientID)
	}
	return nil
}

func (m deleteRecord) Apply(ctx context.Context, tx TxRepository, clientID int64) (SourceRef, ChangeOp, error) {
	var err error
	if m.kind == CategoryStock {
		err = tx.DeleteStockRecord(ctx, clientID, m.id)
	} else {
		err = tx.DeleteCashRecord(ctx, clientID, m.id)
	}
	if err != nil {
		return SourceRef{}, "", err
	}
	return SourceRef{Kind: m.kind, ID: m.id}, ChangeDeleted, nil
}
