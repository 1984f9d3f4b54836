package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// TxRepository is the transactional view of the record stores and client directory.
type TxRepository interface {
	// LockClient loads the client row and holds it for the rest of the transaction.
	LockClient(ctx context.Context, clientID int64) (Client, error)
	ListStockRecords(ctx context.Context, clientID int64) ([]StockRecord, error)
	ListCashRecords(ctx context.Context, clientID int64) ([]CashRecord, error)
	SaveStockRecord(ctx context.Context, rec *StockRecord) error
	DeleteStockRecord(ctx context.Context, clientID, id int64) error
	SaveCashRecord(ctx context.Context, rec *CashRecord) error
	DeleteCashRecord(ctx context.Context, clientID, id int64) error
	// CommitBalance stores the new balance when the stored ledger version still equals prev.
	CommitBalance(ctx context.Context, clientID int64, balance decimal.Decimal, prev, next int64) error
}

// RepositoryPort abstracts persistence used by the coordinator and the read path.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetClient(ctx context.Context, clientID int64) (Client, error)
	ListClientIDs(ctx context.Context) ([]int64, error)
}

// SnapshotStore holds the latest committed snapshot per client.
type SnapshotStore interface {
	// Get returns nil without error on a miss.
	Get(ctx context.Context, clientID int64) (*Snapshot, error)
	// Put replaces the stored snapshot unless a newer version is already present.
	Put(ctx context.Context, snap *Snapshot) error
	Invalidate(ctx context.Context, clientID int64) error
}

// AuditPort abstracts audit logging of ledger mutations.
type AuditPort interface {
	Record(ctx context.Context, log AuditEntry) error
}

// AuditEntry describes one committed mutation.
type AuditEntry struct {
	ClientID int64
	Source   SourceRef
	Action   string
	Balance  decimal.Decimal
	Version  int64
}
