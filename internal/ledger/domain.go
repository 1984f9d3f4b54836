// Package ledger reconciles a client's stock and cash movements into one chronological
// statement with a running balance.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the raw direction recorded on a stock or cash record.
type Direction string

const (
	// DirectionIn is a purchase from the client (stock) or cash received from the client.
	DirectionIn Direction = "IN"
	// DirectionOut is a sale to the client (stock) or cash paid to the client.
	DirectionOut Direction = "OUT"
)

// Valid reports whether d is one of the two allowed directions.
func (d Direction) Valid() bool {
	return d == DirectionIn || d == DirectionOut
}

// Category identifies the upstream stream an entry came from.
type Category string

const (
	CategoryStock Category = "stock"
	CategoryCash  Category = "cash"
)

// Role of the client relative to the business.
type Role string

const (
	RoleCustomer Role = "Customer"
	RoleSupplier Role = "Supplier"
)

// Client is the account holder a ledger is kept for.
type Client struct {
	ID                  int64           `json:"id"`
	Name                string          `json:"name"`
	Contact             string          `json:"contact"`
	Role                Role            `json:"role"`
	CurrentBalance      decimal.Decimal `json:"currentBalance"`
	DeliveryEnabled     bool            `json:"deliveryEnabled"`
	ChannelVerified     bool            `json:"channelVerified"`
	LastStatementSentAt *time.Time      `json:"lastStatementSentAt,omitempty"`
	LedgerVersion       int64           `json:"-"`
}

// StockRecord is an inventory movement between the business and a client.
type StockRecord struct {
	ID          int64
	ClientID    int64
	Seq         int64
	Direction   Direction
	ProductName string
	Quantity    decimal.Decimal
	Unit        string
	Rate        decimal.Decimal
	Amount      decimal.Decimal
	Date        time.Time
	InvoiceNo   string
	Notes       string
}

// CashRecord is a money movement between the business and a client.
type CashRecord struct {
	ID          int64
	ClientID    int64
	Seq         int64
	Direction   Direction
	Amount      decimal.Decimal
	Category    string
	PaymentMode string
	Date        time.Time
	Notes       string
}

// SourceRef points back at the upstream record an entry was derived from.
type SourceRef struct {
	Kind Category `json:"kind"`
	ID   int64    `json:"id"`
}

// LedgerEntry is one normalized line of a client statement. Entries are derived and
// regenerated wholesale; they are never edited on their own.
type LedgerEntry struct {
	Source       SourceRef       `json:"source"`
	Seq          int64           `json:"seq"`
	Date         time.Time       `json:"date"`
	Category     Category        `json:"category"`
	Direction    Direction       `json:"direction"`
	Description  string          `json:"description"`
	Debit        decimal.Decimal `json:"debitAmount"`
	Credit       decimal.Decimal `json:"creditAmount"`
	BalanceAfter decimal.Decimal `json:"balanceAfter"`
}

// Amount returns the non-zero side of the entry.
func (e LedgerEntry) Amount() decimal.Decimal {
	if e.Debit.IsPositive() {
		return e.Debit
	}
	return e.Credit
}

// Snapshot is the committed, fully balanced sequence of one client. It is treated as
// immutable by every reader.
type Snapshot struct {
	ClientID   int64           `json:"clientId"`
	Version    int64           `json:"version"`
	Entries    []LedgerEntry   `json:"entries"`
	Balance    decimal.Decimal `json:"balance"`
	ComputedAt time.Time       `json:"computedAt"`
}

// ChangeOp names the upstream mutation that triggered a change notification.
type ChangeOp string

const (
	ChangeCreated ChangeOp = "created"
	ChangeUpdated ChangeOp = "updated"
	ChangeDeleted ChangeOp = "deleted"
)

// ChangeEvent is emitted by the record stores whenever a stock or cash record changes.
type ChangeEvent struct {
	EventID    string    `json:"eventId"`
	ClientID   int64     `json:"clientId" validate:"required,gt=0"`
	RecordKind Category  `json:"recordKind" validate:"required,oneof=stock cash"`
	RecordID   int64     `json:"recordId" validate:"required,gt=0"`
	Op         ChangeOp  `json:"op" validate:"required,oneof=created updated deleted"`
	OccurredAt time.Time `json:"occurredAt"`
}
