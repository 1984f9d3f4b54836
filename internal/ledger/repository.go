package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// Repository provides PostgreSQL backed persistence for clients and their records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn inside a repeatable-read transaction. Serialization failures surface
// as conflicts so the coordinator retries them.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger: repository not initialised")
	}
	return translatePgErr(db.WithTx(ctx, r.pool, pgx.RepeatableRead, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	}))
}

func translatePgErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected) {
		return &shared.Error{Kind: shared.ErrConflict, Message: "concurrent transaction", Err: err}
	}
	return err
}

const clientColumns = `id, name, contact, role, current_balance, delivery_enabled, channel_verified, last_statement_sent_at, ledger_version`

func scanClient(row pgx.Row) (Client, error) {
	var (
		c      Client
		role   string
		sentAt pgtype.Timestamptz
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Contact, &role, &c.CurrentBalance, &c.DeliveryEnabled, &c.ChannelVerified, &sentAt, &c.LedgerVersion); err != nil {
		return Client{}, err
	}
	c.Role = Role(role)
	if sentAt.Valid {
		t := sentAt.Time
		c.LastStatementSentAt = &t
	}
	return c, nil
}

// GetClient loads a client.
func (r *Repository) GetClient(ctx context.Context, clientID int64) (Client, error) {
	return getClient(ctx, r.pool, clientID, false)
}

// ListClientIDs returns every client id in ascending order.
func (r *Repository) ListClientIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM clients ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ListDeliveryClients returns clients with statement delivery enabled, by id.
func (r *Repository) ListDeliveryClients(ctx context.Context) ([]Client, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+clientColumns+` FROM clients WHERE delivery_enabled ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CreateClient inserts a client and returns its id.
func (r *Repository) CreateClient(ctx context.Context, c Client) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO clients (name, contact, role, current_balance, delivery_enabled, channel_verified, ledger_version)
		VALUES ($1, $2, $3, 0, $4, $5, 0)
		RETURNING id`, c.Name, c.Contact, string(c.Role), c.DeliveryEnabled, c.ChannelVerified).Scan(&id)
	return id, err
}

func getClient(ctx context.Context, q querier, clientID int64, forUpdate bool) (Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanClient(q.QueryRow(ctx, query, clientID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, shared.NotFound("client", clientID).WithClient(clientID)
	}
	return c, err
}

func (t *txRepo) LockClient(ctx context.Context, clientID int64) (Client, error) {
	return getClient(ctx, t.tx, clientID, true)
}

func (t *txRepo) ListStockRecords(ctx context.Context, clientID int64) ([]StockRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, client_id, seq, direction, product_name, quantity, unit, rate, amount, txn_date, invoice_no, notes
		FROM stock_records WHERE client_id = $1 ORDER BY txn_date, seq`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockRecord
	for rows.Next() {
		var (
			rec       StockRecord
			direction string
		)
		if err := rows.Scan(&rec.ID, &rec.ClientID, &rec.Seq, &direction, &rec.ProductName, &rec.Quantity, &rec.Unit, &rec.Rate, &rec.Amount, &rec.Date, &rec.InvoiceNo, &rec.Notes); err != nil {
			return nil, err
		}
		rec.Direction = Direction(direction)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *txRepo) ListCashRecords(ctx context.Context, clientID int64) ([]CashRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, client_id, seq, direction, amount, category, payment_mode, txn_date, notes
		FROM cash_records WHERE client_id = $1 ORDER BY txn_date, seq`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CashRecord
	for rows.Next() {
		var (
			rec       CashRecord
			direction string
		)
		if err := rows.Scan(&rec.ID, &rec.ClientID, &rec.Seq, &direction, &rec.Amount, &rec.Category, &rec.PaymentMode, &rec.Date, &rec.Notes); err != nil {
			return nil, err
		}
		rec.Direction = Direction(direction)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (t *txRepo) SaveStockRecord(ctx context.Context, rec *StockRecord) error {
	if rec.ID == 0 {
		return t.tx.QueryRow(ctx, `
			INSERT INTO stock_records (client_id, direction, product_name, quantity, unit, rate, amount, txn_date, invoice_no, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
			RETURNING id, seq`,
			rec.ClientID, string(rec.Direction), rec.ProductName, rec.Quantity, rec.Unit, rec.Rate, rec.Amount, CalendarDay(rec.Date), rec.InvoiceNo, rec.Notes,
		).Scan(&rec.ID, &rec.Seq)
	}
	err := t.tx.QueryRow(ctx, `
		UPDATE stock_records
		SET direction = $3, product_name = $4, quantity = $5, unit = $6, rate = $7, amount = $8, txn_date = $9, invoice_no = $10, notes = $11, updated_at = NOW()
		WHERE id = $1 AND client_id = $2
		RETURNING seq`,
		rec.ID, rec.ClientID, string(rec.Direction), rec.ProductName, rec.Quantity, rec.Unit, rec.Rate, rec.Amount, CalendarDay(rec.Date), rec.InvoiceNo, rec.Notes,
	).Scan(&rec.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFound("stock record", rec.ID).WithClient(rec.ClientID).WithRecord(string(CategoryStock), rec.ID)
	}
	return err
}

func (t *txRepo) SaveCashRecord(ctx context.Context, rec *CashRecord) error {
	if rec.ID == 0 {
		return t.tx.QueryRow(ctx, `
			INSERT INTO cash_records (client_id, direction, amount, category, payment_mode, txn_date, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
			RETURNING id, seq`,
			rec.ClientID, string(rec.Direction), rec.Amount, rec.Category, rec.PaymentMode, CalendarDay(rec.Date), rec.Notes,
		).Scan(&rec.ID, &rec.Seq)
	}
	err := t.tx.QueryRow(ctx, `
		UPDATE cash_records
		SET direction = $3, amount = $4, category = $5, payment_mode = $6, txn_date = $7, notes = $8, updated_at = NOW()
		WHERE id = $1 AND client_id = $2
		RETURNING seq`,
		rec.ID, rec.ClientID, string(rec.Direction), rec.Amount, rec.Category, rec.PaymentMode, CalendarDay(rec.Date), rec.Notes,
	).Scan(&rec.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.NotFound("cash record", rec.ID).WithClient(rec.ClientID).WithRecord(string(CategoryCash), rec.ID)
	}
	return err
}

func (t *txRepo) DeleteStockRecord(ctx context.Context, clientID, id int64) error {
	return t.deleteRecord(ctx, "stock_records", CategoryStock, clientID, id)
}

func (t *txRepo) DeleteCashRecord(ctx context.Context, clientID, id int64) error {
	return t.deleteRecord(ctx, "cash_records", CategoryCash, clientID, id)
}

func (t *txRepo) deleteRecord(ctx context.Context, table string, kind Category, clientID, id int64) error {
	tag, err := t.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND client_id = $2`, table), id, clientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound(string(kind)+" record", id).WithClient(clientID).WithRecord(string(kind), id)
	}
	return nil
}

func (t *txRepo) CommitBalance(ctx context.Context, clientID int64, balance decimal.Decimal, prev, next int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE clients SET current_balance = $2, ledger_version = $4, updated_at = NOW()
		WHERE id = $1 AND ledger_version = $3`, clientID, balance, prev, next)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.Conflictf(clientID, "ledger version %d already replaced", prev)
	}
	return nil
}
