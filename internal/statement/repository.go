package statement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RepositoryPort abstracts statement persistence.
type RepositoryPort interface {
	ListDeliveryClients(ctx context.Context) ([]ledger.Client, error)
	GetClient(ctx context.Context, clientID int64) (ledger.Client, error)
	// GetDelivery reports found=false when the period has no state yet.
	GetDelivery(ctx context.Context, clientID int64, period string) (Delivery, bool, error)
	SaveDelivery(ctx context.Context, d Delivery) error
	// MarkSent stores the SENT state and the client's lastStatementSentAt in one transaction.
	MarkSent(ctx context.Context, d Delivery) error
	TouchLastSent(ctx context.Context, clientID int64, at time.Time) error
	ListDeliveries(ctx context.Context, clientID int64, limit int) ([]Delivery, error)
}

// Repository is the PostgreSQL implementation of RepositoryPort.
type Repository struct {
	pool    *pgxpool.Pool
	clients *ledger.Repository
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, clients: ledger.NewRepository(pool)}
}

// ListDeliveryClients returns clients with statement delivery enabled.
func (r *Repository) ListDeliveryClients(ctx context.Context) ([]ledger.Client, error) {
	return r.clients.ListDeliveryClients(ctx)
}

// GetClient loads a client.
func (r *Repository) GetClient(ctx context.Context, clientID int64) (ledger.Client, error) {
	return r.clients.GetClient(ctx, clientID)
}

const deliveryColumns = `id, client_id, period, status, reason, attempts, last_error, sent_at, updated_at`

func scanDelivery(row pgx.Row) (Delivery, error) {
	var (
		d              Delivery
		status, reason string
		sentAt         pgtype.Timestamptz
	)
	if err := row.Scan(&d.ID, &d.ClientID, &d.Period, &status, &reason, &d.Attempts, &d.LastError, &sentAt, &d.UpdatedAt); err != nil {
		return Delivery{}, err
	}
	d.Status = Status(status)
	d.Reason = SkipReason(reason)
	if sentAt.Valid {
		t := sentAt.Time
		d.SentAt = &t
	}
	return d, nil
}

// GetDelivery loads the state of one period.
func (r *Repository) GetDelivery(ctx context.Context, clientID int64, period string) (Delivery, bool, error) {
	d, err := scanDelivery(r.pool.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM statement_deliveries WHERE client_id = $1 AND period = $2`, clientID, period))
	if errors.Is(err, pgx.ErrNoRows) {
		return Delivery{}, false, nil
	}
	if err != nil {
		return Delivery{}, false, err
	}
	return d, true, nil
}

// SaveDelivery upserts the period state. A terminal row is never overwritten.
func (r *Repository) SaveDelivery(ctx context.Context, d Delivery) error {
	return saveDelivery(ctx, r.pool, d)
}

func saveDelivery(ctx context.Context, q interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
}, d Delivery) error {
	var sentAt any
	if d.SentAt != nil {
		sentAt = *d.SentAt
	}
	tag, err := q.Exec(ctx, `
		INSERT INTO statement_deliveries (id, client_id, period, status, reason, attempts, last_error, sent_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (client_id, period) DO UPDATE
		SET status = EXCLUDED.status, reason = EXCLUDED.reason, attempts = EXCLUDED.attempts,
		    last_error = EXCLUDED.last_error, sent_at = EXCLUDED.sent_at, updated_at = EXCLUDED.updated_at
		WHERE statement_deliveries.status = 'PENDING'`,
		d.ID, d.ClientID, d.Period, string(d.Status), string(d.Reason), d.Attempts, d.LastError, sentAt, d.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.Conflictf(d.ClientID, "statement %s already finalised", d.Period)
	}
	return nil
}

// MarkSent records the delivery and the client's last sent timestamp atomically.
func (r *Repository) MarkSent(ctx context.Context, d Delivery) error {
	if d.SentAt == nil {
		return errors.New("statement: sent delivery requires sent_at")
	}
	return db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		if err := saveDelivery(ctx, tx, d); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE clients SET last_statement_sent_at = $2, updated_at = NOW() WHERE id = $1`, d.ClientID, *d.SentAt)
		return err
	})
}

// TouchLastSent updates lastStatementSentAt only.
func (r *Repository) TouchLastSent(ctx context.Context, clientID int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE clients SET last_statement_sent_at = $2, updated_at = NOW() WHERE id = $1`, clientID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.NotFound("client", clientID)
	}
	return nil
}

// ListDeliveries returns a client's period states, newest period first.
func (r *Repository) ListDeliveries(ctx context.Context, clientID int64, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 24
	}
	rows, err := r.pool.Query(ctx, `SELECT `+deliveryColumns+` FROM statement_deliveries WHERE client_id = $1 ORDER BY period DESC LIMIT $2`, clientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
