package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const (
	defaultLockTTL     = 30 * time.Second
	defaultMaxAttempts = 5
)

// Mutation is an upstream record write applied inside the recompute transaction.
type Mutation interface {
	// Validate rejects malformed input before any lock or transaction is taken.
	Validate(clientID int64) error
	Apply(ctx context.Context, tx TxRepository, clientID int64) (SourceRef, ChangeOp, error)
}

// CoordinatorOptions tunes the coordinator.
type CoordinatorOptions struct {
	LockTTL     time.Duration
	MaxAttempts int
	Metrics     *Metrics
	Audit       AuditPort
	Logger      *slog.Logger
	Clock       func() time.Time
}

// Coordinator is the only writer of snapshots and stored balances. Work is serialised per
// client; different clients proceed in parallel.
type Coordinator struct {
	repo    RepositoryPort
	store   SnapshotStore
	locker  shared.Locker
	opts    CoordinatorOptions
	epochs  sync.Map
	warming singleflight.Group
}

// NewCoordinator wires the coordinator.
func NewCoordinator(repo RepositoryPort, store SnapshotStore, locker shared.Locker, opts CoordinatorOptions) *Coordinator {
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if locker == nil {
		locker = shared.NewKeyedMutex()
	}
	return &Coordinator{repo: repo, store: store, locker: locker, opts: opts}
}

func (c *Coordinator) logger() *slog.Logger {
	if c.opts.Logger != nil {
		return c.opts.Logger
	}
	return slog.Default().With("component", "ledger.coordinator")
}

// Notify records that an upstream change happened. Any recompute of the client still in
// flight is superseded and restarts against fresh records.
func (c *Coordinator) Notify(evt ChangeEvent) {
	c.epoch(evt.ClientID).Add(1)
}

func (c *Coordinator) epoch(clientID int64) *atomic.Int64 {
	v, _ := c.epochs.LoadOrStore(clientID, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Recompute rebuilds the client's snapshot from the full record set and commits the new
// balance. On failure the previously committed snapshot and balance are left untouched.
func (c *Coordinator) Recompute(ctx context.Context, clientID int64) (*Snapshot, error) {
	snap, _, err := c.run(ctx, clientID, nil)
	return snap, err
}

// Mutate applies m and the resulting recompute in one transaction, so the write and the
// balance become visible together or not at all.
func (c *Coordinator) Mutate(ctx context.Context, clientID int64, m Mutation) (*Snapshot, SourceRef, error) {
	if m == nil {
		return nil, SourceRef{}, shared.Validationf("mutation required")
	}
	if err := m.Validate(clientID); err != nil {
		return nil, SourceRef{}, err
	}
	return c.run(ctx, clientID, m)
}

// Ensure returns a snapshot for a cold client. Concurrent callers share one recompute.
func (c *Coordinator) Ensure(ctx context.Context, clientID int64) (*Snapshot, error) {
	ch := c.warming.DoChan(strconv.FormatInt(clientID, 10), func() (interface{}, error) {
		return c.Recompute(context.WithoutCancel(ctx), clientID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

func (c *Coordinator) run(ctx context.Context, clientID int64, m Mutation) (*Snapshot, SourceRef, error) {
	if clientID <= 0 {
		return nil, SourceRef{}, shared.Validationf("client id must be positive")
	}
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		started := time.Now()
		snap, ref, op, err := c.attempt(ctx, clientID, m)
		switch {
		case err == nil:
			c.opts.Metrics.observeRecompute("success", started)
			if m != nil {
				c.audit(ctx, snap, ref, op)
			}
			return snap, ref, nil
		case errors.Is(err, shared.ErrConflict):
			c.opts.Metrics.observeRecompute("conflict", started)
			c.logger().Warn("ledger recompute superseded", "client_id", clientID, "attempt", attempt)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, SourceRef{}, ctxErr
			}
			continue
		default:
			c.opts.Metrics.observeRecompute("failure", started)
			if !shared.IsUserVisible(err) {
				c.logger().Error("ledger recompute failed", shared.ErrorAttrs(err)...)
			}
			return nil, SourceRef{}, err
		}
	}
	return nil, SourceRef{}, shared.Conflictf(clientID, "recompute superseded %d times", c.opts.MaxAttempts)
}

func (c *Coordinator) attempt(ctx context.Context, clientID int64, m Mutation) (*Snapshot, SourceRef, ChangeOp, error) {
	release, err := c.locker.Lock(ctx, shared.LedgerLockKey(clientID), c.opts.LockTTL)
	if err != nil {
		return nil, SourceRef{}, "", err
	}
	defer release()

	epoch := c.epoch(clientID).Load()
	var (
		snap *Snapshot
		ref  SourceRef
		op   ChangeOp
	)
	err = c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		client, err := tx.LockClient(ctx, clientID)
		if err != nil {
			return err
		}
		if m != nil {
			if ref, op, err = m.Apply(ctx, tx, clientID); err != nil {
				return err
			}
		}
		balanced, balance, err := c.build(ctx, tx, clientID)
		if err != nil {
			return err
		}
		if c.epoch(clientID).Load() != epoch {
			return shared.Conflictf(clientID, "superseded by a newer change")
		}
		next := client.LedgerVersion + 1
		if err := tx.CommitBalance(ctx, clientID, balance, client.LedgerVersion, next); err != nil {
			return err
		}
		snap = &Snapshot{
			ClientID:   clientID,
			Version:    next,
			Entries:    balanced,
			Balance:    balance,
			ComputedAt: c.opts.Clock().UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, SourceRef{}, "", err
	}
	c.publish(ctx, snap)
	return snap, ref, op, nil
}

func (c *Coordinator) build(ctx context.Context, tx TxRepository, clientID int64) ([]LedgerEntry, decimal.Decimal, error) {
	stock, err := tx.ListStockRecords(ctx, clientID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	cash, err := tx.ListCashRecords(ctx, clientID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	merged, err := Merge(stock, cash)
	if err != nil {
		return nil, decimal.Zero, storedRecordErr(clientID, err)
	}
	return Fold(clientID, merged)
}

// storedRecordErr reports a record that is already persisted but cannot be normalized.
// That is an internal failure, not caller input.
func storedRecordErr(clientID int64, err error) error {
	ce := shared.Computation(clientID, fmt.Errorf("merge: %v", err))
	var le *shared.Error
	if errors.As(err, &le) && le.RecordKind != "" {
		ce = ce.WithRecord(le.RecordKind, le.RecordID)
	}
	return ce
}

func (c *Coordinator) publish(ctx context.Context, snap *Snapshot) {
	if c.store == nil {
		return
	}
	err := c.store.Put(ctx, snap)
	if err == nil || errors.Is(err, shared.ErrConflict) {
		return
	}
	c.logger().Warn("ledger snapshot publish failed", "client_id", snap.ClientID, "version", snap.Version, "error", err)
	if err := c.store.Invalidate(ctx, snap.ClientID); err != nil {
		c.logger().Warn("ledger snapshot invalidate failed", "client_id", snap.ClientID, "error", err)
	}
}

func (c *Coordinator) audit(ctx context.Context, snap *Snapshot, ref SourceRef, op ChangeOp) {
	if c.opts.Audit == nil || snap == nil {
		return
	}
	entry := AuditEntry{ClientID: snap.ClientID, Source: ref, Action: string(op), Balance: snap.Balance, Version: snap.Version}
	if err := c.opts.Audit.Record(ctx, entry); err != nil {
		c.logger().Warn("ledger audit failed", "client_id", snap.ClientID, "error", err)
	}
}

// IntegrityReport compares stored state with a fresh fold.
type IntegrityReport struct {
	ClientID        int64           `json:"clientId"`
	StoredVersion   int64           `json:"storedVersion"`
	StoredBalance   decimal.Decimal `json:"storedBalance"`
	ComputedBalance decimal.Decimal `json:"computedBalance"`
	CachedVersion   int64           `json:"cachedVersion"`
	BalanceDrift    bool            `json:"balanceDrift"`
	SnapshotInvalid bool            `json:"snapshotInvalid"`
}

// Healthy reports whether nothing needs repair.
func (r IntegrityReport) Healthy() bool {
	return !r.BalanceDrift && !r.SnapshotInvalid
}

// Check folds the client's records without committing anything and compares the result
// with the stored balance and the cached snapshot.
func (c *Coordinator) Check(ctx context.Context, clientID int64) (IntegrityReport, error) {
	report := IntegrityReport{ClientID: clientID}
	err := c.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		client, err := tx.LockClient(ctx, clientID)
		if err != nil {
			return err
		}
		_, balance, err := c.build(ctx, tx, clientID)
		if err != nil {
			return err
		}
		report.StoredVersion = client.LedgerVersion
		report.StoredBalance = client.CurrentBalance
		report.ComputedBalance = balance
		report.BalanceDrift = !client.CurrentBalance.Equal(balance)
		return nil
	})
	if err != nil {
		return report, err
	}
	if c.store == nil {
		return report, nil
	}
	snap, err := c.store.Get(ctx, clientID)
	if err != nil {
		return report, err
	}
	if snap != nil {
		report.CachedVersion = snap.Version
		if Verify(snap.Entries) != -1 {
			report.SnapshotInvalid = true
		}
		if snap.Version == report.StoredVersion && !snap.Balance.Equal(report.ComputedBalance) {
			report.SnapshotInvalid = true
		}
	}
	return report, nil
}
