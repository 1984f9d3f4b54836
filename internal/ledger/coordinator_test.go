package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func newTestCoordinator(repo *memRepo, store SnapshotStore, opts CoordinatorOptions) *Coordinator {
	return NewCoordinator(repo, store, shared.NewKeyedMutex(), opts)
}

func TestCoordinatorReferenceLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(7)
	store := NewMemoryStore()
	audit := &fakeAudit{}
	c := newTestCoordinator(repo, store, CoordinatorOptions{Audit: audit})

	_, cashID, purchaseID := seedScenario(t, c, 7)
	require.True(t, repo.client(7).CurrentBalance.Equal(dec("100")))
	require.Equal(t, int64(3), repo.client(7).LedgerVersion)

	snap, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(3), snap.Version)
	require.Equal(t, []string{"500.00", "300.00", "100.00"}, balances(snap.Entries))

	snap, ref, err := c.Mutate(ctx, 7, SaveCash(CashRecord{ID: cashID, Direction: DirectionIn, Amount: dec("300"), PaymentMode: "UPI", Date: day2}))
	require.NoError(t, err)
	require.Equal(t, SourceRef{Kind: CategoryCash, ID: cashID}, ref)
	require.Equal(t, []string{"500.00", "200.00", "0.00"}, balances(snap.Entries))
	require.True(t, repo.client(7).CurrentBalance.IsZero())

	snap, _, err = c.Mutate(ctx, 7, DeleteStock(purchaseID))
	require.NoError(t, err)
	require.Equal(t, []string{"500.00", "200.00"}, balances(snap.Entries))
	require.True(t, snap.Balance.Equal(dec("200")))
	require.True(t, repo.client(7).CurrentBalance.Equal(dec("200")))
	require.Equal(t, int64(5), repo.client(7).LedgerVersion)

	require.Len(t, audit.entries, 5)
	require.Equal(t, string(ChangeCreated), audit.entries[0].Action)
	require.Equal(t, string(ChangeUpdated), audit.entries[3].Action)
	require.Equal(t, string(ChangeDeleted), audit.entries[4].Action)
	require.Equal(t, int64(5), audit.entries[4].Version)
}

func TestCoordinatorNotifySupersedesInFlightRecompute(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(7)
	store := NewMemoryStore()
	c := newTestCoordinator(repo, store, CoordinatorOptions{})
	seedScenario(t, c, 7)
	before := repo.txCount

	var once sync.Once
	repo.onList = func(clientID int64) {
		once.Do(func() { c.Notify(ChangeEvent{ClientID: clientID}) })
	}
	snap, err := c.Recompute(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, 2, repo.txCount-before)
	require.Equal(t, int64(4), snap.Version)
	require.Equal(t, int64(4), repo.client(7).LedgerVersion)
}

func TestCoordinatorGivesUpAfterRepeatedSupersession(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(7)
	store := NewMemoryStore()
	c := newTestCoordinator(repo, store, CoordinatorOptions{MaxAttempts: 3})
	seedScenario(t, c, 7)
	before := repo.txCount

	repo.onList = func(clientID int64) { c.Notify(ChangeEvent{ClientID: clientID}) }
	_, err := c.Recompute(ctx, 7)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, 3, repo.txCount-before)

	require.Equal(t, int64(3), repo.client(7).LedgerVersion)
	snap, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(3), snap.Version)
}

func TestCoordinatorFailureKeepsCommittedState(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(7)
	store := NewMemoryStore()
	c := newTestCoordinator(repo, store, CoordinatorOptions{})
	_, cashID, _ := seedScenario(t, c, 7)

	repo.listErr = errors.New("disk on fire")
	_, _, err := c.Mutate(ctx, 7, SaveCash(CashRecord{ID: cashID, Direction: DirectionIn, Amount: dec("300"), Date: day2}))
	require.Error(t, err)
	repo.listErr = nil

	require.True(t, repo.client(7).CurrentBalance.Equal(dec("100")))
	snap, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(3), snap.Version)
	require.Equal(t, []string{"500.00", "300.00", "100.00"}, balances(snap.Entries))

	// The rolled back edit never reached the record store.
	snap, err = c.Recompute(ctx, 7)
	require.NoError(t, err)
	require.True(t, snap.Balance.Equal(dec("100")))
}

func TestCoordinatorCorruptStoredRecordIsComputationError(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(7)
	c := newTestCoordinator(repo, NewMemoryStore(), CoordinatorOptions{})
	seedScenario(t, c, 7)

	repo.mu.Lock()
	repo.state.cash[7] = append(repo.state.cash[7], CashRecord{ID: 99, ClientID: 7, Seq: 99, Direction: DirectionIn, Amount: decimal.Zero, Date: day3})
	repo.mu.Unlock()

	_, err := c.Recompute(ctx, 7)
	require.ErrorIs(t, err, shared.ErrComputation)
	require.NotErrorIs(t, err, shared.ErrValidation)
	var le *shared.Error
	require.ErrorAs(t, err, &le)
	require.Equal(t, "cash", le.RecordKind)
	require.Equal(t, int64(99), le.RecordID)
	require.True(t, repo.client(7).CurrentBalance.Equal(dec("100")))
}

func TestCoordinatorMutateValidatesBeforeTransaction(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(7)
	c := newTestCoordinator(repo, nil, CoordinatorOptions{})

	_, _, err := c.Mutate(ctx, 7, nil)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, _, err = c.Mutate(ctx, 7, SaveCash(CashRecord{ClientID: 8, Direction: DirectionIn, Amount: dec("1"), Date: day1}))
	require.ErrorIs(t, err, shared.ErrValidation)
	_, _, err = c.Mutate(ctx, 7, SaveStock(StockRecord{Direction: DirectionOut, Date: day1}))
	require.ErrorIs(t, err, shared.ErrValidation)
	_, _, err = c.Mutate(ctx, 7, DeleteCash(0))
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, repo.txCount)
}

func TestCoordinatorUnknownTargets(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(7)
	c := newTestCoordinator(repo, nil, CoordinatorOptions{})

	_, err := c.Recompute(ctx, 8)
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, _, err = c.Mutate(ctx, 7, DeleteStock(42))
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = c.Recompute(ctx, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCoordinatorConcurrentMutationsAcrossClients(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(1, 2)
	store := NewMemoryStore()
	c := newTestCoordinator(repo, store, CoordinatorOptions{})

	const perClient = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*perClient)
	for _, clientID := range []int64{1, 2} {
		for i := 0; i < perClient; i++ {
			wg.Add(1)
			go func(clientID int64) {
				defer wg.Done()
				_, _, err := c.Mutate(ctx, clientID, SaveCash(CashRecord{Direction: DirectionOut, Amount: dec("10"), Date: day1}))
				errs <- err
			}(clientID)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for _, clientID := range []int64{1, 2} {
		require.True(t, repo.client(clientID).CurrentBalance.Equal(dec("200")))
		require.Equal(t, int64(perClient), repo.client(clientID).LedgerVersion)
		snap, err := store.Get(ctx, clientID)
		require.NoError(t, err)
		require.Equal(t, int64(perClient), snap.Version)
		require.Len(t, snap.Entries, perClient)
		require.Equal(t, -1, Verify(snap.Entries))
	}
}

func TestCoordinatorEnsureWarmsColdClient(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(7)
	repo.mu.Lock()
	stock, cash := scenarioRecords(7)
	repo.state.stock[7], repo.state.cash[7] = stock, cash
	repo.mu.Unlock()
	store := NewMemoryStore()
	c := newTestCoordinator(repo, store, CoordinatorOptions{})

	snap, err := c.Ensure(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), snap.Version)
	require.True(t, snap.Balance.Equal(dec("100")))

	cached, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(1), cached.Version)
}

func TestCoordinatorLockWaitHonoursContext(t *testing.T) {
	repo := newMemRepo(7)
	locker := shared.NewKeyedMutex()
	c := NewCoordinator(repo, nil, locker, CoordinatorOptions{})

	release, err := locker.Lock(context.Background(), shared.LedgerLockKey(7), time.Second)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Recompute(ctx, 7)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, repo.txCount)
}

func TestCoordinatorCheck(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo(7)
	store := NewMemoryStore()
	c := newTestCoordinator(repo, store, CoordinatorOptions{})
	seedScenario(t, c, 7)

	report, err := c.Check(ctx, 7)
	require.NoError(t, err)
	require.True(t, report.Healthy())
	require.Equal(t, int64(3), report.StoredVersion)
	require.Equal(t, int64(3), report.CachedVersion)

	repo.setBalance(7, dec("90"))
	report, err = c.Check(ctx, 7)
	require.NoError(t, err)
	require.True(t, report.BalanceDrift)
	require.False(t, report.SnapshotInvalid)
	require.True(t, report.ComputedBalance.Equal(dec("100")))

	snap, err := store.Get(ctx, 7)
	require.NoError(t, err)
	snap.Entries[1].BalanceAfter = dec("1")
	require.NoError(t, store.Put(ctx, snap))
	report, err = c.Check(ctx, 7)
	require.NoError(t, err)
	require.True(t, report.SnapshotInvalid)

	// Recompute repairs both.
	_, err = c.Recompute(ctx, 7)
	require.NoError(t, err)
	report, err = c.Check(ctx, 7)
	require.NoError(t, err)
	require.True(t, report.Healthy())
}
