package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func testSnapshot(t *testing.T, version int64) *Snapshot {
	t.Helper()
	stock, cash := scenarioRecords(7)
	balanced, balance := foldScenario(t, stock, cash)
	return &Snapshot{ClientID: 7, Version: version, Entries: balanced, Balance: balance, ComputedAt: day3}
}

func exerciseStore(t *testing.T, store SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	miss, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.Nil(t, miss)

	require.NoError(t, store.Put(ctx, testSnapshot(t, 2)))
	got, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
	require.Equal(t, []string{"500.00", "300.00", "100.00"}, balances(got.Entries))
	require.True(t, got.Balance.Equal(dec("100")))

	err = store.Put(ctx, testSnapshot(t, 1))
	require.ErrorIs(t, err, shared.ErrConflict)
	got, err = store.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)

	require.NoError(t, store.Put(ctx, testSnapshot(t, 3)))
	require.NoError(t, store.Invalidate(ctx, 7))
	miss, err = store.Get(ctx, 7)
	require.NoError(t, err)
	require.Nil(t, miss)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, testSnapshot(t, 1)))

	got, err := store.Get(ctx, 7)
	require.NoError(t, err)
	got.Entries[0].BalanceAfter = dec("0")

	again, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, again.Entries[0].BalanceAfter.Equal(dec("500")))
}

func newRedisStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, ttl), mr
}

func TestRedisStore(t *testing.T) {
	store, _ := newRedisStore(t, 0)
	exerciseStore(t, store)
}

func TestRedisStoreTTL(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t, time.Minute)
	require.NoError(t, store.Put(ctx, testSnapshot(t, 1)))
	require.True(t, mr.Exists(snapshotKey(7)))

	mr.FastForward(2 * time.Minute)
	miss, err := store.Get(ctx, 7)
	require.NoError(t, err)
	require.Nil(t, miss)
}

func TestRedisStoreCorruptPayload(t *testing.T) {
	store, mr := newRedisStore(t, 0)
	require.NoError(t, mr.Set(snapshotKey(7), "{not json"))
	_, err := store.Get(context.Background(), 7)
	require.Error(t, err)
}
