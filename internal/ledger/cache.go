package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const snapshotKeyPrefix = "ledger:snapshot:"

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[int64]*Snapshot
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[int64]*Snapshot)}
}

// Get returns a copy of the stored snapshot.
func (m *MemoryStore) Get(_ context.Context, clientID int64) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snaps[clientID]
	if !ok {
		return nil, nil
	}
	return snap.clone(), nil
}

// Put stores the snapshot unless a newer version exists.
func (m *MemoryStore) Put(_ context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.New("ledger: nil snapshot")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.snaps[snap.ClientID]; ok && cur.Version > snap.Version {
		return shared.Conflictf(snap.ClientID, "snapshot version %d is older than stored %d", snap.Version, cur.Version)
	}
	m.snaps[snap.ClientID] = snap.clone()
	return nil
}

// Invalidate drops the client's snapshot.
func (m *MemoryStore) Invalidate(_ context.Context, clientID int64) error {
	m.mu.Lock()
	delete(m.snaps, clientID)
	m.mu.Unlock()
	return nil
}

// RedisStore persists versioned snapshots as JSON in Redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore builds a Redis backed store. A zero ttl keeps snapshots until replaced.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func snapshotKey(clientID int64) string {
	return snapshotKeyPrefix + strconv.FormatInt(clientID, 10)
}

// Get loads the snapshot, returning nil on a miss.
func (r *RedisStore) Get(ctx context.Context, clientID int64) (*Snapshot, error) {
	payload, err := r.client.Get(ctx, snapshotKey(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: load snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("ledger: decode snapshot: %w", err)
	}
	return &snap, nil
}

// Put replaces the snapshot with an optimistic version check.
func (r *RedisStore) Put(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return errors.New("ledger: nil snapshot")
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("ledger: encode snapshot: %w", err)
	}
	key := snapshotKey(snap.ClientID)
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var cur struct {
				Version int64 `json:"version"`
			}
			if err := json.Unmarshal(raw, &cur); err == nil && cur.Version > snap.Version {
				return shared.Conflictf(snap.ClientID, "snapshot version %d is older than stored %d", snap.Version, cur.Version)
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, r.ttl)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return shared.Conflictf(snap.ClientID, "snapshot replaced concurrently")
	}
	if err != nil && !errors.Is(err, shared.ErrConflict) {
		return fmt.Errorf("ledger: store snapshot: %w", err)
	}
	return err
}

// Invalidate removes the cached snapshot.
func (r *RedisStore) Invalidate(ctx context.Context, clientID int64) error {
	return r.client.Del(ctx, snapshotKey(clientID)).Err()
}

func (s *Snapshot) clone() *Snapshot {
	cp := *s
	cp.Entries = append([]LedgerEntry(nil), s.Entries...)
	return &cp
}
