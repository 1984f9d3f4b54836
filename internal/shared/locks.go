package shared

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LedgerLockKey builds the lock key guarding a client's recomputation scope.
func LedgerLockKey(clientID int64) string {
	return fmt.Sprintf("ledger:client:%d:lock", clientID)
}

// StatementLockKey builds the lock key guarding one client's statement period.
func StatementLockKey(clientID int64, period string) string {
	return fmt.Sprintf("statement:client:%d:%s:lock", clientID, period)
}

// Locker acquires exclusive scopes by key. The returned release func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// KeyedMutex serialises work per key inside one process. Keys never contend with each other.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex constructs an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until the key is free or ctx is done. The ttl is ignored in-process.
func (k *KeyedMutex) Lock(ctx context.Context, key string, _ time.Duration) (func(), error) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedEntry{ch: make(chan struct{}, 1)}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
	case <-ctx.Done():
		k.drop(key, entry)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-entry.ch
			k.drop(key, entry)
		})
	}, nil
}

func (k *KeyedMutex) drop(key string, entry *keyedEntry) {
	k.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

// Len reports how many keys are currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
