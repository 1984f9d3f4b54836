package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// RedisLocker implements shared.Locker across processes with redislock. Acquisition
// retries with linear backoff until ctx is done.
type RedisLocker struct {
	client  *redislock.Client
	backoff time.Duration
	logger  *slog.Logger
}

// NewRedisLocker wraps a Redis client.
func NewRedisLocker(rdb redis.UniversalClient, logger *slog.Logger) *RedisLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{client: redislock.New(rdb), backoff: 100 * time.Millisecond, logger: logger}
}

// Lock obtains key for ttl, waiting while another holder has it.
func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lock, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.backoff),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, shared.Conflictf(0, "lock %s held elsewhere", key)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		// Release must run even when the caller's context is already cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.logger.Warn("release lock", slog.String("key", key), slog.Any("error", err))
		}
	}, nil
}

var _ shared.Locker = (*RedisLocker)(nil)
