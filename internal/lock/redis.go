package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisManager implements Manager on redislock. Redis SET NX PX already has
// the absent-or-expired semantics a lease needs, and redislock's random
// token ensures only the holder can release.
type RedisManager struct {
	client *redislock.Client
}

// NewRedisManager wraps a redis client in a lease manager.
func NewRedisManager(rdb *redis.Client) *RedisManager {
	return &RedisManager{client: redislock.New(rdb)}
}

// Acquire implements Manager. No retry strategy is configured: a contended
// resource means another instance is doing the work, so we report ErrBusy
// immediately instead of queueing behind it.
func (m *RedisManager) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	l, err := m.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrBusy
	}
	if err != nil {
		return nil, err
	}
	return &redisLease{key: key, lock: l}, nil
}

type redisLease struct {
	key  string
	lock *redislock.Lock
}

func (l *redisLease) Key() string { return l.key }

func (l *redisLease) Release(ctx context.Context) error {
	err := l.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		// Lease expired and possibly moved on; nothing of ours to remove.
		return nil
	}
	return err
}
