package kv

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis implements Store on a go-redis client.
type Redis struct {
	rdb *redis.Client
}

// NewRedis connects to the shared redis instance and verifies the connection
// with a ping.
func NewRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{rdb: rdb}, nil
}

// WrapRedis adapts an existing client (used by tests against miniature
// servers and by callers that manage the client lifecycle themselves).
func WrapRedis(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

// Client exposes the underlying client for collaborators that need the raw
// connection, such as the redislock-based lease manager.
func (r *Redis) Client() *redis.Client { return r.rdb }

// Close releases the underlying connection pool.
func (r *Redis) Close() error { return r.rdb.Close() }

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	val, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

// SetNX implements Store.
func (r *Redis) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

// IncrBy implements Store.
func (r *Redis) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return r.rdb.IncrBy(ctx, key, n).Result()
}

// Expire implements Store.
func (r *Redis) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.rdb.Expire(ctx, key, ttl).Err()
}

// Keys implements Store.
func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	return r.rdb.Keys(ctx, pattern).Result()
}
