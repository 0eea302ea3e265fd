// Package kv defines the shared key-value store behind the session vault,
// confirm tokens, idempotency records, cooldown bookkeeping, and quota
// counters. Keeping these concerns on one fast store keeps failure modes
// uniform and lets prepare and publish land on different instances.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound indicates the key does not exist or has expired.
var ErrNotFound = errors.New("kv: not found")

// Store is the minimal surface the application needs from the shared store.
// The redis implementation is authoritative in production; Memory exists for
// tests and single-instance development.
type Store interface {
	// Get returns the raw value or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set writes a value with a TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX writes only if the key is absent; returns true when it wrote.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// IncrBy atomically adds n and returns the new value, creating the key
	// at zero if absent.
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	// Expire sets a TTL on an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Keys returns keys matching a glob pattern. Used only by low-volume
	// sweeps (reconciliation, unfollow), never on hot paths.
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// GetJSON unmarshals the value at key into dest. Returns (false, nil) when
// the key is absent or expired.
func GetJSON(ctx context.Context, s Store, key string, dest any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON marshals obj and stores it with a TTL.
func SetJSON(ctx context.Context, s Store, key string, obj any, ttl time.Duration) error {
	raw, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(raw), ttl)
}

// SetNXJSON marshals obj and stores it only if the key is absent. The bool
// reports whether this call performed the write.
func SetNXJSON(ctx context.Context, s Store, key string, obj any, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return false, err
	}
	return s.SetNX(ctx, key, string(raw), ttl)
}
