package kv

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store for tests and single-instance development.
// It honors TTLs through an injectable clock so expiry behavior can be
// tested without sleeping. It is not suitable for multi-instance
// deployments: nothing outside this process can observe its state.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memEntry

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{entries: map[string]memEntry{}, Now: time.Now}
}

func (m *Memory) live(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expiresAt.IsZero() && !m.Now().Before(e.expiresAt) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}

// Get implements Store.
func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

// Set implements Store.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{value: value, expiresAt: m.deadline(ttl)}
	return nil
}

// SetNX implements Store.
func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.live(key); ok {
		return false, nil
	}
	m.entries[key] = memEntry{value: value, expiresAt: m.deadline(ttl)}
	return true, nil
}

// Delete implements Store.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// IncrBy implements Store.
func (m *Memory) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur int64
	var expires time.Time
	if e, ok := m.live(key); ok {
		v, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		cur = v
		expires = e.expiresAt
	}
	cur += n
	m.entries[key] = memEntry{value: strconv.FormatInt(cur, 10), expiresAt: expires}
	return cur, nil
}

// Expire implements Store.
func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	if !ok {
		return nil
	}
	e.expiresAt = m.deadline(ttl)
	m.entries[key] = e
	return nil
}

// Keys implements Store. Patterns use redis-style globs, which path.Match
// covers for the '*' and '?' forms used in this codebase.
func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.entries {
		if _, ok := m.live(k); !ok {
			continue
		}
		if matched, err := path.Match(pattern, k); err != nil {
			return nil, err
		} else if matched {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Memory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.Now().Add(ttl)
}
