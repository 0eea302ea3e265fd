package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryManager is an in-process Manager for tests and single-instance
// development. It reproduces the shared-store semantics exactly: a key is
// acquirable iff it is absent or its recorded lease has expired, and only
// the original holder token can release a live lease.
type MemoryManager struct {
	mu     sync.Mutex
	leases map[string]memLease

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type memLease struct {
	holder    string
	expiresAt time.Time
}

// NewMemoryManager returns an empty in-process lease manager.
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{leases: map[string]memLease{}, Now: time.Now}
}

// Acquire implements Manager.
func (m *MemoryManager) Acquire(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	if cur, ok := m.leases[key]; ok && now.Before(cur.expiresAt) {
		return nil, ErrBusy
	}
	holder := uuid.NewString()
	m.leases[key] = memLease{holder: holder, expiresAt: now.Add(ttl)}
	return &memoryLease{mgr: m, key: key, holder: holder}, nil
}

type memoryLease struct {
	mgr    *MemoryManager
	key    string
	holder string
}

func (l *memoryLease) Key() string { return l.key }

func (l *memoryLease) Release(_ context.Context) error {
	l.mgr.mu.Lock()
	defer l.mgr.mu.Unlock()
	if cur, ok := l.mgr.leases[l.key]; ok && cur.holder == l.holder {
		delete(l.mgr.leases, l.key)
	}
	return nil
}
