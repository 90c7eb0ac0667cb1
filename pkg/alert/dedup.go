package alert

import (
	"context"
	"sync"
	"time"
)

// DedupStore remembers recently dispatched alert identities.
type DedupStore interface {
	// Claim records key for ttl. It returns false when key was already
	// claimed and has not yet expired.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryDedup is an in-process DedupStore.
type MemoryDedup struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryDedup creates an empty store.
func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{expires: make(map[string]time.Time), now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (m *MemoryDedup) WithClock(now func() time.Time) *MemoryDedup {
	m.now = now
	return m
}

// Claim implements DedupStore.
func (m *MemoryDedup) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if until, ok := m.expires[key]; ok && now.Before(until) {
		return false, nil
	}
	m.expires[key] = now.Add(ttl)

	// prune so the history stays small
	for k, until := range m.expires {
		if !now.Before(until) {
			delete(m.expires, k)
		}
	}
	return true, nil
}

// Len is the number of live entries.
func (m *MemoryDedup) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.expires)
}
