// Package guard provides short-lived exclusive keys used for cooldowns and locks.
package guard

import (
	"context"
	"sync"
	"time"
)

// Guard claims a key for a bounded time.
type Guard interface {
	// CheckAndSet claims key for ttl. It returns false when key is already held.
	CheckAndSet(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Remaining reports how long key stays held; zero when free.
	Remaining(ctx context.Context, key string) (time.Duration, error)
	// Release frees key before its ttl elapses.
	Release(ctx context.Context, key string) error
}

// Memory is a process-local Guard.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemory returns an empty in-process guard.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock returns a guard reading time from now.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{entries: make(map[string]time.Time), now: now}
}

func (m *Memory) CheckAndSet(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if expires, ok := m.entries[key]; ok && now.Before(expires) {
		return false, nil
	}
	m.entries[key] = now.Add(ttl)
	return true, nil
}

func (m *Memory) Remaining(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expires, ok := m.entries[key]
	if !ok {
		return 0, nil
	}
	left := expires.Sub(m.now())
	if left <= 0 {
		return 0, nil
	}
	return left, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, expires := range m.entries {
		if !now.Before(expires) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys, expired or not.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
