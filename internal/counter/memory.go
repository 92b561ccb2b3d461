package counter

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for dev mode and tests. It honors the
// same atomicity and TTL contract as RedisStore but is, by nature, scoped to
// one process — production deployments use Redis.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time // zero = no expiry
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// IncrBy atomically increments key by n, creating it with ttl when absent
// or expired.
func (s *MemoryStore) IncrBy(_ context.Context, key string, n int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || (!e.expiresAt.IsZero() && now.After(e.expiresAt)) {
		e = &memoryEntry{}
		if ttl > 0 {
			e.expiresAt = now.Add(ttl)
		}
		s.entries[key] = e
	}
	e.count += n
	return e.count, nil
}

// IncrIfBelow atomically increments key by n unless that would push it past
// max.
func (s *MemoryStore) IncrIfBelow(_ context.Context, key string, n, max int64, ttl time.Duration) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || (!e.expiresAt.IsZero() && now.After(e.expiresAt)) {
		e = &memoryEntry{}
		if ttl > 0 {
			e.expiresAt = now.Add(ttl)
		}
		s.entries[key] = e
	}
	if e.count+n > max {
		return e.count, false, nil
	}
	e.count += n
	return e.count, true, nil
}

// Get returns the current count for key, 0 when absent or expired.
func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return 0, nil
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return 0, nil
	}
	return e.count, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
