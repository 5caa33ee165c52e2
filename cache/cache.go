package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store is a TTL-bounded key/value cache. Implementations must be safe for
// concurrent use. The context is unused by in-process implementations but
// lets networked backends honour cancellation.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool, error)
	Set(ctx context.Context, key string, value V) error
	Delete(ctx context.Context, key string) error
}

type entry[V any] struct {
	value    V
	expiry   time.Time
	lastSeen time.Time
}

// Memory is an in-process Store with a fixed TTL and a soft entry cap.
type Memory[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]

	ttl time.Duration
	cap int
	now func() time.Time
}

// MemoryOption configures a Memory cache.
type MemoryOption[V any] func(*Memory[V])

// WithClock overrides the time source for deterministic testing.
func WithClock[V any](now func() time.Time) MemoryOption[V] {
	return func(m *Memory[V]) {
		if now != nil {
			m.now = now
		}
	}
}

// WithCap sets the maximum number of resident entries.
func WithCap[V any](cap int) MemoryOption[V] {
	return func(m *Memory[V]) { m.cap = cap }
}

// NewMemory constructs an in-process cache whose entries expire after ttl.
func NewMemory[V any](ttl time.Duration, opts ...MemoryOption[V]) *Memory[V] {
	m := &Memory[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		cap:     8192,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ttl <= 0 {
		m.ttl = time.Minute
	}
	return m
}

// Get returns the cached value for key when the entry is still fresh.
func (m *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero V
	state, ok := m.entries[key]
	if !ok {
		return zero, false, nil
	}
	now := m.now()
	if now.After(state.expiry) {
		delete(m.entries, key)
		return zero, false, nil
	}
	state.lastSeen = now
	m.entries[key] = state
	return state.value, true, nil
}

// Set stores the value under key, replacing any previous entry.
func (m *Memory[V]) Set(_ context.Context, key string, value V) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.entries[key] = entry[V]{value: value, expiry: now.Add(m.ttl), lastSeen: now}
	if m.cap > 0 && len(m.entries) > m.cap {
		m.evictLocked(now)
	}
	return nil
}

// Delete removes the entry for key.
func (m *Memory[V]) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Len reports the number of resident entries, expired or not.
func (m *Memory[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory[V]) evictLocked(now time.Time) {
	for key, state := range m.entries {
		if now.After(state.expiry) {
			delete(m.entries, key)
		}
	}
	if len(m.entries) <= m.cap {
		return
	}
	type aged struct {
		key      string
		lastSeen time.Time
	}
	ordered := make([]aged, 0, len(m.entries))
	for key, state := range m.entries {
		ordered = append(ordered, aged{key: key, lastSeen: state.lastSeen})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].lastSeen.Before(ordered[j].lastSeen) })
	excess := len(m.entries) - m.cap
	for i := 0; i < excess && i < len(ordered); i++ {
		delete(m.entries, ordered[i].key)
	}
}
