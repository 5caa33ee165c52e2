package ratelimit

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultLimit defines the fallback maximum number of events per key in a window.
	DefaultLimit = 10

	defaultWindow = time.Hour
	defaultTTL    = 2 * time.Hour
	defaultCap    = 16_384
)

// Limiter bounds events per key across fixed windows while preventing
// unbounded memory growth. Keys are caller-defined, typically an author
// address or an (author, event type) pair. It is safe for concurrent use by
// multiple goroutines.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]window

	window time.Duration
	ttl    time.Duration
	cap    int
}

type window struct {
	windowStart time.Time
	count       int
	lastSeen    time.Time
}

// Option configures a Limiter instance.
type Option func(*Limiter)

// New constructs a limiter with sensible defaults.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]window),
		window:  defaultWindow,
		ttl:     defaultTTL,
		cap:     defaultCap,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.window <= 0 {
		l.window = defaultWindow
	}
	if l.ttl < 0 {
		l.ttl = 0
	}
	if l.cap < 0 {
		l.cap = 0
	}
	return l
}

// WithWindow overrides the fixed window duration used to track counts.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		l.window = d
	}
}

// WithTTL overrides the TTL used for window entries. Entries that have not
// been touched within the TTL are evicted.
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) {
		l.ttl = d
	}
}

// WithCap sets the maximum number of tracked keys.
func WithCap(cap int) Option {
	return func(l *Limiter) {
		l.cap = cap
	}
}

// Allow reports whether the key can proceed within the provided limit and
// consumes one slot when it can. The caller supplies the current time.
// Limits less than or equal to zero fall back to DefaultLimit.
func (l *Limiter) Allow(key string, limit int, now time.Time) bool {
	if limit <= 0 {
		limit = DefaultLimit
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	state := l.windows[key]
	if state.windowStart.IsZero() || now.Sub(state.windowStart) >= l.window {
		state.windowStart = now
		state.count = 0
	}
	if state.count >= limit {
		state.lastSeen = now
		l.windows[key] = state
		return false
	}
	state.count++
	state.lastSeen = now
	l.windows[key] = state

	if l.cap > 0 && len(l.windows) > l.cap {
		l.enforceCapLocked()
	}

	return true
}

// Check reports whether the key has a free slot without consuming one. Use
// it when later pipeline stages may still drop the event; follow up with
// Allow once the event definitely counts.
func (l *Limiter) Check(key string, limit int, now time.Time) bool {
	if limit <= 0 {
		limit = DefaultLimit
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	state, ok := l.windows[key]
	if !ok || state.windowStart.IsZero() || now.Sub(state.windowStart) >= l.window {
		return true
	}
	return state.count < limit
}

// ResetAt returns when the current window for a key will reset. Calling
// ResetAt touches the window to keep hot keys resident.
func (l *Limiter) ResetAt(key string, now time.Time) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pruneLocked(now)

	state := l.windows[key]
	if state.windowStart.IsZero() {
		state.windowStart = now
	}
	state.lastSeen = now
	l.windows[key] = state

	return state.windowStart.Add(l.window)
}

// Len returns the number of tracked keys. Primarily for testing.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

func (l *Limiter) pruneLocked(now time.Time) {
	if l.ttl > 0 {
		for key, state := range l.windows {
			if now.Sub(state.lastSeen) > l.ttl {
				delete(l.windows, key)
			}
		}
	}
	if l.cap > 0 && len(l.windows) > l.cap {
		l.enforceCapLocked()
	}
}

func (l *Limiter) enforceCapLocked() {
	if l.cap <= 0 || len(l.windows) <= l.cap {
		return
	}
	type entry struct {
		key      string
		lastSeen time.Time
	}
	entries := make([]entry, 0, len(l.windows))
	for key, state := range l.windows {
		entries = append(entries, entry{key: key, lastSeen: state.lastSeen})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastSeen.Before(entries[j].lastSeen)
	})
	excess := len(l.windows) - l.cap
	for i := 0; i < excess && i < len(entries); i++ {
		delete(l.windows, entries[i].key)
	}
}
