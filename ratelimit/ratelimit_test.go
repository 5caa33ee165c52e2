package ratelimit

import (
	"fmt"
	"testing"
	"time"
)

func TestAllowWithinLimit(t *testing.T) {
	limiter := New(WithWindow(time.Hour))
	now := time.Unix(1700000000, 0)

	for i := 0; i < 10; i++ {
		if !limiter.Allow("author-1", 10, now) {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}
	if limiter.Allow("author-1", 10, now) {
		t.Fatal("11th call within the window should be rejected")
	}
	// Other keys track independent windows.
	if !limiter.Allow("author-2", 10, now) {
		t.Fatal("distinct key should be unaffected")
	}
}

func TestWindowReset(t *testing.T) {
	limiter := New(WithWindow(time.Hour))
	now := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		limiter.Allow("author-1", 3, now)
	}
	if limiter.Allow("author-1", 3, now.Add(59*time.Minute)) {
		t.Fatal("limit should hold inside the window")
	}

	later := now.Add(time.Hour)
	if !limiter.Allow("author-1", 3, later) {
		t.Fatal("counter should reset after the window elapses")
	}
	if got := limiter.ResetAt("author-1", later); !got.Equal(later.Add(time.Hour)) {
		t.Fatalf("reset time = %v, want %v", got, later.Add(time.Hour))
	}
}

func TestZeroLimitFallsBack(t *testing.T) {
	limiter := New(WithWindow(time.Hour))
	now := time.Unix(1700000000, 0)
	allowed := 0
	for i := 0; i < DefaultLimit+5; i++ {
		if limiter.Allow("key", 0, now) {
			allowed++
		}
	}
	if allowed != DefaultLimit {
		t.Fatalf("allowed %d, want %d", allowed, DefaultLimit)
	}
}

func TestTTLPrunesIdleKeys(t *testing.T) {
	limiter := New(WithWindow(time.Minute), WithTTL(5*time.Minute))
	now := time.Unix(1700000000, 0)

	limiter.Allow("stale", 10, now)
	limiter.Allow("fresh", 10, now.Add(4*time.Minute))
	limiter.Allow("trigger", 10, now.Add(6*time.Minute))

	if got := limiter.Len(); got != 2 {
		t.Fatalf("tracked keys = %d, want 2 after pruning", got)
	}
}

func TestCapEvictsLeastRecentlyUsed(t *testing.T) {
	limiter := New(WithWindow(time.Minute), WithTTL(0), WithCap(4))
	now := time.Unix(1700000000, 0)

	for i := 0; i < 8; i++ {
		limiter.Allow(fmt.Sprintf("key-%d", i), 10, now.Add(time.Duration(i)*time.Second))
	}
	if got := limiter.Len(); got > 4 {
		t.Fatalf("tracked keys = %d, want at most 4", got)
	}
	// The most recent key survived eviction, so its consumed slot still counts.
	if limiter.Allow("key-7", 1, now.Add(8*time.Second)) {
		t.Fatal("most recent key should retain its consumed window")
	}
}
