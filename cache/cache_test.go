package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemoryGetSet(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	store := NewMemory[int](30*time.Second, WithClock[int](clock))
	ctx := context.Background()

	if err := store.Set(ctx, "k", 42); err != nil {
		t.Fatal(err)
	}

	value, ok, err := store.Get(ctx, "k")
	if err != nil || !ok || value != 42 {
		t.Fatalf("got (%d, %v, %v), want (42, true, nil)", value, ok, err)
	}

	// Entry stays fresh right up to the TTL boundary.
	now = now.Add(29 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); !ok {
		t.Fatal("entry should be fresh inside the TTL")
	}

	now = now.Add(2 * time.Second)
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("entry should expire after the TTL")
	}
}

func TestMemoryDelete(t *testing.T) {
	store := NewMemory[string](time.Minute)
	ctx := context.Background()

	_ = store.Set(ctx, "k", "v")
	_ = store.Delete(ctx, "k")
	if _, ok, _ := store.Get(ctx, "k"); ok {
		t.Fatal("deleted entry should be gone")
	}
}

func TestMemoryCapEviction(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }
	store := NewMemory[int](time.Hour, WithClock[int](clock), WithCap[int](3))
	ctx := context.Background()

	for i, key := range []string{"a", "b", "c", "d", "e"} {
		now = now.Add(time.Second)
		_ = store.Set(ctx, key, i)
	}
	if got := store.Len(); got > 3 {
		t.Fatalf("resident entries = %d, want at most 3", got)
	}
	if _, ok, _ := store.Get(ctx, "e"); !ok {
		t.Fatal("most recent entry should survive eviction")
	}
}
