package cache

import (
	"context"
	"testing"
	"time"

	"prowler/internal/config"
)

// bypass mode keeps tests off the network: everything goes to the
// in-memory tier.
func newTestManager(ttlSec int) *Manager {
	return NewManager(config.CacheConfig{
		Enabled:   true,
		Mode:      string(ModeBypass),
		TTLSec:    ttlSec,
		KeyPrefix: "test:",
	})
}

func TestSetGetRoundTrip(t *testing.T) {
	m := newTestManager(60)
	ctx := context.Background()

	if err := m.Set(ctx, "k1", map[string]string{"a": "b"}, 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	var got map[string]string
	if !m.GetJSON(ctx, "k1", &got) {
		t.Fatalf("expected cache hit for k1")
	}
	if got["a"] != "b" {
		t.Fatalf("got %v, want map with a=b", got)
	}

	res := m.Get(ctx, "k1")
	if !res.FromCache {
		t.Fatalf("expected fromCache=true")
	}
	if res.TTL <= 0 {
		t.Fatalf("expected positive ttl, got %v", res.TTL)
	}
}

func TestExpiredEntryEvictedOnRead(t *testing.T) {
	m := newTestManager(60)
	ctx := context.Background()

	if err := m.Set(ctx, "short", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)

	res := m.Get(ctx, "short")
	if res.FromCache {
		t.Fatalf("expected miss after ttl expiry")
	}
	if m.memory.size() != 0 {
		t.Fatalf("expected expired entry to be evicted, have %d entries", m.memory.size())
	}
}

func TestSetReplacesAndUpdatesTTL(t *testing.T) {
	m := newTestManager(60)
	ctx := context.Background()

	_ = m.Set(ctx, "k", "one", 50*time.Millisecond)
	_ = m.Set(ctx, "k", "two", time.Minute)

	if m.memory.size() != 1 {
		t.Fatalf("expected replace not duplicate, have %d entries", m.memory.size())
	}

	time.Sleep(60 * time.Millisecond)
	var got string
	if !m.GetJSON(ctx, "k", &got) {
		t.Fatalf("expected hit after ttl was extended by second set")
	}
	if got != "two" {
		t.Fatalf("got %q, want %q", got, "two")
	}
}

func TestDisabledModeMissesAndDropsWrites(t *testing.T) {
	m := NewManager(config.CacheConfig{Enabled: false, TTLSec: 60})
	ctx := context.Background()

	_ = m.Set(ctx, "k", "v", 0)
	if res := m.Get(ctx, "k"); res.FromCache {
		t.Fatalf("disabled cache must always miss")
	}
}

func TestReadOnlyModeDropsWrites(t *testing.T) {
	m := NewManager(config.CacheConfig{Enabled: true, Mode: string(ModeReadOnly), TTLSec: 60})
	ctx := context.Background()

	_ = m.Set(ctx, "k", "v", 0)
	if m.memory.size() != 0 {
		t.Fatalf("read-only cache must not store writes")
	}
}

func TestClearPattern(t *testing.T) {
	m := newTestManager(60)
	ctx := context.Background()

	_ = m.Set(ctx, "scrape:a", 1, 0)
	_ = m.Set(ctx, "scrape:b", 2, 0)
	_ = m.Set(ctx, "validation:c", 3, 0)

	removed := m.Clear(ctx, "scrape:*")
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if res := m.Get(ctx, "validation:c"); !res.FromCache {
		t.Fatalf("unrelated key should survive pattern clear")
	}

	removed = m.Clear(ctx, "")
	if removed != 1 {
		t.Fatalf("full clear removed = %d, want 1", removed)
	}
}

func TestCleanExpired(t *testing.T) {
	m := newTestManager(60)
	ctx := context.Background()

	_ = m.Set(ctx, "a", 1, 5*time.Millisecond)
	_ = m.Set(ctx, "b", 2, time.Minute)
	time.Sleep(20 * time.Millisecond)

	if n := m.CleanExpired(); n != 1 {
		t.Fatalf("cleanExpired = %d, want 1", n)
	}
	if m.memory.size() != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", m.memory.size())
	}
}
