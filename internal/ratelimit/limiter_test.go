package ratelimit

import (
	"testing"
	"time"
)

// fakeClock lets tests move time deterministically.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter() (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := New()
	l.now = clock.now
	return l, clock
}

func TestDeniesOverWindow(t *testing.T) {
	l, clock := newTestLimiter()
	cfg := Config{Window: time.Second, MaxRequests: 3}

	for i := 0; i < 3; i++ {
		res := l.Check("K", cfg)
		if !res.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		clock.advance(25 * time.Millisecond)
	}

	for i := 0; i < 2; i++ {
		res := l.Check("K", cfg)
		if res.Allowed {
			t.Fatalf("request %d allowed, want denied", i+4)
		}
		if res.RetryAfter <= 0 || res.RetryAfter > time.Second {
			t.Fatalf("retryAfter = %v, want within (0, 1s]", res.RetryAfter)
		}
		clock.advance(25 * time.Millisecond)
	}
}

func TestWindowSlides(t *testing.T) {
	l, clock := newTestLimiter()
	cfg := Config{Window: 100 * time.Millisecond, MaxRequests: 2}

	_ = l.Check("K", cfg)
	_ = l.Check("K", cfg)
	if res := l.Check("K", cfg); res.Allowed {
		t.Fatalf("third request inside window must be denied")
	}

	clock.advance(150 * time.Millisecond)
	if res := l.Check("K", cfg); !res.Allowed {
		t.Fatalf("request after window slid must be allowed")
	}
}

func TestRemainingCountsDown(t *testing.T) {
	l, _ := newTestLimiter()
	cfg := Config{Window: time.Second, MaxRequests: 3}

	if res := l.Check("K", cfg); res.Remaining != 2 {
		t.Fatalf("remaining = %d, want 2", res.Remaining)
	}
	if res := l.Check("K", cfg); res.Remaining != 1 {
		t.Fatalf("remaining = %d, want 1", res.Remaining)
	}
	if res := l.Check("K", cfg); res.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", res.Remaining)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter()
	cfg := Config{Window: time.Second, MaxRequests: 1}

	if res := l.Check("a", cfg); !res.Allowed {
		t.Fatalf("first request for a denied")
	}
	if res := l.Check("b", cfg); !res.Allowed {
		t.Fatalf("first request for b denied")
	}
	if res := l.Check("a", cfg); res.Allowed {
		t.Fatalf("second request for a must be denied")
	}
}

func TestZeroConfigAllows(t *testing.T) {
	l, _ := newTestLimiter()
	if res := l.Check("K", Config{}); !res.Allowed {
		t.Fatalf("unset policy must allow")
	}
}

func TestSweepDropsIdleBuckets(t *testing.T) {
	l, clock := newTestLimiter()
	cfg := Config{Window: time.Second, MaxRequests: 5}

	_ = l.Check("old", cfg)
	clock.advance(time.Hour)
	_ = l.Check("fresh", cfg)

	if n := l.Sweep(10 * time.Minute); n != 1 {
		t.Fatalf("sweep removed %d buckets, want 1", n)
	}
	if l.Size() != 1 {
		t.Fatalf("size = %d after sweep, want 1", l.Size())
	}
}
