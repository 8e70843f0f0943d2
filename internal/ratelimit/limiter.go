package ratelimit

import (
	"sync"
	"time"
)

// Config is the window policy applied to one key.
type Config struct {
	Window      time.Duration
	MaxRequests int
}

// Result is the outcome of a limit check.
type Result struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// Limiter is a per-key sliding-window request gate. Each key keeps the
// timestamps of its requests inside the current window; stale buckets
// are swept lazily.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	timestamps []time.Time
	lastSeen   time.Time
}

func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Check records a request for key and reports whether it is allowed
// under cfg. Requests beyond MaxRequests inside the window are denied
// and do not extend the window.
func (l *Limiter) Check(key string, cfg Config) Result {
	if cfg.MaxRequests <= 0 || cfg.Window <= 0 {
		return Result{Allowed: true, Remaining: -1}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}
	b.lastSeen = now

	// Drop timestamps that slid out of the window.
	cutoff := now.Add(-cfg.Window)
	kept := b.timestamps[:0]
	for _, ts := range b.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	b.timestamps = kept

	if len(b.timestamps) >= cfg.MaxRequests {
		oldest := b.timestamps[0]
		reset := oldest.Add(cfg.Window)
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetTime:  reset,
			RetryAfter: reset.Sub(now),
		}
	}

	b.timestamps = append(b.timestamps, now)
	reset := b.timestamps[0].Add(cfg.Window)
	return Result{
		Allowed:   true,
		Remaining: cfg.MaxRequests - len(b.timestamps),
		ResetTime: reset,
	}
}

// Sweep removes buckets idle longer than maxIdle. Called periodically
// so abandoned keys do not accumulate.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	n := 0
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) > maxIdle {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

// Size returns the number of tracked keys.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
