package breaker

import (
	"context"
	"sync"
	"time"

	"prowler/internal/model"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config tunes one breaker instance.
type Config struct {
	Timeout                  time.Duration // per-call ceiling
	ErrorThresholdPercentage float64
	ResetTimeout             time.Duration
	MonitoringPeriod         time.Duration // rolling window for counters
	MinimumRequests          int
	Enabled                  bool

	// OnStateChange, when set, observes every transition. It is called
	// with the breaker's lock held and must not call back in.
	OnStateChange func(name string, state State)
}

// DefaultConfig mirrors the engine's breaker defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:                  30 * time.Second,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             30 * time.Second,
		MonitoringPeriod:         time.Minute,
		MinimumRequests:          5,
		Enabled:                  true,
	}
}

// Stats is a snapshot of breaker counters.
type Stats struct {
	State         State     `json:"state"`
	Successes     int       `json:"successes"`
	Failures      int       `json:"failures"`
	TotalRequests int       `json:"totalRequests"`
	ErrorRate     float64   `json:"errorRate"`
	LastFailure   time.Time `json:"lastFailure,omitzero"`
	NextAttempt   time.Time `json:"nextAttempt,omitzero"`
}

// Breaker is a counting circuit breaker with a rolling monitoring
// window and automatic half-open probing.
type Breaker struct {
	mu   sync.Mutex
	cfg  Config
	name string

	state       State
	successes   int
	failures    int
	windowStart time.Time
	lastFailure time.Time
	nextAttempt time.Time

	// trialInFlight admits exactly one probe while half-open.
	trialInFlight bool
}

func New(name string, cfg Config) *Breaker {
	if cfg.MonitoringPeriod <= 0 {
		cfg.MonitoringPeriod = time.Minute
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:        name,
		cfg:         cfg,
		state:       StateClosed,
		windowStart: time.Now(),
	}
}

// Execute runs fn under the breaker. An open breaker fast-fails with
// model.ErrCircuitOpen; the per-call timeout is applied through the
// context.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return model.ErrCircuitOpen
	}

	callCtx := ctx
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	err := fn(callCtx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// allow decides whether a call may proceed, handling the open →
// half-open transition.
func (b *Breaker) allow() bool {
	if !b.cfg.Enabled {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.rotateWindowLocked()

	switch b.state {
	case StateOpen:
		if time.Now().After(b.nextAttempt) {
			b.setStateLocked(StateHalfOpen)
			b.trialInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		// One probe at a time; concurrent callers fast-fail until the
		// trial resolves.
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return true
	}
}

func (b *Breaker) recordSuccess() {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		// Trial call succeeded; close and start fresh.
		b.trialInFlight = false
		b.setStateLocked(StateClosed)
		b.resetCountersLocked()
		return
	}

	b.successes++
}

func (b *Breaker) recordFailure() {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.lastFailure = now

	if b.state == StateHalfOpen {
		b.trialInFlight = false
		b.setStateLocked(StateOpen)
		b.nextAttempt = now.Add(b.cfg.ResetTimeout)
		return
	}

	b.failures++
	total := b.successes + b.failures
	if total >= b.cfg.MinimumRequests {
		rate := float64(b.failures) / float64(total) * 100
		if rate >= b.cfg.ErrorThresholdPercentage {
			b.setStateLocked(StateOpen)
			b.nextAttempt = now.Add(b.cfg.ResetTimeout)
		}
	}
}

func (b *Breaker) setStateLocked(next State) {
	if b.state == next {
		return
	}
	b.state = next
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.name, next)
	}
}

// rotateWindowLocked resets counters when the monitoring period has
// elapsed so old outcomes stop influencing the trip decision.
func (b *Breaker) rotateWindowLocked() {
	if b.state != StateClosed {
		return
	}
	if time.Since(b.windowStart) >= b.cfg.MonitoringPeriod {
		b.resetCountersLocked()
	}
}

func (b *Breaker) resetCountersLocked() {
	b.successes = 0
	b.failures = 0
	b.windowStart = time.Now()
}

// GetState returns the current state, applying any pending open →
// half-open transition.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Now().After(b.nextAttempt) {
		b.setStateLocked(StateHalfOpen)
	}
	return b.state
}

// GetStats returns a consistent snapshot of the counters.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.successes + b.failures
	rate := 0.0
	if total > 0 {
		rate = float64(b.failures) / float64(total) * 100
	}
	return Stats{
		State:         b.state,
		Successes:     b.successes,
		Failures:      b.failures,
		TotalRequests: total,
		ErrorRate:     rate,
		LastFailure:   b.lastFailure,
		NextAttempt:   b.nextAttempt,
	}
}

// Open forces the breaker open.
func (b *Breaker) Open() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
	b.setStateLocked(StateOpen)
	b.lastFailure = time.Now()
	b.nextAttempt = time.Now().Add(b.cfg.ResetTimeout)
}

// Close forces the breaker closed without clearing counters.
func (b *Breaker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
	b.setStateLocked(StateClosed)
}

// Reset closes the breaker and zeroes all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
	b.setStateLocked(StateClosed)
	b.resetCountersLocked()
	b.lastFailure = time.Time{}
	b.nextAttempt = time.Time{}
}

// Enable turns outcome tracking on.
func (b *Breaker) Enable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Enabled = true
}

// Disable turns the breaker into a pass-through.
func (b *Breaker) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Enabled = false
}

// Registry hands out one breaker per key (typically per host).
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	breakers map[string]*Breaker
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// Get returns the breaker for key, creating it on first use.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[key]
	if !ok {
		b = New(key, r.cfg)
		r.breakers[key] = b
	}
	return b
}

// All returns stats for every breaker keyed by name.
func (r *Registry) All() map[string]Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Stats, len(r.breakers))
	for k, b := range r.breakers {
		out[k] = b.GetStats()
	}
	return out
}
