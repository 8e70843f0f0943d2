package proxy

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Status is the health state of a proxy.
type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusUnhealthy Status = "unhealthy"
	StatusBanned    Status = "banned"
)

// Strategy selects the next proxy from the active set.
type Strategy string

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyRandom     Strategy = "random"
	StrategyWeighted   Strategy = "weighted"
	StrategyLeastUsed  Strategy = "least_used"
)

// NormalizeStrategy maps config strings onto a known strategy.
func NormalizeStrategy(s string) Strategy {
	switch Strategy(s) {
	case StrategyRandom, StrategyWeighted, StrategyLeastUsed:
		return Strategy(s)
	default:
		return StrategyRoundRobin
	}
}

// Proxy is one upstream proxy with its rotation accounting. The pool's
// mutex guards all counter mutations so health flips and rotation reads
// never interleave.
type Proxy struct {
	ID                  uint32        `json:"id"`
	URL                 string        `json:"url"`
	Protocol            Protocol      `json:"protocol"`
	Host                string        `json:"host"`
	Port                int           `json:"port"`
	Username            string        `json:"username,omitempty"`
	Password            string        `json:"password,omitempty"`
	Status              Status        `json:"status"`
	SuccessCount        int           `json:"successCount"`
	FailureCount        int           `json:"failureCount"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	ResponseTime        time.Duration `json:"responseTime"`
	AvgResponseTime     time.Duration `json:"avgResponseTime"`
	LastUsed            time.Time     `json:"lastUsed"`
	LastChecked         time.Time     `json:"lastChecked"`
}

func (p *Proxy) successRate() float64 {
	total := p.SuccessCount + p.FailureCount
	if total == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(total)
}

// Pool owns the proxy set and rotation state.
type Pool struct {
	mu                     sync.Mutex
	proxies                map[uint32]*Proxy
	order                  []uint32 // insertion order, drives round robin
	rrIndex                int
	maxConsecutiveFailures int
	rng                    *rand.Rand
}

func NewPool(maxConsecutiveFailures int) *Pool {
	if maxConsecutiveFailures <= 0 {
		maxConsecutiveFailures = 3
	}
	return &Pool{
		proxies:                make(map[uint32]*Proxy),
		maxConsecutiveFailures: maxConsecutiveFailures,
		rng:                    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// NewPoolFromURLs parses and adds every URL, skipping unparseable ones.
func NewPoolFromURLs(urls []string, maxConsecutiveFailures int) *Pool {
	pool := NewPool(maxConsecutiveFailures)
	for _, raw := range urls {
		if p, err := Parse(raw); err == nil {
			pool.Add(p)
		}
	}
	return pool
}

// Add inserts or replaces a proxy by id.
func (pl *Pool) Add(p *Proxy) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if _, exists := pl.proxies[p.ID]; !exists {
		pl.order = append(pl.order, p.ID)
	}
	pl.proxies[p.ID] = p
}

// Remove deletes a proxy by id.
func (pl *Pool) Remove(id uint32) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if _, ok := pl.proxies[id]; !ok {
		return false
	}
	delete(pl.proxies, id)
	for i, oid := range pl.order {
		if oid == id {
			pl.order = append(pl.order[:i], pl.order[i+1:]...)
			break
		}
	}
	return true
}

// GetByID returns a copy of the proxy with the given id.
func (pl *Pool) GetByID(id uint32) (Proxy, bool) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	p, ok := pl.proxies[id]
	if !ok {
		return Proxy{}, false
	}
	return *p, true
}

// GetAll returns copies of every proxy in insertion order.
func (pl *Pool) GetAll() []Proxy {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	out := make([]Proxy, 0, len(pl.order))
	for _, id := range pl.order {
		out = append(out, *pl.proxies[id])
	}
	return out
}

// GetByStatus returns copies of proxies in the given status.
func (pl *Pool) GetByStatus(status Status) []Proxy {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	var out []Proxy
	for _, id := range pl.order {
		if p := pl.proxies[id]; p.Status == status {
			out = append(out, *p)
		}
	}
	return out
}

// GetActive returns copies of active proxies.
func (pl *Pool) GetActive() []Proxy {
	return pl.GetByStatus(StatusActive)
}

// Update applies fn to the proxy with the given id under the pool lock.
func (pl *Pool) Update(id uint32, fn func(p *Proxy)) bool {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	p, ok := pl.proxies[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

// Clear empties the pool.
func (pl *Pool) Clear() {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.proxies = make(map[uint32]*Proxy)
	pl.order = nil
	pl.rrIndex = 0
}

// Size returns the number of proxies in the pool.
func (pl *Pool) Size() int {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return len(pl.proxies)
}

// GetNext picks the next proxy using the given rotation strategy.
func (pl *Pool) GetNext(strategy Strategy) (Proxy, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	active := pl.activeLocked()
	if len(active) == 0 {
		return Proxy{}, fmt.Errorf("proxy pool has no active proxies")
	}

	var chosen *Proxy
	switch strategy {
	case StrategyRandom:
		chosen = active[pl.rng.Intn(len(active))]
	case StrategyWeighted:
		chosen = pl.pickWeightedLocked(active)
	case StrategyLeastUsed:
		chosen = pl.pickLeastUsedLocked(active)
	default:
		chosen = active[pl.rrIndex%len(active)]
		pl.rrIndex = (pl.rrIndex + 1) % len(active)
	}

	chosen.LastUsed = time.Now()
	return *chosen, nil
}

// activeLocked returns active proxies in insertion order. Callers must
// hold the pool lock.
func (pl *Pool) activeLocked() []*Proxy {
	out := make([]*Proxy, 0, len(pl.order))
	for _, id := range pl.order {
		if p := pl.proxies[id]; p.Status == StatusActive {
			out = append(out, p)
		}
	}
	return out
}

// pickWeightedLocked selects by normalized success-rate weights; a
// proxy without history gets weight 1 so new proxies are tried.
func (pl *Pool) pickWeightedLocked(active []*Proxy) *Proxy {
	weights := make([]float64, len(active))
	total := 0.0
	for i, p := range active {
		w := 1.0
		if p.SuccessCount+p.FailureCount > 0 {
			w = p.successRate()
		}
		weights[i] = w
		total += w
	}
	if total <= 0 {
		return active[pl.rng.Intn(len(active))]
	}

	r := pl.rng.Float64() * total
	cum := 0.0
	for i, w := range weights {
		cum += w
		if r <= cum {
			return active[i]
		}
	}
	return active[len(active)-1]
}

// pickLeastUsedLocked selects the proxy with the fewest total requests,
// breaking ties by higher success rate.
func (pl *Pool) pickLeastUsedLocked(active []*Proxy) *Proxy {
	best := active[0]
	bestTotal := best.SuccessCount + best.FailureCount
	for _, p := range active[1:] {
		total := p.SuccessCount + p.FailureCount
		if total < bestTotal || (total == bestTotal && p.successRate() > best.successRate()) {
			best = p
			bestTotal = total
		}
	}
	return best
}

// MarkUsed stamps LastUsed without recording an outcome.
func (pl *Pool) MarkUsed(id uint32) {
	pl.Update(id, func(p *Proxy) { p.LastUsed = time.Now() })
}

// MarkSuccess records a successful request through the proxy, clearing
// consecutive failures, reviving unhealthy proxies, and folding the
// response time into a moving average.
func (pl *Pool) MarkSuccess(id uint32, responseTime time.Duration) {
	pl.Update(id, func(p *Proxy) {
		p.SuccessCount++
		p.ConsecutiveFailures = 0
		p.ResponseTime = responseTime
		if p.AvgResponseTime == 0 {
			p.AvgResponseTime = responseTime
		} else {
			p.AvgResponseTime = (p.AvgResponseTime*4 + responseTime) / 5
		}
		if p.Status == StatusUnhealthy {
			p.Status = StatusActive
		}
	})
}

// MarkFailure records a failed request; crossing the consecutive
// failure ceiling flips the proxy to unhealthy.
func (pl *Pool) MarkFailure(id uint32) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	p, ok := pl.proxies[id]
	if !ok {
		return
	}
	p.FailureCount++
	p.ConsecutiveFailures++
	if p.ConsecutiveFailures >= pl.maxConsecutiveFailures && p.Status == StatusActive {
		p.Status = StatusUnhealthy
	}
}
