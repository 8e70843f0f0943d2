package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// StrategyStats is the per-strategy run accounting exposed by GetStats.
type StrategyStats struct {
	Runs      int64 `json:"runs"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
	TotalMs   int64 `json:"totalMs"`
}

// Registry holds the registered strategies and dispatches extraction.
type Registry struct {
	mu          sync.RWMutex
	strategies  map[string]Strategy
	order       []string
	defaultType string
	stats       map[string]*StrategyStats
	logger      *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		strategies: make(map[string]Strategy),
		stats:      make(map[string]*StrategyStats),
		logger:     logger,
	}
}

// Register adds or replaces a strategy under its type tag.
func (r *Registry) Register(s Strategy, setDefault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	typ := s.Type()
	if _, exists := r.strategies[typ]; !exists {
		r.order = append(r.order, typ)
	}
	r.strategies[typ] = s
	if r.stats[typ] == nil {
		r.stats[typ] = &StrategyStats{}
	}
	if setDefault || r.defaultType == "" {
		r.defaultType = typ
	}
}

// Unregister removes a strategy; the default moves to the oldest
// remaining registration.
func (r *Registry) Unregister(typ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.strategies[typ]; !ok {
		return false
	}
	delete(r.strategies, typ)
	for i, t := range r.order {
		if t == typ {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.defaultType == typ {
		r.defaultType = ""
		if len(r.order) > 0 {
			r.defaultType = r.order[0]
		}
	}
	return true
}

// Get returns the strategy registered under the type tag.
func (r *Registry) Get(typ string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[typ]
	return s, ok
}

// Available returns the registered strategies that report availability,
// in registration order.
func (r *Registry) Available() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Strategy
	for _, typ := range r.order {
		if s := r.strategies[typ]; s != nil && s.IsAvailable() {
			out = append(out, s)
		}
	}
	return out
}

// DefaultType returns the current default strategy type.
func (r *Registry) DefaultType() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultType
}

// SetDefaultType switches the default; unregistered or unavailable
// strategies are rejected.
func (r *Registry) SetDefaultType(typ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.strategies[typ]
	if !ok || !s.IsAvailable() {
		return false
	}
	r.defaultType = typ
	return true
}

// Clear removes every strategy.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies = make(map[string]Strategy)
	r.order = nil
	r.defaultType = ""
}

// GetStats returns a snapshot of the per-strategy accounting.
func (r *Registry) GetStats() map[string]StrategyStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]StrategyStats, len(r.stats))
	for typ, s := range r.stats {
		out[typ] = *s
	}
	return out
}

// Extract runs one strategy; an empty type means the default.
func (r *Registry) Extract(ctx context.Context, ec *Context, typ string) *Result {
	if typ == "" {
		typ = r.DefaultType()
	}
	s, ok := r.Get(typ)
	if !ok {
		return &Result{Success: false, Strategy: TypeCustom, Error: fmt.Sprintf("no strategy registered for type %q", typ)}
	}
	if !s.IsAvailable() {
		return &Result{Success: false, Strategy: typ, Error: fmt.Sprintf("strategy %q is not available", typ)}
	}
	return r.run(ctx, s, ec)
}

// ExtractWithFallback walks the preferred order, then the remaining
// available strategies, returning the first successful result.
func (r *Registry) ExtractWithFallback(ctx context.Context, ec *Context, preferred []string) *Result {
	tried := make(map[string]bool)
	var last *Result

	attempt := func(s Strategy) *Result {
		tried[s.Type()] = true
		res := r.run(ctx, s, ec)
		if !res.Success {
			r.logger.Debug("extraction strategy failed",
				"strategy", s.Type(), "error", res.Error)
		}
		return res
	}

	for _, typ := range preferred {
		s, ok := r.Get(typ)
		if !ok || !s.IsAvailable() || tried[typ] {
			continue
		}
		res := attempt(s)
		if res.Success {
			return res
		}
		last = res
	}

	for _, s := range r.Available() {
		if tried[s.Type()] {
			continue
		}
		res := attempt(s)
		if res.Success {
			return res
		}
		last = res
	}

	if last != nil {
		return last
	}
	return &Result{Success: false, Strategy: TypeCustom, Error: "no extraction strategy available"}
}

func (r *Registry) run(ctx context.Context, s Strategy, ec *Context) *Result {
	start := time.Now()
	res := s.Extract(ctx, ec)
	if res == nil {
		res = &Result{Success: false, Strategy: s.Type(), Error: "strategy returned no result"}
	}
	res.Strategy = s.Type()
	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	res.Entities = DedupEntities(res.Entities)

	r.mu.Lock()
	st := r.stats[s.Type()]
	if st == nil {
		st = &StrategyStats{}
		r.stats[s.Type()] = st
	}
	st.Runs++
	if res.Success {
		st.Successes++
	} else {
		st.Failures++
	}
	st.TotalMs += res.ExecutionTimeMs
	r.mu.Unlock()

	return res
}
