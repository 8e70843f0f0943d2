package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"prowler/internal/config"
)

// Mode controls how the manager treats reads and writes.
type Mode string

const (
	ModeEnabled  Mode = "enabled"
	ModeDisabled Mode = "disabled"
	ModeReadOnly Mode = "read_only"
	ModeBypass   Mode = "bypass" // skip Redis, use memory only
)

// NormalizeMode maps config strings onto a known mode.
func NormalizeMode(s string) Mode {
	switch Mode(s) {
	case ModeDisabled, ModeReadOnly, ModeBypass:
		return Mode(s)
	default:
		return ModeEnabled
	}
}

// GetResult is the outcome of a cache read.
type GetResult struct {
	Data      json.RawMessage
	FromCache bool
	TTL       time.Duration
}

// Stats is a snapshot of cache activity since startup.
type Stats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	Sets           int64 `json:"sets"`
	RedisErrors    int64 `json:"redisErrors"`
	MemoryEntries  int   `json:"memoryEntries"`
	RedisAvailable bool  `json:"redisAvailable"`
}

// Manager is the two-tier cache: Redis first, in-memory TTL map when
// Redis is down. Values are stored as JSON.
type Manager struct {
	mode       Mode
	prefix     string
	defaultTTL time.Duration
	redis      *RedisManager
	memory     *memoryStore

	hits        atomic.Int64
	misses      atomic.Int64
	sets        atomic.Int64
	redisErrors atomic.Int64
}

func NewManager(cfg config.CacheConfig) *Manager {
	mode := NormalizeMode(cfg.Mode)
	if !cfg.Enabled {
		mode = ModeDisabled
	}
	ttl := time.Duration(cfg.TTLSec) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		mode:       mode,
		prefix:     cfg.KeyPrefix,
		defaultTTL: ttl,
		redis:      NewRedisManager(cfg),
		memory:     newMemoryStore(),
	}
}

func (m *Manager) key(logical string) string { return m.prefix + logical }

// Get reads a value. Disabled mode always misses; Redis errors fall
// through to the memory tier.
func (m *Manager) Get(ctx context.Context, key string) GetResult {
	if m.mode == ModeDisabled {
		return GetResult{}
	}

	phys := m.key(key)

	if m.mode != ModeBypass {
		if client, err := m.redis.Client(); err == nil {
			val, err := client.Get(ctx, phys).Result()
			if err == nil {
				ttl, _ := client.TTL(ctx, phys).Result()
				m.hits.Add(1)
				return GetResult{Data: json.RawMessage(val), FromCache: true, TTL: ttl}
			}
			if !isRedisNil(err) {
				m.redisErrors.Add(1)
			}
		} else {
			m.redisErrors.Add(1)
		}
	}

	if val, ok := m.memory.get(phys); ok {
		m.hits.Add(1)
		return GetResult{Data: val, FromCache: true, TTL: m.memory.ttl(phys)}
	}

	m.misses.Add(1)
	return GetResult{}
}

// GetJSON reads and unmarshals a value into dst.
func (m *Manager) GetJSON(ctx context.Context, key string, dst any) bool {
	res := m.Get(ctx, key)
	if !res.FromCache {
		return false
	}
	if err := json.Unmarshal(res.Data, dst); err != nil {
		// Corrupt entry; drop it so the next read repopulates.
		m.Delete(ctx, key)
		return false
	}
	return true
}

// Set writes a value with the given TTL (0 = default). No-op in
// disabled and read-only modes. Redis failures degrade to memory.
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if m.mode == ModeDisabled || m.mode == ModeReadOnly {
		return nil
	}
	if ttl <= 0 {
		ttl = m.defaultTTL
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	phys := m.key(key)
	m.sets.Add(1)

	if m.mode != ModeBypass {
		if client, err := m.redis.Client(); err == nil {
			if err := client.SetEx(ctx, phys, payload, ttl).Err(); err == nil {
				return nil
			}
			m.redisErrors.Add(1)
		} else {
			m.redisErrors.Add(1)
		}
	}

	m.memory.set(phys, payload, ttl)
	return nil
}

// Delete removes a key from both tiers.
func (m *Manager) Delete(ctx context.Context, key string) {
	if m.mode == ModeDisabled {
		return
	}
	phys := m.key(key)
	if m.mode != ModeBypass {
		if client, err := m.redis.Client(); err == nil {
			if err := client.Del(ctx, phys).Err(); err != nil {
				m.redisErrors.Add(1)
			}
		}
	}
	m.memory.delete(phys)
}

// Clear removes keys matching the glob pattern (all keys when empty).
// The Redis side uses KEYS+DEL under the configured prefix.
func (m *Manager) Clear(ctx context.Context, pattern string) int {
	if m.mode == ModeDisabled {
		return 0
	}

	phys := m.prefix + pattern
	if pattern == "" {
		phys = m.prefix + "*"
	}

	removed := 0
	if m.mode != ModeBypass {
		if client, err := m.redis.Client(); err == nil {
			keys, err := client.Keys(ctx, phys).Result()
			if err != nil {
				m.redisErrors.Add(1)
			} else if len(keys) > 0 {
				if n, err := client.Del(ctx, keys...).Result(); err == nil {
					removed += int(n)
				}
			}
		}
	}

	memPattern := ""
	if pattern != "" {
		memPattern = m.prefix + pattern
	}
	removed += m.memory.clear(memPattern)
	return removed
}

// CleanExpired sweeps expired entries out of the memory tier. Redis
// evicts on its own.
func (m *Manager) CleanExpired() int {
	return m.memory.cleanExpired()
}

// GetStats returns a snapshot of counters.
func (m *Manager) GetStats(ctx context.Context) Stats {
	return Stats{
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		Sets:           m.sets.Load(),
		RedisErrors:    m.redisErrors.Load(),
		MemoryEntries:  m.memory.size(),
		RedisAvailable: m.mode != ModeBypass && m.redis.IsAvailable(ctx),
	}
}

// Mode returns the active mode.
func (m *Manager) Mode() Mode { return m.mode }

// Close releases the Redis client.
func (m *Manager) Close() error { return m.redis.Close() }

func isRedisNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
