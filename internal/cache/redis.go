package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"prowler/internal/config"
)

// RedisManager lazily owns the Redis client. Connection failures are
// expected in degraded deployments, so callers treat every Redis error
// as a signal to fall back to the in-memory tier.
type RedisManager struct {
	mu     sync.Mutex
	cfg    config.CacheConfig
	client *redis.Client
}

func NewRedisManager(cfg config.CacheConfig) *RedisManager {
	return &RedisManager{cfg: cfg}
}

// Client returns the shared client, creating it on first use.
func (m *RedisManager) Client() (*redis.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		return m.client, nil
	}

	opts, err := redis.ParseURL(m.cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	if m.cfg.Password != "" {
		opts.Password = m.cfg.Password
	}
	if m.cfg.DB != 0 {
		opts.DB = m.cfg.DB
	}
	opts.MaxRetries = 3
	// Retry with 50ms per attempt, capped at 2s, and never queue
	// commands while disconnected; the memory tier covers outages.
	opts.MinRetryBackoff = 50 * time.Millisecond
	opts.MaxRetryBackoff = 2 * time.Second
	opts.PoolTimeout = 2 * time.Second

	m.client = redis.NewClient(opts)
	return m.client, nil
}

// HealthCheck pings Redis with a short deadline.
func (m *RedisManager) HealthCheck(ctx context.Context) error {
	client, err := m.Client()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(pingCtx).Err()
}

// IsAvailable reports whether Redis currently answers pings.
func (m *RedisManager) IsAvailable(ctx context.Context) bool {
	return m.HealthCheck(ctx) == nil
}

// Close releases the client if one was created.
func (m *RedisManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil {
		return nil
	}
	err := m.client.Close()
	m.client = nil
	return err
}
