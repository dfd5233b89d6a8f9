package domain

import (
	"context"
	"time"
)

// Cache defines the read-through cache in front of the durable store.
// Baseline entries are the primary tenant; generic byte values and counters
// support the rest of the pipeline.
type Cache interface {
	// Get retrieves a value from cache. Returns nil, nil if key not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in cache with expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from cache.
	Delete(ctx context.Context, key string) error

	// GetBaseline retrieves a cached user baseline.
	// Returns nil, nil on a cache miss.
	GetBaseline(ctx context.Context, userID string) (*UserBaseline, error)

	// SetBaseline caches a user baseline. The entry is replaced whole so
	// concurrent readers never observe a partially written baseline.
	SetBaseline(ctx context.Context, userID string, baseline *UserBaseline, ttl time.Duration) error

	// IncrementCounter atomically increments a counter and returns new value.
	IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string

	// Local LRU cache settings
	LocalMaxSize int
	LocalTTL     time.Duration

	// Redis settings
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Two-phase settings
	EnableTwoPhase bool // If true, check local first, then Redis
}
