package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

// Cache types.
const (
	TypeMemory = "memory"
	TypeRedis  = "redis"
)

// Defaults.
const (
	DefaultTTL       = time.Minute
	DefaultMaxSize   = 10000
	DefaultKeyPrefix = "gincerbos:"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

// Cache is a byte-value store with a cache-wide TTL.
type Cache interface {
	// Get returns ErrCacheMiss if the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key for the configured TTL.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Close releases resources.
	Close() error
}

// Config configures a cache.
type Config struct {
	Type    string        `yaml:"type" json:"type"`
	TTL     time.Duration `yaml:"ttl" json:"ttl"`
	MaxSize int           `yaml:"maxSize" json:"maxSize"`
	Redis   *RedisConfig  `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Address   string  `yaml:"address" json:"address"`
	Password  string  `yaml:"password,omitempty" json:"password,omitempty"` //nolint:gosec // config field
	DB        int     `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix string  `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	TTLJitter float64 `yaml:"ttlJitter,omitempty" json:"ttlJitter,omitempty"`
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	switch c.Type {
	case "", TypeMemory:
	case TypeRedis:
		if c.Redis == nil || c.Redis.Address == "" {
			return fmt.Errorf("%w: redis address is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown cache type %q", ErrInvalidConfig, c.Type)
	}
	if c.TTL < 0 {
		return fmt.Errorf("%w: ttl must not be negative", ErrInvalidConfig)
	}
	if c.MaxSize < 0 {
		return fmt.Errorf("%w: maxSize must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) ttl() time.Duration {
	if c.TTL <= 0 {
		return DefaultTTL
	}
	return c.TTL
}

// New creates a cache for cfg.
func New(cfg *Config, logger observability.Logger) (Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	switch cfg.Type {
	case TypeRedis:
		return newRedisCache(cfg, logger)
	default:
		return newMemoryCache(cfg, logger), nil
	}
}
