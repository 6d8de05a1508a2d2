package cache

import (
	"context"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

// memoryCache is an in-process LRU whose entries expire after the TTL.
type memoryCache struct {
	lru    *expirable.LRU[string, []byte]
	logger observability.Logger
}

func newMemoryCache(cfg *Config, logger observability.Logger) *memoryCache {
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	c := &memoryCache{logger: logger}
	c.lru = expirable.NewLRU[string, []byte](maxSize, nil, cfg.ttl())

	logger.Info("memory decision cache initialized",
		observability.Int("maxSize", maxSize),
		observability.Duration("ttl", cfg.ttl()),
	)
	return c
}

// Get implements Cache.
func (c *memoryCache) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := c.lru.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return value, nil
}

// Set implements Cache.
func (c *memoryCache) Set(_ context.Context, key string, value []byte) error {
	if evicted := c.lru.Add(key, value); evicted {
		c.logger.Debug("decision cache evicted oldest entry")
	}
	return nil
}

// Delete implements Cache.
func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Len returns the number of live entries.
func (c *memoryCache) Len() int {
	return c.lru.Len()
}

// Close implements Cache.
func (c *memoryCache) Close() error {
	c.lru.Purge()
	return nil
}
