package cache

import (
	"bytes"
	"context"
	"errors"
)

var (
	allowValue = []byte{'1'}
	denyValue  = []byte{'0'}
)

// Decisions stores boolean decisions in a Cache.
type Decisions struct {
	cache Cache
}

// NewDecisions wraps c.
func NewDecisions(c Cache) *Decisions {
	return &Decisions{cache: c}
}

// Get returns the cached decision for key. found is false on a miss.
// Entries that are not a stored decision are removed and reported as a miss.
func (d *Decisions) Get(ctx context.Context, key string) (allowed, found bool, err error) {
	value, err := d.cache.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}

	switch {
	case bytes.Equal(value, allowValue):
		return true, true, nil
	case bytes.Equal(value, denyValue):
		return false, true, nil
	default:
		return false, false, d.cache.Delete(ctx, key)
	}
}

// Set stores a decision under key.
func (d *Decisions) Set(ctx context.Context, key string, allowed bool) error {
	if allowed {
		return d.cache.Set(ctx, key, allowValue)
	}
	return d.cache.Set(ctx, key, denyValue)
}

// Close closes the underlying cache.
func (d *Decisions) Close() error {
	return d.cache.Close()
}
