package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
	"github.com/vyrodovalexey/gin-cerbos/internal/retry"
)

const (
	cacheTracerName = "github.com/vyrodovalexey/gin-cerbos/internal/cache"

	redisPingTimeout = 5 * time.Second
)

// redisRetryConfig returns the retry configuration for Redis operations.
func redisRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:     2,
		InitialBackoff: 20 * time.Millisecond,
		MaxBackoff:     200 * time.Millisecond,
		JitterFactor:   retry.DefaultJitterFactor,
	}
}

// isRetryableRedisError retries connection failures but not misses or
// cancellations.
func isRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// redisCache stores decisions in Redis.
type redisCache struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	ttlJitter float64
	logger    observability.Logger
}

func newRedisCache(cfg *Config, logger observability.Logger) (*redisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	keyPrefix := cfg.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}

	c := &redisCache{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       cfg.ttl(),
		ttlJitter: cfg.Redis.TTLJitter,
		logger:    logger,
	}

	logger.Info("redis decision cache initialized",
		observability.String("address", cfg.Redis.Address),
		observability.String("keyPrefix", keyPrefix),
		observability.Duration("ttl", c.ttl),
	)
	return c, nil
}

// Get implements Cache.
func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := c.startSpan(ctx, "cache.Get", key)
	defer span.End()

	var result []byte
	err := retry.Do(ctx, redisRetryConfig(), func() error {
		val, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
		if err != nil {
			return err
		}
		result = val
		return nil
	}, &retry.Options{ShouldRetry: isRetryableRedisError})

	switch {
	case err == nil:
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return result, nil
	case errors.Is(err, redis.Nil):
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	default:
		c.fail(span, "redis get failed", key, err)
		return nil, err
	}
}

// Set implements Cache.
func (c *redisCache) Set(ctx context.Context, key string, value []byte) error {
	ctx, span := c.startSpan(ctx, "cache.Set", key)
	defer span.End()

	ttl := applyTTLJitter(c.ttl, c.ttlJitter)
	err := retry.Do(ctx, redisRetryConfig(), func() error {
		return c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err()
	}, &retry.Options{ShouldRetry: isRetryableRedisError})
	if err != nil {
		c.fail(span, "redis set failed", key, err)
		return err
	}
	return nil
}

// Delete implements Cache.
func (c *redisCache) Delete(ctx context.Context, key string) error {
	ctx, span := c.startSpan(ctx, "cache.Delete", key)
	defer span.End()

	if err := c.client.Del(ctx, c.keyPrefix+key).Err(); err != nil {
		c.fail(span, "redis delete failed", key, err)
		return err
	}
	return nil
}

// Close implements Cache.
func (c *redisCache) Close() error {
	return c.client.Close()
}

func (c *redisCache) startSpan(ctx context.Context, name, key string) (context.Context, trace.Span) {
	return otel.Tracer(cacheTracerName).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", TypeRedis),
			attribute.String("cache.key", key),
		),
	)
}

func (c *redisCache) fail(span trace.Span, msg, key string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	c.logger.Warn(msg,
		observability.String("key", key),
		observability.Error(err),
	)
}

// applyTTLJitter varies ttl by up to ±jitterFactor so entries written
// together do not expire together.
func applyTTLJitter(ttl time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 || ttl <= 0 {
		return ttl
	}
	if jitterFactor > 1.0 {
		jitterFactor = 1.0
	}
	//nolint:gosec // G404: TTL jitter does not need cryptographic randomness
	jitter := time.Duration(float64(ttl) * jitterFactor * (2*rand.Float64() - 1))
	if result := ttl + jitter; result > 0 {
		return result
	}
	return ttl
}
