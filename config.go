package gincerbos

import (
	"fmt"
	"net/http"
	"time"

	"github.com/imdario/mergo"

	"github.com/vyrodovalexey/gin-cerbos/cerbos"
	"github.com/vyrodovalexey/gin-cerbos/internal/cache"
)

// Defaults.
const (
	DefaultUserKey          = "user"
	DefaultDenyStatus       = http.StatusForbidden
	DefaultMetricsNamespace = "gincerbos"
)

// Config configures the plugin. Zero fields take their value from
// DefaultConfig.
type Config struct {
	// Transport is "grpc" (default) or "http".
	Transport string `yaml:"transport,omitempty" json:"transport,omitempty"`

	// Host is the Cerbos host.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port is the Cerbos port. Zero means 3593 for gRPC and 3592 for HTTP.
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// TLS enables TLS towards Cerbos.
	TLS *cerbos.TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`

	// AdminCredentials enable the Admin API client.
	AdminCredentials *cerbos.Credentials `yaml:"adminCredentials,omitempty" json:"adminCredentials,omitempty"`

	// AdminPort is the Admin API HTTP port. Zero means Port for the HTTP
	// transport and 3592 for gRPC.
	AdminPort int `yaml:"adminPort,omitempty" json:"adminPort,omitempty"`

	// Timeout bounds one Cerbos call.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// UserKey is the gin context key holding the authenticated user.
	UserKey string `yaml:"userKey,omitempty" json:"userKey,omitempty"`

	// PolicyVersion is applied to derived principals and resources that
	// do not set one.
	PolicyVersion string `yaml:"policyVersion,omitempty" json:"policyVersion,omitempty"`

	// Scope is applied to derived principals and resources that do not set one.
	Scope string `yaml:"scope,omitempty" json:"scope,omitempty"`

	Hook           HookConfig           `yaml:"hook,omitempty" json:"hook,omitempty"`
	Cache          CacheConfig          `yaml:"cache,omitempty" json:"cache,omitempty"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker,omitempty" json:"circuitBreaker,omitempty"`

	// Retry configures retries of transient Cerbos failures.
	Retry *cerbos.RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`

	// MetricsNamespace prefixes every metric name.
	MetricsNamespace string `yaml:"metricsNamespace,omitempty" json:"metricsNamespace,omitempty"`
}

// HookConfig configures the pre-handler hook.
type HookConfig struct {
	Enabled    bool     `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	DenyStatus int      `yaml:"denyStatus,omitempty" json:"denyStatus,omitempty"`
	FailOpen   bool     `yaml:"failOpen,omitempty" json:"failOpen,omitempty"`
	SkipPaths  []string `yaml:"skipPaths,omitempty" json:"skipPaths,omitempty"`
}

// CacheConfig configures the decision cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Type    string        `yaml:"type,omitempty" json:"type,omitempty"`
	TTL     time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	MaxSize int           `yaml:"maxSize,omitempty" json:"maxSize,omitempty"`
	Redis   *RedisConfig  `yaml:"redis,omitempty" json:"redis,omitempty"`
}

// RedisConfig configures the Redis decision cache. TTLJitter spreads expiry
// by up to that fraction of the TTL.
type RedisConfig struct {
	Address   string  `yaml:"address" json:"address"`
	Password  string  `yaml:"password,omitempty" json:"password,omitempty"` //nolint:gosec // config field
	DB        int     `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix string  `yaml:"keyPrefix,omitempty" json:"keyPrefix,omitempty"`
	TTLJitter float64 `yaml:"ttlJitter,omitempty" json:"ttlJitter,omitempty"`
}

// CircuitBreakerConfig configures the circuit breaker around the client.
type CircuitBreakerConfig struct {
	Enabled   bool          `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Threshold int           `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// DefaultConfig returns the plugin defaults: gRPC to localhost:3593, no
// TLS, no admin credentials, hook disabled.
func DefaultConfig() *Config {
	return &Config{
		Transport: cerbos.TransportGRPC,
		Host:      cerbos.DefaultHost,
		Timeout:   cerbos.DefaultTimeout,
		UserKey:   DefaultUserKey,
		Hook: HookConfig{
			DenyStatus: DefaultDenyStatus,
		},
		Cache: CacheConfig{
			Type:    cache.TypeMemory,
			TTL:     cache.DefaultTTL,
			MaxSize: cache.DefaultMaxSize,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Threshold: cerbos.DefaultBreakerThreshold,
			Timeout:   cerbos.DefaultBreakerTimeout,
		},
		MetricsNamespace: DefaultMetricsNamespace,
	}
}

// MergeConfig overlays the non-zero fields of cfg on DefaultConfig.
func MergeConfig(cfg *Config) (*Config, error) {
	merged := DefaultConfig()
	if cfg == nil {
		return merged, nil
	}
	if err := mergo.Merge(merged, cfg, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return merged, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.clientConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Hook.DenyStatus != 0 && (c.Hook.DenyStatus < 400 || c.Hook.DenyStatus > 599) {
		return fmt.Errorf("%w: deny status %d is not a 4xx or 5xx code", ErrInvalidConfig, c.Hook.DenyStatus)
	}
	if c.Cache.Enabled {
		if err := c.cacheConfig().Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if c.CircuitBreaker.Threshold < 0 || c.CircuitBreaker.Timeout < 0 {
		return fmt.Errorf("%w: circuit breaker threshold and timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}

// clientConfig extracts the Cerbos client configuration.
func (c *Config) clientConfig() *cerbos.Config {
	return &cerbos.Config{
		Transport:        c.Transport,
		Host:             c.Host,
		Port:             c.Port,
		TLS:              c.TLS,
		Timeout:          c.Timeout,
		Retry:            c.Retry,
		AdminCredentials: c.AdminCredentials,
		AdminPort:        c.AdminPort,
	}
}

// cacheConfig extracts the decision cache configuration.
func (c *Config) cacheConfig() *cache.Config {
	cfg := &cache.Config{
		Type:    c.Cache.Type,
		TTL:     c.Cache.TTL,
		MaxSize: c.Cache.MaxSize,
	}
	if c.Cache.Redis != nil {
		cfg.Redis = &cache.RedisConfig{
			Address:   c.Cache.Redis.Address,
			Password:  c.Cache.Redis.Password,
			DB:        c.Cache.Redis.DB,
			KeyPrefix: c.Cache.Redis.KeyPrefix,
			TTLJitter: c.Cache.Redis.TTLJitter,
		}
	}
	return cfg
}

// denyStatus returns the hook rejection status.
func (c *Config) denyStatus() int {
	if c.Hook.DenyStatus == 0 {
		return DefaultDenyStatus
	}
	return c.Hook.DenyStatus
}

// userKey returns the gin context key of the user.
func (c *Config) userKey() string {
	if c.UserKey == "" {
		return DefaultUserKey
	}
	return c.UserKey
}
