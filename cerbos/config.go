package cerbos

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Transport names.
const (
	TransportGRPC = "grpc"
	TransportHTTP = "http"
)

// Defaults for the Cerbos client.
const (
	DefaultHost     = "localhost"
	DefaultGRPCPort = 3593
	DefaultHTTPPort = 3592
	DefaultTimeout  = 5 * time.Second
)

// Config configures the Cerbos client.
type Config struct {
	// Transport is either "grpc" or "http". Empty means gRPC.
	Transport string `yaml:"transport,omitempty" json:"transport,omitempty"`

	// Host is the Cerbos host name.
	Host string `yaml:"host,omitempty" json:"host,omitempty"`

	// Port is the Cerbos port. Zero selects the transport default.
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// TLS enables TLS towards Cerbos when set and enabled.
	TLS *TLSConfig `yaml:"tls,omitempty" json:"tls,omitempty"`

	// Timeout bounds a single call, retries included.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Retry configures retries of transient failures.
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty"`

	// AdminCredentials are used by AdminClient.
	AdminCredentials *Credentials `yaml:"adminCredentials,omitempty" json:"adminCredentials,omitempty"`

	// AdminPort is the HTTP port AdminClient talks to. Zero means Port for
	// the HTTP transport and 3592 for gRPC.
	AdminPort int `yaml:"adminPort,omitempty" json:"adminPort,omitempty"`
}

// TLSConfig configures TLS towards Cerbos.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled" json:"enabled"`
	CAFile             string `yaml:"caFile,omitempty" json:"caFile,omitempty"`
	ServerName         string `yaml:"serverName,omitempty" json:"serverName,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify,omitempty" json:"insecureSkipVerify,omitempty"`
}

// Credentials are Admin API basic auth credentials.
type Credentials struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"` //nolint:gosec // config field, not a hardcoded secret
}

// RetryConfig configures retries of transient failures.
type RetryConfig struct {
	MaxRetries     int           `yaml:"maxRetries" json:"maxRetries"`
	InitialBackoff time.Duration `yaml:"initialBackoff,omitempty" json:"initialBackoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"maxBackoff,omitempty" json:"maxBackoff,omitempty"`
}

// DefaultConfig returns a gRPC configuration for a local Cerbos.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportGRPC,
		Host:      DefaultHost,
		Timeout:   DefaultTimeout,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	switch c.Transport {
	case "", TransportGRPC, TransportHTTP:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		return fmt.Errorf("%w: admin port %d out of range", ErrInvalidConfig, c.AdminPort)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: timeout must not be negative", ErrInvalidConfig)
	}
	if c.Retry != nil && c.Retry.MaxRetries < 0 {
		return fmt.Errorf("%w: maxRetries must not be negative", ErrInvalidConfig)
	}
	return nil
}

// GetTransport returns the effective transport.
func (c *Config) GetTransport() string {
	if c.Transport == "" {
		return TransportGRPC
	}
	return c.Transport
}

// GetHost returns the effective host.
func (c *Config) GetHost() string {
	if c.Host == "" {
		return DefaultHost
	}
	return c.Host
}

// GetPort returns the effective port for the selected transport.
func (c *Config) GetPort() int {
	if c.Port > 0 {
		return c.Port
	}
	if c.GetTransport() == TransportHTTP {
		return DefaultHTTPPort
	}
	return DefaultGRPCPort
}

// GetAdminPort returns the effective Admin API port.
func (c *Config) GetAdminPort() int {
	if c.AdminPort > 0 {
		return c.AdminPort
	}
	if c.GetTransport() == TransportHTTP {
		return c.GetPort()
	}
	return DefaultHTTPPort
}

// GetTimeout returns the effective call timeout.
func (c *Config) GetTimeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

// TLSEnabled reports whether TLS is enabled.
func (c *Config) TLSEnabled() bool {
	return c.TLS != nil && c.TLS.Enabled
}

// Address returns host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.GetHost(), strconv.Itoa(c.GetPort()))
}

// Target is the string the client connects to: host:port for gRPC and
// scheme://host:port for HTTP.
func (c *Config) Target() string {
	if c.GetTransport() == TransportGRPC {
		return c.Address()
	}
	scheme := "http"
	if c.TLSEnabled() {
		scheme = "https"
	}
	return scheme + "://" + c.Address()
}

// AdminURL returns the base URL of the Admin API on the HTTP listener,
// whatever transport the decision client uses.
func (c *Config) AdminURL() string {
	scheme := "http"
	if c.TLSEnabled() {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(c.GetHost(), strconv.Itoa(c.GetAdminPort()))
}

// buildTLSConfig creates a *tls.Config, or nil when TLS is disabled.
func (c *Config) buildTLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled() {
		return nil, nil
	}

	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ServerName:         c.TLS.ServerName,
		InsecureSkipVerify: c.TLS.InsecureSkipVerify, //nolint:gosec // opt-in for local development
	}

	if c.TLS.CAFile != "" {
		pem, err := os.ReadFile(c.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates found in %s", ErrInvalidConfig, c.TLS.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}
