package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gincerbos "github.com/vyrodovalexey/gin-cerbos"
)

// Defaults.
const (
	DefaultAddress         = ":8080"
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
	DefaultServiceName     = "cerbos-gin-demo"
	DefaultRolesClaim      = "roles"
)

// ErrInvalidConfig indicates a configuration that failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the demo server configuration.
type Config struct {
	Server   ServerConfig     `yaml:"server"`
	Logging  LoggingConfig    `yaml:"logging"`
	Tracing  TracingConfig    `yaml:"tracing"`
	Auth     AuthConfig       `yaml:"auth"`
	Cerbos   gincerbos.Config `yaml:"cerbos"`
	Policies PoliciesConfig   `yaml:"policies"`
	Routes   []RouteRule      `yaml:"routes"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
	Insecure     bool    `yaml:"insecure"`
	ServiceName  string  `yaml:"serviceName"`
}

// AuthConfig configures bearer token authentication.
type AuthConfig struct {
	// JWTSecret is the HS256 signing secret. Empty disables authentication
	// and every request is anonymous.
	JWTSecret  string `yaml:"jwtSecret"` //nolint:gosec // config field
	Issuer     string `yaml:"issuer"`
	RolesClaim string `yaml:"rolesClaim"`
}

// PoliciesConfig configures policy upload on startup.
type PoliciesConfig struct {
	Dir         string `yaml:"dir"`
	PushOnStart bool   `yaml:"pushOnStart"`
}

// RouteRule maps a route to the resource and action it is authorized against.
type RouteRule struct {
	Method string `yaml:"method"`
	Path   string `yaml:"path"`
	Kind   string `yaml:"kind"`
	Action string `yaml:"action"`
	// IDParam names the path parameter holding the resource id. Routes
	// without one are checked against the "*" id.
	IDParam string `yaml:"idParam"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
	if c.Auth.RolesClaim == "" {
		c.Auth.RolesClaim = DefaultRolesClaim
	}
	for i := range c.Routes {
		c.Routes[i].Method = strings.ToUpper(c.Routes[i].Method)
	}
}

// ValidateConfig checks the configuration and returns every problem found.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}

	var errs []error
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("tracing.samplingRate must be between 0 and 1"))
	}
	if c.Policies.PushOnStart {
		if c.Policies.Dir == "" {
			errs = append(errs, fmt.Errorf("policies.dir is required when pushOnStart is set"))
		}
		if c.Cerbos.AdminCredentials == nil {
			errs = append(errs, fmt.Errorf("cerbos.adminCredentials are required when pushOnStart is set"))
		}
	}

	seen := make(map[string]struct{}, len(c.Routes))
	for i, r := range c.Routes {
		if err := r.validate(); err != nil {
			errs = append(errs, fmt.Errorf("routes[%d]: %w", i, err))
			continue
		}
		key := r.Key()
		if _, ok := seen[key]; ok {
			errs = append(errs, fmt.Errorf("routes[%d]: duplicate rule for %s", i, key))
		}
		seen[key] = struct{}{}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (r RouteRule) validate() error {
	switch strings.ToUpper(r.Method) {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
	default:
		return fmt.Errorf("unsupported method %q", r.Method)
	}
	if !strings.HasPrefix(r.Path, "/") {
		return fmt.Errorf("path %q must start with /", r.Path)
	}
	if r.Kind == "" {
		return errors.New("kind is required")
	}
	if r.Action == "" {
		return errors.New("action is required")
	}
	if r.IDParam != "" && !strings.Contains(r.Path, ":"+r.IDParam) && !strings.Contains(r.Path, "*"+r.IDParam) {
		return fmt.Errorf("path %q has no parameter %q", r.Path, r.IDParam)
	}
	return nil
}

// Key identifies the rule by method and route pattern.
func (r RouteRule) Key() string {
	return strings.ToUpper(r.Method) + " " + r.Path
}
