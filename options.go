package gincerbos

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/gin-cerbos/cerbos"
)

// DecisionCache stores decisions keyed by principal, resource and action.
type DecisionCache interface {
	Get(ctx context.Context, key string) (allowed, found bool, err error)
	Set(ctx context.Context, key string, allowed bool) error
	Close() error
}

// Option configures a Plugin.
type Option func(*Plugin)

// WithPrincipalFunc replaces DefaultPrincipal. Its result is sent to Cerbos
// unmodified.
func WithPrincipalFunc(fn PrincipalFunc) Option {
	return func(p *Plugin) {
		p.principalFunc = fn
	}
}

// WithResourceLoader sets the loader used by PreHandler.
func WithResourceLoader(loader ResourceLoader) Option {
	return func(p *Plugin) {
		p.loader = loader
	}
}

// WithClient uses client instead of building one from the config. The
// plugin closes it on Close.
func WithClient(client cerbos.Client) Option {
	return func(p *Plugin) {
		p.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Plugin) {
		p.zapLogger = logger
	}
}

// WithRegisterer registers metrics with registerer instead of the default.
func WithRegisterer(registerer prometheus.Registerer) Option {
	return func(p *Plugin) {
		p.registerer = registerer
	}
}

// WithDecisionCache uses cache instead of building one from the config.
func WithDecisionCache(cache DecisionCache) Option {
	return func(p *Plugin) {
		p.cache = cache
	}
}

// WithTracerProvider sets the tracer provider for plugin and client spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Plugin) {
		p.tracerProvider = tp
	}
}
