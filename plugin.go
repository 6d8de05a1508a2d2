package gincerbos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/gin-cerbos/cerbos"
	"github.com/vyrodovalexey/gin-cerbos/internal/cache"
	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

const tracerName = "github.com/vyrodovalexey/gin-cerbos"

// Plugin holds the Cerbos client and everything needed to authorize requests.
// It is built once at startup and shared by all requests.
type Plugin struct {
	cfg           *Config
	transport     string
	client        cerbos.Client
	admin         *cerbos.AdminClient
	cache         DecisionCache
	principalFunc PrincipalFunc
	loader        ResourceLoader

	zapLogger      *zap.Logger
	logger         observability.Logger
	registerer     prometheus.Registerer
	metrics        *Metrics
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
}

// New merges cfg over DefaultConfig and builds the plugin.
func New(cfg *Config, opts ...Option) (*Plugin, error) {
	merged, err := MergeConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	clientCfg := merged.clientConfig()
	p := &Plugin{
		cfg:       merged,
		transport: clientCfg.GetTransport(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.logger = observability.FromZap(p.zapLogger)
	p.metrics = NewMetricsWithRegisterer(merged.MetricsNamespace, p.registerer)
	p.metrics.Init(p.transport)
	if p.tracerProvider != nil {
		p.tracer = p.tracerProvider.Tracer(tracerName)
	} else {
		p.tracer = otel.Tracer(tracerName)
	}

	if err := p.initClient(clientCfg); err != nil {
		return nil, err
	}

	if err := p.initCache(); err != nil {
		_ = p.client.Close()
		return nil, err
	}

	if merged.AdminCredentials != nil {
		admin, err := cerbos.NewAdminClient(clientCfg, p.clientOptions()...)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to create cerbos admin client: %w", err)
		}
		p.admin = admin
	}

	return p, nil
}

func (p *Plugin) clientOptions() []cerbos.Option {
	opts := []cerbos.Option{cerbos.WithLogger(p.zapLogger)}
	if p.tracerProvider != nil {
		opts = append(opts, cerbos.WithTracerProvider(p.tracerProvider))
	}
	return opts
}

func (p *Plugin) initClient(clientCfg *cerbos.Config) error {
	if p.client == nil {
		p.logger.Info("initializing cerbos client",
			observability.String("target", clientCfg.Target()),
			observability.String("transport", p.transport),
		)
		client, err := cerbos.New(clientCfg, p.clientOptions()...)
		if err != nil {
			return fmt.Errorf("failed to create cerbos client: %w", err)
		}
		p.client = client
	}

	if p.cfg.CircuitBreaker.Enabled {
		p.client = cerbos.NewBreakerClient(p.client, cerbos.BreakerConfig{
			Name:          "cerbos",
			Threshold:     p.cfg.CircuitBreaker.Threshold,
			Timeout:       p.cfg.CircuitBreaker.Timeout,
			OnStateChange: p.metrics.SetBreakerState,
			Logger:        p.zapLogger,
		})
	}
	return nil
}

func (p *Plugin) initCache() error {
	if p.cache != nil || !p.cfg.Cache.Enabled {
		return nil
	}
	c, err := cache.New(p.cfg.cacheConfig(), p.logger)
	if err != nil {
		return fmt.Errorf("failed to create decision cache: %w", err)
	}
	p.cache = cache.NewDecisions(c)
	return nil
}

// Register builds a plugin and installs it on engine. The decorator runs for
// every request; the pre-handler hook is added when cfg.Hook.Enabled.
func Register(engine *gin.Engine, cfg *Config, opts ...Option) (*Plugin, error) {
	p, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	engine.Use(p.Decorate())
	if p.cfg.Hook.Enabled {
		engine.Use(p.PreHandler())
	}
	return p, nil
}

// Config returns the merged configuration.
func (p *Plugin) Config() Config {
	return *p.cfg
}

// Client returns the Cerbos client.
func (p *Plugin) Client() cerbos.Client {
	return p.client
}

// Admin returns the Admin API client, or nil without admin credentials.
func (p *Plugin) Admin() *cerbos.AdminClient {
	return p.admin
}

// Principal returns the principal for user: the anonymous principal when
// user is absent, the PrincipalFunc result when one is configured, and
// DefaultPrincipal with the configured policy version and scope otherwise.
func (p *Plugin) Principal(ctx context.Context, user any) (*cerbos.Principal, error) {
	if isNilUser(user) {
		return AnonymousPrincipal(), nil
	}
	if p.principalFunc != nil {
		return p.principalFunc(ctx, user)
	}

	principal, err := DefaultPrincipal(user)
	if err != nil {
		return nil, err
	}
	if principal != nil {
		if principal.PolicyVersion == "" {
			principal.PolicyVersion = p.cfg.PolicyVersion
		}
		if principal.Scope == "" {
			principal.Scope = p.cfg.Scope
		}
	}
	return principal, nil
}

// resource returns a copy of r with the configured policy version and scope
// filled in.
func (p *Plugin) resource(r *cerbos.Resource) *cerbos.Resource {
	if r == nil {
		return nil
	}
	clone := *r
	if clone.PolicyVersion == "" {
		clone.PolicyVersion = p.cfg.PolicyVersion
	}
	if clone.Scope == "" {
		clone.Scope = p.cfg.Scope
	}
	return &clone
}

// Check decides whether user may perform action on resource. It is shared by
// the request decorator, the pre-handler hook and the gRPC interceptors.
func (p *Plugin) Check(ctx context.Context, user any, resource *cerbos.Resource, action string) (bool, error) {
	kind, id := "", ""
	if resource != nil {
		kind, id = resource.Kind, resource.ID
	}
	wrap := func(err error) error {
		return &CheckError{Kind: kind, ID: id, Action: action, Err: err}
	}

	principal, err := p.Principal(ctx, user)
	if err != nil {
		return false, wrap(err)
	}
	if err := principal.Validate(); err != nil {
		return false, wrap(err)
	}
	resource = p.resource(resource)
	if err := resource.Validate(); err != nil {
		return false, wrap(err)
	}
	if action == "" {
		return false, wrap(fmt.Errorf("%w: action is empty", cerbos.ErrInvalidAction))
	}

	ctx, span := p.tracer.Start(ctx, "cerbos.check",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cerbos.principal.id", principal.ID),
			attribute.String("cerbos.resource.kind", kind),
			attribute.String("cerbos.resource.id", id),
			attribute.String("cerbos.action", action),
		),
	)
	defer span.End()

	logger := p.logger.WithContext(ctx)

	key := p.cacheLookupKey(ctx, principal, resource, action)
	if key != "" {
		allowed, found, err := p.cache.Get(ctx, key)
		switch {
		case err != nil:
			logger.Warn("decision cache lookup failed", observability.Error(err))
		case found:
			p.metrics.RecordCacheHit()
			span.SetAttributes(attribute.Bool("cerbos.cached", true), attribute.Bool("cerbos.allowed", allowed))
			return allowed, nil
		default:
			p.metrics.RecordCacheMiss()
		}
	}

	start := time.Now()
	allowed, err := p.client.IsAllowed(ctx, principal, resource, action)
	duration := time.Since(start)
	if err != nil {
		p.metrics.RecordCheck(p.transport, resultError, duration)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("cerbos check failed",
			observability.String("principal", principal.ID),
			observability.String("kind", kind),
			observability.String("id", id),
			observability.String("action", action),
			observability.Error(err),
		)
		return false, wrap(err)
	}

	result := resultDenied
	if allowed {
		result = resultAllowed
	}
	p.metrics.RecordCheck(p.transport, result, duration)
	span.SetAttributes(attribute.Bool("cerbos.allowed", allowed))
	logger.Debug("cerbos decision",
		observability.String("principal", principal.ID),
		observability.String("kind", kind),
		observability.String("id", id),
		observability.String("action", action),
		observability.Bool("allowed", allowed),
		observability.Duration("duration", duration),
	)

	if key != "" {
		if err := p.cache.Set(ctx, key, allowed); err != nil {
			logger.Warn("decision cache store failed", observability.Error(err))
		}
	}
	return allowed, nil
}

func (p *Plugin) cacheLookupKey(ctx context.Context, principal *cerbos.Principal, resource *cerbos.Resource, action string) string {
	if p.cache == nil {
		return ""
	}
	key, err := cache.DecisionKey(principal, resource, action)
	if err != nil {
		p.logger.WithContext(ctx).Warn("decision cache key failed", observability.Error(err))
		return ""
	}
	return key
}

// Close closes the client, the admin client and the decision cache.
func (p *Plugin) Close() error {
	var errs []error
	if p.client != nil {
		errs = append(errs, p.client.Close())
	}
	if p.admin != nil {
		errs = append(errs, p.admin.Close())
	}
	if p.cache != nil {
		errs = append(errs, p.cache.Close())
	}
	return errors.Join(errs...)
}
