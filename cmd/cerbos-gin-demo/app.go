package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	gincerbos "github.com/vyrodovalexey/gin-cerbos"
	"github.com/vyrodovalexey/gin-cerbos/cerbos"
	"github.com/vyrodovalexey/gin-cerbos/internal/config"
	"github.com/vyrodovalexey/gin-cerbos/internal/middleware"
	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
	"github.com/vyrodovalexey/gin-cerbos/internal/rules"
)

const metricsNamespace = "cerbos_demo"

// application holds all application components.
type application struct {
	config  *config.Config
	engine  *gin.Engine
	server  *http.Server
	plugin  *gincerbos.Plugin
	tracer  *observability.Tracer
	metrics *observability.Metrics
	rules   *rules.Table
	routes  map[string]struct{}
	logger  observability.Logger
}

// newApplication wires the demo server. Extra plugin options are applied
// after the defaults.
func newApplication(
	cfg *config.Config,
	zapLogger *zap.Logger,
	logger observability.Logger,
	opts ...gincerbos.Option,
) (*application, error) {
	tracer, err := observability.NewTracer(observability.TracerConfig{
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.Endpoint,
		SamplingRate: cfg.Tracing.SamplingRate,
		Enabled:      cfg.Tracing.Enabled,
		Insecure:     cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	metrics := observability.NewMetrics(metricsNamespace)
	metrics.SetBuildInfo(version, gitCommit, buildTime)

	app := &application{
		config:  cfg,
		tracer:  tracer,
		metrics: metrics,
		rules:   rules.NewTable(cfg.Routes),
		routes:  make(map[string]struct{}, len(cfg.Routes)),
		logger:  logger,
	}

	engine := gin.New()
	engine.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
		tracer.GinMiddleware(),
		metrics.GinMiddleware(),
		middleware.Logging(logger),
	)
	engine.GET("/healthz", app.handleHealth)
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.Auth.JWTSecret != "" {
		authenticator, err := newAuthenticator(cfg, logger)
		if err != nil {
			return nil, err
		}
		engine.Use(authenticator.Middleware())
	}

	pluginOpts := append([]gincerbos.Option{
		gincerbos.WithLogger(zapLogger),
		gincerbos.WithRegisterer(metrics.Registry()),
		gincerbos.WithResourceLoader(app.rules.Loader()),
	}, opts...)
	plugin, err := gincerbos.Register(engine, &cfg.Cerbos, pluginOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to register cerbos plugin: %w", err)
	}
	app.plugin = plugin

	app.registerRoutes(engine)

	app.engine = engine
	app.server = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return app, nil
}

// registerRoutes adds a handler per route rule. With the global hook
// disabled each route carries its own authorization guard.
func (a *application) registerRoutes(engine *gin.Engine) {
	for _, rule := range a.config.Routes {
		handlers := []gin.HandlerFunc{}
		if !a.plugin.Config().Hook.Enabled {
			handlers = append(handlers, a.plugin.Require(a.rules.Loader()))
		}
		handlers = append(handlers, a.handleResource)
		engine.Handle(rule.Method, rule.Path, handlers...)
		a.routes[rule.Key()] = struct{}{}
	}
}

// pushPolicies uploads the policy directory through the Admin API.
func (a *application) pushPolicies(ctx context.Context) error {
	if !a.config.Policies.PushOnStart {
		return nil
	}
	admin := a.plugin.Admin()
	if admin == nil {
		return cerbos.ErrNoAdminCredentials
	}

	policies, err := cerbos.LoadPolicies(a.config.Policies.Dir)
	if err != nil {
		return err
	}
	if err := admin.AddOrUpdatePolicies(ctx, policies...); err != nil {
		return err
	}

	a.logger.Info("policies pushed to cerbos",
		observability.String("dir", a.config.Policies.Dir),
		observability.Int("count", len(policies)),
	)
	return nil
}

// reloadRules swaps in new route rules. Routes can only be added by a
// restart, so rules for unknown routes are reported and kept inert.
func (a *application) reloadRules(cfg *config.Config) {
	for _, rule := range cfg.Routes {
		if _, ok := a.routes[rule.Key()]; !ok {
			a.logger.Warn("route rule has no registered route until restart",
				observability.String("route", rule.Key()),
			)
		}
	}
	a.rules.Update(cfg.Routes)
	a.logger.Info("route rules reloaded", observability.Int("rules", a.rules.Len()))
}

// close releases the plugin and flushes traces.
func (a *application) close(ctx context.Context) {
	if err := a.plugin.Close(); err != nil {
		a.logger.Error("failed to close cerbos plugin", observability.Error(err))
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Error("failed to shutdown tracer", observability.Error(err))
	}
}
