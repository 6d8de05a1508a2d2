package cerbos

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
	"github.com/vyrodovalexey/gin-cerbos/internal/retry"
)

const tracerName = "github.com/vyrodovalexey/gin-cerbos/cerbos"

// Client is a Cerbos policy decision point client.
type Client interface {
	// IsAllowed reports whether principal may perform action on resource.
	IsAllowed(ctx context.Context, principal *Principal, resource *Resource, action string) (bool, error)

	// CheckResources checks several actions on several resources at once.
	CheckResources(ctx context.Context, input *CheckInput) (*CheckResult, error)

	// ServerInfo returns the Cerbos server build information.
	ServerInfo(ctx context.Context) (*ServerInfo, error)

	// Close releases the underlying connection.
	Close() error
}

// Option configures a client.
type Option func(*options)

type options struct {
	logger      observability.Logger
	httpClient  *http.Client
	dialOptions []grpc.DialOption
	tracer      trace.Tracer
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = observability.FromZap(logger)
	}
}

// WithHTTPClient sets the HTTP client used by the HTTP transport and the
// admin client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithDialOptions appends gRPC dial options.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) {
		o.dialOptions = append(o.dialOptions, opts...)
	}
}

// WithTracerProvider sets the tracer provider used for client spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.tracer = tp.Tracer(tracerName)
	}
}

func buildOptions(opts []Option) *options {
	o := &options{
		logger: observability.NopLogger(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New creates a client for the transport selected by cfg.
func New(cfg *Config, opts ...Option) (Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := buildOptions(opts)

	switch cfg.GetTransport() {
	case TransportHTTP:
		return newHTTPClient(cfg, o)
	default:
		return newGRPCClient(cfg, o)
	}
}

// transport is the per-wire part of a client.
type transport interface {
	name() string
	checkResources(ctx context.Context, input *CheckInput) (*CheckResult, error)
	serverInfo(ctx context.Context) (*ServerInfo, error)
	close() error
}

// client implements Client on top of a transport.
type client struct {
	cfg       *Config
	transport transport
	logger    observability.Logger
	tracer    trace.Tracer
}

// IsAllowed implements Client.
func (c *client) IsAllowed(ctx context.Context, principal *Principal, resource *Resource, action string) (bool, error) {
	return isAllowed(ctx, c, principal, resource, action)
}

// CheckResources implements Client.
func (c *client) CheckResources(ctx context.Context, input *CheckInput) (*CheckResult, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "cerbos."+c.transport.name()+".check_resources",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cerbos.principal.id", input.Principal.ID),
			attribute.Int("cerbos.resources", len(input.Resources)),
		),
	)
	defer span.End()

	req := *input
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.GetTimeout())
	defer cancel()

	result, err := c.transport.checkResources(ctx, &req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.WithContext(ctx).Warn("cerbos check failed",
			observability.String("request_id", req.RequestID),
			observability.String("principal", input.Principal.ID),
			observability.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(attribute.String("cerbos.call_id", result.CallID))
	c.logger.WithContext(ctx).Debug("cerbos check completed",
		observability.String("request_id", req.RequestID),
		observability.String("call_id", result.CallID),
		observability.Int("results", len(result.Results)),
	)
	return result, nil
}

// ServerInfo implements Client.
func (c *client) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	ctx, span := c.tracer.Start(ctx, "cerbos."+c.transport.name()+".server_info",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.GetTimeout())
	defer cancel()

	info, err := c.transport.serverInfo(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return info, nil
}

// Close implements Client.
func (c *client) Close() error {
	return c.transport.close()
}

// isAllowed is IsAllowed expressed through CheckResources.
func isAllowed(ctx context.Context, c Client, principal *Principal, resource *Resource, action string) (bool, error) {
	if err := principal.Validate(); err != nil {
		return false, err
	}
	if err := resource.Validate(); err != nil {
		return false, err
	}
	if action == "" {
		return false, fmt.Errorf("%w: action is empty", ErrInvalidAction)
	}

	result, err := c.CheckResources(ctx, &CheckInput{
		Principal: principal,
		Resources: []*ResourceCheck{{Resource: resource, Actions: []string{action}}},
	})
	if err != nil {
		return false, err
	}

	res := result.Find(resource.Kind, resource.ID)
	if res == nil {
		if len(result.Results) != 1 {
			return false, fmt.Errorf("%w: %s:%s", ErrMissingResult, resource.Kind, resource.ID)
		}
		res = result.Results[0]
	}
	return res.IsAllowed(action), nil
}

// retryConfig converts the public retry settings.
func (c *Config) retryConfig() *retry.Config {
	if c.Retry == nil {
		return retry.DefaultConfig()
	}
	return &retry.Config{
		MaxRetries:     c.Retry.MaxRetries,
		InitialBackoff: c.Retry.InitialBackoff,
		MaxBackoff:     c.Retry.MaxBackoff,
		JitterFactor:   retry.DefaultJitterFactor,
	}
}
