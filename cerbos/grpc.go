package cerbos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
	"github.com/vyrodovalexey/gin-cerbos/internal/retry"
)

// grpcTransport calls the CerbosService over gRPC.
type grpcTransport struct {
	conn   *grpc.ClientConn
	target string
	retry  *retry.Config
	logger observability.Logger
}

func newGRPCClient(cfg *Config, o *options) (Client, error) {
	tlsCfg, err := cfg.buildTLSConfig()
	if err != nil {
		return nil, err
	}

	creds := insecure.NewCredentials()
	if tlsCfg != nil {
		creds = credentials.NewTLS(tlsCfg)
	}

	dialOpts := make([]grpc.DialOption, 0, len(o.dialOptions)+2)
	dialOpts = append(dialOpts,
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(wireCodec{})),
	)
	dialOpts = append(dialOpts, o.dialOptions...)

	target := cfg.Target()
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cerbos gRPC client for %s: %w", target, err)
	}

	o.logger.Debug("cerbos gRPC client created", observability.String("target", target))

	return &client{
		cfg: cfg,
		transport: &grpcTransport{
			conn:   conn,
			target: target,
			retry:  cfg.retryConfig(),
			logger: o.logger,
		},
		logger: o.logger,
		tracer: o.tracer,
	}, nil
}

func (t *grpcTransport) name() string {
	return TransportGRPC
}

func (t *grpcTransport) checkResources(ctx context.Context, input *CheckInput) (*CheckResult, error) {
	req := &checkResourcesRequest{input: *input}
	resp := &checkResourcesResponse{}

	if err := t.invoke(ctx, methodCheckResources, req, resp); err != nil {
		return nil, err
	}
	return &resp.result, nil
}

func (t *grpcTransport) serverInfo(ctx context.Context) (*ServerInfo, error) {
	resp := &serverInfoResponse{}
	if err := t.invoke(ctx, methodServerInfo, &serverInfoRequest{}, resp); err != nil {
		return nil, err
	}
	return &resp.info, nil
}

// invoke performs a unary call, retrying transient failures.
func (t *grpcTransport) invoke(ctx context.Context, method string, req, resp wireMessage) error {
	err := retry.Do(ctx, t.retry, func() error {
		return t.conn.Invoke(ctx, method, req, resp)
	}, &retry.Options{
		ShouldRetry: isRetryableGRPCError,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			t.logger.WithContext(ctx).Debug("retrying cerbos gRPC call",
				observability.String("method", method),
				observability.Int("attempt", attempt),
				observability.Duration("backoff", backoff),
				observability.Error(err),
			)
		},
	})
	if err != nil {
		return t.wrapError(err)
	}
	return nil
}

func (t *grpcTransport) wrapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &UnavailableError{Target: t.target, Cause: err}
	}

	st, ok := status.FromError(err)
	if !ok {
		return &UnavailableError{Target: t.target, Cause: err}
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled:
		return &UnavailableError{Target: t.target, Cause: err}
	default:
		return &RemoteError{
			Transport: TransportGRPC,
			Code:      st.Code().String(),
			Message:   st.Message(),
		}
	}
}

func (t *grpcTransport) close() error {
	return t.conn.Close()
}

// isRetryableGRPCError retries only failures where the request was not
// processed.
func isRetryableGRPCError(err error) bool {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}
