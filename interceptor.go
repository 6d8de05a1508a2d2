package gincerbos

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vyrodovalexey/gin-cerbos/cerbos"
	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

// GRPCResourceLoader tells the interceptors which resource and action a call
// targets. req is nil for streaming calls.
type GRPCResourceLoader func(ctx context.Context, fullMethod string, req any) (*cerbos.Resource, string, error)

type userContextKey struct{}

// ContextWithUser stores the authenticated user for the interceptors.
func ContextWithUser(ctx context.Context, user any) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the user stored by ContextWithUser, or nil.
func UserFromContext(ctx context.Context) any {
	return ctx.Value(userContextKey{})
}

// UnaryServerInterceptor authorizes unary calls. Methods listed in the hook
// skip paths are not checked.
func (p *Plugin) UnaryServerInterceptor(loader GRPCResourceLoader) grpc.UnaryServerInterceptor {
	skip := p.skipSet()
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := skip[info.FullMethod]; !ok {
			if err := p.authorizeCall(ctx, loader, info.FullMethod, req); err != nil {
				return nil, err
			}
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor authorizes streaming calls once, before the handler runs.
func (p *Plugin) StreamServerInterceptor(loader GRPCResourceLoader) grpc.StreamServerInterceptor {
	skip := p.skipSet()
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if _, ok := skip[info.FullMethod]; !ok {
			if err := p.authorizeCall(ss.Context(), loader, info.FullMethod, nil); err != nil {
				return err
			}
		}
		return handler(srv, ss)
	}
}

func (p *Plugin) skipSet() map[string]struct{} {
	skip := make(map[string]struct{}, len(p.cfg.Hook.SkipPaths))
	for _, path := range p.cfg.Hook.SkipPaths {
		skip[path] = struct{}{}
	}
	return skip
}

func (p *Plugin) authorizeCall(ctx context.Context, loader GRPCResourceLoader, fullMethod string, req any) error {
	logger := p.logger.WithContext(ctx).With(observability.String("method", fullMethod))

	if loader == nil {
		p.metrics.RecordHookDenial(reasonNoLoader)
		logger.Warn("authorization interceptor has no resource loader")
		return status.Error(codes.PermissionDenied, denyMessage(reasonNoLoader))
	}

	resource, action, err := loader(ctx, fullMethod, req)
	if err != nil {
		p.metrics.RecordHookDenial(reasonLoadError)
		logger.Warn("failed to load resource for authorization", observability.Error(err))
		return status.Error(codes.PermissionDenied, denyMessage(reasonLoadError))
	}

	allowed, err := p.Check(ctx, UserFromContext(ctx), resource, action)
	if err != nil {
		if p.cfg.Hook.FailOpen && isRemoteFailure(err) {
			logger.Warn("authorization check failed, allowing call", observability.Error(err))
			return nil
		}
		p.metrics.RecordHookDenial(reasonError)
		logger.Error("authorization check failed", observability.Error(err))
		return status.Error(codes.PermissionDenied, denyMessage(reasonError))
	}
	if !allowed {
		logger.Warn("call denied",
			observability.String("kind", resource.Kind),
			observability.String("action", action),
		)
		p.metrics.RecordHookDenial(reasonDenied)
		return status.Error(codes.PermissionDenied, denyMessage(reasonDenied))
	}
	return nil
}
