package gincerbos

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/gin-cerbos/cerbos"
	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

// ResourceLoader tells the hook which resource and action a request targets.
type ResourceLoader func(c *gin.Context) (resource *cerbos.Resource, action string, err error)

// ParamLoader returns a loader for routes addressing one resource of kind
// by the path parameter idParam.
func ParamLoader(kind, action, idParam string) ResourceLoader {
	return func(c *gin.Context) (*cerbos.Resource, string, error) {
		return cerbos.NewResource(kind, c.Param(idParam)), action, nil
	}
}

// PreHandler returns the hook that authorizes every request with the loader
// set by WithResourceLoader before the route handler runs. Requests that
// match no route are passed on so gin answers them with 404 or 405.
func (p *Plugin) PreHandler() gin.HandlerFunc {
	return p.preHandler(p.loader)
}

// Require returns a per-route hook authorizing with loader.
func (p *Plugin) Require(loader ResourceLoader) gin.HandlerFunc {
	return p.preHandler(loader)
}

func (p *Plugin) preHandler(loader ResourceLoader) gin.HandlerFunc {
	skip := p.skipSet()
	status := p.cfg.denyStatus()

	return func(c *gin.Context) {
		if c.FullPath() == "" || p.skipped(skip, c) {
			c.Next()
			return
		}

		logger := p.logger.WithContext(c.Request.Context()).With(
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
		)

		if loader == nil {
			logger.Warn("authorization hook has no resource loader")
			p.deny(c, status, reasonNoLoader, ErrNoResourceLoader)
			return
		}

		resource, action, err := loader(c)
		if err != nil {
			logger.Warn("failed to load resource for authorization", observability.Error(err))
			p.deny(c, status, reasonLoadError, err)
			return
		}

		user, _ := c.Get(p.cfg.userKey())
		allowed, err := p.Check(c.Request.Context(), user, resource, action)
		if err != nil {
			if p.cfg.Hook.FailOpen && isRemoteFailure(err) {
				logger.Warn("authorization check failed, allowing request", observability.Error(err))
				c.Next()
				return
			}
			logger.Error("authorization check failed", observability.Error(err))
			p.deny(c, status, reasonError, err)
			return
		}

		if !allowed {
			logger.Warn("request denied",
				observability.String("kind", resource.Kind),
				observability.String("action", action),
			)
			p.deny(c, status, reasonDenied, nil)
			return
		}
		c.Next()
	}
}

func (p *Plugin) skipped(skip map[string]struct{}, c *gin.Context) bool {
	if len(skip) == 0 {
		return false
	}
	if _, ok := skip[c.FullPath()]; ok {
		return true
	}
	_, ok := skip[c.Request.URL.Path]
	return ok
}

func (p *Plugin) deny(c *gin.Context, status int, reason string, err error) {
	p.metrics.RecordHookDenial(reason)
	if err != nil {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":   http.StatusText(status),
		"message": denyMessage(reason),
	})
}

func denyMessage(reason string) string {
	switch reason {
	case reasonDenied:
		return "access denied"
	case reasonNoLoader:
		return "authorization is not configured for this route"
	case reasonLoadError:
		return "resource could not be resolved"
	default:
		return "authorization check failed"
	}
}

// isRemoteFailure reports whether err came from talking to Cerbos rather
// than from invalid input.
func isRemoteFailure(err error) bool {
	return errors.Is(err, cerbos.ErrUnavailable) || errors.Is(err, cerbos.ErrRemote)
}
