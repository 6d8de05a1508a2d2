package gincerbos

import (
	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/gin-cerbos/cerbos"
)

// authorizerKey is the gin context key of the request authorizer.
const authorizerKey = "gincerbos.authorizer"

// RequestAuthorizer answers authorization questions for the current request's
// user. Handlers obtain it with FromContext.
type RequestAuthorizer struct {
	plugin *Plugin
	c      *gin.Context
}

// Decorate returns a middleware that attaches a RequestAuthorizer to every
// request.
func (p *Plugin) Decorate() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(authorizerKey, &RequestAuthorizer{plugin: p, c: c})
		c.Next()
	}
}

// FromContext returns the authorizer attached by Decorate.
func FromContext(c *gin.Context) (*RequestAuthorizer, error) {
	v, ok := c.Get(authorizerKey)
	if !ok {
		return nil, ErrNotRegistered
	}
	a, ok := v.(*RequestAuthorizer)
	if !ok || a == nil {
		return nil, ErrNotRegistered
	}
	return a, nil
}

// IsAllowed reports whether the current user may perform action on resource.
func IsAllowed(c *gin.Context, resource *cerbos.Resource, action string) (bool, error) {
	a, err := FromContext(c)
	if err != nil {
		return false, err
	}
	return a.IsAllowed(resource, action)
}

// User returns the user stored under the configured key, or nil.
func (a *RequestAuthorizer) User() any {
	v, _ := a.c.Get(a.plugin.cfg.userKey())
	return v
}

// Principal returns the principal derived for the current user.
func (a *RequestAuthorizer) Principal() (*cerbos.Principal, error) {
	return a.plugin.Principal(a.c.Request.Context(), a.User())
}

// IsAllowed reports whether the current user may perform action on resource.
func (a *RequestAuthorizer) IsAllowed(resource *cerbos.Resource, action string) (bool, error) {
	return a.plugin.Check(a.c.Request.Context(), a.User(), resource, action)
}

// CheckResources checks several resources and actions for the current user
// in one call. Results are not cached.
func (a *RequestAuthorizer) CheckResources(checks ...*cerbos.ResourceCheck) (*cerbos.CheckResult, error) {
	ctx := a.c.Request.Context()
	principal, err := a.plugin.Principal(ctx, a.User())
	if err != nil {
		return nil, &CheckError{Err: err}
	}

	resources := make([]*cerbos.ResourceCheck, 0, len(checks))
	for _, rc := range checks {
		if rc == nil {
			resources = append(resources, nil)
			continue
		}
		resources = append(resources, &cerbos.ResourceCheck{
			Resource: a.plugin.resource(rc.Resource),
			Actions:  rc.Actions,
		})
	}

	result, err := a.plugin.client.CheckResources(ctx, &cerbos.CheckInput{
		Principal: principal,
		Resources: resources,
	})
	if err != nil {
		return nil, &CheckError{Err: err}
	}
	return result, nil
}
