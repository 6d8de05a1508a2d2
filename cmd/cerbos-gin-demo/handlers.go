package main

import (
	"net/http"

	"github.com/gin-gonic/gin"

	gincerbos "github.com/vyrodovalexey/gin-cerbos"
	"github.com/vyrodovalexey/gin-cerbos/cerbos"
	"github.com/vyrodovalexey/gin-cerbos/internal/observability"
)

// handleHealth reports Cerbos reachability.
func (a *application) handleHealth(c *gin.Context) {
	info, err := a.plugin.Client().ServerInfo(c.Request.Context())
	if err != nil {
		a.logger.WithContext(c.Request.Context()).Warn("cerbos health check failed", observability.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"cerbos": info,
	})
}

// handleResource answers an authorized request with the resource it
// targeted and every action the caller may perform on it.
func (a *application) handleResource(c *gin.Context) {
	resource, action, err := a.rules.Loader()(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	authz, err := gincerbos.FromContext(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	principal, err := authz.Principal()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	actions := a.rules.Actions(resource.Kind)
	result, err := authz.CheckResources(&cerbos.ResourceCheck{Resource: resource, Actions: actions})
	if err != nil {
		a.logger.WithContext(c.Request.Context()).Warn("permission listing failed", observability.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "authorization service unavailable"})
		return
	}

	permitted := make([]string, 0, len(actions))
	res := result.Find(resource.Kind, resource.ID)
	for _, act := range actions {
		if res.IsAllowed(act) {
			permitted = append(permitted, act)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":      resource.Kind,
		"id":        resource.ID,
		"action":    action,
		"principal": principal.ID,
		"actions":   permitted,
	})
}
