package main

import (
	"context"
	"net/http"
	"time"

	"crm-calls/internal/httpapi"
	"crm-calls/internal/rbac"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	handlers       httpapi.Handlers
	authMW         gin.HandlerFunc
	streamAuthMW   gin.HandlerFunc
	webhookLimiter gin.HandlerFunc
	stream         gin.HandlerFunc
	ready          func(ctx context.Context) error
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	h := d.handlers

	// public
	r.GET("/healthz", httpapi.Healthz)
	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if d.ready != nil {
			if err := d.ready(ctx); err != nil {
				c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	customers := r.Group("/api/customers")

	// Provider webhook: no JWT, signed when a secret is configured, rate limited per IP.
	customers.POST("/webhook/call", d.webhookLimiter, h.CallWebhook)

	// EventSource cannot send headers, so the stream also takes ?access_token=.
	customers.GET("/calls/stream", d.streamAuthMW, d.stream)

	authed := customers.Group("")
	authed.Use(d.authMW)
	{
		authed.GET("/calls/logs", h.ListCallLogs)
		authed.GET("/calls/summary", h.CallsSummary)
		authed.POST("/:id/call", rbac.RequireAnyRole(rbac.CanInitiateCalls()...), h.InitiateCall)
	}
}
