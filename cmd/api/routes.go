package main

import (
	"github.com/gin-gonic/gin"

	"freightline/internal/httpapi"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, authMW gin.HandlerFunc, h httpapi.Handlers) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		callGroup := v1.Group("/calls")
		{
			callGroup.POST("", h.Initiate)
			callGroup.GET("", h.ListCalls)
			callGroup.GET("/events", h.Events)
			callGroup.GET("/:call_id", h.GetCall)
			callGroup.POST("/:call_id/answer", h.Answer)
			callGroup.POST("/:call_id/decline", h.Decline)
			callGroup.POST("/:call_id/hangup", h.Hangup)
			callGroup.POST("/:call_id/mute", h.ToggleMute)
			callGroup.POST("/:call_id/video", h.ToggleVideo)
		}
	}
}
