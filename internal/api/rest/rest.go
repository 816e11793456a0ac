package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/taxroll/lead-reconciler/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Upload endpoint (mutating, requires authentication)
		v1.POST("/uploads", middleware.Auth(authCfg), handler.UploadLeads)

		// Property endpoints (public read access)
		v1.GET("/properties", handler.ListProperties)
		v1.GET("/properties/:id", handler.GetProperty)

		// Changes endpoint (public read access)
		v1.GET("/changes", handler.GetChanges)

		// Report endpoint (public read access)
		v1.GET("/reports/latest", handler.GetLatestReport)
	}
}
