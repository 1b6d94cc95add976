package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"skylearn_backend/internal/handlers"
	"skylearn_backend/internal/middleware"
	"skylearn_backend/internal/models"
	"skylearn_backend/internal/services"
)

// RegisterRoutes wires all route groups onto the engine.
//
// Webhooks stay outside the rate limiter and outside auth: the gateway does
// not hold an API token, its requests authenticate by signature.
func RegisterRoutes(r *gin.Engine, h *handlers.AppHandlers, auth services.AuthService, limiter *middleware.RateLimiter) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	public := r.Group("/")
	{
		h.AuthHandler.RegisterRoutes(public)
		h.WebhookHandler.RegisterRoutes(public)
	}

	api := r.Group("/api/v1")
	api.Use(limiter.Middleware(), middleware.AuthMiddleware(auth))
	{
		h.TransactionHandler.RegisterRoutes(api)
		h.SubscriptionHandler.RegisterRoutes(api)
	}

	admin := r.Group("/api/v1")
	admin.Use(limiter.Middleware(), middleware.AuthMiddleware(auth), middleware.RequireRoles(models.UserRoleAdmin))
	{
		h.EnrollmentHandler.RegisterRoutes(admin)
	}
}
