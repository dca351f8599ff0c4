// internal/app/router.go
package app

import (
	deadLetterHandler "billing-service/internal/handlers/deadletter"
	healthHandler "billing-service/internal/handlers/health"
	webhookHandler "billing-service/internal/handlers/webhook"
	"billing-service/internal/middleware"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	HealthHandler     *healthHandler.HealthHandler
	WebhookHandler    *webhookHandler.WebhookHandler
	DeadLetterHandler *deadLetterHandler.DeadLetterHandler
	AuthMiddleware    *middleware.AuthMiddleware
}

func SetupRouter(r *gin.Engine, h *Handlers) {
	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", h.HealthHandler.Health)

	// ==================== Billing Webhook ====================
	billing := api.Group("/billing")
	{
		billing.POST("/webhook", h.WebhookHandler.HandleWebhook)
		billing.GET("/webhook", h.WebhookHandler.Liveness)
	}

	// ==================== Admin Routes ====================
	if h.AuthMiddleware == nil || h.DeadLetterHandler == nil {
		return
	}
	admin := api.Group("/admin/billing")
	admin.Use(h.AuthMiddleware.AdminOnly()...)
	{
		admin.GET("/dead-letters", h.DeadLetterHandler.ListDeadLetters)
		admin.POST("/dead-letters/:event_id/replay", h.DeadLetterHandler.ReplayDeadLetter)
	}
}
