package handler

import (
	"txrelay/internal/adapter/http/middleware"
	"txrelay/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// NewRouter assembles the gin engine: public health and webhook-ack
// routes, and a bearer-token-guarded admin surface. Grounded on the
// teacher's cmd/server router wiring (RequestLogger/Recovery applied
// globally, a versioned route group per concern).
func NewRouter(
	admin *AdminHandler,
	webhook *WebhookHandler,
	health *HealthHandler,
	verifier ports.AdminTokenVerifier,
	log zerolog.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.RequestLogger(log))

	r.GET("/healthz/live", health.Live)
	r.GET("/healthz/ready", health.Ready)

	r.POST("/api/webhooks/acknowledge", webhook.Acknowledge)

	adminGroup := r.Group("/api/admin", middleware.AdminAuth(verifier))
	{
		adminGroup.POST("/transactions", admin.SubmitTransaction)
		adminGroup.GET("/transactions", admin.ListTransactions)
		adminGroup.GET("/transactions/:id", admin.GetTransaction)
		adminGroup.GET("/transactions/:id/history", admin.GetTransactionHistory)
		adminGroup.PATCH("/transactions/:id/status", admin.UpdateTransactionStatus)
		adminGroup.POST("/transactions/:id/retry", admin.RetryTransaction)
		adminGroup.POST("/transactions/:id/resolve", admin.ResolveTransaction)

		adminGroup.POST("/subscriptions", admin.RegisterSubscription)
		adminGroup.GET("/subscriptions", admin.ListSubscriptions)
		adminGroup.GET("/subscriptions/:id", admin.GetSubscription)
		adminGroup.PATCH("/subscriptions/:id", admin.UpdateSubscription)
		adminGroup.DELETE("/subscriptions/:id", admin.DeleteSubscription)
		adminGroup.GET("/subscriptions/:id/deliveries", admin.ListDeliveries)
		adminGroup.POST("/subscriptions/:id/test-delivery", admin.SendTestDelivery)

		adminGroup.POST("/deliveries/:id/retry", admin.RetryDelivery)

		adminGroup.POST("/reconciliation/run", admin.TriggerReconciliation)
		adminGroup.GET("/metrics", admin.GetMetrics)
	}

	return r
}
