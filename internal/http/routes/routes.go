package routes

import (
	"github.com/Dhoini/dca-billing-service/internal/app"
	"github.com/Dhoini/dca-billing-service/internal/http/handlers"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes настраивает все маршруты API для Gin роутера
func SetupRoutes(router *gin.Engine, app *app.App, log *logger.Logger) {
	// Промежуточное ПО для всех запросов
	router.Use(app.LoggerMiddleware)
	router.Use(gin.Recovery())

	if app.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	{
		// Публичные маршруты (без аутентификации)
		api.POST("/webhooks/stripe", app.WebhookHandler.HandleStripeWebhook)
		api.GET("/health", handlers.Health)

		// Защищенные маршруты (требуют аутентификации)
		auth := api.Group("")
		auth.Use(app.AuthMiddleware.RequireAuth())
		{
			auth.POST("/checkout", app.BillingHandler.CreateCheckout)
			auth.GET("/entitlements", app.BillingHandler.GetEntitlements)
		}
	}

	log.Infow("API routes successfully configured")
}
