package app

import (
	"errors"
	"fmt"

	"github.com/Dhoini/dca-billing-service/internal/config"
	"github.com/Dhoini/dca-billing-service/internal/http/handlers"
	"github.com/Dhoini/dca-billing-service/internal/middleware"
	"github.com/Dhoini/dca-billing-service/internal/services"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// App представляет собой контейнер для всех компонентов HTTP слоя
type App struct {
	Config           *config.Config
	Reconciliation   *services.ReconciliationService
	BillingHandler   *handlers.BillingHandler
	WebhookHandler   *handlers.WebhookHandler
	AuthMiddleware   *middleware.JWTMiddleware
	LoggerMiddleware gin.HandlerFunc
	Registry         *prometheus.Registry
	Logger           *logger.Logger
}

// NewApp создает и инициализирует новый экземпляр приложения
func NewApp(
	cfg *config.Config,
	reconciliation *services.ReconciliationService,
	checkout *services.CheckoutSessionService,
	entitlements *services.EntitlementService,
	registry *prometheus.Registry,
	log *logger.Logger,
) (*App, error) {
	webhookHandler, err := handlers.NewWebhookHandler(cfg.Stripe.WebhookSecret, reconciliation, log.Named("webhook"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize webhook handler: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwtSecret is not configured")
	}
	authMiddleware := middleware.NewJWTMiddleware(log, &middleware.DefaultTokenValidator{Secret: []byte(cfg.Auth.JWTSecret)})

	return &App{
		Config:           cfg,
		Reconciliation:   reconciliation,
		BillingHandler:   handlers.NewBillingHandler(checkout, entitlements, log),
		WebhookHandler:   webhookHandler,
		AuthMiddleware:   authMiddleware,
		LoggerMiddleware: middleware.RequestLogger(log.Named("http")),
		Registry:         registry,
		Logger:           log,
	}, nil
}
