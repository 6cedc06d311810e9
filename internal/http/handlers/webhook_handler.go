package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/services"
	billingstripe "github.com/Dhoini/dca-billing-service/internal/stripe"
	"github.com/Dhoini/dca-billing-service/pkg/logger"
	"github.com/Dhoini/dca-billing-service/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v78/webhook" // Пакет для обработки вебхуков
)

const (
	// Ограничение на размер тела запроса вебхука (Stripe рекомендует ~65kb)
	maxRequestBodySize = int64(65536)
)

// EventDispatcher ядро сверки платежей
type EventDispatcher interface {
	Dispatch(ctx context.Context, event domain.PaymentEvent) services.Outcome
}

// WebhookHandler обрабатывает входящие вебхуки от Stripe.
type WebhookHandler struct {
	dispatcher    EventDispatcher
	log           *logger.Logger
	webhookSecret string // Секретный ключ для проверки подписи вебхука (whsec_...)
}

// NewWebhookHandler создает новый экземпляр WebhookHandler.
func NewWebhookHandler(webhookSecret string, dispatcher EventDispatcher, log *logger.Logger) (*WebhookHandler, error) {
	if webhookSecret == "" {
		log.Errorw("Stripe webhook secret is not configured")
		return nil, errors.New("stripe webhook secret is not configured")
	}
	return &WebhookHandler{
		dispatcher:    dispatcher,
		log:           log,
		webhookSecret: webhookSecret,
	}, nil
}

// HandleStripeWebhook - обработчик для Gin, принимающий вебхуки Stripe.
// После проверки подписи всегда отвечает 200: ошибки обработки не должны
// превращаться в бесконечные повторы доставки.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	payload, err := io.ReadAll(c.Request.Body)
	//goland:noinspection GoUnhandledErrorResult
	defer c.Request.Body.Close()

	if err != nil {
		h.log.Errorw("Failed to read webhook request body", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Cannot read request body"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		h.log.Warnw("Missing Stripe-Signature header")
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Missing Stripe-Signature header"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	// Версия API аккаунта может отличаться от версии SDK, поля мы разбираем сами
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.log.Warnw("Webhook signature verification failed", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Webhook signature verification failed"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	h.log.Infow("Received verified Stripe event", "eventID", event.ID, "eventType", event.Type)

	paymentEvent, err := billingstripe.DecodeEvent(event)
	if err != nil {
		h.log.Errorw("Failed to decode Stripe event", "error", err, "eventID", event.ID, "eventType", event.Type)
	} else {
		outcome := h.dispatcher.Dispatch(c.Request.Context(), paymentEvent)
		h.log.Infow("Stripe event reconciled", "eventID", event.ID, "eventType", event.Type, "outcome", outcome)
	}

	res.JsonResponse(c.Writer, gin.H{"received": true}, http.StatusOK)
}
