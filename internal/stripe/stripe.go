package stripe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// errorTypeAPIConnection в stripe-go нет константы для этого типа ошибки
const errorTypeAPIConnection stripe.ErrorType = "api_connection_error"

const defaultRetryMaxElapsed = 30 * time.Second

// CheckoutSessionInput параметры новой checkout-сессии
type CheckoutSessionInput struct {
	Metadata    domain.PaymentMetadata
	AmountMinor int64
	Currency    string
	SuccessURL  string
	CancelURL   string
	TrialDays   int64
}

// CheckoutSession созданная сессия, на URL нужно перенаправить покупателя
type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

// Client определяет методы для взаимодействия со Stripe API.
type Client interface {
	// SubscriptionMetadata возвращает метаданные регулярной подписки.
	// Временные ошибки Stripe повторяются с экспоненциальной задержкой.
	SubscriptionMetadata(ctx context.Context, subscriptionID string) (domain.PaymentMetadata, error)

	// CreateCheckoutSession создает сессию оплаты подписки с метаданными биллинга
	// на самой сессии и на будущей подписке.
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error)
}

// stripeClient реализует интерфейс Client.
type stripeClient struct {
	client          *client.API // Клиент Stripe SDK
	retryMaxElapsed time.Duration
	log             *logger.Logger
}

// NewStripeClient создает новый экземпляр клиента Stripe.
func NewStripeClient(apiKey string, retryMaxElapsed time.Duration, log *logger.Logger) Client {
	return NewStripeClientWithBackends(apiKey, nil, retryMaxElapsed, log)
}

// NewStripeClientWithBackends позволяет подменить бэкенды SDK, например на httptest сервер.
func NewStripeClientWithBackends(apiKey string, backends *stripe.Backends, retryMaxElapsed time.Duration, log *logger.Logger) Client {
	sc := &client.API{}
	sc.Init(apiKey, backends)
	if retryMaxElapsed <= 0 {
		retryMaxElapsed = defaultRetryMaxElapsed
	}
	return &stripeClient{
		client:          sc,
		retryMaxElapsed: retryMaxElapsed,
		log:             log,
	}
}

func (sc *stripeClient) SubscriptionMetadata(ctx context.Context, subscriptionID string) (domain.PaymentMetadata, error) {
	if subscriptionID == "" {
		return domain.PaymentMetadata{}, fmt.Errorf("%w: subscription id is empty", domain.ErrInvalidInput)
	}

	var subscription *stripe.Subscription
	attempt := 0
	operation := func() error {
		attempt++
		params := &stripe.SubscriptionParams{}
		params.Context = ctx

		var err error
		subscription, err = sc.client.Subscriptions.Get(subscriptionID, params)
		if err == nil {
			return nil
		}
		if isRetryableStripeError(err) {
			sc.log.Warnw("Retryable Stripe error, retrying", "operation", "GetSubscription",
				"subscriptionID", subscriptionID, "attempt", attempt, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = sc.retryMaxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		logStripeError(sc.log, "GetSubscription", err)
		return domain.PaymentMetadata{}, newGatewayError("failed to fetch subscription", err)
	}

	sc.log.Debugw("Stripe subscription fetched", "subscriptionID", subscriptionID, "attempts", attempt)
	return domain.ParsePaymentMetadata(subscription.Metadata), nil
}

func (sc *stripeClient) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error) {
	interval := stripe.PriceRecurringIntervalMonth
	if in.Metadata.EffectivePlanType() == domain.PlanTypeYearly {
		interval = stripe.PriceRecurringIntervalYear
	}
	metadata := in.Metadata.ToMap()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(in.SuccessURL),
		CancelURL:         stripe.String(in.CancelURL),
		ClientReferenceID: stripe.String(in.Metadata.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(in.Currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(in.Metadata.PlanName),
					},
					Recurring: &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
						Interval: stripe.String(string(interval)),
					},
					UnitAmount: stripe.Int64(in.AmountMinor),
				},
				Quantity: stripe.Int64(1),
			},
		},
		// Метаданные подписки нужны продлению и отмене: инвойсы метаданных не несут
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	if in.Metadata.IsTrial && in.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(in.TrialDays)
	}
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}
	params.Context = ctx

	session, err := sc.client.CheckoutSessions.New(params)
	if err != nil {
		logStripeError(sc.log, "CreateCheckoutSession", err)
		return nil, newGatewayError("failed to create checkout session", err)
	}

	sc.log.Infow("Stripe checkout session created", "sessionID", session.ID,
		"userID", in.Metadata.UserID, "plan", in.Metadata.PlanName, "planType", in.Metadata.EffectivePlanType())
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// isRetryableStripeError проверяет, является ли ошибка Stripe подходящей для повторной попытки
func isRetryableStripeError(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			return true
		}
		if stripeErr.Type == errorTypeAPIConnection {
			return true
		}
		// 501 обычно не временная ошибка
		return stripeErr.HTTPStatusCode >= 500 && stripeErr.HTTPStatusCode != http.StatusNotImplemented
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

func newGatewayError(message string, err error) error {
	statusCode := 0
	code := ""
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		statusCode = stripeErr.HTTPStatusCode
		code = string(stripeErr.Code)
	}
	return domain.NewExternalServiceError("stripe", code, message, statusCode, err)
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
