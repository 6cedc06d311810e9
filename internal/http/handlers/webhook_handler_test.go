package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/services"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v78/webhook"
)

const testWebhookSecret = "whsec_test_secret"

type recordingDispatcher struct {
	mu     sync.Mutex
	events []domain.PaymentEvent
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, event domain.PaymentEvent) services.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return services.OutcomeProcessed
}

func newWebhookRouter(t *testing.T, dispatcher EventDispatcher) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	handler, err := NewWebhookHandler(testWebhookSecret, dispatcher, logger.NewNop())
	require.NoError(t, err)

	router := gin.New()
	router.POST("/webhooks/stripe", handler.HandleStripeWebhook)
	return router
}

func signedRequest(t *testing.T, payload string) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(signed.Payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

const checkoutPayload = `{
  "id": "evt_1",
  "object": "event",
  "api_version": "2020-08-27",
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_1", "object": "checkout.session", "amount_total": 4900, "currency": "usd",
    "metadata": {"userId": "user-1", "planName": "DCA-Pro-Bundle", "planType": "monthly"}
  }}
}`

func TestHandleStripeWebhook_Verified(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	router := newWebhookRouter(t, dispatcher)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedRequest(t, checkoutPayload))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received": true}`, rec.Body.String())
	require.Len(t, dispatcher.events, 1)
	event, ok := dispatcher.events[0].(domain.CheckoutCompleted)
	require.True(t, ok)
	assert.Equal(t, "cs_1", event.SessionID)
	assert.Equal(t, "DCA-Pro-Bundle", event.Metadata.PlanName)
}

func TestHandleStripeWebhook_Rejected(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	router := newWebhookRouter(t, dispatcher)

	t.Run("missing signature", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(checkoutPayload)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("tampered body", func(t *testing.T) {
		req := signedRequest(t, checkoutPayload)
		tampered := httptest.NewRequest(http.MethodPost, "/webhooks/stripe",
			strings.NewReader(strings.Replace(checkoutPayload, "4900", "1", 1)))
		tampered.Header.Set("Stripe-Signature", req.Header.Get("Stripe-Signature"))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, tampered)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		body := `{"id": "evt_big", "padding": "` + strings.Repeat("x", int(maxRequestBodySize)) + `"}`
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, signedRequest(t, body))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.Empty(t, dispatcher.events)
}

func TestHandleStripeWebhook_UndecodableObjectStillAcknowledged(t *testing.T) {
	dispatcher := &recordingDispatcher{}
	router := newWebhookRouter(t, dispatcher)

	payload := `{"id": "evt_2", "object": "event", "type": "invoice.paid", "data": {"object": {"id": "in_1", "subscription": 17}}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedRequest(t, payload))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, dispatcher.events)
}

func TestNewWebhookHandler_RequiresSecret(t *testing.T) {
	_, err := NewWebhookHandler("", &recordingDispatcher{}, logger.NewNop())
	assert.Error(t, err)
}
