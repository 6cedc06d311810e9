package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/middleware"
	"github.com/Dhoini/dca-billing-service/internal/services"
	billingstripe "github.com/Dhoini/dca-billing-service/internal/stripe"
	"github.com/Dhoini/dca-billing-service/pkg/logger"
	"github.com/Dhoini/dca-billing-service/pkg/req"
	"github.com/Dhoini/dca-billing-service/pkg/res"

	"github.com/gin-gonic/gin"
)

type CheckoutCreator interface {
	CreateSession(ctx context.Context, in services.CheckoutSessionRequest) (*billingstripe.CheckoutSession, error)
}

type EntitlementProvider interface {
	GetEntitlements(ctx context.Context, userID string) (*services.EntitlementView, error)
}

// BillingHandler обрабатывает HTTP запросы покупателя
type BillingHandler struct {
	checkout     CheckoutCreator
	entitlements EntitlementProvider
	log          *logger.Logger
}

// NewBillingHandler создает новый экземпляр BillingHandler.
func NewBillingHandler(checkout CheckoutCreator, entitlements EntitlementProvider, log *logger.Logger) *BillingHandler {
	return &BillingHandler{
		checkout:     checkout,
		entitlements: entitlements,
		log:          log,
	}
}

// CreateCheckoutRequest тело POST /checkout. userId берется из токена.
type CreateCheckoutRequest struct {
	PlanName     string `json:"plan_name" validate:"required"`
	PlanType     string `json:"plan_type" validate:"omitempty,oneof=monthly yearly"`
	IsTrial      bool   `json:"is_trial"`
	CouponCode   string `json:"coupon_code" validate:"omitempty,max=64"`
	PlanCategory string `json:"plan_category"`
	PlanTier     string `json:"plan_tier"`
	AmountMinor  int64  `json:"amount" validate:"gte=0"`
}

// CreateCheckout обрабатывает POST /checkout
func (h *BillingHandler) CreateCheckout(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unauthenticated", ErrorCode: http.StatusUnauthorized}, http.StatusUnauthorized)
		c.Abort()
		return
	}

	body, err := req.HandleBody[CreateCheckoutRequest](c.Writer, c.Request, h.log)
	if err != nil {
		c.Abort()
		return
	}

	session, err := h.checkout.CreateSession(c.Request.Context(), services.CheckoutSessionRequest{
		UserID:       userID,
		PlanName:     body.PlanName,
		PlanType:     domain.PlanType(body.PlanType),
		IsTrial:      body.IsTrial,
		CouponCode:   body.CouponCode,
		PlanCategory: body.PlanCategory,
		PlanTier:     body.PlanTier,
		AmountMinor:  body.AmountMinor,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	res.JsonResponse(c.Writer, session, http.StatusCreated)
}

// GetEntitlements обрабатывает GET /entitlements
func (h *BillingHandler) GetEntitlements(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Unauthenticated", ErrorCode: http.StatusUnauthorized}, http.StatusUnauthorized)
		c.Abort()
		return
	}

	view, err := h.entitlements.GetEntitlements(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	res.JsonResponse(c.Writer, view, http.StatusOK)
}

// Health обрабатывает GET /health
func Health(c *gin.Context) {
	res.JsonResponse(c.Writer, gin.H{"status": "ok"}, http.StatusOK)
}

func (h *BillingHandler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status, message = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, message = http.StatusNotFound, "Not found"
	case errors.Is(err, domain.ErrExternalServiceUnavailable):
		status, message = http.StatusBadGateway, "Payment provider is unavailable"
	}
	_ = c.Error(err)
	res.JsonErrorResponse(c.Writer, res.ErrorResponse{Error: message, ErrorCode: status}, status, h.log)
	c.Abort()
}
