package services

import (
	"context"
	"fmt"

	"github.com/Dhoini/dca-billing-service/internal/config"
	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/stripe"
	"github.com/Dhoini/dca-billing-service/pkg/logger"
)

// CheckoutSessionRequest данные покупателя для новой checkout-сессии
type CheckoutSessionRequest struct {
	UserID       string
	PlanName     string
	PlanType     domain.PlanType
	IsTrial      bool
	CouponCode   string
	PlanCategory string
	PlanTier     string
	// AmountMinor цена для тарифа, которого еще нет в каталоге
	AmountMinor int64
}

// CheckoutSessionCreator часть stripe.Client, нужная для продажи
type CheckoutSessionCreator interface {
	CreateCheckoutSession(ctx context.Context, in stripe.CheckoutSessionInput) (*stripe.CheckoutSession, error)
}

// CheckoutSessionService выдает ссылку на оплату со всеми метаданными, которые потом читает вебхук
type CheckoutSessionService struct {
	cfg     *config.Config
	plans   *PlanCatalog
	gateway CheckoutSessionCreator
	log     *logger.Logger
}

func NewCheckoutSessionService(cfg *config.Config, plans *PlanCatalog, gateway CheckoutSessionCreator, log *logger.Logger) *CheckoutSessionService {
	return &CheckoutSessionService{cfg: cfg, plans: plans, gateway: gateway, log: log}
}

func (s *CheckoutSessionService) CreateSession(ctx context.Context, req CheckoutSessionRequest) (*stripe.CheckoutSession, error) {
	meta := domain.PaymentMetadata{
		UserID:       req.UserID,
		PlanName:     req.PlanName,
		PlanType:     req.PlanType,
		IsTrial:      req.IsTrial,
		CouponCode:   domain.NormalizeCouponCode(req.CouponCode),
		PlanCategory: req.PlanCategory,
		PlanTier:     req.PlanTier,
	}
	if err := metadataValidator.Struct(meta); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	amount, err := s.priceFor(ctx, meta, req.AmountMinor)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, stripe.CheckoutSessionInput{
		Metadata:    meta,
		AmountMinor: amount,
		Currency:    s.cfg.Stripe.Currency,
		SuccessURL:  s.cfg.Stripe.SuccessURL,
		CancelURL:   s.cfg.Stripe.CancelURL,
		TrialDays:   domain.TrialDays,
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("Checkout session issued", "userID", req.UserID, "plan", req.PlanName, "sessionID", session.ID, "amount", amount)
	return session, nil
}

// priceFor цена из каталога, для нового тарифа берется цена из запроса
func (s *CheckoutSessionService) priceFor(ctx context.Context, meta domain.PaymentMetadata, requested int64) (int64, error) {
	plan, err := s.plans.FindByName(ctx, meta.PlanName)
	if err != nil {
		return 0, err
	}
	if plan == nil {
		if requested <= 0 {
			return 0, fmt.Errorf("%w: plan %q is not in catalog and no amount given", domain.ErrInvalidInput, meta.PlanName)
		}
		return requested, nil
	}
	if !plan.IsActive {
		return 0, fmt.Errorf("%w: plan %q is not active", domain.ErrInvalidInput, plan.Name)
	}

	price := plan.MonthlyPrice
	if meta.EffectivePlanType() == domain.PlanTypeYearly {
		price = plan.YearlyPrice
	}
	return price.Shift(2).Round(0).IntPart(), nil
}
