package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/kafka"
	"github.com/Dhoini/dca-billing-service/internal/metrics"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

var metadataValidator = validator.New()

type checkoutResult struct {
	subscription *domain.Subscription
	created      bool
	bots         []*domain.Bot
}

// HandleCheckoutCompleted обрабатывает оплату checkout-сессии: первую покупку
// или продление, оплаченное через чекаут.
func (s *ReconciliationService) HandleCheckoutCompleted(ctx context.Context, e domain.CheckoutCompleted) (Outcome, error) {
	log := s.log.With("sessionID", e.SessionID, "userID", e.Metadata.UserID, "plan", e.Metadata.PlanName)

	if e.SessionID == "" {
		log.Warnw("Checkout event without session id, skipping")
		return OutcomeSkipped, nil
	}

	duplicate, err := s.checkoutSeen(ctx, e.SessionID)
	if err != nil {
		return OutcomeFailed, err
	}
	if duplicate {
		log.Infow("Checkout session already processed")
		return OutcomeDuplicate, nil
	}

	meta := e.Metadata
	if err := meta.RequireIdentity(); err != nil {
		log.Warnw("Checkout metadata is incomplete, skipping", "error", err)
		return OutcomeSkipped, nil
	}
	if err := metadataValidator.Struct(meta); err != nil {
		log.Warnw("Checkout metadata is invalid, skipping", "error", err)
		return OutcomeSkipped, nil
	}

	exists, err := s.repos.Users.Exists(ctx, meta.UserID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("services: failed to check user: %w", err)
	}
	if !exists {
		log.Warnw("User from checkout metadata does not exist, skipping")
		return OutcomeSkipped, nil
	}

	planType := meta.EffectivePlanType()
	plan, err := s.plans.EnsurePlan(ctx, domain.PlanSpec{
		Name:        meta.PlanName,
		Category:    meta.PlanCategory,
		Tier:        meta.PlanTier,
		AmountMinor: e.AmountTotal,
		PlanType:    planType,
	})
	if err != nil {
		return OutcomeFailed, err
	}

	var result checkoutResult
	err = s.withEntitlementLock(ctx, meta.UserID, plan.ID.String(), func(ctx context.Context) error {
		// повторная доставка могла пройти, пока мы ждали блокировку
		seen, err := s.checkoutSeen(ctx, e.SessionID)
		if err != nil {
			return err
		}
		if seen {
			return domain.NewDuplicateError("checkout", "stripe_session_id", e.SessionID)
		}
		result, err = s.applyCheckout(ctx, log, e, plan, planType.DurationMonths())
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			log.Infow("Checkout session processed concurrently")
			return OutcomeDuplicate, nil
		}
		return OutcomeFailed, err
	}

	if meta.CouponCode != "" {
		if _, err := s.coupons.Redeem(ctx, meta.CouponCode, meta.UserID, e.SessionID); err != nil {
			log.Errorw("Failed to record coupon usage, purchase is kept", "code", meta.CouponCode, "error", err)
		}
	}

	now := s.now()
	eventType := kafka.TopicSubscriptionRenewed
	if result.created {
		eventType = kafka.TopicSubscriptionActivated
	}
	events := []kafka.EntitlementEvent{subscriptionEvent(eventType, result.subscription, now)}
	for _, bot := range result.bots {
		events = append(events, botEvent(bot, plan.Name, now))
	}
	s.publishEntitlementEvents(ctx, events...)

	log.Infow("Checkout reconciled", "subscriptionID", result.subscription.ID, "created", result.created,
		"endDate", result.subscription.EndDate, "isTrial", result.subscription.IsTrial, "botsCreated", len(result.bots))
	return OutcomeProcessed, nil
}

// checkoutSeen сессия уже записана в заказ или подписку
func (s *ReconciliationService) checkoutSeen(ctx context.Context, sessionID string) (bool, error) {
	ordered, err := s.repos.Orders.ExistsBySessionID(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("services: failed to check order session: %w", err)
	}
	if ordered {
		return true, nil
	}
	subscribed, err := s.repos.Subscriptions.ExistsBySessionID(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("services: failed to check subscription session: %w", err)
	}
	return subscribed, nil
}

// applyCheckout выполняется под блокировкой (userId, planId)
func (s *ReconciliationService) applyCheckout(ctx context.Context, log *logger.Logger, e domain.CheckoutCompleted, plan *domain.Plan, months int) (checkoutResult, error) {
	meta := e.Metadata
	now := s.now()

	latest, err := s.repos.Subscriptions.GetLatestByUserAndPlan(ctx, meta.UserID, plan.ID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return checkoutResult{}, fmt.Errorf("services: failed to load subscription: %w", err)
	}

	var result checkoutResult
	if latest != nil {
		// продление через чекаут: оплаченный чекаут всегда снимает триал
		latest.EndDate = AddCalendarMonths(ExtensionBase(now, latest.EndDate), months)
		latest.Status = domain.SubscriptionStatusActive
		latest.StripeSessionID = e.SessionID
		latest.IsTrial = false
		if e.SubscriptionID != "" {
			latest.StripeSubscriptionID = e.SubscriptionID
		}
		latest.UpdatedAt = now
		if err := s.repos.Subscriptions.Update(ctx, latest); err != nil {
			return checkoutResult{}, fmt.Errorf("services: failed to extend subscription: %w", err)
		}
		result.subscription = latest
	} else {
		sub := &domain.Subscription{
			ID:                   uuid.New(),
			UserID:               meta.UserID,
			PlanID:               plan.ID,
			PlanName:             plan.Name,
			Status:               domain.SubscriptionStatusActive,
			StartDate:            now,
			EndDate:              AddCalendarMonths(now, months),
			IsTrial:              meta.IsTrial,
			StripeSessionID:      e.SessionID,
			StripeSubscriptionID: e.SubscriptionID,
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if meta.IsTrial {
			// длина триала фиксирована и не зависит от planType
			sub.EndDate = now.Add(domain.TrialPeriod)
		}
		if err := s.repos.Subscriptions.Create(ctx, sub); err != nil {
			return checkoutResult{}, fmt.Errorf("services: failed to create subscription: %w", err)
		}
		result.subscription = sub
		result.created = true
		result.bots = s.provisionBots(ctx, log, meta.UserID, plan)
	}

	order := &domain.Order{
		ID:              uuid.New(),
		UserID:          meta.UserID,
		PlanName:        plan.Name,
		Amount:          domain.FromMinorUnits(e.AmountTotal),
		Currency:        e.Currency,
		PaymentMethod:   lo.Ternary(e.PaymentMethod != "", e.PaymentMethod, s.paymentMethod),
		StripeSessionID: e.SessionID,
		Status:          domain.OrderStatusPaid,
		CreatedAt:       now,
	}
	if err := s.appendOrder(ctx, order, metrics.OrderSourceCheckout); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			// подписка уже записана этой сессией, повторный заказ не нужен
			log.Infow("Order for session already exists")
			return result, nil
		}
		return checkoutResult{}, fmt.Errorf("services: failed to append order: %w", err)
	}
	return result, nil
}

// BotNamesForPlan состав ботов тарифа: IncludedBots без повторов или один бот с именем тарифа
func BotNamesForPlan(plan *domain.Plan) []string {
	names := lo.Uniq(lo.Compact(plan.IncludedBots))
	if len(names) == 0 {
		return []string{plan.Name}
	}
	return names
}

// provisionBots создает недостающих ботов. Ошибки не откатывают подписку,
// они видны в логе и счетчике billing_bot_provisioning_failures_total.
func (s *ReconciliationService) provisionBots(ctx context.Context, log *logger.Logger, userID string, plan *domain.Plan) []*domain.Bot {
	var created []*domain.Bot
	for _, name := range BotNamesForPlan(plan) {
		bot := domain.NewPendingBot(userID, name, s.now())
		ok, err := s.repos.Bots.CreateIfAbsent(ctx, bot)
		if err != nil {
			log.Errorw("Failed to provision bot", "bot", name, "error", err)
			s.metrics.IncBotProvisioningFailed()
			continue
		}
		if !ok {
			log.Infow("Bot already owned by user", "bot", name)
			continue
		}
		created = append(created, bot)
	}
	if len(created) > 0 {
		s.metrics.IncBotsProvisioned(len(created))
		log.Infow("Bots provisioned", "count", len(created), "bundle", plan.IsBundle())
	}
	return created
}
