package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/kafka"
	"github.com/Dhoini/dca-billing-service/internal/metrics"

	"github.com/google/uuid"
)

var errNothingToRenew = errors.New("no subscription to renew")

// HandleInvoicePaid продлевает подписку по оплаченному инвойсу регулярного платежа.
// Инвойс не несет метаданных, поэтому они берутся из подписки шлюза.
// Ботов и купоны продление не трогает.
func (s *ReconciliationService) HandleInvoicePaid(ctx context.Context, e domain.InvoicePaid) (Outcome, error) {
	log := s.log.With("invoiceID", e.InvoiceID, "subscriptionID", e.SubscriptionID)

	if e.InvoiceID == "" {
		log.Warnw("Invoice event without invoice id, skipping")
		return OutcomeSkipped, nil
	}
	renewalTag := domain.AutoRenewalSessionID(e.InvoiceID)

	seen, err := s.repos.Orders.ExistsBySessionID(ctx, renewalTag)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("services: failed to check renewal order: %w", err)
	}
	if seen {
		log.Infow("Invoice already applied")
		return OutcomeDuplicate, nil
	}

	meta, err := s.gateway.SubscriptionMetadata(ctx, e.SubscriptionID)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("services: failed to resolve subscription metadata: %w", err)
	}
	if err := meta.RequireIdentity(); err != nil {
		log.Warnw("Subscription metadata is incomplete, skipping", "error", err)
		return OutcomeSkipped, nil
	}
	log = log.With("userID", meta.UserID, "plan", meta.PlanName)

	plan, err := s.plans.FindByName(ctx, meta.PlanName)
	if err != nil {
		return OutcomeFailed, err
	}
	if plan == nil {
		log.Warnw("Plan for renewal not found, skipping")
		return OutcomeSkipped, nil
	}
	months := meta.EffectivePlanType().DurationMonths()

	var renewed *domain.Subscription
	err = s.withEntitlementLock(ctx, meta.UserID, plan.ID.String(), func(ctx context.Context) error {
		seen, err := s.repos.Orders.ExistsBySessionID(ctx, renewalTag)
		if err != nil {
			return fmt.Errorf("services: failed to check renewal order: %w", err)
		}
		if seen {
			return domain.NewDuplicateError("order", "stripe_session_id", renewalTag)
		}

		sub, err := s.repos.Subscriptions.GetLatestByUserAndPlan(ctx, meta.UserID, plan.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return errNothingToRenew
			}
			return fmt.Errorf("services: failed to load subscription: %w", err)
		}

		now := s.now()
		sub.EndDate = AddCalendarMonths(ExtensionBase(now, sub.EndDate), months)
		sub.Status = domain.SubscriptionStatusActive
		sub.UpdatedAt = now
		if sub.StripeSubscriptionID == "" {
			sub.StripeSubscriptionID = e.SubscriptionID
		}
		if err := s.repos.Subscriptions.Update(ctx, sub); err != nil {
			return fmt.Errorf("services: failed to renew subscription: %w", err)
		}

		order := &domain.Order{
			ID:              uuid.New(),
			UserID:          meta.UserID,
			PlanName:        plan.Name,
			Amount:          domain.FromMinorUnits(e.AmountPaid),
			Currency:        e.Currency,
			PaymentMethod:   s.paymentMethod,
			StripeSessionID: renewalTag,
			Status:          domain.OrderStatusPaid,
			CreatedAt:       now,
		}
		if err := s.appendOrder(ctx, order, metrics.OrderSourceRenewal); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				return err
			}
			return fmt.Errorf("services: failed to append renewal order: %w", err)
		}
		renewed = sub
		return nil
	})
	switch {
	case errors.Is(err, errNothingToRenew):
		log.Warnw("No subscription to renew, skipping")
		return OutcomeSkipped, nil
	case errors.Is(err, domain.ErrDuplicate):
		log.Infow("Invoice applied concurrently")
		return OutcomeDuplicate, nil
	case err != nil:
		return OutcomeFailed, err
	}

	s.publishEntitlementEvents(ctx, subscriptionEvent(kafka.TopicSubscriptionRenewed, renewed, s.now()))
	log.Infow("Subscription renewed", "endDate", renewed.EndDate)
	return OutcomeProcessed, nil
}
