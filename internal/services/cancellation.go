package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/kafka"
)

// HandleSubscriptionCancelled закрывает доступ сразу, не дожидаясь EndDate:
// регулярные списания в шлюзе уже остановлены.
func (s *ReconciliationService) HandleSubscriptionCancelled(ctx context.Context, e domain.SubscriptionCancelled) (Outcome, error) {
	meta := e.Metadata
	log := s.log.With("subscriptionID", e.SubscriptionID, "userID", meta.UserID, "plan", meta.PlanName)

	if err := meta.RequireIdentity(); err != nil {
		log.Warnw("Cancelled subscription metadata is incomplete, skipping", "error", err)
		return OutcomeSkipped, nil
	}

	plan, err := s.plans.FindByName(ctx, meta.PlanName)
	if err != nil {
		return OutcomeFailed, err
	}
	if plan == nil {
		log.Warnw("Plan of cancelled subscription not found, skipping")
		return OutcomeSkipped, nil
	}

	var expired *domain.Subscription
	err = s.withEntitlementLock(ctx, meta.UserID, plan.ID.String(), func(ctx context.Context) error {
		sub, err := s.repos.Subscriptions.GetLatestByUserAndPlan(ctx, meta.UserID, plan.ID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("services: failed to load subscription: %w", err)
		}
		if sub.Status == domain.SubscriptionStatusExpired {
			expired = sub
			return domain.NewDuplicateError("subscription", "status", string(sub.Status))
		}

		sub.Status = domain.SubscriptionStatusExpired
		sub.UpdatedAt = s.now()
		if err := s.repos.Subscriptions.Update(ctx, sub); err != nil {
			return fmt.Errorf("services: failed to expire subscription: %w", err)
		}
		expired = sub
		return nil
	})
	switch {
	case errors.Is(err, domain.ErrDuplicate):
		log.Infow("Subscription already expired")
		return OutcomeDuplicate, nil
	case err != nil:
		return OutcomeFailed, err
	case expired == nil:
		log.Warnw("No subscription to expire, skipping")
		return OutcomeSkipped, nil
	}

	s.publishEntitlementEvents(ctx, subscriptionEvent(kafka.TopicSubscriptionExpired, expired, s.now()))
	log.Infow("Subscription expired by upstream cancellation", "endDate", expired.EndDate)
	return OutcomeProcessed, nil
}
