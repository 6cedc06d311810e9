package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"
)

// Dispatch направляет событие нужному обработчику. Ошибки и паники обработчиков
// не выходят наружу: они пишутся в лог и превращаются в OutcomeFailed,
// чтобы вебхук всегда отвечал шлюзу 200.
func (s *ReconciliationService) Dispatch(ctx context.Context, event domain.PaymentEvent) (outcome Outcome) {
	if event == nil {
		s.log.Warnw("Dispatch called with nil event")
		return OutcomeIgnored
	}

	kind := string(event.Kind())
	started := s.now()
	log := s.log.With("kind", kind, "eventID", event.SourceEventID())

	defer func() {
		if r := recover(); r != nil {
			log.Errorw("Panic while handling payment event", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			outcome = OutcomeFailed
		}
		s.metrics.IncWebhookEvent(kind, string(outcome))
		s.metrics.ObserveHandlerDuration(kind, time.Since(started))
	}()

	var err error
	switch e := event.(type) {
	case domain.CheckoutCompleted:
		outcome, err = s.HandleCheckoutCompleted(ctx, e)
	case domain.InvoicePaid:
		outcome, err = s.routeInvoice(ctx, e)
	case domain.SubscriptionCancelled:
		outcome, err = s.HandleSubscriptionCancelled(ctx, e)
	case domain.UnknownEvent:
		log.Infow("Ignoring unsupported payment event", "type", e.Type)
		return OutcomeIgnored
	default:
		log.Warnw("Unhandled payment event variant", "type", fmt.Sprintf("%T", event))
		return OutcomeIgnored
	}

	if err != nil {
		log.Errorw("Failed to handle payment event", "error", err)
		return OutcomeFailed
	}
	log.Infow("Payment event handled", "outcome", outcome)
	return outcome
}

// routeInvoice пропускает инвойсы, которые не являются продлением
func (s *ReconciliationService) routeInvoice(ctx context.Context, e domain.InvoicePaid) (Outcome, error) {
	if !e.HasSubscription() {
		s.log.Infow("Invoice is not linked to a subscription, ignoring", "invoiceID", e.InvoiceID)
		return OutcomeIgnored, nil
	}
	if e.BillingReason == domain.BillingReasonSubscriptionCreate {
		// первый инвойс подписки уже учтен checkout-событием
		s.log.Infow("Ignoring first invoice of subscription", "invoiceID", e.InvoiceID, "subscriptionID", e.SubscriptionID)
		return OutcomeIgnored, nil
	}
	return s.HandleInvoicePaid(ctx, e)
}
