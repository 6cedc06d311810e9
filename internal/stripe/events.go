package stripe

import (
	"encoding/json"
	"fmt"

	"github.com/Dhoini/dca-billing-service/internal/domain"

	"github.com/stripe/stripe-go/v78"
)

// Типы событий Stripe, которые понимает биллинг
const (
	EventCheckoutSessionCompleted   = "checkout.session.completed"
	EventInvoicePaid                = "invoice.paid"
	EventInvoicePaymentSucceeded    = "invoice.payment_succeeded"
	EventCustomerSubscriptionDelete = "customer.subscription.deleted"
)

// Минимальные проекции объектов Stripe. Объект разбирается вручную, чтобы
// расхождение версий API не ломало обработку полей, которые нам не нужны.
type checkoutSessionObject struct {
	ID                 string            `json:"id"`
	AmountTotal        int64             `json:"amount_total"`
	Currency           string            `json:"currency"`
	PaymentMethodTypes []string          `json:"payment_method_types"`
	Metadata           map[string]string `json:"metadata"`
	Subscription       expandableID      `json:"subscription"`
}

type invoiceObject struct {
	ID            string       `json:"id"`
	AmountPaid    int64        `json:"amount_paid"`
	Currency      string       `json:"currency"`
	BillingReason string       `json:"billing_reason"`
	Subscription  expandableID `json:"subscription"`
	// В новых версиях API подписка инвойса переехала в parent
	Parent *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

type subscriptionObject struct {
	ID       string            `json:"id"`
	Metadata map[string]string `json:"metadata"`
}

// expandableID поле Stripe, которое приходит строкой id или развернутым объектом
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = ""
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*e = expandableID(id)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("stripe: unexpected expandable field: %w", err)
	}
	*e = expandableID(obj.ID)
	return nil
}

func (i invoiceObject) subscriptionID() string {
	if i.Subscription != "" {
		return string(i.Subscription)
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return string(i.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

// DecodeEvent переводит проверенное событие Stripe в доменное событие.
// Неизвестные типы дают domain.UnknownEvent, ошибка означает битый объект.
func DecodeEvent(event stripe.Event) (domain.PaymentEvent, error) {
	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}

	switch string(event.Type) {
	case EventCheckoutSessionCompleted:
		var session checkoutSessionObject
		if err := json.Unmarshal(raw, &session); err != nil {
			return nil, fmt.Errorf("stripe: failed to decode checkout session: %w", err)
		}
		paymentMethod := ""
		if len(session.PaymentMethodTypes) > 0 {
			paymentMethod = session.PaymentMethodTypes[0]
		}
		return domain.CheckoutCompleted{
			StripeEventID:  event.ID,
			SessionID:      session.ID,
			AmountTotal:    session.AmountTotal,
			Currency:       session.Currency,
			PaymentMethod:  paymentMethod,
			SubscriptionID: string(session.Subscription),
			Metadata:       domain.ParsePaymentMetadata(session.Metadata),
		}, nil

	case EventInvoicePaid, EventInvoicePaymentSucceeded:
		var invoice invoiceObject
		if err := json.Unmarshal(raw, &invoice); err != nil {
			return nil, fmt.Errorf("stripe: failed to decode invoice: %w", err)
		}
		return domain.InvoicePaid{
			StripeEventID:  event.ID,
			InvoiceID:      invoice.ID,
			SubscriptionID: invoice.subscriptionID(),
			AmountPaid:     invoice.AmountPaid,
			Currency:       invoice.Currency,
			BillingReason:  invoice.BillingReason,
		}, nil

	case EventCustomerSubscriptionDelete:
		var subscription subscriptionObject
		if err := json.Unmarshal(raw, &subscription); err != nil {
			return nil, fmt.Errorf("stripe: failed to decode subscription: %w", err)
		}
		return domain.SubscriptionCancelled{
			StripeEventID:  event.ID,
			SubscriptionID: subscription.ID,
			Metadata:       domain.ParsePaymentMetadata(subscription.Metadata),
		}, nil

	default:
		return domain.UnknownEvent{StripeEventID: event.ID, Type: string(event.Type)}, nil
	}
}
