package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// EventKind закрытый набор типов платежных событий, которые понимает биллинг
type EventKind string

const (
	EventKindCheckoutCompleted     EventKind = "checkout_completed"
	EventKindInvoicePaid           EventKind = "invoice_paid"
	EventKindSubscriptionCancelled EventKind = "subscription_cancelled"
	EventKindUnknown               EventKind = "unknown"
)

// Ключи метаданных, которые checkout-сессия и подписка Stripe несут для биллинга
const (
	MetadataUserID       = "userId"
	MetadataPlanName     = "planName"
	MetadataPlanType     = "planType"
	MetadataIsTrial      = "isTrial"
	MetadataCouponCode   = "couponCode"
	MetadataPlanCategory = "planCategory"
	MetadataPlanTier     = "planTier"
)

// PaymentMetadata разобранный набор метаданных платежа
type PaymentMetadata struct {
	UserID     string   `json:"userId" validate:"required"`
	PlanName   string   `json:"planName" validate:"required"`
	PlanType   PlanType `json:"planType" validate:"omitempty,oneof=monthly yearly"`
	IsTrial    bool     `json:"isTrial"`
	CouponCode string   `json:"couponCode,omitempty"`
	// PlanCategory и PlanTier нужны только для автосоздания тарифа
	PlanCategory string `json:"planCategory,omitempty"`
	PlanTier     string `json:"planTier,omitempty"`
}

// ParsePaymentMetadata читает метаданные из map, как их отдает Stripe.
func ParsePaymentMetadata(m map[string]string) PaymentMetadata {
	isTrial, _ := strconv.ParseBool(strings.TrimSpace(m[MetadataIsTrial]))
	return PaymentMetadata{
		UserID:       strings.TrimSpace(m[MetadataUserID]),
		PlanName:     strings.TrimSpace(m[MetadataPlanName]),
		PlanType:     PlanType(strings.ToLower(strings.TrimSpace(m[MetadataPlanType]))),
		IsTrial:      isTrial,
		CouponCode:   strings.TrimSpace(m[MetadataCouponCode]),
		PlanCategory: strings.TrimSpace(m[MetadataPlanCategory]),
		PlanTier:     strings.TrimSpace(m[MetadataPlanTier]),
	}
}

// RequireIdentity проверяет, что по метаданным можно найти пользователя и тариф.
func (m PaymentMetadata) RequireIdentity() error {
	var missing []string
	if m.UserID == "" {
		missing = append(missing, MetadataUserID)
	}
	if m.PlanName == "" {
		missing = append(missing, MetadataPlanName)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMissingMetadata, strings.Join(missing, ", "))
	}
	return nil
}

// ToMap обратное преобразование для записи в Stripe.
func (m PaymentMetadata) ToMap() map[string]string {
	out := map[string]string{
		MetadataUserID:   m.UserID,
		MetadataPlanName: m.PlanName,
		MetadataPlanType: string(m.EffectivePlanType()),
		MetadataIsTrial:  strconv.FormatBool(m.IsTrial),
	}
	if m.CouponCode != "" {
		out[MetadataCouponCode] = m.CouponCode
	}
	if m.PlanCategory != "" {
		out[MetadataPlanCategory] = m.PlanCategory
	}
	if m.PlanTier != "" {
		out[MetadataPlanTier] = m.PlanTier
	}
	return out
}

// EffectivePlanType возвращает monthly для пустого planType.
func (m PaymentMetadata) EffectivePlanType() PlanType {
	if m.PlanType == "" {
		return PlanTypeMonthly
	}
	return m.PlanType
}

// PaymentEvent платежное событие, декодированное один раз на границе сервиса.
// Реализации ограничены этим пакетом.
type PaymentEvent interface {
	Kind() EventKind
	SourceEventID() string
	paymentEvent()
}

// CheckoutCompleted успешная оплата checkout-сессии
type CheckoutCompleted struct {
	StripeEventID string
	SessionID     string
	// AmountTotal в минимальных единицах валюты
	AmountTotal   int64
	Currency      string
	PaymentMethod string
	// SubscriptionID id регулярной подписки Stripe, если сессия в режиме subscription
	SubscriptionID string
	Metadata       PaymentMetadata
}

// InvoicePaid оплаченный инвойс
type InvoicePaid struct {
	StripeEventID  string
	InvoiceID      string
	SubscriptionID string
	AmountPaid     int64
	Currency       string
	BillingReason  string
}

// BillingReasonSubscriptionCreate первый инвойс подписки, он уже учтен checkout-событием
const BillingReasonSubscriptionCreate = "subscription_create"

// HasSubscription сообщает, относится ли инвойс к регулярной подписке.
func (e InvoicePaid) HasSubscription() bool {
	return e.SubscriptionID != ""
}

// SubscriptionCancelled подписка удалена на стороне Stripe
type SubscriptionCancelled struct {
	StripeEventID  string
	SubscriptionID string
	Metadata       PaymentMetadata
}

// UnknownEvent любое другое событие, игнорируется
type UnknownEvent struct {
	StripeEventID string
	Type          string
}

func (CheckoutCompleted) Kind() EventKind     { return EventKindCheckoutCompleted }
func (InvoicePaid) Kind() EventKind           { return EventKindInvoicePaid }
func (SubscriptionCancelled) Kind() EventKind { return EventKindSubscriptionCancelled }
func (UnknownEvent) Kind() EventKind          { return EventKindUnknown }

func (e CheckoutCompleted) SourceEventID() string     { return e.StripeEventID }
func (e InvoicePaid) SourceEventID() string           { return e.StripeEventID }
func (e SubscriptionCancelled) SourceEventID() string { return e.StripeEventID }
func (e UnknownEvent) SourceEventID() string          { return e.StripeEventID }

func (CheckoutCompleted) paymentEvent()     {}
func (InvoicePaid) paymentEvent()           {}
func (SubscriptionCancelled) paymentEvent() {}
func (UnknownEvent) paymentEvent()          {}
