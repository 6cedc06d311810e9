package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderStatus статус квитанции
type OrderStatus string

const (
	OrderStatusPaid OrderStatus = "PAID"
)

// AutoRenewalSessionPrefix префикс session id для заказов, созданных автопродлением
const AutoRenewalSessionPrefix = "auto_renewal_"

// Order неизменяемая квитанция об оплате
type Order struct {
	ID              uuid.UUID       `json:"id"`
	UserID          string          `json:"user_id"`
	PlanName        string          `json:"plan_name"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentMethod   string          `json:"payment_method"`
	StripeSessionID string          `json:"stripe_session_id"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}

// AutoRenewalSessionID строит session id заказа автопродления по id инвойса.
// Значение одновременно служит ключом дедупликации повторной доставки инвойса.
func AutoRenewalSessionID(invoiceID string) string {
	return AutoRenewalSessionPrefix + invoiceID
}

// IsAutoRenewal сообщает, создан ли заказ автопродлением.
func (o *Order) IsAutoRenewal() bool {
	return strings.HasPrefix(o.StripeSessionID, AutoRenewalSessionPrefix)
}

// FromMinorUnits переводит сумму в центах в основные единицы валюты.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}
