package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	SubscriptionStatusActive SubscriptionStatus = "ACTIVE"
	// SubscriptionStatusCancelled ставит только отмена из приложения (доступ до конца периода)
	SubscriptionStatusCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionStatusExpired   SubscriptionStatus = "EXPIRED"
)

// Пробный период фиксирован и от тарифа не зависит
const (
	TrialDays   = 7
	TrialPeriod = TrialDays * 24 * time.Hour
)

// Subscription связь пользователя с тарифом
type Subscription struct {
	ID       uuid.UUID          `json:"id"`
	UserID   string             `json:"user_id"`
	PlanID   uuid.UUID          `json:"plan_id"`
	PlanName string             `json:"plan_name"`
	Status   SubscriptionStatus `json:"status"`
	// StartDate момент первой активации, при продлениях не меняется
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsTrial   bool      `json:"is_trial"`
	// StripeSessionID последняя checkout-сессия, которая меняла подписку
	StripeSessionID      string    `json:"stripe_session_id,omitempty"`
	StripeSubscriptionID string    `json:"stripe_subscription_id,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// IsOpen сообщает, дает ли подписка доступ в момент now.
func (s *Subscription) IsOpen(now time.Time) bool {
	switch s.Status {
	case SubscriptionStatusActive, SubscriptionStatusCancelled:
		// непродленный период тоже закрывает доступ, статус остается ACTIVE до продления или отмены
		return s.EndDate.After(now)
	default:
		return false
	}
}
