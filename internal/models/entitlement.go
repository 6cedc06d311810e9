package models

import (
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubscriptionRow строка таблицы subscriptions для read-модели (sqlx).
type SubscriptionRow struct {
	ID                   uuid.UUID `db:"id"`
	UserID               string    `db:"user_id"`
	PlanID               uuid.UUID `db:"plan_id"`
	PlanName             string    `db:"plan_name"`
	Status               string    `db:"status"`
	StartDate            time.Time `db:"start_date"`
	EndDate              time.Time `db:"end_date"`
	IsTrial              bool      `db:"is_trial"`
	StripeSessionID      string    `db:"stripe_session_id"`
	StripeSubscriptionID string    `db:"stripe_subscription_id"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

func (r SubscriptionRow) ToDomain() domain.Subscription {
	return domain.Subscription{
		ID:                   r.ID,
		UserID:               r.UserID,
		PlanID:               r.PlanID,
		PlanName:             r.PlanName,
		Status:               domain.SubscriptionStatus(r.Status),
		StartDate:            r.StartDate,
		EndDate:              r.EndDate,
		IsTrial:              r.IsTrial,
		StripeSessionID:      r.StripeSessionID,
		StripeSubscriptionID: r.StripeSubscriptionID,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

// BotRow строка таблицы bots. Ключи биржи в read-модель не попадают.
type BotRow struct {
	ID        uuid.UUID `db:"id"`
	UserID    string    `db:"user_id"`
	Name      string    `db:"name"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

func (r BotRow) ToDomain() domain.Bot {
	return domain.Bot{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		Status:    domain.BotStatus(r.Status),
		CreatedAt: r.CreatedAt,
	}
}

// OrderRow строка таблицы orders. amount выбирается как text.
type OrderRow struct {
	ID              uuid.UUID `db:"id"`
	UserID          string    `db:"user_id"`
	PlanName        string    `db:"plan_name"`
	Amount          string    `db:"amount"`
	Currency        string    `db:"currency"`
	PaymentMethod   string    `db:"payment_method"`
	StripeSessionID string    `db:"stripe_session_id"`
	Status          string    `db:"status"`
	CreatedAt       time.Time `db:"created_at"`
}

func (r OrderRow) ToDomain() (domain.Order, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return domain.Order{}, err
	}
	return domain.Order{
		ID:              r.ID,
		UserID:          r.UserID,
		PlanName:        r.PlanName,
		Amount:          amount,
		Currency:        r.Currency,
		PaymentMethod:   r.PaymentMethod,
		StripeSessionID: r.StripeSessionID,
		Status:          domain.OrderStatus(r.Status),
		CreatedAt:       r.CreatedAt,
	}, nil
}
