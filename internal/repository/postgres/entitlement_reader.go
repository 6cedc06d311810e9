package postgres

import (
	"context"
	"fmt"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/models"
	"github.com/Dhoini/dca-billing-service/internal/repository"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
)

// EntitlementReader read-модель на sqlx
type EntitlementReader struct {
	db  *sqlx.DB
	log *logger.Logger
}

var _ repository.EntitlementReader = (*EntitlementReader)(nil)

func NewEntitlementReader(db *sqlx.DB, log *logger.Logger) *EntitlementReader {
	return &EntitlementReader{db: db, log: log}
}

func (r *EntitlementReader) ListSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	var rows []models.SubscriptionRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, plan_id, plan_name, status, start_date, end_date, is_trial,
		       stripe_session_id, stripe_subscription_id, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY end_date DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list subscriptions: %w", err)
	}
	return lo.Map(rows, func(row models.SubscriptionRow, _ int) domain.Subscription {
		return row.ToDomain()
	}), nil
}

func (r *EntitlementReader) ListBots(ctx context.Context, userID string) ([]domain.Bot, error) {
	var rows []models.BotRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, name, status, created_at
		FROM bots
		WHERE user_id = $1
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list bots: %w", err)
	}
	return lo.Map(rows, func(row models.BotRow, _ int) domain.Bot {
		return row.ToDomain()
	}), nil
}

func (r *EntitlementReader) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	var rows []models.OrderRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, user_id, plan_name, amount::text AS amount, currency, payment_method,
		       stripe_session_id, status, created_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to list orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		order, err := row.ToDomain()
		if err != nil {
			r.log.Warnw("Skipping order with unparsable amount", "orderID", row.ID, "error", err)
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}
