package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/repository"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSubscriptionRepository реализация репозитория подписок через PostgreSQL
type PostgresSubscriptionRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

var _ repository.SubscriptionRepository = (*PostgresSubscriptionRepository)(nil)

// NewPostgresSubscriptionRepository создает новый репозиторий подписок через PostgreSQL
func NewPostgresSubscriptionRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{
		db:  db,
		log: log,
	}
}

// Create сохраняет новую подписку
func (r *PostgresSubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, plan_id, plan_name, status, start_date, end_date, is_trial,
			stripe_session_id, stripe_subscription_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Exec(ctx, query,
		sub.ID,
		sub.UserID,
		sub.PlanID,
		sub.PlanName,
		sub.Status,
		sub.StartDate,
		sub.EndDate,
		sub.IsTrial,
		sub.StripeSessionID,
		sub.StripeSubscriptionID,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDuplicateError("subscription", "id", sub.ID.String())
		}
		r.log.Errorw("Failed to create subscription in DB", "error", err, "subscriptionID", sub.ID, "userID", sub.UserID)
		return fmt.Errorf("repository: failed to create subscription: %w", err)
	}

	r.log.Debugw("Successfully created subscription in DB", "subscriptionID", sub.ID, "userID", sub.UserID)
	return nil
}

// Update обновляет изменяемые поля подписки
func (r *PostgresSubscriptionRepository) Update(ctx context.Context, sub *domain.Subscription) error {
	query := `
		UPDATE subscriptions
		SET status = $2, end_date = $3, is_trial = $4, stripe_session_id = $5,
		    stripe_subscription_id = $6, updated_at = $7
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query,
		sub.ID,
		sub.Status,
		sub.EndDate,
		sub.IsTrial,
		sub.StripeSessionID,
		sub.StripeSubscriptionID,
		sub.UpdatedAt,
	)
	if err != nil {
		r.log.Errorw("Failed to update subscription in DB", "error", err, "subscriptionID", sub.ID)
		return fmt.Errorf("repository: failed to update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.log.Warnw("Attempted to update non-existent subscription", "subscriptionID", sub.ID)
		return domain.NewNotFoundError("subscription", sub.ID.String())
	}

	r.log.Debugw("Successfully updated subscription in DB", "subscriptionID", sub.ID, "status", sub.Status, "endDate", sub.EndDate)
	return nil
}

// GetLatestByUserAndPlan возвращает подписку пары (user, plan) с самой поздней датой окончания
func (r *PostgresSubscriptionRepository) GetLatestByUserAndPlan(ctx context.Context, userID string, planID uuid.UUID) (*domain.Subscription, error) {
	query := `
		SELECT id, user_id, plan_id, plan_name, status, start_date, end_date, is_trial,
		       stripe_session_id, stripe_subscription_id, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1 AND plan_id = $2
		ORDER BY end_date DESC
		LIMIT 1
	`

	var sub domain.Subscription
	err := r.db.QueryRow(ctx, query, userID, planID).Scan(
		&sub.ID,
		&sub.UserID,
		&sub.PlanID,
		&sub.PlanName,
		&sub.Status,
		&sub.StartDate,
		&sub.EndDate,
		&sub.IsTrial,
		&sub.StripeSessionID,
		&sub.StripeSubscriptionID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("subscription", userID+"/"+planID.String())
		}
		return nil, fmt.Errorf("repository: failed to get latest subscription: %w", err)
	}
	return &sub, nil
}

// ExistsBySessionID проверяет, ссылается ли какая-либо подписка на checkout-сессию
func (r *PostgresSubscriptionRepository) ExistsBySessionID(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE stripe_session_id = $1)`,
		sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository: failed to check subscription session: %w", err)
	}
	return exists, nil
}
