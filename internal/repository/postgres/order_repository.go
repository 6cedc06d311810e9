package postgres

import (
	"context"
	"fmt"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/repository"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresOrderRepository журнал заказов
type PostgresOrderRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

var _ repository.OrderRepository = (*PostgresOrderRepository)(nil)

func NewPostgresOrderRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db, log: log}
}

// Append добавляет заказ. orders.stripe_session_id UNIQUE превращает повторную доставку в ErrDuplicate.
func (r *PostgresOrderRepository) Append(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (id, user_id, plan_name, amount, currency, payment_method,
		                    stripe_session_id, status, created_at)
		VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Exec(ctx, query,
		order.ID,
		order.UserID,
		order.PlanName,
		order.Amount.StringFixed(2),
		order.Currency,
		order.PaymentMethod,
		order.StripeSessionID,
		order.Status,
		order.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDuplicateError("order", "stripe_session_id", order.StripeSessionID)
		}
		r.log.Errorw("Failed to append order in DB", "error", err, "sessionID", order.StripeSessionID)
		return fmt.Errorf("repository: failed to append order: %w", err)
	}
	return nil
}

func (r *PostgresOrderRepository) ExistsBySessionID(ctx context.Context, sessionID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE stripe_session_id = $1)`,
		sessionID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository: failed to check order session: %w", err)
	}
	return exists, nil
}
