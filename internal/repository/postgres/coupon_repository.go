package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/repository"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCouponRepository купоны и журнал их погашений
type PostgresCouponRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

var _ repository.CouponRepository = (*PostgresCouponRepository)(nil)

func NewPostgresCouponRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresCouponRepository {
	return &PostgresCouponRepository{db: db, log: log}
}

func (r *PostgresCouponRepository) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	normalized := domain.NormalizeCouponCode(code)

	var coupon domain.Coupon
	err := r.db.QueryRow(ctx,
		`SELECT id, code, used_count, max_uses, is_active, created_at FROM coupons WHERE code = $1`,
		normalized,
	).Scan(&coupon.ID, &coupon.Code, &coupon.UsedCount, &coupon.MaxUses, &coupon.IsActive, &coupon.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("coupon", normalized)
		}
		return nil, fmt.Errorf("repository: failed to get coupon: %w", err)
	}
	return &coupon, nil
}

// RecordUsage в одной транзакции добавляет погашение и увеличивает счетчик.
// Транзакция покрывает только учет купона, подписка и заказ к этому моменту уже записаны.
func (r *PostgresCouponRepository) RecordUsage(ctx context.Context, usage *domain.CouponUsage) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin coupon transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				r.log.Errorw("Failed to rollback coupon transaction", "error", rbErr)
			}
		}
	}()

	tag, err := tx.Exec(ctx, `
		INSERT INTO coupon_usages (id, coupon_id, user_id, stripe_session_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (stripe_session_id) DO NOTHING
	`, usage.ID, usage.CouponID, usage.UserID, usage.StripeSessionID, usage.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.NewNotFoundError("coupon", usage.CouponID.String())
		}
		return fmt.Errorf("repository: failed to insert coupon usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewDuplicateError("coupon_usage", "stripe_session_id", usage.StripeSessionID)
	}

	tag, err = tx.Exec(ctx, `UPDATE coupons SET used_count = used_count + 1 WHERE id = $1`, usage.CouponID)
	if err != nil {
		return fmt.Errorf("repository: failed to increment coupon usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewNotFoundError("coupon", usage.CouponID.String())
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: failed to commit coupon usage: %w", err)
	}
	return nil
}

func (r *PostgresCouponRepository) Create(ctx context.Context, coupon *domain.Coupon) error {
	code := domain.NormalizeCouponCode(coupon.Code)
	_, err := r.db.Exec(ctx,
		`INSERT INTO coupons (id, code, used_count, max_uses, is_active, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		coupon.ID, code, coupon.UsedCount, coupon.MaxUses, coupon.IsActive, coupon.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDuplicateError("coupon", "code", code)
		}
		return fmt.Errorf("repository: failed to create coupon: %w", err)
	}
	return nil
}
