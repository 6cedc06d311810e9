package postgres

import (
	"github.com/Dhoini/dca-billing-service/internal/repository"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
)

// NewRepositories собирает все репозитории PostgreSQL.
// Запись идет через пул pgx, чтение для read-модели через sqlx.
func NewRepositories(pool *pgxpool.Pool, readDB *sqlx.DB, log *logger.Logger) repository.Repositories {
	return repository.Repositories{
		Plans:         NewPostgresPlanRepository(pool, log),
		Users:         NewPostgresUserRepository(pool, log),
		Subscriptions: NewPostgresSubscriptionRepository(pool, log),
		Bots:          NewPostgresBotRepository(pool, log),
		Orders:        NewPostgresOrderRepository(pool, log),
		Coupons:       NewPostgresCouponRepository(pool, log),
		Entitlements:  NewEntitlementReader(readDB, log),
	}
}
