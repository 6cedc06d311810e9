package db

import (
	"fmt"

	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// DBClient sqlx поверх того же пула pgx, который используют репозитории записи.
// Нужен read-модели, чтобы сканировать строки в структуры по тегам db.
type DBClient struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewDBClient создает новый экземпляр DBClient.
func NewDBClient(pool *pgxpool.Pool, log *logger.Logger) *DBClient {
	sqlDB := stdlib.OpenDBFromPool(pool)
	return &DBClient{db: sqlx.NewDb(sqlDB, "pgx"), log: log}
}

// DB возвращает *sqlx.DB
func (dc *DBClient) DB() *sqlx.DB {
	return dc.db
}

// Close закрывает database/sql обертку. Сам пул закрывает владелец.
func (dc *DBClient) Close() error {
	if err := dc.db.Close(); err != nil {
		dc.log.Errorw("Failed to close database connection", "error", err)
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}
