package postgres

import (
	"context"
	"fmt"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/repository"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresUserRepository доступ к таблице users
type PostgresUserRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

var _ repository.UserRepository = (*PostgresUserRepository)(nil)

func NewPostgresUserRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresUserRepository {
	return &PostgresUserRepository{db: db, log: log}
}

func (r *PostgresUserRepository) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("repository: failed to check user: %w", err)
	}
	return exists, nil
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *domain.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO users (id, email, created_at) VALUES ($1, $2, $3)`,
		user.ID, user.Email, user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDuplicateError("user", "id", user.ID)
		}
		return fmt.Errorf("repository: failed to create user: %w", err)
	}
	return nil
}
