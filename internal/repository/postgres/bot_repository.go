package postgres

import (
	"context"
	"fmt"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/repository"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresBotRepository хранилище ботов
type PostgresBotRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

var _ repository.BotRepository = (*PostgresBotRepository)(nil)

func NewPostgresBotRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresBotRepository {
	return &PostgresBotRepository{db: db, log: log}
}

// CreateIfAbsent полагается на UNIQUE (user_id, name): существующий бот не трогается.
func (r *PostgresBotRepository) CreateIfAbsent(ctx context.Context, bot *domain.Bot) (bool, error) {
	query := `
		INSERT INTO bots (id, user_id, name, api_key, api_secret, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, name) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query,
		bot.ID, bot.UserID, bot.Name, bot.APIKey, bot.APISecret, bot.Status, bot.CreatedAt,
	)
	if err != nil {
		r.log.Errorw("Failed to provision bot in DB", "error", err, "userID", bot.UserID, "name", bot.Name)
		return false, fmt.Errorf("repository: failed to create bot: %w", err)
	}

	created := tag.RowsAffected() == 1
	if !created {
		r.log.Debugw("Bot already exists, skipping", "userID", bot.UserID, "name", bot.Name)
	}
	return created, nil
}
