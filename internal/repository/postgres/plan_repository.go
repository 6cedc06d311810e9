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
	"github.com/shopspring/decimal"
)

// PostgresPlanRepository реализация каталога тарифов через PostgreSQL
type PostgresPlanRepository struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

var _ repository.PlanRepository = (*PostgresPlanRepository)(nil)

// NewPostgresPlanRepository создает новый репозиторий тарифов
func NewPostgresPlanRepository(db *pgxpool.Pool, log *logger.Logger) *PostgresPlanRepository {
	return &PostgresPlanRepository{db: db, log: log}
}

// GetByName возвращает тариф по имени
func (r *PostgresPlanRepository) GetByName(ctx context.Context, name string) (*domain.Plan, error) {
	query := `
		SELECT id, name, category, tier, monthly_price::text, yearly_price::text,
		       features, included_bots, is_active, created_at, updated_at
		FROM plans
		WHERE name = $1
	`

	var plan domain.Plan
	var monthly, yearly string

	err := r.db.QueryRow(ctx, query, name).Scan(
		&plan.ID,
		&plan.Name,
		&plan.Category,
		&plan.Tier,
		&monthly,
		&yearly,
		&plan.Features,
		&plan.IncludedBots,
		&plan.IsActive,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("plan", name)
		}
		return nil, fmt.Errorf("repository: failed to get plan by name: %w", err)
	}

	if plan.MonthlyPrice, err = decimal.NewFromString(monthly); err != nil {
		return nil, fmt.Errorf("repository: invalid monthly price for plan %s: %w", name, err)
	}
	if plan.YearlyPrice, err = decimal.NewFromString(yearly); err != nil {
		return nil, fmt.Errorf("repository: invalid yearly price for plan %s: %w", name, err)
	}
	return &plan, nil
}

// Create сохраняет новый тариф. Уникальность имени обеспечивает ограничение plans.name UNIQUE.
func (r *PostgresPlanRepository) Create(ctx context.Context, plan *domain.Plan) error {
	query := `
		INSERT INTO plans (id, name, category, tier, monthly_price, yearly_price,
		                   features, included_bots, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7, $8, $9, $10, $11)
	`

	features := plan.Features
	if features == nil {
		features = []string{}
	}
	includedBots := plan.IncludedBots
	if includedBots == nil {
		includedBots = []string{}
	}

	_, err := r.db.Exec(ctx, query,
		plan.ID,
		plan.Name,
		plan.Category,
		plan.Tier,
		plan.MonthlyPrice.StringFixed(2),
		plan.YearlyPrice.StringFixed(2),
		features,
		includedBots,
		plan.IsActive,
		plan.CreatedAt,
		plan.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewDuplicateError("plan", "name", plan.Name)
		}
		r.log.Errorw("Failed to create plan in DB", "error", err, "plan", plan.Name)
		return fmt.Errorf("repository: failed to create plan: %w", err)
	}

	r.log.Debugw("Successfully created plan in DB", "plan", plan.Name, "planID", plan.ID)
	return nil
}
