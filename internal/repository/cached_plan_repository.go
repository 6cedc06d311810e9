package repository

import (
	"context"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/pkg/logger"
)

// CachedPlanRepository реализует PlanRepository с кешированием
type CachedPlanRepository struct {
	repo  PlanRepository
	cache PlanCache
	log   *logger.Logger
}

// NewCachedPlanRepository создает новый репозиторий с кешированием
func NewCachedPlanRepository(repo PlanRepository, cache PlanCache, log *logger.Logger) PlanRepository {
	return &CachedPlanRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// GetByName получает тариф по имени (сначала из кеша, потом из БД).
// Промахи не кешируются: EnsurePlan должен увидеть только что созданный тариф.
func (r *CachedPlanRepository) GetByName(ctx context.Context, name string) (*domain.Plan, error) {
	cached, err := r.cache.GetPlan(ctx, name)
	if err != nil {
		r.log.Warnw("Error getting plan from cache", "error", err, "plan", name)
		// Продолжаем выполнение при ошибке кеша
	}
	if cached != nil {
		return cached, nil
	}

	plan, err := r.repo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := r.cache.SetPlan(ctx, plan); err != nil {
		r.log.Warnw("Failed to cache plan after fetching", "error", err, "plan", name)
	}
	return plan, nil
}

// Create сохраняет тариф в БД и кеширует его
func (r *CachedPlanRepository) Create(ctx context.Context, plan *domain.Plan) error {
	if err := r.repo.Create(ctx, plan); err != nil {
		return err
	}

	if err := r.cache.SetPlan(ctx, plan); err != nil {
		r.log.Warnw("Failed to cache plan after creation", "error", err, "plan", plan.Name)
	}
	return nil
}
