package repository

import (
	"context"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"

	gocache "github.com/patrickmn/go-cache"
)

// LocalPlanCache кэш тарифов в памяти процесса, когда Redis выключен.
type LocalPlanCache struct {
	cache *gocache.Cache
}

// NewLocalPlanCache создает кэш с заданным TTL
func NewLocalPlanCache(ttl time.Duration) *LocalPlanCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &LocalPlanCache{cache: gocache.New(ttl, 2*ttl)}
}

func (c *LocalPlanCache) GetPlan(ctx context.Context, name string) (*domain.Plan, error) {
	v, ok := c.cache.Get(planKeyPrefix + name)
	if !ok {
		return nil, nil
	}
	plan := v.(domain.Plan)
	return clonePlan(plan), nil
}

func (c *LocalPlanCache) SetPlan(ctx context.Context, plan *domain.Plan) error {
	c.cache.SetDefault(planKeyPrefix+plan.Name, *clonePlan(*plan))
	return nil
}

func (c *LocalPlanCache) DeletePlan(ctx context.Context, name string) error {
	c.cache.Delete(planKeyPrefix + name)
	return nil
}
