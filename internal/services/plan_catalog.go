package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/repository"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultPlanTier уровень тарифа, если имя не содержит разделителя
const DefaultPlanTier = "Standard"

var monthsInYear = decimal.NewFromInt(12)

// PlanCatalog каталог тарифов с автосозданием тарифа по факту оплаты.
type PlanCatalog struct {
	plans repository.PlanRepository
	log   *logger.Logger
	now   func() time.Time
}

func NewPlanCatalog(plans repository.PlanRepository, log *logger.Logger) *PlanCatalog {
	return &PlanCatalog{plans: plans, log: log, now: time.Now}
}

// FindByName возвращает тариф или nil, если его нет.
func (c *PlanCatalog) FindByName(ctx context.Context, name string) (*domain.Plan, error) {
	plan, err := c.plans.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("services: failed to find plan %q: %w", name, err)
	}
	return plan, nil
}

// EnsurePlan возвращает тариф по имени, создавая его при первой оплате.
// Существующий тариф не меняется. Гонку двух создателей решает уникальность имени.
func (c *PlanCatalog) EnsurePlan(ctx context.Context, spec domain.PlanSpec) (*domain.Plan, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return nil, fmt.Errorf("%w: plan name is empty", domain.ErrInvalidInput)
	}

	existing, err := c.FindByName(ctx, spec.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	plan := c.synthesize(spec)
	if err := c.plans.Create(ctx, plan); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			c.log.Infow("Plan created concurrently, re-reading", "plan", spec.Name)
			winner, getErr := c.plans.GetByName(ctx, spec.Name)
			if getErr != nil {
				return nil, fmt.Errorf("services: failed to re-read plan %q: %w", spec.Name, getErr)
			}
			return winner, nil
		}
		return nil, fmt.Errorf("services: failed to create plan %q: %w", spec.Name, err)
	}

	c.log.Infow("Plan created from payment", "plan", plan.Name, "category", plan.Category, "tier", plan.Tier,
		"monthlyPrice", plan.MonthlyPrice.StringFixed(2), "yearlyPrice", plan.YearlyPrice.StringFixed(2))
	return plan, nil
}

func (c *PlanCatalog) synthesize(spec domain.PlanSpec) *domain.Plan {
	category, tier := strings.TrimSpace(spec.Category), strings.TrimSpace(spec.Tier)
	if category == "" || tier == "" {
		legacyCategory, legacyTier := SplitLegacyPlanName(spec.Name)
		c.log.Warnw("Plan category or tier missing in metadata, deriving from name",
			"plan", spec.Name, "category", legacyCategory, "tier", legacyTier)
		if category == "" {
			category = legacyCategory
		}
		if tier == "" {
			tier = legacyTier
		}
	}

	monthly, yearly := PlanPrices(spec.AmountMinor, spec.PlanType)
	now := c.now()

	return &domain.Plan{
		ID:           uuid.New(),
		Name:         spec.Name,
		Category:     category,
		Tier:         tier,
		MonthlyPrice: monthly,
		YearlyPrice:  yearly,
		Features:     append([]string(nil), domain.DefaultPlanFeatures...),
		IncludedBots: []string{},
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SplitLegacyPlanName делит "TimerDCA-Pro" по последнему дефису на категорию и уровень.
func SplitLegacyPlanName(name string) (category, tier string) {
	idx := strings.LastIndex(name, "-")
	if idx <= 0 || idx == len(name)-1 {
		return name, DefaultPlanTier
	}
	return name[:idx], name[idx+1:]
}

// PlanPrices выводит месячную и годовую цену из оплаченной суммы.
func PlanPrices(amountMinor int64, planType domain.PlanType) (monthly, yearly decimal.Decimal) {
	amount := domain.FromMinorUnits(amountMinor)
	if planType == domain.PlanTypeYearly {
		return amount.Div(monthsInYear).Round(2), amount.Round(2)
	}
	return amount.Round(2), amount.Mul(monthsInYear).Round(2)
}
