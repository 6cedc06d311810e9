package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlanType период оплаты, который покупатель выбрал на чекауте
type PlanType string

const (
	PlanTypeMonthly PlanType = "monthly"
	PlanTypeYearly  PlanType = "yearly"
)

// DurationMonths возвращает длину одного оплаченного периода в календарных месяцах.
func (t PlanType) DurationMonths() int {
	if t == PlanTypeYearly {
		return 12
	}
	return 1
}

// Plan тариф каталога. Name уникален и используется в метаданных платежа.
type Plan struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	Tier         string          `json:"tier"`
	MonthlyPrice decimal.Decimal `json:"monthly_price"`
	YearlyPrice  decimal.Decimal `json:"yearly_price"`
	Features     []string        `json:"features"`
	// IncludedBots состав бандла. Пустой список означает один бот с именем тарифа.
	IncludedBots []string  `json:"included_bots"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsBundle сообщает, выдает ли тариф больше одного бота.
func (p *Plan) IsBundle() bool {
	return len(p.IncludedBots) > 1
}

// PlanSpec входные данные для EnsurePlan.
type PlanSpec struct {
	Name     string
	Category string // может быть пустым, тогда используется разбор имени
	Tier     string
	// AmountMinor оплаченная сумма в минимальных единицах валюты (центах)
	AmountMinor int64
	PlanType    PlanType
}

// DefaultPlanFeatures список возможностей для тарифов, созданных автоматически.
var DefaultPlanFeatures = []string{
	"Automated DCA execution",
	"Exchange API integration",
	"Email support",
}
