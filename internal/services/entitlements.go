package services

import (
	"context"
	"fmt"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/repository"

	"github.com/samber/lo"
)

// EntitlementView итоговое состояние пользователя после сверки платежей
type EntitlementView struct {
	UserID        string                `json:"user_id"`
	Subscriptions []domain.Subscription `json:"subscriptions"`
	Bots          []domain.Bot          `json:"bots"`
	Orders        []domain.Order        `json:"orders"`
	// ActivePlans тарифы, которые дают доступ прямо сейчас
	ActivePlans []string `json:"active_plans"`
}

// EntitlementService чтение прав доступа для API
type EntitlementService struct {
	reader repository.EntitlementReader
	now    func() time.Time
}

func NewEntitlementService(reader repository.EntitlementReader) *EntitlementService {
	return &EntitlementService{reader: reader, now: time.Now}
}

func (s *EntitlementService) GetEntitlements(ctx context.Context, userID string) (*EntitlementView, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is empty", domain.ErrInvalidInput)
	}

	subs, err := s.reader.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("services: failed to list subscriptions: %w", err)
	}
	bots, err := s.reader.ListBots(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("services: failed to list bots: %w", err)
	}
	orders, err := s.reader.ListOrders(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("services: failed to list orders: %w", err)
	}

	now := s.now()
	open := lo.Filter(subs, func(sub domain.Subscription, _ int) bool { return sub.IsOpen(now) })

	return &EntitlementView{
		UserID:        userID,
		Subscriptions: lo.Ternary(subs == nil, []domain.Subscription{}, subs),
		Bots:          lo.Ternary(bots == nil, []domain.Bot{}, bots),
		Orders:        lo.Ternary(orders == nil, []domain.Order{}, orders),
		ActivePlans: lo.Uniq(lo.Map(open, func(sub domain.Subscription, _ int) string {
			return sub.PlanName
		})),
	}, nil
}
