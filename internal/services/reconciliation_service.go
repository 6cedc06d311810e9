package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/config"
	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/kafka"
	"github.com/Dhoini/dca-billing-service/internal/kafka/producer"
	"github.com/Dhoini/dca-billing-service/internal/lock"
	"github.com/Dhoini/dca-billing-service/internal/metrics"
	"github.com/Dhoini/dca-billing-service/internal/repository"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/samber/lo"
)

const (
	defaultPaymentMethod = "card"
	publishTimeout       = 10 * time.Second
)

// Outcome итог обработки одного платежного события
type Outcome string

const (
	OutcomeProcessed Outcome = metrics.OutcomeProcessed
	OutcomeDuplicate Outcome = metrics.OutcomeDuplicate
	OutcomeSkipped   Outcome = metrics.OutcomeSkipped
	OutcomeIgnored   Outcome = metrics.OutcomeIgnored
	OutcomeFailed    Outcome = metrics.OutcomeFailed
)

// SubscriptionMetadataSource отдает метаданные регулярной подписки платежного шлюза.
type SubscriptionMetadataSource interface {
	SubscriptionMetadata(ctx context.Context, subscriptionID string) (domain.PaymentMetadata, error)
}

// ReconciliationService превращает платежные события в подписки, ботов и заказы
type ReconciliationService struct {
	repos    repository.Repositories
	plans    *PlanCatalog
	coupons  *CouponLedger
	gateway  SubscriptionMetadataSource
	locker   lock.Locker
	events   kafka.Producer         // Может быть nil, если Kafka недоступен
	receipts producer.OrderProducer // Может быть nil
	metrics  metrics.BillingMetrics
	log      *logger.Logger

	paymentMethod string
	lockWait      time.Duration
	lockTTL       time.Duration
	now           func() time.Time

	publishing sync.WaitGroup
}

// Option настраивает ReconciliationService
type Option func(*ReconciliationService)

// WithClock подменяет источник текущего времени
func WithClock(now func() time.Time) Option {
	return func(s *ReconciliationService) {
		s.now = now
		s.plans.now = now
		s.coupons.now = now
	}
}

// WithEventProducer включает публикацию событий о правах доступа
func WithEventProducer(p kafka.Producer) Option {
	return func(s *ReconciliationService) { s.events = p }
}

// WithOrderProducer включает публикацию квитанций
func WithOrderProducer(p producer.OrderProducer) Option {
	return func(s *ReconciliationService) { s.receipts = p }
}

// NewReconciliationService конструктор сервиса
func NewReconciliationService(
	cfg *config.Config,
	repos repository.Repositories,
	gateway SubscriptionMetadataSource,
	locker lock.Locker,
	m metrics.BillingMetrics,
	log *logger.Logger,
	opts ...Option,
) *ReconciliationService {
	s := &ReconciliationService{
		repos:         repos,
		plans:         NewPlanCatalog(repos.Plans, log),
		coupons:       NewCouponLedger(repos.Coupons, m, log),
		gateway:       gateway,
		locker:        locker,
		metrics:       m,
		log:           log,
		paymentMethod: defaultPaymentMethod,
		now:           time.Now,
	}
	if cfg != nil {
		if cfg.Billing.DefaultPaymentMethod != "" {
			s.paymentMethod = cfg.Billing.DefaultPaymentMethod
		}
		s.lockWait = cfg.Billing.LockWait
		s.lockTTL = cfg.Billing.LockTTL
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.events == nil {
		log.Warnw("Kafka producer is nil, entitlement event publishing will be skipped")
	}
	return s
}

// Plans каталог тарифов сервиса
func (s *ReconciliationService) Plans() *PlanCatalog {
	return s.plans
}

// Wait дожидается завершения фоновых публикаций в Kafka
func (s *ReconciliationService) Wait() {
	s.publishing.Wait()
}

// withEntitlementLock выполняет fn под блокировкой пары (userId, planId).
// Контекст fn ограничен lockTTL: ключ в Redis не должен истечь раньше, чем закончится запись.
func (s *ReconciliationService) withEntitlementLock(ctx context.Context, userID, planID string, fn func(ctx context.Context) error) error {
	lockCtx := ctx
	if s.lockWait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.lockWait)
		defer cancel()
	}

	key := lock.EntitlementKey(userID, planID)
	unlock, err := s.locker.Lock(lockCtx, key)
	if err != nil {
		return fmt.Errorf("services: failed to lock %s: %w", key, err)
	}
	defer unlock()

	if s.lockTTL > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.lockTTL)
		defer cancel()
	}
	return fn(ctx)
}

// appendOrder добавляет квитанцию и учитывает ее в метриках
func (s *ReconciliationService) appendOrder(ctx context.Context, order *domain.Order, source string) error {
	if err := s.repos.Orders.Append(ctx, order); err != nil {
		return err
	}
	s.metrics.ObserveOrder(source, order.Amount.InexactFloat64())
	s.publishReceipt(ctx, *order)
	return nil
}

// publishEntitlementEvents отправляет события в фоне, ответ вебхуку не ждет Kafka
func (s *ReconciliationService) publishEntitlementEvents(ctx context.Context, events ...kafka.EntitlementEvent) {
	if s.events == nil || len(events) == 0 {
		return
	}

	s.publishing.Add(1)
	go func(ctx context.Context) {
		defer s.publishing.Done()
		for _, event := range events {
			kafkaCtx, cancel := context.WithTimeout(ctx, publishTimeout)
			err := s.events.PublishEntitlementEvent(kafkaCtx, event)
			cancel()
			if err != nil {
				s.log.Errorw("Failed to publish entitlement event", "type", event.Type, "userID", event.UserID, "error", err)
			}
		}
	}(context.WithoutCancel(ctx))
}

func (s *ReconciliationService) publishReceipt(ctx context.Context, order domain.Order) {
	if s.receipts == nil {
		return
	}

	s.publishing.Add(1)
	go func(ctx context.Context) {
		defer s.publishing.Done()
		kafkaCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()
		if err := s.receipts.PublishOrderPaid(kafkaCtx, order); err != nil {
			s.log.Errorw("Failed to publish order receipt", "orderID", order.ID, "sessionID", order.StripeSessionID, "error", err)
		}
	}(context.WithoutCancel(ctx))
}

func subscriptionEvent(eventType string, sub *domain.Subscription, now time.Time) kafka.EntitlementEvent {
	return kafka.EntitlementEvent{
		Type:           eventType,
		UserID:         sub.UserID,
		PlanName:       sub.PlanName,
		SubscriptionID: sub.ID.String(),
		Status:         string(sub.Status),
		EndDate:        lo.ToPtr(sub.EndDate),
		IsTrial:        sub.IsTrial,
		OccurredAt:     now,
	}
}

func botEvent(bot *domain.Bot, planName string, now time.Time) kafka.EntitlementEvent {
	return kafka.EntitlementEvent{
		Type:       kafka.TopicBotProvisioned,
		UserID:     bot.UserID,
		PlanName:   planName,
		Status:     string(bot.Status),
		BotName:    bot.Name,
		OccurredAt: now,
	}
}
