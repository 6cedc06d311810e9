package repository

import (
	"context"

	"github.com/Dhoini/dca-billing-service/internal/domain"

	"github.com/google/uuid"
)

// PlanRepository каталог тарифов.
type PlanRepository interface {
	// GetByName возвращает тариф по уникальному имени или ErrNotFound.
	GetByName(ctx context.Context, name string) (*domain.Plan, error)

	// Create сохраняет новый тариф. Занятое имя дает ErrDuplicate.
	Create(ctx context.Context, plan *domain.Plan) error
}

// UserRepository нужен ядру только для проверки существования пользователя.
type UserRepository interface {
	Exists(ctx context.Context, userID string) (bool, error)
	Create(ctx context.Context, user *domain.User) error
}

// SubscriptionRepository определяет методы для работы с хранилищем подписок.
type SubscriptionRepository interface {
	// Create сохраняет новую подписку в хранилище.
	Create(ctx context.Context, sub *domain.Subscription) error

	// Update перезаписывает изменяемые поля подписки (даты, статус, флаг триала, session id).
	Update(ctx context.Context, sub *domain.Subscription) error

	// GetLatestByUserAndPlan возвращает подписку пары (user, plan) с самой поздней датой окончания.
	GetLatestByUserAndPlan(ctx context.Context, userID string, planID uuid.UUID) (*domain.Subscription, error)

	// ExistsBySessionID проверяет, трогала ли подписку checkout-сессия с этим id.
	ExistsBySessionID(ctx context.Context, sessionID string) (bool, error)
}

// BotRepository хранилище ботов пользователя.
type BotRepository interface {
	// CreateIfAbsent создает бота, если у пользователя нет бота с таким именем.
	// Возвращает true, если бот был создан.
	CreateIfAbsent(ctx context.Context, bot *domain.Bot) (bool, error)
}

// OrderRepository журнал квитанций. Записи только добавляются.
type OrderRepository interface {
	// Append добавляет заказ. Повтор session id дает ErrDuplicate.
	Append(ctx context.Context, order *domain.Order) error

	ExistsBySessionID(ctx context.Context, sessionID string) (bool, error)
}

// CouponRepository хранилище купонов и их погашений.
type CouponRepository interface {
	// GetByCode ищет купон по нормализованному коду.
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)

	// RecordUsage увеличивает счетчик купона и добавляет CouponUsage.
	// Повтор для той же сессии дает ErrDuplicate и счетчик не меняет.
	RecordUsage(ctx context.Context, usage *domain.CouponUsage) error

	Create(ctx context.Context, coupon *domain.Coupon) error
}

// EntitlementReader read-модель для просмотра итогового состояния пользователя.
type EntitlementReader interface {
	ListSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error)
	ListBots(ctx context.Context, userID string) ([]domain.Bot, error)
	ListOrders(ctx context.Context, userID string) ([]domain.Order, error)
}

// Repositories набор хранилищ, с которыми работает биллинг.
type Repositories struct {
	Plans         PlanRepository
	Users         UserRepository
	Subscriptions SubscriptionRepository
	Bots          BotRepository
	Orders        OrderRepository
	Coupons       CouponRepository
	Entitlements  EntitlementReader
}
