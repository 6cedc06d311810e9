package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// InMemoryStore хранилище биллинга в памяти. Используется драйвером "memory" и в тестах.
// Все записи копируются на входе и выходе, вызывающий код не может изменить их в обход Update.
type InMemoryStore struct {
	mutex sync.RWMutex
	log   *logger.Logger

	plans         map[string]domain.Plan // по имени
	users         map[string]domain.User
	subscriptions map[uuid.UUID]domain.Subscription
	bots          map[string]domain.Bot // ключ userID + "\x00" + name
	orders        []domain.Order
	coupons       map[string]domain.Coupon // по коду
	couponUsages  []domain.CouponUsage
}

// NewInMemoryStore создает пустое хранилище в памяти
func NewInMemoryStore(log *logger.Logger) *InMemoryStore {
	return &InMemoryStore{
		log:           log,
		plans:         make(map[string]domain.Plan),
		users:         make(map[string]domain.User),
		subscriptions: make(map[uuid.UUID]domain.Subscription),
		bots:          make(map[string]domain.Bot),
		coupons:       make(map[string]domain.Coupon),
	}
}

// Repositories возвращает набор репозиториев поверх этого хранилища.
func (s *InMemoryStore) Repositories() Repositories {
	return Repositories{
		Plans:         inMemoryPlans{s},
		Users:         inMemoryUsers{s},
		Subscriptions: inMemorySubscriptions{s},
		Bots:          inMemoryBots{s},
		Orders:        inMemoryOrders{s},
		Coupons:       inMemoryCoupons{s},
		Entitlements:  inMemoryEntitlements{s},
	}
}

func botKey(userID, name string) string {
	return userID + "\x00" + name
}

func clonePlan(p domain.Plan) *domain.Plan {
	p.Features = append([]string(nil), p.Features...)
	p.IncludedBots = append([]string(nil), p.IncludedBots...)
	return &p
}

type inMemoryPlans struct{ s *InMemoryStore }

func (r inMemoryPlans) GetByName(ctx context.Context, name string) (*domain.Plan, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	plan, ok := r.s.plans[name]
	if !ok {
		return nil, domain.NewNotFoundError("plan", name)
	}
	return clonePlan(plan), nil
}

func (r inMemoryPlans) Create(ctx context.Context, plan *domain.Plan) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	if _, exists := r.s.plans[plan.Name]; exists {
		return domain.NewDuplicateError("plan", "name", plan.Name)
	}
	r.s.plans[plan.Name] = *clonePlan(*plan)
	return nil
}

type inMemoryUsers struct{ s *InMemoryStore }

func (r inMemoryUsers) Exists(ctx context.Context, userID string) (bool, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	_, ok := r.s.users[userID]
	return ok, nil
}

func (r inMemoryUsers) Create(ctx context.Context, user *domain.User) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	if _, exists := r.s.users[user.ID]; exists {
		return domain.NewDuplicateError("user", "id", user.ID)
	}
	r.s.users[user.ID] = *user
	return nil
}

type inMemorySubscriptions struct{ s *InMemoryStore }

func (r inMemorySubscriptions) Create(ctx context.Context, sub *domain.Subscription) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	if _, exists := r.s.subscriptions[sub.ID]; exists {
		return domain.NewDuplicateError("subscription", "id", sub.ID.String())
	}
	r.s.subscriptions[sub.ID] = *sub
	return nil
}

func (r inMemorySubscriptions) Update(ctx context.Context, sub *domain.Subscription) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	if _, exists := r.s.subscriptions[sub.ID]; !exists {
		return domain.NewNotFoundError("subscription", sub.ID.String())
	}
	r.s.subscriptions[sub.ID] = *sub
	return nil
}

func (r inMemorySubscriptions) GetLatestByUserAndPlan(ctx context.Context, userID string, planID uuid.UUID) (*domain.Subscription, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	var latest *domain.Subscription
	for _, sub := range r.s.subscriptions {
		if sub.UserID != userID || sub.PlanID != planID {
			continue
		}
		if latest == nil || sub.EndDate.After(latest.EndDate) {
			found := sub
			latest = &found
		}
	}
	if latest == nil {
		return nil, domain.NewNotFoundError("subscription", userID+"/"+planID.String())
	}
	return latest, nil
}

func (r inMemorySubscriptions) ExistsBySessionID(ctx context.Context, sessionID string) (bool, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	for _, sub := range r.s.subscriptions {
		if sub.StripeSessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

type inMemoryBots struct{ s *InMemoryStore }

func (r inMemoryBots) CreateIfAbsent(ctx context.Context, bot *domain.Bot) (bool, error) {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	key := botKey(bot.UserID, bot.Name)
	if _, exists := r.s.bots[key]; exists {
		r.s.log.Debugw("Bot already exists, skipping", "userID", bot.UserID, "name", bot.Name)
		return false, nil
	}
	r.s.bots[key] = *bot
	return true, nil
}

type inMemoryOrders struct{ s *InMemoryStore }

func (r inMemoryOrders) Append(ctx context.Context, order *domain.Order) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	for _, o := range r.s.orders {
		if o.StripeSessionID == order.StripeSessionID {
			return domain.NewDuplicateError("order", "stripe_session_id", order.StripeSessionID)
		}
	}
	r.s.orders = append(r.s.orders, *order)
	return nil
}

func (r inMemoryOrders) ExistsBySessionID(ctx context.Context, sessionID string) (bool, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	return lo.ContainsBy(r.s.orders, func(o domain.Order) bool {
		return o.StripeSessionID == sessionID
	}), nil
}

type inMemoryCoupons struct{ s *InMemoryStore }

func (r inMemoryCoupons) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	coupon, ok := r.s.coupons[domain.NormalizeCouponCode(code)]
	if !ok {
		return nil, domain.NewNotFoundError("coupon", code)
	}
	return &coupon, nil
}

func (r inMemoryCoupons) RecordUsage(ctx context.Context, usage *domain.CouponUsage) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	var code string
	for c, coupon := range r.s.coupons {
		if coupon.ID == usage.CouponID {
			code = c
			break
		}
	}
	if code == "" {
		return domain.NewNotFoundError("coupon", usage.CouponID.String())
	}
	for _, u := range r.s.couponUsages {
		if u.StripeSessionID == usage.StripeSessionID {
			return domain.NewDuplicateError("coupon_usage", "stripe_session_id", usage.StripeSessionID)
		}
	}

	coupon := r.s.coupons[code]
	coupon.UsedCount++
	r.s.coupons[code] = coupon
	r.s.couponUsages = append(r.s.couponUsages, *usage)
	return nil
}

func (r inMemoryCoupons) Create(ctx context.Context, coupon *domain.Coupon) error {
	r.s.mutex.Lock()
	defer r.s.mutex.Unlock()

	code := domain.NormalizeCouponCode(coupon.Code)
	if _, exists := r.s.coupons[code]; exists {
		return domain.NewDuplicateError("coupon", "code", code)
	}
	stored := *coupon
	stored.Code = code
	r.s.coupons[code] = stored
	return nil
}

// CouponUsages возвращает копию журнала погашений. Нужен для проверок в тестах.
func (s *InMemoryStore) CouponUsages() []domain.CouponUsage {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return append([]domain.CouponUsage(nil), s.couponUsages...)
}

type inMemoryEntitlements struct{ s *InMemoryStore }

func (r inMemoryEntitlements) ListSubscriptions(ctx context.Context, userID string) ([]domain.Subscription, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	subs := lo.Filter(lo.Values(r.s.subscriptions), func(sub domain.Subscription, _ int) bool {
		return sub.UserID == userID
	})
	sort.Slice(subs, func(i, j int) bool { return subs[i].EndDate.After(subs[j].EndDate) })
	return subs, nil
}

func (r inMemoryEntitlements) ListBots(ctx context.Context, userID string) ([]domain.Bot, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	bots := lo.Filter(lo.Values(r.s.bots), func(b domain.Bot, _ int) bool {
		return b.UserID == userID
	})
	sort.Slice(bots, func(i, j int) bool { return bots[i].Name < bots[j].Name })
	return bots, nil
}

func (r inMemoryEntitlements) ListOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	r.s.mutex.RLock()
	defer r.s.mutex.RUnlock()

	return lo.Filter(r.s.orders, func(o domain.Order, _ int) bool {
		return o.UserID == userID
	}), nil
}
