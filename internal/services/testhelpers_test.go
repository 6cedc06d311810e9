package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/config"
	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/kafka"
	"github.com/Dhoini/dca-billing-service/internal/lock"
	"github.com/Dhoini/dca-billing-service/internal/metrics"
	"github.com/Dhoini/dca-billing-service/internal/repository"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testUserID = "user-1"

type fakeGateway struct {
	mu       sync.Mutex
	metadata map[string]domain.PaymentMetadata
	err      error
	panicMsg string
	calls    int
}

func (g *fakeGateway) SubscriptionMetadata(ctx context.Context, subscriptionID string) (domain.PaymentMetadata, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	if g.err != nil {
		return domain.PaymentMetadata{}, g.err
	}
	return g.metadata[subscriptionID], nil
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingProducer struct {
	mu     sync.Mutex
	events []kafka.EntitlementEvent
}

func (p *recordingProducer) PublishEntitlementEvent(ctx context.Context, event kafka.EntitlementEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

type testEnv struct {
	t        *testing.T
	ctx      context.Context
	store    *repository.InMemoryStore
	repos    repository.Repositories
	gateway  *fakeGateway
	events   *recordingProducer
	registry *prometheus.Registry
	svc      *ReconciliationService
	now      time.Time
	lockTTL  time.Duration
}

type envOption func(*testEnv)

func withRepos(mutate func(r *repository.Repositories)) envOption {
	return func(e *testEnv) { mutate(&e.repos) }
}

func withLockTTL(ttl time.Duration) envOption {
	return func(e *testEnv) { e.lockTTL = ttl }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	log := logger.NewNop()
	store := repository.NewInMemoryStore(log)
	env := &testEnv{
		t:        t,
		ctx:      context.Background(),
		store:    store,
		repos:    store.Repositories(),
		gateway:  &fakeGateway{metadata: map[string]domain.PaymentMetadata{}},
		events:   &recordingProducer{},
		registry: prometheus.NewRegistry(),
		now:      time.Date(2024, time.January, 31, 10, 30, 0, 0, time.UTC),
	}
	for _, opt := range opts {
		opt(env)
	}

	cfg := &config.Config{}
	cfg.Billing.DefaultPaymentMethod = "card"
	cfg.Billing.LockWait = time.Second
	cfg.Billing.LockTTL = env.lockTTL

	env.svc = NewReconciliationService(
		cfg,
		env.repos,
		env.gateway,
		lock.NewLocalLocker(),
		metrics.NewBillingMetrics(env.registry, log),
		log,
		WithClock(func() time.Time { return env.now }),
		WithEventProducer(env.events),
	)

	require.NoError(t, env.repos.Users.Create(env.ctx, &domain.User{ID: testUserID, Email: "trader@example.com", CreatedAt: env.now}))
	return env
}

func (e *testEnv) addPlan(name string, bots ...string) *domain.Plan {
	e.t.Helper()
	plan := &domain.Plan{
		ID:           uuid.New(),
		Name:         name,
		Category:     "DCA",
		Tier:         "Pro",
		Features:     domain.DefaultPlanFeatures,
		IncludedBots: bots,
		IsActive:     true,
		CreatedAt:    e.now,
		UpdatedAt:    e.now,
	}
	require.NoError(e.t, e.repos.Plans.Create(e.ctx, plan))
	return plan
}

func (e *testEnv) addCoupon(code string, active bool) *domain.Coupon {
	e.t.Helper()
	coupon := &domain.Coupon{ID: uuid.New(), Code: code, IsActive: active, CreatedAt: e.now}
	require.NoError(e.t, e.repos.Coupons.Create(e.ctx, coupon))
	return coupon
}

func (e *testEnv) subscriptions() []domain.Subscription {
	e.t.Helper()
	subs, err := e.repos.Entitlements.ListSubscriptions(e.ctx, testUserID)
	require.NoError(e.t, err)
	return subs
}

func (e *testEnv) bots() []domain.Bot {
	e.t.Helper()
	bots, err := e.repos.Entitlements.ListBots(e.ctx, testUserID)
	require.NoError(e.t, err)
	return bots
}

func (e *testEnv) orders() []domain.Order {
	e.t.Helper()
	orders, err := e.repos.Entitlements.ListOrders(e.ctx, testUserID)
	require.NoError(e.t, err)
	return orders
}

func checkout(sessionID, planName string, planType domain.PlanType, amount int64) domain.CheckoutCompleted {
	return domain.CheckoutCompleted{
		StripeEventID:  "evt_" + sessionID,
		SessionID:      sessionID,
		AmountTotal:    amount,
		Currency:       "usd",
		PaymentMethod:  "card",
		SubscriptionID: "sub_" + sessionID,
		Metadata: domain.PaymentMetadata{
			UserID:   testUserID,
			PlanName: planName,
			PlanType: planType,
		},
	}
}

func invoice(invoiceID, subscriptionID string, amount int64) domain.InvoicePaid {
	return domain.InvoicePaid{
		StripeEventID:  "evt_" + invoiceID,
		InvoiceID:      invoiceID,
		SubscriptionID: subscriptionID,
		AmountPaid:     amount,
		Currency:       "usd",
		BillingReason:  "subscription_cycle",
	}
}

func botNames(bots []domain.Bot) []string {
	names := make([]string, 0, len(bots))
	for _, b := range bots {
		names = append(names, b.Name)
	}
	return names
}
