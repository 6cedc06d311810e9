package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/kafka"
	"github.com/Dhoini/dca-billing-service/internal/repository"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_ProBundleLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.addPlan("DCA-Pro-Bundle", "TimerDCA", "SmartDCA")

	event := checkout("cs_bundle", "DCA-Pro-Bundle", domain.PlanTypeMonthly, 4900)
	assert.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, event))

	subs := env.subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, domain.SubscriptionStatusActive, subs[0].Status)
	assert.Equal(t, time.Date(2024, time.February, 29, 10, 30, 0, 0, time.UTC), subs[0].EndDate)
	assert.Equal(t, env.now, subs[0].StartDate)
	assert.False(t, subs[0].IsTrial)
	assert.Equal(t, "sub_cs_bundle", subs[0].StripeSubscriptionID)

	bots := env.bots()
	assert.Equal(t, []string{"SmartDCA", "TimerDCA"}, botNames(bots))
	for _, b := range bots {
		assert.Equal(t, domain.BotStatusWaitingForSetup, b.Status)
		assert.Empty(t, b.APIKey)
	}

	orders := env.orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "49.00", orders[0].Amount.StringFixed(2))
	assert.Equal(t, "cs_bundle", orders[0].StripeSessionID)
	assert.Equal(t, domain.OrderStatusPaid, orders[0].Status)

	// повторная доставка того же чекаута ничего не меняет
	assert.Equal(t, OutcomeDuplicate, env.svc.Dispatch(env.ctx, event))
	assert.Len(t, env.orders(), 1)
	assert.Len(t, env.bots(), 2)

	env.gateway.metadata["sub_cs_bundle"] = domain.PaymentMetadata{
		UserID: testUserID, PlanName: "DCA-Pro-Bundle", PlanType: domain.PlanTypeMonthly,
	}
	assert.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, invoice("in_1", "sub_cs_bundle", 4900)))

	subs = env.subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, time.Date(2024, time.March, 29, 10, 30, 0, 0, time.UTC), subs[0].EndDate)
	assert.Equal(t, env.now, subs[0].StartDate, "start date survives renewals")

	orders = env.orders()
	require.Len(t, orders, 2)
	assert.Equal(t, domain.AutoRenewalSessionID("in_1"), orders[1].StripeSessionID)
	assert.True(t, orders[1].IsAutoRenewal())
	assert.Equal(t, "card", orders[1].PaymentMethod)
	assert.Len(t, env.bots(), 2, "renewal does not provision bots")

	env.svc.Wait()
	assert.ElementsMatch(t, []string{
		kafka.TopicSubscriptionActivated,
		kafka.TopicBotProvisioned,
		kafka.TopicBotProvisioned,
		kafka.TopicSubscriptionRenewed,
	}, env.events.Types())
}

func TestCheckout_Trial(t *testing.T) {
	for _, planType := range []domain.PlanType{domain.PlanTypeMonthly, domain.PlanTypeYearly} {
		t.Run(string(planType), func(t *testing.T) {
			env := newTestEnv(t)
			event := checkout("cs_trial", "TimerDCA-Pro", planType, 0)
			event.Metadata.IsTrial = true

			assert.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, event))

			subs := env.subscriptions()
			require.Len(t, subs, 1)
			assert.True(t, subs[0].IsTrial)
			assert.Equal(t, env.now.Add(7*24*time.Hour), subs[0].EndDate)
			assert.Equal(t, []string{"TimerDCA-Pro"}, botNames(env.bots()))
		})
	}
}

func TestCheckout_TrialThenPaidExtendsFromTrialEnd(t *testing.T) {
	env := newTestEnv(t)
	trial := checkout("cs_trial", "TimerDCA-Pro", domain.PlanTypeMonthly, 0)
	trial.Metadata.IsTrial = true
	require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, trial))

	paid := checkout("cs_paid", "TimerDCA-Pro", domain.PlanTypeMonthly, 1900)
	require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, paid))

	subs := env.subscriptions()
	require.Len(t, subs, 1)
	assert.False(t, subs[0].IsTrial)
	assert.Equal(t, time.Date(2024, time.March, 7, 10, 30, 0, 0, time.UTC), subs[0].EndDate)
	assert.Equal(t, "cs_paid", subs[0].StripeSessionID)
	assert.Len(t, env.orders(), 2)
	assert.Len(t, env.bots(), 1)

	// старая сессия все еще распознается как повтор
	assert.Equal(t, OutcomeDuplicate, env.svc.Dispatch(env.ctx, trial))
}

func TestCheckout_BundleKeepsExistingBots(t *testing.T) {
	env := newTestEnv(t)
	env.addPlan("DCA-Max-Bundle", "TimerDCA", "SmartDCA", "GridDCA", "SmartDCA", "")
	existing := domain.NewPendingBot(testUserID, "SmartDCA", env.now)
	existing.Status = domain.BotStatusActive
	_, err := env.repos.Bots.CreateIfAbsent(env.ctx, existing)
	require.NoError(t, err)

	require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, checkout("cs_max", "DCA-Max-Bundle", domain.PlanTypeYearly, 49000)))

	bots := env.bots()
	assert.Equal(t, []string{"GridDCA", "SmartDCA", "TimerDCA"}, botNames(bots))
	for _, b := range bots {
		if b.Name == "SmartDCA" {
			assert.Equal(t, existing.ID, b.ID)
			assert.Equal(t, domain.BotStatusActive, b.Status)
		}
	}

	subs := env.subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, time.Date(2025, time.January, 31, 10, 30, 0, 0, time.UTC), subs[0].EndDate)

	env.svc.Wait()
	assert.ElementsMatch(t, []string{
		kafka.TopicSubscriptionActivated,
		kafka.TopicBotProvisioned,
		kafka.TopicBotProvisioned,
	}, env.events.Types())
}

func TestCheckout_AutoCreatesPlan(t *testing.T) {
	env := newTestEnv(t)
	event := checkout("cs_new", "GridDCA-Elite", domain.PlanTypeMonthly, 3900)

	require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, event))

	plan, err := env.svc.Plans().FindByName(env.ctx, "GridDCA-Elite")
	require.NoError(t, err)
	require.NotNil(t, plan)
	assert.Equal(t, "GridDCA", plan.Category)
	assert.Equal(t, "Elite", plan.Tier)
	assert.Equal(t, "39.00", plan.MonthlyPrice.StringFixed(2))
	assert.Equal(t, "468.00", plan.YearlyPrice.StringFixed(2))
}

func TestCheckout_Skipped(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(e *domain.CheckoutCompleted)
	}{
		{"unknown user", func(e *domain.CheckoutCompleted) { e.Metadata.UserID = "ghost" }},
		{"missing user", func(e *domain.CheckoutCompleted) { e.Metadata.UserID = "" }},
		{"missing plan", func(e *domain.CheckoutCompleted) { e.Metadata.PlanName = "" }},
		{"bad plan type", func(e *domain.CheckoutCompleted) { e.Metadata.PlanType = "weekly" }},
		{"missing session", func(e *domain.CheckoutCompleted) { e.SessionID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			event := checkout("cs_skip", "TimerDCA-Pro", domain.PlanTypeMonthly, 1900)
			tc.mutate(&event)

			assert.Equal(t, OutcomeSkipped, env.svc.Dispatch(env.ctx, event))
			assert.Empty(t, env.subscriptions())
			assert.Empty(t, env.orders())
			assert.Empty(t, env.bots())
		})
	}
}

func TestCheckout_PaymentMethodFallback(t *testing.T) {
	env := newTestEnv(t)
	event := checkout("cs_pm", "TimerDCA-Pro", domain.PlanTypeMonthly, 1900)
	event.PaymentMethod = ""

	require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, event))
	orders := env.orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "card", orders[0].PaymentMethod)
}

func TestCheckout_Coupons(t *testing.T) {
	t.Run("recorded once", func(t *testing.T) {
		env := newTestEnv(t)
		env.addCoupon("SAVE10", true)
		event := checkout("cs_coupon", "TimerDCA-Pro", domain.PlanTypeMonthly, 1710)
		event.Metadata.CouponCode = " save10 "

		require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, event))
		require.Equal(t, OutcomeDuplicate, env.svc.Dispatch(env.ctx, event))

		usages := env.store.CouponUsages()
		require.Len(t, usages, 1)
		assert.Equal(t, "cs_coupon", usages[0].StripeSessionID)
		coupon, err := env.repos.Coupons.GetByCode(env.ctx, "SAVE10")
		require.NoError(t, err)
		assert.Equal(t, 1, coupon.UsedCount)
	})

	t.Run("unknown coupon does not block purchase", func(t *testing.T) {
		env := newTestEnv(t)
		event := checkout("cs_nocoupon", "TimerDCA-Pro", domain.PlanTypeMonthly, 1900)
		event.Metadata.CouponCode = "MISSING"

		assert.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, event))
		assert.Len(t, env.subscriptions(), 1)
		assert.Empty(t, env.store.CouponUsages())
	})

	t.Run("ledger failure keeps purchase", func(t *testing.T) {
		env := newTestEnv(t, withRepos(func(r *repository.Repositories) {
			r.Coupons = failingCoupons{CouponRepository: r.Coupons}
		}))
		env.addCoupon("SAVE10", true)
		event := checkout("cs_fail", "TimerDCA-Pro", domain.PlanTypeMonthly, 1710)
		event.Metadata.CouponCode = "SAVE10"

		assert.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, event))
		assert.Len(t, env.subscriptions(), 1)
		assert.Len(t, env.orders(), 1)
	})
}

func TestRenewal(t *testing.T) {
	setup := func(t *testing.T, planType domain.PlanType) *testEnv {
		env := newTestEnv(t)
		require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, checkout("cs_1", "TimerDCA-Pro", planType, 1900)))
		env.gateway.metadata["sub_cs_1"] = domain.PaymentMetadata{UserID: testUserID, PlanName: "TimerDCA-Pro", PlanType: planType}
		return env
	}

	t.Run("invoice.paid and payment_succeeded apply once", func(t *testing.T) {
		env := setup(t, domain.PlanTypeMonthly)
		paid := invoice("in_dup", "sub_cs_1", 1900)

		assert.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, paid))
		assert.Equal(t, OutcomeDuplicate, env.svc.Dispatch(env.ctx, paid))

		subs := env.subscriptions()
		require.Len(t, subs, 1)
		assert.Equal(t, time.Date(2024, time.March, 29, 10, 30, 0, 0, time.UTC), subs[0].EndDate)
		assert.Len(t, env.orders(), 2)
	})

	t.Run("lapsed subscription extends from now", func(t *testing.T) {
		env := setup(t, domain.PlanTypeMonthly)
		env.now = time.Date(2024, time.May, 15, 8, 0, 0, 0, time.UTC)

		require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, invoice("in_late", "sub_cs_1", 1900)))

		subs := env.subscriptions()
		require.Len(t, subs, 1)
		assert.Equal(t, time.Date(2024, time.June, 15, 8, 0, 0, 0, time.UTC), subs[0].EndDate)
		assert.Equal(t, domain.SubscriptionStatusActive, subs[0].Status)
	})

	t.Run("yearly", func(t *testing.T) {
		env := setup(t, domain.PlanTypeYearly)

		require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, invoice("in_year", "sub_cs_1", 19000)))

		subs := env.subscriptions()
		require.Len(t, subs, 1)
		assert.Equal(t, time.Date(2026, time.January, 31, 10, 30, 0, 0, time.UTC), subs[0].EndDate)
	})

	t.Run("no subscription skipped", func(t *testing.T) {
		env := newTestEnv(t)
		env.addPlan("TimerDCA-Pro")
		env.gateway.metadata["sub_x"] = domain.PaymentMetadata{UserID: testUserID, PlanName: "TimerDCA-Pro"}

		assert.Equal(t, OutcomeSkipped, env.svc.Dispatch(env.ctx, invoice("in_x", "sub_x", 1900)))
		assert.Empty(t, env.orders())
	})

	t.Run("unknown plan skipped", func(t *testing.T) {
		env := newTestEnv(t)
		env.gateway.metadata["sub_x"] = domain.PaymentMetadata{UserID: testUserID, PlanName: "Nope-Pro"}

		assert.Equal(t, OutcomeSkipped, env.svc.Dispatch(env.ctx, invoice("in_x", "sub_x", 1900)))
		plan, err := env.svc.Plans().FindByName(env.ctx, "Nope-Pro")
		require.NoError(t, err)
		assert.Nil(t, plan, "renewal never creates plans")
	})

	t.Run("missing metadata skipped", func(t *testing.T) {
		env := setup(t, domain.PlanTypeMonthly)
		env.gateway.metadata["sub_cs_1"] = domain.PaymentMetadata{}

		assert.Equal(t, OutcomeSkipped, env.svc.Dispatch(env.ctx, invoice("in_meta", "sub_cs_1", 1900)))
		assert.Len(t, env.orders(), 1)
	})

	t.Run("first invoice ignored", func(t *testing.T) {
		env := setup(t, domain.PlanTypeMonthly)
		first := invoice("in_first", "sub_cs_1", 1900)
		first.BillingReason = domain.BillingReasonSubscriptionCreate

		assert.Equal(t, OutcomeIgnored, env.svc.Dispatch(env.ctx, first))
		assert.Zero(t, env.gateway.Calls())
		assert.Len(t, env.orders(), 1)
	})

	t.Run("one-off invoice ignored", func(t *testing.T) {
		env := setup(t, domain.PlanTypeMonthly)

		assert.Equal(t, OutcomeIgnored, env.svc.Dispatch(env.ctx, invoice("in_oneoff", "", 1900)))
		assert.Zero(t, env.gateway.Calls())
	})

	t.Run("gateway failure", func(t *testing.T) {
		env := setup(t, domain.PlanTypeMonthly)
		env.gateway.err = errors.New("stripe unavailable")

		assert.Equal(t, OutcomeFailed, env.svc.Dispatch(env.ctx, invoice("in_err", "sub_cs_1", 1900)))
		assert.Len(t, env.orders(), 1)
	})
}

func TestRenewal_ConcurrentDeliveries(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, checkout("cs_1", "TimerDCA-Pro", domain.PlanTypeMonthly, 1900)))
	env.gateway.metadata["sub_cs_1"] = domain.PaymentMetadata{UserID: testUserID, PlanName: "TimerDCA-Pro"}

	const deliveries = 8
	outcomes := make([]Outcome, deliveries)
	var wg sync.WaitGroup
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = env.svc.Dispatch(context.Background(), invoice("in_race", "sub_cs_1", 1900))
		}(i)
	}
	wg.Wait()

	processed := 0
	for _, o := range outcomes {
		if o == OutcomeProcessed {
			processed++
		} else {
			assert.Equal(t, OutcomeDuplicate, o)
		}
	}
	assert.Equal(t, 1, processed)
	assert.Len(t, env.orders(), 2)

	subs := env.subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, time.Date(2024, time.March, 29, 10, 30, 0, 0, time.UTC), subs[0].EndDate)
}

func TestCancellation(t *testing.T) {
	cancelled := domain.SubscriptionCancelled{
		StripeEventID:  "evt_cancel",
		SubscriptionID: "sub_cs_1",
		Metadata:       domain.PaymentMetadata{UserID: testUserID, PlanName: "TimerDCA-Pro"},
	}

	t.Run("expires immediately", func(t *testing.T) {
		env := newTestEnv(t)
		require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, checkout("cs_1", "TimerDCA-Pro", domain.PlanTypeYearly, 19000)))

		assert.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, cancelled))

		subs := env.subscriptions()
		require.Len(t, subs, 1)
		assert.Equal(t, domain.SubscriptionStatusExpired, subs[0].Status)
		assert.True(t, subs[0].EndDate.After(env.now), "end date is kept as is")
		assert.False(t, subs[0].IsOpen(env.now))
		assert.Len(t, env.bots(), 1, "bots are not removed")

		assert.Equal(t, OutcomeDuplicate, env.svc.Dispatch(env.ctx, cancelled))

		env.svc.Wait()
		assert.ElementsMatch(t, []string{
			kafka.TopicSubscriptionActivated,
			kafka.TopicBotProvisioned,
			kafka.TopicSubscriptionExpired,
		}, env.events.Types())
	})

	t.Run("no subscription skipped", func(t *testing.T) {
		env := newTestEnv(t)
		env.addPlan("TimerDCA-Pro")
		assert.Equal(t, OutcomeSkipped, env.svc.Dispatch(env.ctx, cancelled))
	})

	t.Run("missing metadata skipped", func(t *testing.T) {
		env := newTestEnv(t)
		assert.Equal(t, OutcomeSkipped, env.svc.Dispatch(env.ctx, domain.SubscriptionCancelled{SubscriptionID: "sub_1"}))
	})

	t.Run("renewal after cancellation reactivates", func(t *testing.T) {
		env := newTestEnv(t)
		require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, checkout("cs_1", "TimerDCA-Pro", domain.PlanTypeMonthly, 1900)))
		require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, cancelled))
		env.gateway.metadata["sub_cs_1"] = cancelled.Metadata

		require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, invoice("in_back", "sub_cs_1", 1900)))
		subs := env.subscriptions()
		require.Len(t, subs, 1)
		assert.Equal(t, domain.SubscriptionStatusActive, subs[0].Status)
	})
}

func TestEntitlementLock_BoundsWorkUnderLock(t *testing.T) {
	stalled := stalledSubscriptions{deadline: make(chan bool, 1)}
	env := newTestEnv(t, withLockTTL(50*time.Millisecond), withRepos(func(r *repository.Repositories) {
		stalled.SubscriptionRepository = r.Subscriptions
		r.Subscriptions = stalled
	}))
	env.addPlan("TimerDCA-Pro")

	started := time.Now()
	outcome := env.svc.Dispatch(env.ctx, domain.SubscriptionCancelled{
		SubscriptionID: "sub_stalled",
		Metadata:       domain.PaymentMetadata{UserID: testUserID, PlanName: "TimerDCA-Pro"},
	})

	assert.Equal(t, OutcomeFailed, outcome)
	assert.True(t, <-stalled.deadline)
	assert.Less(t, time.Since(started), time.Second)
}

func TestDispatch(t *testing.T) {
	t.Run("unknown event ignored and counted", func(t *testing.T) {
		env := newTestEnv(t)

		assert.Equal(t, OutcomeIgnored, env.svc.Dispatch(env.ctx, domain.UnknownEvent{StripeEventID: "evt_1", Type: "customer.created"}))
		assert.Equal(t, OutcomeIgnored, env.svc.Dispatch(env.ctx, nil))

		expected := `
# HELP billing_webhook_events_total Payment events by kind and processing outcome
# TYPE billing_webhook_events_total counter
billing_webhook_events_total{kind="unknown",outcome="ignored"} 1
`
		assert.NoError(t, testutil.GatherAndCompare(env.registry, strings.NewReader(expected), "billing_webhook_events_total"))
	})

	t.Run("panic becomes failed", func(t *testing.T) {
		env := newTestEnv(t)
		env.addPlan("TimerDCA-Pro")
		env.gateway.panicMsg = "boom"

		assert.NotPanics(t, func() {
			assert.Equal(t, OutcomeFailed, env.svc.Dispatch(env.ctx, invoice("in_panic", "sub_1", 1900)))
		})
	})
}

// stalledSubscriptions зависает до отмены контекста, как хранилище без свободных соединений
type stalledSubscriptions struct {
	repository.SubscriptionRepository
	deadline chan bool
}

func (r stalledSubscriptions) GetLatestByUserAndPlan(ctx context.Context, userID string, planID uuid.UUID) (*domain.Subscription, error) {
	_, ok := ctx.Deadline()
	r.deadline <- ok
	if !ok {
		return nil, errors.New("store call without deadline")
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

// failingCoupons журнал купонов, который не может записать погашение
type failingCoupons struct {
	repository.CouponRepository
}

func (failingCoupons) RecordUsage(ctx context.Context, usage *domain.CouponUsage) error {
	return errors.New("coupon storage unavailable")
}

type recordingReceipts struct {
	mu       sync.Mutex
	sessions []string
}

func (r *recordingReceipts) PublishOrderPaid(ctx context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, order.StripeSessionID)
	return nil
}

func (r *recordingReceipts) Close() error { return nil }

func TestReceiptsPublishedPerOrder(t *testing.T) {
	env := newTestEnv(t)
	receipts := &recordingReceipts{}
	WithOrderProducer(receipts)(env.svc)

	event := checkout("cs_1", "TimerDCA-Pro", domain.PlanTypeMonthly, 1900)
	require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, event))
	require.Equal(t, OutcomeDuplicate, env.svc.Dispatch(env.ctx, event))
	env.gateway.metadata["sub_cs_1"] = event.Metadata
	require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, invoice("in_1", "sub_cs_1", 1900)))

	env.svc.Wait()
	receipts.mu.Lock()
	defer receipts.mu.Unlock()
	assert.ElementsMatch(t, []string{"cs_1", domain.AutoRenewalSessionID("in_1")}, receipts.sessions)
}
