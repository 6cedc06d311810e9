package services

import (
	"context"
	"testing"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/repository"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntitlementService_GetEntitlements(t *testing.T) {
	t.Run("after checkout", func(t *testing.T) {
		env := newTestEnv(t)
		env.addPlan("DCA-Pro-Bundle", "TimerDCA", "SmartDCA")
		require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, checkout("cs_1", "DCA-Pro-Bundle", domain.PlanTypeMonthly, 4900)))
		require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, checkout("cs_2", "TimerDCA-Pro", domain.PlanTypeMonthly, 1900)))
		require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, domain.SubscriptionCancelled{
			SubscriptionID: "sub_cs_2",
			Metadata:       domain.PaymentMetadata{UserID: testUserID, PlanName: "TimerDCA-Pro"},
		}))

		svc := NewEntitlementService(env.repos.Entitlements)
		svc.now = func() time.Time { return env.now }

		view, err := svc.GetEntitlements(env.ctx, testUserID)
		require.NoError(t, err)
		assert.Equal(t, testUserID, view.UserID)
		assert.Len(t, view.Subscriptions, 2)
		assert.Equal(t, []string{"SmartDCA", "TimerDCA", "TimerDCA-Pro"}, botNames(view.Bots))
		assert.Len(t, view.Orders, 2)
		assert.Equal(t, []string{"DCA-Pro-Bundle"}, view.ActivePlans)
	})

	t.Run("lapsed trial is not active", func(t *testing.T) {
		env := newTestEnv(t)
		trial := checkout("cs_trial", "TimerDCA-Pro", domain.PlanTypeMonthly, 0)
		trial.Metadata.IsTrial = true
		require.Equal(t, OutcomeProcessed, env.svc.Dispatch(env.ctx, trial))

		svc := NewEntitlementService(env.repos.Entitlements)
		svc.now = func() time.Time { return env.now.AddDate(0, 0, 60) }

		view, err := svc.GetEntitlements(env.ctx, testUserID)
		require.NoError(t, err)
		require.Len(t, view.Subscriptions, 1)
		assert.Equal(t, domain.SubscriptionStatusActive, view.Subscriptions[0].Status)
		assert.Empty(t, view.ActivePlans)
	})

	t.Run("unknown user gets empty lists", func(t *testing.T) {
		store := repository.NewInMemoryStore(logger.NewNop())
		view, err := NewEntitlementService(store.Repositories().Entitlements).GetEntitlements(context.Background(), "nobody")
		require.NoError(t, err)
		assert.NotNil(t, view.Subscriptions)
		assert.NotNil(t, view.Bots)
		assert.NotNil(t, view.Orders)
		assert.Empty(t, view.ActivePlans)
	})

	t.Run("empty user id", func(t *testing.T) {
		store := repository.NewInMemoryStore(logger.NewNop())
		_, err := NewEntitlementService(store.Repositories().Entitlements).GetEntitlements(context.Background(), "")
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}
