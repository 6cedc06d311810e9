package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/metrics"
	"github.com/Dhoini/dca-billing-service/internal/repository"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/google/uuid"
)

// Результаты погашения купона, они же значения метки result
const (
	CouponRedeemed  = "redeemed"
	CouponDuplicate = "duplicate"
	CouponNotFound  = "not_found"
	CouponFailed    = "failed"
)

// CouponLedger учет погашений промокодов после первой покупки.
type CouponLedger struct {
	coupons repository.CouponRepository
	metrics metrics.BillingMetrics
	log     *logger.Logger
	now     func() time.Time
}

func NewCouponLedger(coupons repository.CouponRepository, m metrics.BillingMetrics, log *logger.Logger) *CouponLedger {
	return &CouponLedger{coupons: coupons, metrics: m, log: log, now: time.Now}
}

// Redeem записывает использование купона. Скидку уже применил Stripe, поэтому
// неактивный или исчерпанный купон все равно учитывается.
// Ошибка возвращается только для записи в журнал вызывающим кодом, покупку она не откатывает.
func (l *CouponLedger) Redeem(ctx context.Context, code, userID, sessionID string) (string, error) {
	normalized := domain.NormalizeCouponCode(code)
	if normalized == "" {
		return "", nil
	}

	coupon, err := l.coupons.GetByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			l.log.Warnw("Coupon not found, usage not recorded", "code", normalized, "userID", userID, "sessionID", sessionID)
			l.metrics.IncCouponRedemption(CouponNotFound)
			return CouponNotFound, nil
		}
		l.metrics.IncCouponRedemption(CouponFailed)
		return CouponFailed, fmt.Errorf("services: failed to load coupon %q: %w", normalized, err)
	}

	if !coupon.IsActive || coupon.Exhausted() {
		l.log.Warnw("Recording usage of inactive or exhausted coupon", "code", coupon.Code,
			"active", coupon.IsActive, "usedCount", coupon.UsedCount, "sessionID", sessionID)
	}

	usage := &domain.CouponUsage{
		ID:              uuid.New(),
		CouponID:        coupon.ID,
		UserID:          userID,
		StripeSessionID: sessionID,
		CreatedAt:       l.now(),
	}
	if err := l.coupons.RecordUsage(ctx, usage); err != nil {
		if errors.Is(err, domain.ErrDuplicate) {
			l.log.Infow("Coupon usage already recorded for session", "code", coupon.Code, "sessionID", sessionID)
			l.metrics.IncCouponRedemption(CouponDuplicate)
			return CouponDuplicate, nil
		}
		l.metrics.IncCouponRedemption(CouponFailed)
		return CouponFailed, fmt.Errorf("services: failed to record coupon usage: %w", err)
	}

	l.log.Infow("Coupon redeemed", "code", coupon.Code, "userID", userID, "sessionID", sessionID)
	l.metrics.IncCouponRedemption(CouponRedeemed)
	return CouponRedeemed, nil
}
