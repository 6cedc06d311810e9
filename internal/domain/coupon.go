package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Coupon промокод со счетчиком использований
type Coupon struct {
	ID        uuid.UUID `json:"id"`
	Code      string    `json:"code"`
	UsedCount int       `json:"used_count"`
	MaxUses   *int      `json:"max_uses,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Exhausted сообщает, превышен ли лимит использований.
func (c *Coupon) Exhausted() bool {
	return c.MaxUses != nil && c.UsedCount >= *c.MaxUses
}

// CouponUsage запись о погашении купона. StripeSessionID уникален,
// поэтому одна покупка не может списать купон дважды.
type CouponUsage struct {
	ID              uuid.UUID `json:"id"`
	CouponID        uuid.UUID `json:"coupon_id"`
	UserID          string    `json:"user_id"`
	StripeSessionID string    `json:"stripe_session_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// NormalizeCouponCode приводит код к виду, в котором он хранится.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
