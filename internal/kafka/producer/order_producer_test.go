package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/IBM/sarama/mocks"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder(sessionID string) domain.Order {
	return domain.Order{
		ID:              uuid.New(),
		UserID:          "user-1",
		PlanName:        "DCA-Pro-Bundle",
		Amount:          decimal.RequireFromString("49"),
		Currency:        "usd",
		PaymentMethod:   "card",
		StripeSessionID: sessionID,
		Status:          domain.OrderStatusPaid,
		CreatedAt:       time.Date(2024, time.January, 31, 10, 30, 0, 0, time.UTC),
	}
}

func TestPublishOrderPaid(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		var receipt OrderReceipt
		if err := json.Unmarshal(value, &receipt); err != nil {
			return err
		}
		if receipt.Amount != "49.00" || !receipt.AutoRenewal || receipt.StripeSessionID != "auto_renewal_in_1" {
			return errors.New("unexpected receipt")
		}
		return nil
	})

	p := NewKafkaOrderProducer(mock, "", logger.NewNop())
	require.NoError(t, p.PublishOrderPaid(context.Background(), testOrder(domain.AutoRenewalSessionID("in_1"))))
	require.NoError(t, p.Close())
}

func TestPublishOrderPaid_Failure(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(errors.New("broker down"))

	p := NewKafkaOrderProducer(mock, "receipts", logger.NewNop())
	assert.Error(t, p.PublishOrderPaid(context.Background(), testOrder("cs_1")))
	require.NoError(t, p.Close())
}

func TestPublishOrderPaid_CancelledContext(t *testing.T) {
	mock := mocks.NewSyncProducer(t, nil)
	p := NewKafkaOrderProducer(mock, "receipts", logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.PublishOrderPaid(ctx, testOrder("cs_1")), context.Canceled)
	require.NoError(t, p.Close())
}

func TestNewReceipt(t *testing.T) {
	order := testOrder("cs_1")
	receipt := newReceipt(order)

	assert.Equal(t, order.ID.String(), receipt.OrderID)
	assert.Equal(t, "49.00", receipt.Amount)
	assert.False(t, receipt.AutoRenewal)
	assert.Equal(t, order.CreatedAt, receipt.PaidAt)
}
