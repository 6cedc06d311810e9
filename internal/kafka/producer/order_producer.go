package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/kafka"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/IBM/sarama"
)

const (
	DefaultReceiptTopic = "billing.order.paid"
	EventTypeOrderPaid  = "order.paid"
)

// OrderReceipt квитанция об оплаченном заказе для бухгалтерии
type OrderReceipt struct {
	OrderID         string    `json:"order_id"`
	UserID          string    `json:"user_id"`
	PlanName        string    `json:"plan_name"`
	Amount          string    `json:"amount"`
	Currency        string    `json:"currency"`
	PaymentMethod   string    `json:"payment_method"`
	StripeSessionID string    `json:"stripe_session_id"`
	AutoRenewal     bool      `json:"auto_renewal"`
	PaidAt          time.Time `json:"paid_at"`
}

// OrderProducer интерфейс для отправки квитанций
type OrderProducer interface {
	PublishOrderPaid(ctx context.Context, order domain.Order) error
	Close() error
}

type kafkaOrderProducer struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

// NewKafkaOrderProducer оборачивает готовый SyncProducer
func NewKafkaOrderProducer(producer sarama.SyncProducer, topic string, log *logger.Logger) OrderProducer {
	if topic == "" {
		topic = DefaultReceiptTopic
	}
	return &kafkaOrderProducer{
		producer: producer,
		topic:    topic,
		log:      log,
	}
}

// NewSyncOrderProducer подключается к брокерам через sarama
func NewSyncOrderProducer(brokers []string, topic string, log *logger.Logger) (OrderProducer, error) {
	syncProducer, err := sarama.NewSyncProducer(brokers, kafka.NewSaramaConfig(kafka.DefaultProducerConfig()))
	if err != nil {
		return nil, fmt.Errorf("failed to create sarama producer: %w", err)
	}
	log.Infow("Order receipt producer initialized", "brokers", brokers, "topic", topic)
	return NewKafkaOrderProducer(syncProducer, topic, log), nil
}

func newReceipt(order domain.Order) OrderReceipt {
	return OrderReceipt{
		OrderID:         order.ID.String(),
		UserID:          order.UserID,
		PlanName:        order.PlanName,
		Amount:          order.Amount.StringFixed(2),
		Currency:        order.Currency,
		PaymentMethod:   order.PaymentMethod,
		StripeSessionID: order.StripeSessionID,
		AutoRenewal:     order.IsAutoRenewal(),
		PaidAt:          order.CreatedAt,
	}
}

// PublishOrderPaid публикует квитанцию. Ключ - сессия Stripe, по ней потребитель отсекает дубли.
func (p *kafkaOrderProducer) PublishOrderPaid(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	messageValue, err := json.Marshal(newReceipt(order))
	if err != nil {
		return fmt.Errorf("failed to marshal order receipt: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(order.StripeSessionID),
		Value: sarama.ByteEncoder(messageValue),
		Headers: []sarama.RecordHeader{
			{
				Key:   []byte("event_type"),
				Value: []byte(EventTypeOrderPaid),
			},
		},
		Timestamp: order.CreatedAt,
	}

	partition, offset, err := p.producer.SendMessage(message)
	if err != nil {
		return fmt.Errorf("failed to publish order receipt: %w", err)
	}

	p.log.Infow("Published order receipt", "topic", p.topic, "partition", partition, "offset", offset, "orderID", order.ID)
	return nil
}

// Close закрывает продюсер
func (p *kafkaOrderProducer) Close() error {
	return p.producer.Close()
}
