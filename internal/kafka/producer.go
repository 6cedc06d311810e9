package kafka

import (
	"context"
	"encoding/json" // Для маршалинга данных в JSON
	"errors"        // Для проверки ошибок
	"fmt"
	"time" // Для таймаутов

	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/segmentio/kafka-go" // Библиотека Kafka
)

// Топики событий о правах доступа. Имя топика совпадает с типом события.
const (
	TopicSubscriptionActivated = "subscription_activated"
	TopicSubscriptionRenewed   = "subscription_renewed"
	TopicSubscriptionExpired   = "subscription_expired"
	TopicBotProvisioned        = "bot_provisioned"
)

// EntitlementEvent сообщение для сервисов, которые запускают ботов и шлют письма.
type EntitlementEvent struct {
	Type           string     `json:"type"`
	UserID         string     `json:"user_id"`
	PlanName       string     `json:"plan_name"`
	SubscriptionID string     `json:"subscription_id,omitempty"`
	Status         string     `json:"status,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"` // у bot_provisioned пусто
	IsTrial        bool       `json:"is_trial"`
	BotName        string     `json:"bot_name,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// Producer определяет интерфейс для публикации сообщений в Kafka.
type Producer interface {
	// PublishEntitlementEvent отправляет событие в топик, соответствующий его типу.
	// Ключ сообщения - UserID, чтобы события одного пользователя шли по порядку.
	PublishEntitlementEvent(ctx context.Context, event EntitlementEvent) error
	// Close закрывает соединение продюсера Kafka.
	Close() error
}

// kafkaProducer реализует интерфейс Producer, используя segmentio/kafka-go.
type kafkaProducer struct {
	writer *kafka.Writer
	log    *logger.Logger
}

// NewKafkaProducer создает и настраивает новый продюсер Kafka.
func NewKafkaProducer(brokers []string, log *logger.Logger) (Producer, error) {
	if len(brokers) == 0 {
		log.Errorw("Kafka brokers list is empty in config, cannot create producer")
		return nil, errors.New("kafka brokers are not configured")
	}

	// Топик задается в каждом сообщении, поэтому Writer.Topic пустой
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{}, // один пользователь - одна партиция
		RequiredAcks: kafka.RequireOne,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	log.Infow("Kafka producer initialized", "brokers", brokers)

	return &kafkaProducer{
		writer: writer,
		log:    log,
	}, nil
}

// buildMessage превращает событие в сообщение Kafka.
func buildMessage(event EntitlementEvent) (kafka.Message, error) {
	if event.Type == "" {
		return kafka.Message{}, errors.New("kafka: event type is empty")
	}
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: failed to marshal message data: %w", err)
	}
	return kafka.Message{
		Topic: event.Type,
		Key:   []byte(event.UserID),
		Value: value,
		Time:  event.OccurredAt,
	}, nil
}

// PublishEntitlementEvent преобразует событие в JSON и отправляет в Kafka.
func (k *kafkaProducer) PublishEntitlementEvent(ctx context.Context, event EntitlementEvent) error {
	message, err := buildMessage(event)
	if err != nil {
		k.log.Errorw("Failed to build Kafka message", "error", err, "type", event.Type, "userID", event.UserID)
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := k.writer.WriteMessages(writeCtx, message); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			k.log.Errorw("Kafka write timeout exceeded", "error", err, "topic", message.Topic, "userID", event.UserID)
			return fmt.Errorf("kafka: write timeout: %w", err)
		}
		k.log.Errorw("Failed to write message to Kafka", "error", err, "topic", message.Topic, "userID", event.UserID)
		return fmt.Errorf("kafka: failed to write message: %w", err)
	}

	k.log.Infow("Successfully published message to Kafka", "topic", message.Topic, "userID", event.UserID)
	return nil
}

// Close закрывает соединение Kafka Writer.
func (k *kafkaProducer) Close() error {
	k.log.Infow("Closing Kafka producer writer...")
	if err := k.writer.Close(); err != nil {
		k.log.Errorw("Failed to close Kafka writer", "error", err)
		return fmt.Errorf("kafka: failed to close writer: %w", err)
	}
	k.log.Infow("Kafka producer writer closed successfully")
	return nil
}
