package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/samber/lo"
	kafkaGo "github.com/segmentio/kafka-go" // Kafka клиент
)

// EnsureKafkaTopics проверяет и создает необходимые топики Kafka.
func EnsureKafkaTopics(brokers []string, receiptTopic string, log *logger.Logger) error {
	// Определяем необходимые топики и их конфигурацию
	requiredTopics := map[string]kafkaGo.TopicConfig{
		TopicSubscriptionActivated: {Topic: TopicSubscriptionActivated, NumPartitions: 3, ReplicationFactor: 1},
		TopicSubscriptionRenewed:   {Topic: TopicSubscriptionRenewed, NumPartitions: 3, ReplicationFactor: 1},
		TopicSubscriptionExpired:   {Topic: TopicSubscriptionExpired, NumPartitions: 3, ReplicationFactor: 1},
		TopicBotProvisioned:        {Topic: TopicBotProvisioned, NumPartitions: 3, ReplicationFactor: 1},
	}
	if receiptTopic != "" {
		requiredTopics[receiptTopic] = kafkaGo.TopicConfig{Topic: receiptTopic, NumPartitions: 1, ReplicationFactor: 1}
	}

	log.Infow("Ensuring Kafka topics exist...", "topics", lo.Keys(requiredTopics))

	// Проверка адреса брокера
	if len(brokers) == 0 || brokers[0] == "" {
		log.Errorw("Kafka broker address is empty")
		return errors.New("kafka broker address is empty")
	}
	_, portStr, err := net.SplitHostPort(strings.TrimSpace(brokers[0]))
	if err != nil {
		log.Errorw("Invalid Kafka broker address format", "broker", brokers[0], "error", err)
		return fmt.Errorf("invalid broker address %s: %w", brokers[0], err)
	}
	_, err = strconv.Atoi(portStr)
	if err != nil {
		log.Errorw("Invalid Kafka broker port", "broker", brokers[0], "error", err)
		return fmt.Errorf("invalid broker port %s: %w", brokers[0], err)
	}

	// Подключаемся к первому брокеру для админских операций
	connCtx, cancelConn := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancelConn()

	conn, err := kafkaGo.DialLeader(connCtx, "tcp", brokers[0], "", 0) // Используем DialLeader для поиска контроллера
	if err != nil {
		log.Errorw("Failed to connect to Kafka broker for topic creation", "broker", brokers[0], "error", err)
		return fmt.Errorf("kafka connection failed: %w", err)
	}
	defer conn.Close()

	log.Debugw("Connected to Kafka controller", "address", conn.RemoteAddr().String())

	partitions, err := conn.ReadPartitions()
	if err != nil {
		log.Errorw("Failed to read partitions from Kafka", "error", err)
		return fmt.Errorf("kafka read partitions failed: %w", err)
	}

	existingTopics := make(map[string]bool)
	for _, p := range partitions {
		existingTopics[p.Topic] = true
	}
	log.Debugw("Found existing topics", "count", len(existingTopics))

	var topicsToCreate []kafkaGo.TopicConfig
	for topicName, config := range requiredTopics {
		if !existingTopics[topicName] {
			log.Infow("Topic needs to be created", "topic", topicName)
			topicsToCreate = append(topicsToCreate, config)
		} else {
			log.Debugw("Topic already exists", "topic", topicName)
		}
	}

	if len(topicsToCreate) == 0 {
		log.Infow("All required topics already exist")
		return nil
	}

	log.Infow("Attempting to create topics...", "count", len(topicsToCreate))
	if err := conn.CreateTopics(topicsToCreate...); err != nil {
		// Топик мог создать соседний инстанс между проверкой и созданием
		if errors.Is(err, kafkaGo.TopicAlreadyExists) {
			log.Warnw("One or more topics already existed during creation attempt", "topics", topicNames(topicsToCreate))
			return nil
		}
		log.Errorw("Failed to create topics", "error", err, "topics", topicNames(topicsToCreate))
		return fmt.Errorf("kafka create topics failed: %w", err)
	}

	log.Infow("Successfully created topics", "topics", topicNames(topicsToCreate))
	return nil
}

func topicNames(topicConfigs []kafkaGo.TopicConfig) []string {
	return lo.Map(topicConfigs, func(tc kafkaGo.TopicConfig, _ int) string { return tc.Topic })
}
