package kafka

import (
	"github.com/IBM/sarama"
)

// ProducerConfig настройки синхронного продюсера квитанций
type ProducerConfig struct {
	MaxMessageBytes  int
	Compression      sarama.CompressionCodec
	RequiredAcks     sarama.RequiredAcks
	FlushMaxMessages int
	MaxRetries       int
}

// DefaultProducerConfig квитанции об оплате не должны теряться, поэтому ждем все реплики
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		MaxMessageBytes:  1000000,
		Compression:      sarama.CompressionSnappy,
		RequiredAcks:     sarama.WaitForAll,
		FlushMaxMessages: 100,
		MaxRetries:       5,
	}
}

// NewSaramaConfig создает конфигурацию Sarama для SyncProducer
func NewSaramaConfig(cfg ProducerConfig) *sarama.Config {
	saramaConfig := sarama.NewConfig()

	saramaConfig.Version = sarama.V3_3_0_0
	saramaConfig.ClientID = "dca-billing-service"

	saramaConfig.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	saramaConfig.Producer.Compression = cfg.Compression
	saramaConfig.Producer.RequiredAcks = cfg.RequiredAcks
	saramaConfig.Producer.Flush.MaxMessages = cfg.FlushMaxMessages
	saramaConfig.Producer.Retry.Max = cfg.MaxRetries
	saramaConfig.Producer.Idempotent = cfg.RequiredAcks == sarama.WaitForAll
	if saramaConfig.Producer.Idempotent {
		// идемпотентный продюсер требует одно сообщение в полете
		saramaConfig.Net.MaxOpenRequests = 1
	}
	// SyncProducer требует оба флага
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	return saramaConfig
}
