package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Config представляет структуру конфигурации для приложения.
type Config struct {
	App struct {
		Port     string `mapstructure:"port"`
		Env      string `mapstructure:"env"`
		LogLevel string `mapstructure:"logLevel"`
	} `mapstructure:"app"`
	Database struct {
		Driver    string `mapstructure:"driver"` // postgres | memory
		DSN       string `mapstructure:"dsn"`
		MaxConns  int32  `mapstructure:"maxConns"`
		MinConns  int32  `mapstructure:"minConns"`
		LockConns int32  `mapstructure:"lockConns"` // отдельный пул под advisory locks
	} `mapstructure:"database"`
	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Kafka struct {
		Enabled      bool     `mapstructure:"enabled"`
		Brokers      []string `mapstructure:"brokers"`
		ReceiptTopic string   `mapstructure:"receiptTopic"`
	} `mapstructure:"kafka"`
	Stripe struct {
		APIKey        string `mapstructure:"apiKey"`
		WebhookSecret string `mapstructure:"webhookSecret"`
		SuccessURL    string `mapstructure:"successURL"`
		CancelURL     string `mapstructure:"cancelURL"`
		Currency      string `mapstructure:"currency"`
	} `mapstructure:"stripe"`
	Auth struct {
		JWTSecret string `mapstructure:"jwtSecret"`
	} `mapstructure:"auth"`
	Billing struct {
		DefaultPaymentMethod    string        `mapstructure:"defaultPaymentMethod"`
		LockTTL                 time.Duration `mapstructure:"lockTTL"`
		LockWait                time.Duration `mapstructure:"lockWait"`
		MetadataRetryMaxElapsed time.Duration `mapstructure:"metadataRetryMaxElapsed"`
	} `mapstructure:"billing"`
}

// LoadConfig загружает конфигурацию из config.yml в каталоге dir и переменных окружения.
// Переменные окружения перекрывают файл: APP_PORT, STRIPE_WEBHOOKSECRET и т.д.
func LoadConfig(dir string) (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		// .env необязателен, в контейнерах переменные приходят из окружения
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // Чтение переменных окружения

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет значения, без которых сервис не может стартовать.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case StorageDriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("config: database.dsn is required for postgres driver")
		}
		// каждый держатель блокировки берет не больше одного соединения из пула данных
		if c.Database.LockConns <= 0 || c.Database.LockConns > c.Database.MaxConns {
			return fmt.Errorf("config: database.lockConns must be in 1..%d", c.Database.MaxConns)
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("config: unknown database.driver %q", c.Database.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.logLevel", "info")

	v.SetDefault("database.driver", StorageDriverPostgres)
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 2)
	v.SetDefault("database.lockConns", 4)

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.receiptTopic", "billing.order.paid")

	// Ключи без значения по умолчанию тоже регистрируем, иначе AutomaticEnv их не увидит при Unmarshal
	v.SetDefault("database.dsn", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("stripe.apiKey", "")
	v.SetDefault("stripe.webhookSecret", "")
	v.SetDefault("stripe.successURL", "http://localhost:3000/billing/success")
	v.SetDefault("stripe.cancelURL", "http://localhost:3000/billing/cancel")
	v.SetDefault("stripe.currency", "usd")
	v.SetDefault("auth.jwtSecret", "")

	v.SetDefault("billing.defaultPaymentMethod", "card")
	v.SetDefault("billing.lockTTL", 15*time.Second)
	v.SetDefault("billing.lockWait", 5*time.Second)
	v.SetDefault("billing.metadataRetryMaxElapsed", 20*time.Second)
}
