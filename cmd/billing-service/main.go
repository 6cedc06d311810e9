package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/app"
	"github.com/Dhoini/dca-billing-service/internal/config"
	"github.com/Dhoini/dca-billing-service/internal/db"
	"github.com/Dhoini/dca-billing-service/internal/http/routes"
	"github.com/Dhoini/dca-billing-service/internal/kafka"
	"github.com/Dhoini/dca-billing-service/internal/kafka/producer"
	"github.com/Dhoini/dca-billing-service/internal/lock"
	"github.com/Dhoini/dca-billing-service/internal/metrics"
	"github.com/Dhoini/dca-billing-service/internal/repository"
	"github.com/Dhoini/dca-billing-service/internal/repository/postgres"
	"github.com/Dhoini/dca-billing-service/internal/services"
	"github.com/Dhoini/dca-billing-service/internal/stripe"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/gin-gonic/gin"
)

const planCacheTTL = 15 * time.Minute

func main() {
	// Контекст старта: миграции, подключения
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.New(logger.INFO).Fatalw("Failed to load configuration", "error", err)
	}

	log := logger.New(logger.ParseLevel(cfg.App.LogLevel))
	defer func() { _ = log.Sync() }()
	log.Infow("DCA billing service starting up...", "env", cfg.App.Env, "storage", cfg.Database.Driver)

	if cfg.Stripe.APIKey == "" {
		log.Warnw("Stripe API key is not set, checkout and renewals will fail")
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	billingMetrics := metrics.NewBillingMetrics(registry, log)

	// Хранилище
	var (
		repos  repository.Repositories
		locker lock.Locker = lock.NewLocalLocker()
	)
	switch cfg.Database.Driver {
	case config.StorageDriverPostgres:
		pool, err := postgres.NewConnection(ctx, cfg.Database.DSN, postgres.PoolOptions{
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		}, log)
		if err != nil {
			log.Fatalw("Failed to connect to database", "error", err)
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, pool, log); err != nil {
			log.Fatalw("Failed to apply database schema", "error", err)
		}

		dbClient := db.NewDBClient(pool, log)
		defer func() {
			if err := dbClient.Close(); err != nil {
				log.Errorw("Error closing read database connection", "error", err)
			}
		}()

		// Блокировки держат соединение все время записи, поэтому у них свой пул:
		// иначе maxConns одновременных событий заняли бы все соединения репозиториев
		lockPool, err := postgres.NewConnection(ctx, cfg.Database.DSN, postgres.PoolOptions{
			MaxConns: cfg.Database.LockConns,
			MinConns: 1,
		}, log.Named("locks"))
		if err != nil {
			log.Fatalw("Failed to connect lock pool", "error", err)
		}
		defer lockPool.Close()

		repos = postgres.NewRepositories(pool, dbClient.DB(), log)
		locker = postgres.NewAdvisoryLocker(lockPool, cfg.Billing.LockWait, log)
		log.Infow("Using PostgreSQL storage")
	default:
		repos = repository.NewInMemoryStore(log).Repositories()
		log.Warnw("Using in-memory storage, state is lost on restart")
	}

	// Кеш тарифов: Redis, если включен, иначе в памяти процесса
	var planCache repository.PlanCache = repository.NewLocalPlanCache(planCacheTTL)
	if cfg.Redis.Enabled {
		redisCache, err := repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			log.Warnw("Failed to initialize Redis, continuing with local plan cache", "error", err)
		} else {
			defer func() {
				if err := redisCache.Close(); err != nil {
					log.Errorw("Error closing Redis connection", "error", err)
				}
			}()
			planCache = redisCache
			// Redis общий для всех реплик, поэтому блокировки тоже в нем
			locker = lock.NewRedisLocker(redisCache.Client(), cfg.Billing.LockTTL, cfg.Billing.LockWait, log)
			log.Infow("Using Redis plan cache and entitlement locks")
		}
	}
	repos.Plans = repository.NewCachedPlanRepository(repos.Plans, planCache, log)

	stripeClient := stripe.NewStripeClient(cfg.Stripe.APIKey, cfg.Billing.MetadataRetryMaxElapsed, log.Named("stripe"))

	opts := []services.Option{}
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureKafkaTopics(cfg.Kafka.Brokers, cfg.Kafka.ReceiptTopic, log); err != nil {
			log.Errorw("Failed to ensure Kafka topics", "error", err)
		}

		kafkaProducer, err := kafka.NewKafkaProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		} else {
			defer func() {
				if err := kafkaProducer.Close(); err != nil {
					log.Errorw("Error closing Kafka producer", "error", err)
				}
			}()
			opts = append(opts, services.WithEventProducer(kafkaProducer))
		}

		orderProducer, err := producer.NewSyncOrderProducer(cfg.Kafka.Brokers, cfg.Kafka.ReceiptTopic, log)
		if err != nil {
			log.Errorw("Failed to initialize order receipt producer", "error", err)
		} else {
			defer func() {
				if err := orderProducer.Close(); err != nil {
					log.Errorw("Error closing order receipt producer", "error", err)
				}
			}()
			opts = append(opts, services.WithOrderProducer(orderProducer))
		}
	}

	reconciliation := services.NewReconciliationService(cfg, repos, stripeClient, locker, billingMetrics, log.Named("reconciliation"), opts...)
	checkout := services.NewCheckoutSessionService(cfg, reconciliation.Plans(), stripeClient, log.Named("checkout"))
	entitlements := services.NewEntitlementService(repos.Entitlements)

	application, err := app.NewApp(cfg, reconciliation, checkout, entitlements, registry, log)
	if err != nil {
		log.Fatalw("Failed to initialize application", "error", err)
	}

	router := gin.New()
	routes.SetupRoutes(router, application, log)

	httpServer := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Infow("Starting HTTP server", "port", cfg.App.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	// Дожидаемся фоновых публикаций до закрытия продюсеров
	reconciliation.Wait()
	log.Infow("Cleanup finished. Goodbye!")
}
