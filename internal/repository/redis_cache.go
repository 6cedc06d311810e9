package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	// Префикс ключей тарифов
	planKeyPrefix = "plan:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// PlanCache кэш каталога тарифов. Промах возвращает nil, nil.
type PlanCache interface {
	GetPlan(ctx context.Context, name string) (*domain.Plan, error)
	SetPlan(ctx context.Context, plan *domain.Plan) error
	DeletePlan(ctx context.Context, name string) error
}

// RedisCacheRepository реализует кеширование тарифов с использованием Redis
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return NewRedisCacheRepositoryFromClient(client, log), nil
}

// NewRedisCacheRepositoryFromClient оборачивает уже созданный клиент
func NewRedisCacheRepositoryFromClient(client *redis.Client, log *logger.Logger) *RedisCacheRepository {
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}
}

// Client отдает клиент Redis для других компонентов (распределенная блокировка)
func (r *RedisCacheRepository) Client() *redis.Client {
	return r.client
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// SetPlan кеширует тариф в Redis
func (r *RedisCacheRepository) SetPlan(ctx context.Context, plan *domain.Plan) error {
	key := planKeyPrefix + plan.Name

	data, err := json.Marshal(plan)
	if err != nil {
		r.log.Errorw("Failed to marshal plan for caching", "error", err, "plan", plan.Name)
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache plan in Redis", "error", err, "plan", plan.Name)
		return fmt.Errorf("failed to cache plan: %w", err)
	}

	r.log.Debugw("Plan cached successfully", "plan", plan.Name)
	return nil
}

// GetPlan получает тариф из кеша
func (r *RedisCacheRepository) GetPlan(ctx context.Context, name string) (*domain.Plan, error) {
	data, err := r.client.Get(ctx, planKeyPrefix+name).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Ключ не найден в кеше
			r.log.Debugw("Plan not found in cache", "plan", name)
			return nil, nil
		}
		r.log.Errorw("Error getting plan from Redis", "error", err, "plan", name)
		return nil, fmt.Errorf("failed to get plan from cache: %w", err)
	}

	var plan domain.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		r.log.Errorw("Failed to unmarshal cached plan", "error", err, "plan", name)
		return nil, fmt.Errorf("failed to unmarshal cached plan: %w", err)
	}

	r.log.Debugw("Plan retrieved from cache", "plan", name)
	return &plan, nil
}

// DeletePlan удаляет тариф из кеша
func (r *RedisCacheRepository) DeletePlan(ctx context.Context, name string) error {
	if err := r.client.Del(ctx, planKeyPrefix+name).Err(); err != nil {
		r.log.Errorw("Failed to delete plan from cache", "error", err, "plan", name)
		return fmt.Errorf("failed to delete plan from cache: %w", err)
	}

	r.log.Debugw("Plan deleted from cache", "plan", name)
	return nil
}
