package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Удаляем ключ, только если он все еще принадлежит нам
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var errLockBusy = errors.New("lock is held by another owner")

// RedisLocker распределенная блокировка на SET NX PX для нескольких реплик сервиса.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	log    *logger.Logger
}

// NewRedisLocker создает блокировку. ttl ограничивает время владения,
// wait ограничивает ожидание при захвате.
func NewRedisLocker(client *redis.Client, ttl, wait time.Duration, log *logger.Logger) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, wait: wait, log: log}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 25 * time.Millisecond
	expBackoff.MaxInterval = 250 * time.Millisecond
	expBackoff.MaxElapsedTime = l.wait

	operation := func() error {
		ok, err := l.client.SetNX(waitCtx, key, token, l.ttl).Result()
		if err != nil {
			if waitCtx.Err() != nil {
				return backoff.Permanent(err)
			}
			l.log.Warnw("Redis lock attempt failed, retrying", "key", key, "error", err)
			return err
		}
		if !ok {
			return errLockBusy
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(expBackoff, waitCtx)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrLockNotAcquired, key, err)
	}

	l.log.Debugw("Redis lock acquired", "key", key)
	released := false
	return func() {
		if released {
			return
		}
		released = true

		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			// Ключ все равно истечет по ttl
			l.log.Warnw("Failed to release Redis lock", "key", key, "error", err)
		}
	}, nil
}
