package postgres

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Dhoini/dca-billing-service/internal/domain"
	"github.com/Dhoini/dca-billing-service/internal/lock"
	"github.com/Dhoini/dca-billing-service/pkg/logger"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// lockSession соединение, на котором держится сессионный advisory lock
type lockSession interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Release()
	// Discard закрывает соединение вместо возврата в пул
	Discard(ctx context.Context)
}

type sessionSource interface {
	Acquire(ctx context.Context) (lockSession, error)
}

type poolSessions struct {
	pool *pgxpool.Pool
}

func (p poolSessions) Acquire(ctx context.Context) (lockSession, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return pooledSession{conn: conn}, nil
}

type pooledSession struct {
	conn *pgxpool.Conn
}

func (s pooledSession) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return s.conn.Exec(ctx, sql, args...)
}

func (s pooledSession) Release() { s.conn.Release() }

func (s pooledSession) Discard(ctx context.Context) { _ = s.conn.Conn().Close(ctx) }

// AdvisoryLocker блокировка на pg_advisory_lock. Используется, когда Redis выключен,
// а реплик сервиса несколько. Соединение удерживается до вызова Unlock.
//
// Пул блокировок должен быть отдельным от пула репозиториев: держатель блокировки
// сам ходит в базу, и общий пул при maxConns одновременных ключах исчерпывается целиком.
// Если пул блокировок занят, Lock ждет не дольше wait и возвращает ErrLockNotAcquired.
type AdvisoryLocker struct {
	sessions sessionSource
	wait     time.Duration
	log      *logger.Logger
}

var _ lock.Locker = (*AdvisoryLocker)(nil)

// NewAdvisoryLocker lockPool - выделенный пул, см. database.lockConns
func NewAdvisoryLocker(lockPool *pgxpool.Pool, wait time.Duration, log *logger.Logger) *AdvisoryLocker {
	return newAdvisoryLocker(poolSessions{pool: lockPool}, wait, log)
}

func newAdvisoryLocker(sessions sessionSource, wait time.Duration, log *logger.Logger) *AdvisoryLocker {
	return &AdvisoryLocker{sessions: sessions, wait: wait, log: log}
}

func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (lock.Unlock, error) {
	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	session, err := l.sessions.Acquire(waitCtx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrLockNotAcquired, key, err)
	}

	// Запрос блокируется до получения lock; отмена waitCtx прерывает ожидание
	if _, err := session.Exec(waitCtx, `SELECT pg_advisory_lock(hashtext($1))`, key); err != nil {
		session.Release()
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrLockNotAcquired, key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := session.Exec(unlockCtx, `SELECT pg_advisory_unlock(hashtext($1))`, key); err != nil {
				l.log.Warnw("Failed to release advisory lock", "key", key, "error", err)
				// Сессия с висящей блокировкой не должна вернуться в пул
				session.Discard(unlockCtx)
			}
			session.Release()
		})
	}, nil
}
