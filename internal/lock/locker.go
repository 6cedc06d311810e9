package lock

import (
	"context"
	"fmt"
	"sync"

	"github.com/Dhoini/dca-billing-service/internal/domain"
)

// Unlock освобождает блокировку. Повторный вызов ничего не делает.
type Unlock func()

// Locker взаимное исключение по ключу на время read -> compute -> write.
type Locker interface {
	// Lock ждет блокировку до отмены ctx. При неудаче ошибка оборачивает domain.ErrLockNotAcquired.
	Lock(ctx context.Context, key string) (Unlock, error)
}

// EntitlementKey ключ блокировки для пары (userId, planId).
func EntitlementKey(userID, planID string) string {
	return fmt.Sprintf("billing:lock:%s:%s", userID, planID)
}

// LocalLocker блокировки внутри одного процесса.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker создает LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*localLock)}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	select {
	case entry.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-entry.ch
				l.release(key, entry)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, entry)
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrLockNotAcquired, key, ctx.Err())
	}
}

func (l *LocalLocker) release(key string, entry *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, key)
	}
}
