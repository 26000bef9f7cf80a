package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

var errLockBusy = errors.New("lock is busy")

// releaseScript удаляет ключ, только если он все еще принадлежит владельцу
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisLocker блокировка на SET NX PX, общая для всех экземпляров API
type RedisLocker struct {
	client        *redis.Client
	retryInterval time.Duration
}

func (l *RedisLocker) Lock(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	lockKey := "lock:" + key
	token := uuid.NewString()

	_, err := backoff.Retry(ctx, func() (bool, error) {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			return false, backoff.Permanent(err)
		}
		if !ok {
			return false, errLockBusy
		}
		return true, nil
	}, backoff.WithBackOff(backoff.NewConstantBackOff(l.retryInterval)))
	if err != nil {
		if errors.Is(err, errLockBusy) || ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrLockTimeout, key)
		}
		return nil, fmt.Errorf("ошибка получения блокировки: %w", err)
	}

	return func() {
		// Освобождаем даже при отмененном контексте запроса
		_ = releaseScript.Run(context.Background(), l.client, []string{lockKey}, token).Err()
	}, nil
}

// KeyedMutex блокировка в памяти процесса для режима с одним экземпляром
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	ch   chan struct{}
	refs int
}

// NewKeyedMutex создает блокировку по ключу
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock ttl игнорируется: блокировка живет до вызова функции освобождения
func (m *KeyedMutex) Lock(ctx context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &keyedEntry{ch: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		m.unref(key, e)
		return nil, fmt.Errorf("%w: %s", apperrors.ErrLockTimeout, key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			m.unref(key, e)
		})
	}, nil
}

func (m *KeyedMutex) unref(key string, e *keyedEntry) {
	m.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(m.locks, key)
	}
	m.mu.Unlock()
}

var (
	_ interfaces.LockerPort = (*RedisLocker)(nil)
	_ interfaces.LockerPort = (*KeyedMutex)(nil)
)
