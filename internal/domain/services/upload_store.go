package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

// UploadSessionStore хранилище сессий chunked-загрузки.
// Get возвращает ErrUploadNotFound, если сессии нет или она истекла
type UploadSessionStore interface {
	Save(ctx context.Context, session *models.UploadSession) error
	Get(ctx context.Context, id string) (*models.UploadSession, error)
	Delete(ctx context.Context, id string) error
}

func cloneSession(s *models.UploadSession) *models.UploadSession {
	out := *s
	out.Parts = make(map[int]string, len(s.Parts))
	for k, v := range s.Parts {
		out.Parts[k] = v
	}
	return &out
}

// MemorySessionStore хранит сессии в памяти процесса (go-cache).
// Для истекших сессий вызывается onExpire
type MemorySessionStore struct {
	items *gocache.Cache
}

// NewMemorySessionStore создает хранилище. cleanupInterval <= 0 отключает фоновую очистку,
// тогда истекшие сессии удаляются вызовом Sweep
func NewMemorySessionStore(cleanupInterval time.Duration, onExpire func(*models.UploadSession)) *MemorySessionStore {
	items := gocache.New(gocache.NoExpiration, cleanupInterval)
	if onExpire != nil {
		items.OnEvicted(func(_ string, v interface{}) {
			session, ok := v.(*models.UploadSession)
			// OnEvicted срабатывает и на явное удаление, такие сессии пропускаем
			if !ok || time.Now().Before(session.ExpiresAt) {
				return
			}
			onExpire(session)
		})
	}
	return &MemorySessionStore{items: items}
}

func (m *MemorySessionStore) Save(_ context.Context, session *models.UploadSession) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: session %s already expired", apperrors.ErrUploadNotFound, session.ID)
	}
	m.items.Set(session.ID, cloneSession(session), ttl)
	return nil
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (*models.UploadSession, error) {
	v, ok := m.items.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUploadNotFound, id)
	}
	return cloneSession(v.(*models.UploadSession)), nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.items.Delete(id)
	return nil
}

// Sweep удаляет истекшие сессии
func (m *MemorySessionStore) Sweep() {
	m.items.DeleteExpired()
}

// Len количество сессий в памяти, включая истекшие, но еще не удаленные
func (m *MemorySessionStore) Len() int {
	return m.items.ItemCount()
}

// RedisSessionStore хранит сессии в Redis, чтобы чанки могли приходить на разные экземпляры API
type RedisSessionStore struct {
	cache interfaces.CachePort
}

func NewRedisSessionStore(cache interfaces.CachePort) *RedisSessionStore {
	return &RedisSessionStore{cache: cache}
}

func sessionKey(id string) string { return "upload:" + id }

func (r *RedisSessionStore) Save(ctx context.Context, session *models.UploadSession) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("%w: session %s already expired", apperrors.ErrUploadNotFound, session.ID)
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode upload session: %w", err)
	}
	return r.cache.Set(ctx, sessionKey(session.ID), data, ttl)
}

func (r *RedisSessionStore) Get(ctx context.Context, id string) (*models.UploadSession, error) {
	data, err := r.cache.Get(ctx, sessionKey(id))
	if err != nil {
		if apperrors.Is(err, apperrors.ErrCacheMiss) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrUploadNotFound, id)
		}
		return nil, fmt.Errorf("failed to load upload session: %w", err)
	}
	var session models.UploadSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode upload session: %w", err)
	}
	if session.Parts == nil {
		session.Parts = map[int]string{}
	}
	return &session, nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return r.cache.Delete(ctx, sessionKey(id))
}
