package interfaces

import (
	"context"
	"time"
)

// CachePort определяет интерфейс для работы с системой кэширования
type CachePort interface {
	// Get получает значение из кэша по ключу
	// Возвращает errors.ErrCacheMiss, если значение не найдено
	Get(ctx context.Context, key string) ([]byte, error)

	// GetWithShop получает значение из кэша с учетом домена магазина
	GetWithShop(ctx context.Context, key string, shopDomain string) ([]byte, error)

	// Set сохраняет значение в кэше с указанным сроком действия
	// Если expiration равно 0, срок действия не устанавливается
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error

	// SetWithShop сохраняет значение в кэше с учетом домена магазина
	SetWithShop(ctx context.Context, key string, value []byte, shopDomain string, expiration time.Duration) error

	// Delete удаляет значение из кэша по ключу
	Delete(ctx context.Context, key string) error

	// DeleteWithShop удаляет значение из кэша с учетом домена магазина
	DeleteWithShop(ctx context.Context, key string, shopDomain string) error

	// DeleteByPattern удаляет все значения, соответствующие шаблону
	// Например, "products:*" удалит все ключи, начинающиеся с "products:"
	DeleteByPattern(ctx context.Context, pattern string) error

	// DeleteByPatternWithShop удаляет значения по шаблону в пространстве магазина
	DeleteByPatternWithShop(ctx context.Context, pattern string, shopDomain string) error

	// Increment увеличивает числовое значение ключа и возвращает новое значение
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	Close() error
}

// LockerPort сериализует изменения одного ресурса
type LockerPort interface {
	// Lock ожидает получения блокировки до истечения контекста.
	// Возвращает функцию освобождения
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
