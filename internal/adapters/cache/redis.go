package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
	"github.com/go-redis/redis/v8"
)

// Options параметры подключения к Redis
type Options struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisCache реализует CachePort поверх go-redis
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache подключается к Redis и проверяет соединение
func NewRedisCache(ctx context.Context, opts Options) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		MaxRetries:   opts.MaxRetries,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{client: client}, nil
}

// buildKey добавляет пространство магазина к ключу
func (r *RedisCache) buildKey(key, shopDomain string) string {
	if shopDomain != "" {
		return fmt.Sprintf("shop:%s:%s", shopDomain, key)
	}
	return key
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperrors.ErrCacheMiss
		}
		return nil, err
	}
	return val, nil
}

func (r *RedisCache) GetWithShop(ctx context.Context, key string, shopDomain string) ([]byte, error) {
	return r.Get(ctx, r.buildKey(key, shopDomain))
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return r.client.Set(ctx, key, value, expiration).Err()
}

func (r *RedisCache) SetWithShop(ctx context.Context, key string, value []byte, shopDomain string, expiration time.Duration) error {
	return r.Set(ctx, r.buildKey(key, shopDomain), value, expiration)
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisCache) DeleteWithShop(ctx context.Context, key string, shopDomain string) error {
	return r.Delete(ctx, r.buildKey(key, shopDomain))
}

func (r *RedisCache) DeleteByPattern(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 100 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("ошибка при удалении ключей кэша: %w", err)
			}
			keys = keys[:0]
		}
	}

	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("ошибка при удалении оставшихся ключей кэша: %w", err)
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("ошибка при сканировании ключей по шаблону: %w", err)
	}

	return nil
}

func (r *RedisCache) DeleteByPatternWithShop(ctx context.Context, pattern string, shopDomain string) error {
	return r.DeleteByPattern(ctx, r.buildKey(pattern, shopDomain))
}

func (r *RedisCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return r.client.IncrBy(ctx, key, delta).Result()
}

// Locker возвращает распределенную блокировку на том же соединении
func (r *RedisCache) Locker() *RedisLocker {
	return &RedisLocker{client: r.client, retryInterval: 20 * time.Millisecond}
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}

var _ interfaces.CachePort = (*RedisCache)(nil)
