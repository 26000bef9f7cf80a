package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

const maxCartLines = 50

// StorefrontClient запросы к Storefront API магазина
type StorefrontClient interface {
	Products(ctx context.Context, shop, token string, q models.ProductQuery) (*models.ProductPage, error)
	ProductByHandle(ctx context.Context, shop, token, handle string) (*models.Product, error)
	Collections(ctx context.Context, shop, token string, first int) ([]models.Collection, error)
	CollectionProducts(ctx context.Context, shop, token, handle string, first int, after string) (*models.Collection, error)
	CreateCart(ctx context.Context, shop, token string, lines []models.CartLine) (*models.Cart, error)
}

// TokenSource выдает токен Storefront API магазина
type TokenSource interface {
	GetStorefrontToken(ctx context.Context, domain string) (string, error)
}

// StorefrontService читает товары витрины через Storefront API и кэширует ответы в Redis
type StorefrontService struct {
	client StorefrontClient
	tokens TokenSource
	cache  interfaces.CachePort
	ttl    time.Duration
	logger interfaces.LoggerPort
}

// NewStorefrontService создает сервис витрины. cache может быть nil
func NewStorefrontService(client StorefrontClient, tokens TokenSource, cache interfaces.CachePort, ttl time.Duration, logger interfaces.LoggerPort) *StorefrontService {
	return &StorefrontService{client: client, tokens: tokens, cache: cache, ttl: ttl, logger: logger}
}

// cached возвращает значение из кэша или вызывает load и кэширует результат
func cached[T any](ctx context.Context, s *StorefrontService, shop, key string, load func(token string) (T, error)) (T, error) {
	var zero T

	if s.cache != nil && s.ttl > 0 {
		if data, err := s.cache.GetWithShop(ctx, key, shop); err == nil {
			var v T
			if err := json.Unmarshal(data, &v); err == nil {
				return v, nil
			}
		} else if !apperrors.Is(err, apperrors.ErrCacheMiss) {
			s.logger.WarnWithContext(ctx, "Ошибка чтения кэша витрины", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}

	token, err := s.tokens.GetStorefrontToken(ctx, shop)
	if err != nil {
		return zero, err
	}
	v, err := load(token)
	if err != nil {
		return zero, err
	}

	if s.cache != nil && s.ttl > 0 {
		if data, err := json.Marshal(v); err == nil {
			if err := s.cache.SetWithShop(ctx, key, data, shop, s.ttl); err != nil {
				s.logger.WarnWithContext(ctx, "Ошибка записи кэша витрины", interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}
	}
	return v, nil
}

// ListProducts возвращает страницу товаров
func (s *StorefrontService) ListProducts(ctx context.Context, shopDomain string, q models.ProductQuery) (*models.ProductPage, error) {
	shop, err := normalizeShop(shopDomain)
	if err != nil {
		return nil, err
	}
	if err := q.Normalize(); err != nil {
		return nil, err
	}

	return cached(ctx, s, shop, q.CacheKey(), func(token string) (*models.ProductPage, error) {
		return s.client.Products(ctx, shop, token, q)
	})
}

// GetProduct возвращает товар по handle
func (s *StorefrontService) GetProduct(ctx context.Context, shopDomain, handle string) (*models.Product, error) {
	shop, err := normalizeShop(shopDomain)
	if err != nil {
		return nil, err
	}
	if handle == "" {
		return nil, fmt.Errorf("%w: product handle is empty", apperrors.ErrValidation)
	}

	return cached(ctx, s, shop, "product:"+handle, func(token string) (*models.Product, error) {
		return s.client.ProductByHandle(ctx, shop, token, handle)
	})
}

// ListCollections возвращает коллекции магазина
func (s *StorefrontService) ListCollections(ctx context.Context, shopDomain string, first int) ([]models.Collection, error) {
	shop, err := normalizeShop(shopDomain)
	if err != nil {
		return nil, err
	}
	if first <= 0 || first > 50 {
		first = 20
	}

	return cached(ctx, s, shop, "collections:"+strconv.Itoa(first), func(token string) ([]models.Collection, error) {
		return s.client.Collections(ctx, shop, token, first)
	})
}

// GetCollection возвращает коллекцию со страницей товаров
func (s *StorefrontService) GetCollection(ctx context.Context, shopDomain, handle string, q models.ProductQuery) (*models.Collection, error) {
	shop, err := normalizeShop(shopDomain)
	if err != nil {
		return nil, err
	}
	if err := q.Normalize(); err != nil {
		return nil, err
	}

	key := "collection:" + handle + ":" + strconv.Itoa(q.First) + ":" + q.After
	return cached(ctx, s, shop, key, func(token string) (*models.Collection, error) {
		return s.client.CollectionProducts(ctx, shop, token, handle, q.First, q.After)
	})
}

// Checkout создает корзину и возвращает ссылку на оформление заказа. Не кэшируется
func (s *StorefrontService) Checkout(ctx context.Context, shopDomain string, lines []models.CartLine) (*models.Cart, error) {
	shop, err := normalizeShop(shopDomain)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 || len(lines) > maxCartLines {
		return nil, fmt.Errorf("%w: cart must have 1..%d lines", apperrors.ErrValidation, maxCartLines)
	}
	for i := range lines {
		if err := models.ValidateStruct(&lines[i]); err != nil {
			return nil, err
		}
	}

	token, err := s.tokens.GetStorefrontToken(ctx, shop)
	if err != nil {
		return nil, err
	}

	cart, err := s.client.CreateCart(ctx, shop, token, lines)
	if err != nil {
		return nil, err
	}
	s.logger.InfoWithContext(ctx, "Корзина создана",
		interfaces.LogField{Key: "cart_id", Value: cart.ID},
		interfaces.LogField{Key: "lines", Value: len(lines)})
	return cart, nil
}
