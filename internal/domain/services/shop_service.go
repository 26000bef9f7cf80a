package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/athebyme/minimall/internal/domain/models"
	postgres "github.com/athebyme/minimall/internal/infrastructure/postgres"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

// ShopService управляет подключенными магазинами и их токенами Storefront API
type ShopService struct {
	repository postgres.ShopRepository
	logger     interfaces.LoggerPort
}

func NewShopService(repository postgres.ShopRepository, logger interfaces.LoggerPort) *ShopService {
	return &ShopService{repository: repository, logger: logger}
}

// RegisterShop сохраняет магазин или обновляет его токен
func (s *ShopService) RegisterShop(ctx context.Context, domain, storefrontToken, name, currency string) (*models.Shop, error) {
	shopDomain, err := normalizeShop(domain)
	if err != nil {
		return nil, err
	}

	existing, err := s.repository.GetShop(ctx, shopDomain)
	if err != nil {
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}

	now := time.Now().UTC()
	shop := &models.Shop{
		Domain:          shopDomain,
		StorefrontToken: strings.TrimSpace(storefrontToken),
		Name:            strings.TrimSpace(name),
		Currency:        strings.ToUpper(strings.TrimSpace(currency)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if existing != nil {
		shop.CreatedAt = existing.CreatedAt
	}

	if err := models.ValidateStruct(shop); err != nil {
		return nil, err
	}
	if err := s.repository.SaveShop(ctx, shop); err != nil {
		return nil, fmt.Errorf("failed to save shop: %w", err)
	}

	s.logger.InfoWithContext(ctx, "Магазин зарегистрирован", interfaces.LogField{Key: "shop_domain", Value: shopDomain})
	return shop, nil
}

// GetShop возвращает магазин по домену
func (s *ShopService) GetShop(ctx context.Context, domain string) (*models.Shop, error) {
	shopDomain, err := normalizeShop(domain)
	if err != nil {
		return nil, err
	}

	shop, err := s.repository.GetShop(ctx, shopDomain)
	if err != nil {
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}
	if shop == nil {
		return nil, fmt.Errorf("shop %s: %w", shopDomain, apperrors.ErrNotFound)
	}
	return shop, nil
}

// GetStorefrontToken возвращает публичный токен Storefront API магазина
func (s *ShopService) GetStorefrontToken(ctx context.Context, domain string) (string, error) {
	shop, err := s.GetShop(ctx, domain)
	if err != nil {
		return "", err
	}
	return shop.StorefrontToken, nil
}

func (s *ShopService) DeleteShop(ctx context.Context, domain string) error {
	shopDomain, err := normalizeShop(domain)
	if err != nil {
		return err
	}
	if err := s.repository.DeleteShop(ctx, shopDomain); err != nil {
		return fmt.Errorf("failed to delete shop: %w", err)
	}
	s.logger.InfoWithContext(ctx, "Магазин удален", interfaces.LogField{Key: "shop_domain", Value: shopDomain})
	return nil
}
