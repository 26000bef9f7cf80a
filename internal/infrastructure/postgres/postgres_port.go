package postgres

import (
	"context"

	"github.com/athebyme/minimall/internal/domain/models"
)

// ConfigRepository хранилище конфигураций сайтов
type ConfigRepository interface {
	// SaveConfig сохраняет конфигурацию
	// Если конфигурация с таким ID уже существует, она будет заменена
	SaveConfig(ctx context.Context, cfg *models.SiteConfig) error

	// GetConfig получает конфигурацию по ID
	// Возвращает nil, nil если конфигурация не найдена
	GetConfig(ctx context.Context, id, shopDomain string) (*models.SiteConfig, error)

	GetConfigByShop(ctx context.Context, shopDomain string) (*models.SiteConfig, error)
	GetPublishedConfig(ctx context.Context, shopDomain string) (*models.SiteConfig, error)

	// ListConfigs возвращает страницу конфигураций и общее количество
	ListConfigs(ctx context.Context, shopDomain string, page, pageSize int) ([]*models.SiteConfig, int, error)

	DeleteConfig(ctx context.Context, id, shopDomain string) error

	// UpdateConfigIfVersion реализует оптимистичную блокировку.
	// Возвращает errors.ErrConflict, если версия в хранилище отличается от expectedVersion
	UpdateConfigIfVersion(ctx context.Context, cfg *models.SiteConfig, expectedVersion int) error
}

// VersionRepository история изменений конфигураций
type VersionRepository interface {
	SaveVersion(ctx context.Context, v *models.ConfigVersion) error
	ListVersions(ctx context.Context, configID string, limit, offset int) ([]*models.ConfigVersion, error)

	// GetVersion возвращает nil, nil если версии нет
	GetVersion(ctx context.Context, configID string, version int) (*models.ConfigVersion, error)
}

// ShopRepository подключенные магазины
type ShopRepository interface {
	SaveShop(ctx context.Context, shop *models.Shop) error

	// GetShop возвращает nil, nil если магазин не найден
	GetShop(ctx context.Context, domain string) (*models.Shop, error)

	DeleteShop(ctx context.Context, domain string) error
}

// Port полный набор операций хранилища
type Port interface {
	ConfigRepository
	VersionRepository
	ShopRepository

	Close() error
}
