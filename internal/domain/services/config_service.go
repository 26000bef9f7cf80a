package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/athebyme/minimall/internal/adapters/messaging"
	"github.com/athebyme/minimall/internal/domain/models"
	postgres "github.com/athebyme/minimall/internal/infrastructure/postgres"
	"github.com/athebyme/minimall/internal/utils"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

const siteCacheKey = "site"

// PublishedMirror резервная копия опубликованных конфигураций (R2)
type PublishedMirror interface {
	LoadPublished(ctx context.Context, shopDomain string) (*models.SiteConfig, error)
}

// ConfigRepository хранилище, нужное сервису конфигураций
type ConfigRepository interface {
	postgres.ConfigRepository
	postgres.VersionRepository
}

// ConfigService предоставляет бизнес-логику для работы с конфигурациями сайтов
type ConfigService struct {
	repository ConfigRepository
	tx         interfaces.TxRunner
	cache      interfaces.CachePort
	mirror     PublishedMirror
	events     *EventPublisher
	logger     interfaces.LoggerPort
	siteTTL    time.Duration
	now        func() time.Time
}

// ConfigServiceOption настраивает ConfigService
type ConfigServiceOption func(*ConfigService)

// WithSiteCache включает кэш опубликованных сайтов в Redis
func WithSiteCache(cache interfaces.CachePort, ttl time.Duration) ConfigServiceOption {
	return func(s *ConfigService) {
		s.cache = cache
		s.siteTTL = ttl
	}
}

// WithPublishedMirror подключает резервную копию опубликованных конфигураций
func WithPublishedMirror(mirror PublishedMirror) ConfigServiceOption {
	return func(s *ConfigService) { s.mirror = mirror }
}

// WithEvents подключает публикацию событий
func WithEvents(events *EventPublisher) ConfigServiceOption {
	return func(s *ConfigService) { s.events = events }
}

// NewConfigService создает новый экземпляр ConfigService
func NewConfigService(repository ConfigRepository, tx interfaces.TxRunner, logger interfaces.LoggerPort, opts ...ConfigServiceOption) *ConfigService {
	s := &ConfigService{
		repository: repository,
		tx:         tx,
		logger:     logger,
		siteTTL:    10 * time.Minute,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// normalizeShop приводит домен к каноническому виду
func normalizeShop(shopDomain string) (string, error) {
	shop, err := utils.NormalizeShopDomain(shopDomain)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	return shop, nil
}

// prepare копирует входной документ, нормализует и проверяет его
func prepare(input *models.SiteConfig, id, shop string) (*models.SiteConfig, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: config body is empty", apperrors.ErrValidation)
	}
	cfg := input.Clone()
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is not serializable", apperrors.ErrValidation)
	}
	cfg.ID = id
	cfg.ShopDomain = shop
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s *ConfigService) newVersion(cfg *models.SiteConfig, userID, note string) *models.ConfigVersion {
	return &models.ConfigVersion{
		ID:         uuid.NewString(),
		ConfigID:   cfg.ID,
		Version:    cfg.Version,
		Data:       cfg.Clone(),
		ChangeNote: note,
		CreatedBy:  userID,
		CreatedAt:  cfg.UpdatedAt,
	}
}

// CreateConfig создает черновик конфигурации версии 1
func (s *ConfigService) CreateConfig(ctx context.Context, shopDomain string, input *models.SiteConfig, userID string) (*models.SiteConfig, error) {
	shop, err := normalizeShop(shopDomain)
	if err != nil {
		return nil, err
	}

	cfg, err := prepare(input, uuid.NewString(), shop)
	if err != nil {
		return nil, err
	}

	now := s.now()
	cfg.Version = 1
	cfg.Status = models.StatusDraft
	cfg.CreatedAt = now
	cfg.UpdatedAt = now
	cfg.PublishedAt = nil

	err = s.tx.Do(ctx, func(txCtx context.Context) error {
		if err := s.repository.SaveConfig(txCtx, cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		if err := s.repository.SaveVersion(txCtx, s.newVersion(cfg, userID, "created")); err != nil {
			return fmt.Errorf("failed to save version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoWithContext(ctx, "Конфигурация создана",
		interfaces.LogField{Key: "config_id", Value: cfg.ID},
		interfaces.LogField{Key: "shop_domain", Value: shop})
	s.events.ConfigChanged(ctx, messaging.ConfigCreatedEvent, cfg)

	return cfg, nil
}

// GetConfig возвращает конфигурацию магазина по ID
func (s *ConfigService) GetConfig(ctx context.Context, shopDomain, id string) (*models.SiteConfig, error) {
	shop, err := normalizeShop(shopDomain)
	if err != nil {
		return nil, err
	}

	cfg, err := s.repository.GetConfig(ctx, id, shop)
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("config %s: %w", id, apperrors.ErrNotFound)
	}
	return cfg, nil
}

// ListConfigs возвращает страницу конфигураций магазина и общее количество
func (s *ConfigService) ListConfigs(ctx context.Context, shopDomain string, page, pageSize int) ([]*models.SiteConfig, int, error) {
	shop, err := normalizeShop(shopDomain)
	if err != nil {
		return nil, 0, err
	}

	configs, total, err := s.repository.ListConfigs(ctx, shop, page, pageSize)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list configs: %w", err)
	}
	return configs, total, nil
}

// UpdateConfig заменяет содержимое конфигурации и увеличивает версию.
// expectedVersion <= 0 отключает проверку версии клиента
func (s *ConfigService) UpdateConfig(ctx context.Context, shopDomain, id string, input *models.SiteConfig, expectedVersion int, userID, note string) (*models.SiteConfig, error) {
	existing, err := s.GetConfig(ctx, shopDomain, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion <= 0 {
		expectedVersion = existing.Version
	}
	if existing.Version != expectedVersion {
		return nil, fmt.Errorf("config %s is at version %d, expected %d: %w", id, existing.Version, expectedVersion, apperrors.ErrConflict)
	}

	cfg, err := prepare(input, existing.ID, existing.ShopDomain)
	if err != nil {
		return nil, err
	}
	// статус меняется только публикацией
	cfg.Status = ""
	cfg.PublishedAt = nil
	if note == "" {
		note = "updated"
	}

	return s.commitRevision(ctx, existing, cfg, userID, note, messaging.ConfigUpdatedEvent)
}

// commitRevision сохраняет новую ревизию поверх existing с проверкой версии
func (s *ConfigService) commitRevision(ctx context.Context, existing, cfg *models.SiteConfig, userID, note string, event messaging.EventType) (*models.SiteConfig, error) {
	cfg.Version = existing.Version + 1
	cfg.CreatedAt = existing.CreatedAt
	cfg.UpdatedAt = s.now()
	if cfg.Status == "" {
		cfg.Status = existing.Status
		cfg.PublishedAt = existing.PublishedAt
	}

	err := s.tx.Do(ctx, func(txCtx context.Context) error {
		if err := s.repository.UpdateConfigIfVersion(txCtx, cfg, existing.Version); err != nil {
			return fmt.Errorf("failed to update config: %w", err)
		}
		if err := s.repository.SaveVersion(txCtx, s.newVersion(cfg, userID, note)); err != nil {
			return fmt.Errorf("failed to save version: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cfg.Status == models.StatusPublished {
		s.dropSiteCache(ctx, cfg.ShopDomain)
	}

	s.logger.InfoWithContext(ctx, "Конфигурация изменена",
		interfaces.LogField{Key: "config_id", Value: cfg.ID},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "note", Value: note})
	s.events.ConfigChanged(ctx, event, cfg)

	return cfg, nil
}

// DeleteConfig удаляет конфигурацию вместе с историей версий
func (s *ConfigService) DeleteConfig(ctx context.Context, shopDomain, id string) error {
	existing, err := s.GetConfig(ctx, shopDomain, id)
	if err != nil {
		return err
	}

	if err := s.repository.DeleteConfig(ctx, existing.ID, existing.ShopDomain); err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}

	s.dropSiteCache(ctx, existing.ShopDomain)
	s.logger.InfoWithContext(ctx, "Конфигурация удалена", interfaces.LogField{Key: "config_id", Value: id})
	s.events.ConfigChanged(ctx, messaging.ConfigDeletedEvent, existing)

	return nil
}

// PublishConfig публикует конфигурацию, создавая новую версию
func (s *ConfigService) PublishConfig(ctx context.Context, shopDomain, id, userID string) (*models.SiteConfig, error) {
	existing, err := s.GetConfig(ctx, shopDomain, id)
	if err != nil {
		return nil, err
	}

	cfg := existing.Clone()
	now := s.now()
	cfg.Status = models.StatusPublished
	cfg.PublishedAt = &now

	return s.commitRevision(ctx, existing, cfg, userID, "published", messaging.ConfigPublishedEvent)
}

// GetPublishedSite возвращает опубликованную конфигурацию магазина.
// Порядок поиска: Redis, Postgres, резервная копия в R2
func (s *ConfigService) GetPublishedSite(ctx context.Context, shopDomain string) (*models.SiteConfig, error) {
	shop, err := normalizeShop(shopDomain)
	if err != nil {
		return nil, err
	}

	if cfg := s.cachedSite(ctx, shop); cfg != nil {
		return cfg, nil
	}

	cfg, err := s.repository.GetPublishedConfig(ctx, shop)
	if err != nil {
		// база недоступна: пробуем резервную копию
		s.logger.WarnWithContext(ctx, "Ошибка чтения опубликованной конфигурации",
			interfaces.LogField{Key: "error", Value: err.Error()})
		cfg = nil
	}

	if cfg == nil && s.mirror != nil {
		mirrored, mirrorErr := s.mirror.LoadPublished(ctx, shop)
		switch {
		case mirrorErr == nil:
			cfg = mirrored
		case !apperrors.Is(mirrorErr, apperrors.ErrNotFound):
			s.logger.WarnWithContext(ctx, "Ошибка чтения резервной копии сайта",
				interfaces.LogField{Key: "error", Value: mirrorErr.Error()})
		}
	}

	if cfg == nil {
		if err != nil {
			return nil, fmt.Errorf("failed to get published config: %w", err)
		}
		return nil, fmt.Errorf("site %s: %w", shop, apperrors.ErrNotFound)
	}

	s.storeSite(ctx, cfg)
	return cfg, nil
}

func (s *ConfigService) cachedSite(ctx context.Context, shop string) *models.SiteConfig {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.GetWithShop(ctx, siteCacheKey, shop)
	if err != nil {
		if !apperrors.Is(err, apperrors.ErrCacheMiss) {
			s.logger.WarnWithContext(ctx, "Ошибка чтения кэша сайта", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		return nil
	}
	var cfg models.SiteConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil
	}
	return &cfg
}

func (s *ConfigService) storeSite(ctx context.Context, cfg *models.SiteConfig) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if err := s.cache.SetWithShop(ctx, siteCacheKey, data, cfg.ShopDomain, s.siteTTL); err != nil {
		s.logger.WarnWithContext(ctx, "Ошибка записи кэша сайта", interfaces.LogField{Key: "error", Value: err.Error()})
	}
}

func (s *ConfigService) dropSiteCache(ctx context.Context, shop string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteWithShop(ctx, siteCacheKey, shop); err != nil {
		s.logger.WarnWithContext(ctx, "Ошибка сброса кэша сайта", interfaces.LogField{Key: "error", Value: err.Error()})
	}
}

// ListVersions возвращает историю версий конфигурации, новые первыми
func (s *ConfigService) ListVersions(ctx context.Context, shopDomain, id string, limit, offset int) ([]*models.ConfigVersion, error) {
	if _, err := s.GetConfig(ctx, shopDomain, id); err != nil {
		return nil, err
	}
	versions, err := s.repository.ListVersions(ctx, id, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return versions, nil
}

// RestoreVersion копирует содержимое старой версии в новую
func (s *ConfigService) RestoreVersion(ctx context.Context, shopDomain, id string, version int, userID string) (*models.SiteConfig, error) {
	existing, err := s.GetConfig(ctx, shopDomain, id)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.repository.GetVersion(ctx, id, version)
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	if snapshot == nil || snapshot.Data == nil {
		return nil, fmt.Errorf("config %s version %d: %w", id, version, apperrors.ErrNotFound)
	}

	cfg, err := prepare(snapshot.Data, existing.ID, existing.ShopDomain)
	if err != nil {
		return nil, err
	}
	// статус публикации не откатывается вместе с содержимым
	cfg.Status = ""
	cfg.PublishedAt = nil

	return s.commitRevision(ctx, existing, cfg, userID, fmt.Sprintf("restored from version %d", version), messaging.ConfigUpdatedEvent)
}

// LatestPublished возвращает действующую опубликованную конфигурацию из базы,
// без Redis и резервной копии. ErrNotFound, если опубликованных нет
func (s *ConfigService) LatestPublished(ctx context.Context, shopDomain string) (*models.SiteConfig, error) {
	shop, err := normalizeShop(shopDomain)
	if err != nil {
		return nil, err
	}
	cfg, err := s.repository.GetPublishedConfig(ctx, shop)
	if err != nil {
		return nil, fmt.Errorf("failed to get published config: %w", err)
	}
	if cfg == nil {
		return nil, fmt.Errorf("site %s: %w", shop, apperrors.ErrNotFound)
	}
	return cfg, nil
}

// InvalidateCache сбрасывает все закэшированные данные магазина
func (s *ConfigService) InvalidateCache(ctx context.Context, shopDomain string) error {
	shop, err := normalizeShop(shopDomain)
	if err != nil {
		return err
	}
	if s.cache == nil {
		return nil
	}
	if err := s.cache.DeleteByPatternWithShop(ctx, "*", shop); err != nil {
		return fmt.Errorf("failed to invalidate cache: %w", err)
	}
	return nil
}
