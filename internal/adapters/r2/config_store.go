package r2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

const (
	draftPrefix     = "configs/"
	publishedPrefix = "published/"
	jsonContentType = "application/json"
)

// ConfigStore хранит конфигурации сайтов JSON-объектами в бакете.
// Черновики лежат в configs/{id}.json, опубликованные версии в published/{shop}.json
type ConfigStore struct {
	store  interfaces.ObjectStorePort
	logger interfaces.LoggerPort
}

// NewConfigStore создает хранилище конфигураций поверх объектного хранилища
func NewConfigStore(store interfaces.ObjectStorePort, logger interfaces.LoggerPort) *ConfigStore {
	return &ConfigStore{store: store, logger: logger}
}

func draftKey(id string) string             { return draftPrefix + id + ".json" }
func publishedKey(shopDomain string) string { return publishedPrefix + shopDomain + ".json" }

// Save сохраняет черновик конфигурации
func (s *ConfigStore) Save(ctx context.Context, cfg *models.SiteConfig) error {
	if cfg.ID == "" {
		return fmt.Errorf("%w: config id is empty", apperrors.ErrValidation)
	}
	return s.put(ctx, draftKey(cfg.ID), cfg)
}

// Load читает черновик. Возвращает ErrNotFound, если объекта нет
func (s *ConfigStore) Load(ctx context.Context, id string) (*models.SiteConfig, error) {
	return s.get(ctx, draftKey(id))
}

func (s *ConfigStore) Delete(ctx context.Context, id string) error {
	return s.store.DeleteObject(ctx, draftKey(id))
}

// SavePublished зеркалирует опубликованную конфигурацию магазина
func (s *ConfigStore) SavePublished(ctx context.Context, cfg *models.SiteConfig) error {
	if cfg.ShopDomain == "" {
		return fmt.Errorf("%w: shop domain is empty", apperrors.ErrValidation)
	}
	return s.put(ctx, publishedKey(cfg.ShopDomain), cfg)
}

func (s *ConfigStore) LoadPublished(ctx context.Context, shopDomain string) (*models.SiteConfig, error) {
	return s.get(ctx, publishedKey(shopDomain))
}

func (s *ConfigStore) DeletePublished(ctx context.Context, shopDomain string) error {
	return s.store.DeleteObject(ctx, publishedKey(shopDomain))
}

// List возвращает ID всех черновиков в бакете
func (s *ConfigStore) List(ctx context.Context) ([]string, error) {
	objects, err := s.store.ListObjects(ctx, draftPrefix)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка конфигураций: %w", err)
	}

	ids := make([]string, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, draftPrefix)
		if !strings.HasSuffix(name, ".json") || strings.Contains(name, "/") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

func (s *ConfigStore) put(ctx context.Context, key string, cfg *models.SiteConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("ошибка сериализации конфигурации: %w", err)
	}
	if _, err := s.store.PutObject(ctx, key, data, jsonContentType); err != nil {
		return fmt.Errorf("ошибка сохранения конфигурации в R2: %w", err)
	}

	s.logger.DebugWithContext(ctx, "Конфигурация сохранена в R2",
		interfaces.LogField{Key: "key", Value: key},
		interfaces.LogField{Key: "bytes", Value: len(data)})
	return nil
}

func (s *ConfigStore) get(ctx context.Context, key string) (*models.SiteConfig, error) {
	body, _, err := s.store.GetObject(ctx, key)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения конфигурации из R2: %w", err)
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации из R2: %w", err)
	}

	var cfg models.SiteConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("поврежденная конфигурация %s: %w", key, err)
	}
	return &cfg, nil
}
