package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/athebyme/minimall/internal/domain/models"
	infra "github.com/athebyme/minimall/internal/infrastructure/postgres"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/tx"
)

type executor interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// dbPool реализуется *pgxpool.Pool и pgxmock.PgxPoolIface
type dbPool interface {
	executor
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// ConfigStorage хранит конфигурации, их версии и магазины в PostgreSQL
type ConfigStorage struct {
	pool    dbPool
	cache   *QueryCache
	monitor *QueryMonitor
}

// NewConfigStorage создает хранилище. cache и monitor могут быть nil
func NewConfigStorage(pool dbPool, cache *QueryCache, monitor *QueryMonitor) *ConfigStorage {
	return &ConfigStorage{pool: pool, cache: cache, monitor: monitor}
}

// Close закрывает соединение с БД
func (r *ConfigStorage) Close() error {
	r.pool.Close()
	return nil
}

// getExecutor возвращает исполнителя запросов (транзакцию или пул)
func (r *ConfigStorage) getExecutor(ctx context.Context) executor {
	if t, ok := tx.GetTxFromContext(ctx); ok {
		return t
	}
	return r.pool
}

// cacheable кэш используется только вне транзакции
func (r *ConfigStorage) cacheable(ctx context.Context) bool {
	_, inTx := tx.GetTxFromContext(ctx)
	return !inTx
}

// document часть конфигурации, хранимая в колонке data
type document struct {
	Categories []models.Category `json:"categories"`
	Settings   models.Settings   `json:"settings"`
}

func encodeDocument(cfg *models.SiteConfig) ([]byte, error) {
	cats := cfg.Categories
	if cats == nil {
		cats = []models.Category{}
	}
	data, err := json.Marshal(document{Categories: cats, Settings: cfg.Settings})
	if err != nil {
		return nil, fmt.Errorf("failed to encode config document: %w", err)
	}
	return data, nil
}

const configColumns = `id, shop_domain, data, version, status, created_at, updated_at, published_at`

func scanConfig(row pgx.Row) (*models.SiteConfig, error) {
	var (
		cfg    models.SiteConfig
		data   []byte
		status string
	)
	if err := row.Scan(&cfg.ID, &cfg.ShopDomain, &data, &cfg.Version, &status,
		&cfg.CreatedAt, &cfg.UpdatedAt, &cfg.PublishedAt); err != nil {
		return nil, err
	}
	cfg.Status = models.ConfigStatus(status)

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode config document %s: %w", cfg.ID, err)
	}
	cfg.Categories = doc.Categories
	cfg.Settings = doc.Settings
	return &cfg, nil
}

func shopPrefix(shopDomain string) string {
	return "shop|" + shopDomain + "|"
}

// cachedConfig читает конфигурацию через кэш запросов
func (r *ConfigStorage) cachedConfig(ctx context.Context, name, shopDomain string, load func() (*models.SiteConfig, error), args ...interface{}) (*models.SiteConfig, error) {
	if !r.cacheable(ctx) {
		return load()
	}

	key := r.cache.Key(shopPrefix(shopDomain)+name, args...)
	if v, ok := r.cache.Get(key); ok {
		cfg, _ := v.(*models.SiteConfig)
		if cfg == nil {
			return nil, nil
		}
		return cfg.Clone(), nil
	}

	cfg, err := load()
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		r.cache.Set(key, cfg.Clone())
	}
	return cfg, nil
}

// invalidateShop сбрасывает кэш чтений магазина. Внутри транзакции сброс
// повторяется после фиксации: параллельное чтение до COMMIT могло закэшировать старую строку
func (r *ConfigStorage) invalidateShop(ctx context.Context, shopDomain string) {
	if r.cache == nil {
		return
	}
	prefix := shopPrefix(shopDomain)
	r.cache.InvalidatePrefix(prefix)
	if !r.cacheable(ctx) {
		tx.AfterCommit(ctx, func() { r.cache.InvalidatePrefix(prefix) })
	}
}

// SaveConfig сохраняет конфигурацию (вставка или замена)
func (r *ConfigStorage) SaveConfig(ctx context.Context, cfg *models.SiteConfig) error {
	data, err := encodeDocument(cfg)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	query := `
		INSERT INTO configs (` + configColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id)
		DO UPDATE SET
			data = EXCLUDED.data,
			version = EXCLUDED.version,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			published_at = EXCLUDED.published_at
	`

	err = r.monitor.Track(ctx, "configs.save", func() error {
		_, err := r.getExecutor(ctx).Exec(ctx, query, cfg.ID, cfg.ShopDomain, data, cfg.Version,
			string(cfg.Status), cfg.CreatedAt, cfg.UpdatedAt, cfg.PublishedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	r.invalidateShop(ctx, cfg.ShopDomain)
	return nil
}

// GetConfig получает конфигурацию по ID. Возвращает nil, nil если не найдена
func (r *ConfigStorage) GetConfig(ctx context.Context, id, shopDomain string) (*models.SiteConfig, error) {
	query := `SELECT ` + configColumns + ` FROM configs WHERE id = $1 AND shop_domain = $2`

	return r.cachedConfig(ctx, "config", shopDomain, func() (*models.SiteConfig, error) {
		return r.queryConfig(ctx, "configs.get", query, id, shopDomain)
	}, id)
}

// GetConfigByShop возвращает последнюю измененную конфигурацию магазина
func (r *ConfigStorage) GetConfigByShop(ctx context.Context, shopDomain string) (*models.SiteConfig, error) {
	query := `
		SELECT ` + configColumns + `
		FROM configs
		WHERE shop_domain = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`

	return r.cachedConfig(ctx, "config_by_shop", shopDomain, func() (*models.SiteConfig, error) {
		return r.queryConfig(ctx, "configs.get_by_shop", query, shopDomain)
	})
}

// GetPublishedConfig возвращает последнюю опубликованную конфигурацию магазина.
// Читается мимо локального кэша запросов: опубликованный сайт кэширует Redis,
// а локальный кэш соседних экземпляров при записи не сбрасывается
func (r *ConfigStorage) GetPublishedConfig(ctx context.Context, shopDomain string) (*models.SiteConfig, error) {
	query := `
		SELECT ` + configColumns + `
		FROM configs
		WHERE shop_domain = $1 AND status = 'published'
		ORDER BY published_at DESC
		LIMIT 1
	`

	return r.queryConfig(ctx, "configs.get_published", query, shopDomain)
}

func (r *ConfigStorage) queryConfig(ctx context.Context, name, query string, args ...interface{}) (*models.SiteConfig, error) {
	var cfg *models.SiteConfig
	err := r.monitor.Track(ctx, name, func() error {
		var err error
		cfg, err = scanConfig(r.getExecutor(ctx).QueryRow(ctx, query, args...))
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	return cfg, nil
}

// ListConfigs возвращает страницу конфигураций магазина и общее количество
func (r *ConfigStorage) ListConfigs(ctx context.Context, shopDomain string, page, pageSize int) ([]*models.SiteConfig, int, error) {
	var total int
	err := r.monitor.Track(ctx, "configs.count", func() error {
		return r.getExecutor(ctx).QueryRow(ctx,
			`SELECT COUNT(*) FROM configs WHERE shop_domain = $1`, shopDomain).Scan(&total)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count configs: %w", err)
	}

	// Если нет записей, возвращаем пустой результат
	if total == 0 {
		return []*models.SiteConfig{}, 0, nil
	}

	query := `
		SELECT ` + configColumns + `
		FROM configs
		WHERE shop_domain = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`

	configs := make([]*models.SiteConfig, 0, pageSize)
	err = r.monitor.Track(ctx, "configs.list", func() error {
		rows, err := r.getExecutor(ctx).Query(ctx, query, shopDomain, pageSize, (page-1)*pageSize)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			cfg, err := scanConfig(rows)
			if err != nil {
				return err
			}
			configs = append(configs, cfg)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list configs: %w", err)
	}

	return configs, total, nil
}

// DeleteConfig удаляет конфигурацию вместе с версиями (ON DELETE CASCADE)
func (r *ConfigStorage) DeleteConfig(ctx context.Context, id, shopDomain string) error {
	var tag pgconn.CommandTag
	err := r.monitor.Track(ctx, "configs.delete", func() error {
		var err error
		tag, err = r.getExecutor(ctx).Exec(ctx,
			`DELETE FROM configs WHERE id = $1 AND shop_domain = $2`, id, shopDomain)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}

	r.invalidateShop(ctx, shopDomain)
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// UpdateConfigIfVersion обновляет конфигурацию, только если в БД версия expectedVersion.
// Возвращает ErrConflict, если запись изменилась или отсутствует
func (r *ConfigStorage) UpdateConfigIfVersion(ctx context.Context, cfg *models.SiteConfig, expectedVersion int) error {
	data, err := encodeDocument(cfg)
	if err != nil {
		return err
	}
	cfg.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE configs
		SET data = $1, version = $2, status = $3, updated_at = $4, published_at = $5
		WHERE id = $6 AND shop_domain = $7 AND version = $8
	`

	var tag pgconn.CommandTag
	err = r.monitor.Track(ctx, "configs.update_if_version", func() error {
		var err error
		tag, err = r.getExecutor(ctx).Exec(ctx, query, data, cfg.Version, string(cfg.Status),
			cfg.UpdatedAt, cfg.PublishedAt, cfg.ID, cfg.ShopDomain, expectedVersion)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to update config: %w", err)
	}

	r.invalidateShop(ctx, cfg.ShopDomain)
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: config %s is not at version %d", apperrors.ErrConflict, cfg.ID, expectedVersion)
	}
	return nil
}

// SaveVersion сохраняет снимок конфигурации
func (r *ConfigStorage) SaveVersion(ctx context.Context, v *models.ConfigVersion) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(v.Data)
	if err != nil {
		return fmt.Errorf("failed to encode version snapshot: %w", err)
	}

	query := `
		INSERT INTO config_versions (id, config_id, version, data, change_note, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	err = r.monitor.Track(ctx, "config_versions.save", func() error {
		_, err := r.getExecutor(ctx).Exec(ctx, query, v.ID, v.ConfigID, v.Version, data,
			v.ChangeNote, v.CreatedBy, v.CreatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save config version: %w", err)
	}
	return nil
}

// ListVersions возвращает версии от новых к старым без снимков данных
func (r *ConfigStorage) ListVersions(ctx context.Context, configID string, limit, offset int) ([]*models.ConfigVersion, error) {
	query := `
		SELECT id, config_id, version, change_note, created_by, created_at
		FROM config_versions
		WHERE config_id = $1
		ORDER BY version DESC
		LIMIT $2 OFFSET $3
	`

	var versions []*models.ConfigVersion
	err := r.monitor.Track(ctx, "config_versions.list", func() error {
		rows, err := r.getExecutor(ctx).Query(ctx, query, configID, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var v models.ConfigVersion
			if err := rows.Scan(&v.ID, &v.ConfigID, &v.Version, &v.ChangeNote, &v.CreatedBy, &v.CreatedAt); err != nil {
				return err
			}
			versions = append(versions, &v)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list config versions: %w", err)
	}
	return versions, nil
}

// GetVersion возвращает снимок версии. Возвращает nil, nil если версии нет
func (r *ConfigStorage) GetVersion(ctx context.Context, configID string, version int) (*models.ConfigVersion, error) {
	query := `
		SELECT id, config_id, version, data, change_note, created_by, created_at
		FROM config_versions
		WHERE config_id = $1 AND version = $2
	`

	var (
		v    models.ConfigVersion
		data []byte
	)
	err := r.monitor.Track(ctx, "config_versions.get", func() error {
		return r.getExecutor(ctx).QueryRow(ctx, query, configID, version).
			Scan(&v.ID, &v.ConfigID, &v.Version, &data, &v.ChangeNote, &v.CreatedBy, &v.CreatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get config version: %w", err)
	}

	v.Data = &models.SiteConfig{}
	if err := json.Unmarshal(data, v.Data); err != nil {
		return nil, fmt.Errorf("failed to decode version snapshot: %w", err)
	}
	return &v, nil
}

// SaveShop сохраняет магазин (вставка или обновление)
func (r *ConfigStorage) SaveShop(ctx context.Context, shop *models.Shop) error {
	now := time.Now().UTC()
	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = now
	}
	shop.UpdatedAt = now

	query := `
		INSERT INTO shops (domain, storefront_token, name, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (domain)
		DO UPDATE SET
			storefront_token = EXCLUDED.storefront_token,
			name = EXCLUDED.name,
			currency = EXCLUDED.currency,
			updated_at = EXCLUDED.updated_at
	`

	err := r.monitor.Track(ctx, "shops.save", func() error {
		_, err := r.getExecutor(ctx).Exec(ctx, query, shop.Domain, shop.StorefrontToken, shop.Name,
			shop.Currency, shop.CreatedAt, shop.UpdatedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save shop: %w", err)
	}

	r.invalidateShop(ctx, shop.Domain)
	return nil
}

// GetShop возвращает магазин или nil, nil
func (r *ConfigStorage) GetShop(ctx context.Context, domain string) (*models.Shop, error) {
	key := r.cache.Key(shopPrefix(domain) + "shop")
	if r.cacheable(ctx) {
		if v, ok := r.cache.Get(key); ok {
			shop := *v.(*models.Shop)
			return &shop, nil
		}
	}

	query := `
		SELECT domain, storefront_token, name, currency, created_at, updated_at
		FROM shops
		WHERE domain = $1
	`

	var shop models.Shop
	err := r.monitor.Track(ctx, "shops.get", func() error {
		return r.getExecutor(ctx).QueryRow(ctx, query, domain).
			Scan(&shop.Domain, &shop.StorefrontToken, &shop.Name, &shop.Currency, &shop.CreatedAt, &shop.UpdatedAt)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}

	if r.cacheable(ctx) {
		cached := shop
		r.cache.Set(key, &cached)
	}
	return &shop, nil
}

// DeleteShop удаляет магазин. Возвращает ErrNotFound, если магазина нет
func (r *ConfigStorage) DeleteShop(ctx context.Context, domain string) error {
	var tag pgconn.CommandTag
	err := r.monitor.Track(ctx, "shops.delete", func() error {
		var err error
		tag, err = r.getExecutor(ctx).Exec(ctx, `DELETE FROM shops WHERE domain = $1`, domain)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete shop: %w", err)
	}

	r.invalidateShop(ctx, domain)
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// QueryStats возвращает статистику самых частых запросов и кэша
func (r *ConfigStorage) QueryStats(n int) ([]QueryStats, CacheStats) {
	return r.monitor.Top(n), r.cache.Stats()
}

var _ infra.Port = (*ConfigStorage)(nil)
