package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

const testShop = "demo.myshopify.com"

// memRepo хранилище конфигураций, версий и магазинов в памяти
type memRepo struct {
	mu       sync.Mutex
	configs  map[string]*models.SiteConfig
	versions map[string][]*models.ConfigVersion
	shops    map[string]*models.Shop
	failGet  error
}

func newMemRepo() *memRepo {
	return &memRepo{
		configs:  map[string]*models.SiteConfig{},
		versions: map[string][]*models.ConfigVersion{},
		shops:    map[string]*models.Shop{},
	}
}

func (r *memRepo) SaveConfig(_ context.Context, cfg *models.SiteConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.ID] = cfg.Clone()
	return nil
}

func (r *memRepo) GetConfig(_ context.Context, id, shopDomain string) (*models.SiteConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[id]
	if !ok || cfg.ShopDomain != shopDomain {
		return nil, nil
	}
	return cfg.Clone(), nil
}

func (r *memRepo) GetConfigByShop(_ context.Context, shopDomain string) (*models.SiteConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cfg := range r.configs {
		if cfg.ShopDomain == shopDomain {
			return cfg.Clone(), nil
		}
	}
	return nil, nil
}

func (r *memRepo) GetPublishedConfig(_ context.Context, shopDomain string) (*models.SiteConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet != nil {
		return nil, r.failGet
	}
	for _, cfg := range r.configs {
		if cfg.ShopDomain == shopDomain && cfg.Status == models.StatusPublished {
			return cfg.Clone(), nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListConfigs(_ context.Context, shopDomain string, page, pageSize int) ([]*models.SiteConfig, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SiteConfig
	for _, cfg := range r.configs {
		if cfg.ShopDomain == shopDomain {
			out = append(out, cfg.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	total := len(out)
	start := (page - 1) * pageSize
	if start >= total {
		return []*models.SiteConfig{}, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return out[start:end], total, nil
}

func (r *memRepo) DeleteConfig(_ context.Context, id, shopDomain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.configs[id]
	if !ok || cfg.ShopDomain != shopDomain {
		return apperrors.ErrNotFound
	}
	delete(r.configs, id)
	delete(r.versions, id)
	return nil
}

func (r *memRepo) UpdateConfigIfVersion(_ context.Context, cfg *models.SiteConfig, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.configs[cfg.ID]
	if !ok || stored.Version != expectedVersion {
		return apperrors.ErrConflict
	}
	r.configs[cfg.ID] = cfg.Clone()
	return nil
}

func (r *memRepo) SaveVersion(_ context.Context, v *models.ConfigVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[v.ConfigID] = append(r.versions[v.ConfigID], v)
	return nil
}

func (r *memRepo) ListVersions(_ context.Context, configID string, limit, offset int) ([]*models.ConfigVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.versions[configID]
	out := make([]*models.ConfigVersion, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
	}
	if offset >= len(out) {
		return []*models.ConfigVersion{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) GetVersion(_ context.Context, configID string, version int) (*models.ConfigVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions[configID] {
		if v.Version == version {
			return v, nil
		}
	}
	return nil, nil
}

func (r *memRepo) SaveShop(_ context.Context, shop *models.Shop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *shop
	r.shops[shop.Domain] = &cp
	return nil
}

func (r *memRepo) GetShop(_ context.Context, domain string) (*models.Shop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	shop, ok := r.shops[domain]
	if !ok {
		return nil, nil
	}
	cp := *shop
	return &cp, nil
}

func (r *memRepo) DeleteShop(_ context.Context, domain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shops[domain]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.shops, domain)
	return nil
}

// directTx выполняет функцию без транзакции
type directTx struct{}

func (directTx) Do(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// memObjects объектное хранилище в памяти с multipart-загрузками
type memObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	uploads   map[string]map[int][]byte
	aborted   []string
	failParts bool
	seq       int
	partDelay time.Duration
	inflight  int
	maxFlight int
}

func newMemObjects() *memObjects {
	return &memObjects{objects: map[string][]byte{}, uploads: map[string]map[int][]byte{}}
}

func (m *memObjects) PutObject(_ context.Context, key string, body []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
	return "etag-" + key, nil
}

func (m *memObjects) GetObject(_ context.Context, key string) (io.ReadCloser, *interfaces.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, nil, apperrors.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), &interfaces.ObjectInfo{Key: key, Size: int64(len(body))}, nil
}

func (m *memObjects) HeadObject(_ context.Context, key string) (*interfaces.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &interfaces.ObjectInfo{Key: key, Size: int64(len(body))}, nil
}

func (m *memObjects) DeleteObject(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) ListObjects(_ context.Context, prefix string) ([]interfaces.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []interfaces.ObjectInfo
	for key, body := range m.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, interfaces.ObjectInfo{Key: key, Size: int64(len(body))})
		}
	}
	return out, nil
}

func (m *memObjects) CreateMultipartUpload(_ context.Context, key, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("mp-%d", m.seq)
	m.uploads[id] = map[int][]byte{}
	return id, nil
}

func (m *memObjects) UploadPart(_ context.Context, _, uploadID string, partNumber int, body []byte) (string, error) {
	m.mu.Lock()
	m.inflight++
	m.maxFlight = max(m.maxFlight, m.inflight)
	delay := m.partDelay
	m.mu.Unlock()

	time.Sleep(delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--
	if m.failParts {
		return "", fmt.Errorf("part rejected")
	}
	parts, ok := m.uploads[uploadID]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	parts[partNumber] = append([]byte(nil), body...)
	return fmt.Sprintf("etag-%d", partNumber), nil
}

func (m *memObjects) CompleteMultipartUpload(_ context.Context, key, uploadID string, parts []interfaces.CompletedPart) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.uploads[uploadID]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(stored[p.PartNumber])
	}
	m.objects[key] = buf.Bytes()
	delete(m.uploads, uploadID)
	return "etag-final", nil
}

func (m *memObjects) AbortMultipartUpload(_ context.Context, _, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, uploadID)
	m.aborted = append(m.aborted, uploadID)
	return nil
}

func (m *memObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://bucket.example.com/" + key + "?sig=1", nil
}

func (m *memObjects) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func (m *memObjects) object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	body, ok := m.objects[key]
	return body, ok
}

func (m *memObjects) abortedUploads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.aborted...)
}

// stubMirror резервная копия опубликованных сайтов
type stubMirror struct {
	site *models.SiteConfig
}

func (s stubMirror) LoadPublished(_ context.Context, shopDomain string) (*models.SiteConfig, error) {
	if s.site == nil || s.site.ShopDomain != shopDomain {
		return nil, apperrors.ErrNotFound
	}
	return s.site.Clone(), nil
}

func feedConfig() *models.SiteConfig {
	return &models.SiteConfig{
		Categories: []models.Category{
			{
				ID: "feed", Name: "Feed", CategoryType: models.CategoryFeed, CardType: models.CardInstagram, Visible: true,
				Items: []models.Card{{
					ID: "c1", Type: models.CardInstagram,
					Media: []models.Media{{Type: "image", URL: "https://cdn.example.com/a.jpg"}},
				}},
			},
			{
				ID: "shop", Name: "Shop", CategoryType: models.CategoryGrid, CardType: models.CardProduct, Order: 1,
				Items: []models.Card{{ID: "p1", Type: models.CardProduct, ProductIDs: []string{"gid://shopify/Product/1"}}},
			},
		},
		Settings: models.Settings{Currency: "USD"},
	}
}
