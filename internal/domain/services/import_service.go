package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/athebyme/minimall/internal/adapters/social"
	"github.com/athebyme/minimall/internal/domain/models"
	"github.com/athebyme/minimall/internal/security"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

const maxRehostSize = 100 << 20

var mediaExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
	"video/mp4":  ".mp4",
}

// StateTokens выпуск и проверка state для OAuth
type StateTokens interface {
	Issue(shopDomain, provider, userID string) (string, error)
	Verify(state string) (*security.StateClaims, error)
}

// ProviderRegistry поиск провайдера по имени
type ProviderRegistry interface {
	Get(name string) (social.Provider, error)
}

// ImportRequest параметры импорта публикаций в категорию
type ImportRequest struct {
	ShopDomain string `json:"-"`
	Provider   string `json:"-"`
	Code       string `json:"code" validate:"required"`
	State      string `json:"state" validate:"required"`
	ConfigID   string `json:"config_id" validate:"required"`
	CategoryID string `json:"category_id" validate:"required"`
	Limit      int    `json:"limit" validate:"gte=0,lte=100"`
	Rehost     bool   `json:"rehost"`
	UserID     string `json:"-"`
}

// ImportResult итог импорта
type ImportResult struct {
	Config   *models.SiteConfig `json:"config"`
	Imported int                `json:"imported"`
	Skipped  int                `json:"skipped"`
}

// ImportService импортирует публикации из соцсетей в ленты сайта
type ImportService struct {
	providers   ProviderRegistry
	states      StateTokens
	configs     *ConfigService
	objects     interfaces.ObjectStorePort
	httpClient  *http.Client
	concurrency int
	logger      interfaces.LoggerPort
}

// NewImportService создает сервис импорта. objects может быть nil, тогда перенос медиа в R2 недоступен
func NewImportService(providers ProviderRegistry, states StateTokens, configs *ConfigService,
	objects interfaces.ObjectStorePort, logger interfaces.LoggerPort) *ImportService {
	return &ImportService{
		providers:   providers,
		states:      states,
		configs:     configs,
		objects:     objects,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		concurrency: 4,
		logger:      logger,
	}
}

// AuthorizeURL возвращает ссылку авторизации у провайдера с подписанным state
func (s *ImportService) AuthorizeURL(ctx context.Context, providerName, shopDomain, userID string) (string, error) {
	shop, err := normalizeShop(shopDomain)
	if err != nil {
		return "", err
	}
	provider, err := s.providers.Get(providerName)
	if err != nil {
		return "", err
	}
	state, err := s.states.Issue(shop, provider.Name(), userID)
	if err != nil {
		return "", err
	}
	return provider.AuthCodeURL(state), nil
}

// cardTypeFor тип карточек категории, совместимый с провайдером
func cardTypeFor(cat *models.Category, provider string) (models.CardType, error) {
	if cat.CategoryType != models.CategoryFeed {
		return "", fmt.Errorf("%w: category %s is %s, import needs a feed", apperrors.ErrValidation, cat.ID, cat.CategoryType)
	}
	if cat.CardType == models.CardMedia || string(cat.CardType) == provider {
		return cat.CardType, nil
	}
	return "", fmt.Errorf("%w: category %s holds %s cards, not %s", apperrors.ErrValidation, cat.ID, cat.CardType, provider)
}

// Import обменивает code на токен, читает публикации и добавляет их карточками в категорию.
// Уже импортированные публикации пропускаются
func (s *ImportService) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if err := models.ValidateStruct(&req); err != nil {
		return nil, err
	}
	shop, err := normalizeShop(req.ShopDomain)
	if err != nil {
		return nil, err
	}

	claims, err := s.states.Verify(req.State)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidState, err)
	}
	if claims.ShopDomain != shop || claims.Provider != req.Provider {
		return nil, fmt.Errorf("%w: state was issued for %s/%s", apperrors.ErrInvalidState, claims.ShopDomain, claims.Provider)
	}

	provider, err := s.providers.Get(req.Provider)
	if err != nil {
		return nil, err
	}

	current, err := s.configs.GetConfig(ctx, shop, req.ConfigID)
	if err != nil {
		return nil, err
	}
	cfg := current.Clone()
	cat := cfg.FindCategory(req.CategoryID)
	if cat == nil {
		return nil, fmt.Errorf("category %s: %w", req.CategoryID, apperrors.ErrNotFound)
	}
	cardType, err := cardTypeFor(cat, provider.Name())
	if err != nil {
		return nil, err
	}

	token, err := provider.Exchange(ctx, req.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	items, err := provider.FetchMedia(ctx, token, req.Limit)
	if err != nil {
		return nil, err
	}

	existing := make(map[string]struct{}, len(cat.Items))
	for _, card := range cat.Items {
		if card.ExternalID != "" {
			existing[card.Source+":"+card.ExternalID] = struct{}{}
		}
	}
	fresh := make([]models.MediaItem, 0, len(items))
	for _, item := range items {
		if _, dup := existing[item.Provider+":"+item.ID]; dup || item.URL == "" {
			continue
		}
		fresh = append(fresh, item)
	}

	if req.Rehost && len(fresh) > 0 {
		if err := s.rehost(ctx, shop, fresh); err != nil {
			return nil, err
		}
	}

	for _, item := range fresh {
		cat.Items = append(cat.Items, item.ToCard(cardType))
	}

	result := &ImportResult{Config: cfg, Imported: len(fresh), Skipped: len(items) - len(fresh)}
	if len(fresh) == 0 {
		return result, nil
	}

	note := fmt.Sprintf("imported %d items from %s", len(fresh), provider.Name())
	updated, err := s.configs.UpdateConfig(ctx, shop, cfg.ID, cfg, cfg.Version, req.UserID, note)
	if err != nil {
		return nil, err
	}
	result.Config = updated

	s.logger.InfoWithContext(ctx, "Импорт завершен",
		interfaces.LogField{Key: "provider", Value: provider.Name()},
		interfaces.LogField{Key: "imported", Value: result.Imported},
		interfaces.LogField{Key: "skipped", Value: result.Skipped})
	return result, nil
}

// rehost копирует медиа в R2 параллельно и заменяет ссылки на CDN
func (s *ImportService) rehost(ctx context.Context, shop string, items []models.MediaItem) error {
	if s.objects == nil {
		return fmt.Errorf("media rehosting: %w", apperrors.ErrNotConfigured)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range items {
		item := &items[i]
		g.Go(func() error {
			url, err := s.copyToStore(gctx, shop, item.Provider, item.ID, item.URL)
			if err != nil {
				return fmt.Errorf("rehost %s/%s: %w", item.Provider, item.ID, err)
			}
			item.URL = url
			if item.Thumbnail != "" {
				if thumb, err := s.copyToStore(gctx, shop, item.Provider, item.ID+"-thumb", item.Thumbnail); err == nil {
					item.Thumbnail = thumb
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *ImportService) copyToStore(ctx context.Context, shop, provider, id, source string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRehostSize+1))
	if err != nil {
		return "", err
	}
	if len(body) > maxRehostSize {
		return "", apperrors.ErrUploadTooLarge
	}

	contentType := strings.TrimSpace(strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0])
	key := fmt.Sprintf("media/%s/%s/%s%s", shop, provider, id, mediaExtensions[contentType])
	if _, err := s.objects.PutObject(ctx, key, body, contentType); err != nil {
		return "", err
	}
	return s.objects.PublicURL(key), nil
}
