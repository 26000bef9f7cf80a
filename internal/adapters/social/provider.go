// Package social провайдеры импорта публикаций из Instagram и TikTok
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"golang.org/x/oauth2"

	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
)

const (
	Instagram = "instagram"
	TikTok    = "tiktok"

	maxFetchLimit = 100
)

// Provider источник медиа с OAuth2-авторизацией
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchMedia(ctx context.Context, token *oauth2.Token, limit int) ([]models.MediaItem, error)
}

// OAuthConfig учетные данные приложения провайдера
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Адреса переопределяются в тестах
	AuthURL  string
	TokenURL string
	APIBase  string
}

func (c OAuthConfig) enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// Registry провайдеры по имени
type Registry map[string]Provider

// NewRegistry собирает реестр из настроенных провайдеров
func NewRegistry(providers ...Provider) Registry {
	r := make(Registry, len(providers))
	for _, p := range providers {
		if p != nil {
			r[p.Name()] = p
		}
	}
	return r
}

// Get возвращает провайдера или ErrUnknownProvider
func (r Registry) Get(name string) (Provider, error) {
	p, ok := r[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownProvider, name)
	}
	return p, nil
}

// Names имена подключенных провайдеров
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxFetchLimit {
		return maxFetchLimit
	}
	return limit
}

// decodeResponse проверяет статус и декодирует JSON-ответ API
func decodeResponse(resp *http.Response, provider string, out interface{}) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", provider, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s: %w: %s", provider, apperrors.ErrUnauthorized, truncate(body))
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s: status %d: %s", provider, resp.StatusCode, truncate(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", provider, err)
	}
	return nil
}

func truncate(body []byte) string {
	if len(body) > 256 {
		return string(body[:256])
	}
	return string(body)
}
