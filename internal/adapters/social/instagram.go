package social

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/oauth2"

	"github.com/athebyme/minimall/internal/domain/models"
)

const instagramTimeLayout = "2006-01-02T15:04:05-0700"

// InstagramProvider Instagram Graph API (me/media)
type InstagramProvider struct {
	oauth   *oauth2.Config
	apiBase string
}

// NewInstagramProvider возвращает nil, если приложение не настроено, чтобы его можно было передать в NewRegistry
func NewInstagramProvider(cfg OAuthConfig) Provider {
	if !cfg.enabled() {
		return nil
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = "https://api.instagram.com/oauth/authorize"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://api.instagram.com/oauth/access_token"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://graph.instagram.com"
	}
	return &InstagramProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"user_profile", "user_media"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		apiBase: cfg.APIBase,
	}
}

func (p *InstagramProvider) Name() string { return Instagram }

func (p *InstagramProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

func (p *InstagramProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("instagram: exchange code: %w", err)
	}
	return token, nil
}

type instagramMedia struct {
	ID           string `json:"id"`
	Caption      string `json:"caption"`
	MediaType    string `json:"media_type"`
	MediaURL     string `json:"media_url"`
	ThumbnailURL string `json:"thumbnail_url"`
	Permalink    string `json:"permalink"`
	Timestamp    string `json:"timestamp"`
}

type instagramPage struct {
	Data   []instagramMedia `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// FetchMedia читает публикации пользователя, следуя по paging.next до limit
func (p *InstagramProvider) FetchMedia(ctx context.Context, token *oauth2.Token, limit int) ([]models.MediaItem, error) {
	limit = clampLimit(limit)
	client := p.oauth.Client(ctx, token)

	q := url.Values{}
	q.Set("fields", "id,caption,media_type,media_url,thumbnail_url,permalink,timestamp")
	q.Set("limit", strconv.Itoa(limit))
	next := p.apiBase + "/me/media?" + q.Encode()

	items := make([]models.MediaItem, 0, limit)
	for next != "" && len(items) < limit {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("instagram: fetch media: %w", err)
		}

		var page instagramPage
		if err := decodeResponse(resp, Instagram, &page); err != nil {
			return nil, err
		}

		for _, m := range page.Data {
			if len(items) == limit {
				break
			}
			items = append(items, m.toItem())
		}
		next = page.Paging.Next
	}
	return items, nil
}

func (m instagramMedia) toItem() models.MediaItem {
	item := models.MediaItem{
		ID:        m.ID,
		Provider:  Instagram,
		Type:      "image",
		URL:       m.MediaURL,
		Thumbnail: m.ThumbnailURL,
		Caption:   m.Caption,
		Permalink: m.Permalink,
	}
	if m.MediaType == "VIDEO" {
		item.Type = "video"
	}
	if ts, err := time.Parse(instagramTimeLayout, m.Timestamp); err == nil {
		item.Timestamp = ts.UTC()
	}
	return item
}
