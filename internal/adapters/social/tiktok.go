package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/athebyme/minimall/internal/domain/models"
)

const tiktokPageSize = 20

// TikTokProvider TikTok Display API (/v2/video/list/)
type TikTokProvider struct {
	oauth     *oauth2.Config
	clientKey string
	apiBase   string
}

// NewTikTokProvider возвращает nil, если приложение не настроено
func NewTikTokProvider(cfg OAuthConfig) Provider {
	if !cfg.enabled() {
		return nil
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = "https://www.tiktok.com/v2/auth/authorize/"
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://open.tiktokapis.com/v2/oauth/token/"
	}
	if cfg.APIBase == "" {
		cfg.APIBase = "https://open.tiktokapis.com"
	}
	return &TikTokProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			// TikTok ждет список scope через запятую
			Scopes: []string{"user.info.basic,video.list"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		clientKey: cfg.ClientID,
		apiBase:   cfg.APIBase,
	}
}

func (p *TikTokProvider) Name() string { return TikTok }

// AuthCodeURL TikTok называет client_id параметром client_key
func (p *TikTokProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("client_key", p.clientKey))
}

func (p *TikTokProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.oauth.Exchange(ctx, code, oauth2.SetAuthURLParam("client_key", p.clientKey))
	if err != nil {
		return nil, fmt.Errorf("tiktok: exchange code: %w", err)
	}
	return token, nil
}

type tiktokVideo struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	VideoDescription string `json:"video_description"`
	CoverImageURL    string `json:"cover_image_url"`
	ShareURL         string `json:"share_url"`
	EmbedLink        string `json:"embed_link"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	CreateTime       int64  `json:"create_time"`
}

type tiktokListResponse struct {
	Data struct {
		Videos  []tiktokVideo `json:"videos"`
		Cursor  int64         `json:"cursor"`
		HasMore bool          `json:"has_more"`
	} `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchMedia читает видео пользователя постранично по курсору до limit
func (p *TikTokProvider) FetchMedia(ctx context.Context, token *oauth2.Token, limit int) ([]models.MediaItem, error) {
	limit = clampLimit(limit)
	client := p.oauth.Client(ctx, token)
	endpoint := p.apiBase + "/v2/video/list/?fields=id,title,video_description,cover_image_url,share_url,embed_link,width,height,create_time"

	items := make([]models.MediaItem, 0, limit)
	var cursor int64
	for len(items) < limit {
		body, _ := json.Marshal(map[string]interface{}{
			"max_count": min(tiktokPageSize, limit-len(items)),
			"cursor":    cursor,
		})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("tiktok: fetch videos: %w", err)
		}

		var page tiktokListResponse
		if err := decodeResponse(resp, TikTok, &page); err != nil {
			return nil, err
		}
		if page.Error.Code != "" && page.Error.Code != "ok" {
			return nil, fmt.Errorf("tiktok: %s: %s", page.Error.Code, page.Error.Message)
		}

		for _, v := range page.Data.Videos {
			if len(items) == limit {
				break
			}
			items = append(items, v.toItem())
		}
		if !page.Data.HasMore || len(page.Data.Videos) == 0 {
			break
		}
		cursor = page.Data.Cursor
	}
	return items, nil
}

func (v tiktokVideo) toItem() models.MediaItem {
	caption := v.VideoDescription
	if caption == "" {
		caption = v.Title
	}
	return models.MediaItem{
		ID:        v.ID,
		Provider:  TikTok,
		Type:      "video",
		URL:       v.EmbedLink,
		Thumbnail: v.CoverImageURL,
		Caption:   caption,
		Permalink: v.ShareURL,
		Width:     v.Width,
		Height:    v.Height,
		Timestamp: time.Unix(v.CreateTime, 0).UTC(),
	}
}
