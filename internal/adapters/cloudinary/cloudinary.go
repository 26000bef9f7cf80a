// Package cloudinary подписанные загрузки и ссылки доставки Cloudinary
package cloudinary

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

// unsignedParams не участвуют в подписи
var unsignedParams = map[string]struct{}{
	"file":          {},
	"api_key":       {},
	"cloud_name":    {},
	"resource_type": {},
	"signature":     {},
}

// Config параметры аккаунта
type Config struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	Timeout   time.Duration
}

// Client клиент Upload API
type Client struct {
	cfg        Config
	httpClient *http.Client
	apiBase    string
	logger     interfaces.LoggerPort
	now        func() time.Time
}

type Option func(*Client)

// WithAPIBase подменяет адрес API (используется в тестах)
func WithAPIBase(base string) Option {
	return func(c *Client) { c.apiBase = strings.TrimRight(base, "/") }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg Config, logger interfaces.LoggerPort, opts ...Option) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		apiBase:    "https://api.cloudinary.com/v1_1",
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled заданы ли учетные данные
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.CloudName != "" && c.cfg.APIKey != "" && c.cfg.APISecret != ""
}

// SignParams подписывает параметры: SHA-1 от отсортированной строки k=v&... с секретом в конце.
// Пустые значения и служебные параметры пропускаются
func SignParams(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if _, skip := unsignedParams[k]; skip || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}

	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}

// UploadParams параметры прямой загрузки из браузера
type UploadParams struct {
	UploadURL string `json:"upload_url"`
	APIKey    string `json:"api_key"`
	CloudName string `json:"cloud_name"`
	Timestamp int64  `json:"timestamp"`
	Folder    string `json:"folder,omitempty"`
	PublicID  string `json:"public_id,omitempty"`
	Signature string `json:"signature"`
}

func (c *Client) folder(folder string) string {
	if folder == "" {
		return c.cfg.Folder
	}
	return folder
}

// SignedUploadParams возвращает подписанные параметры для загрузки напрямую в Cloudinary
func (c *Client) SignedUploadParams(folder, publicID string) (*UploadParams, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("cloudinary: %w", apperrors.ErrNotConfigured)
	}
	ts := c.now().Unix()
	folder = c.folder(folder)

	params := map[string]string{
		"timestamp": strconv.FormatInt(ts, 10),
		"folder":    folder,
		"public_id": publicID,
	}

	return &UploadParams{
		UploadURL: c.apiBase + "/" + c.cfg.CloudName + "/image/upload",
		APIKey:    c.cfg.APIKey,
		CloudName: c.cfg.CloudName,
		Timestamp: ts,
		Folder:    folder,
		PublicID:  publicID,
		Signature: SignParams(params, c.cfg.APISecret),
	}, nil
}

// Asset загруженный ресурс
type Asset struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int64  `json:"bytes"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// UploadFromURL просит Cloudinary забрать изображение по ссылке
func (c *Client) UploadFromURL(ctx context.Context, fileURL, folder string) (*Asset, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("cloudinary: %w", apperrors.ErrNotConfigured)
	}

	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"folder":    c.folder(folder),
	}
	form := url.Values{}
	for k, v := range params {
		if v != "" {
			form.Set(k, v)
		}
	}
	form.Set("file", fileURL)
	form.Set("api_key", c.cfg.APIKey)
	form.Set("signature", SignParams(params, c.cfg.APISecret))
	endpoint := c.apiBase + "/" + c.cfg.CloudName + "/image/upload"

	operation := func() (*Asset, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

		if resp.StatusCode != http.StatusOK {
			var apiErr apiError
			_ = json.Unmarshal(body, &apiErr)
			err := fmt.Errorf("cloudinary upload: status %d: %s", resp.StatusCode, apiErr.Error.Message)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}

		var asset Asset
		if err := json.Unmarshal(body, &asset); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode cloudinary response: %w", err))
		}
		return &asset, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 300 * time.Millisecond
	return backoff.Retry(ctx, operation, backoff.WithBackOff(b), backoff.WithMaxTries(3))
}

// DeliveryURL ссылка на изображение с цепочкой трансформаций, например "w_400,c_fill"
func (c *Client) DeliveryURL(publicID string, transformations ...string) string {
	parts := []string{"https://res.cloudinary.com", c.cfg.CloudName, "image", "upload"}
	for _, t := range transformations {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	parts = append(parts, strings.TrimLeft(publicID, "/"))
	return strings.Join(parts, "/")
}
