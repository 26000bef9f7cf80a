package r2

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
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

// Config параметры подключения к бакету
type Config struct {
	Endpoint        string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	PublicURL       string
	Timeout         time.Duration
	MaxRetries      int
}

// Client реализует ObjectStorePort для Cloudflare R2
type Client struct {
	cfg        Config
	endpoint   *url.URL
	httpClient *http.Client
	signer     *Signer
	logger     interfaces.LoggerPort
	now        func() time.Time
}

// Option настраивает клиент
type Option func(*Client)

// WithHTTPClient подменяет HTTP-клиент
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithClock подменяет источник времени для подписи
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient создает клиент R2
func NewClient(cfg Config, logger interfaces.LoggerPort, opts ...Option) (*Client, error) {
	endpoint, err := ParseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	c := &Client{
		cfg:        cfg,
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		signer:     NewSigner(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.Region, "s3"),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ParseEndpoint проверяет адрес S3 API: нужна схема http(s) и хост
func ParseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return nil, fmt.Errorf("r2: invalid endpoint %q: %w", endpoint, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("r2: invalid endpoint %q: scheme and host are required", endpoint)
	}
	return u, nil
}

// request описывает один вызов S3 API
type request struct {
	method  string
	key     string
	query   url.Values
	body    []byte
	headers map[string]string
}

// objectURL строит path-style адрес {endpoint}/{bucket}/{key}
func (c *Client) objectURL(key string) *url.URL {
	u := *c.endpoint
	p := "/" + c.cfg.Bucket
	if key != "" {
		p += "/" + key
	}
	u.Path = p
	u.RawPath = uriEncode(p, false)
	return &u
}

// do выполняет подписанный запрос с повторами. При успехе вызывающий закрывает тело ответа
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	operation := func() (*http.Response, error) {
		u := c.objectURL(r.key)
		if len(r.query) > 0 {
			u.RawQuery = canonicalQuery(r.query)
		}

		req, err := http.NewRequestWithContext(ctx, r.method, u.String(), bytes.NewReader(r.body))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		for k, v := range r.headers {
			req.Header.Set(k, v)
		}
		c.signer.Sign(req, HashPayload(r.body), c.now())

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}

		if resp.StatusCode < http.StatusBadRequest {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		apiErr := parseError(resp.StatusCode, body)
		if apiErr.Retryable() {
			return nil, apiErr
		}
		return nil, backoff.Permanent(apiErr)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.WarnWithContext(ctx, "Повтор запроса к R2",
				interfaces.LogField{Key: "method", Value: r.method},
				interfaces.LogField{Key: "key", Value: r.key},
				interfaces.LogField{Key: "retry_in", Value: next.String()},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}),
	)
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// PutObject загружает объект целиком
func (c *Client) PutObject(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	resp, err := c.do(ctx, request{
		method:  http.MethodPut,
		key:     key,
		body:    body,
		headers: map[string]string{"Content-Type": contentType},
	})
	if err != nil {
		return "", fmt.Errorf("put object %s: %w", key, err)
	}
	defer drain(resp)

	return trimETag(resp.Header.Get("ETag")), nil
}

func (c *Client) GetObject(ctx context.Context, key string) (io.ReadCloser, *interfaces.ObjectInfo, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, key: key})
	if err != nil {
		return nil, nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return resp.Body, objectInfoFromHeaders(key, resp), nil
}

func (c *Client) HeadObject(ctx context.Context, key string) (*interfaces.ObjectInfo, error) {
	resp, err := c.do(ctx, request{method: http.MethodHead, key: key})
	if err != nil {
		return nil, fmt.Errorf("head object %s: %w", key, err)
	}
	defer drain(resp)
	return objectInfoFromHeaders(key, resp), nil
}

// DeleteObject удаляет объект. Отсутствие объекта не считается ошибкой
func (c *Client) DeleteObject(ctx context.Context, key string) error {
	resp, err := c.do(ctx, request{method: http.MethodDelete, key: key})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	drain(resp)
	return nil
}

type listBucketResult struct {
	Contents []struct {
		Key          string    `xml:"Key"`
		Size         int64     `xml:"Size"`
		ETag         string    `xml:"ETag"`
		LastModified time.Time `xml:"LastModified"`
	} `xml:"Contents"`
	IsTruncated           bool   `xml:"IsTruncated"`
	NextContinuationToken string `xml:"NextContinuationToken"`
}

// ListObjects возвращает все объекты с префиксом, проходя по страницам ListObjectsV2
func (c *Client) ListObjects(ctx context.Context, prefix string) ([]interfaces.ObjectInfo, error) {
	var (
		out   []interfaces.ObjectInfo
		token string
	)

	for {
		q := url.Values{"list-type": {"2"}, "prefix": {prefix}}
		if token != "" {
			q.Set("continuation-token", token)
		}

		var page listBucketResult
		if err := c.doXML(ctx, request{method: http.MethodGet, query: q}, &page); err != nil {
			return nil, fmt.Errorf("list objects %s: %w", prefix, err)
		}

		for _, obj := range page.Contents {
			out = append(out, interfaces.ObjectInfo{
				Key:          obj.Key,
				Size:         obj.Size,
				ETag:         trimETag(obj.ETag),
				LastModified: obj.LastModified,
			})
		}

		if !page.IsTruncated || page.NextContinuationToken == "" {
			return out, nil
		}
		token = page.NextContinuationToken
	}
}

// PresignGet возвращает ссылку на чтение, подписанную на expires
func (c *Client) PresignGet(_ context.Context, key string, expires time.Duration) (string, error) {
	return c.signer.Presign(http.MethodGet, c.objectURL(key).String(), expires, c.now())
}

// PublicURL возвращает CDN-адрес, если он настроен, иначе адрес в бакете
func (c *Client) PublicURL(key string) string {
	if c.cfg.PublicURL != "" {
		return c.cfg.PublicURL + "/" + uriEncode(key, false)
	}
	return c.objectURL(key).String()
}

// doXML выполняет запрос и декодирует XML-ответ в out
func (c *Client) doXML(ctx context.Context, r request, out interface{}) error {
	resp, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// CompleteMultipartUpload может вернуть 200 с ошибкой в теле
	if bytes.Contains(body, []byte("<Error>")) {
		return parseError(resp.StatusCode, body)
	}

	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func objectInfoFromHeaders(key string, resp *http.Response) *interfaces.ObjectInfo {
	info := &interfaces.ObjectInfo{
		Key:         key,
		ETag:        trimETag(resp.Header.Get("ETag")),
		ContentType: resp.Header.Get("Content-Type"),
	}
	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil {
		info.Size = n
	} else if resp.ContentLength > 0 {
		info.Size = resp.ContentLength
	}
	if t, err := http.ParseTime(resp.Header.Get("Last-Modified")); err == nil {
		info.LastModified = t
	}
	return info
}

func trimETag(etag string) string {
	return strings.Trim(etag, `"`)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// sortParts упорядочивает части по номеру, как требует CompleteMultipartUpload
func sortParts(parts []interfaces.CompletedPart) []interfaces.CompletedPart {
	sorted := append([]interfaces.CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })
	return sorted
}

var _ interfaces.ObjectStorePort = (*Client)(nil)
