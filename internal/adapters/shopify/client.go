// Package shopify клиент Storefront GraphQL API и преобразование его ответов в модели витрины
package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

const tokenHeader = "X-Shopify-Storefront-Access-Token"

// Config параметры клиента
type Config struct {
	APIVersion string
	Timeout    time.Duration
	MaxRetries int
	// Locale для форматирования цен, например en-US
	Locale string
}

// Client клиент Storefront API, общий для всех магазинов
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     interfaces.LoggerPort
	endpoint   func(shop, version string) string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoint подменяет адрес GraphQL (используется в тестах)
func WithEndpoint(fn func(shop, version string) string) Option {
	return func(c *Client) { c.endpoint = fn }
}

// NewClient создает клиент Storefront API
func NewClient(cfg Config, logger interfaces.LoggerPort, opts ...Option) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-10"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Locale == "" {
		cfg.Locale = "en-US"
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		endpoint: func(shop, version string) string {
			return "https://" + shop + "/api/" + version + "/graphql.json"
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GraphQLErrorItem одна ошибка из массива errors
type GraphQLErrorItem struct {
	Message    string        `json:"message"`
	Path       []interface{} `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code,omitempty"`
	} `json:"extensions"`
}

// GraphQLError ошибки выполнения запроса, возвращенные API
type GraphQLError struct {
	Errors []GraphQLErrorItem
}

func (e *GraphQLError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		msgs = append(msgs, item.Message)
	}
	return "shopify graphql: " + strings.Join(msgs, "; ")
}

// Throttled исчерпан лимит стоимости запросов
func (e *GraphQLError) Throttled() bool {
	for _, item := range e.Errors {
		if item.Extensions.Code == "THROTTLED" {
			return true
		}
	}
	return false
}

// HTTPError неуспешный HTTP-статус
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("shopify http %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.ErrUnauthorized
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	}
	return nil
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage    `json:"data"`
	Errors []GraphQLErrorItem `json:"errors"`
}

// Do выполняет GraphQL-запрос и декодирует data в out.
// 429, 5xx, сетевые ошибки и THROTTLED повторяются с экспоненциальной задержкой
func (c *Client) Do(ctx context.Context, shop, token, query string, vars map[string]interface{}, out interface{}) error {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode graphql request: %w", err)
	}
	endpoint := c.endpoint(shop, c.cfg.APIVersion)

	operation := func() (json.RawMessage, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set(tokenHeader, token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			httpErr := &HTTPError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
					return nil, backoff.RetryAfter(secs)
				}
				return nil, httpErr
			}
			return nil, backoff.Permanent(httpErr)
		}

		var gql graphQLResponse
		if err := json.Unmarshal(body, &gql); err != nil {
			return nil, backoff.Permanent(fmt.Errorf("decode graphql response: %w", err))
		}
		if len(gql.Errors) > 0 {
			gqlErr := &GraphQLError{Errors: gql.Errors}
			if gqlErr.Throttled() {
				return nil, gqlErr
			}
			return nil, backoff.Permanent(gqlErr)
		}
		return gql.Data, nil
	}

	data, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(newBackOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.WarnWithContext(ctx, "Повтор запроса к Shopify",
				interfaces.LogField{Key: "shop_domain", Value: shop},
				interfaces.LogField{Key: "retry_in", Value: next.String()},
				interfaces.LogField{Key: "error", Value: err.Error()})
		}),
	)
	if err != nil {
		return err
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode graphql data: %w", err)
	}
	return nil
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 4 * time.Second
	return b
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
