package shopify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/athebyme/minimall/internal/adapters/logger"
	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productJSON = `{
  "id": "gid://shopify/Product/1",
  "handle": "linen-shirt",
  "title": "Linen shirt",
  "availableForSale": true,
  "priceRange": {
    "minVariantPrice": {"amount": "75.0", "currencyCode": "USD"},
    "maxVariantPrice": {"amount": "90.0", "currencyCode": "USD"}
  },
  "compareAtPriceRange": {"maxVariantPrice": {"amount": "100.0", "currencyCode": "USD"}},
  "featuredImage": null,
  "images": {"edges": [{"node": {"url": "https://cdn.shopify.com/a.jpg", "altText": "front", "width": 800, "height": 600}}]},
  "options": [{"name": "Size", "values": ["S", "M"]}],
  "variants": {"edges": [{"node": {
    "id": "gid://shopify/ProductVariant/11",
    "title": "S",
    "availableForSale": true,
    "price": {"amount": "75.0", "currencyCode": "USD"},
    "compareAtPrice": {"amount": "100.0", "currencyCode": "USD"},
    "selectedOptions": [{"name": "Size", "value": "S"}]
  }}]}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{APIVersion: "2024-10", MaxRetries: 2, Locale: "en-US"}, logger.NewNop(),
		WithEndpoint(func(shop, version string) string {
			return srv.URL + "/" + shop + "/api/" + version + "/graphql.json"
		}))
}

func TestProductByHandle(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo.myshopify.com/api/2024-10/graphql.json", r.URL.Path)
		assert.Equal(t, "token-123", r.Header.Get(tokenHeader))

		var req graphQLRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "linen-shirt", req.Variables["handle"])

		_, _ = w.Write([]byte(`{"data":{"product":` + productJSON + `}}`))
	})

	p, err := client.ProductByHandle(context.Background(), "demo.myshopify.com", "token-123", "linen-shirt")
	require.NoError(t, err)
	assert.Equal(t, "Linen shirt", p.Title)
	assert.Equal(t, "$75.00", p.FormattedPrice)
	assert.Equal(t, 25, p.DiscountPercent)
	require.NotNil(t, p.FeaturedImage)
	assert.Equal(t, "https://cdn.shopify.com/a.jpg", p.FeaturedImage.URL)
	require.Len(t, p.Variants, 1)
	assert.Equal(t, "S", p.Variants[0].SelectedOptions["Size"])
	require.NotNil(t, p.Variants[0].CompareAtPrice)
}

func TestProductByHandleNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"product":null}}`))
	})

	_, err := client.ProductByHandle(context.Background(), "demo.myshopify.com", "t", "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDoRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"products":{"edges":[],"pageInfo":{"hasNextPage":false}}}}`))
	})

	page, err := client.Products(context.Background(), "demo.myshopify.com", "t", models.ProductQuery{First: 5})
	require.NoError(t, err)
	assert.Empty(t, page.Products)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	var first time.Time
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			first = time.Now()
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		assert.GreaterOrEqual(t, time.Since(first), 900*time.Millisecond)
		_, _ = w.Write([]byte(`{"data":{}}`))
	})

	require.NoError(t, client.Do(context.Background(), "demo.myshopify.com", "t", "{ shop { name } }", nil, nil))
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoGraphQLErrorsArePermanent(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"errors":[{"message":"Field 'foo' doesn't exist"}]}`))
	})

	err := client.Do(context.Background(), "demo.myshopify.com", "t", "{ foo }", nil, nil)
	var gqlErr *GraphQLError
	require.ErrorAs(t, err, &gqlErr)
	assert.Contains(t, gqlErr.Error(), "doesn't exist")
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := client.Do(context.Background(), "demo.myshopify.com", "bad", "{ shop { name } }", nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestCreateCartUserErrors(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"cartCreate":{"cart":null,"userErrors":[{"field":["input","lines","0"],"message":"Merchandise does not exist"}]}}}`))
	})

	_, err := client.CreateCart(context.Background(), "demo.myshopify.com", "t", []models.CartLine{{MerchandiseID: "gid://x", Quantity: 1}})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
	assert.Contains(t, err.Error(), "input.lines.0")
}

func TestCreateCart(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"cartCreate":{"cart":{"id":"gid://shopify/Cart/1","checkoutUrl":"https://demo.myshopify.com/cart/c/1","totalQuantity":2,
			"cost":{"subtotalAmount":{"amount":"150.0","currencyCode":"USD"},"totalAmount":{"amount":"150.0","currencyCode":"USD"}}},"userErrors":[]}}}`))
	})

	cart, err := client.CreateCart(context.Background(), "demo.myshopify.com", "t", []models.CartLine{{MerchandiseID: "gid://x", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, "https://demo.myshopify.com/cart/c/1", cart.CheckoutURL)
	assert.Equal(t, 2, cart.TotalQuantity)
	assert.Equal(t, "150.0", cart.Total.Amount)
}
