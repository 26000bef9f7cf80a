package shopify

import (
	"context"
	"fmt"
	"strings"

	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
)

const productFields = `
fragment ProductFields on Product {
  id handle title description vendor productType tags availableForSale
  priceRange {
    minVariantPrice { amount currencyCode }
    maxVariantPrice { amount currencyCode }
  }
  compareAtPriceRange { maxVariantPrice { amount currencyCode } }
  featuredImage { url altText width height }
  images(first: 10) { edges { node { url altText width height } } }
  options { name values }
  variants(first: 50) {
    edges {
      node {
        id title availableForSale
        price { amount currencyCode }
        compareAtPrice { amount currencyCode }
        selectedOptions { name value }
        image { url altText width height }
      }
    }
  }
}`

const productsQuery = `
query Products($first: Int!, $after: String, $query: String, $sortKey: ProductSortKeys, $reverse: Boolean) {
  products(first: $first, after: $after, query: $query, sortKey: $sortKey, reverse: $reverse) {
    edges { cursor node { ...ProductFields } }
    pageInfo { hasNextPage endCursor }
  }
}` + productFields

const productByHandleQuery = `
query ProductByHandle($handle: String!) {
  product(handle: $handle) { ...ProductFields }
}` + productFields

const collectionsQuery = `
query Collections($first: Int!) {
  collections(first: $first) {
    edges { node { id handle title description image { url altText width height } } }
  }
}`

const collectionProductsQuery = `
query CollectionProducts($handle: String!, $first: Int!, $after: String) {
  collection(handle: $handle) {
    id handle title description
    image { url altText width height }
    products(first: $first, after: $after) {
      edges { cursor node { ...ProductFields } }
      pageInfo { hasNextPage endCursor }
    }
  }
}` + productFields

const cartCreateMutation = `
mutation CartCreate($input: CartInput!) {
  cartCreate(input: $input) {
    cart {
      id checkoutUrl totalQuantity
      cost {
        subtotalAmount { amount currencyCode }
        totalAmount { amount currencyCode }
      }
    }
    userErrors { field message }
  }
}`

// UserError ошибка входных данных мутации
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

// UserErrors ошибки мутации. Оборачивают ErrValidation
type UserErrors []UserError

func (e UserErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, ue := range e {
		if len(ue.Field) == 0 {
			parts = append(parts, ue.Message)
			continue
		}
		parts = append(parts, strings.Join(ue.Field, ".")+": "+ue.Message)
	}
	return "shopify user errors: " + strings.Join(parts, "; ")
}

func (e UserErrors) Unwrap() error { return apperrors.ErrValidation }

func optional(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Products возвращает страницу товаров магазина
func (c *Client) Products(ctx context.Context, shop, token string, q models.ProductQuery) (*models.ProductPage, error) {
	vars := map[string]interface{}{
		"first":   q.First,
		"after":   optional(q.After),
		"query":   optional(q.Query),
		"sortKey": optional(q.SortKey),
		"reverse": q.Reverse,
	}

	var out struct {
		Products ProductConnection `json:"products"`
	}
	if err := c.Do(ctx, shop, token, productsQuery, vars, &out); err != nil {
		return nil, fmt.Errorf("products: %w", err)
	}

	page := TransformProducts(out.Products, c.cfg.Locale)
	return &page, nil
}

// ProductByHandle возвращает товар по handle или ErrNotFound
func (c *Client) ProductByHandle(ctx context.Context, shop, token, handle string) (*models.Product, error) {
	var out struct {
		Product *ProductNode `json:"product"`
	}
	if err := c.Do(ctx, shop, token, productByHandleQuery, map[string]interface{}{"handle": handle}, &out); err != nil {
		return nil, fmt.Errorf("product %s: %w", handle, err)
	}
	if out.Product == nil {
		return nil, fmt.Errorf("product %s: %w", handle, apperrors.ErrNotFound)
	}

	p := TransformProduct(*out.Product, c.cfg.Locale)
	return &p, nil
}

// Collections возвращает коллекции магазина без товаров
func (c *Client) Collections(ctx context.Context, shop, token string, first int) ([]models.Collection, error) {
	var out struct {
		Collections struct {
			Edges []struct {
				Node CollectionNode `json:"node"`
			} `json:"edges"`
		} `json:"collections"`
	}
	if err := c.Do(ctx, shop, token, collectionsQuery, map[string]interface{}{"first": first}, &out); err != nil {
		return nil, fmt.Errorf("collections: %w", err)
	}

	collections := make([]models.Collection, 0, len(out.Collections.Edges))
	for _, edge := range out.Collections.Edges {
		collections = append(collections, TransformCollection(edge.Node, c.cfg.Locale))
	}
	return collections, nil
}

// CollectionProducts возвращает коллекцию со страницей товаров
func (c *Client) CollectionProducts(ctx context.Context, shop, token, handle string, first int, after string) (*models.Collection, error) {
	vars := map[string]interface{}{"handle": handle, "first": first, "after": optional(after)}

	var out struct {
		Collection *CollectionNode `json:"collection"`
	}
	if err := c.Do(ctx, shop, token, collectionProductsQuery, vars, &out); err != nil {
		return nil, fmt.Errorf("collection %s: %w", handle, err)
	}
	if out.Collection == nil {
		return nil, fmt.Errorf("collection %s: %w", handle, apperrors.ErrNotFound)
	}

	col := TransformCollection(*out.Collection, c.cfg.Locale)
	return &col, nil
}

// CreateCart создает корзину и возвращает ссылку на оформление заказа
func (c *Client) CreateCart(ctx context.Context, shop, token string, lines []models.CartLine) (*models.Cart, error) {
	inputLines := make([]map[string]interface{}, 0, len(lines))
	for _, l := range lines {
		inputLines = append(inputLines, map[string]interface{}{
			"merchandiseId": l.MerchandiseID,
			"quantity":      l.Quantity,
		})
	}

	var out struct {
		CartCreate struct {
			Cart       *CartNode  `json:"cart"`
			UserErrors UserErrors `json:"userErrors"`
		} `json:"cartCreate"`
	}
	vars := map[string]interface{}{"input": map[string]interface{}{"lines": inputLines}}
	if err := c.Do(ctx, shop, token, cartCreateMutation, vars, &out); err != nil {
		return nil, fmt.Errorf("cart create: %w", err)
	}
	if len(out.CartCreate.UserErrors) > 0 {
		return nil, out.CartCreate.UserErrors
	}
	if out.CartCreate.Cart == nil {
		return nil, fmt.Errorf("cart create: empty response")
	}

	cart := TransformCart(*out.CartCreate.Cart)
	return &cart, nil
}
