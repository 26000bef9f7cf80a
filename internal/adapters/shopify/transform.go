package shopify

import (
	"github.com/athebyme/minimall/internal/domain/models"
)

// Структуры ниже повторяют форму ответов Storefront API

type MoneyV2 struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`
}

type ImageNode struct {
	URL     string `json:"url"`
	AltText string `json:"altText"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

type PageInfoNode struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type VariantNode struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	AvailableForSale bool     `json:"availableForSale"`
	Price            MoneyV2  `json:"price"`
	CompareAtPrice   *MoneyV2 `json:"compareAtPrice"`
	SelectedOptions  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"selectedOptions"`
	Image *ImageNode `json:"image"`
}

type ProductNode struct {
	ID               string   `json:"id"`
	Handle           string   `json:"handle"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Vendor           string   `json:"vendor"`
	ProductType      string   `json:"productType"`
	Tags             []string `json:"tags"`
	AvailableForSale bool     `json:"availableForSale"`
	PriceRange       struct {
		MinVariantPrice MoneyV2 `json:"minVariantPrice"`
		MaxVariantPrice MoneyV2 `json:"maxVariantPrice"`
	} `json:"priceRange"`
	CompareAtPriceRange *struct {
		MaxVariantPrice MoneyV2 `json:"maxVariantPrice"`
	} `json:"compareAtPriceRange"`
	FeaturedImage *ImageNode `json:"featuredImage"`
	Images        struct {
		Edges []struct {
			Node ImageNode `json:"node"`
		} `json:"edges"`
	} `json:"images"`
	Options []struct {
		Name   string   `json:"name"`
		Values []string `json:"values"`
	} `json:"options"`
	Variants struct {
		Edges []struct {
			Node VariantNode `json:"node"`
		} `json:"edges"`
	} `json:"variants"`
}

type ProductConnection struct {
	Edges []struct {
		Cursor string      `json:"cursor"`
		Node   ProductNode `json:"node"`
	} `json:"edges"`
	PageInfo PageInfoNode `json:"pageInfo"`
}

type CollectionNode struct {
	ID          string             `json:"id"`
	Handle      string             `json:"handle"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Image       *ImageNode         `json:"image"`
	Products    *ProductConnection `json:"products"`
}

type CartNode struct {
	ID            string `json:"id"`
	CheckoutURL   string `json:"checkoutUrl"`
	TotalQuantity int    `json:"totalQuantity"`
	Cost          struct {
		SubtotalAmount MoneyV2 `json:"subtotalAmount"`
		TotalAmount    MoneyV2 `json:"totalAmount"`
	} `json:"cost"`
}

func transformMoney(m MoneyV2) models.Money {
	return models.Money{Amount: m.Amount, CurrencyCode: m.CurrencyCode}
}

func transformImage(img *ImageNode) *models.Image {
	if img == nil || img.URL == "" {
		return nil
	}
	return &models.Image{URL: img.URL, AltText: img.AltText, Width: img.Width, Height: img.Height}
}

// TransformProduct преобразует узел товара в модель витрины
func TransformProduct(node ProductNode, locale string) models.Product {
	minPrice := transformMoney(node.PriceRange.MinVariantPrice)

	p := models.Product{
		ID:          node.ID,
		Handle:      node.Handle,
		Title:       node.Title,
		Description: node.Description,
		Vendor:      node.Vendor,
		ProductType: node.ProductType,
		Tags:        node.Tags,
		Available:   node.AvailableForSale,
		PriceRange: models.PriceRange{
			Min: minPrice,
			Max: transformMoney(node.PriceRange.MaxVariantPrice),
		},
		FormattedPrice: FormatPrice(minPrice.Amount, minPrice.CurrencyCode, locale),
		FeaturedImage:  transformImage(node.FeaturedImage),
		Images:         make([]models.Image, 0, len(node.Images.Edges)),
		Variants:       make([]models.Variant, 0, len(node.Variants.Edges)),
	}

	if node.CompareAtPriceRange != nil {
		compareAt := node.CompareAtPriceRange.MaxVariantPrice
		if discount := DiscountPercent(minPrice.Amount, compareAt.Amount); discount > 0 {
			m := transformMoney(compareAt)
			p.CompareAtPrice = &m
			p.DiscountPercent = discount
		}
	}

	for _, edge := range node.Images.Edges {
		if img := transformImage(&edge.Node); img != nil {
			p.Images = append(p.Images, *img)
		}
	}
	if p.FeaturedImage == nil && len(p.Images) > 0 {
		first := p.Images[0]
		p.FeaturedImage = &first
	}

	for _, opt := range node.Options {
		p.Options = append(p.Options, models.ProductOption{Name: opt.Name, Values: opt.Values})
	}

	for _, edge := range node.Variants.Edges {
		p.Variants = append(p.Variants, transformVariant(edge.Node))
	}

	return p
}

func transformVariant(node VariantNode) models.Variant {
	v := models.Variant{
		ID:        node.ID,
		Title:     node.Title,
		Available: node.AvailableForSale,
		Price:     transformMoney(node.Price),
		Image:     transformImage(node.Image),
	}
	if node.CompareAtPrice != nil && DiscountPercent(node.Price.Amount, node.CompareAtPrice.Amount) > 0 {
		m := transformMoney(*node.CompareAtPrice)
		v.CompareAtPrice = &m
	}
	if len(node.SelectedOptions) > 0 {
		v.SelectedOptions = make(map[string]string, len(node.SelectedOptions))
		for _, o := range node.SelectedOptions {
			v.SelectedOptions[o.Name] = o.Value
		}
	}
	return v
}

// TransformProducts преобразует страницу товаров
func TransformProducts(conn ProductConnection, locale string) models.ProductPage {
	page := models.ProductPage{
		Products: make([]models.Product, 0, len(conn.Edges)),
		PageInfo: models.PageInfo{HasNextPage: conn.PageInfo.HasNextPage, EndCursor: conn.PageInfo.EndCursor},
	}
	for _, edge := range conn.Edges {
		page.Products = append(page.Products, TransformProduct(edge.Node, locale))
	}
	return page
}

// TransformCollection преобразует коллекцию вместе с товарами, если они запрошены
func TransformCollection(node CollectionNode, locale string) models.Collection {
	c := models.Collection{
		ID:          node.ID,
		Handle:      node.Handle,
		Title:       node.Title,
		Description: node.Description,
		Image:       transformImage(node.Image),
	}
	if node.Products != nil {
		page := TransformProducts(*node.Products, locale)
		c.Products = page.Products
		c.PageInfo = &page.PageInfo
	}
	return c
}

func TransformCart(node CartNode) models.Cart {
	return models.Cart{
		ID:            node.ID,
		CheckoutURL:   node.CheckoutURL,
		TotalQuantity: node.TotalQuantity,
		Subtotal:      transformMoney(node.Cost.SubtotalAmount),
		Total:         transformMoney(node.Cost.TotalAmount),
	}
}
