package models

// Money денежная сумма в формате Storefront API (десятичная строка)
type Money struct {
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currency_code"`
}

// Image изображение товара или коллекции
type Image struct {
	URL     string `json:"url"`
	AltText string `json:"alt_text,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// ProductOption опция товара (размер, цвет) и ее значения
type ProductOption struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Variant вариант товара, который можно положить в корзину
type Variant struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Available       bool              `json:"available"`
	Price           Money             `json:"price"`
	CompareAtPrice  *Money            `json:"compare_at_price,omitempty"`
	SelectedOptions map[string]string `json:"selected_options,omitempty"`
	Image           *Image            `json:"image,omitempty"`
}

// PriceRange минимальная и максимальная цена вариантов
type PriceRange struct {
	Min Money `json:"min"`
	Max Money `json:"max"`
}

// Product товар витрины Shopify в виде, удобном для фронтенда
type Product struct {
	ID              string          `json:"id"`
	Handle          string          `json:"handle"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Vendor          string          `json:"vendor,omitempty"`
	ProductType     string          `json:"product_type,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Available       bool            `json:"available"`
	PriceRange      PriceRange      `json:"price_range"`
	CompareAtPrice  *Money          `json:"compare_at_price,omitempty"`
	DiscountPercent int             `json:"discount_percent,omitempty"`
	FormattedPrice  string          `json:"formatted_price"`
	FeaturedImage   *Image          `json:"featured_image,omitempty"`
	Images          []Image         `json:"images"`
	Variants        []Variant       `json:"variants"`
	Options         []ProductOption `json:"options,omitempty"`
}

// PageInfo курсорная пагинация Storefront API
type PageInfo struct {
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor,omitempty"`
}

// ProductPage страница товаров
type ProductPage struct {
	Products []Product `json:"products"`
	PageInfo PageInfo  `json:"page_info"`
}

// CartLine строка корзины
type CartLine struct {
	MerchandiseID string `json:"merchandise_id" validate:"required"`
	Quantity      int    `json:"quantity" validate:"min=1,max=100"`
}

// Cart корзина со ссылкой на оформление заказа
type Cart struct {
	ID            string `json:"id"`
	CheckoutURL   string `json:"checkout_url"`
	TotalQuantity int    `json:"total_quantity"`
	Subtotal      Money  `json:"subtotal"`
	Total         Money  `json:"total"`
}
