package models

// Collection коллекция товаров Shopify
type Collection struct {
	ID          string    `json:"id"`
	Handle      string    `json:"handle"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Image       *Image    `json:"image,omitempty"`
	Products    []Product `json:"products,omitempty"`
	PageInfo    *PageInfo `json:"page_info,omitempty"`
}
