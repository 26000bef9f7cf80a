package models

import "time"

// Shop магазин Shopify, подключенный к MINIMALL
type Shop struct {
	Domain          string    `json:"domain" validate:"required"`
	StorefrontToken string    `json:"-" validate:"required,min=16,max=128"`
	Name            string    `json:"name,omitempty" validate:"max=200"`
	Currency        string    `json:"currency,omitempty" validate:"omitempty,len=3,uppercase"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
