package models

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	defaultProductsPerPage = 12
	maxProductsPerPage     = 50
)

var productSortKeys = map[string]struct{}{
	"":             {},
	"RELEVANCE":    {},
	"TITLE":        {},
	"PRICE":        {},
	"BEST_SELLING": {},
	"CREATED_AT":   {},
}

// ProductQuery параметры выборки товаров витрины
type ProductQuery struct {
	First   int    `json:"first"`
	After   string `json:"after,omitempty"`
	Query   string `json:"query,omitempty"`
	SortKey string `json:"sort_key,omitempty"`
	Reverse bool   `json:"reverse,omitempty"`
}

// Normalize ограничивает размер страницы и проверяет ключ сортировки
func (q *ProductQuery) Normalize() error {
	if q.First <= 0 {
		q.First = defaultProductsPerPage
	}
	if q.First > maxProductsPerPage {
		q.First = maxProductsPerPage
	}
	q.Query = strings.TrimSpace(q.Query)
	q.SortKey = strings.ToUpper(strings.TrimSpace(q.SortKey))
	if _, ok := productSortKeys[q.SortKey]; !ok {
		return &ValidationError{Fields: []FieldError{{Field: "sort_key", Message: fmt.Sprintf("unknown sort key %q", q.SortKey)}}}
	}
	return nil
}

// CacheKey ключ кэша для выборки
func (q *ProductQuery) CacheKey() string {
	return strings.Join([]string{
		"products",
		strconv.Itoa(q.First),
		q.After,
		q.Query,
		q.SortKey,
		strconv.FormatBool(q.Reverse),
	}, ":")
}
