package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/athebyme/minimall/internal/domain/models"
	"github.com/athebyme/minimall/pkg/interfaces"
)

// PublishedSites источник опубликованных сайтов
type PublishedSites interface {
	GetPublishedSite(ctx context.Context, shopDomain string) (*models.SiteConfig, error)
}

// Storefront каталог магазина
type Storefront interface {
	ListProducts(ctx context.Context, shopDomain string, q models.ProductQuery) (*models.ProductPage, error)
	GetProduct(ctx context.Context, shopDomain, handle string) (*models.Product, error)
	ListCollections(ctx context.Context, shopDomain string, first int) ([]models.Collection, error)
	GetCollection(ctx context.Context, shopDomain, handle string, q models.ProductQuery) (*models.Collection, error)
	Checkout(ctx context.Context, shopDomain string, lines []models.CartLine) (*models.Cart, error)
}

// StorefrontTokens выдает публичный токен Storefront API
type StorefrontTokens interface {
	GetStorefrontToken(ctx context.Context, domain string) (string, error)
}

// SiteHandler публичные маршруты витрины
type SiteHandler struct {
	sites      PublishedSites
	storefront Storefront
	tokens     StorefrontTokens
	logger     interfaces.LoggerPort
}

func NewSiteHandler(sites PublishedSites, storefront Storefront, tokens StorefrontTokens, logger interfaces.LoggerPort) *SiteHandler {
	return &SiteHandler{sites: sites, storefront: storefront, tokens: tokens, logger: logger}
}

type tokenResponse struct {
	ShopDomain      string `json:"shop_domain"`
	StorefrontToken string `json:"storefront_token"`
}

// GetToken godoc
// @Summary Публичный токен Storefront API магазина
// @Tags public
// @Produce json
// @Param shopDomain path string true "Домен магазина"
// @Success 200 {object} response
// @Failure 404 {object} errorResponse
// @Router /api/shops/{shopDomain}/token [get]
func (h *SiteHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	shop := chi.URLParam(r, "shopDomain")
	token, err := h.tokens.GetStorefrontToken(r.Context(), shop)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, tokenResponse{ShopDomain: shop, StorefrontToken: token}, nil)
}

// GetSite godoc
// @Summary Опубликованная конфигурация сайта
// @Tags public
// @Produce json
// @Param shopDomain path string true "Домен магазина"
// @Success 200 {object} response
// @Failure 404 {object} errorResponse
// @Router /api/sites/{shopDomain} [get]
func (h *SiteHandler) GetSite(w http.ResponseWriter, r *http.Request) {
	site, err := h.sites.GetPublishedSite(r.Context(), chi.URLParam(r, "shopDomain"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	respond(w, r, http.StatusOK, site, nil)
}

func productQuery(r *http.Request) models.ProductQuery {
	q := r.URL.Query()
	first, _ := strconv.Atoi(q.Get("first"))
	reverse, _ := strconv.ParseBool(q.Get("reverse"))
	return models.ProductQuery{
		First:   first,
		After:   q.Get("after"),
		Query:   q.Get("query"),
		SortKey: q.Get("sort_key"),
		Reverse: reverse,
	}
}

// ListProducts godoc
// @Summary Товары магазина
// @Tags public
// @Produce json
// @Param shopDomain path string true "Домен магазина"
// @Param first query int false "Размер страницы (до 50)"
// @Param after query string false "Курсор"
// @Param query query string false "Поисковый запрос"
// @Param sort_key query string false "RELEVANCE, TITLE, PRICE, BEST_SELLING, CREATED_AT"
// @Param reverse query bool false "Обратный порядок"
// @Success 200 {object} response
// @Router /api/sites/{shopDomain}/products [get]
func (h *SiteHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	page, err := h.storefront.ListProducts(r.Context(), chi.URLParam(r, "shopDomain"), productQuery(r))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, page.Products, page.PageInfo)
}

// GetProduct godoc
// @Summary Товар по handle
// @Tags public
// @Produce json
// @Param shopDomain path string true "Домен магазина"
// @Param handle path string true "Handle товара"
// @Success 200 {object} response
// @Failure 404 {object} errorResponse
// @Router /api/sites/{shopDomain}/products/{handle} [get]
func (h *SiteHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.storefront.GetProduct(r.Context(), chi.URLParam(r, "shopDomain"), chi.URLParam(r, "handle"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, product, nil)
}

// ListCollections godoc
// @Summary Коллекции магазина
// @Tags public
// @Produce json
// @Param shopDomain path string true "Домен магазина"
// @Param first query int false "Количество"
// @Success 200 {object} response
// @Router /api/sites/{shopDomain}/collections [get]
func (h *SiteHandler) ListCollections(w http.ResponseWriter, r *http.Request) {
	first, _ := strconv.Atoi(r.URL.Query().Get("first"))
	collections, err := h.storefront.ListCollections(r.Context(), chi.URLParam(r, "shopDomain"), first)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, collections, nil)
}

// GetCollection godoc
// @Summary Коллекция с товарами
// @Tags public
// @Produce json
// @Param shopDomain path string true "Домен магазина"
// @Param handle path string true "Handle коллекции"
// @Success 200 {object} response
// @Failure 404 {object} errorResponse
// @Router /api/sites/{shopDomain}/collections/{handle} [get]
func (h *SiteHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	collection, err := h.storefront.GetCollection(r.Context(), chi.URLParam(r, "shopDomain"), chi.URLParam(r, "handle"), productQuery(r))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, collection, nil)
}

type checkoutRequest struct {
	Lines []models.CartLine `json:"lines"`
}

// Checkout godoc
// @Summary Создать корзину и получить ссылку на оплату
// @Tags public
// @Accept json
// @Produce json
// @Param shopDomain path string true "Домен магазина"
// @Param request body checkoutRequest true "Позиции корзины"
// @Success 201 {object} response
// @Failure 400 {object} errorResponse
// @Router /api/sites/{shopDomain}/checkout [post]
func (h *SiteHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	cart, err := h.storefront.Checkout(r.Context(), chi.URLParam(r, "shopDomain"), req.Lines)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusCreated, cart, nil)
}
