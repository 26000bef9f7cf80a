package handlers

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/athebyme/minimall/internal/adapters/cloudinary"
	"github.com/athebyme/minimall/internal/domain/models"
	"github.com/athebyme/minimall/internal/domain/services"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
	"github.com/athebyme/minimall/pkg/reqctx"
)

// Shops управление подключенными магазинами
type Shops interface {
	RegisterShop(ctx context.Context, domain, storefrontToken, name, currency string) (*models.Shop, error)
	DeleteShop(ctx context.Context, domain string) error
}

// MediaSigner подписывает прямые загрузки в Cloudinary
type MediaSigner interface {
	SignedUploadParams(folder, publicID string) (*cloudinary.UploadParams, error)
}

// Importer импорт публикаций из соцсетей
type Importer interface {
	AuthorizeURL(ctx context.Context, providerName, shopDomain, userID string) (string, error)
	Import(ctx context.Context, req services.ImportRequest) (*services.ImportResult, error)
}

// AdminHandler маршруты кабинета продавца, кроме конфигураций
type AdminHandler struct {
	shops       Shops
	media       MediaSigner
	importer    Importer
	mediaFolder string
	logger      interfaces.LoggerPort
}

func NewAdminHandler(shops Shops, media MediaSigner, importer Importer, mediaFolder string, logger interfaces.LoggerPort) *AdminHandler {
	return &AdminHandler{shops: shops, media: media, importer: importer, mediaFolder: mediaFolder, logger: logger}
}

type registerShopRequest struct {
	Domain          string `json:"domain" validate:"required"`
	StorefrontToken string `json:"storefront_token" validate:"required"`
	Name            string `json:"name"`
	Currency        string `json:"currency"`
}

// RegisterShop godoc
// @Summary Подключить магазин или обновить его токен
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body registerShopRequest true "Магазин"
// @Success 201 {object} response
// @Failure 400 {object} errorResponse
// @Failure 403 {object} errorResponse
// @Router /api/admin/shops [post]
func (h *AdminHandler) RegisterShop(w http.ResponseWriter, r *http.Request) {
	var req registerShopRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	if err := models.ValidateStruct(&req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	if err := canManageShop(r, req.Domain); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	shop, err := h.shops.RegisterShop(r.Context(), req.Domain, req.StorefrontToken, req.Name, req.Currency)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusCreated, shop, nil)
}

// DeleteShop godoc
// @Summary Отключить магазин
// @Tags admin
// @Security BearerAuth
// @Param shopDomain path string true "Домен магазина"
// @Success 204
// @Failure 404 {object} errorResponse
// @Router /api/admin/shops/{shopDomain} [delete]
func (h *AdminHandler) DeleteShop(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "shopDomain")
	if err := canManageShop(r, domain); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	if err := h.shops.DeleteShop(r.Context(), domain); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// canManageShop продавец управляет только своим магазином
func canManageShop(r *http.Request, domain string) error {
	if strings.TrimSpace(domain) == "" {
		return fmt.Errorf("%w: shop domain is required", apperrors.ErrValidation)
	}
	_, err := resolveShop(reqctx.Principal(r.Context()), domain)
	return err
}

type signRequest struct {
	PublicID string `json:"public_id" validate:"omitempty,max=200"`
}

// SignCloudinary godoc
// @Summary Подписанные параметры прямой загрузки в Cloudinary
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body signRequest false "Имя ресурса"
// @Success 200 {object} response
// @Failure 503 {object} errorResponse
// @Router /api/admin/media/cloudinary/sign [post]
func (h *AdminHandler) SignCloudinary(w http.ResponseWriter, r *http.Request) {
	shop, err := shopScope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	var req signRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			respondError(w, r, h.logger, err)
			return
		}
		if err := models.ValidateStruct(&req); err != nil {
			respondError(w, r, h.logger, err)
			return
		}
	}

	// ресурсы каждого магазина лежат в своей папке
	params, err := h.media.SignedUploadParams(path.Join(h.mediaFolder, shop), req.PublicID)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, params, nil)
}

type authorizeResponse struct {
	Provider string `json:"provider"`
	URL      string `json:"url"`
}

// AuthorizeImport godoc
// @Summary Ссылка на OAuth-авторизацию провайдера
// @Tags import
// @Security BearerAuth
// @Produce json
// @Param provider path string true "instagram или tiktok"
// @Success 200 {object} response
// @Failure 404 {object} errorResponse
// @Router /api/admin/import/{provider}/authorize [get]
func (h *AdminHandler) AuthorizeImport(w http.ResponseWriter, r *http.Request) {
	shop, err := shopScope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	provider := chi.URLParam(r, "provider")
	url, err := h.importer.AuthorizeURL(r.Context(), provider, shop, reqctx.UserID(r.Context()))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, authorizeResponse{Provider: provider, URL: url}, nil)
}

// Import godoc
// @Summary Импортировать публикации в категорию
// @Description Код авторизации обменивается на токен, новые публикации добавляются карточками
// @Tags import
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param provider path string true "instagram или tiktok"
// @Param request body services.ImportRequest true "Параметры импорта"
// @Success 200 {object} response
// @Failure 400 {object} errorResponse
// @Failure 401 {object} errorResponse
// @Router /api/admin/import/{provider} [post]
func (h *AdminHandler) Import(w http.ResponseWriter, r *http.Request) {
	shop, err := shopScope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	var req services.ImportRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	req.ShopDomain = shop
	req.Provider = chi.URLParam(r, "provider")
	req.UserID = reqctx.UserID(r.Context())

	result, err := h.importer.Import(r.Context(), req)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, result, nil)
}
