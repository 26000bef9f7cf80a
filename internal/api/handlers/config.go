package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/athebyme/minimall/internal/domain/models"
	"github.com/athebyme/minimall/pkg/interfaces"
	"github.com/athebyme/minimall/pkg/reqctx"
	"github.com/athebyme/minimall/pkg/utils"
)

// Configs сервис конфигураций сайтов
type Configs interface {
	CreateConfig(ctx context.Context, shopDomain string, input *models.SiteConfig, userID string) (*models.SiteConfig, error)
	GetConfig(ctx context.Context, shopDomain, id string) (*models.SiteConfig, error)
	ListConfigs(ctx context.Context, shopDomain string, page, pageSize int) ([]*models.SiteConfig, int, error)
	UpdateConfig(ctx context.Context, shopDomain, id string, input *models.SiteConfig, expectedVersion int, userID, note string) (*models.SiteConfig, error)
	DeleteConfig(ctx context.Context, shopDomain, id string) error
	PublishConfig(ctx context.Context, shopDomain, id, userID string) (*models.SiteConfig, error)
	ListVersions(ctx context.Context, shopDomain, id string, limit, offset int) ([]*models.ConfigVersion, error)
	RestoreVersion(ctx context.Context, shopDomain, id string, version int, userID string) (*models.SiteConfig, error)
}

// ConfigHandler обработчик запросов к конфигурациям сайтов
type ConfigHandler struct {
	configs Configs
	logger  interfaces.LoggerPort
}

// NewConfigHandler создает новый обработчик конфигураций
func NewConfigHandler(configs Configs, logger interfaces.LoggerPort) *ConfigHandler {
	return &ConfigHandler{configs: configs, logger: logger}
}

// updateConfigRequest документ и версия, от которой клиент вносил изменения
type updateConfigRequest struct {
	Config          *models.SiteConfig `json:"config"`
	ExpectedVersion int                `json:"expected_version"`
	ChangeNote      string             `json:"change_note" validate:"max=500"`
}

// CreateConfig godoc
// @Summary Создать конфигурацию сайта
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param shop query string false "Магазин (только для роли admin)"
// @Param request body models.SiteConfig true "Конфигурация"
// @Success 201 {object} response
// @Failure 400 {object} errorResponse
// @Router /api/admin/configs [post]
func (h *ConfigHandler) CreateConfig(w http.ResponseWriter, r *http.Request) {
	shop, err := shopScope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	var input models.SiteConfig
	if err := decodeJSON(r, &input); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	cfg, err := h.configs.CreateConfig(r.Context(), shop, &input, reqctx.UserID(r.Context()))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Location", "/api/admin/configs/"+cfg.ID)
	respond(w, r, http.StatusCreated, cfg, nil)
}

// ListConfigs godoc
// @Summary Конфигурации магазина
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param page query int false "Страница"
// @Param page_size query int false "Размер страницы"
// @Success 200 {object} response
// @Router /api/admin/configs [get]
func (h *ConfigHandler) ListConfigs(w http.ResponseWriter, r *http.Request) {
	shop, err := shopScope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	pagination := utils.PaginationFromQuery(r.URL.Query())
	configs, total, err := h.configs.ListConfigs(r.Context(), shop, pagination.Page, pagination.PageSize)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	pagination.SetTotal(int64(total))
	respond(w, r, http.StatusOK, configs, pagination)
}

// GetConfig godoc
// @Summary Конфигурация по идентификатору
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "ID конфигурации"
// @Success 200 {object} response
// @Failure 404 {object} errorResponse
// @Router /api/admin/configs/{id} [get]
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	shop, err := shopScope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	cfg, err := h.configs.GetConfig(r.Context(), shop, chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, cfg, nil)
}

// UpdateConfig godoc
// @Summary Обновить конфигурацию
// @Description expected_version включает оптимистичную блокировку: при расхождении вернется 409
// @Tags admin
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "ID конфигурации"
// @Param request body updateConfigRequest true "Новое содержимое"
// @Success 200 {object} response
// @Failure 409 {object} errorResponse
// @Router /api/admin/configs/{id} [put]
func (h *ConfigHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	shop, err := shopScope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	var req updateConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	if req.Config == nil {
		respondMessage(w, r, http.StatusBadRequest, "validation_error", "config is required")
		return
	}
	if err := models.ValidateStruct(&req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	cfg, err := h.configs.UpdateConfig(r.Context(), shop, chi.URLParam(r, "id"), req.Config,
		req.ExpectedVersion, reqctx.UserID(r.Context()), req.ChangeNote)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, cfg, nil)
}

// DeleteConfig godoc
// @Summary Удалить конфигурацию вместе с историей
// @Tags admin
// @Security BearerAuth
// @Param id path string true "ID конфигурации"
// @Success 204
// @Failure 404 {object} errorResponse
// @Router /api/admin/configs/{id} [delete]
func (h *ConfigHandler) DeleteConfig(w http.ResponseWriter, r *http.Request) {
	shop, err := shopScope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	if err := h.configs.DeleteConfig(r.Context(), shop, chi.URLParam(r, "id")); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PublishConfig godoc
// @Summary Опубликовать конфигурацию
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "ID конфигурации"
// @Success 200 {object} response
// @Router /api/admin/configs/{id}/publish [post]
func (h *ConfigHandler) PublishConfig(w http.ResponseWriter, r *http.Request) {
	shop, err := shopScope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	cfg, err := h.configs.PublishConfig(r.Context(), shop, chi.URLParam(r, "id"), reqctx.UserID(r.Context()))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, cfg, nil)
}

// ListVersions godoc
// @Summary История версий
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "ID конфигурации"
// @Param page query int false "Страница"
// @Param page_size query int false "Размер страницы"
// @Success 200 {object} response
// @Router /api/admin/configs/{id}/versions [get]
func (h *ConfigHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	shop, err := shopScope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	pagination := utils.PaginationFromQuery(r.URL.Query())
	versions, err := h.configs.ListVersions(r.Context(), shop, chi.URLParam(r, "id"), pagination.Limit(), pagination.Offset())
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, versions, pagination)
}

// RestoreVersion godoc
// @Summary Восстановить версию
// @Description Содержимое версии копируется в новую версию, статус публикации сохраняется
// @Tags admin
// @Security BearerAuth
// @Produce json
// @Param id path string true "ID конфигурации"
// @Param version path int true "Номер версии"
// @Success 200 {object} response
// @Failure 404 {object} errorResponse
// @Router /api/admin/configs/{id}/versions/{version}/restore [post]
func (h *ConfigHandler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	shop, err := shopScope(r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		respondMessage(w, r, http.StatusBadRequest, "validation_error", "version must be a positive integer")
		return
	}

	cfg, err := h.configs.RestoreVersion(r.Context(), shop, chi.URLParam(r, "id"), version, reqctx.UserID(r.Context()))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, cfg, nil)
}
