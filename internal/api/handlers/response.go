package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/render"

	"github.com/athebyme/minimall/internal/domain/models"
	"github.com/athebyme/minimall/internal/utils"
	"github.com/athebyme/minimall/pkg/auth"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
	"github.com/athebyme/minimall/pkg/reqctx"
)

// errorResponse представляет структуру ответа с ошибкой
type errorResponse struct {
	Error   string              `json:"error"`
	Code    int                 `json:"code"`
	Message string              `json:"message,omitempty"`
	Fields  []models.FieldError `json:"fields,omitempty"`
}

// response представляет структуру успешного ответа
type response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

func respond(w http.ResponseWriter, r *http.Request, status int, data, meta interface{}) {
	render.Status(r, status)
	render.JSON(w, r, response{Success: true, Data: data, Meta: meta})
}

func respondMessage(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: code, Code: status, Message: message})
}

// errorStatus сопоставляет доменную ошибку с HTTP-статусом
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperrors.ErrUploadNotFound):
		return http.StatusNotFound, "upload_not_found"
	case errors.Is(err, apperrors.ErrUploadInvalidChunk):
		return http.StatusBadRequest, "invalid_chunk"
	case errors.Is(err, apperrors.ErrUploadTooLarge):
		return http.StatusRequestEntityTooLarge, "upload_too_large"
	case errors.Is(err, apperrors.ErrUploadContentType):
		return http.StatusUnsupportedMediaType, "unsupported_content_type"
	case errors.Is(err, apperrors.ErrUnknownProvider):
		return http.StatusNotFound, "unknown_provider"
	case errors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperrors.ErrLockTimeout):
		return http.StatusConflict, "busy"
	case errors.Is(err, apperrors.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperrors.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, apperrors.ErrNotConfigured):
		return http.StatusServiceUnavailable, "not_configured"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// respondError отвечает ошибкой. Внутренние ошибки не раскрываются клиенту и уходят в Sentry
func respondError(w http.ResponseWriter, r *http.Request, logger interfaces.LoggerPort, err error) {
	status, code := errorStatus(err)
	body := errorResponse{Error: code, Code: status, Message: err.Error()}

	var verr *models.ValidationError
	if errors.As(err, &verr) {
		body.Fields = verr.Fields
	}

	if status >= http.StatusInternalServerError {
		logger.ErrorWithContext(r.Context(), "Ошибка обработки запроса",
			interfaces.LogField{Key: "error", Value: err.Error()},
			interfaces.LogField{Key: "path", Value: r.URL.Path})
		if status == http.StatusInternalServerError {
			body.Message = "internal server error"
			if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
				hub.CaptureException(err)
			}
		}
	}

	render.Status(r, status)
	render.JSON(w, r, body)
}

// decodeJSON читает тело запроса в dst. Неизвестные поля отклоняются
func decodeJSON(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("%w: empty body", apperrors.ErrValidation)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("%w: body exceeds %d bytes", apperrors.ErrUploadTooLarge, maxErr.Limit)
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", apperrors.ErrValidation)
		}
		return fmt.Errorf("%w: malformed JSON: %s", apperrors.ErrValidation, err.Error())
	}
	return nil
}

// shopScope возвращает магазин, с которым работает администратор.
// Администратор платформы может выбрать магазин параметром ?shop=
func shopScope(r *http.Request) (string, error) {
	return resolveShop(reqctx.Principal(r.Context()), r.URL.Query().Get("shop"))
}

func resolveShop(principal *interfaces.Principal, requested string) (string, error) {
	if principal == nil {
		return "", apperrors.ErrUnauthorized
	}

	requested = strings.TrimSpace(requested)
	if principal.HasRole(auth.RoleAdmin) && requested != "" {
		return requested, nil
	}
	if principal.ShopDomain == "" {
		return "", fmt.Errorf("%w: account is not bound to a shop", apperrors.ErrForbidden)
	}
	if requested != "" {
		want, err := utils.NormalizeShopDomain(requested)
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
		}
		own, _ := utils.NormalizeShopDomain(principal.ShopDomain)
		if want != own {
			return "", fmt.Errorf("%w: shop %s", apperrors.ErrForbidden, want)
		}
	}
	return principal.ShopDomain, nil
}
