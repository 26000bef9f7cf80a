package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

// Uploads сервис chunked-загрузок
type Uploads interface {
	Initiate(ctx context.Context, shopDomain, filename, contentType string, totalSize, chunkSize int64) (*models.UploadSession, error)
	UploadChunk(ctx context.Context, id string, index int, data []byte) (*models.UploadProgress, error)
	Cancel(ctx context.Context, id string) error
	Status(ctx context.Context, id string) (*models.UploadProgress, error)
}

// CSRFIssuer выпускает CSRF-токен для сессии браузера
type CSRFIssuer interface {
	IssueForRequest(w http.ResponseWriter, r *http.Request) (string, time.Time, error)
}

type UploadHandler struct {
	uploads      Uploads
	maxChunkSize int64
	logger       interfaces.LoggerPort
}

func NewUploadHandler(uploads Uploads, maxChunkSize int64, logger interfaces.LoggerPort) *UploadHandler {
	return &UploadHandler{uploads: uploads, maxChunkSize: maxChunkSize, logger: logger}
}

type initiateRequest struct {
	ShopDomain  string `json:"shop_domain" validate:"required"`
	Filename    string `json:"filename" validate:"required,max=255"`
	ContentType string `json:"content_type" validate:"required"`
	TotalSize   int64  `json:"total_size" validate:"gt=0"`
	ChunkSize   int64  `json:"chunk_size" validate:"gte=0"`
}

type initiateResponse struct {
	UploadID    string    `json:"upload_id"`
	Key         string    `json:"key"`
	ChunkSize   int64     `json:"chunk_size"`
	TotalChunks int       `json:"total_chunks"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Initiate godoc
// @Summary Начать chunked-загрузку
// @Tags upload
// @Accept json
// @Produce json
// @Param X-CSRF-Token header string true "CSRF-токен"
// @Param request body initiateRequest true "Параметры файла"
// @Success 201 {object} response
// @Failure 400 {object} errorResponse
// @Failure 413 {object} errorResponse
// @Failure 415 {object} errorResponse
// @Router /api/upload/initiate [post]
func (h *UploadHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	if err := models.ValidateStruct(&req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	session, err := h.uploads.Initiate(r.Context(), req.ShopDomain, req.Filename, req.ContentType, req.TotalSize, req.ChunkSize)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	respond(w, r, http.StatusCreated, initiateResponse{
		UploadID:    session.ID,
		Key:         session.Key,
		ChunkSize:   session.ChunkSize,
		TotalChunks: session.TotalChunks,
		ExpiresAt:   session.ExpiresAt,
	}, nil)
}

// Chunk godoc
// @Summary Отправить чанк
// @Description Тело запроса содержит байты чанка. После последнего чанка загрузка завершается
// @Tags upload
// @Accept octet-stream
// @Produce json
// @Param X-CSRF-Token header string true "CSRF-токен"
// @Param uploadId query string true "Идентификатор загрузки"
// @Param chunkIndex query int true "Индекс чанка, с нуля"
// @Success 200 {object} response
// @Failure 400 {object} errorResponse
// @Failure 404 {object} errorResponse
// @Router /api/upload/chunk [post]
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	id := q.Get("uploadId")
	if id == "" {
		respondMessage(w, r, http.StatusBadRequest, "validation_error", "uploadId is required")
		return
	}
	index, err := strconv.Atoi(q.Get("chunkIndex"))
	if err != nil {
		respondMessage(w, r, http.StatusBadRequest, "validation_error", "chunkIndex must be an integer")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxChunkSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondError(w, r, h.logger, fmt.Errorf("%w: chunk exceeds %d bytes", apperrors.ErrUploadInvalidChunk, maxErr.Limit))
			return
		}
		respondError(w, r, h.logger, fmt.Errorf("%w: failed to read chunk: %v", apperrors.ErrValidation, err))
		return
	}

	progress, err := h.uploads.UploadChunk(r.Context(), id, index, data)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, progress, nil)
}

type cancelRequest struct {
	UploadID string `json:"upload_id" validate:"required"`
}

// Cancel godoc
// @Summary Отменить загрузку
// @Tags upload
// @Accept json
// @Produce json
// @Param X-CSRF-Token header string true "CSRF-токен"
// @Param request body cancelRequest true "Загрузка"
// @Success 200 {object} response
// @Failure 404 {object} errorResponse
// @Router /api/upload/cancel [post]
func (h *UploadHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	if err := models.ValidateStruct(&req); err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	if err := h.uploads.Cancel(r.Context(), req.UploadID); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, map[string]string{"upload_id": req.UploadID, "status": "cancelled"}, nil)
}

// Status godoc
// @Summary Прогресс загрузки
// @Tags upload
// @Produce json
// @Param uploadId path string true "Идентификатор загрузки"
// @Success 200 {object} response
// @Failure 404 {object} errorResponse
// @Router /api/upload/{uploadId} [get]
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	progress, err := h.uploads.Status(r.Context(), chi.URLParam(r, "uploadId"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	respond(w, r, http.StatusOK, progress, nil)
}

// CSRFHandler выдает CSRF-токен
type CSRFHandler struct {
	issuer CSRFIssuer
	logger interfaces.LoggerPort
}

func NewCSRFHandler(issuer CSRFIssuer, logger interfaces.LoggerPort) *CSRFHandler {
	return &CSRFHandler{issuer: issuer, logger: logger}
}

type csrfResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Token godoc
// @Summary Получить CSRF-токен
// @Description Выставляет cookie сессии и токена. Токен нужно передавать в заголовке X-CSRF-Token
// @Tags security
// @Produce json
// @Success 200 {object} response
// @Router /api/csrf [get]
func (h *CSRFHandler) Token(w http.ResponseWriter, r *http.Request) {
	token, expiresAt, err := h.issuer.IssueForRequest(w, r)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	respond(w, r, http.StatusOK, csrfResponse{Token: token, ExpiresAt: expiresAt}, nil)
}
