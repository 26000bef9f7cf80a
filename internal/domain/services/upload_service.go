package services

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/athebyme/minimall/internal/adapters/messaging"
	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
)

const (
	// maxUploadParts ограничение S3 на число частей
	maxUploadParts = 10000
	lockWait       = 10 * time.Second
	lockTTL        = 2 * time.Minute
)

var extRe = regexp.MustCompile(`^\.[a-z0-9]{1,8}$`)

// UploadConfig ограничения загрузок
type UploadConfig struct {
	MaxFileSize         int64
	MinChunkSize        int64
	MaxChunkSize        int64
	SessionTTL          time.Duration
	AllowedContentTypes []string
}

type uploadMetrics struct {
	sessions *prometheus.CounterVec
	bytes    prometheus.Counter
}

func newUploadMetrics(reg prometheus.Registerer) *uploadMetrics {
	factory := promauto.With(reg)
	return &uploadMetrics{
		sessions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "minimall_upload_sessions_total",
			Help: "Upload sessions by outcome",
		}, []string{"result"}),
		bytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "minimall_upload_bytes_total",
			Help: "Bytes accepted by chunk uploads",
		}),
	}
}

// UploadService принимает файлы частями и собирает их multipart-загрузкой в R2
type UploadService struct {
	objects  interfaces.ObjectStorePort
	sessions UploadSessionStore
	locker   interfaces.LockerPort
	events   *EventPublisher
	logger   interfaces.LoggerPort
	cfg      UploadConfig
	metrics  *uploadMetrics
	now      func() time.Time
	lockWait time.Duration
}

// NewUploadService создает сервис загрузок. reg может быть nil
func NewUploadService(objects interfaces.ObjectStorePort, sessions UploadSessionStore, locker interfaces.LockerPort,
	cfg UploadConfig, events *EventPublisher, logger interfaces.LoggerPort, reg prometheus.Registerer) *UploadService {
	return &UploadService{
		objects:  objects,
		sessions: sessions,
		locker:   locker,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		metrics:  newUploadMetrics(reg),
		now:      time.Now,
		lockWait: lockWait,
	}
}

// contentTypeAllowed поддерживает точные типы и маски вида image/*
func (s *UploadService) contentTypeAllowed(contentType string) bool {
	if len(s.cfg.AllowedContentTypes) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedContentTypes {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == contentType {
			return true
		}
		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(contentType, prefix+"/") {
			return true
		}
	}
	return false
}

// objectKey строит ключ uploads/{shop}/{yyyy}/{mm}/{uuid}{ext}
func objectKey(shop, id, filename string, now time.Time) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if !extRe.MatchString(ext) {
		ext = ""
	}
	return fmt.Sprintf("uploads/%s/%04d/%02d/%s%s", shop, now.Year(), int(now.Month()), id, ext)
}

// Initiate открывает сессию загрузки и multipart-загрузку в R2
func (s *UploadService) Initiate(ctx context.Context, shopDomain, filename, contentType string, totalSize, chunkSize int64) (*models.UploadSession, error) {
	shop, err := normalizeShop(shopDomain)
	if err != nil {
		return nil, err
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUploadContentType, contentType)
	}
	if !s.contentTypeAllowed(mediaType) {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUploadContentType, mediaType)
	}

	if totalSize <= 0 {
		return nil, fmt.Errorf("%w: total size must be positive", apperrors.ErrValidation)
	}
	if s.cfg.MaxFileSize > 0 && totalSize > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d > %d bytes", apperrors.ErrUploadTooLarge, totalSize, s.cfg.MaxFileSize)
	}

	if chunkSize <= 0 {
		chunkSize = s.cfg.MinChunkSize
	}
	if chunkSize > s.cfg.MaxChunkSize {
		return nil, fmt.Errorf("%w: chunk size %d exceeds %d", apperrors.ErrValidation, chunkSize, s.cfg.MaxChunkSize)
	}
	if chunkSize >= totalSize {
		chunkSize = totalSize
	} else if chunkSize < s.cfg.MinChunkSize {
		return nil, fmt.Errorf("%w: chunk size %d is below %d", apperrors.ErrValidation, chunkSize, s.cfg.MinChunkSize)
	}

	totalChunks := int((totalSize + chunkSize - 1) / chunkSize)
	if totalChunks > maxUploadParts {
		return nil, fmt.Errorf("%w: %d chunks exceed %d", apperrors.ErrValidation, totalChunks, maxUploadParts)
	}

	now := s.now().UTC()
	id := uuid.NewString()
	key := objectKey(shop, id, filename, now)

	uploadID, err := s.objects.CreateMultipartUpload(ctx, key, mediaType)
	if err != nil {
		return nil, fmt.Errorf("failed to start multipart upload: %w", err)
	}

	session := &models.UploadSession{
		ID:          id,
		ShopDomain:  shop,
		Key:         key,
		R2UploadID:  uploadID,
		Filename:    filepath.Base(filename),
		ContentType: mediaType,
		TotalSize:   totalSize,
		ChunkSize:   chunkSize,
		TotalChunks: totalChunks,
		Parts:       map[int]string{},
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.SessionTTL),
	}

	if err := s.sessions.Save(ctx, session); err != nil {
		s.abort(context.WithoutCancel(ctx), session)
		return nil, fmt.Errorf("failed to save upload session: %w", err)
	}

	s.metrics.sessions.WithLabelValues("initiated").Inc()
	s.logger.InfoWithContext(ctx, "Загрузка начата",
		interfaces.LogField{Key: "upload_id", Value: id},
		interfaces.LogField{Key: "key", Value: key},
		interfaces.LogField{Key: "total_chunks", Value: totalChunks})

	return session, nil
}

// lock сериализует изменения одной сессии
func (s *UploadService) lock(ctx context.Context, id string) (func(), error) {
	lockCtx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()
	return s.locker.Lock(lockCtx, "upload:"+id, lockTTL)
}

// UploadChunk принимает чанк с индексом index. Повторная отправка индекса заменяет часть.
// Когда приняты все чанки, загрузка завершается и возвращается результат.
// Части грузятся в R2 параллельно, блокировка берется только на запись ETag
func (s *UploadService) UploadChunk(ctx context.Context, id string, index int, data []byte) (*models.UploadProgress, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if index < 0 || index >= session.TotalChunks {
		return nil, fmt.Errorf("%w: index %d out of range [0, %d)", apperrors.ErrUploadInvalidChunk, index, session.TotalChunks)
	}
	if expected := session.ExpectedChunkSize(index); int64(len(data)) != expected {
		return nil, fmt.Errorf("%w: chunk %d has %d bytes, expected %d", apperrors.ErrUploadInvalidChunk, index, len(data), expected)
	}

	etag, err := s.objects.UploadPart(ctx, session.Key, session.R2UploadID, index+1, data)
	if err != nil {
		s.metrics.sessions.WithLabelValues("part_failed").Inc()
		return nil, fmt.Errorf("failed to upload part %d: %w", index+1, err)
	}
	s.metrics.bytes.Add(float64(len(data)))

	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// пока грузилась часть, сессию могли завершить или отменить
	session, err = s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	session.Parts[index] = etag

	progress := &models.UploadProgress{
		UploadID:       session.ID,
		ReceivedChunks: session.ReceivedChunks(),
		TotalChunks:    session.TotalChunks,
	}

	if !session.IsComplete() {
		if err := s.sessions.Save(ctx, session); err != nil {
			return nil, fmt.Errorf("failed to save upload session: %w", err)
		}
		return progress, nil
	}

	result, err := s.complete(ctx, session)
	if err != nil {
		return nil, err
	}
	progress.Completed = true
	progress.Result = result
	return progress, nil
}

func (s *UploadService) complete(ctx context.Context, session *models.UploadSession) (*models.UploadResult, error) {
	if _, err := s.objects.CompleteMultipartUpload(ctx, session.Key, session.R2UploadID, session.CompletedParts()); err != nil {
		// сессия остается: повторная отправка последнего чанка повторит завершение
		if saveErr := s.sessions.Save(ctx, session); saveErr != nil {
			s.logger.WarnWithContext(ctx, "Ошибка сохранения сессии загрузки", interfaces.LogField{Key: "error", Value: saveErr.Error()})
		}
		s.metrics.sessions.WithLabelValues("complete_failed").Inc()
		return nil, fmt.Errorf("failed to complete upload: %w", err)
	}

	if err := s.sessions.Delete(ctx, session.ID); err != nil {
		s.logger.WarnWithContext(ctx, "Ошибка удаления сессии загрузки", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	result := &models.UploadResult{
		URL:         s.objects.PublicURL(session.Key),
		Key:         session.Key,
		Size:        session.TotalSize,
		ContentType: session.ContentType,
	}

	s.metrics.sessions.WithLabelValues("completed").Inc()
	s.logger.InfoWithContext(ctx, "Загрузка завершена",
		interfaces.LogField{Key: "upload_id", Value: session.ID},
		interfaces.LogField{Key: "key", Value: session.Key},
		interfaces.LogField{Key: "size", Value: session.TotalSize})
	s.events.UploadCompleted(ctx, session.ShopDomain, messaging.UploadPayload{
		UploadID:    session.ID,
		Key:         result.Key,
		URL:         result.URL,
		ContentType: result.ContentType,
		Size:        result.Size,
	})

	return result, nil
}

// Cancel прерывает загрузку и удаляет сессию
func (s *UploadService) Cancel(ctx context.Context, id string) error {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.objects.AbortMultipartUpload(ctx, session.Key, session.R2UploadID); err != nil {
		return fmt.Errorf("failed to abort upload: %w", err)
	}
	if err := s.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete upload session: %w", err)
	}

	s.metrics.sessions.WithLabelValues("cancelled").Inc()
	s.logger.InfoWithContext(ctx, "Загрузка отменена", interfaces.LogField{Key: "upload_id", Value: id})
	return nil
}

// Status возвращает прогресс загрузки
func (s *UploadService) Status(ctx context.Context, id string) (*models.UploadProgress, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.UploadProgress{
		UploadID:       session.ID,
		ReceivedChunks: session.ReceivedChunks(),
		TotalChunks:    session.TotalChunks,
	}, nil
}

// ExpireSession прерывает multipart-загрузку истекшей сессии.
// Передается в NewMemorySessionStore как onExpire
func (s *UploadService) ExpireSession(session *models.UploadSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.abort(ctx, session)
	s.metrics.sessions.WithLabelValues("expired").Inc()
	s.logger.Info("Сессия загрузки истекла",
		interfaces.LogField{Key: "upload_id", Value: session.ID},
		interfaces.LogField{Key: "received_chunks", Value: session.ReceivedChunks()})
}

func (s *UploadService) abort(ctx context.Context, session *models.UploadSession) {
	if err := s.objects.AbortMultipartUpload(ctx, session.Key, session.R2UploadID); err != nil {
		s.logger.Warn("Ошибка прерывания multipart-загрузки",
			interfaces.LogField{Key: "upload_id", Value: session.ID},
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
}
