// Package worker обрабатывает события конфигураций и загрузок из шины сообщений
package worker

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/athebyme/minimall/internal/adapters/cloudinary"
	"github.com/athebyme/minimall/internal/adapters/messaging"
	"github.com/athebyme/minimall/internal/domain/models"
	apperrors "github.com/athebyme/minimall/pkg/errors"
	"github.com/athebyme/minimall/pkg/interfaces"
	"github.com/athebyme/minimall/pkg/reqctx"
)

// ConfigSource действующая опубликованная конфигурация и сброс кэша магазина
type ConfigSource interface {
	// LatestPublished читает базу напрямую, ErrNotFound если опубликованных нет
	LatestPublished(ctx context.Context, shopDomain string) (*models.SiteConfig, error)
	InvalidateCache(ctx context.Context, shopDomain string) error
}

// PublishedMirror копия опубликованных сайтов в R2
type PublishedMirror interface {
	SavePublished(ctx context.Context, cfg *models.SiteConfig) error
	DeletePublished(ctx context.Context, shopDomain string) error
}

// MediaPusher отправка загруженных изображений в Cloudinary
type MediaPusher interface {
	Enabled() bool
	UploadFromURL(ctx context.Context, fileURL, folder string) (*cloudinary.Asset, error)
}

type metrics struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "minimall_worker_messages_processed_total",
			Help: "Общее количество обработанных сообщений",
		}, []string{"topic", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "minimall_worker_message_processing_duration_seconds",
			Help:    "Длительность обработки сообщений",
			Buckets: prometheus.DefBuckets,
		}, []string{"topic"}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "minimall_worker_in_flight_messages",
			Help: "Сообщения в обработке",
		}),
	}
}

// Processor обработчик событий. Зеркало и Cloudinary необязательны
type Processor struct {
	configs     ConfigSource
	mirror      PublishedMirror
	media       MediaPusher
	mediaFolder string
	logger      interfaces.LoggerPort
	metrics     *metrics
}

// Option настраивает Processor
type Option func(*Processor)

// WithMirror включает зеркалирование опубликованных сайтов
func WithMirror(mirror PublishedMirror) Option {
	return func(p *Processor) { p.mirror = mirror }
}

// WithMedia включает отправку изображений в Cloudinary. Папка магазина создается внутри folder
func WithMedia(media MediaPusher, folder string) Option {
	return func(p *Processor) {
		p.media = media
		p.mediaFolder = folder
	}
}

// NewProcessor создает обработчик. reg может быть nil
func NewProcessor(configs ConfigSource, logger interfaces.LoggerPort, reg prometheus.Registerer, opts ...Option) *Processor {
	p := &Processor{
		configs: configs,
		logger:  logger,
		metrics: newMetrics(reg),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle реализует interfaces.MessageHandler.
// Ошибка возвращается, только если обработку стоит повторить
func (p *Processor) Handle(ctx context.Context, msg *interfaces.Message) error {
	start := time.Now()
	p.metrics.inFlight.Inc()
	defer p.metrics.inFlight.Dec()

	ev, err := messaging.DecodeEvent(msg.Value)
	if err != nil {
		// повтор не поможет
		p.logger.ErrorWithContext(ctx, "Ошибка декодирования события",
			interfaces.LogField{Key: "message_id", Value: msg.ID},
			interfaces.LogField{Key: "error", Value: err.Error()})
		p.metrics.processed.WithLabelValues(msg.Topic, "invalid").Inc()
		return nil
	}

	ctx = reqctx.WithShopDomain(ctx, ev.ShopDomain)

	switch ev.Type {
	case messaging.ConfigPublishedEvent, messaging.ConfigUpdatedEvent, messaging.ConfigCreatedEvent:
		err = p.configChanged(ctx, ev)
	case messaging.ConfigDeletedEvent:
		err = p.configDeleted(ctx, ev)
	case messaging.UploadCompletedEvent:
		err = p.uploadCompleted(ctx, ev)
	default:
		p.logger.WarnWithContext(ctx, "Неизвестный тип события", interfaces.LogField{Key: "event_type", Value: ev.Type})
		p.metrics.processed.WithLabelValues(msg.Topic, "unknown").Inc()
		return nil
	}

	if err != nil {
		p.logger.ErrorWithContext(ctx, "Ошибка обработки события",
			interfaces.LogField{Key: "event_type", Value: ev.Type},
			interfaces.LogField{Key: "event_id", Value: ev.ID},
			interfaces.LogField{Key: "error", Value: err.Error()})
		p.metrics.processed.WithLabelValues(msg.Topic, "error").Inc()
		return err
	}

	elapsed := time.Since(start)
	p.metrics.duration.WithLabelValues(msg.Topic).Observe(elapsed.Seconds())
	p.metrics.processed.WithLabelValues(msg.Topic, "success").Inc()
	p.logger.DebugWithContext(ctx, "Событие обработано",
		interfaces.LogField{Key: "event_type", Value: ev.Type},
		interfaces.LogField{Key: "event_id", Value: ev.ID},
		interfaces.LogField{Key: "duration_ms", Value: elapsed.Milliseconds()})
	return nil
}

// configChanged сбрасывает кэш магазина и обновляет зеркало, если изменилась опубликованная конфигурация
func (p *Processor) configChanged(ctx context.Context, ev messaging.Event) error {
	if err := p.configs.InvalidateCache(ctx, ev.ShopDomain); err != nil {
		return err
	}
	if p.mirror == nil || ev.Type == messaging.ConfigCreatedEvent || !touchesPublished(ev) {
		return nil
	}
	return p.syncMirror(ctx, ev.ShopDomain)
}

// configDeleted удаление черновика зеркало не трогает. После удаления
// опубликованной конфигурации зеркало переключается на предыдущую опубликованную
func (p *Processor) configDeleted(ctx context.Context, ev messaging.Event) error {
	if err := p.configs.InvalidateCache(ctx, ev.ShopDomain); err != nil {
		return err
	}
	if p.mirror == nil || !touchesPublished(ev) {
		return nil
	}
	return p.syncMirror(ctx, ev.ShopDomain)
}

// touchesPublished событие без статуса считается затрагивающим опубликованный сайт
func touchesPublished(ev messaging.Event) bool {
	return ev.Status == "" || ev.Status == string(models.StatusPublished)
}

// syncMirror приводит зеркало R2 к действующей опубликованной конфигурации из базы.
// Порядок событий не важен: зеркало всегда получает текущее состояние
func (p *Processor) syncMirror(ctx context.Context, shopDomain string) error {
	cfg, err := p.configs.LatestPublished(ctx, shopDomain)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		if err := p.mirror.DeletePublished(ctx, shopDomain); err != nil {
			return fmt.Errorf("delete published mirror: %w", err)
		}
		p.logger.InfoWithContext(ctx, "Опубликованных конфигураций нет, копия в R2 удалена")
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.mirror.SavePublished(ctx, cfg); err != nil {
		return fmt.Errorf("mirror published config: %w", err)
	}
	p.logger.InfoWithContext(ctx, "Опубликованная конфигурация скопирована в R2",
		interfaces.LogField{Key: "config_id", Value: cfg.ID},
		interfaces.LogField{Key: "version", Value: cfg.Version})
	return nil
}

// uploadCompleted отправляет изображения в Cloudinary для трансформаций
func (p *Processor) uploadCompleted(ctx context.Context, ev messaging.Event) error {
	if p.media == nil || !p.media.Enabled() || !strings.HasPrefix(ev.Upload.ContentType, "image/") {
		return nil
	}

	asset, err := p.media.UploadFromURL(ctx, ev.Upload.URL, path.Join(p.mediaFolder, ev.ShopDomain))
	if err != nil {
		return fmt.Errorf("push upload %s to cloudinary: %w", ev.Upload.UploadID, err)
	}
	p.logger.InfoWithContext(ctx, "Изображение отправлено в Cloudinary",
		interfaces.LogField{Key: "upload_id", Value: ev.Upload.UploadID},
		interfaces.LogField{Key: "public_id", Value: asset.PublicID})
	return nil
}
