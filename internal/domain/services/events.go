package services

import (
	"context"

	"github.com/athebyme/minimall/internal/adapters/messaging"
	"github.com/athebyme/minimall/internal/domain/models"
	"github.com/athebyme/minimall/pkg/interfaces"
	"github.com/athebyme/minimall/pkg/reqctx"
)

// EventPublisher публикует доменные события после фиксации изменений.
// Ошибки публикации только логируются: данные уже сохранены
type EventPublisher struct {
	bus         interfaces.MessagingPort
	configTopic string
	uploadTopic string
	logger      interfaces.LoggerPort
}

// NewEventPublisher создает издателя событий. bus может быть nil, тогда события не отправляются
func NewEventPublisher(bus interfaces.MessagingPort, configTopic, uploadTopic string, logger interfaces.LoggerPort) *EventPublisher {
	return &EventPublisher{bus: bus, configTopic: configTopic, uploadTopic: uploadTopic, logger: logger}
}

// ConfigChanged публикует событие изменения конфигурации
func (p *EventPublisher) ConfigChanged(ctx context.Context, eventType messaging.EventType, cfg *models.SiteConfig) {
	if p == nil || p.bus == nil {
		return
	}
	ev := messaging.NewConfigEvent(eventType, cfg.ShopDomain, cfg.ID, cfg.Version)
	ev.Status = string(cfg.Status)
	p.publish(ctx, p.configTopic, ev)
}

// UploadCompleted публикует событие о завершенной загрузке
func (p *EventPublisher) UploadCompleted(ctx context.Context, shopDomain string, payload messaging.UploadPayload) {
	if p == nil || p.bus == nil {
		return
	}
	p.publish(ctx, p.uploadTopic, messaging.NewUploadEvent(shopDomain, payload))
}

func (p *EventPublisher) publish(ctx context.Context, topic string, ev messaging.Event) {
	data, err := ev.Encode()
	if err != nil {
		p.logger.ErrorWithContext(ctx, "Ошибка сериализации события", interfaces.LogField{Key: "error", Value: err.Error()})
		return
	}

	// ключ по магазину сохраняет порядок событий одного магазина
	ctx = reqctx.WithShopDomain(ctx, ev.ShopDomain)
	if err := p.bus.PublishWithKey(ctx, topic, ev.ShopDomain, data); err != nil {
		p.logger.ErrorWithContext(ctx, "Ошибка публикации события",
			interfaces.LogField{Key: "type", Value: ev.Type},
			interfaces.LogField{Key: "topic", Value: topic},
			interfaces.LogField{Key: "error", Value: err.Error()})
		return
	}

	p.logger.DebugWithContext(ctx, "Событие опубликовано",
		interfaces.LogField{Key: "type", Value: ev.Type},
		interfaces.LogField{Key: "event_id", Value: ev.ID})
}
