package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType = string

const (
	ConfigCreatedEvent   EventType = "config.created"
	ConfigUpdatedEvent   EventType = "config.updated"
	ConfigDeletedEvent   EventType = "config.deleted"
	ConfigPublishedEvent EventType = "config.published"
	UploadCompletedEvent EventType = "upload.completed"
)

// UploadPayload описывает завершенную загрузку
type UploadPayload struct {
	UploadID    string `json:"upload_id"`
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Event конверт события, который публикует API и читает воркер
type Event struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	ShopDomain string         `json:"shop_domain"`
	ConfigID   string         `json:"config_id,omitempty"`
	Version    int            `json:"version,omitempty"`
	Status     string         `json:"status,omitempty"` // статус конфигурации на момент события
	Upload     *UploadPayload `json:"upload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// NewConfigEvent создает событие изменения конфигурации
func NewConfigEvent(eventType EventType, shopDomain, configID string, version int) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		ShopDomain: shopDomain,
		ConfigID:   configID,
		Version:    version,
		OccurredAt: time.Now().UTC(),
	}
}

// NewUploadEvent создает событие о завершенной загрузке
func NewUploadEvent(shopDomain string, payload UploadPayload) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       UploadCompletedEvent,
		ShopDomain: shopDomain,
		Upload:     &payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Encode сериализует событие
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent разбирает событие из сообщения
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("некорректное событие: %w", err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("некорректное событие: пустой тип")
	}
	if e.Type == UploadCompletedEvent && e.Upload == nil {
		return Event{}, fmt.Errorf("некорректное событие %s: нет данных загрузки", e.Type)
	}
	return e, nil
}
