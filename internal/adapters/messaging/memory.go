package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/athebyme/minimall/pkg/interfaces"
	"github.com/athebyme/minimall/pkg/reqctx"
)

// MemoryBus синхронная шина в памяти процесса.
// Используется, когда Kafka выключена: обработчики воркера вызываются прямо в API
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[string]map[string]interfaces.MessageHandler
	logger   interfaces.LoggerPort
}

// NewMemoryBus создает шину в памяти
func NewMemoryBus(logger interfaces.LoggerPort) *MemoryBus {
	return &MemoryBus{
		handlers: make(map[string]map[string]interfaces.MessageHandler),
		logger:   logger,
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, message []byte) error {
	return b.PublishWithKey(ctx, topic, "", message)
}

// PublishWithKey доставляет сообщение всем подписчикам топика.
// Ошибки обработчиков логируются и не возвращаются издателю
func (b *MemoryBus) PublishWithKey(ctx context.Context, topic string, key string, message []byte) error {
	b.mu.RLock()
	handlers := make([]interfaces.MessageHandler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	msg := &interfaces.Message{
		ID:          uuid.NewString(),
		Topic:       topic,
		Key:         key,
		Value:       message,
		Headers:     map[string]string{},
		ShopDomain:  reqctx.ShopDomain(ctx),
		PublishedAt: time.Now(),
	}

	// обработчик не должен зависеть от отмены исходного запроса
	handlerCtx := context.WithoutCancel(ctx)
	for _, h := range handlers {
		if err := h(handlerCtx, msg); err != nil {
			b.logger.ErrorWithContext(ctx, "Ошибка обработки сообщения",
				interfaces.LogField{Key: "topic", Value: topic},
				interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, topic string, handler interfaces.MessageHandler) (func() error, error) {
	id := uuid.NewString()

	b.mu.Lock()
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[string]interfaces.MessageHandler)
	}
	b.handlers[topic][id] = handler
	b.mu.Unlock()

	return func() error {
		b.mu.Lock()
		delete(b.handlers[topic], id)
		b.mu.Unlock()
		return nil
	}, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.handlers = make(map[string]map[string]interfaces.MessageHandler)
	b.mu.Unlock()
	return nil
}

var _ interfaces.MessagingPort = (*MemoryBus)(nil)
