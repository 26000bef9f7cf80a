package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"

	"github.com/athebyme/minimall/pkg/interfaces"
	"github.com/athebyme/minimall/pkg/reqctx"
)

const (
	headerMessageID  = "message_id"
	headerTimestamp  = "timestamp"
	headerShopDomain = "shop_domain"
	headerRequestID  = "request_id"
	headerError      = "error"
	headerSrcTopic   = "source_topic"
)

// KafkaConfig параметры подключения
type KafkaConfig struct {
	Brokers         []string
	GroupID         string
	ClientID        string
	DeadLetterTopic string
	// HandlerRetries число повторов обработчика перед отправкой в dead-letter
	HandlerRetries int
}

// subscription активная подписка на топик
type subscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
	done     chan struct{}
}

// KafkaMessaging реализация MessagingPort с использованием Kafka
type KafkaMessaging struct {
	producer *kafka.Producer
	cfg      KafkaConfig
	logger   interfaces.LoggerPort

	subsMu sync.Mutex
	subs   map[string]*subscription

	eventsDone chan struct{}
}

// NewKafkaMessaging создает новый экземпляр KafkaMessaging
func NewKafkaMessaging(cfg KafkaConfig, logger interfaces.LoggerPort) (*KafkaMessaging, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "minimall"
	}
	if cfg.HandlerRetries <= 0 {
		cfg.HandlerRetries = 3
	}

	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":            strings.Join(cfg.Brokers, ","),
		"client.id":                    cfg.ClientID + "-producer",
		"acks":                         "all", // максимальная надежность
		"enable.idempotence":           true,
		"retries":                      5,
		"retry.backoff.ms":             500,
		"compression.type":             "snappy",
		"linger.ms":                    10, // небольшая задержка для батчинга
		"message.max.bytes":            1000000,
		"queue.buffering.max.messages": 100000, // размер внутреннего буфера
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Kafka producer: %w", err)
	}

	k := &KafkaMessaging{
		producer:   producer,
		cfg:        cfg,
		logger:     logger,
		subs:       make(map[string]*subscription),
		eventsDone: make(chan struct{}),
	}
	go k.deliveryReports()

	return k, nil
}

// deliveryReports логирует неудачные доставки асинхронного producer
func (k *KafkaMessaging) deliveryReports() {
	defer close(k.eventsDone)
	for ev := range k.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				k.logger.Error("Ошибка доставки сообщения в Kafka",
					interfaces.LogField{Key: "topic", Value: topicOf(e)},
					interfaces.LogField{Key: "error", Value: e.TopicPartition.Error.Error()})
			}
		case kafka.Error:
			k.logger.Warn("Ошибка Kafka producer", interfaces.LogField{Key: "error", Value: e.Error()})
		}
	}
}

// buildMessage преобразует сообщение в kafka.Message, добавляя служебные заголовки из контекста
func buildMessage(ctx context.Context, topic string, message []byte, key string, headers map[string]string) *kafka.Message {
	kafkaHeaders := make([]kafka.Header, 0, len(headers)+4)
	for k, v := range headers {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: k, Value: []byte(v)})
	}

	// Добавляем служебные заголовки
	kafkaHeaders = append(kafkaHeaders,
		kafka.Header{Key: headerMessageID, Value: []byte(uuid.NewString())},
		kafka.Header{Key: headerTimestamp, Value: []byte(strconv.FormatInt(time.Now().UnixNano(), 10))},
	)
	if shop := reqctx.ShopDomain(ctx); shop != "" {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: headerShopDomain, Value: []byte(shop)})
	}
	if reqID := reqctx.RequestID(ctx); reqID != "" {
		kafkaHeaders = append(kafkaHeaders, kafka.Header{Key: headerRequestID, Value: []byte(reqID)})
	}

	var keyBytes []byte
	if key != "" {
		keyBytes = []byte(key)
	}

	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Value:          message,
		Key:            keyBytes,
		Headers:        kafkaHeaders,
	}
}

// toMessage преобразует kafka.Message в Message
func toMessage(msg *kafka.Message) *interfaces.Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, header := range msg.Headers {
		headers[header.Key] = string(header.Value)
	}

	// Время публикации из заголовка, иначе время записи в брокер
	publishedAt := msg.Timestamp
	if ts, err := strconv.ParseInt(headers[headerTimestamp], 10, 64); err == nil {
		publishedAt = time.Unix(0, ts)
	}

	return &interfaces.Message{
		ID:          headers[headerMessageID],
		Topic:       topicOf(msg),
		Key:         string(msg.Key),
		Value:       msg.Value,
		Headers:     headers,
		ShopDomain:  headers[headerShopDomain],
		PublishedAt: publishedAt,
	}
}

func topicOf(msg *kafka.Message) string {
	if msg.TopicPartition.Topic == nil {
		return ""
	}
	return *msg.TopicPartition.Topic
}

// Publish публикует сообщение в указанную тему
func (k *KafkaMessaging) Publish(ctx context.Context, topic string, message []byte) error {
	return k.PublishWithKey(ctx, topic, "", message)
}

// PublishWithKey публикует сообщение с указанным ключом
func (k *KafkaMessaging) PublishWithKey(ctx context.Context, topic string, key string, message []byte) error {
	if err := k.producer.Produce(buildMessage(ctx, topic, message, key, nil), nil); err != nil {
		return fmt.Errorf("ошибка публикации в топик %s: %w", topic, err)
	}
	return nil
}

// Subscribe подписывается на тему в группе потребителей и обрабатывает сообщения handler.
// Смещение фиксируется после успешной обработки или отправки в dead-letter
func (k *KafkaMessaging) Subscribe(ctx context.Context, topic string, handler interfaces.MessageHandler) (func() error, error) {
	config := interfaces.ConsumerConfig{
		GroupID:     k.cfg.GroupID,
		AutoCommit:  false,
		PollTimeout: 100 * time.Millisecond,
	}

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":     strings.Join(k.cfg.Brokers, ","),
		"client.id":             k.cfg.ClientID + "-consumer",
		"group.id":              config.GroupID,
		"auto.offset.reset":     "earliest",
		"enable.auto.commit":    config.AutoCommit,
		"session.timeout.ms":    30000,
		"max.poll.interval.ms":  300000,
		"heartbeat.interval.ms": 3000,
		"fetch.wait.max.ms":     500,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания Kafka consumer: %w", err)
	}

	if err := consumer.Subscribe(topic, nil); err != nil {
		_ = consumer.Close()
		return nil, fmt.Errorf("ошибка подписки на топик %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{consumer: consumer, cancel: cancel, done: make(chan struct{})}

	id := uuid.NewString()
	k.subsMu.Lock()
	k.subs[id] = sub
	k.subsMu.Unlock()

	// обработка сообщений в отдельной горутине
	go k.consume(subCtx, sub, topic, handler, config)

	unsubscribe := func() error {
		k.subsMu.Lock()
		_, ok := k.subs[id]
		delete(k.subs, id)
		k.subsMu.Unlock()
		if !ok {
			return nil
		}
		return sub.stop()
	}

	k.logger.Info("Подписка на топик Kafka",
		interfaces.LogField{Key: "topic", Value: topic},
		interfaces.LogField{Key: "group_id", Value: config.GroupID})

	return unsubscribe, nil
}

// stop останавливает цикл чтения и закрывает потребителя
func (s *subscription) stop() error {
	s.cancel()
	<-s.done
	return s.consumer.Close()
}

// consume читает сообщения до отмены контекста
func (k *KafkaMessaging) consume(ctx context.Context, sub *subscription, topic string, handler interfaces.MessageHandler, config interfaces.ConsumerConfig) {
	defer close(sub.done)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := sub.consumer.Poll(int(config.PollTimeout.Milliseconds()))
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			msg := toMessage(e)
			msgCtx := reqctx.WithShopDomain(ctx, msg.ShopDomain)
			if reqID := msg.Headers[headerRequestID]; reqID != "" {
				msgCtx = reqctx.WithRequestID(msgCtx, reqID)
			}

			if err := k.handle(msgCtx, msg, handler); err != nil {
				k.logger.ErrorWithContext(msgCtx, "Сообщение не обработано, отправляем в dead-letter",
					interfaces.LogField{Key: "topic", Value: topic},
					interfaces.LogField{Key: "message_id", Value: msg.ID},
					interfaces.LogField{Key: "error", Value: err.Error()})
				k.deadLetter(msgCtx, e, err)
			}

			if !config.AutoCommit {
				if _, err := sub.consumer.CommitMessage(e); err != nil {
					k.logger.Warn("Ошибка фиксации смещения",
						interfaces.LogField{Key: "topic", Value: topic},
						interfaces.LogField{Key: "error", Value: err.Error()})
				}
			}

		case kafka.Error:
			k.logger.Warn("Ошибка Kafka consumer",
				interfaces.LogField{Key: "topic", Value: topic},
				interfaces.LogField{Key: "code", Value: e.Code().String()},
				interfaces.LogField{Key: "error", Value: e.Error()})
			if e.IsFatal() {
				return
			}
		}
	}
}

// handle вызывает обработчик с повторами
func (k *KafkaMessaging) handle(ctx context.Context, msg *interfaces.Message, handler interfaces.MessageHandler) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, handler(ctx, msg)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(k.cfg.HandlerRetries)))
	return err
}

// deadLetter переотправляет сообщение в dead-letter топик с описанием ошибки
func (k *KafkaMessaging) deadLetter(ctx context.Context, orig *kafka.Message, cause error) {
	if k.cfg.DeadLetterTopic == "" {
		return
	}

	headers := map[string]string{
		headerError:    cause.Error(),
		headerSrcTopic: topicOf(orig),
	}
	for _, h := range orig.Headers {
		if _, reserved := headers[h.Key]; !reserved && h.Key != headerMessageID && h.Key != headerTimestamp {
			headers[h.Key] = string(h.Value)
		}
	}

	msg := buildMessage(ctx, k.cfg.DeadLetterTopic, orig.Value, string(orig.Key), headers)
	if err := k.producer.Produce(msg, nil); err != nil {
		k.logger.ErrorWithContext(ctx, "Ошибка отправки в dead-letter топик",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
}

// EnsureTopics создает недостающие топики
func (k *KafkaMessaging) EnsureTopics(ctx context.Context, topics []string, partitions, replicationFactor int) error {
	adminClient, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("ошибка создания Kafka admin client: %w", err)
	}
	defer adminClient.Close()

	specs := make([]kafka.TopicSpecification, 0, len(topics))
	for _, topic := range topics {
		specs = append(specs, kafka.TopicSpecification{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		})
	}

	results, err := adminClient.CreateTopics(ctx, specs, kafka.SetAdminOperationTimeout(30*time.Second))
	if err != nil {
		return fmt.Errorf("ошибка создания топиков: %w", err)
	}

	for _, r := range results {
		if code := r.Error.Code(); code != kafka.ErrNoError && code != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("ошибка создания топика %s: %s", r.Topic, r.Error.String())
		}
	}
	return nil
}

// Close закрывает подписки и дожидается отправки сообщений
func (k *KafkaMessaging) Close() error {
	k.subsMu.Lock()
	subs := k.subs
	k.subs = make(map[string]*subscription)
	k.subsMu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.stop(); err != nil {
			errs = append(errs, err)
		}
	}

	// Ждем до 15 секунд для отправки всех сообщений
	if remaining := k.producer.Flush(15 * 1000); remaining > 0 {
		k.logger.Warn("Не все сообщения отправлены в Kafka", interfaces.LogField{Key: "remaining", Value: remaining})
	}
	k.producer.Close()
	<-k.eventsDone

	return errors.Join(errs...)
}

var _ interfaces.MessagingPort = (*KafkaMessaging)(nil)
