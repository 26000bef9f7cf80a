package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/athebyme/minimall/config"
	"github.com/athebyme/minimall/internal/adapters/cache"
	"github.com/athebyme/minimall/internal/adapters/cloudinary"
	"github.com/athebyme/minimall/internal/adapters/logger"
	"github.com/athebyme/minimall/internal/adapters/messaging"
	"github.com/athebyme/minimall/internal/adapters/r2"
	"github.com/athebyme/minimall/internal/adapters/storage"
	"github.com/athebyme/minimall/internal/domain/services"
	"github.com/athebyme/minimall/internal/infrastructure/postgres"
	"github.com/athebyme/minimall/internal/observability"
	"github.com/athebyme/minimall/internal/utils"
	"github.com/athebyme/minimall/internal/worker"
	"github.com/athebyme/minimall/pkg/interfaces"
	"github.com/athebyme/minimall/pkg/tx"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	log, err := logger.NewZapLogger(cfg.LogLevel, cfg.ENV == "production")
	if err != nil {
		fmt.Printf("Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}
	log.Info("Инициализация воркера",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName + "-worker"},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

	if !cfg.Kafka.Enabled {
		log.Fatal("Воркер требует Kafka: без нее события обрабатывает процесс API")
	}

	flushSentry, err := observability.SetupSentry(observability.SentryConfig{
		DSN:         cfg.Sentry.DSN,
		Environment: cfg.Sentry.Environment,
		Release:     cfg.Version,
		SampleRate:  cfg.Sentry.SampleRate,
	})
	if err != nil {
		log.Fatal("Ошибка инициализации Sentry", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer flushSentry()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Запускаем HTTP сервер для метрик если они включены
	if cfg.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("OK"))
			})

			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			log.Info("Запуск HTTP сервера для метрик",
				interfaces.LogField{Key: "addr", Value: addr})
			server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Ошибка запуска HTTP сервера для метрик",
					interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}()
	}

	connectionStr, err := utils.GenerateConnectionString(
		cfg.Postgres.Host,
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.DBName,
		cfg.Postgres.SSLMode,
		cfg.Postgres.Port,
		cfg.Postgres.PoolSize,
		cfg.Postgres.Timeout,
	)
	if err != nil {
		log.Fatal("Ошибка генерации строки подключения к PostgreSQL",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}

	pool, err := postgres.Connect(ctx, connectionStr, log)
	if err != nil {
		log.Fatal("Ошибка инициализации хранилища",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer pool.Close()

	// Пишет в базу только API, локальный кэш запросов воркера не узнал бы о его изменениях
	repo := storage.NewConfigStorage(
		pool,
		nil,
		storage.NewQueryMonitor(reg, log, cfg.QueryCache.SlowThreshold, cfg.QueryCache.MonitorSize),
	)
	log.Info("Хранилище инициализировано")

	cacheClient, err := cache.NewRedisCache(ctx, cache.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		log.Fatal("Ошибка инициализации кэша",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer cacheClient.Close()
	log.Info("Кэш инициализирован")

	messagingClient, err := messaging.NewKafkaMessaging(messaging.KafkaConfig{
		Brokers:         cfg.Kafka.Brokers,
		GroupID:         cfg.Kafka.GroupID,
		ClientID:        cfg.AppName + "-worker",
		DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
		HandlerRetries:  3,
	}, log)
	if err != nil {
		log.Fatal("Ошибка инициализации системы обмена сообщениями",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	defer messagingClient.Close()

	topics := []string{cfg.Kafka.ConfigTopic, cfg.Kafka.UploadTopic}
	ensureCtx, ensureCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := messagingClient.EnsureTopics(ensureCtx, append(topics, cfg.Kafka.DeadLetterTopic), 3, 1); err != nil {
		log.Warn("Не удалось создать топики Kafka", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	ensureCancel()
	log.Info("Система обмена сообщениями инициализирована")

	// Воркер только читает конфигурации и сбрасывает кэш, события он не публикует
	configService := services.NewConfigService(repo, tx.NewTxManager(pool), log,
		services.WithSiteCache(cacheClient, cfg.Redis.DefaultExpiration))

	opts := []worker.Option{
		worker.WithMedia(cloudinary.NewClient(cloudinary.Config{
			CloudName: cfg.Cloudinary.CloudName,
			APIKey:    cfg.Cloudinary.APIKey,
			APISecret: cfg.Cloudinary.APISecret,
			Folder:    cfg.Cloudinary.Folder,
		}, log), cfg.Cloudinary.Folder),
	}
	if cfg.R2.Enabled {
		objects, err := r2.NewClient(r2.Config{
			Endpoint:        cfg.R2Endpoint(),
			Bucket:          cfg.R2.Bucket,
			AccessKeyID:     cfg.R2.AccessKeyID,
			SecretAccessKey: cfg.R2.SecretAccessKey,
			Region:          cfg.R2.Region,
			PublicURL:       cfg.R2.PublicURL,
			Timeout:         cfg.R2.Timeout,
			MaxRetries:      cfg.R2.MaxRetries,
		}, log)
		if err != nil {
			log.Fatal("Ошибка инициализации R2", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		opts = append(opts, worker.WithMirror(r2.NewConfigStore(objects, log)))
	}
	processor := worker.NewProcessor(configService, log, reg, opts...)

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup
	for _, topic := range topics {
		subscribe(ctx, messagingClient, topic, processor.Handle, log, &wg)
	}

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")
		cancel()
		wg.Wait()
		close(done)
	}()

	log.Info("Воркер запущен и готов к обработке сообщений")
	<-done
	log.Info("Воркер корректно завершил работу")
}

// subscribe держит подписку на топик до отмены контекста
func subscribe(ctx context.Context, messagingClient interfaces.MessagingPort, topic string,
	handler interfaces.MessageHandler, logger interfaces.LoggerPort, wg *sync.WaitGroup) {

	wg.Add(1)

	go func() {
		defer wg.Done()

		unsubscribe, err := messagingClient.Subscribe(ctx, topic, handler)
		if err != nil {
			logger.Error("Ошибка подписки на топик",
				interfaces.LogField{Key: "topic", Value: topic},
				interfaces.LogField{Key: "error", Value: err.Error()})
			return
		}
		defer func() { _ = unsubscribe() }()

		logger.Info("Подписка установлена", interfaces.LogField{Key: "topic", Value: topic})

		<-ctx.Done()
		logger.Info("Отмена подписки", interfaces.LogField{Key: "topic", Value: topic})
	}()
}
