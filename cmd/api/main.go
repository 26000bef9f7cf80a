// @title MINIMALL API
// @version 1.0
// @description Конструктор витрин поверх Shopify Storefront API
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
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
	"github.com/athebyme/minimall/internal/adapters/shopify"
	"github.com/athebyme/minimall/internal/adapters/social"
	"github.com/athebyme/minimall/internal/adapters/storage"
	"github.com/athebyme/minimall/internal/api"
	"github.com/athebyme/minimall/internal/api/handlers"
	"github.com/athebyme/minimall/internal/domain/models"
	"github.com/athebyme/minimall/internal/domain/services"
	"github.com/athebyme/minimall/internal/infrastructure/postgres"
	"github.com/athebyme/minimall/internal/observability"
	"github.com/athebyme/minimall/internal/security"
	"github.com/athebyme/minimall/internal/utils"
	"github.com/athebyme/minimall/internal/worker"
	"github.com/athebyme/minimall/pkg/auth"
	apperrors "github.com/athebyme/minimall/pkg/errors"
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
	log.Info("Инициализация сервиса",
		interfaces.LogField{Key: "app_name", Value: cfg.AppName},
		interfaces.LogField{Key: "version", Value: cfg.Version},
		interfaces.LogField{Key: "env", Value: cfg.ENV},
	)

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

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.ENV,
		Endpoint:       cfg.Tracing.Endpoint,
		Probability:    cfg.Tracing.Probability,
	})
	if err != nil {
		log.Fatal("Ошибка инициализации трассировки", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	postgresCon, err := utils.GenerateConnectionString(
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
		fmt.Printf("Ошибка инициализации строки подключения базы: %v\n", err)
		os.Exit(1)
	}

	pool, err := postgres.Connect(ctx, postgresCon, log)
	if err != nil {
		log.Fatal("Ошибка подключения к PostgreSQL", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	if err := postgres.Migrate(ctx, pool, log); err != nil {
		log.Fatal("Ошибка применения миграций", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	db := storage.NewConfigStorage(
		pool,
		storage.NewQueryCache(cfg.QueryCache.Size, cfg.QueryCache.TTL),
		storage.NewQueryMonitor(reg, log, cfg.QueryCache.SlowThreshold, cfg.QueryCache.MonitorSize),
	)
	txManager := tx.NewTxManager(pool)
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
		log.Fatal("Ошибка инициализации кэша", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Кэш инициализирован")

	testCtx, testCancel := context.WithTimeout(ctx, 5*time.Second)
	defer testCancel()

	if err := checkRedisConnection(testCtx, cacheClient); err != nil {
		log.Fatal("Ошибка подключения к Redis",
			interfaces.LogField{Key: "error", Value: err.Error()})
	}
	log.Info("Соединение с Redis проверено")

	var (
		bus     interfaces.MessagingPort
		objects interfaces.ObjectStorePort
		mirror  *r2.ConfigStore
	)

	if cfg.R2.Enabled {
		r2Client, err := r2.NewClient(r2.Config{
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
		objects = r2Client
		mirror = r2.NewConfigStore(objects, log)
		log.Info("Хранилище R2 инициализировано", interfaces.LogField{Key: "bucket", Value: cfg.R2.Bucket})
	} else {
		log.Warn("R2 отключен, загрузка файлов недоступна")
	}

	media := cloudinary.NewClient(cloudinary.Config{
		CloudName: cfg.Cloudinary.CloudName,
		APIKey:    cfg.Cloudinary.APIKey,
		APISecret: cfg.Cloudinary.APISecret,
		Folder:    cfg.Cloudinary.Folder,
	}, log)

	if cfg.Kafka.Enabled {
		kafkaClient, err := messaging.NewKafkaMessaging(messaging.KafkaConfig{
			Brokers:         cfg.Kafka.Brokers,
			GroupID:         cfg.Kafka.GroupID,
			ClientID:        cfg.AppName,
			DeadLetterTopic: cfg.Kafka.DeadLetterTopic,
		}, log)
		if err != nil {
			log.Fatal("Ошибка инициализации системы обмена сообщениями", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		topics := []string{cfg.Kafka.ConfigTopic, cfg.Kafka.UploadTopic, cfg.Kafka.DeadLetterTopic}
		if err := kafkaClient.EnsureTopics(testCtx, topics, 3, 1); err != nil {
			log.Warn("Не удалось создать топики Kafka", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		bus = kafkaClient
	} else {
		bus = messaging.NewMemoryBus(log)
		log.Warn("Kafka отключена, события обрабатываются в процессе")
	}
	log.Info("Система обмена сообщениями инициализирована")

	events := services.NewEventPublisher(bus, cfg.Kafka.ConfigTopic, cfg.Kafka.UploadTopic, log)

	configOpts := []services.ConfigServiceOption{
		services.WithSiteCache(cacheClient, cfg.Redis.DefaultExpiration),
		services.WithEvents(events),
	}
	if mirror != nil {
		configOpts = append(configOpts, services.WithPublishedMirror(mirror))
	}
	configService := services.NewConfigService(db, txManager, log, configOpts...)
	shopService := services.NewShopService(db, log)

	shopifyClient := shopify.NewClient(shopify.Config{
		APIVersion: cfg.Shopify.APIVersion,
		Timeout:    cfg.Shopify.Timeout,
		MaxRetries: cfg.Shopify.MaxRetries,
		Locale:     "en-US",
	}, log)
	storefrontService := services.NewStorefrontService(shopifyClient, shopService, cacheClient, cfg.Shopify.CacheTTL, log)
	log.Info("Сервисы витрины инициализированы")

	// Без Kafka события конфигураций и загрузок обрабатывает тот же процесс
	if !cfg.Kafka.Enabled {
		procOpts := []worker.Option{worker.WithMedia(media, cfg.Cloudinary.Folder)}
		if mirror != nil {
			procOpts = append(procOpts, worker.WithMirror(mirror))
		}
		processor := worker.NewProcessor(configService, log, reg, procOpts...)
		for _, topic := range []string{cfg.Kafka.ConfigTopic, cfg.Kafka.UploadTopic} {
			if _, err := bus.Subscribe(ctx, topic, processor.Handle); err != nil {
				log.Fatal("Ошибка подписки обработчика событий",
					interfaces.LogField{Key: "topic", Value: topic},
					interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}
	}

	csrfSecret := cfg.Security.CSRFSecret
	stateSecret := cfg.Security.StateSecret
	if csrfSecret == "" || stateSecret == "" {
		log.Warn("Секреты CSRF или OAuth state не заданы, используются случайные значения")
		if csrfSecret == "" {
			csrfSecret = security.RandomSecret()
		}
		if stateSecret == "" {
			stateSecret = security.RandomSecret()
		}
	}
	csrf, err := security.NewCSRFManager(csrfSecret, cfg.Security.CSRFTTL, cfg.ENV == "production", log)
	if err != nil {
		log.Fatal("Ошибка инициализации CSRF", interfaces.LogField{Key: "error", Value: err.Error()})
	}
	states, err := security.NewStateManager(stateSecret, cfg.Security.StateTTL)
	if err != nil {
		log.Fatal("Ошибка инициализации OAuth state", interfaces.LogField{Key: "error", Value: err.Error()})
	}

	var uploads handlers.Uploads = disabledUploads{}
	if objects != nil {
		uploadCfg := services.UploadConfig{
			MaxFileSize:         cfg.Upload.MaxFileSize,
			MinChunkSize:        cfg.Upload.MinChunkSize,
			MaxChunkSize:        cfg.Upload.MaxChunkSize,
			SessionTTL:          cfg.Upload.SessionTTL,
			AllowedContentTypes: cfg.Upload.AllowedContentTypes,
		}

		if cfg.Upload.SessionStore == "redis" {
			uploads = services.NewUploadService(objects, services.NewRedisSessionStore(cacheClient),
				cacheClient.Locker(), uploadCfg, events, log, reg)
		} else {
			var uploadService *services.UploadService
			sessions := services.NewMemorySessionStore(time.Minute, func(s *models.UploadSession) {
				uploadService.ExpireSession(s)
			})
			uploadService = services.NewUploadService(objects, sessions, cache.NewKeyedMutex(), uploadCfg, events, log, reg)
			uploads = uploadService
		}
		log.Info("Сервис загрузок инициализирован",
			interfaces.LogField{Key: "session_store", Value: cfg.Upload.SessionStore})
	}

	providers := social.NewRegistry(
		social.NewInstagramProvider(social.OAuthConfig{
			ClientID:     cfg.Instagram.ClientID,
			ClientSecret: cfg.Instagram.ClientSecret,
			RedirectURL:  cfg.Instagram.RedirectURL,
		}),
		social.NewTikTokProvider(social.OAuthConfig{
			ClientID:     cfg.TikTok.ClientKey,
			ClientSecret: cfg.TikTok.ClientSecret,
			RedirectURL:  cfg.TikTok.RedirectURL,
		}),
	)
	importService := services.NewImportService(providers, states, configService, objects, log)
	log.Info("Импорт из соцсетей настроен", interfaces.LogField{Key: "providers", Value: providers.Names()})

	var authenticator interfaces.AuthPort
	if cfg.Keycloak.Enabled {
		keycloak, err := auth.NewKeycloakClient(ctx, cfg.Keycloak.GetKeycloakConfig())
		if err != nil {
			log.Fatal("Ошибка инициализации Keycloak", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		authenticator = keycloak
	} else {
		tokens := auth.StaticTokenAuth{}
		for token, shop := range cfg.Security.DevTokens {
			tokens[token] = &interfaces.Principal{
				UserID:     "dev:" + shop,
				Username:   shop,
				ShopDomain: shop,
				Roles:      []string{auth.RoleMerchant},
			}
		}
		authenticator = tokens
		log.Warn("Keycloak отключен, используются статические токены",
			interfaces.LogField{Key: "tokens", Value: len(tokens)})
	}

	router := api.SetupRouter(api.RouterDeps{
		Sites:      configService,
		Storefront: storefrontService,
		Shops:      shopService,
		Configs:    configService,
		Uploads:    uploads,
		Media:      media,
		Importer:   importService,
		CSRF:       csrf,
		Auth:       authenticator,
		Logger:     log,
		Registry:   reg,
	}, api.RouterOptions{
		ServiceName:     cfg.Tracing.ServiceName,
		RequestTimeout:  cfg.Server.RequestTimeout,
		BodyLimit:       cfg.Server.BodyLimit,
		MaxChunkSize:    cfg.Upload.MaxChunkSize,
		ChunkTimeout:    cfg.Upload.ChunkTimeout,
		CORSOrigins:     cfg.Server.CORSAllowOrigins,
		RateLimit:       cfg.Security.RateLimit,
		RateLimitWindow: cfg.Security.RateLimitWindow,
		MediaFolder:     cfg.Cloudinary.Folder,
	})
	log.Info("Маршрутизатор настроен")

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("Запуск HTTP сервера для метрик", interfaces.LogField{Key: "addr", Value: metricsServer.Addr})
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Ошибка запуска HTTP сервера для метрик", interfaces.LogField{Key: "error", Value: err.Error()})
			}
		}()
	}

	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("Сервер запущен", interfaces.LogField{Key: "address", Value: server.Addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Ошибка запуска сервера", interfaces.LogField{Key: "error", Value: err.Error()})
		}
	}()

	go func() {
		<-quit
		log.Info("Получен сигнал завершения, выполняется graceful shutdown...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("Ошибка при graceful shutdown", interfaces.LogField{Key: "error", Value: err.Error()})
		}
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		log.Info("HTTP сервер остановлен")

		// подписчики MemoryBus завершаются по отмене контекста
		cancel()

		log.Info("Закрытие соединений с зависимостями...")

		if err := bus.Close(); err != nil {
			log.Error("Ошибка при закрытии шины сообщений",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		if err := cacheClient.Close(); err != nil {
			log.Error("Ошибка при закрытии Redis",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error("Ошибка остановки трассировки",
				interfaces.LogField{Key: "error", Value: err.Error()})
		}

		pool.Close()

		close(done)
	}()

	<-done
	log.Info("Сервер корректно завершил работу")
}

// Проверка соединения с Redis
func checkRedisConnection(ctx context.Context, cacheClient interfaces.CachePort) error {
	testKey := "minimall:healthcheck"
	if err := cacheClient.Set(ctx, testKey, []byte("ok"), 10*time.Second); err != nil {
		return err
	}
	if _, err := cacheClient.Get(ctx, testKey); err != nil {
		return err
	}
	return cacheClient.Delete(ctx, testKey)
}

// disabledUploads отвечает на маршруты загрузки, когда R2 не настроен
type disabledUploads struct{}

func (disabledUploads) Initiate(context.Context, string, string, string, int64, int64) (*models.UploadSession, error) {
	return nil, fmt.Errorf("uploads: %w", apperrors.ErrNotConfigured)
}

func (disabledUploads) UploadChunk(context.Context, string, int, []byte) (*models.UploadProgress, error) {
	return nil, fmt.Errorf("uploads: %w", apperrors.ErrNotConfigured)
}

func (disabledUploads) Cancel(context.Context, string) error {
	return fmt.Errorf("uploads: %w", apperrors.ErrNotConfigured)
}

func (disabledUploads) Status(context.Context, string) (*models.UploadProgress, error) {
	return nil, fmt.Errorf("uploads: %w", apperrors.ErrNotConfigured)
}
