package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config содержит все настройки сервиса
type Config struct {
	AppName  string
	Version  string
	LogLevel string
	ENV      string

	Server struct {
		Host             string
		Port             int
		ReadTimeout      time.Duration
		WriteTimeout     time.Duration
		ShutdownTimeout  time.Duration
		RequestTimeout   time.Duration
		BodyLimit        int64 // максимальный размер JSON-запроса в байтах
		CORSAllowOrigins []string
	}

	Postgres struct {
		Host     string
		Port     int
		User     string
		Password string
		DBName   string
		SSLMode  string
		Timeout  time.Duration
		PoolSize int
	}

	Redis struct {
		Host              string
		Port              int
		Password          string
		DB                int
		PoolSize          int
		MinIdleConns      int
		DialTimeout       time.Duration
		ReadTimeout       time.Duration
		WriteTimeout      time.Duration
		MaxRetries        int
		DefaultExpiration time.Duration // срок жизни опубликованной конфигурации в кэше
	}

	Kafka struct {
		Enabled         bool
		Brokers         []string
		GroupID         string
		ConfigTopic     string
		UploadTopic     string
		DeadLetterTopic string
	}

	R2 struct {
		Enabled         bool
		AccountID       string
		AccessKeyID     string
		SecretAccessKey string
		Bucket          string
		Region          string
		Endpoint        string // переопределяет https://{account}.r2.cloudflarestorage.com
		PublicURL       string // базовый адрес CDN для публичных ссылок
		Timeout         time.Duration
		MaxRetries      int
	}

	Shopify struct {
		APIVersion string
		Timeout    time.Duration
		MaxRetries int
		CacheTTL   time.Duration
	}

	Cloudinary struct {
		CloudName string
		APIKey    string
		APISecret string
		Folder    string
	}

	Instagram struct {
		ClientID     string
		ClientSecret string
		RedirectURL  string
	}

	TikTok struct {
		ClientKey    string
		ClientSecret string
		RedirectURL  string
	}

	Upload struct {
		MaxFileSize         int64
		MinChunkSize        int64
		MaxChunkSize        int64
		ChunkTimeout        time.Duration
		SessionTTL          time.Duration
		SessionStore        string // memory | redis
		AllowedContentTypes []string
	}

	QueryCache struct {
		Size          int
		TTL           time.Duration
		SlowThreshold time.Duration
		MonitorSize   int
	}

	Security struct {
		CSRFSecret      string
		CSRFTTL         time.Duration
		StateSecret     string
		StateTTL        time.Duration
		RateLimit       int
		RateLimitWindow time.Duration
		// DevTokens включает статические токены, если Keycloak отключен: token=shop
		DevTokens map[string]string
	}

	Keycloak KeycloakConfig

	Sentry struct {
		DSN         string
		Environment string
		SampleRate  float64
	}

	Tracing struct {
		Enabled     bool
		ServiceName string
		Endpoint    string
		Probability float64 // вероятность сэмплирования трассировки
	}

	Metrics struct {
		Enabled bool
		Port    int
	}
}

// Load загружает конфигурацию из .env, файла и переменных окружения
func Load(configPath string) (*Config, error) {
	// .env необязателен, переменные окружения процесса имеют приоритет
	_ = godotenv.Load()

	configFile := "config"
	if configPath != "" {
		configFile = configPath
	}

	v := viper.New()
	v.SetConfigName(configFile)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		// Продолжаем, если файл не найден, будем использовать только переменные окружения
	}

	setDefaults(v)
	bindEnvVariables(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка десериализации конфигурации: %w", err)
	}

	if cfg.ENV == "" {
		cfg.ENV = "development"
		if envVar := os.Getenv("APP_ENV"); envVar != "" {
			cfg.ENV = envVar
		}
	}
	if cfg.Sentry.Environment == "" {
		cfg.Sentry.Environment = cfg.ENV
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate проверяет обязательные настройки включенных интеграций
func (c *Config) Validate() error {
	var errs []error

	if c.R2.Enabled {
		if c.R2.AccountID == "" && c.R2.Endpoint == "" {
			errs = append(errs, errors.New("r2: account id or endpoint is required"))
		} else if u, err := url.Parse(c.R2Endpoint()); err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
			errs = append(errs, fmt.Errorf("r2: invalid endpoint %q", c.R2Endpoint()))
		}
		if c.R2.AccessKeyID == "" || c.R2.SecretAccessKey == "" {
			errs = append(errs, errors.New("r2: access key id and secret access key are required"))
		}
		if c.R2.Bucket == "" {
			errs = append(errs, errors.New("r2: bucket is required"))
		}
	}

	if c.Upload.MinChunkSize <= 0 || c.Upload.MaxChunkSize < c.Upload.MinChunkSize {
		errs = append(errs, errors.New("upload: invalid chunk size bounds"))
	}

	switch c.Upload.SessionStore {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("upload: unknown session store %q", c.Upload.SessionStore))
	}

	if c.ENV == "production" && (c.Security.CSRFSecret == "" || c.Security.StateSecret == "") {
		errs = append(errs, errors.New("security: csrf and state secrets are required in production"))
	}

	return errors.Join(errs...)
}

// R2Endpoint возвращает адрес S3 API бакета
func (c *Config) R2Endpoint() string {
	if c.R2.Endpoint != "" {
		return strings.TrimRight(c.R2.Endpoint, "/")
	}
	return fmt.Sprintf("https://%s.r2.cloudflarestorage.com", c.R2.AccountID)
}

// setDefaults устанавливает значения по умолчанию
func setDefaults(v *viper.Viper) {
	// Основные настройки
	v.SetDefault("appName", "minimall")
	v.SetDefault("version", "1.0.0")
	v.SetDefault("logLevel", "info")

	// Настройки сервера
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", "15s")
	v.SetDefault("server.writeTimeout", "60s")
	v.SetDefault("server.shutdownTimeout", "10s")
	v.SetDefault("server.requestTimeout", "30s")
	v.SetDefault("server.bodyLimit", 2<<20) // 2 МБ
	v.SetDefault("server.corsAllowOrigins", []string{"*"})

	// Настройки Postgres
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.dbname", "minimall")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.timeout", "5s")
	v.SetDefault("postgres.poolSize", 10)

	// Настройки Redis
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("redis.minIdleConns", 2)
	v.SetDefault("redis.dialTimeout", "3s")
	v.SetDefault("redis.readTimeout", "2s")
	v.SetDefault("redis.writeTimeout", "2s")
	v.SetDefault("redis.maxRetries", 3)
	v.SetDefault("redis.defaultExpiration", "10m")

	// Настройки Kafka
	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.groupID", "minimall-worker")
	v.SetDefault("kafka.configTopic", "minimall-config-events")
	v.SetDefault("kafka.uploadTopic", "minimall-upload-events")
	v.SetDefault("kafka.deadLetterTopic", "minimall-dead-letter")

	// Настройки R2
	v.SetDefault("r2.enabled", true)
	v.SetDefault("r2.region", "auto")
	v.SetDefault("r2.timeout", "60s")
	v.SetDefault("r2.maxRetries", 3)

	// Настройки Shopify
	v.SetDefault("shopify.apiVersion", "2024-07")
	v.SetDefault("shopify.timeout", "10s")
	v.SetDefault("shopify.maxRetries", 3)
	v.SetDefault("shopify.cacheTTL", "5m")

	v.SetDefault("cloudinary.folder", "minimall")

	// Настройки загрузок
	v.SetDefault("upload.maxFileSize", int64(500<<20))
	v.SetDefault("upload.minChunkSize", int64(5<<20))
	v.SetDefault("upload.maxChunkSize", int64(100<<20))
	// server.readTimeout не хватит на чанк в 100 МиБ, у маршрута чанков свой срок
	v.SetDefault("upload.chunkTimeout", "10m")
	v.SetDefault("upload.sessionTTL", "1h")
	v.SetDefault("upload.sessionStore", "memory")
	v.SetDefault("upload.allowedContentTypes", []string{
		"image/jpeg", "image/png", "image/webp", "image/gif", "image/avif",
		"video/mp4", "video/quicktime", "video/webm",
	})

	// Кэш и мониторинг запросов
	v.SetDefault("queryCache.size", 1024)
	v.SetDefault("queryCache.ttl", "30s")
	v.SetDefault("queryCache.slowThreshold", "200ms")
	v.SetDefault("queryCache.monitorSize", 256)

	// Настройки безопасности
	v.SetDefault("security.csrfTTL", "2h")
	v.SetDefault("security.stateTTL", "10m")
	v.SetDefault("security.rateLimit", 600)
	v.SetDefault("security.rateLimitWindow", "1m")

	v.SetDefault("keycloak.enabled", false)

	v.SetDefault("sentry.sampleRate", 1.0)

	// Настройки трассировки
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.serviceName", "minimall")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.probability", 0.1)

	// Настройки метрик
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9100)
}

// bindEnvVariables привязывает переменные окружения к конфигурации
func bindEnvVariables(v *viper.Viper) {
	bindings := map[string]string{
		"appName":  "APP_NAME",
		"version":  "APP_VERSION",
		"logLevel": "LOG_LEVEL",
		"env":      "APP_ENV",

		"server.host":             "SERVER_HOST",
		"server.port":             "SERVER_PORT",
		"server.readTimeout":      "SERVER_READ_TIMEOUT",
		"server.writeTimeout":     "SERVER_WRITE_TIMEOUT",
		"server.shutdownTimeout":  "SERVER_SHUTDOWN_TIMEOUT",
		"server.requestTimeout":   "SERVER_REQUEST_TIMEOUT",
		"server.bodyLimit":        "SERVER_BODY_LIMIT",
		"server.corsAllowOrigins": "CORS_ALLOW_ORIGINS",

		"postgres.host":     "POSTGRES_HOST",
		"postgres.port":     "POSTGRES_PORT",
		"postgres.user":     "POSTGRES_USER",
		"postgres.password": "POSTGRES_PASSWORD",
		"postgres.dbname":   "POSTGRES_DBNAME",
		"postgres.sslmode":  "POSTGRES_SSLMODE",
		"postgres.timeout":  "POSTGRES_TIMEOUT",
		"postgres.poolSize": "POSTGRES_POOL_SIZE",

		"redis.host":              "REDIS_HOST",
		"redis.port":              "REDIS_PORT",
		"redis.password":          "REDIS_PASSWORD",
		"redis.db":                "REDIS_DB",
		"redis.poolSize":          "REDIS_POOL_SIZE",
		"redis.defaultExpiration": "REDIS_DEFAULT_EXPIRATION",

		"kafka.enabled":         "KAFKA_ENABLED",
		"kafka.brokers":         "KAFKA_BROKERS",
		"kafka.groupID":         "KAFKA_GROUP_ID",
		"kafka.configTopic":     "KAFKA_CONFIG_TOPIC",
		"kafka.uploadTopic":     "KAFKA_UPLOAD_TOPIC",
		"kafka.deadLetterTopic": "KAFKA_DEAD_LETTER_TOPIC",

		"r2.enabled":         "R2_ENABLED",
		"r2.accountID":       "R2_ACCOUNT_ID",
		"r2.accessKeyID":     "R2_ACCESS_KEY_ID",
		"r2.secretAccessKey": "R2_SECRET_ACCESS_KEY",
		"r2.bucket":          "R2_BUCKET_NAME",
		"r2.endpoint":        "R2_ENDPOINT",
		"r2.publicURL":       "R2_PUBLIC_URL",

		"shopify.apiVersion": "SHOPIFY_STOREFRONT_API_VERSION",
		"shopify.timeout":    "SHOPIFY_TIMEOUT",
		"shopify.maxRetries": "SHOPIFY_MAX_RETRIES",
		"shopify.cacheTTL":   "SHOPIFY_CACHE_TTL",

		"cloudinary.cloudName": "CLOUDINARY_CLOUD_NAME",
		"cloudinary.apiKey":    "CLOUDINARY_API_KEY",
		"cloudinary.apiSecret": "CLOUDINARY_API_SECRET",
		"cloudinary.folder":    "CLOUDINARY_FOLDER",

		"instagram.clientID":     "INSTAGRAM_CLIENT_ID",
		"instagram.clientSecret": "INSTAGRAM_CLIENT_SECRET",
		"instagram.redirectURL":  "INSTAGRAM_REDIRECT_URI",

		"tiktok.clientKey":    "TIKTOK_CLIENT_KEY",
		"tiktok.clientSecret": "TIKTOK_CLIENT_SECRET",
		"tiktok.redirectURL":  "TIKTOK_REDIRECT_URI",

		"upload.maxFileSize":  "UPLOAD_MAX_FILE_SIZE",
		"upload.minChunkSize": "UPLOAD_MIN_CHUNK_SIZE",
		"upload.maxChunkSize": "UPLOAD_MAX_CHUNK_SIZE",
		"upload.chunkTimeout": "UPLOAD_CHUNK_TIMEOUT",
		"upload.sessionTTL":   "UPLOAD_SESSION_TTL",
		"upload.sessionStore": "UPLOAD_SESSION_STORE",

		"queryCache.size":          "QUERY_CACHE_SIZE",
		"queryCache.ttl":           "QUERY_CACHE_TTL",
		"queryCache.slowThreshold": "QUERY_SLOW_THRESHOLD",

		"security.csrfSecret":  "CSRF_SECRET",
		"security.csrfTTL":     "CSRF_TTL",
		"security.stateSecret": "OAUTH_STATE_SECRET",
		"security.rateLimit":   "RATE_LIMIT",

		"keycloak.enabled":       "KEYCLOAK_ENABLED",
		"keycloak.server_url":    "KEYCLOAK_SERVER_URL",
		"keycloak.realm":         "KEYCLOAK_REALM",
		"keycloak.client_id":     "KEYCLOAK_CLIENT_ID",
		"keycloak.client_secret": "KEYCLOAK_CLIENT_SECRET",

		"sentry.dsn":         "SENTRY_DSN",
		"sentry.environment": "SENTRY_ENVIRONMENT",
		"sentry.sampleRate":  "SENTRY_SAMPLE_RATE",

		"tracing.enabled":     "TRACING_ENABLED",
		"tracing.endpoint":    "TRACING_ENDPOINT",
		"tracing.probability": "TRACING_PROBABILITY",

		"metrics.enabled": "METRICS_ENABLED",
		"metrics.port":    "METRICS_PORT",
	}

	for key, env := range bindings {
		_ = v.BindEnv(key, env)
	}
}
