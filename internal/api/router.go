package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/athebyme/minimall/docs"
	"github.com/athebyme/minimall/internal/api/handlers"
	"github.com/athebyme/minimall/internal/api/middleware"
	"github.com/athebyme/minimall/pkg/auth"
	"github.com/athebyme/minimall/pkg/interfaces"
)

// RouterDeps зависимости HTTP-слоя
type RouterDeps struct {
	Sites      handlers.PublishedSites
	Storefront handlers.Storefront
	Shops      interface {
		handlers.Shops
		handlers.StorefrontTokens
	}
	Configs  handlers.Configs
	Uploads  handlers.Uploads
	Media    handlers.MediaSigner
	Importer handlers.Importer

	CSRF interface {
		handlers.CSRFIssuer
		Middleware(next http.Handler) http.Handler
	}
	Auth interfaces.AuthPort

	Logger   interfaces.LoggerPort
	Registry prometheus.Registerer
}

// RouterOptions параметры HTTP-слоя
type RouterOptions struct {
	ServiceName     string
	RequestTimeout  time.Duration
	BodyLimit       int64
	MaxChunkSize    int64
	ChunkTimeout    time.Duration
	CORSOrigins     []string
	RateLimit       int
	RateLimitWindow time.Duration
	MediaFolder     string
}

// SetupRouter настраивает маршрутизатор
func SetupRouter(deps RouterDeps, opts RouterOptions) *chi.Mux {
	logger := deps.Logger
	r := chi.NewRouter()

	// Глобальные middleware
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Tracing(opts.ServiceName))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.NewHTTPMetrics(deps.Registry).Handler)
	r.Use(middleware.CORS(opts.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.NewRateLimiter(opts.RateLimit, opts.RateLimitWindow, logger).Handler)

	timeout := middleware.Timeout(opts.RequestTimeout)

	r.Method(http.MethodGet, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}))
	r.Method(http.MethodHead, "/health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	siteHandler := handlers.NewSiteHandler(deps.Sites, deps.Storefront, deps.Shops, logger)
	uploadHandler := handlers.NewUploadHandler(deps.Uploads, opts.MaxChunkSize, logger)
	csrfHandler := handlers.NewCSRFHandler(deps.CSRF, logger)
	configHandler := handlers.NewConfigHandler(deps.Configs, logger)
	adminHandler := handlers.NewAdminHandler(deps.Shops, deps.Media, deps.Importer, opts.MediaFolder, logger)

	r.Route("/api", func(r chi.Router) {
		// Публичные маршруты витрины
		r.Group(func(r chi.Router) {
			r.Use(timeout)
			r.Use(middleware.BodyLimit(opts.BodyLimit))

			r.Get("/csrf", csrfHandler.Token)
			r.Get("/shops/{shopDomain}/token", siteHandler.GetToken)

			r.Route("/sites/{shopDomain}", func(r chi.Router) {
				r.Get("/", siteHandler.GetSite)
				r.Get("/products", siteHandler.ListProducts)
				r.Get("/products/{handle}", siteHandler.GetProduct)
				r.Get("/collections", siteHandler.ListCollections)
				r.Get("/collections/{handle}", siteHandler.GetCollection)
				r.Post("/checkout", siteHandler.Checkout)
			})
		})

		// Загрузки из браузера защищены CSRF
		r.Route("/upload", func(r chi.Router) {
			r.Use(deps.CSRF.Middleware)

			// размер чанка ограничивает сам обработчик, на чанк до MaxChunkSize
			// отведен отдельный срок вместо общего таймаута сервера
			r.With(middleware.Deadline(opts.ChunkTimeout)).Post("/chunk", uploadHandler.Chunk)

			r.Group(func(r chi.Router) {
				r.Use(timeout)
				r.Use(middleware.BodyLimit(opts.BodyLimit))
				r.Post("/initiate", uploadHandler.Initiate)
				r.Post("/cancel", uploadHandler.Cancel)
				r.Get("/{uploadId}", uploadHandler.Status)
			})
		})

		// Кабинет продавца
		r.Route("/admin", func(r chi.Router) {
			r.Use(timeout)
			r.Use(middleware.BodyLimit(opts.BodyLimit))
			r.Use(auth.AuthMiddleware(deps.Auth, logger))
			r.Use(auth.RequireAnyRole(auth.RoleMerchant, auth.RoleAdmin))

			r.Route("/configs", func(r chi.Router) {
				r.Get("/", configHandler.ListConfigs)
				r.Post("/", configHandler.CreateConfig)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", configHandler.GetConfig)
					r.Put("/", configHandler.UpdateConfig)
					r.Delete("/", configHandler.DeleteConfig)
					r.Post("/publish", configHandler.PublishConfig)
					r.Get("/versions", configHandler.ListVersions)
					r.Post("/versions/{version}/restore", configHandler.RestoreVersion)
				})
			})

			r.Post("/shops", adminHandler.RegisterShop)
			r.Delete("/shops/{shopDomain}", adminHandler.DeleteShop)

			r.Post("/media/cloudinary/sign", adminHandler.SignCloudinary)

			r.Get("/import/{provider}/authorize", adminHandler.AuthorizeImport)
			r.Post("/import/{provider}", adminHandler.Import)
		})
	})

	return r
}
