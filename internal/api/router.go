package api

import (
	"net/http"

	"github.com/ayo6706/payment-escrow/internal/api/apidoc"
	"github.com/ayo6706/payment-escrow/internal/api/handler"
	"github.com/ayo6706/payment-escrow/internal/api/middleware"
	"github.com/ayo6706/payment-escrow/internal/config"
	"github.com/ayo6706/payment-escrow/internal/domain"
	"github.com/ayo6706/payment-escrow/internal/repository"
	"github.com/ayo6706/payment-escrow/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Services bundles the application services the HTTP surface drives.
type Services struct {
	Escrow  *service.EscrowService
	Account *service.AccountService
	Webhook *service.WebhookService
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        handler.Pinger
	queries   *repository.Queries
	idemStore middleware.IdempotencyStore
	redis     redis.Cmdable
	services  Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, db handler.Pinger, queries *repository.Queries, idemStore middleware.IdempotencyStore, redisClient redis.Cmdable, services Services) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		queries:   queries,
		idemStore: idemStore,
		redis:     redisClient,
		services:  services,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))

	// Handlers
	healthHandler := handler.NewHealthHandler(api.db, api.redis)
	authHandler := handler.NewAuthHandler(api.queries)
	userHandler := handler.NewUserHandler(api.queries)
	accountHandler := handler.NewAccountHandler(api.services.Account)
	webhookHandler := handler.NewWebhookHandler(api.services.Webhook)
	escrowHandler := handler.NewEscrowHandler(api.services.Escrow, api.cfg.LedgerCurrency)

	// Operational
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get(apidoc.OpenAPIPath, apidoc.OpenAPIHandler())
	r.Get("/docs/*", apidoc.SwaggerUIHandler())

	// Public Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/auth/login", authHandler.Login)
		r.Post("/v1/users", userHandler.CreateUser)
		r.Post("/v1/webhooks/deposit", webhookHandler.HandleDepositWebhook)
	})

	// Protected Routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))
		idempotent := middleware.IdempotencyMiddleware(api.idemStore, api.logger)

		// Accounts
		r.Post("/v1/accounts", accountHandler.CreateAccount)
		r.Get("/v1/accounts/{id}/balance", accountHandler.GetBalance)
		r.Get("/v1/accounts/{id}/statement", accountHandler.GetStatement)

		// Escrow config
		r.With(middleware.RequireRole(domain.RoleAdmin)).Post("/v1/escrow/config", escrowHandler.Bootstrap)
		r.Get("/v1/escrow/config", escrowHandler.GetConfig)

		// Escrows
		r.With(idempotent).Post("/v1/escrows", escrowHandler.Create)
		r.Get("/v1/escrows", escrowHandler.List)
		r.Get("/v1/escrows/{id}", escrowHandler.Get)
		r.With(idempotent).Post("/v1/escrows/{id}/release", escrowHandler.Release)
		r.With(idempotent).Post("/v1/escrows/{id}/refund", escrowHandler.Refund)
	})

	return r
}
