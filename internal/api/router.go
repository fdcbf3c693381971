package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/seyio/otc-desk/internal/api/handler"
	"github.com/seyio/otc-desk/internal/api/middleware"
	"github.com/seyio/otc-desk/internal/api/spec"
	"github.com/seyio/otc-desk/internal/config"
	"github.com/seyio/otc-desk/internal/idempotency"
	"github.com/seyio/otc-desk/internal/models"
	"github.com/seyio/otc-desk/internal/service"
)

// Router wires handlers, middleware and services into the HTTP surface.
type Router struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *pgxpool.Pool
	redis    redis.Cmdable
	idem     *idempotency.Store
	quotes   *service.QuoteService
	orders   *service.OrderService
	rates    *service.RateService
	accounts *service.AccountService
}

func NewRouter(
	cfg *config.Config,
	logger *zap.Logger,
	db *pgxpool.Pool,
	redisClient redis.Cmdable,
	idem *idempotency.Store,
	quotes *service.QuoteService,
	orders *service.OrderService,
	rates *service.RateService,
	accounts *service.AccountService,
) *Router {
	return &Router{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		redis:    redisClient,
		idem:     idem,
		quotes:   quotes,
		orders:   orders,
		rates:    rates,
		accounts: accounts,
	}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	quoteHandler := handler.NewQuoteHandler(api.quotes, api.orders)
	orderHandler := handler.NewOrderHandler(api.orders)
	rateHandler := handler.NewRateHandler(api.rates)
	accountHandler := handler.NewAccountHandler(api.accounts)
	authHandler := handler.NewAuthHandler(api.accounts)
	healthHandler := handler.NewHealthHandler(api.db, api.redis)

	idem := middleware.IdempotencyMiddleware(api.idem, api.logger)

	// Infrastructure endpoints.
	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Public routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))

		r.Post("/v1/auth/login", authHandler.Login)
		r.Post("/v1/users", accountHandler.CreateUser)
		r.Get("/v1/currencies", accountHandler.ListCurrencies)
		r.Get("/v1/rates", rateHandler.List)
		r.Get("/v1/rates/{from}/{to}", rateHandler.Get)
	})

	// Authenticated customer routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Get("/v1/users/me", accountHandler.Me)

		r.Post("/v1/quotes/preview", quoteHandler.Preview)
		r.With(idem).Post("/v1/quotes", quoteHandler.Create)
		r.Get("/v1/quotes", quoteHandler.List)
		r.Get("/v1/quotes/{id}", quoteHandler.Get)
		r.With(idem).Post("/v1/quotes/{id}/accept", quoteHandler.Accept)
		r.With(idem).Post("/v1/quotes/{id}/reject", quoteHandler.Reject)

		r.Get("/v1/orders", orderHandler.List)
		r.Get("/v1/orders/{id}", orderHandler.Get)

		r.With(idem).Post("/v1/destinations", accountHandler.AddDestination)
		r.Get("/v1/destinations", accountHandler.ListDestinations)
	})

	// Operator routes.
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.RequireRole(models.RoleOperator))
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.With(idem).Post("/v1/operator/quotes/privileged", quoteHandler.IssuePrivileged)
		r.With(idem).Post("/v1/operator/orders/{id}/status", orderHandler.Transition)
		r.Post("/v1/operator/destinations/{id}/verify", accountHandler.VerifyDestination)
		r.Post("/v1/operator/users/{id}/privileged", accountHandler.SetPrivileged)
		r.Post("/v1/operator/rates/refresh", rateHandler.Refresh)
		r.Post("/v1/operator/rates/pairs", rateHandler.EnsurePair)
		r.Put("/v1/operator/currencies", accountHandler.UpsertCurrency)
		r.Get("/v1/operator/fees", accountHandler.GetFeeConfig)
		r.Put("/v1/operator/fees", accountHandler.UpdateFeeConfig)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		handler.RespondError(w, req, http.StatusNotFound, "resource/not-found", "route not found")
	})

	return r
}
