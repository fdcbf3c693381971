package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/seyio/otc-desk/internal/api"
	"github.com/seyio/otc-desk/internal/api/middleware"
	"github.com/seyio/otc-desk/internal/config"
	"github.com/seyio/otc-desk/internal/db"
	"github.com/seyio/otc-desk/internal/events"
	"github.com/seyio/otc-desk/internal/idempotency"
	"github.com/seyio/otc-desk/internal/limits"
	"github.com/seyio/otc-desk/internal/observability"
	"github.com/seyio/otc-desk/internal/ratefeed"
	"github.com/seyio/otc-desk/internal/repository"
	"github.com/seyio/otc-desk/internal/service"
	"github.com/seyio/otc-desk/internal/worker"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	store := repository.NewPostgresStore(pool)
	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)
	ledger := limits.NewRedisLedger(redisClient, limits.Caps{
		Daily:   cfg.DailyLimits,
		Monthly: cfg.MonthlyLimits,
	})
	sink := events.NewLogSink(logger)

	feed := ratefeed.NewMockFeed()
	feed.FailureRate = cfg.RateFeedFailureRate

	rateSvc := service.NewRateService(store, feed, sink)
	quoteSvc := service.NewQuoteService(store, rateSvc, ledger, sink, cfg.QuoteValidity)
	orderSvc := service.NewOrderService(store, sink)
	accountSvc := service.NewAccountService(store)

	refreshWorker := worker.NewRateRefreshWorker(rateSvc).WithInterval(cfg.RateRefreshInterval)
	expiryWorker := worker.NewQuoteExpiryWorker(quoteSvc).WithInterval(cfg.QuoteSweepInterval)
	stopRefresh := refreshWorker.Run(ctx)
	stopExpiry := expiryWorker.Run(ctx)
	logger.Info("background workers started",
		zap.Duration("rate_refresh_interval", cfg.RateRefreshInterval),
		zap.Duration("quote_sweep_interval", cfg.QuoteSweepInterval))

	router := api.NewRouter(cfg, logger, pool, redisClient, idemStore, quoteSvc, orderSvc, rateSvc, accountSvc)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping background workers")
	stopRefresh()
	stopExpiry()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
