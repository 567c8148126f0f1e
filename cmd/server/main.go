// Package main is the entry point for the withdrawal admission service.
// It wires the transaction store, the lock manager, the rate limiter and
// the security monitor, then serves the admission API.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"payguard/internal/config"
	"payguard/internal/handlers"
	"payguard/internal/metrics"
	"payguard/internal/repositories"
	"payguard/internal/repositories/cache"
	"payguard/internal/services/ledger"
	"payguard/internal/services/lock"
	"payguard/internal/services/ratelimit"
	"payguard/internal/services/security"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	config.LoadEnv()

	logger := newLogger()
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := repositories.InitDB(); err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}

	// An empty REDIS_HOST selects the in-memory lock and counter backends.
	// Single-instance deployments only; a fleet needs Redis.
	var redisClient *redis.Client
	var lockManager lock.Manager
	var counterStore ratelimit.CounterStore

	if host := config.GetEnv("REDIS_HOST", ""); host != "" {
		redisClient = cache.NewRedisClient(&cache.RedisConfig{
			Host:     host,
			Port:     config.GetEnv("REDIS_PORT", "6379"),
			Password: config.GetEnv("REDIS_PASSWORD", ""),
			DB:       config.GetIntEnv("REDIS_DB", 0),
		})
		if err := cache.HealthCheck(ctx, redisClient); err != nil {
			logger.Fatal("redis init failed", zap.Error(err))
		}
		defer redisClient.Close() //nolint:errcheck

		lockManager = lock.NewRedisManager(redisClient)
		counterStore = ratelimit.NewBreakerStore(ratelimit.NewRedisStore(redisClient), logger)
		logger.Info("using redis lock and counter backends")
	} else {
		memory := lock.NewMemoryManager()
		defer memory.Close()
		lockManager = memory
		counterStore = ratelimit.NewMemoryStore()
		logger.Warn("REDIS_HOST not set, using in-memory backends")
	}

	collector := metrics.NewPrometheusCollector("payguard")
	repo := repositories.NewTransactionRepository(repositories.DB)

	ledgerSvc := ledger.NewService(repo, lockManager, ledger.Config{
		GraceWindow: config.GetDurationEnv("WITHDRAWAL_GRACE_WINDOW", 5*time.Minute),
		LockTTL:     config.GetDurationEnv("LOCK_TTL", 10*time.Second),
	}, collector, logger)

	limiter := ratelimit.NewService(counterStore, ratelimit.Config{
		HighValueThreshold: config.GetInt64Env("HIGH_VALUE_THRESHOLD", 100_000),
		DailyMaxAmount:     config.GetInt64Env("DAILY_MAX_AMOUNT", 2_000_000),
	}, logger)

	monitor := security.NewMonitor(repo, lockManager, limiter, nil, security.Config{
		HighValueThreshold: config.GetInt64Env("HIGH_VALUE_THRESHOLD", 100_000),
		DailyCap:           config.GetInt64Env("SECURITY_DAILY_CAP", 1_000_000),
		SweepInterval:      config.GetDurationEnv("SWEEP_INTERVAL", 5*time.Minute),
	}, logger)
	go monitor.Start(ctx)

	// Prometheus runs on its own listener so the scrape endpoint never
	// passes through the API's auth middleware.
	metricsAddr := ":" + config.GetEnv("METRICS_PORT", "9100")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	app := fiber.New(fiber.Config{
		AppName:      "payguard",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})
	app.Use(recover.New())

	jwtSecret := config.GetEnv("JWT_SECRET", "dev-secret")
	handlers.SetupRoutes(app, jwtSecret,
		handlers.NewWithdrawalHandler(ledgerSvc, limiter, monitor, logger),
		handlers.NewSecurityHandler(monitor),
		handlers.NewHealthHandler(redisClient),
	)

	addr := ":" + config.GetEnv("PORT", "3000")
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if sqlDB, err := repositories.DB.DB(); err == nil {
		sqlDB.Close() //nolint:errcheck
	}
}

func newLogger() *zap.Logger {
	if config.IsProduction() {
		logger, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return logger
}
