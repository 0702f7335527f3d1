package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cowors/booking-engine/pkg/auth"
	"github.com/cowors/booking-engine/pkg/cache"
	"github.com/cowors/booking-engine/pkg/config"
	"github.com/cowors/booking-engine/pkg/database"
	"github.com/cowors/booking-engine/pkg/events"
	"github.com/cowors/booking-engine/pkg/gateway"
	"github.com/cowors/booking-engine/pkg/handlers"
	"github.com/cowors/booking-engine/pkg/middleware"
	"github.com/cowors/booking-engine/pkg/repositories"
	"github.com/cowors/booking-engine/pkg/retry"
	"github.com/cowors/booking-engine/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", cfg.Database.Host),
		zap.String("redis", cfg.Redis.Addr))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*database.DB, error) {
		return database.NewConnection(ctx, &cfg.Database)
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, "migrations", logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	configCache := buildCache(ctx, cfg, logger)

	rateRepo := repositories.NewRateConfigRepository(db)
	settingsRepo := repositories.NewSettingsConfigRepository(db)
	versionRepo := repositories.NewVersionRecordRepository(db)
	ruleRepo := repositories.NewRuleTemplateRepository(db)

	bus := events.NewBus(logger)

	store := services.NewConfigStore(rateRepo, settingsRepo, versionRepo, configCache, bus, logger)
	history := services.NewVersionHistory(versionRepo, rateRepo, settingsRepo, logger)
	resolver := services.NewRuleResolver(ruleRepo, configCache, logger)

	if err := store.WarmCache(ctx); err != nil {
		logger.Warn("cache warm failed, serving cold", zap.Error(err))
	}

	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: cfg.Auth.EnableVerification,
		JWKSEndpoints:      cfg.Auth.JWKSEndpoints,
	})
	if err != nil {
		logger.Fatal("failed to initialize JWKS client", zap.Error(err))
	}
	authMiddleware := auth.NewMiddleware(jwksClient, logger)

	gw := gateway.New(store, authMiddleware, gateway.Config{
		SendBuffer:      cfg.Gateway.SendBuffer,
		InactiveTimeout: cfg.Gateway.InactiveTimeout(),
		WriteTimeout:    cfg.Gateway.WriteTimeout(),
	}, logger)
	go gw.Start(ctx, bus)

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(cfg, db, bus, gw, logger)
	healthHandler.RegisterRoutes(mux)

	configHandler := handlers.NewConfigHandler(store, history, logger)
	configHandler.RegisterRoutes(mux, authMiddleware)

	ruleHandler := handlers.NewRuleHandler(resolver, logger)
	ruleHandler.RegisterRoutes(mux, authMiddleware)

	mux.HandleFunc("GET /ws/commission-config", gw.HandleWS)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting booking-engine config service",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildLogger(env string) (*zap.Logger, error) {
	if env == "local" || env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildCache picks Redis when an address is configured and falls back
// to the in-process cache otherwise. Redis connection failures at
// startup also fall back rather than refusing to boot.
func buildCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) cache.Cache {
	if cfg.Redis.Addr == "" {
		logger.Info("using in-process config cache")
		return cache.NewMemoryCache(cfg.Cache.TTL())
	}

	client, err := retry.DoWithResult(ctx, retry.DefaultConfig(), func() (*redis.Client, error) {
		return database.NewRedisClient(ctx, &cfg.Redis)
	})
	if err != nil {
		logger.Warn("redis unavailable, falling back to in-process cache", zap.Error(err))
		return cache.NewMemoryCache(cfg.Cache.TTL())
	}

	logger.Info("using redis config cache", zap.String("addr", cfg.Redis.Addr))
	return cache.NewRedisCache(client, cfg.Cache.Namespace, cfg.Cache.TTL(), logger)
}
