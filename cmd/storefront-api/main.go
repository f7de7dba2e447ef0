package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/storefront-auth/internal/handler"
	"github.com/noah-isme/storefront-auth/internal/repository"
	"github.com/noah-isme/storefront-auth/internal/service"
	"github.com/noah-isme/storefront-auth/pkg/cache"
	"github.com/noah-isme/storefront-auth/pkg/config"
	"github.com/noah-isme/storefront-auth/pkg/database"
	"github.com/noah-isme/storefront-auth/pkg/logger"
)

// @title Storefront Auth API
// @version 1.0.0
// @description User and admin sessions for the storefront
// @BasePath /api/v1
// @schemes http https

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		logr.Info("migrations applied")
	}

	var metrics *service.MetricsService
	if cfg.Metrics.Enabled {
		metrics = service.NewMetricsService()
	}

	principals := repository.NewPrincipalRepository(db, metrics)
	pingers := []handler.Pinger{principals}

	var store service.RefreshTokenStore
	switch cfg.Session.Store {
	case config.SessionStoreRedis:
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		redisStore := repository.NewRedisRefreshTokenRepository(client, "")
		store = redisStore
		pingers = append(pingers, redisStore)
	default:
		store = repository.NewRefreshTokenRepository(db, metrics)
	}
	logr.Info("session store selected", zap.String("store", cfg.Session.Store))

	access, err := service.NewAccessTokenService(service.AccessTokenConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		TTL:    cfg.JWT.Expiration,
	})
	if err != nil {
		return err
	}
	sessions := service.NewSessionService(store, principals, logr, metrics, cfg.JWT.RefreshExpiration)
	auth := service.NewAuthService(access, sessions, principals, validator.New(), logr, metrics)

	router := newRouter(cfg, logr, metrics, auth, pingers...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
