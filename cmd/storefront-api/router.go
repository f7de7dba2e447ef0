package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/storefront-auth/api/swagger"
	"github.com/noah-isme/storefront-auth/internal/handler"
	internalmiddleware "github.com/noah-isme/storefront-auth/internal/middleware"
	"github.com/noah-isme/storefront-auth/internal/models"
	"github.com/noah-isme/storefront-auth/internal/service"
	"github.com/noah-isme/storefront-auth/pkg/config"
	"github.com/noah-isme/storefront-auth/pkg/logger"
	corsmiddleware "github.com/noah-isme/storefront-auth/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/storefront-auth/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, auth *service.AuthService, stores ...handler.Pinger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics, stores...)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", metricsHandler.Prometheus)
	}
	if !cfg.IsProduction() {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	authHandler := handler.NewAuthHandler(auth, handler.CookieSettings{
		AccessName:  cfg.Cookie.AccessName,
		RefreshName: cfg.Cookie.RefreshName,
		Domain:      cfg.Cookie.Domain,
		AccessTTL:   auth.AccessTTL(),
		RefreshTTL:  auth.RefreshTTL(),
		Production:  cfg.IsProduction(),
	})
	requireAccess := internalmiddleware.Auth(auth, cfg.Cookie.AccessName)

	api := r.Group(cfg.APIPrefix)

	authGroup := api.Group("/auth")
	authGroup.POST("/login", authHandler.Login)
	authGroup.POST("/refresh", authHandler.Refresh)
	authGroup.POST("/logout", authHandler.Logout)
	authGroup.POST("/logout-all", requireAccess, authHandler.LogoutAll)
	authGroup.GET("/me", requireAccess, internalmiddleware.RequirePrincipal(models.PrincipalUser), authHandler.Me)

	adminGroup := api.Group("/admin/auth")
	adminGroup.POST("/login", authHandler.AdminLogin)
	adminGroup.GET("/me", requireAccess, internalmiddleware.RequirePrincipal(models.PrincipalAdmin), authHandler.Me)

	return r
}
