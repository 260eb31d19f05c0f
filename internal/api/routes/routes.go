package routes

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/CoderXiaopang/npm-meta/backend/internal/api/handlers"
	"github.com/CoderXiaopang/npm-meta/backend/internal/api/middleware"
	"github.com/CoderXiaopang/npm-meta/backend/internal/config"
	"github.com/CoderXiaopang/npm-meta/backend/internal/metrics"
	"github.com/CoderXiaopang/npm-meta/backend/internal/models"
	"github.com/CoderXiaopang/npm-meta/backend/internal/npm"
	"github.com/CoderXiaopang/npm-meta/backend/internal/services"
)

// Register wires up API routes and performs automatic migrations. It returns
// the health service so the caller can start the daemon with its own
// lifecycle context.
func Register(router *gin.Engine, db *gorm.DB, cfg config.Config) (*services.HealthService, error) {
	// AutoMigrate appends the health columns to the legacy streams table on
	// pre-existing installations without touching data.
	if err := db.AutoMigrate(&models.StreamMeta{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	router.GET("/api/v1/health", handlers.HealthHandler)

	registry := prometheus.NewRegistry()
	metrics.Register(registry)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	api := router.Group("/api/v1")
	api.Use(middleware.RequestID(), middleware.RequestLogger(), middleware.Recovery(cfg.Environment == "development"))

	npmClient := npm.NewClient(cfg.NPMBaseURL())

	authService := services.NewAuthService(npmClient, cfg.SessionSecret)
	authHandler := handlers.NewAuthHandler(authService)
	authMiddleware := middleware.AuthMiddleware(authService)

	healthService := services.NewHealthService(db, npmClient, cfg)
	streamService := services.NewStreamService(db, npmClient, healthService)

	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("/")
	protected.Use(authMiddleware)
	{
		protected.POST("/auth/logout", authHandler.Logout)
		protected.GET("/auth/me", authHandler.Me)

		streamHandler := handlers.NewStreamHandler(streamService)
		streamHandler.RegisterRoutes(protected)

		protected.POST("/system/health/check", func(c *gin.Context) {
			go healthService.RunCycle(context.Background())
			c.JSON(200, gin.H{"message": "Probe cycle started"})
		})
	}

	return healthService, nil
}
