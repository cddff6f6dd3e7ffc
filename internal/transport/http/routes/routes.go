package routes

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/token-revocation/internal/infra/config"
	"github.com/arklim/token-revocation/internal/transport/http/handlers"
	"github.com/arklim/token-revocation/internal/transport/http/middleware"
)

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	Revocations handlers.RevocationService
	HTTPMetrics *middleware.HTTPMetrics
	Durable     DurableChecker
	Cache       CacheChecker
}

// DurableChecker exposes readiness behaviour for the durable revocation backend.
type DurableChecker interface {
	HealthCheck(ctx context.Context) error
}

// CacheChecker exposes readiness behaviour for cache backends.
type CacheChecker interface {
	HealthCheck(ctx context.Context) error
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	if deps.Config != nil && deps.Config.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	if deps.HTTPMetrics != nil {
		r.Use(deps.HTTPMetrics.Handler())
	}

	healthOptions := make([]handlers.HealthOption, 0, 2)

	if deps.Durable != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("durable", deps.Durable.HealthCheck))
	}

	if deps.Cache != nil {
		healthOptions = append(healthOptions, handlers.WithReadinessCheck("redis", deps.Cache.HealthCheck))
	}

	healthHandler := handlers.NewHealthHandler(healthOptions...)

	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Readiness)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Revocations != nil {
		api := r.Group("/api/v1")
		revocationHandler := handlers.NewRevocationHandler(deps.Revocations)

		api.POST("/logout", middleware.RequireNotRevoked(deps.Revocations), revocationHandler.Logout)
		revocationHandler.RegisterRoutes(api)
	}

	return r
}
