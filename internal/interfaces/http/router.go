package http

import (
	"github.com/gin-gonic/gin"

	"github.com/orris-inc/sidecar/internal/infrastructure/auth"
	"github.com/orris-inc/sidecar/internal/interfaces/http/handlers"
	"github.com/orris-inc/sidecar/internal/interfaces/http/middleware"
	"github.com/orris-inc/sidecar/internal/shared/config"
	"github.com/orris-inc/sidecar/internal/shared/logger"
	"github.com/orris-inc/sidecar/internal/shared/telemetry"
)

// RouterDeps are the runtime components the listener serves.
type RouterDeps struct {
	Server   config.ServerConfig
	Auth     config.AuthConfig
	Metrics  config.MetricsConfig
	NodeID   string
	Transit  handlers.MessageProcessor
	Registry handlers.RegistryReader
	Broker   interface {
		handlers.StateReporter
		handlers.EventSource
	}
	Logger logger.Interface
}

// Router represents the HTTP router configuration
type Router struct {
	engine          *gin.Engine
	deps            RouterDeps
	messageHandler  *handlers.MessageHandler
	registryHandler *handlers.RegistryHandler
	watchHandler    *handlers.WatchHandler
	healthHandler   *handlers.HealthHandler
	gatewayAuth     *middleware.GatewayAuthMiddleware
}

// NewRouter creates a new HTTP router with all dependencies
func NewRouter(deps RouterDeps) *Router {
	if deps.Server.Mode == "release" || deps.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := deps.Logger.Named("http")

	authenticator := auth.NewAuthenticator(deps.Auth)
	switch {
	case authenticator.Disabled():
		log.Warnw("listener authentication is disabled")
	case !authenticator.Configured():
		log.Warnw("no listener credentials configured, every gateway request will be rejected")
	}

	return &Router{
		engine:          gin.New(),
		deps:            deps,
		messageHandler:  handlers.NewMessageHandler(deps.Transit, deps.NodeID, log),
		registryHandler: handlers.NewRegistryHandler(deps.Registry, log),
		watchHandler:    handlers.NewWatchHandler(deps.Broker, log),
		healthHandler:   handlers.NewHealthHandler(deps.Broker),
		gatewayAuth:     middleware.NewGatewayAuthMiddleware(authenticator, deps.NodeID, log),
	}
}

// SetupRoutes configures all HTTP routes
func (r *Router) SetupRoutes() {
	log := r.deps.Logger.Named("http")
	r.engine.Use(middleware.Recovery(log, r.deps.NodeID))
	r.engine.Use(middleware.Logger(log))
	if r.deps.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}

	r.engine.GET("/healthz", r.healthHandler.Healthz)
	if r.deps.Metrics.Enabled {
		path := r.deps.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(telemetry.Handler()))
	}

	v1 := r.engine.Group(r.deps.Server.RootPath + "/v1")
	v1.Use(r.gatewayAuth.RequireAuth())
	{
		v1.POST("/message", r.messageHandler.Receive)

		reg := v1.Group("/registry", middleware.APIVersion())
		reg.GET("/nodes", r.registryHandler.ListNodes)
		reg.DELETE("/nodes/:id", r.registryHandler.ForgetNode)
		reg.GET("/services", r.registryHandler.ListServices)
		reg.GET("/watch", r.watchHandler.Watch)
	}
}

// GetEngine returns the Gin engine
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
