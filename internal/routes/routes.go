// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"instrument-logger/internal/config"
	"instrument-logger/internal/database"
	"instrument-logger/internal/handler"
	"instrument-logger/internal/metrics"
	"instrument-logger/internal/middleware"
	"instrument-logger/internal/service"
	"instrument-logger/internal/utils"
)

// Router holds all dependencies for routing
type Router struct {
	config         *config.Config
	logger         *zap.Logger
	db             *database.DB
	sessionService *service.SessionService
	eventBus       *handler.EventBus
}

// NewRouter creates a new router instance. db may be nil.
func NewRouter(
	config *config.Config,
	logger *zap.Logger,
	db *database.DB,
	sessionService *service.SessionService,
	eventBus *handler.EventBus,
) *Router {
	return &Router{
		config:         config,
		logger:         logger,
		db:             db,
		sessionService: sessionService,
		eventBus:       eventBus,
	}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.RecoveryMiddleware(r.logger))

	serviceLogger := utils.NewServiceLogger(r.logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.config.Security))
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.db, r.sessionService, r.config, r.logger)
	sessionHandler := handler.NewSessionHandler(r.sessionService, r.config.Session.Defaults, r.logger)
	convertHandler := handler.NewConvertHandler(r.logger)
	wsHandler := handler.NewWebSocketHandler(r.sessionService, r.eventBus, r.config.Security.AllowedOrigins, r.logger)
	go wsHandler.Run()

	healthHandler.RegisterRoutes(&router.RouterGroup)

	apiV1 := router.Group("/api/v1")
	sessionHandler.RegisterRoutes(apiV1)
	convertHandler.RegisterRoutes(apiV1)

	wsHandler.RegisterRoutes(router.Group("/ws"))

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.logger.Debug("All routes configured")
}
