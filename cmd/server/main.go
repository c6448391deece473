// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"instrument-logger/internal/config"
	"instrument-logger/internal/database"
	"instrument-logger/internal/discovery"
	serialscan "instrument-logger/internal/discovery/serial"
	tcpscan "instrument-logger/internal/discovery/tcp"
	"instrument-logger/internal/handler"
	"instrument-logger/internal/model"
	"instrument-logger/internal/repository"
	"instrument-logger/internal/routes"
	"instrument-logger/internal/service"
	"instrument-logger/internal/utils"
)

// Application represents the main application
type Application struct {
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
	database *database.DB

	sessionRepo    repository.SessionRepository
	ports          *discovery.ScannerManager
	eventBus       *handler.EventBus
	sessionService *service.SessionService
}

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	app, err := NewApplication(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	if err := app.Start(); err != nil {
		app.logger.Fatal("Failed to start application", zap.Error(err))
	}
}

// NewApplication creates a new application instance
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	serviceLogger := utils.NewServiceLogger(logger, cfg.App.Name)
	serviceLogger.LogServiceStart(cfg.App.Version, cfg.App)

	app := &Application{
		config: cfg,
		logger: logger,
	}

	if err := app.initializeDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.initializeDiscovery()
	app.initializeServices()
	app.initializeServer()

	return app, nil
}

// initializeDatabase connects and migrates the optional session database
func (app *Application) initializeDatabase() error {
	if !app.config.Database.Enabled {
		app.logger.Info("Database disabled, session journal and postgres sinks unavailable")
		return nil
	}

	db, err := database.NewConnection(app.config, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}

	migrator := database.NewMigrator(db, app.logger)
	if err := migrator.Up(); err != nil {
		db.Close()
		return fmt.Errorf("failed to run database migrations: %w", err)
	}

	app.database = db
	app.sessionRepo = repository.NewSessionRepository(db, app.logger)

	app.logger.Info("Database initialized successfully")
	return nil
}

// initializeDiscovery registers the port scanners. The TCP scanner probes the
// default endpoint on its Modbus port and on the instrument stream port.
func (app *Application) initializeDiscovery() {
	app.ports = discovery.NewScannerManager(app.logger)
	app.ports.RegisterScanner(serialscan.NewScanner(app.logger, nil))

	defaults := app.config.Session.Defaults.TCP
	endpoints := []model.TCPSettings{defaults}
	if port := app.config.Session.StreamTCPPort; port > 0 && port != defaults.Port {
		endpoints = append(endpoints, model.TCPSettings{Host: defaults.Host, Port: port, Timeout: defaults.Timeout})
	}
	app.ports.RegisterScanner(tcpscan.NewScanner(app.logger, &tcpscan.Config{Endpoints: endpoints}))
}

// initializeServices creates the event bus and the session service
func (app *Application) initializeServices() {
	app.eventBus = handler.NewEventBus(app.logger)
	go app.eventBus.Start()

	app.sessionService = service.NewSessionService(
		app.config,
		app.database,
		app.sessionRepo,
		app.ports,
		app.eventBus,
		app.logger,
	)

	app.logger.Info("Services initialized successfully")
}

// initializeServer sets up HTTP server and routes
func (app *Application) initializeServer() {
	routerManager := routes.NewRouter(
		app.config,
		app.logger,
		app.database,
		app.sessionService,
		app.eventBus,
	)

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      routerManager.SetupRouter(),
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized", zap.String("address", app.config.GetServerAddr()))
}

// autoStart starts the configured default session
func (app *Application) autoStart() {
	if !app.config.Session.AutoStart {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	info, err := app.sessionService.Start(ctx, app.config.Session.Defaults)
	if err != nil {
		utils.LogError(app.logger, "Failed to auto-start session", err,
			zap.String("endpoint", app.config.Session.Defaults.Endpoint()))
		return
	}
	app.logger.Info("Session auto-started", zap.Stringer("session_id", info.ID))
}

// waitForShutdown waits for shutdown signal and performs graceful shutdown
func (app *Application) waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	app.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	app.shutdown()
}

// shutdown stops the session before the server so the last rows are flushed
func (app *Application) shutdown() {
	serviceLogger := utils.NewServiceLogger(app.logger, app.config.App.Name)
	serviceLogger.LogServiceStop("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cancel()

	if err := app.sessionService.Shutdown(ctx); err != nil {
		utils.LogError(app.logger, "Session shutdown error", err)
	}

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		app.logger.Info("HTTP server stopped")
	}

	app.eventBus.Stop()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		} else {
			app.logger.Info("Database connection closed")
		}
	}

	app.logger.Info("Application shutdown completed")

	if err := utils.CloseLogger(app.logger); err != nil {
		fmt.Printf("Logger close error: %v\n", err)
	}
}

// Start runs the server until a shutdown signal arrives
func (app *Application) Start() error {
	go func() {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))

		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	app.autoStart()
	app.waitForShutdown()

	return nil
}
