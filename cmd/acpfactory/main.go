package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/acpfactory/acpfactory/internal/agent"
	"github.com/acpfactory/acpfactory/internal/agent/credentials"
	"github.com/acpfactory/acpfactory/internal/agent/registry"
	"github.com/acpfactory/acpfactory/internal/api"
	"github.com/acpfactory/acpfactory/internal/common/config"
	"github.com/acpfactory/acpfactory/internal/common/logger"
	"github.com/acpfactory/acpfactory/internal/events/bus"
	"github.com/acpfactory/acpfactory/internal/permissions"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting acpfactory service...")

	// 3. Connect the event bus. An empty NATS URL selects the in-memory bus.
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		natsBus, err := bus.NewNATSEventBus(bus.NATSEventBusConfig{
			URL:           cfg.NATS.URL,
			ClientID:      cfg.NATS.ClientID,
			MaxReconnects: cfg.NATS.MaxReconnects,
		}, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsBus
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("Using in-memory event bus")
	}
	defer eventBus.Close()

	// 4. Initialize the agent registry
	reg := registry.NewRegistry(log)
	if cfg.Agents.ConfigFile != "" {
		if err := reg.LoadFromFile(cfg.Agents.ConfigFile); err != nil {
			log.Fatal("Failed to load agent config file",
				zap.String("file", cfg.Agents.ConfigFile),
				zap.Error(err))
		}
	}
	log.Info("Loaded agent registry", zap.Int("agent_types", len(reg.List())))

	// 5. Resolve the default permission mode
	mode, err := permissions.ParseMode(cfg.Agents.PermissionMode)
	if err != nil {
		log.Fatal("Invalid permission mode", zap.String("mode", cfg.Agents.PermissionMode))
	}

	// 6. Initialize the credential provider
	creds := credentials.NewEnvProvider("ACPFACTORY_")

	// 7. Initialize the agent factory
	factory := agent.NewFactory(reg, creds, eventBus, mode, log)

	// 8. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger(log), api.CORS())

	// 9. Register API routes
	v1 := router.Group("/api/v1")
	handler := api.SetupRoutes(v1, factory, eventBus, log)

	// Health check endpoint at root level
	router.GET("/health", handler.HealthCheck)

	// 10. Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	// 11. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 12. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down acpfactory service...")

	// 13. Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop all agents before dropping the bus connection
	factory.CloseAll()

	log.Info("acpfactory service stopped")
}
