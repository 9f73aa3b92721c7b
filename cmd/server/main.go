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

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weather-options/internal/chain"
	"weather-options/internal/config"
	"weather-options/internal/events"
	"weather-options/internal/handlers"
	"weather-options/internal/repository"
	"weather-options/internal/services"
	"weather-options/pkg/database"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to a YAML config file (optional)")
	flag.Parse()

	// .env is optional
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := logging.NewStructuredLogger("weather-options-api", cfg.App.Version, logging.ParseLevel(cfg.Logging.Level))

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting weather options API server", logging.Fields{
		"version":     cfg.App.Version,
		"server_host": cfg.Server.Host,
		"server_port": cfg.Server.Port,
		"chain_id":    cfg.Chain.ChainID,
		"journal":     cfg.Database.Enabled,
	})

	// Initialize metrics collector
	metricsCollector := metrics.NewCollector("weather_options")

	hub := events.NewHub(logger)
	if err := events.RegisterMetrics(hub, metricsCollector); err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to register metrics subscribers", logging.Fields{}, err)
	}

	// Journal is optional
	var journal repository.JournalRepository
	var statsService *services.StatisticsService
	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(cfg.DatabaseClientConfig(), logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to database", logging.Fields{}, err)
		}
		defer db.Close()

		journal = repository.NewJournalRepository(db, logger, metricsCollector)
		if err := events.RegisterJournal(hub, journal, logger, 5*time.Second); err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to register journal subscribers", logging.Fields{}, err)
		}
		statsService = services.NewStatisticsService(journal, logger, metricsCollector)
	}

	// Initialize chain client
	dialCtx, cancelDial := context.WithTimeout(ctx, 30*time.Second)
	client, err := chain.NewEthClient(dialCtx, cfg.ChainClientConfig(), logger, metricsCollector)
	cancelDial()
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to connect to RPC endpoint", logging.Fields{
			"rpc_url": cfg.Chain.RPCURL,
		}, err)
	}
	defer client.Close()

	// Initialize services
	flowService := services.NewOptionFlowService(client, hub, cfg.Flow, cfg.Chain.ReceiptTimeout, logger, metricsCollector)
	positionService, err := services.NewPositionService(client, hub, cfg.Flow.ScanLimit, cfg.Flow.TermsCacheSize, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[STARTUP_ERROR] Failed to create position service", logging.Fields{}, err)
	}
	settlementService := services.NewSettlementService(client, positionService, hub, cfg.Flow.RefetchDelay, cfg.Chain.ReceiptTimeout, logger, metricsCollector)
	vaultService := services.NewVaultService(client, hub, cfg.Flow.RefetchDelay, cfg.Chain.ReceiptTimeout, logger, metricsCollector)

	// Initialize handlers
	optionHandler := handlers.NewOptionHandler(flowService, settlementService, vaultService, journal, statsService, handlers.ClientConfig{
		AppName:                cfg.App.Name,
		Version:                cfg.App.Version,
		WalletConnectProjectID: cfg.Chain.WalletConnectID,
		ChainID:                cfg.Chain.ChainID,
		Addresses:              cfg.Addresses(),
	}, logger, metricsCollector)

	// Setup router
	router := mux.NewRouter()

	// Register routes
	optionHandler.RegisterRoutes(router)

	// Prometheus metrics endpoint
	router.Handle("/metrics", promhttp.Handler())

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	// Stop background work before flushing queued journal writes
	flowService.Close()
	settlementService.Close()
	vaultService.Close()
	hub.Drain()

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
