package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"weather-options/internal/chain"
	"weather-options/internal/config"
	"weather-options/internal/events"
	"weather-options/internal/repository"
	"weather-options/internal/services"
	"weather-options/pkg/database"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to a YAML config file (optional)")
	ownerFlag := flag.String("owner", "", "Owner address to sync (default: the configured signer)")
	interval := flag.Duration("interval", 0, "Repeat the sync at this interval; 0 runs once")
	flag.Parse()

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

	logger := logging.NewStructuredLogger("weather-options-syncer", cfg.App.Version, logging.ParseLevel(cfg.Logging.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "[SYNCER_START] Starting position sync", logging.Fields{
		"version":    cfg.App.Version,
		"scan_limit": cfg.Flow.ScanLimit,
		"interval":   interval.String(),
		"journal":    cfg.Database.Enabled,
	})

	metricsCollector := metrics.NewCollector("weather_options_syncer")

	hub := events.NewHub(logger)
	if err := events.RegisterMetrics(hub, metricsCollector); err != nil {
		logger.Fatal(ctx, "[SYNCER_ERROR] Failed to register metrics subscribers", logging.Fields{}, err)
	}

	var journal repository.JournalRepository
	if cfg.Database.Enabled {
		db, err := database.NewPostgresDB(cfg.DatabaseClientConfig(), logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[SYNCER_ERROR] Failed to connect to database", logging.Fields{}, err)
		}
		defer db.Close()

		journal = repository.NewJournalRepository(db, logger, metricsCollector)
		if err := events.RegisterJournal(hub, journal, logger, 10*time.Second); err != nil {
			logger.Fatal(ctx, "[SYNCER_ERROR] Failed to register journal subscribers", logging.Fields{}, err)
		}
	} else {
		logger.Warn(ctx, "[SYNCER_NO_JOURNAL] Database disabled, snapshots will not be stored", logging.Fields{})
	}

	client, err := chain.NewEthClient(ctx, cfg.ChainClientConfig(), logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[SYNCER_ERROR] Failed to connect to RPC endpoint", logging.Fields{
			"rpc_url": cfg.Chain.RPCURL,
		}, err)
	}
	defer client.Close()

	owner, ok := client.Account()
	if *ownerFlag != "" {
		if !common.IsHexAddress(*ownerFlag) {
			fmt.Fprintf(os.Stderr, "Invalid owner address: %s\n", *ownerFlag)
			os.Exit(1)
		}
		owner, ok = common.HexToAddress(*ownerFlag), true
	}
	if !ok {
		fmt.Fprintln(os.Stderr, "No owner: pass -owner or configure PRIVATE_KEY")
		os.Exit(1)
	}

	positionService, err := services.NewPositionService(client, hub, cfg.Flow.ScanLimit, cfg.Flow.TermsCacheSize, logger, metricsCollector)
	if err != nil {
		logger.Fatal(ctx, "[SYNCER_ERROR] Failed to create position service", logging.Fields{}, err)
	}

	for {
		runOnce(ctx, positionService, hub, journal, owner, logger)

		if *interval <= 0 {
			break
		}
		select {
		case <-ctx.Done():
			logger.Info(ctx, "[SYNCER_STOP] Sync loop stopped", logging.Fields{})
			return
		case <-time.After(*interval):
		}
	}
}

func runOnce(ctx context.Context, positions *services.PositionService, hub *events.Hub, journal repository.JournalRepository, owner common.Address, logger *logging.StructuredLogger) {
	start := time.Now()

	count, err := positions.Sync(ctx, owner)
	if err != nil {
		logger.Error(ctx, "[SYNC_ERROR] Position sync failed", logging.Fields{
			"owner": owner.Hex(),
		}, err)
		return
	}

	// wait for the journal to store every snapshot before reading it back
	hub.Drain()
	duration := time.Since(start)

	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("POSITION SYNC COMPLETE")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Owner:              %s\n", owner.Hex())
	fmt.Printf("Positions:          %d\n", count)
	fmt.Printf("Duration:           %v\n", duration)

	if journal != nil && count > 0 {
		snaps, err := journal.ListPositions(ctx, owner.Hex(), count, 0)
		if err != nil {
			logger.Error(ctx, "[SYNC_REPORT_ERROR] Failed to read stored snapshots", logging.Fields{}, err)
		} else {
			fmt.Printf("\n%-8s %-9s %-10s %-22s %-22s\n", "TOKEN", "KIND", "STATUS", "NOTIONAL (wei)", "PENDING (wei)")
			for _, s := range snaps {
				fmt.Printf("%-8s %-9s %-10s %-22s %-22s\n", s.TokenID, s.Kind, s.Status, s.NotionalWei, s.PendingWei)
			}
		}
	}

	logger.Info(ctx, "[SYNC_COMPLETE] Position sync completed", logging.Fields{
		"owner":            owner.Hex(),
		"positions":        count,
		"duration_seconds": duration.Seconds(),
	})
}
