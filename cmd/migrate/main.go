package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"weather-options/internal/config"
	"weather-options/migrations"
	"weather-options/pkg/database"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "Path to a YAML config file (optional)")
	flag.Parse()

	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	scripts, err := migrations.Load(*direction)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load migrations: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger("weather-options-migrate", cfg.App.Version, logging.ParseLevel(cfg.Logging.Level))

	// Connect to database
	db, err := database.NewPostgresDB(cfg.DatabaseClientConfig(), logger, metrics.NewCollector("weather_options_migrate"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	fmt.Println("Connected to database successfully")

	ctx := context.Background()
	for _, s := range scripts {
		fmt.Printf("Running migration: %s\n", s.Name)
		if err := db.ApplyScript(ctx, s.Name, s.SQL); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to execute migration: %v\n", err)
			os.Exit(1)
		}
	}

	fmt.Println("Migration completed successfully")
}
