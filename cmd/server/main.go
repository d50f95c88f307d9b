package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"norelock.dev/rpcdispatch/internal/config"
	"norelock.dev/rpcdispatch/internal/server"
	"norelock.dev/rpcdispatch/internal/utils"
)

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	// Create a context that will be canceled on interrupt signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(utils.LoggerOptions{
		Development: cfg.Environment == "development",
		Level:       utils.ParseLevel(cfg.Logging.Level),
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting rpcdispatch server", "environment", cfg.Environment)
	logger.Debug("Loaded configuration", "config", config.GetConfigString(cfg))

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize server", err)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Fatal("Server error", err)
	}
}
