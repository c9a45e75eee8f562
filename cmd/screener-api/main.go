package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/stroke-trial-screener/internal/api"
	"github.com/stroke-trial-screener/internal/config"
	"github.com/stroke-trial-screener/internal/database"
	"github.com/stroke-trial-screener/internal/domain"
	"github.com/stroke-trial-screener/internal/engine"
	"github.com/stroke-trial-screener/internal/results"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to open results store")
	}
	defer store.Close()

	eng, err := engine.New(logger)
	if err != nil {
		logger.WithField("error", err).Fatal("Failed to build screening engine")
	}

	server := api.NewServer(cfg, eng, store, logger)

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting screening API")

	if err := server.Start(ctx); err != nil {
		logger.WithField("error", err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// openStore builds the configured results store. The Postgres backend applies
// pending schema migrations before serving.
func openStore(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (results.Store, error) {
	if cfg.Results.Backend == "postgres" {
		runner, err := database.NewMigrationRunner(cfg.Results.PostgresURL, cfg.Results.MigrationsPath, logger)
		if err != nil {
			return nil, err
		}
		if err := runner.Up(ctx); err != nil {
			runner.Close()
			return nil, err
		}
		if err := runner.Close(); err != nil {
			return nil, err
		}
		return results.NewPostgresStoreFromURL(cfg.Results.PostgresURL)
	}
	return results.NewSQLiteStore(cfg.Results.SQLitePath)
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
